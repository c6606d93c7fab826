package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var errNilCollection = errors.New("mongo collection is nil")

// ConnectMongo connects to MongoDB and pings it.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect error: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo.Ping error: %w", err)
	}
	return client, nil
}

// Collection names.
const (
	CarriersCollection = "carriers"
	VehiclesCollection = "vehicles"
	DriversCollection  = "drivers"
	TripsCollection    = "trips"
	UsersCollection    = "users"
)

// NewMongoStore wires every collection of database.
func NewMongoStore(database *mongo.Database) *Store {
	return &Store{
		Carriers: &MongoCarrierCollection{Collection: database.Collection(CarriersCollection)},
		Vehicles: &MongoVehicleCollection{Collection: database.Collection(VehiclesCollection)},
		Drivers:  &MongoDriverCollection{Collection: database.Collection(DriversCollection)},
		Trips:    &MongoTripCollection{Collection: database.Collection(TripsCollection)},
		Users:    &MongoUserCollection{Collection: database.Collection(UsersCollection)},
	}
}

// EnsureIndexes creates the indexes the queries rely on.
func EnsureIndexes(ctx context.Context, database *mongo.Database) error {
	specs := map[string][]mongo.IndexModel{
		CarriersCollection: {
			{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		VehiclesCollection: {
			{Keys: bson.D{{Key: "vehicle_number", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "carrier_id", Value: 1}}},
			{Keys: bson.D{{Key: "assigned_driver_id", Value: 1}}},
		},
		DriversCollection: {
			{Keys: bson.D{{Key: "carrier_id", Value: 1}}},
			{Keys: bson.D{{Key: "username", Value: 1}}},
		},
		TripsCollection: {
			{Keys: bson.D{{Key: "carrier_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "driver_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		UsersCollection: {
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}
	for name, indexes := range specs {
		if _, err := database.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("create indexes on %s: %w", name, err)
		}
		log.WithField("collection", name).Debug("Indexes ensured")
	}
	return nil
}

// mongoErr maps driver errors to package sentinels.
func mongoErr(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("%s %w", what, ErrNotFound)
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%s: %w", what, ErrDuplicate)
	default:
		return err
	}
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter bson.M, sort bson.D) ([]T, error) {
	if coll == nil {
		return nil, errNilCollection
	}
	cursor, err := coll.Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	out := []T{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func findOne[T any](ctx context.Context, coll *mongo.Collection, id, what string) (*T, error) {
	if coll == nil {
		return nil, errNilCollection
	}
	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	var doc T
	if err := coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return nil, mongoErr(err, what)
	}
	return &doc, nil
}

func deleteOne(ctx context.Context, coll *mongo.Collection, id, what string) error {
	if coll == nil {
		return errNilCollection
	}
	oid, err := ParseID(id)
	if err != nil {
		return err
	}
	res, err := coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%s %w", what, ErrNotFound)
	}
	return nil
}

func replaceOne(ctx context.Context, coll *mongo.Collection, id any, doc any, what string) error {
	if coll == nil {
		return errNilCollection
	}
	res, err := coll.ReplaceOne(ctx, bson.M{"_id": id}, doc)
	if err != nil {
		return mongoErr(err, what)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s %w", what, ErrNotFound)
	}
	return nil
}

func count(ctx context.Context, coll *mongo.Collection, filter bson.M) (int64, error) {
	if coll == nil {
		return 0, errNilCollection
	}
	return coll.CountDocuments(ctx, filter)
}
