package db

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/ukydev/fleet-insights/internal/models"
)

// MongoCarrierCollection implements CarrierCollection for MongoDB.
type MongoCarrierCollection struct {
	Collection *mongo.Collection
}

// InsertCarrier inserts a carrier and returns it with its new id.
func (c *MongoCarrierCollection) InsertCarrier(ctx context.Context, carrier models.Carrier) (models.Carrier, error) {
	if c.Collection == nil {
		return carrier, errNilCollection
	}
	carrier.ID = primitive.NewObjectID()
	carrier.CreatedAt = time.Now().UTC()
	if _, err := c.Collection.InsertOne(ctx, carrier); err != nil {
		return carrier, mongoErr(err, "carrier")
	}
	return carrier, nil
}

// FindCarriers lists carriers by name.
func (c *MongoCarrierCollection) FindCarriers(ctx context.Context) ([]models.Carrier, error) {
	return findAll[models.Carrier](ctx, c.Collection, bson.M{}, bson.D{{Key: "name", Value: 1}})
}

// FindCarrierByID finds a carrier by its ID.
func (c *MongoCarrierCollection) FindCarrierByID(ctx context.Context, id string) (*models.Carrier, error) {
	return findOne[models.Carrier](ctx, c.Collection, id, "carrier")
}

// DeleteCarrier deletes a carrier by its ID.
func (c *MongoCarrierCollection) DeleteCarrier(ctx context.Context, id string) error {
	return deleteOne(ctx, c.Collection, id, "carrier")
}

// MongoVehicleCollection implements VehicleCollection for MongoDB.
type MongoVehicleCollection struct {
	Collection *mongo.Collection
}

// InsertVehicle inserts a vehicle and returns it with its new id.
func (c *MongoVehicleCollection) InsertVehicle(ctx context.Context, vehicle models.Vehicle) (models.Vehicle, error) {
	if c.Collection == nil {
		return vehicle, errNilCollection
	}
	vehicle.ID = primitive.NewObjectID()
	vehicle.CreatedAt = time.Now().UTC()
	if _, err := c.Collection.InsertOne(ctx, vehicle); err != nil {
		return vehicle, mongoErr(err, "vehicle")
	}
	return vehicle, nil
}

// FindVehicles lists vehicles in scope by vehicle number.
func (c *MongoVehicleCollection) FindVehicles(ctx context.Context, scope Scope) ([]models.Vehicle, error) {
	return findAll[models.Vehicle](ctx, c.Collection, scope.filter("assigned_driver_id"), bson.D{{Key: "vehicle_number", Value: 1}})
}

// FindVehicleByID finds a vehicle by its ID.
func (c *MongoVehicleCollection) FindVehicleByID(ctx context.Context, id string) (*models.Vehicle, error) {
	return findOne[models.Vehicle](ctx, c.Collection, id, "vehicle")
}

// UpdateVehicle replaces the stored vehicle.
func (c *MongoVehicleCollection) UpdateVehicle(ctx context.Context, vehicle models.Vehicle) error {
	return replaceOne(ctx, c.Collection, vehicle.ID, vehicle, "vehicle")
}

// DeleteVehicle deletes a vehicle by its ID.
func (c *MongoVehicleCollection) DeleteVehicle(ctx context.Context, id string) error {
	return deleteOne(ctx, c.Collection, id, "vehicle")
}

// CountVehicles counts vehicles in scope.
func (c *MongoVehicleCollection) CountVehicles(ctx context.Context, scope Scope) (int64, error) {
	return count(ctx, c.Collection, scope.filter("assigned_driver_id"))
}

// UnassignDriver clears driverID from every vehicle.
func (c *MongoVehicleCollection) UnassignDriver(ctx context.Context, driverID primitive.ObjectID) (int64, error) {
	if c.Collection == nil {
		return 0, errNilCollection
	}
	res, err := c.Collection.UpdateMany(ctx,
		bson.M{"assigned_driver_id": driverID},
		bson.M{"$unset": bson.M{"assigned_driver_id": ""}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// MongoDriverCollection implements DriverCollection for MongoDB.
type MongoDriverCollection struct {
	Collection *mongo.Collection
}

// InsertDriver inserts a driver and returns it with its new id.
func (c *MongoDriverCollection) InsertDriver(ctx context.Context, driver models.Driver) (models.Driver, error) {
	if c.Collection == nil {
		return driver, errNilCollection
	}
	driver.ID = primitive.NewObjectID()
	driver.CreatedAt = time.Now().UTC()
	if _, err := c.Collection.InsertOne(ctx, driver); err != nil {
		return driver, mongoErr(err, "driver")
	}
	return driver, nil
}

// FindDrivers lists drivers in scope by full name.
func (c *MongoDriverCollection) FindDrivers(ctx context.Context, scope Scope) ([]models.Driver, error) {
	return findAll[models.Driver](ctx, c.Collection, scope.filter("_id"), bson.D{{Key: "full_name", Value: 1}, {Key: "username", Value: 1}})
}

// FindDriverByID finds a driver by its ID.
func (c *MongoDriverCollection) FindDriverByID(ctx context.Context, id string) (*models.Driver, error) {
	return findOne[models.Driver](ctx, c.Collection, id, "driver")
}

// UpdateDriver replaces the stored driver.
func (c *MongoDriverCollection) UpdateDriver(ctx context.Context, driver models.Driver) error {
	return replaceOne(ctx, c.Collection, driver.ID, driver, "driver")
}

// DeleteDriver deletes a driver by its ID.
func (c *MongoDriverCollection) DeleteDriver(ctx context.Context, id string) error {
	return deleteOne(ctx, c.Collection, id, "driver")
}

// CountDrivers counts drivers in scope.
func (c *MongoDriverCollection) CountDrivers(ctx context.Context, scope Scope) (int64, error) {
	return count(ctx, c.Collection, scope.filter("_id"))
}

// MongoTripCollection implements TripCollection for MongoDB.
type MongoTripCollection struct {
	Collection *mongo.Collection
}

// InsertTrip inserts a trip record into the collection.
func (c *MongoTripCollection) InsertTrip(ctx context.Context, trip models.Trip) (models.Trip, error) {
	if c.Collection == nil {
		return trip, errNilCollection
	}
	now := time.Now().UTC()
	trip.ID = primitive.NewObjectID()
	if trip.CreatedAt.IsZero() {
		trip.CreatedAt = now
	}
	trip.UpdatedAt = now
	if _, err := c.Collection.InsertOne(ctx, trip); err != nil {
		return trip, mongoErr(err, "trip")
	}
	return trip, nil
}

// FindTrips lists trips in scope, newest first.
func (c *MongoTripCollection) FindTrips(ctx context.Context, scope Scope) ([]models.Trip, error) {
	return findAll[models.Trip](ctx, c.Collection, scope.filter("driver_id"), bson.D{{Key: "created_at", Value: -1}})
}

// FindTripByID finds a trip by its ID.
func (c *MongoTripCollection) FindTripByID(ctx context.Context, id string) (*models.Trip, error) {
	return findOne[models.Trip](ctx, c.Collection, id, "trip")
}

// UpdateTrip replaces the stored trip.
func (c *MongoTripCollection) UpdateTrip(ctx context.Context, trip models.Trip) error {
	return replaceOne(ctx, c.Collection, trip.ID, trip, "trip")
}

// CountTrips counts trips in scope.
func (c *MongoTripCollection) CountTrips(ctx context.Context, scope Scope) (int64, error) {
	return count(ctx, c.Collection, scope.filter("driver_id"))
}
