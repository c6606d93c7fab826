package db

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/fleet-insights/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrInvalidID = errors.New("invalid id")
	ErrDuplicate = errors.New("duplicate key")
)

// Scope narrows list and count queries. Zero fields do not filter.
type Scope struct {
	CarrierID primitive.ObjectID
	DriverID  primitive.ObjectID
}

// ForCarrier scopes to one carrier.
func ForCarrier(id primitive.ObjectID) Scope { return Scope{CarrierID: id} }

// ForDriver scopes to one driver.
func ForDriver(id primitive.ObjectID) Scope { return Scope{DriverID: id} }

func (s Scope) filter(driverField string) bson.M {
	f := bson.M{}
	if !s.CarrierID.IsZero() {
		f["carrier_id"] = s.CarrierID
	}
	if !s.DriverID.IsZero() && driverField != "" {
		f[driverField] = s.DriverID
	}
	return f
}

// CarrierCollection defines the interface for carrier data operations.
type CarrierCollection interface {
	InsertCarrier(ctx context.Context, carrier models.Carrier) (models.Carrier, error)
	FindCarriers(ctx context.Context) ([]models.Carrier, error)
	FindCarrierByID(ctx context.Context, id string) (*models.Carrier, error)
	DeleteCarrier(ctx context.Context, id string) error
}

// VehicleCollection defines the interface for vehicle data operations.
type VehicleCollection interface {
	InsertVehicle(ctx context.Context, vehicle models.Vehicle) (models.Vehicle, error)
	FindVehicles(ctx context.Context, scope Scope) ([]models.Vehicle, error)
	FindVehicleByID(ctx context.Context, id string) (*models.Vehicle, error)
	UpdateVehicle(ctx context.Context, vehicle models.Vehicle) error
	DeleteVehicle(ctx context.Context, id string) error
	CountVehicles(ctx context.Context, scope Scope) (int64, error)
	// UnassignDriver clears the driver from every vehicle it is assigned to.
	UnassignDriver(ctx context.Context, driverID primitive.ObjectID) (int64, error)
}

// DriverCollection defines the interface for driver data operations.
type DriverCollection interface {
	InsertDriver(ctx context.Context, driver models.Driver) (models.Driver, error)
	FindDrivers(ctx context.Context, scope Scope) ([]models.Driver, error)
	FindDriverByID(ctx context.Context, id string) (*models.Driver, error)
	UpdateDriver(ctx context.Context, driver models.Driver) error
	DeleteDriver(ctx context.Context, id string) error
	CountDrivers(ctx context.Context, scope Scope) (int64, error)
}

// TripCollection defines the interface for trip data operations.
type TripCollection interface {
	InsertTrip(ctx context.Context, trip models.Trip) (models.Trip, error)
	FindTrips(ctx context.Context, scope Scope) ([]models.Trip, error)
	FindTripByID(ctx context.Context, id string) (*models.Trip, error)
	UpdateTrip(ctx context.Context, trip models.Trip) error
	CountTrips(ctx context.Context, scope Scope) (int64, error)
}

// UserCollection defines the interface for user database operations
type UserCollection interface {
	InsertUser(ctx context.Context, user models.User) (models.User, error)
	FindUserByID(ctx context.Context, id string) (*models.User, error)
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, user models.User) error
	DeleteUser(ctx context.Context, id string) error
	UpdateLastLogin(ctx context.Context, id string) error
}

// Store groups the collections the API works with.
type Store struct {
	Carriers CarrierCollection
	Vehicles VehicleCollection
	Drivers  DriverCollection
	Trips    TripCollection
	Users    UserCollection
}

// ParseID converts a hex id, wrapping ErrInvalidID on failure.
func ParseID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return oid, nil
}
