package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TripStatus is the lifecycle state of a trip.
type TripStatus string

const (
	TripInProgress TripStatus = "IN_PROGRESS"
	TripCompleted  TripStatus = "COMPLETED"
	TripCancelled  TripStatus = "CANCELLED"
)

// Trip represents one haul by a driver in a carrier's vehicle. The carrier is
// copied from the vehicle when the trip starts.
type Trip struct {
	ID                  primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Status              TripStatus         `json:"status" bson:"status"`
	DriverID            primitive.ObjectID `json:"driver" bson:"driver_id"`
	DriverName          string             `json:"driver_name" bson:"driver_name"`
	VehicleID           primitive.ObjectID `json:"vehicle_id" bson:"vehicle_id"`
	VehicleNumber       string             `json:"vehicle_number" bson:"vehicle_number"`
	CarrierID           primitive.ObjectID `json:"carrier" bson:"carrier_id"`
	PickupLocationName  string             `json:"pickup_location_name" bson:"pickup_location_name"`
	DropoffLocationName string             `json:"dropoff_location_name" bson:"dropoff_location_name"`
	PickupLocation      *Location          `json:"pickup_location,omitempty" bson:"pickup_location,omitempty"`
	DropoffLocation     *Location          `json:"dropoff_location,omitempty" bson:"dropoff_location,omitempty"`
	InitialOdometer     float64            `json:"initial_odometer" bson:"initial_odometer"`
	FinalOdometer       float64            `json:"final_odometer" bson:"final_odometer"`
	FuelUsed            float64            `json:"fuel_used" bson:"fuel_used"`                   // gallons
	TotalMiles          float64            `json:"total_miles" bson:"total_miles"`               // final - initial
	TotalEngineHours    float64            `json:"total_engine_hours" bson:"total_engine_hours"` // end - start
	StartTime           time.Time          `json:"start_time" bson:"start_time"`
	EndTime             *time.Time         `json:"end_time,omitempty" bson:"end_time,omitempty"`
	CreatedAt           time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at" bson:"updated_at"`
}

// IsCompleted reports whether the trip counts toward metrics.
func (t Trip) IsCompleted() bool {
	return t.Status == TripCompleted
}

// Complete applies a validated completion form and derives miles and hours.
func (t *Trip) Complete(c TripCompletion, now time.Time) {
	end := c.EndTime
	t.FinalOdometer = c.FinalOdometer
	t.FuelUsed = c.FuelUsed
	t.EndTime = &end
	t.TotalMiles = c.FinalOdometer - t.InitialOdometer
	t.TotalEngineHours = end.Sub(t.StartTime).Hours()
	t.Status = TripCompleted
	t.UpdatedAt = now
}

// TripStart is the body of POST /trips.
type TripStart struct {
	VehicleID           string    `json:"vehicle"`
	DriverID            string    `json:"driver,omitempty"`
	InitialOdometer     float64   `json:"initial_odometer"`
	StartTime           time.Time `json:"start_time"`
	PickupLocationName  string    `json:"pickup_location_name"`
	DropoffLocationName string    `json:"dropoff_location_name"`
	PickupLocation      *Location `json:"pickup_location,omitempty"`
	DropoffLocation     *Location `json:"dropoff_location,omitempty"`
}

// Validate checks the start form.
func (s TripStart) Validate() error {
	v := &ValidationError{}
	required(v, "vehicle", s.VehicleID, "Vehicle is required")
	if s.VehicleID != "" && !primitive.IsValidObjectID(s.VehicleID) {
		v.Add("vehicle", "Invalid vehicle")
	}
	if s.DriverID != "" && !primitive.IsValidObjectID(s.DriverID) {
		v.Add("driver", "Invalid driver")
	}
	if s.InitialOdometer < 0 {
		v.Add("initial_odometer", "Initial odometer cannot be negative")
	}
	if s.StartTime.IsZero() {
		v.Add("start_time", "Start time is required")
	}
	required(v, "pickup_location_name", s.PickupLocationName, "Pickup location is required")
	required(v, "dropoff_location_name", s.DropoffLocationName, "Dropoff location is required")
	return v.OrNil()
}

// TripCompletion is the body of PATCH /trips/{id}/complete.
type TripCompletion struct {
	FinalOdometer float64   `json:"final_odometer"`
	FuelUsed      float64   `json:"fuel_used"`
	EndTime       time.Time `json:"end_time"`
}

// Validate checks the completion form against the trip it completes.
func (c TripCompletion) Validate(initialOdometer float64, startTime time.Time) error {
	v := &ValidationError{}
	if c.FinalOdometer <= initialOdometer {
		v.Add("final_odometer", fmt.Sprintf("Final odometer must be greater than initial (%s)", formatOdometer(initialOdometer)))
	}
	if c.FuelUsed <= 0 {
		v.Add("fuel_used", "Fuel used must be greater than 0")
	}
	switch {
	case c.EndTime.IsZero():
		v.Add("end_time", "End time is required")
	case !c.EndTime.After(startTime):
		v.Add("end_time", "End time must be after start time")
	}
	return v.OrNil()
}

func formatOdometer(v float64) string {
	s := strconv.FormatFloat(v, 'f', 1, 64)
	return strings.TrimSuffix(s, ".0")
}
