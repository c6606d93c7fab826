package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Vehicle represents a fleet vehicle owned by a carrier.
type Vehicle struct {
	ID                 primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	VehicleNumber      string              `bson:"vehicle_number" json:"vehicle_number"`
	LicensePlate       string              `bson:"license_plate" json:"license_plate"`
	State              string              `bson:"state" json:"state"`
	CarrierID          primitive.ObjectID  `bson:"carrier_id" json:"carrier"`
	AssignedDriverID   *primitive.ObjectID `bson:"assigned_driver_id,omitempty" json:"assigned_driver"`
	AssignedDriverName string              `bson:"-" json:"assigned_driver_name,omitempty"`
	CreatedAt          time.Time           `bson:"created_at" json:"created_at"`
}

// VehicleInput is the create form for a vehicle.
type VehicleInput struct {
	VehicleNumber string `json:"vehicle_number"`
	LicensePlate  string `json:"license_plate"`
	State         string `json:"state"`
	CarrierID     string `json:"carrier"`
}

// Validate checks required fields and the two-letter state code.
func (in VehicleInput) Validate() error {
	v := &ValidationError{}
	required(v, "vehicle_number", in.VehicleNumber, "Vehicle number is required")
	required(v, "license_plate", in.LicensePlate, "License plate is required")
	required(v, "state", in.State, "State is required")
	required(v, "carrier", in.CarrierID, "Carrier is required")
	if s := strings.TrimSpace(in.State); s != "" && !isStateCode(s) {
		v.Add("state", "State must be a 2-letter code")
	}
	if in.CarrierID != "" && !primitive.IsValidObjectID(in.CarrierID) {
		v.Add("carrier", "Invalid carrier")
	}
	return v.OrNil()
}

// Normalize trims whitespace and upper-cases the state.
func (in VehicleInput) Normalize() VehicleInput {
	return VehicleInput{
		VehicleNumber: strings.TrimSpace(in.VehicleNumber),
		LicensePlate:  strings.TrimSpace(in.LicensePlate),
		State:         strings.ToUpper(strings.TrimSpace(in.State)),
		CarrierID:     strings.TrimSpace(in.CarrierID),
	}
}

func isStateCode(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}

// OptionalID is a JSON field that distinguishes "absent" from an explicit
// null. Set is true whenever the key appeared in the document.
type OptionalID struct {
	Set bool
	ID  *primitive.ObjectID
}

// UnmarshalJSON accepts null or a hex object id.
func (o *OptionalID) UnmarshalJSON(b []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		o.ID = nil
		return nil
	}
	var hex string
	if err := json.Unmarshal(b, &hex); err != nil {
		return fmt.Errorf("expected id string or null: %w", err)
	}
	if hex == "" {
		o.ID = nil
		return nil
	}
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", hex, err)
	}
	o.ID = &id
	return nil
}

// MarshalJSON writes the id or null.
func (o OptionalID) MarshalJSON() ([]byte, error) {
	if o.ID == nil {
		return []byte("null"), nil
	}
	return json.Marshal(o.ID.Hex())
}

// VehicleUpdate is the PATCH body for a vehicle.
type VehicleUpdate struct {
	VehicleNumber  *string    `json:"vehicle_number,omitempty"`
	LicensePlate   *string    `json:"license_plate,omitempty"`
	State          *string    `json:"state,omitempty"`
	AssignedDriver OptionalID `json:"assigned_driver"`
}

// Validate checks the provided fields only.
func (u VehicleUpdate) Validate() error {
	v := &ValidationError{}
	if u.VehicleNumber != nil {
		required(v, "vehicle_number", *u.VehicleNumber, "Vehicle number cannot be blank")
	}
	if u.LicensePlate != nil {
		required(v, "license_plate", *u.LicensePlate, "License plate cannot be blank")
	}
	if u.State != nil && !isStateCode(strings.TrimSpace(*u.State)) {
		v.Add("state", "State must be a 2-letter code")
	}
	return v.OrNil()
}

// MarshalJSON leaves assigned_driver out unless it was set, so a PATCH that
// only renames a vehicle does not clear its driver.
func (u VehicleUpdate) MarshalJSON() ([]byte, error) {
	type fields struct {
		VehicleNumber  *string     `json:"vehicle_number,omitempty"`
		LicensePlate   *string     `json:"license_plate,omitempty"`
		State          *string     `json:"state,omitempty"`
		AssignedDriver *OptionalID `json:"assigned_driver,omitempty"`
	}
	out := fields{VehicleNumber: u.VehicleNumber, LicensePlate: u.LicensePlate, State: u.State}
	if u.AssignedDriver.Set {
		out.AssignedDriver = &u.AssignedDriver
	}
	return json.Marshal(out)
}
