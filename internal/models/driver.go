package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DriverRole distinguishes line drivers from the managers of a carrier.
type DriverRole string

const (
	DriverRoleDriver  DriverRole = "DRIVER"
	DriverRoleManager DriverRole = "MANAGER"
)

// Driver is a person employed by exactly one carrier.
type Driver struct {
	ID            primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	UserID        *primitive.ObjectID `bson:"user_id,omitempty" json:"user_id,omitempty"`
	Username      string              `bson:"username" json:"username"`
	FullName      string              `bson:"full_name" json:"full_name"`
	Email         string              `bson:"email" json:"email"`
	LicenseNumber string              `bson:"license_number" json:"license_number"`
	Role          DriverRole          `bson:"role" json:"role"`
	CarrierID     primitive.ObjectID  `bson:"carrier_id" json:"carrier"`
	CarrierName   string              `bson:"-" json:"carrier_name"`
	CreatedAt     time.Time           `bson:"created_at" json:"created_at"`
}

// DisplayName is the name shown in tables and leaderboards.
func (d Driver) DisplayName() string {
	if d.FullName != "" {
		return d.FullName
	}
	return d.Username
}

// DriverUpdate is a partial update of a driver. Nil fields are left alone.
type DriverUpdate struct {
	FullName      *string     `json:"full_name,omitempty"`
	Email         *string     `json:"email,omitempty"`
	LicenseNumber *string     `json:"license_number,omitempty"`
	Role          *DriverRole `json:"role,omitempty"`
}

// Validate rejects unknown roles and blank names.
func (u DriverUpdate) Validate() error {
	v := &ValidationError{}
	if u.FullName != nil {
		required(v, "full_name", *u.FullName, "Full name cannot be blank")
	}
	if u.Role != nil && *u.Role != DriverRoleDriver && *u.Role != DriverRoleManager {
		v.Add("role", "Role must be DRIVER or MANAGER")
	}
	return v.OrNil()
}
