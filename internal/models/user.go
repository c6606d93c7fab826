package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role represents user roles in the system
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleDriver  Role = "driver"
)

// Actions checked by HasPermission.
const (
	ActionManageCarriers = "manage_carriers"
	ActionManageVehicles = "manage_vehicles"
	ActionAssignVehicles = "assign_vehicles"
	ActionManageDrivers  = "manage_drivers"
	ActionViewFleet      = "view_fleet"
	ActionViewAnalytics  = "view_analytics"
	ActionViewTrips      = "view_trips"
	ActionStartTrip      = "start_trip"
	ActionCompleteTrip   = "complete_trip"
)

// User represents a user in the system
type User struct {
	ID           primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	Username     string              `bson:"username" json:"username"`
	Email        string              `bson:"email" json:"email"`
	PasswordHash string              `bson:"password_hash" json:"-"`
	Role         Role                `bson:"role" json:"role"`
	FirstName    string              `bson:"first_name" json:"first_name"`
	LastName     string              `bson:"last_name" json:"last_name"`
	CarrierID    *primitive.ObjectID `bson:"carrier_id,omitempty" json:"carrier_id,omitempty"`
	DriverID     *primitive.ObjectID `bson:"driver_id,omitempty" json:"driver_id,omitempty"`
	IsActive     bool                `bson:"is_active" json:"is_active"`
	LastLogin    *time.Time          `bson:"last_login,omitempty" json:"last_login,omitempty"`
	CreatedAt    time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time           `bson:"updated_at" json:"updated_at"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterRequest represents a user registration request. Managers and
// drivers must name the carrier they belong to; a Driver record is created
// for them alongside the user.
type RegisterRequest struct {
	Username      string `json:"username"`
	Email         string `json:"email"`
	Password      string `json:"password"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Role          Role   `json:"role"`
	CarrierID     string `json:"carrier"`
	LicenseNumber string `json:"license_number"`
}

// LoginResponse represents a successful login response
type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Claims represents JWT claims
type Claims struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Role      Role   `json:"role"`
	CarrierID string `json:"carrier_id,omitempty"`
	DriverID  string `json:"driver_id,omitempty"`
	Exp       int64  `json:"exp"`
}

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleManager, RoleDriver:
		return true
	default:
		return false
	}
}

// HasPermission checks if a user has permission for a specific action
func (u *User) HasPermission(action string) bool {
	return RoleAllows(u.Role, action)
}

// RoleAllows reports whether role may perform action. Carrier scoping is
// applied separately by the handlers.
func RoleAllows(role Role, action string) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleManager:
		return action != ActionManageCarriers
	case RoleDriver:
		return action == ActionViewTrips || action == ActionStartTrip ||
			action == ActionCompleteTrip
	default:
		return false
	}
}

// FullName joins first and last name, falling back to the username.
func (u *User) FullName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	default:
		return u.Username
	}
}
