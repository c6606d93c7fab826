package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Carrier is a trucking company that owns vehicles and employs drivers.
type Carrier struct {
	ID                primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name              string             `bson:"name" json:"name"`
	MainOfficeAddress string             `bson:"main_office_address" json:"main_office_address"`
	CreatedAt         time.Time          `bson:"created_at" json:"created_at"`
}

// CarrierInput is the create form for a carrier.
type CarrierInput struct {
	Name              string `json:"name"`
	MainOfficeAddress string `json:"main_office_address"`
}

// Validate checks required fields.
func (in CarrierInput) Validate() error {
	v := &ValidationError{}
	required(v, "name", in.Name, "Name is required")
	required(v, "main_office_address", in.MainOfficeAddress, "Main office address is required")
	return v.OrNil()
}

// Normalize trims surrounding whitespace.
func (in CarrierInput) Normalize() CarrierInput {
	return CarrierInput{
		Name:              strings.TrimSpace(in.Name),
		MainOfficeAddress: strings.TrimSpace(in.MainOfficeAddress),
	}
}
