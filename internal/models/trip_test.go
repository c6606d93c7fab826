package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestTripCompletion_Validate(t *testing.T) {
	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		completion TripCompletion
		wantFields map[string]string
	}{
		{
			name:       "valid",
			completion: TripCompletion{FinalOdometer: 1100, FuelUsed: 12.5, EndTime: start.Add(3 * time.Hour)},
		},
		{
			name:       "odometer went backwards",
			completion: TripCompletion{FinalOdometer: 900, FuelUsed: 5, EndTime: start.Add(time.Hour)},
			wantFields: map[string]string{"final_odometer": "Final odometer must be greater than initial (1000)"},
		},
		{
			name:       "odometer unchanged",
			completion: TripCompletion{FinalOdometer: 1000, FuelUsed: 5, EndTime: start.Add(time.Hour)},
			wantFields: map[string]string{"final_odometer": "Final odometer must be greater than initial (1000)"},
		},
		{
			name:       "no fuel",
			completion: TripCompletion{FinalOdometer: 1010, EndTime: start.Add(time.Hour)},
			wantFields: map[string]string{"fuel_used": "Fuel used must be greater than 0"},
		},
		{
			name:       "missing end time",
			completion: TripCompletion{FinalOdometer: 1010, FuelUsed: 1},
			wantFields: map[string]string{"end_time": "End time is required"},
		},
		{
			name:       "end before start",
			completion: TripCompletion{FinalOdometer: 1010, FuelUsed: 1, EndTime: start.Add(-time.Minute)},
			wantFields: map[string]string{"end_time": "End time must be after start time"},
		},
		{
			name:       "end equal to start",
			completion: TripCompletion{FinalOdometer: 1010, FuelUsed: 1, EndTime: start},
			wantFields: map[string]string{"end_time": "End time must be after start time"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.completion.Validate(1000, start)
			if tt.wantFields == nil {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantFields, verr.Fields)
		})
	}
}

func TestTrip_Complete(t *testing.T) {
	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	trip := Trip{Status: TripInProgress, InitialOdometer: 1000, StartTime: start}
	now := start.Add(5 * time.Hour)

	trip.Complete(TripCompletion{FinalOdometer: 1120, FuelUsed: 14, EndTime: start.Add(150 * time.Minute)}, now)

	assert.True(t, trip.IsCompleted())
	assert.Equal(t, 120.0, trip.TotalMiles)
	assert.Equal(t, 2.5, trip.TotalEngineHours)
	assert.Equal(t, 14.0, trip.FuelUsed)
	require.NotNil(t, trip.EndTime)
	assert.Equal(t, start.Add(150*time.Minute), *trip.EndTime)
	assert.Equal(t, now, trip.UpdatedAt)
}

func TestTripStart_Validate(t *testing.T) {
	ok := TripStart{
		VehicleID:           primitive.NewObjectID().Hex(),
		InitialOdometer:     100,
		StartTime:           time.Now(),
		PickupLocationName:  "Dallas, TX",
		DropoffLocationName: "Austin, TX",
	}
	assert.NoError(t, ok.Validate())

	bad := TripStart{VehicleID: "nope", InitialOdometer: -1}
	var verr *ValidationError
	require.ErrorAs(t, bad.Validate(), &verr)
	assert.Equal(t, "Invalid vehicle", verr.Fields["vehicle"])
	assert.Contains(t, verr.Fields, "initial_odometer")
	assert.Contains(t, verr.Fields, "start_time")
	assert.Contains(t, verr.Fields, "pickup_location_name")
	assert.Contains(t, verr.Fields, "dropoff_location_name")
}

func TestLocation_JSON(t *testing.T) {
	b, err := json.Marshal(Location{Lon: -96.8, Lat: 32.7})
	require.NoError(t, err)
	assert.JSONEq(t, `[-96.8, 32.7]`, string(b))

	var loc Location
	require.NoError(t, json.Unmarshal([]byte(`[-97.7, 30.2]`), &loc))
	assert.Equal(t, Location{Lon: -97.7, Lat: 30.2}, loc)

	assert.Error(t, json.Unmarshal([]byte(`[1]`), &loc))
}
