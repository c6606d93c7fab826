package models

import (
	"encoding/json"
	"fmt"
)

// Location is a trip waypoint. On the wire it is a [lon, lat] pair.
type Location struct {
	Lon float64 `bson:"lon"`
	Lat float64 `bson:"lat"`
}

// MarshalJSON encodes the location as [lon, lat].
func (l Location) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{l.Lon, l.Lat})
}

// UnmarshalJSON accepts a [lon, lat] pair.
func (l *Location) UnmarshalJSON(b []byte) error {
	var pair []float64
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("location must have exactly 2 coordinates, got %d", len(pair))
	}
	l.Lon, l.Lat = pair[0], pair[1]
	return nil
}
