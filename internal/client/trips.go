package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/fleet-insights/internal/cache"
	"github.com/ukydev/fleet-insights/internal/events"
	"github.com/ukydev/fleet-insights/internal/models"
)

// Trips lists trips visible to the caller. status may be empty.
func (c *Client) Trips(ctx context.Context, status models.TripStatus) ([]models.Trip, error) {
	key := events.KeyTrips
	path := "/api/trips"
	if status != "" {
		key += "/" + string(status)
		path = withQuery(path, url.Values{"status": {string(status)}})
	}
	return cache.Fetch(ctx, c.cache, key, TripQuery, func(ctx context.Context) ([]models.Trip, error) {
		var wire []wireTrip
		if err := c.do(ctx, http.MethodGet, path, nil, &wire); err != nil {
			return nil, err
		}
		out := make([]models.Trip, 0, len(wire))
		for _, w := range wire {
			t, err := w.normalize()
			if err != nil {
				// unresolvable driver or vehicle refs are dropped, not fatal
				c.logger.WithError(err).Warn("Skipping trip")
				continue
			}
			out = append(out, t)
		}
		return out, nil
	})
}

// StartTrip opens a trip.
func (c *Client) StartTrip(ctx context.Context, in models.TripStart) (models.Trip, error) {
	var w wireTrip
	if err := c.do(ctx, http.MethodPost, "/api/trips", in, &w); err != nil {
		return models.Trip{}, err
	}
	c.cache.Invalidate(events.KeyTrips, events.KeyAnalytics)
	return w.normalize()
}

// CompleteTrip closes a trip.
func (c *Client) CompleteTrip(ctx context.Context, id string, in models.TripCompletion) (models.Trip, error) {
	var w wireTrip
	if err := c.do(ctx, http.MethodPatch, "/api/trips/"+id+"/complete", in, &w); err != nil {
		return models.Trip{}, err
	}
	c.cache.Invalidate(events.KeyTrips, events.KeyAnalytics)
	return w.normalize()
}

// wireTrip accepts the driver as an id or an embedded object, and the
// vehicle as vehicle_id or an embedded vehicle.
type wireTrip struct {
	models.Trip
	Driver  json.RawMessage `json:"driver"`
	Vehicle json.RawMessage `json:"vehicle"`
}

// ref is an embedded driver or vehicle.
type ref struct {
	ID            string `json:"id"`
	FullName      string `json:"full_name"`
	Name          string `json:"name"`
	Username      string `json:"username"`
	VehicleNumber string `json:"vehicle_number"`
}

func (r ref) label() string {
	switch {
	case r.FullName != "":
		return r.FullName
	case r.Name != "":
		return r.Name
	default:
		return r.Username
	}
}

func decodeRef(raw json.RawMessage) (ref, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ref{}, nil
	}
	if raw[0] == '"' {
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return ref{}, err
		}
		return ref{ID: id}, nil
	}
	var r ref
	if err := json.Unmarshal(raw, &r); err != nil {
		return ref{}, err
	}
	return r, nil
}

func (w wireTrip) normalize() (models.Trip, error) {
	t := w.Trip

	driver, err := decodeRef(w.Driver)
	if err != nil {
		return t, fmt.Errorf("trip %s: driver: %w", t.ID.Hex(), err)
	}
	if driver.ID != "" {
		if t.DriverID, err = parseID(driver.ID); err != nil {
			return t, fmt.Errorf("trip %s: %w", t.ID.Hex(), err)
		}
	}
	if t.DriverName == "" {
		t.DriverName = driver.label()
	}

	vehicle, err := decodeRef(w.Vehicle)
	if err != nil {
		return t, fmt.Errorf("trip %s: vehicle: %w", t.ID.Hex(), err)
	}
	if t.VehicleID.IsZero() && vehicle.ID != "" {
		if t.VehicleID, err = parseID(vehicle.ID); err != nil {
			return t, fmt.Errorf("trip %s: %w", t.ID.Hex(), err)
		}
	}
	if t.VehicleNumber == "" {
		t.VehicleNumber = vehicle.VehicleNumber
	}
	return t, nil
}

func parseID(hex string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return id, fmt.Errorf("invalid id %q: %w", hex, err)
	}
	return id, nil
}
