package client

import (
	"context"
	"net/http"

	"github.com/ukydev/fleet-insights/internal/cache"
	"github.com/ukydev/fleet-insights/internal/events"
	"github.com/ukydev/fleet-insights/internal/models"
)

// Carriers lists carriers visible to the caller.
func (c *Client) Carriers(ctx context.Context) ([]models.Carrier, error) {
	return cache.Fetch(ctx, c.cache, events.KeyCarriers, CarrierQuery, func(ctx context.Context) ([]models.Carrier, error) {
		var out []models.Carrier
		err := c.do(ctx, http.MethodGet, "/api/carriers", nil, &out)
		return out, err
	})
}

// CreateCarrier adds a carrier.
func (c *Client) CreateCarrier(ctx context.Context, in models.CarrierInput) (models.Carrier, error) {
	var out models.Carrier
	if err := c.do(ctx, http.MethodPost, "/api/carriers", in, &out); err != nil {
		return out, err
	}
	c.cache.Invalidate(events.KeyCarriers)
	return out, nil
}

// DeleteCarrier removes a carrier.
func (c *Client) DeleteCarrier(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/carriers/"+id, nil, nil); err != nil {
		return err
	}
	c.cache.Invalidate(events.KeyCarriers, events.KeyAnalytics)
	return nil
}

// Vehicles lists vehicles visible to the caller.
func (c *Client) Vehicles(ctx context.Context) ([]models.Vehicle, error) {
	return cache.Fetch(ctx, c.cache, events.KeyVehicles, VehicleQuery, func(ctx context.Context) ([]models.Vehicle, error) {
		var out []models.Vehicle
		err := c.do(ctx, http.MethodGet, "/api/vehicles", nil, &out)
		return out, err
	})
}

// CreateVehicle adds a vehicle.
func (c *Client) CreateVehicle(ctx context.Context, in models.VehicleInput) (models.Vehicle, error) {
	var out models.Vehicle
	if err := c.do(ctx, http.MethodPost, "/api/vehicles", in, &out); err != nil {
		return out, err
	}
	c.cache.Invalidate(events.KeyVehicles)
	return out, nil
}

// UpdateVehicle patches a vehicle.
func (c *Client) UpdateVehicle(ctx context.Context, id string, upd models.VehicleUpdate) (models.Vehicle, error) {
	var out models.Vehicle
	if err := c.do(ctx, http.MethodPatch, "/api/vehicles/"+id, upd, &out); err != nil {
		return out, err
	}
	c.cache.Invalidate(events.KeyVehicles)
	return out, nil
}

// AssignDriver sets or, with a nil driver, clears a vehicle's driver.
func (c *Client) AssignDriver(ctx context.Context, vehicleID string, driverID *string) (models.Vehicle, error) {
	upd := models.VehicleUpdate{AssignedDriver: models.OptionalID{Set: true}}
	if driverID != nil {
		id, err := parseID(*driverID)
		if err != nil {
			return models.Vehicle{}, err
		}
		upd.AssignedDriver.ID = &id
	}
	return c.UpdateVehicle(ctx, vehicleID, upd)
}

// DeleteVehicle removes a vehicle.
func (c *Client) DeleteVehicle(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/vehicles/"+id, nil, nil); err != nil {
		return err
	}
	c.cache.Invalidate(events.KeyVehicles)
	return nil
}

// Drivers lists drivers visible to the caller.
func (c *Client) Drivers(ctx context.Context) ([]models.Driver, error) {
	return cache.Fetch(ctx, c.cache, events.KeyDrivers, DriverQuery, func(ctx context.Context) ([]models.Driver, error) {
		var out []models.Driver
		err := c.do(ctx, http.MethodGet, "/api/drivers", nil, &out)
		return out, err
	})
}

// Driver fetches one driver, cached under drivers/<id>.
func (c *Client) Driver(ctx context.Context, id string) (models.Driver, error) {
	return cache.Fetch(ctx, c.cache, events.KeyDrivers+"/"+id, DriverQuery, func(ctx context.Context) (models.Driver, error) {
		var out models.Driver
		err := c.do(ctx, http.MethodGet, "/api/drivers/"+id, nil, &out)
		return out, err
	})
}

// UpdateDriver patches a driver.
func (c *Client) UpdateDriver(ctx context.Context, id string, upd models.DriverUpdate) (models.Driver, error) {
	var out models.Driver
	if err := c.do(ctx, http.MethodPatch, "/api/drivers/"+id, upd, &out); err != nil {
		return out, err
	}
	c.cache.Invalidate(events.KeyDrivers)
	return out, nil
}

// DeleteDriver removes a driver; vehicles it drove become unassigned.
func (c *Client) DeleteDriver(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/drivers/"+id, nil, nil); err != nil {
		return err
	}
	c.cache.Invalidate(events.KeyDrivers, events.KeyVehicles)
	return nil
}
