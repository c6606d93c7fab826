// Package dashboard holds the view state behind the admin and manager
// screens: search filters, create forms, confirmed deletion and the
// vehicle assignment board. It talks to the API through FleetAPI, which
// *client.Client satisfies.
package dashboard

import (
	"context"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/fleet-insights/internal/cache"
	"github.com/ukydev/fleet-insights/internal/models"
)

// FleetAPI is the part of the REST client the dashboards use.
type FleetAPI interface {
	Carriers(ctx context.Context) ([]models.Carrier, error)
	CreateCarrier(ctx context.Context, in models.CarrierInput) (models.Carrier, error)
	DeleteCarrier(ctx context.Context, id string) error
	Vehicles(ctx context.Context) ([]models.Vehicle, error)
	CreateVehicle(ctx context.Context, in models.VehicleInput) (models.Vehicle, error)
	AssignDriver(ctx context.Context, vehicleID string, driverID *string) (models.Vehicle, error)
	DeleteVehicle(ctx context.Context, id string) error
	Drivers(ctx context.Context) ([]models.Driver, error)
}

// cached is implemented by clients that expose their query cache.
type cached interface {
	Cache() *cache.Cache
}

// FilterCarriers keeps carriers whose name or office address contains query,
// ignoring case. An empty query keeps everything.
func FilterCarriers(carriers []models.Carrier, query string) []models.Carrier {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return carriers
	}
	out := make([]models.Carrier, 0, len(carriers))
	for _, c := range carriers {
		if containsFold(c.Name, q) || containsFold(c.MainOfficeAddress, q) {
			out = append(out, c)
		}
	}
	return out
}

// FilterVehicles keeps vehicles whose number or plate contains query,
// ignoring case.
func FilterVehicles(vehicles []models.Vehicle, query string) []models.Vehicle {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return vehicles
	}
	out := make([]models.Vehicle, 0, len(vehicles))
	for _, v := range vehicles {
		if containsFold(v.VehicleNumber, q) || containsFold(v.LicensePlate, q) {
			out = append(out, v)
		}
	}
	return out
}

func containsFold(s, lowered string) bool {
	return strings.Contains(strings.ToLower(s), lowered)
}

// CarrierName resolves a carrier id for display.
func CarrierName(carriers []models.Carrier, id primitive.ObjectID) string {
	for _, c := range carriers {
		if c.ID == id {
			return c.Name
		}
	}
	return "Unknown"
}

// CarrierCounts is a carrier row on the carriers table.
type CarrierCounts struct {
	Carrier  models.Carrier
	Vehicles int
	Drivers  int
}

// CountByCarrier attaches vehicle and driver counts to each carrier.
func CountByCarrier(carriers []models.Carrier, vehicles []models.Vehicle, drivers []models.Driver) []CarrierCounts {
	out := make([]CarrierCounts, len(carriers))
	index := make(map[primitive.ObjectID]int, len(carriers))
	for i, c := range carriers {
		out[i].Carrier = c
		index[c.ID] = i
	}
	for _, v := range vehicles {
		if i, ok := index[v.CarrierID]; ok {
			out[i].Vehicles++
		}
	}
	for _, d := range drivers {
		if i, ok := index[d.CarrierID]; ok {
			out[i].Drivers++
		}
	}
	return out
}
