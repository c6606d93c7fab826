package dashboard

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/fleet-insights/internal/events"
	"github.com/ukydev/fleet-insights/internal/models"
)

// AssignmentBoard is the vehicle assignment page. Assignments show up
// immediately and are rolled back if the server rejects them.
type AssignmentBoard struct {
	api    FleetAPI
	logger log.FieldLogger

	mu       sync.Mutex
	vehicles []models.Vehicle
	drivers  []models.Driver
	editing  string
	message  string
}

// NewAssignmentBoard creates an empty board; call Load to fill it.
func NewAssignmentBoard(api FleetAPI, logger log.FieldLogger) *AssignmentBoard {
	return &AssignmentBoard{api: api, logger: logger}
}

// Load fetches vehicles and drivers.
func (b *AssignmentBoard) Load(ctx context.Context) error {
	vehicles, err := b.api.Vehicles(ctx)
	if err != nil {
		return fmt.Errorf("load vehicles: %w", err)
	}
	drivers, err := b.api.Drivers(ctx)
	if err != nil {
		return fmt.Errorf("load drivers: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.vehicles = append([]models.Vehicle(nil), vehicles...)
	b.drivers = drivers
	return nil
}

// Vehicles returns a copy of the board rows.
func (b *AssignmentBoard) Vehicles() []models.Vehicle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Vehicle(nil), b.vehicles...)
}

// DriversFor lists the drivers that may be assigned to a vehicle: those of
// its carrier.
func (b *AssignmentBoard) DriversFor(vehicle models.Vehicle) []models.Driver {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.Driver
	for _, d := range b.drivers {
		if d.CarrierID == vehicle.CarrierID {
			out = append(out, d)
		}
	}
	return out
}

// AssignedCount is the number of vehicles with a driver.
func (b *AssignmentBoard) AssignedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, v := range b.vehicles {
		if v.AssignedDriverID != nil {
			n++
		}
	}
	return n
}

// Edit opens the inline editor for a vehicle.
func (b *AssignmentBoard) Edit(vehicleID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.editing = vehicleID
	b.message = ""
}

// Editing returns the vehicle whose editor is open.
func (b *AssignmentBoard) Editing() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.editing
}

// Message is the failure shown after the last Assign.
func (b *AssignmentBoard) Message() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.message
}

// Assign sets a vehicle's driver, or clears it when driverID is nil. The
// change is applied locally first and reverted if the request fails. The
// editor closes in both cases.
func (b *AssignmentBoard) Assign(ctx context.Context, vehicleID string, driverID *string) error {
	var id *primitive.ObjectID
	if driverID != nil {
		oid, err := primitive.ObjectIDFromHex(*driverID)
		if err != nil {
			return fmt.Errorf("invalid driver id %q: %w", *driverID, err)
		}
		id = &oid
	}

	b.mu.Lock()
	i := b.indexOf(vehicleID)
	if i < 0 {
		b.mu.Unlock()
		return fmt.Errorf("vehicle %s is not on the board", vehicleID)
	}
	prev := b.vehicles[i]
	next := prev
	next.AssignedDriverID = id
	next.AssignedDriverName = b.driverName(id)
	b.vehicles[i] = next
	b.mu.Unlock()
	b.patchCache(next)

	updated, err := b.api.AssignDriver(ctx, vehicleID, driverID)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.editing = ""
	if i = b.indexOf(vehicleID); i < 0 {
		return err
	}
	if err != nil {
		b.vehicles[i] = prev
		b.message = "Failed to assign driver. Please try again."
		b.logger.WithError(err).WithField("vehicle", vehicleID).Error("Failed to update vehicle assignment")
		b.patchCache(prev)
		return err
	}
	if updated.AssignedDriverName == "" {
		updated.AssignedDriverName = next.AssignedDriverName
	}
	b.vehicles[i] = updated
	b.message = ""
	return nil
}

func (b *AssignmentBoard) indexOf(vehicleID string) int {
	for i, v := range b.vehicles {
		if v.ID.Hex() == vehicleID {
			return i
		}
	}
	return -1
}

func (b *AssignmentBoard) driverName(id *primitive.ObjectID) string {
	if id == nil {
		return ""
	}
	for _, d := range b.drivers {
		if d.ID == *id {
			return d.DisplayName()
		}
	}
	return ""
}

// patchCache mirrors an optimistic edit into the shared query cache so other
// views reading "vehicles" see it before the refetch.
func (b *AssignmentBoard) patchCache(v models.Vehicle) {
	c, ok := b.api.(cached)
	if !ok {
		return
	}
	c.Cache().Update(events.KeyVehicles, func(old any) any {
		list, ok := old.([]models.Vehicle)
		if !ok {
			return old
		}
		out := append([]models.Vehicle(nil), list...)
		for i := range out {
			if out[i].ID == v.ID {
				out[i] = v
			}
		}
		return out
	})
}
