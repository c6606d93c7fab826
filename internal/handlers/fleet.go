package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/fleet-insights/internal/db"
	"github.com/ukydev/fleet-insights/internal/events"
	"github.com/ukydev/fleet-insights/internal/models"
)

// FleetHandler serves carriers, vehicles, drivers and trips.
type FleetHandler struct {
	store  *db.Store
	notify notifier
	logger log.FieldLogger
	now    func() time.Time
}

// NewFleetHandler creates the CRUD handler over store.
func NewFleetHandler(store *db.Store, publisher events.Publisher, logger log.FieldLogger) *FleetHandler {
	return &FleetHandler{
		store:  store,
		notify: notifier{publisher: publisher, logger: logger},
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ListCarriers returns every carrier visible to the caller.
func (h *FleetHandler) ListCarriers(w http.ResponseWriter, r *http.Request) {
	v, ok := requireViewer(w, r)
	if !ok {
		return
	}
	carriers, err := h.store.Carriers.FindCarriers(r.Context())
	if err != nil {
		writeStoreError(w, err, "Carrier", h.logger)
		return
	}
	if !v.isAdmin() {
		visible := carriers[:0]
		for _, c := range carriers {
			if v.canSee(c.ID) {
				visible = append(visible, c)
			}
		}
		carriers = visible
	}
	writeJSON(w, http.StatusOK, carriers)
}

// CreateCarrier adds a carrier.
func (h *FleetHandler) CreateCarrier(w http.ResponseWriter, r *http.Request) {
	var in models.CarrierInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		writeStoreError(w, err, "Carrier", h.logger)
		return
	}

	carrier, err := h.store.Carriers.InsertCarrier(r.Context(), models.Carrier{
		Name:              in.Name,
		MainOfficeAddress: in.MainOfficeAddress,
	})
	if errors.Is(err, db.ErrDuplicate) {
		fieldError(w, "name", "A carrier with this name already exists")
		return
	}
	if err != nil {
		writeStoreError(w, err, "Carrier", h.logger)
		return
	}

	h.notify.mutated(r.Context(), "carrier", "create", events.KeyCarriers)
	writeJSON(w, http.StatusCreated, carrier)
}

// DeleteCarrier removes a carrier that no longer owns vehicles or drivers.
func (h *FleetHandler) DeleteCarrier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	carrier, err := h.store.Carriers.FindCarrierByID(ctx, pathID(r))
	if err != nil {
		writeStoreError(w, err, "Carrier", h.logger)
		return
	}

	scope := db.ForCarrier(carrier.ID)
	vehicles, err := h.store.Vehicles.CountVehicles(ctx, scope)
	if err != nil {
		writeStoreError(w, err, "Vehicle", h.logger)
		return
	}
	drivers, err := h.store.Drivers.CountDrivers(ctx, scope)
	if err != nil {
		writeStoreError(w, err, "Driver", h.logger)
		return
	}
	if vehicles > 0 || drivers > 0 {
		writeError(w, http.StatusConflict, fmt.Sprintf(
			"Carrier still has %d vehicle(s) and %d driver(s).", vehicles, drivers))
		return
	}

	if err := h.store.Carriers.DeleteCarrier(ctx, carrier.ID.Hex()); err != nil {
		writeStoreError(w, err, "Carrier", h.logger)
		return
	}
	h.notify.mutated(ctx, "carrier", "delete", events.KeyCarriers, events.KeyAnalytics)
	w.WriteHeader(http.StatusNoContent)
}

// ListVehicles returns the caller's vehicles with driver names filled in.
func (h *FleetHandler) ListVehicles(w http.ResponseWriter, r *http.Request) {
	v, ok := requireViewer(w, r)
	if !ok {
		return
	}
	scope := v.scope()
	vehicles, err := h.store.Vehicles.FindVehicles(r.Context(), db.ForCarrier(scope.CarrierID))
	if err != nil {
		writeStoreError(w, err, "Vehicle", h.logger)
		return
	}
	names, err := h.driverNames(r.Context(), db.ForCarrier(scope.CarrierID))
	if err != nil {
		writeStoreError(w, err, "Driver", h.logger)
		return
	}
	for i := range vehicles {
		if id := vehicles[i].AssignedDriverID; id != nil {
			vehicles[i].AssignedDriverName = names[*id]
		}
	}
	writeJSON(w, http.StatusOK, vehicles)
}

// CreateVehicle adds a vehicle to a carrier the caller manages.
func (h *FleetHandler) CreateVehicle(w http.ResponseWriter, r *http.Request) {
	v, ok := requireViewer(w, r)
	if !ok {
		return
	}
	var in models.VehicleInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		writeStoreError(w, err, "Vehicle", h.logger)
		return
	}

	carrier, err := h.store.Carriers.FindCarrierByID(r.Context(), in.CarrierID)
	if err != nil {
		fieldError(w, "carrier", "Invalid carrier")
		return
	}
	if !v.canSee(carrier.ID) {
		writeError(w, http.StatusForbidden, "You do not have permission to perform this action.")
		return
	}

	vehicle, err := h.store.Vehicles.InsertVehicle(r.Context(), models.Vehicle{
		VehicleNumber: in.VehicleNumber,
		LicensePlate:  in.LicensePlate,
		State:         in.State,
		CarrierID:     carrier.ID,
	})
	if errors.Is(err, db.ErrDuplicate) {
		fieldError(w, "vehicle_number", "A vehicle with this number already exists")
		return
	}
	if err != nil {
		writeStoreError(w, err, "Vehicle", h.logger)
		return
	}

	h.notify.mutated(r.Context(), "vehicle", "create", events.KeyVehicles)
	writeJSON(w, http.StatusCreated, vehicle)
}

// UpdateVehicle applies a partial update, including driver assignment. An
// assigned driver must belong to the vehicle's carrier.
func (h *FleetHandler) UpdateVehicle(w http.ResponseWriter, r *http.Request) {
	v, ok := requireViewer(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	vehicle, err := h.store.Vehicles.FindVehicleByID(ctx, pathID(r))
	if err != nil {
		writeStoreError(w, err, "Vehicle", h.logger)
		return
	}
	if !v.canSee(vehicle.CarrierID) {
		writeError(w, http.StatusNotFound, "Vehicle not found.")
		return
	}

	var upd models.VehicleUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := upd.Validate(); err != nil {
		writeStoreError(w, err, "Vehicle", h.logger)
		return
	}

	if upd.VehicleNumber != nil {
		vehicle.VehicleNumber = strings.TrimSpace(*upd.VehicleNumber)
	}
	if upd.LicensePlate != nil {
		vehicle.LicensePlate = strings.TrimSpace(*upd.LicensePlate)
	}
	if upd.State != nil {
		vehicle.State = strings.ToUpper(strings.TrimSpace(*upd.State))
	}
	vehicle.AssignedDriverName = ""
	if upd.AssignedDriver.Set {
		vehicle.AssignedDriverID = upd.AssignedDriver.ID
	}
	if id := vehicle.AssignedDriverID; id != nil {
		driver, err := h.store.Drivers.FindDriverByID(ctx, id.Hex())
		if err != nil {
			fieldError(w, "assigned_driver", "Driver not found")
			return
		}
		if driver.CarrierID != vehicle.CarrierID {
			fieldError(w, "assigned_driver", "Driver does not belong to this vehicle's carrier")
			return
		}
		vehicle.AssignedDriverName = driver.DisplayName()
	}

	if err := h.store.Vehicles.UpdateVehicle(ctx, *vehicle); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			fieldError(w, "vehicle_number", "A vehicle with this number already exists")
			return
		}
		writeStoreError(w, err, "Vehicle", h.logger)
		return
	}

	action := "update"
	if upd.AssignedDriver.Set {
		action = "assign"
	}
	h.notify.mutated(ctx, "vehicle", action, events.KeyVehicles)
	writeJSON(w, http.StatusOK, vehicle)
}

// DeleteVehicle removes a vehicle.
func (h *FleetHandler) DeleteVehicle(w http.ResponseWriter, r *http.Request) {
	v, ok := requireViewer(w, r)
	if !ok {
		return
	}
	vehicle, err := h.store.Vehicles.FindVehicleByID(r.Context(), pathID(r))
	if err != nil {
		writeStoreError(w, err, "Vehicle", h.logger)
		return
	}
	if !v.canSee(vehicle.CarrierID) {
		writeError(w, http.StatusNotFound, "Vehicle not found.")
		return
	}
	if err := h.store.Vehicles.DeleteVehicle(r.Context(), vehicle.ID.Hex()); err != nil {
		writeStoreError(w, err, "Vehicle", h.logger)
		return
	}
	h.notify.mutated(r.Context(), "vehicle", "delete", events.KeyVehicles)
	w.WriteHeader(http.StatusNoContent)
}

// ListDrivers returns the caller's drivers with carrier names filled in.
func (h *FleetHandler) ListDrivers(w http.ResponseWriter, r *http.Request) {
	v, ok := requireViewer(w, r)
	if !ok {
		return
	}
	drivers, err := h.store.Drivers.FindDrivers(r.Context(), db.ForCarrier(v.scope().CarrierID))
	if err != nil {
		writeStoreError(w, err, "Driver", h.logger)
		return
	}
	names, err := h.carrierNames(r.Context())
	if err != nil {
		writeStoreError(w, err, "Carrier", h.logger)
		return
	}
	for i := range drivers {
		drivers[i].CarrierName = names[drivers[i].CarrierID]
	}
	writeJSON(w, http.StatusOK, drivers)
}

// GetDriver returns one driver.
func (h *FleetHandler) GetDriver(w http.ResponseWriter, r *http.Request) {
	driver, ok := h.visibleDriver(w, r)
	if !ok {
		return
	}
	if carrier, err := h.store.Carriers.FindCarrierByID(r.Context(), driver.CarrierID.Hex()); err == nil {
		driver.CarrierName = carrier.Name
	}
	writeJSON(w, http.StatusOK, driver)
}

// UpdateDriver applies a partial update.
func (h *FleetHandler) UpdateDriver(w http.ResponseWriter, r *http.Request) {
	driver, ok := h.visibleDriver(w, r)
	if !ok {
		return
	}
	var upd models.DriverUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := upd.Validate(); err != nil {
		writeStoreError(w, err, "Driver", h.logger)
		return
	}
	if upd.FullName != nil {
		driver.FullName = strings.TrimSpace(*upd.FullName)
	}
	if upd.Email != nil {
		driver.Email = strings.TrimSpace(*upd.Email)
	}
	if upd.LicenseNumber != nil {
		driver.LicenseNumber = strings.TrimSpace(*upd.LicenseNumber)
	}
	if upd.Role != nil {
		driver.Role = *upd.Role
	}
	if err := h.store.Drivers.UpdateDriver(r.Context(), *driver); err != nil {
		writeStoreError(w, err, "Driver", h.logger)
		return
	}
	h.notify.mutated(r.Context(), "driver", "update", events.KeyDrivers)
	writeJSON(w, http.StatusOK, driver)
}

// DeleteDriver removes a driver and clears it from any assigned vehicle.
func (h *FleetHandler) DeleteDriver(w http.ResponseWriter, r *http.Request) {
	driver, ok := h.visibleDriver(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	unassigned, err := h.store.Vehicles.UnassignDriver(ctx, driver.ID)
	if err != nil {
		writeStoreError(w, err, "Vehicle", h.logger)
		return
	}
	if err := h.store.Drivers.DeleteDriver(ctx, driver.ID.Hex()); err != nil {
		writeStoreError(w, err, "Driver", h.logger)
		return
	}
	keys := []string{events.KeyDrivers}
	if unassigned > 0 {
		keys = append(keys, events.KeyVehicles)
	}
	h.logger.WithFields(log.Fields{"driver_id": driver.ID.Hex(), "vehicles_unassigned": unassigned}).Info("Driver deleted")
	h.notify.mutated(ctx, "driver", "delete", keys...)
	w.WriteHeader(http.StatusNoContent)
}

func (h *FleetHandler) visibleDriver(w http.ResponseWriter, r *http.Request) (*models.Driver, bool) {
	v, ok := requireViewer(w, r)
	if !ok {
		return nil, false
	}
	driver, err := h.store.Drivers.FindDriverByID(r.Context(), pathID(r))
	if err != nil {
		writeStoreError(w, err, "Driver", h.logger)
		return nil, false
	}
	if !v.canSee(driver.CarrierID) {
		writeError(w, http.StatusNotFound, "Driver not found.")
		return nil, false
	}
	return driver, true
}

func (h *FleetHandler) driverNames(ctx context.Context, scope db.Scope) (map[primitive.ObjectID]string, error) {
	drivers, err := h.store.Drivers.FindDrivers(ctx, scope)
	if err != nil {
		return nil, err
	}
	names := make(map[primitive.ObjectID]string, len(drivers))
	for _, d := range drivers {
		names[d.ID] = d.DisplayName()
	}
	return names, nil
}

func (h *FleetHandler) carrierNames(ctx context.Context) (map[primitive.ObjectID]string, error) {
	carriers, err := h.store.Carriers.FindCarriers(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[primitive.ObjectID]string, len(carriers))
	for _, c := range carriers {
		names[c.ID] = c.Name
	}
	return names, nil
}
