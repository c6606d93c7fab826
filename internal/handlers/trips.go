package handlers

import (
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-insights/internal/events"
	"github.com/ukydev/fleet-insights/internal/models"
)

// ListTrips returns trips visible to the caller, newest first. An optional
// status query narrows the list.
func (h *FleetHandler) ListTrips(w http.ResponseWriter, r *http.Request) {
	v, ok := requireViewer(w, r)
	if !ok {
		return
	}
	trips, err := h.store.Trips.FindTrips(r.Context(), v.scope())
	if err != nil {
		writeStoreError(w, err, "Trip", h.logger)
		return
	}
	if status := strings.ToUpper(r.URL.Query().Get("status")); status != "" {
		filtered := trips[:0]
		for _, t := range trips {
			if string(t.Status) == status {
				filtered = append(filtered, t)
			}
		}
		trips = filtered
	}
	writeJSON(w, http.StatusOK, trips)
}

// StartTrip opens an IN_PROGRESS trip. Drivers start their own trips;
// admins and managers name the driver. The carrier comes from the vehicle.
func (h *FleetHandler) StartTrip(w http.ResponseWriter, r *http.Request) {
	v, ok := requireViewer(w, r)
	if !ok {
		return
	}
	var in models.TripStart
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := in.Validate(); err != nil {
		writeStoreError(w, err, "Trip", h.logger)
		return
	}

	driverID := in.DriverID
	if v.isDriver() {
		if driverID != "" && driverID != v.claims.DriverID {
			writeError(w, http.StatusForbidden, "Drivers can only start their own trips.")
			return
		}
		driverID = v.claims.DriverID
	}
	if driverID == "" {
		fieldError(w, "driver", "Driver is required")
		return
	}

	ctx := r.Context()
	vehicle, err := h.store.Vehicles.FindVehicleByID(ctx, in.VehicleID)
	if err != nil || !v.canSee(vehicle.CarrierID) {
		fieldError(w, "vehicle", "Vehicle not found")
		return
	}
	driver, err := h.store.Drivers.FindDriverByID(ctx, driverID)
	if err != nil {
		fieldError(w, "driver", "Driver not found")
		return
	}
	if driver.CarrierID != vehicle.CarrierID {
		fieldError(w, "driver", "Driver does not belong to this vehicle's carrier")
		return
	}

	now := h.now()
	trip, err := h.store.Trips.InsertTrip(ctx, models.Trip{
		Status:              models.TripInProgress,
		DriverID:            driver.ID,
		DriverName:          driver.DisplayName(),
		VehicleID:           vehicle.ID,
		VehicleNumber:       vehicle.VehicleNumber,
		CarrierID:           vehicle.CarrierID,
		PickupLocationName:  strings.TrimSpace(in.PickupLocationName),
		DropoffLocationName: strings.TrimSpace(in.DropoffLocationName),
		PickupLocation:      in.PickupLocation,
		DropoffLocation:     in.DropoffLocation,
		InitialOdometer:     in.InitialOdometer,
		StartTime:           in.StartTime.UTC(),
		CreatedAt:           now,
		UpdatedAt:           now,
	})
	if err != nil {
		writeStoreError(w, err, "Trip", h.logger)
		return
	}

	h.logger.WithFields(log.Fields{"trip_id": trip.ID.Hex(), "driver_id": driver.ID.Hex(), "vehicle": vehicle.VehicleNumber}).Info("Trip started")
	h.notify.mutated(ctx, "trip", "start", events.KeyTrips, events.KeyAnalytics)
	writeJSON(w, http.StatusCreated, trip)
}

// CompleteTrip closes an IN_PROGRESS trip and derives its miles and engine
// hours.
func (h *FleetHandler) CompleteTrip(w http.ResponseWriter, r *http.Request) {
	v, ok := requireViewer(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	trip, err := h.store.Trips.FindTripByID(ctx, pathID(r))
	if err != nil {
		writeStoreError(w, err, "Trip", h.logger)
		return
	}
	if !v.canSee(trip.CarrierID) || (v.isDriver() && trip.DriverID != v.driverID) {
		writeError(w, http.StatusNotFound, "Trip not found.")
		return
	}
	if trip.Status != models.TripInProgress {
		writeError(w, http.StatusConflict, "Trip is not in progress.")
		return
	}

	var c models.TripCompletion
	if err := decodeJSON(r, &c); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := c.Validate(trip.InitialOdometer, trip.StartTime); err != nil {
		writeStoreError(w, err, "Trip", h.logger)
		return
	}

	c.EndTime = c.EndTime.UTC()
	trip.Complete(c, h.now())
	if err := h.store.Trips.UpdateTrip(ctx, *trip); err != nil {
		writeStoreError(w, err, "Trip", h.logger)
		return
	}

	h.logger.WithFields(log.Fields{
		"trip_id":     trip.ID.Hex(),
		"total_miles": trip.TotalMiles,
		"fuel_used":   trip.FuelUsed,
	}).Info("Trip completed")
	h.notify.mutated(ctx, "trip", "complete", events.KeyTrips, events.KeyAnalytics)
	writeJSON(w, http.StatusOK, trip)
}
