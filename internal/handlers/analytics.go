package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-insights/internal/aggregate"
	"github.com/ukydev/fleet-insights/internal/db"
	"github.com/ukydev/fleet-insights/internal/metrics"
	"github.com/ukydev/fleet-insights/internal/models"
)

const defaultWindow = "7d"

// AnalyticsHandler serves the dashboard charts computed from trips.
type AnalyticsHandler struct {
	store  *db.Store
	logger log.FieldLogger
	loc    *time.Location
	now    func() time.Time
}

// NewAnalyticsHandler creates the analytics handler. Day and month
// boundaries are taken in loc.
func NewAnalyticsHandler(store *db.Store, loc *time.Location, logger log.FieldLogger) *AnalyticsHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &AnalyticsHandler{store: store, logger: logger, loc: loc, now: time.Now}
}

// TripsChart counts completed trips per driver per bucket.
func (h *AnalyticsHandler) TripsChart(w http.ResponseWriter, r *http.Request) {
	win, ok := h.window(w, r)
	if !ok {
		return
	}
	data, ok := h.load(w, r, true)
	if !ok {
		return
	}
	defer h.observe("trips", len(data.trips))()

	frame := aggregate.DriverTrips(win, h.now().In(h.loc), data.drivers, data.trips)
	writeJSON(w, http.StatusOK, aggregate.WindowResponse{
		Window:  win.Name,
		Label:   win.Label(),
		Frame:   frame,
		Drivers: aggregate.DriverMetrics(data.drivers, data.trips, aggregate.InFrame(frame, aggregate.CreatedAt)),
	})
}

// FuelChart sums fuel per bucket with the trend of the last two buckets.
func (h *AnalyticsHandler) FuelChart(w http.ResponseWriter, r *http.Request) {
	win, ok := h.window(w, r)
	if !ok {
		return
	}
	data, ok := h.load(w, r, false)
	if !ok {
		return
	}
	defer h.observe("fuel", len(data.trips))()

	series := aggregate.FuelUsage(win, h.now().In(h.loc), data.trips, nil)
	trend := series.Trend
	writeJSON(w, http.StatusOK, aggregate.WindowResponse{
		Window: win.Name,
		Label:  win.Label(),
		Frame:  series.Frame,
		Trend:  &trend,
	})
}

// DriverMetrics returns one row per driver. With a window query only trips
// created inside that window count.
func (h *AnalyticsHandler) DriverMetrics(w http.ResponseWriter, r *http.Request) {
	var pred aggregate.Predicate
	if r.URL.Query().Get("window") != "" {
		win, ok := h.window(w, r)
		if !ok {
			return
		}
		pred = aggregate.InFrame(aggregate.NewFrame(win, h.now().In(h.loc)), aggregate.CreatedAt)
	}
	data, ok := h.load(w, r, true)
	if !ok {
		return
	}
	defer h.observe("drivers", len(data.trips))()

	writeJSON(w, http.StatusOK, aggregate.DriverMetrics(data.drivers, data.trips, pred))
}

// Efficiency returns the carrier month cards and the daily fuel chart.
func (h *AnalyticsHandler) Efficiency(w http.ResponseWriter, r *http.Request) {
	month, ok := h.month(w, r)
	if !ok {
		return
	}
	data, ok := h.load(w, r, false)
	if !ok {
		return
	}
	defer h.observe("efficiency", len(data.trips))()

	writeJSON(w, http.StatusOK, aggregate.EfficiencyResponse{
		Month:    aggregate.MonthKey(month),
		Carriers: aggregate.CarrierMonthSummaries(data.carriers, data.trips, month),
		Daily:    aggregate.DailyFuelByCarrier(data.carriers, data.trips, month),
	})
}

// Leaderboard ranks drivers per carrier for a month. limit defaults to 5.
func (h *AnalyticsHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	month, ok := h.month(w, r)
	if !ok {
		return
	}
	limit := 5
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			fieldError(w, "limit", "Limit must be a non-negative integer")
			return
		}
		limit = n
	}
	data, ok := h.load(w, r, false)
	if !ok {
		return
	}
	defer h.observe("leaderboard", len(data.trips))()

	writeJSON(w, http.StatusOK, aggregate.LeaderboardResponse{
		Month:    aggregate.MonthKey(month),
		Carriers: aggregate.CarrierLeaderboards(data.carriers, data.trips, month, limit),
	})
}

func (h *AnalyticsHandler) window(w http.ResponseWriter, r *http.Request) (aggregate.Window, bool) {
	name := r.URL.Query().Get("window")
	if name == "" {
		name = defaultWindow
	}
	win, err := aggregate.ParseWindow(name)
	if err != nil {
		fieldError(w, "window", "Unknown window "+strconv.Quote(name))
		return win, false
	}
	return win, true
}

func (h *AnalyticsHandler) month(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("month")
	if raw == "" {
		raw = aggregate.MonthKey(h.now().In(h.loc))
	}
	month, err := aggregate.ParseMonth(raw, h.loc)
	if err != nil {
		fieldError(w, "month", "Month must be YYYY-MM")
		return month, false
	}
	return month, true
}

type analyticsData struct {
	carriers []models.Carrier
	drivers  []models.Driver
	trips    []models.Trip
}

// load fetches the caller's carriers and trips, and drivers when asked.
func (h *AnalyticsHandler) load(w http.ResponseWriter, r *http.Request, withDrivers bool) (analyticsData, bool) {
	v, ok := requireViewer(w, r)
	if !ok {
		return analyticsData{}, false
	}
	ctx := r.Context()
	scope := v.scope()

	var data analyticsData
	var err error
	if data.carriers, err = h.carriersFor(ctx, v); err != nil {
		writeStoreError(w, err, "Carrier", h.logger)
		return data, false
	}
	if data.trips, err = h.store.Trips.FindTrips(ctx, scope); err != nil {
		writeStoreError(w, err, "Trip", h.logger)
		return data, false
	}
	if withDrivers {
		if data.drivers, err = h.store.Drivers.FindDrivers(ctx, db.ForCarrier(scope.CarrierID)); err != nil {
			writeStoreError(w, err, "Driver", h.logger)
			return data, false
		}
	}
	return data, true
}

func (h *AnalyticsHandler) carriersFor(ctx context.Context, v viewer) ([]models.Carrier, error) {
	if v.isAdmin() {
		return h.store.Carriers.FindCarriers(ctx)
	}
	c, err := h.store.Carriers.FindCarrierByID(ctx, v.carrierID.Hex())
	if err != nil {
		return nil, err
	}
	return []models.Carrier{*c}, nil
}

// observe records how long a view took and how many trips it read.
func (h *AnalyticsHandler) observe(view string, trips int) func() {
	start := time.Now()
	metrics.TripsAggregated.Observe(float64(trips))
	return func() {
		elapsed := time.Since(start)
		metrics.AggregationDuration.WithLabelValues(view).Observe(elapsed.Seconds())
		h.logger.WithFields(log.Fields{"view": view, "trips": trips, "duration_ms": elapsed.Milliseconds()}).Debug("Analytics computed")
	}
}
