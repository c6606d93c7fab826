package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-insights/internal/auth"
	"github.com/ukydev/fleet-insights/internal/db"
	"github.com/ukydev/fleet-insights/internal/events"
	"github.com/ukydev/fleet-insights/internal/middleware"
	"github.com/ukydev/fleet-insights/internal/models"
)

// RouterConfig carries the collaborators of the HTTP API.
type RouterConfig struct {
	Store     *db.Store
	Auth      *auth.Service
	Publisher events.Publisher
	Limiter   middleware.Limiter
	Logger    log.FieldLogger
	Location  *time.Location
}

// NewRouter wires every API route.
func NewRouter(cfg RouterConfig) *mux.Router {
	if cfg.Publisher == nil {
		cfg.Publisher = events.NopPublisher{}
	}
	authMW := middleware.NewAuthMiddleware(cfg.Auth)
	authH := NewAuthHandler(cfg.Auth, cfg.Store, cfg.Publisher, cfg.Logger)
	fleet := NewFleetHandler(cfg.Store, cfg.Publisher, cfg.Logger)
	analytics := NewAnalyticsHandler(cfg.Store, cfg.Location, cfg.Logger)

	r := mux.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover(cfg.Logger), middleware.Observe(cfg.Logger))
	if cfg.Limiter != nil {
		r.Use(middleware.NewRateLimitMiddleware(cfg.Limiter, cfg.Logger).RateLimit)
	}

	r.HandleFunc("/health", Health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(authMW.Authenticate)

	can := func(action string, fn http.HandlerFunc) http.Handler {
		return authMW.RequirePermission(action)(fn)
	}
	adminOnly := authMW.RequireRole()

	api.HandleFunc("/auth/login", authH.Login).Methods(http.MethodPost)
	api.HandleFunc("/auth/register", authH.Register).Methods(http.MethodPost)
	api.HandleFunc("/auth/profile", authH.GetProfile).Methods(http.MethodGet)

	api.Handle("/carriers", can(models.ActionViewFleet, fleet.ListCarriers)).Methods(http.MethodGet)
	api.Handle("/carriers", adminOnly(http.HandlerFunc(fleet.CreateCarrier))).Methods(http.MethodPost)
	api.Handle("/carriers/{id}", adminOnly(http.HandlerFunc(fleet.DeleteCarrier))).Methods(http.MethodDelete)

	api.Handle("/vehicles", can(models.ActionViewFleet, fleet.ListVehicles)).Methods(http.MethodGet)
	api.Handle("/vehicles", can(models.ActionManageVehicles, fleet.CreateVehicle)).Methods(http.MethodPost)
	api.Handle("/vehicles/{id}", can(models.ActionManageVehicles, fleet.UpdateVehicle)).Methods(http.MethodPatch)
	api.Handle("/vehicles/{id}", can(models.ActionManageVehicles, fleet.DeleteVehicle)).Methods(http.MethodDelete)

	api.Handle("/drivers", can(models.ActionViewFleet, fleet.ListDrivers)).Methods(http.MethodGet)
	api.Handle("/drivers/{id}", can(models.ActionViewFleet, fleet.GetDriver)).Methods(http.MethodGet)
	api.Handle("/drivers/{id}", can(models.ActionManageDrivers, fleet.UpdateDriver)).Methods(http.MethodPatch)
	api.Handle("/drivers/{id}", can(models.ActionManageDrivers, fleet.DeleteDriver)).Methods(http.MethodDelete)

	api.Handle("/trips", can(models.ActionViewTrips, fleet.ListTrips)).Methods(http.MethodGet)
	api.Handle("/trips", can(models.ActionStartTrip, fleet.StartTrip)).Methods(http.MethodPost)
	api.Handle("/trips/{id}/complete", can(models.ActionCompleteTrip, fleet.CompleteTrip)).Methods(http.MethodPatch)

	api.Handle("/analytics/trips", can(models.ActionViewAnalytics, analytics.TripsChart)).Methods(http.MethodGet)
	api.Handle("/analytics/fuel", can(models.ActionViewAnalytics, analytics.FuelChart)).Methods(http.MethodGet)
	api.Handle("/analytics/drivers", can(models.ActionViewAnalytics, analytics.DriverMetrics)).Methods(http.MethodGet)
	api.Handle("/analytics/efficiency", can(models.ActionViewAnalytics, analytics.Efficiency)).Methods(http.MethodGet)
	api.Handle("/analytics/leaderboard", can(models.ActionViewAnalytics, analytics.Leaderboard)).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found.")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return r
}

// Health reports liveness.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
