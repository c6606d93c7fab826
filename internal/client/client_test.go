package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/fleet-insights/internal/auth"
	"github.com/ukydev/fleet-insights/internal/db"
	"github.com/ukydev/fleet-insights/internal/events"
	"github.com/ukydev/fleet-insights/internal/handlers"
	"github.com/ukydev/fleet-insights/internal/models"
)

func quiet() log.FieldLogger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

// apiServer runs the real router over a memory store and returns a client
// logged in as admin.
func apiServer(t *testing.T) (*Client, *db.Store) {
	t.Helper()
	store := db.NewMemoryStore()
	authService, err := auth.NewService("test-secret", time.Hour)
	require.NoError(t, err)

	srv := httptest.NewServer(handlers.NewRouter(handlers.RouterConfig{Store: store, Auth: authService, Logger: quiet()}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, WithLogger(quiet()))
	_, err = c.Register(context.Background(), models.RegisterRequest{
		Username: "admin", Email: "admin@example.com", Password: "password123", Role: models.RoleAdmin,
	})
	require.NoError(t, err)
	return c, store
}

func TestDetail(t *testing.T) {
	assert.Equal(t, "Boom", Detail(&APIError{Status: 400, Detail: "Boom"}, "fallback"))
	assert.Equal(t, "fallback", Detail(&APIError{Status: 500}, "fallback"))
	assert.Equal(t, "fallback", Detail(errors.New("network down"), "fallback"))
	wrapped := errors.Join(errors.New("ctx"), &APIError{Status: 409, Detail: "Conflict"})
	assert.Equal(t, "Conflict", Detail(wrapped, "fallback"))
}

func TestClient_CarrierLifecycle(t *testing.T) {
	c, _ := apiServer(t)
	ctx := context.Background()

	carriers, err := c.Carriers(ctx)
	require.NoError(t, err)
	assert.Empty(t, carriers)

	created, err := c.CreateCarrier(ctx, models.CarrierInput{Name: "Acme", MainOfficeAddress: "1 Main"})
	require.NoError(t, err)

	carriers, err = c.Carriers(ctx)
	require.NoError(t, err)
	require.Len(t, carriers, 1, "create must invalidate the carriers key")
	assert.Equal(t, created.ID, carriers[0].ID)

	_, err = c.CreateCarrier(ctx, models.CarrierInput{Name: ""})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "Name is required", FieldErrors(err)["name"])

	require.NoError(t, c.DeleteCarrier(ctx, created.ID.Hex()))
	carriers, err = c.Carriers(ctx)
	require.NoError(t, err)
	assert.Empty(t, carriers)
}

func TestClient_AssignToNullThenRefetch(t *testing.T) {
	c, store := apiServer(t)
	ctx := context.Background()

	carrier, err := c.CreateCarrier(ctx, models.CarrierInput{Name: "Acme", MainOfficeAddress: "1 Main"})
	require.NoError(t, err)
	vehicle, err := c.CreateVehicle(ctx, models.VehicleInput{VehicleNumber: "V", LicensePlate: "P", State: "tx", CarrierID: carrier.ID.Hex()})
	require.NoError(t, err)
	driver, err := store.Drivers.InsertDriver(ctx, models.Driver{Username: "dana", FullName: "Dana", CarrierID: carrier.ID})
	require.NoError(t, err)

	id := driver.ID.Hex()
	_, err = c.AssignDriver(ctx, vehicle.ID.Hex(), &id)
	require.NoError(t, err)
	vehicles, err := c.Vehicles(ctx)
	require.NoError(t, err)
	require.NotNil(t, vehicles[0].AssignedDriverID)
	assert.Equal(t, "Dana", vehicles[0].AssignedDriverName)

	_, err = c.AssignDriver(ctx, vehicle.ID.Hex(), nil)
	require.NoError(t, err)
	vehicles, err = c.Vehicles(ctx)
	require.NoError(t, err)
	assert.Nil(t, vehicles[0].AssignedDriverID)
}

func TestClient_CachesWithinStaleTime(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := New(srv.URL, WithLogger(quiet()))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := c.Drivers(ctx)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	c.Invalidate(events.KeyDrivers)
	_, err := c.Drivers(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))

	// trips are never fresh
	for i := 0; i < 2; i++ {
		_, err := c.Trips(ctx, "")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 4, atomic.LoadInt32(&calls))
}

func TestClient_NormalizesTripDriver(t *testing.T) {
	driverID := primitive.NewObjectID()
	vehicleID := primitive.NewObjectID()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := []map[string]any{
			{"id": primitive.NewObjectID().Hex(), "status": "COMPLETED", "driver": driverID.Hex(), "vehicle_id": vehicleID.Hex(), "driver_name": "Dana"},
			{"id": primitive.NewObjectID().Hex(), "status": "COMPLETED", "driver": map[string]any{"id": driverID.Hex(), "full_name": "Dana Reyes"},
				"vehicle": map[string]any{"id": vehicleID.Hex(), "vehicle_number": "T-1"}},
			{"id": primitive.NewObjectID().Hex(), "status": "IN_PROGRESS", "driver": nil},
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
	defer srv.Close()

	trips, err := New(srv.URL, WithLogger(quiet())).Trips(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, trips, 3)

	assert.Equal(t, driverID, trips[0].DriverID)
	assert.Equal(t, "Dana", trips[0].DriverName)
	assert.Equal(t, vehicleID, trips[0].VehicleID)

	assert.Equal(t, driverID, trips[1].DriverID)
	assert.Equal(t, "Dana Reyes", trips[1].DriverName)
	assert.Equal(t, vehicleID, trips[1].VehicleID)
	assert.Equal(t, "T-1", trips[1].VehicleNumber)

	assert.True(t, trips[2].DriverID.IsZero())
}

func TestClient_BadDriverRefIsDropped(t *testing.T) {
	good := primitive.NewObjectID()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, `[{"status":"COMPLETED","driver":%q},{"driver":"legacy-7"},{"driver":7},{"driver":null}]`, good.Hex())
	}))
	defer srv.Close()

	trips, err := New(srv.URL, WithLogger(quiet())).Trips(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, trips, 2)
	assert.Equal(t, good, trips[0].DriverID)
	assert.True(t, trips[1].DriverID.IsZero())
}

func TestClient_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := New(srv.URL, WithLogger(quiet())).Health(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "Failed to load.", Detail(err, "Failed to load."))
}

type fakeSubscriber struct{ fn func(events.InvalidationEvent) }

func (f *fakeSubscriber) Subscribe(fn func(events.InvalidationEvent)) error {
	f.fn = fn
	return nil
}

func TestClient_Listen(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := New(srv.URL, WithLogger(quiet()))
	sub := &fakeSubscriber{}
	require.NoError(t, c.Listen(sub))

	ctx := context.Background()
	_, _ = c.Vehicles(ctx)
	_, _ = c.Vehicles(ctx)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	sub.fn(events.InvalidationEvent{Keys: []string{events.KeyVehicles}})
	_, _ = c.Vehicles(ctx)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestClient_Analytics(t *testing.T) {
	c, store := apiServer(t)
	ctx := context.Background()

	carrier, err := c.CreateCarrier(ctx, models.CarrierInput{Name: "Acme", MainOfficeAddress: "1 Main"})
	require.NoError(t, err)
	now := time.Now().UTC()
	_, err = store.Trips.InsertTrip(ctx, models.Trip{
		Status: models.TripCompleted, DriverID: primitive.NewObjectID(), DriverName: "Dana", CarrierID: carrier.ID,
		FuelUsed: 4, TotalMiles: 40, TotalEngineHours: 2, StartTime: now, CreatedAt: now,
	})
	require.NoError(t, err)

	fuel, err := c.FuelChart(ctx, "7d")
	require.NoError(t, err)
	assert.InDelta(t, 4, fuel.Frame.Total(), 1e-9)

	eff, err := c.Efficiency(ctx, "")
	require.NoError(t, err)
	require.Len(t, eff.Carriers, 1)
	assert.InDelta(t, 10, eff.Carriers[0].FuelEfficiency, 1e-9)

	lb, err := c.Leaderboard(ctx, "", 3)
	require.NoError(t, err)
	require.Len(t, lb.Carriers, 1)
	assert.Equal(t, "Dana", lb.Carriers[0].Drivers[0].Label)

	_, err = c.FuelChart(ctx, "2y")
	assert.Error(t, err)
}

func TestClient_LeaderboardLimit(t *testing.T) {
	c, store := apiServer(t)
	ctx := context.Background()

	carrier, err := c.CreateCarrier(ctx, models.CarrierInput{Name: "Acme", MainOfficeAddress: "1 Main"})
	require.NoError(t, err)
	now := time.Now().UTC()
	for i := 0; i < 7; i++ {
		_, err = store.Trips.InsertTrip(ctx, models.Trip{
			Status: models.TripCompleted, DriverID: primitive.NewObjectID(), DriverName: fmt.Sprintf("Driver %d", i),
			CarrierID: carrier.ID, FuelUsed: 2, TotalMiles: float64(10 + i), TotalEngineHours: 1, StartTime: now, CreatedAt: now,
		})
		require.NoError(t, err)
	}

	all, err := c.Leaderboard(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all.Carriers, 1)
	assert.Len(t, all.Carriers[0].Drivers, 7)

	def, err := c.Leaderboard(ctx, "", -1)
	require.NoError(t, err)
	require.Len(t, def.Carriers, 1)
	assert.Len(t, def.Carriers[0].Drivers, 5)
}

func TestClient_ImportsNoServerPackages(t *testing.T) {
	files, err := filepath.Glob("*.go")
	require.NoError(t, err)
	fset := token.NewFileSet()
	for _, name := range files {
		if strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, name, nil, parser.ImportsOnly)
		require.NoError(t, err)
		for _, imp := range f.Imports {
			path := strings.Trim(imp.Path.Value, `"`)
			assert.NotContains(t, path, "/internal/handlers", name)
			assert.NotContains(t, path, "/internal/db", name)
		}
	}
}
