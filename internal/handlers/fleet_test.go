package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/fleet-insights/internal/auth"
	"github.com/ukydev/fleet-insights/internal/db"
	"github.com/ukydev/fleet-insights/internal/models"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events [][]string
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, keys ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, append([]string(nil), keys...))
	return p.err
}

func (p *recordingPublisher) published() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]string(nil), p.events...)
}

type fixture struct {
	t      *testing.T
	store  *db.Store
	auth   *auth.Service
	pub    *recordingPublisher
	router http.Handler

	acme, globex models.Carrier
	dana, eli    models.Driver // dana drives for acme, eli for globex
	truck        models.Vehicle
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{t: t, store: db.NewMemoryStore(), auth: newAuthService(t), pub: &recordingPublisher{}}
	f.router = NewRouter(RouterConfig{Store: f.store, Auth: f.auth, Publisher: f.pub, Logger: testLogger()})

	var err error
	f.acme, err = f.store.Carriers.InsertCarrier(ctx, models.Carrier{Name: "Acme", MainOfficeAddress: "1 Main St"})
	require.NoError(t, err)
	f.globex, err = f.store.Carriers.InsertCarrier(ctx, models.Carrier{Name: "Globex", MainOfficeAddress: "9 Side Rd"})
	require.NoError(t, err)
	f.dana, err = f.store.Drivers.InsertDriver(ctx, models.Driver{Username: "dana", FullName: "Dana Reyes", Role: models.DriverRoleDriver, CarrierID: f.acme.ID})
	require.NoError(t, err)
	f.eli, err = f.store.Drivers.InsertDriver(ctx, models.Driver{Username: "eli", FullName: "Eli Park", Role: models.DriverRoleDriver, CarrierID: f.globex.ID})
	require.NoError(t, err)
	f.truck, err = f.store.Vehicles.InsertVehicle(ctx, models.Vehicle{VehicleNumber: "T-100", LicensePlate: "ABC123", State: "TX", CarrierID: f.acme.ID})
	require.NoError(t, err)
	return f
}

func (f *fixture) token(role models.Role, carrier *primitive.ObjectID, driver *primitive.ObjectID) string {
	f.t.Helper()
	token, err := f.auth.GenerateToken(&models.User{
		ID:        primitive.NewObjectID(),
		Username:  string(role),
		Role:      role,
		CarrierID: carrier,
		DriverID:  driver,
	})
	require.NoError(f.t, err)
	return token
}

func (f *fixture) admin() string   { return f.token(models.RoleAdmin, nil, nil) }
func (f *fixture) manager() string { return f.token(models.RoleManager, &f.acme.ID, nil) }
func (f *fixture) driver() string  { return f.token(models.RoleDriver, &f.acme.ID, &f.dana.ID) }

func (f *fixture) do(method, path, token, body string) *httptest.ResponseRecorder {
	f.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestCarriers(t *testing.T) {
	t.Run("admin creates carrier", func(t *testing.T) {
		f := newFixture(t)
		w := f.do("POST", "/api/carriers", f.admin(), `{"name":"  Initech ","main_office_address":"4 Loop"}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		c := decode[models.Carrier](t, w)
		assert.Equal(t, "Initech", c.Name)
		assert.False(t, c.ID.IsZero())
		assert.Equal(t, [][]string{{"carriers"}}, f.pub.published())
	})

	t.Run("manager cannot create carriers", func(t *testing.T) {
		f := newFixture(t)
		w := f.do("POST", "/api/carriers", f.manager(), `{"name":"X","main_office_address":"Y"}`)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Empty(t, f.pub.published())
	})

	t.Run("missing fields", func(t *testing.T) {
		f := newFixture(t)
		w := f.do("POST", "/api/carriers", f.admin(), `{"name":""}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
		body := decode[errorBody](t, w)
		assert.Equal(t, "Name is required", body.Fields["name"])
		assert.Equal(t, "Main office address is required", body.Fields["main_office_address"])
	})

	t.Run("duplicate name", func(t *testing.T) {
		f := newFixture(t)
		w := f.do("POST", "/api/carriers", f.admin(), `{"name":"acme","main_office_address":"elsewhere"}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decode[errorBody](t, w).Fields, "name")
	})

	t.Run("manager lists own carrier only", func(t *testing.T) {
		f := newFixture(t)
		w := f.do("GET", "/api/carriers", f.manager(), "")
		require.Equal(t, http.StatusOK, w.Code)
		carriers := decode[[]models.Carrier](t, w)
		require.Len(t, carriers, 1)
		assert.Equal(t, "Acme", carriers[0].Name)

		w = f.do("GET", "/api/carriers", f.admin(), "")
		assert.Len(t, decode[[]models.Carrier](t, w), 2)
	})

	t.Run("delete refuses carrier with records", func(t *testing.T) {
		f := newFixture(t)
		w := f.do("DELETE", "/api/carriers/"+f.acme.ID.Hex(), f.admin(), "")
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, decode[errorBody](t, w).Detail, "1 vehicle(s) and 1 driver(s)")
	})

	t.Run("delete empty carrier", func(t *testing.T) {
		f := newFixture(t)
		empty, err := f.store.Carriers.InsertCarrier(context.Background(), models.Carrier{Name: "Empty", MainOfficeAddress: "0"})
		require.NoError(t, err)

		w := f.do("DELETE", "/api/carriers/"+empty.ID.Hex(), f.admin(), "")
		assert.Equal(t, http.StatusNoContent, w.Code)
		w = f.do("DELETE", "/api/carriers/"+empty.ID.Hex(), f.admin(), "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		f := newFixture(t)
		assert.Equal(t, http.StatusUnauthorized, f.do("GET", "/api/carriers", "", "").Code)
	})
}

func TestVehicles(t *testing.T) {
	t.Run("create validates state", func(t *testing.T) {
		f := newFixture(t)
		w := f.do("POST", "/api/vehicles", f.manager(),
			`{"vehicle_number":"T-2","license_plate":"P2","state":"Texas","carrier":"`+f.acme.ID.Hex()+`"}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "State must be a 2-letter code", decode[errorBody](t, w).Fields["state"])
	})

	t.Run("create normalizes state", func(t *testing.T) {
		f := newFixture(t)
		w := f.do("POST", "/api/vehicles", f.manager(),
			`{"vehicle_number":"T-2","license_plate":"P2","state":"ok","carrier":"`+f.acme.ID.Hex()+`"}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		assert.Equal(t, "OK", decode[models.Vehicle](t, w).State)
		assert.Equal(t, [][]string{{"vehicles"}}, f.pub.published())
	})

	t.Run("manager cannot create for another carrier", func(t *testing.T) {
		f := newFixture(t)
		w := f.do("POST", "/api/vehicles", f.manager(),
			`{"vehicle_number":"G-1","license_plate":"G1","state":"CA","carrier":"`+f.globex.ID.Hex()+`"}`)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("duplicate number", func(t *testing.T) {
		f := newFixture(t)
		w := f.do("POST", "/api/vehicles", f.admin(),
			`{"vehicle_number":"T-100","license_plate":"X","state":"CA","carrier":"`+f.acme.ID.Hex()+`"}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decode[errorBody](t, w).Fields, "vehicle_number")
	})

	t.Run("assign and unassign driver", func(t *testing.T) {
		f := newFixture(t)
		path := "/api/vehicles/" + f.truck.ID.Hex()

		w := f.do("PATCH", path, f.manager(), `{"assigned_driver":"`+f.dana.ID.Hex()+`"}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		v := decode[models.Vehicle](t, w)
		require.NotNil(t, v.AssignedDriverID)
		assert.Equal(t, f.dana.ID, *v.AssignedDriverID)
		assert.Equal(t, "Dana Reyes", v.AssignedDriverName)

		list := decode[[]models.Vehicle](t, f.do("GET", "/api/vehicles", f.manager(), ""))
		require.Len(t, list, 1)
		assert.Equal(t, "Dana Reyes", list[0].AssignedDriverName)

		w = f.do("PATCH", path, f.manager(), `{"assigned_driver":null}`)
		require.Equal(t, http.StatusOK, w.Code)

		list = decode[[]models.Vehicle](t, f.do("GET", "/api/vehicles", f.manager(), ""))
		require.Len(t, list, 1)
		assert.Nil(t, list[0].AssignedDriverID)
		assert.Empty(t, list[0].AssignedDriverName)
		assert.Equal(t, [][]string{{"vehicles"}, {"vehicles"}}, f.pub.published())
	})

	t.Run("patch without assignment keeps driver", func(t *testing.T) {
		f := newFixture(t)
		path := "/api/vehicles/" + f.truck.ID.Hex()
		require.Equal(t, http.StatusOK, f.do("PATCH", path, f.admin(), `{"assigned_driver":"`+f.dana.ID.Hex()+`"}`).Code)

		w := f.do("PATCH", path, f.admin(), `{"license_plate":"NEW1"}`)
		require.Equal(t, http.StatusOK, w.Code)
		v := decode[models.Vehicle](t, w)
		assert.Equal(t, "NEW1", v.LicensePlate)
		require.NotNil(t, v.AssignedDriverID)
	})

	t.Run("driver from another carrier is rejected", func(t *testing.T) {
		f := newFixture(t)
		w := f.do("PATCH", "/api/vehicles/"+f.truck.ID.Hex(), f.admin(), `{"assigned_driver":"`+f.eli.ID.Hex()+`"}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decode[errorBody](t, w).Fields, "assigned_driver")
		assert.Empty(t, f.pub.published())
	})

	t.Run("other carrier's vehicle is hidden", func(t *testing.T) {
		f := newFixture(t)
		other := f.token(models.RoleManager, &f.globex.ID, nil)
		assert.Equal(t, http.StatusNotFound, f.do("DELETE", "/api/vehicles/"+f.truck.ID.Hex(), other, "").Code)
		assert.Empty(t, decode[[]models.Vehicle](t, f.do("GET", "/api/vehicles", other, "")))
	})

	t.Run("drivers cannot view fleet", func(t *testing.T) {
		f := newFixture(t)
		assert.Equal(t, http.StatusForbidden, f.do("GET", "/api/vehicles", f.driver(), "").Code)
	})

	t.Run("delete", func(t *testing.T) {
		f := newFixture(t)
		assert.Equal(t, http.StatusNoContent, f.do("DELETE", "/api/vehicles/"+f.truck.ID.Hex(), f.manager(), "").Code)
		assert.Empty(t, decode[[]models.Vehicle](t, f.do("GET", "/api/vehicles", f.manager(), "")))
	})
}

func TestDrivers(t *testing.T) {
	t.Run("list fills carrier names", func(t *testing.T) {
		f := newFixture(t)
		drivers := decode[[]models.Driver](t, f.do("GET", "/api/drivers", f.admin(), ""))
		require.Len(t, drivers, 2)
		names := map[string]string{}
		for _, d := range drivers {
			names[d.Username] = d.CarrierName
		}
		assert.Equal(t, map[string]string{"dana": "Acme", "eli": "Globex"}, names)

		drivers = decode[[]models.Driver](t, f.do("GET", "/api/drivers", f.manager(), ""))
		require.Len(t, drivers, 1)
		assert.Equal(t, "dana", drivers[0].Username)
	})

	t.Run("get and patch", func(t *testing.T) {
		f := newFixture(t)
		path := "/api/drivers/" + f.dana.ID.Hex()
		assert.Equal(t, "Acme", decode[models.Driver](t, f.do("GET", path, f.manager(), "")).CarrierName)

		w := f.do("PATCH", path, f.manager(), `{"full_name":"Dana R.","role":"MANAGER"}`)
		require.Equal(t, http.StatusOK, w.Code)
		d := decode[models.Driver](t, w)
		assert.Equal(t, "Dana R.", d.FullName)
		assert.Equal(t, models.DriverRoleManager, d.Role)

		w = f.do("PATCH", path, f.manager(), `{"role":"BOSS"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("other carrier's driver is hidden", func(t *testing.T) {
		f := newFixture(t)
		assert.Equal(t, http.StatusNotFound, f.do("GET", "/api/drivers/"+f.eli.ID.Hex(), f.manager(), "").Code)
		assert.Equal(t, http.StatusNotFound, f.do("GET", "/api/drivers/not-an-id", f.admin(), "").Code)
	})

	t.Run("delete unassigns vehicles", func(t *testing.T) {
		f := newFixture(t)
		require.Equal(t, http.StatusOK, f.do("PATCH", "/api/vehicles/"+f.truck.ID.Hex(), f.admin(), `{"assigned_driver":"`+f.dana.ID.Hex()+`"}`).Code)

		w := f.do("DELETE", "/api/drivers/"+f.dana.ID.Hex(), f.admin(), "")
		require.Equal(t, http.StatusNoContent, w.Code)

		v, err := f.store.Vehicles.FindVehicleByID(context.Background(), f.truck.ID.Hex())
		require.NoError(t, err)
		assert.Nil(t, v.AssignedDriverID)
		events := f.pub.published()
		assert.Equal(t, []string{"drivers", "vehicles"}, events[len(events)-1])
	})
}

func TestTrips(t *testing.T) {
	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	startBody := func(f *fixture) string {
		return `{"vehicle":"` + f.truck.ID.Hex() + `","initial_odometer":1000,"start_time":"` + start.Format(time.RFC3339) +
			`","pickup_location_name":"Dallas","dropoff_location_name":"Austin"}`
	}

	t.Run("driver starts and completes a trip", func(t *testing.T) {
		f := newFixture(t)
		w := f.do("POST", "/api/trips", f.driver(), startBody(f))
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		trip := decode[models.Trip](t, w)
		assert.Equal(t, models.TripInProgress, trip.Status)
		assert.Equal(t, f.acme.ID, trip.CarrierID)
		assert.Equal(t, f.dana.ID, trip.DriverID)
		assert.Equal(t, "Dana Reyes", trip.DriverName)
		assert.Equal(t, "T-100", trip.VehicleNumber)

		path := "/api/trips/" + trip.ID.Hex() + "/complete"
		w = f.do("PATCH", path, f.driver(), `{"final_odometer":900,"fuel_used":5,"end_time":"2024-05-01T10:00:00Z"}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Final odometer must be greater than initial (1000)", decode[errorBody](t, w).Fields["final_odometer"])

		w = f.do("PATCH", path, f.driver(), `{"final_odometer":1120,"fuel_used":12,"end_time":"2024-05-01T10:00:00Z"}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		trip = decode[models.Trip](t, w)
		assert.Equal(t, models.TripCompleted, trip.Status)
		assert.InDelta(t, 120, trip.TotalMiles, 1e-9)
		assert.InDelta(t, 2, trip.TotalEngineHours, 1e-9)

		w = f.do("PATCH", path, f.driver(), `{"final_odometer":1200,"fuel_used":1,"end_time":"2024-05-01T11:00:00Z"}`)
		assert.Equal(t, http.StatusConflict, w.Code)

		assert.Equal(t, [][]string{{"trips", "analytics"}, {"trips", "analytics"}}, f.pub.published())
	})

	t.Run("end before start", func(t *testing.T) {
		f := newFixture(t)
		trip := decode[models.Trip](t, f.do("POST", "/api/trips", f.driver(), startBody(f)))
		w := f.do("PATCH", "/api/trips/"+trip.ID.Hex()+"/complete", f.driver(), `{"final_odometer":1100,"fuel_used":5,"end_time":"2024-05-01T07:00:00Z"}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "End time must be after start time", decode[errorBody](t, w).Fields["end_time"])
	})

	t.Run("manager must name a driver of the vehicle's carrier", func(t *testing.T) {
		f := newFixture(t)
		w := f.do("POST", "/api/trips", f.manager(), startBody(f))
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decode[errorBody](t, w).Fields, "driver")

		body := strings.Replace(startBody(f), `{`, `{"driver":"`+f.eli.ID.Hex()+`",`, 1)
		w = f.do("POST", "/api/trips", f.admin(), body)
		require.Equal(t, http.StatusBadRequest, w.Code)

		body = strings.Replace(startBody(f), `{`, `{"driver":"`+f.dana.ID.Hex()+`",`, 1)
		assert.Equal(t, http.StatusCreated, f.do("POST", "/api/trips", f.manager(), body).Code)
	})

	t.Run("driver cannot start for someone else", func(t *testing.T) {
		f := newFixture(t)
		body := strings.Replace(startBody(f), `{`, `{"driver":"`+f.eli.ID.Hex()+`",`, 1)
		assert.Equal(t, http.StatusForbidden, f.do("POST", "/api/trips", f.driver(), body).Code)
	})

	t.Run("drivers see only their trips", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		_, err := f.store.Trips.InsertTrip(ctx, models.Trip{Status: models.TripCompleted, DriverID: f.dana.ID, CarrierID: f.acme.ID})
		require.NoError(t, err)
		other, err := f.store.Drivers.InsertDriver(ctx, models.Driver{Username: "sam", CarrierID: f.acme.ID})
		require.NoError(t, err)
		_, err = f.store.Trips.InsertTrip(ctx, models.Trip{Status: models.TripInProgress, DriverID: other.ID, CarrierID: f.acme.ID})
		require.NoError(t, err)

		assert.Len(t, decode[[]models.Trip](t, f.do("GET", "/api/trips", f.driver(), "")), 1)
		assert.Len(t, decode[[]models.Trip](t, f.do("GET", "/api/trips", f.manager(), "")), 2)
		assert.Len(t, decode[[]models.Trip](t, f.do("GET", "/api/trips?status=in_progress", f.manager(), "")), 1)
	})
}

func TestHealthAndNotFound(t *testing.T) {
	f := newFixture(t)
	w := f.do("GET", "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = f.do("GET", "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPublishFailureDoesNotFailMutation(t *testing.T) {
	f := newFixture(t)
	f.pub.err = assert.AnError
	w := f.do("POST", "/api/carriers", f.admin(), `{"name":"Initech","main_office_address":"4 Loop"}`)
	assert.Equal(t, http.StatusCreated, w.Code)
}
