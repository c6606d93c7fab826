package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-insights/internal/client"
	"github.com/ukydev/fleet-insights/internal/config"
	"github.com/ukydev/fleet-insights/internal/logger"
	"github.com/ukydev/fleet-insights/internal/models"
)

// City is a pickup or dropoff point.
type City struct {
	Name     string
	State    string
	Location models.Location
}

// Freight hubs for realistic lanes
var cities = []City{
	{"Dallas", "TX", models.Location{Lat: 32.7767, Lon: -96.7970}},
	{"Houston", "TX", models.Location{Lat: 29.7604, Lon: -95.3698}},
	{"Austin", "TX", models.Location{Lat: 30.2672, Lon: -97.7431}},
	{"Oklahoma City", "OK", models.Location{Lat: 35.4676, Lon: -97.5164}},
	{"Memphis", "TN", models.Location{Lat: 35.1495, Lon: -90.0490}},
	{"Atlanta", "GA", models.Location{Lat: 33.7490, Lon: -84.3880}},
	{"Chicago", "IL", models.Location{Lat: 41.8781, Lon: -87.6298}},
	{"Indianapolis", "IN", models.Location{Lat: 39.7684, Lon: -86.1581}},
	{"Kansas City", "MO", models.Location{Lat: 39.0997, Lon: -94.5786}},
	{"Denver", "CO", models.Location{Lat: 39.7392, Lon: -104.9903}},
	{"Phoenix", "AZ", models.Location{Lat: 33.4484, Lon: -112.0740}},
	{"Los Angeles", "CA", models.Location{Lat: 34.0522, Lon: -118.2437}},
}

var firstNames = []string{"Dana", "Eli", "Maya", "Sam", "Rosa", "Jon", "Priya", "Luis", "Ada", "Ken"}
var lastNames = []string{"Reyes", "Okafor", "Nguyen", "Smith", "Kowalski", "Haddad", "Silva", "Park"}

// settings control the size and pace of the simulated fleet.
type settings struct {
	Carriers           int
	DriversPerCarrier  int
	VehiclesPerCarrier int
	Tick               time.Duration
	Backfill           time.Duration
	MaxTrips           int
}

func loadSettings() (settings, error) {
	s := settings{
		Carriers:           2,
		DriversPerCarrier:  3,
		VehiclesPerCarrier: 3,
		Tick:               2 * time.Second,
		Backfill:           30 * 24 * time.Hour,
	}
	var errs []error
	intVar := func(target *int, key string, min int) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < min {
				errs = append(errs, fmt.Errorf("%s: want an integer >= %d, got %q", key, min, v))
				return
			}
			*target = n
		}
	}
	durVar := func(target *time.Duration, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d < 0 {
				errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, v))
				return
			}
			*target = d
		}
	}
	intVar(&s.Carriers, "SIM_CARRIERS", 1)
	intVar(&s.DriversPerCarrier, "SIM_DRIVERS", 1)
	intVar(&s.VehiclesPerCarrier, "SIM_VEHICLES", 1)
	intVar(&s.MaxTrips, "SIM_TRIPS", 0)
	durVar(&s.Tick, "SIM_TICK")
	durVar(&s.Backfill, "SIM_BACKFILL")
	if s.Tick == 0 {
		errs = append(errs, errors.New("SIM_TICK must be > 0"))
	}
	return s, errors.Join(errs...)
}

func haversineKm(a, b models.Location) float64 {
	const r = 6371.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	s := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return r * 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
}

// roadMiles converts a great-circle distance to driven miles.
func roadMiles(a, b models.Location) float64 {
	return haversineKm(a, b) * 0.621371 * 1.2
}

// driverState is one simulated driver with their own session.
type driverState struct {
	ID        string
	Name      string
	VehicleID string
	api       *client.Client
	odometer  float64
	mpg       float64
	clock     time.Time
	at        City
	open      *models.Trip
}

type simulator struct {
	cfg       settings
	admin     *client.Client
	newClient func() *client.Client
	rng       *rand.Rand
	now       func() time.Time
	logger    log.FieldLogger

	drivers   []*driverState
	completed int
}

func (s *simulator) pick(list []string) string { return list[s.rng.Intn(len(list))] }

func (s *simulator) city() City { return cities[s.rng.Intn(len(cities))] }

func shortID() string { return strings.Split(uuid.NewString(), "-")[0] }

// seed creates carriers, registers their drivers, adds vehicles and assigns
// one driver per vehicle.
func (s *simulator) seed(ctx context.Context) error {
	start := s.now().Add(-s.cfg.Backfill)
	for i := 0; i < s.cfg.Carriers; i++ {
		hub := s.city()
		carrier, err := s.admin.CreateCarrier(ctx, models.CarrierInput{
			Name:              fmt.Sprintf("%s Freight %s", hub.Name, shortID()),
			MainOfficeAddress: fmt.Sprintf("%d Commerce St, %s, %s", 100+s.rng.Intn(9000), hub.Name, hub.State),
		})
		if err != nil {
			return fmt.Errorf("create carrier: %w", err)
		}

		var drivers []*driverState
		for d := 0; d < s.cfg.DriversPerCarrier; d++ {
			ds, err := s.registerDriver(ctx, carrier, hub, start)
			if err != nil {
				return err
			}
			drivers = append(drivers, ds)
		}

		for v := 0; v < s.cfg.VehiclesPerCarrier; v++ {
			vehicle, err := s.admin.CreateVehicle(ctx, models.VehicleInput{
				VehicleNumber: "SIM-" + strings.ToUpper(shortID()),
				LicensePlate:  fmt.Sprintf("%c%c%c%04d", 'A'+s.rng.Intn(26), 'A'+s.rng.Intn(26), 'A'+s.rng.Intn(26), s.rng.Intn(10000)),
				State:         hub.State,
				CarrierID:     carrier.ID.Hex(),
			})
			if err != nil {
				return fmt.Errorf("create vehicle: %w", err)
			}
			if v >= len(drivers) {
				continue
			}
			if _, err := s.admin.AssignDriver(ctx, vehicle.ID.Hex(), &drivers[v].ID); err != nil {
				return fmt.Errorf("assign vehicle: %w", err)
			}
			drivers[v].VehicleID = vehicle.ID.Hex()
			drivers[v].odometer = 20000 + float64(s.rng.Intn(200000))
		}

		for _, d := range drivers {
			if d.VehicleID != "" {
				s.drivers = append(s.drivers, d)
			}
		}
		s.logger.WithFields(log.Fields{"carrier": carrier.Name, "drivers": len(drivers)}).Info("Seeded carrier")
	}
	if len(s.drivers) == 0 {
		return errors.New("no driver has a vehicle")
	}
	return nil
}

func (s *simulator) registerDriver(ctx context.Context, carrier models.Carrier, hub City, clock time.Time) (*driverState, error) {
	first, last := s.pick(firstNames), s.pick(lastNames)
	username := "sim-" + shortID()
	api := s.newClient()
	resp, err := api.Register(ctx, models.RegisterRequest{
		Username:      username,
		Email:         username + "@sim.fleet.local",
		Password:      uuid.NewString(),
		FirstName:     first,
		LastName:      last,
		Role:          models.RoleDriver,
		CarrierID:     carrier.ID.Hex(),
		LicenseNumber: "CDL-" + strings.ToUpper(shortID()),
	})
	if err != nil {
		return nil, fmt.Errorf("register driver: %w", err)
	}
	if resp.User.DriverID == nil {
		return nil, fmt.Errorf("register driver %s: no driver record", username)
	}
	return &driverState{
		ID:    resp.User.DriverID.Hex(),
		Name:  first + " " + last,
		api:   api,
		mpg:   5.5 + s.rng.Float64()*2.5,
		clock: clock.Add(time.Duration(s.rng.Intn(12)) * time.Hour),
		at:    hub,
	}, nil
}

// step advances every driver once: idle drivers start a trip, drivers on a
// trip complete it. Drivers whose clock is ahead of now keep resting.
func (s *simulator) step(ctx context.Context) error {
	now := s.now()
	for _, d := range s.drivers {
		if s.cfg.MaxTrips > 0 && s.completed >= s.cfg.MaxTrips {
			return nil
		}
		var err error
		switch {
		case d.open != nil:
			err = s.complete(ctx, d)
		case !d.clock.After(now):
			err = s.start(ctx, d)
		}
		if err != nil {
			s.logger.WithError(err).WithField("driver", d.Name).Warn("Simulation step failed")
		}
	}
	return nil
}

func (s *simulator) start(ctx context.Context, d *driverState) error {
	dest := s.city()
	for dest.Name == d.at.Name {
		dest = s.city()
	}
	trip, err := d.api.StartTrip(ctx, models.TripStart{
		VehicleID:           d.VehicleID,
		InitialOdometer:     math.Round(d.odometer),
		StartTime:           d.clock,
		PickupLocationName:  d.at.Name + ", " + d.at.State,
		DropoffLocationName: dest.Name + ", " + dest.State,
		PickupLocation:      &d.at.Location,
		DropoffLocation:     &dest.Location,
	})
	if err != nil {
		return fmt.Errorf("start trip: %s: %w", client.Detail(err, "request failed"), err)
	}
	d.open = &trip
	d.at = dest
	s.logger.WithFields(log.Fields{"driver": d.Name, "to": trip.DropoffLocationName}).Debug("Trip started")
	return nil
}

func (s *simulator) complete(ctx context.Context, d *driverState) error {
	trip := d.open
	miles := 25.0
	if trip.PickupLocation != nil && trip.DropoffLocation != nil {
		miles = math.Max(miles, roadMiles(*trip.PickupLocation, *trip.DropoffLocation))
	}
	mph := 45 + s.rng.Float64()*20
	hours := miles / mph
	end := trip.StartTime.Add(time.Duration(hours * float64(time.Hour)))
	fuel := miles / (d.mpg * (0.9 + s.rng.Float64()*0.2))

	done, err := d.api.CompleteTrip(ctx, trip.ID.Hex(), models.TripCompletion{
		FinalOdometer: math.Round(trip.InitialOdometer + miles),
		FuelUsed:      math.Round(fuel*10) / 10,
		EndTime:       end,
	})
	if err != nil {
		// give up on this trip; the driver starts fresh next tick
		d.open = nil
		return fmt.Errorf("complete trip: %s: %w", client.Detail(err, "request failed"), err)
	}
	d.open = nil
	d.odometer = done.FinalOdometer
	d.clock = end.Add(time.Duration(1+s.rng.Intn(10)) * time.Hour)
	s.completed++
	s.logger.WithFields(log.Fields{
		"driver": d.Name,
		"miles":  done.TotalMiles,
		"fuel":   done.FuelUsed,
	}).Info("Trip completed")
	return nil
}

func (s *simulator) run(ctx context.Context) error {
	if err := s.seed(ctx); err != nil {
		return err
	}
	s.logger.WithField("drivers", len(s.drivers)).Info("Fleet simulation started")

	tick := time.NewTicker(s.cfg.Tick)
	defer tick.Stop()
	for {
		if err := s.step(ctx); err != nil {
			return err
		}
		if s.cfg.MaxTrips > 0 && s.completed >= s.cfg.MaxTrips {
			s.logger.WithField("trips", s.completed).Info("Simulation finished")
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}

// adminClient logs in with the configured account, or registers a throwaway
// admin when none is configured.
func adminClient(ctx context.Context, cfg config.ClientConfig, opts []client.Option) (*client.Client, error) {
	if cfg.Token != "" {
		return client.New(cfg.APIURL, append(opts, client.WithToken(cfg.Token))...), nil
	}
	api := client.New(cfg.APIURL, opts...)
	switch {
	case cfg.Username != "":
		_, err := api.Login(ctx, cfg.Username, cfg.Password)
		return api, err
	default:
		username := "sim-admin-" + shortID()
		_, err := api.Register(ctx, models.RegisterRequest{
			Username: username,
			Email:    username + "@sim.fleet.local",
			Password: uuid.NewString(),
			Role:     models.RoleAdmin,
		})
		return api, err
	}
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.WithError(err).Fatal("Failed to load .env")
	}
	cfg, err := config.LoadClient()
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}
	sim, err := loadSettings()
	if err != nil {
		log.WithError(err).Fatal("Invalid simulator settings")
	}
	lg := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []client.Option{client.WithLogger(lg)}
	admin, err := adminClient(ctx, cfg, opts)
	if err != nil {
		lg.WithError(err).Fatal("Failed to authenticate")
	}

	lg.WithFields(log.Fields{
		"api_url":  cfg.APIURL,
		"carriers": sim.Carriers,
		"drivers":  sim.DriversPerCarrier,
		"tick":     sim.Tick,
	}).Info("Starting fleet simulation")

	s := &simulator{
		cfg:       sim,
		admin:     admin,
		newClient: func() *client.Client { return client.New(cfg.APIURL, opts...) },
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
		logger:    lg,
	}
	if err := s.run(ctx); err != nil {
		lg.WithError(err).Error("Simulation failed")
		os.Exit(1)
	}
}
