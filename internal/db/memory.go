package db

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/fleet-insights/internal/models"
)

// NewMemoryStore returns a Store kept entirely in process memory. It backs
// the server's development mode and the handler tests.
func NewMemoryStore() *Store {
	m := &memory{
		carriers: map[primitive.ObjectID]models.Carrier{},
		vehicles: map[primitive.ObjectID]models.Vehicle{},
		drivers:  map[primitive.ObjectID]models.Driver{},
		trips:    map[primitive.ObjectID]models.Trip{},
		users:    map[primitive.ObjectID]models.User{},
	}
	return &Store{
		Carriers: memCarriers{m},
		Vehicles: memVehicles{m},
		Drivers:  memDrivers{m},
		Trips:    memTrips{m},
		Users:    memUsers{m},
	}
}

type memory struct {
	mu       sync.RWMutex
	carriers map[primitive.ObjectID]models.Carrier
	vehicles map[primitive.ObjectID]models.Vehicle
	drivers  map[primitive.ObjectID]models.Driver
	trips    map[primitive.ObjectID]models.Trip
	users    map[primitive.ObjectID]models.User
}

func (s Scope) matches(carrierID, driverID primitive.ObjectID) bool {
	if !s.CarrierID.IsZero() && s.CarrierID != carrierID {
		return false
	}
	if !s.DriverID.IsZero() && s.DriverID != driverID {
		return false
	}
	return true
}

func lookup[T any](m map[primitive.ObjectID]T, id, what string) (*T, error) {
	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	v, ok := m[oid]
	if !ok {
		return nil, fmt.Errorf("%s %w", what, ErrNotFound)
	}
	return &v, nil
}

func remove[T any](m map[primitive.ObjectID]T, id, what string) error {
	oid, err := ParseID(id)
	if err != nil {
		return err
	}
	if _, ok := m[oid]; !ok {
		return fmt.Errorf("%s %w", what, ErrNotFound)
	}
	delete(m, oid)
	return nil
}

type memCarriers struct{ *memory }

func (m memCarriers) InsertCarrier(_ context.Context, c models.Carrier) (models.Carrier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.carriers {
		if strings.EqualFold(existing.Name, c.Name) {
			return c, fmt.Errorf("carrier: %w", ErrDuplicate)
		}
	}
	c.ID = primitive.NewObjectID()
	c.CreatedAt = time.Now().UTC()
	m.carriers[c.ID] = c
	return c, nil
}

func (m memCarriers) FindCarriers(context.Context) ([]models.Carrier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Carrier, 0, len(m.carriers))
	for _, c := range m.carriers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m memCarriers) FindCarrierByID(_ context.Context, id string) (*models.Carrier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lookup(m.carriers, id, "carrier")
}

func (m memCarriers) DeleteCarrier(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return remove(m.carriers, id, "carrier")
}

type memVehicles struct{ *memory }

func (m memVehicles) InsertVehicle(_ context.Context, v models.Vehicle) (models.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.vehicles {
		if existing.VehicleNumber == v.VehicleNumber {
			return v, fmt.Errorf("vehicle: %w", ErrDuplicate)
		}
	}
	v.ID = primitive.NewObjectID()
	v.CreatedAt = time.Now().UTC()
	m.vehicles[v.ID] = v
	return v, nil
}

func (m memVehicles) FindVehicles(_ context.Context, scope Scope) ([]models.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Vehicle{}
	for _, v := range m.vehicles {
		var assigned primitive.ObjectID
		if v.AssignedDriverID != nil {
			assigned = *v.AssignedDriverID
		}
		if scope.matches(v.CarrierID, assigned) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VehicleNumber < out[j].VehicleNumber })
	return out, nil
}

func (m memVehicles) FindVehicleByID(_ context.Context, id string) (*models.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lookup(m.vehicles, id, "vehicle")
}

func (m memVehicles) UpdateVehicle(_ context.Context, v models.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vehicles[v.ID]; !ok {
		return fmt.Errorf("vehicle %w", ErrNotFound)
	}
	v.AssignedDriverName = ""
	m.vehicles[v.ID] = v
	return nil
}

func (m memVehicles) DeleteVehicle(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return remove(m.vehicles, id, "vehicle")
}

func (m memVehicles) CountVehicles(ctx context.Context, scope Scope) (int64, error) {
	vs, err := m.FindVehicles(ctx, scope)
	return int64(len(vs)), err
}

func (m memVehicles) UnassignDriver(_ context.Context, driverID primitive.ObjectID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, v := range m.vehicles {
		if v.AssignedDriverID != nil && *v.AssignedDriverID == driverID {
			v.AssignedDriverID = nil
			m.vehicles[id] = v
			n++
		}
	}
	return n, nil
}

type memDrivers struct{ *memory }

func (m memDrivers) InsertDriver(_ context.Context, d models.Driver) (models.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = primitive.NewObjectID()
	d.CreatedAt = time.Now().UTC()
	d.CarrierName = ""
	m.drivers[d.ID] = d
	return d, nil
}

func (m memDrivers) FindDrivers(_ context.Context, scope Scope) ([]models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Driver{}
	for _, d := range m.drivers {
		if scope.matches(d.CarrierID, d.ID) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FullName != out[j].FullName {
			return out[i].FullName < out[j].FullName
		}
		return out[i].Username < out[j].Username
	})
	return out, nil
}

func (m memDrivers) FindDriverByID(_ context.Context, id string) (*models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lookup(m.drivers, id, "driver")
}

func (m memDrivers) UpdateDriver(_ context.Context, d models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drivers[d.ID]; !ok {
		return fmt.Errorf("driver %w", ErrNotFound)
	}
	d.CarrierName = ""
	m.drivers[d.ID] = d
	return nil
}

func (m memDrivers) DeleteDriver(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return remove(m.drivers, id, "driver")
}

func (m memDrivers) CountDrivers(ctx context.Context, scope Scope) (int64, error) {
	ds, err := m.FindDrivers(ctx, scope)
	return int64(len(ds)), err
}

type memTrips struct{ *memory }

func (m memTrips) InsertTrip(_ context.Context, t models.Trip) (models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	t.ID = primitive.NewObjectID()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	m.trips[t.ID] = t
	return t, nil
}

func (m memTrips) FindTrips(_ context.Context, scope Scope) ([]models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Trip{}
	for _, t := range m.trips {
		if scope.matches(t.CarrierID, t.DriverID) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m memTrips) FindTripByID(_ context.Context, id string) (*models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lookup(m.trips, id, "trip")
}

func (m memTrips) UpdateTrip(_ context.Context, t models.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[t.ID]; !ok {
		return fmt.Errorf("trip %w", ErrNotFound)
	}
	m.trips[t.ID] = t
	return nil
}

func (m memTrips) CountTrips(ctx context.Context, scope Scope) (int64, error) {
	ts, err := m.FindTrips(ctx, scope)
	return int64(len(ts)), err
}

type memUsers struct{ *memory }

func (m memUsers) InsertUser(_ context.Context, u models.User) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username || (u.Email != "" && existing.Email == u.Email) {
			return u, fmt.Errorf("user: %w", ErrDuplicate)
		}
	}
	now := time.Now().UTC()
	u.ID = primitive.NewObjectID()
	u.CreatedAt = now
	u.UpdatedAt = now
	u.IsActive = true
	m.users[u.ID] = u
	return u, nil
}

func (m memUsers) FindUserByID(_ context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lookup(m.users, id, "user")
}

func (m memUsers) FindUserByUsername(_ context.Context, username string) (*models.User, error) {
	return m.findBy(func(u models.User) bool { return u.Username == username })
}

func (m memUsers) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	return m.findBy(func(u models.User) bool { return u.Email == email })
}

func (m memUsers) findBy(match func(models.User) bool) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if match(u) {
			return &u, nil
		}
	}
	return nil, fmt.Errorf("user %w", ErrNotFound)
}

func (m memUsers) UpdateUser(_ context.Context, u models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return fmt.Errorf("user %w", ErrNotFound)
	}
	u.UpdatedAt = time.Now().UTC()
	m.users[u.ID] = u
	return nil
}

func (m memUsers) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return remove(m.users, id, "user")
}

func (m memUsers) UpdateLastLogin(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := lookup(m.users, id, "user")
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	u.LastLogin = &now
	u.UpdatedAt = now
	m.users[u.ID] = *u
	return nil
}
