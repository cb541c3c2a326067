package mem

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	dbt "drivelog/db/db"
)

type inMemoryFuelDBWrapper struct {
	vehicles map[string]*dbt.VehicleFuelState
	mu       sync.RWMutex
}

// NewInMemoryFuelDBWrapper creates and returns a new instance of inMemoryFuelDBWrapper.
func NewInMemoryFuelDBWrapper() dbt.FuelDBWrapper {
	return &inMemoryFuelDBWrapper{
		vehicles: make(map[string]*dbt.VehicleFuelState),
	}
}

func (db *inMemoryFuelDBWrapper) GetVehicleFuel(ctx context.Context, vehicle string) (*dbt.VehicleFuelState, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	s, ok := db.vehicles[vehicle]
	if !ok {
		return nil, fmt.Errorf("fuel state of vehicle %s: %w", vehicle, dbt.ErrNotFound)
	}
	c := *s
	return &c, nil
}

func (db *inMemoryFuelDBWrapper) CreateVehicleFuel(ctx context.Context, state *dbt.VehicleFuelState) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.vehicles[state.Vehicle]; ok {
		return fmt.Errorf("fuel state of vehicle %s: %w", state.Vehicle, dbt.ErrAlreadyExists)
	}
	c := *state
	c.Version = 1
	c.UpdatedAt = time.Now()
	db.vehicles[state.Vehicle] = &c
	state.Version = c.Version
	return nil
}

func (db *inMemoryFuelDBWrapper) SwapVehicleFuel(ctx context.Context, state *dbt.VehicleFuelState) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	cur, ok := db.vehicles[state.Vehicle]
	if !ok {
		return fmt.Errorf("fuel state of vehicle %s not found for update: %w", state.Vehicle, dbt.ErrNotFound)
	}
	if cur.Version != state.Version {
		return fmt.Errorf("fuel state of vehicle %s at version %d, have %d: %w", state.Vehicle, cur.Version, state.Version, dbt.ErrVersionConflict)
	}
	c := *state
	c.Version = state.Version + 1
	c.UpdatedAt = time.Now()
	db.vehicles[state.Vehicle] = &c
	state.Version = c.Version
	return nil
}

func (db *inMemoryFuelDBWrapper) ListVehicleFuel(ctx context.Context) ([]dbt.VehicleFuelState, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	out := make([]dbt.VehicleFuelState, 0, len(db.vehicles))
	for _, s := range db.vehicles {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Vehicle < out[j].Vehicle })
	return out, nil
}
