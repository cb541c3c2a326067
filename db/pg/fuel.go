package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbt "drivelog/db/db"
)

// GORMFuelDBWrapper is a GORM-based PostgreSQL implementation of dbt.FuelDBWrapper.
type GORMFuelDBWrapper struct {
	db *gorm.DB
}

// NewGORMFuelDBWrapper creates and returns a new instance of GORMFuelDBWrapper.
func NewGORMFuelDBWrapper(db *gorm.DB) dbt.FuelDBWrapper {
	return &GORMFuelDBWrapper{
		db: db,
	}
}

func decimalOf(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func (pgdb *GORMFuelDBWrapper) GetVehicleFuel(ctx context.Context, vehicle string) (*dbt.VehicleFuelState, error) {
	var m VehicleFuelModel
	result := pgdb.db.WithContext(ctx).First(&m, "vehicle = ?", vehicle)
	if result.Error != nil {
		return nil, notFound(result.Error, fmt.Sprintf("fuel state of vehicle %s", vehicle))
	}
	return m.toState(), nil
}

func (pgdb *GORMFuelDBWrapper) CreateVehicleFuel(ctx context.Context, state *dbt.VehicleFuelState) error {
	m := VehicleFuelModel{
		Vehicle:             state.Vehicle,
		TankCapacity:        state.TankCapacity,
		CurrentFuel:         state.CurrentFuel,
		FuelCostInTank:      decimalOf(state.FuelCostInTank),
		ConsumptionPer100Km: state.ConsumptionPer100Km,
		Version:             1,
	}
	result := pgdb.db.WithContext(ctx).Create(&m)
	if result.Error != nil {
		if isDuplicate(result.Error) {
			return fmt.Errorf("fuel state of vehicle %s: %w", state.Vehicle, dbt.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create fuel state of vehicle %s: %w", state.Vehicle, result.Error)
	}
	state.Version = m.Version
	state.UpdatedAt = m.UpdatedAt
	return nil
}

// SwapVehicleFuel is a compare-and-swap on the version column.
func (pgdb *GORMFuelDBWrapper) SwapVehicleFuel(ctx context.Context, state *dbt.VehicleFuelState) error {
	result := pgdb.db.WithContext(ctx).Model(&VehicleFuelModel{}).
		Where("vehicle = ? AND version = ?", state.Vehicle, state.Version).
		Updates(map[string]any{
			"tank_capacity":         state.TankCapacity,
			"current_fuel":          state.CurrentFuel,
			"fuel_cost_in_tank":     decimalOf(state.FuelCostInTank),
			"consumption_per_100km": state.ConsumptionPer100Km,
			"version":               gorm.Expr("version + 1"),
			"updated_at":            time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update fuel state of vehicle %s: %w", state.Vehicle, result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := pgdb.GetVehicleFuel(ctx, state.Vehicle); err != nil {
			return fmt.Errorf("fuel state of vehicle %s not found for update: %w", state.Vehicle, err)
		}
		return fmt.Errorf("fuel state of vehicle %s changed since version %d: %w", state.Vehicle, state.Version, dbt.ErrVersionConflict)
	}
	state.Version++
	state.UpdatedAt = time.Now().UTC()
	return nil
}

func (pgdb *GORMFuelDBWrapper) ListVehicleFuel(ctx context.Context) ([]dbt.VehicleFuelState, error) {
	var models []VehicleFuelModel
	if result := pgdb.db.WithContext(ctx).Order("vehicle ASC").Find(&models); result.Error != nil {
		return nil, fmt.Errorf("failed to list fuel states: %w", result.Error)
	}
	out := make([]dbt.VehicleFuelState, 0, len(models))
	for _, m := range models {
		out = append(out, *m.toState())
	}
	return out, nil
}
