package fuel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"

	"drivelog/config"
	dbt "drivelog/db/db"
	"drivelog/errs"
)

const (
	epsilon         = 1e-9
	maxSwapAttempts = 5
)

// ErrNoFuel is returned by ApplyTrip when the tank is already empty.
var ErrNoFuel = &errs.Error{Kind: errs.Precondition, Op: "fuel", Msg: "No fuel in tank"}

type Level string

const (
	LevelNormal   Level = "normal"
	LevelLow      Level = "low"
	LevelCritical Level = "critical"
)

type Status struct {
	Vehicle                 string  `json:"vehicle"`
	Level                   Level   `json:"level"`
	Percent                 float64 `json:"percentage"`
	CurrentFuel             float64 `json:"current_fuel"`
	TankCapacity            float64 `json:"tank_capacity"`
	LowThresholdLiters      float64 `json:"low_threshold"`
	CriticalThresholdLiters float64 `json:"critical_threshold"`
	Message                 string  `json:"message"`
	Action                  string  `json:"action,omitempty"`
	ShouldWarn              bool    `json:"should_warn"`
}

// UpdateResult describes one ledger mutation.
type UpdateResult struct {
	Vehicle              string  `json:"vehicle"`
	TrackingDisabled     bool    `json:"tracking_disabled,omitempty"`
	DistanceKm           float64 `json:"distance_km,omitempty"`
	FuelConsumedLiters   float64 `json:"fuel_consumed_liters,omitempty"`
	TripFuelCost         float64 `json:"trip_fuel_cost,omitempty"`
	LitersAdded          float64 `json:"liters_added,omitempty"`
	AmountPaid           float64 `json:"amount_paid,omitempty"`
	AveragePricePerLiter float64 `json:"average_price_per_liter"`
	FuelBeforeLiters     float64 `json:"fuel_before_liters"`
	FuelAfterLiters      float64 `json:"fuel_after_liters"`
	FuelCostBefore       float64 `json:"fuel_cost_before"`
	FuelCostAfter        float64 `json:"fuel_cost_after"`
	Status               *Status `json:"fuel_status,omitempty"`
}

// Rate is what the allocation engine needs to price a distance.
type Rate struct {
	Vehicle             string
	ConsumptionPer100Km float64
	PricePerLiter       float64
}

// Liters converts a distance to fuel volume.
func (r Rate) Liters(distanceKm float64) float64 {
	return distanceKm / 100 * r.ConsumptionPer100Km
}

// Cost prices a distance at the blended rate.
func (r Rate) Cost(distanceKm float64) float64 {
	return r.Liters(distanceKm) * r.PricePerLiter
}

// Ledger is the per-vehicle weighted-average fuel ledger.
// Capacity and consumption come from settings, fuel level and blended cost from the store.
// Writers inside one process queue on a per-vehicle mutex; the version check
// in the store covers writers in other processes.
type Ledger struct {
	store    dbt.FuelDBWrapper
	settings config.Provider
	locks    sync.Map // vehicle -> *sync.Mutex
}

func NewLedger(store dbt.FuelDBWrapper, settings config.Provider) *Ledger {
	return &Ledger{store: store, settings: settings}
}

func averagePrice(row *dbt.VehicleFuelState) float64 {
	if row.CurrentFuel <= 0 {
		return 0
	}
	return row.FuelCostInTank / row.CurrentFuel
}

func notFound(vehicle string) error {
	return errs.NotFoundf("fuel", "Vehicle %s not found", vehicle)
}

// Seed creates ledger rows for configured vehicles that have none yet.
func (l *Ledger) Seed(ctx context.Context) error {
	for _, v := range l.settings.Current().Vehicles {
		_, err := l.store.GetVehicleFuel(ctx, v.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, dbt.ErrNotFound) {
			return fmt.Errorf("failed to read fuel state of %s: %w", v.Name, err)
		}
		if err := l.store.CreateVehicleFuel(ctx, rowFromConfig(v)); err != nil && !errors.Is(err, dbt.ErrAlreadyExists) {
			return fmt.Errorf("failed to seed fuel state of %s: %w", v.Name, err)
		}
	}
	return nil
}

func rowFromConfig(v config.Vehicle) *dbt.VehicleFuelState {
	return &dbt.VehicleFuelState{
		Vehicle:             v.Name,
		TankCapacity:        v.TankCapacity,
		CurrentFuel:         math.Min(v.CurrentFuel, v.TankCapacity),
		FuelCostInTank:      v.FuelCostInTank,
		ConsumptionPer100Km: v.ConsumptionPer100Km,
	}
}

// load merges the configured vehicle with its ledger row, creating the row on first use.
func (l *Ledger) load(ctx context.Context, vehicle string) (config.Vehicle, *dbt.VehicleFuelState, error) {
	cfg, ok := l.settings.Current().Vehicle(vehicle)
	if !ok {
		return config.Vehicle{}, nil, notFound(vehicle)
	}
	row, err := l.store.GetVehicleFuel(ctx, vehicle)
	if errors.Is(err, dbt.ErrNotFound) {
		if err := l.store.CreateVehicleFuel(ctx, rowFromConfig(cfg)); err != nil && !errors.Is(err, dbt.ErrAlreadyExists) {
			return cfg, nil, fmt.Errorf("failed to create fuel state of %s: %w", vehicle, err)
		}
		row, err = l.store.GetVehicleFuel(ctx, vehicle)
	}
	if err != nil {
		return cfg, nil, fmt.Errorf("failed to read fuel state of %s: %w", vehicle, err)
	}
	row.TankCapacity = cfg.TankCapacity
	row.ConsumptionPer100Km = cfg.ConsumptionPer100Km
	return cfg, row, nil
}

// mutate is a compare-and-swap loop over one vehicle row.
func (l *Ledger) mutate(ctx context.Context, vehicle string, fn func(row *dbt.VehicleFuelState) error) (*dbt.VehicleFuelState, error) {
	mu, _ := l.locks.LoadOrStore(vehicle, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		_, row, err := l.load(ctx, vehicle)
		if err != nil {
			return nil, err
		}
		if err := fn(row); err != nil {
			return nil, err
		}
		err = l.store.SwapVehicleFuel(ctx, row)
		if err == nil {
			return row, nil
		}
		if !errors.Is(err, dbt.ErrVersionConflict) {
			return nil, fmt.Errorf("failed to store fuel state of %s: %w", vehicle, err)
		}
		log.Printf("fuel ledger of %s changed concurrently, retrying (%d)", vehicle, attempt+1)
	}
	return nil, errs.Integrityf("fuel", "fuel ledger of %s kept changing, gave up after %d attempts", vehicle, maxSwapAttempts)
}

// Consumption returns liters burned over distanceKm. Unknown vehicles burn nothing.
func (l *Ledger) Consumption(ctx context.Context, vehicle string, distanceKm float64) float64 {
	cfg, ok := l.settings.Current().Vehicle(vehicle)
	if !ok {
		log.Printf("warning: consumption requested for unknown vehicle %s", vehicle)
		return 0
	}
	return distanceKm / 100 * cfg.ConsumptionPer100Km
}

func (l *Ledger) AveragePricePerLiter(ctx context.Context, vehicle string) float64 {
	_, row, err := l.load(ctx, vehicle)
	if err != nil {
		log.Printf("warning: average price of %s: %v", vehicle, err)
		return 0
	}
	return averagePrice(row)
}

// Rate snapshots consumption and blended price of vehicle.
func (l *Ledger) Rate(ctx context.Context, vehicle string) (Rate, bool) {
	if vehicle == "" {
		return Rate{}, false
	}
	cfg, row, err := l.load(ctx, vehicle)
	if err != nil {
		log.Printf("warning: fuel rate of %s: %v", vehicle, err)
		return Rate{}, false
	}
	return Rate{Vehicle: vehicle, ConsumptionPer100Km: cfg.ConsumptionPer100Km, PricePerLiter: averagePrice(row)}, true
}

// ApplyTrip burns the fuel for distanceKm at the blended price.
func (l *Ledger) ApplyTrip(ctx context.Context, vehicle string, distanceKm float64) (UpdateResult, error) {
	settings := l.settings.Current()
	if !settings.FuelControl.EnableTracking {
		return UpdateResult{Vehicle: vehicle, TrackingDisabled: true}, nil
	}
	if !finite(distanceKm) || distanceKm < 0 {
		return UpdateResult{}, errs.UserInputf("fuel", "distance must be a non-negative number")
	}

	res := UpdateResult{Vehicle: vehicle, DistanceKm: distanceKm}
	row, err := l.mutate(ctx, vehicle, func(row *dbt.VehicleFuelState) error {
		if row.CurrentFuel <= 0 {
			return ErrNoFuel
		}
		consumed := distanceKm / 100 * row.ConsumptionPer100Km
		avg := averagePrice(row)
		cost := consumed * avg
		if consumed > row.CurrentFuel+epsilon {
			log.Printf("warning: trip of %.1f km needs %.2fL but %s has %.2fL, clamping to empty", distanceKm, consumed, vehicle, row.CurrentFuel)
		}

		res.FuelConsumedLiters = consumed
		res.TripFuelCost = cost
		res.AveragePricePerLiter = avg
		res.FuelBeforeLiters = row.CurrentFuel
		res.FuelCostBefore = row.FuelCostInTank

		row.CurrentFuel = math.Max(0, row.CurrentFuel-consumed)
		row.FuelCostInTank = math.Max(0, row.FuelCostInTank-cost)
		return nil
	})
	if err != nil {
		return UpdateResult{}, err
	}
	res.FuelAfterLiters = row.CurrentFuel
	res.FuelCostAfter = row.FuelCostInTank
	st := classify(row, settings.FuelControl)
	res.Status = &st
	return res, nil
}

// ApplyRefuel adds liters (capped at the tank) and their price to the blended cost.
func (l *Ledger) ApplyRefuel(ctx context.Context, vehicle string, liters, paid float64) (UpdateResult, error) {
	if !finite(liters) || liters <= 0 {
		return UpdateResult{}, errs.UserInputf("fuel", "liters must be positive")
	}
	if !finite(paid) || paid < 0 {
		return UpdateResult{}, errs.UserInputf("fuel", "amount must be a non-negative number")
	}
	settings := l.settings.Current()

	res := UpdateResult{Vehicle: vehicle, LitersAdded: liters, AmountPaid: paid}
	row, err := l.mutate(ctx, vehicle, func(row *dbt.VehicleFuelState) error {
		res.FuelBeforeLiters = row.CurrentFuel
		res.FuelCostBefore = row.FuelCostInTank
		next := row.CurrentFuel + liters
		if next > row.TankCapacity {
			log.Printf("warning: refuel of %s overflows the tank by %.2fL, capping at %.1fL", vehicle, next-row.TankCapacity, row.TankCapacity)
			next = row.TankCapacity
		}
		row.CurrentFuel = next
		row.FuelCostInTank += paid
		return nil
	})
	if err != nil {
		return UpdateResult{}, err
	}
	res.FuelAfterLiters = row.CurrentFuel
	res.FuelCostAfter = row.FuelCostInTank
	res.AveragePricePerLiter = averagePrice(row)
	st := classify(row, settings.FuelControl)
	res.Status = &st
	return res, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func classify(row *dbt.VehicleFuelState, fc config.FuelControl) Status {
	st := Status{
		Vehicle:                 row.Vehicle,
		CurrentFuel:             row.CurrentFuel,
		TankCapacity:            row.TankCapacity,
		LowThresholdLiters:      row.TankCapacity * fc.LowThresholdPercent / 100,
		CriticalThresholdLiters: row.TankCapacity * fc.CriticalThresholdPercent / 100,
	}
	if row.TankCapacity > 0 {
		st.Percent = row.CurrentFuel / row.TankCapacity * 100
	}
	switch {
	case row.CurrentFuel <= st.CriticalThresholdLiters:
		st.Level = LevelCritical
		st.Message = fmt.Sprintf("🔴 КРИТИЧЕСКИЙ уровень топлива: %.1fL (%.0f%%)", row.CurrentFuel, st.Percent)
		st.Action = "Немедленная заправка!"
	case row.CurrentFuel <= st.LowThresholdLiters:
		st.Level = LevelLow
		st.Message = fmt.Sprintf("🟡 Низкий уровень топлива: %.1fL (%.0f%%)", row.CurrentFuel, st.Percent)
		st.Action = "Рекомендуется заправка"
	default:
		st.Level = LevelNormal
		st.Message = fmt.Sprintf("🟢 Нормальный уровень топлива: %.1fL (%.0f%%)", row.CurrentFuel, st.Percent)
	}
	st.ShouldWarn = st.Level != LevelNormal
	return st
}

func (l *Ledger) Status(ctx context.Context, vehicle string) (Status, error) {
	_, row, err := l.load(ctx, vehicle)
	if err != nil {
		return Status{}, err
	}
	return classify(row, l.settings.Current().FuelControl), nil
}

// Statuses reports every configured vehicle in roster order.
func (l *Ledger) Statuses(ctx context.Context) ([]Status, error) {
	var out []Status
	for _, name := range l.settings.Current().VehicleNames() {
		st, err := l.Status(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (l *Ledger) EstimatedRangeKm(ctx context.Context, vehicle string) (float64, error) {
	cfg, row, err := l.load(ctx, vehicle)
	if err != nil {
		return 0, err
	}
	if cfg.ConsumptionPer100Km <= 0 {
		return 0, nil
	}
	return row.CurrentFuel / cfg.ConsumptionPer100Km * 100, nil
}

// Report renders the fuel status of one vehicle, or of all of them when vehicle is empty.
func (l *Ledger) Report(ctx context.Context, vehicle string) (string, error) {
	names := []string{vehicle}
	if vehicle == "" {
		names = l.settings.Current().VehicleNames()
	}
	var b strings.Builder
	b.WriteString("*Отчет по топливу:*\n")
	for _, name := range names {
		st, err := l.Status(ctx, name)
		if err != nil {
			return "", err
		}
		km, err := l.EstimatedRangeKm(ctx, name)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "\n*%s:*\n%s\nЗапас хода: ~%.0f км\n", name, st.Message, km)
		if st.Action != "" {
			fmt.Fprintf(&b, "%s\n", st.Action)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// Warnings lists low or critical levels for the given vehicles, each once.
func (l *Ledger) Warnings(ctx context.Context, vehicles []string) []string {
	if !l.settings.Current().FuelControl.EnableTracking {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, v := range vehicles {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		st, err := l.Status(ctx, v)
		if err != nil {
			log.Printf("warning: fuel status of %s: %v", v, err)
			continue
		}
		if st.ShouldWarn {
			out = append(out, fmt.Sprintf("⚠️ %s: %s", v, st.Message))
		}
	}
	return out
}
