package fuel_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivelog/config"
	"drivelog/db/mem"
	"drivelog/errs"
	"drivelog/fuel"
)

const vehicleA = "Машина А"

func setupTest(mutate ...func(s *config.Settings)) *fuel.Ledger {
	s := config.Default()
	for _, m := range mutate {
		m(&s)
	}
	return fuel.NewLedger(mem.NewInMemoryFuelDBWrapper(), config.Static(s))
}

func TestApplyTripScenario(t *testing.T) {
	l := setupTest()
	ctx := context.Background()

	res, err := l.ApplyTrip(ctx, vehicleA, 100)
	require.NoError(t, err)
	assert.InDelta(t, 8.5, res.FuelConsumedLiters, 1e-9)
	assert.InDelta(t, 425, res.TripFuelCost, 1e-9)
	assert.InDelta(t, 50, res.AveragePricePerLiter, 1e-9)
	assert.InDelta(t, 45, res.FuelBeforeLiters, 1e-9)
	assert.InDelta(t, 36.5, res.FuelAfterLiters, 1e-9)
	assert.InDelta(t, 2250, res.FuelCostBefore, 1e-9)
	assert.InDelta(t, 1825, res.FuelCostAfter, 1e-9)
	require.NotNil(t, res.Status)
	assert.Equal(t, fuel.LevelNormal, res.Status.Level)
}

func TestConsumptionAndAveragePrice(t *testing.T) {
	l := setupTest()
	ctx := context.Background()

	assert.InDelta(t, 4.25, l.Consumption(ctx, vehicleA, 50), 1e-9)
	assert.Equal(t, 0.0, l.Consumption(ctx, "unknown", 50))
	assert.InDelta(t, 50, l.AveragePricePerLiter(ctx, vehicleA), 1e-9)
	assert.Equal(t, 0.0, l.AveragePricePerLiter(ctx, "unknown"))

	rate, ok := l.Rate(ctx, vehicleA)
	require.True(t, ok)
	assert.InDelta(t, 8.5, rate.Liters(100), 1e-9)
	assert.InDelta(t, 425, rate.Cost(100), 1e-9)
	_, ok = l.Rate(ctx, "")
	assert.False(t, ok)
}

func TestApplyTripFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown vehicle", func(t *testing.T) {
		_, err := setupTest().ApplyTrip(ctx, "Машина Z", 10)
		assert.Equal(t, errs.ResourceNotFound, errs.KindOf(err))
		assert.Contains(t, err.Error(), "Vehicle Машина Z not found")
	})

	t.Run("empty tank", func(t *testing.T) {
		l := setupTest(func(s *config.Settings) { s.Vehicles[0].CurrentFuel = 0; s.Vehicles[0].FuelCostInTank = 0 })
		_, err := l.ApplyTrip(ctx, vehicleA, 10)
		assert.True(t, errors.Is(err, fuel.ErrNoFuel))
		assert.Equal(t, errs.Precondition, errs.KindOf(err))
	})

	t.Run("tracking disabled", func(t *testing.T) {
		l := setupTest(func(s *config.Settings) { s.FuelControl.EnableTracking = false })
		res, err := l.ApplyTrip(ctx, vehicleA, 10)
		require.NoError(t, err)
		assert.True(t, res.TrackingDisabled)
	})
}

func TestApplyTripFloorsAtZero(t *testing.T) {
	l := setupTest()
	ctx := context.Background()

	res, err := l.ApplyTrip(ctx, vehicleA, 10000)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.FuelAfterLiters)
	assert.Equal(t, 0.0, res.FuelCostAfter)
	assert.Equal(t, fuel.LevelCritical, res.Status.Level)
}

func TestApplyRefuel(t *testing.T) {
	l := setupTest()
	ctx := context.Background()

	res, err := l.ApplyRefuel(ctx, vehicleA, 10, 600)
	require.NoError(t, err)
	assert.InDelta(t, 55, res.FuelAfterLiters, 1e-9)
	assert.InDelta(t, 2850, res.FuelCostAfter, 1e-9)
	assert.InDelta(t, 2850.0/55.0, res.AveragePricePerLiter, 1e-9)

	capped, err := l.ApplyRefuel(ctx, vehicleA, 30, 1500)
	require.NoError(t, err)
	assert.InDelta(t, 60, capped.FuelAfterLiters, 1e-9)
	assert.InDelta(t, 4350, capped.FuelCostAfter, 1e-9)

	_, err = l.ApplyRefuel(ctx, vehicleA, 0, 100)
	assert.Equal(t, errs.UserInput, errs.KindOf(err))
	_, err = l.ApplyRefuel(ctx, vehicleA, 5, -1)
	assert.Equal(t, errs.UserInput, errs.KindOf(err))
}

func TestNonFiniteInputLeavesLedgerUntouched(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		apply func(l *fuel.Ledger) error
	}{
		{"trip NaN", func(l *fuel.Ledger) error { _, err := l.ApplyTrip(ctx, vehicleA, math.NaN()); return err }},
		{"trip Inf", func(l *fuel.Ledger) error { _, err := l.ApplyTrip(ctx, vehicleA, math.Inf(1)); return err }},
		{"refuel liters NaN", func(l *fuel.Ledger) error { _, err := l.ApplyRefuel(ctx, vehicleA, math.NaN(), 100); return err }},
		{"refuel liters Inf", func(l *fuel.Ledger) error { _, err := l.ApplyRefuel(ctx, vehicleA, math.Inf(1), 100); return err }},
		{"refuel amount NaN", func(l *fuel.Ledger) error { _, err := l.ApplyRefuel(ctx, vehicleA, 10, math.NaN()); return err }},
		{"refuel amount Inf", func(l *fuel.Ledger) error { _, err := l.ApplyRefuel(ctx, vehicleA, 10, math.Inf(1)); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := setupTest()
			assert.Equal(t, errs.UserInput, errs.KindOf(tt.apply(l)))

			st, err := l.Status(ctx, vehicleA)
			require.NoError(t, err)
			assert.InDelta(t, 45, st.CurrentFuel, 1e-9)
			assert.InDelta(t, 50, l.AveragePricePerLiter(ctx, vehicleA), 1e-9)
		})
	}
}

func TestRefuelThenTripConservesFuel(t *testing.T) {
	l := setupTest()
	ctx := context.Background()

	before, err := l.Status(ctx, vehicleA)
	require.NoError(t, err)

	_, err = l.ApplyRefuel(ctx, vehicleA, 8.5, 400)
	require.NoError(t, err)
	// 100 km at 8.5 L/100km burns exactly the added liters
	res, err := l.ApplyTrip(ctx, vehicleA, 100)
	require.NoError(t, err)
	assert.InDelta(t, before.CurrentFuel, res.FuelAfterLiters, 1e-9)
}

func TestFuelStaysWithinTank(t *testing.T) {
	l := setupTest()
	ctx := context.Background()
	ops := []struct {
		trip   float64
		liters float64
		paid   float64
	}{
		{trip: 300}, {liters: 70, paid: 3500}, {trip: 1000}, {trip: 5}, {liters: 3, paid: 150}, {trip: 20}, {liters: 100, paid: 5000},
	}
	for _, op := range ops {
		var res fuel.UpdateResult
		var err error
		if op.liters > 0 {
			res, err = l.ApplyRefuel(ctx, vehicleA, op.liters, op.paid)
		} else {
			res, err = l.ApplyTrip(ctx, vehicleA, op.trip)
			if errors.Is(err, fuel.ErrNoFuel) {
				continue
			}
		}
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.FuelAfterLiters, 0.0)
		assert.LessOrEqual(t, res.FuelAfterLiters, 60.0)
		assert.GreaterOrEqual(t, res.FuelCostAfter, 0.0)
	}
}

func TestStatusThresholds(t *testing.T) {
	tests := []struct {
		name string
		fuel float64
		want fuel.Level
	}{
		{"normal", 30, fuel.LevelNormal},
		{"just above low", 9.01, fuel.LevelNormal},
		{"low boundary", 9, fuel.LevelLow},
		{"low", 5, fuel.LevelLow},
		{"critical boundary", 3, fuel.LevelCritical},
		{"empty", 0, fuel.LevelCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := setupTest(func(s *config.Settings) { s.Vehicles[0].CurrentFuel = tt.fuel })
			st, err := l.Status(context.Background(), vehicleA)
			require.NoError(t, err)
			assert.Equal(t, tt.want, st.Level)
			assert.Equal(t, tt.want != fuel.LevelNormal, st.ShouldWarn)
			assert.InDelta(t, 9, st.LowThresholdLiters, 1e-9)
			assert.InDelta(t, 3, st.CriticalThresholdLiters, 1e-9)
		})
	}
}

func TestEstimatedRangeAndReport(t *testing.T) {
	l := setupTest()
	ctx := context.Background()

	km, err := l.EstimatedRangeKm(ctx, vehicleA)
	require.NoError(t, err)
	assert.InDelta(t, 45/8.5*100, km, 1e-9)

	text, err := l.Report(ctx, vehicleA)
	require.NoError(t, err)
	assert.Contains(t, text, "*Отчет по топливу:*")
	assert.Contains(t, text, "*Машина А:*")
	assert.Contains(t, text, "Запас хода: ~529 км")

	all, err := l.Report(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, all, "*Машина Б:*")
	assert.Contains(t, all, "*Машина В:*")

	_, err = l.Report(ctx, "nope")
	assert.Equal(t, errs.ResourceNotFound, errs.KindOf(err))
}

func TestWarnings(t *testing.T) {
	l := setupTest(func(s *config.Settings) { s.Vehicles[1].CurrentFuel = 2 })
	w := l.Warnings(context.Background(), []string{vehicleA, "Машина Б", "Машина Б", ""})
	require.Len(t, w, 1)
	assert.Contains(t, w[0], "Машина Б")
	assert.Contains(t, w[0], "КРИТИЧЕСКИЙ")
}

func TestConcurrentTripsDoNotLoseUpdates(t *testing.T) {
	l := setupTest()
	ctx := context.Background()
	require.NoError(t, l.Seed(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.ApplyTrip(ctx, vehicleA, 10)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	st, err := l.Status(ctx, vehicleA)
	require.NoError(t, err)
	assert.InDelta(t, 45-20*0.85, st.CurrentFuel, 1e-6)
}
