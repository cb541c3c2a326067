package report_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivelog/config"
	dbt "drivelog/db/db"
	"drivelog/db/mem"
	"drivelog/fuel"
	"drivelog/report"
)

var day0 = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day0.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

type fixture struct {
	db      dbt.JournalDBWrapper
	builder *report.Builder
	project *dbt.Project
}

func setupTest(t *testing.T, s config.Settings) *fixture {
	t.Helper()
	settings := config.Static(s)
	db := mem.NewInMemoryJournalDBWrapper()
	ledger := fuel.NewLedger(mem.NewInMemoryFuelDBWrapper(), settings)
	p := &dbt.Project{ID: uuid.New(), Name: "Иваненко", IsActive: true,
		ExternalRef: &dbt.ExternalRef{Source: "remonline", ID: "101", IDLabel: "A-101"}}
	require.NoError(t, db.CreateProject(context.Background(), p))
	return &fixture{
		db:      db,
		builder: report.NewBuilder(db, ledger, nil, settings).WithClock(func() time.Time { return at(18, 0) }),
		project: p,
	}
}

func (f *fixture) workDay(t *testing.T, vehicle string, start, end time.Time) *dbt.WorkDay {
	t.Helper()
	ctx := context.Background()
	wd := &dbt.WorkDay{ID: uuid.New(), User: 42, Vehicle: vehicle, Start: start, Date: day0}
	require.NoError(t, f.db.CreateWorkDay(ctx, wd))
	if !end.IsZero() {
		require.NoError(t, f.db.CloseWorkDay(ctx, wd.ID, end))
		wd.End = &end
	}
	return wd
}

func (f *fixture) trip(t *testing.T, wd *dbt.WorkDay, from, to string, start, end time.Time, km float64, project bool) {
	t.Helper()
	tr := &dbt.Trip{ID: uuid.New(), Interval: dbt.Interval{WorkDayID: wd.ID, Start: start, End: end},
		StartLocation: from, EndLocation: to, DistanceKm: km}
	if project {
		tr.ProjectID = &f.project.ID
	}
	require.NoError(t, f.db.CreateTrip(context.Background(), tr))
}

func (f *fixture) work(t *testing.T, wd *dbt.WorkDay, start, end time.Time) {
	t.Helper()
	iv := dbt.Interval{WorkDayID: wd.ID, Start: start, End: end}
	require.NoError(t, f.db.CreateActivity(context.Background(), &dbt.Activity{ID: uuid.New(), Interval: iv,
		Type: dbt.ActivityWorking, ProjectID: f.project.ID, DurationMinutes: iv.DurationMinutes()}))
}

// morning is 08:00-12:00 on Машина А: 30 min / 12 km to the project,
// 90 min of work, 20 min / 8 km back to the warehouse.
func (f *fixture) morning(t *testing.T) *dbt.WorkDay {
	wd := f.workDay(t, "Машина А", at(8, 0), at(12, 0))
	f.trip(t, wd, "Склад", "Иваненко", at(8, 0), at(8, 30), 12, true)
	f.work(t, wd, at(8, 30), at(10, 0))
	f.trip(t, wd, "Иваненко", "Склад", at(10, 0), at(10, 20), 8, false)
	return wd
}

// afternoon is 12:30-13:30 on Машина Б: 15 min / 5 km and 30 min of work.
func (f *fixture) afternoon(t *testing.T) *dbt.WorkDay {
	wd := f.workDay(t, "Машина Б", at(12, 30), at(13, 30))
	f.trip(t, wd, "Склад", "Иваненко", at(12, 30), at(12, 45), 5, true)
	f.work(t, wd, at(12, 45), at(13, 15))
	return wd
}

func TestFormatMinutes(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0мин"},
		{45, "45мин"},
		{59.9, "59мин"},
		{60, "1ч 00мин"},
		{125, "2ч 05мин"},
		{-5, "0мин"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, report.FormatMinutes(tt.in))
		})
	}
}

func TestWorkDayReport(t *testing.T) {
	f := setupTest(t, config.Default())
	wd := f.morning(t)

	text, err := f.builder.WorkDayReport(context.Background(), wd.ID)
	require.NoError(t, err)

	for _, want := range []string{
		"*Отчет за 10.03.2025*",
		"Автомобиль: Машина А",
		"Начало: 08:00",
		"Окончание: 12:00",
		"*Иваненко*",
		"Время: 2ч 20мин",
		"Расстояние: 20.0 км",
		"Поездка до Иваненко: 08:00-08:30 (30мин, 12.0 км)",
		"Работа: 08:30-10:00 (1ч 30мин)",
		"Поездка до Склад (доля 1/1): 10:00-10:20 (20мин, 8.0 км)",
		"Общее время: 4ч 00мин",
		"Общее расстояние: 20.0 км",
		"Расход топлива: 1.70 л (85.00 UAH)",
	} {
		assert.Contains(t, text, want)
	}
}

func TestWorkDayReportEmpty(t *testing.T) {
	f := setupTest(t, config.Default())
	wd := f.workDay(t, "", at(8, 0), time.Time{})

	text, err := f.builder.WorkDayReport(context.Background(), wd.ID)
	require.NoError(t, err)
	assert.Contains(t, text, "Автомобиль: Не указан")
	assert.Contains(t, text, "Окончание: в процессе")
	assert.Contains(t, text, "За день не было зарегистрировано активностей.")

	_, err = f.builder.WorkDayReport(context.Background(), uuid.New())
	assert.ErrorIs(t, err, dbt.ErrNotFound)
}

func TestDayReport(t *testing.T) {
	s := config.Default()
	s.Vehicles[1].CurrentFuel = 2
	s.Vehicles[1].FuelCostInTank = 100
	f := setupTest(t, s)
	ctx := context.Background()

	text, err := f.builder.DayReport(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "Нет рейсов за день.", text)

	m, a := f.morning(t), f.afternoon(t)
	open := f.workDay(t, "Машина В", at(14, 0), time.Time{})
	text, err = f.builder.DayReport(ctx, []dbt.WorkDay{*m, *a, *open})
	require.NoError(t, err)

	for _, want := range []string{
		"*Отчет за день 10.03.2025*",
		"*Рейс 1:* Машина А",
		"Время: 08:00 - 12:00 (4ч 00мин)",
		"*Рейс 2:* Машина Б",
		"Иваненко: 3ч 05мин, 25.0 км",
		"*Машина А:* 1 рейс(ов), 4ч 00мин, 20.0 км",
		"*Машина Б:* 1 рейс(ов), 1ч 00мин, 5.0 км",
		"Общее время: 5ч 00мин",
		"Общее расстояние: 25.0 км",
		"*Предупреждения по топливу:*",
		"⚠️ Машина Б:",
	} {
		assert.Contains(t, text, want)
	}
	assert.NotContains(t, text, "Рейс 3")
	assert.NotContains(t, text, "⚠️ Машина А:")
}

func TestDayExport(t *testing.T) {
	f := setupTest(t, config.Default())
	ctx := context.Background()
	m, a := f.morning(t), f.afternoon(t)

	exp, err := f.builder.DayExport(ctx, []dbt.WorkDay{*m, *a})
	require.NoError(t, err)

	assert.Equal(t, "day_report", exp.ReportType)
	assert.Equal(t, "2025-03-10", exp.ReportDate)
	assert.Equal(t, dbt.UserID(42), exp.UserID)
	assert.Equal(t, 2, exp.TotalTrips)
	require.Len(t, exp.Trips, 2)
	assert.Equal(t, 240.0, exp.Trips[0].DurationMinutes)
	assert.Len(t, exp.Trips[0].Trips, 2)
	assert.Len(t, exp.Trips[0].Activities, 1)

	pt := exp.Totals.ProjectTotals["Иваненко"]
	require.NotNil(t, pt)
	assert.Equal(t, 185.0, pt.TimeMinutes)
	assert.Equal(t, 25.0, pt.DistanceKm)
	assert.Equal(t, "101", pt.CRMMetadata.CRMID)
	assert.Equal(t, 300.0, exp.Totals.TotalTimeMinutes)
	assert.Equal(t, 1, exp.Totals.VehicleTotals["Машина Б"].TripsCount)

	require.Len(t, exp.Spreadsheet, 1)
	row := exp.Spreadsheet[0]
	assert.Equal(t, "Иваненко", row.ProjectName)
	assert.Equal(t, "remonline", row.Source)
	assert.Equal(t, "A-101", row.IDLabel)
	require.Len(t, row.Vehicles, 2)
	assert.Equal(t, 20.0, row.Vehicles["Машина А"].DistanceKm)
	assert.InDelta(t, row.FuelCost+row.TimeCost, row.TotalCost, 1e-9)
	assert.InDelta(t, 185.0/60*500, row.TimeCost, 1e-9)

	raw, err := json.Marshal(exp)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"spreadsheet":[`)
	assert.Contains(t, string(raw), `"report_type":"day_report"`)
}

func TestDayExportSingleVehicleHasNoBreakdown(t *testing.T) {
	f := setupTest(t, config.Default())
	m := f.morning(t)

	exp, err := f.builder.DayExport(context.Background(), []dbt.WorkDay{*m})
	require.NoError(t, err)
	require.Len(t, exp.Spreadsheet, 1)
	assert.Nil(t, exp.Spreadsheet[0].Vehicles)
}

func TestDayExportSkipsOpenWorkDays(t *testing.T) {
	f := setupTest(t, config.Default())
	ctx := context.Background()
	m, a := f.morning(t), f.afternoon(t)
	open := f.workDay(t, "Машина В", at(14, 0), time.Time{})

	exp, err := f.builder.DayExport(ctx, []dbt.WorkDay{*m, *a, *open})
	require.NoError(t, err)
	assert.Equal(t, 2, exp.TotalTrips)
	assert.Len(t, exp.Trips, exp.TotalTrips)
	assert.NotContains(t, exp.Totals.VehicleTotals, "Машина В")
}
