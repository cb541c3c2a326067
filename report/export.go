package report

import (
	"context"
	"time"

	"github.com/google/uuid"

	"drivelog/alloc"
	"drivelog/catalog"
	dbt "drivelog/db/db"
)

// Export is the structured day report. Numbers are not rounded.
type Export struct {
	ReportType   string           `json:"report_type"`
	ReportDate   string           `json:"report_date"`
	UserID       dbt.UserID       `json:"user_id"`
	TotalTrips   int              `json:"total_trips"`
	Trips        []WorkDayExport  `json:"trips"`
	Totals       Totals           `json:"totals"`
	Spreadsheet  []SpreadsheetRow `json:"spreadsheet"`
	FuelWarnings []string         `json:"fuel_warnings,omitempty"`
}

type WorkDayExport struct {
	TripID           uuid.UUID                `json:"trip_id"`
	Vehicle          string                   `json:"vehicle"`
	StartTime        time.Time                `json:"start_time"`
	EndTime          time.Time                `json:"end_time"`
	DurationMinutes  float64                  `json:"duration_minutes"`
	DistanceKm       float64                  `json:"distance_km"`
	FuelLiters       float64                  `json:"fuel_liters"`
	FuelCost         float64                  `json:"fuel_cost"`
	ProjectTotals    map[string]*ProjectTotal `json:"project_totals"`
	Activities       []ActivityExport         `json:"activities"`
	Trips            []TripExport             `json:"trips"`
	ShoppingSessions []SessionExport          `json:"shopping_sessions"`
	IdleTimes        []SessionExport          `json:"idle_times"`
	Unallocated      []UnallocatedExport      `json:"unallocated,omitempty"`
}

type ProjectTotal struct {
	ProjectID         uuid.UUID        `json:"project_id"`
	TimeMinutes       float64          `json:"time_minutes"`
	DistanceKm        float64          `json:"distance_km"`
	FuelLiters        float64          `json:"fuel_liters"`
	FuelCost          float64          `json:"fuel_cost"`
	TimeCost          float64          `json:"time_cost"`
	ActivitiesSummary []string         `json:"activities_summary"`
	CRMMetadata       catalog.Metadata `json:"crm_metadata"`
}

type ActivityExport struct {
	ID              uuid.UUID        `json:"id"`
	ProjectID       uuid.UUID        `json:"project_id"`
	ProjectName     string           `json:"project_name"`
	ActivityType    dbt.ActivityType `json:"activity_type"`
	StartTime       time.Time        `json:"start_time"`
	EndTime         time.Time        `json:"end_time"`
	DurationMinutes int              `json:"duration_minutes"`
}

type TripExport struct {
	ID              uuid.UUID  `json:"id"`
	ProjectID       *uuid.UUID `json:"project_id"`
	ProjectName     *string    `json:"project_name"`
	StartLocation   string     `json:"start_location"`
	EndLocation     string     `json:"end_location"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         time.Time  `json:"end_time"`
	DistanceKm      float64    `json:"distance_km"`
	DurationMinutes int        `json:"duration_minutes"`
}

// SessionExport is a shopping session or an idle time.
type SessionExport struct {
	ID              uuid.UUID   `json:"id"`
	ProjectIDs      []uuid.UUID `json:"project_ids"`
	ProjectNames    []string    `json:"project_names"`
	StartTime       time.Time   `json:"start_time"`
	EndTime         time.Time   `json:"end_time"`
	DurationMinutes int         `json:"duration_minutes"`
}

type UnallocatedExport struct {
	TripID      uuid.UUID `json:"trip_id"`
	EndLocation string    `json:"end_location"`
	Minutes     float64   `json:"time_minutes"`
	DistanceKm  float64   `json:"distance_km"`
	FuelLiters  float64   `json:"fuel_liters"`
	FuelCost    float64   `json:"fuel_cost"`
	Reason      string    `json:"reason"`
}

type Totals struct {
	TotalTimeMinutes     float64                  `json:"total_time_minutes"`
	TotalDistanceKm      float64                  `json:"total_distance_km"`
	TotalIdleTimeMinutes float64                  `json:"total_idle_time_minutes"`
	ProjectTotals        map[string]*ProjectTotal `json:"project_totals"`
	VehicleTotals        map[string]*VehicleTotal `json:"vehicle_totals"`
}

type VehicleTotal struct {
	TimeMinutes float64 `json:"time_minutes"`
	DistanceKm  float64 `json:"distance_km"`
	TripsCount  int     `json:"trips_count"`
	FuelLiters  float64 `json:"fuel_liters"`
}

// SpreadsheetRow is one project of the day, flattened for a sheet.
type SpreadsheetRow struct {
	ProjectID   uuid.UUID               `json:"project_id"`
	ProjectName string                  `json:"project_name"`
	Source      string                  `json:"source"`
	CRMID       string                  `json:"crm_id,omitempty"`
	IDLabel     string                  `json:"id_label,omitempty"`
	StatusName  string                  `json:"status_name,omitempty"`
	TimeMinutes float64                 `json:"time_minutes"`
	DistanceKm  float64                 `json:"distance_km"`
	FuelLiters  float64                 `json:"fuel_liters"`
	FuelCost    float64                 `json:"fuel_cost"`
	TimeCost    float64                 `json:"time_cost"`
	TotalCost   float64                 `json:"total_cost"`
	Vehicles    map[string]*VehicleCost `json:"vehicles,omitempty"`
}

// VehicleCost is the share of a project's cost one vehicle caused.
type VehicleCost struct {
	TimeMinutes float64 `json:"time_minutes"`
	DistanceKm  float64 `json:"distance_km"`
	FuelCost    float64 `json:"fuel_cost"`
	TimeCost    float64 `json:"time_cost"`
	TotalCost   float64 `json:"total_cost"`
}

func projectTotal(bk *alloc.Bucket, meta catalog.Metadata) *ProjectTotal {
	return &ProjectTotal{
		ProjectID:         bk.ProjectID,
		TimeMinutes:       bk.TimeMinutes,
		DistanceKm:        bk.DistanceKm,
		FuelLiters:        bk.FuelLiters,
		FuelCost:          bk.FuelCost,
		TimeCost:          bk.TimeCost,
		ActivitiesSummary: itemLines(bk.Items),
		CRMMetadata:       meta,
	}
}

func (pt *ProjectTotal) add(o *ProjectTotal) {
	pt.TimeMinutes += o.TimeMinutes
	pt.DistanceKm += o.DistanceKm
	pt.FuelLiters += o.FuelLiters
	pt.FuelCost += o.FuelCost
	pt.TimeCost += o.TimeCost
	pt.ActivitiesSummary = append(pt.ActivitiesSummary, o.ActivitiesSummary...)
}

func namesOf(projects map[uuid.UUID]*dbt.Project, ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, projectName(projects, id))
	}
	return out
}

// DayExport mirrors DayReport as a document.
func (b *Builder) DayExport(ctx context.Context, workDays []dbt.WorkDay) (*Export, error) {
	exp := &Export{
		ReportType:  "day_report",
		Trips:       []WorkDayExport{},
		Spreadsheet: []SpreadsheetRow{},
		Totals: Totals{
			ProjectTotals: map[string]*ProjectTotal{},
			VehicleTotals: map[string]*VehicleTotal{},
		},
	}
	if len(workDays) == 0 {
		return exp, nil
	}
	exp.ReportDate = workDays[0].Date.Format("2006-01-02")
	exp.UserID = workDays[0].User

	days, err := b.dayData(ctx, workDays)
	if err != nil {
		return nil, err
	}
	exp.TotalTrips = len(days)
	projects := b.projects(ctx, idsOf(days))
	meta := make(map[uuid.UUID]catalog.Metadata)
	metaOf := func(id uuid.UUID) catalog.Metadata {
		m, ok := meta[id]
		if !ok {
			m = b.metadata(ctx, exp.UserID, projects[id])
			meta[id] = m
		}
		return m
	}

	for _, d := range days {
		wde := b.workDayExport(d, projects, metaOf)
		exp.Trips = append(exp.Trips, wde)

		exp.Totals.TotalTimeMinutes += wde.DurationMinutes
		exp.Totals.TotalDistanceKm += wde.DistanceKm
		for _, s := range wde.IdleTimes {
			exp.Totals.TotalIdleTimeMinutes += float64(s.DurationMinutes)
		}
		for name, pt := range wde.ProjectTotals {
			if cur, ok := exp.Totals.ProjectTotals[name]; ok {
				cur.add(pt)
				continue
			}
			c := *pt
			c.ActivitiesSummary = append([]string(nil), pt.ActivitiesSummary...)
			exp.Totals.ProjectTotals[name] = &c
		}
	}
	for _, v := range byVehicle(days) {
		exp.Totals.VehicleTotals[v.name] = &VehicleTotal{
			TimeMinutes: v.minutes,
			DistanceKm:  v.distanceKm,
			TripsCount:  v.trips,
			FuelLiters:  v.liters,
		}
	}
	exp.Spreadsheet = spreadsheet(days, projects, metaOf)
	exp.FuelWarnings = b.fuel.Warnings(ctx, vehicleNames(workDays))
	return exp, nil
}

func (b *Builder) workDayExport(d *workDayData, projects map[uuid.UUID]*dbt.Project, metaOf func(uuid.UUID) catalog.Metadata) WorkDayExport {
	rec := d.records
	wde := WorkDayExport{
		TripID:           rec.WorkDay.ID,
		Vehicle:          rec.WorkDay.Vehicle,
		StartTime:        rec.WorkDay.Start,
		EndTime:          d.end,
		DurationMinutes:  d.minutes(),
		DistanceKm:       d.distanceKm(),
		FuelLiters:       d.fuelLiters(),
		FuelCost:         d.fuelCost(),
		ProjectTotals:    map[string]*ProjectTotal{},
		Activities:       []ActivityExport{},
		Trips:            []TripExport{},
		ShoppingSessions: []SessionExport{},
		IdleTimes:        []SessionExport{},
	}
	for _, bk := range d.alloc.Projects() {
		wde.ProjectTotals[projectName(projects, bk.ProjectID)] = projectTotal(bk, metaOf(bk.ProjectID))
	}
	for _, a := range rec.Activities {
		wde.Activities = append(wde.Activities, ActivityExport{
			ID:              a.ID,
			ProjectID:       a.ProjectID,
			ProjectName:     projectName(projects, a.ProjectID),
			ActivityType:    a.Type,
			StartTime:       a.Start,
			EndTime:         a.End,
			DurationMinutes: a.DurationMinutes,
		})
	}
	for _, t := range rec.Trips {
		te := TripExport{
			ID:              t.ID,
			ProjectID:       t.ProjectID,
			StartLocation:   t.StartLocation,
			EndLocation:     t.EndLocation,
			StartTime:       t.Start,
			EndTime:         t.End,
			DistanceKm:      t.DistanceKm,
			DurationMinutes: t.DurationMinutes(),
		}
		if t.ProjectID != nil {
			name := projectName(projects, *t.ProjectID)
			te.ProjectName = &name
		}
		wde.Trips = append(wde.Trips, te)
	}
	for _, s := range rec.ShoppingSessions {
		wde.ShoppingSessions = append(wde.ShoppingSessions, SessionExport{
			ID:              s.ID,
			ProjectIDs:      s.ProjectIDs,
			ProjectNames:    namesOf(projects, s.ProjectIDs),
			StartTime:       s.Start,
			EndTime:         s.End,
			DurationMinutes: s.DurationMinutes(),
		})
	}
	for _, it := range rec.IdleTimes {
		wde.IdleTimes = append(wde.IdleTimes, SessionExport{
			ID:              it.ID,
			ProjectIDs:      it.ProjectIDs,
			ProjectNames:    namesOf(projects, it.ProjectIDs),
			StartTime:       it.Start,
			EndTime:         it.End,
			DurationMinutes: it.DurationMinutes(),
		})
	}
	for _, u := range d.alloc.Unallocated {
		wde.Unallocated = append(wde.Unallocated, UnallocatedExport{
			TripID:      u.TripID,
			EndLocation: u.EndLocation,
			Minutes:     u.Minutes,
			DistanceKm:  u.DistanceKm,
			FuelLiters:  u.FuelLiters,
			FuelCost:    u.FuelCost,
			Reason:      u.Reason,
		})
	}
	return wde
}

// spreadsheet has one row per project in first seen order. The vehicle
// breakdown is only set when more than one vehicle served the project.
func spreadsheet(days []*workDayData, projects map[uuid.UUID]*dbt.Project, metaOf func(uuid.UUID) catalog.Metadata) []SpreadsheetRow {
	var order []uuid.UUID
	rows := make(map[uuid.UUID]*SpreadsheetRow)
	for _, d := range days {
		vehicle := vehicleName(d.records.WorkDay)
		for _, bk := range d.alloc.Projects() {
			row, ok := rows[bk.ProjectID]
			if !ok {
				m := metaOf(bk.ProjectID)
				row = &SpreadsheetRow{
					ProjectID:   bk.ProjectID,
					ProjectName: projectName(projects, bk.ProjectID),
					Source:      m.Source,
					CRMID:       m.CRMID,
					IDLabel:     m.IDLabel,
					StatusName:  m.StatusName,
					Vehicles:    map[string]*VehicleCost{},
				}
				rows[bk.ProjectID] = row
				order = append(order, bk.ProjectID)
			}
			row.TimeMinutes += bk.TimeMinutes
			row.DistanceKm += bk.DistanceKm
			row.FuelLiters += bk.FuelLiters
			row.FuelCost += bk.FuelCost
			row.TimeCost += bk.TimeCost
			row.TotalCost = row.FuelCost + row.TimeCost

			vc, ok := row.Vehicles[vehicle]
			if !ok {
				vc = &VehicleCost{}
				row.Vehicles[vehicle] = vc
			}
			vc.TimeMinutes += bk.TimeMinutes
			vc.DistanceKm += bk.DistanceKm
			vc.FuelCost += bk.FuelCost
			vc.TimeCost += bk.TimeCost
			vc.TotalCost = vc.FuelCost + vc.TimeCost
		}
	}
	out := make([]SpreadsheetRow, 0, len(order))
	for _, id := range order {
		row := rows[id]
		if len(row.Vehicles) < 2 {
			row.Vehicles = nil
		}
		out = append(out, *row)
	}
	return out
}
