// Package report renders allocations as the per WorkDay and end of day
// texts, and as the structured day export.
package report

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"drivelog/alloc"
	"drivelog/catalog"
	"drivelog/config"
	dbt "drivelog/db/db"
	"drivelog/fuel"
)

// Fuel is the part of the fuel model reports read. Implemented by *fuel.Ledger.
type Fuel interface {
	Rate(ctx context.Context, vehicle string) (fuel.Rate, bool)
	Warnings(ctx context.Context, vehicles []string) []string
}

// Catalog resolves the catalog metadata of a project. Implemented by *catalog.Service.
type Catalog interface {
	Metadata(ctx context.Context, user dbt.UserID, project dbt.Project) catalog.Metadata
}

type Builder struct {
	db       dbt.JournalDBWrapper
	fuel     Fuel
	catalog  Catalog
	settings config.Provider
	now      func() time.Time
}

// NewBuilder creates a report builder. cat may be nil, then metadata comes
// from the projects' external references only.
func NewBuilder(db dbt.JournalDBWrapper, f Fuel, cat Catalog, settings config.Provider) *Builder {
	return &Builder{db: db, fuel: f, catalog: cat, settings: settings, now: time.Now}
}

func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// FormatMinutes renders minutes as "Hч MMмин", or "Mмин" under an hour.
func FormatMinutes(minutes float64) string {
	if minutes < 0 || math.IsNaN(minutes) {
		minutes = 0
	}
	h := int(minutes / 60)
	m := int(math.Mod(minutes, 60))
	if h > 0 {
		return fmt.Sprintf("%dч %02dмин", h, m)
	}
	return fmt.Sprintf("%dмин", m)
}

// workDayData is one WorkDay with its allocation.
type workDayData struct {
	records *dbt.WorkDayRecords
	alloc   alloc.Allocation
	rate    *fuel.Rate
	end     time.Time
}

func (d workDayData) minutes() float64 {
	return d.end.Sub(d.records.WorkDay.Start).Minutes()
}

func (d workDayData) distanceKm() float64 {
	var km float64
	for _, t := range d.records.Trips {
		km += t.DistanceKm
	}
	return km
}

// fuelLiters is the burn of every trip, allocated or not.
func (d workDayData) fuelLiters() float64 {
	if d.rate == nil {
		return 0
	}
	return d.rate.Liters(d.distanceKm())
}

func (d workDayData) fuelCost() float64 {
	if d.rate == nil {
		return 0
	}
	return d.rate.Cost(d.distanceKm())
}

func (b *Builder) load(ctx context.Context, workDayID uuid.UUID) (*workDayData, error) {
	rec, err := b.db.GetWorkDayRecords(ctx, workDayID)
	if err != nil {
		return nil, fmt.Errorf("failed to load records of work day %s: %w", workDayID, err)
	}
	d := &workDayData{records: rec, end: b.now()}
	if rec.WorkDay.End != nil {
		d.end = *rec.WorkDay.End
	}
	if r, ok := b.fuel.Rate(ctx, rec.WorkDay.Vehicle); ok {
		d.rate = &r
	}
	engine := alloc.Engine{PricePerHour: b.settings.Current().WorkCost.PricePerHour}
	d.alloc = engine.Allocate(*rec, d.rate)
	return d, nil
}

func loaderFrom(ctx context.Context, db dbt.JournalDBWrapper) *dbt.ProjectDataLoader {
	if l, ok := ctx.Value(dbt.DataLoaderKeyProjects).(*dbt.ProjectDataLoader); ok && l != nil {
		return l
	}
	return dbt.NewProjectDataLoader(db)
}

// projects resolves ids in one batch. Unknown ids are missing from the result.
func (b *Builder) projects(ctx context.Context, ids []uuid.UUID) map[uuid.UUID]*dbt.Project {
	out := make(map[uuid.UUID]*dbt.Project, len(ids))
	if len(ids) == 0 {
		return out
	}
	values, err := loaderFrom(ctx, b.db).GetProject.LoadAll(ctx, ids)
	if err != nil {
		log.Printf("warning: loading %d projects: %v", len(ids), err)
	}
	for i, p := range values {
		if i < len(ids) && p != nil {
			out[ids[i]] = p
		}
	}
	return out
}

func projectName(projects map[uuid.UUID]*dbt.Project, id uuid.UUID) string {
	if p, ok := projects[id]; ok {
		return p.Name
	}
	return fmt.Sprintf("Проект %s", id)
}

func (b *Builder) metadata(ctx context.Context, user dbt.UserID, p *dbt.Project) catalog.Metadata {
	if p == nil {
		return catalog.Metadata{}
	}
	if b.catalog != nil {
		return b.catalog.Metadata(ctx, user, *p)
	}
	if ref := p.ExternalRef; ref != nil && ref.Source != catalog.SourceStatic {
		return catalog.Metadata{Source: ref.Source, CRMID: ref.ID, IDLabel: ref.IDLabel}
	}
	return catalog.Metadata{Source: catalog.SourceStatic}
}

// idsOf collects every project id an allocation or its records mention.
func idsOf(days []*workDayData) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	add := func(id uuid.UUID) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, d := range days {
		for _, id := range d.alloc.Order {
			add(id)
		}
		for _, a := range d.records.Activities {
			add(a.ProjectID)
		}
		for _, t := range d.records.Trips {
			if t.ProjectID != nil {
				add(*t.ProjectID)
			}
		}
		for _, s := range d.records.ShoppingSessions {
			for _, id := range s.ProjectIDs {
				add(id)
			}
		}
		for _, it := range d.records.IdleTimes {
			for _, id := range it.ProjectIDs {
				add(id)
			}
		}
	}
	return ids
}

func clock(t time.Time) string {
	return t.Format("15:04")
}

func timeRange(start, end time.Time) string {
	return clock(start) + "-" + clock(end)
}

// itemLine is one itemized line under a project.
func itemLine(it alloc.Item) string {
	span := timeRange(it.Start, it.End)
	switch it.Kind {
	case alloc.ItemWorking:
		return fmt.Sprintf("Работа: %s (%s)", span, FormatMinutes(it.Minutes))
	case alloc.ItemShopping:
		return fmt.Sprintf("Закупка: %s (%s)", span, FormatMinutes(it.Minutes))
	case alloc.ItemTrip:
		return fmt.Sprintf("Поездка до %s: %s (%s, %.1f км)", it.Label, span, FormatMinutes(it.Minutes), it.DistanceKm)
	case alloc.ItemSharedTrip:
		return fmt.Sprintf("Поездка до %s (доля 1/%d): %s (%s, %.1f км)", it.Label, it.Shares, span, FormatMinutes(it.Minutes), it.DistanceKm)
	case alloc.ItemIdle:
		if it.Shares > 1 {
			return fmt.Sprintf("Простой (доля 1/%d): %s (%s)", it.Shares, span, FormatMinutes(it.Minutes))
		}
		return fmt.Sprintf("Простой: %s (%s)", span, FormatMinutes(it.Minutes))
	}
	return fmt.Sprintf("%s: %s (%s)", it.Kind, span, FormatMinutes(it.Minutes))
}

func itemLines(items []alloc.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, itemLine(it))
	}
	return out
}
