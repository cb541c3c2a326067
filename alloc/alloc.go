package alloc

import (
	"log"
	"slices"

	"github.com/google/uuid"

	dbt "drivelog/db/db"
	"drivelog/fuel"
)

// Engine turns the raw intervals of one WorkDay into per-project totals.
type Engine struct {
	PricePerHour float64
}

// projectSet is an insertion-ordered set of project ids.
type projectSet struct {
	ids  []uuid.UUID
	seen map[uuid.UUID]bool
}

func (s *projectSet) add(ids ...uuid.UUID) {
	if s.seen == nil {
		s.seen = make(map[uuid.UUID]bool)
	}
	for _, id := range ids {
		if !s.seen[id] {
			s.seen[id] = true
			s.ids = append(s.ids, id)
		}
	}
}

func (s *projectSet) clone() *projectSet {
	c := &projectSet{}
	c.add(s.ids...)
	return c
}

type share struct {
	minutes    float64
	distanceKm float64
	liters     float64
	fuelCost   float64
}

// Allocate runs the five allocation steps in order. rate is nil when the
// WorkDay has no known vehicle, in which case no fuel is attributed.
//
//  1. activities and trips with a project are charged in full
//  2. shop trips split across the union of shopping session projects
//  3. home and warehouse trips split across every project touched by steps 1 and 2
//  4. fuel station trips split across the step 3 pool plus idle time projects
//  5. idle time splits across its own projects, time only
func (e Engine) Allocate(rec dbt.WorkDayRecords, rate *fuel.Rate) Allocation {
	a := newAllocation()

	tripShare := func(t dbt.Trip) share {
		s := share{minutes: float64(t.DurationMinutes()), distanceKm: t.DistanceKm}
		if rate != nil {
			s.liters = rate.Liters(t.DistanceKm)
			s.fuelCost = rate.Cost(t.DistanceKm)
		}
		return s
	}

	// step 1
	touched := &projectSet{}
	for _, act := range rec.Activities {
		b := a.bucket(act.ProjectID)
		minutes := float64(act.DurationMinutes)
		b.TimeMinutes += minutes
		b.TimeCost += e.timeCost(minutes)
		kind := ItemWorking
		if act.Type == dbt.ActivityShopping {
			kind = ItemShopping
		}
		b.Items = append(b.Items, Item{Kind: kind, Start: act.Start, End: act.End, Minutes: minutes, Shares: 1})
		touched.add(act.ProjectID)
	}
	var shared []dbt.Trip
	for _, t := range rec.Trips {
		if t.ProjectID == nil {
			shared = append(shared, t)
			continue
		}
		s := tripShare(t)
		b := a.bucket(*t.ProjectID)
		b.TimeMinutes += s.minutes
		b.DistanceKm += s.distanceKm
		b.FuelLiters += s.liters
		b.FuelCost += s.fuelCost
		b.TimeCost += e.timeCost(s.minutes)
		b.Items = append(b.Items, Item{Kind: ItemTrip, Place: dbt.PlaceOf(t.EndLocation), Label: t.EndLocation,
			Start: t.Start, End: t.End, Minutes: s.minutes, DistanceKm: s.distanceKm, Shares: 1})
		touched.add(*t.ProjectID)
	}

	shopPool := &projectSet{}
	for _, ss := range rec.ShoppingSessions {
		shopPool.add(ss.ProjectIDs...)
	}
	touched.add(shopPool.ids...)
	fuelPool := touched.clone()
	for _, it := range rec.IdleTimes {
		fuelPool.add(it.ProjectIDs...)
	}

	pools := map[dbt.Place]*projectSet{
		dbt.PlaceShop:        shopPool,
		dbt.PlaceHome:        touched,
		dbt.PlaceWarehouse:   touched,
		dbt.PlaceFuelStation: fuelPool,
	}

	// steps 2 to 4, each over its own kind of shared trip
	for _, step := range [][]dbt.Place{{dbt.PlaceShop}, {dbt.PlaceHome, dbt.PlaceWarehouse}, {dbt.PlaceFuelStation}} {
		for _, t := range shared {
			place := dbt.PlaceOf(t.EndLocation)
			if !slices.Contains(step, place) {
				continue
			}
			e.split(&a, rec.WorkDay.ID, t, place, pools[place].ids, tripShare(t))
		}
	}
	for _, t := range shared {
		if dbt.PlaceOf(t.EndLocation) == dbt.PlaceNone {
			s := tripShare(t)
			log.Printf("warning: trip %s to %q has no project and is not a shared place, left unallocated", t.ID, t.EndLocation)
			a.Unallocated = append(a.Unallocated, Unallocated{TripID: t.ID, WorkDayID: rec.WorkDay.ID, EndLocation: t.EndLocation,
				Minutes: s.minutes, DistanceKm: s.distanceKm, FuelLiters: s.liters, FuelCost: s.fuelCost,
				Reason: "destination is neither a project nor a shared place"})
		}
	}

	// step 5
	for _, it := range rec.IdleTimes {
		pool := &projectSet{}
		pool.add(it.ProjectIDs...)
		if len(pool.ids) == 0 {
			log.Printf("warning: idle time %s has no projects, skipped", it.ID)
			continue
		}
		n := float64(len(pool.ids))
		minutes := float64(it.DurationMinutes()) / n
		for _, id := range pool.ids {
			b := a.bucket(id)
			b.TimeMinutes += minutes
			b.TimeCost += e.timeCost(minutes)
			b.Items = append(b.Items, Item{Kind: ItemIdle, Start: it.Start, End: it.End, Minutes: minutes, Shares: len(pool.ids)})
		}
	}
	return a
}

func (e Engine) timeCost(minutes float64) float64 {
	return minutes / 60 * e.PricePerHour
}

// split charges 1/N of a shared trip to each project in pool.
func (e Engine) split(a *Allocation, workDayID uuid.UUID, t dbt.Trip, place dbt.Place, pool []uuid.UUID, s share) {
	if len(pool) == 0 {
		log.Printf("warning: %s trip %s of work day %s has no projects to share it, %.0f min / %.1f km left unallocated",
			place, t.ID, workDayID, s.minutes, s.distanceKm)
		a.Unallocated = append(a.Unallocated, Unallocated{TripID: t.ID, WorkDayID: workDayID, Place: place, EndLocation: t.EndLocation,
			Minutes: s.minutes, DistanceKm: s.distanceKm, FuelLiters: s.liters, FuelCost: s.fuelCost,
			Reason: "no projects to share the trip with"})
		return
	}
	n := float64(len(pool))
	part := share{minutes: s.minutes / n, distanceKm: s.distanceKm / n, liters: s.liters / n, fuelCost: s.fuelCost / n}
	for _, id := range pool {
		b := a.bucket(id)
		b.TimeMinutes += part.minutes
		b.DistanceKm += part.distanceKm
		b.FuelLiters += part.liters
		b.FuelCost += part.fuelCost
		b.TimeCost += e.timeCost(part.minutes)
		b.Items = append(b.Items, Item{Kind: ItemSharedTrip, Place: place, Label: t.EndLocation,
			Start: t.Start, End: t.End, Minutes: part.minutes, DistanceKm: part.distanceKm, Shares: len(pool)})
	}
}
