package alloc

import (
	"time"

	"github.com/google/uuid"

	dbt "drivelog/db/db"
)

type ItemKind string

const (
	ItemWorking    ItemKind = "working"
	ItemShopping   ItemKind = "shopping"
	ItemTrip       ItemKind = "trip"
	ItemSharedTrip ItemKind = "shared_trip"
	ItemIdle       ItemKind = "idle"
)

// Item is one line of a project's itemized breakdown.
type Item struct {
	Kind       ItemKind
	Place      dbt.Place
	Label      string
	Start      time.Time
	End        time.Time
	Minutes    float64
	DistanceKm float64
	// Shares is the size of the pool a shared interval was split across, 1 for direct ones.
	Shares int
}

type Bucket struct {
	ProjectID   uuid.UUID
	TimeMinutes float64
	DistanceKm  float64
	FuelLiters  float64
	FuelCost    float64
	TimeCost    float64
	Items       []Item
}

func (b *Bucket) add(o *Bucket) {
	b.TimeMinutes += o.TimeMinutes
	b.DistanceKm += o.DistanceKm
	b.FuelLiters += o.FuelLiters
	b.FuelCost += o.FuelCost
	b.TimeCost += o.TimeCost
	b.Items = append(b.Items, o.Items...)
}

// Unallocated is a shared trip nobody could be charged for.
type Unallocated struct {
	TripID      uuid.UUID
	WorkDayID   uuid.UUID
	Place       dbt.Place
	EndLocation string
	Minutes     float64
	DistanceKm  float64
	FuelLiters  float64
	FuelCost    float64
	Reason      string
}

// Allocation maps projects to their totals. Order keeps first-encountered order.
type Allocation struct {
	Order       []uuid.UUID
	Buckets     map[uuid.UUID]*Bucket
	Unallocated []Unallocated
}

func newAllocation() Allocation {
	return Allocation{Buckets: make(map[uuid.UUID]*Bucket)}
}

func (a *Allocation) bucket(id uuid.UUID) *Bucket {
	if a.Buckets == nil {
		a.Buckets = make(map[uuid.UUID]*Bucket)
	}
	b, ok := a.Buckets[id]
	if !ok {
		b = &Bucket{ProjectID: id}
		a.Buckets[id] = b
		a.Order = append(a.Order, id)
	}
	return b
}

// Projects returns the buckets in insertion order.
func (a Allocation) Projects() []*Bucket {
	out := make([]*Bucket, 0, len(a.Order))
	for _, id := range a.Order {
		out = append(out, a.Buckets[id])
	}
	return out
}

func (a Allocation) Get(id uuid.UUID) (*Bucket, bool) {
	b, ok := a.Buckets[id]
	return b, ok
}

// Totals sums every project bucket. Unallocated trips are not included.
func (a Allocation) Totals() Bucket {
	var t Bucket
	for _, b := range a.Projects() {
		t.TimeMinutes += b.TimeMinutes
		t.DistanceKm += b.DistanceKm
		t.FuelLiters += b.FuelLiters
		t.FuelCost += b.FuelCost
		t.TimeCost += b.TimeCost
	}
	return t
}

// Merge sums per-project totals of independently computed allocations.
func Merge(parts ...Allocation) Allocation {
	out := newAllocation()
	for _, p := range parts {
		for _, b := range p.Projects() {
			out.bucket(b.ProjectID).add(b)
		}
		out.Unallocated = append(out.Unallocated, p.Unallocated...)
	}
	return out
}
