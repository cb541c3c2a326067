package mem

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	dbt "drivelog/db/db"
)

// inMemoryJournalDBWrapper is an in-memory implementation of dbt.JournalDBWrapper.
// Timeline records live in slices so reads come back in insertion order.
type inMemoryJournalDBWrapper struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	data journalData
}

type journalData struct {
	states       map[dbt.UserID][]dbt.UserState
	workingDays  []dbt.WorkingDay
	workDays     []dbt.WorkDay
	projects     []dbt.Project
	trips        []dbt.Trip
	activities   []dbt.Activity
	sessions     []dbt.ShoppingSession
	idleTimes    []dbt.IdleTime
	fuelPurchase []dbt.FuelPurchase
}

// NewInMemoryJournalDBWrapper creates and returns a new instance of inMemoryJournalDBWrapper.
func NewInMemoryJournalDBWrapper() dbt.JournalDBWrapper {
	return &inMemoryJournalDBWrapper{
		data: journalData{states: make(map[dbt.UserID][]dbt.UserState)},
	}
}

func (d journalData) clone() journalData {
	out := journalData{
		states:       make(map[dbt.UserID][]dbt.UserState, len(d.states)),
		workingDays:  slices.Clone(d.workingDays),
		workDays:     slices.Clone(d.workDays),
		projects:     slices.Clone(d.projects),
		trips:        slices.Clone(d.trips),
		activities:   slices.Clone(d.activities),
		sessions:     slices.Clone(d.sessions),
		idleTimes:    slices.Clone(d.idleTimes),
		fuelPurchase: slices.Clone(d.fuelPurchase),
	}
	for k, v := range d.states {
		out.states[k] = slices.Clone(v)
	}
	return out
}

// Transaction snapshots the whole store and restores it when fn fails.
// Transactions are serialized; nested calls join the outer one.
func (db *inMemoryJournalDBWrapper) Transaction(ctx context.Context, fn func(tx dbt.JournalDBWrapper) error) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	db.mu.RLock()
	snapshot := db.data.clone()
	db.mu.RUnlock()

	if err := fn(&inMemoryTx{db}); err != nil {
		db.mu.Lock()
		db.data = snapshot
		db.mu.Unlock()
		return err
	}
	return nil
}

// inMemoryTx is the view handed to a transaction body.
type inMemoryTx struct {
	*inMemoryJournalDBWrapper
}

func (tx *inMemoryTx) Transaction(ctx context.Context, fn func(tx dbt.JournalDBWrapper) error) error {
	return fn(tx)
}

func (db *inMemoryJournalDBWrapper) Ping(ctx context.Context) error {
	return ctx.Err()
}

// GetLatestUserState returns the most recent session log entry of user.
func (db *inMemoryJournalDBWrapper) GetLatestUserState(ctx context.Context, user dbt.UserID) (*dbt.UserState, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	states := db.data.states[user]
	if len(states) == 0 {
		return nil, fmt.Errorf("user state for %d: %w", user, dbt.ErrNotFound)
	}
	s := states[len(states)-1]
	s.Payload = slices.Clone(s.Payload)
	return &s, nil
}

func (db *inMemoryJournalDBWrapper) AppendUserState(ctx context.Context, state *dbt.UserState) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	s := *state
	s.Payload = slices.Clone(state.Payload)
	db.data.states[state.User] = append(db.data.states[state.User], s)
	return nil
}

func (db *inMemoryJournalDBWrapper) CreateWorkingDay(ctx context.Context, day *dbt.WorkingDay) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, d := range db.data.workingDays {
		if d.ID == day.ID {
			return fmt.Errorf("working day with ID %s: %w", day.ID, dbt.ErrAlreadyExists)
		}
	}
	db.data.workingDays = append(db.data.workingDays, copyWorkingDay(*day))
	return nil
}

func (db *inMemoryJournalDBWrapper) GetOpenWorkingDay(ctx context.Context, user dbt.UserID) (*dbt.WorkingDay, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for i := len(db.data.workingDays) - 1; i >= 0; i-- {
		d := db.data.workingDays[i]
		if d.User == user && d.IsOpen() {
			out := copyWorkingDay(d)
			return &out, nil
		}
	}
	return nil, fmt.Errorf("open working day for %d: %w", user, dbt.ErrNotFound)
}

func (db *inMemoryJournalDBWrapper) CloseWorkingDay(ctx context.Context, id uuid.UUID, end time.Time) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for i := range db.data.workingDays {
		if db.data.workingDays[i].ID == id {
			e := end
			db.data.workingDays[i].End = &e
			return nil
		}
	}
	return fmt.Errorf("working day with ID %s not found for update: %w", id, dbt.ErrNotFound)
}

func (db *inMemoryJournalDBWrapper) CountWorkingDaysSince(ctx context.Context, since time.Time) (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var n int64
	for _, d := range db.data.workingDays {
		if !d.Start.Before(since) {
			n++
		}
	}
	return n, nil
}

func (db *inMemoryJournalDBWrapper) CreateWorkDay(ctx context.Context, day *dbt.WorkDay) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, d := range db.data.workDays {
		if d.ID == day.ID {
			return fmt.Errorf("work day with ID %s: %w", day.ID, dbt.ErrAlreadyExists)
		}
	}
	db.data.workDays = append(db.data.workDays, copyWorkDay(*day))
	return nil
}

func (db *inMemoryJournalDBWrapper) GetWorkDay(ctx context.Context, id uuid.UUID) (*dbt.WorkDay, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, d := range db.data.workDays {
		if d.ID == id {
			out := copyWorkDay(d)
			return &out, nil
		}
	}
	return nil, fmt.Errorf("work day with ID %s: %w", id, dbt.ErrNotFound)
}

func (db *inMemoryJournalDBWrapper) GetOpenWorkDay(ctx context.Context, user dbt.UserID) (*dbt.WorkDay, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for i := len(db.data.workDays) - 1; i >= 0; i-- {
		d := db.data.workDays[i]
		if d.User == user && d.IsOpen() {
			out := copyWorkDay(d)
			return &out, nil
		}
	}
	return nil, fmt.Errorf("open work day for %d: %w", user, dbt.ErrNotFound)
}

func (db *inMemoryJournalDBWrapper) CloseWorkDay(ctx context.Context, id uuid.UUID, end time.Time) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for i := range db.data.workDays {
		if db.data.workDays[i].ID == id {
			e := end
			db.data.workDays[i].End = &e
			return nil
		}
	}
	return fmt.Errorf("work day with ID %s not found for update: %w", id, dbt.ErrNotFound)
}

// ListWorkDays returns the user's WorkDays of one calendar date ordered by start.
func (db *inMemoryJournalDBWrapper) ListWorkDays(ctx context.Context, user dbt.UserID, date time.Time) ([]dbt.WorkDay, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	out := []dbt.WorkDay{}
	for _, d := range db.data.workDays {
		if d.User == user && sameDay(d.Date, date) {
			out = append(out, copyWorkDay(d))
		}
	}
	slices.SortStableFunc(out, func(a, b dbt.WorkDay) int { return a.Start.Compare(b.Start) })
	return out, nil
}

func (db *inMemoryJournalDBWrapper) CreateProject(ctx context.Context, project *dbt.Project) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, p := range db.data.projects {
		if p.ID == project.ID || p.Name == project.Name {
			return fmt.Errorf("project %q: %w", project.Name, dbt.ErrAlreadyExists)
		}
	}
	db.data.projects = append(db.data.projects, copyProject(*project))
	return nil
}

func (db *inMemoryJournalDBWrapper) GetProject(ctx context.Context, id uuid.UUID) (*dbt.Project, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, p := range db.data.projects {
		if p.ID == id {
			out := copyProject(p)
			return &out, nil
		}
	}
	return nil, fmt.Errorf("project with ID %s: %w", id, dbt.ErrNotFound)
}

func (db *inMemoryJournalDBWrapper) GetProjectByName(ctx context.Context, name string) (*dbt.Project, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, p := range db.data.projects {
		if p.Name == name {
			out := copyProject(p)
			return &out, nil
		}
	}
	return nil, fmt.Errorf("project %q: %w", name, dbt.ErrNotFound)
}

func (db *inMemoryJournalDBWrapper) ListProjects(ctx context.Context, activeOnly bool) ([]dbt.Project, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	out := []dbt.Project{}
	for _, p := range db.data.projects {
		if activeOnly && !p.IsActive {
			continue
		}
		out = append(out, copyProject(p))
	}
	return out, nil
}

func (db *inMemoryJournalDBWrapper) requireWorkDay(id uuid.UUID) error {
	for _, d := range db.data.workDays {
		if d.ID == id {
			return nil
		}
	}
	return fmt.Errorf("work day with ID %s: %w", id, dbt.ErrNotFound)
}

func (db *inMemoryJournalDBWrapper) CreateTrip(ctx context.Context, trip *dbt.Trip) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.requireWorkDay(trip.WorkDayID); err != nil {
		return err
	}
	db.data.trips = append(db.data.trips, copyTrip(*trip))
	return nil
}

func (db *inMemoryJournalDBWrapper) CreateActivity(ctx context.Context, activity *dbt.Activity) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.requireWorkDay(activity.WorkDayID); err != nil {
		return err
	}
	db.data.activities = append(db.data.activities, *activity)
	return nil
}

func (db *inMemoryJournalDBWrapper) CreateShoppingSession(ctx context.Context, session *dbt.ShoppingSession) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.requireWorkDay(session.WorkDayID); err != nil {
		return err
	}
	s := *session
	s.ProjectIDs = slices.Clone(session.ProjectIDs)
	db.data.sessions = append(db.data.sessions, s)
	return nil
}

func (db *inMemoryJournalDBWrapper) CreateIdleTime(ctx context.Context, idle *dbt.IdleTime) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.requireWorkDay(idle.WorkDayID); err != nil {
		return err
	}
	i := *idle
	i.ProjectIDs = slices.Clone(idle.ProjectIDs)
	db.data.idleTimes = append(db.data.idleTimes, i)
	return nil
}

func (db *inMemoryJournalDBWrapper) CreateFuelPurchase(ctx context.Context, purchase *dbt.FuelPurchase) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.requireWorkDay(purchase.WorkDayID); err != nil {
		return err
	}
	db.data.fuelPurchase = append(db.data.fuelPurchase, *purchase)
	return nil
}

func (db *inMemoryJournalDBWrapper) GetLastTrip(ctx context.Context, workDayID uuid.UUID) (*dbt.Trip, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var last *dbt.Trip
	for i := range db.data.trips {
		t := db.data.trips[i]
		if t.WorkDayID != workDayID {
			continue
		}
		if last == nil || !t.End.Before(last.End) {
			c := copyTrip(t)
			last = &c
		}
	}
	if last == nil {
		return nil, fmt.Errorf("last trip of work day %s: %w", workDayID, dbt.ErrNotFound)
	}
	return last, nil
}

// GetWorkDayRecords collects every interval of one WorkDay in insertion order.
func (db *inMemoryJournalDBWrapper) GetWorkDayRecords(ctx context.Context, workDayID uuid.UUID) (*dbt.WorkDayRecords, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var out dbt.WorkDayRecords
	found := false
	for _, d := range db.data.workDays {
		if d.ID == workDayID {
			out.WorkDay = copyWorkDay(d)
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("work day with ID %s: %w", workDayID, dbt.ErrNotFound)
	}
	for _, a := range db.data.activities {
		if a.WorkDayID == workDayID {
			out.Activities = append(out.Activities, a)
		}
	}
	for _, t := range db.data.trips {
		if t.WorkDayID == workDayID {
			out.Trips = append(out.Trips, copyTrip(t))
		}
	}
	for _, s := range db.data.sessions {
		if s.WorkDayID == workDayID {
			s.ProjectIDs = slices.Clone(s.ProjectIDs)
			out.ShoppingSessions = append(out.ShoppingSessions, s)
		}
	}
	for _, i := range db.data.idleTimes {
		if i.WorkDayID == workDayID {
			i.ProjectIDs = slices.Clone(i.ProjectIDs)
			out.IdleTimes = append(out.IdleTimes, i)
		}
	}
	for _, p := range db.data.fuelPurchase {
		if p.WorkDayID == workDayID {
			out.FuelPurchases = append(out.FuelPurchases, p)
		}
	}
	return &out, nil
}

// DataLoaderGetProjects retrieves projects for a batch of IDs. Missing IDs are left out of the map.
func (db *inMemoryJournalDBWrapper) DataLoaderGetProjects(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*dbt.Project, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	out := make(map[uuid.UUID]*dbt.Project, len(ids))
	for _, id := range ids {
		for _, p := range db.data.projects {
			if p.ID == id {
				c := copyProject(p)
				out[id] = &c
				break
			}
		}
	}
	return out, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyWorkDay(d dbt.WorkDay) dbt.WorkDay {
	d.End = copyTime(d.End)
	return d
}

func copyWorkingDay(d dbt.WorkingDay) dbt.WorkingDay {
	d.End = copyTime(d.End)
	return d
}

func copyProject(p dbt.Project) dbt.Project {
	if p.ExternalRef != nil {
		r := *p.ExternalRef
		p.ExternalRef = &r
	}
	return p
}

func copyTrip(t dbt.Trip) dbt.Trip {
	if t.ProjectID != nil {
		id := *t.ProjectID
		t.ProjectID = &id
	}
	return t
}
