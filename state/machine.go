package state

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"drivelog/catalog"
	"drivelog/config"
	dbt "drivelog/db/db"
	"drivelog/errs"
	"drivelog/fuel"
	"drivelog/libs/diff"
	"drivelog/mq/mq"
	"drivelog/resolver"
)

// FuelLedger is the part of the fuel model the machine drives.
type FuelLedger interface {
	ApplyTrip(ctx context.Context, vehicle string, distanceKm float64) (fuel.UpdateResult, error)
	ApplyRefuel(ctx context.Context, vehicle string, liters, paid float64) (fuel.UpdateResult, error)
}

// Catalog lists destinations. Implemented by *catalog.Service.
type Catalog interface {
	Available() bool
	Combined(ctx context.Context, user dbt.UserID) []catalog.Object
	ListAll(ctx context.Context, user dbt.UserID) []catalog.Object
	Find(ctx context.Context, user dbt.UserID, id string) (catalog.Object, bool)
	ArrivalComment(ctx context.Context, orderID, userName string, at time.Time) error
	DepartureComment(ctx context.Context, orderID, userName string, at time.Time) error
}

// Notifier reaches the admins. Implemented by *notify.Notifier.
type Notifier interface {
	NotifyAdmins(ctx context.Context, text string) map[int64]error
}

// User is the chat user issuing a trigger.
type User struct {
	ID        dbt.UserID `json:"id"`
	Username  string     `json:"username,omitempty"`
	FirstName string     `json:"first_name,omitempty"`
}

// DisplayName is used in CRM comments.
func (u User) DisplayName() string {
	switch {
	case u.FirstName != "":
		return u.FirstName
	case u.Username != "":
		return "@" + u.Username
	}
	return fmt.Sprintf("ID %d", u.ID)
}

// Result is what a trigger produced. Only the fields relevant to it are set.
type Result struct {
	State           Tag                  `json:"state"`
	Payload         Payload              `json:"payload,omitempty"`
	WorkingDay      *dbt.WorkingDay      `json:"working_day,omitempty"`
	WorkDay         *dbt.WorkDay         `json:"work_day,omitempty"`
	WorkDays        []dbt.WorkDay        `json:"work_days,omitempty"`
	AlreadyOpen     bool                 `json:"already_open,omitempty"`
	Vehicles        []string             `json:"vehicles,omitempty"`
	Objects         []catalog.Object     `json:"objects,omitempty"`
	Matches         []resolver.Match     `json:"matches,omitempty"`
	Project         *dbt.Project         `json:"project,omitempty"`
	Trip            *dbt.Trip            `json:"trip,omitempty"`
	Activities      []dbt.Activity       `json:"activities,omitempty"`
	ShoppingSession *dbt.ShoppingSession `json:"shopping_session,omitempty"`
	IdleTime        *dbt.IdleTime        `json:"idle_time,omitempty"`
	FuelPurchase    *dbt.FuelPurchase    `json:"fuel_purchase,omitempty"`
	Fuel            *fuel.UpdateResult   `json:"fuel,omitempty"`
	FuelWarning     string               `json:"fuel_warning,omitempty"`
}

// Machine is the per-user finite state protocol. Every trigger runs in one
// storage transaction; side effects on collaborators run after commit and
// never undo the transition.
type Machine struct {
	db       dbt.JournalDBWrapper
	fuel     FuelLedger
	catalog  Catalog
	notifier Notifier
	events   mq.JournalMessageQueueWrapper
	settings config.Provider
	now      func() time.Time
}

// NewMachine wires the machine. events may be nil, then no interval events are published.
func NewMachine(db dbt.JournalDBWrapper, ledger FuelLedger, cat Catalog, notifier Notifier, events mq.JournalMessageQueueWrapper, settings config.Provider) *Machine {
	return &Machine{
		db:       db,
		fuel:     ledger,
		catalog:  cat,
		notifier: notifier,
		events:   events,
		settings: settings,
		now:      time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

// step is the context of one running trigger.
type step struct {
	ctx   context.Context
	tx    dbt.JournalDBWrapper
	user  User
	op    string
	cur   Payload
	now   time.Time
	res   *Result
	after []func(ctx context.Context)
}

// afterCommit queues a best effort side effect.
func (s *step) afterCommit(fn func(ctx context.Context)) {
	s.after = append(s.after, fn)
}

// transition runs fn inside one transaction. A nil payload from fn keeps the
// current state; anything else is appended to the session log.
func (m *Machine) transition(ctx context.Context, u User, op string, fn func(s *step) (Payload, error)) (*Result, error) {
	s := &step{ctx: ctx, user: u, op: op, now: m.now(), res: &Result{}}
	err := m.db.Transaction(ctx, func(tx dbt.JournalDBWrapper) error {
		s.tx = tx
		s.after = nil
		*s.res = Result{}

		cur, err := m.load(ctx, tx, u.ID)
		if err != nil {
			return err
		}
		s.cur = cur

		next, err := fn(s)
		if err != nil {
			return err
		}
		if next == nil {
			s.res.State, s.res.Payload = cur.State(), cur
			return nil
		}
		if err := m.save(ctx, tx, u.ID, cur, next, s.now); err != nil {
			return err
		}
		s.res.State, s.res.Payload = next.State(), next
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, fn := range s.after {
		fn(ctx)
	}
	return s.res, nil
}

func (m *Machine) load(ctx context.Context, tx dbt.JournalDBWrapper, user dbt.UserID) (Payload, error) {
	row, err := tx.GetLatestUserState(ctx, user)
	if errors.Is(err, dbt.ErrNotFound) {
		return Idle{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state of %d: %w", user, err)
	}
	p, err := Decode(Tag(row.State), row.Payload)
	if err != nil {
		log.Printf("warning: user %d: %v, falling back to idle", user, err)
		return Idle{}, nil
	}
	return p, nil
}

func (m *Machine) save(ctx context.Context, tx dbt.JournalDBWrapper, user dbt.UserID, cur, next Payload, now time.Time) error {
	raw, err := Encode(next)
	if err != nil {
		return err
	}
	if cur.State() == next.State() {
		if changes, err := diff.Changes(cur, next); err == nil && len(changes) > 0 {
			log.Printf("user %d: %s payload: %s", user, next.State(), strings.Join(changes, "; "))
		}
	} else {
		log.Printf("user %d: %s -> %s", user, cur.State(), next.State())
	}
	if err := tx.AppendUserState(ctx, &dbt.UserState{
		ID:        uuid.New(),
		User:      user,
		State:     string(next.State()),
		Payload:   raw,
		CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("failed to save state of %d: %w", user, err)
	}
	return nil
}

// Current returns the state the user is in.
func (m *Machine) Current(ctx context.Context, user dbt.UserID) (Payload, error) {
	return m.load(ctx, m.db, user)
}

// ParsePositive reads a user typed number. A comma works as decimal separator.
func ParsePositive(op, text string) (float64, error) {
	s := strings.ReplaceAll(strings.TrimSpace(text), ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errs.UserInputf(op, "Введите число, например 12.5")
	}
	if v <= 0 {
		return 0, errs.UserInputf(op, "Число должно быть больше нуля")
	}
	return v, nil
}

func wrongState(op string, cur Payload) error {
	return errs.Preconditionf(op, "команда недоступна в состоянии %s", cur.State())
}

// free reports an error unless the user can start something new.
func free(op string, cur Payload) error {
	switch p := cur.(type) {
	case Idle:
		return nil
	case Working:
		if p.OnProject() {
			return errs.Preconditionf(op, "Сначала завершите работу командой /end_activity")
		}
		return nil
	case Shopping:
		return errs.Preconditionf(op, "Закупка уже начата. Закончите текущую закупку командой /end_activity")
	}
	return wrongState(op, cur)
}

func (s *step) openWorkDay() (*dbt.WorkDay, error) {
	wd, err := s.tx.GetOpenWorkDay(s.ctx, s.user.ID)
	if errors.Is(err, dbt.ErrNotFound) {
		return nil, errs.Preconditionf(s.op, "Нет активного рейса. Начните рейс с /start_trip")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open work day: %w", err)
	}
	return wd, nil
}

func (s *step) openWorkingDay() (*dbt.WorkingDay, error) {
	wd, err := s.tx.GetOpenWorkingDay(s.ctx, s.user.ID)
	if errors.Is(err, dbt.ErrNotFound) {
		return nil, errs.Preconditionf(s.op, "Рабочий день не начат. Используйте /start_day")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open working day: %w", err)
	}
	return wd, nil
}

// lastDestination is the end location of the latest trip of workDay, if any.
func (s *step) lastDestination(workDay uuid.UUID) (string, error) {
	t, err := s.tx.GetLastTrip(s.ctx, workDay)
	if errors.Is(err, dbt.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get last trip: %w", err)
	}
	return t.EndLocation, nil
}

func (s *step) projectByName(name string) (*dbt.Project, error) {
	p, err := s.tx.GetProjectByName(s.ctx, name)
	if errors.Is(err, dbt.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project %q: %w", name, err)
	}
	return p, nil
}

// ensureProject returns the project named name, creating it when missing.
func (s *step) ensureProject(name, description string, ref *dbt.ExternalRef) (*dbt.Project, bool, error) {
	p, err := s.projectByName(name)
	if err != nil || p != nil {
		return p, false, err
	}
	p = &dbt.Project{ID: uuid.New(), Name: name, Description: description, IsActive: true, ExternalRef: ref}
	if err := s.tx.CreateProject(s.ctx, p); err != nil {
		return nil, false, fmt.Errorf("failed to create project %q: %w", name, err)
	}
	log.Printf("created project %q (%s)", name, p.ID)
	return p, true, nil
}

// objectProject materializes a catalog object as a project.
func (s *step) objectProject(o catalog.Object) (*dbt.Project, error) {
	desc := "Статический объект"
	if !o.IsStatic() {
		desc = fmt.Sprintf("CRM объект (ID: %s)", o.ID)
	}
	p, _, err := s.ensureProject(o.Name, desc, o.ExternalRef())
	return p, err
}

func (m *Machine) find(s *step, id string) (catalog.Object, error) {
	o, ok := m.catalog.Find(s.ctx, s.user.ID, id)
	if !ok {
		return catalog.Object{}, errs.NotFoundf(s.op, "Объект %s не найден", id)
	}
	return o, nil
}

// publish announces a closed interval. Failures are logged only.
func (m *Machine) publish(msg mq.IntervalMessage) {
	if m.events == nil {
		return
	}
	q := m.events.GetIntervalMessageQueue(mq.ActionCreate)
	if q == nil {
		return
	}
	if err := q.Publish(msg); err != nil {
		log.Printf("warning: failed to publish %s interval %s: %v", msg.Kind, msg.ID, err)
	}
}

func intervalMessage(kind mq.IntervalKind, id uuid.UUID, user dbt.UserID, iv dbt.Interval) mq.IntervalMessage {
	return mq.IntervalMessage{
		ID:        id,
		WorkDayID: iv.WorkDayID,
		User:      user,
		Kind:      kind,
		Start:     iv.Start,
		End:       iv.End,
		Minutes:   iv.DurationMinutes(),
	}
}
