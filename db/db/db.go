package db

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type JournalDBWrapper interface {
	// Session log
	GetLatestUserState(ctx context.Context, user UserID) (*UserState, error)
	AppendUserState(ctx context.Context, state *UserState) error
	// Working day
	CreateWorkingDay(ctx context.Context, day *WorkingDay) error
	GetOpenWorkingDay(ctx context.Context, user UserID) (*WorkingDay, error)
	CloseWorkingDay(ctx context.Context, id uuid.UUID, end time.Time) error
	CountWorkingDaysSince(ctx context.Context, since time.Time) (int64, error)
	// Work day
	CreateWorkDay(ctx context.Context, day *WorkDay) error
	GetWorkDay(ctx context.Context, id uuid.UUID) (*WorkDay, error)
	GetOpenWorkDay(ctx context.Context, user UserID) (*WorkDay, error)
	CloseWorkDay(ctx context.Context, id uuid.UUID, end time.Time) error
	ListWorkDays(ctx context.Context, user UserID, date time.Time) ([]WorkDay, error)
	// Project
	CreateProject(ctx context.Context, project *Project) error
	GetProject(ctx context.Context, id uuid.UUID) (*Project, error)
	GetProjectByName(ctx context.Context, name string) (*Project, error)
	ListProjects(ctx context.Context, activeOnly bool) ([]Project, error)
	// Timeline
	CreateTrip(ctx context.Context, trip *Trip) error
	CreateActivity(ctx context.Context, activity *Activity) error
	CreateShoppingSession(ctx context.Context, session *ShoppingSession) error
	CreateIdleTime(ctx context.Context, idle *IdleTime) error
	CreateFuelPurchase(ctx context.Context, purchase *FuelPurchase) error
	GetLastTrip(ctx context.Context, workDayID uuid.UUID) (*Trip, error)
	GetWorkDayRecords(ctx context.Context, workDayID uuid.UUID) (*WorkDayRecords, error)
	// Data Loader
	DataLoaderGetProjects(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Project, error)
	// Transaction runs fn against a wrapper bound to one transaction. Any error rolls everything back.
	Transaction(ctx context.Context, fn func(tx JournalDBWrapper) error) error
	Ping(ctx context.Context) error
}

// FuelDBWrapper stores the per-vehicle fuel ledger.
type FuelDBWrapper interface {
	GetVehicleFuel(ctx context.Context, vehicle string) (*VehicleFuelState, error)
	CreateVehicleFuel(ctx context.Context, state *VehicleFuelState) error
	// SwapVehicleFuel stores state only when the stored version still equals
	// state.Version, then advances it. Otherwise it returns ErrVersionConflict.
	SwapVehicleFuel(ctx context.Context, state *VehicleFuelState) error
	ListVehicleFuel(ctx context.Context) ([]VehicleFuelState, error)
}

// DateOf truncates t to its calendar day in t's location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
