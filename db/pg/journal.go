package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbt "drivelog/db/db"
)

// GORMJournalDBWrapper is a GORM-based PostgreSQL implementation of dbt.JournalDBWrapper.
type GORMJournalDBWrapper struct {
	db *gorm.DB
}

// NewGORMJournalDBWrapper creates and returns a new instance of GORMJournalDBWrapper.
func NewGORMJournalDBWrapper(db *gorm.DB) dbt.JournalDBWrapper {
	return &GORMJournalDBWrapper{
		db: db,
	}
}

func isDuplicate(err error) bool {
	return strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}

func isMissingParent(err error) bool {
	return strings.Contains(err.Error(), "violates foreign key constraint")
}

// notFound maps gorm.ErrRecordNotFound to dbt.ErrNotFound and wraps everything else.
func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, dbt.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

func (pgdb *GORMJournalDBWrapper) create(ctx context.Context, value any, what string) error {
	result := pgdb.db.WithContext(ctx).Create(value)
	if result.Error != nil {
		if isDuplicate(result.Error) {
			return fmt.Errorf("%s: %w", what, dbt.ErrAlreadyExists)
		}
		if isMissingParent(result.Error) {
			return fmt.Errorf("%s references a missing work day: %w", what, dbt.ErrNotFound)
		}
		return fmt.Errorf("failed to create %s: %w", what, result.Error)
	}
	return nil
}

// Transaction binds fn to one database transaction. Nested calls use savepoints.
func (pgdb *GORMJournalDBWrapper) Transaction(ctx context.Context, fn func(tx dbt.JournalDBWrapper) error) error {
	return pgdb.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GORMJournalDBWrapper{db: tx})
	})
}

func (pgdb *GORMJournalDBWrapper) Ping(ctx context.Context) error {
	sqlDB, err := pgdb.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func (pgdb *GORMJournalDBWrapper) GetLatestUserState(ctx context.Context, user dbt.UserID) (*dbt.UserState, error) {
	var m UserStateModel
	result := pgdb.db.WithContext(ctx).Where("user_id = ?", int64(user)).Order("created_at DESC").First(&m)
	if result.Error != nil {
		return nil, notFound(result.Error, fmt.Sprintf("user state for %d", user))
	}
	s := &dbt.UserState{ID: m.ID, User: dbt.UserID(m.UserID), State: m.State, CreatedAt: m.CreatedAt}
	if m.Payload != nil {
		s.Payload = json.RawMessage(*m.Payload)
	}
	return s, nil
}

func (pgdb *GORMJournalDBWrapper) AppendUserState(ctx context.Context, state *dbt.UserState) error {
	m := UserStateModel{ID: state.ID, UserID: int64(state.User), State: state.State, CreatedAt: state.CreatedAt}
	if len(state.Payload) > 0 {
		p := string(state.Payload)
		m.Payload = &p
	}
	return pgdb.create(ctx, &m, fmt.Sprintf("user state %s", state.ID))
}

func (pgdb *GORMJournalDBWrapper) CreateWorkingDay(ctx context.Context, day *dbt.WorkingDay) error {
	m := WorkingDayModel{ID: day.ID, UserID: int64(day.User), StartTime: day.Start, EndTime: day.End, Date: dbt.DateOf(day.Date)}
	return pgdb.create(ctx, &m, fmt.Sprintf("working day with ID %s", day.ID))
}

func (pgdb *GORMJournalDBWrapper) GetOpenWorkingDay(ctx context.Context, user dbt.UserID) (*dbt.WorkingDay, error) {
	var m WorkingDayModel
	result := pgdb.db.WithContext(ctx).Where("user_id = ? AND end_time IS NULL", int64(user)).Order("start_time DESC").First(&m)
	if result.Error != nil {
		return nil, notFound(result.Error, fmt.Sprintf("open working day for %d", user))
	}
	d := m.toWorkingDay()
	return &d, nil
}

func (pgdb *GORMJournalDBWrapper) CloseWorkingDay(ctx context.Context, id uuid.UUID, end time.Time) error {
	result := pgdb.db.WithContext(ctx).Model(&WorkingDayModel{}).Where("id = ?", id).Update("end_time", end)
	if result.Error != nil {
		return fmt.Errorf("failed to close working day %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("working day with ID %s not found for update: %w", id, dbt.ErrNotFound)
	}
	return nil
}

func (pgdb *GORMJournalDBWrapper) CountWorkingDaysSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	result := pgdb.db.WithContext(ctx).Model(&WorkingDayModel{}).Where("start_time >= ?", since).Count(&n)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to count working days: %w", result.Error)
	}
	return n, nil
}

func (pgdb *GORMJournalDBWrapper) CreateWorkDay(ctx context.Context, day *dbt.WorkDay) error {
	m := WorkDayModel{ID: day.ID, UserID: int64(day.User), Vehicle: day.Vehicle, StartTime: day.Start, EndTime: day.End, Date: dbt.DateOf(day.Date)}
	return pgdb.create(ctx, &m, fmt.Sprintf("work day with ID %s", day.ID))
}

func (pgdb *GORMJournalDBWrapper) GetWorkDay(ctx context.Context, id uuid.UUID) (*dbt.WorkDay, error) {
	var m WorkDayModel
	result := pgdb.db.WithContext(ctx).First(&m, "id = ?", id)
	if result.Error != nil {
		return nil, notFound(result.Error, fmt.Sprintf("work day with ID %s", id))
	}
	d := m.toWorkDay()
	return &d, nil
}

func (pgdb *GORMJournalDBWrapper) GetOpenWorkDay(ctx context.Context, user dbt.UserID) (*dbt.WorkDay, error) {
	var m WorkDayModel
	result := pgdb.db.WithContext(ctx).Where("user_id = ? AND end_time IS NULL", int64(user)).Order("start_time DESC").First(&m)
	if result.Error != nil {
		return nil, notFound(result.Error, fmt.Sprintf("open work day for %d", user))
	}
	d := m.toWorkDay()
	return &d, nil
}

func (pgdb *GORMJournalDBWrapper) CloseWorkDay(ctx context.Context, id uuid.UUID, end time.Time) error {
	result := pgdb.db.WithContext(ctx).Model(&WorkDayModel{}).Where("id = ?", id).Update("end_time", end)
	if result.Error != nil {
		return fmt.Errorf("failed to close work day %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("work day with ID %s not found for update: %w", id, dbt.ErrNotFound)
	}
	return nil
}

func (pgdb *GORMJournalDBWrapper) ListWorkDays(ctx context.Context, user dbt.UserID, date time.Time) ([]dbt.WorkDay, error) {
	var models []WorkDayModel
	result := pgdb.db.WithContext(ctx).
		Where("user_id = ? AND date = ?", int64(user), date.Format(time.DateOnly)).
		Order("start_time ASC").
		Find(&models)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list work days of %d: %w", user, result.Error)
	}
	out := make([]dbt.WorkDay, 0, len(models))
	for _, m := range models {
		out = append(out, m.toWorkDay())
	}
	return out, nil
}

func (pgdb *GORMJournalDBWrapper) CreateProject(ctx context.Context, project *dbt.Project) error {
	m := toProjectModel(project)
	return pgdb.create(ctx, &m, fmt.Sprintf("project %q", project.Name))
}

func (pgdb *GORMJournalDBWrapper) GetProject(ctx context.Context, id uuid.UUID) (*dbt.Project, error) {
	var m ProjectModel
	result := pgdb.db.WithContext(ctx).First(&m, "id = ?", id)
	if result.Error != nil {
		return nil, notFound(result.Error, fmt.Sprintf("project with ID %s", id))
	}
	return m.toProject(), nil
}

func (pgdb *GORMJournalDBWrapper) GetProjectByName(ctx context.Context, name string) (*dbt.Project, error) {
	var m ProjectModel
	result := pgdb.db.WithContext(ctx).First(&m, "name = ?", name)
	if result.Error != nil {
		return nil, notFound(result.Error, fmt.Sprintf("project %q", name))
	}
	return m.toProject(), nil
}

func (pgdb *GORMJournalDBWrapper) ListProjects(ctx context.Context, activeOnly bool) ([]dbt.Project, error) {
	var models []ProjectModel
	query := pgdb.db.WithContext(ctx).Order("created_at ASC")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	if result := query.Find(&models); result.Error != nil {
		return nil, fmt.Errorf("failed to list projects: %w", result.Error)
	}
	out := make([]dbt.Project, 0, len(models))
	for _, m := range models {
		out = append(out, *m.toProject())
	}
	return out, nil
}

func (pgdb *GORMJournalDBWrapper) CreateTrip(ctx context.Context, trip *dbt.Trip) error {
	m := TripModel{
		ID:            trip.ID,
		WorkDayID:     trip.WorkDayID,
		StartTime:     trip.Start,
		EndTime:       trip.End,
		StartLocation: trip.StartLocation,
		EndLocation:   trip.EndLocation,
		DistanceKm:    trip.DistanceKm,
		ProjectID:     trip.ProjectID,
	}
	return pgdb.create(ctx, &m, fmt.Sprintf("trip %s", trip.ID))
}

func (pgdb *GORMJournalDBWrapper) CreateActivity(ctx context.Context, activity *dbt.Activity) error {
	m := ActivityModel{
		ID:              activity.ID,
		WorkDayID:       activity.WorkDayID,
		ProjectID:       activity.ProjectID,
		ActivityType:    string(activity.Type),
		StartTime:       activity.Start,
		EndTime:         activity.End,
		DurationMinutes: activity.DurationMinutes,
	}
	return pgdb.create(ctx, &m, fmt.Sprintf("activity %s", activity.ID))
}

func (pgdb *GORMJournalDBWrapper) CreateShoppingSession(ctx context.Context, session *dbt.ShoppingSession) error {
	m := ShoppingSessionModel{intervalSetModel{
		ID:         session.ID,
		WorkDayID:  session.WorkDayID,
		StartTime:  session.Start,
		EndTime:    session.End,
		ProjectIDs: uuidArray(session.ProjectIDs),
	}}
	return pgdb.create(ctx, &m, fmt.Sprintf("shopping session %s", session.ID))
}

func (pgdb *GORMJournalDBWrapper) CreateIdleTime(ctx context.Context, idle *dbt.IdleTime) error {
	m := IdleTimeModel{intervalSetModel{
		ID:         idle.ID,
		WorkDayID:  idle.WorkDayID,
		StartTime:  idle.Start,
		EndTime:    idle.End,
		ProjectIDs: uuidArray(idle.ProjectIDs),
	}}
	return pgdb.create(ctx, &m, fmt.Sprintf("idle time %s", idle.ID))
}

func (pgdb *GORMJournalDBWrapper) CreateFuelPurchase(ctx context.Context, purchase *dbt.FuelPurchase) error {
	m := FuelPurchaseModel{
		ID:               purchase.ID,
		WorkDayID:        purchase.WorkDayID,
		UserID:           int64(purchase.User),
		Vehicle:          purchase.Vehicle,
		OdometerPhotoRef: purchase.OdometerPhotoRef,
		OdometerReading:  purchase.OdometerReading,
		ReceiptPhotoRef:  purchase.ReceiptPhotoRef,
		Liters:           purchase.Liters,
		Amount:           decimalOf(purchase.Amount),
		CreatedAt:        purchase.CreatedAt,
	}
	return pgdb.create(ctx, &m, fmt.Sprintf("fuel purchase %s", purchase.ID))
}

func (pgdb *GORMJournalDBWrapper) GetLastTrip(ctx context.Context, workDayID uuid.UUID) (*dbt.Trip, error) {
	var m TripModel
	result := pgdb.db.WithContext(ctx).Where("work_day_id = ?", workDayID).Order("end_time DESC").First(&m)
	if result.Error != nil {
		return nil, notFound(result.Error, fmt.Sprintf("last trip of work day %s", workDayID))
	}
	t := m.toTrip()
	return &t, nil
}

// GetWorkDayRecords collects every interval of one WorkDay ordered by start time.
func (pgdb *GORMJournalDBWrapper) GetWorkDayRecords(ctx context.Context, workDayID uuid.UUID) (*dbt.WorkDayRecords, error) {
	wd, err := pgdb.GetWorkDay(ctx, workDayID)
	if err != nil {
		return nil, err
	}
	out := &dbt.WorkDayRecords{WorkDay: *wd}
	// new session so each Find starts from the shared condition only
	query := pgdb.db.WithContext(ctx).Where("work_day_id = ?", workDayID).Session(&gorm.Session{})

	var activities []ActivityModel
	if result := query.Order("start_time ASC").Find(&activities); result.Error != nil {
		return nil, fmt.Errorf("failed to get activities of work day %s: %w", workDayID, result.Error)
	}
	for _, m := range activities {
		out.Activities = append(out.Activities, m.toActivity())
	}

	var trips []TripModel
	if result := query.Order("start_time ASC").Find(&trips); result.Error != nil {
		return nil, fmt.Errorf("failed to get trips of work day %s: %w", workDayID, result.Error)
	}
	for _, m := range trips {
		out.Trips = append(out.Trips, m.toTrip())
	}

	var sessions []ShoppingSessionModel
	if result := query.Order("start_time ASC").Find(&sessions); result.Error != nil {
		return nil, fmt.Errorf("failed to get shopping sessions of work day %s: %w", workDayID, result.Error)
	}
	for _, m := range sessions {
		ids, err := parseUUIDArray(m.ProjectIDs)
		if err != nil {
			return nil, fmt.Errorf("shopping session %s has a malformed project list: %w", m.ID, err)
		}
		out.ShoppingSessions = append(out.ShoppingSessions, dbt.ShoppingSession{
			ID:         m.ID,
			Interval:   dbt.Interval{WorkDayID: m.WorkDayID, Start: m.StartTime, End: m.EndTime},
			ProjectIDs: ids,
		})
	}

	var idle []IdleTimeModel
	if result := query.Order("start_time ASC").Find(&idle); result.Error != nil {
		return nil, fmt.Errorf("failed to get idle times of work day %s: %w", workDayID, result.Error)
	}
	for _, m := range idle {
		ids, err := parseUUIDArray(m.ProjectIDs)
		if err != nil {
			return nil, fmt.Errorf("idle time %s has a malformed project list: %w", m.ID, err)
		}
		out.IdleTimes = append(out.IdleTimes, dbt.IdleTime{
			ID:         m.ID,
			Interval:   dbt.Interval{WorkDayID: m.WorkDayID, Start: m.StartTime, End: m.EndTime},
			ProjectIDs: ids,
		})
	}

	var purchases []FuelPurchaseModel
	if result := query.Order("created_at ASC").Find(&purchases); result.Error != nil {
		return nil, fmt.Errorf("failed to get fuel purchases of work day %s: %w", workDayID, result.Error)
	}
	for _, m := range purchases {
		out.FuelPurchases = append(out.FuelPurchases, m.toFuelPurchase())
	}
	return out, nil
}

// DataLoaderGetProjects retrieves projects for a batch of IDs in one query. Missing IDs are left out of the map.
func (pgdb *GORMJournalDBWrapper) DataLoaderGetProjects(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*dbt.Project, error) {
	out := make(map[uuid.UUID]*dbt.Project, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var models []ProjectModel
	if result := pgdb.db.WithContext(ctx).Where("id IN ?", ids).Find(&models); result.Error != nil {
		return nil, fmt.Errorf("failed to load projects: %w", result.Error)
	}
	for _, m := range models {
		out[m.ID] = m.toProject()
	}
	return out, nil
}
