package pg

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	dbt "drivelog/db/db"
)

type UserStateModel struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID  int64     `gorm:"not null;index"`
	State   string    `gorm:"size:64;not null"`
	Payload *string   `gorm:"type:jsonb"`
	// meta data
	CreatedAt time.Time `gorm:"not null;index"`
}

func (UserStateModel) TableName() string {
	return "user_states"
}

type WorkingDayModel struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	UserID    int64      `gorm:"not null;index"`
	StartTime time.Time  `gorm:"not null"`
	EndTime   *time.Time `gorm:""`
	Date      time.Time  `gorm:"type:date;not null"`
}

func (WorkingDayModel) TableName() string {
	return "working_days"
}

type WorkDayModel struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	UserID    int64      `gorm:"not null;index"`
	Vehicle   string     `gorm:"size:255"`
	StartTime time.Time  `gorm:"not null"`
	EndTime   *time.Time `gorm:""`
	Date      time.Time  `gorm:"type:date;not null"`
}

func (WorkDayModel) TableName() string {
	return "work_days"
}

// ProjectModel flattens the external reference into nullable columns.
type ProjectModel struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name            string    `gorm:"size:255;not null;uniqueIndex"`
	Description     string    `gorm:"type:text"`
	IsActive        bool      `gorm:"not null;default:true"`
	ExternalSource  *string   `gorm:"size:64"`
	ExternalID      *string   `gorm:"size:255"`
	ExternalIDLabel *string   `gorm:"size:255"`
	// meta data
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ProjectModel) TableName() string {
	return "projects"
}

type TripModel struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey"`
	WorkDayID     uuid.UUID  `gorm:"type:uuid;not null;index"`
	StartTime     time.Time  `gorm:"not null"`
	EndTime       time.Time  `gorm:"not null"`
	StartLocation string     `gorm:"size:255"`
	EndLocation   string     `gorm:"size:255;not null"`
	DistanceKm    float64    `gorm:"not null"`
	ProjectID     *uuid.UUID `gorm:"type:uuid"`
}

func (TripModel) TableName() string {
	return "trips"
}

type ActivityModel struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	WorkDayID       uuid.UUID `gorm:"type:uuid;not null;index"`
	ProjectID       uuid.UUID `gorm:"type:uuid;not null"`
	ActivityType    string    `gorm:"size:32;not null"`
	StartTime       time.Time `gorm:"not null"`
	EndTime         time.Time `gorm:"not null"`
	DurationMinutes int       `gorm:"not null"`
}

func (ActivityModel) TableName() string {
	return "activities"
}

// intervalSetModel is shared by shopping sessions and idle times.
type intervalSetModel struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey"`
	WorkDayID  uuid.UUID      `gorm:"type:uuid;not null;index"`
	StartTime  time.Time      `gorm:"not null"`
	EndTime    time.Time      `gorm:"not null"`
	ProjectIDs pq.StringArray `gorm:"type:text[];not null"`
}

type ShoppingSessionModel struct {
	intervalSetModel
}

func (ShoppingSessionModel) TableName() string {
	return "shopping_sessions"
}

type IdleTimeModel struct {
	intervalSetModel
}

func (IdleTimeModel) TableName() string {
	return "idle_times"
}

type FuelPurchaseModel struct {
	ID               uuid.UUID       `gorm:"type:uuid;primaryKey"`
	WorkDayID        uuid.UUID       `gorm:"type:uuid;not null;index"`
	UserID           int64           `gorm:"not null"`
	Vehicle          string          `gorm:"size:255;not null"`
	OdometerPhotoRef string          `gorm:"size:255"`
	OdometerReading  float64         `gorm:""`
	ReceiptPhotoRef  string          `gorm:"size:255"`
	Liters           float64         `gorm:"not null"`
	Amount           decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	// meta data
	CreatedAt time.Time `gorm:"not null"`
}

func (FuelPurchaseModel) TableName() string {
	return "fuel_purchases"
}

// VehicleFuelModel is one ledger row. Version is bumped by every compare-and-swap.
type VehicleFuelModel struct {
	Vehicle             string          `gorm:"size:255;primaryKey"`
	TankCapacity        float64         `gorm:"not null"`
	CurrentFuel         float64         `gorm:"not null"`
	FuelCostInTank      decimal.Decimal `gorm:"type:numeric(14,4);not null"`
	ConsumptionPer100Km float64         `gorm:"column:consumption_per_100km;not null"`
	Version             int64           `gorm:"not null"`
	// meta data
	UpdatedAt time.Time
}

func (VehicleFuelModel) TableName() string {
	return "vehicle_fuel"
}

func uuidArray(ids []uuid.UUID) pq.StringArray {
	out := make(pq.StringArray, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func parseUUIDArray(values pq.StringArray) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(values))
	for _, v := range values {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toProjectModel(p *dbt.Project) ProjectModel {
	m := ProjectModel{ID: p.ID, Name: p.Name, Description: p.Description, IsActive: p.IsActive}
	if ref := p.ExternalRef; ref != nil {
		m.ExternalSource = optional(ref.Source)
		m.ExternalID = optional(ref.ID)
		m.ExternalIDLabel = optional(ref.IDLabel)
	}
	return m
}

func (m ProjectModel) toProject() *dbt.Project {
	p := &dbt.Project{ID: m.ID, Name: m.Name, Description: m.Description, IsActive: m.IsActive}
	if m.ExternalSource != nil {
		p.ExternalRef = &dbt.ExternalRef{Source: *m.ExternalSource, ID: deref(m.ExternalID), IDLabel: deref(m.ExternalIDLabel)}
	}
	return p
}

func (m WorkDayModel) toWorkDay() dbt.WorkDay {
	return dbt.WorkDay{ID: m.ID, User: dbt.UserID(m.UserID), Vehicle: m.Vehicle, Start: m.StartTime, End: m.EndTime, Date: m.Date}
}

func (m WorkingDayModel) toWorkingDay() dbt.WorkingDay {
	return dbt.WorkingDay{ID: m.ID, User: dbt.UserID(m.UserID), Start: m.StartTime, End: m.EndTime, Date: m.Date}
}

func (m TripModel) toTrip() dbt.Trip {
	return dbt.Trip{
		ID:            m.ID,
		Interval:      dbt.Interval{WorkDayID: m.WorkDayID, Start: m.StartTime, End: m.EndTime},
		StartLocation: m.StartLocation,
		EndLocation:   m.EndLocation,
		DistanceKm:    m.DistanceKm,
		ProjectID:     m.ProjectID,
	}
}

func (m ActivityModel) toActivity() dbt.Activity {
	return dbt.Activity{
		ID:              m.ID,
		Interval:        dbt.Interval{WorkDayID: m.WorkDayID, Start: m.StartTime, End: m.EndTime},
		Type:            dbt.ActivityType(m.ActivityType),
		ProjectID:       m.ProjectID,
		DurationMinutes: m.DurationMinutes,
	}
}

func (m FuelPurchaseModel) toFuelPurchase() dbt.FuelPurchase {
	return dbt.FuelPurchase{
		ID:               m.ID,
		WorkDayID:        m.WorkDayID,
		User:             dbt.UserID(m.UserID),
		Vehicle:          m.Vehicle,
		OdometerPhotoRef: m.OdometerPhotoRef,
		OdometerReading:  m.OdometerReading,
		ReceiptPhotoRef:  m.ReceiptPhotoRef,
		Liters:           m.Liters,
		Amount:           m.Amount.InexactFloat64(),
		CreatedAt:        m.CreatedAt,
	}
}

func (m VehicleFuelModel) toState() *dbt.VehicleFuelState {
	return &dbt.VehicleFuelState{
		Vehicle:             m.Vehicle,
		TankCapacity:        m.TankCapacity,
		CurrentFuel:         m.CurrentFuel,
		FuelCostInTank:      m.FuelCostInTank.InexactFloat64(),
		ConsumptionPer100Km: m.ConsumptionPer100Km,
		Version:             m.Version,
		UpdatedAt:           m.UpdatedAt,
	}
}
