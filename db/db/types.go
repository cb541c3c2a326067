package db

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UserID is the chat user identifier.
type UserID int64

var (
	ErrNotFound        = errors.New("record not found")
	ErrAlreadyExists   = errors.New("record already exists")
	ErrVersionConflict = errors.New("record version conflict")
)

// Place is one of the shared locations that are not projects.
type Place int

const (
	PlaceNone Place = iota
	PlaceShop
	PlaceWarehouse
	PlaceHome
	PlaceFuelStation
)

const (
	LocationShop        = "Магазин"
	LocationWarehouse   = "Склад"
	LocationHome        = "Дом"
	LocationFuelStation = "Заправка"
)

// PlaceOf classifies a trip end location.
func PlaceOf(location string) Place {
	switch strings.TrimSpace(location) {
	case LocationShop:
		return PlaceShop
	case LocationWarehouse:
		return PlaceWarehouse
	case LocationHome:
		return PlaceHome
	case LocationFuelStation:
		return PlaceFuelStation
	}
	return PlaceNone
}

func (p Place) String() string {
	switch p {
	case PlaceShop:
		return "shop"
	case PlaceWarehouse:
		return "warehouse"
	case PlaceHome:
		return "home"
	case PlaceFuelStation:
		return "fuel_station"
	}
	return "none"
}

// WorkDay is one driving shift on one vehicle.
type WorkDay struct {
	ID      uuid.UUID
	User    UserID
	Vehicle string
	Start   time.Time
	End     *time.Time
	Date    time.Time
}

func (w WorkDay) IsOpen() bool {
	return w.End == nil
}

// WorkingDay is the calendar day bracket opened by "start day".
type WorkingDay struct {
	ID    uuid.UUID
	User  UserID
	Start time.Time
	End   *time.Time
	Date  time.Time
}

func (w WorkingDay) IsOpen() bool {
	return w.End == nil
}

// ExternalRef points to the catalog object a project was created from.
type ExternalRef struct {
	Source  string
	ID      string
	IDLabel string
}

type Project struct {
	ID          uuid.UUID
	Name        string
	Description string
	IsActive    bool
	ExternalRef *ExternalRef
}

// Interval is the span shared by every timeline record.
type Interval struct {
	WorkDayID uuid.UUID
	Start     time.Time
	End       time.Time
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// DurationMinutes truncates to whole minutes.
func (i Interval) DurationMinutes() int {
	return int(i.Duration() / time.Minute)
}

type Trip struct {
	ID uuid.UUID
	Interval
	StartLocation string
	EndLocation   string
	DistanceKm    float64
	ProjectID     *uuid.UUID
}

type ActivityType string

const (
	ActivityWorking  ActivityType = "working"
	ActivityShopping ActivityType = "shopping"
)

type Activity struct {
	ID uuid.UUID
	Interval
	Type            ActivityType
	ProjectID       uuid.UUID
	DurationMinutes int
}

type ShoppingSession struct {
	ID uuid.UUID
	Interval
	ProjectIDs []uuid.UUID
}

type IdleTime struct {
	ID uuid.UUID
	Interval
	ProjectIDs []uuid.UUID
}

type FuelPurchase struct {
	ID               uuid.UUID
	WorkDayID        uuid.UUID
	User             UserID
	Vehicle          string
	OdometerPhotoRef string
	OdometerReading  float64
	ReceiptPhotoRef  string
	Liters           float64
	Amount           float64
	CreatedAt        time.Time
}

// VehicleFuelState is one row of the fuel ledger. Version guards concurrent writers.
type VehicleFuelState struct {
	Vehicle             string
	TankCapacity        float64
	CurrentFuel         float64
	FuelCostInTank      float64
	ConsumptionPer100Km float64
	Version             int64
	UpdatedAt           time.Time
}

// UserState is one entry of the append-only session log; the latest entry is current.
type UserState struct {
	ID        uuid.UUID
	User      UserID
	State     string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// WorkDayRecords is everything the allocation engine needs for one WorkDay.
type WorkDayRecords struct {
	WorkDay          WorkDay
	Activities       []Activity
	Trips            []Trip
	ShoppingSessions []ShoppingSession
	IdleTimes        []IdleTime
	FuelPurchases    []FuelPurchase
}
