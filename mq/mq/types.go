package mq

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	dbt "drivelog/db/db"
)

type Action int

const (
	ActionCreate Action = iota
	ActionUpdate
	ActionDelete
	ActionCnt
)

type IntervalKind string

const (
	IntervalTrip            IntervalKind = "trip"
	IntervalActivity        IntervalKind = "activity"
	IntervalShoppingSession IntervalKind = "shopping_session"
	IntervalIdleTime        IntervalKind = "idle_time"
	IntervalFuelPurchase    IntervalKind = "fuel_purchase"
)

// IntervalMessage announces one closed timeline record of a WorkDay.
type IntervalMessage struct {
	ID         uuid.UUID    `json:"id"`
	WorkDayID  uuid.UUID    `json:"work_day_id"`
	User       dbt.UserID   `json:"user_id"`
	Kind       IntervalKind `json:"kind"`
	Start      time.Time    `json:"start"`
	End        time.Time    `json:"end"`
	Minutes    int          `json:"duration_minutes"`
	DistanceKm float64      `json:"distance_km,omitempty"`
	Location   string       `json:"location,omitempty"`
	ProjectIDs []uuid.UUID  `json:"project_ids,omitempty"`
}

func (m IntervalMessage) GetTopic() uuid.UUID {
	return m.WorkDayID
}

// NotificationMessage is a text addressed to one chat user.
type NotificationMessage struct {
	ID        uuid.UUID `json:"id"`
	Recipient int64     `json:"recipient"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func (m NotificationMessage) GetTopic() uuid.UUID {
	return RecipientTopic(m.Recipient)
}

var recipientNamespace = uuid.MustParse("6f1f7c4e-9b7a-4d55-8a43-0d7f3b1e2c10")

// RecipientTopic is the stable topic of a chat user.
func RecipientTopic(recipient int64) uuid.UUID {
	return uuid.NewSHA1(recipientNamespace, []byte(fmt.Sprint(recipient)))
}
