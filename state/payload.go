package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"drivelog/resolver"
)

// Tag names a state. It is stored as the state column of the session log.
type Tag string

const (
	StateIdle                     Tag = "idle"
	StateWorking                  Tag = "working"
	StateDriving                  Tag = "driving"
	StateShopping                 Tag = "shopping"
	StateSelectingShopProjects    Tag = "selecting_shop_projects"
	StateIdleTracking             Tag = "idle_tracking"
	StateSelectingIdleProjects    Tag = "selecting_idle_projects"
	StateWaitingDistance          Tag = "waiting_distance"
	StateWaitingManualDestination Tag = "waiting_manual_destination"
	StateWaitingOdometerPhoto     Tag = "waiting_odometer_photo"
	StateWaitingOdometerReading   Tag = "waiting_odometer_reading"
	StateWaitingReceiptPhoto      Tag = "waiting_receipt_photo"
	StateWaitingFuelLiters        Tag = "waiting_fuel_liters"
	StateWaitingFuelAmount        Tag = "waiting_fuel_amount"
)

// Payload is the state specific context carried between transitions.
// Each state has exactly one payload type.
type Payload interface {
	State() Tag
}

type Idle struct{}

// Working is either the plain "vehicle chosen" state (no project) or an
// open work activity on a project.
type Working struct {
	ProjectID *uuid.UUID `json:"project_id,omitempty"`
	Start     *time.Time `json:"start_time,omitempty"`
}

// OnProject reports whether an activity is running.
func (w Working) OnProject() bool {
	return w.ProjectID != nil && w.Start != nil
}

// TripDraft is a trip that has started but not been recorded yet.
type TripDraft struct {
	Destination   string     `json:"destination"`
	ProjectID     *uuid.UUID `json:"project_id,omitempty"`
	CRMID         string     `json:"crm_id,omitempty"`
	StartLocation string     `json:"start_location,omitempty"`
	Start         time.Time  `json:"start_time"`
}

type Driving struct {
	TripDraft
}

type WaitingDistance struct {
	TripDraft
}

type Shopping struct {
	ProjectIDs []uuid.UUID `json:"project_ids"`
	Start      time.Time   `json:"start_time"`
}

// SelectingShopProjects holds catalog object ids, in selection order.
type SelectingShopProjects struct {
	Selected []string `json:"selected"`
}

type IdleTracking struct {
	ProjectIDs []uuid.UUID `json:"project_ids"`
	Start      time.Time   `json:"start_time"`
}

type SelectingIdleProjects struct {
	Selected []string `json:"selected"`
}

// WaitingManualDestination keeps the last typed name and its catalog matches.
type WaitingManualDestination struct {
	Input   string           `json:"manual_destination_input,omitempty"`
	Matches []resolver.Match `json:"matches,omitempty"`
}

// RefuelDraft accumulates the fuel station dialog. Photo refs are opaque.
type RefuelDraft struct {
	OdometerPhotoRef string  `json:"odometer_photo,omitempty"`
	OdometerReading  float64 `json:"odometer_reading,omitempty"`
	ReceiptPhotoRef  string  `json:"receipt_photo,omitempty"`
	Liters           float64 `json:"fuel_liters,omitempty"`
}

type WaitingOdometerPhoto struct{ RefuelDraft }
type WaitingOdometerReading struct{ RefuelDraft }
type WaitingReceiptPhoto struct{ RefuelDraft }
type WaitingFuelLiters struct{ RefuelDraft }
type WaitingFuelAmount struct{ RefuelDraft }

func (Idle) State() Tag                     { return StateIdle }
func (Working) State() Tag                  { return StateWorking }
func (Driving) State() Tag                  { return StateDriving }
func (WaitingDistance) State() Tag          { return StateWaitingDistance }
func (Shopping) State() Tag                 { return StateShopping }
func (SelectingShopProjects) State() Tag    { return StateSelectingShopProjects }
func (IdleTracking) State() Tag             { return StateIdleTracking }
func (SelectingIdleProjects) State() Tag    { return StateSelectingIdleProjects }
func (WaitingManualDestination) State() Tag { return StateWaitingManualDestination }
func (WaitingOdometerPhoto) State() Tag     { return StateWaitingOdometerPhoto }
func (WaitingOdometerReading) State() Tag   { return StateWaitingOdometerReading }
func (WaitingReceiptPhoto) State() Tag      { return StateWaitingReceiptPhoto }
func (WaitingFuelLiters) State() Tag        { return StateWaitingFuelLiters }
func (WaitingFuelAmount) State() Tag        { return StateWaitingFuelAmount }

// Encode serializes p for the payload column. Idle has no payload.
func Encode(p Payload) (json.RawMessage, error) {
	if _, ok := p.(Idle); ok {
		return nil, nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", p.State(), err)
	}
	return raw, nil
}

func decodeAs[T Payload](raw json.RawMessage) (Payload, error) {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", v.State(), err)
	}
	return v, nil
}

// Decode restores the payload stored under tag.
func Decode(tag Tag, raw json.RawMessage) (Payload, error) {
	switch tag {
	case StateIdle:
		return Idle{}, nil
	case StateWorking:
		return decodeAs[Working](raw)
	case StateDriving:
		return decodeAs[Driving](raw)
	case StateWaitingDistance:
		return decodeAs[WaitingDistance](raw)
	case StateShopping:
		return decodeAs[Shopping](raw)
	case StateSelectingShopProjects:
		return decodeAs[SelectingShopProjects](raw)
	case StateIdleTracking:
		return decodeAs[IdleTracking](raw)
	case StateSelectingIdleProjects:
		return decodeAs[SelectingIdleProjects](raw)
	case StateWaitingManualDestination:
		return decodeAs[WaitingManualDestination](raw)
	case StateWaitingOdometerPhoto:
		return decodeAs[WaitingOdometerPhoto](raw)
	case StateWaitingOdometerReading:
		return decodeAs[WaitingOdometerReading](raw)
	case StateWaitingReceiptPhoto:
		return decodeAs[WaitingReceiptPhoto](raw)
	case StateWaitingFuelLiters:
		return decodeAs[WaitingFuelLiters](raw)
	case StateWaitingFuelAmount:
		return decodeAs[WaitingFuelAmount](raw)
	}
	return nil, fmt.Errorf("unknown state %q", tag)
}
