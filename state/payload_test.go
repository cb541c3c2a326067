package state_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivelog/errs"
	"drivelog/state"
)

func TestPayloadEncodeDecode(t *testing.T) {
	project := uuid.New()
	start := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   state.Payload
	}{
		{"driving", state.Driving{TripDraft: state.TripDraft{Destination: "Иваненко", ProjectID: &project, CRMID: "101", StartLocation: "Склад", Start: start}}},
		{"working on project", state.Working{ProjectID: &project, Start: &start}},
		{"plain working", state.Working{}},
		{"shopping", state.Shopping{ProjectIDs: []uuid.UUID{project}, Start: start}},
		{"fuel amount", state.WaitingFuelAmount{RefuelDraft: state.RefuelDraft{OdometerPhotoRef: "a", OdometerReading: 1200, ReceiptPhotoRef: "b", Liters: 30.5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := state.Encode(tt.in)
			require.NoError(t, err)
			out, err := state.Decode(tt.in.State(), raw)
			require.NoError(t, err)
			assert.Equal(t, tt.in, out)
		})
	}
}

func TestIdleHasNoPayload(t *testing.T) {
	raw, err := state.Encode(state.Idle{})
	require.NoError(t, err)
	assert.Nil(t, raw)

	p, err := state.Decode(state.StateIdle, nil)
	require.NoError(t, err)
	assert.Equal(t, state.Idle{}, p)

	p, err = state.Decode(state.StateWaitingOdometerPhoto, nil)
	require.NoError(t, err)
	assert.Equal(t, state.WaitingOdometerPhoto{}, p)
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	_, err := state.Decode("flying", []byte(`{}`))
	assert.Error(t, err)

	_, err = state.Decode(state.StateDriving, []byte(`{"destination":`))
	assert.Error(t, err)
}

func TestParsePositive(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"12,5", 12.5, true},
		{" 7 ", 7, true},
		{"0.1", 0.1, true},
		{"0", 0, false},
		{"-1", 0, false},
		{"десять", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := state.ParsePositive("test", tt.in)
			if !tt.ok {
				assert.Equal(t, errs.UserInput, errs.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
