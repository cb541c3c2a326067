package state_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbt "drivelog/db/db"
	"drivelog/state"
)

var errStorage = errors.New("storage unavailable")

// failingJournal fails the selected writes once armed. Transactions hand
// out a failingJournal bound to the inner transaction.
type failingJournal struct {
	dbt.JournalDBWrapper
	armed      *atomic.Bool
	failTrip   bool
	failAppend bool
}

func (j *failingJournal) Transaction(ctx context.Context, fn func(tx dbt.JournalDBWrapper) error) error {
	return j.JournalDBWrapper.Transaction(ctx, func(tx dbt.JournalDBWrapper) error {
		return fn(&failingJournal{JournalDBWrapper: tx, armed: j.armed, failTrip: j.failTrip, failAppend: j.failAppend})
	})
}

func (j *failingJournal) CreateTrip(ctx context.Context, trip *dbt.Trip) error {
	if j.failTrip && j.armed.Load() {
		return errStorage
	}
	return j.JournalDBWrapper.CreateTrip(ctx, trip)
}

func (j *failingJournal) AppendUserState(ctx context.Context, s *dbt.UserState) error {
	if j.failAppend && j.armed.Load() {
		return errStorage
	}
	return j.JournalDBWrapper.AppendUserState(ctx, s)
}

func TestStorageFailureLeavesStateUnchanged(t *testing.T) {
	tests := []struct {
		name       string
		failTrip   bool
		failAppend bool
	}{
		{"create trip fails", true, false},
		{"append state fails after trip insert", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			armed := &atomic.Bool{}
			f := setupTest(t, func(inner dbt.JournalDBWrapper) dbt.JournalDBWrapper {
				return &failingJournal{JournalDBWrapper: inner, armed: armed, failTrip: tt.failTrip, failAppend: tt.failAppend}
			})
			ctx := context.Background()
			wd := f.onTrip(t)
			_, err := f.m.DriveTo(ctx, driver, "warehouse")
			require.NoError(t, err)
			_, err = f.m.Arrive(ctx, driver)
			require.NoError(t, err)

			armed.Store(true)
			_, err = f.m.SubmitDistance(ctx, driver, "12")
			require.Error(t, err)
			assert.True(t, errors.Is(err, errStorage))
			armed.Store(false)

			assert.Equal(t, state.StateWaitingDistance, currentTag(t, f))
			rec, err := f.db.GetWorkDayRecords(ctx, wd.ID)
			require.NoError(t, err)
			assert.Empty(t, rec.Trips)

			// the same input succeeds once storage recovers
			res, err := f.m.SubmitDistance(ctx, driver, "12")
			require.NoError(t, err)
			assert.Equal(t, state.StateIdle, res.State)
			rec, err = f.db.GetWorkDayRecords(ctx, wd.ID)
			require.NoError(t, err)
			assert.Len(t, rec.Trips, 1)
		})
	}
}
