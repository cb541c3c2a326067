package state_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivelog/catalog"
	"drivelog/config"
	dbt "drivelog/db/db"
	"drivelog/db/mem"
	"drivelog/errs"
	"drivelog/fuel"
	"drivelog/mq/goch"
	"drivelog/mq/mq"
	"drivelog/state"
)

type fakeCatalog struct {
	available  bool
	crm        []catalog.Object
	mu         sync.Mutex
	arrivals   []string
	departures []string
}

func (c *fakeCatalog) Available() bool { return c.available }

func (c *fakeCatalog) Combined(ctx context.Context, user dbt.UserID) []catalog.Object {
	return append(catalog.Static(), c.crm...)
}

func (c *fakeCatalog) ListAll(ctx context.Context, user dbt.UserID) []catalog.Object {
	return c.crm
}

func (c *fakeCatalog) Find(ctx context.Context, user dbt.UserID, id string) (catalog.Object, bool) {
	for _, o := range c.Combined(ctx, user) {
		if o.ID == id {
			return o, true
		}
	}
	return catalog.Object{}, false
}

func (c *fakeCatalog) ArrivalComment(ctx context.Context, orderID, userName string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.arrivals = append(c.arrivals, orderID)
	return nil
}

func (c *fakeCatalog) DepartureComment(ctx context.Context, orderID, userName string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.departures = append(c.departures, orderID)
	return nil
}

type fakeNotifier struct {
	texts []string
}

func (n *fakeNotifier) NotifyAdmins(ctx context.Context, text string) map[int64]error {
	n.texts = append(n.texts, text)
	return map[int64]error{}
}

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	m        *state.Machine
	db       dbt.JournalDBWrapper
	catalog  *fakeCatalog
	notifier *fakeNotifier
	events   *goch.GoChanJournalMessageQueueWrapper
	clock    *clock
}

const vehicle = "Машина А"

var driver = state.User{ID: 42, Username: "driver", FirstName: "Иван"}

// setupTest builds a machine over in-memory storage. wrap decorates the
// journal the machine sees; f.db stays the undecorated store.
func setupTest(t *testing.T, wrap ...func(dbt.JournalDBWrapper) dbt.JournalDBWrapper) *fixture {
	t.Helper()
	settings := config.Static(config.Default())
	f := &fixture{
		db: mem.NewInMemoryJournalDBWrapper(),
		catalog: &fakeCatalog{crm: []catalog.Object{
			{ID: "101", Name: "Иваненко", IDLabel: "A-101", Source: catalog.SourceRemonline},
			{ID: "102", Name: "Петренко", IDLabel: "A-102", Source: catalog.SourceRemonline},
		}},
		notifier: &fakeNotifier{},
		events:   goch.NewGoChanJournalMessageQueueWrapper(),
		clock:    &clock{t: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)},
	}
	t.Cleanup(f.events.Close)
	ledger := fuel.NewLedger(mem.NewInMemoryFuelDBWrapper(), settings)
	journal := f.db
	for _, w := range wrap {
		journal = w(journal)
	}
	f.m = state.NewMachine(journal, ledger, f.catalog, f.notifier, f.events, settings).WithClock(f.clock.now)
	return f
}

// onTrip brings the driver to an open WorkDay.
func (f *fixture) onTrip(t *testing.T) *dbt.WorkDay {
	t.Helper()
	ctx := context.Background()
	_, err := f.m.StartDay(ctx, driver)
	require.NoError(t, err)
	_, err = f.m.StartTrip(ctx, driver)
	require.NoError(t, err)
	res, err := f.m.ChooseVehicle(ctx, driver, vehicle)
	require.NoError(t, err)
	require.NotNil(t, res.WorkDay)
	return res.WorkDay
}

// drive records a trip to objectID lasting d.
func (f *fixture) drive(t *testing.T, objectID string, d time.Duration, km string) *state.Result {
	t.Helper()
	ctx := context.Background()
	_, err := f.m.DriveTo(ctx, driver, objectID)
	require.NoError(t, err)
	f.clock.advance(d)
	_, err = f.m.Arrive(ctx, driver)
	require.NoError(t, err)
	res, err := f.m.SubmitDistance(ctx, driver, km)
	require.NoError(t, err)
	return res
}

func currentTag(t *testing.T, f *fixture) state.Tag {
	t.Helper()
	p, err := f.m.Current(context.Background(), driver.ID)
	require.NoError(t, err)
	return p.State()
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	var zero T
	return zero
}

func TestTripFlow(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()

	assert.Equal(t, state.StateIdle, currentTag(t, f))

	_, err := f.m.StartDay(ctx, driver)
	require.NoError(t, err)
	res, err := f.m.StartDay(ctx, driver)
	require.NoError(t, err)
	assert.True(t, res.AlreadyOpen)

	res, err = f.m.StartTrip(ctx, driver)
	require.NoError(t, err)
	assert.Equal(t, []string{"Машина А", "Машина Б", "Машина В"}, res.Vehicles)

	res, err = f.m.ChooseVehicle(ctx, driver, vehicle)
	require.NoError(t, err)
	assert.Equal(t, state.StateWorking, res.State)
	wd := res.WorkDay

	_, sub, err := f.events.GetIntervalMessageQueue(mq.ActionCreate).Subscribe(wd.ID)
	require.NoError(t, err)

	res, err = f.m.Destinations(ctx, driver)
	require.NoError(t, err)
	require.Len(t, res.Objects, 6)
	assert.Equal(t, dbt.LocationShop, res.Objects[0].Name)

	res, err = f.m.DriveTo(ctx, driver, "101")
	require.NoError(t, err)
	assert.Equal(t, state.StateDriving, res.State)
	require.NotNil(t, res.Project)
	assert.Equal(t, "Иваненко", res.Project.Name)
	assert.Equal(t, "CRM объект (ID: 101)", res.Project.Description)
	require.NotNil(t, res.Project.ExternalRef)
	assert.Equal(t, "A-101", res.Project.ExternalRef.IDLabel)

	f.clock.advance(30 * time.Minute)
	res, err = f.m.Arrive(ctx, driver)
	require.NoError(t, err)
	assert.Equal(t, state.StateWaitingDistance, res.State)

	res, err = f.m.SubmitDistance(ctx, driver, "12,5")
	require.NoError(t, err)
	assert.Equal(t, state.StateIdle, res.State)
	require.NotNil(t, res.Trip)
	assert.Equal(t, 12.5, res.Trip.DistanceKm)
	assert.Equal(t, "Иваненко", res.Trip.EndLocation)
	assert.Equal(t, 30, res.Trip.DurationMinutes())
	require.NotNil(t, res.Fuel)
	assert.InDelta(t, 12.5/100*8.5, res.Fuel.FuelConsumedLiters, 1e-9)
	assert.Equal(t, []string{"101"}, f.catalog.arrivals)

	msg := receive(t, sub)
	assert.Equal(t, mq.IntervalTrip, msg.Kind)
	assert.Equal(t, res.Trip.ID, msg.ID)
	assert.Equal(t, 30, msg.Minutes)

	// second trip leaves from where the first ended
	res, err = f.m.DriveTo(ctx, driver, "home")
	require.NoError(t, err)
	assert.Nil(t, res.Project)
	d, ok := res.Payload.(state.Driving)
	require.True(t, ok)
	assert.Equal(t, "Иваненко", d.StartLocation)

	res, err = f.m.EndTrip(ctx, driver)
	require.NoError(t, err)
	assert.Equal(t, state.StateIdle, res.State)
	assert.False(t, res.WorkDay.IsOpen())
}

func TestChooseVehicleIsIdempotent(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()
	wd := f.onTrip(t)

	res, err := f.m.ChooseVehicle(ctx, driver, "Машина Б")
	require.NoError(t, err)
	assert.True(t, res.AlreadyOpen)
	assert.Equal(t, wd.ID, res.WorkDay.ID)
	assert.Equal(t, vehicle, res.WorkDay.Vehicle)

	_, err = f.m.ChooseVehicle(ctx, driver, "Трактор")
	assert.Equal(t, errs.ResourceNotFound, errs.KindOf(err))
}

func TestStartTripPreconditions(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()

	_, err := f.m.StartTrip(ctx, driver)
	assert.Equal(t, errs.Precondition, errs.KindOf(err))

	f.onTrip(t)
	_, err = f.m.StartTrip(ctx, driver)
	assert.Equal(t, errs.Precondition, errs.KindOf(err))

	_, err = f.m.EndTrip(ctx, driver)
	require.NoError(t, err)
	_, err = f.m.EndTrip(ctx, driver)
	assert.Equal(t, errs.Precondition, errs.KindOf(err))
}

func TestSubmitDistanceRejectsBadInput(t *testing.T) {
	tests := []string{"", "abc", "0", "-3", "1,2,3", "NaN", "nan", "Inf", "+Inf", "-inf"}
	for _, text := range tests {
		t.Run(text, func(t *testing.T) {
			f := setupTest(t)
			ctx := context.Background()
			f.onTrip(t)
			_, err := f.m.DriveTo(ctx, driver, "warehouse")
			require.NoError(t, err)
			_, err = f.m.Arrive(ctx, driver)
			require.NoError(t, err)

			_, err = f.m.SubmitDistance(ctx, driver, text)
			assert.Equal(t, errs.UserInput, errs.KindOf(err))
			assert.Equal(t, state.StateWaitingDistance, currentTag(t, f))
		})
	}
}

func TestArriveRequiresDriving(t *testing.T) {
	f := setupTest(t)
	f.onTrip(t)

	_, err := f.m.Arrive(context.Background(), driver)
	assert.Equal(t, errs.Precondition, errs.KindOf(err))
	assert.Equal(t, state.StateWorking, currentTag(t, f))
}

func TestShoppingSplitsDuration(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()
	f.onTrip(t)

	res, err := f.m.ShopFor(ctx, driver)
	require.NoError(t, err)
	assert.Equal(t, state.StateSelectingShopProjects, res.State)
	require.Len(t, res.Objects, 2)
	for _, o := range res.Objects {
		assert.False(t, o.IsStatic())
	}

	_, err = f.m.ShopDone(ctx, driver)
	assert.Equal(t, errs.UserInput, errs.KindOf(err))

	_, err = f.m.ToggleShopProject(ctx, driver, "shop")
	assert.Equal(t, errs.UserInput, errs.KindOf(err))

	for _, id := range []string{"101", "102", "101", "101"} {
		_, err = f.m.ToggleShopProject(ctx, driver, id)
		require.NoError(t, err)
	}
	p, err := f.m.Current(ctx, driver.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"102", "101"}, p.(state.SelectingShopProjects).Selected)

	res, err = f.m.ShopDone(ctx, driver)
	require.NoError(t, err)
	assert.Equal(t, state.StateShopping, res.State)

	_, err = f.m.ShopFor(ctx, driver)
	assert.Equal(t, errs.Precondition, errs.KindOf(err))

	f.clock.advance(25 * time.Minute)
	res, err = f.m.EndActivity(ctx, driver)
	require.NoError(t, err)
	assert.Equal(t, state.StateIdle, res.State)
	require.NotNil(t, res.ShoppingSession)
	assert.Len(t, res.ShoppingSession.ProjectIDs, 2)
	require.Len(t, res.Activities, 2)
	for _, a := range res.Activities {
		assert.Equal(t, dbt.ActivityShopping, a.Type)
		assert.Equal(t, 12, a.DurationMinutes)
	}
}

func TestWorkOnLastDestination(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()
	f.onTrip(t)

	// no trip yet: choices without shop and fuel station
	res, err := f.m.WorkOn(ctx, driver)
	require.NoError(t, err)
	assert.Equal(t, state.StateWorking, res.State)
	require.Len(t, res.Objects, 4)

	f.drive(t, "101", 20*time.Minute, "7")
	res, err = f.m.WorkOn(ctx, driver)
	require.NoError(t, err)
	w, ok := res.Payload.(state.Working)
	require.True(t, ok)
	assert.True(t, w.OnProject())
	assert.Equal(t, "Иваненко", res.Project.Name)

	_, err = f.m.DriveTo(ctx, driver, "home")
	assert.Equal(t, errs.Precondition, errs.KindOf(err))

	f.clock.advance(90 * time.Minute)
	res, err = f.m.EndActivity(ctx, driver)
	require.NoError(t, err)
	require.Len(t, res.Activities, 1)
	assert.Equal(t, 90, res.Activities[0].DurationMinutes)
	assert.Equal(t, dbt.ActivityWorking, res.Activities[0].Type)
	assert.Equal(t, []string{"101"}, f.catalog.departures)

	_, err = f.m.EndActivity(ctx, driver)
	assert.Equal(t, errs.Precondition, errs.KindOf(err))
}

func TestWorkOnObject(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()
	f.onTrip(t)

	_, err := f.m.WorkOnObject(ctx, driver, "fuel_station")
	assert.Equal(t, errs.UserInput, errs.KindOf(err))

	res, err := f.m.WorkOnObject(ctx, driver, "warehouse")
	require.NoError(t, err)
	assert.Equal(t, dbt.LocationWarehouse, res.Project.Name)
	assert.Nil(t, res.Project.ExternalRef)
}

func TestIdleTime(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()
	f.onTrip(t)

	f.drive(t, "shop", 10*time.Minute, "3")
	_, err := f.m.IdleTime(ctx, driver)
	assert.Equal(t, errs.Precondition, errs.KindOf(err))

	f.drive(t, "102", 10*time.Minute, "4")
	res, err := f.m.IdleTime(ctx, driver)
	require.NoError(t, err)
	assert.Equal(t, state.StateIdleTracking, res.State)

	f.clock.advance(15 * time.Minute)
	res, err = f.m.EndIdleTime(ctx, driver)
	require.NoError(t, err)
	require.NotNil(t, res.IdleTime)
	assert.Equal(t, 15, res.IdleTime.DurationMinutes())
	assert.Len(t, res.IdleTime.ProjectIDs, 1)
}

func TestIdleTimeForSelection(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()
	f.onTrip(t)

	res, err := f.m.IdleTimeFor(ctx, driver)
	require.NoError(t, err)
	assert.Equal(t, state.StateSelectingIdleProjects, res.State)

	_, err = f.m.ToggleIdleProject(ctx, driver, "101")
	require.NoError(t, err)
	_, err = f.m.ToggleIdleProject(ctx, driver, "102")
	require.NoError(t, err)
	res, err = f.m.IdleDone(ctx, driver)
	require.NoError(t, err)
	it, ok := res.Payload.(state.IdleTracking)
	require.True(t, ok)
	assert.Len(t, it.ProjectIDs, 2)
}

func TestFuelStationFlow(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()
	f.onTrip(t)

	res := f.drive(t, "fuel_station", 10*time.Minute, "5")
	assert.Equal(t, state.StateWaitingOdometerPhoto, res.State)

	_, err := f.m.SubmitText(ctx, driver, "123")
	assert.Equal(t, errs.UserInput, errs.KindOf(err))

	steps := []struct {
		photo string
		text  string
		want  state.Tag
	}{
		{photo: "odo-1", want: state.StateWaitingOdometerReading},
		{text: "150123", want: state.StateWaitingReceiptPhoto},
		{photo: "receipt-1", want: state.StateWaitingFuelLiters},
		{text: "10", want: state.StateWaitingFuelAmount},
		{text: "520,50", want: state.StateIdle},
	}
	for _, st := range steps {
		if st.photo != "" {
			res, err = f.m.ReceivePhoto(ctx, driver, st.photo)
		} else {
			res, err = f.m.SubmitText(ctx, driver, st.text)
		}
		require.NoError(t, err)
		assert.Equal(t, st.want, res.State)
	}

	fp := res.FuelPurchase
	require.NotNil(t, fp)
	assert.Equal(t, vehicle, fp.Vehicle)
	assert.Equal(t, "odo-1", fp.OdometerPhotoRef)
	assert.Equal(t, "receipt-1", fp.ReceiptPhotoRef)
	assert.Equal(t, 150123.0, fp.OdometerReading)
	assert.Equal(t, 10.0, fp.Liters)
	assert.Equal(t, 520.5, fp.Amount)
	require.NotNil(t, res.Fuel)
	assert.Equal(t, 10.0, res.Fuel.LitersAdded)

	_, err = f.m.ReceivePhoto(ctx, driver, "late")
	assert.Equal(t, errs.Precondition, errs.KindOf(err))
}

func TestManualDestinationWithoutCatalog(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()
	f.onTrip(t)

	res, err := f.m.DriveToManual(ctx, driver)
	require.NoError(t, err)
	assert.Equal(t, state.StateWaitingManualDestination, res.State)

	_, err = f.m.SubmitManualDestination(ctx, driver, "   ")
	assert.Equal(t, errs.UserInput, errs.KindOf(err))

	res, err = f.m.SubmitText(ctx, driver, " Школа №5 ")
	require.NoError(t, err)
	assert.Equal(t, state.StateDriving, res.State)
	assert.Equal(t, "Школа №5", res.Project.Name)
	assert.Equal(t, "Введено вручную пользователем", res.Project.Description)
	require.Len(t, f.notifier.texts, 1)
	assert.Contains(t, f.notifier.texts[0], "Школа №5")
	assert.Contains(t, f.notifier.texts[0], "@driver")

	// an existing project is reused without a second notification
	f.clock.advance(time.Minute)
	_, err = f.m.Arrive(ctx, driver)
	require.NoError(t, err)
	_, err = f.m.SubmitDistance(ctx, driver, "2")
	require.NoError(t, err)
	_, err = f.m.DriveToManual(ctx, driver)
	require.NoError(t, err)
	_, err = f.m.SubmitManualDestination(ctx, driver, "Школа №5")
	require.NoError(t, err)
	assert.Len(t, f.notifier.texts, 1)
}

func TestManualDestinationWithCatalog(t *testing.T) {
	f := setupTest(t)
	f.catalog.available = true
	ctx := context.Background()
	f.onTrip(t)

	_, err := f.m.DriveToManual(ctx, driver)
	require.NoError(t, err)
	_, err = f.m.ConfirmNewDestination(ctx, driver)
	assert.Equal(t, errs.UserInput, errs.KindOf(err))

	res, err := f.m.SubmitManualDestination(ctx, driver, "Иваненко")
	require.NoError(t, err)
	assert.Equal(t, state.StateWaitingManualDestination, res.State)
	require.NotEmpty(t, res.Matches)
	assert.Equal(t, "101", res.Matches[0].ID)
	assert.Equal(t, 1.0, res.Matches[0].Score)

	_, err = f.m.ConfirmCatalogDestination(ctx, driver, "999")
	assert.Equal(t, errs.ResourceNotFound, errs.KindOf(err))

	res, err = f.m.ConfirmCatalogDestination(ctx, driver, "101")
	require.NoError(t, err)
	d, ok := res.Payload.(state.Driving)
	require.True(t, ok)
	assert.Equal(t, "101", d.CRMID)
	assert.Equal(t, "Иваненко", d.Destination)
	assert.Empty(t, f.notifier.texts)
}

func TestCancelManualDestination(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()
	f.onTrip(t)

	_, err := f.m.CancelManualDestination(ctx, driver)
	assert.Equal(t, errs.Precondition, errs.KindOf(err))

	_, err = f.m.DriveToManual(ctx, driver)
	require.NoError(t, err)
	res, err := f.m.CancelManualDestination(ctx, driver)
	require.NoError(t, err)
	assert.Equal(t, state.StateIdle, res.State)
}

func TestEndDay(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()

	_, err := f.m.EndDay(ctx, driver)
	assert.Equal(t, errs.Precondition, errs.KindOf(err))

	f.onTrip(t)
	f.drive(t, "warehouse", 15*time.Minute, "9")

	res, err := f.m.EndDay(ctx, driver)
	require.NoError(t, err)
	assert.Equal(t, state.StateIdle, res.State)
	require.Len(t, res.WorkDays, 1)
	assert.False(t, res.WorkDays[0].IsOpen())
	assert.False(t, res.WorkingDay.IsOpen())

	_, err = f.m.EndDay(ctx, driver)
	assert.Equal(t, errs.Precondition, errs.KindOf(err))
}
