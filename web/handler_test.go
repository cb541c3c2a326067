package web_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivelog/catalog"
	"drivelog/config"
	dbt "drivelog/db/db"
	"drivelog/db/mem"
	"drivelog/fuel"
	"drivelog/mq/goch"
	"drivelog/mq/mq"
	"drivelog/notify"
	"drivelog/report"
	"drivelog/state"
	"drivelog/web"
	"drivelog/webhook"
)

var day0 = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

type fakeReloader struct {
	calls int
}

func (r *fakeReloader) Reload() error {
	r.calls++
	return nil
}

type fixture struct {
	router   *gin.Engine
	services *web.Services
	events   *goch.GoChanJournalMessageQueueWrapper
	now      time.Time
}

func setupTest(t *testing.T, mutate ...func(s *config.Settings)) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := config.Default()
	for _, m := range mutate {
		m(&s)
	}
	settings := config.Static(s)
	journal := mem.NewInMemoryJournalDBWrapper()
	ledger := fuel.NewLedger(mem.NewInMemoryFuelDBWrapper(), settings)
	cat, err := catalog.NewService(nil, settings)
	require.NoError(t, err)
	events := goch.NewGoChanJournalMessageQueueWrapper()
	t.Cleanup(events.Close)

	f := &fixture{now: day0, events: events}
	clock := func() time.Time { return f.now }
	f.services = &web.Services{
		Journal:  journal,
		Machine:  state.NewMachine(journal, ledger, cat, notify.New(notify.LogSender{}, settings), events, settings).WithClock(clock),
		Reports:  report.NewBuilder(journal, ledger, cat, settings).WithClock(clock),
		Ledger:   ledger,
		Catalog:  cat,
		Webhook:  webhook.New(settings).WithBackoffBase(time.Millisecond),
		Settings: settings,
		Events:   events,
	}
	f.router = web.NewRouter(web.ServiceConfig{IsDev: true, Port: "0"}, f.services)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) command(t *testing.T, command, arg string) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, http.MethodPost, "/users/42/commands", map[string]string{
		"command": command, "arg": arg, "username": "driver", "first_name": "Иван",
	})
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// closedWorkDay stores a finished 08:00-12:00 WorkDay with one 12 km trip.
func (f *fixture) closedWorkDay(t *testing.T) *dbt.WorkDay {
	t.Helper()
	ctx := context.Background()
	wd := &dbt.WorkDay{ID: uuid.New(), User: 42, Vehicle: "Машина А", Start: day0, Date: dbt.DateOf(day0)}
	require.NoError(t, f.services.Journal.CreateWorkDay(ctx, wd))
	require.NoError(t, f.services.Journal.CreateTrip(ctx, &dbt.Trip{ID: uuid.New(),
		Interval:    dbt.Interval{WorkDayID: wd.ID, Start: day0, End: day0.Add(30 * time.Minute)},
		EndLocation: dbt.LocationWarehouse, DistanceKm: 12}))
	require.NoError(t, f.services.Journal.CloseWorkDay(ctx, wd.ID, day0.Add(4*time.Hour)))
	return wd
}

func TestHealth(t *testing.T) {
	f := setupTest(t)
	w := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["database"])
	assert.EqualValues(t, 3, body["vehicles"])

	f = setupTest(t, func(s *config.Settings) { s.Vehicles = nil })
	w = f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", decode(t, w)["status"])
}

func TestCommandFlow(t *testing.T) {
	f := setupTest(t)

	w := f.do(t, http.MethodGet, "/users/42/state", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "idle", decode(t, w)["state"])

	for _, step := range []struct{ command, arg string }{
		{"start_day", ""},
		{"/start_trip", ""},
		{"choose_vehicle", "Машина А"},
		{"drive_to", "warehouse"},
	} {
		w := f.command(t, step.command, step.arg)
		require.Equal(t, http.StatusOK, w.Code, "%s: %s", step.command, w.Body.String())
	}
	assert.Equal(t, "driving", decode(t, f.do(t, http.MethodGet, "/users/42/state", nil))["state"])

	f.now = f.now.Add(30 * time.Minute)
	w = f.command(t, "arrive", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "waiting_distance", decode(t, w)["state"])

	w = f.command(t, "text", "12")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "idle", body["state"])
	assert.NotNil(t, body["trip"])

	f.now = f.now.Add(time.Hour)
	w = f.command(t, "end_day", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body = decode(t, w)
	assert.Contains(t, body["report"], "*Отчет за день 10.03.2025*")
	assert.Contains(t, body["report"], "*Рейс 1:* Машина А")

	w = f.do(t, http.MethodGet, "/reports/day?user=42&date=2025-03-10", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, decode(t, w)["report"], "Общее расстояние: 12.0 км")

	w = f.do(t, http.MethodGet, "/reports/day?user=42&date=2025-03-10&format=json", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body = decode(t, w)
	assert.Equal(t, "day_report", body["report_type"])
	assert.EqualValues(t, 1, body["total_trips"])
}

func TestCommandErrors(t *testing.T) {
	f := setupTest(t)
	tests := []struct {
		name    string
		path    string
		body    any
		status  int
		errKind string
	}{
		{"unknown command", "/users/42/commands", map[string]string{"command": "fly"}, http.StatusBadRequest, "user_input"},
		{"missing command", "/users/42/commands", map[string]string{}, http.StatusBadRequest, "user_input"},
		{"bad user", "/users/abc/commands", map[string]string{"command": "arrive"}, http.StatusBadRequest, "user_input"},
		{"wrong state", "/users/42/commands", map[string]string{"command": "arrive"}, http.StatusConflict, "precondition"},
		{"unknown vehicle", "/users/42/commands", map[string]string{"command": "choose_vehicle", "arg": "Трактор"}, http.StatusNotFound, "resource_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			body := decode(t, w)
			assert.Equal(t, tt.errKind, body["kind"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestWorkDayReport(t *testing.T) {
	f := setupTest(t)
	wd := f.closedWorkDay(t)

	w := f.do(t, http.MethodGet, "/reports/workdays/"+wd.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, decode(t, w)["report"], "Автомобиль: Машина А")

	w = f.do(t, http.MethodGet, "/reports/workdays/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/reports/workdays/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDayReportValidation(t *testing.T) {
	f := setupTest(t)

	w := f.do(t, http.MethodGet, "/reports/day?user=42&date=10.03.2025", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/reports/day?user=42&date=2025-03-10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Нет рейсов за день.", decode(t, w)["report"])

	w = f.do(t, http.MethodGet, "/reports/day?user=42&date=2025-03-10&format=json", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDayWebhook(t *testing.T) {
	received := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		received <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := setupTest(t, func(s *config.Settings) { s.Webhook.DailyReportURL = srv.URL })
	w := f.do(t, http.MethodPost, "/reports/day/webhook?user=42&date=2025-03-10", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.closedWorkDay(t)
	w = f.do(t, http.MethodPost, "/reports/day/webhook?user=42&date=2025-03-10", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.EqualValues(t, 1, decode(t, w)["total_trips"])

	body := <-received
	assert.Equal(t, "daily_report", body["type"])
	data, ok := body["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2025-03-10", data["report_date"])
}

func TestFuelStatus(t *testing.T) {
	f := setupTest(t)

	w := f.do(t, http.MethodGet, "/fuel", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	vehicles, ok := decode(t, w)["vehicles"].([]any)
	require.True(t, ok)
	assert.Len(t, vehicles, 3)

	w = f.do(t, http.MethodGet, "/fuel?vehicle="+url.QueryEscape("Машина Б"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Машина Б", decode(t, w)["vehicle"])
}

func TestCatalogAndResolve(t *testing.T) {
	f := setupTest(t)

	w := f.do(t, http.MethodGet, "/catalog/42", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["crm_available"])
	objects, ok := body["objects"].([]any)
	require.True(t, ok)
	assert.Len(t, objects, len(catalog.Static()))

	w = f.do(t, http.MethodGet, "/catalog/42?kind=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/resolve", map[string]any{"user": 42, "text": "Иваненко"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{}, decode(t, w)["matches"])

	w = f.do(t, http.MethodPost, "/resolve", map[string]any{"user": 42})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReloadSettings(t *testing.T) {
	f := setupTest(t)
	w := f.do(t, http.MethodPost, "/settings/reload", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	r := &fakeReloader{}
	f.services.Reloader = r
	w = f.do(t, http.MethodPost, "/settings/reload", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, r.calls)
	assert.Equal(t, "reloaded", decode(t, w)["status"])
}

type fakeLister struct {
	calls int
}

func (l *fakeLister) ListOrders(ctx context.Context, limit int) ([]catalog.Object, error) {
	l.calls++
	return []catalog.Object{
		{ID: "101", Name: "Иваненко", IDLabel: "A-101", StatusID: 2974853, Source: catalog.SourceRemonline},
	}, nil
}

func (l *fakeLister) AddComment(ctx context.Context, orderID, text string) error {
	return nil
}

func TestCatalogCacheAndRefresh(t *testing.T) {
	f := setupTest(t)
	lister := &fakeLister{}
	cat, err := catalog.NewService(lister, f.services.Settings)
	require.NoError(t, err)
	f.services.Catalog = cat

	w := f.do(t, http.MethodGet, "/catalog/42?kind=active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["crm_available"])
	assert.Len(t, body["objects"], 1)
	cache, ok := body["cache"].(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, cache, string(catalog.CacheAllObjects))
	daily, ok := cache[string(catalog.CacheDaily)].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1.0, daily["objects_count"])
	assert.Equal(t, false, daily["is_expired"])
	assert.Equal(t, 1, lister.calls)

	w = f.do(t, http.MethodGet, "/catalog/42?kind=active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, lister.calls)

	w = f.do(t, http.MethodGet, "/catalog/42?kind=active&refresh=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, lister.calls)

	w = f.do(t, http.MethodPost, "/resolve", map[string]any{"user": 42, "text": "иваненко"})
	require.Equal(t, http.StatusOK, w.Code)
	matches, ok := decode(t, w)["matches"].([]any)
	require.True(t, ok)
	require.Len(t, matches, 1)
	assert.Equal(t, "101", matches[0].(map[string]any)["ID"])
}

func TestNotificationStream(t *testing.T) {
	f := setupTest(t)
	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/users/42/notifications", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "identity")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// the subscription is registered asynchronously, so keep publishing
	queue := f.events.GetNotificationMessageQueue(mq.ActionCreate)
	done := make(chan struct{})
	defer close(done)
	go func() {
		tick := time.NewTicker(10 * time.Millisecond)
		defer tick.Stop()
		for {
			_ = queue.Publish(mq.NotificationMessage{ID: uuid.New(), Recipient: 7, Text: "другому"})
			_ = queue.Publish(mq.NotificationMessage{ID: uuid.New(), Recipient: 42, Text: "Новый объект"})
			select {
			case <-done:
				return
			case <-tick.C:
			}
		}
	}()

	var data string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if line := scanner.Text(); strings.HasPrefix(line, "data:") {
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			break
		}
	}
	require.NotEmpty(t, data)
	var msg mq.NotificationMessage
	require.NoError(t, json.Unmarshal([]byte(data), &msg))
	assert.Equal(t, int64(42), msg.Recipient)
	assert.Equal(t, "Новый объект", msg.Text)
}

func TestStreamValidation(t *testing.T) {
	f := setupTest(t)

	w := f.do(t, http.MethodGet, "/users/abc/notifications", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do(t, http.MethodGet, "/workdays/bogus/events", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.services.Events = nil
	w = f.do(t, http.MethodGet, "/users/42/notifications", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = f.do(t, http.MethodGet, "/workdays/"+uuid.NewString()+"/events", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}
