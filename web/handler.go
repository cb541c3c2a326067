package web

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"drivelog/catalog"
	dbt "drivelog/db/db"
	"drivelog/errs"
	"drivelog/resolver"
	"drivelog/state"
	"drivelog/webhook"
)

type handler struct {
	s *Services
}

// statusOf maps an error category to the HTTP status the client sees.
func statusOf(err error) int {
	switch errs.KindOf(err) {
	case errs.UserInput:
		return http.StatusBadRequest
	case errs.Precondition:
		return http.StatusConflict
	case errs.ResourceNotFound:
		return http.StatusNotFound
	case errs.ExternalService:
		return http.StatusBadGateway
	case errs.DataIntegrity:
		return http.StatusInternalServerError
	}
	if errors.Is(err, dbt.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func abort(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		log.Printf("Error handling %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error": errs.Message(err),
		"kind":  errs.KindOf(err).String(),
	})
}

func userParam(c *gin.Context, name string) (dbt.UserID, error) {
	raw := c.Param(name)
	if raw == "" {
		raw = c.Query(name)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errs.UserInputf("web", "invalid user id %q", raw)
	}
	return dbt.UserID(id), nil
}

func dateQuery(c *gin.Context) (time.Time, error) {
	raw := c.Query("date")
	if raw == "" {
		return dbt.DateOf(time.Now()), nil
	}
	d, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, errs.UserInputf("web", "invalid date %q, expected YYYY-MM-DD", raw)
	}
	return d, nil
}

func (h *handler) health(c *gin.Context) {
	ctx := c.Request.Context()
	status := http.StatusOK
	body := gin.H{"status": "ok"}

	if err := h.s.Journal.Ping(ctx); err != nil {
		log.Printf("warning: health check database ping failed: %v", err)
		status = http.StatusServiceUnavailable
		body["database"] = "unavailable"
	} else {
		body["database"] = "ok"
	}
	vehicles := len(h.s.Settings.Current().Vehicles)
	body["vehicles"] = vehicles
	if vehicles == 0 {
		status = http.StatusServiceUnavailable
	}
	// informational only
	if n, err := h.s.Journal.CountWorkingDaysSince(ctx, time.Now().Add(-24*time.Hour)); err == nil {
		body["recent_working_days"] = n
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}

type plainCommand = func(*state.Machine, context.Context, state.User) (*state.Result, error)

type argCommand = func(*state.Machine, context.Context, state.User, string) (*state.Result, error)

var plainCommands = map[string]plainCommand{
	"start_day":       (*state.Machine).StartDay,
	"end_day":         (*state.Machine).EndDay,
	"start_trip":      (*state.Machine).StartTrip,
	"end_trip":        (*state.Machine).EndTrip,
	"destinations":    (*state.Machine).Destinations,
	"drive_to_manual": (*state.Machine).DriveToManual,
	"confirm_new":     (*state.Machine).ConfirmNewDestination,
	"cancel_manual":   (*state.Machine).CancelManualDestination,
	"arrive":          (*state.Machine).Arrive,
	"shop_for":        (*state.Machine).ShopFor,
	"shop_done":       (*state.Machine).ShopDone,
	"work_on":         (*state.Machine).WorkOn,
	"end_activity":    (*state.Machine).EndActivity,
	"idle":            (*state.Machine).IdleTime,
	"idle_for":        (*state.Machine).IdleTimeFor,
	"idle_done":       (*state.Machine).IdleDone,
	"end_idle":        (*state.Machine).EndIdleTime,
}

var argCommands = map[string]argCommand{
	"choose_vehicle":     (*state.Machine).ChooseVehicle,
	"drive_to":           (*state.Machine).DriveTo,
	"manual_destination": (*state.Machine).SubmitManualDestination,
	"confirm_catalog":    (*state.Machine).ConfirmCatalogDestination,
	"distance":           (*state.Machine).SubmitDistance,
	"toggle_shop":        (*state.Machine).ToggleShopProject,
	"work_on_object":     (*state.Machine).WorkOnObject,
	"toggle_idle":        (*state.Machine).ToggleIdleProject,
	"photo":              (*state.Machine).ReceivePhoto,
	"odometer":           (*state.Machine).SubmitOdometer,
	"fuel_liters":        (*state.Machine).SubmitFuelLiters,
	"fuel_amount":        (*state.Machine).SubmitFuelAmount,
	"text":               (*state.Machine).SubmitText,
}

type commandRequest struct {
	Command   string `json:"command" binding:"required"`
	Arg       string `json:"arg"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

type commandResponse struct {
	*state.Result
	// Report is the day report sent when end_day closes the day.
	Report string `json:"report,omitempty"`
}

func (h *handler) command(c *gin.Context) {
	user, err := userParam(c, "user")
	if err != nil {
		abort(c, err)
		return
	}
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, errs.UserInputf("web", "invalid command body: %v", err))
		return
	}
	ctx := c.Request.Context()
	u := state.User{ID: user, Username: req.Username, FirstName: req.FirstName}

	var res *state.Result
	name := strings.TrimPrefix(req.Command, "/")
	if fn, ok := plainCommands[name]; ok {
		res, err = fn(h.s.Machine, ctx, u)
	} else if fn, ok := argCommands[name]; ok {
		res, err = fn(h.s.Machine, ctx, u, req.Arg)
	} else {
		err = errs.UserInputf("web", "unknown command %q", req.Command)
	}
	if err != nil {
		abort(c, err)
		return
	}

	resp := commandResponse{Result: res}
	if name == "end_day" && len(res.WorkDays) > 0 {
		text, err := h.s.Reports.DayReport(ctx, res.WorkDays)
		if err != nil {
			log.Printf("warning: day report for %d failed: %v", user, err)
		}
		resp.Report = text
		h.sendDayWebhook(u, res.WorkDays)
	}
	c.JSON(http.StatusOK, resp)
}

// sendDayWebhook delivers the export in the background; the retry backoff
// would otherwise hold the request.
func (h *handler) sendDayWebhook(u state.User, workDays []dbt.WorkDay) {
	if h.s.Webhook == nil {
		return
	}
	loader := dbt.NewProjectDataLoader(h.s.Journal)
	go func() {
		ctx := context.WithValue(context.Background(), dbt.DataLoaderKeyProjects, loader)
		exp, err := h.s.Reports.DayExport(ctx, workDays)
		if err != nil {
			log.Printf("warning: day export for %d failed: %v", u.ID, err)
			return
		}
		info := &webhook.UserInfo{ID: int64(u.ID), Username: u.Username, FirstName: u.FirstName}
		if err := h.s.Webhook.SendDailyReport(ctx, exp, time.Now().Format(time.RFC3339), info); err != nil {
			log.Printf("warning: day webhook for %d failed: %v", u.ID, err)
		}
	}()
}

func (h *handler) userState(c *gin.Context) {
	user, err := userParam(c, "user")
	if err != nil {
		abort(c, err)
		return
	}
	p, err := h.s.Machine.Current(c.Request.Context(), user)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": p.State(), "payload": p})
}

func (h *handler) workDayReport(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abort(c, errs.UserInputf("web", "invalid work day id %q", c.Param("id")))
		return
	}
	text, err := h.s.Reports.WorkDayReport(c.Request.Context(), id)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"work_day_id": id, "report": text})
}

func (h *handler) dayWorkDays(c *gin.Context) (dbt.UserID, []dbt.WorkDay, error) {
	user, err := userParam(c, "user")
	if err != nil {
		return 0, nil, err
	}
	date, err := dateQuery(c)
	if err != nil {
		return 0, nil, err
	}
	days, err := h.s.Journal.ListWorkDays(c.Request.Context(), user, date)
	if err != nil {
		return 0, nil, err
	}
	return user, days, nil
}

func (h *handler) dayReport(c *gin.Context) {
	_, days, err := h.dayWorkDays(c)
	if err != nil {
		abort(c, err)
		return
	}
	ctx := c.Request.Context()
	if c.Query("format") == "json" {
		if len(days) == 0 {
			abort(c, errs.NotFoundf("web", "Нет рейсов за день."))
			return
		}
		exp, err := h.s.Reports.DayExport(ctx, days)
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, exp)
		return
	}
	text, err := h.s.Reports.DayReport(ctx, days)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": text, "work_days": len(days)})
}

func (h *handler) dayWebhook(c *gin.Context) {
	user, days, err := h.dayWorkDays(c)
	if err != nil {
		abort(c, err)
		return
	}
	if len(days) == 0 {
		abort(c, errs.NotFoundf("web", "Нет рейсов за день."))
		return
	}
	ctx := c.Request.Context()
	exp, err := h.s.Reports.DayExport(ctx, days)
	if err != nil {
		abort(c, err)
		return
	}
	err = h.s.Webhook.SendDailyReport(ctx, exp, time.Now().Format(time.RFC3339), &webhook.UserInfo{ID: int64(user)})
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sent", "total_trips": exp.TotalTrips})
}

func (h *handler) webhookTest(c *gin.Context) {
	if err := h.s.Webhook.Test(c.Request.Context()); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) fuelStatus(c *gin.Context) {
	ctx := c.Request.Context()
	if vehicle := c.Query("vehicle"); vehicle != "" {
		st, err := h.s.Ledger.Status(ctx, vehicle)
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
		return
	}
	statuses, err := h.s.Ledger.Statuses(ctx)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"vehicles": statuses})
}

func (h *handler) catalogObjects(c *gin.Context) {
	user, err := userParam(c, "user")
	if err != nil {
		abort(c, err)
		return
	}
	ctx := c.Request.Context()
	cat := h.s.Catalog
	refresh := c.Query("refresh") == "true"
	list := func(kind catalog.CacheKind) []catalog.Object {
		switch {
		case refresh:
			return cat.Refresh(ctx, user, kind)
		case kind == catalog.CacheAllObjects:
			return cat.ListAll(ctx, user)
		default:
			return cat.ListActive(ctx, user)
		}
	}

	body := gin.H{"crm_available": cat.Available()}
	switch c.DefaultQuery("kind", "combined") {
	case "active":
		body["objects"] = list(catalog.CacheDaily)
	case "all":
		body["objects"] = list(catalog.CacheAllObjects)
	case "combined":
		body["objects"] = append(catalog.Static(), list(catalog.CacheDaily)...)
	default:
		abort(c, errs.UserInputf("web", "unknown catalog kind %q", c.Query("kind")))
		return
	}
	cache := gin.H{}
	for _, kind := range []catalog.CacheKind{catalog.CacheDaily, catalog.CacheAllObjects} {
		if info, ok := cat.CacheInfo(user, kind); ok {
			cache[string(kind)] = info
		}
	}
	body["cache"] = cache
	c.JSON(http.StatusOK, body)
}

type resolveRequest struct {
	User int64  `json:"user" binding:"required"`
	Text string `json:"text" binding:"required"`
}

func (h *handler) resolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, errs.UserInputf("web", "invalid resolve body: %v", err))
		return
	}
	objects := h.s.Catalog.ListAll(c.Request.Context(), dbt.UserID(req.User))
	candidates := make([]resolver.Candidate, 0, len(objects))
	for _, o := range objects {
		candidates = append(candidates, resolver.Candidate{ID: o.ID, Name: o.Name})
	}
	matches := resolver.Rank(req.Text, candidates, resolver.DefaultThreshold)
	if matches == nil {
		matches = []resolver.Match{}
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

func (h *handler) reloadSettings(c *gin.Context) {
	if h.s.Reloader == nil {
		abort(c, errs.Preconditionf("web", "settings are not file backed"))
		return
	}
	if err := h.s.Reloader.Reload(); err != nil {
		abort(c, errs.Wrap(errs.DataIntegrity, "web", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reloaded", "vehicles": h.s.Settings.Current().VehicleNames()})
}
