package web

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"drivelog/catalog"
	"drivelog/config"
	dbt "drivelog/db/db"
	"drivelog/fuel"
	"drivelog/mq/mq"
	"drivelog/report"
	"drivelog/state"
	"drivelog/webhook"
)

type ServiceConfig struct {
	IsDev bool
	Port  string
}

// Reloader re-reads settings from their source. config.Store implements it.
type Reloader interface {
	Reload() error
}

// Services are the components the HTTP surface drives.
type Services struct {
	Journal  dbt.JournalDBWrapper
	Machine  *state.Machine
	Reports  *report.Builder
	Ledger   *fuel.Ledger
	Catalog  *catalog.Service
	Webhook  *webhook.Client
	Settings config.Provider
	// Events feeds the notification and interval streams. Nil disables them.
	Events mq.JournalMessageQueueWrapper
	// Reloader is nil when settings are static.
	Reloader Reloader
}

// NewRouter builds the gin engine with every route and middleware installed.
func NewRouter(cfg ServiceConfig, s *Services) *gin.Engine {
	if !cfg.IsDev {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	setupMiddlewares(r, cfg, s.Journal)

	h := &handler{s: s}
	r.GET("/health", h.health)

	users := r.Group("/users/:user")
	users.GET("/state", h.userState)
	users.POST("/commands", h.command)
	users.GET("/notifications", h.notifications)

	reports := r.Group("/reports")
	reports.GET("/workdays/:id", h.workDayReport)
	reports.GET("/day", h.dayReport)
	reports.POST("/day/webhook", h.dayWebhook)

	r.GET("/workdays/:id/events", h.workDayEvents)
	r.GET("/fuel", h.fuelStatus)
	r.GET("/catalog/:user", h.catalogObjects)
	r.POST("/resolve", h.resolve)
	r.POST("/settings/reload", h.reloadSettings)
	r.POST("/webhook/test", h.webhookTest)
	return r
}

// Serve runs the HTTP server until ctx is cancelled.
func Serve(ctx context.Context, cfg ServiceConfig, s *Services) error {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           NewRouter(cfg, s),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Println("shutting down web server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
