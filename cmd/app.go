package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"drivelog/catalog"
	"drivelog/config"
	dbt "drivelog/db/db"
	"drivelog/db/mem"
	"drivelog/db/pg"
	"drivelog/fuel"
	"drivelog/mq/gcppubsub"
	"drivelog/mq/goch"
	"drivelog/mq/mq"
	"drivelog/mq/rabbit"
	"drivelog/notify"
	"drivelog/report"
	"drivelog/state"
	"drivelog/web"
	"drivelog/webhook"
)

type storageKind string

const (
	storagePostgres storageKind = "postgres"
	storageMemory   storageKind = "memory"
)

type appOptions struct {
	settingsPath string
	storage      storageKind
	mqMode       mq.Mode
	verbose      bool
}

func optionsFrom(cmd *cobra.Command) appOptions {
	path, _ := cmd.Flags().GetString("settings")
	if path == "" {
		path = defaultSettingsPath()
	}
	storage, _ := cmd.Flags().GetString("storage")
	return appOptions{settingsPath: path, storage: storageKind(storage), mqMode: mq.ModeGoChan}
}

// app owns every long-lived component; close releases them in reverse order.
type app struct {
	store    *config.Store
	services *web.Services
	closers  []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

type eventBus interface {
	mq.JournalMessageQueueWrapper
	Close()
}

func newEventBus(ctx context.Context, mode mq.Mode) (eventBus, func(), error) {
	switch mode {
	case mq.ModeGoChan, "":
		w := goch.NewGoChanJournalMessageQueueWrapper()
		return w, w.Close, nil
	case mq.ModeRabbitMQ:
		conn, err := rabbit.NewRabbitConnection(rabbit.CreateAmqpURL())
		if err != nil {
			return nil, nil, err
		}
		w, err := rabbit.NewRabbitJournalMessageQueueWrapper(conn)
		if err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		return w, func() {
			w.Close()
			if err := conn.Close(); err != nil {
				log.Printf("Error closing RabbitMQ connection: %v", err)
			}
		}, nil
	case mq.ModeGCPPubSub:
		projectID, err := gcppubsub.GetGCPProjectID()
		if err != nil {
			return nil, nil, err
		}
		w, err := gcppubsub.NewGCPJournalMessageQueueWrapper(ctx, projectID)
		if err != nil {
			return nil, nil, err
		}
		return w, w.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown message queue mode %q", mode)
}

func newStorage(opts appOptions) (dbt.JournalDBWrapper, dbt.FuelDBWrapper, func(), error) {
	switch opts.storage {
	case storageMemory:
		log.Println("warning: using in-memory storage, data is lost on exit")
		return mem.NewInMemoryJournalDBWrapper(), mem.NewInMemoryFuelDBWrapper(), func() {}, nil
	case storagePostgres, "":
		db, err := pg.InitPostgresGORM(pg.CreateDSN(), opts.verbose)
		if err != nil {
			return nil, nil, nil, err
		}
		return pg.NewGORMJournalDBWrapper(db), pg.NewGORMFuelDBWrapper(db), func() { pg.CloseGORM(db) }, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown storage %q", opts.storage)
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	a := &app{}
	store, err := config.NewStore(opts.settingsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	a.store = store

	journal, fuelDB, closeDB, err := newStorage(opts)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeDB)

	bus, closeBus, err := newEventBus(ctx, opts.mqMode)
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, closeBus)

	ledger := fuel.NewLedger(fuelDB, store)
	if err := ledger.Seed(ctx); err != nil {
		a.close()
		return nil, err
	}

	var lister catalog.Lister
	if client := catalog.NewRemonlineClient(store.Current().Catalog); client != nil {
		lister = client
	}
	cat, err := catalog.NewService(lister, store)
	if err != nil {
		a.close()
		return nil, err
	}

	queueSender, err := notify.NewQueueSender(bus)
	if err != nil {
		a.close()
		return nil, err
	}
	var sender notify.Sender = queueSender
	if opts.mqMode == mq.ModeGoChan || opts.mqMode == "" {
		// in-process bus: only stream clients see the messages, keep a log record
		sender = notify.Senders{notify.LogSender{}, queueSender}
	}
	notifier := notify.New(sender, store)

	a.services = &web.Services{
		Journal:  journal,
		Machine:  state.NewMachine(journal, ledger, cat, notifier, bus, store),
		Reports:  report.NewBuilder(journal, ledger, cat, store),
		Ledger:   ledger,
		Catalog:  cat,
		Webhook:  webhook.New(store),
		Settings: store,
		Events:   bus,
		Reloader: store,
	}
	return a, nil
}
