package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/anousonefs/linewait/internal/app"
	"github.com/anousonefs/linewait/internal/config"
	"github.com/anousonefs/linewait/internal/notify"
	"github.com/anousonefs/linewait/internal/storage/memory"
	"github.com/anousonefs/linewait/internal/storage/postgres"
	"github.com/anousonefs/linewait/internal/tasks"
	httptransport "github.com/anousonefs/linewait/internal/transport/http"
	"github.com/anousonefs/linewait/migrations"
	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func setupLogger(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if strings.EqualFold(cfg.Log.Format, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// openStore returns the Postgres store when a database URL is configured,
// otherwise a seeded in-memory store.
func openStore(ctx context.Context, cfg *config.Config) (app.Store, func(), error) {
	if cfg.Database.URL == "" {
		slog.Warn("DATABASE_URL is empty, using the in-memory store")
		store := memory.New()
		for _, s := range cfg.Seed {
			serviceID := store.AddService(s.Name)
			for _, name := range s.Lines {
				if _, err := store.AddLine(serviceID, name); err != nil {
					return nil, nil, fmt.Errorf("seed line %s/%s: %w", s.Name, name, err)
				}
			}
			slog.Info("seeded service", "serviceID", serviceID, "name", s.Name, "lines", len(s.Lines))
		}
		return store, func() {}, nil
	}

	db, err := postgres.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.Migrate {
		if err := migrations.Apply(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("migrations.Apply(): %w", err)
		}
	}
	return postgres.NewStore(db), closeDB(db), nil
}

func closeDB(db *sql.DB) func() {
	return func() {
		if err := db.Close(); err != nil {
			slog.Error("db.Close()", "error", err)
		}
	}
}

func setupNotifications(cfg *config.Config) (notify.Publisher, httptransport.TokenGranter) {
	if !cfg.PubNub.Enabled() {
		slog.Warn("PubNub keys are not set, notifications are logged only")
		return notify.LogPublisher{}, nil
	}
	pn, err := notify.NewPubnub(&notify.PubNubConfig{
		PublishKey:   cfg.PubNub.PublishKey,
		SubscribeKey: cfg.PubNub.SubscribeKey,
		SecretKey:    cfg.PubNub.SecretKey,
		UserID:       cfg.PubNub.UserID,
		SubscriberID: cfg.PubNub.SubscriberID,
	})
	if err != nil {
		slog.Error("notify.NewPubnub()", "error", err)
		return notify.LogPublisher{}, nil
	}
	if cfg.PubNub.SecretKey == "" {
		return pn, nil
	}
	return pn, pn
}

func startAsynqServer(redisOpt asynq.RedisClientOpt, cfg *config.Config, handlers *tasks.Handlers) (*asynq.Server, *asynq.Scheduler) {
	srv := tasks.NewServer(redisOpt, cfg.Worker.Concurrency)
	mux := tasks.NewServeMux(handlers)

	// Schedule periodic counter reconciliation
	scheduler := asynq.NewScheduler(redisOpt, nil)
	entryID, err := tasks.RegisterSchedule(scheduler, cfg.Worker.ReconcileCron)
	if err != nil {
		slog.Error("tasks.RegisterSchedule()", "cron", cfg.Worker.ReconcileCron, "error", err)
	} else {
		slog.Info("line reconciliation scheduled", "cron", cfg.Worker.ReconcileCron, "entryID", entryID)
	}

	if err := scheduler.Start(); err != nil {
		slog.Error("scheduler.Start()", "error", err)
		os.Exit(1)
	}
	if err := srv.Start(mux); err != nil {
		slog.Error("srv.Start()", "error", err)
		os.Exit(1)
	}

	return srv, scheduler
}

func setupEcho(h *httptransport.Handlers) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	httptransport.SetupRoutes(e, h)
	return e
}
