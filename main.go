// main.go - Entry point
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anousonefs/linewait/internal/app"
	"github.com/anousonefs/linewait/internal/cache"
	"github.com/anousonefs/linewait/internal/clock"
	"github.com/anousonefs/linewait/internal/config"
	"github.com/anousonefs/linewait/internal/notify"
	"github.com/anousonefs/linewait/internal/prediction"
	"github.com/anousonefs/linewait/internal/tasks"
	httptransport "github.com/anousonefs/linewait/internal/transport/http"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("config.FromEnv()", "error", err)
		os.Exit(1)
	}
	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer redisClient.Close()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("openStore()", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	predictor := prediction.NewClient(
		prediction.NewRedisTransport(redisClient),
		store,
		prediction.WithTimeout(cfg.PredictionTimeout()),
		prediction.WithCalendar(clock.NewCalendar(cfg.Location())),
		prediction.WithRequestDestination(cfg.Prediction.RequestChannel),
		prediction.WithReplyPrefix(cfg.Prediction.ReplyPrefix),
	)
	readCache := cache.New(redisClient, cfg.Cache.Prefix, cfg.CacheTTL())
	publisher, granter := setupNotifications(cfg)
	notifications := notify.NewNotificationService(publisher)
	enqueuer := tasks.NewEnqueuer(asynqClient)

	ticketService := app.NewTicketService(store, clock.NewSystem(),
		app.WithPredictor(predictor),
		app.WithRefresher(enqueuer),
		app.WithNotifier(enqueuer),
		app.WithInvalidator(readCache),
	)

	srv, scheduler := startAsynqServer(redisOpt, cfg,
		tasks.NewHandlers(predictor, ticketService.Counter(), notifications, readCache))

	e := setupEcho(httptransport.NewHandlers(ticketService,
		httptransport.WithCache(readCache),
		httptransport.WithTokenGranter(granter),
	))

	go func() {
		if err := e.Start(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("e.Start()", "addr", cfg.HTTP.Addr, "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("e.Shutdown()", "error", err)
	}
	ticketService.Wait()
	scheduler.Shutdown()
	srv.Shutdown()
}
