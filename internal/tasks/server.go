package tasks

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
)

const DefaultReconcileCron = "*/1 * * * *"

func NewServer(redisOpt asynq.RedisConnOpt, concurrency int) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 10
	}
	return asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				QueueCritical: 6,
				QueueDefault:  3,
				QueueLow:      1,
			},
			Logger:   newLogger(),
			LogLevel: asynq.WarnLevel,
		},
	)
}

func NewServeMux(h *Handlers) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypePredictionRefresh, h.HandlePredictionRefresh)
	mux.HandleFunc(TypeLineReconcile, h.HandleLineReconcile)
	mux.HandleFunc(TypeNotifyTicket, h.HandleNotifyTicket)
	return mux
}

// RegisterSchedule registers the periodic reconciliation of every line.
func RegisterSchedule(scheduler *asynq.Scheduler, cronspec string) (string, error) {
	if cronspec == "" {
		cronspec = DefaultReconcileCron
	}
	task, err := NewLineReconcileTask(0)
	if err != nil {
		return "", err
	}
	return scheduler.Register(cronspec, task)
}

// slogLogger adapts log/slog to asynq.Logger.
type slogLogger struct {
	l *slog.Logger
}

func newLogger() *slogLogger {
	return &slogLogger{l: slog.Default().With("component", "asynq")}
}

func (s *slogLogger) Debug(args ...any) { s.l.Debug(fmt.Sprint(args...)) }
func (s *slogLogger) Info(args ...any)  { s.l.Info(fmt.Sprint(args...)) }
func (s *slogLogger) Warn(args ...any)  { s.l.Warn(fmt.Sprint(args...)) }
func (s *slogLogger) Error(args ...any) { s.l.Error(fmt.Sprint(args...)) }
func (s *slogLogger) Fatal(args ...any) {
	s.l.Error(fmt.Sprint(args...))
	os.Exit(1)
}
