package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/anousonefs/linewait/internal/domain"
	"github.com/hibiken/asynq"
)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer hands refreshes and notifications to the worker pool instead of
// running them in the request path.
type Enqueuer struct {
	client enqueuer
}

func NewEnqueuer(client enqueuer) *Enqueuer {
	return &Enqueuer{client: client}
}

func (e *Enqueuer) RefreshLine(ctx context.Context, lineID int64) error {
	task, err := NewPredictionRefreshTask(lineID)
	if err != nil {
		return err
	}
	info, err := e.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("e.client.EnqueueContext(%v, lineID: %v): %w", TypePredictionRefresh, lineID, err)
	}
	slog.Debug("prediction refresh enqueued", "lineID", lineID, "taskID", info.ID)
	return nil
}

func (e *Enqueuer) Notify(ctx context.Context, ev domain.Event) error {
	task, err := NewNotifyTicketTask(ev)
	if err != nil {
		return err
	}
	if _, err := e.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("e.client.EnqueueContext(%v, topic: %v): %w", TypeNotifyTicket, ev.Topic(), err)
	}
	return nil
}

func (e *Enqueuer) ReconcileLine(ctx context.Context, lineID int64) error {
	task, err := NewLineReconcileTask(lineID)
	if err != nil {
		return err
	}
	if _, err := e.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("e.client.EnqueueContext(%v, lineID: %v): %w", TypeLineReconcile, lineID, err)
	}
	return nil
}
