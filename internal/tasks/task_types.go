// Package tasks moves the post-commit side effects of the ticket lifecycle
// onto asynq: wait-time refreshes, customer notifications and the periodic
// line counter reconciliation.
package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/anousonefs/linewait/internal/domain"
	"github.com/hibiken/asynq"
)

const (
	TypePredictionRefresh = "prediction:refresh"
	TypeLineReconcile     = "line:reconcile"
	TypeNotifyTicket      = "notify:ticket"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// Task payloads
type PredictionRefreshPayload struct {
	LineID int64 `json:"line_id"`
}

// LineReconcilePayload with a zero LineID reconciles every line.
type LineReconcilePayload struct {
	LineID int64 `json:"line_id,omitempty"`
}

type NotifyTicketPayload struct {
	Event domain.Event `json:"event"`
}

func NewPredictionRefreshTask(lineID int64) (*asynq.Task, error) {
	payload, err := json.Marshal(PredictionRefreshPayload{LineID: lineID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePredictionRefresh, payload,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(1),
		asynq.Timeout(30*time.Second),
	), nil
}

func NewLineReconcileTask(lineID int64) (*asynq.Task, error) {
	payload, err := json.Marshal(LineReconcilePayload{LineID: lineID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeLineReconcile, payload, asynq.Queue(QueueLow), asynq.MaxRetry(0)), nil
}

func NewNotifyTicketTask(ev domain.Event) (*asynq.Task, error) {
	payload, err := json.Marshal(NotifyTicketPayload{Event: ev})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeNotifyTicket, payload, asynq.Queue(QueueCritical), asynq.MaxRetry(3)), nil
}

func decode(t *asynq.Task, v any) error {
	if err := json.Unmarshal(t.Payload(), v); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return nil
}
