package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/anousonefs/linewait/internal/domain"
	"github.com/anousonefs/linewait/internal/prediction"
	"github.com/hibiken/asynq"
)

type predictor interface {
	Refresh(ctx context.Context, lineID int64) ([]prediction.Prediction, error)
}

type reconciler interface {
	Reconcile(ctx context.Context, lineID int64) (domain.Reconciliation, error)
	ReconcileAll(ctx context.Context) ([]domain.Reconciliation, error)
}

type notifier interface {
	Notify(ctx context.Context, ev domain.Event) error
}

type invalidator interface {
	Invalidate(ctx context.Context, scope string) error
}

type Handlers struct {
	predictor   predictor
	reconciler  reconciler
	notifier    notifier
	invalidator invalidator
}

func NewHandlers(p predictor, r reconciler, n notifier, inv invalidator) *Handlers {
	return &Handlers{predictor: p, reconciler: r, notifier: n, invalidator: inv}
}

// HandlePredictionRefresh runs the prediction round trip for one line. A
// timeout leaves the previous estimates in place and is not retried.
func (h *Handlers) HandlePredictionRefresh(ctx context.Context, t *asynq.Task) error {
	var payload PredictionRefreshPayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	if h.predictor == nil {
		return nil
	}

	preds, err := h.predictor.Refresh(ctx, payload.LineID)
	if err != nil {
		if errors.Is(err, domain.ErrPredictionTimeout) {
			slog.Warn("wait-time prediction timed out, keeping previous estimates", "lineID", payload.LineID)
			return nil
		}
		return fmt.Errorf("h.predictor.Refresh(lineID: %v): %w", payload.LineID, err)
	}

	slog.Info("wait times refreshed", "lineID", payload.LineID, "tickets", len(preds))
	h.invalidateLine(ctx, payload.LineID)
	return nil
}

func (h *Handlers) HandleLineReconcile(ctx context.Context, t *asynq.Task) error {
	var payload LineReconcilePayload
	if err := decode(t, &payload); err != nil {
		return err
	}

	if payload.LineID != 0 {
		rec, err := h.reconciler.Reconcile(ctx, payload.LineID)
		if err != nil {
			return fmt.Errorf("h.reconciler.Reconcile(lineID: %v): %w", payload.LineID, err)
		}
		if rec.Drifted() {
			h.invalidateLine(ctx, rec.LineID)
		}
		return nil
	}

	drifted, err := h.reconciler.ReconcileAll(ctx)
	for _, rec := range drifted {
		h.invalidateLine(ctx, rec.LineID)
	}
	if err != nil {
		return fmt.Errorf("h.reconciler.ReconcileAll(): %w", err)
	}
	if len(drifted) > 0 {
		slog.Info("line counters reconciled", "drifted", len(drifted))
	}
	return nil
}

func (h *Handlers) HandleNotifyTicket(ctx context.Context, t *asynq.Task) error {
	var payload NotifyTicketPayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	return h.notifier.Notify(ctx, payload.Event)
}

func (h *Handlers) invalidateLine(ctx context.Context, lineID int64) {
	if h.invalidator == nil {
		return
	}
	scope := fmt.Sprintf("line:%d", lineID)
	if err := h.invalidator.Invalidate(ctx, scope); err != nil {
		slog.Error(fmt.Sprintf("h.invalidator.Invalidate(%v)", scope), "error", err)
	}
}
