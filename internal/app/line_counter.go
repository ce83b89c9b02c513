package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/anousonefs/linewait/internal/domain"
)

// LineCounter maintains Line.total, the cached count of waiting tickets.
// The ticket rows stay the source of truth; Reconcile realigns the cache.
type LineCounter struct {
	store LineStore
}

func NewLineCounter(store LineStore) *LineCounter {
	return &LineCounter{store: store}
}

func (c *LineCounter) Increment(ctx context.Context, lineID int64) (domain.Admission, error) {
	return c.store.AdmitToLine(ctx, lineID)
}

func (c *LineCounter) Decrement(ctx context.Context, lineID int64) (int, error) {
	return c.store.ReleaseFromLine(ctx, lineID)
}

func (c *LineCounter) Reconcile(ctx context.Context, lineID int64) (domain.Reconciliation, error) {
	rec, err := c.store.ReconcileLine(ctx, lineID)
	if err != nil {
		return domain.Reconciliation{}, err
	}
	if rec.Drifted() {
		slog.Warn("line total drifted from waiting tickets", "lineID", lineID, "total", rec.Previous, "waiting", rec.Actual)
	}
	return rec, nil
}

// ReconcileAll reconciles every line and returns the ones that drifted.
// A failing line does not stop the others.
func (c *LineCounter) ReconcileAll(ctx context.Context) ([]domain.Reconciliation, error) {
	ids, err := c.store.ListLineIDs(ctx)
	if err != nil {
		return nil, err
	}

	var drifted []domain.Reconciliation
	var failed int
	for _, id := range ids {
		rec, err := c.Reconcile(ctx, id)
		if err != nil {
			slog.Error(fmt.Sprintf("c.Reconcile(lineID: %v)", id), "error", err)
			failed++
			continue
		}
		if rec.Drifted() {
			drifted = append(drifted, rec)
		}
	}
	if failed > 0 {
		return drifted, fmt.Errorf("reconcile: %d of %d lines failed", failed, len(ids))
	}
	return drifted, nil
}
