package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/anousonefs/linewait/internal/domain"
	"github.com/anousonefs/linewait/internal/prediction"
)

// Refresher schedules a wait-time refresh for a line.
type Refresher interface {
	RefreshLine(ctx context.Context, lineID int64) error
}

// Notifier delivers one lifecycle event to the ticket's topic.
type Notifier interface {
	Notify(ctx context.Context, ev domain.Event) error
}

// Invalidator drops read-cache entries under a scope key prefix.
type Invalidator interface {
	Invalidate(ctx context.Context, scopeKey string) error
}

// Predictor runs the prediction round trip for a line.
type Predictor interface {
	Refresh(ctx context.Context, lineID int64) ([]prediction.Prediction, error)
}

// InlineRefresher refreshes in the calling goroutine.
type InlineRefresher struct {
	Predictor Predictor
}

func (r InlineRefresher) RefreshLine(ctx context.Context, lineID int64) error {
	_, err := r.Predictor.Refresh(ctx, lineID)
	return err
}

type noopRefresher struct{}

func (noopRefresher) RefreshLine(context.Context, int64) error { return nil }

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, domain.Event) error { return nil }

type noopInvalidator struct{}

func (noopInvalidator) Invalidate(context.Context, string) error { return nil }

// effects are the side effects of a committed lifecycle operation.
type effects struct {
	scopes []string
	events []domain.Event
	// updateLine publishes ticket_updated to every ticket still waiting.
	updateLine int64
	// refreshLine schedules a wait-time refresh.
	refreshLine int64
}

func lineScopes(line domain.Line) []string {
	return []string{
		fmt.Sprintf("line:%d", line.ID),
		fmt.Sprintf("service:%d", line.ServiceID),
	}
}

func ticketScope(ticketID int64) string {
	return fmt.Sprintf("ticket:%d", ticketID)
}

// dispatch runs fx in the background so hooks never block or fail the
// primary operation.
func (s *TicketService) dispatch(ctx context.Context, op string, fx effects) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.hookTimeout)
		defer cancel()
		s.runEffects(hctx, op, fx)
	}()
}

func (s *TicketService) runEffects(ctx context.Context, op string, fx effects) {
	for _, scope := range fx.scopes {
		if err := s.invalidator.Invalidate(ctx, scope); err != nil {
			slog.Error(fmt.Sprintf("s.invalidator.Invalidate(%v)", scope), "op", op, "error", err)
		}
	}

	events := fx.events
	if fx.updateLine != 0 {
		positions, err := s.RecomputePositions(ctx, fx.updateLine)
		if err != nil {
			slog.Error(fmt.Sprintf("s.RecomputePositions(lineID: %v)", fx.updateLine), "op", op, "error", err)
		}
		for _, p := range positions {
			events = append(events, domain.PositionEvent(p))
		}
	}
	for _, ev := range events {
		if err := s.notifier.Notify(ctx, ev); err != nil {
			slog.Error(fmt.Sprintf("s.notifier.Notify(%v)", ev.Topic()), "op", op, "event", ev.Type, "error", err)
		}
	}

	if fx.refreshLine != 0 {
		err := s.refresher.RefreshLine(ctx, fx.refreshLine)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrPredictionTimeout):
			slog.Warn("wait-time prediction timed out, keeping previous estimates", "op", op, "lineID", fx.refreshLine)
		default:
			slog.Error(fmt.Sprintf("s.refresher.RefreshLine(lineID: %v)", fx.refreshLine), "op", op, "error", err)
		}
	}
}
