package app

import (
	"context"
	"sync"
	"time"

	"github.com/anousonefs/linewait/internal/domain"
	"github.com/anousonefs/linewait/internal/prediction"
)

// stepClock advances by step on every reading so join order is strict.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC), step: time.Second}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, ev domain.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func (n *recordingNotifier) ofType(typ domain.EventType) []domain.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.Event
	for _, ev := range n.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type recordingRefresher struct {
	mu    sync.Mutex
	lines []int64
	err   error
}

func (r *recordingRefresher) RefreshLine(_ context.Context, lineID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, lineID)
	return r.err
}

func (r *recordingRefresher) calls() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.lines...)
}

type recordingInvalidator struct {
	mu     sync.Mutex
	scopes []string
}

func (i *recordingInvalidator) Invalidate(_ context.Context, scope string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.scopes = append(i.scopes, scope)
	return nil
}

func (i *recordingInvalidator) all() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.scopes...)
}

type stubPredictor struct {
	preds []prediction.Prediction
	err   error
	store interface {
		SetWaitingTime(ctx context.Context, ticketID int64, minutes int) (bool, error)
	}
}

func (p stubPredictor) Refresh(ctx context.Context, _ int64) ([]prediction.Prediction, error) {
	if p.err != nil {
		return nil, p.err
	}
	for _, pr := range p.preds {
		_, _ = p.store.SetWaitingTime(ctx, pr.TicketID, int(pr.PredictedWaitMinutes+0.5))
	}
	return p.preds, nil
}
