package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/anousonefs/linewait/internal/clock"
	"github.com/anousonefs/linewait/internal/domain"
	"github.com/anousonefs/linewait/internal/prediction"
)

const (
	defaultHookTimeout = 30 * time.Second
	maxCancelAttempts  = 3
)

var (
	// ErrPredictionDisabled is returned by PredictLine when no predictor is wired.
	ErrPredictionDisabled = errors.New("wait-time prediction is not configured")

	errStatusMoved = errors.New("ticket status changed concurrently")
)

// TicketService enforces the ticket state machine:
//
//	waiting -> serving -> done
//	waiting -> cancelled
//	serving -> cancelled
//
// Status changes and Line.total updates share one store transaction.
// Cache invalidation, notifications and prediction refreshes run after
// commit and never fail the operation.
type TicketService struct {
	store       Store
	counter     *LineCounter
	clock       clock.Clock
	refresher   Refresher
	notifier    Notifier
	invalidator Invalidator
	predictor   Predictor
	hookTimeout time.Duration

	inflight sync.WaitGroup
}

type TicketServiceOption func(*TicketService)

func WithRefresher(r Refresher) TicketServiceOption {
	return func(s *TicketService) {
		if r != nil {
			s.refresher = r
		}
	}
}

func WithNotifier(n Notifier) TicketServiceOption {
	return func(s *TicketService) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithInvalidator(i Invalidator) TicketServiceOption {
	return func(s *TicketService) {
		if i != nil {
			s.invalidator = i
		}
	}
}

// WithPredictor enables PredictLine. Without WithRefresher it also becomes
// the background refresher.
func WithPredictor(p Predictor) TicketServiceOption {
	return func(s *TicketService) { s.predictor = p }
}

func WithHookTimeout(d time.Duration) TicketServiceOption {
	return func(s *TicketService) {
		if d > 0 {
			s.hookTimeout = d
		}
	}
}

func NewTicketService(store Store, clk clock.Clock, opts ...TicketServiceOption) *TicketService {
	s := &TicketService{
		store:       store,
		counter:     NewLineCounter(store),
		clock:       clk,
		notifier:    noopNotifier{},
		invalidator: noopInvalidator{},
		hookTimeout: defaultHookTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.refresher == nil {
		if s.predictor != nil {
			s.refresher = InlineRefresher{Predictor: s.predictor}
		} else {
			s.refresher = noopRefresher{}
		}
	}
	return s
}

func (s *TicketService) Counter() *LineCounter { return s.counter }

// Wait blocks until every dispatched hook has finished.
func (s *TicketService) Wait() {
	s.inflight.Wait()
}

// Join puts the customer on the least-loaded line of the service.
func (s *TicketService) Join(ctx context.Context, serviceID int64, who domain.CustomerIdentity) (domain.TicketView, error) {
	if serviceID <= 0 {
		return domain.TicketView{}, domain.ErrServiceIDRequired
	}
	if who.Empty() {
		return domain.TicketView{}, domain.ErrCustomerRequired
	}

	now := s.clock.Now()
	var (
		ticket domain.Ticket
		line   domain.Line
	)
	err := s.store.WithTx(ctx, func(txCtx context.Context) error {
		customer, err := s.store.ResolveCustomer(txCtx, who)
		if err != nil {
			return err
		}

		lines, err := s.store.ListLinesByService(txCtx, serviceID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return domain.ErrNoLines
		}

		active, err := s.store.HasWaitingTicket(txCtx, customer.ID, serviceID)
		if err != nil {
			return err
		}
		if active {
			return domain.ErrActiveTicketExists
		}

		line = leastLoaded(lines)
		admission, err := s.counter.Increment(txCtx, line.ID)
		if err != nil {
			return err
		}

		ticket, err = s.store.CreateTicket(txCtx, domain.Ticket{
			LineID:            line.ID,
			ServiceID:         serviceID,
			CustomerID:        customer.ID,
			Seq:               admission.Seq,
			Status:            domain.StatusWaiting,
			JoinedAt:          now,
			QueueLengthAtJoin: admission.Ahead,
		})
		return err
	})
	if err != nil {
		return domain.TicketView{}, err
	}

	slog.Info("ticket joined", "ticketID", ticket.ID, "lineID", line.ID, "serviceID", serviceID, "ahead", ticket.QueueLengthAtJoin)
	s.dispatch(ctx, "join", effects{
		scopes:      append(lineScopes(line), ticketScope(ticket.ID)),
		refreshLine: line.ID,
	})

	return s.view(ctx, ticket, line)
}

// CallNext claims the oldest waiting ticket of the line. A claim lost to a
// concurrent caller moves on to the next-oldest candidate.
func (s *TicketService) CallNext(ctx context.Context, lineID int64) (domain.TicketView, error) {
	if lineID <= 0 {
		return domain.TicketView{}, domain.ErrLineIDRequired
	}
	line, err := s.store.GetLine(ctx, lineID)
	if err != nil {
		return domain.TicketView{}, err
	}

	var claimed int64
	for claimed == 0 {
		if err := ctx.Err(); err != nil {
			return domain.TicketView{}, err
		}
		candidates, err := s.store.ListWaiting(ctx, lineID)
		if err != nil {
			return domain.TicketView{}, err
		}
		if len(candidates) == 0 {
			return domain.TicketView{}, domain.ErrNoWaitingTicket
		}

		for _, c := range candidates {
			ok, err := s.claim(ctx, c)
			if err != nil {
				return domain.TicketView{}, err
			}
			if ok {
				claimed = c.ID
				break
			}
			slog.Debug("ticket claimed by another caller, trying next", "ticketID", c.ID, "lineID", lineID)
		}
	}

	ticket, err := s.store.GetTicket(ctx, claimed)
	if err != nil {
		return domain.TicketView{}, err
	}
	view, err := s.view(ctx, ticket, line)
	if err != nil {
		return domain.TicketView{}, err
	}

	slog.Info("ticket called", "ticketID", ticket.ID, "lineID", lineID, "queueNumber", view.QueueNumber)
	s.dispatch(ctx, "call_next", effects{
		scopes:      append(lineScopes(line), ticketScope(ticket.ID)),
		events:      []domain.Event{domain.CalledEvent(ticket, view.QueueNumber)},
		updateLine:  lineID,
		refreshLine: lineID,
	})
	return view, nil
}

func (s *TicketService) claim(ctx context.Context, t domain.Ticket) (bool, error) {
	var ok bool
	err := s.store.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		ok, err = s.store.TransitionTicket(txCtx, t.ID, domain.StatusWaiting, domain.StatusServing, s.clock.Now())
		if err != nil || !ok {
			return err
		}
		_, err = s.counter.Decrement(txCtx, t.LineID)
		return err
	})
	return ok, err
}

// Finish completes a ticket that is being served.
func (s *TicketService) Finish(ctx context.Context, ticketID int64) (domain.FinishResult, error) {
	if ticketID <= 0 {
		return domain.FinishResult{}, domain.ErrTicketIDRequired
	}

	var ticket domain.Ticket
	err := s.store.WithTx(ctx, func(txCtx context.Context) error {
		current, err := s.store.GetTicket(txCtx, ticketID)
		if err != nil {
			return err
		}
		if current.Status != domain.StatusServing {
			return domain.InvalidTransition(current.Status, domain.StatusDone)
		}

		ok, err := s.store.TransitionTicket(txCtx, ticketID, domain.StatusServing, domain.StatusDone, s.clock.Now())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: ticket %d is no longer serving", domain.ErrInvalidState, ticketID)
		}

		ticket, err = s.store.GetTicket(txCtx, ticketID)
		return err
	})
	if err != nil {
		return domain.FinishResult{}, err
	}

	line, err := s.store.GetLine(ctx, ticket.LineID)
	if err != nil {
		return domain.FinishResult{}, err
	}
	view, err := s.view(ctx, ticket, line)
	if err != nil {
		return domain.FinishResult{}, err
	}

	var duration float64
	if ticket.ServedAt != nil && ticket.FinishedAt != nil {
		duration = domain.ServiceDuration(*ticket.ServedAt, *ticket.FinishedAt)
	}

	slog.Info("ticket finished", "ticketID", ticketID, "lineID", ticket.LineID, "serviceMinutes", duration)
	s.dispatch(ctx, "finish", effects{
		scopes: append(lineScopes(line), ticketScope(ticketID)),
		events: []domain.Event{domain.FinishedEvent(ticket)},
	})
	return domain.FinishResult{Ticket: view, ServiceDurationMinutes: duration}, nil
}

// Cancel withdraws a waiting or serving ticket.
func (s *TicketService) Cancel(ctx context.Context, ticketID int64) (domain.TicketView, error) {
	if ticketID <= 0 {
		return domain.TicketView{}, domain.ErrTicketIDRequired
	}

	var (
		ticket domain.Ticket
		prior  domain.Status
		err    error
	)
	for attempt := 0; attempt < maxCancelAttempts; attempt++ {
		ticket, prior, err = s.cancelOnce(ctx, ticketID)
		if !errors.Is(err, errStatusMoved) {
			break
		}
	}
	if errors.Is(err, errStatusMoved) {
		return domain.TicketView{}, fmt.Errorf("%w: ticket %d kept changing status", domain.ErrInvalidState, ticketID)
	}
	if err != nil {
		return domain.TicketView{}, err
	}

	line, err := s.store.GetLine(ctx, ticket.LineID)
	if err != nil {
		return domain.TicketView{}, err
	}
	view, err := s.view(ctx, ticket, line)
	if err != nil {
		return domain.TicketView{}, err
	}

	slog.Info("ticket cancelled", "ticketID", ticketID, "lineID", ticket.LineID, "from", prior)
	s.dispatch(ctx, "cancel", effects{
		scopes:      append(lineScopes(line), ticketScope(ticketID)),
		events:      []domain.Event{domain.CancelledEvent(ticket)},
		updateLine:  ticket.LineID,
		refreshLine: ticket.LineID,
	})
	return view, nil
}

func (s *TicketService) cancelOnce(ctx context.Context, ticketID int64) (domain.Ticket, domain.Status, error) {
	var (
		ticket domain.Ticket
		prior  domain.Status
	)
	err := s.store.WithTx(ctx, func(txCtx context.Context) error {
		current, err := s.store.GetTicket(txCtx, ticketID)
		if err != nil {
			return err
		}
		if !current.Status.CanTransition(domain.StatusCancelled) {
			return domain.InvalidTransition(current.Status, domain.StatusCancelled)
		}
		prior = current.Status

		ok, err := s.store.TransitionTicket(txCtx, ticketID, prior, domain.StatusCancelled, s.clock.Now())
		if err != nil {
			return err
		}
		if !ok {
			return errStatusMoved
		}
		if prior == domain.StatusWaiting {
			if _, err := s.counter.Decrement(txCtx, current.LineID); err != nil {
				return err
			}
		}

		ticket, err = s.store.GetTicket(txCtx, ticketID)
		return err
	})
	return ticket, prior, err
}

func (s *TicketService) GetTicket(ctx context.Context, ticketID int64) (domain.TicketView, error) {
	if ticketID <= 0 {
		return domain.TicketView{}, domain.ErrTicketIDRequired
	}
	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return domain.TicketView{}, err
	}
	line, err := s.store.GetLine(ctx, ticket.LineID)
	if err != nil {
		return domain.TicketView{}, err
	}
	return s.view(ctx, ticket, line)
}

// RecomputePositions derives each waiting ticket's live 0-based position.
// The recorded queue_length_at_join snapshot is left untouched.
func (s *TicketService) RecomputePositions(ctx context.Context, lineID int64) ([]domain.Position, error) {
	waiting, err := s.store.ListWaiting(ctx, lineID)
	if err != nil {
		return nil, err
	}
	positions := make([]domain.Position, 0, len(waiting))
	for i, t := range waiting {
		positions = append(positions, domain.Position{TicketID: t.ID, Position: i, WaitingTime: t.WaitingTime})
	}
	return positions, nil
}

// PredictLine runs the prediction round trip inline and returns the raw
// predictions. Unlike lifecycle operations it reports a timeout.
func (s *TicketService) PredictLine(ctx context.Context, lineID int64) ([]prediction.Prediction, error) {
	if lineID <= 0 {
		return nil, domain.ErrLineIDRequired
	}
	if s.predictor == nil {
		return nil, ErrPredictionDisabled
	}
	line, err := s.store.GetLine(ctx, lineID)
	if err != nil {
		return nil, err
	}
	preds, err := s.predictor.Refresh(ctx, lineID)
	if err != nil {
		return nil, err
	}
	s.dispatch(ctx, "predict", effects{scopes: lineScopes(line), updateLine: lineID})
	return preds, nil
}

func (s *TicketService) view(ctx context.Context, t domain.Ticket, line domain.Line) (domain.TicketView, error) {
	v := domain.TicketView{Ticket: t, QueueNumber: domain.QueueNumber(line.Name, t.Seq)}
	if t.Status != domain.StatusWaiting {
		return v, nil
	}
	positions, err := s.RecomputePositions(ctx, t.LineID)
	if err != nil {
		return domain.TicketView{}, err
	}
	for _, p := range positions {
		if p.TicketID == t.ID {
			pos := p.Position
			v.Position = &pos
			break
		}
	}
	return v, nil
}

// leastLoaded picks the line with the smallest total, lowest id on ties.
func leastLoaded(lines []domain.Line) domain.Line {
	best := lines[0]
	for _, l := range lines[1:] {
		if l.Total < best.Total || (l.Total == best.Total && l.ID < best.ID) {
			best = l
		}
	}
	return best
}
