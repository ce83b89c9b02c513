package prediction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/anousonefs/linewait/internal/clock"
	"github.com/anousonefs/linewait/internal/domain"
	"github.com/google/uuid"
)

const (
	DefaultTimeout            = 10 * time.Second
	DefaultRequestDestination = "predict_request"
	DefaultReplyPrefix        = "predict_reply:"
)

// TicketStore is the slice of the ticket store the client needs.
type TicketStore interface {
	ListWaiting(ctx context.Context, lineID int64) ([]domain.Ticket, error)
	// SetWaitingTime stores the estimate only while the ticket is still
	// waiting and reports whether it did.
	SetWaitingTime(ctx context.Context, ticketID int64, minutes int) (bool, error)
}

// Client asks the external predictor for wait-time estimates over a
// Transport and presents the exchange as a blocking call.
type Client struct {
	transport   Transport
	store       TicketStore
	calendar    clock.Calendar
	requestDest string
	replyPrefix string
	timeout     time.Duration
	newToken    func() string
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithCalendar(cal clock.Calendar) Option {
	return func(c *Client) { c.calendar = cal }
}

func WithRequestDestination(dest string) Option {
	return func(c *Client) {
		if dest != "" {
			c.requestDest = dest
		}
	}
}

func WithReplyPrefix(prefix string) Option {
	return func(c *Client) {
		if prefix != "" {
			c.replyPrefix = prefix
		}
	}
}

func NewClient(transport Transport, store TicketStore, opts ...Option) *Client {
	c := &Client{
		transport:   transport,
		store:       store,
		calendar:    clock.NewCalendar(time.Local),
		requestDest: DefaultRequestDestination,
		replyPrefix: DefaultReplyPrefix,
		timeout:     DefaultTimeout,
		newToken:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Refresh predicts wait times for every waiting ticket of the line and
// stores the rounded estimates on tickets that are still waiting.
func (c *Client) Refresh(ctx context.Context, lineID int64) ([]Prediction, error) {
	tickets, err := c.store.ListWaiting(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, nil
	}

	predictions, err := c.Call(ctx, c.BuildRequest(tickets))
	if err != nil {
		return nil, fmt.Errorf("line %d: %w", lineID, err)
	}

	c.apply(ctx, lineID, predictions)
	return predictions, nil
}

// BuildRequest derives features from tickets already ordered by join time.
func (c *Client) BuildRequest(tickets []domain.Ticket) Request {
	features := make([]Features, 0, len(tickets))
	for i, t := range tickets {
		features = append(features, Features{
			TicketID:    t.ID,
			QueueLength: i,
			Hour:        c.calendar.Hour(t.JoinedAt),
			DayOfWeek:   c.calendar.DayOfWeek(t.JoinedAt),
		})
	}
	return Request{Tickets: features}
}

// Call publishes req under a fresh correlation token and waits for the
// matching response on a private reply destination. The whole exchange,
// subscribe and publish included, is bounded by the client timeout.
func (c *Client) Call(ctx context.Context, req Request) ([]Prediction, error) {
	token := c.newToken()
	replyTo := c.replyPrefix + token
	req.CorrelationID = token
	req.ReplyTo = replyTo

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode prediction request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	replies := make(chan Response, 1)
	handler := func(msg Message) bool {
		var resp Response
		if err := json.Unmarshal(msg.Body, &resp); err != nil {
			return false
		}
		if resp.CorrelationID != token {
			return false
		}
		select {
		case replies <- resp:
		default:
			// duplicate reply for this call; first one wins
		}
		return true
	}

	sub, err := c.transport.Subscribe(callCtx, replyTo, handler, SubscribeOptions{Exclusive: true, AutoCleanup: true})
	if err != nil {
		return nil, c.callError(ctx, callCtx, token, fmt.Errorf("subscribe %s: %w", replyTo, err))
	}
	defer func() {
		if err := c.transport.Cancel(context.WithoutCancel(ctx), sub); err != nil {
			slog.Error("prediction: cancel reply subscription", "replyTo", replyTo, "error", err)
		}
	}()

	msg := Message{CorrelationID: token, ReplyTo: replyTo, Body: body}
	if err := c.transport.Publish(callCtx, c.requestDest, msg); err != nil {
		return nil, c.callError(ctx, callCtx, token, fmt.Errorf("publish prediction request: %w", err))
	}

	select {
	case resp := <-replies:
		return resp.Predictions, nil
	case <-callCtx.Done():
		return nil, c.callError(ctx, callCtx, token, callCtx.Err())
	}
}

// callError reports a spent call deadline as a prediction timeout. A caller
// that cancelled or ran out of time first gets its own context error.
func (c *Client) callError(parent, callCtx context.Context, token string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: no reply for %s within %s", domain.ErrPredictionTimeout, token, c.timeout)
	}
	return err
}

func (c *Client) apply(ctx context.Context, lineID int64, predictions []Prediction) {
	for _, p := range predictions {
		minutes := int(math.Round(p.PredictedWaitMinutes))
		if minutes < 0 {
			minutes = 0
		}
		updated, err := c.store.SetWaitingTime(ctx, p.TicketID, minutes)
		if err != nil {
			slog.Error(fmt.Sprintf("c.store.SetWaitingTime(ticketID: %v)", p.TicketID), "error", err)
			continue
		}
		if !updated {
			slog.Debug("prediction: ticket left waiting, estimate discarded", "lineID", lineID, "ticketID", p.TicketID)
		}
	}
}
