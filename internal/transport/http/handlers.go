package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/anousonefs/linewait/internal/domain"
	"github.com/anousonefs/linewait/internal/prediction"
	"github.com/labstack/echo/v4"
)

const (
	subscribeTokenTTLMinutes = 60

	// positionsTTL bounds how long a positions snapshot computed just before
	// a commit can outlive that commit's invalidation.
	positionsTTL = 5 * time.Second
)

// TicketService is the lifecycle surface the handlers drive.
type TicketService interface {
	Join(ctx context.Context, serviceID int64, who domain.CustomerIdentity) (domain.TicketView, error)
	CallNext(ctx context.Context, lineID int64) (domain.TicketView, error)
	Finish(ctx context.Context, ticketID int64) (domain.FinishResult, error)
	Cancel(ctx context.Context, ticketID int64) (domain.TicketView, error)
	GetTicket(ctx context.Context, ticketID int64) (domain.TicketView, error)
	RecomputePositions(ctx context.Context, lineID int64) ([]domain.Position, error)
	PredictLine(ctx context.Context, lineID int64) ([]prediction.Prediction, error)
}

// ReadCache holds short-lived read models keyed by scope.
type ReadCache interface {
	Get(ctx context.Context, scope string, dst any) (bool, error)
	SetFor(ctx context.Context, scope string, v any, ttl time.Duration) error
}

// TokenGranter issues read tokens for a ticket's notification channel.
type TokenGranter interface {
	GrantReadToken(ctx context.Context, channel string, ttlMinutes int) (string, error)
}

type Handlers struct {
	svc    TicketService
	cache  ReadCache
	tokens TokenGranter
}

type Option func(*Handlers)

func WithCache(c ReadCache) Option {
	return func(h *Handlers) { h.cache = c }
}

func WithTokenGranter(g TokenGranter) Option {
	return func(h *Handlers) { h.tokens = g }
}

func NewHandlers(svc TicketService, opts ...Option) *Handlers {
	h := &Handlers{svc: svc}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data"`
}

func success(c echo.Context, status int, message string, data any) error {
	return c.JSON(status, envelope{Status: "success", Message: message, Data: data})
}

func (h *Handlers) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) JoinLine(c echo.Context) error {
	serviceID, err := idParam(c, "serviceId")
	if err != nil {
		return writeError(c, "idParam(serviceId)", err)
	}

	var who domain.CustomerIdentity
	if err := c.Bind(&who); err != nil {
		slog.Error("c.Bind()", "error", err)
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body", Code: codeValidation})
	}

	ticket, err := h.svc.Join(c.Request().Context(), serviceID, who)
	if err != nil {
		return writeError(c, fmt.Sprintf("h.svc.Join(serviceID: %v)", serviceID), err)
	}
	return success(c, http.StatusCreated, "Ticket created successfully", ticket)
}

func (h *Handlers) GetTicket(c echo.Context) error {
	ticketID, err := idParam(c, "ticketId")
	if err != nil {
		return writeError(c, "idParam(ticketId)", err)
	}

	ticket, err := h.svc.GetTicket(c.Request().Context(), ticketID)
	if err != nil {
		return writeError(c, fmt.Sprintf("h.svc.GetTicket(%v)", ticketID), err)
	}
	return success(c, http.StatusOK, "", ticket)
}

func (h *Handlers) CallNext(c echo.Context) error {
	lineID, err := idParam(c, "lineId")
	if err != nil {
		return writeError(c, "idParam(lineId)", err)
	}

	ticket, err := h.svc.CallNext(c.Request().Context(), lineID)
	if err != nil {
		return writeError(c, fmt.Sprintf("h.svc.CallNext(lineID: %v)", lineID), err)
	}
	return success(c, http.StatusOK, "Next ticket called", ticket)
}

func (h *Handlers) FinishTicket(c echo.Context) error {
	ticketID, err := idParam(c, "ticketId")
	if err != nil {
		return writeError(c, "idParam(ticketId)", err)
	}

	res, err := h.svc.Finish(c.Request().Context(), ticketID)
	if err != nil {
		return writeError(c, fmt.Sprintf("h.svc.Finish(%v)", ticketID), err)
	}
	return success(c, http.StatusOK, "Ticket finished", map[string]any{
		"ticket":                   res.Ticket,
		"service_duration_minutes": res.ServiceDurationMinutes,
	})
}

func (h *Handlers) CancelTicket(c echo.Context) error {
	ticketID, err := idParam(c, "ticketId")
	if err != nil {
		return writeError(c, "idParam(ticketId)", err)
	}

	ticket, err := h.svc.Cancel(c.Request().Context(), ticketID)
	if err != nil {
		return writeError(c, fmt.Sprintf("h.svc.Cancel(%v)", ticketID), err)
	}
	return success(c, http.StatusOK, "Ticket cancelled", ticket)
}

func (h *Handlers) LinePositions(c echo.Context) error {
	lineID, err := idParam(c, "lineId")
	if err != nil {
		return writeError(c, "idParam(lineId)", err)
	}
	ctx := c.Request().Context()
	scope := fmt.Sprintf("line:%d:positions", lineID)

	var positions []domain.Position
	if h.cache != nil {
		hit, err := h.cache.Get(ctx, scope, &positions)
		if err != nil {
			slog.Warn("read cache unavailable", "scope", scope, "error", err)
		}
		if hit {
			return success(c, http.StatusOK, "", positions)
		}
	}

	positions, err = h.svc.RecomputePositions(ctx, lineID)
	if err != nil {
		return writeError(c, fmt.Sprintf("h.svc.RecomputePositions(lineID: %v)", lineID), err)
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	if h.cache != nil {
		if err := h.cache.SetFor(ctx, scope, positions, positionsTTL); err != nil {
			slog.Warn("read cache unavailable", "scope", scope, "error", err)
		}
	}
	return success(c, http.StatusOK, "", positions)
}

func (h *Handlers) PredictTime(c echo.Context) error {
	var req struct {
		LineID int64 `json:"lineId"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body", Code: codeValidation})
	}
	if req.LineID <= 0 {
		return writeError(c, "PredictTime", domain.ErrLineIDRequired)
	}

	preds, err := h.svc.PredictLine(c.Request().Context(), req.LineID)
	if err != nil {
		return writeError(c, fmt.Sprintf("h.svc.PredictLine(lineID: %v)", req.LineID), err)
	}
	if preds == nil {
		preds = []prediction.Prediction{}
	}
	return success(c, http.StatusOK, "", map[string]any{
		"lineId":        req.LineID,
		"waiting_times": preds,
	})
}

// SubscribeToken grants a customer read access to their ticket's channel.
func (h *Handlers) SubscribeToken(c echo.Context) error {
	if h.tokens == nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "notifications are not configured", Code: "notifications_unavailable"})
	}
	ticketID, err := idParam(c, "ticketId")
	if err != nil {
		return writeError(c, "idParam(ticketId)", err)
	}
	ctx := c.Request().Context()

	if _, err := h.svc.GetTicket(ctx, ticketID); err != nil {
		return writeError(c, fmt.Sprintf("h.svc.GetTicket(%v)", ticketID), err)
	}

	channel := domain.TicketTopic(ticketID)
	token, err := h.tokens.GrantReadToken(ctx, channel, subscribeTokenTTLMinutes)
	if err != nil {
		slog.Error(fmt.Sprintf("h.tokens.GrantReadToken(%v)", channel), "error", err)
		return c.JSON(http.StatusBadGateway, errorResponse{Error: "could not issue token", Code: codeInternal})
	}
	return success(c, http.StatusOK, "", map[string]any{
		"channel": channel,
		"token":   token,
	})
}

func idParam(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", domain.ErrValidation, name)
	}
	return id, nil
}
