package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anousonefs/linewait/internal/app"
	"github.com/anousonefs/linewait/internal/clock"
	"github.com/anousonefs/linewait/internal/domain"
	"github.com/anousonefs/linewait/internal/storage/memory"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	e     *echo.Echo
	svc   *app.TicketService
	store *memory.Store
	line  domain.Line
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := memory.New()
	serviceID := store.AddService("Passport")
	line, err := store.AddLine(serviceID, "Alpha")
	require.NoError(t, err)

	svc := app.NewTicketService(store, clock.NewSystem())
	t.Cleanup(svc.Wait)

	e := echo.New()
	SetupRoutes(e, NewHandlers(svc, opts...))
	return &fixture{e: e, svc: svc, store: store, line: line}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHandlers_TicketLifecycle(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/api/v1/services/1/tickets", `{"phone":"0900000001","name":"An"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "success", body["status"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "waiting", data["status"])
	assert.Equal(t, "A001", data["queue_number"])
	assert.Equal(t, float64(0), data["queue_length_at_join"])

	rec, body = f.do(t, http.MethodPost, "/api/v1/services/1/tickets", `{"phone":"0900000001"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, codeConflict, body["code"])

	rec, body = f.do(t, http.MethodGet, "/api/v1/tickets/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["data"].(map[string]any)["position"])

	rec, body = f.do(t, http.MethodPut, "/api/v1/tickets/call-next/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "serving", body["data"].(map[string]any)["status"])

	rec, body = f.do(t, http.MethodPut, "/api/v1/tickets/call-next/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, codeNotFound, body["code"])

	rec, body = f.do(t, http.MethodPut, "/api/v1/tickets/finish/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	finished := body["data"].(map[string]any)
	assert.Equal(t, "done", finished["ticket"].(map[string]any)["status"])
	assert.GreaterOrEqual(t, finished["service_duration_minutes"], float64(0))

	rec, body = f.do(t, http.MethodPut, "/api/v1/tickets/cancel/1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, codeInvalidState, body["code"])
}

func TestHandlers_CancelWaiting(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/v1/services/1/tickets", `{"phone":"1"}`)

	rec, body := f.do(t, http.MethodPut, "/api/v1/tickets/cancel/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", body["data"].(map[string]any)["status"])
	assert.Equal(t, 0, f.store.WaitingCount(f.line.ID))
}

func TestHandlers_BadInput(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		method, path, body string
		status             int
	}{
		{http.MethodGet, "/api/v1/tickets/abc", "", http.StatusBadRequest},
		{http.MethodGet, "/api/v1/tickets/0", "", http.StatusBadRequest},
		{http.MethodGet, "/api/v1/tickets/77", "", http.StatusNotFound},
		{http.MethodPost, "/api/v1/services/1/tickets", `{}`, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/services/1/tickets", `{"phone":`, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/services/9/tickets", `{"phone":"1"}`, http.StatusNotFound},
		{http.MethodPut, "/api/v1/tickets/call-next/9", "", http.StatusNotFound},
		{http.MethodPost, "/api/v1/tickets/predict-time", `{}`, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/tickets/predict-time", `{"lineId":1}`, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rec, _ := f.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}

type memoryCache struct {
	data map[string][]byte
	ttls map[string]time.Duration
	sets int
}

func (m *memoryCache) Get(_ context.Context, scope string, dst any) (bool, error) {
	raw, ok := m.data[scope]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (m *memoryCache) SetFor(_ context.Context, scope string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.data[scope] = raw
	m.ttls[scope] = ttl
	m.sets++
	return nil
}

func TestHandlers_LinePositionsAreCached(t *testing.T) {
	cache := &memoryCache{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
	f := newFixture(t, WithCache(cache))
	f.do(t, http.MethodPost, "/api/v1/services/1/tickets", `{"phone":"1"}`)
	f.do(t, http.MethodPost, "/api/v1/services/1/tickets", `{"phone":"2"}`)

	rec, body := f.do(t, http.MethodGet, "/api/v1/lines/1/positions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["data"], 2)
	assert.Equal(t, 1, cache.sets)
	assert.Equal(t, positionsTTL, cache.ttls["line:1:positions"])

	rec, body = f.do(t, http.MethodGet, "/api/v1/lines/1/positions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["data"], 2)
	assert.Equal(t, 1, cache.sets)
}

type fakeGranter struct {
	err error
}

func (g fakeGranter) GrantReadToken(_ context.Context, channel string, ttl int) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return fmt.Sprintf("tok:%s:%d", channel, ttl), nil
}

func TestHandlers_SubscribeToken(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/v1/services/1/tickets", `{"phone":"1"}`)

	rec, _ := f.do(t, http.MethodGet, "/api/v1/tickets/1/subscribe-token", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	f = newFixture(t, WithTokenGranter(fakeGranter{}))
	f.do(t, http.MethodPost, "/api/v1/services/1/tickets", `{"phone":"1"}`)

	rec, body := f.do(t, http.MethodGet, "/api/v1/tickets/1/subscribe-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "ticket_1", data["channel"])
	assert.Equal(t, "tok:ticket_1:60", data["token"])

	rec, _ = f.do(t, http.MethodGet, "/api/v1/tickets/5/subscribe-token", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlers_Health(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{domain.ErrCustomerRequired, http.StatusBadRequest},
		{domain.ErrTicketNotFound, http.StatusNotFound},
		{domain.ErrActiveTicketExists, http.StatusConflict},
		{domain.InvalidTransition(domain.StatusDone, domain.StatusCancelled), http.StatusConflict},
		{fmt.Errorf("line 1: %w", domain.ErrPredictionTimeout), http.StatusGatewayTimeout},
		{app.ErrPredictionDisabled, http.StatusServiceUnavailable},
		{domain.NewStorageError("get line", errors.New("EOF")), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, _ := errorStatus(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
	}
}
