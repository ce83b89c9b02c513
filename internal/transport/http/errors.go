package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/anousonefs/linewait/internal/app"
	"github.com/anousonefs/linewait/internal/domain"
	"github.com/labstack/echo/v4"
)

const (
	codeValidation        = "validation_error"
	codeNotFound          = "not_found"
	codeConflict          = "conflict"
	codeInvalidState      = "invalid_state"
	codePredictionTimeout = "prediction_timeout"
	codePredictionOff     = "prediction_unavailable"
	codeInternal          = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// errorStatus maps a domain error kind onto an HTTP status and code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, codeValidation
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, codeConflict
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, codeInvalidState
	case errors.Is(err, domain.ErrPredictionTimeout):
		return http.StatusGatewayTimeout, codePredictionTimeout
	case errors.Is(err, app.ErrPredictionDisabled):
		return http.StatusServiceUnavailable, codePredictionOff
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func writeError(c echo.Context, op string, err error) error {
	status, code := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error(op, "error", err)
		msg = "internal error"
	}
	return c.JSON(status, errorResponse{Error: msg, Code: code})
}
