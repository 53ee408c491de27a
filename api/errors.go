package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"tasktracker/domain"
)

// Error codes returned in the "error" member of failure responses.
const (
	codeUnauthenticated = "unauthenticated"
	codeForbidden       = "forbidden"
	codeNotFound        = "not_found"
	codeValidation      = "validation_failed"
	codeConflict        = "conflict"
	codeUnavailable     = "unavailable"
	codeInternal        = "internal"
	codeBadRequest      = "bad_request"
)

type errorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// classifyError maps the domain error taxonomy onto an HTTP status.
func classifyError(err error) (int, errorResponse) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, errorResponse{Error: codeValidation, Message: err.Error(), Fields: verr.Fields}
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, errorResponse{Error: codeValidation, Message: err.Error()}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, errorResponse{Error: codeNotFound, Message: "not found"}
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden, errorResponse{Error: codeForbidden, Message: "not permitted"}
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusConflict, errorResponse{Error: codeConflict, Message: "the resource was modified concurrently, reload and retry"}
	case errors.Is(err, domain.ErrTransientIO):
		return http.StatusServiceUnavailable, errorResponse{Error: codeUnavailable, Message: "storage temporarily unavailable"}
	}
	return http.StatusInternalServerError, errorResponse{Error: codeInternal, Message: "internal error"}
}

// respondError writes err as a JSON failure and records the failing stage.
func respondError(c echo.Context, stage string, err error) error {
	status, body := classifyError(err)
	metricsFrom(c).Fail(stage, err)
	if status == http.StatusServiceUnavailable {
		c.Response().Header().Set("Retry-After", "1")
	}
	return c.JSON(status, body)
}

func respondStatus(c echo.Context, status int, stage, code, msg string) error {
	metricsFrom(c).Fail(stage, errors.New(msg))
	return c.JSON(status, errorResponse{Error: code, Message: msg})
}
