// Package api is the echo HTTP surface shared by the workflow and builder
// services: auth guard, rate limiting, validation, the error envelope, and
// the route handlers.
package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/awaregh/platform/pkg/models"
)

const (
	CodeValidation = "VALIDATION_ERROR"
	CodeAuth       = "AUTH_ERROR"
	CodeForbidden  = "FORBIDDEN"
	CodeNotFound   = "NOT_FOUND"
	CodeConflict   = "CONFLICT"
	CodeRateLimit  = "RATE_LIMIT"
	CodeBuild      = "BUILD_ERROR"
	CodeInternal   = "INTERNAL_ERROR"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

func envelope(code, message string, details any) errorEnvelope {
	return errorEnvelope{Success: false, Error: errorBody{Code: code, Message: message, Details: details}}
}

// writeError maps a domain error onto the envelope. Internal messages are
// hidden in production.
func (h *Handler) writeError(c echo.Context, err error) error {
	var ve *models.ValidationError
	if errors.As(err, &ve) {
		return c.JSON(http.StatusBadRequest, envelope(CodeValidation, ve.Message, ve.Fields))
	}

	var be *models.BuildError
	if errors.As(err, &be) {
		h.logger.Error("build error", "error", err)
		return c.JSON(http.StatusInternalServerError, envelope(CodeBuild, be.Error(), nil))
	}

	switch {
	case errors.Is(err, models.ErrUnauthorized):
		h.logger.Warn("auth error", "path", c.Path())
		return c.JSON(http.StatusUnauthorized, envelope(CodeAuth, "missing or invalid token", nil))
	case errors.Is(err, models.ErrForbidden):
		h.logger.Warn("forbidden", "path", c.Path())
		return c.JSON(http.StatusForbidden, envelope(CodeForbidden, "operation not permitted", nil))
	case errors.Is(err, models.ErrNotFound):
		h.logger.Warn("not found", "path", c.Path())
		return c.JSON(http.StatusNotFound, envelope(CodeNotFound, "resource not found", nil))
	case errors.Is(err, models.ErrConflict):
		h.logger.Warn("conflict", "path", c.Path(), "error", err)
		return c.JSON(http.StatusConflict, envelope(CodeConflict, "resource already exists", nil))
	case errors.Is(err, models.ErrRateLimited):
		return c.JSON(http.StatusTooManyRequests, envelope(CodeRateLimit, "rate limit exceeded", nil))
	}

	h.logger.Error("internal error", "path", c.Path(), "error", err)
	message := err.Error()
	if h.production {
		message = "internal server error"
	}
	return c.JSON(http.StatusInternalServerError, envelope(CodeInternal, message, nil))
}
