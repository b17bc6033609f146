// errors.go - Structured error handling for API and page responses
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/judgments-ocr/frontend/internal/web"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// APIError represents a structured error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// wrapError passes APIErrors through and turns anything else into a 500.
func wrapError(err error, message string) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return NewInternalError(message, err)
}

// ErrorPage is the data of the error template.
type ErrorPage struct {
	web.Layout
	Status  int
	Message string
}

// NewErrorHandler returns the Echo error handler. Requests under /api get
// JSON; pages get the error template. Details are only exposed in
// development.
// Usage: e.HTTPErrorHandler = api.NewErrorHandler(logger, false)
func NewErrorHandler(logger *zap.Logger, development bool) echo.HTTPErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		apiErr := toAPIError(err)
		if apiErr.Status >= http.StatusInternalServerError {
			logger.Error("request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Request().URL.Path),
				zap.Error(err),
			)
		}
		if !development {
			apiErr.Details = ""
		}

		if c.Request().Method == http.MethodHead {
			c.NoContent(apiErr.Status)
			return
		}
		if strings.HasPrefix(c.Request().URL.Path, "/api/") {
			c.JSON(apiErr.Status, apiErr)
			return
		}

		page := ErrorPage{
			Layout:  web.Layout{Title: http.StatusText(apiErr.Status)},
			Status:  apiErr.Status,
			Message: apiErr.Message,
		}
		if rerr := c.Render(apiErr.Status, web.PageError, page); rerr != nil {
			c.String(apiErr.Status, apiErr.Message)
		}
	}
}

func toAPIError(err error) *APIError {
	var apiErr *APIError
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &apiErr):
		cp := *apiErr
		return &cp
	case errors.As(err, &httpErr):
		return &APIError{
			Status:  httpErr.Code,
			Code:    "HTTP_ERROR",
			Message: fmt.Sprintf("%v", httpErr.Message),
		}
	default:
		return &APIError{
			Status:  http.StatusInternalServerError,
			Code:    "UNKNOWN_ERROR",
			Message: "An unexpected error occurred",
			Details: err.Error(),
		}
	}
}
