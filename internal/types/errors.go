package types

import (
	"errors"
	"fmt"
	"maps"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Handlers and services use these instead of
// hardcoded strings; the prefix determines the HTTP status.
const (
	// Validation (400)
	ErrCodeValidationMissingField    ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidDate     ErrorCode = "validation_invalid_date"
	ErrCodeValidationInvalidLocation ErrorCode = "validation_invalid_location"
	ErrCodeValidationUnknownType     ErrorCode = "validation_unknown_event_type"
	ErrCodeValidationWindow          ErrorCode = "validation_window_out_of_range"
	ErrCodeValidationImprovement     ErrorCode = "validation_invalid_min_improvement"
	ErrCodeValidationInvalidJSON     ErrorCode = "validation_invalid_json"
	ErrCodeValidationFailed          ErrorCode = "validation_failed"

	// Not Found (404)
	ErrCodeNotFoundEvent    ErrorCode = "not_found_event"
	ErrCodeNotFoundLocation ErrorCode = "not_found_location"
	ErrCodeNotFoundForecast ErrorCode = "not_found_forecast"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamForecast    ErrorCode = "upstream_forecast_unavailable"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamTimeout     ErrorCode = "upstream_timeout"
)

// HTTPStatus derives the response status from the code prefix. Unknown
// prefixes are 500.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case s == string(ErrCodeUpstreamTimeout):
		return http.StatusGatewayTimeout
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError is returned by every layer that can fail in a client-visible way.
// Err is kept for logs and never rendered.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of e with details merged over its own.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+len(details))
	maps.Copy(cp.Details, e.Details)
	maps.Copy(cp.Details, details)
	return &cp
}

// NewAppError builds an AppError; err may be nil.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// NewAppErrorWithDetails builds an AppError carrying client-visible details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{Code: code, Message: message, Err: err, Details: details}
}

// CodeOf returns the code of the first AppError in err's chain, or the empty
// code if there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsCode reports whether err carries one of the given codes.
func IsCode(err error, codes ...ErrorCode) bool {
	got := CodeOf(err)
	if got == "" {
		return false
	}
	for _, c := range codes {
		if got == c {
			return true
		}
	}
	return false
}
