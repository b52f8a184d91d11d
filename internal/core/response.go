package core

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"fairweather/internal/types"
)

const maxRequestBodySize = 1 << 20

// APIResponse is the envelope for successful responses.
type APIResponse struct {
	Data any           `json:"data"`
	Meta *ResponseMeta `json:"meta,omitempty"`
}

// ResponseMeta carries list counts and non-fatal warnings.
type ResponseMeta struct {
	Count    int      `json:"count"`
	Warnings []string `json:"warnings,omitempty"`
}

// APIErrorResponse is the envelope for error responses.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the client-visible part of an error.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

// JSON writes data with the given status. If data cannot be marshalled the
// client gets a 500 error envelope instead.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(errorBody(r, types.ErrCodeInternalUnexpected, "failed to marshal response", nil))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func errorBody(r *http.Request, code types.ErrorCode, msg string, details map[string]any) APIErrorResponse {
	return APIErrorResponse{Error: ErrorDetail{
		Code:      string(code),
		Message:   msg,
		Details:   details,
		RequestID: types.GetRequestID(r.Context()),
	}}
}

// Data writes data wrapped in the APIResponse envelope.
func Data(w http.ResponseWriter, r *http.Request, status int, data any) {
	JSON(w, r, status, APIResponse{Data: data})
}

// List writes items with a count in the meta block. A nil slice is rendered
// as [].
func List[T any](w http.ResponseWriter, r *http.Request, items []T) {
	if items == nil {
		items = []T{}
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: items, Meta: &ResponseMeta{Count: len(items)}})
}

// Error writes err as an APIErrorResponse. AppErrors keep their code, message
// and details; anything else becomes an opaque 500.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		JSON(w, r, http.StatusInternalServerError,
			errorBody(r, types.ErrCodeInternalUnexpected, "an unexpected error occurred", nil))
		return
	}
	JSON(w, r, appErr.HTTPStatus(), errorBody(r, appErr.Code, appErr.Message, appErr.Details))
}

// DecodeJSON reads a single JSON object into dst, rejecting unknown fields
// and bodies over 1 MB. Failures are validation_invalid_json AppErrors.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return decodeError(err)
	}
	if dec.More() {
		return invalidJSON("request body must contain a single JSON object", nil)
	}
	return nil
}

func invalidJSON(msg string, err error) *types.AppError {
	return types.NewAppError(types.ErrCodeValidationInvalidJSON, msg, err)
}

func decodeError(err error) *types.AppError {
	var (
		tooLarge  *http.MaxBytesError
		syntax    *json.SyntaxError
		wrongType *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &tooLarge):
		return invalidJSON("request body must not exceed 1MB", err)
	case errors.As(err, &syntax), errors.Is(err, io.ErrUnexpectedEOF):
		return invalidJSON("malformed JSON in request body", err)
	case errors.As(err, &wrongType):
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidJSON, "invalid value for field "+wrongType.Field, err,
			map[string]any{"field": wrongType.Field, "expected": wrongType.Type.String()})
	case errors.Is(err, io.EOF):
		return invalidJSON("request body must not be empty", err)
	}
	if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		return invalidJSON("unknown field in request body: "+field, err)
	}
	return invalidJSON("invalid JSON in request body", err)
}
