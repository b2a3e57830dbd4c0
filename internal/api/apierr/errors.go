package apierr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcoot/scoreroom/internal/model"
)

// APIError represents an API error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an APIError
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// Common error codes
const (
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeNotFound         = "NOT_FOUND"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeConflict         = "CONFLICT"
	CodeTooManyRequests  = "TOO_MANY_REQUESTS"
	CodeServiceDegraded  = "SERVICE_DEGRADED"
	CodeInternalError    = "INTERNAL_ERROR"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

// httpError combines an HTTP status code with an APIError
type httpError struct {
	status   int
	apiError APIError
}

// Error implements error interface
func (e *httpError) Error() string {
	return e.apiError.Message
}

// WriteError writes an error response to the response writer
func WriteError(w http.ResponseWriter, err error) {
	he := toHTTPError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(he.status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: he.apiError})
}

// toHTTPError converts an error to an httpError using the same
// classification the realtime protocol reports.
func toHTTPError(err error) *httpError {
	var he *httpError
	if errors.As(err, &he) {
		return he
	}

	msg := model.MessageOf(err)
	switch model.KindOf(err) {
	case model.KindRoomNotFound, model.KindPlayerNotFound:
		return &httpError{http.StatusNotFound, APIError{CodeNotFound, msg}}
	case model.KindUnauthorized:
		return &httpError{http.StatusUnauthorized, APIError{CodeUnauthorized, msg}}
	case model.KindForbidden:
		return &httpError{http.StatusForbidden, APIError{CodeForbidden, msg}}
	case model.KindCapacityExceeded, model.KindDuplicateName:
		return &httpError{http.StatusConflict, APIError{CodeConflict, msg}}
	case model.KindRateLimited:
		return &httpError{http.StatusTooManyRequests, APIError{CodeTooManyRequests, msg}}
	case model.KindInvalidInput:
		return &httpError{http.StatusBadRequest, APIError{CodeInvalidRequest, msg}}
	default:
		return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, msg}}
	}
}

// NewTooManyRequestsError is returned by the HTTP rate limiter
func NewTooManyRequestsError() error {
	return &httpError{http.StatusTooManyRequests, APIError{CodeTooManyRequests, "Too many requests, please try again later."}}
}

// NewServiceDegradedError reports a dependency that failed its health probe
func NewServiceDegradedError(message string) error {
	return &httpError{http.StatusServiceUnavailable, APIError{CodeServiceDegraded, message}}
}

// NewNotFoundError is used for unknown routes
func NewNotFoundError() error {
	return &httpError{http.StatusNotFound, APIError{CodeNotFound, "Not found"}}
}

// NewMethodNotAllowedError is used for known routes hit with the wrong method
func NewMethodNotAllowedError() error {
	return &httpError{http.StatusMethodNotAllowed, APIError{CodeMethodNotAllowed, "Method not allowed"}}
}

// NewInternalError creates an internal server error
func NewInternalError() error {
	return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
}
