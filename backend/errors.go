package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for backend operations.
var (
	ErrMissingBaseURL = errors.New("backend: base url is required")
	ErrMissingAPIKey  = errors.New("backend: api key is required")
	ErrInvalidQuery   = errors.New("backend: invalid query")
	ErrNotFound       = errors.New("backend: record not found")
)

// APIError is an error response from the backend. Error returns the
// backend's message so it can be shown to the user as is.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("backend: HTTP %d %s", e.Status, http.StatusText(e.Status))
}

// Temporary reports whether the failure is on the server side.
func (e *APIError) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// IsNotFound reports whether err is ErrNotFound or a 404 APIError.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// countsAgainstBreaker reports whether err indicates an unhealthy backend.
// Rejected requests (4xx) and caller cancellation do not.
func countsAgainstBreaker(err error) bool {
	if err == nil || errors.Is(err, ErrInvalidQuery) || errors.Is(err, ErrNotFound) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}
