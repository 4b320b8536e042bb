package synapse

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound       = errors.New("synapse: not found")
	ErrUnauthorized   = errors.New("synapse: access denied")
	ErrNoPresignedURL = errors.New("synapse: no presigned url returned")
	ErrNotAFile       = errors.New("synapse: entity has no file")
)

// APIError is a non-2xx response from a Synapse endpoint.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Reason     string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("synapse %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("synapse %s %s: status %d", e.Method, e.Path, e.StatusCode)
}

// Is lets 404 match ErrNotFound and 401/403 match ErrUnauthorized.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	}
	return false
}

func (e *APIError) temporary() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func failureError(code, fileHandleID string) error {
	switch code {
	case "NOT_FOUND":
		return fmt.Errorf("%w: file handle %s", ErrNotFound, fileHandleID)
	case "UNAUTHORIZED":
		return fmt.Errorf("%w: file handle %s", ErrUnauthorized, fileHandleID)
	}
	return fmt.Errorf("synapse: file handle %s: %s", fileHandleID, code)
}
