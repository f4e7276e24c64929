package bookieclient

import (
	"errors"
	"net/http"
)

var (
	// ErrAuthenticationRequired indicates there is no usable credential.
	ErrAuthenticationRequired = errors.New("authentication required")
	// ErrValidation indicates a request was refused locally before any network call.
	ErrValidation = errors.New("validation error")
	// ErrRemoteRequestFailed matches every non-2xx response (see APIError).
	ErrRemoteRequestFailed = errors.New("remote request failed")
	// ErrUnauthorized matches 401 responses.
	ErrUnauthorized = errors.New("unauthorized")
)

// APIError represents a backend error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// Is lets callers match API errors with errors.Is.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrRemoteRequestFailed:
		return true
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	}
	return false
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
