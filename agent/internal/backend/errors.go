package backend

import (
	"errors"
	"fmt"
)

// ErrNoData means the query ran and matched no series.
var ErrNoData = errors.New("backend: no data")

// BackendError is a transport failure or a non-2xx response.
type BackendError struct {
	// StatusCode is 0 when no response was received.
	StatusCode int
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("backend: unexpected status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("backend: %v", e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// MalformedResponseError means the response could not be interpreted.
type MalformedResponseError struct {
	Reason string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backend: malformed response: %s: %v", e.Reason, e.Err)
	}
	return "backend: malformed response: " + e.Reason
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// Outcome classifies a Query error for logging and metrics labels.
func Outcome(err error) string {
	var be *BackendError
	var me *MalformedResponseError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoData):
		return "no_data"
	case errors.As(err, &me):
		return "malformed"
	case errors.As(err, &be):
		return "backend_error"
	default:
		return "error"
	}
}
