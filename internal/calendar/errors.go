package calendar

import (
	"errors"
	"fmt"
)

// Sentinel errors for the conditions callers branch on.
var (
	// ErrAuthExpired means the stored credential can no longer mint access
	// tokens. Never retried automatically; the user must re-authorize.
	ErrAuthExpired = errors.New("calendar authorization expired")

	// ErrCredentialMissing means the owner never connected a calendar or
	// has disconnected it.
	ErrCredentialMissing = errors.New("no calendar credential stored")

	// ErrNotFound means the external resource is gone. Update and delete
	// treat it as success; reads surface it.
	ErrNotFound = errors.New("calendar resource not found")
)

// TransientError wraps timeouts, 429s and 5xx responses. Callers may retry
// with backoff.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transient calendar error (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("transient calendar error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// InvalidRequestError wraps 4xx validation failures. Never retried.
type InvalidRequestError struct {
	Status int
	Detail string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid calendar request (status %d): %s", e.Status, e.Detail)
}

// IsInvalidRequest reports whether err is a non-retryable validation failure.
func IsInvalidRequest(err error) bool {
	var ie *InvalidRequestError
	return errors.As(err, &ie)
}

// Code maps an engine error onto the RPC-style taxonomy surfaced to API
// callers.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthExpired):
		return "unauthenticated"
	case errors.Is(err, ErrCredentialMissing):
		return "failed-precondition"
	case errors.Is(err, ErrNotFound):
		return "not-found"
	case IsInvalidRequest(err):
		return "invalid-argument"
	case IsTransient(err):
		return "unavailable"
	default:
		return "internal"
	}
}

// HTTPStatus maps a taxonomy code to an HTTP status for the REST surface.
func HTTPStatus(code string) int {
	switch code {
	case "unauthenticated":
		return 401
	case "not-found":
		return 404
	case "failed-precondition":
		return 412
	case "invalid-argument":
		return 400
	case "unavailable":
		return 503
	default:
		return 500
	}
}
