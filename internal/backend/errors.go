package backend

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrSessionExpired is reported for a 401 from the backend. The client has
	// already invoked the session-expired handler when this is returned.
	ErrSessionExpired = errors.New("backend: session expired")
	// ErrUnavailable wraps network-level failures (no HTTP response).
	ErrUnavailable = errors.New("backend: unavailable")
	// ErrNoToken means the token provider had nothing to send.
	ErrNoToken = errors.New("backend: no access token")
)

// TransportError describes a failed backend call: either no response at all or
// a non-2xx status.
type TransportError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("backend %s: status %d: %s", e.Op, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("backend %s: status %d", e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("backend %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("backend %s: failed", e.Op)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is (or wraps) a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Status
	}
	return 0
}

// IsNotFound reports a 404 from the backend.
func IsNotFound(err error) bool { return StatusOf(err) == http.StatusNotFound }
