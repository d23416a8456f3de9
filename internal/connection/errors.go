package connection

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"agent-console/internal/backend"
)

var (
	// ErrConnection wraps a backend rejection of a connection request.
	ErrConnection        = errors.New("connection: backend rejected request")
	ErrInvalidBranch     = errors.New("connection: branch is required")
	ErrAlreadyConnecting = errors.New("connection: attempt already in progress")
	ErrAlreadyConnected  = errors.New("connection: connected to another branch")
	ErrConnectTimeout    = errors.New("connection: timed out waiting for links")
	ErrLinkFailed        = errors.New("connection: link reported error")
	// ErrCanceled is returned by Connect when Disconnect aborted the attempt.
	ErrCanceled = errors.New("connection: attempt canceled")
	// ErrDisconnecting is returned by Connect while a teardown is running.
	ErrDisconnecting = errors.New("connection: disconnect in progress")
)

// IsSessionExpired reports whether err came from a rejected agent token.
func IsSessionExpired(err error) bool {
	return errors.Is(err, backend.ErrSessionExpired)
}

// PartialFailureError reports links whose teardown failed. Those links are
// kept in the registry so a later disconnect can retry them.
type PartialFailureError struct {
	Failed map[string]error
}

func (e *PartialFailureError) IDs() []string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("connection: teardown failed for %d link(s): %s", len(e.Failed), strings.Join(e.IDs(), ", "))
}

func (e *PartialFailureError) Unwrap() []error {
	out := make([]error, 0, len(e.Failed))
	for _, id := range e.IDs() {
		out = append(out, e.Failed[id])
	}
	return out
}
