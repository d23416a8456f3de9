package calls

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is a local precondition failure. It never reaches the network.
	ErrValidation = errors.New("calls: validation failed")
	// ErrNotReady means the branch connection is not fully up.
	ErrNotReady = errors.New("calls: branch connection not ready")

	ErrCallActive     = fmt.Errorf("%w: a call is already in progress", ErrValidation)
	ErrMissingTarget  = fmt.Errorf("%w: phone number or contact required", ErrValidation)
	ErrMissingOutcome = fmt.Errorf("%w: outcome required", ErrValidation)
	ErrNoFinishedCall = fmt.Errorf("%w: no finished call to record", ErrValidation)
	ErrSubmitInFlight = fmt.Errorf("%w: submission already in progress", ErrValidation)
)

// IsValidation reports local failures, including a missing connection.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotReady)
}
