package telephony

import (
	"context"
	"errors"
	"sync"

	"agent-console/pkg/logger"
)

// Softphone is the provider-agnostic handle on the agent's browser telephony
// client. The call controller drives it; no business logic lives here.
type Softphone interface {
	Name() string
	HealthCheck(ctx context.Context) error

	Dial(ctx context.Context, callID, phoneNumber string) error
	Hangup(ctx context.Context, callID string) error
}

var (
	ErrUnknownCall   = errors.New("telephony: unknown call")
	ErrAlreadyDialed = errors.New("telephony: call already dialed")
)

// SessionSoftphone tracks dialed calls in memory. Media and signaling run in
// the browser; the service only needs to know which call is up.
type SessionSoftphone struct {
	mu     sync.Mutex
	active map[string]string
}

func NewSessionSoftphone() *SessionSoftphone {
	return &SessionSoftphone{active: map[string]string{}}
}

func (p *SessionSoftphone) Name() string { return "session" }

func (p *SessionSoftphone) HealthCheck(ctx context.Context) error { return nil }

func (p *SessionSoftphone) Dial(ctx context.Context, callID, phoneNumber string) error {
	number, err := NormalizeNumber(phoneNumber)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.active[callID]; ok {
		return ErrAlreadyDialed
	}
	p.active[callID] = number
	logger.From(ctx).Debug("softphone dial", "call_id", callID, "to", number)
	return nil
}

func (p *SessionSoftphone) Hangup(ctx context.Context, callID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.active[callID]; !ok {
		return ErrUnknownCall
	}
	delete(p.active, callID)
	logger.From(ctx).Debug("softphone hangup", "call_id", callID)
	return nil
}

// Active returns the number dialed for callID.
func (p *SessionSoftphone) Active(callID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.active[callID]
	return n, ok
}
