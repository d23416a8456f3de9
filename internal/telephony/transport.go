package telephony

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"agent-console/internal/connection"
	"agent-console/pkg/logger"

	"github.com/jonboulle/clockwork"
)

type SimulatedOptions struct {
	Clock clockwork.Clock
	// MinDelay and MaxDelay bound the random confirmation delay (1s and 3s by default).
	MinDelay time.Duration
	MaxDelay time.Duration
	// Seed makes delays reproducible; 0 picks a random seed.
	Seed uint64
}

// SimulatedTransport confirms links after a random delay, standing in for the
// VPN, SIP and WebRTC stacks until they report real events. It implements
// connection.Confirmer.
type SimulatedTransport struct {
	clock    clockwork.Clock
	min, max time.Duration

	mu   sync.Mutex
	rnd  *rand.Rand
	fail map[connection.LinkType]error
}

func NewSimulatedTransport(opts SimulatedOptions) *SimulatedTransport {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.MinDelay <= 0 {
		opts.MinDelay = time.Second
	}
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = 3 * time.Second
		if opts.MaxDelay < opts.MinDelay {
			opts.MaxDelay = opts.MinDelay
		}
	}
	seed := opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &SimulatedTransport{
		clock: opts.Clock,
		min:   opts.MinDelay,
		max:   opts.MaxDelay,
		rnd:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		fail:  map[connection.LinkType]error{},
	}
}

// FailType makes every later confirmation of t fail with err. A nil err clears it.
func (t *SimulatedTransport) FailType(typ connection.LinkType, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		delete(t.fail, typ)
		return
	}
	t.fail[typ] = err
}

func (t *SimulatedTransport) Confirm(ctx context.Context, link connection.Link) error {
	d := t.delay()
	logger.From(ctx).Debug("simulated link confirmation scheduled", "link_id", link.ID, "type", string(link.Type), "delay", d.String())

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.clock.After(d):
	}

	t.mu.Lock()
	err := t.fail[link.Type]
	t.mu.Unlock()
	return err
}

func (t *SimulatedTransport) delay() time.Duration {
	span := t.max - t.min
	if span <= 0 {
		return t.min
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.min + time.Duration(t.rnd.Int64N(int64(span)+1))
}
