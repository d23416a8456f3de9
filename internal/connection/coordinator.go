package connection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"agent-console/internal/notify"
	"agent-console/pkg/logger"
)

// State is the coordinator's view of the branch connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateReady
	// StateError is transient: a failed attempt passes through it on the way
	// back to idle so observers see the failure.
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

var validTransitions = map[State][]State{
	StateIdle:       {StateConnecting, StateReady},
	StateConnecting: {StateReady, StateError, StateIdle},
	StateReady:      {StateIdle},
	StateError:      {StateIdle},
}

func (s State) CanTransitionTo(next State) bool {
	for _, st := range validTransitions[s] {
		if st == next {
			return true
		}
	}
	return false
}

type Options struct {
	// SettleDelay is waited once after all links were requested.
	SettleDelay time.Duration
	// PollInterval is the reconciliation cadence after the settle delay.
	PollInterval time.Duration
	// Timeout bounds one attempt from the first create request.
	Timeout time.Duration

	// OnChange, if set, receives a snapshot after every state change.
	OnChange func(Snapshot)
}

// Snapshot is a point-in-time view for the UI.
type Snapshot struct {
	State      State  `json:"state"`
	Branch     Branch `json:"branch"`
	Links      []Link `json:"links"`
	Ready         bool   `json:"ready"`
	Connecting    bool   `json:"connecting"`
	Disconnecting bool   `json:"disconnecting"`
	LastError     string `json:"last_error,omitempty"`
}

// Coordinator brings the VPN, SIP and WebRTC links of one branch up and down.
// It is the only writer of its registry.
type Coordinator struct {
	reg      *Registry
	notifier notify.Notifier
	opts     Options

	// teardown serializes Disconnect calls.
	teardown sync.Mutex

	mu      sync.Mutex
	state   State
	branch  Branch
	lastErr error
	cancel  context.CancelFunc
	done    chan struct{}
	aborted bool
	// attempt identifies the Connect call that owns StateConnecting.
	attempt uint64
	// tearingDown is set while Disconnect deletes links; no attempt may start.
	tearingDown bool
}

func NewCoordinator(reg *Registry, notifier notify.Notifier, opts Options) *Coordinator {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = 3 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Coordinator{reg: reg, notifier: notifier, opts: opts}
}

func (c *Coordinator) Registry() *Registry { return c.reg }

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsReady is the registry's readiness: every required link type connected.
func (c *Coordinator) IsReady() bool { return c.reg.IsReady() }

func (c *Coordinator) IsConnecting() bool { return c.State() == StateConnecting }

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() Snapshot {
	s := Snapshot{
		State:         c.state,
		Branch:        c.branch,
		Links:         c.reg.Links(),
		Ready:         c.reg.IsReady(),
		Connecting:    c.state == StateConnecting,
		Disconnecting: c.tearingDown,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// Connect establishes all required links to branch b. It blocks until the
// attempt is ready, fails, or times out. A second call while an attempt is in
// flight is rejected with ErrAlreadyConnecting, a call during Disconnect with
// ErrDisconnecting.
func (c *Coordinator) Connect(ctx context.Context, b Branch) error {
	log := logger.From(ctx).With("branch_id", b.ID)

	if strings.TrimSpace(b.ID) == "" {
		c.notifier.Notify(ctx, notify.Error("Keine Filiale ausgewählt", "Bitte zuerst eine Filiale auswählen."))
		return ErrInvalidBranch
	}

	c.mu.Lock()
	if c.tearingDown {
		c.mu.Unlock()
		c.notifier.Notify(ctx, notify.Info("Trennen läuft", "Bitte warten, bis die Verbindung getrennt ist."))
		return ErrDisconnecting
	}
	switch c.state {
	case StateConnecting:
		c.mu.Unlock()
		c.notifier.Notify(ctx, notify.Info("Verbindung wird aufgebaut", "Bitte warten, bis der laufende Verbindungsaufbau abgeschlossen ist."))
		return ErrAlreadyConnecting
	case StateReady:
		same := c.branch.ID == b.ID
		c.mu.Unlock()
		if same {
			c.notifier.Notify(ctx, notify.Info("Bereits verbunden", "Die Filiale ist bereits verbunden."))
			return nil
		}
		c.notifier.Notify(ctx, notify.Error("Bereits verbunden", "Bitte zuerst die bestehende Verbindung trennen."))
		return ErrAlreadyConnected
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	done := make(chan struct{})
	defer close(done)

	c.transitionLocked(StateConnecting)
	c.attempt++
	id := c.attempt
	c.branch = b
	c.lastErr = nil
	c.cancel = cancel
	c.done = done
	c.aborted = false
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)

	log.Info("branch connect started")
	err := c.establish(attemptCtx, b)

	c.mu.Lock()
	if c.attempt != id || c.state != StateConnecting {
		// the state moved on without this attempt; leave it alone
		if c.done == done {
			c.cancel = nil
			c.done = nil
		}
		c.mu.Unlock()
		log.Warn("branch connect finished after losing ownership", "err", err)
		return ErrCanceled
	}
	c.cancel = nil
	c.done = nil
	aborted := c.aborted
	if err == nil && !aborted {
		c.transitionLocked(StateReady)
		snap = c.snapshotLocked()
		c.mu.Unlock()
		c.emit(snap)
		log.Info("branch connected")
		c.notifier.Notify(ctx, notify.Success("Verbunden", fmt.Sprintf("VPN, SIP und WebRTC zu %s stehen.", b.label())))
		return nil
	}
	if aborted {
		c.transitionLocked(StateIdle)
		snap = c.snapshotLocked()
		c.mu.Unlock()
		c.emit(snap)
		log.Info("branch connect aborted by disconnect")
		return ErrCanceled
	}

	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = ErrConnectTimeout
	}
	c.lastErr = err
	c.transitionLocked(StateError)
	errSnap := c.snapshotLocked()
	c.transitionLocked(StateIdle)
	snap = c.snapshotLocked()
	c.mu.Unlock()
	c.emit(errSnap)
	c.emit(snap)

	log.Warn("branch connect failed", "err", err)
	c.notifier.Notify(ctx, notify.Error("Verbindung fehlgeschlagen", describe(err)))
	return err
}

func (c *Coordinator) establish(ctx context.Context, b Branch) error {
	for _, t := range RequiredTypes {
		if _, err := c.reg.Create(ctx, b, t, nil); err != nil {
			return err
		}
	}

	settle := time.NewTimer(c.opts.SettleDelay)
	defer settle.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-settle.C:
	}

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for {
		links, err := c.reg.FetchAll(ctx)
		switch {
		case err != nil && IsSessionExpired(err):
			return err
		case err != nil:
			logger.From(ctx).Warn("reconcile during connect failed", "err", err)
		case Ready(links):
			return nil
		default:
			if t, failed := failedType(links, b.ID); failed {
				return fmt.Errorf("%w: %s", ErrLinkFailed, t)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Disconnect tears down connected links. It aborts an attempt in flight, in
// which case every link of that attempt is deleted. Connect is rejected until
// the teardown finished. Safe to call repeatedly and concurrently.
func (c *Coordinator) Disconnect(ctx context.Context) error {
	c.teardown.Lock()
	defer c.teardown.Unlock()

	c.mu.Lock()
	c.tearingDown = true
	wasActive := c.state != StateIdle
	abortedAttempt := c.cancel != nil
	if abortedAttempt {
		c.aborted = true
		c.cancel()
		done := c.done
		c.mu.Unlock()
		<-done
	} else {
		c.mu.Unlock()
	}

	hadLinks := len(c.reg.Links()) > 0
	err := c.reg.RemoveAll(ctx, !abortedAttempt)

	c.mu.Lock()
	c.tearingDown = false
	if c.state != StateIdle {
		c.transitionLocked(StateIdle)
	}
	branch := c.branch
	var pf *PartialFailureError
	if errors.As(err, &pf) {
		c.lastErr = err
	} else {
		c.branch = Branch{}
		c.lastErr = nil
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)

	if err != nil {
		logger.From(ctx).Warn("branch disconnect incomplete", "branch_id", branch.ID, "err", err)
		c.notifier.Notify(ctx, notify.Error("Trennen unvollständig", describe(err)))
		return err
	}
	if wasActive || hadLinks {
		logger.From(ctx).Info("branch disconnected", "branch_id", branch.ID)
		c.notifier.Notify(ctx, notify.Success("Getrennt", fmt.Sprintf("Verbindung zu %s beendet.", branch.label())))
	}
	return nil
}

// Refresh resyncs the registry with the backend and adjusts the state: a ready
// branch whose links dropped goes idle, an idle session whose links are all up
// (for example after a restart) becomes ready. It does nothing while an
// attempt or a teardown runs. Readiness is taken from the registry after the
// fetch, so a list that a concurrent teardown made stale is ignored.
func (c *Coordinator) Refresh(ctx context.Context) error {
	if c.busy() {
		return nil
	}
	if _, err := c.reg.FetchAll(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	if c.state == StateConnecting || c.tearingDown {
		c.mu.Unlock()
		return nil
	}
	links := c.reg.Links()
	ready := Ready(links)
	var lost bool
	switch {
	case c.state == StateReady && !ready:
		c.transitionLocked(StateIdle)
		lost = true
	case c.state == StateIdle && ready:
		c.transitionLocked(StateReady)
		c.branch = branchOf(links)
	default:
		c.mu.Unlock()
		return nil
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)

	if lost {
		c.notifier.Notify(ctx, notify.Error("Verbindung verloren", "Mindestens eine Verbindung ist nicht mehr aktiv. Bitte neu verbinden."))
	}
	return nil
}

// Close aborts an attempt in flight and stops pending confirmations. It does
// not tear down links on the backend.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.cancel != nil {
		c.aborted = true
		c.cancel()
	}
	c.mu.Unlock()
	c.reg.Close()
}

func (c *Coordinator) busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnecting || c.tearingDown
}

func (c *Coordinator) transitionLocked(next State) {
	if !c.state.CanTransitionTo(next) {
		panic(fmt.Sprintf("connection: invalid transition %s -> %s", c.state, next))
	}
	c.state = next
}

func (c *Coordinator) emit(s Snapshot) {
	if c.opts.OnChange != nil {
		c.opts.OnChange(s)
	}
}

func failedType(links []Link, branchID string) (LinkType, bool) {
	for _, l := range links {
		if l.BranchID == branchID && l.Type.Required() && l.Status == StatusError {
			return l.Type, true
		}
	}
	return "", false
}

func branchOf(links []Link) Branch {
	for _, l := range links {
		if l.Type.Required() && l.Status == StatusConnected {
			return Branch{ID: l.BranchID, Name: l.BranchName}
		}
	}
	return Branch{}
}

func (b Branch) label() string {
	if b.Name != "" {
		return b.Name
	}
	return "Filiale " + b.ID
}

func describe(err error) string {
	var pf *PartialFailureError
	switch {
	case errors.Is(err, ErrConnectTimeout):
		return "Zeitüberschreitung beim Verbindungsaufbau. Bitte Netzwerk prüfen und erneut verbinden."
	case errors.Is(err, ErrLinkFailed):
		return "Eine Verbindung meldet einen Fehler. Bitte erneut verbinden."
	case IsSessionExpired(err):
		return "Sitzung abgelaufen. Bitte erneut anmelden."
	case errors.As(err, &pf):
		return "Nicht getrennt: " + strings.Join(pf.IDs(), ", ")
	default:
		return err.Error()
	}
}
