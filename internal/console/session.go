package console

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"agent-console/internal/audit"
	"agent-console/internal/backend"
	"agent-console/internal/calls"
	"agent-console/internal/connection"
	"agent-console/internal/metrics"
	"agent-console/internal/notify"
	"agent-console/pkg/logger"
)

// tokenBox holds the agent's latest bearer token. Background work (cron
// reconciliation, link confirmation) uses whatever the last request carried.
type tokenBox struct {
	mu    sync.RWMutex
	token string
}

func (b *tokenBox) Token(context.Context) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.token == "" {
		return "", backend.ErrNoToken
	}
	return b.token, nil
}

func (b *tokenBox) set(token string) {
	if token == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.token = token
}

// Session is one agent's console: branch connection, call session and outcome
// draft. All methods are safe for concurrent use.
type Session struct {
	AgentID string

	role     atomic.Value
	tokens   *tokenBox
	coord    *connection.Coordinator
	ctrl     *calls.Controller
	rec      *calls.Recorder
	notifier notify.Notifier
	journal  *audit.Service
	metrics  *metrics.Metrics
	locker   Locker
	lockTTL  time.Duration

	// retired is set on eviction, before the asynchronous Close.
	retired atomic.Bool
	closed  atomic.Bool
}

func (s *Session) Coordinator() *connection.Coordinator { return s.coord }
func (s *Session) Controller() *calls.Controller        { return s.ctrl }
func (s *Session) Recorder() *calls.Recorder            { return s.rec }

func (s *Session) Role() string {
	r, _ := s.role.Load().(string)
	return r
}

func (s *Session) touch(role, token string) {
	if role != "" {
		s.role.Store(role)
	}
	s.tokens.set(token)
}

// Connect takes the agent's connect lock and runs the coordinator's attempt.
// A lock backend failure does not block the agent; the coordinator still
// rejects overlapping attempts in this process.
func (s *Session) Connect(ctx context.Context, b connection.Branch) error {
	log := logger.From(ctx).With("agent_id", s.AgentID, "branch_id", b.ID)
	release, ok, err := s.locker.TryLock(ctx, "connect:"+s.AgentID, s.lockTTL)
	switch {
	case err != nil:
		log.Warn("connect lock unavailable, continuing without it", "err", err)
	case !ok:
		s.notifier.Notify(ctx, notify.Info("Verbindung wird aufgebaut", "Der Verbindungsaufbau läuft bereits in einem anderen Fenster."))
		s.metrics.ConnectFinished(metrics.ResultRejected, 0)
		return ErrLocked
	default:
		defer release(context.WithoutCancel(ctx))
	}

	start := time.Now()
	err = s.coord.Connect(ctx, b)
	result := connectResult(err)
	s.metrics.ConnectFinished(result, time.Since(start))
	switch result {
	case metrics.ResultReady:
		s.journal.LogConnect(ctx, s.AgentID, s.Role(), b.ID)
	case metrics.ResultFailed, metrics.ResultTimeout:
		s.journal.LogConnectFailed(ctx, s.AgentID, s.Role(), b.ID, err)
	}
	return err
}

func (s *Session) Disconnect(ctx context.Context) error {
	branch := s.coord.Snapshot().Branch
	err := s.coord.Disconnect(ctx)
	switch {
	case err == nil:
		s.metrics.Disconnected(metrics.ResultOK)
		s.journal.LogDisconnect(ctx, s.AgentID, s.Role(), branch.ID)
	case errors.As(err, new(*connection.PartialFailureError)):
		s.metrics.Disconnected(metrics.ResultPartial)
	default:
		s.metrics.Disconnected(metrics.ResultError)
	}
	return err
}

func (s *Session) Refresh(ctx context.Context) error {
	return s.coord.Refresh(ctx)
}

func (s *Session) StartCall(ctx context.Context, req calls.StartRequest) (calls.Session, error) {
	call, err := s.ctrl.StartCall(ctx, req)
	if err != nil {
		s.metrics.CallRejected(rejectReason(err))
	}
	return call, err
}

func (s *Session) EndCall(ctx context.Context) (calls.Session, bool) {
	return s.ctrl.EndCall(ctx)
}

func (s *Session) Submit(ctx context.Context) (calls.Submission, error) {
	draft := s.rec.Draft()
	sub, err := s.rec.Submit(ctx)
	if err != nil && !calls.IsValidation(err) {
		s.metrics.OutcomeSubmitted(draft.Outcome, metrics.ResultError)
	}
	return sub, err
}

func (s *Session) Discard(ctx context.Context) {
	call := s.ctrl.Session()
	s.rec.Discard(ctx)
	if call.ID != "" {
		s.journal.LogDiscard(ctx, s.AgentID, call.ID)
	}
}

// Close disconnects the branch and stops background work. The session is
// unusable afterwards.
func (s *Session) Close(ctx context.Context) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if err := s.coord.Disconnect(ctx); err != nil {
		logger.From(ctx).Warn("disconnect on session close failed", "agent_id", s.AgentID, "err", err)
	}
	s.coord.Close()
	s.ctrl.Reset()
}

func (s *Session) Closed() bool { return s.retired.Load() || s.closed.Load() }

// CallStarted and CallEnded journal the controller's lifecycle.
func (s *Session) CallStarted(ctx context.Context, call calls.Session) {
	s.metrics.CallStarted()
	s.journal.LogCallStarted(ctx, s.AgentID, call.ID, s.coord.Snapshot().Branch.ID)
}

func (s *Session) CallEnded(ctx context.Context, call calls.Session) {
	s.metrics.CallEnded(call.DurationSeconds)
	s.journal.LogCallEnded(ctx, s.AgentID, call.ID, call.DurationSeconds)
}

func (s *Session) submitted(ctx context.Context, sub calls.Submission) {
	s.metrics.OutcomeSubmitted(sub.Outcome, metrics.ResultOK)
	s.journal.LogOutcome(ctx, s.AgentID, sub.Call.ID, sub.Outcome, sub.DurationSeconds, sub.LogID)
}

func connectResult(err error) string {
	switch {
	case err == nil:
		return metrics.ResultReady
	case errors.Is(err, connection.ErrAlreadyConnecting),
		errors.Is(err, connection.ErrDisconnecting),
		errors.Is(err, connection.ErrAlreadyConnected),
		errors.Is(err, connection.ErrInvalidBranch):
		return metrics.ResultRejected
	case errors.Is(err, connection.ErrCanceled):
		return metrics.ResultCanceled
	case errors.Is(err, connection.ErrConnectTimeout):
		return metrics.ResultTimeout
	default:
		return metrics.ResultFailed
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, calls.ErrNotReady):
		return "not_ready"
	case errors.Is(err, calls.ErrCallActive):
		return "call_active"
	case errors.Is(err, calls.ErrMissingTarget):
		return "missing_target"
	default:
		return "other"
	}
}
