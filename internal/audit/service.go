package audit

import (
	"context"
	"errors"
	"time"

	"agent-console/pkg/logger"

	"github.com/google/uuid"
)

// Repository is the persistence contract for journal events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
	// List returns the agent's events with from <= created_at < to, oldest first.
	List(ctx context.Context, agentID string, from, to time.Time) ([]Event, error)
}

// Service writes the console journal.
//
// Callers treat journaling as best-effort: the Log* helpers log failures and
// never return them.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.AgentID == "" {
		return ErrInvalidEvent
	}
	if !e.Type.Valid() {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.IPAddress == "" {
		e.IPAddress = ClientIPFromContext(ctx)
	}
	return s.repo.Append(ctx, e)
}

func (s *Service) List(ctx context.Context, agentID string, from, to time.Time) ([]Event, error) {
	if s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	return s.repo.List(ctx, agentID, from, to)
}

// Record appends e and logs instead of failing. A nil *Service drops events.
func (s *Service) Record(ctx context.Context, e Event) {
	if s == nil {
		return
	}
	if err := s.Append(ctx, e); err != nil {
		logger.From(ctx).Warn("journal append failed", "type", string(e.Type), "agent_id", e.AgentID, "err", err)
	}
}

func (s *Service) LogConnect(ctx context.Context, agentID, role, branchID string) {
	s.Record(ctx, Event{AgentID: agentID, ActorRole: role, Type: EventTypeConnect, BranchID: branchID})
}

func (s *Service) LogConnectFailed(ctx context.Context, agentID, role, branchID string, cause error) {
	e := Event{AgentID: agentID, ActorRole: role, Type: EventTypeConnectFailed, BranchID: branchID}
	if cause != nil {
		e.Message = cause.Error()
	}
	s.Record(ctx, e)
}

func (s *Service) LogDisconnect(ctx context.Context, agentID, role, branchID string) {
	s.Record(ctx, Event{AgentID: agentID, ActorRole: role, Type: EventTypeDisconnect, BranchID: branchID})
}

func (s *Service) LogCallStarted(ctx context.Context, agentID, callID, branchID string) {
	s.Record(ctx, Event{AgentID: agentID, Type: EventTypeCallStarted, CallID: callID, BranchID: branchID})
}

func (s *Service) LogCallEnded(ctx context.Context, agentID, callID string, durationSeconds int) {
	s.Record(ctx, Event{AgentID: agentID, Type: EventTypeCallEnded, CallID: callID, DurationSeconds: durationSeconds})
}

func (s *Service) LogOutcome(ctx context.Context, agentID, callID, outcome string, durationSeconds int, logID string) {
	s.Record(ctx, Event{
		AgentID:         agentID,
		Type:            EventTypeOutcomeSubmitted,
		CallID:          callID,
		Outcome:         outcome,
		DurationSeconds: durationSeconds,
		Message:         logID,
	})
}

func (s *Service) LogDiscard(ctx context.Context, agentID, callID string) {
	s.Record(ctx, Event{AgentID: agentID, Type: EventTypeOutcomeDiscarded, CallID: callID})
}
