package audit

import "time"

// Event is an immutable, append-only journal record of what an agent did in
// the console.
//
// Invariants:
// - Events are never updated or deleted.
// - agent_id is required.
// - Journaling is best-effort; console flows never block on it.

type Event struct {
	ID      string    `json:"id" db:"id"`
	AgentID string    `json:"agent_id" db:"agent_id"`
	Type    EventType `json:"type" db:"type"`

	ActorRole string `json:"actor_role,omitempty" db:"actor_role"`
	// IPAddress is the resolved client IP when available.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	BranchID string `json:"branch_id,omitempty" db:"branch_id"`
	CallID   string `json:"call_id,omitempty" db:"call_id"`

	Outcome         string `json:"outcome,omitempty" db:"outcome"`
	DurationSeconds int    `json:"duration_seconds,omitempty" db:"duration_seconds"`

	Message string `json:"message,omitempty" db:"message"`
	// Metadata is optional JSON.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeConnect          EventType = "connect"
	EventTypeConnectFailed    EventType = "connect_failed"
	EventTypeDisconnect       EventType = "disconnect"
	EventTypeCallStarted      EventType = "call_started"
	EventTypeCallEnded        EventType = "call_ended"
	EventTypeOutcomeSubmitted EventType = "outcome_submitted"
	EventTypeOutcomeDiscarded EventType = "outcome_discarded"
)

func (t EventType) Valid() bool {
	switch t {
	case EventTypeConnect, EventTypeConnectFailed, EventTypeDisconnect,
		EventTypeCallStarted, EventTypeCallEnded,
		EventTypeOutcomeSubmitted, EventTypeOutcomeDiscarded:
		return true
	default:
		return false
	}
}
