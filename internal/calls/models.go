package calls

import "time"

// Status is the lifecycle of the single call a console may hold.
type Status string

const (
	StatusIdle   Status = "idle"
	StatusActive Status = "active"
	// StatusEnded means the timer stopped and the outcome is not recorded yet.
	StatusEnded Status = "ended"
)

// Session is one outgoing call attempt, from start to outcome submission.
//
// ElapsedSeconds ticks once per second while active and is frozen into
// DurationSeconds by EndCall. It counts ticks, it is not wall-clock corrected.
type Session struct {
	ID     string `json:"id,omitempty"`
	Status Status `json:"status"`

	PhoneNumber string `json:"phone_number,omitempty"`
	CustomerID  string `json:"customer_id,omitempty"`
	ContactID   string `json:"contact_id,omitempty"`
	CampaignID  string `json:"campaign_id,omitempty"`

	StartedAt       time.Time `json:"started_at,omitempty"`
	EndedAt         time.Time `json:"ended_at,omitempty"`
	ElapsedSeconds  int       `json:"elapsed_seconds"`
	DurationSeconds int       `json:"duration_seconds"`
}

// StartedAtMillis is the start time as epoch milliseconds, 0 when idle.
func (s Session) StartedAtMillis() int64 {
	if s.StartedAt.IsZero() {
		return 0
	}
	return s.StartedAt.UnixMilli()
}

// StartRequest names whom to call. Either PhoneNumber or ContactID is required.
type StartRequest struct {
	PhoneNumber string `json:"phone_number"`
	CustomerID  string `json:"customer_id"`
	ContactID   string `json:"contact_id"`
	CampaignID  string `json:"campaign_id"`
}

// Draft is the outcome form for the finished call.
type Draft struct {
	Outcome         string `json:"outcome"`
	Notes           string `json:"notes"`
	DurationSeconds int    `json:"duration_seconds"`
}

// Outcome labels offered to the agent. Other labels are accepted as well.
const (
	OutcomeSuccessful  = "Erfolgreich"
	OutcomeUnreachable = "Nicht erreicht"
	OutcomeCallback    = "Rückruf vereinbart"
	OutcomeInformation = "Information"
)

var Outcomes = []string{OutcomeSuccessful, OutcomeUnreachable, OutcomeCallback, OutcomeInformation}

// Submission is a call log accepted by the backend.
type Submission struct {
	LogID           string    `json:"log_id,omitempty"`
	Call            Session   `json:"call"`
	Outcome         string    `json:"outcome"`
	Notes           string    `json:"notes,omitempty"`
	DurationSeconds int       `json:"duration_seconds"`
	SubmittedAt     time.Time `json:"submitted_at"`
}
