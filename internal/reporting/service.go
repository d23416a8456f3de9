package reporting

import (
	"context"
	"errors"
	"time"

	"agent-console/internal/audit"
	"agent-console/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository reads the console journal. *audit.Service implements it.
type Repository interface {
	List(ctx context.Context, agentID string, from, to time.Time) ([]audit.Event, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) ShiftSummary(ctx context.Context, req ShiftSummaryRequest) (ShiftSummary, error) {
	if req.AgentID == "" {
		return ShiftSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return ShiftSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return ShiftSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.List(ctx, req.AgentID, req.Range.From, req.Range.To)
	if err != nil {
		return ShiftSummary{}, err
	}

	out := ShiftSummary{AgentID: req.AgentID, Range: req.Range, Outcomes: map[string]int{}}
	ended := 0
	for _, e := range rows {
		switch e.Type {
		case audit.EventTypeConnect:
			out.Connects++
		case audit.EventTypeConnectFailed:
			out.ConnectFailures++
		case audit.EventTypeCallStarted:
			out.CallsStarted++
		case audit.EventTypeCallEnded:
			ended++
			out.TotalTalkSeconds += e.DurationSeconds
		case audit.EventTypeOutcomeSubmitted:
			out.CallsRecorded++
			out.Outcomes[e.Outcome]++
		case audit.EventTypeOutcomeDiscarded:
			out.CallsDiscarded++
		case audit.EventTypeDisconnect:
			// not counted
		}
	}
	if ended > 0 {
		out.AverageTalkSeconds = out.TotalTalkSeconds / ended
	}
	out.TotalTalk = calls.FormatVerbose(out.TotalTalkSeconds)
	out.AverageTalk = calls.FormatVerbose(out.AverageTalkSeconds)
	return out, nil
}

// Today returns the range from local midnight to the next one.
func Today(now time.Time) TimeRange {
	y, m, d := now.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	return TimeRange{From: from, To: from.AddDate(0, 0, 1)}
}
