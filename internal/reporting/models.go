package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// ShiftSummaryRequest asks for one agent's activity in a time range.
// AgentID is required; agents only ever see their own summary.
type ShiftSummaryRequest struct {
	AgentID string    `json:"agent_id"`
	Range   TimeRange `json:"range"`
}

type ShiftSummary struct {
	AgentID string    `json:"agent_id"`
	Range   TimeRange `json:"range"`

	Connects        int `json:"connects"`
	ConnectFailures int `json:"connect_failures"`

	CallsStarted   int `json:"calls_started"`
	CallsRecorded  int `json:"calls_recorded"`
	CallsDiscarded int `json:"calls_discarded"`

	// Talk time is taken from ended calls, recorded or not.
	TotalTalkSeconds   int    `json:"total_talk_seconds"`
	AverageTalkSeconds int    `json:"average_talk_seconds"`
	TotalTalk          string `json:"total_talk"`
	AverageTalk        string `json:"average_talk"`

	Outcomes map[string]int `json:"outcomes"`
}
