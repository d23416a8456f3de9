package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// FlexID is an identifier the backend sends either as a JSON number or string
// (branch ids are integers in some deployments and strings in others).
// It is stored as its decimal/string form and re-encoded as a number when numeric.
type FlexID string

func (id FlexID) String() string { return string(id) }

func (id FlexID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("flex id: %w", err)
	}
	*id = FlexID(n.String())
	return nil
}

// ConnectionRecord is one row of GET /connections/manage.
type ConnectionRecord struct {
	SessionID      string    `json:"session_id"`
	FilialeID      FlexID    `json:"filiale_id"`
	FilialeName    string    `json:"filiale_name,omitempty"`
	ConnectionType string    `json:"connection_type"`
	Status         string    `json:"status"`
	StartedAt      time.Time `json:"started_at"`
}

type CreateConnectionRequest struct {
	FilialeID      FlexID         `json:"filiale_id"`
	ConnectionType string         `json:"connection_type"`
	ConnectionData map[string]any `json:"connection_data"`
}

type CreateConnectionResponse struct {
	SessionID string    `json:"session_id"`
	Status    string    `json:"status,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

type UpdateConnectionRequest struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// CallLogRequest is the body of POST /calls/log. Optional links are omitted as null.
type CallLogRequest struct {
	CustomerID  *FlexID `json:"customer_id"`
	ContactID   *FlexID `json:"contact_id"`
	PhoneNumber string  `json:"phone_number"`
	Duration    int     `json:"duration"`
	Outcome     string  `json:"outcome"`
	Notes       string  `json:"notes"`
	CampaignID  *FlexID `json:"campaign_id"`
}

type CallLogResponse struct {
	ID FlexID `json:"id,omitempty"`
}

// Branch is one entry of the read-only branch directory.
type Branch struct {
	ID   FlexID `json:"id"`
	Name string `json:"name"`
}

// Contact is the subset of a customer contact the console needs to dial.
type Contact struct {
	ID         FlexID `json:"id"`
	CustomerID FlexID `json:"customer_id,omitempty"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e *apiError) text() string {
	if e == nil {
		return ""
	}
	if e.Error != "" {
		return e.Error
	}
	return e.Message
}

// decodeList accepts either a bare JSON array or an object wrapping it under key.
func decodeList[T any](body []byte, key string) ([]T, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, nil
	}
	if body[0] == '[' {
		var out []T
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, err
	}
	raw, ok := wrapped[key]
	if !ok {
		raw, ok = wrapped["data"]
	}
	if !ok {
		return nil, nil
	}
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
