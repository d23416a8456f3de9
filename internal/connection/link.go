package connection

import (
	"time"

	"agent-console/internal/backend"
)

// LinkType is one transport layer towards a branch.
type LinkType string

const (
	LinkVPN    LinkType = "vpn"
	LinkSIP    LinkType = "sip"
	LinkWebRTC LinkType = "webrtc"
)

// RequiredTypes lists the layers needed for calling, in the order they are
// established: network, then signaling, then media.
var RequiredTypes = []LinkType{LinkVPN, LinkSIP, LinkWebRTC}

func (t LinkType) Required() bool {
	switch t {
	case LinkVPN, LinkSIP, LinkWebRTC:
		return true
	default:
		return false
	}
}

type LinkStatus string

const (
	StatusConnecting   LinkStatus = "connecting"
	StatusConnected    LinkStatus = "connected"
	StatusDisconnected LinkStatus = "disconnected"
	StatusError        LinkStatus = "error"
)

func (s LinkStatus) Valid() bool {
	switch s {
	case StatusConnecting, StatusConnected, StatusDisconnected, StatusError:
		return true
	default:
		return false
	}
}

// Active reports whether a link in this status still occupies its
// (branch, type) slot.
func (s LinkStatus) Active() bool {
	return s == StatusConnecting || s == StatusConnected
}

// Branch identifies the office a connection attempt targets.
type Branch struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Link is one connection of one type to one branch, as known to the backend.
type Link struct {
	ID         string     `json:"id"`
	BranchID   string     `json:"branch_id"`
	BranchName string     `json:"branch_name,omitempty"`
	Type       LinkType   `json:"type"`
	Status     LinkStatus `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
}

func linkFromRecord(rec backend.ConnectionRecord) Link {
	return Link{
		ID:         rec.SessionID,
		BranchID:   rec.FilialeID.String(),
		BranchName: rec.FilialeName,
		Type:       LinkType(rec.ConnectionType),
		Status:     LinkStatus(rec.Status),
		StartedAt:  rec.StartedAt,
	}
}

// Ready reports whether links contain a connected link for every required type.
// Links of other types are ignored.
func Ready(links []Link) bool {
	seen := make(map[LinkType]bool, len(RequiredTypes))
	for _, l := range links {
		if l.Status == StatusConnected && l.Type.Required() {
			seen[l.Type] = true
		}
	}
	return len(seen) == len(RequiredTypes)
}
