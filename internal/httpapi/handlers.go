package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"agent-console/internal/audit"
	"agent-console/internal/auth"
	"agent-console/internal/backend"
	"agent-console/internal/calls"
	"agent-console/internal/connection"
	"agent-console/internal/console"
	"agent-console/internal/rbac"
	"agent-console/internal/reporting"
	"agent-console/internal/telephony"
	"agent-console/pkg/logger"

	"github.com/gin-gonic/gin"
)

const sessionKey = "console_session"

// BranchDirectory lists the branches an agent may connect to.
type BranchDirectory interface {
	ListBranches(ctx context.Context) ([]backend.Branch, error)
}

// EventStream attaches a websocket to an agent. *events.Hub implements it.
type EventStream interface {
	Serve(w http.ResponseWriter, r *http.Request, agentID string) error
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Sessions *console.Manager
	Branches BranchDirectory
	Reports  *reporting.Service
	Events   EventStream
	Now      func() time.Time
}

// Session resolves the caller's console session and stores it on the gin
// context. It also records the client IP for journal entries.
func (h Handlers) Session() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		uid, err := auth.UserID(ctx)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
			return
		}
		role, _ := auth.Role(ctx)
		token, _ := auth.Token(ctx)

		s, err := h.Sessions.Session(ctx, uid, role, token)
		if err != nil {
			abortWithError(c, err, nil)
			return
		}
		c.Request = c.Request.WithContext(audit.WithClientIP(ctx, c.ClientIP()))
		c.Set(sessionKey, s)
		c.Next()
	}
}

func session(c *gin.Context) *console.Session {
	return c.MustGet(sessionKey).(*console.Session)
}

// --- Connection ---

type connectRequest struct {
	BranchID   string `json:"branch_id"`
	BranchName string `json:"branch_name"`
}

func (h Handlers) ListBranches(c *gin.Context) {
	if h.Branches == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "branch directory not configured"})
		return
	}
	branches, err := h.Branches.ListBranches(c.Request.Context())
	if err != nil {
		abortWithError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"branches": branches})
}

func (h Handlers) GetConnection(c *gin.Context) {
	c.JSON(http.StatusOK, session(c).Coordinator().Snapshot())
}

// Connect starts the branch connection. By default it answers 202 at once and
// progress arrives over the event stream; with ?wait=true it blocks until the
// attempt finishes.
func (h Handlers) Connect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.BranchID = strings.TrimSpace(req.BranchID)
	if req.BranchID == "" {
		abortWithError(c, connection.ErrInvalidBranch, nil)
		return
	}
	s := session(c)
	branch := connection.Branch{ID: req.BranchID, Name: strings.TrimSpace(req.BranchName)}

	if c.Query("wait") == "true" {
		if err := s.Connect(c.Request.Context(), branch); err != nil {
			abortWithError(c, err, gin.H{"connection": s.Coordinator().Snapshot()})
			return
		}
		c.JSON(http.StatusOK, s.Coordinator().Snapshot())
		return
	}

	switch snap := s.Coordinator().Snapshot(); {
	case snap.Connecting:
		abortWithError(c, connection.ErrAlreadyConnecting, nil)
		return
	case snap.Disconnecting:
		abortWithError(c, connection.ErrDisconnecting, nil)
		return
	}
	// the attempt outlives the request; its outcome reaches the agent as a notification
	ctx := context.WithoutCancel(c.Request.Context())
	go func() {
		defer func() {
			// gin's recovery does not reach this goroutine
			if r := recover(); r != nil {
				logger.From(ctx).Error("async connect panicked", "panic", r)
			}
		}()
		if err := s.Connect(ctx, branch); err != nil {
			logger.From(ctx).Info("async connect finished with error", "err", err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "connecting", "branch": branch})
}

func (h Handlers) Disconnect(c *gin.Context) {
	s := session(c)
	if err := s.Disconnect(c.Request.Context()); err != nil {
		abortWithError(c, err, gin.H{"connection": s.Coordinator().Snapshot()})
		return
	}
	c.JSON(http.StatusOK, s.Coordinator().Snapshot())
}

func (h Handlers) Refresh(c *gin.Context) {
	s := session(c)
	if err := s.Refresh(c.Request.Context()); err != nil {
		abortWithError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, s.Coordinator().Snapshot())
}

// --- Calls ---

type startCallRequest struct {
	PhoneNumber string `json:"phone_number"`
	ContactID   string `json:"contact_id"`
	CustomerID  string `json:"customer_id"`
	CampaignID  string `json:"campaign_id"`
}

type draftRequest struct {
	Outcome *string `json:"outcome"`
	Notes   *string `json:"notes"`
}

type callView struct {
	Call  calls.Session `json:"call"`
	Clock string        `json:"clock"`
	Draft calls.Draft   `json:"draft"`
}

func viewOf(s *console.Session) callView {
	call := s.Controller().Session()
	secs := call.ElapsedSeconds
	if call.Status == calls.StatusEnded {
		secs = call.DurationSeconds
	}
	return callView{Call: call, Clock: calls.FormatClock(secs), Draft: s.Recorder().Draft()}
}

func (h Handlers) ActiveCall(c *gin.Context) {
	c.JSON(http.StatusOK, viewOf(session(c)))
}

func (h Handlers) StartCall(c *gin.Context) {
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.PhoneNumber) != "" {
		n, err := telephony.NormalizeNumber(req.PhoneNumber)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req.PhoneNumber = n
	}

	s := session(c)
	if !rbac.CanCall(s.Role()) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "role may not place calls"})
		return
	}
	call, err := s.StartCall(c.Request.Context(), calls.StartRequest{
		PhoneNumber: req.PhoneNumber,
		ContactID:   req.ContactID,
		CustomerID:  req.CustomerID,
		CampaignID:  req.CampaignID,
	})
	if err != nil {
		abortWithError(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"call": call})
}

func (h Handlers) EndCall(c *gin.Context) {
	call, ended := session(c).EndCall(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"call": call, "ended": ended, "clock": calls.FormatClock(call.DurationSeconds)})
}

func (h Handlers) UpdateDraft(c *gin.Context) {
	var req draftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	rec := session(c).Recorder()
	if req.Outcome != nil {
		rec.SetOutcome(*req.Outcome)
	}
	if req.Notes != nil {
		rec.SetNotes(*req.Notes)
	}
	c.JSON(http.StatusOK, gin.H{"draft": rec.Draft()})
}

// SubmitOutcome records the draft. On a backend failure the draft is echoed
// back so the UI can keep showing it.
func (h Handlers) SubmitOutcome(c *gin.Context) {
	s := session(c)
	sub, err := s.Submit(c.Request.Context())
	if err != nil {
		abortWithError(c, err, gin.H{"draft": s.Recorder().Draft()})
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (h Handlers) DiscardOutcome(c *gin.Context) {
	session(c).Discard(c.Request.Context())
	c.Status(http.StatusNoContent)
}

func (h Handlers) ListOutcomes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"outcomes": calls.Outcomes})
}

// --- Reporting ---

func (h Handlers) MySummary(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	uid, _ := auth.UserID(c.Request.Context())
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}

	rng := reporting.Today(now())
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
		rng.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}
		rng.To = t
	}

	out, err := h.Reports.ShiftSummary(c.Request.Context(), reporting.ShiftSummaryRequest{AgentID: uid, Range: rng})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		abortWithError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- Events ---

func (h Handlers) Stream(c *gin.Context) {
	if h.Events == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event stream not configured"})
		return
	}
	uid, _ := auth.UserID(c.Request.Context())
	if err := h.Events.Serve(c.Writer, c.Request, uid); err != nil {
		logger.FromGin(c).Warn("websocket upgrade failed", "err", err)
	}
}
