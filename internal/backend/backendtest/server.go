// Package backendtest provides an in-memory stand-in for the remote backend,
// served over httptest. Not intended for production use.
package backendtest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"agent-console/internal/backend"

	"github.com/gin-gonic/gin"
)

// Server mimics the backend endpoints the console consumes.
type Server struct {
	*httptest.Server

	mu sync.Mutex

	Token string

	connections []backend.ConnectionRecord
	callLogs    []backend.CallLogRequest
	Branches    []backend.Branch
	Contacts    map[string]backend.Contact

	nextID int

	// Failure injection. Status codes are returned verbatim.
	FailCreate  map[string]int  // keyed by connection_type
	FailDelete  map[string]bool // keyed by session_id
	FailList    int
	FailUpdate  int
	FailLogCall int

	// AutoConnect makes new connections report "connected" immediately.
	AutoConnect bool

	// Requests counts calls per "METHOD path".
	Requests map[string]int
}

// New starts a server that accepts token as the only valid bearer token.
func New(token string) *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{
		Token:      token,
		Contacts:   map[string]backend.Contact{},
		FailCreate: map[string]int{},
		FailDelete: map[string]bool{},
		Requests:   map[string]int{},
	}

	r := gin.New()
	r.Use(s.count, s.authenticate)
	r.GET("/connections/manage", s.listConnections)
	r.POST("/connections/manage", s.createConnection)
	r.PUT("/connections/manage", s.updateConnection)
	r.DELETE("/connections/manage", s.deleteConnection)
	r.POST("/calls/log", s.logCall)
	r.GET("/branches", s.listBranches)
	r.GET("/contacts/:id", s.getContact)

	s.Server = httptest.NewServer(r)
	return s
}

func (s *Server) count(c *gin.Context) {
	s.mu.Lock()
	s.Requests[c.Request.Method+" "+c.Request.URL.Path]++
	s.mu.Unlock()
	c.Next()
}

func (s *Server) authenticate(c *gin.Context) {
	s.mu.Lock()
	want := s.Token
	s.mu.Unlock()
	if c.GetHeader("Authorization") != "Bearer "+want {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

// ExpireToken makes every following request fail with 401.
func (s *Server) ExpireToken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Token = "expired-" + s.Token
}

func (s *Server) listConnections(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailList != 0 {
		c.AbortWithStatusJSON(s.FailList, gin.H{"error": "list failed"})
		return
	}
	out := make([]backend.ConnectionRecord, len(s.connections))
	copy(out, s.connections)
	c.JSON(http.StatusOK, gin.H{"connections": out})
}

func (s *Server) createConnection(c *gin.Context) {
	var req backend.CreateConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if code := s.FailCreate[req.ConnectionType]; code != 0 {
		c.AbortWithStatusJSON(code, gin.H{"error": req.ConnectionType + " unavailable"})
		return
	}
	s.nextID++
	rec := backend.ConnectionRecord{
		SessionID:      fmt.Sprintf("sess-%d", s.nextID),
		FilialeID:      req.FilialeID,
		ConnectionType: req.ConnectionType,
		Status:         "connecting",
		StartedAt:      time.Now().UTC(),
	}
	if name, ok := req.ConnectionData["filiale_name"].(string); ok {
		rec.FilialeName = name
	}
	if s.AutoConnect {
		rec.Status = "connected"
	}
	s.connections = append(s.connections, rec)
	c.JSON(http.StatusCreated, backend.CreateConnectionResponse{SessionID: rec.SessionID, Status: rec.Status, StartedAt: rec.StartedAt})
}

func (s *Server) updateConnection(c *gin.Context) {
	var req backend.UpdateConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUpdate != 0 {
		c.AbortWithStatusJSON(s.FailUpdate, gin.H{"error": "update failed"})
		return
	}
	for i := range s.connections {
		if s.connections[i].SessionID == req.SessionID {
			s.connections[i].Status = req.Status
			c.JSON(http.StatusOK, gin.H{"ok": true})
			return
		}
	}
	c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown session"})
}

func (s *Server) deleteConnection(c *gin.Context) {
	id := c.Query("session_id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailDelete[id] {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "teardown failed"})
		return
	}
	for i := range s.connections {
		if s.connections[i].SessionID == id {
			s.connections = append(s.connections[:i], s.connections[i+1:]...)
			c.Status(http.StatusNoContent)
			return
		}
	}
	c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown session"})
}

func (s *Server) logCall(c *gin.Context) {
	var req backend.CallLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailLogCall != 0 {
		c.AbortWithStatusJSON(s.FailLogCall, gin.H{"error": "call log unavailable"})
		return
	}
	if strings.TrimSpace(req.Outcome) == "" {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "outcome required"})
		return
	}
	s.callLogs = append(s.callLogs, req)
	c.JSON(http.StatusCreated, backend.CallLogResponse{ID: backend.FlexID(fmt.Sprint(len(s.callLogs)))})
}

func (s *Server) listBranches(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.JSON(http.StatusOK, s.Branches)
}

func (s *Server) getContact(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ct, ok := s.Contacts[c.Param("id")]
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "contact not found"})
		return
	}
	c.JSON(http.StatusOK, ct)
}

// SetStatus overrides the status of every connection of the given type.
func (s *Server) SetStatus(connectionType, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.connections {
		if s.connections[i].ConnectionType == connectionType {
			s.connections[i].Status = status
		}
	}
}

// Seed adds a connection record as if it had been created earlier.
func (s *Server) Seed(rec backend.ConnectionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections = append(s.connections, rec)
}

func (s *Server) Connections() []backend.ConnectionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]backend.ConnectionRecord, len(s.connections))
	copy(out, s.connections)
	return out
}

func (s *Server) CallLogs() []backend.CallLogRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]backend.CallLogRequest, len(s.callLogs))
	copy(out, s.callLogs)
	return out
}

func (s *Server) RequestCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Requests[key]
}

// Configure mutates failure knobs or fixtures under the server lock.
func (s *Server) Configure(fn func(s *Server)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}
