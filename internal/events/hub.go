package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"agent-console/internal/notify"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Message types pushed to the console.
const (
	TypeNotification   = "notification"
	TypeSnapshot       = "snapshot"
	TypeCall           = "call"
	TypeSessionExpired = "session_expired"
)

// Message is the envelope written to every websocket frame.
type Message struct {
	Type string    `json:"type"`
	Data any       `json:"data,omitempty"`
	At   time.Time `json:"at"`
}

type Options struct {
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
	// CheckOrigin defaults to allowing every origin; CORS is enforced on the
	// HTTP routes.
	CheckOrigin func(r *http.Request) bool
}

func (o Options) withDefaults() Options {
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.CheckOrigin == nil {
		o.CheckOrigin = func(*http.Request) bool { return true }
	}
	return o
}

// Hub fans messages out to the websocket clients of each agent. An agent may
// have several tabs open; every tab gets every message.
type Hub struct {
	opts     Options
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
}

func NewHub(log *slog.Logger, opts Options) *Hub {
	if log == nil {
		log = slog.Default()
	}
	opts = opts.withDefaults()
	return &Hub{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		log:     log,
		clients: map[string]map[*client]struct{}{},
	}
}

// ClientCount returns the number of open connections for agentID.
func (h *Hub) ClientCount(agentID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[agentID])
}

// Publish sends msg to all of the agent's clients. A client whose buffer is
// full is dropped.
func (h *Hub) Publish(agentID string, msg Message) {
	if msg.At.IsZero() {
		msg.At = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("failed to marshal event", "type", msg.Type, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients[agentID] {
		select {
		case c.send <- data:
		default:
			h.removeLocked(c)
			h.log.Warn("client send buffer full, closing connection", "agent_id", agentID, "client_id", c.id)
		}
	}
}

// Notifier returns a notify.Notifier that pushes to agentID's clients.
func (h *Hub) Notifier(agentID string) notify.Notifier {
	return notify.Func(func(_ context.Context, n notify.Notification) {
		h.Publish(agentID, Message{Type: TypeNotification, Data: n, At: n.At})
	})
}

// Serve upgrades the request and attaches the connection to agentID. It
// returns once the connection is registered; pumps run until it closes.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, agentID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &client{
		id:      uuid.NewString(),
		agentID: agentID,
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, 64),
	}

	h.mu.Lock()
	set, ok := h.clients[agentID]
	if !ok {
		set = map[*client]struct{}{}
		h.clients[agentID] = set
	}
	set[c] = struct{}{}
	total := len(set)
	h.mu.Unlock()

	h.log.Info("client connected", "agent_id", agentID, "client_id", c.id, "total_clients", total)
	go c.writePump()
	go c.readPump()
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.clients {
		for c := range set {
			h.removeLocked(c)
		}
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.agentID][c]; ok {
		h.removeLocked(c)
		h.log.Info("client disconnected", "agent_id", c.agentID, "client_id", c.id)
	}
}

func (h *Hub) removeLocked(c *client) {
	set := h.clients[c.agentID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.agentID)
	}
}
