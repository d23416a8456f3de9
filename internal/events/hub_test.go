package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"agent-console/internal/notify"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), Options{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := hub.Serve(w, r, r.URL.Query().Get("agent")); err != nil {
			t.Logf("serve: %v", err)
		}
	}))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, hub *Hub, srv *httptest.Server, agent string) *websocket.Conn {
	t.Helper()
	before := hub.ClientCount(agent)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?agent=" + agent
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.ClientCount(agent) == before+1 }, time.Second, 5*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestHub_NotifierReachesOnlyThatAgent(t *testing.T) {
	hub, srv := newTestHub(t)
	a := dial(t, hub, srv, "a1")
	b := dial(t, hub, srv, "a2")

	hub.Notifier("a1").Notify(context.Background(), notify.Error("Verbindung fehlgeschlagen", "SIP"))

	msg := readMessage(t, a)
	assert.Equal(t, TypeNotification, msg["type"])
	data := msg["data"].(map[string]any)
	assert.Equal(t, "error", data["kind"])
	assert.Equal(t, "Verbindung fehlgeschlagen", data["title"])

	require.NoError(t, b.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	_, _, err := b.ReadMessage()
	assert.Error(t, err, "a2 must not receive a1's notification")
}

func TestHub_EveryTabReceives(t *testing.T) {
	hub, srv := newTestHub(t)
	first := dial(t, hub, srv, "a1")
	second := dial(t, hub, srv, "a1")
	assert.Equal(t, 2, hub.ClientCount("a1"))

	hub.Publish("a1", Message{Type: TypeSessionExpired})
	assert.Equal(t, TypeSessionExpired, readMessage(t, first)["type"])
	assert.Equal(t, TypeSessionExpired, readMessage(t, second)["type"])
}

func TestHub_UnregistersClosedClients(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dial(t, hub, srv, "a1")

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.ClientCount("a1") == 0 }, time.Second, 5*time.Millisecond)

	// publishing without listeners is a no-op
	hub.Publish("a1", Message{Type: TypeSnapshot})
}

func TestOptions_Defaults(t *testing.T) {
	o := Options{PongWait: 10 * time.Second, PingPeriod: time.Minute}.withDefaults()
	assert.Equal(t, 9*time.Second, o.PingPeriod)
	assert.Equal(t, 10*time.Second, o.WriteWait)
	assert.NotNil(t, o.CheckOrigin)
}
