package backend_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"agent-console/internal/backend"
	"agent-console/internal/backend/backendtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, baseURL string, onExpired func(context.Context)) *backend.Client {
	t.Helper()
	c, err := backend.New(backend.Options{
		BaseURL:          baseURL,
		Timeout:          2 * time.Second,
		Tokens:           backend.StaticToken("tok"),
		OnSessionExpired: onExpired,
	})
	require.NoError(t, err)
	return c
}

func TestNew_RequiresBaseURLAndTokens(t *testing.T) {
	_, err := backend.New(backend.Options{Tokens: backend.StaticToken("x")})
	require.Error(t, err)

	_, err = backend.New(backend.Options{BaseURL: "http://localhost"})
	require.Error(t, err)
}

func TestConnectionLifecycle_AgainstFakeBackend(t *testing.T) {
	srv := backendtest.New("tok")
	defer srv.Close()
	c := newClient(t, srv.URL, nil)
	ctx := context.Background()

	created, err := c.CreateConnection(ctx, backend.CreateConnectionRequest{
		FilialeID:      "3",
		ConnectionType: "vpn",
		ConnectionData: map[string]any{"filiale_name": "Berlin"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.SessionID)

	list, err := c.ListConnections(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, backend.FlexID("3"), list[0].FilialeID)
	assert.Equal(t, "Berlin", list[0].FilialeName)
	assert.Equal(t, "connecting", list[0].Status)

	require.NoError(t, c.UpdateConnection(ctx, created.SessionID, "connected"))
	list, err = c.ListConnections(ctx)
	require.NoError(t, err)
	assert.Equal(t, "connected", list[0].Status)

	require.NoError(t, c.DeleteConnection(ctx, created.SessionID))
	list, err = c.ListConnections(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreateConnection_NonSuccessIsTransportError(t *testing.T) {
	srv := backendtest.New("tok")
	defer srv.Close()
	srv.Configure(func(s *backendtest.Server) { s.FailCreate["sip"] = http.StatusServiceUnavailable })
	c := newClient(t, srv.URL, nil)

	_, err := c.CreateConnection(context.Background(), backend.CreateConnectionRequest{FilialeID: "1", ConnectionType: "sip"})
	require.Error(t, err)

	var te *backend.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusServiceUnavailable, te.Status)
	assert.Equal(t, "sip unavailable", te.Message)
	assert.True(t, backend.IsTransport(err))
}

func TestUnauthorized_InvokesSessionExpiredHandler(t *testing.T) {
	srv := backendtest.New("tok")
	defer srv.Close()
	srv.ExpireToken()

	var calls atomic.Int32
	c := newClient(t, srv.URL, func(context.Context) { calls.Add(1) })

	_, err := c.ListConnections(context.Background())
	require.ErrorIs(t, err, backend.ErrSessionExpired)
	assert.Equal(t, http.StatusUnauthorized, backend.StatusOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestMissingToken_NeverReachesNetwork(t *testing.T) {
	srv := backendtest.New("tok")
	defer srv.Close()
	c := newClient(t, srv.URL, nil).WithTokens(backend.StaticToken(""))

	_, err := c.ListBranches(context.Background())
	require.ErrorIs(t, err, backend.ErrNoToken)
	assert.Zero(t, srv.RequestCount("GET /branches"))
}

func TestUnreachableBackend_WrapsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newClient(t, url, nil)
	err := c.DeleteConnection(context.Background(), "sess-1")
	require.ErrorIs(t, err, backend.ErrUnavailable)
	assert.Zero(t, backend.StatusOf(err))
}

func TestLogCall_SendsNullForMissingLinks(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/calls/log", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 17}`))
	}))
	defer srv.Close()

	contact := backend.FlexID("12")
	c := newClient(t, srv.URL, nil)
	out, err := c.LogCall(context.Background(), backend.CallLogRequest{
		ContactID:   &contact,
		PhoneNumber: "+49123456789",
		Duration:    42,
		Outcome:     "Erfolgreich",
	})
	require.NoError(t, err)
	assert.Equal(t, backend.FlexID("17"), out.ID)

	assert.Nil(t, body["customer_id"])
	assert.Nil(t, body["campaign_id"])
	assert.Equal(t, float64(12), body["contact_id"])
	assert.Equal(t, float64(42), body["duration"])
	assert.Equal(t, "Erfolgreich", body["outcome"])
}

func TestListBranches_AcceptsWrappedAndBareLists(t *testing.T) {
	for name, payload := range map[string]string{
		"bare":    `[{"id": 3, "name": "Berlin"}, {"id": "hh", "name": "Hamburg"}]`,
		"wrapped": `{"branches": [{"id": 3, "name": "Berlin"}, {"id": "hh", "name": "Hamburg"}]}`,
		"data":    `{"data": [{"id": 3, "name": "Berlin"}, {"id": "hh", "name": "Hamburg"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(payload))
			}))
			defer srv.Close()

			branches, err := newClient(t, srv.URL, nil).ListBranches(context.Background())
			require.NoError(t, err)
			require.Len(t, branches, 2)
			assert.Equal(t, backend.FlexID("3"), branches[0].ID)
			assert.Equal(t, backend.FlexID("hh"), branches[1].ID)
		})
	}
}

func TestGetContact_NotFound(t *testing.T) {
	srv := backendtest.New("tok")
	defer srv.Close()
	srv.Configure(func(s *backendtest.Server) {
		s.Contacts["7"] = backend.Contact{ID: "7", Name: "Erika", Phone: "+4930111"}
	})
	c := newClient(t, srv.URL, nil)

	ct, err := c.GetContact(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "+4930111", ct.Phone)

	_, err = c.GetContact(context.Background(), "8")
	assert.True(t, backend.IsNotFound(err))
}

func TestFlexID_MarshalKeepsNumbersNumeric(t *testing.T) {
	b, err := json.Marshal(struct {
		A backend.FlexID  `json:"a"`
		B backend.FlexID  `json:"b"`
		C *backend.FlexID `json:"c"`
	}{A: "42", B: "abc"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 42, "b": "abc", "c": null}`, string(b))
}
