package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"agent-console/internal/audit"
	"agent-console/internal/auth"
	"agent-console/internal/backend"
	"agent-console/internal/backend/backendtest"
	"agent-console/internal/calls"
	"agent-console/internal/config"
	"agent-console/internal/connection"
	"agent-console/internal/console"
	"agent-console/internal/reporting"
	"agent-console/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiFixture struct {
	srv    *backendtest.Server
	router *gin.Engine
	token  string
}

func newAPIFixture(t *testing.T, role string) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	am, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: time.Hour,
	})
	require.NoError(t, err)
	pair, err := am.IssuePair(time.Now(), "agent-1", "Erika Muster", role)
	require.NoError(t, err)

	srv := backendtest.New(pair.AccessToken)
	srv.AutoConnect = true
	srv.Branches = []backend.Branch{{ID: "3", Name: "Filiale Nord"}}
	t.Cleanup(srv.Close)

	api, err := backend.New(backend.Options{
		BaseURL: srv.URL,
		Timeout: 2 * time.Second,
		Tokens:  backend.TokenFunc(auth.Token),
	})
	require.NoError(t, err)

	journal := audit.NewService(audit.NewMemoryRepo())
	mgr, err := console.NewManager(console.Options{
		API:     api,
		Connect: connection.Options{SettleDelay: 10 * time.Millisecond, PollInterval: 5 * time.Millisecond, Timeout: 2 * time.Second},
		Journal: journal,
		Log:     logger.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(mgr.Close)

	h := Handlers{Sessions: mgr, Branches: api, Reports: reporting.NewService(journal)}
	r := gin.New()
	h.Register(r.Group("/v1", auth.RequireAccessToken(am)))

	return &apiFixture{srv: srv, router: r, token: pair.AccessToken}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func (f *apiFixture) connect(t *testing.T) {
	t.Helper()
	w, body := f.do(t, http.MethodPost, "/v1/connection/connect?wait=true", gin.H{"branch_id": "3", "branch_name": "Filiale Nord"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "ready", body["state"])
}

func TestAPI_RequiresToken(t *testing.T) {
	f := newAPIFixture(t, "agent")
	f.token = ""
	w, _ := f.do(t, http.MethodGet, "/v1/connection", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPI_ListBranchesForwardsAgentToken(t *testing.T) {
	f := newAPIFixture(t, "agent")
	w, body := f.do(t, http.MethodGet, "/v1/branches", nil)
	require.Equal(t, http.StatusOK, w.Code)
	branches := body["branches"].([]any)
	require.Len(t, branches, 1)
	assert.Equal(t, "Filiale Nord", branches[0].(map[string]any)["name"])
}

func TestAPI_StartCallBlockedWhileDisconnected(t *testing.T) {
	f := newAPIFixture(t, "agent")
	w, body := f.do(t, http.MethodPost, "/v1/calls/start", gin.H{"phone_number": "+491234"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, body["error"], "not ready")

	w, body = f.do(t, http.MethodGet, "/v1/calls/active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "idle", body["call"].(map[string]any)["status"])
}

func TestAPI_FullCallFlow(t *testing.T) {
	f := newAPIFixture(t, "agent")
	f.connect(t)

	w, body := f.do(t, http.MethodPost, "/v1/calls/start", gin.H{"phone_number": "+49 (30) 100-200", "customer_id": "7"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	call := body["call"].(map[string]any)
	assert.Equal(t, "+4930100200", call["phone_number"])
	assert.Equal(t, "active", call["status"])

	w, _ = f.do(t, http.MethodPost, "/v1/calls/start", gin.H{"phone_number": "+4930999"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, body = f.do(t, http.MethodPost, "/v1/calls/end", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["ended"])
	assert.Equal(t, "00:00", body["clock"])

	w, body = f.do(t, http.MethodPut, "/v1/calls/outcome", gin.H{"outcome": "Erfolgreich", "notes": "Termin steht"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Termin steht", body["draft"].(map[string]any)["notes"])

	w, body = f.do(t, http.MethodPost, "/v1/calls/outcome/submit", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "Erfolgreich", body["outcome"])

	logs := f.srv.CallLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, "+4930100200", logs[0].PhoneNumber)

	now := time.Now().UTC()
	q := url.Values{}
	q.Set("from", now.Add(-time.Hour).Format(time.RFC3339))
	q.Set("to", now.Add(time.Hour).Format(time.RFC3339))
	w, body = f.do(t, http.MethodGet, "/v1/me/summary?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 1, body["calls_recorded"])
	assert.EqualValues(t, 1, body["connects"])
}

func TestAPI_SubmitValidationAndTransportFailure(t *testing.T) {
	f := newAPIFixture(t, "agent")
	f.connect(t)
	_, _ = f.do(t, http.MethodPost, "/v1/calls/start", gin.H{"phone_number": "+4930100"})
	_, _ = f.do(t, http.MethodPost, "/v1/calls/end", nil)

	w, _ := f.do(t, http.MethodPost, "/v1/calls/outcome/submit", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, f.srv.RequestCount("POST /calls/log"))

	f.srv.Configure(func(s *backendtest.Server) { s.FailLogCall = http.StatusServiceUnavailable })
	_, _ = f.do(t, http.MethodPut, "/v1/calls/outcome", gin.H{"outcome": "Nicht erreicht", "notes": "Mailbox"})
	w, body := f.do(t, http.MethodPost, "/v1/calls/outcome/submit", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	draft := body["draft"].(map[string]any)
	assert.Equal(t, "Mailbox", draft["notes"])
	assert.Equal(t, "Nicht erreicht", draft["outcome"])

	w, _ = f.do(t, http.MethodPost, "/v1/calls/outcome/discard", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	_, body = f.do(t, http.MethodGet, "/v1/calls/active", nil)
	assert.Equal(t, "idle", body["call"].(map[string]any)["status"])
}

func TestAPI_ConnectValidation(t *testing.T) {
	f := newAPIFixture(t, "agent")
	w, _ := f.do(t, http.MethodPost, "/v1/connection/connect", gin.H{"branch_id": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, http.MethodPost, "/v1/calls/start", gin.H{"phone_number": "call me"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_ConnectAsync(t *testing.T) {
	f := newAPIFixture(t, "agent")
	w, body := f.do(t, http.MethodPost, "/v1/connection/connect", gin.H{"branch_id": "3"})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "connecting", body["status"])

	require.Eventually(t, func() bool {
		_, snap := f.do(t, http.MethodGet, "/v1/connection", nil)
		return snap["state"] == "ready" && snap["ready"] == true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAPI_PartialDisconnect(t *testing.T) {
	f := newAPIFixture(t, "agent")
	f.connect(t)
	f.srv.Configure(func(s *backendtest.Server) { s.FailDelete["sess-2"] = true })

	w, body := f.do(t, http.MethodPost, "/v1/connection/disconnect", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, []any{"sess-2"}, body["failed_links"])
	assert.Len(t, f.srv.Connections(), 1)
}

func TestAPI_BackendRejectsToken(t *testing.T) {
	f := newAPIFixture(t, "agent")
	f.srv.ExpireToken()
	w, _ := f.do(t, http.MethodPost, "/v1/connection/connect?wait=true", gin.H{"branch_id": "3"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPI_UnknownRoleIsForbidden(t *testing.T) {
	f := newAPIFixture(t, "viewer")
	w, _ := f.do(t, http.MethodGet, "/v1/connection", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body := f.do(t, http.MethodGet, "/v1/calls/outcomes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["outcomes"], len(calls.Outcomes))
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{errors.Join(calls.ErrNotReady, calls.ErrMissingTarget), http.StatusConflict},
		{calls.ErrMissingOutcome, http.StatusBadRequest},
		{connection.ErrInvalidBranch, http.StatusBadRequest},
		{console.ErrLocked, http.StatusConflict},
		{connection.ErrDisconnecting, http.StatusConflict},
		{connection.ErrConnectTimeout, http.StatusGatewayTimeout},
		{&connection.PartialFailureError{Failed: map[string]error{"x": errors.New("boom")}}, http.StatusBadGateway},
		{&backend.TransportError{Op: "log call", Status: 503}, http.StatusBadGateway},
		{fmt.Errorf("%w: create sip: %w", connection.ErrConnection, backend.ErrSessionExpired), http.StatusUnauthorized},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
