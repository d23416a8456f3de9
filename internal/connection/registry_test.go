package connection

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"agent-console/internal/backend"
	"agent-console/internal/backend/backendtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type confirmFunc func(ctx context.Context, l Link) error

func (f confirmFunc) Confirm(ctx context.Context, l Link) error { return f(ctx, l) }

func confirmAll() Confirmer {
	return confirmFunc(func(context.Context, Link) error { return nil })
}

func newBackend(t *testing.T) (*backendtest.Server, *backend.Client) {
	t.Helper()
	srv := backendtest.New("tok")
	t.Cleanup(srv.Close)
	c, err := backend.New(backend.Options{BaseURL: srv.URL, Timeout: 2 * time.Second, Tokens: backend.StaticToken("tok")})
	require.NoError(t, err)
	return srv, c
}

func TestReady_RequiresEveryRequiredType(t *testing.T) {
	up := func(typ LinkType) Link { return Link{ID: string(typ), Type: typ, Status: StatusConnected} }

	cases := []struct {
		name  string
		links []Link
		want  bool
	}{
		{"empty", nil, false},
		{"all three", []Link{up(LinkVPN), up(LinkSIP), up(LinkWebRTC)}, true},
		{"missing webrtc", []Link{up(LinkVPN), up(LinkSIP)}, false},
		{"sip still connecting", []Link{up(LinkVPN), {Type: LinkSIP, Status: StatusConnecting}, up(LinkWebRTC)}, false},
		{"extra type ignored when ready", []Link{up(LinkVPN), up(LinkSIP), up(LinkWebRTC), up("pbx")}, true},
		{"extra type cannot stand in", []Link{up(LinkVPN), up(LinkSIP), up("pbx")}, false},
		{"duplicate vpn does not count twice", []Link{up(LinkVPN), up(LinkVPN), up(LinkSIP)}, false},
		{"error link beside connected one", []Link{up(LinkVPN), up(LinkSIP), up(LinkWebRTC), {Type: LinkSIP, Status: StatusError}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Ready(tc.links))
		})
	}
}

func TestRegistry_FetchAllFailureKeepsLinks(t *testing.T) {
	srv, api := newBackend(t)
	srv.AutoConnect = true
	reg := NewRegistry(api, nil)
	ctx := context.Background()

	for _, typ := range RequiredTypes {
		_, err := reg.Create(ctx, Branch{ID: "3"}, typ, nil)
		require.NoError(t, err)
	}
	_, err := reg.FetchAll(ctx)
	require.NoError(t, err)
	require.True(t, reg.IsReady())

	srv.Configure(func(s *backendtest.Server) { s.FailList = http.StatusInternalServerError })
	_, err = reg.FetchAll(ctx)
	require.Error(t, err)
	assert.True(t, backend.IsTransport(err))
	assert.Len(t, reg.Links(), 3)
	assert.True(t, reg.IsReady())
}

func TestRegistry_CreateStoresConnectingLink(t *testing.T) {
	srv, api := newBackend(t)
	srv.AutoConnect = true
	reg := NewRegistry(api, nil)

	l, err := reg.Create(context.Background(), Branch{ID: "3", Name: "Berlin"}, LinkVPN, map[string]any{"profile": "default"})
	require.NoError(t, err)
	assert.Equal(t, StatusConnecting, l.Status)
	assert.Equal(t, "Berlin", l.BranchName)
	assert.False(t, l.StartedAt.IsZero())
	assert.False(t, reg.IsConnecting())

	recs := srv.Connections()
	require.Len(t, recs, 1)
	assert.Equal(t, "Berlin", recs[0].FilialeName)
}

func TestRegistry_CreateReusesActiveLinkForSameBranchAndType(t *testing.T) {
	srv, api := newBackend(t)
	reg := NewRegistry(api, nil)
	ctx := context.Background()

	first, err := reg.Create(ctx, Branch{ID: "3"}, LinkSIP, nil)
	require.NoError(t, err)
	second, err := reg.Create(ctx, Branch{ID: "3"}, LinkSIP, nil)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, srv.RequestCount("POST /connections/manage"))
}

func TestRegistry_CreateReplacesErroredLink(t *testing.T) {
	srv, api := newBackend(t)
	reg := NewRegistry(api, nil)
	ctx := context.Background()

	first, err := reg.Create(ctx, Branch{ID: "3"}, LinkSIP, nil)
	require.NoError(t, err)
	srv.SetStatus("sip", "error")
	_, err = reg.FetchAll(ctx)
	require.NoError(t, err)

	second, err := reg.Create(ctx, Branch{ID: "3"}, LinkSIP, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	recs := srv.Connections()
	require.Len(t, recs, 1)
	assert.Equal(t, second.ID, recs[0].SessionID)
}

func TestRegistry_CreateRequiresBranch(t *testing.T) {
	_, api := newBackend(t)
	_, err := NewRegistry(api, nil).Create(context.Background(), Branch{}, LinkVPN, nil)
	require.ErrorIs(t, err, ErrInvalidBranch)
}

func TestRegistry_CreateFailureIsConnectionError(t *testing.T) {
	srv, api := newBackend(t)
	srv.FailCreate["webrtc"] = http.StatusBadGateway
	reg := NewRegistry(api, nil)

	_, err := reg.Create(context.Background(), Branch{ID: "3"}, LinkWebRTC, nil)
	require.ErrorIs(t, err, ErrConnection)
	assert.Equal(t, http.StatusBadGateway, backend.StatusOf(err))
	assert.Empty(t, reg.Links())
}

func TestRegistry_ConfirmerDrivesStatus(t *testing.T) {
	srv, api := newBackend(t)
	reg := NewRegistry(api, confirmFunc(func(_ context.Context, l Link) error {
		if l.Type == LinkWebRTC {
			return errors.New("ice failed")
		}
		return nil
	}))
	ctx := context.Background()

	for _, typ := range RequiredTypes {
		_, err := reg.Create(ctx, Branch{ID: "3"}, typ, nil)
		require.NoError(t, err)
	}
	reg.Wait()
	_, err := reg.FetchAll(ctx)
	require.NoError(t, err)

	byType := map[LinkType]LinkStatus{}
	for _, l := range reg.Links() {
		byType[l.Type] = l.Status
	}
	assert.Equal(t, StatusConnected, byType[LinkVPN])
	assert.Equal(t, StatusConnected, byType[LinkSIP])
	assert.Equal(t, StatusError, byType[LinkWebRTC])
	assert.False(t, reg.IsReady())
	assert.Equal(t, 3, srv.RequestCount("PUT /connections/manage"))
}

func TestRegistry_UpdateStatusSwallowsBackendFailure(t *testing.T) {
	srv, api := newBackend(t)
	reg := NewRegistry(api, nil)
	ctx := context.Background()

	l, err := reg.Create(ctx, Branch{ID: "3"}, LinkVPN, nil)
	require.NoError(t, err)

	srv.Configure(func(s *backendtest.Server) { s.FailUpdate = http.StatusInternalServerError })
	reg.UpdateStatus(ctx, l.ID, StatusConnected)

	links := reg.Links()
	require.Len(t, links, 1)
	assert.Equal(t, StatusConnecting, links[0].Status)
	assert.Zero(t, srv.RequestCount("GET /connections/manage"))
}

func TestRegistry_RemoveAllKeepsLinksThatFailedToDelete(t *testing.T) {
	srv, api := newBackend(t)
	srv.AutoConnect = true
	reg := NewRegistry(api, nil)
	ctx := context.Background()

	for _, typ := range RequiredTypes {
		_, err := reg.Create(ctx, Branch{ID: "3"}, typ, nil)
		require.NoError(t, err)
	}
	links, err := reg.FetchAll(ctx)
	require.NoError(t, err)
	stuck := links[1].ID
	srv.Configure(func(s *backendtest.Server) { s.FailDelete[stuck] = true })

	err = reg.RemoveAll(ctx, true)
	var pf *PartialFailureError
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, []string{stuck}, pf.IDs())
	assert.True(t, backend.IsTransport(err))

	left := reg.Links()
	require.Len(t, left, 1)
	assert.Equal(t, stuck, left[0].ID)
	assert.Equal(t, 3, srv.RequestCount("DELETE /connections/manage"))

	srv.Configure(func(s *backendtest.Server) { delete(s.FailDelete, stuck) })
	require.NoError(t, reg.RemoveAll(ctx, true))
	assert.Empty(t, reg.Links())
	assert.Empty(t, srv.Connections())
}

func TestRegistry_RemoveAllConnectedOnlyDropsOthersLocally(t *testing.T) {
	srv, api := newBackend(t)
	reg := NewRegistry(api, nil)
	ctx := context.Background()

	_, err := reg.Create(ctx, Branch{ID: "3"}, LinkVPN, nil)
	require.NoError(t, err)

	require.NoError(t, reg.RemoveAll(ctx, true))
	assert.Empty(t, reg.Links())
	assert.Zero(t, srv.RequestCount("DELETE /connections/manage"))
}

func TestRegistry_RemoveAllTreatsMissingLinkAsGone(t *testing.T) {
	srv, api := newBackend(t)
	srv.Seed(backend.ConnectionRecord{SessionID: "ghost", FilialeID: "3", ConnectionType: "vpn", Status: "connected"})
	reg := NewRegistry(api, nil)
	ctx := context.Background()

	_, err := reg.FetchAll(ctx)
	require.NoError(t, err)
	require.NoError(t, api.DeleteConnection(ctx, "ghost"))

	require.NoError(t, reg.RemoveAll(ctx, true))
	assert.Empty(t, reg.Links())
}
