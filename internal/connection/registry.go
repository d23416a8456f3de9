package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"agent-console/internal/backend"
	"agent-console/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Backend is the subset of the backend client the registry needs.
type Backend interface {
	ListConnections(ctx context.Context) ([]backend.ConnectionRecord, error)
	CreateConnection(ctx context.Context, in backend.CreateConnectionRequest) (backend.CreateConnectionResponse, error)
	UpdateConnection(ctx context.Context, sessionID, status string) error
	DeleteConnection(ctx context.Context, sessionID string) error
}

// Confirmer waits for the transport layer to report a freshly created link as
// up. A nil error confirms the link; any error marks it failed.
type Confirmer interface {
	Confirm(ctx context.Context, link Link) error
}

// teardownConcurrency caps parallel DELETE requests during RemoveAll.
const teardownConcurrency = 4

// Registry is the in-memory view of the agent's connection links. The backend
// is the source of truth; FetchAll may be called at any time to resync.
type Registry struct {
	api       Backend
	confirmer Confirmer
	now       func() time.Time

	mu       sync.RWMutex
	links    []Link
	creating int
	pending  map[string]context.CancelFunc
	// gen changes on teardown so a list fetched before it is not stored after it.
	gen uint64

	wg sync.WaitGroup
}

// NewRegistry builds a registry. confirmer may be nil when the backend flips
// link status on its own; readiness then comes from FetchAll alone.
func NewRegistry(api Backend, confirmer Confirmer) *Registry {
	return &Registry{
		api:       api,
		confirmer: confirmer,
		now:       time.Now,
		pending:   map[string]context.CancelFunc{},
	}
}

// Links returns a copy of the current links in backend order.
func (r *Registry) Links() []Link {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Link, len(r.links))
	copy(out, r.links)
	return out
}

func (r *Registry) IsReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Ready(r.links)
}

// IsConnecting reports whether a create request is in flight.
func (r *Registry) IsConnecting() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.creating > 0
}

// FetchAll replaces the in-memory links with the backend's list. On failure
// the current links are left untouched.
func (r *Registry) FetchAll(ctx context.Context) ([]Link, error) {
	r.mu.RLock()
	gen := r.gen
	r.mu.RUnlock()

	recs, err := r.api.ListConnections(ctx)
	if err != nil {
		return nil, err
	}
	links := make([]Link, 0, len(recs))
	for _, rec := range recs {
		links = append(links, linkFromRecord(rec))
	}

	r.mu.Lock()
	if r.gen == gen {
		r.links = links
	}
	r.mu.Unlock()

	out := make([]Link, len(links))
	copy(out, links)
	return out, nil
}

// Create requests a new link of type t to branch b. If the branch already has
// an active link of that type, that link is returned unchanged. A stale link in
// error state is deleted first.
func (r *Registry) Create(ctx context.Context, b Branch, t LinkType, payload map[string]any) (Link, error) {
	if b.ID == "" {
		return Link{}, ErrInvalidBranch
	}

	if existing, ok := r.find(b.ID, t); ok {
		if existing.Status.Active() {
			return existing, nil
		}
		if existing.Status == StatusError {
			if err := r.delete(ctx, existing.ID); err != nil {
				return Link{}, fmt.Errorf("%w: replace failed %s link: %w", ErrConnection, t, err)
			}
			r.drop(existing.ID)
		}
	}

	r.mu.Lock()
	r.creating++
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.creating--
		r.mu.Unlock()
	}()

	data := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		data[k] = v
	}
	if b.Name != "" {
		data["filiale_name"] = b.Name
	}

	resp, err := r.api.CreateConnection(ctx, backend.CreateConnectionRequest{
		FilialeID:      backend.FlexID(b.ID),
		ConnectionType: string(t),
		ConnectionData: data,
	})
	if err != nil {
		return Link{}, fmt.Errorf("%w: create %s: %w", ErrConnection, t, err)
	}

	link := Link{
		ID:         resp.SessionID,
		BranchID:   b.ID,
		BranchName: b.Name,
		Type:       t,
		Status:     StatusConnecting,
		StartedAt:  resp.StartedAt,
	}
	if link.StartedAt.IsZero() {
		link.StartedAt = r.now().UTC()
	}

	r.mu.Lock()
	r.upsertLocked(link)
	r.mu.Unlock()

	r.scheduleConfirm(ctx, link)
	return link, nil
}

// UpdateStatus pushes a status change and then resyncs. Failures are logged
// and never returned: status housekeeping must not break the caller's flow.
func (r *Registry) UpdateStatus(ctx context.Context, id string, status LinkStatus) {
	log := logger.From(ctx).With("link_id", id, "status", string(status))
	if err := r.api.UpdateConnection(ctx, id, string(status)); err != nil {
		log.Warn("link status update failed", "err", err)
		return
	}
	if _, err := r.FetchAll(ctx); err != nil {
		log.Warn("link refresh after status update failed", "err", err)
	}
}

// RemoveAll deletes links on the backend. With connectedOnly, only connected
// links are deleted and the rest are dropped locally. Deletions run in
// parallel and one failure does not stop the others; failed links stay in the
// registry and are reported through *PartialFailureError.
func (r *Registry) RemoveAll(ctx context.Context, connectedOnly bool) error {
	r.mu.Lock()
	r.gen++
	var targets []Link
	for _, l := range r.links {
		if !connectedOnly || l.Status == StatusConnected {
			targets = append(targets, l)
		}
	}
	for id, cancel := range r.pending {
		cancel()
		delete(r.pending, id)
	}
	r.mu.Unlock()

	var (
		mu     sync.Mutex
		failed = map[string]error{}
		g      errgroup.Group
	)
	g.SetLimit(teardownConcurrency)
	for _, l := range targets {
		l := l
		g.Go(func() error {
			if err := r.delete(ctx, l.ID); err != nil {
				logger.From(ctx).Warn("link teardown failed", "link_id", l.ID, "type", string(l.Type), "err", err)
				mu.Lock()
				failed[l.ID] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	r.gen++
	kept := r.links[:0]
	for _, l := range r.links {
		if _, ok := failed[l.ID]; ok {
			kept = append(kept, l)
		}
	}
	r.links = kept
	r.mu.Unlock()

	if len(failed) > 0 {
		return &PartialFailureError{Failed: failed}
	}
	return nil
}

// Close cancels pending confirmations and waits for them to return.
func (r *Registry) Close() {
	r.mu.Lock()
	for id, cancel := range r.pending {
		cancel()
		delete(r.pending, id)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// Wait blocks until every scheduled confirmation has finished.
func (r *Registry) Wait() { r.wg.Wait() }

func (r *Registry) scheduleConfirm(ctx context.Context, link Link) {
	if r.confirmer == nil {
		return
	}
	// The confirmation outlives the request that created the link.
	cctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	r.mu.Lock()
	if prev, ok := r.pending[link.ID]; ok {
		prev()
	}
	r.pending[link.ID] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.clearPending(link.ID)

		err := r.confirmer.Confirm(cctx, link)
		if cctx.Err() != nil {
			return
		}
		if err != nil {
			logger.From(cctx).Warn("link confirmation failed", "link_id", link.ID, "type", string(link.Type), "err", err)
			r.UpdateStatus(cctx, link.ID, StatusError)
			return
		}
		r.UpdateStatus(cctx, link.ID, StatusConnected)
	}()
}

func (r *Registry) clearPending(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.pending[id]; ok {
		cancel()
		delete(r.pending, id)
	}
}

// delete treats an unknown link as already gone.
func (r *Registry) delete(ctx context.Context, id string) error {
	err := r.api.DeleteConnection(ctx, id)
	if err != nil && !backend.IsNotFound(err) {
		return err
	}
	return nil
}

func (r *Registry) find(branchID string, t LinkType) (Link, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.links {
		if l.BranchID == branchID && l.Type == t && l.Status != StatusDisconnected {
			return l, true
		}
	}
	return Link{}, false
}

func (r *Registry) drop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.links[:0]
	for _, l := range r.links {
		if l.ID != id {
			kept = append(kept, l)
		}
	}
	r.links = kept
}

func (r *Registry) upsertLocked(link Link) {
	for i := range r.links {
		if r.links[i].ID == link.ID {
			r.links[i] = link
			return
		}
	}
	r.links = append(r.links, link)
}
