package console

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"agent-console/internal/audit"
	"agent-console/internal/backend"
	"agent-console/internal/calls"
	"agent-console/internal/connection"
	"agent-console/internal/events"
	"agent-console/internal/metrics"
	"agent-console/internal/notify"
	"agent-console/internal/telephony"
	"agent-console/pkg/logger"

	"github.com/jonboulle/clockwork"
	"github.com/patrickmn/go-cache"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

var ErrNoAgent = errors.New("console: agent id required")

// Publisher pushes events to an agent's browser tabs. *events.Hub implements it.
type Publisher interface {
	Publish(agentID string, msg events.Message)
	Notifier(agentID string) notify.Notifier
}

type Options struct {
	// API is the shared backend client; each session derives its own copy
	// authenticated with the agent's token.
	API       *backend.Client
	Confirmer connection.Confirmer
	Connect   connection.Options
	Clock     clockwork.Clock

	Publisher Publisher
	Journal   *audit.Service
	Metrics   *metrics.Metrics
	Locker    Locker

	// IdleTTL evicts sessions without requests; eviction disconnects the branch.
	IdleTTL time.Duration
	// CloseTimeout bounds the disconnect on eviction.
	CloseTimeout time.Duration

	NewSoftphone func() telephony.Softphone
	Log          *slog.Logger
}

// Manager owns one Session per agent.
type Manager struct {
	opts  Options
	cache *cache.Cache

	mu sync.Mutex
	wg sync.WaitGroup
}

func NewManager(opts Options) (*Manager, error) {
	if opts.API == nil {
		return nil, errors.New("console: backend client is required")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Locker == nil {
		opts.Locker = NewMemoryLocker()
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 12 * time.Hour
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = 30 * time.Second
	}
	if opts.NewSoftphone == nil {
		opts.NewSoftphone = func() telephony.Softphone { return telephony.NewSessionSoftphone() }
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	cleanup := opts.IdleTTL / 4
	if cleanup < time.Second {
		cleanup = time.Second
	}
	m := &Manager{opts: opts, cache: cache.New(opts.IdleTTL, cleanup)}
	m.cache.OnEvicted(m.evicted)
	return m, nil
}

// Session returns the agent's session, creating it on first use, and extends
// its idle expiry. role and token replace the stored ones when non-empty.
func (m *Manager) Session(ctx context.Context, agentID, role, token string) (*Session, error) {
	if agentID == "" {
		return nil, ErrNoAgent
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.cache.Get(agentID); ok {
		s := v.(*Session)
		if !s.Closed() {
			s.touch(role, token)
			m.cache.SetDefault(agentID, s)
			return s, nil
		}
	}
	// evict expired entries first so their links are torn down
	m.cache.DeleteExpired()

	s := m.build(agentID)
	s.touch(role, token)
	m.cache.SetDefault(agentID, s)
	m.opts.Metrics.SetActiveSessions(m.cache.ItemCount())
	logger.From(ctx).Info("console session created", "agent_id", agentID)
	return s, nil
}

// Lookup returns an existing session without creating or touching it.
func (m *Manager) Lookup(agentID string) (*Session, bool) {
	v, ok := m.cache.Get(agentID)
	if !ok {
		return nil, false
	}
	s := v.(*Session)
	return s, !s.Closed()
}

// Remove closes and forgets the agent's session.
func (m *Manager) Remove(agentID string) {
	m.cache.Delete(agentID)
}

func (m *Manager) Len() int { return m.cache.ItemCount() }

func (m *Manager) sessions() []*Session {
	items := m.cache.Items()
	out := make([]*Session, 0, len(items))
	for _, it := range items {
		out = append(out, it.Object.(*Session))
	}
	return out
}

// ReconcileAll refreshes every ready session against the backend.
func (m *Manager) ReconcileAll(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(8)
	for _, s := range m.sessions() {
		if s.Closed() || s.coord.State() != connection.StateReady {
			continue
		}
		s := s
		g.Go(func() error {
			if err := s.Refresh(ctx); err != nil {
				logger.From(ctx).Warn("session reconcile failed", "agent_id", s.AgentID, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// StartReconciler schedules ReconcileAll on a cron spec such as "@every 30s".
// The caller stops the returned cron on shutdown.
func (m *Manager) StartReconciler(spec string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx := logger.With(context.Background(), m.opts.Log)
		m.ReconcileAll(ctx)
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	m.opts.Log.Info("session reconciler started", "schedule", spec)
	return c, nil
}

// Close evicts every session, which disconnects them, and waits.
func (m *Manager) Close() {
	m.cache.DeleteExpired()
	for k := range m.cache.Items() {
		m.cache.Delete(k)
	}
	m.wg.Wait()
}

func (m *Manager) evicted(agentID string, v interface{}) {
	s := v.(*Session)
	s.retired.Store(true)
	m.opts.Metrics.SetActiveSessions(m.cache.ItemCount())

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(logger.With(context.Background(), m.opts.Log), m.opts.CloseTimeout)
		defer cancel()
		s.Close(ctx)
		m.opts.Log.Info("console session closed", "agent_id", agentID)
	}()
}

func (m *Manager) build(agentID string) *Session {
	s := &Session{
		AgentID: agentID,
		tokens:  &tokenBox{},
		journal: m.opts.Journal,
		metrics: m.opts.Metrics,
		locker:  m.opts.Locker,
		lockTTL: 2 * m.connectTimeout(),
	}

	notifiers := notify.Multi{notify.LogNotifier{Base: m.opts.Log}}
	if m.opts.Publisher != nil {
		notifiers = append(notifiers, m.opts.Publisher.Notifier(agentID))
	}
	s.notifier = notifiers

	api := m.opts.API.WithTokens(s.tokens).WithSessionExpired(func(ctx context.Context) {
		logger.From(ctx).Warn("agent session expired", "agent_id", agentID)
		m.publish(agentID, events.Message{Type: events.TypeSessionExpired})
	})

	copts := m.opts.Connect
	copts.OnChange = func(snap connection.Snapshot) {
		m.publish(agentID, events.Message{Type: events.TypeSnapshot, Data: snap})
	}
	s.coord = connection.NewCoordinator(connection.NewRegistry(api, m.opts.Confirmer), s.notifier, copts)
	s.ctrl = calls.NewController(s.coord, calls.ControllerOptions{
		Clock:    m.opts.Clock,
		Notifier: s.notifier,
		Dialer:   m.opts.NewSoftphone(),
		Contacts: api,
	})
	s.rec = calls.NewRecorder(s.ctrl, api, calls.RecorderOptions{
		Notifier:    s.notifier,
		OnSubmitted: s.submitted,
	})
	s.ctrl.Observe(s)
	s.ctrl.Observe(callPublisher{m: m, agentID: agentID})
	return s
}

func (m *Manager) connectTimeout() time.Duration {
	if m.opts.Connect.Timeout > 0 {
		return m.opts.Connect.Timeout
	}
	return 15 * time.Second
}

func (m *Manager) publish(agentID string, msg events.Message) {
	if m.opts.Publisher != nil {
		m.opts.Publisher.Publish(agentID, msg)
	}
}

// callPublisher pushes call lifecycle changes to the browser.
type callPublisher struct {
	m       *Manager
	agentID string
}

func (p callPublisher) CallStarted(_ context.Context, s calls.Session) {
	p.m.publish(p.agentID, events.Message{Type: events.TypeCall, Data: s})
}

func (p callPublisher) CallEnded(_ context.Context, s calls.Session) {
	p.m.publish(p.agentID, events.Message{Type: events.TypeCall, Data: s})
}
