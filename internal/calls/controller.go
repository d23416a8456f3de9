package calls

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"agent-console/internal/backend"
	"agent-console/internal/notify"
	"agent-console/pkg/logger"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Readiness gates call start. The connection coordinator implements it.
type Readiness interface {
	IsReady() bool
}

// Dialer drives the agent's softphone. Failures are logged, the call session
// still runs so the agent can record what happened.
type Dialer interface {
	Dial(ctx context.Context, callID, phoneNumber string) error
	Hangup(ctx context.Context, callID string) error
}

// ContactLookup resolves a contact's phone number when only a contact is selected.
type ContactLookup interface {
	GetContact(ctx context.Context, id string) (backend.Contact, error)
}

// Observer is told about call lifecycle changes. Callbacks run synchronously
// after the controller released its lock.
type Observer interface {
	CallStarted(ctx context.Context, s Session)
	CallEnded(ctx context.Context, s Session)
}

// Preparer is an optional Observer extension. PrepareCall runs under the
// controller's lock before a new call becomes visible, so it must not call
// back into the controller.
type Preparer interface {
	PrepareCall(s Session)
}

type ControllerOptions struct {
	Clock    clockwork.Clock
	Notifier notify.Notifier
	Dialer   Dialer
	Contacts ContactLookup
}

// Controller owns the console's single call session and its timer.
type Controller struct {
	ready    Readiness
	clock    clockwork.Clock
	notifier notify.Notifier
	dialer   Dialer
	contacts ContactLookup

	mu        sync.Mutex
	session   Session
	ticker    clockwork.Ticker
	stop      chan struct{}
	observers []Observer
}

func NewController(ready Readiness, opts ControllerOptions) *Controller {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	return &Controller{
		ready:    ready,
		clock:    opts.Clock,
		notifier: opts.Notifier,
		dialer:   opts.Dialer,
		contacts: opts.Contacts,
		session:  Session{Status: StatusIdle},
	}
}

// Observe registers o for lifecycle callbacks.
func (c *Controller) Observe(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Controller) Elapsed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.ElapsedSeconds
}

// StartCall begins a call. It fails with ErrNotReady while the branch is not
// connected and with ErrMissingTarget when neither phone number nor contact is
// given; when both apply the error matches both. A call that is active or not
// yet recorded blocks a new one with ErrCallActive. Failures change no state.
func (c *Controller) StartCall(ctx context.Context, req StartRequest) (Session, error) {
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	req.ContactID = strings.TrimSpace(req.ContactID)

	var errs []error
	if c.ready == nil || !c.ready.IsReady() {
		errs = append(errs, ErrNotReady)
	}
	if req.PhoneNumber == "" && req.ContactID == "" {
		errs = append(errs, ErrMissingTarget)
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		if errors.Is(err, ErrNotReady) {
			c.notifier.Notify(ctx, notify.Error("Nicht verbunden", "Bitte zuerst eine Filiale verbinden."))
		} else {
			c.notifier.Notify(ctx, notify.Error("Kein Ziel", "Bitte Telefonnummer eingeben oder Kontakt auswählen."))
		}
		return Session{}, err
	}

	if req.PhoneNumber == "" && c.contacts != nil {
		if ct, err := c.contacts.GetContact(ctx, req.ContactID); err != nil {
			logger.From(ctx).Warn("contact lookup failed", "contact_id", req.ContactID, "err", err)
		} else {
			req.PhoneNumber = ct.Phone
			if req.CustomerID == "" {
				req.CustomerID = ct.CustomerID.String()
			}
		}
	}

	c.mu.Lock()
	if c.session.Status != StatusIdle {
		c.mu.Unlock()
		c.notifier.Notify(ctx, notify.Error("Anruf läuft bereits", "Bitte den aktuellen Anruf beenden und das Ergebnis speichern."))
		return Session{}, ErrCallActive
	}

	s := Session{
		ID:          uuid.NewString(),
		Status:      StatusActive,
		PhoneNumber: req.PhoneNumber,
		CustomerID:  req.CustomerID,
		ContactID:   req.ContactID,
		CampaignID:  req.CampaignID,
		StartedAt:   c.clock.Now().UTC(),
	}
	for _, o := range c.observers {
		if p, ok := o.(Preparer); ok {
			p.PrepareCall(s)
		}
	}
	c.session = s
	c.ticker = c.clock.NewTicker(time.Second)
	c.stop = make(chan struct{})
	go c.tick(s.ID, c.ticker, c.stop)
	observers := append([]Observer(nil), c.observers...)
	c.mu.Unlock()

	log := logger.From(ctx).With("call_id", s.ID)
	log.Info("call started", "campaign_id", s.CampaignID)
	if c.dialer != nil && s.PhoneNumber != "" {
		if err := c.dialer.Dial(ctx, s.ID, s.PhoneNumber); err != nil {
			log.Warn("softphone dial failed", "err", err)
		}
	}
	for _, o := range observers {
		o.CallStarted(ctx, s)
	}
	return s, nil
}

func (c *Controller) tick(id string, t clockwork.Ticker, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-t.Chan():
			c.mu.Lock()
			if c.session.ID == id && c.session.Status == StatusActive {
				c.session.ElapsedSeconds++
			}
			c.mu.Unlock()
		}
	}
}

// EndCall stops the timer and freezes the duration. It returns false and does
// nothing when no call is active.
func (c *Controller) EndCall(ctx context.Context) (Session, bool) {
	c.mu.Lock()
	if c.session.Status != StatusActive {
		s := c.session
		c.mu.Unlock()
		return s, false
	}
	c.session.Status = StatusEnded
	c.session.EndedAt = c.clock.Now().UTC()
	c.session.DurationSeconds = c.session.ElapsedSeconds
	c.stopTimerLocked()
	s := c.session
	observers := append([]Observer(nil), c.observers...)
	c.mu.Unlock()

	log := logger.From(ctx).With("call_id", s.ID)
	log.Info("call ended", "duration_seconds", s.DurationSeconds)
	if c.dialer != nil {
		if err := c.dialer.Hangup(ctx, s.ID); err != nil {
			log.Warn("softphone hangup failed", "err", err)
		}
	}
	for _, o := range observers {
		o.CallEnded(ctx, s)
	}
	return s, true
}

// Reset returns to idle. The recorder calls it after a successful submit or a
// discard. An active call is stopped without hand-off.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked()
	c.session = Session{Status: StatusIdle}
}

// stopTimerLocked stops the ticker. The tick goroutine exits on its own; it
// ignores ticks for a session that is no longer active.
func (c *Controller) stopTimerLocked() {
	if c.ticker == nil {
		return
	}
	c.ticker.Stop()
	close(c.stop)
	c.ticker = nil
	c.stop = nil
}
