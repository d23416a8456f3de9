package calls

import (
	"context"
	"strings"
	"sync"
	"time"

	"agent-console/internal/backend"
	"agent-console/internal/notify"
	"agent-console/pkg/logger"
)

// CallLogger persists finished calls. *backend.Client implements it.
type CallLogger interface {
	LogCall(ctx context.Context, in backend.CallLogRequest) (backend.CallLogResponse, error)
}

type RecorderOptions struct {
	Notifier notify.Notifier
	// OnSubmitted runs after the backend accepted a call log.
	OnSubmitted func(ctx context.Context, s Submission)
	Now         func() time.Time
}

// Recorder owns the outcome draft of the controller's call and submits it.
type Recorder struct {
	ctrl        *Controller
	api         CallLogger
	notifier    notify.Notifier
	onSubmitted func(ctx context.Context, s Submission)
	now         func() time.Time

	mu         sync.Mutex
	draft      Draft
	submitting bool
}

// NewRecorder attaches a recorder to ctrl: the draft is cleared before a call
// becomes visible and receives the duration when it ends.
func NewRecorder(ctrl *Controller, api CallLogger, opts RecorderOptions) *Recorder {
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	r := &Recorder{
		ctrl:        ctrl,
		api:         api,
		notifier:    opts.Notifier,
		onSubmitted: opts.OnSubmitted,
		now:         opts.Now,
	}
	ctrl.Observe(r)
	return r
}

// PrepareCall drops the previous draft. The controller calls it with its own
// lock held; r.mu is never held while calling into the controller.
func (r *Recorder) PrepareCall(Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.draft = Draft{}
}

func (r *Recorder) CallStarted(context.Context, Session) {}

func (r *Recorder) CallEnded(_ context.Context, s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.draft.DurationSeconds = s.DurationSeconds
}

func (r *Recorder) Draft() Draft {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.draft
}

func (r *Recorder) SetOutcome(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.draft.Outcome = strings.TrimSpace(outcome)
}

func (r *Recorder) SetNotes(notes string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.draft.Notes = notes
}

// Discard drops the draft and the finished call without logging it.
func (r *Recorder) Discard(ctx context.Context) {
	r.mu.Lock()
	r.draft = Draft{}
	r.mu.Unlock()
	r.ctrl.Reset()
	logger.From(ctx).Info("call outcome discarded")
}

// Submit posts the draft for the finished call. A missing outcome fails with
// ErrMissingOutcome before any request. On a transport failure the draft is
// kept for a retry, one notification is emitted and the transport error is
// returned.
func (r *Recorder) Submit(ctx context.Context) (Submission, error) {
	call := r.ctrl.Session()

	r.mu.Lock()
	draft := r.draft
	var verr error
	switch {
	case draft.Outcome == "":
		verr = ErrMissingOutcome
	case call.Status != StatusEnded:
		verr = ErrNoFinishedCall
	case r.submitting:
		verr = ErrSubmitInFlight
	}
	if verr != nil {
		r.mu.Unlock()
		r.notifier.Notify(ctx, notify.Error("Ergebnis nicht gespeichert", validationHint(verr)))
		return Submission{}, verr
	}
	r.submitting = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.submitting = false
		r.mu.Unlock()
	}()

	log := logger.From(ctx).With("call_id", call.ID)
	resp, err := r.api.LogCall(ctx, backend.CallLogRequest{
		CustomerID:  optionalID(call.CustomerID),
		ContactID:   optionalID(call.ContactID),
		PhoneNumber: call.PhoneNumber,
		Duration:    draft.DurationSeconds,
		Outcome:     draft.Outcome,
		Notes:       draft.Notes,
		CampaignID:  optionalID(call.CampaignID),
	})
	if err != nil {
		log.Warn("call log submit failed", "err", err)
		r.notifier.Notify(ctx, notify.Error("Speichern fehlgeschlagen", "Das Ergebnis bleibt erhalten. Bitte Netzwerk prüfen und erneut speichern."))
		return Submission{}, err
	}

	sub := Submission{
		LogID:           resp.ID.String(),
		Call:            call,
		Outcome:         draft.Outcome,
		Notes:           draft.Notes,
		DurationSeconds: draft.DurationSeconds,
		SubmittedAt:     r.now().UTC(),
	}

	r.mu.Lock()
	r.draft = Draft{}
	r.mu.Unlock()
	r.ctrl.Reset()

	log.Info("call outcome recorded", "outcome", sub.Outcome, "duration_seconds", sub.DurationSeconds, "log_id", sub.LogID)
	r.notifier.Notify(ctx, notify.Success("Anruf gespeichert", sub.Outcome+", "+FormatClock(sub.DurationSeconds)))
	if r.onSubmitted != nil {
		r.onSubmitted(ctx, sub)
	}
	return sub, nil
}

func optionalID(id string) *backend.FlexID {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	v := backend.FlexID(id)
	return &v
}

func validationHint(err error) string {
	switch err {
	case ErrMissingOutcome:
		return "Bitte ein Ergebnis auswählen."
	case ErrNoFinishedCall:
		return "Es gibt keinen beendeten Anruf."
	case ErrSubmitInFlight:
		return "Das Ergebnis wird bereits gespeichert."
	default:
		return err.Error()
	}
}
