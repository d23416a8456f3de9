package notify

import (
	"context"
	"log/slog"
	"time"

	"agent-console/pkg/logger"
)

// Kind is the toast category shown to the agent.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindInfo    Kind = "info"
)

// Notification is a user-facing message. Every failure path in the console
// produces exactly one of these.
type Notification struct {
	Kind        Kind      `json:"kind"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	At          time.Time `json:"at"`
}

// Notifier is fire-and-forget; implementations must not block the caller for long
// and never report errors back.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n Notification)

func (f Func) Notify(ctx context.Context, n Notification) { f(ctx, n) }

// Multi fans a notification out to several notifiers in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, x := range m {
		if x != nil {
			x.Notify(ctx, n)
		}
	}
}

// Nop drops notifications.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) {}

// LogNotifier writes notifications to the request logger (or Base when the
// context carries none).
type LogNotifier struct {
	Base *slog.Logger
}

func (l LogNotifier) Notify(ctx context.Context, n Notification) {
	log := logger.From(ctx)
	if log == slog.Default() && l.Base != nil {
		log = l.Base
	}
	level := slog.LevelInfo
	if n.Kind == KindError {
		level = slog.LevelWarn
	}
	log.Log(ctx, level, "notification", "kind", string(n.Kind), "title", n.Title, "description", n.Description)
}

func Success(title, description string) Notification {
	return Notification{Kind: KindSuccess, Title: title, Description: description, At: time.Now()}
}

func Error(title, description string) Notification {
	return Notification{Kind: KindError, Title: title, Description: description, At: time.Now()}
}

func Info(title, description string) Notification {
	return Notification{Kind: KindInfo, Title: title, Description: description, At: time.Now()}
}
