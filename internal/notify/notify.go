// Package notify delivers reminder messages to users over pluggable
// channels. A reminder names its channel by tag; the registry routes to
// the matching backend or to the configured default.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"taskdav/internal/model"
)

// Notification is one message addressed to one user.
type Notification struct {
	User  model.User
	Title string
	Body  string
}

// Notifier is a delivery backend.
type Notifier interface {
	// Name returns the channel tag the backend serves.
	Name() string
	// Send delivers the notification.
	Send(ctx context.Context, n Notification) error
}

// Registry routes notifications to registered backends by channel tag.
type Registry struct {
	backends    map[string]Notifier
	defaultName string
	logger      *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		backends: make(map[string]Notifier),
		logger:   logger,
	}
}

// Register adds a backend. The first registered backend becomes the
// default until SetDefault overrides it.
func (r *Registry) Register(n Notifier) {
	if len(r.backends) == 0 {
		r.defaultName = n.Name()
	}
	r.backends[n.Name()] = n
}

// SetDefault selects the channel used when a reminder names none.
func (r *Registry) SetDefault(name string) error {
	if _, ok := r.backends[name]; !ok {
		return fmt.Errorf("unknown notification channel %q", name)
	}
	r.defaultName = name
	return nil
}

// Dispatch sends the notification over the named channel, or the default
// channel when the name is empty.
func (r *Registry) Dispatch(ctx context.Context, channel string, n Notification) error {
	if channel == "" {
		channel = r.defaultName
	}
	backend, ok := r.backends[channel]
	if !ok {
		return fmt.Errorf("unknown notification channel %q", channel)
	}
	if err := backend.Send(ctx, n); err != nil {
		return fmt.Errorf("send via %s: %w", channel, err)
	}
	return nil
}

// LogNotifier writes notifications to the log. It is the fallback backend
// when no real channel is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Name() string { return "log" }

func (l *LogNotifier) Send(_ context.Context, n Notification) error {
	l.logger.Info("notification",
		"user", n.User.Username,
		"title", n.Title,
		"body", n.Body)
	return nil
}
