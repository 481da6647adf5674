// Package notify fans operator alerts out to chat webhooks. Alerts are
// filtered by event type and can be deduplicated by key so a listing that
// stays inconsistent across refreshes alerts once per window.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Event types.
const (
	EventMismatch  = "verification_mismatch"
	EventAnomaly   = "replay_anomaly"
	EventDegraded  = "degraded"
	EventExport    = "snapshot_export"
	EventRecovered = "recovered"
)

// Sender delivers one alert to a channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches alerts to every sender.
type Notifier struct {
	senders []Sender
	events  map[string]bool // empty means all
	dedup   *Dedup
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Only the listed event types are forwarded;
// an empty list forwards everything. Keys passed to NotifyOnce are
// suppressed for dedupTTL after their first alert.
func NewNotifier(senders []Sender, events []string, dedupTTL time.Duration, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		dedup:   NewDedup(dedupTTL),
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return n != nil && len(n.senders) > 0 }

// Notify forwards an alert if its event type is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyOnce is Notify suppressed for keys alerted within the dedup window.
func (n *Notifier) NotifyOnce(ctx context.Context, event, key, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	if n.dedup.Seen(event + ":" + key) {
		return nil
	}
	return n.Notify(ctx, event, title, message)
}

// Sweep drops expired dedup keys.
func (n *Notifier) Sweep() {
	if n != nil {
		n.dedup.Cleanup()
	}
}

func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}
