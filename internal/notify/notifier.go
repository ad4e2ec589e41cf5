// Package notify delivers operator alerts to chat channels. Alerts are
// filtered by event and throttled so a burst of identical aborts (every
// trade during a rate-limit cooldown, say) produces one message.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Message is one alert.
type Message struct {
	Event string
	Title string
	Body  string
	Time  time.Time
}

// Sender is a notification channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Notifier fans alerts out to every Sender.
type Notifier struct {
	senders  []Sender
	events   map[string]bool
	throttle time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time // event -> last delivery
}

// NewNotifier creates a Notifier. Only events listed in events are
// delivered; an empty list allows all of them. An event is sent at most once
// per throttle interval; zero disables throttling.
func NewNotifier(senders []Sender, events []string, throttle time.Duration, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders:  senders,
		events:   allowed,
		throttle: throttle,
		logger:   logger.With(slog.String("component", "notifier")),
		now:      time.Now,
		last:     make(map[string]time.Time),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Notify delivers an alert for event unless it is filtered out or throttled.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	now := n.now()
	if !n.admit(event, now) {
		n.logger.DebugContext(ctx, "event throttled", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, Message{Event: event, Title: title, Body: message, Time: now})
}

// admit records a delivery of event at now if the throttle allows it.
func (n *Notifier) admit(event string, now time.Time) bool {
	if n.throttle <= 0 {
		return true
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if last, ok := n.last[event]; ok && now.Sub(last) < n.throttle {
		return false
	}
	n.last[event] = now
	return true
}

// dispatch sends msg to every sender. One failing sender does not stop the
// others.
func (n *Notifier) dispatch(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", msg.Event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", msg.Event),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}
