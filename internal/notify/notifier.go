// Package notify pushes selected journal records to chat channels
// (Telegram, Discord). Records are filtered by kind and minimum level so
// operators only hear about fills, crosses, mismatches and failures.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Message is one notification.
type Message struct {
	Level domain.Level
	Title string
	Body  string
	At    time.Time
}

// Sender is a notification channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Notifier dispatches journal records to one or more Senders. It implements
// journal.Recorder; Record forwards only records whose kind is selected and
// whose level is at least the minimum, while NotifyAll bypasses the filter.
type Notifier struct {
	senders  []Sender
	kinds    map[string]bool
	minLevel int
	logger   *slog.Logger
}

// NewNotifier creates a Notifier for the given senders. An empty kinds list
// allows every kind; an unknown minLevel means INFO.
func NewNotifier(senders []Sender, kinds []string, minLevel string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		allowed[strings.ToLower(strings.TrimSpace(k))] = true
	}
	return &Notifier{
		senders:  senders,
		kinds:    allowed,
		minLevel: levelRank(domain.Level(strings.ToUpper(minLevel))),
		logger:   logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Name implements journal.Recorder.
func (n *Notifier) Name() string { return "notify" }

// Record implements journal.Recorder.
func (n *Notifier) Record(ctx context.Context, rec domain.Record) error {
	if !n.allowed(rec) {
		return nil
	}
	return n.dispatch(ctx, Message{Level: rec.Level, Title: title(rec), Body: body(rec), At: rec.TS})
}

// NotifyAll sends an INFO message to all senders regardless of filters.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, Message{Level: domain.LevelInfo, Title: title, Body: message})
}

func (n *Notifier) allowed(rec domain.Record) bool {
	if levelRank(rec.Level) < n.minLevel {
		return false
	}
	return len(n.kinds) == 0 || n.kinds[rec.Kind]
}

// dispatch iterates over all senders and sends the notification. Errors from
// individual senders are collected and returned as a combined error; a single
// sender failure does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, msg Message) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

func levelRank(l domain.Level) int {
	switch l {
	case domain.LevelWarn:
		return 1
	case domain.LevelError:
		return 2
	}
	return 0
}

func title(rec domain.Record) string {
	parts := []string{string(rec.Level), rec.Component}
	if rec.Kind != "" {
		parts = append(parts, rec.Kind)
	}
	if rec.Coin != "" {
		parts = append(parts, strings.ToUpper(rec.Coin))
	}
	return strings.Join(parts, " · ")
}

// body renders the message followed by one "key: value" line per field in
// key order.
func body(rec domain.Record) string {
	var b strings.Builder
	b.WriteString(rec.Message)
	keys := make([]string, 0, len(rec.Fields))
	for k := range rec.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %v", k, rec.Fields[k])
	}
	return b.String()
}
