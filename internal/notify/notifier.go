// Package notify delivers execution alerts (protection triggers, rollbacks
// needing review, failed executions) to operator channels. Producers hand
// alerts to a bounded Outbox and never wait on delivery.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans alerts out to every Sender. Alerts are dropped when their
// event is not in the allow list (empty allows all) or their severity is
// below the minimum.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	min     domain.Severity
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. minSeverity may be empty.
func NewNotifier(senders []Sender, events []string, minSeverity domain.Severity, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		min:     minSeverity,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Senders reports the configured channel names.
func (n *Notifier) Senders() []string {
	out := make([]string, 0, len(n.senders))
	for _, s := range n.senders {
		out = append(out, s.Name())
	}
	return out
}

// Notify delivers a after filtering. A failing sender does not stop the rest;
// the combined error names each failure.
func (n *Notifier) Notify(ctx context.Context, a domain.Alert) error {
	if len(n.events) > 0 && !n.events[a.Event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", a.Event))
		return nil
	}
	if rank(a.Severity) < rank(n.min) {
		return nil
	}
	return n.dispatch(ctx, Title(a), Body(a))
}

func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

func rank(s domain.Severity) int {
	switch s {
	case domain.SeverityCritical:
		return 2
	case domain.SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Title prefixes the alert title with its severity.
func Title(a domain.Alert) string {
	title := a.Title
	if title == "" {
		title = a.Event
	}
	return fmt.Sprintf("[%s] %s", strings.ToUpper(string(a.Severity)), title)
}

// Body renders the message followed by the fields as sorted key: value lines.
func Body(a domain.Alert) string {
	var b strings.Builder
	b.WriteString(a.Message)
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %v", k, a.Fields[k])
	}
	return b.String()
}
