package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

const deliverTimeout = 15 * time.Second

// Outbox implements domain.AlertSink. Emit never blocks: when the buffer is
// full the alert is counted as dropped. Run drains the buffer to the
// notifier and, when a bus is set, publishes each alert on ch:alert and the
// alert stream.
type Outbox struct {
	queue    chan domain.Alert
	notifier *Notifier
	bus      domain.SignalBus
	logger   *slog.Logger
	now      func() time.Time

	dropped   atomic.Int64
	delivered atomic.Int64
}

// NewOutbox creates an Outbox holding at most size pending alerts.
// notifier and bus may be nil.
func NewOutbox(size int, notifier *Notifier, bus domain.SignalBus, logger *slog.Logger) *Outbox {
	if size <= 0 {
		size = 256
	}
	return &Outbox{
		queue:    make(chan domain.Alert, size),
		notifier: notifier,
		bus:      bus,
		logger:   logger.With(slog.String("component", "outbox")),
		now:      time.Now,
	}
}

// Emit queues a. It returns false when the outbox is full.
func (o *Outbox) Emit(a domain.Alert) bool {
	if a.At.IsZero() {
		a.At = o.now().UTC()
	}
	select {
	case o.queue <- a:
		return true
	default:
		o.dropped.Add(1)
		o.logger.Warn("outbox full, alert dropped",
			slog.String("event", a.Event),
			slog.String("title", a.Title),
		)
		return false
	}
}

// Pending reports queued alerts.
func (o *Outbox) Pending() int { return len(o.queue) }

// Dropped reports alerts rejected because the outbox was full.
func (o *Outbox) Dropped() int64 { return o.dropped.Load() }

// Delivered reports alerts handed to every configured consumer.
func (o *Outbox) Delivered() int64 { return o.delivered.Load() }

// Run delivers queued alerts until ctx ends, then flushes what is left with
// a short deadline.
func (o *Outbox) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			o.flush()
			return nil
		case a := <-o.queue:
			o.deliver(ctx, a)
		}
	}
}

func (o *Outbox) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case a := <-o.queue:
			o.deliver(ctx, a)
		default:
			return
		}
	}
}

func (o *Outbox) deliver(ctx context.Context, a domain.Alert) {
	ctx, cancel := context.WithTimeout(ctx, deliverTimeout)
	defer cancel()

	if o.bus != nil {
		if payload, err := json.Marshal(a); err == nil {
			if err := o.bus.Publish(ctx, domain.ChannelAlerts, payload); err != nil {
				o.logger.WarnContext(ctx, "publish alert failed", slog.String("error", err.Error()))
			}
			if err := o.bus.StreamAppend(ctx, domain.StreamAlerts, payload); err != nil {
				o.logger.WarnContext(ctx, "stream alert failed", slog.String("error", err.Error()))
			}
		}
	}
	if o.notifier != nil {
		if err := o.notifier.Notify(ctx, a); err != nil {
			return
		}
	}
	o.delivered.Add(1)
}

var _ domain.AlertSink = (*Outbox)(nil)
