package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

// Enqueuer accepts execution requests for asynchronous processing.
type Enqueuer interface {
	Enqueue(req domain.ExecutionRequest) bool
}

// RequestIntake feeds execution requests appended to the request stream into
// the executor queue. Entries published before start are skipped.
type RequestIntake struct {
	bus      domain.SignalBus
	queue    Enqueuer
	interval time.Duration
	batch    int
	logger   *slog.Logger

	lastID string
}

// NewRequestIntake creates a RequestIntake polling every interval.
func NewRequestIntake(bus domain.SignalBus, queue Enqueuer, interval time.Duration, logger *slog.Logger) *RequestIntake {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return &RequestIntake{
		bus:      bus,
		queue:    queue,
		interval: interval,
		batch:    64,
		logger:   logger.With(slog.String("component", "request_intake")),
		lastID:   fmt.Sprintf("%d-0", time.Now().UnixMilli()),
	}
}

// Poll drains available entries once. It stops at the first entry the queue
// refuses so that entry is retried on the next poll.
func (in *RequestIntake) Poll(ctx context.Context) (int, error) {
	msgs, err := in.bus.StreamRead(ctx, domain.StreamRequests, in.lastID, in.batch)
	if err != nil {
		return 0, err
	}
	accepted := 0
	for _, msg := range msgs {
		var req domain.ExecutionRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			in.logger.WarnContext(ctx, "skipping malformed request",
				slog.String("entry_id", msg.ID),
				slog.String("error", err.Error()),
			)
			in.lastID = msg.ID
			continue
		}
		if req.ID == "" {
			req.ID = msg.ID
		}
		if !in.queue.Enqueue(req) {
			in.logger.WarnContext(ctx, "executor queue full, pausing intake",
				slog.String("entry_id", msg.ID),
			)
			break
		}
		in.lastID = msg.ID
		accepted++
	}
	return accepted, nil
}

// Run polls until ctx is cancelled.
func (in *RequestIntake) Run(ctx context.Context) error {
	in.logger.Info("request intake started", slog.String("stream", domain.StreamRequests))
	ticker := time.NewTicker(in.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := in.Poll(ctx); err != nil && ctx.Err() == nil {
				in.logger.WarnContext(ctx, "request intake poll failed", slog.String("error", err.Error()))
			}
		}
	}
}
