package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/smartexec/internal/server"
	"github.com/alanyoungcy/smartexec/internal/server/handler"
	"github.com/alanyoungcy/smartexec/internal/server/ws"
)

// FullMode runs the API server, the websocket hub and every background loop.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startExecution(ctx, g, deps)
	a.startArchiver(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// ServerMode runs the API server and the loops execution depends on. History
// archiving is left to a worker.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startExecution(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// WorkerMode runs execution and archiving without the HTTP surface. Requests
// arrive on the request stream.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	if deps.SignalBus == nil {
		a.logger.WarnContext(ctx, "worker mode without redis: no request intake, only protections and archiving run")
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startExecution(ctx, g, deps)
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// ArchiveMode exports history older than the retention window once and
// returns.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("archive mode: archiver unavailable (needs postgres and s3)")
	}
	before := time.Now().UTC().Add(-a.cfg.S3.Retention())
	a.logger.InfoContext(ctx, "starting archive run", slog.Time("before", before))
	if err := deps.Archiver.RunOnce(ctx, before); err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	a.logger.InfoContext(ctx, "archive run complete")
	return nil
}

// startExecution adds market data, protections, alert delivery, the
// executor queue, learning snapshots and, when enabled, the request intake.
func (a *App) startExecution(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		return ignoreCanceled(deps.Market.Run(ctx))
	})
	g.Go(func() error {
		return ignoreCanceled(deps.Protector.Run(ctx))
	})
	g.Go(func() error {
		return ignoreCanceled(deps.Outbox.Run(ctx))
	})
	g.Go(func() error {
		return ignoreCanceled(deps.Executor.Run(ctx))
	})

	if deps.Learning != nil {
		interval := a.cfg.Learning.SnapshotInterval.Duration
		g.Go(func() error {
			return ignoreCanceled(runLearningSnapshots(ctx, deps.Learning, deps.Policy, deps.TCA, interval, a.logger))
		})
	}

	if a.cfg.Executor.ConsumeRequests && deps.SignalBus != nil {
		intake := NewRequestIntake(deps.SignalBus, deps.Executor, 200*time.Millisecond, a.logger)
		g.Go(func() error {
			return ignoreCanceled(intake.Run(ctx))
		})
	}
}

// startArchiver adds the periodic history archiver when it is configured.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	interval := a.cfg.S3.ArchiveInterval.Duration
	retention := a.cfg.S3.Retention()
	g.Go(func() error {
		return ignoreCanceled(deps.Archiver.Run(ctx, interval, retention))
	})
}

// startHTTPServer adds the HTTP server and websocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, ws.Config{
		Mode:           a.cfg.Mode,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	}, a.logger)
	g.Go(func() error {
		return ignoreCanceled(hub.Run(ctx))
	})

	handlers := server.Handlers{
		Health:       handler.NewHealthHandler(a.cfg.Mode, healthChecks(deps), a.logger),
		Execute:      handler.NewExecuteHandler(deps.Executor, a.logger),
		Transactions: handler.NewTransactionHandler(deps.Engine, a.logger),
		Protections:  handler.NewProtectionHandler(deps.Protector, a.logger),
		Stats: handler.NewStatsHandler(deps.Executor, deps.Venues, func() map[string]any {
			return map[string]any{
				"atomic":      deps.Engine.Stats(),
				"protections": len(deps.Protector.List()),
				"alerts": map[string]any{
					"pending":   deps.Outbox.Pending(),
					"delivered": deps.Outbox.Delivered(),
					"dropped":   deps.Outbox.Dropped(),
					"senders":   deps.Notifier.Senders(),
				},
				"ws_clients": hub.ClientCount(),
			}
		}, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// healthChecks probes each configured backing service.
func healthChecks(deps *Dependencies) map[string]handler.Check {
	checks := make(map[string]handler.Check)
	if deps.Postgres != nil {
		checks["postgres"] = deps.Postgres.Ping
	}
	if deps.Redis != nil {
		checks["redis"] = deps.Redis.Ping
	}
	if deps.Blob != nil {
		checks["s3"] = deps.Blob.Health
	}
	checks["venues"] = func(context.Context) error {
		if len(deps.Venues.Names()) == 0 {
			return errors.New("no venues registered")
		}
		return nil
	}
	return checks
}

// ignoreCanceled treats a loop that stopped because its context ended as a
// clean exit so errgroup only reports real failures.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
