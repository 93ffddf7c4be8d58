package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

// QSnapshotter is the policy's persistence surface.
type QSnapshotter interface {
	Snapshot() ([]domain.QEntry, float64)
	Restore(entries []domain.QEntry, epsilon float64) error
}

// PerformanceSnapshotter is the cost analyzer's persistence surface.
type PerformanceSnapshotter interface {
	Snapshot() []domain.VenuePerformance
	Restore(perf []domain.VenuePerformance)
}

// restoreLearning loads the last snapshot. A damaged snapshot is logged and
// the component starts fresh.
func restoreLearning(store domain.LearningStore, q QSnapshotter, perf PerformanceSnapshotter, logger *slog.Logger) {
	entries, epsilon, err := store.LoadQTable()
	switch {
	case err != nil:
		logger.Warn("learning: load q-table failed, starting fresh", slog.String("error", err.Error()))
	case len(entries) > 0:
		if err := q.Restore(entries, epsilon); err != nil {
			logger.Warn("learning: restore q-table failed, starting fresh", slog.String("error", err.Error()))
		} else {
			logger.Info("learning: q-table restored",
				slog.Int("entries", len(entries)),
				slog.Float64("epsilon", epsilon),
			)
		}
	}

	venues, err := store.LoadVenuePerformance()
	if err != nil {
		logger.Warn("learning: load venue performance failed, starting fresh", slog.String("error", err.Error()))
		return
	}
	if len(venues) > 0 {
		perf.Restore(venues)
		logger.Info("learning: venue performance restored", slog.Int("entries", len(venues)))
	}
}

// saveLearning writes one snapshot of both tables.
func saveLearning(store domain.LearningStore, q QSnapshotter, perf PerformanceSnapshotter) error {
	entries, epsilon := q.Snapshot()
	if err := store.SaveQTable(entries, epsilon); err != nil {
		return err
	}
	return store.SaveVenuePerformance(perf.Snapshot())
}

// runLearningSnapshots saves learned state every interval and once more on
// shutdown.
func runLearningSnapshots(ctx context.Context, store domain.LearningStore, q QSnapshotter, perf PerformanceSnapshotter, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := saveLearning(store, q, perf); err != nil {
				logger.Error("learning: final snapshot failed", slog.String("error", err.Error()))
			} else {
				logger.Info("learning: final snapshot saved")
			}
			return ctx.Err()
		case <-ticker.C:
			if err := saveLearning(store, q, perf); err != nil {
				logger.WarnContext(ctx, "learning: snapshot failed", slog.String("error", err.Error()))
			}
		}
	}
}
