package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

// ExecutionMetrics records orchestrator outcomes. It satisfies the
// executor's Metrics interface.
type ExecutionMetrics struct {
	executions  metric.Int64Counter
	latency     metric.Float64Histogram
	slippage    metric.Float64Histogram
	submissions metric.Int64Counter
	attempts    metric.Int64Histogram
	vetoes      metric.Int64Counter
}

// NewExecutionMetrics registers the execution instruments on m.
func NewExecutionMetrics(m metric.Meter) (*ExecutionMetrics, error) {
	var (
		em   ExecutionMetrics
		err  error
		errs []error
	)
	em.executions, err = m.Int64Counter("smartexec.executions",
		metric.WithDescription("Completed execution requests"))
	errs = append(errs, err)
	em.latency, err = m.Float64Histogram("smartexec.execution.latency_ms",
		metric.WithDescription("Wall time of an execution request"), metric.WithUnit("ms"))
	errs = append(errs, err)
	em.slippage, err = m.Float64Histogram("smartexec.execution.slippage",
		metric.WithDescription("Realized slippage as a fraction of the reference price"))
	errs = append(errs, err)
	em.submissions, err = m.Int64Counter("smartexec.submissions",
		metric.WithDescription("Orders sent to venues"))
	errs = append(errs, err)
	em.attempts, err = m.Int64Histogram("smartexec.submission.attempts",
		metric.WithDescription("Venue calls needed per order"))
	errs = append(errs, err)
	em.vetoes, err = m.Int64Counter("smartexec.risk_vetoes",
		metric.WithDescription("Requests blocked by the slippage gate"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("telemetry: execution instruments: %w", err)
	}
	return &em, nil
}

// RecordExecution counts one finished request.
func (m *ExecutionMetrics) RecordExecution(ctx context.Context, mode domain.ExecutionMode, venue string, success bool, latency time.Duration, slippage float64) {
	attrs := metric.WithAttributes(
		attribute.String("mode", string(mode)),
		attribute.String("venue", venue),
		attribute.Bool("success", success),
	)
	m.executions.Add(ctx, 1, attrs)
	m.latency.Record(ctx, float64(latency)/float64(time.Millisecond), attrs)
	if success {
		m.slippage.Record(ctx, slippage, attrs)
	}
}

// RecordSubmission counts one order and the attempts it took.
func (m *ExecutionMetrics) RecordSubmission(ctx context.Context, venue string, attempts int, err error) {
	outcome := "placed"
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		outcome = "rate_limited"
	case err != nil:
		outcome = "rejected"
	}
	attrs := metric.WithAttributes(
		attribute.String("venue", venue),
		attribute.String("outcome", outcome),
	)
	m.submissions.Add(ctx, 1, attrs)
	m.attempts.Record(ctx, int64(attempts), attrs)
}

// RecordVeto counts one gate veto.
func (m *ExecutionMetrics) RecordVeto(ctx context.Context, symbol string, level domain.RiskLevel) {
	m.vetoes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("symbol", symbol),
		attribute.String("risk_level", string(level)),
	))
}
