package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

// CostStore implements domain.CostSampleStore using PostgreSQL.
type CostStore struct {
	pool *pgxpool.Pool
}

// NewCostStore creates a new CostStore backed by the given pool.
func NewCostStore(pool *pgxpool.Pool) *CostStore {
	return &CostStore{pool: pool}
}

// Insert appends one realized cost sample.
func (s *CostStore) Insert(ctx context.Context, c domain.TransactionCost) error {
	const query = `
		INSERT INTO cost_samples (
			venue, symbol, size, mode, actual_cost, expected_cost,
			slippage, fees, latency_ms, success, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, query,
		c.Venue, c.Symbol, c.Size, string(c.Mode), c.ActualCost, c.ExpectedCost,
		c.Slippage, c.Fees, c.LatencyMs, c.Success, c.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert cost sample %s/%s: %w", c.Venue, c.Symbol, err)
	}
	return nil
}

// ListBefore returns samples recorded before the cutoff, oldest first.
func (s *CostStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TransactionCost, error) {
	const query = `
		SELECT venue, symbol, size, mode, actual_cost, expected_cost,
		       slippage, fees, latency_ms, success, recorded_at
		FROM cost_samples WHERE recorded_at < $1 ORDER BY recorded_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list cost samples: %w", err)
	}
	defer rows.Close()

	var out []domain.TransactionCost
	for rows.Next() {
		var c domain.TransactionCost
		var mode string
		if err := rows.Scan(
			&c.Venue, &c.Symbol, &c.Size, &mode, &c.ActualCost, &c.ExpectedCost,
			&c.Slippage, &c.Fees, &c.LatencyMs, &c.Success, &c.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan cost sample: %w", err)
		}
		c.Mode = domain.ExecutionMode(mode)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: cost sample rows: %w", err)
	}
	return out, nil
}

// DeleteBefore removes samples recorded before the cutoff once archived.
func (s *CostStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cost_samples WHERE recorded_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete cost samples: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.CostSampleStore = (*CostStore)(nil)
