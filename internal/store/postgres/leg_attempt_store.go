package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

// LegAttemptStore implements domain.LegAttemptStore using PostgreSQL.
// Every leg submission and compensation attempt is a row.
type LegAttemptStore struct {
	pool *pgxpool.Pool
}

// NewLegAttemptStore creates a new LegAttemptStore backed by the given pool.
func NewLegAttemptStore(pool *pgxpool.Pool) *LegAttemptStore {
	return &LegAttemptStore{pool: pool}
}

const legAttemptColumns = `transaction_id, leg_id, venue, symbol, side, kind, amount, price,
	compensation, order_id, filled_amount, avg_price, status, error, latency_ms, attempted_at`

// Record inserts one attempt.
func (s *LegAttemptStore) Record(ctx context.Context, a domain.LegAttempt) error {
	query := `INSERT INTO leg_attempts (` + legAttemptColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := s.pool.Exec(ctx, query,
		a.TransactionID, a.LegID, a.Venue, a.Symbol,
		string(a.Side), string(a.Kind), a.Amount, a.Price,
		a.Compensation, nullable(a.OrderID), a.FilledAmount, a.AvgPrice,
		string(a.Status), nullable(a.Error), a.LatencyMs, a.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record leg attempt %s/%s: %w", a.TransactionID, a.LegID, err)
	}
	return nil
}

// ListByTransaction returns the attempts of one transaction in order.
func (s *LegAttemptStore) ListByTransaction(ctx context.Context, txID string) ([]domain.LegAttempt, error) {
	query := `SELECT ` + legAttemptColumns + ` FROM leg_attempts WHERE transaction_id = $1 ORDER BY attempted_at ASC, id ASC`
	rows, err := s.pool.Query(ctx, query, txID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list leg attempts %s: %w", txID, err)
	}
	return scanLegAttempts(rows)
}

// ListBefore returns every attempt made before the cutoff, oldest first.
func (s *LegAttemptStore) ListBefore(ctx context.Context, before time.Time) ([]domain.LegAttempt, error) {
	query := `SELECT ` + legAttemptColumns + ` FROM leg_attempts WHERE attempted_at < $1 ORDER BY attempted_at ASC, id ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list leg attempts before %s: %w", before.Format(time.RFC3339), err)
	}
	return scanLegAttempts(rows)
}

// DeleteBefore removes attempts made before the cutoff once archived.
func (s *LegAttemptStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM leg_attempts WHERE attempted_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete leg attempts: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanLegAttempts(rows pgx.Rows) ([]domain.LegAttempt, error) {
	defer rows.Close()

	var out []domain.LegAttempt
	for rows.Next() {
		var (
			a                   domain.LegAttempt
			side, kind, status  string
			orderID, errMessage *string
		)
		if err := rows.Scan(
			&a.TransactionID, &a.LegID, &a.Venue, &a.Symbol,
			&side, &kind, &a.Amount, &a.Price,
			&a.Compensation, &orderID, &a.FilledAmount, &a.AvgPrice,
			&status, &errMessage, &a.LatencyMs, &a.AttemptedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan leg attempt: %w", err)
		}
		a.Side = domain.Side(side)
		a.Kind = domain.OrderKind(kind)
		a.Status = domain.Status(status)
		if orderID != nil {
			a.OrderID = *orderID
		}
		if errMessage != nil {
			a.Error = *errMessage
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: leg attempt rows: %w", err)
	}
	return out, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ domain.LegAttemptStore = (*LegAttemptStore)(nil)
