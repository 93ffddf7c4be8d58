package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

// TransactionStore keeps the latest snapshot of each transaction as JSONB,
// with status and risk tier lifted into columns for filtering.
type TransactionStore struct {
	pool *pgxpool.Pool
}

// NewTransactionStore creates a new TransactionStore backed by the given pool.
func NewTransactionStore(pool *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

// Save upserts the snapshot of tx.
func (s *TransactionStore) Save(ctx context.Context, tx *domain.Transaction) error {
	snapshot, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("postgres: marshal transaction %s: %w", tx.ID, err)
	}

	const query = `
		INSERT INTO transactions (id, status, risk_tier, notional, snapshot, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			risk_tier = EXCLUDED.risk_tier,
			notional = EXCLUDED.notional,
			snapshot = EXCLUDED.snapshot,
			updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query,
		tx.ID, string(tx.Status), string(tx.RiskTier), tx.Notional, snapshot, tx.CreatedAt,
	); err != nil {
		return fmt.Errorf("postgres: save transaction %s: %w", tx.ID, err)
	}
	return nil
}

// Get returns the stored snapshot of id.
func (s *TransactionStore) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	var snapshot []byte
	err := s.pool.QueryRow(ctx, `SELECT snapshot FROM transactions WHERE id = $1`, id).Scan(&snapshot)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get transaction %s: %w", id, err)
	}
	var tx domain.Transaction
	if err := json.Unmarshal(snapshot, &tx); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal transaction %s: %w", id, err)
	}
	return &tx, nil
}

// List returns snapshots newest first.
func (s *TransactionStore) List(ctx context.Context, opts domain.ListOpts) ([]*domain.Transaction, error) {
	query, args := listQuery(`SELECT snapshot FROM transactions WHERE 1=1`, "created_at", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		var snapshot []byte
		if err := rows.Scan(&snapshot); err != nil {
			return nil, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		tx := &domain.Transaction{}
		if err := json.Unmarshal(snapshot, tx); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal transaction: %w", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: transaction rows: %w", err)
	}
	return out, nil
}

var _ domain.TransactionStore = (*TransactionStore)(nil)
