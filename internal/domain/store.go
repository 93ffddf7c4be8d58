package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// KV is a process-scoped keyed store. Implementations must be safe for
// concurrent use; Update is an atomic read-modify-write.
type KV[K comparable, V any] interface {
	Get(key K) (V, bool)
	Put(key K, value V)
	Delete(key K)
	Update(key K, fn func(old V, ok bool) V) V
	Range(fn func(key K, value V) bool)
	Len() int
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
}

// LegAttemptStore durably records every attempted leg.
type LegAttemptStore interface {
	Record(ctx context.Context, attempt LegAttempt) error
	ListByTransaction(ctx context.Context, txID string) ([]LegAttempt, error)
	ListBefore(ctx context.Context, before time.Time) ([]LegAttempt, error)
}

// TransactionStore keeps snapshots of transactions after each transition.
type TransactionStore interface {
	Save(ctx context.Context, tx *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	List(ctx context.Context, opts ListOpts) ([]*Transaction, error)
}

// CostSampleStore persists realized transaction cost samples.
type CostSampleStore interface {
	Insert(ctx context.Context, cost TransactionCost) error
	ListBefore(ctx context.Context, before time.Time) ([]TransactionCost, error)
}

// LearningStore snapshots learned state across restarts.
type LearningStore interface {
	SaveQTable(entries []QEntry, epsilon float64) error
	LoadQTable() ([]QEntry, float64, error)
	SaveVenuePerformance(perf []VenuePerformance) error
	LoadVenuePerformance() ([]VenuePerformance, error)
}
