package domain

import "time"

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// Opposite returns the compensating side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderKind distinguishes market from limit orders.
type OrderKind string

const (
	OrderKindMarket OrderKind = "market"
	OrderKindLimit  OrderKind = "limit"
)

// Urgency tiers how aggressively an order should be worked.
type Urgency string

const (
	UrgencyLow    Urgency = "LOW"
	UrgencyMedium Urgency = "MEDIUM"
	UrgencyHigh   Urgency = "HIGH"
)

// Status is the lifecycle state shared by legs and transactions.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusExecuting  Status = "EXECUTING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusRolledBack Status = "ROLLED_BACK"
	StatusCancelled  Status = "CANCELLED"
)

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRolledBack, StatusCancelled:
		return true
	}
	return false
}

// LegSpec is the caller-supplied description of one leg.
type LegSpec struct {
	ID        string    `json:"id,omitempty"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Amount    float64   `json:"amount"`
	Price     float64   `json:"price,omitempty"`
	Venue     string    `json:"venue"`
	Kind      OrderKind `json:"kind"`
	DependsOn []string  `json:"depends_on,omitempty"`
}

// RollbackData captures the compensating order issued for a leg.
type RollbackData struct {
	OrderID      string    `json:"order_id,omitempty"`
	Side         Side      `json:"side"`
	Kind         OrderKind `json:"kind"`
	Amount       float64   `json:"amount"`
	Price        float64   `json:"price,omitempty"`
	FilledAmount float64   `json:"filled_amount"`
	Status       Status    `json:"status"`
	Error        string    `json:"error,omitempty"`
	At           time.Time `json:"at"`
}

// Leg is a single order inside a transaction.
type Leg struct {
	ID           string        `json:"id"`
	Symbol       string        `json:"symbol"`
	Side         Side          `json:"side"`
	Amount       float64       `json:"amount"`
	Price        float64       `json:"price,omitempty"`
	Venue        string        `json:"venue"`
	Kind         OrderKind     `json:"kind"`
	DependsOn    []string      `json:"depends_on,omitempty"`
	Status       Status        `json:"status"`
	Attempted    bool          `json:"attempted"`
	OrderID      string        `json:"order_id,omitempty"`
	FilledAmount float64       `json:"filled_amount"`
	AvgPrice     float64       `json:"avg_price"`
	Error        string        `json:"error,omitempty"`
	Rollback     *RollbackData `json:"rollback,omitempty"`
}

// LegAttempt is the durable audit record of one venue submission attempt,
// including compensating orders.
type LegAttempt struct {
	TransactionID string    `json:"transaction_id"`
	LegID         string    `json:"leg_id"`
	Venue         string    `json:"venue"`
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	Kind          OrderKind `json:"kind"`
	Amount        float64   `json:"amount"`
	Price         float64   `json:"price"`
	Compensation  bool      `json:"compensation"`
	OrderID       string    `json:"order_id,omitempty"`
	FilledAmount  float64   `json:"filled_amount"`
	AvgPrice      float64   `json:"avg_price"`
	Status        Status    `json:"status"`
	Error         string    `json:"error,omitempty"`
	AttemptedAt   time.Time `json:"attempted_at"`
	LatencyMs     int64     `json:"latency_ms"`
}
