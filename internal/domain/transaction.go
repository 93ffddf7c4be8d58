package domain

import "time"

// RiskTier buckets a transaction by notional and dependency count.
type RiskTier string

const (
	RiskTierZero    RiskTier = "ZERO"
	RiskTierMinimal RiskTier = "MINIMAL"
	RiskTierLow     RiskTier = "LOW"
	RiskTierMedium  RiskTier = "MEDIUM"
)

// RollbackStrategy selects how compensating orders are priced.
type RollbackStrategy string

const (
	RollbackImmediate RollbackStrategy = "IMMEDIATE"
	RollbackGraceful  RollbackStrategy = "GRACEFUL"
	RollbackManual    RollbackStrategy = "MANUAL"
)

// ClassifyRisk derives the risk tier from aggregate notional and the
// number of dependency edges.
func ClassifyRisk(notional float64, dependencies int) RiskTier {
	switch {
	case notional < 1_000 && dependencies == 0:
		return RiskTierZero
	case notional < 10_000 && dependencies <= 1:
		return RiskTierMinimal
	case notional < 50_000 && dependencies <= 3:
		return RiskTierLow
	default:
		return RiskTierMedium
	}
}

// StrategyFor maps a risk tier to its rollback strategy.
func StrategyFor(tier RiskTier) RollbackStrategy {
	switch tier {
	case RiskTierZero, RiskTierMinimal:
		return RollbackImmediate
	case RiskTierLow:
		return RollbackGraceful
	default:
		return RollbackManual
	}
}

// RollbackOutcome summarises a compensation round.
type RollbackOutcome string

const (
	RollbackNone    RollbackOutcome = "NONE"
	RollbackFull    RollbackOutcome = "FULL"
	RollbackPartial RollbackOutcome = "PARTIAL"
)

// RollbackReport describes what the engine did to compensate a failure.
type RollbackReport struct {
	Triggered    bool            `json:"triggered"`
	Reasons      []string        `json:"reasons,omitempty"`
	Outcome      RollbackOutcome `json:"outcome"`
	Compensated  int             `json:"compensated"`
	Failed       []string        `json:"failed,omitempty"`
	ManualReview bool            `json:"manual_review"`
	CompletedAt  time.Time       `json:"completed_at"`
}

// Transaction is a set of legs executed with all-or-compensate semantics.
// A rolled back transaction is a reporting state; compensation is best effort.
type Transaction struct {
	ID               string           `json:"id"`
	Legs             []Leg            `json:"legs"`
	Status           Status           `json:"status"`
	CreatedAt        time.Time        `json:"created_at"`
	StartedAt        *time.Time       `json:"started_at,omitempty"`
	EndedAt          *time.Time       `json:"ended_at,omitempty"`
	Notional         float64          `json:"notional"`
	ExpectedPnL      float64          `json:"expected_pnl"`
	RiskTier         RiskTier         `json:"risk_tier"`
	RollbackStrategy RollbackStrategy `json:"rollback_strategy"`
	ExecutionOrder   []string         `json:"execution_order,omitempty"`
	Rollback         *RollbackReport  `json:"rollback,omitempty"`
	Error            string           `json:"error,omitempty"`
}

// Leg returns a pointer to the leg with the given id, or nil.
func (t *Transaction) Leg(id string) *Leg {
	for i := range t.Legs {
		if t.Legs[i].ID == id {
			return &t.Legs[i]
		}
	}
	return nil
}

// DependencyCount returns the number of dependency edges.
func (t *Transaction) DependencyCount() int {
	n := 0
	for _, l := range t.Legs {
		n += len(l.DependsOn)
	}
	return n
}

// HasDependents reports whether any other leg depends on id.
func (t *Transaction) HasDependents(id string) bool {
	for _, l := range t.Legs {
		for _, d := range l.DependsOn {
			if d == id {
				return true
			}
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to callers.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	out := *t
	out.Legs = make([]Leg, len(t.Legs))
	for i, l := range t.Legs {
		l.DependsOn = append([]string(nil), l.DependsOn...)
		if l.Rollback != nil {
			rb := *l.Rollback
			l.Rollback = &rb
		}
		out.Legs[i] = l
	}
	out.ExecutionOrder = append([]string(nil), t.ExecutionOrder...)
	if t.Rollback != nil {
		rb := *t.Rollback
		rb.Reasons = append([]string(nil), t.Rollback.Reasons...)
		rb.Failed = append([]string(nil), t.Rollback.Failed...)
		out.Rollback = &rb
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		out.StartedAt = &ts
	}
	if t.EndedAt != nil {
		ts := *t.EndedAt
		out.EndedAt = &ts
	}
	return &out
}
