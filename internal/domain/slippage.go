package domain

import "time"

// RiskLevel is the discrete risk tier of a slippage analysis.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Rank orders risk levels, LOW lowest.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	}
	return 0
}

// RecommendedAction is the gate's verdict.
type RecommendedAction string

const (
	ActionProceed    RecommendedAction = "PROCEED"
	ActionReduceSize RecommendedAction = "REDUCE_SIZE"
	ActionSplitOrder RecommendedAction = "SPLIT_ORDER"
	ActionDelay      RecommendedAction = "DELAY"
	ActionCancel     RecommendedAction = "CANCEL"
)

// SlippageBreakdown: Absolute is in price units, Relative in percent and the
// remaining fields are fractions of price.
type SlippageBreakdown struct {
	Absolute   float64 `json:"absolute"`
	Relative   float64 `json:"relative_pct"`
	Expected   float64 `json:"expected"`
	Actual     float64 `json:"actual"`
	MaxAllowed float64 `json:"max_allowed"`
}

// ImpactBreakdown holds market impact components as fractions of price.
type ImpactBreakdown struct {
	Immediate float64 `json:"immediate"`
	Permanent float64 `json:"permanent"`
	Temporary float64 `json:"temporary"`
	Total     float64 `json:"total"`
	MaxImpact float64 `json:"max_impact"`
}

// LiquiditySnapshot describes the consumable side of the book.
// Utilization and Spread are percentages.
type LiquiditySnapshot struct {
	AvailableDepth    float64 `json:"available_depth"`
	AvailableNotional float64 `json:"available_notional"`
	Utilization       float64 `json:"utilization_pct"`
	BookDepth         int     `json:"book_depth"`
	Spread            float64 `json:"spread_pct"`
}

// RiskVerdict is the scored risk of an intent.
type RiskVerdict struct {
	Level   RiskLevel `json:"level"`
	Score   float64   `json:"score"`
	Factors []string  `json:"factors,omitempty"`
}

// Recommendation is the gate's actionable output.
type Recommendation struct {
	Action         RecommendedAction `json:"action"`
	Reason         string            `json:"reason"`
	SuggestedSize  float64           `json:"suggested_size,omitempty"`
	SuggestedDelay time.Duration     `json:"suggested_delay,omitempty"`
}

// SlippageAnalysis is recomputed on demand; it is never patched in place.
type SlippageAnalysis struct {
	Symbol         string            `json:"symbol"`
	Side           Side              `json:"side"`
	Size           float64           `json:"size"`
	CurrentPrice   float64           `json:"current_price"`
	ExpectedPrice  float64           `json:"expected_price"`
	Slippage       SlippageBreakdown `json:"slippage"`
	Impact         ImpactBreakdown   `json:"impact"`
	Liquidity      LiquiditySnapshot `json:"liquidity"`
	Risk           RiskVerdict       `json:"risk"`
	Recommendation Recommendation    `json:"recommendation"`
	Fallback       bool              `json:"fallback"`
	AnalyzedAt     time.Time         `json:"analyzed_at"`
}

// ProtectionStatus is the lifecycle of a protection.
type ProtectionStatus string

const (
	ProtectionActive    ProtectionStatus = "ACTIVE"
	ProtectionTriggered ProtectionStatus = "TRIGGERED"
	ProtectionExpired   ProtectionStatus = "EXPIRED"
	ProtectionCancelled ProtectionStatus = "CANCELLED"
)

// ProtectionActionType enumerates the entries of a protection's action log.
type ProtectionActionType string

const (
	ProtectionAlert         ProtectionActionType = "ALERT"
	ProtectionReduceSize    ProtectionActionType = "REDUCE_SIZE"
	ProtectionSplitOrder    ProtectionActionType = "SPLIT_ORDER"
	ProtectionDelay         ProtectionActionType = "DELAY"
	ProtectionCancel        ProtectionActionType = "CANCEL"
	ProtectionEmergencyStop ProtectionActionType = "EMERGENCY_STOP"
)

// ProtectionAction is immutable once Executed is set.
type ProtectionAction struct {
	ID         string               `json:"id"`
	Type       ProtectionActionType `json:"type"`
	Reason     string               `json:"reason"`
	Detail     map[string]any       `json:"detail,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	Executed   bool                 `json:"executed"`
	ExecutedAt *time.Time           `json:"executed_at,omitempty"`
}

// ProtectionConfig is snapshotted into every protection at creation.
type ProtectionConfig struct {
	MaxSlippage  float64       `json:"max_slippage"`
	MaxImpact    float64       `json:"max_impact"`
	ExpiresAfter time.Duration `json:"expires_after"`
}

// Protection guards one (symbol, side, size) intent.
type Protection struct {
	ID        string             `json:"id"`
	ParentID  string             `json:"parent_id,omitempty"`
	Symbol    string             `json:"symbol"`
	Side      Side               `json:"side"`
	Size      float64            `json:"size"`
	Config    ProtectionConfig   `json:"config"`
	Analysis  SlippageAnalysis   `json:"analysis"`
	Status    ProtectionStatus   `json:"status"`
	Actions   []ProtectionAction `json:"actions"`
	RecheckAt *time.Time         `json:"recheck_at,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
	ExpiresAt time.Time          `json:"expires_at"`
}

// Clone copies the protection including its action log.
func (p Protection) Clone() Protection {
	out := p
	out.Actions = make([]ProtectionAction, len(p.Actions))
	copy(out.Actions, p.Actions)
	out.Analysis.Risk.Factors = append([]string(nil), p.Analysis.Risk.Factors...)
	if p.RecheckAt != nil {
		ts := *p.RecheckAt
		out.RecheckAt = &ts
	}
	return out
}
