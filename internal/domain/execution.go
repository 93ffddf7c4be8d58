package domain

import "time"

// ExecutionRequest is the entry point payload of the orchestrator.
// MaxSlippage is a fraction; zero uses the configured default.
type ExecutionRequest struct {
	ID            string        `json:"id,omitempty"`
	Symbol        string        `json:"symbol"`
	Side          Side          `json:"side"`
	Amount        float64       `json:"amount"`
	Urgency       Urgency       `json:"urgency,omitempty"`
	MaxSlippage   float64       `json:"max_slippage,omitempty"`
	MinLiquidity  float64       `json:"min_liquidity,omitempty"`
	ExecutionMode ExecutionMode `json:"execution_mode,omitempty"`
	TargetPrice   float64       `json:"target_price,omitempty"`
	Kind          OrderKind     `json:"kind,omitempty"`
	Venue         string        `json:"venue,omitempty"`
}

// ExecutionResult aggregates every slice of one request.
type ExecutionResult struct {
	RequestID      string        `json:"request_id,omitempty"`
	Success        bool          `json:"success"`
	OrderIDs       []string      `json:"order_ids"`
	FilledAmount   float64       `json:"filled_amount"`
	AvgPrice       float64       `json:"avg_price"`
	ActualSlippage float64       `json:"actual_slippage"`
	ExecutionTime  time.Duration `json:"execution_time"`
	Venues         []string      `json:"venues"`
	Cost           float64       `json:"cost"`
	Mode           ExecutionMode `json:"mode"`
	Source         string        `json:"source"`
	Errors         []string      `json:"errors,omitempty"`
}

// ExecutionStats is the aggregate view exposed to operators.
type ExecutionStats struct {
	Venues     []VenuePerformance `json:"venues"`
	Policy     PolicySummary      `json:"policy"`
	TCA        TCASummary         `json:"tca"`
	Executions int64              `json:"executions"`
	Failures   int64              `json:"failures"`
	Vetoes     int64              `json:"vetoes"`
	Active     int                `json:"active_transactions"`
}
