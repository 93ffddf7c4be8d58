package domain

import "time"

// ExecutionMode is how an order is worked on a venue.
type ExecutionMode string

const (
	ModeDirect  ExecutionMode = "DIRECT"
	ModeTWAP    ExecutionMode = "TWAP"
	ModeIceberg ExecutionMode = "ICEBERG"
	ModeSplit   ExecutionMode = "SPLIT"
)

// Valid reports whether m names a known mode.
func (m ExecutionMode) Valid() bool {
	switch m {
	case ModeDirect, ModeTWAP, ModeIceberg, ModeSplit:
		return true
	}
	return false
}

// TransactionCost is one realized execution outcome. Slippage and fees are
// fractions of notional.
type TransactionCost struct {
	Venue        string        `json:"venue"`
	Symbol       string        `json:"symbol"`
	Size         float64       `json:"size"`
	Mode         ExecutionMode `json:"mode"`
	ActualCost   float64       `json:"actual_cost"`
	ExpectedCost float64       `json:"expected_cost"`
	Slippage     float64       `json:"slippage"`
	Fees         float64       `json:"fees"`
	LatencyMs    float64       `json:"latency_ms"`
	Success      bool          `json:"success"`
	Timestamp    time.Time     `json:"timestamp"`
}

// VenuePerformance holds smoothed per (venue, symbol) execution quality.
type VenuePerformance struct {
	Venue          string    `json:"venue"`
	Symbol         string    `json:"symbol"`
	AvgSlippage    float64   `json:"avg_slippage"`
	AvgFees        float64   `json:"avg_fees"`
	AvgLatencyMs   float64   `json:"avg_latency_ms"`
	SuccessRate    float64   `json:"success_rate"`
	Samples        int       `json:"samples"`
	CostEfficiency float64   `json:"cost_efficiency"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Key returns the (venue, symbol) map key.
func (p VenuePerformance) Key() string { return PerformanceKey(p.Venue, p.Symbol) }

// PerformanceKey builds the performance map key.
func PerformanceKey(venue, symbol string) string { return venue + "|" + symbol }

// CostEstimate is the expected cost of one (venue, mode) candidate.
type CostEstimate struct {
	Venue        string        `json:"venue"`
	Mode         ExecutionMode `json:"mode"`
	ExpectedCost float64       `json:"expected_cost"`
	Confidence   float64       `json:"confidence"`
	Samples      int           `json:"samples"`
}

// CostRecommendation is the TCA's cost-minimizing choice.
type CostRecommendation struct {
	CostEstimate
	Reason     string         `json:"reason"`
	Candidates []CostEstimate `json:"candidates,omitempty"`
}

// TCASummary aggregates the bounded history.
type TCASummary struct {
	Samples       int     `json:"samples"`
	TotalRecorded int64   `json:"total_recorded"`
	Venues        int     `json:"venues"`
	AvgSlippage   float64 `json:"avg_slippage"`
	AvgFees       float64 `json:"avg_fees"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	SuccessRate   float64 `json:"success_rate"`
	BestVenue     string  `json:"best_venue,omitempty"`
}
