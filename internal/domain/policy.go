package domain

import (
	"strconv"
	"time"
)

// MarketState is the continuous input that the policy discretizes.
type MarketState struct {
	Symbol     string    `json:"symbol"`
	Size       float64   `json:"size"`
	Urgency    Urgency   `json:"urgency"`
	Volatility float64   `json:"volatility"`
	Liquidity  float64   `json:"liquidity"`
	At         time.Time `json:"at"`
}

// PolicyAction is one executable choice offered to the policy.
type PolicyAction struct {
	Mode     ExecutionMode `json:"mode"`
	Venue    string        `json:"venue"`
	Slices   int           `json:"slices,omitempty"`
	Interval time.Duration `json:"interval,omitempty"`
	PeakSize float64       `json:"peak_size,omitempty"`
}

// Key is the action half of a Q-table key.
func (a PolicyAction) Key() string {
	switch a.Mode {
	case ModeTWAP:
		return string(a.Mode) + ":" + a.Venue + ":" + strconv.Itoa(a.Slices) + ":" + strconv.FormatInt(a.Interval.Milliseconds(), 10)
	case ModeIceberg:
		return string(a.Mode) + ":" + a.Venue + ":" + strconv.FormatFloat(a.PeakSize, 'f', -1, 64)
	default:
		return string(a.Mode) + ":" + a.Venue
	}
}

// ExecutionOutcome feeds reward normalization. Cost, slippage and impact are
// fractions of notional.
type ExecutionOutcome struct {
	Cost      float64 `json:"cost"`
	Slippage  float64 `json:"slippage"`
	LatencyMs float64 `json:"latency_ms"`
	Success   bool    `json:"success"`
	Impact    float64 `json:"impact"`
}

// QEntry is one learned (state, action) value.
type QEntry struct {
	Key       string    `json:"key"`
	Value     float64   `json:"value"`
	Visits    int       `json:"visits"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Exploration phases reported by the policy summary.
const (
	PhaseExploring  = "exploring"
	PhaseLearning   = "learning"
	PhaseExploiting = "exploiting"
)

// PolicySummary describes the Q-table.
type PolicySummary struct {
	Entries    int     `json:"entries"`
	States     int     `json:"states"`
	Epsilon    float64 `json:"epsilon"`
	Phase      string  `json:"phase"`
	Updates    int64   `json:"updates"`
	AvgQ       float64 `json:"avg_q"`
	BestAction string  `json:"best_action,omitempty"`
	BestQ      float64 `json:"best_q"`
}
