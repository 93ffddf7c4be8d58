// Package slippage implements the pre-trade slippage and risk gate and the
// protection registry that keeps re-evaluating open intents.
package slippage

import "time"

// Model holds the weights of the expected-slippage sum and the impact
// coefficients of the square-root impact model.
type Model struct {
	Base             float64 `toml:"base" json:"base"`
	SizeWeight       float64 `toml:"size_weight" json:"size_weight"`
	TimeWeight       float64 `toml:"time_weight" json:"time_weight"`
	VolatilityWeight float64 `toml:"volatility_weight" json:"volatility_weight"`
	LiquidityWeight  float64 `toml:"liquidity_weight" json:"liquidity_weight"`
	SpreadWeight     float64 `toml:"spread_weight" json:"spread_weight"`
	PermanentImpact  float64 `toml:"permanent_impact" json:"permanent_impact"`
	TemporaryImpact  float64 `toml:"temporary_impact" json:"temporary_impact"`
}

// DefaultModel returns the model used when no per-symbol model is set.
func DefaultModel() Model {
	return Model{
		Base:             0.0005,
		SizeWeight:       0.1,
		TimeWeight:       0.0001,
		VolatilityWeight: 0.05,
		LiquidityWeight:  0.005,
		SpreadWeight:     1.0,
		PermanentImpact:  0.1,
		TemporaryImpact:  0.3,
	}
}

// Config tunes thresholds of the gate. MaxSlippage, MaxImpact and
// FallbackSlippage are fractions; utilization thresholds are percentages.
type Config struct {
	MaxSlippage       float64
	MaxImpact         float64
	FallbackSlippage  float64
	FallbackScore     float64
	DefaultVolatility float64
	UtilizationScale  float64
	DelayUtilization  float64
	DelayDuration     time.Duration
	ReduceFraction    float64
	SplitFraction     float64
}

// DefaultConfig returns the reference thresholds.
func DefaultConfig() Config {
	return Config{
		MaxSlippage:       0.005,
		MaxImpact:         0.01,
		FallbackSlippage:  0.002,
		FallbackScore:     0.3,
		DefaultVolatility: 0.02,
		UtilizationScale:  50,
		DelayUtilization:  25,
		DelayDuration:     60 * time.Second,
		ReduceFraction:    0.10,
		SplitFraction:     0.05,
	}
}

// Option overrides per-call thresholds.
type Option func(*options)

type options struct {
	maxSlippage float64
	maxImpact   float64
}

// WithMaxSlippage overrides the slippage cap. Non-positive values are ignored.
func WithMaxSlippage(v float64) Option {
	return func(o *options) {
		if v > 0 {
			o.maxSlippage = v
		}
	}
}

// WithMaxImpact overrides the impact cap. Non-positive values are ignored.
func WithMaxImpact(v float64) Option {
	return func(o *options) {
		if v > 0 {
			o.maxImpact = v
		}
	}
}
