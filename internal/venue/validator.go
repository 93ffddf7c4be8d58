package venue

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

// ValidatorConfig tunes the consensus checks. Deviations are fractions.
type ValidatorConfig struct {
	MaxDeviation       float64
	SingleVenueScore   float64
	EmergencyDeviation float64
}

// DefaultValidatorConfig returns the reference tolerances.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxDeviation:       0.02,
		SingleVenueScore:   0.8,
		EmergencyDeviation: 0.05,
	}
}

// TickerSource quotes a symbol on a venue.
type TickerSource interface {
	VenueTicker(ctx context.Context, venue, symbol string) (domain.Ticker, error)
}

// ConsensusValidator scores agreement between venue mid prices.
type ConsensusValidator struct {
	registry *Registry
	tickers  TickerSource
	cfg      ValidatorConfig
}

// NewConsensusValidator creates a validator over the registry's venues.
func NewConsensusValidator(registry *Registry, tickers TickerSource, cfg ValidatorConfig) *ConsensusValidator {
	return &ConsensusValidator{registry: registry, tickers: tickers, cfg: cfg}
}

// CrossValidatePrices scores the share of venues whose mid lies within
// MaxDeviation of the median mid.
func (v *ConsensusValidator) CrossValidatePrices(ctx context.Context, symbol string) (domain.PriceValidation, error) {
	res := domain.PriceValidation{Symbol: symbol, Prices: make(map[string]float64)}
	for _, name := range v.registry.VenuesFor(symbol) {
		t, err := v.tickers.VenueTicker(ctx, name, symbol)
		if err != nil || t.Mid() <= 0 {
			continue
		}
		res.Prices[name] = t.Mid()
	}

	switch len(res.Prices) {
	case 0:
		return res, fmt.Errorf("venue: validate %s: %w", symbol, domain.ErrDataUnavailable)
	case 1:
		res.ValidationScore = v.cfg.SingleVenueScore
		res.Reason = "single venue"
		return res, nil
	}

	mids := make([]float64, 0, len(res.Prices))
	for _, p := range res.Prices {
		mids = append(mids, p)
	}
	med := median(mids)
	within := 0
	for _, p := range mids {
		if math.Abs(p-med)/med <= v.cfg.MaxDeviation {
			within++
		}
	}
	res.ValidationScore = float64(within) / float64(len(mids))
	if within < len(mids) {
		res.Reason = fmt.Sprintf("%d of %d venues deviate from median %.8g", len(mids)-within, len(mids), med)
	}
	return res, nil
}

// EmergencyValidation checks that price is within EmergencyDeviation of the
// venue's live mid.
func (v *ConsensusValidator) EmergencyValidation(ctx context.Context, symbol string, price float64, venue string) (bool, error) {
	if price <= 0 {
		return false, nil
	}
	t, err := v.tickers.VenueTicker(ctx, venue, symbol)
	if err != nil {
		return false, fmt.Errorf("venue: emergency validation %s on %s: %w", symbol, venue, err)
	}
	mid := t.Mid()
	if mid <= 0 {
		return false, nil
	}
	return math.Abs(price-mid)/mid <= v.cfg.EmergencyDeviation, nil
}

func median(xs []float64) float64 {
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

var _ domain.MarketValidator = (*ConsensusValidator)(nil)
