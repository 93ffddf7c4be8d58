// Package tca learns per-venue execution quality from realized costs and
// recommends the cheapest venue and execution mode.
package tca

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

// Config tunes the analyzer.
type Config struct {
	HistorySize           int
	Alpha                 float64
	MinSamples            int
	DefaultCost           float64
	NewVenueConfidence    float64
	ReferenceSize         float64
	FullConfidenceSamples int
}

// DefaultConfig returns the reference settings.
func DefaultConfig() Config {
	return Config{
		HistorySize:           1000,
		Alpha:                 0.01,
		MinSamples:            10,
		DefaultCost:           0.001,
		NewVenueConfidence:    0.3,
		ReferenceSize:         10000,
		FullConfidenceSamples: 100,
	}
}

// ErrNoVenues is returned by Recommend when no candidate venue is given.
var ErrNoVenues = errors.New("tca: no candidate venues")

var modes = []domain.ExecutionMode{domain.ModeDirect, domain.ModeTWAP, domain.ModeIceberg}

// ModeMultiplier scales the expected cost of a mode.
func ModeMultiplier(m domain.ExecutionMode) float64 {
	switch m {
	case domain.ModeTWAP:
		return 0.8
	case domain.ModeIceberg:
		return 0.9
	}
	return 1.0
}

// Predictability discounts the confidence of modes with less certain fills.
func Predictability(m domain.ExecutionMode) float64 {
	switch m {
	case domain.ModeTWAP:
		return 0.9
	case domain.ModeIceberg:
		return 0.8
	}
	return 1.0
}

// UrgencyMultiplier scales the expected cost by urgency.
func UrgencyMultiplier(u domain.Urgency) float64 {
	switch u {
	case domain.UrgencyLow:
		return 0.9
	case domain.UrgencyHigh:
		return 1.2
	}
	return 1.0
}

// CostEfficiency is lower-is-better: total cost per unit of success.
func CostEfficiency(p domain.VenuePerformance) float64 {
	return (p.AvgSlippage + p.AvgFees) / math.Max(0.1, p.SuccessRate)
}

// Analyzer keeps a bounded cost history and smoothed venue performance.
type Analyzer struct {
	cfg    Config
	perf   domain.KV[string, domain.VenuePerformance]
	store  domain.CostSampleStore
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	history []domain.TransactionCost
	head    int
	size    int
	total   int64
}

// NewAnalyzer creates an Analyzer. store may be nil.
func NewAnalyzer(perf domain.KV[string, domain.VenuePerformance], store domain.CostSampleStore, cfg Config, logger *slog.Logger) *Analyzer {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}
	return &Analyzer{
		cfg:     cfg,
		perf:    perf,
		store:   store,
		logger:  logger.With(slog.String("component", "tca")),
		now:     time.Now,
		history: make([]domain.TransactionCost, cfg.HistorySize),
	}
}

// Record appends a realized cost and updates the venue's performance. The
// in-memory state is updated even if persisting the sample fails.
func (a *Analyzer) Record(ctx context.Context, cost domain.TransactionCost) error {
	if cost.Venue == "" || cost.Symbol == "" {
		return fmt.Errorf("tca: record: venue and symbol are required: %w", domain.ErrInvalidOrder)
	}
	if cost.Timestamp.IsZero() {
		cost.Timestamp = a.now()
	}

	a.mu.Lock()
	a.history[a.head] = cost
	a.head = (a.head + 1) % len(a.history)
	if a.size < len(a.history) {
		a.size++
	}
	a.total++
	a.mu.Unlock()

	alpha := a.cfg.Alpha
	success := 0.0
	if cost.Success {
		success = 1
	}
	perf := a.perf.Update(domain.PerformanceKey(cost.Venue, cost.Symbol), func(p domain.VenuePerformance, ok bool) domain.VenuePerformance {
		if !ok || p.Samples == 0 {
			p = domain.VenuePerformance{
				Venue:        cost.Venue,
				Symbol:       cost.Symbol,
				AvgSlippage:  cost.Slippage,
				AvgFees:      cost.Fees,
				AvgLatencyMs: cost.LatencyMs,
				SuccessRate:  success,
			}
		} else {
			p.AvgSlippage = p.AvgSlippage*(1-alpha) + cost.Slippage*alpha
			p.AvgFees = p.AvgFees*(1-alpha) + cost.Fees*alpha
			p.AvgLatencyMs = p.AvgLatencyMs*(1-alpha) + cost.LatencyMs*alpha
			p.SuccessRate = p.SuccessRate*(1-alpha) + success*alpha
		}
		p.Samples++
		p.CostEfficiency = CostEfficiency(p)
		p.UpdatedAt = cost.Timestamp
		return p
	})

	a.logger.DebugContext(ctx, "cost recorded",
		slog.String("venue", cost.Venue),
		slog.String("symbol", cost.Symbol),
		slog.String("mode", string(cost.Mode)),
		slog.Float64("slippage", cost.Slippage),
		slog.Bool("success", cost.Success),
		slog.Int("samples", perf.Samples),
	)

	if a.store == nil {
		return nil
	}
	if err := a.store.Insert(ctx, cost); err != nil {
		a.logger.WarnContext(ctx, "failed to persist cost sample",
			slog.String("venue", cost.Venue),
			slog.String("symbol", cost.Symbol),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("tca: record: %w", err)
	}
	return nil
}

// Recommend returns the (venue, mode) with the lowest expected cost.
func (a *Analyzer) Recommend(symbol string, size float64, venues []string, urgency domain.Urgency) (domain.CostRecommendation, error) {
	if len(venues) == 0 {
		return domain.CostRecommendation{}, ErrNoVenues
	}

	sizeMult := 1.0
	if a.cfg.ReferenceSize > 0 {
		sizeMult = math.Min(2, 1+size/a.cfg.ReferenceSize)
	}
	urgMult := UrgencyMultiplier(urgency)

	var candidates []domain.CostEstimate
	for _, v := range venues {
		p, ok := a.perf.Get(domain.PerformanceKey(v, symbol))
		if !ok || p.Samples < a.cfg.MinSamples {
			samples := 0
			if ok {
				samples = p.Samples
			}
			candidates = append(candidates, domain.CostEstimate{
				Venue:        v,
				Mode:         domain.ModeDirect,
				ExpectedCost: a.cfg.DefaultCost * urgMult * sizeMult,
				Confidence:   a.cfg.NewVenueConfidence,
				Samples:      samples,
			})
			continue
		}

		sampleConf := 1.0
		if a.cfg.FullConfidenceSamples > 0 {
			sampleConf = math.Min(1, float64(p.Samples)/float64(a.cfg.FullConfidenceSamples))
		}
		base := p.AvgSlippage + p.AvgFees
		for _, m := range modes {
			candidates = append(candidates, domain.CostEstimate{
				Venue:        v,
				Mode:         m,
				ExpectedCost: base * ModeMultiplier(m) * urgMult * sizeMult,
				Confidence:   sampleConf * p.SuccessRate * Predictability(m),
				Samples:      p.Samples,
			})
		}
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.ExpectedCost < best.ExpectedCost {
			best = c
		}
	}

	reason := "lowest expected cost"
	if best.Samples < a.cfg.MinSamples {
		reason = "insufficient history, default estimate"
	}
	return domain.CostRecommendation{CostEstimate: best, Reason: reason, Candidates: candidates}, nil
}

// Performance returns every venue performance row ordered by key.
func (a *Analyzer) Performance() []domain.VenuePerformance {
	out := make([]domain.VenuePerformance, 0, a.perf.Len())
	a.perf.Range(func(_ string, p domain.VenuePerformance) bool {
		out = append(out, p)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// VenuePerformance returns the row for one (venue, symbol).
func (a *Analyzer) VenuePerformance(venue, symbol string) (domain.VenuePerformance, bool) {
	return a.perf.Get(domain.PerformanceKey(venue, symbol))
}

// History returns the retained samples, oldest first.
func (a *Analyzer) History() []domain.TransactionCost {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.TransactionCost, 0, a.size)
	start := (a.head - a.size + len(a.history)) % len(a.history)
	for i := 0; i < a.size; i++ {
		out = append(out, a.history[(start+i)%len(a.history)])
	}
	return out
}

// Summary aggregates the retained history and the venue table.
func (a *Analyzer) Summary() domain.TCASummary {
	hist := a.History()

	a.mu.Lock()
	total := a.total
	a.mu.Unlock()

	s := domain.TCASummary{Samples: len(hist), TotalRecorded: total}
	if len(hist) > 0 {
		var succ int
		for _, c := range hist {
			s.AvgSlippage += c.Slippage
			s.AvgFees += c.Fees
			s.AvgLatencyMs += c.LatencyMs
			if c.Success {
				succ++
			}
		}
		n := float64(len(hist))
		s.AvgSlippage /= n
		s.AvgFees /= n
		s.AvgLatencyMs /= n
		s.SuccessRate = float64(succ) / n
	}

	perf := a.Performance()
	venues := make(map[string]struct{}, len(perf))
	bestEff := math.Inf(1)
	for _, p := range perf {
		venues[p.Venue] = struct{}{}
		if p.Samples >= a.cfg.MinSamples && p.CostEfficiency < bestEff {
			bestEff = p.CostEfficiency
			s.BestVenue = p.Venue
		}
	}
	s.Venues = len(venues)
	return s
}

// Snapshot returns the venue table for persistence.
func (a *Analyzer) Snapshot() []domain.VenuePerformance { return a.Performance() }

// Restore replaces the venue table with a persisted snapshot.
func (a *Analyzer) Restore(perf []domain.VenuePerformance) {
	var stale []string
	a.perf.Range(func(key string, _ domain.VenuePerformance) bool {
		stale = append(stale, key)
		return true
	})
	for _, key := range stale {
		a.perf.Delete(key)
	}
	for _, p := range perf {
		if p.Venue == "" || p.Symbol == "" {
			continue
		}
		p.CostEfficiency = CostEfficiency(p)
		a.perf.Put(p.Key(), p)
	}
	a.logger.Info("venue performance restored", slog.Int("rows", len(perf)))
}
