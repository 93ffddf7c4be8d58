package slippage

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

// Analyzer produces slippage analyses from live market data. It never fails:
// missing inputs degrade to a labelled fallback analysis.
type Analyzer struct {
	market domain.MarketData
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu           sync.RWMutex
	models       map[string]Model
	defaultModel *Model
}

// NewAnalyzer creates an Analyzer. The default model applies to every symbol
// without its own model; use ClearDefaultModel to require explicit models.
func NewAnalyzer(market domain.MarketData, cfg Config, logger *slog.Logger) *Analyzer {
	def := DefaultModel()
	return &Analyzer{
		market:       market,
		cfg:          cfg,
		logger:       logger.With(slog.String("component", "slippage_analyzer")),
		now:          time.Now,
		models:       make(map[string]Model),
		defaultModel: &def,
	}
}

// SetModel installs a per-symbol model.
func (a *Analyzer) SetModel(symbol string, m Model) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.models[symbol] = m
}

// SetDefaultModel replaces the fallback model.
func (a *Analyzer) SetDefaultModel(m Model) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.defaultModel = &m
}

// ClearDefaultModel removes the fallback model.
func (a *Analyzer) ClearDefaultModel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.defaultModel = nil
}

// Config returns the analyzer thresholds.
func (a *Analyzer) Config() Config { return a.cfg }

func (a *Analyzer) model(symbol string) (Model, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if m, ok := a.models[symbol]; ok {
		return m, true
	}
	if a.defaultModel != nil {
		return *a.defaultModel, true
	}
	return Model{}, false
}

// Analyze evaluates an intent to trade size units of symbol on side.
func (a *Analyzer) Analyze(ctx context.Context, symbol string, side domain.Side, size float64, opts ...Option) domain.SlippageAnalysis {
	o := options{maxSlippage: a.cfg.MaxSlippage, maxImpact: a.cfg.MaxImpact}
	for _, opt := range opts {
		opt(&o)
	}

	model, ok := a.model(symbol)
	if !ok {
		return a.fallback(ctx, symbol, side, size, 0, o, "model")
	}

	ticker, err := a.market.Ticker(ctx, symbol)
	if err != nil || ticker.Mid() <= 0 {
		return a.fallback(ctx, symbol, side, size, 0, o, "price")
	}
	price := ticker.Mid()

	book, err := a.market.OrderBook(ctx, symbol)
	levels := book.Levels(side)
	if err != nil || len(levels) == 0 {
		return a.fallback(ctx, symbol, side, size, price, o, "order book")
	}

	vol, err := a.market.Volatility(ctx, symbol)
	if err != nil || vol <= 0 {
		vol = a.cfg.DefaultVolatility
	}

	now := a.now()
	notional := size * price
	walk := walkBook(levels, size)

	utilization := 0.0
	if walk.depth > 0 {
		utilization = size / walk.depth * 100
	}

	participation := 1.0
	if ticker.Volume24h > 0 {
		participation = notional / ticker.Volume24h
	}
	sqrtPart := math.Sqrt(participation)

	immediate := 0.0
	if best := levels[0].Price; best > 0 {
		immediate = math.Abs(walk.avgPrice-best) / best
	}
	permanent := model.PermanentImpact * vol * sqrtPart
	temporary := model.TemporaryImpact * vol * sqrtPart
	totalImpact := immediate + permanent + temporary

	spread := 0.0
	if ticker.Bid > 0 && ticker.Ask > 0 {
		spread = (ticker.Ask - ticker.Bid) / price
	}

	ageMin := 0.0
	if !ticker.Timestamp.IsZero() {
		ageMin = math.Max(0, now.Sub(ticker.Timestamp).Minutes())
	}

	expected := model.Base +
		model.SizeWeight*participation +
		model.TimeWeight*ageMin +
		model.VolatilityWeight*vol +
		model.LiquidityWeight*(utilization/100) +
		model.SpreadWeight*(spread/2)

	expectedPrice := price * (1 + expected)
	if side == domain.SideSell {
		expectedPrice = price * (1 - expected)
	}

	an := domain.SlippageAnalysis{
		Symbol:        symbol,
		Side:          side,
		Size:          size,
		CurrentPrice:  price,
		ExpectedPrice: expectedPrice,
		Slippage: domain.SlippageBreakdown{
			Absolute:   math.Abs(expectedPrice - price),
			Relative:   expected * 100,
			Expected:   expected,
			MaxAllowed: o.maxSlippage,
		},
		Impact: domain.ImpactBreakdown{
			Immediate: immediate,
			Permanent: permanent,
			Temporary: temporary,
			Total:     totalImpact,
			MaxImpact: o.maxImpact,
		},
		Liquidity: domain.LiquiditySnapshot{
			AvailableDepth:    walk.depth,
			AvailableNotional: walk.notional,
			Utilization:       utilization,
			BookDepth:         len(levels),
			Spread:            spread * 100,
		},
		AnalyzedAt: now,
	}

	score, factors := scoreRisk(an, a.cfg)
	an.Risk = domain.RiskVerdict{Level: RiskLevelFor(score), Score: score, Factors: factors}
	an.Recommendation = recommend(an, a.cfg)

	if an.Recommendation.Action != domain.ActionProceed {
		a.logger.WarnContext(ctx, "slippage gate verdict",
			slog.String("symbol", symbol),
			slog.String("side", string(side)),
			slog.Float64("size", size),
			slog.Float64("expected_slippage", expected),
			slog.Float64("impact", totalImpact),
			slog.Float64("score", score),
			slog.String("level", string(an.Risk.Level)),
			slog.String("action", string(an.Recommendation.Action)),
		)
	}
	return an
}

// fallback is the conservative analysis returned when an input is missing.
func (a *Analyzer) fallback(ctx context.Context, symbol string, side domain.Side, size, price float64, o options, missing string) domain.SlippageAnalysis {
	a.logger.WarnContext(ctx, "slippage analysis fallback",
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
		slog.Float64("size", size),
		slog.String("missing", missing),
		slog.Float64("score", a.cfg.FallbackScore),
	)

	expected := a.cfg.FallbackSlippage
	an := domain.SlippageAnalysis{
		Symbol:       symbol,
		Side:         side,
		Size:         size,
		CurrentPrice: price,
		Slippage: domain.SlippageBreakdown{
			Relative:   expected * 100,
			Expected:   expected,
			MaxAllowed: o.maxSlippage,
		},
		Impact: domain.ImpactBreakdown{MaxImpact: o.maxImpact},
		Risk: domain.RiskVerdict{
			Level:   domain.RiskMedium,
			Score:   a.cfg.FallbackScore,
			Factors: []string{"missing data: " + missing},
		},
		Recommendation: domain.Recommendation{
			Action: domain.ActionProceed,
			Reason: "missing data",
		},
		Fallback:   true,
		AnalyzedAt: a.now(),
	}
	if price > 0 {
		an.ExpectedPrice = price * (1 + expected)
		if side == domain.SideSell {
			an.ExpectedPrice = price * (1 - expected)
		}
		an.Slippage.Absolute = math.Abs(an.ExpectedPrice - price)
	}
	return an
}

type bookWalk struct {
	depth    float64
	notional float64
	avgPrice float64
}

// walkBook fills size against levels. Any size beyond the visible depth is
// priced at the worst visible level.
func walkBook(levels []domain.PriceLevel, size float64) bookWalk {
	var w bookWalk
	remaining := size
	cost := 0.0
	for _, lvl := range levels {
		w.depth += lvl.Size
		w.notional += lvl.Price * lvl.Size
		if remaining > 0 {
			take := math.Min(remaining, lvl.Size)
			cost += take * lvl.Price
			remaining -= take
		}
	}
	if remaining > 0 && len(levels) > 0 {
		cost += remaining * levels[len(levels)-1].Price
	}
	if size > 0 {
		w.avgPrice = cost / size
	}
	return w
}

// scoreRisk accumulates the weighted risk contributions, capped at 1.
func scoreRisk(an domain.SlippageAnalysis, cfg Config) (float64, []string) {
	var score float64
	var factors []string

	if slip, max := an.Slippage.Expected, an.Slippage.MaxAllowed; max > 0 && slip > max {
		score += 0.5 + 0.2*math.Min(1, slip/max-1)
		factors = append(factors, "slippage over cap")
	}
	if impact, max := an.Impact.Total, an.Impact.MaxImpact; max > 0 && impact > max {
		score += 0.3 + 0.1*math.Min(1, impact/max-1)
		factors = append(factors, "impact over cap")
	}
	if util := an.Liquidity.Utilization; util > 0 && cfg.UtilizationScale > 0 {
		score += 0.3 * math.Min(1, util/cfg.UtilizationScale)
		factors = append(factors, "liquidity utilization")
	}
	return math.Min(1, score), factors
}

// RiskLevelFor maps a score to its tier. It is monotonic in score.
func RiskLevelFor(score float64) domain.RiskLevel {
	switch {
	case score >= 0.7:
		return domain.RiskCritical
	case score >= 0.5:
		return domain.RiskHigh
	case score >= 0.3:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// recommend evaluates the decision table in priority order.
func recommend(an domain.SlippageAnalysis, cfg Config) domain.Recommendation {
	slipOver := an.Slippage.MaxAllowed > 0 && an.Slippage.Expected > an.Slippage.MaxAllowed
	impactOver := an.Impact.MaxImpact > 0 && an.Impact.Total > an.Impact.MaxImpact

	switch {
	case an.Risk.Level == domain.RiskCritical:
		return domain.Recommendation{Action: domain.ActionCancel, Reason: "critical execution risk"}
	case an.Risk.Level == domain.RiskHigh && slipOver:
		return domain.Recommendation{
			Action:        domain.ActionReduceSize,
			Reason:        "expected slippage exceeds maximum",
			SuggestedSize: an.Liquidity.AvailableDepth * cfg.ReduceFraction,
		}
	case an.Risk.Level == domain.RiskHigh && impactOver:
		return domain.Recommendation{
			Action:        domain.ActionSplitOrder,
			Reason:        "market impact exceeds maximum",
			SuggestedSize: an.Liquidity.AvailableDepth * cfg.SplitFraction,
		}
	case an.Risk.Level == domain.RiskMedium && an.Liquidity.Utilization > cfg.DelayUtilization:
		return domain.Recommendation{
			Action:         domain.ActionDelay,
			Reason:         "high liquidity utilization",
			SuggestedDelay: cfg.DelayDuration,
		}
	default:
		return domain.Recommendation{Action: domain.ActionProceed, Reason: "within limits"}
	}
}
