package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/smartexec/internal/atomic"
	"github.com/alanyoungcy/smartexec/internal/domain"
	"github.com/alanyoungcy/smartexec/internal/policy"
	"github.com/alanyoungcy/smartexec/internal/slippage"
	"github.com/alanyoungcy/smartexec/internal/store/memory"
	"github.com/alanyoungcy/smartexec/internal/tca"
	"github.com/alanyoungcy/smartexec/internal/venue"
)

var (
	_ Venues       = (*venue.Registry)(nil)
	_ CostModel    = (*tca.Analyzer)(nil)
	_ Learner      = (*policy.Policy)(nil)
	_ Transactions = (*atomic.Engine)(nil)
	_ slippage.Gate = (*slippage.Analyzer)(nil)
)

const sym = "XRP/USDT"

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// flakyClient rejects chosen client ids a number of times (-1 forever).
type flakyClient struct {
	domain.VenueClient

	mu     sync.Mutex
	reject map[string]int
	calls  int
}

func (c *flakyClient) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.VenueOrder, error) {
	c.mu.Lock()
	c.calls++
	n, ok := c.reject[req.ClientID]
	if ok && n != 0 {
		if n > 0 {
			c.reject[req.ClientID] = n - 1
		}
		c.mu.Unlock()
		return domain.VenueOrder{}, fmt.Errorf("flaky: %w", domain.ErrVenueRejected)
	}
	c.mu.Unlock()
	return c.VenueClient.CreateOrder(ctx, req)
}

func (c *flakyClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type scriptedGate struct {
	mu    sync.Mutex
	seq   []domain.SlippageAnalysis
	calls int
}

func (g *scriptedGate) Analyze(_ context.Context, symbol string, side domain.Side, size float64, _ ...slippage.Option) domain.SlippageAnalysis {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.calls
	if i >= len(g.seq) {
		i = len(g.seq) - 1
	}
	g.calls++
	an := g.seq[i]
	an.Symbol, an.Side, an.Size = symbol, side, size
	return an
}

func verdict(action domain.RecommendedAction, size float64) domain.SlippageAnalysis {
	an := domain.SlippageAnalysis{
		CurrentPrice: 1,
		Slippage:     domain.SlippageBreakdown{Expected: 0.001, MaxAllowed: 0.005},
		Liquidity:    domain.LiquiditySnapshot{AvailableDepth: 1e5, AvailableNotional: 1e5},
		Risk:         domain.RiskVerdict{Level: domain.RiskLow, Score: 0.1},
		Recommendation: domain.Recommendation{
			Action:        action,
			Reason:        "scripted",
			SuggestedSize: size,
		},
	}
	switch action {
	case domain.ActionCancel:
		an.Risk = domain.RiskVerdict{Level: domain.RiskCritical, Score: 0.8}
	case domain.ActionDelay:
		an.Risk = domain.RiskVerdict{Level: domain.RiskMedium, Score: 0.35}
		an.Recommendation.SuggestedDelay = time.Minute
	}
	return an
}

type stubCosts struct {
	mu       sync.Mutex
	rec      domain.CostRecommendation
	recErr   error
	recorded []domain.TransactionCost
}

func (s *stubCosts) Record(_ context.Context, c domain.TransactionCost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, c)
	return nil
}

func (s *stubCosts) Recommend(string, float64, []string, domain.Urgency) (domain.CostRecommendation, error) {
	return s.rec, s.recErr
}

func (s *stubCosts) Performance() []domain.VenuePerformance { return nil }
func (s *stubCosts) Summary() domain.TCASummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.TCASummary{Samples: len(s.recorded)}
}

type alertLog struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (a *alertLog) Emit(al domain.Alert) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, al)
	return true
}

func (a *alertLog) events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, al := range a.alerts {
		out = append(out, al.Event)
	}
	return out
}

type exploit struct{}

func (exploit) Float64() float64 { return 0.99 }
func (exploit) IntN(int) int     { return 0 }

type harness struct {
	ex     *Executor
	alpha  *flakyClient
	beta   *flakyClient
	gate   *scriptedGate
	costs  *stubCosts
	policy *policy.Policy
	alerts *alertLog

	mu     sync.Mutex
	sleeps []time.Duration
}

func paper(name string) *flakyClient {
	m := venue.PaperMarket{
		Market: domain.Market{
			Symbol: sym, AmountPrecision: 2, PricePrecision: 4,
			MinAmount: 1, MinCost: 1, TakerFee: 0.001, Active: true,
		},
		Price: 1, Spread: 0.002, LevelSize: 1000, Levels: 10, Volume24h: 1e7,
	}
	p := venue.NewPaper(name, []venue.PaperMarket{m}, map[string]float64{"USDT": 1e6, "XRP": 1e6}, testLogger())
	return &flakyClient{VenueClient: p, reject: map[string]int{}}
}

func newHarness(t *testing.T, seq ...domain.SlippageAnalysis) *harness {
	t.Helper()
	if len(seq) == 0 {
		seq = []domain.SlippageAnalysis{verdict(domain.ActionProceed, 0)}
	}
	h := &harness{
		alpha:  paper("alpha"),
		beta:   paper("beta"),
		gate:   &scriptedGate{seq: seq},
		costs:  &stubCosts{recErr: tca.ErrNoVenues},
		alerts: &alertLog{},
	}
	reg := venue.NewRegistry()
	require.NoError(t, reg.Register(context.Background(), h.alpha))
	require.NoError(t, reg.Register(context.Background(), h.beta))

	h.policy = policy.New(memory.NewMap[string, domain.QEntry](), policy.DefaultConfig(), exploit{}, testLogger())

	cfg := DefaultConfig()
	cfg.MaxDelayWait = time.Second
	h.ex = New(Deps{
		Venues: reg,
		Gate:   h.gate,
		Costs:  h.costs,
		Policy: h.policy,
		Alerts: h.alerts,
	}, cfg, testLogger())
	h.ex.sleep = func(_ context.Context, d time.Duration) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	return h
}

func (h *harness) slept() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.sleeps...)
}

func buy(id string, amount float64) domain.ExecutionRequest {
	return domain.ExecutionRequest{ID: id, Symbol: sym, Side: domain.SideBuy, Amount: amount}
}

func TestExecuteDirectFromPolicy(t *testing.T) {
	h := newHarness(t)

	res, err := h.ex.Execute(context.Background(), buy("req-1", 10))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, domain.ModeDirect, res.Mode)
	assert.Equal(t, SourcePolicy, res.Source)
	assert.Equal(t, []string{"alpha"}, res.Venues)
	assert.Len(t, res.OrderIDs, 1)
	assert.InDelta(t, 10, res.FilledAmount, 1e-9)
	assert.InDelta(t, 1.001, res.AvgPrice, 1e-9)
	assert.InDelta(t, 0.001, res.ActualSlippage, 1e-9)

	require.Len(t, h.costs.recorded, 1)
	c := h.costs.recorded[0]
	assert.Equal(t, "alpha", c.Venue)
	assert.Equal(t, domain.ModeDirect, c.Mode)
	assert.True(t, c.Success)
	assert.InDelta(t, 0.001, c.Fees, 1e-9)

	assert.Equal(t, int64(1), h.policy.Summary().Updates)
	st := h.ex.Stats()
	assert.Equal(t, int64(1), st.Executions)
	assert.Zero(t, st.Failures)
}

func TestExecuteRejectsInvalidRequest(t *testing.T) {
	h := newHarness(t)

	_, err := h.ex.Execute(context.Background(), domain.ExecutionRequest{Side: "hold", Amount: -1})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Violations, 3)

	_, err = h.ex.Execute(context.Background(), domain.ExecutionRequest{Symbol: "DOGE/USDT", Side: domain.SideBuy, Amount: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	assert.Zero(t, h.gate.calls)
}

func TestExecuteDeduplicatesRequests(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.ex.Execute(ctx, buy("dup", 5))
	require.NoError(t, err)
	_, err = h.ex.Execute(ctx, buy("dup", 5))
	assert.ErrorIs(t, err, domain.ErrDuplicate)
	assert.Equal(t, 1, h.alpha.callCount())
}

func TestExplicitModeWins(t *testing.T) {
	h := newHarness(t)
	h.costs.rec = domain.CostRecommendation{CostEstimate: domain.CostEstimate{Venue: "beta", Mode: domain.ModeIceberg, Confidence: 0.95}}
	h.costs.recErr = nil

	req := buy("req-explicit", 9)
	req.ExecutionMode = domain.ModeTWAP
	res, err := h.ex.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, domain.ModeTWAP, res.Mode)
	assert.Equal(t, SourceRequest, res.Source)
	assert.Equal(t, []string{"beta"}, res.Venues)
	assert.Len(t, res.OrderIDs, 3)
}

func TestConfidentTCAIsPreferred(t *testing.T) {
	h := newHarness(t)
	h.costs.rec = domain.CostRecommendation{CostEstimate: domain.CostEstimate{Venue: "beta", Mode: domain.ModeDirect, Confidence: 0.8}}
	h.costs.recErr = nil

	res, err := h.ex.Execute(context.Background(), buy("req-tca", 5))
	require.NoError(t, err)
	assert.Equal(t, SourceTCA, res.Source)
	assert.Equal(t, []string{"beta"}, res.Venues)
	assert.Equal(t, 1, h.beta.callCount())
	assert.Zero(t, h.alpha.callCount())
}

func TestUnconfidentTCAFallsBackToPolicy(t *testing.T) {
	h := newHarness(t)
	h.costs.rec = domain.CostRecommendation{CostEstimate: domain.CostEstimate{Venue: "beta", Mode: domain.ModeDirect, Confidence: 0.7}}
	h.costs.recErr = nil

	res, err := h.ex.Execute(context.Background(), buy("req-rl", 5))
	require.NoError(t, err)
	assert.Equal(t, SourcePolicy, res.Source)
	assert.Equal(t, []string{"alpha"}, res.Venues)
}

func TestGateCancelVetoes(t *testing.T) {
	h := newHarness(t, verdict(domain.ActionCancel, 0))

	_, err := h.ex.Execute(context.Background(), buy("req-veto", 10))
	var veto *domain.RiskVetoError
	require.ErrorAs(t, err, &veto)
	assert.ErrorIs(t, err, domain.ErrRiskVeto)
	assert.Equal(t, domain.RiskCritical, veto.Level)

	assert.Zero(t, h.alpha.callCount())
	assert.Equal(t, int64(1), h.ex.Stats().Vetoes)
	assert.Contains(t, h.alerts.events(), domain.EventRiskVeto)
	assert.Empty(t, h.costs.recorded)
}

func TestMinLiquidityVetoes(t *testing.T) {
	h := newHarness(t)
	req := buy("req-liq", 10)
	req.MinLiquidity = 1e6

	_, err := h.ex.Execute(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrRiskVeto)
	assert.Zero(t, h.alpha.callCount())
}

func TestGateReduceSize(t *testing.T) {
	h := newHarness(t, verdict(domain.ActionReduceSize, 4))

	res, err := h.ex.Execute(context.Background(), buy("req-reduce", 10))
	require.NoError(t, err)
	assert.InDelta(t, 4, res.FilledAmount, 1e-9)
	assert.Equal(t, domain.ModeDirect, res.Mode)
}

func TestGateSplitOrder(t *testing.T) {
	h := newHarness(t, verdict(domain.ActionSplitOrder, 3))

	res, err := h.ex.Execute(context.Background(), buy("req-split", 10))
	require.NoError(t, err)
	assert.Equal(t, domain.ModeSplit, res.Mode)
	assert.Len(t, res.OrderIDs, 4)
	assert.InDelta(t, 10, res.FilledAmount, 1e-9)

	cfg := DefaultConfig()
	assert.Equal(t, []time.Duration{cfg.SplitDelay, cfg.SplitDelay, cfg.SplitDelay}, h.slept())
}

func TestGateSplitLearnsChosenAction(t *testing.T) {
	h := newHarness(t, verdict(domain.ActionSplitOrder, 3))

	_, err := h.ex.Execute(context.Background(), buy("req-split-q", 10))
	require.NoError(t, err)

	entries, _ := h.policy.Snapshot()
	require.Len(t, entries, 1)
	assert.True(t, strings.HasSuffix(entries[0].Key, "#DIRECT:alpha"), entries[0].Key)
	assert.NotZero(t, entries[0].Value)
}

func TestGateDelayThenProceed(t *testing.T) {
	h := newHarness(t, verdict(domain.ActionDelay, 0), verdict(domain.ActionProceed, 0))

	res, err := h.ex.Execute(context.Background(), buy("req-delay", 10))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, h.gate.calls)
	assert.Equal(t, []time.Duration{time.Second}, h.slept(), "delay is capped by MaxDelayWait")
}

func TestGateDelayTwiceVetoes(t *testing.T) {
	h := newHarness(t, verdict(domain.ActionDelay, 0))

	_, err := h.ex.Execute(context.Background(), buy("req-delay2", 10))
	assert.ErrorIs(t, err, domain.ErrRiskVeto)
	assert.Equal(t, 2, h.gate.calls)
	assert.Zero(t, h.alpha.callCount())

	// a vetoed request never reached a venue, so its id may be retried
	h.gate.seq = []domain.SlippageAnalysis{verdict(domain.ActionProceed, 0)}
	_, err = h.ex.Execute(context.Background(), buy("req-delay2", 10))
	assert.NoError(t, err)
}

func TestTWAPContinuesPastRejectedSlice(t *testing.T) {
	h := newHarness(t)
	h.alpha.reject["req-e-2"] = -1

	req := buy("req-e", 900)
	req.ExecutionMode = domain.ModeTWAP
	res, err := h.ex.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.InDelta(t, 600, res.FilledAmount, 1e-9)
	assert.Len(t, res.OrderIDs, 2)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "rejected")
	assert.Equal(t, 2+3, h.alpha.callCount(), "two fills plus three attempts on the rejected slice")

	cfg := DefaultConfig()
	assert.Equal(t, []time.Duration{
		cfg.TWAPInterval,
		cfg.RetryBackoff, 2 * cfg.RetryBackoff,
		cfg.TWAPInterval,
	}, h.slept())
}

func TestTWAPLimitSlicesAreRequoted(t *testing.T) {
	h := newHarness(t)
	req := buy("req-twap-limit", 9)
	req.ExecutionMode = domain.ModeTWAP
	req.Kind = domain.OrderKindLimit
	req.TargetPrice = 2

	res, err := h.ex.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.InDelta(t, 9, res.FilledAmount, 1e-9)
	assert.InDelta(t, 1.001, res.AvgPrice, 1e-9, "target only caps the live ask")
}

func TestIcebergRunsToCompletion(t *testing.T) {
	h := newHarness(t)
	req := buy("req-ice", 9)
	req.ExecutionMode = domain.ModeIceberg

	res, err := h.ex.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, res.OrderIDs, 3)
	assert.InDelta(t, 9, res.FilledAmount, 1e-9)
	assert.Equal(t, []time.Duration{DefaultConfig().IcebergWait, DefaultConfig().IcebergWait}, h.slept())
}

func TestIcebergStopsOnZeroFill(t *testing.T) {
	h := newHarness(t)
	req := buy("req-ice-rest", 9)
	req.ExecutionMode = domain.ModeIceberg
	req.Kind = domain.OrderKindLimit
	req.TargetPrice = 0.9

	res, err := h.ex.Execute(context.Background(), req)
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Len(t, res.OrderIDs, 1)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "zero fill")
	assert.Equal(t, 1, h.alpha.callCount())
}

func TestSubmitRetriesWithLinearBackoff(t *testing.T) {
	h := newHarness(t)
	h.alpha.reject["retry-1"] = 2

	o, err := h.ex.Submit(context.Background(), "alpha", domain.OrderRequest{
		Symbol: sym, Kind: domain.OrderKindMarket, Side: domain.SideBuy, Amount: 5, ClientID: "retry-1",
	})
	require.NoError(t, err)
	assert.InDelta(t, 5, o.Filled, 1e-9)
	assert.Equal(t, 3, h.alpha.callCount())
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}, h.slept())
}

func TestSubmitExhaustsRetries(t *testing.T) {
	h := newHarness(t)
	h.alpha.reject["req-dead-1"] = -1

	res, err := h.ex.Execute(context.Background(), buy("req-dead", 5))
	var rej *domain.VenueRejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, 3, rej.Attempts)
	assert.Equal(t, "alpha", rej.Venue)
	assert.ErrorIs(t, err, domain.ErrVenueRejected)
	assert.Zero(t, res.FilledAmount)

	require.Len(t, h.costs.recorded, 1)
	assert.False(t, h.costs.recorded[0].Success)
	assert.Equal(t, int64(1), h.ex.Stats().Failures)
	assert.Contains(t, h.alerts.events(), domain.EventExecution)
}

func TestSubmitRejectsBelowVenueMinimum(t *testing.T) {
	h := newHarness(t)

	_, err := h.ex.Submit(context.Background(), "alpha", domain.OrderRequest{
		Symbol: sym, Kind: domain.OrderKindMarket, Side: domain.SideBuy, Amount: 0.5,
	})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Zero(t, h.alpha.callCount(), "validation failures are not retried")
	assert.Empty(t, h.slept())
}

func TestConformRoundsDown(t *testing.T) {
	m := domain.Market{AmountPrecision: 2, PricePrecision: 1, MinAmount: 0.1, MinCost: 10}

	tests := []struct {
		name       string
		req        domain.OrderRequest
		ref        float64
		wantAmount float64
		wantPrice  float64
		wantErr    bool
	}{
		{
			name:       "market amount truncated",
			req:        domain.OrderRequest{Kind: domain.OrderKindMarket, Amount: 1.23999},
			ref:        100,
			wantAmount: 1.23,
		},
		{
			name:       "limit price truncated",
			req:        domain.OrderRequest{Kind: domain.OrderKindLimit, Amount: 2, Price: 100.99},
			wantAmount: 2,
			wantPrice:  100.9,
		},
		{
			name:    "rounds to zero",
			req:     domain.OrderRequest{Kind: domain.OrderKindMarket, Amount: 0.004},
			ref:     100,
			wantErr: true,
		},
		{
			name:    "below min notional",
			req:     domain.OrderRequest{Kind: domain.OrderKindLimit, Amount: 0.5, Price: 10},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := conform(tt.req, m, tt.ref)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidOrder)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.wantAmount, got.Amount, 1e-12)
			assert.InDelta(t, tt.wantPrice, got.Price, 1e-12)
		})
	}
}

type denyLimiter struct{ calls int }

func (l *denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	l.calls++
	return false, nil
}
func (l *denyLimiter) Wait(context.Context, string) error { return nil }

func TestRateLimitedSubmissionIsRejected(t *testing.T) {
	h := newHarness(t)
	lim := &denyLimiter{}
	h.ex.deps.Limiter = lim
	h.ex.cfg.RateLimit = 5

	_, err := h.ex.Submit(context.Background(), "alpha", domain.OrderRequest{
		Symbol: sym, Kind: domain.OrderKindMarket, Side: domain.SideBuy, Amount: 5,
	})
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.ErrorIs(t, err, domain.ErrVenueRejected)
	assert.Equal(t, 3, lim.calls)
	assert.Zero(t, h.alpha.callCount())
}

func TestExecuteAtomicDelegatesToEngine(t *testing.T) {
	h := newHarness(t)
	engine := atomic.NewEngine(atomic.Deps{
		Submitter: h.ex,
		Active:    memory.NewMap[string, *domain.Transaction](),
	}, atomic.DefaultConfig(), testLogger())
	h.ex.SetTransactions(engine)

	tx, err := h.ex.ExecuteAtomic(context.Background(), []domain.LegSpec{
		{ID: "buy", Symbol: sym, Side: domain.SideBuy, Amount: 10, Venue: "alpha", Kind: domain.OrderKindMarket},
		{ID: "sell", Symbol: sym, Side: domain.SideSell, Amount: 10, Venue: "beta", Kind: domain.OrderKindMarket, DependsOn: []string{"buy"}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, tx.Status)
	assert.Equal(t, 1, h.alpha.callCount())
	assert.Equal(t, 1, h.beta.callCount())
	assert.Zero(t, h.ex.Stats().Active)
}

func TestExecuteAtomicWithoutEngine(t *testing.T) {
	h := newHarness(t)
	_, err := h.ex.ExecuteAtomic(context.Background(), nil)
	assert.Error(t, err)
}

func TestRunProcessesQueue(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.ex.Run(ctx) }()

	require.True(t, h.ex.Enqueue(buy("", 5)))
	require.Eventually(t, func() bool { return h.alpha.callCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	err := <-done
	assert.True(t, errors.Is(err, context.Canceled))
}
