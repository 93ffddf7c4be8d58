package tca

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/smartexec/internal/domain"
	"github.com/alanyoungcy/smartexec/internal/store/memory"
)

type recordingStore struct {
	costs []domain.TransactionCost
	err   error
}

func (s *recordingStore) Insert(_ context.Context, c domain.TransactionCost) error {
	if s.err != nil {
		return s.err
	}
	s.costs = append(s.costs, c)
	return nil
}

func (s *recordingStore) ListBefore(context.Context, time.Time) ([]domain.TransactionCost, error) {
	return s.costs, nil
}

func newTestAnalyzer(cfg Config, store domain.CostSampleStore) *Analyzer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAnalyzer(memory.NewMap[string, domain.VenuePerformance](), store, cfg, logger)
}

func sample(venue string, slip, fees float64, ok bool) domain.TransactionCost {
	return domain.TransactionCost{
		Venue: venue, Symbol: "BTC/USDT", Size: 1, Mode: domain.ModeDirect,
		Slippage: slip, Fees: fees, LatencyMs: 100, Success: ok,
	}
}

func TestRecordSeedsThenSmooths(t *testing.T) {
	store := &recordingStore{}
	a := newTestAnalyzer(DefaultConfig(), store)
	ctx := context.Background()

	require.NoError(t, a.Record(ctx, sample("alpha", 0.002, 0.001, true)))
	p, ok := a.VenuePerformance("alpha", "BTC/USDT")
	require.True(t, ok)
	assert.InDelta(t, 0.002, p.AvgSlippage, 1e-12)
	assert.InDelta(t, 1.0, p.SuccessRate, 1e-12)
	assert.Equal(t, 1, p.Samples)

	require.NoError(t, a.Record(ctx, sample("alpha", 0.012, 0.001, false)))
	p, _ = a.VenuePerformance("alpha", "BTC/USDT")
	assert.InDelta(t, 0.002*0.99+0.012*0.01, p.AvgSlippage, 1e-12)
	assert.InDelta(t, 0.99, p.SuccessRate, 1e-12)
	assert.InDelta(t, (p.AvgSlippage+p.AvgFees)/0.99, p.CostEfficiency, 1e-12)
	assert.Len(t, store.costs, 2)
}

func TestRecordRejectsMissingKey(t *testing.T) {
	a := newTestAnalyzer(DefaultConfig(), nil)
	err := a.Record(context.Background(), domain.TransactionCost{Symbol: "BTC/USDT"})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestRecordStoreFailureKeepsMemoryState(t *testing.T) {
	a := newTestAnalyzer(DefaultConfig(), &recordingStore{err: errors.New("db down")})
	err := a.Record(context.Background(), sample("alpha", 0.001, 0, true))
	require.Error(t, err)

	_, ok := a.VenuePerformance("alpha", "BTC/USDT")
	assert.True(t, ok)
}

func TestHistoryIsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistorySize = 3
	a := newTestAnalyzer(cfg, nil)
	for i := 0; i < 5; i++ {
		require.NoError(t, a.Record(context.Background(), sample("alpha", float64(i), 0, true)))
	}

	hist := a.History()
	require.Len(t, hist, 3)
	assert.InDelta(t, 2, hist[0].Slippage, 1e-12)
	assert.InDelta(t, 4, hist[2].Slippage, 1e-12)
	assert.Equal(t, int64(5), a.Summary().TotalRecorded)
}

func TestRecommendNewVenueConfidenceCapped(t *testing.T) {
	a := newTestAnalyzer(DefaultConfig(), nil)
	for i := 0; i < 5; i++ {
		require.NoError(t, a.Record(context.Background(), sample("alpha", 0.0001, 0, true)))
	}

	rec, err := a.Recommend("BTC/USDT", 1, []string{"alpha", "beta"}, domain.UrgencyMedium)
	require.NoError(t, err)
	for _, c := range rec.Candidates {
		assert.LessOrEqual(t, c.Confidence, 0.3)
		assert.Equal(t, domain.ModeDirect, c.Mode)
	}
	assert.Len(t, rec.Candidates, 2)
}

func TestRecommendSeasonedVenuePrefersTWAP(t *testing.T) {
	a := newTestAnalyzer(DefaultConfig(), nil)
	for i := 0; i < 20; i++ {
		require.NoError(t, a.Record(context.Background(), sample("alpha", 0.0004, 0.0001, true)))
	}

	rec, err := a.Recommend("BTC/USDT", 0, []string{"alpha", "beta"}, domain.UrgencyLow)
	require.NoError(t, err)
	assert.Equal(t, "alpha", rec.Venue)
	assert.Equal(t, domain.ModeTWAP, rec.Mode)
	assert.InDelta(t, 0.0005*0.8*0.9, rec.ExpectedCost, 1e-12)
	// 20 of 100 samples, full success, TWAP predictability 0.9.
	assert.InDelta(t, 0.2*0.9, rec.Confidence, 1e-12)
	assert.Len(t, rec.Candidates, 4)
}

func TestRecommendSizeMultiplierCapped(t *testing.T) {
	a := newTestAnalyzer(DefaultConfig(), nil)
	rec, err := a.Recommend("BTC/USDT", 1e9, []string{"beta"}, domain.UrgencyHigh)
	require.NoError(t, err)
	assert.InDelta(t, 0.001*1.2*2, rec.ExpectedCost, 1e-12)
}

func TestRecommendNoVenues(t *testing.T) {
	a := newTestAnalyzer(DefaultConfig(), nil)
	_, err := a.Recommend("BTC/USDT", 1, nil, domain.UrgencyMedium)
	assert.ErrorIs(t, err, ErrNoVenues)
}

func TestSummaryAndRestore(t *testing.T) {
	a := newTestAnalyzer(DefaultConfig(), nil)
	a.Restore([]domain.VenuePerformance{
		{Venue: "alpha", Symbol: "BTC/USDT", AvgSlippage: 0.002, SuccessRate: 1, Samples: 50},
		{Venue: "beta", Symbol: "BTC/USDT", AvgSlippage: 0.001, SuccessRate: 1, Samples: 50},
		{Venue: "", Symbol: "bad"},
	})

	s := a.Summary()
	assert.Equal(t, 2, s.Venues)
	assert.Equal(t, "beta", s.BestVenue)
	assert.Equal(t, 0, s.Samples)

	snap := a.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "alpha", snap[0].Venue)
	assert.InDelta(t, 0.002, snap[0].CostEfficiency, 1e-12)
}

func TestRestoreDropsRowsMissingFromSnapshot(t *testing.T) {
	a := newTestAnalyzer(DefaultConfig(), nil)
	require.NoError(t, a.Record(context.Background(), sample("gamma", 0.003, 0.001, true)))

	a.Restore([]domain.VenuePerformance{
		{Venue: "alpha", Symbol: "BTC/USDT", AvgSlippage: 0.002, SuccessRate: 1, Samples: 50},
	})

	_, ok := a.VenuePerformance("gamma", "BTC/USDT")
	assert.False(t, ok)
	snap := a.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "alpha", snap[0].Venue)
}
