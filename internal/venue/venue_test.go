package venue

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func btcMarket(price float64) PaperMarket {
	return PaperMarket{
		Market: domain.Market{
			Symbol: "BTC/USDT", AmountPrecision: 6, PricePrecision: 2,
			MinAmount: 0.0001, MinCost: 5, TakerFee: 0.001, Active: true,
		},
		Price: price, Spread: 0.001, LevelSize: 2, Levels: 5, Volume24h: 1e8,
	}
}

func newPaper(name string, price float64) *Paper {
	return NewPaper(name, []PaperMarket{btcMarket(price)}, map[string]float64{"USDT": 100000, "BTC": 1}, testLogger())
}

func TestPaperMarketBuyFillsAtAsk(t *testing.T) {
	p := newPaper("alpha", 50000)
	ctx := context.Background()

	o, err := p.CreateOrder(ctx, domain.OrderRequest{Symbol: "BTC/USDT", Kind: domain.OrderKindMarket, Side: domain.SideBuy, Amount: 1})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStateClosed, o.State)
	assert.InDelta(t, 50025, o.Average, 1e-6)
	assert.InDelta(t, 50.025, o.Fee, 1e-6)

	bal, err := p.FetchBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 2, bal.Free["BTC"], 1e-12)
	assert.InDelta(t, 100000-50025-50.025, bal.Free["USDT"], 1e-6)

	got, err := p.FetchOrder(ctx, o.ID, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
}

func TestPaperRejectsInsufficientBalance(t *testing.T) {
	p := newPaper("alpha", 50000)
	_, err := p.CreateOrder(context.Background(), domain.OrderRequest{Symbol: "BTC/USDT", Kind: domain.OrderKindMarket, Side: domain.SideSell, Amount: 5})
	assert.ErrorIs(t, err, domain.ErrVenueRejected)
}

func TestPaperLimitOrderRestsUntilCancelled(t *testing.T) {
	p := newPaper("alpha", 50000)
	ctx := context.Background()

	o, err := p.CreateOrder(ctx, domain.OrderRequest{Symbol: "BTC/USDT", Kind: domain.OrderKindLimit, Side: domain.SideBuy, Amount: 0.1, Price: 49000})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStateOpen, o.State)
	assert.Zero(t, o.Filled)

	require.NoError(t, p.CancelOrder(ctx, o.ID, "BTC/USDT"))
	assert.ErrorIs(t, p.CancelOrder(ctx, o.ID, "BTC/USDT"), domain.ErrInvalidOrder)
}

func TestPaperOrderBookLevels(t *testing.T) {
	p := newPaper("alpha", 100)
	book, err := p.FetchOrderBook(context.Background(), "BTC/USDT", 3)
	require.NoError(t, err)
	require.Len(t, book.Asks, 3)
	assert.InDelta(t, 100.05, book.Asks[0].Price, 1e-9)
	assert.InDelta(t, 100.15, book.Asks[1].Price, 1e-9)
	assert.Greater(t, book.Bids[0].Price, book.Bids[1].Price)

	_, err = p.FetchTicker(context.Background(), "ETH/USDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegistryAndConsensus(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	require.NoError(t, reg.Register(ctx, newPaper("alpha", 100)))
	require.NoError(t, reg.Register(ctx, newPaper("beta", 101)))
	require.NoError(t, reg.Register(ctx, newPaper("gamma", 150)))
	assert.ErrorIs(t, reg.Register(ctx, newPaper("alpha", 1)), domain.ErrAlreadyExists)

	assert.Equal(t, []string{"alpha", "beta", "gamma"}, reg.VenuesFor("BTC/USDT"))
	assert.Empty(t, reg.VenuesFor("ETH/USDT"))

	md := NewMarketData(reg, nil, nil, DefaultMarketDataConfig(), testLogger())
	v := NewConsensusValidator(reg, md, DefaultValidatorConfig())

	res, err := v.CrossValidatePrices(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, res.ValidationScore, 1e-9)
	assert.Len(t, res.Prices, 3)

	ok, err := v.EmergencyValidation(ctx, "BTC/USDT", 102, "alpha")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = v.EmergencyValidation(ctx, "BTC/USDT", 120, "alpha")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = v.CrossValidatePrices(ctx, "ETH/USDT")
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func TestSingleVenueConsensusScore(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	require.NoError(t, reg.Register(ctx, newPaper("alpha", 100)))
	md := NewMarketData(reg, nil, nil, DefaultMarketDataConfig(), testLogger())

	res, err := NewConsensusValidator(reg, md, DefaultValidatorConfig()).CrossValidatePrices(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, res.ValidationScore, 1e-12)
}

func TestMarketDataVolatility(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	p := newPaper("alpha", 100)
	require.NoError(t, reg.Register(ctx, p))
	md := NewMarketData(reg, nil, nil, DefaultMarketDataConfig(), testLogger())

	_, err := md.Volatility(ctx, "BTC/USDT")
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)

	for _, px := range []float64{100, 101, 100, 102} {
		p.SetPrice("BTC/USDT", px)
		md.Refresh(ctx)
	}
	vol, err := md.Volatility(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Greater(t, vol, 0.0)

	tk, err := md.Ticker(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "alpha", tk.Venue)

	_, err = md.OrderBook(ctx, "ETH/USDT")
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}
