package venue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

// MarketDataConfig tunes the provider.
type MarketDataConfig struct {
	BookDepth        int
	VolatilityWindow int
	RefreshInterval  time.Duration
	MaxTickerAge     time.Duration
}

// DefaultMarketDataConfig returns the reference settings.
func DefaultMarketDataConfig() MarketDataConfig {
	return MarketDataConfig{
		BookDepth:        20,
		VolatilityWindow: 60,
		RefreshInterval:  time.Second,
		MaxTickerAge:     5 * time.Second,
	}
}

// MarketData consolidates tickers and books across the registry. It prefers
// the shared cache when one is configured and keeps a rolling window of log
// returns per symbol for volatility.
type MarketData struct {
	registry *Registry
	cache    domain.MarketDataCache
	bus      domain.SignalBus
	cfg      MarketDataConfig
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	last    map[string]float64
	returns map[string][]float64
}

// NewMarketData creates a provider. cache and bus may be nil.
func NewMarketData(registry *Registry, cache domain.MarketDataCache, bus domain.SignalBus, cfg MarketDataConfig, logger *slog.Logger) *MarketData {
	if cfg.VolatilityWindow < 2 {
		cfg.VolatilityWindow = 2
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Second
	}
	return &MarketData{
		registry: registry,
		cache:    cache,
		bus:      bus,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "market_data")),
		now:      time.Now,
		last:     make(map[string]float64),
		returns:  make(map[string][]float64),
	}
}

// Ticker returns a consolidated ticker for symbol.
func (m *MarketData) Ticker(ctx context.Context, symbol string) (domain.Ticker, error) {
	if m.cache != nil {
		if t, err := m.cache.GetTicker(ctx, symbol); err == nil && m.fresh(t) {
			return t, nil
		}
	}
	var lastErr error
	for _, name := range m.registry.VenuesFor(symbol) {
		t, err := m.VenueTicker(ctx, name, symbol)
		if err != nil {
			lastErr = err
			continue
		}
		m.store(ctx, t)
		return t, nil
	}
	if lastErr == nil {
		lastErr = domain.ErrNotFound
	}
	return domain.Ticker{}, fmt.Errorf("venue: ticker %s: %w", symbol, errors.Join(domain.ErrDataUnavailable, lastErr))
}

func (m *MarketData) fresh(t domain.Ticker) bool {
	if m.cfg.MaxTickerAge <= 0 || t.Timestamp.IsZero() {
		return true
	}
	return m.now().Sub(t.Timestamp) <= m.cfg.MaxTickerAge
}

// VenueTicker fetches the ticker of symbol on one venue.
func (m *MarketData) VenueTicker(ctx context.Context, venue, symbol string) (domain.Ticker, error) {
	c, err := m.registry.Get(venue)
	if err != nil {
		return domain.Ticker{}, err
	}
	t, err := c.FetchTicker(ctx, symbol)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("venue: %s ticker %s: %w", venue, symbol, err)
	}
	if t.Venue == "" {
		t.Venue = venue
	}
	return t, nil
}

// OrderBook returns the book of the first venue that serves symbol.
func (m *MarketData) OrderBook(ctx context.Context, symbol string) (domain.OrderBook, error) {
	if m.cache != nil {
		if b, err := m.cache.GetOrderBook(ctx, symbol); err == nil && (len(b.Bids) > 0 || len(b.Asks) > 0) {
			return b, nil
		}
	}
	var lastErr error = domain.ErrNotFound
	for _, name := range m.registry.VenuesFor(symbol) {
		c, err := m.registry.Get(name)
		if err != nil {
			lastErr = err
			continue
		}
		b, err := c.FetchOrderBook(ctx, symbol, m.cfg.BookDepth)
		if err != nil {
			lastErr = err
			continue
		}
		if m.cache != nil {
			if err := m.cache.SetOrderBook(ctx, b); err != nil {
				m.logger.DebugContext(ctx, "order book cache write failed", slog.String("symbol", symbol), slog.String("error", err.Error()))
			}
		}
		return b, nil
	}
	return domain.OrderBook{}, fmt.Errorf("venue: order book %s: %w", symbol, errors.Join(domain.ErrDataUnavailable, lastErr))
}

// Volatility is the sample standard deviation of the retained log returns.
func (m *MarketData) Volatility(_ context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	rets := append([]float64(nil), m.returns[symbol]...)
	m.mu.Unlock()

	if len(rets) < 2 {
		return 0, fmt.Errorf("venue: volatility %s: %w", symbol, domain.ErrDataUnavailable)
	}
	var mean float64
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	var ss float64
	for _, r := range rets {
		ss += (r - mean) * (r - mean)
	}
	return math.Sqrt(ss / float64(len(rets)-1)), nil
}

// Observe feeds a price into the volatility window.
func (m *MarketData) Observe(symbol string, price float64) {
	if price <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.last[symbol]; ok && prev > 0 && prev != price {
		rets := append(m.returns[symbol], math.Log(price/prev))
		if len(rets) > m.cfg.VolatilityWindow {
			rets = rets[len(rets)-m.cfg.VolatilityWindow:]
		}
		m.returns[symbol] = rets
	}
	m.last[symbol] = price
}

func (m *MarketData) store(ctx context.Context, t domain.Ticker) {
	m.Observe(t.Symbol, t.Mid())
	if m.cache != nil {
		if err := m.cache.SetTicker(ctx, t); err != nil {
			m.logger.DebugContext(ctx, "ticker cache write failed", slog.String("symbol", t.Symbol), slog.String("error", err.Error()))
		}
	}
}

// Refresh polls every venue for every listed symbol once.
func (m *MarketData) Refresh(ctx context.Context) {
	for _, sym := range m.registry.Symbols() {
		for _, name := range m.registry.VenuesFor(sym) {
			t, err := m.VenueTicker(ctx, name, sym)
			if err != nil {
				m.logger.DebugContext(ctx, "ticker refresh failed",
					slog.String("venue", name), slog.String("symbol", sym), slog.String("error", err.Error()))
				continue
			}
			m.store(ctx, t)
			if m.bus == nil {
				continue
			}
			payload, err := json.Marshal(t)
			if err != nil {
				continue
			}
			if err := m.bus.Publish(ctx, domain.ChannelTickerPrefix+sym, payload); err != nil {
				m.logger.DebugContext(ctx, "ticker publish failed", slog.String("symbol", sym), slog.String("error", err.Error()))
			}
		}
	}
}

// Run refreshes on a fixed interval until ctx is cancelled.
func (m *MarketData) Run(ctx context.Context) error {
	m.Refresh(ctx)
	ticker := time.NewTicker(m.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Refresh(ctx)
		}
	}
}

var _ domain.MarketData = (*MarketData)(nil)
