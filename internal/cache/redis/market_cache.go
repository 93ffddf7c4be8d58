package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

// MarketCache implements domain.MarketDataCache. Aggregated tickers and
// order books are stored as JSON under
//
//	{prefix}:ticker:{symbol}
//	{prefix}:book:{symbol}
//
// and expire after ttl so a stalled feed falls back to live venue reads.
type MarketCache struct {
	c   *Client
	ttl time.Duration
}

// NewMarketCache creates a MarketCache. A zero ttl keeps entries forever.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	return &MarketCache{c: c, ttl: ttl}
}

func (mc *MarketCache) tickerKey(symbol string) string { return mc.c.key("ticker", symbol) }
func (mc *MarketCache) bookKey(symbol string) string   { return mc.c.key("book", symbol) }

// SetTicker stores t under its symbol.
func (mc *MarketCache) SetTicker(ctx context.Context, t domain.Ticker) error {
	return mc.set(ctx, mc.tickerKey(t.Symbol), t)
}

// GetTicker returns the cached ticker or domain.ErrNotFound.
func (mc *MarketCache) GetTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	var t domain.Ticker
	err := mc.get(ctx, mc.tickerKey(symbol), &t)
	return t, err
}

// SetOrderBook stores b under its symbol.
func (mc *MarketCache) SetOrderBook(ctx context.Context, b domain.OrderBook) error {
	return mc.set(ctx, mc.bookKey(b.Symbol), b)
}

// GetOrderBook returns the cached book or domain.ErrNotFound.
func (mc *MarketCache) GetOrderBook(ctx context.Context, symbol string) (domain.OrderBook, error) {
	var b domain.OrderBook
	err := mc.get(ctx, mc.bookKey(symbol), &b)
	return b, err
}

func (mc *MarketCache) set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis: marshal %s: %w", key, err)
	}
	if err := mc.c.rdb.Set(ctx, key, data, mc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

func (mc *MarketCache) get(ctx context.Context, key string, v any) error {
	data, err := mc.c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("redis: get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("redis: unmarshal %s: %w", key, err)
	}
	return nil
}

var _ domain.MarketDataCache = (*MarketCache)(nil)
