package domain

import (
	"context"
	"time"
)

// MarketDataCache keeps the latest tickers and books for fast lookups.
type MarketDataCache interface {
	SetTicker(ctx context.Context, t Ticker) error
	GetTicker(ctx context.Context, symbol string) (Ticker, error)
	SetOrderBook(ctx context.Context, b OrderBook) error
	GetOrderBook(ctx context.Context, symbol string) (OrderBook, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Signal bus channels and streams.
const (
	ChannelAlerts       = "ch:alert"
	ChannelExecutions   = "ch:execution"
	ChannelTransactions = "ch:transaction"
	ChannelTickerPrefix = "ch:ticker:"
	StreamAlerts        = "stream:alerts"
	StreamExecutions    = "stream:executions"
	StreamRequests      = "stream:requests"
)
