package domain

import (
	"context"
	"time"
)

// Ticker is the latest top-of-book snapshot for a symbol on one venue.
// Volume24h is expressed in quote currency.
type Ticker struct {
	Venue     string    `json:"venue"`
	Symbol    string    `json:"symbol"`
	Last      float64   `json:"last"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Volume24h float64   `json:"volume_24h"`
	Timestamp time.Time `json:"timestamp"`
}

// Mid returns the bid/ask midpoint, falling back to the last trade.
func (t Ticker) Mid() float64 {
	if t.Bid > 0 && t.Ask > 0 {
		return (t.Bid + t.Ask) / 2
	}
	return t.Last
}

// PriceLevel is one aggregated book level.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBook holds bids (descending) and asks (ascending).
type OrderBook struct {
	Venue     string       `json:"venue"`
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}

// Levels returns the side of the book an order on side would consume.
func (b OrderBook) Levels(side Side) []PriceLevel {
	if side == SideBuy {
		return b.Asks
	}
	return b.Bids
}

// Market carries exchange-declared precision and size constraints.
type Market struct {
	Symbol          string  `json:"symbol"`
	Base            string  `json:"base"`
	Quote           string  `json:"quote"`
	AmountPrecision int32   `json:"amount_precision"`
	PricePrecision  int32   `json:"price_precision"`
	MinAmount       float64 `json:"min_amount"`
	MinCost         float64 `json:"min_cost"`
	TakerFee        float64 `json:"taker_fee"`
	Active          bool    `json:"active"`
}

// Balance holds free/used/total amounts per asset.
type Balance struct {
	Free  map[string]float64 `json:"free"`
	Used  map[string]float64 `json:"used"`
	Total map[string]float64 `json:"total"`
}

// OrderRequest is what the executor sends to a venue.
type OrderRequest struct {
	Symbol   string         `json:"symbol"`
	Kind     OrderKind      `json:"kind"`
	Side     Side           `json:"side"`
	Amount   float64        `json:"amount"`
	Price    float64        `json:"price,omitempty"`
	ClientID string         `json:"client_id,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
}

// OrderState is the venue-reported order state.
type OrderState string

const (
	OrderStateOpen     OrderState = "open"
	OrderStateClosed   OrderState = "closed"
	OrderStateCanceled OrderState = "canceled"
	OrderStateRejected OrderState = "rejected"
)

// VenueOrder is a venue-side order.
type VenueOrder struct {
	ID        string     `json:"id"`
	Venue     string     `json:"venue"`
	Symbol    string     `json:"symbol"`
	Side      Side       `json:"side"`
	Kind      OrderKind  `json:"kind"`
	Amount    float64    `json:"amount"`
	Price     float64    `json:"price,omitempty"`
	Filled    float64    `json:"filled"`
	Remaining float64    `json:"remaining"`
	Average   float64    `json:"average"`
	Cost      float64    `json:"cost"`
	Fee       float64    `json:"fee"`
	State     OrderState `json:"state"`
	Timestamp time.Time  `json:"timestamp"`
}

// VenueClient is the exchange connectivity contract.
type VenueClient interface {
	Name() string
	LoadMarkets(ctx context.Context) (map[string]Market, error)
	FetchTicker(ctx context.Context, symbol string) (Ticker, error)
	FetchOrderBook(ctx context.Context, symbol string, depth int) (OrderBook, error)
	FetchBalance(ctx context.Context) (Balance, error)
	CreateOrder(ctx context.Context, req OrderRequest) (VenueOrder, error)
	FetchOrder(ctx context.Context, id, symbol string) (VenueOrder, error)
	CancelOrder(ctx context.Context, id, symbol string) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetSandboxMode(enabled bool)
}

// PriceValidation is the result of a cross-venue price consensus check.
type PriceValidation struct {
	Symbol          string             `json:"symbol"`
	ValidationScore float64            `json:"validation_score"`
	Prices          map[string]float64 `json:"prices"`
	Reason          string             `json:"reason,omitempty"`
}

// MarketValidator supplies cross-venue price consensus.
type MarketValidator interface {
	CrossValidatePrices(ctx context.Context, symbol string) (PriceValidation, error)
	EmergencyValidation(ctx context.Context, symbol string, price float64, venue string) (bool, error)
}

// MarketData feeds the slippage gate. Implementations return ErrDataUnavailable
// (wrapped) when an input is missing.
type MarketData interface {
	Ticker(ctx context.Context, symbol string) (Ticker, error)
	OrderBook(ctx context.Context, symbol string) (OrderBook, error)
	Volatility(ctx context.Context, symbol string) (float64, error)
}
