package venue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

// PaperMarket configures one simulated market. Spread is a fraction of price;
// the synthetic book has Levels levels of LevelSize each, one spread apart.
type PaperMarket struct {
	domain.Market
	Price     float64
	Spread    float64
	LevelSize float64
	Levels    int
	Volume24h float64
}

// Paper is a simulated venue with virtual balances. Market orders fill at
// the touch, limit orders fill at their own price when they cross.
type Paper struct {
	name   string
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	markets  map[string]PaperMarket
	prices   map[string]decimal.Decimal
	free     map[string]decimal.Decimal
	orders   map[string]domain.VenueOrder
	leverage map[string]int
	sandbox  bool
}

// NewPaper creates a paper venue seeded with balances per asset.
func NewPaper(name string, markets []PaperMarket, balances map[string]float64, logger *slog.Logger) *Paper {
	p := &Paper{
		name:     name,
		logger:   logger.With(slog.String("component", "paper_venue"), slog.String("venue", name)),
		now:      time.Now,
		markets:  make(map[string]PaperMarket, len(markets)),
		prices:   make(map[string]decimal.Decimal, len(markets)),
		free:     make(map[string]decimal.Decimal, len(balances)),
		orders:   make(map[string]domain.VenueOrder),
		leverage: make(map[string]int),
		sandbox:  true,
	}
	for _, m := range markets {
		if m.Base == "" || m.Quote == "" {
			m.Base, m.Quote = splitSymbol(m.Symbol)
		}
		if m.Levels <= 0 {
			m.Levels = 10
		}
		p.markets[m.Symbol] = m
		if m.Price > 0 {
			p.prices[m.Symbol] = decimal.NewFromFloat(m.Price)
		}
	}
	for asset, amt := range balances {
		p.free[asset] = decimal.NewFromFloat(amt)
	}
	return p
}

func splitSymbol(symbol string) (string, string) {
	if base, quote, ok := strings.Cut(symbol, "/"); ok {
		return base, quote
	}
	return symbol, ""
}

// Name returns the venue name.
func (p *Paper) Name() string { return p.name }

// SetPrice moves the simulated mid price of symbol.
func (p *Paper) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = decimal.NewFromFloat(price)
}

// Deposit credits amount of asset.
func (p *Paper) Deposit(asset string, amount float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free[asset] = p.free[asset].Add(decimal.NewFromFloat(amount))
}

func (p *Paper) LoadMarkets(context.Context) (map[string]domain.Market, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]domain.Market, len(p.markets))
	for sym, m := range p.markets {
		out[sym] = m.Market
	}
	return out, nil
}

// touch returns bid and ask for symbol. Caller holds p.mu.
func (p *Paper) touch(symbol string) (PaperMarket, decimal.Decimal, decimal.Decimal, error) {
	m, ok := p.markets[symbol]
	if !ok {
		return PaperMarket{}, decimal.Zero, decimal.Zero, fmt.Errorf("paper %s: market %s: %w", p.name, symbol, domain.ErrNotFound)
	}
	mid, ok := p.prices[symbol]
	if !ok || !mid.IsPositive() {
		return m, decimal.Zero, decimal.Zero, fmt.Errorf("paper %s: price %s: %w", p.name, symbol, domain.ErrDataUnavailable)
	}
	half := decimal.NewFromFloat(m.Spread).Div(decimal.NewFromInt(2))
	bid := mid.Mul(decimal.NewFromInt(1).Sub(half))
	ask := mid.Mul(decimal.NewFromInt(1).Add(half))
	return m, bid, ask, nil
}

func (p *Paper) FetchTicker(_ context.Context, symbol string) (domain.Ticker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, bid, ask, err := p.touch(symbol)
	if err != nil {
		return domain.Ticker{}, err
	}
	return domain.Ticker{
		Venue:     p.name,
		Symbol:    symbol,
		Last:      p.prices[symbol].InexactFloat64(),
		Bid:       bid.InexactFloat64(),
		Ask:       ask.InexactFloat64(),
		Volume24h: m.Volume24h,
		Timestamp: p.now(),
	}, nil
}

func (p *Paper) FetchOrderBook(_ context.Context, symbol string, depth int) (domain.OrderBook, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, bid, ask, err := p.touch(symbol)
	if err != nil {
		return domain.OrderBook{}, err
	}
	levels := m.Levels
	if depth > 0 && depth < levels {
		levels = depth
	}
	step := p.prices[symbol].Mul(decimal.NewFromFloat(m.Spread))
	if step.IsZero() {
		step = p.prices[symbol].Mul(decimal.NewFromFloat(0.0001))
	}
	book := domain.OrderBook{Venue: p.name, Symbol: symbol, Timestamp: p.now()}
	for i := 0; i < levels; i++ {
		off := step.Mul(decimal.NewFromInt(int64(i)))
		book.Bids = append(book.Bids, domain.PriceLevel{Price: bid.Sub(off).InexactFloat64(), Size: m.LevelSize})
		book.Asks = append(book.Asks, domain.PriceLevel{Price: ask.Add(off).InexactFloat64(), Size: m.LevelSize})
	}
	return book, nil
}

func (p *Paper) FetchBalance(context.Context) (domain.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b := domain.Balance{
		Free:  make(map[string]float64, len(p.free)),
		Used:  make(map[string]float64),
		Total: make(map[string]float64, len(p.free)),
	}
	for asset, amt := range p.free {
		b.Free[asset] = amt.InexactFloat64()
		b.Total[asset] = amt.InexactFloat64()
	}
	return b, nil
}

// CreateOrder simulates immediate execution against virtual balances.
func (p *Paper) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.VenueOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, bid, ask, err := p.touch(req.Symbol)
	if err != nil {
		return domain.VenueOrder{}, err
	}
	if !m.Active {
		return domain.VenueOrder{}, fmt.Errorf("paper %s: market %s inactive: %w", p.name, req.Symbol, domain.ErrVenueRejected)
	}
	if !req.Side.Valid() || !(req.Amount > 0) {
		return domain.VenueOrder{}, fmt.Errorf("paper %s: bad order: %w", p.name, domain.ErrInvalidOrder)
	}

	amount := decimal.NewFromFloat(req.Amount)
	order := domain.VenueOrder{
		ID:        uuid.NewString(),
		Venue:     p.name,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Kind:      req.Kind,
		Amount:    req.Amount,
		Price:     req.Price,
		Remaining: req.Amount,
		State:     domain.OrderStateOpen,
		Timestamp: p.now(),
	}

	var price decimal.Decimal
	switch req.Kind {
	case domain.OrderKindLimit:
		limit := decimal.NewFromFloat(req.Price)
		crosses := (req.Side == domain.SideBuy && limit.GreaterThanOrEqual(ask)) ||
			(req.Side == domain.SideSell && limit.LessThanOrEqual(bid))
		if !crosses {
			p.orders[order.ID] = order
			return order, nil
		}
		price = limit
	default:
		price = ask
		if req.Side == domain.SideSell {
			price = bid
		}
	}

	cost := price.Mul(amount)
	fee := cost.Mul(decimal.NewFromFloat(m.TakerFee))
	if req.Side == domain.SideBuy {
		need := cost.Add(fee)
		if p.free[m.Quote].LessThan(need) {
			return domain.VenueOrder{}, fmt.Errorf("paper %s: insufficient %s balance: need %s, have %s: %w",
				p.name, m.Quote, need.StringFixed(8), p.free[m.Quote].StringFixed(8), domain.ErrVenueRejected)
		}
		p.free[m.Quote] = p.free[m.Quote].Sub(need)
		p.free[m.Base] = p.free[m.Base].Add(amount)
	} else {
		if p.free[m.Base].LessThan(amount) {
			return domain.VenueOrder{}, fmt.Errorf("paper %s: insufficient %s balance: need %s, have %s: %w",
				p.name, m.Base, amount.StringFixed(8), p.free[m.Base].StringFixed(8), domain.ErrVenueRejected)
		}
		p.free[m.Base] = p.free[m.Base].Sub(amount)
		p.free[m.Quote] = p.free[m.Quote].Add(cost.Sub(fee))
	}

	order.Filled = req.Amount
	order.Remaining = 0
	order.Average = price.InexactFloat64()
	order.Cost = cost.InexactFloat64()
	order.Fee = fee.InexactFloat64()
	order.State = domain.OrderStateClosed
	p.orders[order.ID] = order

	p.logger.InfoContext(ctx, "paper order filled",
		slog.String("order_id", order.ID),
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.String("price", price.String()),
		slog.String("amount", amount.String()),
	)
	return order, nil
}

func (p *Paper) FetchOrder(_ context.Context, id, _ string) (domain.VenueOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[id]
	if !ok {
		return domain.VenueOrder{}, fmt.Errorf("paper %s: order %s: %w", p.name, id, domain.ErrNotFound)
	}
	return o, nil
}

func (p *Paper) CancelOrder(_ context.Context, id, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[id]
	if !ok {
		return fmt.Errorf("paper %s: order %s: %w", p.name, id, domain.ErrNotFound)
	}
	if o.State != domain.OrderStateOpen {
		return fmt.Errorf("paper %s: order %s is %s: %w", p.name, id, o.State, domain.ErrInvalidOrder)
	}
	o.State = domain.OrderStateCanceled
	p.orders[id] = o
	return nil
}

func (p *Paper) SetLeverage(_ context.Context, symbol string, leverage int) error {
	if leverage < 1 {
		return fmt.Errorf("paper %s: leverage %d: %w", p.name, leverage, domain.ErrInvalidOrder)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leverage[symbol] = leverage
	return nil
}

func (p *Paper) SetSandboxMode(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sandbox = enabled
}

var _ domain.VenueClient = (*Paper)(nil)
