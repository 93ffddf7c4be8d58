package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/smartexec/internal/atomic"
	"github.com/alanyoungcy/smartexec/internal/domain"
)

var _ atomic.OrderSubmitter = (*Executor)(nil)

// Ticker quotes symbol on one venue.
func (e *Executor) Ticker(ctx context.Context, venue, symbol string) (domain.Ticker, error) {
	c, err := e.deps.Venues.Get(venue)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("executor: ticker: %w", err)
	}
	t, err := c.FetchTicker(ctx, symbol)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("executor: ticker %s on %s: %w", symbol, venue, err)
	}
	return t, nil
}

// Submit conforms req to the venue's market rules and sends it with bounded
// retry. Precision and minimum violations are returned as
// *domain.ValidationError without contacting the venue. Exhausted retries
// return *domain.VenueRejectionError.
func (e *Executor) Submit(ctx context.Context, venue string, req domain.OrderRequest) (domain.VenueOrder, error) {
	client, err := e.deps.Venues.Get(venue)
	if err != nil {
		return domain.VenueOrder{}, fmt.Errorf("executor: submit: %w", err)
	}
	market, ok := e.deps.Venues.Market(venue, req.Symbol)
	if !ok {
		return domain.VenueOrder{}, &domain.ValidationError{Violations: []string{fmt.Sprintf("%s is not listed on %s", req.Symbol, venue)}}
	}

	ref := req.Price
	if req.Kind != domain.OrderKindLimit && market.MinCost > 0 {
		if t, err := client.FetchTicker(ctx, req.Symbol); err == nil {
			ref = t.Ask
			if req.Side == domain.SideSell {
				ref = t.Bid
			}
			if ref <= 0 {
				ref = t.Mid()
			}
		}
	}
	req, err = conform(req, market, ref)
	if err != nil {
		e.logger.WarnContext(ctx, "order does not meet venue rules",
			slog.String("venue", venue),
			slog.String("symbol", req.Symbol),
			slog.Float64("amount", req.Amount),
			slog.Float64("price", req.Price),
			slog.String("error", err.Error()),
		)
		return domain.VenueOrder{}, err
	}

	log := e.logger.With(
		slog.String("venue", venue),
		slog.String("symbol", req.Symbol),
		slog.String("client_id", req.ClientID),
	)

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = errors.Join(domain.ErrContextDone, err)
			break
		}
		attempts = attempt

		order, err := e.attempt(ctx, client, venue, req)
		if err == nil {
			if e.deps.Metrics != nil {
				e.deps.Metrics.RecordSubmission(ctx, venue, attempt, nil)
			}
			log.InfoContext(ctx, "order placed successfully",
				slog.String("order_id", order.ID),
				slog.String("side", string(req.Side)),
				slog.Float64("amount", req.Amount),
				slog.Float64("filled", order.Filled),
				slog.Float64("average", order.Average),
				slog.Int("attempt", attempt),
			)
			return order, nil
		}
		if errors.Is(err, domain.ErrInvalidOrder) {
			return domain.VenueOrder{}, fmt.Errorf("executor: submit to %s: %w", venue, err)
		}
		lastErr = err
		log.WarnContext(ctx, "order submission failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", e.cfg.MaxRetries),
			slog.String("side", string(req.Side)),
			slog.Float64("amount", req.Amount),
			slog.Float64("price", req.Price),
			slog.String("error", err.Error()),
		)

		if attempt < e.cfg.MaxRetries {
			if err := e.sleep(ctx, e.cfg.RetryBackoff*time.Duration(attempt)); err != nil {
				lastErr = errors.Join(lastErr, domain.ErrContextDone, err)
				break
			}
		}
	}

	rej := &domain.VenueRejectionError{Venue: venue, Symbol: req.Symbol, Attempts: attempts, Err: lastErr}
	if e.deps.Metrics != nil {
		e.deps.Metrics.RecordSubmission(ctx, venue, attempts, rej)
	}
	log.ErrorContext(ctx, "order rejected",
		slog.Int("attempts", attempts),
		slog.String("error", rej.Error()),
	)
	return domain.VenueOrder{}, rej
}

func (e *Executor) attempt(ctx context.Context, client domain.VenueClient, venue string, req domain.OrderRequest) (domain.VenueOrder, error) {
	if err := e.throttle(ctx, venue); err != nil {
		return domain.VenueOrder{}, err
	}
	order, err := client.CreateOrder(ctx, req)
	if err != nil {
		return domain.VenueOrder{}, err
	}
	if order.State == domain.OrderStateRejected {
		return domain.VenueOrder{}, fmt.Errorf("order %s: %w", order.ID, domain.ErrVenueRejected)
	}
	if order.Venue == "" {
		order.Venue = venue
	}
	return order, nil
}

// throttle applies the per-venue rate limit. Limiter failures let the order
// through.
func (e *Executor) throttle(ctx context.Context, venue string) error {
	if e.deps.Limiter == nil || e.cfg.RateLimit <= 0 {
		return nil
	}
	ok, err := e.deps.Limiter.Allow(ctx, "venue:"+venue, e.cfg.RateLimit, e.cfg.RateWindow)
	if err != nil {
		e.logger.DebugContext(ctx, "rate limiter unavailable",
			slog.String("venue", venue),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if !ok {
		return fmt.Errorf("venue %s: %w", venue, domain.ErrRateLimited)
	}
	return nil
}

// conform rounds amount and limit price down to the market's precision and
// checks the venue minimums. ref prices the notional check.
func conform(req domain.OrderRequest, m domain.Market, ref float64) (domain.OrderRequest, error) {
	verr := &domain.ValidationError{}

	amt := decimal.NewFromFloat(req.Amount).RoundFloor(m.AmountPrecision)
	req.Amount = amt.InexactFloat64()
	if req.Kind == domain.OrderKindLimit {
		px := decimal.NewFromFloat(req.Price).RoundFloor(m.PricePrecision)
		req.Price = px.InexactFloat64()
		if !px.IsPositive() {
			verr.Add("limit price rounds to zero at precision %d", m.PricePrecision)
		}
		ref = req.Price
	}

	switch {
	case !amt.IsPositive():
		verr.Add("amount rounds to zero at precision %d", m.AmountPrecision)
	case m.MinAmount > 0 && req.Amount < m.MinAmount:
		verr.Add("amount %s below venue minimum %v", amt.String(), m.MinAmount)
	}
	if m.MinCost > 0 && ref > 0 && amt.IsPositive() {
		notional := amt.Mul(decimal.NewFromFloat(ref))
		if notional.LessThan(decimal.NewFromFloat(m.MinCost)) {
			verr.Add("notional %s below venue minimum %v", notional.StringFixed(2), m.MinCost)
		}
	}
	return req, verr.OrNil()
}
