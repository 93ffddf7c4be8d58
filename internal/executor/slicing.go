package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/smartexec/internal/domain"
	"github.com/alanyoungcy/smartexec/internal/slippage"
)

// runResult collects the orders of one execution.
type runResult struct {
	orders    []domain.VenueOrder
	errs      []string
	submitted int
	fees      float64
	lastErr   error
}

func (r *runResult) add(o domain.VenueOrder) {
	r.orders = append(r.orders, o)
	r.fees += o.Fee
}

func (r *runResult) fail(err error) {
	r.errs = append(r.errs, err.Error())
	r.lastErr = err
}

func (e *Executor) run(ctx context.Context, req domain.ExecutionRequest, p plan, log *slog.Logger) runResult {
	clientBase := req.ID
	if clientBase == "" {
		clientBase = uuid.NewString()
	}
	s := slicer{e: e, req: req, venue: p.venue, clientBase: clientBase, log: log}

	switch p.mode {
	case domain.ModeTWAP:
		return s.twap(ctx, p.amount, p.slices, p.interval)
	case domain.ModeIceberg:
		return s.iceberg(ctx, p.amount, p.peak)
	case domain.ModeSplit:
		return s.split(ctx, p.amount, p.sliceSize)
	default:
		var r runResult
		s.submit(ctx, &r, p.amount, false)
		return r
	}
}

type slicer struct {
	e          *Executor
	req        domain.ExecutionRequest
	venue      string
	clientBase string
	log        *slog.Logger
	n          int
}

// submit sends one slice. requote forces a fresh limit price from the live
// ticker. It reports the filled amount and whether the venue accepted it.
func (s *slicer) submit(ctx context.Context, r *runResult, amount float64, requote bool) (float64, bool) {
	s.n++
	or := domain.OrderRequest{
		Symbol:   s.req.Symbol,
		Kind:     s.req.Kind,
		Side:     s.req.Side,
		Amount:   amount,
		ClientID: fmt.Sprintf("%s-%d", s.clientBase, s.n),
	}
	if or.Kind == domain.OrderKindLimit {
		px, err := s.limitPrice(ctx, requote)
		if err != nil {
			r.fail(err)
			return 0, false
		}
		or.Price = px
	}

	o, err := s.e.Submit(ctx, s.venue, or)
	if err != nil {
		if !errors.Is(err, domain.ErrInvalidOrder) {
			r.submitted++
		}
		r.fail(err)
		s.log.WarnContext(ctx, "slice rejected",
			slog.String("venue", s.venue),
			slog.String("client_id", or.ClientID),
			slog.Float64("amount", amount),
			slog.Float64("price", or.Price),
			slog.String("error", err.Error()),
		)
		return 0, false
	}
	r.submitted++
	r.add(o)
	return o.Filled, true
}

// limitPrice is the target price, or the touch on the venue when none is
// set or requote is requested. A target still caps the touch.
func (s *slicer) limitPrice(ctx context.Context, requote bool) (float64, error) {
	target := s.req.TargetPrice
	if target > 0 && !requote {
		return target, nil
	}
	t, err := s.e.Ticker(ctx, s.venue, s.req.Symbol)
	if err != nil {
		return 0, fmt.Errorf("executor: quote %s on %s: %w", s.req.Symbol, s.venue, err)
	}
	touch := t.Ask
	if s.req.Side == domain.SideSell {
		touch = t.Bid
	}
	if touch <= 0 {
		touch = t.Mid()
	}
	if touch <= 0 {
		return 0, fmt.Errorf("executor: quote %s on %s: %w", s.req.Symbol, s.venue, domain.ErrDataUnavailable)
	}
	if target > 0 {
		if s.req.Side == domain.SideBuy {
			touch = math.Min(touch, target)
		} else {
			touch = math.Max(touch, target)
		}
	}
	return touch, nil
}

// twap sends equal slices at a fixed interval. A rejected slice does not
// stop the run.
func (s *slicer) twap(ctx context.Context, amount float64, slices int, interval time.Duration) runResult {
	var r runResult
	sizes := slippage.SplitSizes(amount, slices)
	for i, sz := range sizes {
		if i > 0 {
			if err := s.e.sleep(ctx, interval); err != nil {
				r.fail(fmt.Errorf("executor: twap interrupted after %d of %d slices: %w", i, len(sizes), err))
				break
			}
		}
		s.submit(ctx, &r, sz, true)
	}
	return r
}

// iceberg exposes peak at a time until amount is filled. A rejection or a
// zero fill stops the loop.
func (s *slicer) iceberg(ctx context.Context, amount, peak float64) runResult {
	var r runResult
	if peak <= 0 || peak > amount {
		peak = amount
	}
	remaining := decimal.NewFromFloat(amount)
	dp := decimal.NewFromFloat(peak)
	for remaining.IsPositive() {
		size := decimal.Min(dp, remaining)
		filled, ok := s.submit(ctx, &r, size.InexactFloat64(), false)
		if !ok {
			break
		}
		if filled <= 0 {
			r.fail(fmt.Errorf("executor: iceberg slice on %s: zero fill", s.venue))
			break
		}
		remaining = remaining.Sub(decimal.NewFromFloat(filled))
		if !remaining.IsPositive() {
			break
		}
		if err := s.e.sleep(ctx, s.e.cfg.IcebergWait); err != nil {
			r.fail(fmt.Errorf("executor: iceberg interrupted: %w", err))
			break
		}
	}
	return r
}

// split sends slices of at most sliceSize back to back with a short delay.
func (s *slicer) split(ctx context.Context, amount, sliceSize float64) runResult {
	parts := 1
	if sliceSize > 0 && sliceSize < amount {
		parts = int(math.Ceil(amount / sliceSize))
	}
	if parts > s.e.cfg.MaxSlices {
		parts = s.e.cfg.MaxSlices
	}
	var r runResult
	for i, sz := range slippage.SplitSizes(amount, parts) {
		if i > 0 {
			if err := s.e.sleep(ctx, s.e.cfg.SplitDelay); err != nil {
				r.fail(fmt.Errorf("executor: split interrupted after %d of %d slices: %w", i, parts, err))
				break
			}
		}
		s.submit(ctx, &r, sz, false)
	}
	return r
}
