// Package executor is the execution orchestrator. It picks a venue and mode
// from the cost analyzer and the learned policy, applies the slippage gate,
// slices the order and feeds the outcome back into both learners.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/alanyoungcy/smartexec/internal/domain"
	"github.com/alanyoungcy/smartexec/internal/slippage"
)

// Plan sources reported in ExecutionResult.Source.
const (
	SourceRequest = "request"
	SourceTCA     = "tca"
	SourcePolicy  = "policy"
	SourceDefault = "default"
)

// Venues is the venue layer orders are routed through.
type Venues interface {
	Get(name string) (domain.VenueClient, error)
	Market(venue, symbol string) (domain.Market, bool)
	VenuesFor(symbol string) []string
}

// CostModel is the transaction cost analyzer.
type CostModel interface {
	Record(ctx context.Context, cost domain.TransactionCost) error
	Recommend(symbol string, size float64, venues []string, urgency domain.Urgency) (domain.CostRecommendation, error)
	Performance() []domain.VenuePerformance
	Summary() domain.TCASummary
}

// Learner is the execution policy.
type Learner interface {
	GenerateActions(size float64, venues []string) []domain.PolicyAction
	SelectAction(state domain.MarketState, actions []domain.PolicyAction) (domain.PolicyAction, error)
	Update(state domain.MarketState, a domain.PolicyAction, outcome domain.ExecutionOutcome, next *domain.MarketState) float64
	Summary() domain.PolicySummary
}

// Transactions is the atomic engine used for multi-leg requests.
type Transactions interface {
	CreateTransaction(ctx context.Context, specs []domain.LegSpec) (string, error)
	Execute(ctx context.Context, id string) (*domain.Transaction, error)
	Active() []*domain.Transaction
}

// Metrics receives execution instruments. Implemented by telemetry.
type Metrics interface {
	RecordExecution(ctx context.Context, mode domain.ExecutionMode, venue string, success bool, latency time.Duration, slippage float64)
	RecordSubmission(ctx context.Context, venue string, attempts int, err error)
	RecordVeto(ctx context.Context, symbol string, level domain.RiskLevel)
}

// Config tunes routing, slicing and retry.
type Config struct {
	TCAConfidence   float64
	MaxRetries      int
	RetryBackoff    time.Duration
	TWAPSlices      int
	TWAPInterval    time.Duration
	SplitDelay      time.Duration
	IcebergWait     time.Duration
	MaxSlices       int
	MaxDelays       int
	MaxDelayWait    time.Duration
	RateLimit       int
	RateWindow      time.Duration
	DedupTTL        time.Duration
	CleanupInterval time.Duration
	QueueSize       int
}

// DefaultConfig returns the reference settings.
func DefaultConfig() Config {
	return Config{
		TCAConfidence:   0.7,
		MaxRetries:      3,
		RetryBackoff:    200 * time.Millisecond,
		TWAPSlices:      3,
		TWAPInterval:    200 * time.Millisecond,
		SplitDelay:      100 * time.Millisecond,
		IcebergWait:     200 * time.Millisecond,
		MaxSlices:       50,
		MaxDelays:       1,
		MaxDelayWait:    60 * time.Second,
		RateWindow:      time.Second,
		DedupTTL:        5 * time.Minute,
		CleanupInterval: time.Minute,
		QueueSize:       256,
	}
}

// Deps groups the executor's collaborators. Venues, Gate, Costs and Policy
// are required.
type Deps struct {
	Venues       Venues
	Market       domain.MarketData
	Gate         slippage.Gate
	Costs        CostModel
	Policy       Learner
	Transactions Transactions
	Limiter      domain.RateLimiter
	Alerts       domain.AlertSink
	Bus          domain.SignalBus
	Audit        domain.AuditStore
	Metrics      Metrics
}

// Executor orchestrates single-symbol executions and serves as the atomic
// engine's order submitter.
type Executor struct {
	deps   Deps
	cfg    Config
	dedup  *Dedup
	queue  chan domain.ExecutionRequest
	logger *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	mu         sync.Mutex
	executions int64
	failures   int64
	vetoes     int64
}

// New creates an Executor.
func New(deps Deps, cfg Config, logger *slog.Logger) *Executor {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.TWAPSlices < 1 {
		cfg.TWAPSlices = 1
	}
	if cfg.MaxSlices < 1 {
		cfg.MaxSlices = 1
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	return &Executor{
		deps:   deps,
		cfg:    cfg,
		dedup:  NewDedup(cfg.DedupTTL),
		queue:  make(chan domain.ExecutionRequest, cfg.QueueSize),
		logger: logger.With(slog.String("component", "executor")),
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// SetTransactions attaches the atomic engine. The engine takes the executor
// as its submitter, so it is wired after construction.
func (e *Executor) SetTransactions(t Transactions) {
	e.deps.Transactions = t
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// plan is the routing decision for one request.
type plan struct {
	mode      domain.ExecutionMode
	venue     string
	amount    float64
	slices    int
	interval  time.Duration
	peak      float64
	sliceSize float64
	source    string
	// chosen is the action picked before the gate adjusted the plan. The
	// policy learns against it.
	chosen    domain.PolicyAction
}

func (p plan) action() domain.PolicyAction {
	a := domain.PolicyAction{Mode: p.mode, Venue: p.venue}
	switch p.mode {
	case domain.ModeTWAP:
		a.Slices = p.slices
		a.Interval = p.interval
	case domain.ModeIceberg:
		a.PeakSize = p.peak
	}
	return a
}

// Execute routes one request end to end. A non-nil error is returned for
// validation failures, duplicates, risk vetoes and executions with no fill;
// the result still carries whatever was collected.
func (e *Executor) Execute(ctx context.Context, req domain.ExecutionRequest) (domain.ExecutionResult, error) {
	start := e.now()
	req = normalize(req)
	res := domain.ExecutionResult{RequestID: req.ID, OrderIDs: []string{}, Venues: []string{}}

	if err := validateRequest(req); err != nil {
		return res, fmt.Errorf("executor: execute: %w", err)
	}
	if req.ID != "" && e.dedup.IsDuplicate(req.ID) {
		return res, fmt.Errorf("executor: execute %s: %w", req.ID, domain.ErrDuplicate)
	}

	ctx, span := otel.Tracer("smartexec/executor").Start(ctx, "executor.Execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.id", req.ID),
		attribute.String("symbol", req.Symbol),
		attribute.String("side", string(req.Side)),
		attribute.Float64("amount", req.Amount),
	)

	log := e.logger.With(
		slog.String("request_id", req.ID),
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
	)

	venues, err := e.candidates(req)
	if err != nil {
		e.forget(req)
		return res, fmt.Errorf("executor: execute: %w", err)
	}

	state := e.marketState(ctx, req)
	p := e.choose(state, req, venues)
	p.chosen = p.action()

	an, err := e.applyGate(ctx, req, &p, log)
	if err != nil {
		e.forget(req)
		e.veto(ctx, req, an, err, log)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	span.SetAttributes(
		attribute.String("mode", string(p.mode)),
		attribute.String("venue", p.venue),
		attribute.String("source", p.source),
	)

	log.InfoContext(ctx, "executing order",
		slog.String("venue", p.venue),
		slog.String("mode", string(p.mode)),
		slog.String("source", p.source),
		slog.Float64("amount", p.amount),
		slog.String("risk", string(an.Risk.Level)),
	)

	run := e.run(ctx, req, p, log)
	res = e.summarize(req, p, an, run)
	res.ExecutionTime = e.now().Sub(start)

	if run.submitted > 0 {
		e.learn(ctx, req, state, p, an, res, run)
	}
	e.finish(ctx, res, log)

	if res.FilledAmount <= 0 {
		e.forget(req)
		err := run.lastErr
		if err == nil {
			err = domain.ErrVenueRejected
		}
		span.SetStatus(codes.Error, err.Error())
		return res, fmt.Errorf("executor: execute %s on %s: %w", req.Symbol, p.venue, err)
	}
	return res, nil
}

func normalize(req domain.ExecutionRequest) domain.ExecutionRequest {
	if req.Urgency == "" {
		req.Urgency = domain.UrgencyMedium
	}
	if req.Kind == "" {
		req.Kind = domain.OrderKindMarket
		if req.TargetPrice > 0 {
			req.Kind = domain.OrderKindLimit
		}
	}
	return req
}

func validateRequest(req domain.ExecutionRequest) error {
	verr := &domain.ValidationError{}
	if req.Symbol == "" {
		verr.Add("symbol is required")
	}
	if !req.Side.Valid() {
		verr.Add("side %q is invalid", req.Side)
	}
	if req.Amount <= 0 || math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) {
		verr.Add("amount must be positive")
	}
	if req.MaxSlippage < 0 {
		verr.Add("max_slippage must not be negative")
	}
	if req.ExecutionMode != "" && !req.ExecutionMode.Valid() {
		verr.Add("execution_mode %q is invalid", req.ExecutionMode)
	}
	if req.Kind != domain.OrderKindMarket && req.Kind != domain.OrderKindLimit {
		verr.Add("kind %q is invalid", req.Kind)
	}
	return verr.OrNil()
}

func (e *Executor) forget(req domain.ExecutionRequest) {
	if req.ID != "" {
		e.dedup.Forget(req.ID)
	}
}

func (e *Executor) candidates(req domain.ExecutionRequest) ([]string, error) {
	listed := e.deps.Venues.VenuesFor(req.Symbol)
	if req.Venue == "" {
		if len(listed) == 0 {
			return nil, &domain.ValidationError{Violations: []string{fmt.Sprintf("no venue lists %s", req.Symbol)}}
		}
		return listed, nil
	}
	for _, v := range listed {
		if v == req.Venue {
			return []string{v}, nil
		}
	}
	return nil, &domain.ValidationError{Violations: []string{fmt.Sprintf("venue %s does not list %s", req.Venue, req.Symbol)}}
}

func (e *Executor) marketState(ctx context.Context, req domain.ExecutionRequest) domain.MarketState {
	s := domain.MarketState{Symbol: req.Symbol, Size: req.Amount, Urgency: req.Urgency, At: e.now()}
	if e.deps.Market == nil {
		return s
	}
	if vol, err := e.deps.Market.Volatility(ctx, req.Symbol); err == nil {
		s.Volatility = vol
	}
	if t, err := e.deps.Market.Ticker(ctx, req.Symbol); err == nil {
		s.Liquidity = t.Volume24h
	}
	return s
}

// choose picks mode and venue. An explicit mode wins; otherwise the cost
// analyzer is used when it is confident enough, else the policy's action.
func (e *Executor) choose(state domain.MarketState, req domain.ExecutionRequest, venues []string) plan {
	p := plan{
		mode:     domain.ModeDirect,
		venue:    venues[0],
		amount:   req.Amount,
		slices:   e.cfg.TWAPSlices,
		interval: e.cfg.TWAPInterval,
		peak:     req.Amount / 3,
		source:   SourceDefault,
	}

	rec, recErr := e.deps.Costs.Recommend(req.Symbol, req.Amount, venues, req.Urgency)

	if req.ExecutionMode != "" {
		p.mode = req.ExecutionMode
		p.source = SourceRequest
		if recErr == nil && rec.Venue != "" {
			p.venue = rec.Venue
		}
		if p.mode == domain.ModeSplit {
			p.sliceSize = req.Amount / float64(e.cfg.TWAPSlices)
		}
		return p
	}

	if recErr == nil && rec.Confidence > e.cfg.TCAConfidence {
		p.mode = rec.Mode
		p.venue = rec.Venue
		p.source = SourceTCA
		return p
	}

	action, err := e.deps.Policy.SelectAction(state, e.deps.Policy.GenerateActions(req.Amount, venues))
	if err != nil {
		return p
	}
	p.mode = action.Mode
	p.venue = action.Venue
	p.source = SourcePolicy
	if action.Slices > 0 {
		p.slices = action.Slices
	}
	if action.Interval > 0 {
		p.interval = action.Interval
	}
	if action.PeakSize > 0 {
		p.peak = action.PeakSize
	}
	return p
}

// applyGate consults the slippage gate and adjusts p to its verdict.
func (e *Executor) applyGate(ctx context.Context, req domain.ExecutionRequest, p *plan, log *slog.Logger) (domain.SlippageAnalysis, error) {
	var opts []slippage.Option
	if req.MaxSlippage > 0 {
		opts = append(opts, slippage.WithMaxSlippage(req.MaxSlippage))
	}
	an := e.deps.Gate.Analyze(ctx, req.Symbol, req.Side, p.amount, opts...)

	for delays := 0; ; {
		if req.MinLiquidity > 0 && !an.Fallback && an.Liquidity.AvailableNotional < req.MinLiquidity {
			return an, &domain.RiskVetoError{
				Symbol: req.Symbol,
				Level:  an.Risk.Level,
				Score:  an.Risk.Score,
				Reason: fmt.Sprintf("available liquidity %.2f below minimum %.2f", an.Liquidity.AvailableNotional, req.MinLiquidity),
			}
		}

		rec := an.Recommendation
		switch rec.Action {
		case domain.ActionCancel:
			return an, &domain.RiskVetoError{Symbol: req.Symbol, Level: an.Risk.Level, Score: an.Risk.Score, Reason: rec.Reason}

		case domain.ActionReduceSize:
			if rec.SuggestedSize > 0 && rec.SuggestedSize < p.amount {
				log.InfoContext(ctx, "gate reduced order size",
					slog.Float64("requested", p.amount),
					slog.Float64("reduced", rec.SuggestedSize),
					slog.String("reason", rec.Reason),
				)
				p.amount = rec.SuggestedSize
			}
			return an, nil

		case domain.ActionSplitOrder:
			if rec.SuggestedSize > 0 && rec.SuggestedSize < p.amount {
				log.InfoContext(ctx, "gate split order",
					slog.Float64("amount", p.amount),
					slog.Float64("slice_size", rec.SuggestedSize),
					slog.String("reason", rec.Reason),
				)
				p.mode = domain.ModeSplit
				p.sliceSize = rec.SuggestedSize
			}
			return an, nil

		case domain.ActionDelay:
			if delays >= e.cfg.MaxDelays {
				return an, &domain.RiskVetoError{
					Symbol: req.Symbol,
					Level:  an.Risk.Level,
					Score:  an.Risk.Score,
					Reason: "still delayed after re-analysis: " + rec.Reason,
				}
			}
			delays++
			wait := rec.SuggestedDelay
			if e.cfg.MaxDelayWait > 0 && wait > e.cfg.MaxDelayWait {
				wait = e.cfg.MaxDelayWait
			}
			log.InfoContext(ctx, "gate delayed order",
				slog.Duration("delay", wait),
				slog.String("reason", rec.Reason),
			)
			if err := e.sleep(ctx, wait); err != nil {
				return an, fmt.Errorf("executor: delay %s: %w", req.Symbol, err)
			}
			an = e.deps.Gate.Analyze(ctx, req.Symbol, req.Side, p.amount, opts...)

		default:
			return an, nil
		}
	}
}

func (e *Executor) veto(ctx context.Context, req domain.ExecutionRequest, an domain.SlippageAnalysis, err error, log *slog.Logger) {
	e.mu.Lock()
	e.vetoes++
	e.mu.Unlock()

	log.WarnContext(ctx, "execution vetoed",
		slog.Float64("amount", req.Amount),
		slog.String("risk", string(an.Risk.Level)),
		slog.Float64("score", an.Risk.Score),
		slog.String("error", err.Error()),
	)
	if e.deps.Metrics != nil {
		e.deps.Metrics.RecordVeto(ctx, req.Symbol, an.Risk.Level)
	}
	if e.deps.Alerts != nil {
		e.deps.Alerts.Emit(domain.Alert{
			Event:    domain.EventRiskVeto,
			Severity: domain.SeverityWarning,
			Title:    "Execution vetoed on " + req.Symbol,
			Message:  err.Error(),
			Fields: map[string]any{
				"request_id": req.ID,
				"symbol":     req.Symbol,
				"side":       string(req.Side),
				"amount":     req.Amount,
				"risk":       string(an.Risk.Level),
				"score":      an.Risk.Score,
			},
			At: e.now(),
		})
	}
}

func (e *Executor) summarize(req domain.ExecutionRequest, p plan, an domain.SlippageAnalysis, run runResult) domain.ExecutionResult {
	res := domain.ExecutionResult{
		RequestID: req.ID,
		OrderIDs:  []string{},
		Venues:    []string{p.venue},
		Mode:      p.mode,
		Source:    p.source,
		Errors:    run.errs,
	}
	var notional, fees float64
	for _, o := range run.orders {
		res.OrderIDs = append(res.OrderIDs, o.ID)
		if o.Filled <= 0 {
			continue
		}
		px := o.Average
		if px <= 0 {
			px = o.Price
		}
		res.FilledAmount += o.Filled
		notional += o.Filled * px
		fees += o.Fee
	}
	if res.FilledAmount > 0 {
		res.AvgPrice = notional / res.FilledAmount
	}
	ref := an.CurrentPrice
	if ref <= 0 {
		ref = res.AvgPrice
	}
	if ref > 0 && res.AvgPrice > 0 {
		res.ActualSlippage = (res.AvgPrice - ref) / ref
		if req.Side == domain.SideSell {
			res.ActualSlippage = -res.ActualSlippage
		}
	}
	res.Cost = fees + res.ActualSlippage*ref*res.FilledAmount
	res.Success = res.FilledAmount > 0
	return res
}

// learn feeds the realized outcome into the cost analyzer and the policy.
func (e *Executor) learn(ctx context.Context, req domain.ExecutionRequest, state domain.MarketState, p plan, an domain.SlippageAnalysis, res domain.ExecutionResult, run runResult) {
	var feeFrac float64
	if notional := res.AvgPrice * res.FilledAmount; notional > 0 {
		feeFrac = run.fees / notional
	}
	var takerFee float64
	if m, ok := e.deps.Venues.Market(p.venue, req.Symbol); ok {
		takerFee = m.TakerFee
	}
	latencyMs := float64(res.ExecutionTime) / float64(time.Millisecond)

	cost := domain.TransactionCost{
		Venue:        p.venue,
		Symbol:       req.Symbol,
		Size:         p.amount,
		Mode:         p.mode,
		ActualCost:   res.ActualSlippage + feeFrac,
		ExpectedCost: an.Slippage.Expected + takerFee,
		Slippage:     res.ActualSlippage,
		Fees:         feeFrac,
		LatencyMs:    latencyMs,
		Success:      res.Success,
		Timestamp:    e.now(),
	}
	if err := e.deps.Costs.Record(ctx, cost); err != nil {
		e.logger.WarnContext(ctx, "failed to record execution cost",
			slog.String("request_id", req.ID),
			slog.String("venue", p.venue),
			slog.String("symbol", req.Symbol),
			slog.String("error", err.Error()),
		)
	}

	reward := e.deps.Policy.Update(state, p.chosen, domain.ExecutionOutcome{
		Cost:      cost.ActualCost,
		Slippage:  math.Abs(res.ActualSlippage),
		LatencyMs: latencyMs,
		Success:   res.Success,
		Impact:    an.Impact.Total,
	}, nil)
	e.logger.DebugContext(ctx, "policy updated",
		slog.String("request_id", req.ID),
		slog.String("action", p.chosen.Key()),
		slog.Float64("reward", reward),
	)
}

func (e *Executor) finish(ctx context.Context, res domain.ExecutionResult, log *slog.Logger) {
	e.mu.Lock()
	e.executions++
	if !res.Success {
		e.failures++
	}
	e.mu.Unlock()

	venue := ""
	if len(res.Venues) > 0 {
		venue = res.Venues[0]
	}
	if e.deps.Metrics != nil {
		e.deps.Metrics.RecordExecution(ctx, res.Mode, venue, res.Success, res.ExecutionTime, res.ActualSlippage)
	}

	if res.Success {
		log.InfoContext(ctx, "execution completed",
			slog.String("venue", venue),
			slog.String("mode", string(res.Mode)),
			slog.Float64("filled", res.FilledAmount),
			slog.Float64("avg_price", res.AvgPrice),
			slog.Float64("slippage", res.ActualSlippage),
			slog.Int("orders", len(res.OrderIDs)),
			slog.Duration("elapsed", res.ExecutionTime),
		)
	} else {
		log.ErrorContext(ctx, "execution produced no fill",
			slog.String("venue", venue),
			slog.String("mode", string(res.Mode)),
			slog.Any("errors", res.Errors),
		)
		if e.deps.Alerts != nil {
			e.deps.Alerts.Emit(domain.Alert{
				Event:    domain.EventExecution,
				Severity: domain.SeverityWarning,
				Title:    "Execution failed",
				Message:  fmt.Sprintf("%s on %s produced no fill", res.Mode, venue),
				Fields:   map[string]any{"request_id": res.RequestID, "venue": venue, "errors": res.Errors},
				At:       e.now(),
			})
		}
	}

	if e.deps.Bus != nil {
		payload, err := json.Marshal(res)
		if err == nil {
			if err := e.deps.Bus.Publish(ctx, domain.ChannelExecutions, payload); err != nil {
				log.DebugContext(ctx, "execution publish failed", slog.String("error", err.Error()))
			}
			if err := e.deps.Bus.StreamAppend(ctx, domain.StreamExecutions, payload); err != nil {
				log.DebugContext(ctx, "execution stream append failed", slog.String("error", err.Error()))
			}
		}
	}
	if e.deps.Audit != nil {
		detail := map[string]any{
			"request_id": res.RequestID,
			"success":    res.Success,
			"mode":       string(res.Mode),
			"source":     res.Source,
			"venue":      venue,
			"filled":     res.FilledAmount,
			"avg_price":  res.AvgPrice,
			"slippage":   res.ActualSlippage,
			"order_ids":  res.OrderIDs,
		}
		if err := e.deps.Audit.Log(ctx, domain.EventExecution, detail); err != nil {
			log.WarnContext(ctx, "failed to write audit entry", slog.String("error", err.Error()))
		}
	}
}

// ExecuteAtomic creates and runs a multi-leg transaction on the atomic engine.
func (e *Executor) ExecuteAtomic(ctx context.Context, legs []domain.LegSpec) (*domain.Transaction, error) {
	if e.deps.Transactions == nil {
		return nil, fmt.Errorf("executor: execute atomic: no transaction engine configured")
	}
	id, err := e.deps.Transactions.CreateTransaction(ctx, legs)
	if err != nil {
		return nil, fmt.Errorf("executor: execute atomic: %w", err)
	}
	return e.deps.Transactions.Execute(ctx, id)
}

// Stats aggregates learner and counter state.
func (e *Executor) Stats() domain.ExecutionStats {
	e.mu.Lock()
	s := domain.ExecutionStats{Executions: e.executions, Failures: e.failures, Vetoes: e.vetoes}
	e.mu.Unlock()

	s.Venues = e.deps.Costs.Performance()
	s.TCA = e.deps.Costs.Summary()
	s.Policy = e.deps.Policy.Summary()
	if e.deps.Transactions != nil {
		s.Active = len(e.deps.Transactions.Active())
	}
	return s
}

// Enqueue schedules req for Run. It reports false when the queue is full.
// Requests without an id get one so redelivery is deduplicated.
func (e *Executor) Enqueue(req domain.ExecutionRequest) bool {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	select {
	case e.queue <- req:
		return true
	default:
		return false
	}
}

// Run processes queued requests until ctx is cancelled, at which point any
// buffered requests are drained with a short deadline.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started")
	defer e.logger.Info("executor stopped")

	cleanup := time.NewTicker(e.cfg.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return ctx.Err()
		case req := <-e.queue:
			e.process(ctx, req)
		case <-cleanup.C:
			e.dedup.Cleanup()
		}
	}
}

func (e *Executor) process(ctx context.Context, req domain.ExecutionRequest) {
	if _, err := e.Execute(ctx, req); err != nil {
		e.logger.WarnContext(ctx, "queued execution failed",
			slog.String("request_id", req.ID),
			slog.String("symbol", req.Symbol),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Executor) drain() {
	for {
		select {
		case req := <-e.queue:
			e.logger.Warn("draining request after shutdown", slog.String("request_id", req.ID))
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			e.process(ctx, req)
			cancel()
		default:
			return
		}
	}
}
