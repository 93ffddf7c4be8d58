// Package atomic executes multi-leg transactions in dependency order and
// compensates completed legs when a qualifying failure occurs.
package atomic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

// OrderSubmitter sends orders to a named venue and quotes it.
type OrderSubmitter interface {
	Submit(ctx context.Context, venue string, req domain.OrderRequest) (domain.VenueOrder, error)
	Ticker(ctx context.Context, venue, symbol string) (domain.Ticker, error)
}

// Config tunes validation and rollback decisions.
type Config struct {
	MaxOrderValue      float64
	MinValidationScore float64
	MaxExecutionTime   time.Duration
	FailureRate        float64
	GracefulTolerance  float64
	LockTTL            time.Duration
}

// DefaultConfig returns the reference limits.
func DefaultConfig() Config {
	return Config{
		MaxOrderValue:      100_000,
		MinValidationScore: 0.7,
		MaxExecutionTime:   30 * time.Second,
		FailureRate:        0.3,
		GracefulTolerance:  0.002,
		LockTTL:            2 * time.Minute,
	}
}

// Stats counts engine outcomes since start.
type Stats struct {
	Created          int64 `json:"created"`
	Completed        int64 `json:"completed"`
	RolledBack       int64 `json:"rolled_back"`
	Failed           int64 `json:"failed"`
	Cancelled        int64 `json:"cancelled"`
	PartialRollbacks int64 `json:"partial_rollbacks"`
	LegsAttempted    int64 `json:"legs_attempted"`
	Compensations    int64 `json:"compensations"`
	Active           int   `json:"active"`
}

// Deps groups the engine's collaborators. Only Submitter and Active are
// required.
type Deps struct {
	Submitter    OrderSubmitter
	Validator    domain.MarketValidator
	Active       domain.KV[string, *domain.Transaction]
	Attempts     domain.LegAttemptStore
	Transactions domain.TransactionStore
	Locks        domain.LockManager
	Alerts       domain.AlertSink
	// Bus receives every state change on domain.ChannelTransactions. Optional.
	Bus          domain.SignalBus
}

// Engine runs atomic transactions. Snapshots in the active store are
// immutable; Execute works on a private copy and republishes it.
type Engine struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	cancelMu sync.Mutex
	cancels  map[string]struct{}

	statsMu sync.Mutex
	stats   Stats
}

// NewEngine creates an Engine.
func NewEngine(deps Deps, cfg Config, logger *slog.Logger) *Engine {
	if deps.Locks == nil {
		deps.Locks = newLocalLocks()
	}
	return &Engine{
		deps:    deps,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "atomic_engine")),
		now:     time.Now,
		cancels: make(map[string]struct{}),
	}
}

// CreateTransaction validates legs and registers a PENDING transaction.
// Every violation is reported in one *domain.ValidationError.
func (e *Engine) CreateTransaction(ctx context.Context, specs []domain.LegSpec) (string, error) {
	verr := &domain.ValidationError{}
	if len(specs) == 0 {
		verr.Add("transaction needs at least one leg")
	}

	ids := make(map[string]struct{}, len(specs))
	legs := make([]domain.Leg, len(specs))
	for i, s := range specs {
		id := s.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, dup := ids[id]; dup {
			verr.Add("leg %d: duplicate id %q", i, id)
		}
		ids[id] = struct{}{}
		kind := s.Kind
		if kind == "" {
			kind = domain.OrderKindMarket
		}
		legs[i] = domain.Leg{
			ID:        id,
			Symbol:    s.Symbol,
			Side:      s.Side,
			Amount:    s.Amount,
			Price:     s.Price,
			Venue:     s.Venue,
			Kind:      kind,
			DependsOn: append([]string(nil), s.DependsOn...),
			Status:    domain.StatusPending,
		}
	}

	scores := make(map[string]float64)
	var notional, pnl float64
	for i := range legs {
		leg := &legs[i]
		label := fmt.Sprintf("leg %d (%s)", i, leg.ID)

		if leg.Symbol == "" {
			verr.Add("%s: symbol is required", label)
		}
		if !leg.Side.Valid() {
			verr.Add("%s: invalid side %q", label, leg.Side)
		}
		if !(leg.Amount > 0) || math.IsInf(leg.Amount, 0) {
			verr.Add("%s: amount must be positive", label)
		}
		if leg.Venue == "" {
			verr.Add("%s: venue is required", label)
		}
		switch leg.Kind {
		case domain.OrderKindLimit:
			if !(leg.Price > 0) {
				verr.Add("%s: limit order requires a positive price", label)
			}
		case domain.OrderKindMarket:
		default:
			verr.Add("%s: invalid order kind %q", label, leg.Kind)
		}
		for _, dep := range leg.DependsOn {
			if dep == leg.ID {
				verr.Add("%s: depends on itself", label)
			} else if _, ok := ids[dep]; !ok {
				verr.Add("%s: unknown dependency %q", label, dep)
			}
		}
		if leg.Symbol == "" || leg.Venue == "" || !(leg.Amount > 0) {
			continue
		}

		price := leg.Price
		if leg.Kind != domain.OrderKindLimit {
			t, err := e.deps.Submitter.Ticker(ctx, leg.Venue, leg.Symbol)
			if err != nil || t.Mid() <= 0 {
				verr.Add("%s: no live price for %s on %s", label, leg.Symbol, leg.Venue)
				continue
			}
			price = t.Mid()
		}
		value := leg.Amount * price
		if value > e.cfg.MaxOrderValue {
			verr.Add("%s: order value %.2f exceeds maximum %.2f", label, value, e.cfg.MaxOrderValue)
		}
		notional += value
		if leg.Side == domain.SideSell {
			pnl += value
		} else {
			pnl -= value
		}

		if e.deps.Validator == nil {
			continue
		}
		score, seen := scores[leg.Symbol]
		if !seen {
			v, err := e.deps.Validator.CrossValidatePrices(ctx, leg.Symbol)
			if err != nil {
				verr.Add("%s: cross-venue validation failed: %v", label, err)
				scores[leg.Symbol] = -1
				continue
			}
			score = v.ValidationScore
			scores[leg.Symbol] = score
		}
		if score >= 0 && score < e.cfg.MinValidationScore {
			verr.Add("%s: validation score %.2f below minimum %.2f", label, score, e.cfg.MinValidationScore)
		}
	}

	if err := verr.OrNil(); err != nil {
		e.logger.WarnContext(ctx, "transaction rejected",
			slog.Int("legs", len(specs)),
			slog.Any("violations", verr.Violations),
		)
		return "", fmt.Errorf("atomic: create transaction: %w", err)
	}

	tx := &domain.Transaction{
		ID:          uuid.NewString(),
		Legs:        legs,
		Status:      domain.StatusPending,
		CreatedAt:   e.now(),
		Notional:    notional,
		ExpectedPnL: pnl,
	}
	tx.RiskTier = domain.ClassifyRisk(notional, tx.DependencyCount())
	tx.RollbackStrategy = domain.StrategyFor(tx.RiskTier)

	e.deps.Active.Put(tx.ID, tx.Clone())
	e.save(ctx, tx)
	e.count(func(s *Stats) { s.Created++ })

	e.logger.InfoContext(ctx, "transaction created",
		slog.String("tx_id", tx.ID),
		slog.Int("legs", len(legs)),
		slog.Float64("notional", notional),
		slog.String("risk_tier", string(tx.RiskTier)),
		slog.String("rollback_strategy", string(tx.RollbackStrategy)),
	)
	return tx.ID, nil
}

// Get returns a snapshot of a transaction, falling back to the durable
// store for evicted ones.
func (e *Engine) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	if tx, ok := e.deps.Active.Get(id); ok {
		return tx.Clone(), nil
	}
	if e.deps.Transactions != nil {
		tx, err := e.deps.Transactions.Get(ctx, id)
		if err == nil {
			return tx, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("atomic: get %s: %w", id, err)
		}
	}
	return nil, fmt.Errorf("atomic: get %s: %w", id, domain.ErrNotFound)
}

// Active lists the transactions still held in memory, oldest first.
func (e *Engine) Active() []*domain.Transaction {
	var out []*domain.Transaction
	e.deps.Active.Range(func(_ string, tx *domain.Transaction) bool {
		out = append(out, tx.Clone())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Cancel marks a PENDING transaction CANCELLED immediately. An EXECUTING
// transaction stops before its next leg.
func (e *Engine) Cancel(ctx context.Context, id string) (*domain.Transaction, error) {
	var (
		found bool
		prior domain.Status
	)
	tx := e.deps.Active.Update(id, func(old *domain.Transaction, ok bool) *domain.Transaction {
		found = ok
		if !ok {
			return nil
		}
		prior = old.Status
		if old.Status != domain.StatusPending {
			return old
		}
		next := old.Clone()
		now := e.now()
		next.Status = domain.StatusCancelled
		next.EndedAt = &now
		for i := range next.Legs {
			next.Legs[i].Status = domain.StatusCancelled
		}
		return next
	})
	if !found {
		e.deps.Active.Delete(id)
		return nil, fmt.Errorf("atomic: cancel %s: %w", id, domain.ErrNotFound)
	}

	switch prior {
	case domain.StatusPending:
		e.save(ctx, tx)
		e.count(func(s *Stats) { s.Cancelled++ })
		e.logger.InfoContext(ctx, "transaction cancelled", slog.String("tx_id", id))
	case domain.StatusExecuting:
		e.cancelMu.Lock()
		e.cancels[id] = struct{}{}
		e.cancelMu.Unlock()
		e.logger.InfoContext(ctx, "transaction cancellation requested", slog.String("tx_id", id))
	}
	return tx.Clone(), nil
}

func (e *Engine) cancelRequested(id string) bool {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	_, ok := e.cancels[id]
	return ok
}

func (e *Engine) clearCancel(id string) {
	e.cancelMu.Lock()
	delete(e.cancels, id)
	e.cancelMu.Unlock()
}

// Stats returns outcome counters.
func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	s := e.stats
	e.statsMu.Unlock()
	s.Active = e.deps.Active.Len()
	return s
}

func (e *Engine) count(fn func(*Stats)) {
	e.statsMu.Lock()
	fn(&e.stats)
	e.statsMu.Unlock()
}

// Execute runs a PENDING transaction to a terminal state.
func (e *Engine) Execute(ctx context.Context, id string) (*domain.Transaction, error) {
	ctx, span := otel.Tracer("smartexec/atomic").Start(ctx, "atomic.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("tx.id", id))

	unlock, err := e.deps.Locks.Acquire(ctx, "tx:"+id, e.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("atomic: execute %s: %w", id, err)
	}
	defer unlock()
	defer e.clearCancel(id)

	snap, ok := e.deps.Active.Get(id)
	if !ok {
		return nil, fmt.Errorf("atomic: execute %s: %w", id, domain.ErrNotFound)
	}
	if snap.Status != domain.StatusPending {
		return snap.Clone(), fmt.Errorf("atomic: execute %s: status is %s: %w", id, snap.Status, domain.ErrInvalidOrder)
	}
	tx := snap.Clone()
	log := e.logger.With(slog.String("tx_id", id))

	order, err := TopologicalOrder(tx)
	if err != nil {
		now := e.now()
		tx.Status = domain.StatusFailed
		tx.Error = err.Error()
		tx.EndedAt = &now
		e.publish(ctx, tx)
		e.count(func(s *Stats) { s.Failed++ })
		e.alert(domain.EventTransactionFailed, domain.SeverityWarning, tx, err.Error())
		log.ErrorContext(ctx, "transaction rejected before execution", slog.String("error", err.Error()))
		span.SetStatus(codes.Error, err.Error())
		return tx.Clone(), fmt.Errorf("atomic: execute: %w", err)
	}

	start := e.now()
	tx.ExecutionOrder = order
	tx.Status = domain.StatusExecuting
	tx.StartedAt = &start
	e.publish(ctx, tx)
	log.InfoContext(ctx, "transaction executing", slog.Any("order", order))

	var (
		attempted, failed int
		firstErr          error
		reasons           []string
		cancelled         bool
	)

	for i, legID := range order {
		if ctx.Err() != nil || e.cancelRequested(id) {
			cancelled = true
			skipRemaining(tx, order[i:], "transaction cancelled")
			break
		}
		leg := tx.Leg(legID)
		if dep, ok := unmetDependency(tx, leg); !ok {
			leg.Status = domain.StatusCancelled
			leg.Error = fmt.Sprintf("dependency %s not completed", dep)
			e.publish(ctx, tx)
			continue
		}

		attempted++
		legErr := e.runLeg(ctx, tx, leg)
		e.publish(ctx, tx)
		if legErr == nil {
			continue
		}

		failed++
		if firstErr == nil {
			firstErr = legErr
		}
		log.WarnContext(ctx, "leg failed",
			slog.String("leg_id", leg.ID),
			slog.String("venue", leg.Venue),
			slog.String("symbol", leg.Symbol),
			slog.String("side", string(leg.Side)),
			slog.Float64("amount", leg.Amount),
			slog.String("error", legErr.Error()),
		)

		reasons = e.rollbackReasons(tx, leg, attempted, failed, start)
		if len(reasons) > 0 {
			skipRemaining(tx, order[i+1:], "rollback triggered")
			break
		}
	}

	if cancelled {
		reasons = []string{"cancelled"}
	}
	var report *domain.RollbackReport
	if len(reasons) > 0 {
		report = e.rollback(context.WithoutCancel(ctx), tx, reasons)
		tx.Rollback = report
	}

	end := e.now()
	tx.EndedAt = &end
	switch {
	case cancelled:
		tx.Status = domain.StatusCancelled
	case failed == 0:
		tx.Status = domain.StatusCompleted
	case report != nil && report.Outcome == domain.RollbackFull:
		tx.Status = domain.StatusRolledBack
	default:
		tx.Status = domain.StatusFailed
	}
	if firstErr != nil {
		tx.Error = firstErr.Error()
	}

	switch tx.Status {
	case domain.StatusCompleted, domain.StatusRolledBack:
		e.save(ctx, tx)
		e.deps.Active.Delete(id)
	default:
		e.publish(ctx, tx)
	}

	e.count(func(s *Stats) {
		s.LegsAttempted += int64(attempted)
		switch tx.Status {
		case domain.StatusCompleted:
			s.Completed++
		case domain.StatusRolledBack:
			s.RolledBack++
		case domain.StatusCancelled:
			s.Cancelled++
		default:
			s.Failed++
		}
		if report != nil {
			s.Compensations += int64(report.Compensated + len(report.Failed))
			if report.Outcome == domain.RollbackPartial {
				s.PartialRollbacks++
			}
		}
	})

	log.InfoContext(ctx, "transaction finished",
		slog.String("status", string(tx.Status)),
		slog.Int("attempted", attempted),
		slog.Int("failed", failed),
		slog.Duration("elapsed", end.Sub(start)),
	)
	span.SetAttributes(attribute.String("tx.status", string(tx.Status)))

	if report != nil && report.Outcome == domain.RollbackPartial {
		err := &domain.RollbackPartialError{TransactionID: id, FailedLegs: report.Failed}
		span.SetStatus(codes.Error, err.Error())
		return tx.Clone(), fmt.Errorf("atomic: execute: %w", err)
	}
	if tx.Status == domain.StatusFailed {
		e.alert(domain.EventTransactionFailed, domain.SeverityWarning, tx, tx.Error)
		span.SetStatus(codes.Error, tx.Error)
		return tx.Clone(), fmt.Errorf("atomic: execute %s: %w", id, firstErr)
	}
	return tx.Clone(), nil
}

// rollbackReasons evaluates the three independent rollback conditions.
func (e *Engine) rollbackReasons(tx *domain.Transaction, leg *domain.Leg, attempted, failed int, start time.Time) []string {
	var reasons []string
	if tx.HasDependents(leg.ID) {
		reasons = append(reasons, "critical leg failed")
	}
	if attempted > 0 && float64(failed)/float64(attempted) > e.cfg.FailureRate {
		reasons = append(reasons, fmt.Sprintf("failure rate %d/%d", failed, attempted))
	}
	if e.cfg.MaxExecutionTime > 0 && e.now().Sub(start) > e.cfg.MaxExecutionTime {
		reasons = append(reasons, "execution time exceeded")
	}
	return reasons
}

func unmetDependency(tx *domain.Transaction, leg *domain.Leg) (string, bool) {
	for _, dep := range leg.DependsOn {
		if d := tx.Leg(dep); d == nil || d.Status != domain.StatusCompleted {
			return dep, false
		}
	}
	return "", true
}

func skipRemaining(tx *domain.Transaction, ids []string, reason string) {
	for _, id := range ids {
		if l := tx.Leg(id); l != nil && l.Status == domain.StatusPending {
			l.Status = domain.StatusCancelled
			l.Error = reason
		}
	}
}

// runLeg validates and submits one leg, recording the attempt.
func (e *Engine) runLeg(ctx context.Context, tx *domain.Transaction, leg *domain.Leg) error {
	leg.Attempted = true
	leg.Status = domain.StatusExecuting

	attempt := domain.LegAttempt{
		TransactionID: tx.ID,
		LegID:         leg.ID,
		Venue:         leg.Venue,
		Symbol:        leg.Symbol,
		Side:          leg.Side,
		Kind:          leg.Kind,
		Amount:        leg.Amount,
		Price:         leg.Price,
		AttemptedAt:   e.now(),
	}
	fail := func(err error) error {
		leg.Status = domain.StatusFailed
		leg.Error = err.Error()
		attempt.Status = domain.StatusFailed
		attempt.Error = err.Error()
		e.recordAttempt(ctx, attempt)
		return err
	}

	price := leg.Price
	if leg.Kind != domain.OrderKindLimit {
		if t, err := e.deps.Submitter.Ticker(ctx, leg.Venue, leg.Symbol); err == nil {
			price = t.Mid()
		}
	}
	if e.deps.Validator != nil {
		ok, err := e.deps.Validator.EmergencyValidation(ctx, leg.Symbol, price, leg.Venue)
		if err != nil {
			return fail(fmt.Errorf("emergency validation: %w", err))
		}
		if !ok {
			return fail(fmt.Errorf("emergency validation failed for %s at %.8g on %s: %w", leg.Symbol, price, leg.Venue, domain.ErrInvalidOrder))
		}
	}

	req := domain.OrderRequest{
		Symbol:   leg.Symbol,
		Kind:     leg.Kind,
		Side:     leg.Side,
		Amount:   leg.Amount,
		ClientID: leg.ID,
	}
	if leg.Kind == domain.OrderKindLimit {
		req.Price = leg.Price
	}

	began := e.now()
	order, err := e.deps.Submitter.Submit(ctx, leg.Venue, req)
	attempt.LatencyMs = e.now().Sub(began).Milliseconds()
	if err != nil {
		return fail(err)
	}
	attempt.OrderID = order.ID
	leg.OrderID = order.ID
	if order.Filled <= 0 {
		return fail(fmt.Errorf("order %s not filled (%s): %w", order.ID, order.State, domain.ErrVenueRejected))
	}

	leg.Status = domain.StatusCompleted
	leg.FilledAmount = order.Filled
	leg.AvgPrice = order.Average
	attempt.Status = domain.StatusCompleted
	attempt.FilledAmount = order.Filled
	attempt.AvgPrice = order.Average
	e.recordAttempt(ctx, attempt)
	return nil
}

// rollback fans out one compensating order per completed leg and joins.
func (e *Engine) rollback(ctx context.Context, tx *domain.Transaction, reasons []string) *domain.RollbackReport {
	report := &domain.RollbackReport{
		Triggered:    true,
		Reasons:      reasons,
		ManualReview: tx.RollbackStrategy == domain.RollbackManual,
	}

	var completed []*domain.Leg
	for i := range tx.Legs {
		if tx.Legs[i].Status == domain.StatusCompleted && tx.Legs[i].FilledAmount > 0 {
			completed = append(completed, &tx.Legs[i])
		}
	}

	e.logger.WarnContext(ctx, "rollback triggered",
		slog.String("tx_id", tx.ID),
		slog.Any("reasons", reasons),
		slog.Int("compensations", len(completed)),
		slog.String("strategy", string(tx.RollbackStrategy)),
	)

	var g errgroup.Group
	for _, leg := range completed {
		g.Go(func() error {
			e.compensate(ctx, tx, leg)
			return nil
		})
	}
	_ = g.Wait()

	for _, leg := range completed {
		if leg.Rollback != nil && leg.Rollback.Status == domain.StatusCompleted {
			report.Compensated++
			leg.Status = domain.StatusRolledBack
		} else {
			report.Failed = append(report.Failed, leg.ID)
		}
	}
	report.Outcome = domain.RollbackFull
	if len(report.Failed) > 0 {
		report.Outcome = domain.RollbackPartial
	}
	report.CompletedAt = e.now()

	if report.ManualReview && len(completed) > 0 {
		e.alert(domain.EventRollbackManual, domain.SeverityWarning, tx,
			fmt.Sprintf("manual review required for %d compensating order(s)", len(completed)))
	}
	if report.Outcome == domain.RollbackPartial {
		e.alert(domain.EventRollbackPartial, domain.SeverityCritical, tx,
			fmt.Sprintf("compensation failed for legs %v", report.Failed))
	}
	return report
}

// compensate submits the opposite-side order for one completed leg.
func (e *Engine) compensate(ctx context.Context, tx *domain.Transaction, leg *domain.Leg) {
	req := domain.OrderRequest{
		Symbol:   leg.Symbol,
		Kind:     domain.OrderKindMarket,
		Side:     leg.Side.Opposite(),
		Amount:   leg.FilledAmount,
		ClientID: leg.ID + "-rb",
	}
	if tx.RollbackStrategy == domain.RollbackGraceful {
		if t, err := e.deps.Submitter.Ticker(ctx, leg.Venue, leg.Symbol); err == nil && t.Mid() > 0 {
			req.Kind = domain.OrderKindLimit
			req.Price = t.Mid() * (1 + e.cfg.GracefulTolerance)
			if req.Side == domain.SideSell {
				req.Price = t.Mid() * (1 - e.cfg.GracefulTolerance)
			}
		}
	}

	rd := &domain.RollbackData{
		Side:   req.Side,
		Kind:   req.Kind,
		Amount: req.Amount,
		Price:  req.Price,
		Status: domain.StatusFailed,
		At:     e.now(),
	}
	attempt := domain.LegAttempt{
		TransactionID: tx.ID,
		LegID:         leg.ID,
		Venue:         leg.Venue,
		Symbol:        leg.Symbol,
		Side:          req.Side,
		Kind:          req.Kind,
		Amount:        req.Amount,
		Price:         req.Price,
		Compensation:  true,
		Status:        domain.StatusFailed,
		AttemptedAt:   rd.At,
	}

	order, err := e.deps.Submitter.Submit(ctx, leg.Venue, req)
	attempt.LatencyMs = e.now().Sub(rd.At).Milliseconds()
	switch {
	case err != nil:
		rd.Error = err.Error()
	case order.Filled < req.Amount*(1-1e-9):
		rd.OrderID = order.ID
		rd.FilledAmount = order.Filled
		rd.Error = fmt.Sprintf("compensation filled %.8g of %.8g", order.Filled, req.Amount)
	default:
		rd.OrderID = order.ID
		rd.FilledAmount = order.Filled
		rd.Status = domain.StatusCompleted
	}
	attempt.OrderID = rd.OrderID
	attempt.FilledAmount = rd.FilledAmount
	attempt.AvgPrice = order.Average
	attempt.Status = rd.Status
	attempt.Error = rd.Error
	leg.Rollback = rd
	e.recordAttempt(ctx, attempt)

	if rd.Status != domain.StatusCompleted {
		e.logger.ErrorContext(ctx, "compensating order failed",
			slog.String("tx_id", tx.ID),
			slog.String("leg_id", leg.ID),
			slog.String("venue", leg.Venue),
			slog.String("symbol", leg.Symbol),
			slog.String("side", string(req.Side)),
			slog.Float64("amount", req.Amount),
			slog.String("error", rd.Error),
		)
	}
}

func (e *Engine) publish(ctx context.Context, tx *domain.Transaction) {
	e.deps.Active.Put(tx.ID, tx.Clone())
	e.save(ctx, tx)
	if e.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(tx)
	if err != nil {
		return
	}
	if err := e.deps.Bus.Publish(ctx, domain.ChannelTransactions, payload); err != nil {
		e.logger.WarnContext(ctx, "publish transaction update failed",
			slog.String("tx_id", tx.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) save(ctx context.Context, tx *domain.Transaction) {
	if e.deps.Transactions == nil {
		return
	}
	if err := e.deps.Transactions.Save(ctx, tx.Clone()); err != nil {
		e.logger.WarnContext(ctx, "failed to save transaction snapshot",
			slog.String("tx_id", tx.ID),
			slog.String("status", string(tx.Status)),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) recordAttempt(ctx context.Context, a domain.LegAttempt) {
	if e.deps.Attempts == nil {
		return
	}
	if err := e.deps.Attempts.Record(ctx, a); err != nil {
		e.logger.WarnContext(ctx, "failed to record leg attempt",
			slog.String("tx_id", a.TransactionID),
			slog.String("leg_id", a.LegID),
			slog.String("venue", a.Venue),
			slog.String("symbol", a.Symbol),
			slog.Bool("compensation", a.Compensation),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) alert(event string, sev domain.Severity, tx *domain.Transaction, msg string) {
	if e.deps.Alerts == nil {
		return
	}
	e.deps.Alerts.Emit(domain.Alert{
		Event:    event,
		Severity: sev,
		Title:    fmt.Sprintf("Transaction %s", tx.ID),
		Message:  msg,
		Fields: map[string]any{
			"tx_id":             tx.ID,
			"status":            string(tx.Status),
			"risk_tier":         string(tx.RiskTier),
			"rollback_strategy": string(tx.RollbackStrategy),
			"notional":          tx.Notional,
		},
		At: e.now(),
	})
}
