package slippage

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

// Gate is the analysis entry point the protector re-evaluates against.
type Gate interface {
	Analyze(ctx context.Context, symbol string, side domain.Side, size float64, opts ...Option) domain.SlippageAnalysis
}

// ProtectorConfig tunes the monitor loop.
type ProtectorConfig struct {
	Interval       time.Duration
	ExpiresAfter   time.Duration
	MaxSplitParts  int
	EmergencyScore float64
}

// DefaultProtectorConfig returns the reference monitor settings.
func DefaultProtectorConfig() ProtectorConfig {
	return ProtectorConfig{
		Interval:       time.Second,
		ExpiresAfter:   5 * time.Minute,
		MaxSplitParts:  10,
		EmergencyScore: 0.9,
	}
}

// Protector owns the protection registry and its periodic monitor.
type Protector struct {
	gate   Gate
	store  domain.KV[string, domain.Protection]
	alerts domain.AlertSink
	cfg    ProtectorConfig
	logger *slog.Logger
	now    func() time.Time

	// mu serializes state transitions; analysis runs outside it.
	mu sync.Mutex

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewProtector creates a Protector. alerts may be nil.
func NewProtector(gate Gate, store domain.KV[string, domain.Protection], alerts domain.AlertSink, cfg ProtectorConfig, logger *slog.Logger) *Protector {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.MaxSplitParts < 2 {
		cfg.MaxSplitParts = 2
	}
	return &Protector{
		gate:   gate,
		store:  store,
		alerts: alerts,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "slippage_protector")),
		now:    time.Now,
	}
}

// CreateProtection analyzes an intent and registers it. A CANCEL verdict
// leaves the protection TRIGGERED with an ALERT entry.
func (p *Protector) CreateProtection(ctx context.Context, symbol string, side domain.Side, size float64, cfg domain.ProtectionConfig) (domain.Protection, error) {
	verr := &domain.ValidationError{}
	if symbol == "" {
		verr.Add("symbol is required")
	}
	if !side.Valid() {
		verr.Add("invalid side %q", side)
	}
	if size <= 0 || math.IsNaN(size) || math.IsInf(size, 0) {
		verr.Add("size must be positive")
	}
	if err := verr.OrNil(); err != nil {
		return domain.Protection{}, fmt.Errorf("slippage: create protection: %w", err)
	}
	if cfg.ExpiresAfter <= 0 {
		cfg.ExpiresAfter = p.cfg.ExpiresAfter
	}

	pr := p.newProtection(ctx, uuid.NewString(), "", symbol, side, size, cfg)

	p.logger.InfoContext(ctx, "protection created",
		slog.String("protection_id", pr.ID),
		slog.String("symbol", symbol),
		slog.Float64("size", size),
		slog.String("status", string(pr.Status)),
	)
	return pr.Clone(), nil
}

func (p *Protector) newProtection(ctx context.Context, id, parentID, symbol string, side domain.Side, size float64, cfg domain.ProtectionConfig) domain.Protection {
	analysis := p.gate.Analyze(ctx, symbol, side, size, WithMaxSlippage(cfg.MaxSlippage), WithMaxImpact(cfg.MaxImpact))
	now := p.now()
	pr := domain.Protection{
		ID:        id,
		ParentID:  parentID,
		Symbol:    symbol,
		Side:      side,
		Size:      size,
		Config:    cfg,
		Analysis:  analysis,
		Status:    domain.ProtectionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if cfg.ExpiresAfter > 0 {
		pr.ExpiresAt = now.Add(cfg.ExpiresAfter)
	}
	if analysis.Recommendation.Action == domain.ActionCancel {
		pr.Status = domain.ProtectionTriggered
		p.record(ctx, &pr, domain.ProtectionAlert, analysis.Recommendation.Reason, nil)
	}

	p.mu.Lock()
	p.store.Put(pr.ID, pr)
	p.mu.Unlock()
	return pr
}

// Get returns a copy of a protection.
func (p *Protector) Get(id string) (domain.Protection, error) {
	pr, ok := p.store.Get(id)
	if !ok {
		return domain.Protection{}, fmt.Errorf("slippage: protection %s: %w", id, domain.ErrNotFound)
	}
	return pr.Clone(), nil
}

// List returns copies of every protection, oldest first.
func (p *Protector) List() []domain.Protection {
	out := make([]domain.Protection, 0, p.store.Len())
	p.store.Range(func(_ string, pr domain.Protection) bool {
		out = append(out, pr.Clone())
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Cancel stops monitoring a protection. Cancelling a terminal protection
// is a no-op.
func (p *Protector) Cancel(ctx context.Context, id string) (domain.Protection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pr, ok := p.store.Get(id)
	if !ok {
		return domain.Protection{}, fmt.Errorf("slippage: cancel protection %s: %w", id, domain.ErrNotFound)
	}
	if terminal(pr.Status) {
		return pr.Clone(), nil
	}
	pr = pr.Clone()
	pr.Status = domain.ProtectionCancelled
	pr.RecheckAt = nil
	p.record(ctx, &pr, domain.ProtectionCancel, "cancelled by caller", nil)
	p.store.Put(id, pr)
	return pr.Clone(), nil
}

// Check re-evaluates every live protection once.
func (p *Protector) Check(ctx context.Context) {
	var ids []string
	p.store.Range(func(id string, pr domain.Protection) bool {
		if !terminal(pr.Status) {
			ids = append(ids, id)
		}
		return true
	})
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		p.checkOne(ctx, id)
	}
}

type childSpec struct {
	id   string
	size float64
}

func (p *Protector) checkOne(ctx context.Context, id string) {
	pr, ok := p.store.Get(id)
	if !ok || terminal(pr.Status) {
		return
	}
	now := p.now()

	if !pr.ExpiresAt.IsZero() && now.After(pr.ExpiresAt) {
		p.mu.Lock()
		defer p.mu.Unlock()
		cur, ok := p.store.Get(id)
		if !ok || terminal(cur.Status) {
			return
		}
		cur = cur.Clone()
		cur.Status = domain.ProtectionExpired
		cur.RecheckAt = nil
		cur.UpdatedAt = now
		p.store.Put(id, cur)
		p.logger.InfoContext(ctx, "protection expired", slog.String("protection_id", id))
		return
	}
	if pr.RecheckAt != nil && now.Before(*pr.RecheckAt) {
		return
	}

	analysis := p.gate.Analyze(ctx, pr.Symbol, pr.Side, pr.Size,
		WithMaxSlippage(pr.Config.MaxSlippage), WithMaxImpact(pr.Config.MaxImpact))

	p.mu.Lock()
	cur, ok := p.store.Get(id)
	if !ok || terminal(cur.Status) {
		p.mu.Unlock()
		return
	}
	cur = cur.Clone()
	cur.Analysis = analysis
	cur.RecheckAt = nil
	cur.UpdatedAt = now
	children := p.escalate(ctx, &cur, analysis)
	p.store.Put(id, cur)
	p.mu.Unlock()

	for _, c := range children {
		p.newProtection(ctx, c.id, cur.ID, cur.Symbol, cur.Side, c.size, cur.Config)
	}
}

// escalate applies the recommendation to pr and returns any child intents
// that must be registered.
func (p *Protector) escalate(ctx context.Context, pr *domain.Protection, an domain.SlippageAnalysis) []childSpec {
	rec := an.Recommendation
	if rec.Action == domain.ActionProceed {
		if pr.Status == domain.ProtectionTriggered {
			pr.Status = domain.ProtectionActive
		}
		return nil
	}

	if an.Risk.Score >= p.cfg.EmergencyScore {
		pr.Status = domain.ProtectionCancelled
		p.record(ctx, pr, domain.ProtectionEmergencyStop, rec.Reason, map[string]any{"score": an.Risk.Score})
		return nil
	}

	switch rec.Action {
	case domain.ActionReduceSize:
		from := pr.Size
		if rec.SuggestedSize > 0 && rec.SuggestedSize < pr.Size {
			pr.Size = rec.SuggestedSize
		}
		pr.Status = domain.ProtectionActive
		p.record(ctx, pr, domain.ProtectionReduceSize, rec.Reason, map[string]any{"from": from, "to": pr.Size})

	case domain.ActionSplitOrder:
		parts := 2
		if rec.SuggestedSize > 0 {
			parts = int(math.Ceil(pr.Size / rec.SuggestedSize))
		}
		parts = max(2, min(parts, p.cfg.MaxSplitParts))
		sizes := SplitSizes(pr.Size, parts)
		children := make([]childSpec, len(sizes))
		ids := make([]string, len(sizes))
		for i, s := range sizes {
			children[i] = childSpec{id: uuid.NewString(), size: s}
			ids[i] = children[i].id
		}
		pr.Status = domain.ProtectionCancelled
		p.record(ctx, pr, domain.ProtectionSplitOrder, rec.Reason, map[string]any{"children": ids, "parts": parts})
		return children

	case domain.ActionDelay:
		delay := rec.SuggestedDelay
		if delay <= 0 {
			delay = p.cfg.Interval
		}
		at := p.now().Add(delay)
		pr.Status = domain.ProtectionTriggered
		pr.RecheckAt = &at
		p.record(ctx, pr, domain.ProtectionDelay, rec.Reason, map[string]any{"recheck_at": at})

	case domain.ActionCancel:
		pr.Status = domain.ProtectionCancelled
		p.record(ctx, pr, domain.ProtectionCancel, rec.Reason, nil)
	}
	return nil
}

// record appends an executed action and emits the matching alert.
func (p *Protector) record(ctx context.Context, pr *domain.Protection, typ domain.ProtectionActionType, reason string, detail map[string]any) {
	now := p.now()
	executedAt := now
	pr.Actions = append(pr.Actions, domain.ProtectionAction{
		ID:         uuid.NewString(),
		Type:       typ,
		Reason:     reason,
		Detail:     detail,
		CreatedAt:  now,
		Executed:   true,
		ExecutedAt: &executedAt,
	})
	pr.UpdatedAt = now

	event, severity := domain.EventProtectionAction, domain.SeverityWarning
	switch typ {
	case domain.ProtectionAlert:
		event = domain.EventProtectionAlert
	case domain.ProtectionEmergencyStop:
		event, severity = domain.EventEmergencyStop, domain.SeverityCritical
	}

	p.logger.WarnContext(ctx, "protection action",
		slog.String("protection_id", pr.ID),
		slog.String("symbol", pr.Symbol),
		slog.String("action", string(typ)),
		slog.String("reason", reason),
	)
	if p.alerts == nil {
		return
	}
	p.alerts.Emit(domain.Alert{
		Event:    event,
		Severity: severity,
		Title:    fmt.Sprintf("Protection %s: %s", typ, pr.Symbol),
		Message:  reason,
		Fields: map[string]any{
			"protection_id": pr.ID,
			"symbol":        pr.Symbol,
			"side":          string(pr.Side),
			"size":          pr.Size,
			"score":         pr.Analysis.Risk.Score,
		},
		At: now,
	})
}

// Start launches the monitor loop. Calling Start twice is a no-op.
func (p *Protector) Start(ctx context.Context) {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)
}

// Stop halts the monitor loop and waits for it to exit.
func (p *Protector) Stop() {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel = nil
	p.done = nil
}

// Run starts the monitor and blocks until ctx is cancelled.
func (p *Protector) Run(ctx context.Context) error {
	p.Start(ctx)
	<-ctx.Done()
	p.Stop()
	return ctx.Err()
}

func (p *Protector) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}

// SplitSizes divides total into parts equal slices. The last slice absorbs
// the rounding remainder so the slices sum to total.
func SplitSizes(total float64, parts int) []float64 {
	if parts < 1 {
		parts = 1
	}
	t := decimal.NewFromFloat(total)
	each := t.Div(decimal.NewFromInt(int64(parts))).Truncate(8)
	out := make([]float64, parts)
	sum := decimal.Zero
	for i := 0; i < parts-1; i++ {
		out[i] = each.InexactFloat64()
		sum = sum.Add(each)
	}
	out[parts-1] = t.Sub(sum).InexactFloat64()
	return out
}

func terminal(s domain.ProtectionStatus) bool {
	return s == domain.ProtectionExpired || s == domain.ProtectionCancelled
}
