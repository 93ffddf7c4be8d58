package slippage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/smartexec/internal/domain"
	"github.com/alanyoungcy/smartexec/internal/store/memory"
)

type scriptedGate struct {
	mu      sync.Mutex
	verdict func(symbol string, size float64) domain.SlippageAnalysis
	calls   int
}

func (g *scriptedGate) Analyze(_ context.Context, symbol string, side domain.Side, size float64, _ ...Option) domain.SlippageAnalysis {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	an := g.verdict(symbol, size)
	an.Symbol, an.Side, an.Size = symbol, side, size
	return an
}

func (g *scriptedGate) set(fn func(string, float64) domain.SlippageAnalysis) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verdict = fn
}

func verdict(action domain.RecommendedAction, score float64, suggested float64) func(string, float64) domain.SlippageAnalysis {
	return func(string, float64) domain.SlippageAnalysis {
		return domain.SlippageAnalysis{
			Risk: domain.RiskVerdict{Level: RiskLevelFor(score), Score: score},
			Recommendation: domain.Recommendation{
				Action:         action,
				Reason:         "scripted",
				SuggestedSize:  suggested,
				SuggestedDelay: 30 * time.Second,
			},
		}
	}
}

type alertRecorder struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (r *alertRecorder) Emit(a domain.Alert) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return true
}

func (r *alertRecorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.alerts))
	for i, a := range r.alerts {
		out[i] = a.Event
	}
	return out
}

type protectorFixture struct {
	p      *Protector
	gate   *scriptedGate
	alerts *alertRecorder
	now    time.Time
}

func newProtectorFixture(t *testing.T) *protectorFixture {
	t.Helper()
	f := &protectorFixture{
		gate:   &scriptedGate{verdict: verdict(domain.ActionProceed, 0.1, 0)},
		alerts: &alertRecorder{},
		now:    time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	f.p = NewProtector(f.gate, memory.NewMap[string, domain.Protection](), f.alerts, DefaultProtectorConfig(), discardLogger())
	f.p.now = func() time.Time { return f.now }
	return f
}

func (f *protectorFixture) create(t *testing.T, size float64) domain.Protection {
	t.Helper()
	pr, err := f.p.CreateProtection(context.Background(), "BTC/USDT", domain.SideBuy, size, domain.ProtectionConfig{})
	require.NoError(t, err)
	return pr
}

func TestCreateProtectionValidates(t *testing.T) {
	f := newProtectorFixture(t)
	_, err := f.p.CreateProtection(context.Background(), "", domain.Side("up"), -1, domain.ProtectionConfig{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidOrder))

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Violations, 3)
}

func TestCreateProtectionActive(t *testing.T) {
	f := newProtectorFixture(t)
	pr := f.create(t, 10)

	assert.Equal(t, domain.ProtectionActive, pr.Status)
	assert.Empty(t, pr.Actions)
	assert.Equal(t, f.now.Add(5*time.Minute), pr.ExpiresAt)
	assert.Empty(t, f.alerts.events())
}

func TestCreateProtectionCancelVerdictTriggers(t *testing.T) {
	f := newProtectorFixture(t)
	f.gate.set(verdict(domain.ActionCancel, 0.8, 0))

	pr := f.create(t, 10)

	assert.Equal(t, domain.ProtectionTriggered, pr.Status)
	require.Len(t, pr.Actions, 1)
	assert.Equal(t, domain.ProtectionAlert, pr.Actions[0].Type)
	assert.True(t, pr.Actions[0].Executed)
	assert.Equal(t, []string{domain.EventProtectionAlert}, f.alerts.events())
}

func TestCheckReduceSize(t *testing.T) {
	f := newProtectorFixture(t)
	pr := f.create(t, 1000)

	f.gate.set(verdict(domain.ActionReduceSize, 0.6, 100))
	f.p.Check(context.Background())

	got, err := f.p.Get(pr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProtectionActive, got.Status)
	assert.InDelta(t, 100, got.Size, 1e-12)
	require.Len(t, got.Actions, 1)
	assert.Equal(t, domain.ProtectionReduceSize, got.Actions[0].Type)
}

func TestCheckSplitOrderCreatesChildren(t *testing.T) {
	f := newProtectorFixture(t)
	pr := f.create(t, 10)

	f.gate.set(func(_ string, size float64) domain.SlippageAnalysis {
		if size == 10 {
			return verdict(domain.ActionSplitOrder, 0.6, 3)("", size)
		}
		return verdict(domain.ActionProceed, 0.1, 0)("", size)
	})
	f.p.Check(context.Background())

	parent, err := f.p.Get(pr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProtectionCancelled, parent.Status)

	var total float64
	var children int
	for _, c := range f.p.List() {
		if c.ParentID == pr.ID {
			children++
			total += c.Size
			assert.Equal(t, domain.ProtectionActive, c.Status)
		}
	}
	assert.Equal(t, 4, children)
	assert.InDelta(t, 10, total, 1e-9)
}

func TestCheckDelayThenRecover(t *testing.T) {
	f := newProtectorFixture(t)
	pr := f.create(t, 10)

	f.gate.set(verdict(domain.ActionDelay, 0.4, 0))
	f.p.Check(context.Background())

	got, _ := f.p.Get(pr.ID)
	assert.Equal(t, domain.ProtectionTriggered, got.Status)
	require.NotNil(t, got.RecheckAt)
	assert.Equal(t, f.now.Add(30*time.Second), *got.RecheckAt)

	// Not due yet: no new analysis.
	calls := f.gate.calls
	f.gate.set(verdict(domain.ActionProceed, 0.1, 0))
	f.now = f.now.Add(10 * time.Second)
	f.p.Check(context.Background())
	assert.Equal(t, calls, f.gate.calls)

	f.now = f.now.Add(30 * time.Second)
	f.p.Check(context.Background())
	got, _ = f.p.Get(pr.ID)
	assert.Equal(t, domain.ProtectionActive, got.Status)
	assert.Nil(t, got.RecheckAt)
}

func TestCheckEmergencyStop(t *testing.T) {
	f := newProtectorFixture(t)
	pr := f.create(t, 10)

	f.gate.set(verdict(domain.ActionCancel, 0.95, 0))
	f.p.Check(context.Background())

	got, _ := f.p.Get(pr.ID)
	assert.Equal(t, domain.ProtectionCancelled, got.Status)
	require.Len(t, got.Actions, 1)
	assert.Equal(t, domain.ProtectionEmergencyStop, got.Actions[0].Type)
	assert.Contains(t, f.alerts.events(), domain.EventEmergencyStop)
}

func TestCheckExpires(t *testing.T) {
	f := newProtectorFixture(t)
	pr := f.create(t, 10)

	f.now = f.now.Add(6 * time.Minute)
	f.p.Check(context.Background())

	got, _ := f.p.Get(pr.ID)
	assert.Equal(t, domain.ProtectionExpired, got.Status)
}

func TestCancelProtection(t *testing.T) {
	f := newProtectorFixture(t)
	pr := f.create(t, 10)

	got, err := f.p.Cancel(context.Background(), pr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProtectionCancelled, got.Status)

	again, err := f.p.Cancel(context.Background(), pr.ID)
	require.NoError(t, err)
	assert.Len(t, again.Actions, 1)

	_, err = f.p.Cancel(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProtectionCopiesAreIsolated(t *testing.T) {
	f := newProtectorFixture(t)
	f.gate.set(verdict(domain.ActionCancel, 0.8, 0))
	pr := f.create(t, 10)

	pr.Actions[0].Reason = "tampered"
	got, _ := f.p.Get(pr.ID)
	assert.Equal(t, "scripted", got.Actions[0].Reason)
}

func TestProtectorStartStop(t *testing.T) {
	f := newProtectorFixture(t)
	f.p.cfg.Interval = 5 * time.Millisecond
	f.create(t, 10)

	f.p.Start(context.Background())
	f.p.Start(context.Background())
	require.Eventually(t, func() bool {
		f.gate.mu.Lock()
		defer f.gate.mu.Unlock()
		return f.gate.calls > 2
	}, time.Second, 5*time.Millisecond)
	f.p.Stop()
	f.p.Stop()
}

func TestSplitSizesSumToTotal(t *testing.T) {
	sizes := SplitSizes(10, 3)
	require.Len(t, sizes, 3)
	assert.InDelta(t, 3.33333333, sizes[0], 1e-12)
	assert.InDelta(t, 10, sizes[0]+sizes[1]+sizes[2], 1e-9)
}
