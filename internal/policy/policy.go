// Package policy implements the epsilon-greedy Q-learning execution policy.
package policy

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

// Config tunes learning and the offered action space.
type Config struct {
	LearningRate   float64
	Discount       float64
	InitialEpsilon float64
	EpsilonDecay   float64
	MinEpsilon     float64
	LargeOrderSize float64
	HugeOrderSize  float64
	TWAPSlices     int
	TWAPInterval   time.Duration

	// Reward scales: a component reaches zero at its scale and -1 at twice it.
	CostScale      float64
	SlippageScale  float64
	LatencyScaleMs float64
	ImpactScale    float64
}

// DefaultConfig returns the reference hyperparameters.
func DefaultConfig() Config {
	return Config{
		LearningRate:   0.1,
		Discount:       0.9,
		InitialEpsilon: 0.3,
		EpsilonDecay:   0.995,
		MinEpsilon:     0.05,
		LargeOrderSize: 1000,
		HugeOrderSize:  10000,
		TWAPSlices:     3,
		TWAPInterval:   200 * time.Millisecond,
		CostScale:      0.01,
		SlippageScale:  0.005,
		LatencyScaleMs: 1000,
		ImpactScale:    0.01,
	}
}

// Reward component weights.
const (
	weightCost     = 0.30
	weightSlippage = 0.25
	weightLatency  = 0.15
	weightSuccess  = 0.20
	weightImpact   = 0.10
)

// ErrNoActions is returned when SelectAction is offered nothing.
var ErrNoActions = errors.New("policy: no actions offered")

// Random is the source of exploration randomness.
type Random interface {
	Float64() float64
	IntN(n int) int
}

// Policy is an epsilon-greedy learner over discretized market states.
type Policy struct {
	cfg    Config
	q      domain.KV[string, domain.QEntry]
	logger *slog.Logger
	now    func() time.Time

	rngMu sync.Mutex
	rng   Random

	mu      sync.Mutex
	epsilon float64
	updates int64
}

// New creates a Policy. A nil rng uses a time-seeded PCG source.
func New(q domain.KV[string, domain.QEntry], cfg Config, rng Random, logger *slog.Logger) *Policy {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
	}
	if cfg.MinEpsilon > cfg.InitialEpsilon {
		cfg.MinEpsilon = cfg.InitialEpsilon
	}
	return &Policy{
		cfg:     cfg,
		q:       q,
		rng:     rng,
		logger:  logger.With(slog.String("component", "policy")),
		now:     time.Now,
		epsilon: cfg.InitialEpsilon,
	}
}

// StateKey discretizes a market state.
func StateKey(s domain.MarketState) string {
	at := s.At
	if at.IsZero() {
		at = time.Now()
	}
	vol := "high"
	switch {
	case s.Volatility < 0.01:
		vol = "low"
	case s.Volatility < 0.03:
		vol = "mid"
	}
	urgency := s.Urgency
	if urgency == "" {
		urgency = domain.UrgencyMedium
	}
	return strings.Join([]string{
		s.Symbol,
		"s" + strconv.Itoa(logBucket(s.Size)),
		string(urgency),
		vol,
		"l" + strconv.Itoa(logBucket(s.Liquidity)),
		"t" + strconv.Itoa(at.Hour()/6),
		"d" + strconv.Itoa(int(at.Weekday())),
	}, "|")
}

func logBucket(v float64) int {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	return int(math.Floor(math.Log10(v + 1)))
}

// QKey joins a state key and an action key.
func QKey(stateKey string, a domain.PolicyAction) string {
	return stateKey + "#" + a.Key()
}

// Epsilon returns the current exploration rate.
func (p *Policy) Epsilon() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.epsilon
}

// Q returns the learned value of (state, action), zero when unknown.
func (p *Policy) Q(state domain.MarketState, a domain.PolicyAction) float64 {
	e, _ := p.q.Get(QKey(StateKey(state), a))
	return e.Value
}

// SelectAction picks an action epsilon-greedily. Exploitation ties keep
// the first offered action.
func (p *Policy) SelectAction(state domain.MarketState, actions []domain.PolicyAction) (domain.PolicyAction, error) {
	if len(actions) == 0 {
		return domain.PolicyAction{}, ErrNoActions
	}
	eps := p.Epsilon()

	p.rngMu.Lock()
	explore := p.rng.Float64() < eps
	idx := 0
	if explore {
		idx = p.rng.IntN(len(actions))
	}
	p.rngMu.Unlock()

	if explore {
		return actions[idx], nil
	}

	sk := StateKey(state)
	best := actions[0]
	bestQ := math.Inf(-1)
	for _, a := range actions {
		e, _ := p.q.Get(QKey(sk, a))
		if e.Value > bestQ {
			best, bestQ = a, e.Value
		}
	}
	return best, nil
}

func clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

func inverted(v, scale float64) float64 {
	if scale <= 0 {
		return 0
	}
	return clamp(1 - v/scale)
}

// NormalizeReward folds an execution outcome into a reward in [-1, 1].
func (p *Policy) NormalizeReward(o domain.ExecutionOutcome) float64 {
	success := -0.5
	if o.Success {
		success = 0.5
	}
	r := weightCost*inverted(o.Cost, p.cfg.CostScale) +
		weightSlippage*inverted(math.Abs(o.Slippage), p.cfg.SlippageScale) +
		weightLatency*inverted(o.LatencyMs, p.cfg.LatencyScaleMs) +
		weightSuccess*success +
		weightImpact*inverted(o.Impact, p.cfg.ImpactScale)
	return clamp(r)
}

// Update learns from an execution outcome and returns the new Q value.
func (p *Policy) Update(state domain.MarketState, a domain.PolicyAction, outcome domain.ExecutionOutcome, next *domain.MarketState) float64 {
	return p.Learn(state, a, p.NormalizeReward(outcome), next)
}

// Learn applies one temporal-difference step with an already normalized
// reward, then decays epsilon.
func (p *Policy) Learn(state domain.MarketState, a domain.PolicyAction, reward float64, next *domain.MarketState) float64 {
	maxNext := 0.0
	if next != nil {
		maxNext = p.maxQ(StateKey(*next))
	}

	key := QKey(StateKey(state), a)
	now := p.now()
	entry := p.q.Update(key, func(old domain.QEntry, _ bool) domain.QEntry {
		old.Key = key
		old.Value += p.cfg.LearningRate * (reward + p.cfg.Discount*maxNext - old.Value)
		old.Visits++
		old.UpdatedAt = now
		return old
	})

	p.mu.Lock()
	p.epsilon = math.Max(p.cfg.MinEpsilon, math.Min(p.cfg.InitialEpsilon, p.epsilon*p.cfg.EpsilonDecay))
	p.updates++
	eps := p.epsilon
	p.mu.Unlock()

	p.logger.Debug("q updated",
		slog.String("key", key),
		slog.Float64("reward", reward),
		slog.Float64("q", entry.Value),
		slog.Float64("epsilon", eps),
	)
	return entry.Value
}

// maxQ scans every entry under the state prefix. Entries seen for actions no
// longer offered still count.
func (p *Policy) maxQ(stateKey string) float64 {
	prefix := stateKey + "#"
	best, found := 0.0, false
	p.q.Range(func(k string, e domain.QEntry) bool {
		if strings.HasPrefix(k, prefix) && (!found || e.Value > best) {
			best, found = e.Value, true
		}
		return true
	})
	return best
}

// GenerateActions builds the action space for an order of size.
func (p *Policy) GenerateActions(size float64, venues []string) []domain.PolicyAction {
	var out []domain.PolicyAction
	for _, v := range venues {
		out = append(out, domain.PolicyAction{Mode: domain.ModeDirect, Venue: v})
		if size > p.cfg.LargeOrderSize {
			out = append(out, domain.PolicyAction{
				Mode:     domain.ModeTWAP,
				Venue:    v,
				Slices:   p.cfg.TWAPSlices,
				Interval: p.cfg.TWAPInterval,
			})
		}
		if size > p.cfg.HugeOrderSize {
			out = append(out, domain.PolicyAction{Mode: domain.ModeIceberg, Venue: v, PeakSize: size / 3})
		}
	}
	return out
}

// Phase names the exploration regime for eps.
func Phase(eps float64) string {
	switch {
	case eps > 0.2:
		return domain.PhaseExploring
	case eps > 0.1:
		return domain.PhaseLearning
	default:
		return domain.PhaseExploiting
	}
}

// Summary describes the Q-table.
func (p *Policy) Summary() domain.PolicySummary {
	p.mu.Lock()
	s := domain.PolicySummary{Epsilon: p.epsilon, Updates: p.updates, Phase: Phase(p.epsilon)}
	p.mu.Unlock()

	states := make(map[string]struct{})
	var sum float64
	first := true
	p.q.Range(func(k string, e domain.QEntry) bool {
		s.Entries++
		sum += e.Value
		if i := strings.IndexByte(k, '#'); i >= 0 {
			states[k[:i]] = struct{}{}
			if first || e.Value > s.BestQ {
				s.BestQ, s.BestAction, first = e.Value, k[i+1:], false
			}
		}
		return true
	})
	s.States = len(states)
	if s.Entries > 0 {
		s.AvgQ = sum / float64(s.Entries)
	}
	return s
}

// Snapshot returns the Q-table ordered by key and the current epsilon.
func (p *Policy) Snapshot() ([]domain.QEntry, float64) {
	entries := make([]domain.QEntry, 0, p.q.Len())
	p.q.Range(func(_ string, e domain.QEntry) bool {
		entries = append(entries, e)
		return true
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, p.Epsilon()
}

// Restore loads a persisted Q-table. epsilon is clamped to the configured
// bounds.
func (p *Policy) Restore(entries []domain.QEntry, epsilon float64) error {
	for _, e := range entries {
		if !strings.Contains(e.Key, "#") {
			return fmt.Errorf("policy: restore: malformed key %q", e.Key)
		}
	}
	for _, e := range entries {
		p.q.Put(e.Key, e)
	}
	p.mu.Lock()
	if epsilon > 0 {
		p.epsilon = math.Max(p.cfg.MinEpsilon, math.Min(p.cfg.InitialEpsilon, epsilon))
	}
	eps := p.epsilon
	p.mu.Unlock()

	p.logger.Info("q-table restored", slog.Int("entries", len(entries)), slog.Float64("epsilon", eps))
	return nil
}
