package routing

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nodeforge/gatewayflow/internal/cache"
)

// AffinityLookup resolves a conversation prefix hash to a recently
// successful arm, backed by a KV lookup with its own TTL.
type AffinityLookup interface {
	LookupAffinity(ctx context.Context, conversationPrefixHash string) (armID string, ok bool)
	RecordAffinity(ctx context.Context, conversationPrefixHash, armID string, ttl time.Duration) error
}

type kvAffinity struct {
	manager *cache.Manager
}

// NewKVAffinityLookup backs AffinityLookup with the shared Redis cache.
func NewKVAffinityLookup(manager *cache.Manager) AffinityLookup {
	return &kvAffinity{manager: manager}
}

func (k *kvAffinity) LookupAffinity(ctx context.Context, prefixHash string) (string, bool) {
	val, err := k.manager.Get(ctx, cache.NamespacedKey("routing_affinity", prefixHash))
	if err != nil || val == "" {
		return "", false
	}
	return val, true
}

func (k *kvAffinity) RecordAffinity(ctx context.Context, prefixHash, armID string, ttl time.Duration) error {
	return k.manager.Set(ctx, cache.NamespacedKey("routing_affinity", prefixHash), armID, cache.JitteredTTL(ttl))
}

// Request carries everything the selector needs to score and order
// candidates for one routing decision.
type Request struct {
	Strategy               Strategy
	Epsilon                float64 // used by epsilon_greedy; 0 disables exploration, negative means 0.1
	AffinityBonus          float64
	ConversationPrefixHash string
	PresentFields          map[string]bool
}

// Result is the ordered failover list produced by a selection: Selected is
// Ordered[0]; Ordered[1:] are retained for upstream_call to try in order on
// failure.
type Result struct {
	Ordered []Candidate
	Reason  string
}

// Selector filters and orders candidates into a failover list.
type Selector struct {
	affinity AffinityLookup
	logger   *zap.Logger
	rngMu    sync.Mutex
	rng      *rand.Rand
}

// NewSelector constructs a Selector. affinity may be nil to disable
// affinity boosting.
func NewSelector(affinity AffinityLookup, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{
		affinity: affinity,
		logger:   logger.With(zap.String("component", "routing")),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ErrNoCandidates is returned when every candidate was filtered out.
type ErrNoCandidates struct{}

func (ErrNoCandidates) Error() string { return "routing: no eligible candidates" }

// Select filters candidates by eligibility, scores the survivors per req's
// strategy, and returns them ordered best-first as an ordered failover
// list.
func (s *Selector) Select(ctx context.Context, req Request, candidates []Candidate) (Result, error) {
	eligible := s.filter(candidates, req.PresentFields)
	if len(eligible) == 0 {
		return Result{}, ErrNoCandidates{}
	}

	s.applyAffinityBoost(ctx, req, eligible)

	var ordered []Candidate
	var reason string
	switch req.Strategy {
	case StrategyThompson:
		ordered, reason = s.orderThompson(eligible)
	case StrategyWeighted:
		ordered, reason = s.orderWeighted(eligible)
	default:
		ordered, reason = s.orderEpsilonGreedy(eligible, req.Epsilon)
	}

	return Result{Ordered: ordered, Reason: reason}, nil
}

func (s *Selector) filter(candidates []Candidate, present map[string]bool) []Candidate {
	eligible := make([]Candidate, 0, len(candidates))
	now := time.Now()
	for _, c := range candidates {
		if !c.Enabled || c.State.Disabled {
			continue
		}
		if !c.State.CooldownUntil.IsZero() && c.State.CooldownUntil.After(now) {
			continue
		}
		if !c.hasRequiredFields(present) {
			continue
		}
		if !c.meetsSLA() {
			continue
		}
		eligible = append(eligible, c)
	}
	return eligible
}

func (s *Selector) applyAffinityBoost(ctx context.Context, req Request, candidates []Candidate) {
	if s.affinity == nil || req.ConversationPrefixHash == "" || req.AffinityBonus == 0 {
		return
	}
	armID, ok := s.affinity.LookupAffinity(ctx, req.ConversationPrefixHash)
	if !ok {
		return
	}
	for i := range candidates {
		if candidates[i].ArmID == armID {
			candidates[i].Weight += req.AffinityBonus
		}
	}
}

// orderEpsilonGreedy implements ε-greedy: with probability ε, shuffle
// candidates uniformly at random; otherwise rank by Laplace-smoothed
// success rate, breaking ties by priority then weight.
func (s *Selector) orderEpsilonGreedy(candidates []Candidate, epsilon float64) ([]Candidate, string) {
	if epsilon < 0 {
		epsilon = 0.1
	}
	out := append([]Candidate(nil), candidates...)

	s.rngMu.Lock()
	explore := s.rng.Float64() < epsilon
	if explore {
		s.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	}
	s.rngMu.Unlock()

	if explore {
		return out, "epsilon_greedy:explore"
	}

	sort.SliceStable(out, func(i, j int) bool {
		si, sj := out[i].State.successRate(), out[j].State.successRate()
		if si != sj {
			return si > sj
		}
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Weight > out[j].Weight
	})
	return out, "epsilon_greedy:exploit"
}

// orderThompson samples a Beta(α, β) draw per arm and ranks by the sample.
func (s *Selector) orderThompson(candidates []Candidate) ([]Candidate, string) {
	out := append([]Candidate(nil), candidates...)
	samples := make(map[string]float64, len(out))

	s.rngMu.Lock()
	for _, c := range out {
		samples[c.ArmID] = sampleBeta(s.rng, math.Max(c.State.Alpha, 1e-3), math.Max(c.State.Beta, 1e-3))
	}
	s.rngMu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return samples[out[i].ArmID] > samples[out[j].ArmID]
	})
	return out, "thompson"
}

// orderWeighted samples proportionally to weight × (1 - failure_penalty),
// repeatedly, to build a full ordering rather than a single draw.
func (s *Selector) orderWeighted(candidates []Candidate) ([]Candidate, string) {
	remaining := append([]Candidate(nil), candidates...)
	out := make([]Candidate, 0, len(remaining))

	for len(remaining) > 0 {
		weights := make([]float64, len(remaining))
		total := 0.0
		for i, c := range remaining {
			penalty := 0.0
			if c.State.total() > 0 {
				penalty = float64(c.State.Failures) / c.State.total()
			}
			w := c.Weight * (1 - penalty)
			if w < 0 {
				w = 0
			}
			weights[i] = w
			total += w
		}

		s.rngMu.Lock()
		r := s.rng.Float64() * total
		s.rngMu.Unlock()

		idx := len(remaining) - 1
		if total > 0 {
			cum := 0.0
			for i, w := range weights {
				cum += w
				if r <= cum {
					idx = i
					break
				}
			}
		}

		out = append(out, remaining[idx])
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}
	return out, "weighted"
}

// sampleBeta draws from Beta(alpha, beta) via two Gamma draws, the standard
// construction when no native Beta sampler is available.
func sampleBeta(rng *rand.Rand, alpha, beta float64) float64 {
	x := sampleGamma(rng, alpha)
	y := sampleGamma(rng, beta)
	if x+y == 0 {
		return 0
	}
	return x / (x + y)
}

// sampleGamma draws from Gamma(shape, 1) using Marsaglia-Tsang for shape>=1,
// boosting small shapes per the standard trick.
func sampleGamma(rng *rand.Rand, shape float64) float64 {
	if shape < 1 {
		u := rng.Float64()
		return sampleGamma(rng, shape+1) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		var x, v float64
		for {
			x = rng.NormFloat64()
			v = 1 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}
