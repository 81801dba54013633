// Package routing selects an ordered failover list of upstream candidates
// for a request using a multi-armed-bandit strategy over per-arm health
// state, with affinity boosting and circuit-breaker-aware filtering.
package routing

import "time"

// Strategy names a routing selection policy.
type Strategy string

const (
	StrategyEpsilonGreedy Strategy = "epsilon_greedy"
	StrategyThompson      Strategy = "thompson"
	StrategyWeighted      Strategy = "weighted"
)

// ArmState is the bandit state for one (provider instance, credential,
// model) arm, persisted across requests and updated after every upstream
// call.
type ArmState struct {
	ArmID string

	Alpha float64 // Beta-distribution success pseudo-count
	Beta  float64 // Beta-distribution failure pseudo-count

	Successes int64
	Failures  int64

	LatencyP50Ms float64
	LatencyP95Ms float64

	CooldownUntil time.Time
	Disabled      bool
}

func (a ArmState) total() float64 {
	return float64(a.Successes + a.Failures)
}

// successRate is the Laplace-smoothed empirical success rate used by the
// epsilon-greedy strategy: (successes+1)/(total+2).
func (a ArmState) successRate() float64 {
	return (float64(a.Successes) + 1) / (a.total() + 2)
}

// Candidate is one routable arm: an upstream instance/credential/model
// triple joined with its preset config and current bandit state.
type Candidate struct {
	ArmID        string
	ProviderCode string
	InstanceID   string
	CredentialID string
	ModelID      string

	Priority int
	Weight   float64

	MaxCostPerReq  float64
	MaxLatencyMs   int
	MinSuccessRate float64

	RequiredFields []string // e.g. "reference_audio_url" for TTS voice clone

	RequestTemplate    string
	ResponseTransform  string
	BaseURL            string

	Enabled bool
	State   ArmState
}

// meetsSLA reports whether c's own configured ceilings are satisfied by its
// current bandit state.
func (c Candidate) meetsSLA() bool {
	if c.MinSuccessRate > 0 && c.State.successRate() < c.MinSuccessRate {
		return false
	}
	if c.MaxLatencyMs > 0 && c.State.LatencyP95Ms > float64(c.MaxLatencyMs) {
		return false
	}
	return true
}

// hasRequiredFields reports whether present contains every field c requires.
func (c Candidate) hasRequiredFields(present map[string]bool) bool {
	for _, f := range c.RequiredFields {
		if !present[f] {
			return false
		}
	}
	return true
}
