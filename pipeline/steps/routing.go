package steps

import (
	"context"

	"github.com/nodeforge/gatewayflow/pipeline"
	"github.com/nodeforge/gatewayflow/routing"
	"github.com/nodeforge/gatewayflow/types"
)

// RoutingStep loads the candidate set for the requested model and asks
// the bandit selector for an ordered failover list, writing the winner
// into wc.Selected for template_render/upstream_call to consume.
type RoutingStep struct {
	pipeline.BaseStep
	deps *Deps
}

func (s *RoutingStep) Name() string        { return "routing" }
func (s *RoutingStep) DependsOn() []string { return []string{"quota_check"} }

func (s *RoutingStep) Execute(ctx context.Context, wc *pipeline.Context) pipeline.StepResult {
	candidates, err := s.deps.Candidates.LoadCandidates(ctx, wc.RequestedModel)
	if err != nil {
		wc.Fail(pipeline.ErrorSourceGateway, types.ErrInternalError, "failed to load routing candidates")
		return pipeline.StepResult{Status: pipeline.StatusFailed, Err: err}
	}

	strategy := routing.StrategyEpsilonGreedy
	if v, ok := wc.Get("validation", "routing_strategy"); ok {
		if name, ok := v.(string); ok && name != "" {
			strategy = routing.Strategy(name)
		}
	}

	present := map[string]bool{}
	if fields, ok := wc.Get("validation", "present_fields"); ok {
		if m, ok := fields.(map[string]bool); ok {
			present = m
		}
	}

	prefixHash, _ := wc.Get("validation", "conversation_prefix_hash")
	prefixHashStr, _ := prefixHash.(string)

	tunables := s.deps.LoadRoutingConfig()
	result, err := s.deps.Selector.Select(ctx, routing.Request{
		Strategy:               strategy,
		Epsilon:                tunables.DefaultEpsilon,
		AffinityBonus:          tunables.AffinityBonus,
		ConversationPrefixHash: prefixHashStr,
		PresentFields:          present,
	}, candidates)
	if err != nil {
		wc.Fail(pipeline.ErrorSourceGateway, types.ErrRoutingUnavailable, "no available upstream candidates")
		return pipeline.StepResult{Status: pipeline.StatusFailed, Err: err}
	}

	winner := result.Ordered[0]
	wc.Selected = &pipeline.SelectedUpstream{
		InstanceID:        winner.InstanceID,
		ModelID:           winner.ModelID,
		CredentialID:      winner.CredentialID,
		Protocol:          winner.ProviderCode,
		BaseURL:           winner.BaseURL,
		RequestTemplate:   map[string]any{"source": winner.RequestTemplate},
		ResponseTransform: map[string]any{"source": winner.ResponseTransform},
		Weight:            int(winner.Weight),
		Priority:          winner.Priority,
	}
	wc.Set("routing", "ordered", result.Ordered)
	wc.Set("routing", "reason", result.Reason)
	return pipeline.StepResult{Status: pipeline.StatusSuccess}
}
