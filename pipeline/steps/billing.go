package steps

import (
	"context"

	"github.com/nodeforge/gatewayflow/billing"
	"github.com/nodeforge/gatewayflow/pipeline"
	"github.com/nodeforge/gatewayflow/template"
	"github.com/nodeforge/gatewayflow/upstream"
)

// BillingStep prices the completed request against the selected
// candidate's pricing config and dispatches async quota decrementing.
type BillingStep struct {
	pipeline.BaseStep
	deps *Deps
}

func (s *BillingStep) Name() string        { return "billing" }
func (s *BillingStep) DependsOn() []string { return []string{"response_transform"} }

func (s *BillingStep) Execute(ctx context.Context, wc *pipeline.Context) pipeline.StepResult {
	if wc.HasError() || s.deps.BillingRecorder == nil {
		return pipeline.StepResult{Status: pipeline.StatusSkipped}
	}

	usage := usageCountersFrom(wc)
	cfg := pricingConfigFrom(wc.Selected)
	summary := billing.Calculate(usage, cfg)

	wc.Billing = pipeline.BillingSummary{
		InputTokens:  usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
		TotalTokens:  usage.PromptTokens + usage.CompletionTokens,
		InputCost:    summary.InputCost,
		OutputCost:   summary.OutputCost,
		TotalCost:    summary.TotalCost,
	}

	subject := wc.APIKeyID
	if subject == "" {
		subject = wc.UserID
	}
	s.deps.BillingRecorder.RecordAsync(ctx, subject, usage, summary)

	return pipeline.StepResult{Status: pipeline.StatusSuccess}
}

func usageCountersFrom(wc *pipeline.Context) billing.UsageCounters {
	if canonicalRaw, ok := wc.Get("response_transform", "canonical"); ok {
		if canonical, ok := canonicalRaw.(template.CanonicalResponse); ok {
			return billing.UsageCounters{
				PromptTokens:     canonical.Usage.PromptTokens,
				CompletionTokens: canonical.Usage.CompletionTokens,
			}
		}
	}
	if usageRaw, ok := wc.Get("upstream_call", "usage"); ok {
		if usage, ok := usageRaw.(upstream.UsageTotals); ok {
			return billing.UsageCounters{
				PromptTokens:     usage.PromptTokens,
				CompletionTokens: usage.CompletionTokens,
			}
		}
	}
	return billing.UsageCounters{}
}

func pricingConfigFrom(selected *pipeline.SelectedUpstream) billing.PricingConfig {
	if selected == nil || selected.PricingConfig == nil {
		return billing.PricingConfig{}
	}
	p := selected.PricingConfig
	return billing.PricingConfig{
		InputPer1K:     p["input_per_1k"],
		OutputPer1K:    p["output_per_1k"],
		CacheReadPer1K: p["cache_read_per_1k"],
		ImagePerCall:   p["image_per_call"],
		AudioPerSecond: p["audio_per_second"],
	}
}
