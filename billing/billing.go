// Package billing prices completed requests against pricing config and
// dispatches asynchronous usage recording against the quota subsystem.
package billing

import (
	"context"

	"go.uber.org/zap"

	"github.com/nodeforge/gatewayflow/quota"
)

// PricingConfig is a per-model pricing table, priced per 1k tokens with
// optional per-call/per-second add-ons for non-text modalities.
type PricingConfig struct {
	InputPer1K     float64
	OutputPer1K    float64
	CacheReadPer1K float64
	ImagePerCall   float64
	AudioPerSecond float64
}

// UsageCounters is what response_transform (or the stream accumulator)
// hands billing: raw token/call counts, no pricing applied yet.
type UsageCounters struct {
	PromptTokens     int
	CompletionTokens int
	CacheReadTokens  int
	ImageCalls       int
	AudioSeconds     float64
}

// Summary is the canonical billing outcome written to the request context.
type Summary struct {
	InputCost  float64
	OutputCost float64
	ExtraCost  float64
	TotalCost  float64
}

// Calculate prices usage against cfg.
func Calculate(usage UsageCounters, cfg PricingConfig) Summary {
	inputCost := float64(usage.PromptTokens) / 1000 * cfg.InputPer1K
	outputCost := float64(usage.CompletionTokens) / 1000 * cfg.OutputPer1K
	extraCost := float64(usage.CacheReadTokens)/1000*cfg.CacheReadPer1K +
		float64(usage.ImageCalls)*cfg.ImagePerCall +
		usage.AudioSeconds*cfg.AudioPerSecond

	return Summary{
		InputCost:  inputCost,
		OutputCost: outputCost,
		ExtraCost:  extraCost,
		TotalCost:  inputCost + outputCost + extraCost,
	}
}

// Recorder dispatches the asynchronous usage-recording task: atomically
// decrementing the subject's quota counters after billing has priced a
// completed request.
type Recorder struct {
	enforcer *quota.Enforcer
	logger   *zap.Logger
}

// NewRecorder constructs a Recorder.
func NewRecorder(enforcer *quota.Enforcer, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{enforcer: enforcer, logger: logger.With(zap.String("component", "billing"))}
}

// RecordAsync decrements the subject's token, request, and cost quota
// counters without blocking the caller; any failure is logged, never
// propagated, since usage accounting must not affect the response already
// sent to the client.
func (r *Recorder) RecordAsync(ctx context.Context, subject string, usage UsageCounters, summary Summary) {
	go func() {
		bgCtx := context.WithoutCancel(ctx)
		totalTokens := usage.PromptTokens + usage.CompletionTokens

		if _, err := r.enforcer.Check(bgCtx, subject, quota.KindToken, float64(totalTokens)); err != nil {
			r.logger.Error("failed to decrement token quota", zap.Error(err))
		}
		if _, err := r.enforcer.Check(bgCtx, subject, quota.KindRequest, 1); err != nil {
			r.logger.Error("failed to decrement request quota", zap.Error(err))
		}
		if _, err := r.enforcer.Check(bgCtx, subject, quota.KindCost, summary.TotalCost); err != nil {
			r.logger.Error("failed to decrement cost quota", zap.Error(err))
		}
	}()
}
