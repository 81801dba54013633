package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculate_PricesTokensPerThousand(t *testing.T) {
	usage := UsageCounters{PromptTokens: 2000, CompletionTokens: 1000}
	cfg := PricingConfig{InputPer1K: 0.01, OutputPer1K: 0.03}

	summary := Calculate(usage, cfg)
	assert.InDelta(t, 0.02, summary.InputCost, 1e-9)
	assert.InDelta(t, 0.03, summary.OutputCost, 1e-9)
	assert.InDelta(t, 0.05, summary.TotalCost, 1e-9)
}

func TestCalculate_IncludesImageAndAudioAddOns(t *testing.T) {
	usage := UsageCounters{ImageCalls: 2, AudioSeconds: 10}
	cfg := PricingConfig{ImagePerCall: 0.5, AudioPerSecond: 0.002}

	summary := Calculate(usage, cfg)
	assert.InDelta(t, 1.02, summary.ExtraCost, 1e-9)
	assert.InDelta(t, 1.02, summary.TotalCost, 1e-9)
}

func TestCalculate_ZeroUsageZeroCost(t *testing.T) {
	summary := Calculate(UsageCounters{}, PricingConfig{InputPer1K: 1, OutputPer1K: 1})
	assert.Equal(t, float64(0), summary.TotalCost)
}
