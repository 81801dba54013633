package steps

import (
	"context"

	"github.com/nodeforge/gatewayflow/pipeline"
	"github.com/nodeforge/gatewayflow/quota"
	"github.com/nodeforge/gatewayflow/ratelimit"
	"github.com/nodeforge/gatewayflow/types"
)

// defaultRPM/defaultTPM back a candidate's limits when the selected
// preset has not overridden them; the routing step's SelectedUpstream
// carries the per-candidate values once routing has run, but rate-limit
// runs before routing, so it reads whatever the api-key/tenant's own
// configured limits were written to the validation namespace.
const (
	defaultRPM = 60
	defaultTPM = 60000
)

// RateLimitStep enforces the RPM/TPM ceilings for the caller, short-
// circuiting TPM evaluation on an RPM denial and bypassing entirely for
// whitelisted subjects (handled inside ratelimit.Limiter itself).
type RateLimitStep struct {
	pipeline.BaseStep
	deps *Deps
}

func (s *RateLimitStep) Name() string        { return "rate_limit" }
func (s *RateLimitStep) DependsOn() []string { return []string{"signature", "jwt_auth"} }

func (s *RateLimitStep) Execute(ctx context.Context, wc *pipeline.Context) pipeline.StepResult {
	subject := wc.APIKeyID
	if subject == "" {
		subject = wc.UserID
	}

	limits := ratelimit.Limits{RPM: defaultRPM, TPM: defaultTPM}
	if rpm, ok := wc.Get("validation", "rpm_limit"); ok {
		if v, ok := rpm.(int); ok {
			limits.RPM = v
		}
	}
	if tpm, ok := wc.Get("validation", "tpm_limit"); ok {
		if v, ok := tpm.(int); ok {
			limits.TPM = v
		}
	}

	requestedTokens := 0
	if v, ok := wc.Get("validation", "estimated_tokens"); ok {
		if n, ok := v.(int); ok {
			requestedTokens = n
		}
	}

	decision, err := s.deps.RateLimiter.Check(ctx, subject, limits, requestedTokens)
	if err != nil {
		wc.Fail(pipeline.ErrorSourceGateway, types.ErrInternalError, "rate limiter unavailable")
		return pipeline.StepResult{Status: pipeline.StatusFailed, Err: err}
	}

	wc.Set("rate_limit", "decision", decision)
	if !decision.Allowed {
		wc.RetryAfter = decision.RetryAfter
		wc.Fail(pipeline.ErrorSourcePolicy, types.ErrRateLimited, "rate limit exceeded: "+decision.LimitedBy)
		return pipeline.StepResult{Status: pipeline.StatusFailed, Message: decision.LimitedBy}
	}
	return pipeline.StepResult{Status: pipeline.StatusSuccess}
}

// QuotaCheckStep atomically checks and decrements the subject's request
// quota counter by one; token and cost quotas are not checked here.
type QuotaCheckStep struct {
	pipeline.BaseStep
	deps *Deps
}

func (s *QuotaCheckStep) Name() string        { return "quota_check" }
func (s *QuotaCheckStep) DependsOn() []string { return []string{"rate_limit"} }

func (s *QuotaCheckStep) Execute(ctx context.Context, wc *pipeline.Context) pipeline.StepResult {
	subject := wc.APIKeyID
	if subject == "" {
		subject = wc.UserID
	}

	decision, err := s.deps.QuotaEnforcer.Check(ctx, subject, quota.KindRequest, 1)
	if err != nil {
		wc.Fail(pipeline.ErrorSourceGateway, types.ErrInternalError, "quota enforcer unavailable")
		return pipeline.StepResult{Status: pipeline.StatusFailed, Err: err}
	}
	if !decision.Allowed {
		wc.Fail(pipeline.ErrorSourcePolicy, types.ErrQuotaExceeded, "request quota exceeded")
		return pipeline.StepResult{Status: pipeline.StatusFailed, Message: string(decision.Kind)}
	}

	wc.Set("quota", "request_decision", decision)
	return pipeline.StepResult{Status: pipeline.StatusSuccess}
}
