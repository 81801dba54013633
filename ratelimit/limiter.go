// Package ratelimit enforces per-subject RPM and TPM limits with Redis-backed
// atomic sliding-window and token-bucket scripts.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nodeforge/gatewayflow/internal/cache"
)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed    bool
	Remaining  float64
	RetryAfter time.Duration
	// LimitedBy names which bucket denied the request: "rpm" or "tpm".
	// Empty when Allowed is true.
	LimitedBy string
}

// Limits configures the RPM and TPM buckets for one subject.
type Limits struct {
	RPM int
	TPM int
}

// Whitelist reports whether a subject bypasses rate limiting entirely.
type Whitelist interface {
	IsWhitelisted(subject string) bool
}

type staticWhitelist map[string]struct{}

func (w staticWhitelist) IsWhitelisted(subject string) bool {
	_, ok := w[subject]
	return ok
}

// NewStaticWhitelist builds a Whitelist from a fixed set of subjects.
func NewStaticWhitelist(subjects ...string) Whitelist {
	w := make(staticWhitelist, len(subjects))
	for _, s := range subjects {
		w[s] = struct{}{}
	}
	return w
}

// Limiter enforces the gateway's sliding-window RPM and token-bucket TPM
// policy. RPM is always checked before TPM; on RPM denial, TPM is never
// consulted.
type Limiter struct {
	manager   *cache.Manager
	scripts   *cache.ScriptRegistry
	whitelist Whitelist
	logger    *zap.Logger

	rpmSha string
	tpmSha string

	windowDuration time.Duration
}

// NewLimiter constructs a Limiter and loads its Lua scripts into Redis.
func NewLimiter(ctx context.Context, manager *cache.Manager, whitelist Whitelist, logger *zap.Logger) (*Limiter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if whitelist == nil {
		whitelist = NewStaticWhitelist()
	}

	reg := cache.NewScriptRegistry()
	l := &Limiter{
		manager:        manager,
		scripts:        reg,
		whitelist:      whitelist,
		logger:         logger.With(zap.String("component", "ratelimit")),
		windowDuration: 60 * time.Second,
	}

	rpmSha, err := manager.Load(ctx, reg, slidingWindowScript)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: loading sliding window script: %w", err)
	}
	tpmSha, err := manager.Load(ctx, reg, tokenBucketScript)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: loading token bucket script: %w", err)
	}
	l.rpmSha = rpmSha
	l.tpmSha = tpmSha
	return l, nil
}

// Check enforces RPM then TPM for subject. requestedTokens is the estimated
// token cost of the request being admitted (prompt tokens plus a max-output
// estimate); pass 0 to skip the TPM check (e.g. for non-token capabilities).
func (l *Limiter) Check(ctx context.Context, subject string, limits Limits, requestedTokens int) (Decision, error) {
	if l.whitelist.IsWhitelisted(subject) {
		return Decision{Allowed: true}, nil
	}

	now := nowMillis()

	rpmKey := cache.NamespacedKey("rate_limit", subject, "rpm")
	rpmRaw, err := l.manager.EvalSha(ctx, l.scripts, l.rpmSha, []string{rpmKey},
		now, l.windowDuration.Milliseconds(), limits.RPM)
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: rpm check: %w", err)
	}
	rpmDecision := parseTriple(rpmRaw)
	if !rpmDecision.Allowed {
		rpmDecision.LimitedBy = "rpm"
		l.logger.Debug("rpm limited", zap.String("subject", subject))
		return rpmDecision, nil
	}

	if requestedTokens <= 0 || limits.TPM <= 0 {
		return rpmDecision, nil
	}

	tpmKey := cache.NamespacedKey("rate_limit", subject, "tpm")
	refillPerMs := float64(limits.TPM) / 60000.0
	tpmRaw, err := l.manager.EvalSha(ctx, l.scripts, l.tpmSha, []string{tpmKey},
		now, limits.TPM, refillPerMs, requestedTokens)
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: tpm check: %w", err)
	}
	tpmDecision := parseTriple(tpmRaw)
	if !tpmDecision.Allowed {
		tpmDecision.LimitedBy = "tpm"
		l.logger.Debug("tpm limited", zap.String("subject", subject))
	}
	return tpmDecision, nil
}

func parseTriple(raw any) Decision {
	vals, ok := raw.([]any)
	if !ok || len(vals) != 3 {
		return Decision{}
	}
	allowed := toInt64(vals[0]) == 1
	remaining := toFloat64(vals[1])
	retryAfterMs := toInt64(vals[2])
	return Decision{
		Allowed:    allowed,
		Remaining:  remaining,
		RetryAfter: time.Duration(retryAfterMs) * time.Millisecond,
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case string:
		var out int64
		fmt.Sscanf(n, "%d", &out)
		return out
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	case string:
		var out float64
		fmt.Sscanf(n, "%f", &out)
		return out
	default:
		return 0
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
