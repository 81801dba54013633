// Package quota enforces per-api-key quotas (token, request, cost) with a
// Redis-backed check-and-decrement script warmed from a repository on miss.
package quota

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nodeforge/gatewayflow/internal/cache"
)

// Kind identifies which quota counter a check applies to.
type Kind string

const (
	KindToken   Kind = "token"
	KindRequest Kind = "request"
	KindCost    Kind = "cost"
)

// Record is the durable quota state for one (subject, kind) pair, as read
// from the repository on a cache miss.
type Record struct {
	Total   float64
	Used    float64
	ResetAt time.Time
}

// Source loads a subject's quota record from durable storage. The core
// pipeline never talks to a database directly; it only ever sees this
// interface, satisfied by the repo package's implementation.
type Source interface {
	LoadQuota(ctx context.Context, subject string, kind Kind) (Record, error)
}

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed bool
	Used    float64
	Total   float64
	Kind    Kind
}

// Enforcer checks and decrements quota atomically, warming the KV cache
// from Source on first miss.
type Enforcer struct {
	manager *cache.Manager
	scripts *cache.ScriptRegistry
	source  Source
	logger  *zap.Logger

	checkSha  string
	refundSha string
	warmSha   string

	warmTTL time.Duration
}

// NewEnforcer constructs an Enforcer and loads its scripts into Redis.
func NewEnforcer(ctx context.Context, manager *cache.Manager, source Source, logger *zap.Logger) (*Enforcer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := cache.NewScriptRegistry()
	e := &Enforcer{
		manager: manager,
		scripts: reg,
		source:  source,
		logger:  logger.With(zap.String("component", "quota")),
		warmTTL: time.Hour,
	}

	checkSha, err := manager.Load(ctx, reg, checkAndDecrementScript)
	if err != nil {
		return nil, fmt.Errorf("quota: loading check script: %w", err)
	}
	refundSha, err := manager.Load(ctx, reg, refundScript)
	if err != nil {
		return nil, fmt.Errorf("quota: loading refund script: %w", err)
	}
	warmSha, err := manager.Load(ctx, reg, warmIfAbsentScript)
	if err != nil {
		return nil, fmt.Errorf("quota: loading warm script: %w", err)
	}
	e.checkSha = checkSha
	e.refundSha = refundSha
	e.warmSha = warmSha
	return e, nil
}

// Check atomically verifies subject has at least amount remaining of kind
// and decrements it if so. On a cache miss it warms the key from Source
// first, then retries the atomic check exactly once.
func (e *Enforcer) Check(ctx context.Context, subject string, kind Kind, amount float64) (Decision, error) {
	key := cache.NamespacedKey("quota", subject, string(kind))

	decision, miss, err := e.tryCheck(ctx, key, kind, amount)
	if err != nil {
		return Decision{}, err
	}
	if !miss {
		return decision, nil
	}

	if err := e.Warm(ctx, subject, kind); err != nil {
		return Decision{}, err
	}
	decision, _, err = e.tryCheck(ctx, key, kind, amount)
	return decision, err
}

// tryCheck returns miss=true when the quota key was not present in Redis,
// meaning the caller must Warm and retry.
func (e *Enforcer) tryCheck(ctx context.Context, key string, kind Kind, amount float64) (Decision, bool, error) {
	raw, err := e.manager.EvalSha(ctx, e.scripts, e.checkSha, []string{key}, amount)
	if err != nil {
		return Decision{}, false, fmt.Errorf("quota: check script: %w", err)
	}
	vals, ok := raw.([]any)
	if !ok || len(vals) != 3 {
		return Decision{}, false, fmt.Errorf("quota: unexpected script result")
	}
	status := toInt64(vals[0])
	if status == -1 {
		return Decision{}, true, nil
	}
	return Decision{
		Allowed: status == 1,
		Used:    toFloat64(vals[1]),
		Total:   toFloat64(vals[2]),
		Kind:    kind,
	}, false, nil
}

// Warm loads subject's quota record from Source and seeds the KV hash,
// preserving any usage already recorded in KV since the last warm.
func (e *Enforcer) Warm(ctx context.Context, subject string, kind Kind) error {
	record, err := e.source.LoadQuota(ctx, subject, kind)
	if err != nil {
		return fmt.Errorf("quota: warming from source: %w", err)
	}
	key := cache.NamespacedKey("quota", subject, string(kind))
	ttl := cache.JitteredTTL(e.warmTTL)
	_, err = e.manager.EvalSha(ctx, e.scripts, e.warmSha, []string{key},
		record.Total, record.Used, ttl.Milliseconds())
	if err != nil {
		return fmt.Errorf("quota: seeding cache: %w", err)
	}
	return nil
}

// Refund gives back amount of previously decremented quota, clamped at
// zero used. Invoked when a fatal upstream error means the reserved
// quota was never actually consumed.
func (e *Enforcer) Refund(ctx context.Context, subject string, kind Kind, amount float64) error {
	key := cache.NamespacedKey("quota", subject, string(kind))
	_, err := e.manager.EvalSha(ctx, e.scripts, e.refundSha, []string{key}, amount)
	if err != nil {
		return fmt.Errorf("quota: refund script: %w", err)
	}
	return nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
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
	default:
		return 0
	}
}
