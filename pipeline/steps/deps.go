// Package steps registers the concrete Step implementations that make up
// the gateway's request workflow, each thin-wired to one of the
// supporting packages (ratelimit, quota, routing, upstream, template,
// conversation, billing, audit) via a shared Deps bundle.
package steps

import (
	"context"
	"sync/atomic"

	validator "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/nodeforge/gatewayflow/audit"
	"github.com/nodeforge/gatewayflow/billing"
	"github.com/nodeforge/gatewayflow/config"
	"github.com/nodeforge/gatewayflow/conversation"
	"github.com/nodeforge/gatewayflow/internal/cache"
	"github.com/nodeforge/gatewayflow/pipeline"
	"github.com/nodeforge/gatewayflow/quota"
	"github.com/nodeforge/gatewayflow/ratelimit"
	"github.com/nodeforge/gatewayflow/routing"
	"github.com/nodeforge/gatewayflow/secrets"
	"github.com/nodeforge/gatewayflow/upstream"
)

// APIKeySource resolves the HMAC secret bound to an API key, for the
// signature verification step.
type APIKeySource interface {
	SecretHash(ctx context.Context, apiKeyID string) (string, error)
}

// CandidateSource loads the routable candidate set for a canonical model
// id; satisfied by repo.CandidateRepository.
type CandidateSource interface {
	LoadCandidates(ctx context.Context, modelID string) ([]routing.Candidate, error)
}

// TokenVersionSource resolves a user's current token_version, for the
// internal-channel JWT step's revocation check; satisfied by
// repo.UserRepository.
type TokenVersionSource interface {
	TokenVersion(ctx context.Context, userID string) (int, error)
}

// MemoryClassifier decides, for external chat only, whether a user
// message encodes a durable personal fact worth upserting into the
// user's vector memory. Errors are logged, never raised, per spec.
type MemoryClassifier interface {
	ClassifyAndStore(ctx context.Context, userID, content string) error
}

// Deps bundles every collaborator the registered steps need. Steps hold
// only the slice of Deps fields they actually use.
type Deps struct {
	Validator            *validator.Validate
	Cache                *cache.Manager
	APIKeys              APIKeySource
	SignatureSkew        int64 // seconds
	JWTSecret            []byte
	TokenVersions        TokenVersionSource
	RateLimiter          *ratelimit.Limiter
	QuotaEnforcer        *quota.Enforcer
	Candidates           CandidateSource
	Selector             *routing.Selector
	ArmUpdater           *routing.ArmUpdater
	SecretManager        *secrets.Manager
	Caller               *upstream.Caller
	ConversationAppender *conversation.Appender
	MemoryClassifier     MemoryClassifier
	BillingRecorder      *billing.Recorder
	AuditDispatcher      *audit.Dispatcher
	Logger               *zap.Logger

	// RoutingConfig holds the live bandit tuning values (epsilon, affinity
	// bonus) the routing step reads on every request. Swapped atomically by
	// config.HotReloadManager's reload callback; nil falls back to
	// config.DefaultRoutingConfig().
	RoutingConfig *atomic.Pointer[config.RoutingConfig]
}

// LoadRoutingConfig returns the live RoutingConfig, or the package default
// if none was wired.
func (d *Deps) LoadRoutingConfig() config.RoutingConfig {
	if d.RoutingConfig != nil {
		if cfg := d.RoutingConfig.Load(); cfg != nil {
			return *cfg
		}
	}
	return config.DefaultRoutingConfig()
}

// RegisterAll registers every step this package implements against reg,
// each factory closing over deps.
func RegisterAll(reg *pipeline.Registry, deps *Deps) error {
	registrations := map[string]pipeline.StepFactory{
		"validation":          func(cfg pipeline.StepConfig) pipeline.Step { return &ValidationStep{deps: deps} },
		"signature":           func(cfg pipeline.StepConfig) pipeline.Step { return &SignatureStep{deps: deps} },
		"jwt_auth":            func(cfg pipeline.StepConfig) pipeline.Step { return &JWTAuthStep{deps: deps} },
		"rate_limit":          func(cfg pipeline.StepConfig) pipeline.Step { return &RateLimitStep{deps: deps} },
		"quota_check":         func(cfg pipeline.StepConfig) pipeline.Step { return &QuotaCheckStep{deps: deps} },
		"routing":             func(cfg pipeline.StepConfig) pipeline.Step { return &RoutingStep{deps: deps} },
		"template_render":     func(cfg pipeline.StepConfig) pipeline.Step { return &TemplateRenderStep{deps: deps} },
		"upstream_call":       func(cfg pipeline.StepConfig) pipeline.Step { return &UpstreamCallStep{deps: deps} },
		"response_transform":  func(cfg pipeline.StepConfig) pipeline.Step { return &ResponseTransformStep{deps: deps} },
		"sanitize":            func(cfg pipeline.StepConfig) pipeline.Step { return &SanitizeStep{deps: deps} },
		"conversation_append": func(cfg pipeline.StepConfig) pipeline.Step { return &ConversationAppendStep{deps: deps} },
		"memory_write":        func(cfg pipeline.StepConfig) pipeline.Step { return &MemoryWriteStep{deps: deps} },
		"billing":             func(cfg pipeline.StepConfig) pipeline.Step { return &BillingStep{deps: deps} },
		"audit_log":           func(cfg pipeline.StepConfig) pipeline.Step { return &AuditLogStep{deps: deps} },
	}

	for name, factory := range registrations {
		if err := reg.Register(name, factory); err != nil {
			return err
		}
	}
	return nil
}
