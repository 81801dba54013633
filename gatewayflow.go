// Package gatewayflow wires the gateway's supporting packages into a
// ready-to-run pipeline and exposes a single entry point, Dispatch, for
// driving one request through it.
//
// Usage:
//
//	gw, err := gatewayflow.New(ctx, cfg, logger)
//	wc, err := gw.Dispatch(ctx, request, steps, pipeline.ChannelExternal, pipeline.CapabilityChat, traceID)
package gatewayflow

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/nodeforge/gatewayflow/audit"
	"github.com/nodeforge/gatewayflow/billing"
	"github.com/nodeforge/gatewayflow/config"
	"github.com/nodeforge/gatewayflow/conversation"
	"github.com/nodeforge/gatewayflow/internal/cache"
	"github.com/nodeforge/gatewayflow/internal/ctxkeys"
	"github.com/nodeforge/gatewayflow/internal/database"
	"github.com/nodeforge/gatewayflow/internal/metrics"
	"github.com/nodeforge/gatewayflow/internal/telemetry"
	"github.com/nodeforge/gatewayflow/pipeline"
	"github.com/nodeforge/gatewayflow/pipeline/steps"
	"github.com/nodeforge/gatewayflow/quota"
	"github.com/nodeforge/gatewayflow/ratelimit"
	"github.com/nodeforge/gatewayflow/repo"
	"github.com/nodeforge/gatewayflow/routing"
	"github.com/nodeforge/gatewayflow/secrets"
	"github.com/nodeforge/gatewayflow/upstream"
)

// Gateway bundles everything one process needs to run the request
// pipeline: the shared dependency set, the step registry built from it,
// and the orchestrator that drives a Context through a named step list.
type Gateway struct {
	DB            *gorm.DB
	Cache         *cache.Manager
	Pool          *database.PoolManager
	Deps          *steps.Deps
	Registry      *pipeline.Registry
	Orchestrator  *pipeline.Orchestrator
	AuditDispatch *audit.Dispatcher
	Metrics       *metrics.Collector
	Telemetry     *telemetry.Providers

	// HotReload watches cfg.ConfigPath (when set) and republishes reloaded
	// RoutingConfig/QuotaConfig values into Deps.RoutingConfig and the
	// quota repository's live defaults. Nil if cfg.ConfigPath was empty.
	HotReload *config.HotReloadManager
}

// Close stops the Gateway's background watchers. Safe to call even if
// HotReload was never started.
func (g *Gateway) Close() error {
	if g.HotReload != nil {
		return g.HotReload.Stop()
	}
	return nil
}

// New wires a Gateway from cfg: opens the configured SQL database,
// connects to Redis, constructs every supporting package against its
// repository-backed store, registers all steps, and returns a ready
// Orchestrator.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Gateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	telemetryProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("gatewayflow: initializing telemetry: %w", err)
	}
	metricsCollector := metrics.NewCollector(cfg.Telemetry.ServiceName, logger)

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("gatewayflow: opening database: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("gatewayflow: migrating schema: %w", err)
	}

	pool, err := database.NewPoolManager(db, database.PoolConfig{
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("gatewayflow: starting connection pool: %w", err)
	}

	cacheManager, err := cache.NewManager(cache.Config{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("gatewayflow: connecting to redis: %w", err)
	}

	routingConfig := &atomic.Pointer[config.RoutingConfig]{}
	routingConfig.Store(&cfg.Routing)
	quotaConfig := &atomic.Pointer[config.QuotaConfig]{}
	quotaConfig.Store(&cfg.Quota)

	armRepo := repo.NewArmRepository(db)
	candidateRepo := repo.NewCandidateRepository(db, armRepo)
	quotaRepo := repo.NewQuotaRepository(db, repo.WithQuotaDefaults(quotaConfig))
	secretRepo := repo.NewSecretRepository(db)
	apiKeyRepo := repo.NewAPIKeyRepository(db)
	userRepo := repo.NewUserRepository(db)
	conversationRepo := repo.NewConversationRepository(db)

	limiter, err := ratelimit.NewLimiter(ctx, cacheManager, ratelimit.NewStaticWhitelist(), logger)
	if err != nil {
		return nil, fmt.Errorf("gatewayflow: starting rate limiter: %w", err)
	}

	quotaEnforcer, err := quota.NewEnforcer(ctx, cacheManager, quotaRepo, logger)
	if err != nil {
		return nil, fmt.Errorf("gatewayflow: starting quota enforcer: %w", err)
	}

	armUpdater := routing.NewArmUpdater(armRepo)
	affinity := routing.NewKVAffinityLookup(cacheManager)
	selector := routing.NewSelector(affinity, logger)

	secretManager := secrets.NewManager(cacheManager, secretRepo, cfg.Routing.AffinityTTL, logger, nil)

	ssrf := upstream.NewSSRFGuard(false, nil)
	breakers := upstream.NewHostBreakers(cfg.Upstream.BreakerFailureThreshold, cfg.Upstream.BreakerOpenDuration)
	caller := upstream.NewCaller(ssrf, breakers, armUpdater, upstream.Timeouts{
		Connect:   cfg.Upstream.ConnectTimeout,
		FirstByte: cfg.Upstream.FirstByteTimeout,
		Idle:      cfg.Upstream.IdleTimeout,
	}, logger)

	scheduler := conversation.NewSummaryScheduler(cfg.Routing.AffinityTTL, func(sessionID string) {
		logger.Debug("conversation session went idle", zap.String("session_id", sessionID))
	})
	appender := conversation.NewAppender(conversationRepo, scheduler)

	billingRecorder := billing.NewRecorder(quotaEnforcer, logger)

	auditSink := audit.NewGormSink(db)
	auditDispatcher := audit.NewDispatcher(auditSink, logger)

	deps := &steps.Deps{
		Validator:            validator.New(),
		Cache:                cacheManager,
		APIKeys:              apiKeyRepo,
		SignatureSkew:        300,
		JWTSecret:            []byte(cfg.Auth.JWTSecret),
		TokenVersions:        userRepo,
		RateLimiter:          limiter,
		QuotaEnforcer:        quotaEnforcer,
		Candidates:           candidateRepo,
		Selector:             selector,
		ArmUpdater:           armUpdater,
		SecretManager:        secretManager,
		Caller:               caller,
		ConversationAppender: appender,
		MemoryClassifier:     nil,
		BillingRecorder:      billingRecorder,
		AuditDispatcher:      auditDispatcher,
		Logger:               logger,
		RoutingConfig:        routingConfig,
	}

	reg := pipeline.NewRegistry()
	if err := steps.RegisterAll(reg, deps); err != nil {
		return nil, fmt.Errorf("gatewayflow: registering steps: %w", err)
	}

	var hotReload *config.HotReloadManager
	if cfg.ConfigPath != "" {
		hotReload = config.NewHotReloadManager(cfg,
			config.WithHotReloadLogger(logger),
			config.WithConfigPath(cfg.ConfigPath),
		)
		hotReload.OnReload(func(oldConfig, newConfig *config.Config) {
			routingConfig.Store(&newConfig.Routing)
			quotaConfig.Store(&newConfig.Quota)
		})
		if err := hotReload.Start(ctx); err != nil {
			return nil, fmt.Errorf("gatewayflow: starting config hot reload: %w", err)
		}
	}

	return &Gateway{
		DB:            db,
		Cache:         cacheManager,
		Pool:          pool,
		Deps:          deps,
		Registry:      reg,
		Orchestrator:  pipeline.NewOrchestrator(reg, logger),
		AuditDispatch: auditDispatcher,
		Metrics:       metricsCollector,
		Telemetry:     telemetryProviders,
		HotReload:     hotReload,
	}, nil
}

// openDatabase opens the SQL connection named by cfg.Driver, supporting
// the two production drivers the gateway ships with.
func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	switch cfg.Driver {
	case "postgres", "":
		return gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{})
	case "mysql":
		return gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{})
	default:
		return nil, fmt.Errorf("gatewayflow: unsupported database driver %q", cfg.Driver)
	}
}

// Dispatch runs one caller-supplied request through the named step
// sequence, tagging the request context with a trace id recoverable via
// ctxkeys.TraceID from any step or downstream collaborator. If traceID is
// empty, one is generated so every run is still traceable end to end.
func (g *Gateway) Dispatch(ctx context.Context, request map[string]any, stepNames []string, channel pipeline.Channel, capability pipeline.Capability, traceID string) (*pipeline.Context, error) {
	if traceID == "" {
		traceID = uuid.NewString()
	}
	ctx = ctxkeys.WithTraceID(ctx, traceID)
	wc := pipeline.NewContext(traceID, channel, capability)
	wc.Request = request

	start := time.Now()
	runErr := g.Orchestrator.Run(ctx, stepNames, nil, wc)
	if g.Metrics != nil {
		status := "success"
		if runErr != nil || !wc.Success {
			status = "error"
		}
		g.Metrics.RecordPipelineExecution(string(capability), string(channel), status, time.Since(start))
	}
	if runErr != nil {
		return wc, runErr
	}
	return wc, nil
}
