package gatewayflow

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/nodeforge/gatewayflow/internal/cache"
	"github.com/nodeforge/gatewayflow/internal/database"
	"github.com/nodeforge/gatewayflow/pipeline"
	"github.com/nodeforge/gatewayflow/pipeline/steps"
	"github.com/nodeforge/gatewayflow/ratelimit"
	"github.com/nodeforge/gatewayflow/repo"
)

// buildTestGateway wires a Gateway against an in-memory sqlite database and
// a miniredis instance, mirroring the seams New would use against real
// infrastructure, without requiring either in this test.
func buildTestGateway(t *testing.T) (*miniredis.Miniredis, *Gateway) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, repo.AutoMigrate(db))

	mr, err := miniredis.Run()
	require.NoError(t, err)

	logger := zap.NewNop()
	cacheManager, err := cache.NewManager(cache.Config{Addr: mr.Addr(), DefaultTTL: time.Minute}, logger)
	require.NoError(t, err)

	pool, err := database.NewPoolManager(db, database.DefaultPoolConfig(), logger)
	require.NoError(t, err)

	limiter, err := ratelimit.NewLimiter(context.Background(), cacheManager, ratelimit.NewStaticWhitelist("whitelisted-subject"), logger)
	require.NoError(t, err)

	deps := &steps.Deps{
		RateLimiter: limiter,
		Logger:      logger,
	}

	reg := pipeline.NewRegistry()
	require.NoError(t, steps.RegisterAll(reg, deps))

	return mr, &Gateway{
		DB:           db,
		Cache:        cacheManager,
		Pool:         pool,
		Deps:         deps,
		Registry:     reg,
		Orchestrator: pipeline.NewOrchestrator(reg, logger),
	}
}

func TestGateway_Dispatch_RunsValidationStep(t *testing.T) {
	_, gw := buildTestGateway(t)

	request := map[string]any{
		"model":    "gpt-4o-mini",
		"messages": []any{map[string]any{"role": "user", "content": "hi"}},
	}
	wc, err := gw.Dispatch(context.Background(), request, []string{"validation"}, pipeline.ChannelExternal, pipeline.CapabilityChat, "trace-1")
	require.NoError(t, err)
	assert.True(t, wc.Success)
	assert.Equal(t, "trace-1", wc.TraceID)
}

func TestGateway_Dispatch_ValidationFailsOnEmptyRequest(t *testing.T) {
	_, gw := buildTestGateway(t)

	wc, err := gw.Dispatch(context.Background(), map[string]any{}, []string{"validation"}, pipeline.ChannelExternal, pipeline.CapabilityChat, "trace-2")
	require.NoError(t, err)
	assert.False(t, wc.Success)
	assert.Equal(t, pipeline.ErrorSourceClient, wc.ErrorSource)
}
