package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIncrScript = `
local v = redis.call("INCR", KEYS[1])
return v
`

func TestScriptRegistry_LoadAndEvalSha(t *testing.T) {
	mr, manager := setupTestRedis(t)
	defer mr.Close()
	defer manager.Close()

	reg := NewScriptRegistry()
	ctx := context.Background()

	sha, err := manager.Load(ctx, reg, testIncrScript)
	require.NoError(t, err)
	assert.NotEmpty(t, sha)

	result, err := manager.EvalSha(ctx, reg, sha, []string{"counter"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, result)

	result, err = manager.EvalSha(ctx, reg, sha, []string{"counter"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, result)
}

func TestScriptRegistry_EvalSha_ReloadsOnNoScript(t *testing.T) {
	mr, manager := setupTestRedis(t)
	defer mr.Close()
	defer manager.Close()

	reg := NewScriptRegistry()
	ctx := context.Background()

	sha, err := manager.Load(ctx, reg, testIncrScript)
	require.NoError(t, err)

	// Simulate the Redis instance forgetting the script, e.g. after a
	// FLUSHALL or a failover to a replica that never saw SCRIPT LOAD.
	mr.ScriptFlush()

	result, err := manager.EvalSha(ctx, reg, sha, []string{"counter"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, result)
}

func TestScriptRegistry_EvalSha_UnknownSha(t *testing.T) {
	mr, manager := setupTestRedis(t)
	defer mr.Close()
	defer manager.Close()

	reg := NewScriptRegistry()
	ctx := context.Background()

	_, err := manager.EvalSha(ctx, reg, "deadbeef", []string{"counter"})
	assert.Error(t, err)
}

func TestNamespacedKey(t *testing.T) {
	assert.Equal(t, "ratelimit:rpm:org-1:model-a", NamespacedKey("ratelimit", "rpm", "org-1", "model-a"))
	assert.Equal(t, "quota", NamespacedKey("quota"))
}

func TestJitteredTTL(t *testing.T) {
	base := 1000 * time.Millisecond
	for i := 0; i < 50; i++ {
		jittered := JitteredTTL(base)
		assert.GreaterOrEqual(t, jittered, time.Duration(float64(base)*0.9))
		assert.LessOrEqual(t, jittered, time.Duration(float64(base)*1.1))
	}
}
