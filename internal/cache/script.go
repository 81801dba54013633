package cache

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ScriptRegistry holds Lua scripts registered at startup and resolves
// EvalSha NOSCRIPT errors by reloading from the cached source and retrying
// exactly once, per the cache abstraction's contract.
type ScriptRegistry struct {
	mu      sync.RWMutex
	sources map[string]string // sha -> source
}

// NewScriptRegistry creates an empty script registry.
func NewScriptRegistry() *ScriptRegistry {
	return &ScriptRegistry{sources: make(map[string]string)}
}

// Load registers source with Redis and returns its SHA1 digest. Scripts
// must be loaded before any EvalSha call references them.
func (m *Manager) Load(ctx context.Context, reg *ScriptRegistry, source string) (string, error) {
	sha, err := m.redis.ScriptLoad(ctx, source).Result()
	if err != nil {
		return "", fmt.Errorf("script load failed: %w", err)
	}
	reg.mu.Lock()
	reg.sources[sha] = source
	reg.mu.Unlock()
	return sha, nil
}

// EvalSha runs a previously loaded script by SHA. On a NOSCRIPT response
// (the Redis instance lost the script, e.g. after a FLUSHALL or restart) it
// reloads the cached source and retries exactly once.
func (m *Manager) EvalSha(ctx context.Context, reg *ScriptRegistry, sha string, keys []string, args ...any) (any, error) {
	result, err := m.redis.EvalSha(ctx, sha, keys, args...).Result()
	if err == nil {
		return result, nil
	}
	if !isNoScript(err) {
		return nil, fmt.Errorf("eval_sha failed: %w", err)
	}

	reg.mu.RLock()
	source, ok := reg.sources[sha]
	reg.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("eval_sha: %w: NOSCRIPT and no cached source for %s", ErrScriptNotLoaded, sha)
	}

	m.logger.Warn("script missing on redis, reloading", zap.String("sha", sha))
	reloadedSha, loadErr := m.Load(ctx, reg, source)
	if loadErr != nil {
		return nil, fmt.Errorf("eval_sha: reload failed: %w", loadErr)
	}

	result, err = m.redis.EvalSha(ctx, reloadedSha, keys, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("eval_sha: retry after reload failed: %w", err)
	}
	return result, nil
}

func isNoScript(err error) bool {
	return err != nil && strings.Contains(err.Error(), "NOSCRIPT")
}

// NamespacedKey builds a colon-joined key under a namespace prefix, the
// only way callers should construct cache keys.
func NamespacedKey(namespace string, parts ...string) string {
	b := strings.Builder{}
	b.WriteString(namespace)
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(p)
	}
	return b.String()
}

// JitteredTTL applies ±10% jitter to a TTL to avoid cache stampedes when
// many keys are written at once with the same nominal expiry.
func JitteredTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttl
	}
	jitter := 0.9 + rand.Float64()*0.2
	return time.Duration(float64(ttl) * jitter)
}

// ErrScriptNotLoaded is returned when EvalSha is called with a SHA this
// process never registered via Load.
var ErrScriptNotLoaded = errors.New("cache: script not loaded")
