// Package secrets resolves secret_ref_id references to plaintext
// credentials with a TTL cache in front of the repository, and emits
// rotation events that invalidate the cache.
package secrets

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nodeforge/gatewayflow/internal/cache"
)

// Record is a resolved secret: the plaintext value plus the rotation
// version it was read at, so callers can detect a stale cached value
// crossing a rotation boundary.
type Record struct {
	Plaintext string
	Version   int
	RotatedAt time.Time
}

// Source loads the current secret record for a (provider, ref) pair from
// the backing repository. Implementations own whatever storage
// (encrypted column, external KMS call) sits behind the plaintext.
type Source interface {
	LoadSecret(ctx context.Context, provider, ref string) (Record, error)
}

// RotationEvent is published whenever a secret is rotated, so subscribers
// (e.g. an admin audit trail) can observe the version bump without
// polling the repository.
type RotationEvent struct {
	Provider  string
	Ref       string
	Version   int
	RotatedAt time.Time
}

// Manager resolves secret_ref_id values to plaintext, caching the result
// under upstream_credential:{provider}:{ref} for ttl with jitter, and
// invalidating that cache entry on rotation.
type Manager struct {
	cache    *cache.Manager
	source   Source
	ttl      time.Duration
	logger   *zap.Logger
	onRotate func(RotationEvent)
}

// NewManager constructs a Manager. onRotate may be nil.
func NewManager(cacheManager *cache.Manager, source Source, ttl time.Duration, logger *zap.Logger, onRotate func(RotationEvent)) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cache:    cacheManager,
		source:   source,
		ttl:      ttl,
		logger:   logger.With(zap.String("component", "secrets")),
		onRotate: onRotate,
	}
}

func cacheKey(provider, ref string) string {
	return cache.NamespacedKey("upstream_credential", provider, ref)
}

// Resolve returns the plaintext for (provider, ref), serving from cache
// when present and otherwise loading from the source and seeding the
// cache with a jittered ttl.
func (m *Manager) Resolve(ctx context.Context, provider, ref string) (string, error) {
	key := cacheKey(provider, ref)

	cached, err := m.cache.Get(ctx, key)
	if err == nil && cached != "" {
		return cached, nil
	}

	record, err := m.source.LoadSecret(ctx, provider, ref)
	if err != nil {
		return "", fmt.Errorf("secrets: loading %s/%s: %w", provider, ref, err)
	}

	if setErr := m.cache.Set(ctx, key, record.Plaintext, cache.JitteredTTL(m.ttl)); setErr != nil {
		m.logger.Warn("failed to cache resolved secret",
			zap.String("provider", provider), zap.String("ref", ref), zap.Error(setErr))
	}
	return record.Plaintext, nil
}

// Rotate invalidates the cached plaintext for (provider, ref) and notifies
// onRotate, if configured. Callers invoke this after writing a new secret
// value to the repository.
func (m *Manager) Rotate(ctx context.Context, provider, ref string, version int) error {
	if err := m.cache.Delete(ctx, cacheKey(provider, ref)); err != nil {
		return fmt.Errorf("secrets: invalidating cache for %s/%s: %w", provider, ref, err)
	}

	event := RotationEvent{Provider: provider, Ref: ref, Version: version, RotatedAt: time.Now()}
	m.logger.Info("secret rotated", zap.String("provider", provider), zap.String("ref", ref), zap.Int("version", version))
	if m.onRotate != nil {
		m.onRotate(event)
	}
	return nil
}
