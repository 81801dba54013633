package repo

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"github.com/nodeforge/gatewayflow/config"
	"github.com/nodeforge/gatewayflow/quota"
)

// QuotaRepository implements quota.Source against the gw_quota_records
// table: the durable fallback the Redis-backed enforcer warms from on a
// cache miss.
type QuotaRepository struct {
	db       *gorm.DB
	defaults *atomic.Pointer[config.QuotaConfig]
}

// QuotaRepositoryOption configures a QuotaRepository.
type QuotaRepositoryOption func(*QuotaRepository)

// WithQuotaDefaults wires a live QuotaConfig whose Default* fields seed a
// quota record for subjects with no override row, swapped atomically by
// config.HotReloadManager's reload callback.
func WithQuotaDefaults(defaults *atomic.Pointer[config.QuotaConfig]) QuotaRepositoryOption {
	return func(r *QuotaRepository) {
		r.defaults = defaults
	}
}

// NewQuotaRepository constructs a QuotaRepository.
func NewQuotaRepository(db *gorm.DB, opts ...QuotaRepositoryOption) *QuotaRepository {
	r := &QuotaRepository{db: db}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LoadQuota implements quota.Source. When subject has no override row and
// a live QuotaConfig was wired via WithQuotaDefaults, it seeds a Record
// from that config's Default* field for kind instead of erroring.
func (r *QuotaRepository) LoadQuota(ctx context.Context, subject string, kind quota.Kind) (quota.Record, error) {
	var row QuotaRecord
	err := r.db.WithContext(ctx).
		Where("subject = ? AND kind = ?", subject, string(kind)).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if record, ok := r.defaultRecord(kind); ok {
			return record, nil
		}
		return quota.Record{}, fmt.Errorf("repo: no quota record for subject %q kind %q", subject, kind)
	}
	if err != nil {
		return quota.Record{}, fmt.Errorf("repo: loading quota for %q/%q: %w", subject, kind, err)
	}

	return quota.Record{Total: row.Total, Used: row.Used, ResetAt: row.ResetAt}, nil
}

// defaultRecord builds a fresh-window Record from the live QuotaConfig, if
// one was wired.
func (r *QuotaRepository) defaultRecord(kind quota.Kind) (quota.Record, bool) {
	if r.defaults == nil {
		return quota.Record{}, false
	}
	cfg := r.defaults.Load()
	if cfg == nil {
		return quota.Record{}, false
	}

	resetAt := time.Now().Add(24 * time.Hour)
	switch kind {
	case quota.KindToken:
		return quota.Record{Total: float64(cfg.DefaultDailyTokens), ResetAt: resetAt}, true
	case quota.KindRequest:
		return quota.Record{Total: float64(cfg.DefaultDailyRequests), ResetAt: resetAt}, true
	case quota.KindCost:
		return quota.Record{Total: cfg.DefaultMonthlyCostUSD, ResetAt: resetAt}, true
	default:
		return quota.Record{}, false
	}
}
