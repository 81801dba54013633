package repo

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/nodeforge/gatewayflow/secrets"
)

// SecretRepository implements secrets.Source against the gw_secrets
// table, the durable store the secrets.Manager's TTL cache warms from.
type SecretRepository struct {
	db *gorm.DB
}

// NewSecretRepository constructs a SecretRepository.
func NewSecretRepository(db *gorm.DB) *SecretRepository {
	return &SecretRepository{db: db}
}

// LoadSecret implements secrets.Source.
func (r *SecretRepository) LoadSecret(ctx context.Context, provider, ref string) (secrets.Record, error) {
	var row Secret
	err := r.db.WithContext(ctx).
		Where("provider = ? AND ref = ?", provider, ref).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return secrets.Record{}, fmt.Errorf("repo: no secret for %s/%s", provider, ref)
	}
	if err != nil {
		return secrets.Record{}, fmt.Errorf("repo: loading secret %s/%s: %w", provider, ref, err)
	}

	return secrets.Record{Plaintext: row.Plaintext, Version: row.Version, RotatedAt: row.RotatedAt}, nil
}
