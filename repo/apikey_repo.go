package repo

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// APIKeyRepository implements the signature step's APIKeySource against
// the gw_api_keys table.
type APIKeyRepository struct {
	db *gorm.DB
}

// NewAPIKeyRepository constructs an APIKeyRepository.
func NewAPIKeyRepository(db *gorm.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// SecretHash returns the HMAC secret hash bound to apiKeyID, erroring if
// the key is unknown or revoked.
func (r *APIKeyRepository) SecretHash(ctx context.Context, apiKeyID string) (string, error) {
	var row APIKeyRecord
	err := r.db.WithContext(ctx).
		Where("api_key_id = ? AND revoked = ?", apiKeyID, false).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("repo: unknown or revoked api key %q", apiKeyID)
	}
	if err != nil {
		return "", fmt.Errorf("repo: loading api key %q: %w", apiKeyID, err)
	}
	return row.SecretHash, nil
}
