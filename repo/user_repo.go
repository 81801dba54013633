package repo

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// UserRepository implements the internal-channel JWT step's
// TokenVersionSource against the gw_users table.
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository constructs a UserRepository.
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// TokenVersion returns the current token_version for userID, erroring if
// the user is unknown.
func (r *UserRepository) TokenVersion(ctx context.Context, userID string) (int, error) {
	var row User
	err := r.db.WithContext(ctx).
		Where("id = ?", userID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("repo: unknown user %q", userID)
	}
	if err != nil {
		return 0, fmt.Errorf("repo: loading user %q: %w", userID, err)
	}
	return row.TokenVersion, nil
}
