package repo

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/nodeforge/gatewayflow/routing"
)

// ErrVersionConflict names a bandit arm version conflict. SaveArm does not
// return it: on a conflict it retries and then drops the update.
var ErrVersionConflict = errors.New("repo: bandit arm version conflict")

// maxCASRetries bounds SaveArm's optimistic-concurrency loop: on a version
// mismatch it re-reads the row and retries, and after this many attempts
// it drops the update.
const maxCASRetries = 3

// ArmRepository implements routing.ArmRepository against the
// gw_bandit_arms table, using a version column for optimistic concurrency
// instead of row locking: many requests update the same arm concurrently,
// and losing an occasional update is acceptable (the next request
// corrects it).
type ArmRepository struct {
	db *gorm.DB
}

// NewArmRepository constructs an ArmRepository.
func NewArmRepository(db *gorm.DB) *ArmRepository {
	return &ArmRepository{db: db}
}

// LoadArm implements routing.ArmRepository. A missing row is treated as a
// fresh arm with uninformative Beta(1,1) priors rather than an error, so a
// newly configured candidate is immediately routable.
func (r *ArmRepository) LoadArm(ctx context.Context, armID string) (routing.ArmState, error) {
	var row BanditArm
	err := r.db.WithContext(ctx).Where("arm_id = ?", armID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return routing.ArmState{ArmID: armID, Alpha: 1, Beta: 1}, nil
	}
	if err != nil {
		return routing.ArmState{}, fmt.Errorf("repo: loading arm %q: %w", armID, err)
	}

	return routing.ArmState{
		ArmID:         row.ArmID,
		Alpha:         row.Alpha,
		Beta:          row.Beta,
		Successes:     row.Successes,
		Failures:      row.Failures,
		LatencyP50Ms:  row.LatencyP50Ms,
		LatencyP95Ms:  row.LatencyP95Ms,
		CooldownUntil: row.CooldownUntil,
		Disabled:      row.Disabled,
	}, nil
}

// SaveArm implements routing.ArmRepository. It upserts the row inside a
// version-checked update: if no row exists yet it is inserted at version
// 1; otherwise SaveArm reads the row's current version and conditions the
// update on it, retrying up to maxCASRetries times on conflict and
// silently dropping the update after that (the next request's trial
// corrects the estimate). ArmState carries no version, so a write made by
// another request between the caller's LoadArm and this SaveArm is not
// detected and is overwritten.
func (r *ArmRepository) SaveArm(ctx context.Context, state routing.ArmState) error {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		var existing BanditArm
		err := r.db.WithContext(ctx).Where("arm_id = ?", state.ArmID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row := armStateToRow(state)
			row.Version = 1
			if createErr := r.db.WithContext(ctx).Create(&row).Error; createErr == nil {
				return nil
			} else if !errors.Is(createErr, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("repo: creating arm %q: %w", state.ArmID, createErr)
			}
			// lost the race to create; fall through and retry as an update
			continue
		case err != nil:
			return fmt.Errorf("repo: loading arm %q for save: %w", state.ArmID, err)
		}

		row := armStateToRow(state)
		row.Version = existing.Version + 1
		result := r.db.WithContext(ctx).
			Model(&BanditArm{}).
			Where("arm_id = ? AND version = ?", state.ArmID, existing.Version).
			Updates(map[string]any{
				"alpha":          row.Alpha,
				"beta":           row.Beta,
				"successes":      row.Successes,
				"failures":       row.Failures,
				"latency_p50_ms": row.LatencyP50Ms,
				"latency_p95_ms": row.LatencyP95Ms,
				"cooldown_until": row.CooldownUntil,
				"disabled":       row.Disabled,
				"version":        row.Version,
			})
		if result.Error != nil {
			return fmt.Errorf("repo: saving arm %q: %w", state.ArmID, result.Error)
		}
		if result.RowsAffected > 0 {
			return nil
		}
		// version moved under us; re-read and retry
	}
	return nil // drop the update after exhausting retries, per spec §5
}

func armStateToRow(state routing.ArmState) BanditArm {
	return BanditArm{
		ArmID:         state.ArmID,
		Alpha:         state.Alpha,
		Beta:          state.Beta,
		Successes:     state.Successes,
		Failures:      state.Failures,
		LatencyP50Ms:  state.LatencyP50Ms,
		LatencyP95Ms:  state.LatencyP95Ms,
		CooldownUntil: state.CooldownUntil,
		Disabled:      state.Disabled,
	}
}
