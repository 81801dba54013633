package repo

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/nodeforge/gatewayflow/routing"
)

// CandidateRepository loads the routable candidate set for a canonical
// model id: every enabled (instance, model, credential) triple joined
// with its current bandit arm state.
type CandidateRepository struct {
	db  *gorm.DB
	arm *ArmRepository
}

// NewCandidateRepository constructs a CandidateRepository.
func NewCandidateRepository(db *gorm.DB, arm *ArmRepository) *CandidateRepository {
	return &CandidateRepository{db: db, arm: arm}
}

// LoadCandidates returns every enabled candidate serving modelID, across
// all enabled instances and credentials, joined with current arm state.
func (r *CandidateRepository) LoadCandidates(ctx context.Context, modelID string) ([]routing.Candidate, error) {
	var models []ProviderModel
	if err := r.db.WithContext(ctx).
		Where("model_id = ? AND enabled = ?", modelID, true).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("repo: loading provider models for %q: %w", modelID, err)
	}

	var candidates []routing.Candidate
	for _, pm := range models {
		var instance ProviderInstance
		if err := r.db.WithContext(ctx).
			Where("id = ? AND enabled = ?", pm.InstanceID, true).
			First(&instance).Error; err != nil {
			continue // instance disabled or missing; skip this arm
		}

		var credentials []ProviderCredential
		if err := r.db.WithContext(ctx).
			Where("instance_id = ? AND enabled = ?", instance.ID, true).
			Find(&credentials).Error; err != nil {
			return nil, fmt.Errorf("repo: loading credentials for instance %d: %w", instance.ID, err)
		}

		for _, cred := range credentials {
			armID := fmt.Sprintf("%d:%d:%d", instance.ID, pm.ID, cred.ID)
			state, err := r.arm.LoadArm(ctx, armID)
			if err != nil {
				return nil, fmt.Errorf("repo: loading arm %q: %w", armID, err)
			}

			candidates = append(candidates, routing.Candidate{
				ArmID:             armID,
				ProviderCode:      instance.ProviderCode,
				InstanceID:        fmt.Sprintf("%d", instance.ID),
				CredentialID:      fmt.Sprintf("%d", cred.ID),
				ModelID:           pm.ModelID,
				Priority:          pm.Priority,
				Weight:            pm.Weight,
				MaxCostPerReq:     pm.MaxCostPerReq,
				MaxLatencyMs:      pm.MaxLatencyMs,
				MinSuccessRate:    pm.MinSuccessRate,
				RequestTemplate:   pm.RequestTemplate,
				ResponseTransform: pm.ResponseTransform,
				BaseURL:           instance.BaseURL,
				Enabled:           pm.Enabled && instance.Enabled && cred.Enabled,
				State:             state,
			})
		}
	}
	return candidates, nil
}
