package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeforge/gatewayflow/routing"
)

func TestArmRepository_LoadArm_MissingRowReturnsUninformativePrior(t *testing.T) {
	db := setupTestDB(t)
	repo := NewArmRepository(db)

	state, err := repo.LoadArm(context.Background(), "arm-new")
	require.NoError(t, err)
	assert.Equal(t, float64(1), state.Alpha)
	assert.Equal(t, float64(1), state.Beta)
}

func TestArmRepository_SaveArm_ThenLoadRoundTrips(t *testing.T) {
	db := setupTestDB(t)
	repo := NewArmRepository(db)
	ctx := context.Background()

	state := routing.ArmState{ArmID: "arm-1", Alpha: 3, Beta: 1, Successes: 2, Failures: 0}
	require.NoError(t, repo.SaveArm(ctx, state))

	loaded, err := repo.LoadArm(ctx, "arm-1")
	require.NoError(t, err)
	assert.Equal(t, float64(3), loaded.Alpha)
	assert.Equal(t, int64(2), loaded.Successes)
}

func TestArmRepository_SaveArm_SecondSaveIncrementsVersion(t *testing.T) {
	db := setupTestDB(t)
	repo := NewArmRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.SaveArm(ctx, routing.ArmState{ArmID: "arm-2", Alpha: 1, Beta: 1}))
	require.NoError(t, repo.SaveArm(ctx, routing.ArmState{ArmID: "arm-2", Alpha: 2, Beta: 1, Successes: 1}))

	var row BanditArm
	require.NoError(t, db.Where("arm_id = ?", "arm-2").First(&row).Error)
	assert.Equal(t, int64(2), row.Version)
	assert.Equal(t, int64(1), row.Successes)
}
