package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/noah-isme/ai-check-api/internal/models"
)

func TestActivityLogRepositoryFiltersByEntity(t *testing.T) {
	db := setupTestDB(t)
	repo := NewActivityLogRepository(db)
	ctx := context.Background()

	first := uint(42)
	second := uint(43)
	require.NoError(t, repo.Create(ctx, &models.ActivityLog{ActorID: 1, ActorRole: "admin", Action: "ai_check.triggered", EntityType: "submission", EntityID: &first, Metadata: datatypes.JSONMap{"source": "manual"}}))
	require.NoError(t, repo.Create(ctx, &models.ActivityLog{ActorID: 1, ActorRole: "admin", Action: "ai_check.triggered", EntityType: "submission", EntityID: &second}))
	require.NoError(t, repo.Create(ctx, &models.ActivityLog{ActorID: 2, ActorRole: "teacher", Action: "ai_check.settings_saved", EntityType: "assignment", EntityID: &first}))

	entries, total, err := repo.List(ctx, ActivityLogFilter{EntityID: &first, EntityType: "submission"})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Len(t, entries, 1)
	require.Equal(t, "manual", entries[0].Metadata["source"])

	entries, total, err = repo.List(ctx, ActivityLogFilter{Action: "ai_check.triggered", PageSize: 1})
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Len(t, entries, 1)
}

func TestActivityLogRepositoryDeleteBefore(t *testing.T) {
	db := setupTestDB(t)
	repo := NewActivityLogRepository(db)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, &models.ActivityLog{ActorID: 1, ActorRole: "admin", Action: "ai_check.triggered", EntityType: "submission", CreatedAt: now.AddDate(0, 0, -120)}))
	require.NoError(t, repo.Create(ctx, &models.ActivityLog{ActorID: 1, ActorRole: "admin", Action: "ai_check.triggered", EntityType: "submission", CreatedAt: now.AddDate(0, 0, -10)}))

	removed, err := repo.DeleteBefore(ctx, now.AddDate(0, 0, -90))
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	_, total, err := repo.List(ctx, ActivityLogFilter{})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
}
