package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/ai-check-api/internal/database"
	"github.com/noah-isme/ai-check-api/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), database.GormConfig("mdl_"))
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.GradingRecord{}, &models.ActivityLog{}))
	return db
}

func TestGradingRecordResetPendingUpsertsInPlace(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGradingRecordRepository(db)
	ctx := context.Background()
	created := time.Unix(1_700_000_000, 0)

	first, err := repo.ResetPending(ctx, 42, created)
	require.NoError(t, err)
	require.NotZero(t, first.ID)
	require.Equal(t, models.GradingStatusPending, first.Status)

	require.NoError(t, db.Model(&models.GradingRecord{}).Where("submission_id = ?", 42).Updates(map[string]interface{}{
		"status":              models.GradingStatusFailed,
		"processing_attempts": 3,
		"error_message":       "model timeout",
	}).Error)

	second, err := repo.ResetPending(ctx, 42, created.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, models.GradingStatusPending, second.Status)
	require.Zero(t, second.ProcessingAttempts)
	require.Empty(t, second.ErrorMessage)
	require.Equal(t, created.Unix(), second.TimeCreated)
	require.Equal(t, created.Add(time.Hour).Unix(), second.TimeModified)

	var rows int64
	require.NoError(t, db.Model(&models.GradingRecord{}).Where("submission_id = ?", 42).Count(&rows).Error)
	require.Equal(t, int64(1), rows)
}

func TestGradingRecordClaimIsConditional(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGradingRecordRepository(db)
	ctx := context.Background()
	now := time.Now()

	_, claimed, err := repo.Claim(ctx, 7, now)
	require.NoError(t, err)
	require.False(t, claimed, "missing record must not be claimed")

	_, err = repo.ResetPending(ctx, 7, now)
	require.NoError(t, err)

	record, claimed, err := repo.Claim(ctx, 7, now)
	require.NoError(t, err)
	require.True(t, claimed)
	require.Equal(t, models.GradingStatusProcessing, record.Status)
	require.Equal(t, 1, record.ProcessingAttempts)

	_, claimed, err = repo.Claim(ctx, 7, now)
	require.NoError(t, err)
	require.False(t, claimed, "second delivery must not claim a processing record")
}

func TestGradingRecordCompleteAndFail(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGradingRecordRepository(db)
	ctx := context.Background()
	now := time.Now()

	_, err := repo.ResetPending(ctx, 1, now)
	require.NoError(t, err)

	ok, err := repo.Complete(ctx, 1, nil, "too early", now)
	require.NoError(t, err)
	require.False(t, ok, "pending record cannot complete")

	_, _, err = repo.Claim(ctx, 1, now)
	require.NoError(t, err)

	score := 87.5
	ok, err = repo.Complete(ctx, 1, &score, "<p>good</p>", now)
	require.NoError(t, err)
	require.True(t, ok)

	record, err := repo.GetBySubmission(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, models.GradingStatusCompleted, record.Status)
	require.NotNil(t, record.AIScore)
	require.InDelta(t, 87.5, *record.AIScore, 0.001)

	ok, err = repo.MarkFailed(ctx, 1, "late failure", now)
	require.NoError(t, err)
	require.False(t, ok, "completed record cannot fail")

	_, err = repo.ResetPending(ctx, 2, now)
	require.NoError(t, err)
	ok, err = repo.MarkFailed(ctx, 2, "queue down", now, models.GradingStatusPending)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.Requeue(ctx, 2, now)
	require.NoError(t, err)
	require.True(t, ok)

	record, err = repo.GetBySubmission(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, models.GradingStatusPending, record.Status)
}

func TestGradingRecordFailStaleOnlyTouchesOldProcessingRows(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGradingRecordRepository(db)
	ctx := context.Background()
	now := time.Now()
	old := now.Add(-time.Hour)

	for _, id := range []uint{1, 2, 3} {
		_, err := repo.ResetPending(ctx, id, old)
		require.NoError(t, err)
	}
	_, _, err := repo.Claim(ctx, 1, old)
	require.NoError(t, err)
	_, _, err = repo.Claim(ctx, 2, now)
	require.NoError(t, err)

	affected, err := repo.FailStale(ctx, models.GradingStatusProcessing, now.Add(-15*time.Minute), "processing timed out", now)
	require.NoError(t, err)
	require.Equal(t, int64(1), affected)

	stale, err := repo.GetBySubmission(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, models.GradingStatusFailed, stale.Status)
	require.Equal(t, "processing timed out", stale.ErrorMessage)

	fresh, err := repo.GetBySubmission(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, models.GradingStatusProcessing, fresh.Status)

	pending, err := repo.GetBySubmission(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, models.GradingStatusPending, pending.Status)
}

func TestGradingRecordRecentAndCount(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGradingRecordRepository(db)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	require.True(t, repo.TableExists(ctx))

	for i := uint(1); i <= 7; i++ {
		_, err := repo.ResetPending(ctx, i, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	total, err := repo.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(7), total)

	recent, err := repo.Recent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, recent, 5)
	require.Equal(t, uint(7), recent[0].SubmissionID)
}

func TestGradingRecordFailStalePendingRows(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGradingRecordRepository(db)
	ctx := context.Background()
	queuedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	now := queuedAt.Add(48 * time.Hour)

	_, err := repo.ResetPending(ctx, 42, queuedAt)
	require.NoError(t, err)
	_, err = repo.ResetPending(ctx, 43, now.Add(-time.Minute))
	require.NoError(t, err)

	affected, err := repo.FailStale(ctx, models.GradingStatusPending, now.Add(-time.Hour), "grading job was not picked up", now)
	require.NoError(t, err)
	require.Equal(t, int64(1), affected)

	stuck, err := repo.GetBySubmission(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, models.GradingStatusFailed, stuck.Status)
	require.Equal(t, "grading job was not picked up", stuck.ErrorMessage)

	queued, err := repo.GetBySubmission(ctx, 43)
	require.NoError(t, err)
	require.Equal(t, models.GradingStatusPending, queued.Status)
}
