package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/ai-check-api/internal/models"
)

// GradingRecordRepository persists AI check lifecycle rows. Every state change is a
// conditional update so concurrent writers cannot move a record along an illegal edge.
type GradingRecordRepository interface {
	GetBySubmission(ctx context.Context, submissionID uint) (models.GradingRecord, error)
	ResetPending(ctx context.Context, submissionID uint, now time.Time) (models.GradingRecord, error)
	Claim(ctx context.Context, submissionID uint, now time.Time) (models.GradingRecord, bool, error)
	Complete(ctx context.Context, submissionID uint, score *float64, feedback string, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, submissionID uint, message string, now time.Time, from ...models.GradingStatus) (bool, error)
	Requeue(ctx context.Context, submissionID uint, now time.Time) (bool, error)
	FailStale(ctx context.Context, status models.GradingStatus, cutoff time.Time, message string, now time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
	Recent(ctx context.Context, limit int) ([]models.GradingRecord, error)
	TableExists(ctx context.Context) bool
}

type gradingRecordRepository struct {
	db *gorm.DB
}

// NewGradingRecordRepository constructs the grading record repository.
func NewGradingRecordRepository(db *gorm.DB) GradingRecordRepository {
	return &gradingRecordRepository{db: db}
}

func (r *gradingRecordRepository) GetBySubmission(ctx context.Context, submissionID uint) (models.GradingRecord, error) {
	var record models.GradingRecord
	if err := r.db.WithContext(ctx).Where("submission_id = ?", submissionID).First(&record).Error; err != nil {
		return models.GradingRecord{}, err
	}
	return record, nil
}

// ResetPending inserts the record or resets an existing one to pending with no attempts
// and no error. The row keeps its id and timecreated.
func (r *gradingRecordRepository) ResetPending(ctx context.Context, submissionID uint, now time.Time) (models.GradingRecord, error) {
	ts := now.Unix()
	record := models.GradingRecord{
		SubmissionID:       submissionID,
		Status:             models.GradingStatusPending,
		ProcessingAttempts: 0,
		ErrorMessage:       "",
		TimeCreated:        ts,
		TimeModified:       ts,
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "submission_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"status":              models.GradingStatusPending,
			"processing_attempts": 0,
			"error_message":       "",
			"timemodified":        ts,
		}),
	}).Create(&record).Error
	if err != nil {
		return models.GradingRecord{}, err
	}

	return r.GetBySubmission(ctx, submissionID)
}

func (r *gradingRecordRepository) Claim(ctx context.Context, submissionID uint, now time.Time) (models.GradingRecord, bool, error) {
	result := r.db.WithContext(ctx).Model(&models.GradingRecord{}).
		Where("submission_id = ? AND status = ?", submissionID, models.GradingStatusPending).
		Updates(map[string]interface{}{
			"status":              models.GradingStatusProcessing,
			"processing_attempts": gorm.Expr("processing_attempts + 1"),
			"timemodified":        now.Unix(),
		})
	if result.Error != nil {
		return models.GradingRecord{}, false, result.Error
	}
	if result.RowsAffected == 0 {
		return models.GradingRecord{}, false, nil
	}

	record, err := r.GetBySubmission(ctx, submissionID)
	if err != nil {
		return models.GradingRecord{}, false, err
	}
	return record, true, nil
}

func (r *gradingRecordRepository) Complete(ctx context.Context, submissionID uint, score *float64, feedback string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.GradingRecord{}).
		Where("submission_id = ? AND status = ?", submissionID, models.GradingStatusProcessing).
		Updates(map[string]interface{}{
			"status":        models.GradingStatusCompleted,
			"ai_score":      score,
			"ai_feedback":   feedback,
			"error_message": "",
			"timemodified":  now.Unix(),
		})
	return result.RowsAffected > 0, result.Error
}

func (r *gradingRecordRepository) MarkFailed(ctx context.Context, submissionID uint, message string, now time.Time, from ...models.GradingStatus) (bool, error) {
	if len(from) == 0 {
		from = []models.GradingStatus{models.GradingStatusProcessing}
	}

	result := r.db.WithContext(ctx).Model(&models.GradingRecord{}).
		Where("submission_id = ? AND status IN ?", submissionID, from).
		Updates(map[string]interface{}{
			"status":        models.GradingStatusFailed,
			"error_message": message,
			"timemodified":  now.Unix(),
		})
	return result.RowsAffected > 0, result.Error
}

// Requeue moves a failed record back to pending for an automatic retry. Unlike
// ResetPending it keeps the attempt counter.
func (r *gradingRecordRepository) Requeue(ctx context.Context, submissionID uint, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.GradingRecord{}).
		Where("submission_id = ? AND status = ?", submissionID, models.GradingStatusFailed).
		Updates(map[string]interface{}{
			"status":       models.GradingStatusPending,
			"timemodified": now.Unix(),
		})
	return result.RowsAffected > 0, result.Error
}

// FailStale fails records left in status since before cutoff.
func (r *gradingRecordRepository) FailStale(ctx context.Context, status models.GradingStatus, cutoff time.Time, message string, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.GradingRecord{}).
		Where("status = ? AND timemodified < ?", status, cutoff.Unix()).
		Updates(map[string]interface{}{
			"status":        models.GradingStatusFailed,
			"error_message": message,
			"timemodified":  now.Unix(),
		})
	return result.RowsAffected, result.Error
}

func (r *gradingRecordRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&models.GradingRecord{}).Count(&total).Error
	return total, err
}

func (r *gradingRecordRepository) Recent(ctx context.Context, limit int) ([]models.GradingRecord, error) {
	if limit <= 0 {
		limit = 5
	}

	var records []models.GradingRecord
	if err := r.db.WithContext(ctx).Order("timemodified DESC").Order("id DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *gradingRecordRepository) TableExists(ctx context.Context) bool {
	return r.db.WithContext(ctx).Migrator().HasTable(&models.GradingRecord{})
}
