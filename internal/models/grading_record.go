package models

import "gorm.io/gorm/schema"

// GradingStatus enumerates the AI check lifecycle states of a submission.
type GradingStatus string

const (
	GradingStatusPending    GradingStatus = "pending"
	GradingStatusProcessing GradingStatus = "processing"
	GradingStatusCompleted  GradingStatus = "completed"
	GradingStatusFailed     GradingStatus = "failed"
)

// gradingTransitions lists the moves a record may make outside of an upsert reset.
// A pending record only fails directly when its job could not be queued.
var gradingTransitions = map[GradingStatus][]GradingStatus{
	GradingStatusPending:    {GradingStatusProcessing, GradingStatusFailed},
	GradingStatusProcessing: {GradingStatusCompleted, GradingStatusFailed},
	GradingStatusFailed:     {GradingStatusPending},
}

// Valid reports whether the status is one of the known lifecycle states.
func (s GradingStatus) Valid() bool {
	switch s {
	case GradingStatusPending, GradingStatusProcessing, GradingStatusCompleted, GradingStatusFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a record in status s may move to next.
// Moving to pending through a re-trigger is always allowed.
func (s GradingStatus) CanTransitionTo(next GradingStatus) bool {
	if next == GradingStatusPending && s.Valid() {
		return true
	}
	for _, allowed := range gradingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the worker is done with the record.
func (s GradingStatus) IsTerminal() bool {
	return s == GradingStatusCompleted || s == GradingStatusFailed
}

// GradingRecord tracks the AI check lifecycle of one host submission.
type GradingRecord struct {
	ID                 uint          `gorm:"primaryKey" json:"id"`
	SubmissionID       uint          `gorm:"column:submission_id;not null;uniqueIndex" json:"submission_id"`
	Status             GradingStatus `gorm:"size:20;not null;index" json:"status"`
	ProcessingAttempts int           `gorm:"column:processing_attempts;not null" json:"processing_attempts"`
	ErrorMessage       string        `gorm:"column:error_message;type:text" json:"error_message"`
	AIScore            *float64      `gorm:"column:ai_score" json:"ai_score"`
	AIFeedback         string        `gorm:"column:ai_feedback;type:text" json:"ai_feedback"`
	TimeCreated        int64         `gorm:"column:timecreated;not null" json:"timecreated"`
	TimeModified       int64         `gorm:"column:timemodified;not null;index" json:"timemodified"`
}

// TableName keeps the plugin table name under the configured host prefix.
func (GradingRecord) TableName(namer schema.Namer) string {
	return namer.TableName("assignsubmission_ai_check_grades")
}
