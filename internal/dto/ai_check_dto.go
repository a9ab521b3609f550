package dto

import (
	"github.com/noah-isme/ai-check-api/internal/host"
	"github.com/noah-isme/ai-check-api/internal/models"
	"github.com/noah-isme/ai-check-api/internal/queue"
)

// SubmissionEvent is the host event payload delivered over NATS or the webhook.
type SubmissionEvent struct {
	EventName         string                 `json:"eventname"`
	ObjectID          uint                   `json:"objectid"`
	ContextInstanceID uint                   `json:"contextinstanceid"`
	UserID            int64                  `json:"userid"`
	Other             map[string]interface{} `json:"other"`
}

// ManualTriggerRequest carries the manual trigger form. The submission id stays a
// string so authentication is checked before the id is parsed.
type ManualTriggerRequest struct {
	SubmissionID string `json:"submission_id" form:"submission_id"`
	SessKey      string `json:"sesskey" form:"sesskey"`
}

// ManualTriggerResponse is returned when a grading job was queued.
type ManualTriggerResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	SubmissionID uint   `json:"submission_id"`
	AIRecordID   uint   `json:"ai_record_id"`
}

// ManualTriggerError is returned for rejected manual triggers.
type ManualTriggerError struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// SessKeyResponse returns the caller's anti-forgery token.
type SessKeyResponse struct {
	SessKey   string `json:"sesskey"`
	ExpiresIn int64  `json:"expires_in"`
}

// GradingRecordResponse serializes a grading record.
type GradingRecordResponse struct {
	ID                 uint     `json:"id"`
	SubmissionID       uint     `json:"submission_id"`
	Status             string   `json:"status"`
	ProcessingAttempts int      `json:"processing_attempts"`
	ErrorMessage       string   `json:"error_message,omitempty"`
	AIScore            *float64 `json:"ai_score,omitempty"`
	AIFeedback         string   `json:"ai_feedback,omitempty"`
	TimeCreated        int64    `json:"timecreated"`
	TimeModified       int64    `json:"timemodified"`
}

// NewGradingRecordResponse converts a model into its DTO.
func NewGradingRecordResponse(record models.GradingRecord) GradingRecordResponse {
	return GradingRecordResponse{
		ID:                 record.ID,
		SubmissionID:       record.SubmissionID,
		Status:             string(record.Status),
		ProcessingAttempts: record.ProcessingAttempts,
		ErrorMessage:       record.ErrorMessage,
		AIScore:            record.AIScore,
		AIFeedback:         record.AIFeedback,
		TimeCreated:        record.TimeCreated,
		TimeModified:       record.TimeModified,
	}
}

// Submission states shown to teachers.
const (
	SubmissionStateNotStarted = "not_started"
	SubmissionStateDisabled   = "disabled"
)

// SubmissionStatusResponse summarises the AI check state of a submission.
type SubmissionStatusResponse struct {
	SubmissionID         uint                   `json:"submission_id"`
	State                string                 `json:"state"`
	Record               *GradingRecordResponse `json:"record,omitempty"`
	ManualTriggerAllowed bool                   `json:"manual_trigger_allowed"`
}

// AssignmentSettingsRequest updates the per-assignment plugin settings.
type AssignmentSettingsRequest struct {
	Enabled        *bool  `json:"enabled" validate:"required"`
	StandardAnswer string `json:"standard_answer" validate:"omitempty,max=65535"`
	GradingRubric  string `json:"grading_rubric" validate:"omitempty,max=65535"`
	GradingMode    string `json:"grading_mode" validate:"omitempty,oneof=draft publish"`
}

// AssignmentSettingsResponse returns the stored plugin settings.
type AssignmentSettingsResponse struct {
	AssignmentID   uint   `json:"assignment_id"`
	Enabled        bool   `json:"enabled"`
	StandardAnswer string `json:"standard_answer"`
	GradingRubric  string `json:"grading_rubric"`
	GradingMode    string `json:"grading_mode"`
}

// NewAssignmentSettingsResponse converts adapter settings into the response DTO.
func NewAssignmentSettingsResponse(assignmentID uint, settings host.PluginSettings) AssignmentSettingsResponse {
	return AssignmentSettingsResponse{
		AssignmentID:   assignmentID,
		Enabled:        settings.Enabled,
		StandardAnswer: settings.StandardAnswer,
		GradingRubric:  settings.GradingRubric,
		GradingMode:    settings.GradingMode,
	}
}

// DebugInfoResponse reports the health of the AI check pipeline.
type DebugInfoResponse struct {
	TableExists             bool                    `json:"table_exists"`
	RecordCount             int64                   `json:"record_count"`
	RecentRecords           []GradingRecordResponse `json:"recent_records"`
	EventSubscriptionActive bool                    `json:"event_subscription_active"`
	Queue                   *queue.Stats            `json:"queue,omitempty"`
	QueueError              string                  `json:"queue_error,omitempty"`
	Host                    host.Capabilities       `json:"host"`
}
