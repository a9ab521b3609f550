package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/ai-check-api/internal/dto"
)

var (
	// ErrNotLoggedIn indicates the caller presented no valid identity.
	ErrNotLoggedIn = errors.New("user not logged in")
	// ErrInsufficientPermissions indicates the caller lacks the admin role.
	ErrInsufficientPermissions = errors.New("insufficient permissions")
	// ErrInvalidSubmissionID indicates a missing or non-numeric submission id.
	ErrInvalidSubmissionID = errors.New("invalid submission id")
)

// TriggerSuccessMessage is returned when the manual trigger queued a job.
const TriggerSuccessMessage = "AI processing task queued successfully"

// ManualTriggerService re-runs the AI check for one submission on an admin's request.
type ManualTriggerService interface {
	Trigger(ctx context.Context, actor ActivityActor, req dto.ManualTriggerRequest) (dto.ManualTriggerResponse, error)
}

type manualTriggerService struct {
	dispatcher *AICheckDispatcher
	sesskeys   SessKeyService
	activity   ActivityRecorder
	logger     zerolog.Logger
}

// NewManualTriggerService constructs the manual trigger service.
func NewManualTriggerService(dispatcher *AICheckDispatcher, sesskeys SessKeyService, activity ActivityRecorder, logger zerolog.Logger) ManualTriggerService {
	return &manualTriggerService{
		dispatcher: dispatcher,
		sesskeys:   sesskeys,
		activity:   activity,
		logger:     logger.With().Str("component", "manual_trigger_service").Logger(),
	}
}

// Trigger checks identity, role, session key and submission id in that order, then
// resets the record to pending and queues the submission's first file.
func (s *manualTriggerService) Trigger(ctx context.Context, actor ActivityActor, req dto.ManualTriggerRequest) (dto.ManualTriggerResponse, error) {
	if actor.ID == 0 {
		return dto.ManualTriggerResponse{}, ErrNotLoggedIn
	}
	if normalizeRole(actor.Role) != "admin" {
		return dto.ManualTriggerResponse{}, ErrInsufficientPermissions
	}
	if err := s.sesskeys.Validate(ctx, actor.ID, req.SessKey); err != nil {
		return dto.ManualTriggerResponse{}, err
	}

	submissionID, err := strconv.ParseUint(strings.TrimSpace(req.SubmissionID), 10, 64)
	if err != nil || submissionID == 0 {
		return dto.ManualTriggerResponse{}, ErrInvalidSubmissionID
	}

	result, err := s.dispatcher.Dispatch(ctx, uint(submissionID), DispatchOptions{})
	if err != nil {
		s.logger.Warn().Err(err).Uint64("submission_id", submissionID).Uint("actor_id", actor.ID).Msg("manual trigger rejected")
		return dto.ManualTriggerResponse{}, err
	}

	response := dto.ManualTriggerResponse{
		Success:      true,
		Message:      TriggerSuccessMessage,
		SubmissionID: result.Submission.ID,
	}
	if result.Record != nil {
		response.AIRecordID = result.Record.ID
	}

	if s.activity != nil {
		entityID := result.Submission.ID
		if _, err := s.activity.Record(ctx, ActivityEntry{
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Action:     "ai_check.triggered",
			EntityType: "submission",
			EntityID:   &entityID,
			Metadata: map[string]interface{}{
				"assignment_id": result.Assignment.ID,
				"record_id":     response.AIRecordID,
				"job_id":        result.Job.JobID,
			},
		}); err != nil {
			s.logger.Warn().Err(err).Uint("submission_id", entityID).Msg("failed to record trigger activity")
		}
	}

	return response, nil
}
