package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/ai-check-api/internal/dto"
	"github.com/noah-isme/ai-check-api/internal/models"
	"github.com/noah-isme/ai-check-api/internal/repository"
)

// StatusService reports the AI check state of a submission for the grading page.
type StatusService interface {
	SubmissionStatus(ctx context.Context, actor ActivityActor, submissionID uint) (dto.SubmissionStatusResponse, error)
}

type statusService struct {
	dispatcher *AICheckDispatcher
	records    repository.GradingRecordRepository
	logger     zerolog.Logger
}

// NewStatusService constructs the status service.
func NewStatusService(dispatcher *AICheckDispatcher, records repository.GradingRecordRepository, logger zerolog.Logger) StatusService {
	return &statusService{
		dispatcher: dispatcher,
		records:    records,
		logger:     logger.With().Str("component", "status_service").Logger(),
	}
}

func (s *statusService) SubmissionStatus(ctx context.Context, actor ActivityActor, submissionID uint) (dto.SubmissionStatusResponse, error) {
	response := dto.SubmissionStatusResponse{SubmissionID: submissionID}

	_, _, err := s.dispatcher.Resolve(ctx, submissionID)
	switch {
	case errors.Is(err, ErrPluginDisabled), errors.Is(err, ErrAutoGradingDisabled):
		response.State = dto.SubmissionStateDisabled
		return response, nil
	case err != nil:
		return dto.SubmissionStatusResponse{}, err
	}

	record, err := s.records.GetBySubmission(ctx, submissionID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionStatusResponse{}, err
		}
		response.State = dto.SubmissionStateNotStarted
	} else {
		view := dto.NewGradingRecordResponse(record)
		response.Record = &view
		response.State = string(record.Status)
	}

	isAdmin := normalizeRole(actor.Role) == "admin"
	retryable := response.State == dto.SubmissionStateNotStarted || response.State == string(models.GradingStatusFailed)
	response.ManualTriggerAllowed = isAdmin && retryable
	return response, nil
}
