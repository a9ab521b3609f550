package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/ai-check-api/internal/dto"
	"github.com/noah-isme/ai-check-api/internal/host"
)

// SettingsService reads and saves the per-assignment AI check settings.
type SettingsService interface {
	Get(ctx context.Context, assignmentID uint) (dto.AssignmentSettingsResponse, error)
	Save(ctx context.Context, actor ActivityActor, assignmentID uint, req dto.AssignmentSettingsRequest) (dto.AssignmentSettingsResponse, error)
}

type settingsService struct {
	host      host.Adapter
	activity  ActivityRecorder
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewSettingsService constructs the settings service.
func NewSettingsService(adapter host.Adapter, activity ActivityRecorder, validate *validator.Validate, logger zerolog.Logger) SettingsService {
	return &settingsService{
		host:      adapter,
		activity:  activity,
		validator: validate,
		logger:    logger.With().Str("component", "settings_service").Logger(),
	}
}

func (s *settingsService) ensureAssignment(ctx context.Context, assignmentID uint) error {
	if _, err := s.host.GetAssignment(ctx, assignmentID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAssignmentNotFound
		}
		return err
	}
	return nil
}

func (s *settingsService) Get(ctx context.Context, assignmentID uint) (dto.AssignmentSettingsResponse, error) {
	if err := s.ensureAssignment(ctx, assignmentID); err != nil {
		return dto.AssignmentSettingsResponse{}, err
	}

	settings, err := s.host.PluginSettings(ctx, assignmentID)
	if err != nil {
		return dto.AssignmentSettingsResponse{}, err
	}
	return dto.NewAssignmentSettingsResponse(assignmentID, settings), nil
}

// Save always stores the enabled flag. The answer, rubric and mode are only stored
// while the plugin is enabled.
func (s *settingsService) Save(ctx context.Context, actor ActivityActor, assignmentID uint, req dto.AssignmentSettingsRequest) (dto.AssignmentSettingsResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.AssignmentSettingsResponse{}, err
	}
	if err := s.ensureAssignment(ctx, assignmentID); err != nil {
		return dto.AssignmentSettingsResponse{}, err
	}

	settings := host.PluginSettings{
		Enabled:        *req.Enabled,
		StandardAnswer: req.StandardAnswer,
		GradingRubric:  req.GradingRubric,
		GradingMode:    req.GradingMode,
	}
	if err := s.host.SavePluginSettings(ctx, assignmentID, settings); err != nil {
		return dto.AssignmentSettingsResponse{}, fmt.Errorf("save settings for assignment %d: %w", assignmentID, err)
	}

	if s.activity != nil {
		entityID := assignmentID
		if _, err := s.activity.Record(ctx, ActivityEntry{
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Action:     "ai_check.settings_saved",
			EntityType: "assignment",
			EntityID:   &entityID,
			Metadata: map[string]interface{}{
				"enabled":      settings.Enabled,
				"grading_mode": settings.GradingMode,
			},
		}); err != nil {
			s.logger.Warn().Err(err).Uint("assignment_id", assignmentID).Msg("failed to record settings activity")
		}
	}

	return s.Get(ctx, assignmentID)
}
