package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/ai-check-api/internal/dto"
	"github.com/noah-isme/ai-check-api/internal/service"
)

// FatalTriggerError is returned for faults the caller cannot fix.
const FatalTriggerError = "A fatal server error occurred. Please check the server logs for details."

// triggerErrors lists the caller errors the manual trigger reports verbatim, in check order.
var triggerErrors = []struct {
	err     error
	message string
}{
	{service.ErrNotLoggedIn, "User not logged in."},
	{service.ErrInsufficientPermissions, "Insufficient permissions."},
	{service.ErrInvalidSessKey, "Invalid session key."},
	{service.ErrInvalidSubmissionID, "Invalid submission ID"},
	{service.ErrSubmissionNotFound, "Submission not found"},
	{service.ErrAssignmentNotFound, "Assignment not found"},
	{service.ErrPluginDisabled, "AI Check plugin not enabled"},
	{service.ErrAutoGradingDisabled, "AI auto-grading not enabled in settings"},
	{service.ErrNoFiles, "No files found in submission"},
	{service.ErrEnqueueFailed, "Unable to queue AI processing task"},
}

// ManualTriggerHandler exposes the manual AI check trigger.
type ManualTriggerHandler struct {
	service service.ManualTriggerService
	logger  zerolog.Logger
}

// NewManualTriggerHandler constructs the handler.
func NewManualTriggerHandler(service service.ManualTriggerService, logger zerolog.Logger) *ManualTriggerHandler {
	return &ManualTriggerHandler{
		service: service,
		logger:  logger.With().Str("component", "manual_trigger_handler").Logger(),
	}
}

// Register attaches the trigger endpoint to the router group.
func (h *ManualTriggerHandler) Register(router fiber.Router) {
	router.Post("", h.trigger)
}

func (h *ManualTriggerHandler) trigger(c *fiber.Ctx) error {
	// identity and role are checked before the payload, so a bad body is only logged
	var payload dto.ManualTriggerRequest
	if err := c.BodyParser(&payload); err != nil && !errors.Is(err, fiber.ErrUnprocessableEntity) {
		requestLogger(h.logger, c).Debug().Err(err).Msg("unparseable trigger payload")
		payload = dto.ManualTriggerRequest{}
	}
	if payload.SubmissionID == "" {
		payload.SubmissionID = c.Query("submission_id")
	}
	if payload.SessKey == "" {
		payload.SessKey = c.Query("sesskey")
	}

	response, err := h.service.Trigger(c.UserContext(), activityActorFromContext(c), payload)
	if err != nil {
		for _, known := range triggerErrors {
			if errors.Is(err, known.err) {
				return c.Status(fiber.StatusBadRequest).JSON(dto.ManualTriggerError{Error: known.message})
			}
		}

		requestLogger(h.logger, c).Error().Err(err).Str("submission_id", payload.SubmissionID).Msg("manual trigger failed")
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ManualTriggerError{Error: FatalTriggerError})
	}

	return c.Status(fiber.StatusOK).JSON(response)
}
