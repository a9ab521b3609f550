package handler

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/ai-check-api/internal/dto"
	"github.com/noah-isme/ai-check-api/internal/service"
	"github.com/noah-isme/ai-check-api/internal/utils"
)

// EventTokenHeader carries the shared secret of the event webhook.
const EventTokenHeader = "X-AICheck-Token"

// EventHandler accepts host submission events over HTTP. Authenticated deliveries are
// always answered with 200 and the outcome, so the host never retries them.
type EventHandler struct {
	service service.SubmissionEventService
	secret  string
	logger  zerolog.Logger
}

// NewEventHandler constructs the webhook handler. An empty secret rejects every call.
func NewEventHandler(service service.SubmissionEventService, secret string, logger zerolog.Logger) *EventHandler {
	return &EventHandler{
		service: service,
		secret:  secret,
		logger:  logger.With().Str("component", "event_handler").Logger(),
	}
}

// Register attaches the webhook endpoint to the router group.
func (h *EventHandler) Register(router fiber.Router) {
	router.Post("", h.receive)
}

func (h *EventHandler) receive(c *fiber.Ctx) error {
	token := c.Get(EventTokenHeader)
	if h.secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) != 1 {
		return utils.SendError(c, fiber.StatusUnauthorized, "invalid event token")
	}

	var event dto.SubmissionEvent
	if err := c.BodyParser(&event); err != nil {
		requestLogger(h.logger, c).Warn().Err(err).Msg("malformed event payload")
		return utils.SendSuccess(c, "event handled", service.EventOutcome{
			Outcome: service.OutcomeIgnored,
			Reason:  "malformed event payload",
		})
	}

	outcome := h.service.Handle(c.UserContext(), event)
	return utils.SendSuccess(c, "event handled", outcome)
}
