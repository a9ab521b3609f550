package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/ai-check-api/internal/dto"
	"github.com/noah-isme/ai-check-api/internal/service"
	"github.com/noah-isme/ai-check-api/internal/utils"
)

// SessKeyHandler hands out the anti-forgery key required by the manual trigger.
type SessKeyHandler struct {
	service service.SessKeyService
	logger  zerolog.Logger
}

// NewSessKeyHandler constructs the handler.
func NewSessKeyHandler(service service.SessKeyService, logger zerolog.Logger) *SessKeyHandler {
	return &SessKeyHandler{
		service: service,
		logger:  logger.With().Str("component", "sesskey_handler").Logger(),
	}
}

// Register attaches the session key endpoint to the router group.
func (h *SessKeyHandler) Register(router fiber.Router) {
	router.Get("", h.issue)
}

func (h *SessKeyHandler) issue(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	key, ttl, err := h.service.Issue(c.UserContext(), userID)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Uint("user_id", userID).Msg("failed to issue session key")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to issue session key")
	}

	return utils.SendSuccess(c, "session key issued", dto.SessKeyResponse{
		SessKey:   key,
		ExpiresIn: int64(ttl.Seconds()),
	})
}
