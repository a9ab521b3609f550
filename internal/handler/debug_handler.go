package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/ai-check-api/internal/service"
	"github.com/noah-isme/ai-check-api/internal/utils"
)

// DebugHandler exposes pipeline diagnostics to administrators.
type DebugHandler struct {
	service service.DebugInfoService
	logger  zerolog.Logger
}

// NewDebugHandler constructs the handler.
func NewDebugHandler(service service.DebugInfoService, logger zerolog.Logger) *DebugHandler {
	return &DebugHandler{
		service: service,
		logger:  logger.With().Str("component", "debug_handler").Logger(),
	}
}

// Register attaches the debug endpoint to the router group.
func (h *DebugHandler) Register(router fiber.Router) {
	router.Get("", h.info)
}

func (h *DebugHandler) info(c *fiber.Ctx) error {
	info, err := h.service.Info(c.UserContext())
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to gather debug info")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to gather debug info")
	}

	return utils.SendSuccess(c, "debug info", info)
}
