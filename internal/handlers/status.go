package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// Version reported by /api/status.
const Version = "2.0.0"

var features = []string{"upload", "transcribe", "clip_finding", "processing", "token_validation"}

// StatusHandler reports service liveness and capabilities.
type StatusHandler struct {
	startedAt time.Time
}

// NewStatusHandler creates a status handler anchored at startup time.
func NewStatusHandler(startedAt time.Time) *StatusHandler {
	return &StatusHandler{startedAt: startedAt}
}

// Handle serves GET /api/status.
func (h *StatusHandler) Handle(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "running",
		"version":  Version,
		"features": features,
		"uptime":   time.Since(h.startedAt).Seconds(),
	})
}
