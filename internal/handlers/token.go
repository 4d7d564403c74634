package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/clipforge/clipforge/internal/token"
)

// TokenHandler validates Hugging Face tokens for the diarization backend.
type TokenHandler struct {
	validator *token.Validator
}

// NewTokenHandler creates a new token handler.
func NewTokenHandler(v *token.Validator) *TokenHandler {
	return &TokenHandler{validator: v}
}

type tokenRequest struct {
	Token string `json:"token"`
}

// Handle validates the submitted token.
func (h *TokenHandler) Handle(c *fiber.Ctx) error {
	var req tokenRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	res := h.validator.Validate(c.Context(), req.Token)

	if res.Valid {
		return c.JSON(fiber.Map{
			"success": true,
			"valid":   true,
			"message": res.Message,
		})
	}

	body := fiber.Map{
		"success": false,
		"valid":   false,
		"error":   res.Err,
	}
	if res.LicenseURL != "" {
		body["license_url"] = res.LicenseURL
	}

	// The demo contract returns 200 with valid=false for token problems;
	// only upstream failures get a non-200 status.
	if res.Upstream {
		return c.Status(fiber.StatusBadGateway).JSON(body)
	}
	return c.JSON(body)
}
