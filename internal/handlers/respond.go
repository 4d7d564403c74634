package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/clipforge/clipforge/internal/ledger"
	"github.com/clipforge/clipforge/internal/runner"
	"github.com/clipforge/clipforge/internal/storage"
)

// fail writes the uniform JSON error envelope.
func fail(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

// domainError maps domain errors onto the wire status taxonomy.
func domainError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, storage.ErrPayloadTooLarge):
		return fail(c, fiber.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, ledger.ErrNotFound):
		return fail(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrConflict),
		errors.Is(err, runner.ErrWrongStage),
		errors.Is(err, runner.ErrUnknownClip),
		errors.Is(err, runner.ErrNotFailed):
		return fail(c, fiber.StatusConflict, err.Error())
	default:
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}
}
