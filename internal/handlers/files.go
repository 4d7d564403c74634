package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/clipforge/clipforge/internal/storage"
)

// FilesHandler serves stored asset bytes.
type FilesHandler struct {
	store *storage.AssetStore
}

// NewFilesHandler creates a new files handler.
func NewFilesHandler(store *storage.AssetStore) *FilesHandler {
	return &FilesHandler{store: store}
}

// Handle serves GET /uploads/<stored name>.
func (h *FilesHandler) Handle(c *fiber.Ctx) error {
	name := c.Params("name")

	asset, err := h.store.ByStoredName(name)
	if err != nil {
		return fail(c, fiber.StatusNotFound, "File not found")
	}

	c.Set(fiber.HeaderContentType, asset.ContentType)
	return c.SendFile(asset.StoragePath)
}
