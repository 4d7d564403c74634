package handlers

import (
	"log"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/clipforge/clipforge/internal/ledger"
	"github.com/clipforge/clipforge/internal/storage"
	"github.com/clipforge/clipforge/internal/types"
)

// supported upload extensions
var videoFormats = []string{".mp4", ".mov", ".avi", ".mkv", ".webm", ".m4v", ".mp3", ".wav", ".m4a"}

// UploadHandler receives video uploads and registers them as pipeline jobs.
type UploadHandler struct {
	store  *storage.AssetStore
	ledger *ledger.Ledger
}

// NewUploadHandler creates a new upload handler.
func NewUploadHandler(store *storage.AssetStore, l *ledger.Ledger) *UploadHandler {
	return &UploadHandler{store: store, ledger: l}
}

// Handle processes the upload request.
func (h *UploadHandler) Handle(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "No file uploaded")
	}
	if file.Filename == "" {
		return fail(c, fiber.StatusBadRequest, "No file selected")
	}
	if file.Size == 0 {
		return fail(c, fiber.StatusBadRequest, "Empty file")
	}
	if !validFormat(file.Filename) {
		return fail(c, fiber.StatusBadRequest, "Unsupported media format")
	}

	src, err := file.Open()
	if err != nil {
		log.Printf("Failed to open uploaded file: %v", err)
		return fail(c, fiber.StatusInternalServerError, "Failed to read upload")
	}
	defer src.Close()

	asset, err := h.store.Put(src, storage.PutOptions{
		OriginalName: file.Filename,
		ContentType:  file.Header.Get("Content-Type"),
		DeclaredSize: file.Size,
		Kind:         types.AssetKindUpload,
	})
	if err != nil {
		log.Printf("Failed to store upload %s: %v", file.Filename, err)
		return domainError(c, err)
	}

	job, err := h.ledger.Create(asset.ID)
	if err != nil {
		log.Printf("Failed to create job for asset %s: %v", asset.ID, err)
		return domainError(c, err)
	}

	log.Printf("File uploaded: %s (%d bytes), job %s", asset.StoredName, asset.SizeBytes, job.ID)

	return c.JSON(fiber.Map{
		"success":       true,
		"filename":      asset.StoredName,
		"original_name": asset.OriginalName,
		"size":          asset.SizeBytes,
		"url":           h.store.URLFor(asset),
		"asset_id":      asset.ID,
		"job_id":        job.ID,
		"message":       "File uploaded successfully",
	})
}

func validFormat(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, format := range videoFormats {
		if ext == format {
			return true
		}
	}
	return false
}
