package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/clipforge/clipforge/internal/ledger"
	"github.com/clipforge/clipforge/internal/runner"
	"github.com/clipforge/clipforge/internal/types"
)

// JobsHandler exposes stage starts and job inspection.
type JobsHandler struct {
	runner *runner.Runner
	ledger *ledger.Ledger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(r *runner.Runner, l *ledger.Ledger) *JobsHandler {
	return &JobsHandler{runner: r, ledger: l}
}

type jobRequest struct {
	JobID string `json:"job_id"`
}

type processRequest struct {
	JobID     string `json:"job_id"`
	Operation string `json:"operation"`
	ClipID    int    `json:"clip_id"`
}

// Transcribe starts the transcription stage.
func (h *JobsHandler) Transcribe(c *fiber.Ctx) error {
	jobID, errResp := h.parseJobID(c)
	if jobID == "" {
		return errResp
	}

	job, err := h.runner.StartTranscribe(jobID)
	if err != nil {
		return domainError(c, err)
	}
	return accepted(c, job, "Transcription started")
}

// FindClips starts the clip-finding stage.
func (h *JobsHandler) FindClips(c *fiber.Ctx) error {
	jobID, errResp := h.parseJobID(c)
	if jobID == "" {
		return errResp
	}

	job, err := h.runner.StartFindClips(jobID)
	if err != nil {
		return domainError(c, err)
	}
	return accepted(c, job, "Clip finding started")
}

// Process starts rendering of a selected clip.
func (h *JobsHandler) Process(c *fiber.Ctx) error {
	var req processRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if req.JobID == "" {
		return fail(c, fiber.StatusBadRequest, "job_id is required")
	}
	if req.Operation != types.OperationTrim && req.Operation != types.OperationTrimAndResize {
		return fail(c, fiber.StatusBadRequest, "operation must be trim or trim_and_resize")
	}

	job, err := h.runner.StartProcess(req.JobID, runner.ProcessParams{
		Operation: req.Operation,
		ClipID:    req.ClipID,
	})
	if err != nil {
		return domainError(c, err)
	}
	return accepted(c, job, "Processing started")
}

// Get returns a job snapshot.
func (h *JobsHandler) Get(c *fiber.Ctx) error {
	job, err := h.ledger.Get(c.Params("id"))
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"job":     job,
	})
}

// Cancel requests cooperative cancellation of an in-flight stage.
func (h *JobsHandler) Cancel(c *fiber.Ctx) error {
	if err := h.runner.Cancel(c.Params("id")); err != nil {
		return domainError(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Cancellation requested",
	})
}

// Retry moves a failed job back to its last completed checkpoint.
func (h *JobsHandler) Retry(c *fiber.Ctx) error {
	job, err := h.runner.Retry(c.Params("id"))
	if err != nil {
		return domainError(c, err)
	}
	return accepted(c, job, "Job reset for retry")
}

func (h *JobsHandler) parseJobID(c *fiber.Ctx) (string, error) {
	var req jobRequest
	if err := c.BodyParser(&req); err != nil {
		return "", fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if req.JobID == "" {
		return "", fail(c, fiber.StatusBadRequest, "job_id is required")
	}
	return req.JobID, nil
}

func accepted(c *fiber.Ctx, job types.Job, message string) error {
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success": true,
		"job_id":  job.ID,
		"stage":   job.Stage,
		"message": message,
	})
}
