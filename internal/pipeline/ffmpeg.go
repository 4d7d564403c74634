package pipeline

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/clipforge/clipforge/internal/types"
)

// FFmpegRenderer cuts clips out of source video with the ffmpeg binary.
type FFmpegRenderer struct{}

// NewFFmpegRenderer creates a renderer. ffmpeg must be on PATH; its absence
// surfaces as a stage failure, not a startup error.
func NewFFmpegRenderer() *FFmpegRenderer {
	return &FFmpegRenderer{}
}

// Render executes the trim (stream copy) or trim_and_resize (portrait
// re-encode) operation for the requested clip.
func (r *FFmpegRenderer) Render(ctx context.Context, req RenderRequest) (RenderResult, error) {
	args := []string{
		"-ss", formatSeconds(req.Clip.Start),
		"-to", formatSeconds(req.Clip.End),
		"-i", req.InputPath,
	}

	switch req.Operation {
	case types.OperationTrim:
		args = append(args, "-c", "copy")
	case types.OperationTrimAndResize:
		// Fill the target frame, then crop overflow. Keeps audio as is.
		scale := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d",
			req.Width, req.Height, req.Width, req.Height)
		args = append(args, "-vf", scale, "-c:a", "copy")
	default:
		return RenderResult{}, fmt.Errorf("unknown operation %q", req.Operation)
	}

	args = append(args, "-y", req.OutputPath)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	output, err := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return RenderResult{}, ctx.Err()
	}
	if err != nil {
		return RenderResult{}, fmt.Errorf("ffmpeg failed: %w\noutput: %s", err, output)
	}

	return RenderResult{Duration: req.Clip.End - req.Clip.Start}, nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
