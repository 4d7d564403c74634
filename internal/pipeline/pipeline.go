// Package pipeline holds the processing backends behind the stage runner.
// Each backend is a narrow interface so the exec-based implementations can be
// swapped for deterministic demo engines in tests and demos.
package pipeline

import (
	"context"

	"github.com/clipforge/clipforge/internal/types"
)

// Transcriber produces a transcript from a media file.
type Transcriber interface {
	Transcribe(ctx context.Context, mediaPath string) (*types.Transcript, error)
}

// ClipFinder derives candidate clips from a transcript.
type ClipFinder interface {
	FindClips(ctx context.Context, transcript *types.Transcript) ([]types.Clip, error)
}

// RenderRequest describes one render of a selected clip.
type RenderRequest struct {
	InputPath  string
	OutputPath string
	Clip       types.Clip
	Operation  string // types.OperationTrim or types.OperationTrimAndResize
	Width      int    // used by trim_and_resize
	Height     int
}

// RenderResult reports what a renderer produced.
type RenderResult struct {
	Duration float64
}

// Renderer cuts (and optionally resizes) a clip out of the source video.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (RenderResult, error)
}
