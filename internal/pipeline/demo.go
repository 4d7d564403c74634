package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/clipforge/clipforge/internal/types"
)

// Demo engines produce deterministic output without external binaries.
// They back the "demo" pipeline engine and the test suite.

// StaticTranscriber returns a fixed transcript regardless of input.
type StaticTranscriber struct{}

// Transcribe returns the demo transcript.
func (StaticTranscriber) Transcribe(ctx context.Context, mediaPath string) (*types.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(mediaPath); err != nil {
		return nil, fmt.Errorf("media file unavailable: %w", err)
	}

	segments := []types.Segment{
		{Start: 0.0, End: 15.0, Text: "Welcome everyone, today we are looking at how short clips are made.", Confidence: 0.96},
		{Start: 15.0, End: 45.0, Text: "The main part of the talk walks through transcription, finding highlights, and cutting them out of the source video automatically.", Confidence: 0.94},
		{Start: 45.0, End: 60.0, Text: "The key point is that clip boundaries should follow natural pauses in speech.", Confidence: 0.93},
		{Start: 60.0, End: 85.7, Text: "To wrap up, the whole flow runs end to end without any manual editing, and the results are ready to share.", Confidence: 0.92},
	}

	parts := make([]string, len(segments))
	var confSum float64
	for i, s := range segments {
		parts[i] = s.Text
		confSum += s.Confidence
	}
	text := strings.Join(parts, " ")

	return &types.Transcript{
		Text:       text,
		Language:   "en",
		Duration:   85.7,
		Segments:   segments,
		WordCount:  len(strings.Fields(text)),
		Confidence: confSum / float64(len(segments)),
	}, nil
}

// StaticClipFinder returns the canonical four demo clips.
type StaticClipFinder struct{}

// FindClips ignores the transcript content and returns fixed clips.
func (StaticClipFinder) FindClips(ctx context.Context, transcript *types.Transcript) ([]types.Clip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []types.Clip{
		{ID: 1, Topic: "Introduction", Start: 0.0, End: 15.0, Duration: 15.0, Score: 0.95},
		{ID: 2, Topic: "Main Content", Start: 15.0, End: 45.0, Duration: 30.0, Score: 0.92},
		{ID: 3, Topic: "Key Point", Start: 45.0, End: 60.0, Duration: 15.0, Score: 0.88},
		{ID: 4, Topic: "Conclusion", Start: 60.0, End: 85.0, Duration: 25.0, Score: 0.85},
	}, nil
}

// CopyRenderer "renders" by copying the source bytes to the output path.
// It lets the full pipeline run where ffmpeg is not installed.
type CopyRenderer struct{}

// Render copies the input file to the output path.
func (CopyRenderer) Render(ctx context.Context, req RenderRequest) (RenderResult, error) {
	if err := ctx.Err(); err != nil {
		return RenderResult{}, err
	}

	in, err := os.Open(req.InputPath)
	if err != nil {
		return RenderResult{}, fmt.Errorf("failed to open input: %w", err)
	}
	defer in.Close()

	out, err := os.Create(req.OutputPath)
	if err != nil {
		return RenderResult{}, fmt.Errorf("failed to create output: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return RenderResult{}, fmt.Errorf("failed to copy media: %w", err)
	}

	return RenderResult{Duration: req.Clip.End - req.Clip.Start}, nil
}
