package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/clipforge/clipforge/internal/types"
)

// WhisperTranscriber runs Python's OpenAI Whisper as a subprocess.
type WhisperTranscriber struct {
	modelName  string
	threads    int
	stagingDir string
	mu         sync.Mutex // one whisper process at a time
}

// NewWhisperTranscriber creates a transcriber for the given model name
// (tiny, base, small, medium, large). Whisper availability is verified on
// first transcription, not at startup.
func NewWhisperTranscriber(model string, threads int, stagingDir string) *WhisperTranscriber {
	switch model {
	case "tiny", "base", "small", "medium", "large":
	default:
		log.Printf("Unknown whisper model %q, falling back to small", model)
		model = "small"
	}
	return &WhisperTranscriber{
		modelName:  model,
		threads:    threads,
		stagingDir: stagingDir,
	}
}

// Transcribe processes a media file and returns the transcript.
func (wt *WhisperTranscriber) Transcribe(ctx context.Context, mediaPath string) (*types.Transcript, error) {
	wt.mu.Lock()
	defer wt.mu.Unlock()

	outDir, err := os.MkdirTemp(wt.stagingDir, "whisper-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create whisper output dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	absPath, err := filepath.Abs(mediaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve media path: %w", err)
	}

	cmd := exec.CommandContext(ctx, "python", "-m", "whisper",
		absPath,
		"--model", wt.modelName,
		"--threads", strconv.Itoa(wt.threads),
		"--output_dir", outDir,
		"--output_format", "json",
		"--fp16", "False",
	)

	output, err := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("whisper failed: %w\noutput: %s", err, output)
	}

	baseName := strings.TrimSuffix(filepath.Base(mediaPath), filepath.Ext(mediaPath))
	jsonData, err := os.ReadFile(filepath.Join(outDir, baseName+".json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read whisper output: %w", err)
	}

	var raw whisperOutput
	if err := json.Unmarshal(jsonData, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse whisper JSON: %w", err)
	}

	return raw.toTranscript(), nil
}

// whisperOutput matches Python Whisper's JSON output format.
type whisperOutput struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		ID         int     `json:"id"`
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Text       string  `json:"text"`
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

func (w *whisperOutput) toTranscript() *types.Transcript {
	segments := make([]types.Segment, len(w.Segments))
	var confSum float64
	for i, seg := range w.Segments {
		conf := math.Exp(seg.AvgLogprob)
		if conf > 1 {
			conf = 1
		}
		segments[i] = types.Segment{
			Start:      seg.Start,
			End:        seg.End,
			Text:       strings.TrimSpace(seg.Text),
			Confidence: conf,
		}
		confSum += conf
	}

	var duration, confidence float64
	if len(segments) > 0 {
		duration = segments[len(segments)-1].End
		confidence = confSum / float64(len(segments))
	}

	text := strings.TrimSpace(w.Text)
	return &types.Transcript{
		Text:       text,
		Language:   w.Language,
		Duration:   duration,
		Segments:   segments,
		WordCount:  len(strings.Fields(text)),
		Confidence: confidence,
	}
}
