package pipeline

import (
	"context"
	"math"
	"strings"

	"github.com/clipforge/clipforge/internal/types"
)

// pauseGap is the silence between segments treated as a topic boundary.
const pauseGap = 1.0

// TopicClipFinder derives clips by grouping transcript segments into windows
// bounded by pause gaps and the configured duration range, scored by speech
// density. Deterministic: the same transcript always yields the same clips.
type TopicClipFinder struct {
	MinSeconds float64
	MaxSeconds float64
	MaxClips   int
}

// NewTopicClipFinder creates a clip finder with the given duration bounds.
func NewTopicClipFinder(minSeconds, maxSeconds float64, maxClips int) *TopicClipFinder {
	return &TopicClipFinder{
		MinSeconds: minSeconds,
		MaxSeconds: maxSeconds,
		MaxClips:   maxClips,
	}
}

// FindClips returns candidate clips ordered by start time.
func (f *TopicClipFinder) FindClips(ctx context.Context, transcript *types.Transcript) ([]types.Clip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if transcript == nil || len(transcript.Segments) == 0 {
		return nil, nil
	}

	windows := f.window(transcript.Segments)

	// Score by words per second, normalized against the densest window.
	var maxDensity float64
	densities := make([]float64, len(windows))
	for i, w := range windows {
		densities[i] = w.wordsPerSecond()
		if densities[i] > maxDensity {
			maxDensity = densities[i]
		}
	}

	clips := make([]types.Clip, 0, len(windows))
	for i, w := range windows {
		score := 1.0
		if maxDensity > 0 {
			score = densities[i] / maxDensity
		}
		clips = append(clips, types.Clip{
			ID:       i + 1,
			Topic:    topicLabel(w.text()),
			Start:    round2(w.start),
			End:      round2(w.end),
			Duration: round2(w.end - w.start),
			Score:    round2(score),
		})
		if f.MaxClips > 0 && len(clips) >= f.MaxClips {
			break
		}
	}
	return clips, nil
}

type window struct {
	start, end float64
	segments   []types.Segment
}

func (w *window) wordsPerSecond() float64 {
	dur := w.end - w.start
	if dur <= 0 {
		return 0
	}
	var words int
	for _, s := range w.segments {
		words += len(strings.Fields(s.Text))
	}
	return float64(words) / dur
}

func (w *window) text() string {
	parts := make([]string, len(w.segments))
	for i, s := range w.segments {
		parts[i] = s.Text
	}
	return strings.Join(parts, " ")
}

// window splits segments into clip-sized windows. A window closes when the
// next segment would push it past MaxSeconds, or when a pause gap follows a
// window already at MinSeconds.
func (f *TopicClipFinder) window(segments []types.Segment) []window {
	var windows []window
	current := window{start: segments[0].Start, end: segments[0].End,
		segments: []types.Segment{segments[0]}}

	for _, seg := range segments[1:] {
		length := current.end - current.start
		gap := seg.Start - current.end

		closes := seg.End-current.start > f.MaxSeconds ||
			(gap >= pauseGap && length >= f.MinSeconds)
		if closes {
			windows = append(windows, current)
			current = window{start: seg.Start}
		}
		current.end = seg.End
		current.segments = append(current.segments, seg)
	}
	windows = append(windows, current)

	// Merge a trailing stub into its predecessor rather than emitting a
	// clip shorter than the minimum.
	if n := len(windows); n > 1 && windows[n-1].end-windows[n-1].start < f.MinSeconds {
		windows[n-2].end = windows[n-1].end
		windows[n-2].segments = append(windows[n-2].segments, windows[n-1].segments...)
		windows = windows[:n-1]
	}
	return windows
}

// topicLabel derives a short label from a window's opening words.
func topicLabel(text string) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return "Untitled"
	}
	if len(words) > 6 {
		words = words[:6]
	}
	label := strings.Join(words, " ")
	label = strings.TrimRight(label, ".,;:!?")
	if len(label) > 48 {
		label = label[:48]
	}
	return label
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
