package pipeline

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/clipforge/clipforge/internal/types"
)

func sampleTranscript() *types.Transcript {
	return &types.Transcript{
		Text:     "irrelevant for the finder",
		Language: "en",
		Duration: 90,
		Segments: []types.Segment{
			{Start: 0, End: 6, Text: "welcome to the show everyone glad you are here"},
			{Start: 6, End: 12, Text: "today we cover a lot of ground quickly"},
			// 2s pause: topic boundary once past the minimum.
			{Start: 14, End: 25, Text: "first topic is the new release and what changed"},
			{Start: 25, End: 38, Text: "it ships with many fixes and a few new features worth a look"},
			{Start: 39.5, End: 55, Text: "second topic digs into performance numbers across the board"},
			{Start: 55, End: 68, Text: "the benchmarks show a clear and steady improvement"},
			{Start: 69.5, End: 90, Text: "that is all for today thanks for listening and see you next week"},
		},
	}
}

func TestFindClipsBoundsAndOrdering(t *testing.T) {
	finder := NewTopicClipFinder(10, 30, 10)
	clips, err := finder.FindClips(context.Background(), sampleTranscript())
	if err != nil {
		t.Fatalf("FindClips: %v", err)
	}
	if len(clips) == 0 {
		t.Fatal("expected clips")
	}

	var prevEnd float64
	for _, c := range clips {
		if c.End <= c.Start {
			t.Errorf("clip %d: end %.2f <= start %.2f", c.ID, c.End, c.Start)
		}
		if c.Duration != round2(c.End-c.Start) {
			t.Errorf("clip %d: duration %.2f inconsistent", c.ID, c.Duration)
		}
		if c.Score < 0 || c.Score > 1 {
			t.Errorf("clip %d: score %.2f out of [0,1]", c.ID, c.Score)
		}
		if c.Start < prevEnd {
			t.Errorf("clip %d overlaps previous (start %.2f < %.2f)", c.ID, c.Start, prevEnd)
		}
		if c.Topic == "" {
			t.Errorf("clip %d: empty topic", c.ID)
		}
		prevEnd = c.End
	}
}

func TestFindClipsDeterministic(t *testing.T) {
	finder := NewTopicClipFinder(10, 30, 10)
	a, err := finder.FindClips(context.Background(), sampleTranscript())
	if err != nil {
		t.Fatalf("FindClips: %v", err)
	}
	b, err := finder.FindClips(context.Background(), sampleTranscript())
	if err != nil {
		t.Fatalf("FindClips: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("same transcript produced different clips")
	}
}

func TestFindClipsRespectsMaxClips(t *testing.T) {
	finder := NewTopicClipFinder(10, 30, 2)
	clips, err := finder.FindClips(context.Background(), sampleTranscript())
	if err != nil {
		t.Fatalf("FindClips: %v", err)
	}
	if len(clips) > 2 {
		t.Errorf("got %d clips, max is 2", len(clips))
	}
}

func TestFindClipsEmptyTranscript(t *testing.T) {
	finder := NewTopicClipFinder(10, 30, 10)
	clips, err := finder.FindClips(context.Background(), &types.Transcript{})
	if err != nil {
		t.Fatalf("FindClips: %v", err)
	}
	if clips != nil {
		t.Errorf("expected no clips, got %d", len(clips))
	}
}

func TestTopicLabel(t *testing.T) {
	if got := topicLabel("the quick brown fox jumps over the lazy dog."); !strings.HasPrefix(got, "the quick brown") {
		t.Errorf("topicLabel = %q", got)
	}
	if got := topicLabel(""); got != "Untitled" {
		t.Errorf("topicLabel empty = %q", got)
	}
}

func TestStaticEnginesMatchDemoFixture(t *testing.T) {
	clips, err := StaticClipFinder{}.FindClips(context.Background(), nil)
	if err != nil {
		t.Fatalf("FindClips: %v", err)
	}
	if len(clips) != 4 {
		t.Fatalf("got %d demo clips, want 4", len(clips))
	}
	if clips[0].Topic != "Introduction" || clips[3].End != 85.0 {
		t.Errorf("unexpected demo clips: %#v", clips)
	}
}
