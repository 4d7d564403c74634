package types

import (
	"encoding/json"
	"time"
)

// Stage is a pipeline job's lifecycle state.
type Stage string

// Job stage constants. Transitions are monotonic except Failed, which is
// reachable from any non-terminal stage and is terminal for automatic
// transitions.
const (
	StageCreated      Stage = "created"
	StageTranscribing Stage = "transcribing"
	StageTranscribed  Stage = "transcribed"
	StageFindingClips Stage = "finding_clips"
	StageClipsFound   Stage = "clips_found"
	StageProcessing   Stage = "processing"
	StageProcessed    Stage = "processed"
	StageFailed       Stage = "failed"
)

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageCreated, StageTranscribing, StageTranscribed, StageFindingClips,
		StageClipsFound, StageProcessing, StageProcessed, StageFailed:
		return true
	}
	return false
}

// InProgress reports whether s is an executing stage.
func (s Stage) InProgress() bool {
	switch s {
	case StageTranscribing, StageFindingClips, StageProcessing:
		return true
	}
	return false
}

// Terminal reports whether no further automatic transition leaves s.
func (s Stage) Terminal() bool {
	return s == StageProcessed || s == StageFailed
}

// Asset kind constants.
const (
	AssetKindUpload = "upload"
	AssetKindOutput = "output"
)

// Asset is an uploaded or rendered binary file, immutable once stored.
type Asset struct {
	ID           string    `json:"id"`
	StoredName   string    `json:"filename"`
	OriginalName string    `json:"original_name"`
	SizeBytes    int64     `json:"size"`
	ContentType  string    `json:"content_type"`
	StoragePath  string    `json:"-"`
	Kind         string    `json:"kind"`
	CreatedAt    time.Time `json:"created_at"`
}

// Job is one pipeline run over one asset.
type Job struct {
	ID              string                     `json:"id"`
	AssetID         string                     `json:"asset_id"`
	Stage           Stage                      `json:"stage"`
	Results         map[string]json.RawMessage `json:"results,omitempty"`
	Error           string                     `json:"error,omitempty"`
	CancelRequested bool                       `json:"cancel_requested,omitempty"`
	CreatedAt       time.Time                  `json:"created_at"`
	UpdatedAt       time.Time                  `json:"updated_at"`
}

// Clip is a candidate segment of the source video.
type Clip struct {
	ID       int     `json:"id"`
	Topic    string  `json:"topic"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
	Score    float64 `json:"score"`
}

// Segment is a timestamped piece of a transcript.
type Segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Transcript is the output of the transcription backend.
type Transcript struct {
	Text       string    `json:"text"`
	Language   string    `json:"language"`
	Duration   float64   `json:"duration"`
	Segments   []Segment `json:"segments"`
	WordCount  int       `json:"word_count"`
	Confidence float64   `json:"confidence"`
}

// Render operation constants.
const (
	OperationTrim          = "trim"
	OperationTrimAndResize = "trim_and_resize"
)

// TranscribeResult is the stored payload of a completed transcribe stage.
// Segments are kept so the find-clips stage can work from the stored result.
type TranscribeResult struct {
	Transcript string    `json:"transcript"`
	Language   string    `json:"language"`
	Duration   float64   `json:"duration"`
	WordCount  int       `json:"word_count"`
	Confidence float64   `json:"confidence"`
	Segments   []Segment `json:"segments,omitempty"`
}

// FindClipsResult is the stored payload of a completed find-clips stage.
type FindClipsResult struct {
	Clips      []Clip `json:"clips"`
	TotalClips int    `json:"total_clips"`
}

// ProcessResult is the stored payload of a completed process stage.
type ProcessResult struct {
	Operation  string  `json:"operation"`
	ClipID     int     `json:"clip_id"`
	Duration   float64 `json:"duration"`
	OutputFile string  `json:"output_file"`
	Size       int64   `json:"size"`
	URL        string  `json:"url"`
	DriveURL   string  `json:"gdrive_url,omitempty"`
}

// Result keys into Job.Results, one per completed stage.
const (
	ResultTranscribe = "transcribe"
	ResultFindClips  = "find_clips"
	ResultProcess    = "process"
)

// JobEvent is published whenever a job changes stage.
type JobEvent struct {
	JobID string    `json:"job_id"`
	Stage Stage     `json:"stage"`
	Error string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}
