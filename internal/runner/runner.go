// Package runner executes pipeline stages against jobs. Stage starts are
// serialized through the ledger's compare-and-swap transitions: of two
// concurrent attempts to start the same stage exactly one proceeds, the other
// observes ErrWrongStage without doing any work.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/clipforge/clipforge/internal/ledger"
	"github.com/clipforge/clipforge/internal/pipeline"
	"github.com/clipforge/clipforge/internal/storage"
	"github.com/clipforge/clipforge/internal/types"
)

var (
	// ErrWrongStage is returned when a stage start loses the CAS race or
	// the job is not at the stage's precondition. Callers polling a job
	// treat this as informational, not fatal.
	ErrWrongStage = errors.New("job not in required stage")
	// ErrUnknownClip is returned when process names a clip id that is not
	// in the job's latest find-clips result.
	ErrUnknownClip = errors.New("clip not found in latest clip list")
	// ErrNotFailed is returned when retry is requested for a job that has
	// not failed.
	ErrNotFailed = errors.New("job has not failed")
)

// Timeouts bounds each stage's execution.
type Timeouts struct {
	Transcribe time.Duration
	FindClips  time.Duration
	Process    time.Duration
}

// ProcessParams selects what the process stage renders.
type ProcessParams struct {
	Operation string
	ClipID    int
}

// Exporter mirrors storage.DriveExporter for best-effort clip export.
type Exporter interface {
	ExportClip(jobID string, output types.Asset, result types.ProcessResult) (string, error)
}

// Runner coordinates stage execution for pipeline jobs.
type Runner struct {
	ledger      *ledger.Ledger
	store       *storage.AssetStore
	transcriber pipeline.Transcriber
	clipFinder  pipeline.ClipFinder
	renderer    pipeline.Renderer
	exporter    Exporter // nil disables Drive export
	timeouts    Timeouts
	renderW     int
	renderH     int

	mu      sync.Mutex
	active  map[string]context.CancelFunc
	subs    []chan types.JobEvent
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a stage runner.
func New(
	l *ledger.Ledger,
	store *storage.AssetStore,
	transcriber pipeline.Transcriber,
	clipFinder pipeline.ClipFinder,
	renderer pipeline.Renderer,
	exporter Exporter,
	timeouts Timeouts,
	renderW, renderH int,
) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		ledger:      l,
		store:       store,
		transcriber: transcriber,
		clipFinder:  clipFinder,
		renderer:    renderer,
		exporter:    exporter,
		timeouts:    timeouts,
		renderW:     renderW,
		renderH:     renderH,
		active:      map[string]context.CancelFunc{},
		baseCtx:     ctx,
		cancel:      cancel,
	}
}

// Shutdown cancels all in-flight stages and waits for them to record failure.
func (r *Runner) Shutdown() {
	r.cancel()
	r.wg.Wait()
}

// Subscribe returns a channel of job events. Slow subscribers drop events
// rather than blocking stage completion.
func (r *Runner) Subscribe() <-chan types.JobEvent {
	ch := make(chan types.JobEvent, 16)
	r.mu.Lock()
	r.subs = append(r.subs, ch)
	r.mu.Unlock()
	return ch
}

// Unsubscribe removes a channel returned by Subscribe.
func (r *Runner) Unsubscribe(ch <-chan types.JobEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, sub := range r.subs {
		if sub == ch {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			close(sub)
			return
		}
	}
}

func (r *Runner) publish(ev types.JobEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		select {
		case sub <- ev:
		default:
		}
	}
}

// StartTranscribe moves a created job to transcribing and runs the
// transcription backend asynchronously.
func (r *Runner) StartTranscribe(jobID string) (types.Job, error) {
	job, err := r.begin(jobID, types.StageCreated, types.StageTranscribing)
	if err != nil {
		return types.Job{}, err
	}

	r.launch(job, types.StageTranscribing, r.timeouts.Transcribe, func(ctx context.Context) (string, any, error) {
		asset, err := r.openAsset(job.AssetID)
		if err != nil {
			return "", nil, err
		}

		transcript, err := r.transcriber.Transcribe(ctx, asset.StoragePath)
		if err != nil {
			return "", nil, err
		}

		return types.ResultTranscribe, types.TranscribeResult{
			Transcript: transcript.Text,
			Language:   transcript.Language,
			Duration:   transcript.Duration,
			WordCount:  transcript.WordCount,
			Confidence: transcript.Confidence,
			Segments:   transcript.Segments,
		}, nil
	}, types.StageTranscribed)

	return job, nil
}

// StartFindClips moves a transcribed job to finding_clips and runs the clip
// finder asynchronously.
func (r *Runner) StartFindClips(jobID string) (types.Job, error) {
	job, err := r.begin(jobID, types.StageTranscribed, types.StageFindingClips)
	if err != nil {
		return types.Job{}, err
	}

	r.launch(job, types.StageFindingClips, r.timeouts.FindClips, func(ctx context.Context) (string, any, error) {
		transcript, err := storedTranscript(job)
		if err != nil {
			return "", nil, err
		}

		clips, err := r.clipFinder.FindClips(ctx, transcript)
		if err != nil {
			return "", nil, err
		}

		return types.ResultFindClips, types.FindClipsResult{
			Clips:      clips,
			TotalClips: len(clips),
		}, nil
	}, types.StageClipsFound)

	return job, nil
}

// StartProcess moves a clips_found job to processing and renders the selected
// clip asynchronously. The clip id must exist in the latest find-clips result.
func (r *Runner) StartProcess(jobID string, params ProcessParams) (types.Job, error) {
	if params.Operation != types.OperationTrim && params.Operation != types.OperationTrimAndResize {
		return types.Job{}, fmt.Errorf("unknown operation %q", params.Operation)
	}

	current, err := r.ledger.Get(jobID)
	if err != nil {
		return types.Job{}, err
	}
	clip, err := findClip(current, params.ClipID)
	if err != nil {
		return types.Job{}, err
	}

	job, err := r.begin(jobID, types.StageClipsFound, types.StageProcessing)
	if err != nil {
		return types.Job{}, err
	}

	r.launch(job, types.StageProcessing, r.timeouts.Process, func(ctx context.Context) (string, any, error) {
		asset, err := r.openAsset(job.AssetID)
		if err != nil {
			return "", nil, err
		}

		outPath := filepath.Join(r.store.StagingDir(),
			fmt.Sprintf("render-%s-%d%s", job.ID, clip.ID, filepath.Ext(asset.StoredName)))
		defer os.Remove(outPath)

		rendered, err := r.renderer.Render(ctx, pipeline.RenderRequest{
			InputPath:  asset.StoragePath,
			OutputPath: outPath,
			Clip:       clip,
			Operation:  params.Operation,
			Width:      r.renderW,
			Height:     r.renderH,
		})
		if err != nil {
			return "", nil, err
		}

		out, err := os.Open(outPath)
		if err != nil {
			return "", nil, fmt.Errorf("failed to open rendered clip: %w", err)
		}
		defer out.Close()

		outAsset, err := r.store.Put(out, storage.PutOptions{
			OriginalName: fmt.Sprintf("clip_%d_%s", clip.ID, asset.OriginalName),
			ContentType:  asset.ContentType,
			Kind:         types.AssetKindOutput,
		})
		if err != nil {
			return "", nil, fmt.Errorf("failed to store rendered clip: %w", err)
		}

		result := types.ProcessResult{
			Operation:  params.Operation,
			ClipID:     clip.ID,
			Duration:   rendered.Duration,
			OutputFile: outAsset.StoredName,
			Size:       outAsset.SizeBytes,
			URL:        r.store.URLFor(outAsset),
		}

		if r.exporter != nil {
			result.DriveURL = r.exportWithRetry(job.ID, outAsset, result)
		}

		return types.ResultProcess, result, nil
	}, types.StageProcessed)

	return job, nil
}

// Cancel requests cooperative cancellation of a job's in-flight stage.
func (r *Runner) Cancel(jobID string) error {
	if err := r.ledger.RequestCancel(jobID); err != nil {
		return err
	}

	r.mu.Lock()
	cancel, ok := r.active[jobID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// Retry moves a failed job back to the precondition of its furthest
// incomplete stage so the client can re-invoke it.
func (r *Runner) Retry(jobID string) (types.Job, error) {
	job, err := r.ledger.Get(jobID)
	if err != nil {
		return types.Job{}, err
	}
	if job.Stage != types.StageFailed {
		return types.Job{}, ErrNotFailed
	}

	target := types.StageCreated
	if _, ok := job.Results[types.ResultFindClips]; ok {
		target = types.StageClipsFound
	} else if _, ok := job.Results[types.ResultTranscribe]; ok {
		target = types.StageTranscribed
	}

	retried, err := r.ledger.Transition(jobID, types.StageFailed, target, "", nil, "")
	if err != nil {
		return types.Job{}, err
	}
	r.publish(types.JobEvent{JobID: jobID, Stage: retried.Stage, At: time.Now().UTC()})
	return retried, nil
}

// begin applies the precondition CAS for a stage start.
func (r *Runner) begin(jobID string, precondition, inProgress types.Stage) (types.Job, error) {
	job, err := r.ledger.Transition(jobID, precondition, inProgress, "", nil, "")
	if err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			return types.Job{}, fmt.Errorf("%w: %v", ErrWrongStage, err)
		}
		return types.Job{}, err
	}
	r.publish(types.JobEvent{JobID: jobID, Stage: inProgress, At: time.Now().UTC()})
	return job, nil
}

// launch runs a stage body asynchronously under its timeout, then records
// either the done transition or the failure.
func (r *Runner) launch(job types.Job, inProgress types.Stage, timeout time.Duration, body func(context.Context) (string, any, error), done types.Stage) {
	ctx, cancel := context.WithTimeout(r.baseCtx, timeout)

	r.mu.Lock()
	r.active[job.ID] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.active, job.ID)
			r.mu.Unlock()
		}()

		resultKey, payload, err := body(ctx)
		if err != nil {
			r.fail(ctx, job.ID, inProgress, err)
			return
		}

		moved, err := r.ledger.Transition(job.ID, inProgress, done, resultKey, payload, "")
		if err != nil {
			// Lost to a concurrent failure record (e.g. cancel); log only.
			log.Printf("Job %s: completion transition lost: %v", job.ID, err)
			return
		}
		log.Printf("Job %s: %s complete", job.ID, done)
		r.publish(types.JobEvent{JobID: job.ID, Stage: moved.Stage, At: time.Now().UTC()})
	}()
}

// fail records a stage failure, translating context errors into the
// documented reasons.
func (r *Runner) fail(ctx context.Context, jobID string, inProgress types.Stage, cause error) {
	reason := cause.Error()
	switch {
	case errors.Is(cause, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		reason = "cancelled"
	case errors.Is(cause, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		reason = fmt.Sprintf("%s timed out", inProgress)
	}

	failed, err := r.ledger.Transition(jobID, inProgress, types.StageFailed, "", nil, reason)
	if err != nil {
		log.Printf("Job %s: failed to record failure (%s): %v", jobID, reason, err)
		return
	}
	log.Printf("Job %s: %s failed: %s", jobID, inProgress, reason)
	r.publish(types.JobEvent{JobID: jobID, Stage: failed.Stage, Error: reason, At: time.Now().UTC()})
}

func (r *Runner) openAsset(assetID string) (types.Asset, error) {
	asset, err := r.store.Get(assetID)
	if err != nil {
		return types.Asset{}, fmt.Errorf("source asset unavailable: %w", err)
	}
	return asset, nil
}

// storedTranscript rebuilds the transcript from the job's transcribe result.
func storedTranscript(job types.Job) (*types.Transcript, error) {
	raw, ok := job.Results[types.ResultTranscribe]
	if !ok {
		return nil, fmt.Errorf("transcript unavailable for job %s", job.ID)
	}
	var stored types.TranscribeResult
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode transcript: %w", err)
	}
	return &types.Transcript{
		Text:       stored.Transcript,
		Language:   stored.Language,
		Duration:   stored.Duration,
		Segments:   stored.Segments,
		WordCount:  stored.WordCount,
		Confidence: stored.Confidence,
	}, nil
}

// exportWithRetry uploads the rendered clip to Drive with backoff.
// Export failure never fails the job.
func (r *Runner) exportWithRetry(jobID string, output types.Asset, result types.ProcessResult) string {
	var (
		url string
		err error
	)
	for attempt := 1; attempt <= 3; attempt++ {
		url, err = r.exporter.ExportClip(jobID, output, result)
		if err == nil {
			return url
		}
		log.Printf("Job %s: Drive export attempt %d/3 failed: %v", jobID, attempt, err)
		if attempt < 3 {
			time.Sleep(time.Duration(attempt*attempt) * time.Second)
		}
	}
	log.Printf("Job %s: Drive export failed after 3 attempts, keeping local output only", jobID)
	return ""
}

// findClip resolves a clip id against the job's latest find-clips result.
func findClip(job types.Job, clipID int) (types.Clip, error) {
	raw, ok := job.Results[types.ResultFindClips]
	if !ok {
		return types.Clip{}, ErrUnknownClip
	}
	var found types.FindClipsResult
	if err := json.Unmarshal(raw, &found); err != nil {
		return types.Clip{}, fmt.Errorf("failed to decode clip list: %w", err)
	}
	for _, clip := range found.Clips {
		if clip.ID == clipID {
			return clip, nil
		}
	}
	return types.Clip{}, ErrUnknownClip
}
