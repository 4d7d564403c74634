package ledger

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/clipforge/clipforge/internal/storage"
	"github.com/clipforge/clipforge/internal/types"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestCreateAndGet(t *testing.T) {
	l := newTestLedger(t)

	job, err := l.Create("asset-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if job.Stage != types.StageCreated {
		t.Errorf("stage = %s, want created", job.Stage)
	}

	got, err := l.Get(job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AssetID != "asset-1" {
		t.Errorf("asset id = %q", got.AssetID)
	}

	byAsset, err := l.ByAsset("asset-1")
	if err != nil {
		t.Fatalf("ByAsset: %v", err)
	}
	if byAsset.ID != job.ID {
		t.Errorf("ByAsset returned %s, want %s", byAsset.ID, job.ID)
	}
}

func TestCreateEnforcesOneJobPerAsset(t *testing.T) {
	l := newTestLedger(t)

	if _, err := l.Create("asset-1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := l.Create("asset-1"); !errors.Is(err, ErrConflict) {
		t.Fatalf("second create err = %v, want ErrConflict", err)
	}
}

func TestGetUnknownJob(t *testing.T) {
	l := newTestLedger(t)
	if _, err := l.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTransitionCAS(t *testing.T) {
	l := newTestLedger(t)
	job, err := l.Create("asset-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	moved, err := l.Transition(job.ID, types.StageCreated, types.StageTranscribing, "", nil, "")
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if moved.Stage != types.StageTranscribing {
		t.Errorf("stage = %s", moved.Stage)
	}

	// Wrong expected stage loses.
	if _, err := l.Transition(job.ID, types.StageCreated, types.StageTranscribing, "", nil, ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale transition err = %v, want ErrConflict", err)
	}
}

func TestTransitionStoresResult(t *testing.T) {
	l := newTestLedger(t)
	job, _ := l.Create("asset-1")

	if _, err := l.Transition(job.ID, types.StageCreated, types.StageTranscribing, "", nil, ""); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	result := types.TranscribeResult{Transcript: "hello world", Language: "en", WordCount: 2}
	if _, err := l.Transition(job.ID, types.StageTranscribing, types.StageTranscribed, types.ResultTranscribe, result, ""); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	got, err := l.Get(job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, ok := got.Results[types.ResultTranscribe]; !ok {
		t.Fatal("transcribe result not stored")
	}
}

func TestConcurrentTransitionsExactlyOneWins(t *testing.T) {
	l := newTestLedger(t)
	job, _ := l.Create("asset-1")

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Transition(job.ID, types.StageCreated, types.StageTranscribing, "", nil, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
	if conflicts != attempts-1 {
		t.Errorf("conflicts = %d, want %d", conflicts, attempts-1)
	}
}

func TestFailedIsTerminalForErrorDetail(t *testing.T) {
	l := newTestLedger(t)
	job, _ := l.Create("asset-1")

	l.Transition(job.ID, types.StageCreated, types.StageTranscribing, "", nil, "")
	failed, err := l.Transition(job.ID, types.StageTranscribing, types.StageFailed, "", nil, "backend exploded")
	if err != nil {
		t.Fatalf("Transition to failed: %v", err)
	}
	if failed.Error != "backend exploded" {
		t.Errorf("error detail = %q", failed.Error)
	}

	// Error detail is cleared when leaving failed via explicit retry.
	retried, err := l.Transition(job.ID, types.StageFailed, types.StageCreated, "", nil, "")
	if err != nil {
		t.Fatalf("retry transition: %v", err)
	}
	if retried.Error != "" {
		t.Errorf("error detail should clear on retry, got %q", retried.Error)
	}
}

func TestRequestCancel(t *testing.T) {
	l := newTestLedger(t)
	job, _ := l.Create("asset-1")

	if err := l.RequestCancel(job.ID); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	got, _ := l.Get(job.ID)
	if !got.CancelRequested {
		t.Error("cancel flag not set")
	}

	if err := l.RequestCancel("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cancel unknown job err = %v, want ErrNotFound", err)
	}
}
