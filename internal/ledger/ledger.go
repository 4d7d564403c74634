// Package ledger is the single source of mutable pipeline state. Every stage
// change goes through a compare-and-swap transition so at most one stage
// executes per job at a time.
package ledger

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clipforge/clipforge/internal/types"
)

var (
	// ErrNotFound is returned when a job does not exist.
	ErrNotFound = errors.New("job not found")
	// ErrConflict is returned when a CAS transition loses, or when a second
	// job is created for the same asset.
	ErrConflict = errors.New("stage conflict")
)

// Ledger records pipeline jobs in SQLite.
type Ledger struct {
	db *sql.DB
}

// New creates a ledger over an open database.
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Create registers a new job for an asset in the created stage.
// One job per asset: a second create for the same asset returns ErrConflict.
func (l *Ledger) Create(assetID string) (types.Job, error) {
	job := types.Job{
		ID:        uuid.New().String(),
		AssetID:   assetID,
		Stage:     types.StageCreated,
		Results:   map[string]json.RawMessage{},
		CreatedAt: time.Now().UTC(),
	}
	job.UpdatedAt = job.CreatedAt

	_, err := l.db.Exec(
		`INSERT INTO jobs (id, asset_id, stage, results, error, cancel_requested, created_at, updated_at)
		 VALUES (?, ?, ?, '{}', '', 0, ?, ?)`,
		job.ID, job.AssetID, string(job.Stage), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.Job{}, fmt.Errorf("asset %s already has a job: %w", assetID, ErrConflict)
		}
		return types.Job{}, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

// Get returns a consistent snapshot of a job.
func (l *Ledger) Get(jobID string) (types.Job, error) {
	return scanJob(l.db.QueryRow(
		`SELECT id, asset_id, stage, results, error, cancel_requested, created_at, updated_at
		 FROM jobs WHERE id = ?`, jobID))
}

// ByAsset returns the job owning the given asset, if any.
func (l *Ledger) ByAsset(assetID string) (types.Job, error) {
	return scanJob(l.db.QueryRow(
		`SELECT id, asset_id, stage, results, error, cancel_requested, created_at, updated_at
		 FROM jobs WHERE asset_id = ?`, assetID))
}

// Transition applies a compare-and-swap stage change. It fails with
// ErrConflict unless the job's current stage equals expected at the time of
// application. A non-nil result is stored under resultKey; errDetail is
// recorded only when next is the failed stage.
func (l *Ledger) Transition(jobID string, expected, next types.Stage, resultKey string, result any, errDetail string) (types.Job, error) {
	if !next.Valid() {
		return types.Job{}, fmt.Errorf("invalid stage %q", next)
	}

	tx, err := l.db.Begin()
	if err != nil {
		return types.Job{}, fmt.Errorf("failed to begin transition: %w", err)
	}
	defer tx.Rollback()

	current, err := scanJob(tx.QueryRow(
		`SELECT id, asset_id, stage, results, error, cancel_requested, created_at, updated_at
		 FROM jobs WHERE id = ?`, jobID))
	if err != nil {
		return types.Job{}, err
	}
	if current.Stage != expected {
		return types.Job{}, fmt.Errorf("job %s is %s, expected %s: %w",
			jobID, current.Stage, expected, ErrConflict)
	}

	if result != nil {
		payload, err := json.Marshal(result)
		if err != nil {
			return types.Job{}, fmt.Errorf("failed to encode stage result: %w", err)
		}
		current.Results[resultKey] = payload
	}
	resultsJSON, err := json.Marshal(current.Results)
	if err != nil {
		return types.Job{}, fmt.Errorf("failed to encode results: %w", err)
	}

	if next != types.StageFailed {
		errDetail = ""
	}
	// Leaving failed is an explicit retry; the old cancel request dies with it.
	cancelFlag := current.CancelRequested
	if expected == types.StageFailed {
		cancelFlag = false
	}
	now := time.Now().UTC()

	res, err := tx.Exec(
		`UPDATE jobs SET stage = ?, results = ?, error = ?, cancel_requested = ?, updated_at = ?
		 WHERE id = ? AND stage = ?`,
		string(next), string(resultsJSON), errDetail, boolToInt(cancelFlag), now, jobID, string(expected),
	)
	if err != nil {
		return types.Job{}, fmt.Errorf("failed to apply transition: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return types.Job{}, fmt.Errorf("failed to check transition: %w", err)
	}
	if affected == 0 {
		return types.Job{}, fmt.Errorf("job %s moved during transition: %w", jobID, ErrConflict)
	}

	if err := tx.Commit(); err != nil {
		return types.Job{}, fmt.Errorf("failed to commit transition: %w", err)
	}

	current.Stage = next
	current.Error = errDetail
	current.CancelRequested = cancelFlag
	current.UpdatedAt = now
	return current, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// RequestCancel flags an in-progress job for cooperative cancellation.
// The flag is advisory; the stage runner observes it and fails the job.
func (l *Ledger) RequestCancel(jobID string) error {
	res, err := l.db.Exec(`UPDATE jobs SET cancel_requested = 1 WHERE id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("failed to request cancel: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check cancel: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByAsset removes the job owning an asset, for retention cleanup.
func (l *Ledger) DeleteByAsset(assetID string) error {
	if _, err := l.db.Exec(`DELETE FROM jobs WHERE asset_id = ?`, assetID); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func scanJob(row *sql.Row) (types.Job, error) {
	var (
		job         types.Job
		stage       string
		resultsJSON string
		cancelFlag  int
	)
	err := row.Scan(&job.ID, &job.AssetID, &stage, &resultsJSON, &job.Error,
		&cancelFlag, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Job{}, ErrNotFound
	}
	if err != nil {
		return types.Job{}, fmt.Errorf("failed to get job: %w", err)
	}

	job.Stage = types.Stage(stage)
	job.CancelRequested = cancelFlag != 0
	job.Results = map[string]json.RawMessage{}
	if resultsJSON != "" {
		if err := json.Unmarshal([]byte(resultsJSON), &job.Results); err != nil {
			return types.Job{}, fmt.Errorf("failed to decode results: %w", err)
		}
	}
	return job, nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports constraint failures in the error text;
	// it does not export a typed error for them.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
