// Package cleanup enforces the asset retention policy: assets and their jobs
// are deleted by age, never by the pipeline itself.
package cleanup

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/clipforge/clipforge/internal/ledger"
	"github.com/clipforge/clipforge/internal/storage"
)

// Scheduler periodically deletes expired assets and sweeps stale staging files.
type Scheduler struct {
	store           *storage.AssetStore
	ledger          *ledger.Ledger
	intervalMinutes int
	maxAgeHours     int
	stopChan        chan struct{}
}

// NewScheduler creates a retention scheduler.
func NewScheduler(store *storage.AssetStore, l *ledger.Ledger, intervalMinutes, maxAgeHours int) *Scheduler {
	return &Scheduler{
		store:           store,
		ledger:          l,
		intervalMinutes: intervalMinutes,
		maxAgeHours:     maxAgeHours,
		stopChan:        make(chan struct{}),
	}
}

// Start begins the retention loop, running one pass immediately.
func (s *Scheduler) Start() {
	log.Println("Running initial retention pass...")
	s.sweep()

	ticker := time.NewTicker(time.Duration(s.intervalMinutes) * time.Minute)

	go func() {
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stopChan:
				ticker.Stop()
				return
			}
		}
	}()

	log.Printf("Retention scheduler started (interval: %dm, max age: %dh)",
		s.intervalMinutes, s.maxAgeHours)
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	log.Println("Retention scheduler stopped")
}

// sweep deletes expired assets with their jobs, then clears stale staging files.
func (s *Scheduler) sweep() {
	cutoff := time.Now().Add(-time.Duration(s.maxAgeHours) * time.Hour)

	expired, err := s.store.ListOlderThan(cutoff)
	if err != nil {
		log.Printf("Retention pass failed to list assets: %v", err)
		return
	}

	var deletedCount int
	var deletedSize int64
	for _, asset := range expired {
		if err := s.ledger.DeleteByAsset(asset.ID); err != nil {
			log.Printf("Failed to delete job for asset %s: %v", asset.ID, err)
			continue
		}
		if err := s.store.Delete(asset.ID); err != nil {
			log.Printf("Failed to delete asset %s: %v", asset.ID, err)
			continue
		}
		deletedCount++
		deletedSize += asset.SizeBytes
	}

	s.sweepStaging(cutoff)

	if deletedCount > 0 {
		log.Printf("Retention pass complete: %d assets deleted, %.2fMB freed",
			deletedCount, float64(deletedSize)/(1024*1024))
	}
}

// sweepStaging removes in-flight write leftovers older than the cutoff.
func (s *Scheduler) sweepStaging(cutoff time.Time) {
	entries, err := os.ReadDir(s.store.StagingDir())
	if err != nil {
		log.Printf("Failed to read staging dir: %v", err)
		return
	}

	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || info.IsDir() {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(s.store.StagingDir(), entry.Name())
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				log.Printf("Failed to delete stale staging file %s: %v", entry.Name(), err)
			}
		}
	}
}
