// Package watch auto-ingests video files dropped into a local directory,
// registering each as an asset with a pipeline job.
package watch

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/clipforge/clipforge/internal/ledger"
	"github.com/clipforge/clipforge/internal/storage"
	"github.com/clipforge/clipforge/internal/types"
)

var videoFormats = []string{".mp4", ".mov", ".avi", ".mkv", ".webm", ".m4v"}

// Watcher monitors an ingest directory for new video files.
type Watcher struct {
	dir      string
	store    *storage.AssetStore
	ledger   *ledger.Ledger
	fsw      *fsnotify.Watcher
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a watcher on dir, creating it if needed.
func New(dir string, store *storage.AssetStore, l *ledger.Ledger) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	return &Watcher{
		dir:      dir,
		store:    store,
		ledger:   l,
		fsw:      fsw,
		stopChan: make(chan struct{}),
	}, nil
}

// Start begins watching. Ingestion happens in the background.
func (w *Watcher) Start() {
	log.Printf("Ingest watcher started on %s", w.dir)
	w.wg.Add(1)
	go w.loop()
}

// Stop closes the watcher and waits for in-flight ingests.
func (w *Watcher) Stop() {
	close(w.stopChan)
	w.fsw.Close()
	w.wg.Wait()
	log.Println("Ingest watcher stopped")
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopChan:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create == 0 || !isVideoFile(event.Name) {
				continue
			}
			w.wg.Add(1)
			go func(path string) {
				defer w.wg.Done()
				w.ingest(path)
			}(event.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("Ingest watcher error: %v", err)
		}
	}
}

// ingest waits for the file to stop growing, stores it, registers a job and
// removes the original.
func (w *Watcher) ingest(path string) {
	if !w.waitForStableSize(path) {
		return
	}

	f, err := os.Open(path)
	if err != nil {
		log.Printf("Ingest failed to open %s: %v", path, err)
		return
	}
	defer f.Close()

	asset, err := w.store.Put(f, storage.PutOptions{
		OriginalName: filepath.Base(path),
		Kind:         types.AssetKindUpload,
	})
	if err != nil {
		log.Printf("Ingest failed to store %s: %v", path, err)
		return
	}

	job, err := w.ledger.Create(asset.ID)
	if err != nil {
		log.Printf("Ingest failed to create job for %s: %v", path, err)
		return
	}

	if err := os.Remove(path); err != nil {
		log.Printf("Ingest failed to remove %s: %v", path, err)
	}
	log.Printf("Ingested %s as asset %s, job %s", filepath.Base(path), asset.ID, job.ID)
}

// waitForStableSize polls until two consecutive size reads match, so a file
// still being copied in is not ingested half-written.
func (w *Watcher) waitForStableSize(path string) bool {
	var lastSize int64 = -1
	for i := 0; i < 60; i++ {
		select {
		case <-w.stopChan:
			return false
		case <-time.After(250 * time.Millisecond):
		}

		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		if info.Size() == lastSize && info.Size() > 0 {
			return true
		}
		lastSize = info.Size()
	}
	log.Printf("Ingest gave up waiting for %s to settle", path)
	return false
}

func isVideoFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range videoFormats {
		if ext == format {
			return true
		}
	}
	return false
}
