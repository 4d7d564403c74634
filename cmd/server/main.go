package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/gofrs/flock"

	"github.com/clipforge/clipforge/internal/cleanup"
	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/handlers"
	"github.com/clipforge/clipforge/internal/ledger"
	"github.com/clipforge/clipforge/internal/pipeline"
	"github.com/clipforge/clipforge/internal/runner"
	"github.com/clipforge/clipforge/internal/storage"
	"github.com/clipforge/clipforge/internal/token"
	"github.com/clipforge/clipforge/internal/watch"
)

func main() {
	startedAt := time.Now()

	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	// One server instance per data directory.
	lock := flock.New(filepath.Join(cfg.Storage.DataDir, "clipforge.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		log.Fatalf("Failed to acquire data directory lock: %v", err)
	}
	if !locked {
		log.Fatalf("Another instance is already using %s", cfg.Storage.DataDir)
	}
	defer lock.Unlock()

	// Custom logger setup
	logBuffer := &LogBuffer{
		lines: make([]string, 0, 1000),
	}
	multiWriter := io.MultiWriter(os.Stdout, logBuffer)
	log.SetOutput(multiWriter)

	log.Println("Initializing components...")

	db, err := storage.OpenDB(cfg.Storage.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	store, err := storage.NewAssetStore(filepath.Join(cfg.Storage.DataDir, "uploads"), db, cfg.MaxUploadBytes())
	if err != nil {
		log.Fatalf("Failed to initialize asset store: %v", err)
	}

	jobLedger := ledger.New(db)

	// Pipeline backends
	var (
		transcriber pipeline.Transcriber
		clipFinder  pipeline.ClipFinder
		renderer    pipeline.Renderer
	)
	switch cfg.Pipeline.Engine {
	case "demo":
		log.Println("Demo pipeline engine selected - deterministic output, no external binaries")
		transcriber = pipeline.StaticTranscriber{}
		clipFinder = pipeline.StaticClipFinder{}
		renderer = pipeline.CopyRenderer{}
	default:
		transcriber = pipeline.NewWhisperTranscriber(
			cfg.Pipeline.Whisper.Model,
			cfg.Pipeline.Whisper.Threads,
			store.StagingDir(),
		)
		clipFinder = pipeline.NewTopicClipFinder(
			cfg.Pipeline.Clips.MinSeconds,
			cfg.Pipeline.Clips.MaxSeconds,
			cfg.Pipeline.Clips.MaxClips,
		)
		renderer = pipeline.NewFFmpegRenderer()
	}

	// Google Drive export (optional - may fail if credentials not set up)
	var exporter runner.Exporter
	if _, err := os.Stat(cfg.GoogleDrive.CredentialsFile); err == nil {
		drive, err := storage.NewDriveExporter(
			cfg.GoogleDrive.CredentialsFile,
			cfg.GoogleDrive.TokenFile,
			cfg.GoogleDrive.FolderName,
		)
		if err != nil {
			log.Printf("WARNING: Google Drive not available: %v", err)
			log.Println("Rendered clips will only be saved locally")
		} else {
			log.Println("Google Drive export enabled")
			exporter = drive
		}
	} else {
		log.Println("Google Drive credentials not found - saving locally only")
	}

	stageRunner := runner.New(
		jobLedger,
		store,
		transcriber,
		clipFinder,
		renderer,
		exporter,
		runner.Timeouts{
			Transcribe: time.Duration(cfg.Timeouts.TranscribeMinutes) * time.Minute,
			FindClips:  time.Duration(cfg.Timeouts.FindClipsSeconds) * time.Second,
			Process:    time.Duration(cfg.Timeouts.ProcessMinutes) * time.Minute,
		},
		cfg.Pipeline.Render.Width,
		cfg.Pipeline.Render.Height,
	)
	defer stageRunner.Shutdown()

	// Retention scheduler
	retention := cleanup.NewScheduler(store, jobLedger, cfg.Cleanup.IntervalMinutes, cfg.Cleanup.MaxAgeHours)
	retention.Start()
	defer retention.Stop()

	// Ingest watcher (optional)
	if cfg.Storage.IngestDir != "" {
		watcher, err := watch.New(cfg.Storage.IngestDir, store, jobLedger)
		if err != nil {
			log.Printf("WARNING: ingest watcher unavailable: %v", err)
		} else {
			watcher.Start()
			defer watcher.Stop()
		}
	}

	validator := token.New(cfg.TokenValidation.Endpoint, nil)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: int(cfg.MaxUploadBytes()) + 1024*1024, // multipart overhead
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	// Initialize handlers
	uploadHandler := handlers.NewUploadHandler(store, jobLedger)
	jobsHandler := handlers.NewJobsHandler(stageRunner, jobLedger)
	tokenHandler := handlers.NewTokenHandler(validator)
	filesHandler := handlers.NewFilesHandler(store)
	statusHandler := handlers.NewStatusHandler(startedAt)
	eventsHandler := handlers.NewEventsHandler(stageRunner)

	// Routes
	app.Post("/api/upload", uploadHandler.Handle)
	app.Post("/api/validate_token", tokenHandler.Handle)
	app.Post("/api/transcribe", jobsHandler.Transcribe)
	app.Post("/api/find_clips", jobsHandler.FindClips)
	app.Post("/api/process", jobsHandler.Process)
	app.Get("/api/jobs/:id", jobsHandler.Get)
	app.Post("/api/jobs/:id/cancel", jobsHandler.Cancel)
	app.Post("/api/jobs/:id/retry", jobsHandler.Retry)
	app.Get("/api/status", statusHandler.Handle)
	app.Get("/uploads/:name", filesHandler.Handle)

	// WebSocket route
	app.Get("/ws/jobs", websocket.New(eventsHandler.Handle))

	// Get server logs
	app.Get("/api/logs", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"logs": logBuffer.GetLogs(),
		})
	})

	// Start server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Server starting on %s", addr)
	log.Println("Endpoints:")
	log.Println("   POST /api/upload          - Upload video file")
	log.Println("   POST /api/validate_token  - Validate Hugging Face token")
	log.Println("   POST /api/transcribe      - Start transcription stage")
	log.Println("   POST /api/find_clips      - Start clip finding stage")
	log.Println("   POST /api/process         - Render a selected clip")
	log.Println("   GET  /api/jobs/:id        - Poll job state")
	log.Println("   POST /api/jobs/:id/cancel - Cancel in-flight stage")
	log.Println("   POST /api/jobs/:id/retry  - Reset a failed job")
	log.Println("   GET  /ws/jobs             - WebSocket job events")
	log.Println("   GET  /api/status          - Service status")
	log.Println("   GET  /uploads/:name       - Download stored file")
	log.Println("   GET  /api/logs            - View server logs")

	// Graceful shutdown
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("Shutting down gracefully...")
		app.Shutdown()
	}()

	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// LogBuffer captures logs in memory
type LogBuffer struct {
	lines []string
	mu    sync.Mutex
}

func (lb *LogBuffer) Write(p []byte) (n int, err error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.lines = append(lb.lines, string(p))

	// Keep last 1000 lines
	if len(lb.lines) > 1000 {
		lb.lines = lb.lines[len(lb.lines)-1000:]
	}

	return len(p), nil
}

func (lb *LogBuffer) GetLogs() []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	logs := make([]string, len(lb.lines))
	copy(logs, lb.lines)
	return logs
}
