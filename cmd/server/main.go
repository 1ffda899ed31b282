package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/call-analyzer/internal/analysis"
	"github.com/codebuildervaibhav/call-analyzer/internal/audio"
	"github.com/codebuildervaibhav/call-analyzer/internal/cleanup"
	"github.com/codebuildervaibhav/call-analyzer/internal/config"
	"github.com/codebuildervaibhav/call-analyzer/internal/handlers"
	"github.com/codebuildervaibhav/call-analyzer/internal/queue"
	"github.com/codebuildervaibhav/call-analyzer/internal/storage"
	"github.com/codebuildervaibhav/call-analyzer/internal/transcription"
	"github.com/codebuildervaibhav/call-analyzer/internal/watcher"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logBuffer := NewLogBuffer(1000)
	log.SetOutput(io.MultiWriter(os.Stdout, logBuffer))
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if err := cleanup.EnsureDirs(cfg.Storage.UploadDir, cfg.Storage.OutputDir, cfg.Watch.InboxDir); err != nil {
		log.Fatalf("Failed to create directories: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Initializing components...")

	opts := transcription.DefaultOptions()
	opts.Language = cfg.Whisper.Language
	opts.BeamSize = cfg.Whisper.BeamSize
	recognizer, err := transcription.NewFasterWhisper(transcription.WhisperConfig{
		Python:      cfg.Whisper.Python,
		Model:       cfg.Whisper.Model,
		Device:      cfg.Whisper.Device,
		ComputeType: cfg.Whisper.ComputeType,
		Threads:     cfg.Whisper.Threads,
		Options:     opts,
	})
	if err != nil {
		log.Fatalf("Failed to initialize Whisper: %v", err)
	}
	defer recognizer.Close()

	splitter := audio.NewSplitter(audio.NewDefaultDecoder(cfg.FFmpeg.FFmpegPath, cfg.FFmpeg.FFprobePath))
	pipeline := transcription.NewPipeline(splitter, recognizer)

	if cfg.OpenAI.APIKey == "" {
		log.Warn("OPENAI_API_KEY is not set - analysis requests will fail")
	}
	annotator := analysis.NewOpenAIAnnotator(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model)

	db, err := storage.NewMetadataDB(cfg.Storage.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	if n, err := db.ResetInterrupted(ctx); err != nil {
		log.WithError(err).Warn("Failed to reset interrupted recordings")
	} else if n > 0 {
		log.Warnf("%d recordings were interrupted by a restart and marked FAILED", n)
	}

	localStorage := storage.NewLocalStorage(cfg.Storage.OutputDir)
	archivers := setupArchivers(ctx, cfg)

	workerPool := queue.NewWorkerPool(
		cfg.Workers.Count,
		cfg.Workers.QueueSize,
		pipeline,
		db,
		localStorage,
		archivers...,
	)
	// jobs outlive the signal context so Stop can drain them
	workerPool.Start(context.Background())

	cleanupScheduler := cleanup.NewScheduler(
		cfg.Cleanup.IntervalMinutes,
		cfg.Cleanup.MaxAgeHours,
		cfg.Storage.UploadDir,
		cfg.Watch.InboxDir,
	)
	cleanupScheduler.Start()
	defer cleanupScheduler.Stop()

	if cfg.Watch.InboxDir != "" {
		var q watcher.JobQueue
		if cfg.Watch.AutoTranscribe {
			q = workerPool
		}
		w, err := watcher.New(cfg.Watch.InboxDir, db, q)
		if err != nil {
			log.Warnf("Inbox watcher disabled: %v", err)
		} else {
			go w.Run(ctx)
		}
	}

	app := fiber.New(fiber.Config{
		BodyLimit: cfg.Limits.MaxFileSizeMB * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	uploadHandler := handlers.NewUploadHandler(db, cfg.Storage.UploadDir, cfg.Limits.MaxFileSizeMB)
	gdriveHandler := handlers.NewGDriveHandler(db, cfg.Storage.UploadDir, cfg.Limits.MaxFileSizeMB)
	streamHandler := handlers.NewStreamHandler(db, cfg.Storage.UploadDir, cfg.Limits.MaxFileSizeMB)
	recordingsHandler := handlers.NewRecordingsHandler(db, localStorage, workerPool, annotator, cfg.Storage.UploadDir)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"message": "Voice Analyzer API is running"})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	app.Post("/upload", uploadHandler.Handle)
	app.Post("/gdrive", gdriveHandler.Handle)
	app.Get("/ws/stream", websocket.New(streamHandler.Handle))
	recordingsHandler.Register(app)

	app.Static("/uploads", cfg.Storage.UploadDir)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/logs", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"logs": logBuffer.Lines(),
		})
	})

	go func() {
		<-ctx.Done()
		log.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.WithError(err).Warn("HTTP shutdown incomplete")
		}
	}()

	addr := cfg.Addr()
	log.Infof("Server starting on %s", addr)
	log.Info("Endpoints:")
	log.Info("   POST /upload                     - Upload audio file")
	log.Info("   POST /gdrive                     - Import Google Drive link")
	log.Info("   GET  /ws/stream                  - WebSocket audio streaming")
	log.Info("   GET  /recordings                 - List recordings")
	log.Info("   GET  /recordings/:id             - Recording with segments")
	log.Info("   POST /recordings/:id/transcribe  - Queue transcription")
	log.Info("   POST /recordings/:id/analyze     - Sentiment analysis")
	log.Info("   GET  /metrics                    - Prometheus metrics")
	log.Info("   GET  /logs                       - View server logs")
	log.Info("   GET  /health                     - Health check")

	if err := app.Listen(addr); err != nil {
		log.Errorf("Server failed: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := workerPool.Stop(stopCtx); err != nil {
		log.WithError(err).Warn("Worker pool did not drain before timeout")
	}
}

// setupArchivers connects the optional remote archives. Failures only disable
// the archive; transcripts are still written locally.
func setupArchivers(ctx context.Context, cfg *config.Config) []storage.Archiver {
	var archivers []storage.Archiver

	if _, err := os.Stat(cfg.GoogleDrive.CredentialsFile); err == nil {
		driveClient, err := storage.NewDriveClient(ctx,
			cfg.GoogleDrive.CredentialsFile,
			cfg.GoogleDrive.TokenFile,
			cfg.GoogleDrive.FolderName,
		)
		if err != nil {
			log.Warnf("Google Drive not available: %v", err)
		} else {
			log.Info("Google Drive integration enabled")
			archivers = append(archivers, driveClient)
		}
	} else {
		log.Info("Google Drive credentials not found - skipping Drive archive")
	}

	if cfg.S3.Bucket != "" {
		s3Archiver, err := storage.NewS3Archiver(ctx, cfg.S3.Region, cfg.S3.Bucket, cfg.S3.Prefix)
		if err != nil {
			log.Warnf("S3 archive not available: %v", err)
		} else {
			log.Infof("S3 archive enabled (bucket %s)", cfg.S3.Bucket)
			archivers = append(archivers, s3Archiver)
		}
	}

	if len(archivers) == 0 {
		log.Info("Transcripts will only be saved locally")
	}
	return archivers
}

// LogBuffer keeps the most recent log lines in memory for the /logs endpoint
type LogBuffer struct {
	lines []string
	max   int
	mu    sync.Mutex
}

// NewLogBuffer creates a buffer holding at most size lines
func NewLogBuffer(size int) *LogBuffer {
	return &LogBuffer{
		lines: make([]string, 0, size),
		max:   size,
	}
}

func (lb *LogBuffer) Write(p []byte) (n int, err error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.lines = append(lb.lines, string(p))
	if len(lb.lines) > lb.max {
		lb.lines = lb.lines[len(lb.lines)-lb.max:]
	}
	return len(p), nil
}

// Lines returns a copy of the buffered lines, oldest first
func (lb *LogBuffer) Lines() []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	logs := make([]string, len(lb.lines))
	copy(logs, lb.lines)
	return logs
}
