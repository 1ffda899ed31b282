package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/call-analyzer/internal/metrics"
	"github.com/codebuildervaibhav/call-analyzer/internal/storage"
	"github.com/codebuildervaibhav/call-analyzer/internal/types"
)

var (
	// ErrQueueFull is returned when no more jobs can be buffered
	ErrQueueFull = errors.New("transcription queue is full")
	// ErrStopped is returned after Stop
	ErrStopped = errors.New("worker pool stopped")
	// ErrInProgress is returned when the recording already has a job
	ErrInProgress = storage.ErrInProgress
)

// Transcriber turns an audio file into a merged transcript
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (*types.TranscriptResult, error)
}

// RecordingStore is the part of the metadata database the workers need
type RecordingStore interface {
	GetRecording(ctx context.Context, id int64) (*types.Recording, error)
	ClaimTranscription(ctx context.Context, id int64) error
	SetStatus(ctx context.Context, id int64, status, errMsg string) error
	SaveTranscription(ctx context.Context, id int64, result *types.TranscriptResult) error
	SetArchiveURLs(ctx context.Context, id int64, urls []string) error
}

// TranscriptFiles keeps segments between stages and exports transcripts
type TranscriptFiles interface {
	SaveSegments(audioPath string, segments []types.Segment) (string, error)
	SaveTranscript(rec *types.Recording, result *types.TranscriptResult) (string, error)
}

const archiveAttempts = 3

// WorkerPool manages a pool of workers processing transcription jobs
type WorkerPool struct {
	jobQueue    chan *Job
	workerCount int
	transcriber Transcriber
	db          RecordingStore
	files       TranscriptFiles
	archivers   []storage.Archiver

	// backoff before archive retry number attempt (1-based)
	backoff func(attempt int) time.Duration

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(
	workerCount, queueSize int,
	transcriber Transcriber,
	db RecordingStore,
	files TranscriptFiles,
	archivers ...storage.Archiver,
) *WorkerPool {
	return &WorkerPool{
		jobQueue:    make(chan *Job, queueSize),
		workerCount: workerCount,
		transcriber: transcriber,
		db:          db,
		files:       files,
		archivers:   archivers,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * time.Second
		},
	}
}

// Start initializes all workers
func (wp *WorkerPool) Start(ctx context.Context) {
	ctx, wp.cancel = context.WithCancel(ctx)

	log.Infof("Starting worker pool with %d workers", wp.workerCount)
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

// Stop lets the workers drain the queue. When ctx expires first, running
// jobs are cancelled and ctx.Err() is returned.
func (wp *WorkerPool) Stop(ctx context.Context) error {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return nil
	}
	wp.stopped = true
	close(wp.jobQueue)
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if wp.cancel != nil {
			wp.cancel()
		}
		return ctx.Err()
	}
}

// EnqueueJob claims the recording (TRANSCRIBING) and queues the job. A
// recording that already has a job yields ErrInProgress. If the queue is full
// the previous status is restored.
func (wp *WorkerPool) EnqueueJob(ctx context.Context, job *Job) error {
	rec, err := wp.db.GetRecording(ctx, job.RecordingID)
	if err != nil {
		return err
	}
	if err := wp.db.ClaimTranscription(ctx, job.RecordingID); err != nil {
		return err
	}

	wp.mu.Lock()
	defer wp.mu.Unlock()

	err = ErrStopped
	if !wp.stopped {
		select {
		case wp.jobQueue <- job:
			metrics.QueueDepth.Set(float64(len(wp.jobQueue)))
			log.Infof("Job %s enqueued (recording: %d, name: %s)", job.ID, job.RecordingID, job.RequestName)
			return nil
		default:
			err = ErrQueueFull
		}
	}

	if restoreErr := wp.db.SetStatus(ctx, job.RecordingID, rec.Status, rec.Error); restoreErr != nil {
		log.WithError(restoreErr).Errorf("Failed to restore status of recording %d", job.RecordingID)
	}
	return err
}

// worker processes jobs from the queue
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()
	log.Infof("Worker %d started", id)

	for job := range wp.jobQueue {
		metrics.QueueDepth.Set(float64(len(wp.jobQueue)))

		// Panic recovery
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("Worker %d: PANIC processing job %s: %v\n%s",
						id, job.ID, r, string(debug.Stack()))
					wp.fail(ctx, job, fmt.Sprintf("Worker panic: %v", r))
				}
			}()

			wp.processJob(ctx, id, job)
		}()
	}
	log.Infof("Worker %d stopped", id)
}

// processJob runs the transcription stage for one recording. The uploaded
// audio is never removed here.
func (wp *WorkerPool) processJob(ctx context.Context, workerID int, job *Job) {
	log.Infof("Worker %d: Processing job %s (waited %s)", workerID, job.ID, time.Since(job.CreatedAt).Round(time.Millisecond))

	rec, err := wp.db.GetRecording(ctx, job.RecordingID)
	if err != nil {
		log.WithError(err).Errorf("Worker %d: Recording %d for job %s not found", workerID, job.RecordingID, job.ID)
		return
	}

	// Step 1: Transcribe (split, recognize per channel, merge)
	result, err := wp.transcriber.Transcribe(ctx, job.FilePath)
	if err != nil {
		log.WithError(err).Errorf("Worker %d: Transcription failed for job %s", workerID, job.ID)
		wp.fail(ctx, job, "Transcription failed")
		return
	}

	// Step 2: Keep raw segments for the analysis stage
	if _, err := wp.files.SaveSegments(job.FilePath, result.Segments); err != nil {
		log.WithError(err).Errorf("Worker %d: Saving segments failed for job %s", workerID, job.ID)
		wp.fail(ctx, job, "Saving segments failed")
		return
	}

	// Step 3: Save transcription to database
	if err := wp.db.SaveTranscription(ctx, job.RecordingID, result); err != nil {
		log.WithError(err).Errorf("Worker %d: Database save failed for job %s", workerID, job.ID)
		wp.fail(ctx, job, "Database save failed")
		return
	}

	// Step 4: Export locally
	localPath, err := wp.files.SaveTranscript(rec, result)
	if err != nil {
		log.WithError(err).Warnf("Worker %d: Local export failed for job %s", workerID, job.ID)
	}

	// Step 5: Archive remotely (with retry)
	if urls := wp.archive(ctx, workerID, rec, result); len(urls) > 0 {
		if err := wp.db.SetArchiveURLs(ctx, job.RecordingID, urls); err != nil {
			log.WithError(err).Warnf("Worker %d: Saving archive locations failed", workerID)
		}
	}

	log.Infof("Worker %d: Job %s completed (%d segments, local: %s)",
		workerID, job.ID, len(result.Segments), localPath)
}

func (wp *WorkerPool) archive(ctx context.Context, workerID int, rec *types.Recording, result *types.TranscriptResult) []string {
	var urls []string
	for _, a := range wp.archivers {
		var (
			url string
			err error
		)
		for attempt := 1; attempt <= archiveAttempts; attempt++ {
			url, err = a.Archive(ctx, rec, result)
			if err == nil {
				urls = append(urls, url)
				break
			}
			log.Warnf("Worker %d: %s upload attempt %d/%d failed: %v", workerID, a.Name(), attempt, archiveAttempts, err)
			if attempt < archiveAttempts {
				select {
				case <-time.After(wp.backoff(attempt)):
				case <-ctx.Done():
					return urls
				}
			}
		}
		if err != nil {
			log.Warnf("Worker %d: %s upload failed after %d attempts, transcript kept locally", workerID, a.Name(), archiveAttempts)
		}
	}
	return urls
}

func (wp *WorkerPool) fail(ctx context.Context, job *Job, msg string) {
	// record the failure even when shutdown cancelled the job
	if err := wp.db.SetStatus(context.WithoutCancel(ctx), job.RecordingID, types.StatusFailed, msg); err != nil {
		log.WithError(err).Errorf("Failed to mark recording %d as failed", job.RecordingID)
	}
}
