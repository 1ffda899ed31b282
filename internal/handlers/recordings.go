package handlers

import (
	"context"
	"errors"
	"os"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/call-analyzer/internal/analysis"
	"github.com/codebuildervaibhav/call-analyzer/internal/queue"
	"github.com/codebuildervaibhav/call-analyzer/internal/storage"
	"github.com/codebuildervaibhav/call-analyzer/internal/types"
)

// JobQueue accepts transcription jobs
type JobQueue interface {
	EnqueueJob(ctx context.Context, job *queue.Job) error
}

// RecordingsHandler serves the transcribe/analyze workflow and recording queries
type RecordingsHandler struct {
	db        *storage.MetadataDB
	files     *storage.LocalStorage
	queue     JobQueue
	annotator analysis.Annotator
	uploadDir string
}

// NewRecordingsHandler creates a new recordings handler
func NewRecordingsHandler(db *storage.MetadataDB, files *storage.LocalStorage, queue JobQueue, annotator analysis.Annotator, uploadDir string) *RecordingsHandler {
	return &RecordingsHandler{
		db:        db,
		files:     files,
		queue:     queue,
		annotator: annotator,
		uploadDir: uploadDir,
	}
}

// Register mounts the recording routes on router
func (h *RecordingsHandler) Register(router fiber.Router) {
	router.Get("/recordings", h.List)
	router.Get("/recordings/:id", h.Get)
	router.Post("/recordings/:id/transcribe", h.Transcribe)
	router.Post("/recordings/:id/analyze", h.Analyze)
}

// lookup loads the recording named by the :id parameter, writing the error response itself
func (h *RecordingsHandler) lookup(c *fiber.Ctx) (*types.Recording, error) {
	id, err := c.ParamsInt("id")
	if err != nil {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid recording id",
			"code":  "ERR_INVALID_ID",
		})
	}

	rec, err := h.db.GetRecording(c.UserContext(), int64(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Recording not found",
			"code":  "ERR_NOT_FOUND",
		})
	}
	if err != nil {
		log.WithError(err).Errorf("Failed to load recording %d", id)
		return nil, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load recording",
			"code":  "ERR_DB_FAILED",
		})
	}
	return rec, nil
}

// List returns recordings newest first
func (h *RecordingsHandler) List(c *fiber.Ctx) error {
	skip := c.QueryInt("skip", 0)
	limit := c.QueryInt("limit", 100)
	if skip < 0 || limit < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "skip and limit must not be negative",
			"code":  "ERR_INVALID_PAGE",
		})
	}

	recordings, err := h.db.ListRecordings(c.UserContext(), skip, limit)
	if err != nil {
		log.WithError(err).Error("Failed to list recordings")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list recordings",
			"code":  "ERR_DB_FAILED",
		})
	}
	for i := range recordings {
		withAudioURL(&recordings[i], h.uploadDir)
	}
	return c.JSON(recordings)
}

// Get returns a recording with its segments. A recording that is only
// transcribed shows the stored raw segments with a neutral score.
func (h *RecordingsHandler) Get(c *fiber.Ctx) error {
	rec, err := h.lookup(c)
	if rec == nil {
		return err
	}

	segments, err := h.db.Segments(c.UserContext(), rec.ID)
	if err != nil {
		log.WithError(err).Errorf("Failed to load segments of recording %d", rec.ID)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load segments",
			"code":  "ERR_DB_FAILED",
		})
	}

	if len(segments) == 0 && rec.Status == types.StatusTranscribed {
		raw, err := h.files.LoadSegments(rec.Path)
		if err != nil {
			log.WithError(err).Warnf("Error loading segments of recording %d", rec.ID)
		}
		segments = pendingSegments(raw)
	}

	return c.JSON(types.RecordingDetail{Recording: *withAudioURL(rec, h.uploadDir), Segments: segments})
}

// pendingSegments maps raw segments into the annotated shape before analysis
func pendingSegments(raw []types.Segment) []types.AnnotatedSegment {
	segments := make([]types.AnnotatedSegment, 0, len(raw))
	for _, s := range raw {
		speaker := s.Speaker
		if speaker == "" {
			speaker = types.SpeakerUnknown
		}
		segments = append(segments, types.AnnotatedSegment{
			Speaker:   string(speaker),
			Text:      s.Text,
			StartTime: s.Start,
			EndTime:   s.End,
		})
	}
	return segments
}

// Transcribe queues the transcription stage and answers 202 right away
func (h *RecordingsHandler) Transcribe(c *fiber.Ctx) error {
	rec, err := h.lookup(c)
	if rec == nil {
		return err
	}

	if _, err := os.Stat(rec.Path); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Audio file not found",
			"code":  "ERR_AUDIO_MISSING",
		})
	}
	if rec.Status == types.StatusTranscribing {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Transcription already in progress",
			"code":  "ERR_IN_PROGRESS",
		})
	}

	job := queue.NewJob(rec)
	if err := h.queue.EnqueueJob(c.UserContext(), job); err != nil {
		if errors.Is(err, queue.ErrInProgress) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Transcription already in progress",
				"code":  "ERR_IN_PROGRESS",
			})
		}
		log.WithError(err).Errorf("Failed to queue recording %d", rec.ID)
		if errors.Is(err, queue.ErrQueueFull) || errors.Is(err, queue.ErrStopped) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Transcription queue unavailable, try again later",
				"code":  "ERR_QUEUE_FULL",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Transcription failed",
			"code":  "ERR_TRANSCRIPTION_FAILED",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id":       job.ID,
		"recording_id": rec.ID,
		"status":       types.StatusTranscribing,
	})
}

// Analyze runs the annotator over the stored segments and replaces any earlier analysis
func (h *RecordingsHandler) Analyze(c *fiber.Ctx) error {
	rec, err := h.lookup(c)
	if rec == nil {
		return err
	}

	if rec.Status != types.StatusTranscribed && rec.Status != types.StatusCompleted {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Recording must be transcribed first",
			"code":  "ERR_NOT_TRANSCRIBED",
		})
	}

	segments, err := h.files.LoadSegments(rec.Path)
	if err != nil {
		log.WithError(err).Errorf("Transcript segments of recording %d unavailable", rec.ID)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Transcript segments not found",
			"code":  "ERR_SEGMENTS_MISSING",
		})
	}

	result, err := h.annotator.Analyze(c.UserContext(), segments)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Analysis failed",
			"code":  "ERR_ANALYSIS_FAILED",
		})
	}

	if err := h.db.SaveAnalysis(c.UserContext(), rec.ID, result); err != nil {
		log.WithError(err).Errorf("Failed to save analysis of recording %d", rec.ID)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save analysis",
			"code":  "ERR_DB_FAILED",
		})
	}

	rec.Status = types.StatusCompleted
	rec.AverageSentiment = result.AverageSentiment
	rec.Error = ""
	return c.JSON(types.RecordingDetail{Recording: *withAudioURL(rec, h.uploadDir), Segments: result.Segments})
}
