package handlers

import (
	"fmt"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/call-analyzer/internal/audio"
	"github.com/codebuildervaibhav/call-analyzer/internal/storage"
	"github.com/codebuildervaibhav/call-analyzer/internal/types"
)

// UploadHandler handles file uploads
type UploadHandler struct {
	db        *storage.MetadataDB
	uploadDir string
	maxSizeMB int
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(db *storage.MetadataDB, uploadDir string, maxSizeMB int) *UploadHandler {
	return &UploadHandler{
		db:        db,
		uploadDir: uploadDir,
		maxSizeMB: maxSizeMB,
	}
}

// Handle stores the uploaded file and creates an UPLOADED recording
func (h *UploadHandler) Handle(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No file uploaded",
			"code":  "ERR_NO_FILE",
		})
	}

	// Validate file size
	maxSize := int64(h.maxSizeMB) * 1024 * 1024
	if file.Size > maxSize {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("File too large (max %dMB)", h.maxSizeMB),
			"code":  "ERR_FILE_TOO_LARGE",
		})
	}

	// Validate file format
	if !audio.ValidateAudioFormat(file.Filename) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unsupported audio format",
			"code":  "ERR_INVALID_FORMAT",
		})
	}

	// Stored under a unique name; the original name is kept in the database
	storedPath := filepath.Join(h.uploadDir, uuid.NewString()+filepath.Ext(file.Filename))
	if err := c.SaveFile(file, storedPath); err != nil {
		log.WithError(err).Error("Failed to save uploaded file")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save file",
			"code":  "ERR_SAVE_FAILED",
		})
	}

	rec := &types.Recording{
		Filename:   filepath.Base(file.Filename),
		Path:       storedPath,
		SourceType: types.SourceUpload,
	}
	if err := h.db.CreateRecording(c.UserContext(), rec); err != nil {
		log.WithError(err).Error("Failed to create recording")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save recording",
			"code":  "ERR_DB_FAILED",
		})
	}

	log.Infof("Recording %d uploaded (%s, %d bytes)", rec.ID, rec.Filename, file.Size)
	return c.JSON(withAudioURL(rec, h.uploadDir))
}

// withAudioURL points clients at the static copy of the recording. Only
// files stored directly in uploadDir are served; inbox files get no URL.
func withAudioURL(rec *types.Recording, uploadDir string) *types.Recording {
	rec.AudioURL = ""
	rel, err := filepath.Rel(uploadDir, rec.Path)
	if err != nil || rel != filepath.Base(rec.Path) {
		return rec
	}
	rec.AudioURL = "/uploads/" + rel
	return rec
}
