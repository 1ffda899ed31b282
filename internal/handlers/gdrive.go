package handlers

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/call-analyzer/internal/audio"
	"github.com/codebuildervaibhav/call-analyzer/internal/storage"
	"github.com/codebuildervaibhav/call-analyzer/internal/types"
)

const gdriveDownloadURL = "https://drive.google.com/uc?export=download&id=%s"

var (
	gdriveFilePattern = regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`)
	gdriveOpenPattern = regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`)
	gdriveIDPattern   = regexp.MustCompile(`^([a-zA-Z0-9_-]{25,40})$`)
)

// GDriveHandler imports a shared Google Drive file as a new recording
type GDriveHandler struct {
	db          *storage.MetadataDB
	uploadDir   string
	maxSizeMB   int
	client      *http.Client
	downloadURL string
}

// NewGDriveHandler creates a new Google Drive handler
func NewGDriveHandler(db *storage.MetadataDB, uploadDir string, maxSizeMB int) *GDriveHandler {
	return &GDriveHandler{
		db:          db,
		uploadDir:   uploadDir,
		maxSizeMB:   maxSizeMB,
		client:      http.DefaultClient,
		downloadURL: gdriveDownloadURL,
	}
}

// GDriveRequest represents the request body
type GDriveRequest struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// Handle processes Google Drive link requests
func (h *GDriveHandler) Handle(c *fiber.Ctx) error {
	var req GDriveRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
			"code":  "ERR_INVALID_BODY",
		})
	}

	if req.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "URL is required",
			"code":  "ERR_NO_URL",
		})
	}

	fileID := extractGDriveFileID(req.URL)
	if fileID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid Google Drive URL",
			"code":  "ERR_INVALID_URL",
		})
	}

	// Drive links carry no extension; the name decides the decoder hint
	if req.Name == "" {
		req.Name = "gdrive_recording.mp3"
	}
	ext := filepath.Ext(req.Name)
	if !audio.ValidateAudioFormat(req.Name) {
		ext = ".mp3"
	}
	storedPath := filepath.Join(h.uploadDir, uuid.NewString()+ext)

	log.Infof("Downloading from Google Drive: %s", fileID)
	status, err := h.download(c, fmt.Sprintf(h.downloadURL, fileID), storedPath)
	if err != nil {
		os.Remove(storedPath)
		log.WithError(err).Errorf("Failed to download Google Drive file %s", fileID)
		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
			"code":  "ERR_DOWNLOAD_FAILED",
		})
	}

	rec := &types.Recording{
		Filename:   filepath.Base(req.Name),
		Path:       storedPath,
		SourceType: types.SourceGDrive,
	}
	if err := h.db.CreateRecording(c.UserContext(), rec); err != nil {
		os.Remove(storedPath)
		log.WithError(err).Error("Failed to create recording")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save recording",
			"code":  "ERR_DB_FAILED",
		})
	}

	return c.JSON(withAudioURL(rec, h.uploadDir))
}

// download copies url into path and returns the HTTP status to answer with on failure
func (h *GDriveHandler) download(c *fiber.Ctx, url, path string) (int, error) {
	req, err := http.NewRequestWithContext(c.UserContext(), http.MethodGet, url, nil)
	if err != nil {
		return fiber.StatusInternalServerError, err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fiber.StatusBadGateway, fmt.Errorf("failed to download file from Google Drive")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fiber.StatusBadRequest, fmt.Errorf("file not accessible (may be private or doesn't exist)")
	}

	out, err := os.Create(path)
	if err != nil {
		return fiber.StatusInternalServerError, fmt.Errorf("failed to save downloaded file")
	}
	defer out.Close()

	limit := int64(h.maxSizeMB) * 1024 * 1024
	n, err := io.Copy(out, io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return fiber.StatusInternalServerError, fmt.Errorf("failed to write downloaded file")
	}
	if n > limit {
		return fiber.StatusBadRequest, fmt.Errorf("file too large (max %dMB)", h.maxSizeMB)
	}
	return fiber.StatusOK, nil
}

// extractGDriveFileID extracts the file ID from various Google Drive URL formats
func extractGDriveFileID(url string) string {
	// https://drive.google.com/file/d/{ID}/view
	if matches := gdriveFilePattern.FindStringSubmatch(url); len(matches) > 1 {
		return matches[1]
	}

	// https://drive.google.com/open?id={ID}
	if matches := gdriveOpenPattern.FindStringSubmatch(url); len(matches) > 1 {
		return matches[1]
	}

	// bare ID
	if matches := gdriveIDPattern.FindStringSubmatch(url); len(matches) > 1 {
		return matches[1]
	}

	return ""
}
