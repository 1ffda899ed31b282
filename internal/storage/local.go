package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/codebuildervaibhav/call-analyzer/internal/types"
)

// LocalStorage handles transcript files on the local filesystem
type LocalStorage struct {
	outputDir string
}

// NewLocalStorage creates a new local storage handler
func NewLocalStorage(outputDir string) *LocalStorage {
	return &LocalStorage{
		outputDir: outputDir,
	}
}

// SegmentsPath is where the raw segments of an uploaded file are kept between stages
func SegmentsPath(audioPath string) string {
	return audioPath + ".json"
}

// SaveSegments writes the merged segments next to the audio file
func (ls *LocalStorage) SaveSegments(audioPath string, segments []types.Segment) (string, error) {
	if segments == nil {
		segments = []types.Segment{}
	}
	data, err := json.MarshalIndent(segments, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal segments: %w", err)
	}

	path := SegmentsPath(audioPath)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to save segments: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to save segments: %w", err)
	}
	return path, nil
}

// LoadSegments reads the segments saved for audioPath
func (ls *LocalStorage) LoadSegments(audioPath string) ([]types.Segment, error) {
	data, err := os.ReadFile(SegmentsPath(audioPath))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("segments for %s: %w", filepath.Base(audioPath), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read segments: %w", err)
	}

	var segments []types.Segment
	if err := json.Unmarshal(data, &segments); err != nil {
		return nil, fmt.Errorf("failed to parse segments: %w", err)
	}
	return segments, nil
}

// SaveTranscript exports the transcript text and metadata into a dated directory
func (ls *LocalStorage) SaveTranscript(rec *types.Recording, result *types.TranscriptResult) (string, error) {
	// Create dated directory structure: output/2025/01/23/
	now := time.Now()
	dateDir := filepath.Join(ls.outputDir,
		fmt.Sprintf("%d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()))

	if err := os.MkdirAll(dateDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create date directory: %w", err)
	}

	baseFilename := archiveName(now, rec.Filename)
	txtPath := filepath.Join(dateDir, baseFilename+".txt")
	metaPath := filepath.Join(dateDir, baseFilename+"_meta.json")

	if err := os.WriteFile(txtPath, []byte(formatTranscript(result)), 0644); err != nil {
		return "", fmt.Errorf("failed to save transcript: %w", err)
	}

	metaJSON, err := archiveDocument(rec, result)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(metaPath, metaJSON, 0644); err != nil {
		return "", fmt.Errorf("failed to save metadata: %w", err)
	}

	return txtPath, nil
}

// archiveName generates names like 20250123_143022_call.wav
func archiveName(t time.Time, name string) string {
	return fmt.Sprintf("%s_%s", t.Format("20060102_150405"), sanitizeFilename(name))
}

// archiveDocument is the JSON stored alongside every exported transcript
func archiveDocument(rec *types.Recording, result *types.TranscriptResult) ([]byte, error) {
	metadata := map[string]interface{}{
		"recording_id":     rec.ID,
		"filename":         rec.Filename,
		"source_type":      rec.SourceType,
		"uploaded_at":      rec.UploadDate,
		"duration_seconds": result.Duration,
		"language":         result.Language,
		"text":             result.Text,
		"segments":         result.Segments,
	}

	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return data, nil
}

// formatTranscript renders one line per segment: [12.34 - 15.00] Agent: text
func formatTranscript(result *types.TranscriptResult) string {
	var b strings.Builder
	for _, seg := range result.Segments {
		fmt.Fprintf(&b, "[%.2f - %.2f] %s: %s\n", seg.Start, seg.End, seg.Speaker, seg.Text)
	}
	return b.String()
}

// sanitizeFilename removes invalid characters from filename
func sanitizeFilename(name string) string {
	result := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
	if result == "" {
		result = "recording"
	}
	// cut at most 100 bytes without splitting a character
	if len(result) > 100 {
		cut := 100
		for cut > 0 && !utf8.RuneStart(result[cut]) {
			cut--
		}
		result = result[:cut]
	}
	return result
}
