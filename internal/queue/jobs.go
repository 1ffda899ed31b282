package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/codebuildervaibhav/call-analyzer/internal/types"
)

// Job represents a transcription job for one stored recording
type Job struct {
	ID          string
	RecordingID int64
	RequestName string
	FilePath    string
	CreatedAt   time.Time
}

// NewJob creates a job for rec
func NewJob(rec *types.Recording) *Job {
	return &Job{
		ID:          uuid.NewString(),
		RecordingID: rec.ID,
		RequestName: rec.Filename,
		FilePath:    rec.Path,
		CreatedAt:   time.Now(),
	}
}
