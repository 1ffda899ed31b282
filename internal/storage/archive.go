package storage

import (
	"context"

	"github.com/codebuildervaibhav/call-analyzer/internal/types"
)

// Archiver copies a finished transcript to remote storage and returns its location
type Archiver interface {
	Name() string
	Archive(ctx context.Context, rec *types.Recording, result *types.TranscriptResult) (string, error)
}
