package cleanup

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/call-analyzer/internal/audio"
	"github.com/codebuildervaibhav/call-analyzer/internal/metrics"
)

// Scheduler periodically removes channel files and partial writes left behind
// by an interrupted run. Uploaded recordings are never touched.
type Scheduler struct {
	dirs            []string
	intervalMinutes int
	maxAgeHours     int
	stopChan        chan struct{}
	stopOnce        sync.Once
}

// NewScheduler creates a new cleanup scheduler over dirs
func NewScheduler(intervalMinutes, maxAgeHours int, dirs ...string) *Scheduler {
	return &Scheduler{
		dirs:            dirs,
		intervalMinutes: intervalMinutes,
		maxAgeHours:     maxAgeHours,
		stopChan:        make(chan struct{}),
	}
}

// Start begins the cleanup scheduler
func (s *Scheduler) Start() {
	log.Info("Running initial orphan file cleanup...")
	s.Sweep(time.Now())

	ticker := time.NewTicker(time.Duration(s.intervalMinutes) * time.Minute)

	go func() {
		for {
			select {
			case now := <-ticker.C:
				s.Sweep(now)
			case <-s.stopChan:
				ticker.Stop()
				return
			}
		}
	}()

	log.Infof("Cleanup scheduler started (interval: %dm, max age: %dh)",
		s.intervalMinutes, s.maxAgeHours)
}

// Stop stops the cleanup scheduler
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		log.Info("Cleanup scheduler stopped")
	})
}

// isOrphan matches files only an interrupted transcription leaves behind.
// Channel files count only while their source sits next to them, so user
// files that happen to follow the same naming stay untouched.
func isOrphan(path string) bool {
	return strings.HasSuffix(path, ".json.tmp") || audio.IsChannelTemp(path)
}

// Sweep removes orphaned files older than maxAgeHours and reports how many
// files and bytes were deleted
func (s *Scheduler) Sweep(now time.Time) (deletedCount int, deletedSize int64) {
	maxAge := time.Duration(s.maxAgeHours) * time.Hour

	for _, dir := range s.dirs {
		err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil // Skip files we can't access
			}
			if info.IsDir() || !isOrphan(path) {
				return nil
			}

			age := now.Sub(info.ModTime())
			if age <= maxAge {
				return nil
			}

			size := info.Size()
			if err := os.Remove(path); err != nil {
				log.Warnf("Failed to delete orphaned file %s: %v", path, err)
				return nil
			}
			deletedCount++
			deletedSize += size
			log.Infof("Deleted orphaned file: %s (age: %s, size: %dKB)",
				filepath.Base(path), age.Round(time.Minute), size/1024)
			return nil
		})
		if err != nil {
			log.Errorf("Error during cleanup of %s: %v", dir, err)
		}
	}

	if deletedCount > 0 {
		metrics.OrphanedFilesRemoved.Add(float64(deletedCount))
		log.Infof("Cleanup complete: %d files deleted, %.2fMB freed",
			deletedCount, float64(deletedSize)/(1024*1024))
	}
	return deletedCount, deletedSize
}

// EnsureDirs creates the given directories if they don't exist
func EnsureDirs(dirs ...string) error {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		log.Debugf("Directory ready: %s", dir)
	}
	return nil
}
