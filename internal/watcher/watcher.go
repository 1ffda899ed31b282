package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/call-analyzer/internal/audio"
	"github.com/codebuildervaibhav/call-analyzer/internal/queue"
	"github.com/codebuildervaibhav/call-analyzer/internal/types"
)

// DefaultSettle is how long a file must stay unchanged before it is picked up
const DefaultSettle = 2 * time.Second

// RecordingCreator persists a new recording
type RecordingCreator interface {
	CreateRecording(ctx context.Context, rec *types.Recording) error
}

// JobQueue accepts transcription jobs
type JobQueue interface {
	EnqueueJob(ctx context.Context, job *queue.Job) error
}

// Watcher turns audio files dropped into an inbox directory into recordings.
// When a queue is set, each new recording is queued for transcription.
type Watcher struct {
	dir     string
	db      RecordingCreator
	queue   JobQueue
	watcher *fsnotify.Watcher

	settle  time.Duration
	mu      sync.Mutex
	pending map[string]*time.Timer
	seen    map[string]bool
	wg      sync.WaitGroup
}

// New creates a watcher over dir. q may be nil.
func New(dir string, db RecordingCreator, q JobQueue) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	return &Watcher{
		dir:     dir,
		db:      db,
		queue:   q,
		watcher: fw,
		settle:  DefaultSettle,
		pending: make(map[string]*time.Timer),
		seen:    make(map[string]bool),
	}, nil
}

// Run processes file system events until ctx is done
func (w *Watcher) Run(ctx context.Context) {
	defer func() {
		w.watcher.Close()
		w.mu.Lock()
		for _, t := range w.pending {
			if t.Stop() {
				w.wg.Done()
			}
		}
		w.mu.Unlock()
		w.wg.Wait()
	}()

	log.Infof("Watching inbox directory %s", w.dir)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Error("File watcher error")
		}
	}
}

// wanted skips our own channel files, sidecars and unsupported formats
func wanted(path string) bool {
	if strings.HasSuffix(path, ".tmp") || audio.IsChannelTemp(path) {
		return false
	}
	return audio.ValidateAudioFormat(path)
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	if !wanted(event.Name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.seen[event.Name] {
		return
	}
	// restart the settle timer on every write
	if t, ok := w.pending[event.Name]; ok {
		if !t.Stop() {
			return // already firing
		}
		w.wg.Done()
	}

	path := event.Name
	w.wg.Add(1)
	w.pending[path] = time.AfterFunc(w.settle, func() {
		defer w.wg.Done()

		w.mu.Lock()
		delete(w.pending, path)
		w.seen[path] = true
		w.mu.Unlock()

		if err := w.register(ctx, path); err != nil {
			log.WithError(err).Errorf("Failed to register inbox file %s", path)
		}
	})
}

func (w *Watcher) register(ctx context.Context, path string) error {
	rec := &types.Recording{
		Filename:   filepath.Base(path),
		Path:       path,
		SourceType: types.SourceInbox,
	}
	if err := w.db.CreateRecording(ctx, rec); err != nil {
		return err
	}
	log.Infof("Inbox file %s registered as recording %d", rec.Filename, rec.ID)

	if w.queue == nil {
		return nil
	}
	return w.queue.EnqueueJob(ctx, queue.NewJob(rec))
}
