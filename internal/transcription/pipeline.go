package transcription

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/call-analyzer/internal/audio"
	"github.com/codebuildervaibhav/call-analyzer/internal/metrics"
	"github.com/codebuildervaibhav/call-analyzer/internal/types"
)

// ErrTranscriptionFailed wraps every error returned by Pipeline.Transcribe
var ErrTranscriptionFailed = errors.New("transcription failed")

// Splitter yields the mono streams to transcribe for a source
type Splitter interface {
	Split(ctx context.Context, source string) []audio.ChannelStream
}

// Pipeline splits a recording into channels, transcribes each channel and
// merges the results. Channels are processed one after another.
type Pipeline struct {
	splitter   Splitter
	recognizer Recognizer
}

// NewPipeline creates a pipeline sharing the given recognizer
func NewPipeline(splitter Splitter, recognizer Recognizer) *Pipeline {
	return &Pipeline{
		splitter:   splitter,
		recognizer: recognizer,
	}
}

// Transcribe runs the whole pipeline on source. The source itself is never
// removed; every temporary channel file is removed before returning.
// A nil error with zero segments is a valid empty transcript.
func (p *Pipeline) Transcribe(ctx context.Context, source string) (result *types.TranscriptResult, err error) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("PANIC transcribing %s: %v\n%s", source, r, string(debug.Stack()))
			result = nil
			err = fmt.Errorf("%w: panic: %v", ErrTranscriptionFailed, r)
		}
		if err != nil {
			metrics.TranscriptionRequests.WithLabelValues("failed").Inc()
			return
		}
		metrics.TranscriptionRequests.WithLabelValues("success").Inc()
		metrics.TranscriptionDuration.Observe(time.Since(started).Seconds())
	}()

	log.Infof("Starting transcription for: %s", source)

	streams := p.splitter.Split(ctx, source)
	set := newChannelSet(streams)
	defer set.releaseAll()

	multiChannel := len(streams) > 1
	log.Infof("Split result: %d files, multi-channel: %t", len(streams), multiChannel)

	transcripts := make([]ChannelTranscript, 0, len(streams))
	for i := range streams {
		ct, err := p.transcribeChannel(ctx, set, i, multiChannel)
		if err != nil {
			log.WithError(err).Errorf("Error transcribing channel %d of %s", i, source)
			return nil, fmt.Errorf("%w: channel %d: %w", ErrTranscriptionFailed, i, err)
		}
		transcripts = append(transcripts, ct)
	}

	result = Merge(transcripts)
	log.Infof("Total segments collected: %d (language: %s, duration: %.2fs)",
		len(result.Segments), result.Language, result.Duration)
	return result, nil
}

func (p *Pipeline) transcribeChannel(ctx context.Context, set *channelSet, i int, multiChannel bool) (ChannelTranscript, error) {
	stream := set.streams[i]
	defer set.release(i)

	log.Infof("Processing channel %d: %s", i, stream.Path)

	rec, err := p.recognizer.Transcribe(ctx, stream.Path)
	if err != nil {
		return ChannelTranscript{}, err
	}

	speaker := SpeakerLabel(i, multiChannel)
	ct := ChannelTranscript{
		Index:    i,
		Language: rec.Language,
		Duration: rec.Duration,
		Segments: make([]types.Segment, 0, len(rec.Segments)),
	}
	for _, raw := range rec.Segments {
		ct.Segments = append(ct.Segments, normalizeSegment(raw, speaker))
	}
	metrics.TranscribedSegments.WithLabelValues(string(speaker)).Add(float64(len(ct.Segments)))

	log.Infof("Channel %d segments processed: %d", i, len(ct.Segments))
	return ct, nil
}

// channelSet releases each temporary stream exactly once
type channelSet struct {
	streams  []audio.ChannelStream
	released []bool
}

func newChannelSet(streams []audio.ChannelStream) *channelSet {
	return &channelSet{
		streams:  streams,
		released: make([]bool, len(streams)),
	}
}

func (s *channelSet) release(i int) {
	if s.released[i] {
		return
	}
	s.released[i] = true

	stream := s.streams[i]
	if !stream.Temporary {
		return
	}
	if err := stream.Remove(); err != nil {
		log.Warnf("Failed to remove temp file %s: %v", stream.Path, err)
		return
	}
	log.Debugf("Removed temp file: %s", stream.Path)
}

func (s *channelSet) releaseAll() {
	for i := range s.streams {
		s.release(i)
	}
}
