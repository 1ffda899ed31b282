package audio

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/call-analyzer/internal/metrics"
)

// ChannelStream is one independently transcribable mono stream.
// Temporary streams are owned by the pipeline and must be removed after
// use; a non-temporary stream is the caller's original source.
type ChannelStream struct {
	Index      int
	Path       string
	SampleRate int
	Temporary  bool
}

// Remove deletes a temporary stream. It is a no-op for the original source.
func (cs ChannelStream) Remove() error {
	if !cs.Temporary {
		return nil
	}
	if err := os.Remove(cs.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Splitter turns a multi-channel source into one mono WAV per channel
type Splitter struct {
	decoder Decoder
}

// NewSplitter creates a splitter backed by the given decoder
func NewSplitter(decoder Decoder) *Splitter {
	return &Splitter{decoder: decoder}
}

// Split never fails: on any error the source is returned unsplit.
func (s *Splitter) Split(ctx context.Context, source string) []ChannelStream {
	streams, err := s.split(ctx, source)
	if err != nil {
		log.WithError(err).Errorf("Error splitting channels of %s, using original file", source)
		metrics.ChannelSplits.WithLabelValues("fallback").Inc()
		return passthrough(source, 0)
	}
	return streams
}

func (s *Splitter) split(ctx context.Context, source string) (streams []ChannelStream, err error) {
	var created []string
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while splitting: %v\n%s", r, debug.Stack())
		}
		if err != nil {
			streams = nil
			if rerr := removeFiles(created); rerr != nil {
				log.Warnf("Failed to remove partial channel files of %s: %v", source, rerr)
			}
		}
	}()

	decoded, err := s.decoder.Decode(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	if decoded.Channels <= 1 {
		metrics.ChannelSplits.WithLabelValues("mono").Inc()
		return passthrough(source, decoded.SampleRate), nil
	}

	log.Infof("Detected %d channels in %s, splitting", decoded.Channels, source)

	if decoded.Samples() == 0 {
		log.Warnf("No audio data decoded from %s", source)
		metrics.ChannelSplits.WithLabelValues("fallback").Inc()
		return passthrough(source, decoded.SampleRate), nil
	}

	for i := 0; i < decoded.Channels; i++ {
		if i >= len(decoded.Planes) {
			log.Warnf("Channel %d out of bounds for %d decoded channels in %s", i, len(decoded.Planes), source)
			metrics.ChannelSplits.WithLabelValues("partial").Inc()
			return streams, nil
		}

		out := ChannelPath(source, i)
		if err := WriteMonoWAV(out, decoded.SampleRate, decoded.Planes[i]); err != nil {
			return nil, fmt.Errorf("write channel %d: %w", i, err)
		}
		created = append(created, out)

		streams = append(streams, ChannelStream{
			Index:      i,
			Path:       out,
			SampleRate: decoded.SampleRate,
			Temporary:  true,
		})
	}

	log.Infof("Split %s into %d channel files (%d samples each)", source, len(streams), decoded.Samples())
	metrics.ChannelSplits.WithLabelValues("split").Inc()
	return streams, nil
}

func passthrough(source string, sampleRate int) []ChannelStream {
	return []ChannelStream{{Index: 0, Path: source, SampleRate: sampleRate}}
}

func removeFiles(paths []string) error {
	var result *multierror.Error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
