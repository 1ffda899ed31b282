package audio

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// ErrUnsupported is returned by a decoder that cannot handle the given file
var ErrUnsupported = errors.New("unsupported audio format")

// Decoded describes the first audio stream of a source.
//
// Planes is nil for mono sources: there is nothing to split, so the
// samples are never materialized. For multi-channel sources Planes holds
// one signed 16-bit slice per decoded channel. Len(Planes) may be smaller
// than Channels when the stream declared more channels than it carried.
type Decoded struct {
	Channels   int
	SampleRate int
	Planes     [][]int16
}

// Samples returns the number of samples per channel
func (d *Decoded) Samples() int {
	if len(d.Planes) == 0 {
		return 0
	}
	return len(d.Planes[0])
}

// Decoder opens an audio container and returns its first audio stream
type Decoder interface {
	Decode(ctx context.Context, path string) (*Decoded, error)
}

// ChainDecoder tries each decoder in order and returns the first success
type ChainDecoder []Decoder

var _ Decoder = ChainDecoder(nil)

// NewDefaultDecoder decodes WAV natively and everything else through ffmpeg
func NewDefaultDecoder(ffmpegPath, ffprobePath string) ChainDecoder {
	return ChainDecoder{
		&WAVDecoder{},
		NewFFmpegDecoder(ffmpegPath, ffprobePath),
	}
}

func (c ChainDecoder) Decode(ctx context.Context, path string) (*Decoded, error) {
	if len(c) == 0 {
		return nil, fmt.Errorf("no decoders configured")
	}

	var result *multierror.Error
	for _, d := range c {
		decoded, err := d.Decode(ctx, path)
		if err == nil {
			return decoded, nil
		}
		result = multierror.Append(result, err)
	}
	return nil, result.ErrorOrNil()
}
