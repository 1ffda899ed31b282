package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavFormatPCM     = 1
	defaultChunkSize = 4096 // frames per read
)

// WAVDecoder decodes RIFF/WAVE PCM files without external tools
type WAVDecoder struct {
	// ChunkFrames is the number of frames read per PCMBuffer call
	ChunkFrames int
}

var _ Decoder = (*WAVDecoder)(nil)

func (d *WAVDecoder) Decode(ctx context.Context, path string) (*Decoded, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %s is not a WAV file", ErrUnsupported, path)
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("%w: WAV audio format %d", ErrUnsupported, dec.WavAudioFormat)
	}

	channels := int(dec.NumChans)
	decoded := &Decoded{
		Channels:   channels,
		SampleRate: int(dec.SampleRate),
	}
	if channels < 1 {
		return nil, fmt.Errorf("invalid channel count %d in %s", channels, path)
	}
	if channels == 1 {
		return decoded, nil
	}

	convert, err := toS16(int(dec.BitDepth))
	if err != nil {
		return nil, err
	}

	chunk := d.ChunkFrames
	if chunk <= 0 {
		chunk = defaultChunkSize
	}

	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: int(dec.SampleRate)},
		Data:           make([]int, chunk*channels),
		SourceBitDepth: int(dec.BitDepth),
	}
	samples := make([]int16, len(buf.Data))
	planarizer := NewPlanarizer(channels)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := dec.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read PCM from %s: %w", path, err)
		}
		if n == 0 {
			break
		}
		for i := 0; i < n; i++ {
			samples[i] = convert(buf.Data[i])
		}
		planarizer.Write(samples[:n])
		if n < len(buf.Data) {
			break
		}
	}

	decoded.Planes = planarizer.Flush()
	return decoded, nil
}

// toS16 returns a converter from the decoder's integer samples to s16
func toS16(bitDepth int) (func(int) int16, error) {
	switch bitDepth {
	case 8:
		// 8-bit WAV is unsigned
		return func(v int) int16 { return int16((v - 128) << 8) }, nil
	case 16:
		return func(v int) int16 { return int16(v) }, nil
	case 24:
		return func(v int) int16 { return int16(v >> 8) }, nil
	case 32:
		return func(v int) int16 { return int16(v >> 16) }, nil
	default:
		return nil, fmt.Errorf("%w: %d-bit PCM", ErrUnsupported, bitDepth)
	}
}

// WriteMonoWAV writes samples as a 16-bit PCM mono WAV file.
// A partially written file is removed on failure.
func WriteMonoWAV(path string, sampleRate int, samples []int16) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, wavFormatPCM)
	if err := enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize %s: %w", path, err)
	}
	return nil
}
