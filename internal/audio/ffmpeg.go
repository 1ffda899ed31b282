package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
)

// FFmpegDecoder decodes any container ffmpeg understands
type FFmpegDecoder struct {
	ffmpegPath  string
	ffprobePath string
	chunkBytes  int
}

var _ Decoder = (*FFmpegDecoder)(nil)

// NewFFmpegDecoder creates a decoder shelling out to ffprobe and ffmpeg
func NewFFmpegDecoder(ffmpegPath, ffprobePath string) *FFmpegDecoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegDecoder{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		chunkBytes:  64 * 1024,
	}
}

type probeOutput struct {
	Streams []struct {
		Channels   int    `json:"channels"`
		SampleRate string `json:"sample_rate"`
	} `json:"streams"`
}

// probe reads the channel count and sample rate of the first audio stream
func (d *FFmpegDecoder) probe(ctx context.Context, path string) (channels, sampleRate int, err error) {
	cmd := exec.CommandContext(ctx, d.ffprobePath,
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=channels,sample_rate",
		"-of", "json",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return 0, 0, fmt.Errorf("ffprobe failed: %v\nOutput: %s", err, string(exitErr.Stderr))
		}
		return 0, 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbe(output)
}

func parseProbe(output []byte) (channels, sampleRate int, err error) {
	var parsed probeOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return 0, 0, fmt.Errorf("failed to parse ffprobe JSON: %w", err)
	}
	if len(parsed.Streams) == 0 {
		return 0, 0, fmt.Errorf("no audio stream found")
	}
	stream := parsed.Streams[0]
	if stream.Channels < 1 {
		return 0, 0, fmt.Errorf("invalid channel count %d", stream.Channels)
	}
	sampleRate, err = strconv.Atoi(stream.SampleRate)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid sample rate %q: %w", stream.SampleRate, err)
	}
	return stream.Channels, sampleRate, nil
}

func (d *FFmpegDecoder) Decode(ctx context.Context, path string) (*Decoded, error) {
	channels, sampleRate, err := d.probe(ctx, path)
	if err != nil {
		return nil, err
	}

	decoded := &Decoded{Channels: channels, SampleRate: sampleRate}
	if channels == 1 {
		return decoded, nil
	}

	// Raw s16le keeps the source layout; the planarizer de-interleaves it
	cmd := exec.CommandContext(ctx, d.ffmpegPath,
		"-v", "error",
		"-nostdin",
		"-i", path,
		"-map", "0:a:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", strconv.Itoa(channels),
		"-ar", strconv.Itoa(sampleRate),
		"-",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}

	planarizer := NewPlanarizer(channels)
	readErr := pump(stdout, d.chunkBytes, planarizer)
	waitErr := cmd.Wait()
	if readErr != nil {
		return nil, fmt.Errorf("reading ffmpeg output: %w", readErr)
	}
	if waitErr != nil {
		return nil, fmt.Errorf("ffmpeg failed: %v\nOutput: %s", waitErr, stderr.String())
	}

	decoded.Planes = planarizer.Flush()
	return decoded, nil
}

// pump feeds r into the planarizer in chunks until EOF
func pump(r io.Reader, chunkBytes int, p *Planarizer) error {
	buf := make([]byte, chunkBytes)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			p.WriteS16LE(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
