package transcription

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/call-analyzer/internal/audio"
	"github.com/codebuildervaibhav/call-analyzer/internal/types"
)

func ptr(v float64) *float64 { return &v }

type fakeRecognizer struct {
	results map[string]*Recognition
	errs    map[string]error
	panics  map[string]bool
	calls   []string
	existed []bool
}

func (f *fakeRecognizer) Transcribe(_ context.Context, path string) (*Recognition, error) {
	name := filepath.Base(path)
	f.calls = append(f.calls, name)
	_, statErr := os.Stat(path)
	f.existed = append(f.existed, statErr == nil)

	if f.panics[name] {
		panic("model crashed")
	}
	if err := f.errs[name]; err != nil {
		return nil, err
	}
	if r, ok := f.results[name]; ok {
		return r, nil
	}
	return &Recognition{Language: "tr"}, nil
}

type failingDecoder struct{}

func (failingDecoder) Decode(context.Context, string) (*audio.Decoded, error) {
	return nil, errors.New("corrupt container")
}

func writeWAV(t *testing.T, path string, channels, sampleRate, frames int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           make([]int, channels*frames),
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func newTestPipeline(rec Recognizer) *Pipeline {
	return NewPipeline(audio.NewSplitter(&audio.WAVDecoder{}), rec)
}

func TestTranscribeMonoClip(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "clip.wav")
	writeWAV(t, source, 1, 8000, 3*8000)

	rec := &fakeRecognizer{results: map[string]*Recognition{
		"clip.wav": {
			Language: "en",
			Duration: 3.0,
			Segments: []RawSegment{{Start: 0.5, End: 1.2, Text: " hello ", AvgLogprob: ptr(-0.25), NoSpeechProb: ptr(0.012345)}},
		},
	}}

	result, err := newTestPipeline(rec).Transcribe(context.Background(), source)
	require.NoError(t, err)

	require.Len(t, result.Segments, 1)
	seg := result.Segments[0]
	assert.Equal(t, 0.5, seg.Start)
	assert.Equal(t, 1.2, seg.End)
	assert.Equal(t, "hello", seg.Text)
	assert.Equal(t, types.SpeakerUnknown, seg.Speaker)
	assert.Equal(t, 0.0123, seg.NoSpeechProb)
	assert.Equal(t, "hello", result.Text)
	assert.Equal(t, "en", result.Language)
	assert.Equal(t, 3.0, result.Duration)

	assert.Equal(t, []string{"clip.wav"}, rec.calls)
	assert.Equal(t, []string{"clip.wav"}, listDir(t, dir))
}

func TestTranscribeStereoInterleavesChannels(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "call.wav")
	writeWAV(t, source, 2, 8000, 8000)

	rec := &fakeRecognizer{results: map[string]*Recognition{
		"call.wav_ch0.wav": {
			Language: "tr",
			Duration: 2.5,
			Segments: []RawSegment{{Start: 1.0, End: 2.0, Text: "merhaba", AvgLogprob: ptr(-0.1)}},
		},
		"call.wav_ch1.wav": {
			Language: "en",
			Duration: 9.9,
			Segments: []RawSegment{{Start: 0.0, End: 0.5, Text: "iyi günler", AvgLogprob: ptr(-0.2)}},
		},
	}}

	result, err := newTestPipeline(rec).Transcribe(context.Background(), source)
	require.NoError(t, err)

	require.Len(t, result.Segments, 2)
	assert.Equal(t, "iyi günler", result.Segments[0].Text)
	assert.Equal(t, types.SpeakerAgent, result.Segments[0].Speaker)
	assert.Equal(t, "merhaba", result.Segments[1].Text)
	assert.Equal(t, types.SpeakerCustomer, result.Segments[1].Speaker)
	assert.Equal(t, "iyi günler merhaba", result.Text)

	// channel 0 is authoritative
	assert.Equal(t, "tr", result.Language)
	assert.Equal(t, 2.5, result.Duration)

	assert.Equal(t, []string{"call.wav_ch0.wav", "call.wav_ch1.wav"}, rec.calls)
	assert.Equal(t, []bool{true, true}, rec.existed)
	assert.Equal(t, []string{"call.wav"}, listDir(t, dir))
}

func TestTranscribeThirdChannelGetsGenericLabel(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "conf.wav")
	writeWAV(t, source, 3, 8000, 100)

	rec := &fakeRecognizer{results: map[string]*Recognition{
		"conf.wav_ch2.wav": {Segments: []RawSegment{{Start: 0.1, End: 0.2, Text: "third"}}},
	}}

	result, err := newTestPipeline(rec).Transcribe(context.Background(), source)
	require.NoError(t, err)
	require.Len(t, result.Segments, 1)
	assert.Equal(t, types.Speaker("Channel-2"), result.Segments[0].Speaker)
	assert.Equal(t, []string{"conf.wav"}, listDir(t, dir))
}

func TestTranscribeDecodeFailureActsAsMono(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "call.m4a")
	require.NoError(t, os.WriteFile(source, []byte("not really m4a"), 0644))

	rec := &fakeRecognizer{results: map[string]*Recognition{
		"call.m4a": {Segments: []RawSegment{{Start: 0, End: 1, Text: "fallback"}}},
	}}

	p := NewPipeline(audio.NewSplitter(failingDecoder{}), rec)
	result, err := p.Transcribe(context.Background(), source)
	require.NoError(t, err)

	assert.Equal(t, []string{"call.m4a"}, rec.calls)
	require.Len(t, result.Segments, 1)
	assert.Equal(t, types.SpeakerUnknown, result.Segments[0].Speaker)
	assert.Equal(t, []string{"call.m4a"}, listDir(t, dir))
}

func TestTranscribeChannelFailureCleansUpAndFails(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "call.wav")
	writeWAV(t, source, 2, 8000, 100)

	rec := &fakeRecognizer{
		results: map[string]*Recognition{
			"call.wav_ch0.wav": {Segments: []RawSegment{{Start: 0, End: 1, Text: "kept?"}}},
		},
		errs: map[string]error{"call.wav_ch1.wav": errors.New("CUDA out of memory")},
	}

	result, err := newTestPipeline(rec).Transcribe(context.Background(), source)
	require.ErrorIs(t, err, ErrTranscriptionFailed)
	assert.Contains(t, err.Error(), "CUDA out of memory")
	assert.Nil(t, result)
	assert.Equal(t, []string{"call.wav"}, listDir(t, dir))
}

func TestTranscribeFirstChannelFailureRemovesUnprocessedChannels(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "call.wav")
	writeWAV(t, source, 2, 8000, 100)

	rec := &fakeRecognizer{errs: map[string]error{"call.wav_ch0.wav": errors.New("boom")}}

	_, err := newTestPipeline(rec).Transcribe(context.Background(), source)
	require.ErrorIs(t, err, ErrTranscriptionFailed)
	assert.Equal(t, []string{"call.wav_ch0.wav"}, rec.calls)
	assert.Equal(t, []string{"call.wav"}, listDir(t, dir))
}

func TestTranscribeRecognizerPanicIsFailure(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "call.wav")
	writeWAV(t, source, 2, 8000, 100)

	rec := &fakeRecognizer{panics: map[string]bool{"call.wav_ch0.wav": true}}

	result, err := newTestPipeline(rec).Transcribe(context.Background(), source)
	require.ErrorIs(t, err, ErrTranscriptionFailed)
	assert.Nil(t, result)
	assert.Equal(t, []string{"call.wav"}, listDir(t, dir))
}

func TestTranscribeZeroSegmentsIsValid(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "silence.wav")
	writeWAV(t, source, 2, 8000, 100)

	result, err := newTestPipeline(&fakeRecognizer{}).Transcribe(context.Background(), source)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Empty(t, result.Segments)
	assert.NotNil(t, result.Segments)
	assert.Equal(t, "", result.Text)
}

func TestTranscribeIsRepeatable(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "call.wav")
	writeWAV(t, source, 2, 8000, 100)

	rec := &fakeRecognizer{results: map[string]*Recognition{
		"call.wav_ch0.wav": {Segments: []RawSegment{{Start: 0.3, End: 0.9, Text: "a"}, {Start: 2, End: 3, Text: "c"}}},
		"call.wav_ch1.wav": {Segments: []RawSegment{{Start: 1, End: 1.5, Text: "b"}}},
	}}
	p := newTestPipeline(rec)

	first, err := p.Transcribe(context.Background(), source)
	require.NoError(t, err)
	second, err := p.Transcribe(context.Background(), source)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "a b c", first.Text)
	assert.Equal(t, []string{"call.wav"}, listDir(t, dir))
}

func TestChannelSetReleasesOnce(t *testing.T) {
	dir := t.TempDir()
	tmp := filepath.Join(dir, "x_ch0.wav")
	src := filepath.Join(dir, "x")
	require.NoError(t, os.WriteFile(tmp, nil, 0644))
	require.NoError(t, os.WriteFile(src, nil, 0644))

	set := newChannelSet([]audio.ChannelStream{
		{Index: 0, Path: tmp, Temporary: true},
		{Index: 1, Path: src},
	})
	set.release(0)
	// recreate to prove a second release does not touch it
	require.NoError(t, os.WriteFile(tmp, nil, 0644))
	set.releaseAll()

	assert.ElementsMatch(t, []string{"x", "x_ch0.wav"}, listDir(t, dir))
}
