package transcription

import (
	"context"
)

// RawSegment is a segment as emitted by the speech recognizer, before
// normalization. Optional values are nil when the engine did not report them.
type RawSegment struct {
	Start        float64  `json:"start"`
	End          float64  `json:"end"`
	Text         string   `json:"text"`
	AvgLogprob   *float64 `json:"avg_logprob"`
	NoSpeechProb *float64 `json:"no_speech_prob"`
}

// Recognition is the result of running the recognizer on one mono stream
type Recognition struct {
	Language string       `json:"language"`
	Duration float64      `json:"duration"`
	Segments []RawSegment `json:"segments"`
}

// Recognizer runs speech-to-text on a single mono audio file.
// Implementations are long-lived and used sequentially.
type Recognizer interface {
	Transcribe(ctx context.Context, audioPath string) (*Recognition, error)
}

// Options controls decoding of the recognizer
type Options struct {
	BeamSize                int    `json:"beam_size"`
	Language                string `json:"language"`
	ConditionOnPreviousText bool   `json:"condition_on_previous_text"`
	VADFilter               bool   `json:"vad_filter"`
	MinSilenceDurationMS    int    `json:"min_silence_duration_ms"`
	WordTimestamps          bool   `json:"word_timestamps"`
}

// DefaultOptions decodes every segment independently of the previous text
// and drops silence shorter than half a second.
func DefaultOptions() Options {
	return Options{
		BeamSize:                5,
		Language:                "tr",
		ConditionOnPreviousText: false,
		VADFilter:               true,
		MinSilenceDurationMS:    500,
		WordTimestamps:          true,
	}
}
