package transcription

import (
	"sort"
	"strings"

	"github.com/codebuildervaibhav/call-analyzer/internal/types"
)

const unknownLanguage = "unknown"

// ChannelTranscript holds the normalized segments of one channel
type ChannelTranscript struct {
	Index    int
	Language string
	Duration float64
	Segments []types.Segment
}

// Merge interleaves the channels into one transcript ordered by start time.
// Ties keep channel order. Language and duration come from channel 0 only.
func Merge(channels []ChannelTranscript) *types.TranscriptResult {
	result := &types.TranscriptResult{
		Language: unknownLanguage,
		Segments: []types.Segment{},
	}

	for _, ch := range channels {
		if ch.Index == 0 {
			if ch.Language != "" {
				result.Language = ch.Language
			}
			result.Duration = round(ch.Duration, 2)
		}
		result.Segments = append(result.Segments, ch.Segments...)
	}

	sort.SliceStable(result.Segments, func(i, j int) bool {
		return result.Segments[i].Start < result.Segments[j].Start
	})

	texts := make([]string, len(result.Segments))
	for i, seg := range result.Segments {
		texts[i] = seg.Text
	}
	result.Text = strings.Join(texts, " ")

	return result
}
