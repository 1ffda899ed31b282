package transcription

import (
	"math"
	"strings"

	"github.com/codebuildervaibhav/call-analyzer/internal/types"
)

// SpeakerLabel assigns a speaker by channel position. A single stream gives
// no basis to tell speakers apart.
func SpeakerLabel(channel int, multiChannel bool) types.Speaker {
	if !multiChannel {
		return types.SpeakerUnknown
	}
	switch channel {
	case 0:
		return types.SpeakerCustomer
	case 1:
		return types.SpeakerAgent
	default:
		return types.ChannelSpeaker(channel)
	}
}

// normalizeSegment converts a recognizer segment into the transcript shape
func normalizeSegment(raw RawSegment, speaker types.Speaker) types.Segment {
	seg := types.Segment{
		Start:   round(raw.Start, 2),
		End:     round(raw.End, 2),
		Text:    strings.TrimSpace(raw.Text),
		Speaker: speaker,
	}
	if seg.End < seg.Start {
		seg.End = seg.Start
	}

	// exp(avg_logprob) is a probability-like score, not a calibrated one
	if raw.AvgLogprob != nil {
		seg.Confidence = math.Exp(*raw.AvgLogprob)
	}
	if raw.NoSpeechProb != nil {
		seg.NoSpeechProb = round(*raw.NoSpeechProb, 4)
	}
	return seg
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
