package types

import (
	"fmt"
	"time"
)

// Recording status constants
const (
	StatusUploaded     = "UPLOADED"
	StatusTranscribing = "TRANSCRIBING"
	StatusTranscribed  = "TRANSCRIBED"
	StatusCompleted    = "COMPLETED"
	StatusFailed       = "FAILED"
)

// Source type constants
const (
	SourceUpload = "upload"
	SourceStream = "stream"
	SourceInbox  = "inbox"
	SourceGDrive = "gdrive"
)

// Speaker is the label attached to a transcript segment
type Speaker string

const (
	SpeakerCustomer Speaker = "Customer"
	SpeakerAgent    Speaker = "Agent"
	SpeakerUnknown  Speaker = "Unknown"
)

// ChannelSpeaker returns the label for a generic channel beyond Customer/Agent
func ChannelSpeaker(index int) Speaker {
	return Speaker(fmt.Sprintf("Channel-%d", index))
}

// Segment represents one recognized utterance
type Segment struct {
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Text         string  `json:"text"`
	Speaker      Speaker `json:"speaker"`
	Confidence   float64 `json:"confidence"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

// TranscriptResult is the merged output of one transcription run
type TranscriptResult struct {
	Duration float64   `json:"duration"`
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

// AnnotatedSegment is a segment after speaker refinement and sentiment scoring
type AnnotatedSegment struct {
	Speaker        string  `json:"speaker"`
	Text           string  `json:"text"`
	StartTime      float64 `json:"start_time"`
	EndTime        float64 `json:"end_time"`
	SentimentScore float64 `json:"sentiment_score"`
}

// AnalysisResult is the output of the sentiment/role annotator
type AnalysisResult struct {
	AverageSentiment float64            `json:"average_sentiment"`
	Segments         []AnnotatedSegment `json:"segments"`
}

// Recording is the persisted state of one uploaded call
type Recording struct {
	ID               int64     `json:"id"`
	Filename         string    `json:"filename"`
	Path             string    `json:"-"`
	AudioURL         string    `json:"audio_url,omitempty"`
	SourceType       string    `json:"source_type"`
	UploadDate       time.Time `json:"upload_date"`
	Status           string    `json:"status"`
	TranscriptText   *string   `json:"transcript_text"`
	Duration         float64   `json:"duration"`
	Language         string    `json:"language"`
	AverageSentiment float64   `json:"average_sentiment"`
	Error            string    `json:"error,omitempty"`
	ArchiveURLs      []string  `json:"archive_urls,omitempty"`
}

// RecordingDetail is a recording together with its segments
type RecordingDetail struct {
	Recording
	Segments []AnnotatedSegment `json:"segments"`
}
