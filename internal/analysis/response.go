package analysis

import (
	"encoding/json"
	"fmt"

	"github.com/codebuildervaibhav/call-analyzer/internal/types"
)

type rawAnalysis struct {
	AverageSentiment *float64        `json:"average_sentiment"`
	Segments         *[]rawAnnotated `json:"segments"`
}

type rawAnnotated struct {
	Speaker        *string  `json:"speaker"`
	Text           *string  `json:"text"`
	StartTime      *float64 `json:"start_time"`
	EndTime        *float64 `json:"end_time"`
	SentimentScore *float64 `json:"sentiment_score"`
}

// ParseResponse decodes the model answer into an AnalysisResult.
// Segment count and order are taken as returned.
func ParseResponse(content string) (*types.AnalysisResult, error) {
	var raw rawAnalysis
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if raw.AverageSentiment == nil {
		return nil, fmt.Errorf("%w: missing average_sentiment", ErrMalformedResponse)
	}
	if raw.Segments == nil {
		return nil, fmt.Errorf("%w: missing segments", ErrMalformedResponse)
	}
	if !inUnitRange(*raw.AverageSentiment) {
		return nil, fmt.Errorf("%w: average_sentiment %v outside [0, 1]", ErrMalformedResponse, *raw.AverageSentiment)
	}

	result := &types.AnalysisResult{
		AverageSentiment: *raw.AverageSentiment,
		Segments:         make([]types.AnnotatedSegment, 0, len(*raw.Segments)),
	}
	for i, s := range *raw.Segments {
		if s.Speaker == nil || s.Text == nil || s.StartTime == nil || s.EndTime == nil || s.SentimentScore == nil {
			return nil, fmt.Errorf("%w: segment %d is incomplete", ErrMalformedResponse, i)
		}
		if !inUnitRange(*s.SentimentScore) {
			return nil, fmt.Errorf("%w: segment %d sentiment_score %v outside [0, 1]", ErrMalformedResponse, i, *s.SentimentScore)
		}
		result.Segments = append(result.Segments, types.AnnotatedSegment{
			Speaker:        *s.Speaker,
			Text:           *s.Text,
			StartTime:      *s.StartTime,
			EndTime:        *s.EndTime,
			SentimentScore: *s.SentimentScore,
		})
	}
	return result, nil
}

// scores run from 0 (negative) to 1 (positive)
func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}
