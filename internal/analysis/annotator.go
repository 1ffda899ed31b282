package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/call-analyzer/internal/metrics"
	"github.com/codebuildervaibhav/call-analyzer/internal/types"
)

var (
	// ErrAnalysisFailed wraps every error returned by an Annotator
	ErrAnalysisFailed = errors.New("analysis failed")
	// ErrMalformedResponse means the model answer does not have the expected shape
	ErrMalformedResponse = errors.New("malformed analysis response")
)

// DefaultModel is the chat model used when none is configured
const DefaultModel = "gpt-5-nano"

const systemPrompt = `You are an expert conversation analyst.
You will receive the transcript of a call between an Agent and a Customer as a
JSON list of segments with start and end times.

For each segment:
1. Infer who is speaking ("Agent" or "Customer") from context.
2. Score the sentiment from 0.0 (negative) to 1.0 (positive).
Then compute the average sentiment of the whole call.

Answer only with a JSON object of this shape, keeping the segment order:
{
  "average_sentiment": float,
  "segments": [
    {"speaker": "Agent" or "Customer", "text": string, "start_time": float, "end_time": float, "sentiment_score": float}
  ]
}`

// Annotator refines speaker labels and scores sentiment per segment
type Annotator interface {
	Analyze(ctx context.Context, segments []types.Segment) (*types.AnalysisResult, error)
}

// segmentInput is what the model sees of a segment
type segmentInput struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// OpenAIAnnotator asks a chat completion model for a JSON analysis
type OpenAIAnnotator struct {
	client *openai.Client
	model  string
}

var _ Annotator = (*OpenAIAnnotator)(nil)

// NewOpenAIAnnotator creates an annotator. An empty baseURL uses the public API.
func NewOpenAIAnnotator(apiKey, baseURL, model string) *OpenAIAnnotator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &OpenAIAnnotator{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (a *OpenAIAnnotator) Analyze(ctx context.Context, segments []types.Segment) (result *types.AnalysisResult, err error) {
	defer func() {
		if err != nil {
			log.WithError(err).Errorf("Error in sentiment analysis (%d segments)", len(segments))
			metrics.AnalysisRequests.WithLabelValues("failed").Inc()
			err = fmt.Errorf("%w: %w", ErrAnalysisFailed, err)
			return
		}
		metrics.AnalysisRequests.WithLabelValues("success").Inc()
	}()

	payload, err := encodeSegments(segments)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Here are the transcript segments:\n" + payload},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", ErrMalformedResponse)
	}

	content := resp.Choices[0].Message.Content
	log.Debugf("Analysis response sample: %.100s", content)

	return ParseResponse(content)
}

// encodeSegments keeps only text and time bounds
func encodeSegments(segments []types.Segment) (string, error) {
	inputs := make([]segmentInput, len(segments))
	for i, s := range segments {
		inputs[i] = segmentInput{Text: s.Text, Start: s.Start, End: s.End}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(inputs); err != nil {
		return "", fmt.Errorf("encode segments: %w", err)
	}
	return string(bytes.TrimSpace(buf.Bytes())), nil
}
