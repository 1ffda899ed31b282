package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/call-analyzer/internal/types"
)

type chatRequest struct {
	Model          string `json:"model"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func fakeOpenAI(t *testing.T, content string, captured *chatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if captured != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-5-nano",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

var segments = []types.Segment{
	{Start: 0, End: 1.5, Text: "İyi günler, size nasıl yardımcı olabilirim?", Speaker: types.SpeakerAgent, Confidence: 0.9, NoSpeechProb: 0.01},
	{Start: 1.7, End: 3, Text: "Faturam <yanlış> geldi", Speaker: types.SpeakerCustomer, Confidence: 0.8},
}

func TestAnalyzeSendsOnlyTextAndTimes(t *testing.T) {
	var req chatRequest
	srv := fakeOpenAI(t, `{
		"average_sentiment": 0.45,
		"segments": [
			{"speaker": "Agent", "text": "İyi günler, size nasıl yardımcı olabilirim?", "start_time": 0, "end_time": 1.5, "sentiment_score": 0.7},
			{"speaker": "Customer", "text": "Faturam <yanlış> geldi", "start_time": 1.7, "end_time": 3, "sentiment_score": 0.2}
		]
	}`, &req)

	a := NewOpenAIAnnotator("test-key", srv.URL+"/v1", "")
	result, err := a.Analyze(context.Background(), segments)
	require.NoError(t, err)

	assert.Equal(t, DefaultModel, req.Model)
	assert.Equal(t, "json_object", req.ResponseFormat.Type)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	user := req.Messages[1].Content
	assert.Contains(t, user, `"text":"Faturam <yanlış> geldi","start":1.7,"end":3`)
	assert.NotContains(t, user, "confidence")
	assert.NotContains(t, user, "no_speech_prob")
	assert.NotContains(t, user, "speaker")

	assert.Equal(t, 0.45, result.AverageSentiment)
	require.Len(t, result.Segments, 2)
	assert.Equal(t, types.AnnotatedSegment{
		Speaker: "Customer", Text: "Faturam <yanlış> geldi", StartTime: 1.7, EndTime: 3, SentimentScore: 0.2,
	}, result.Segments[1])
}

func TestAnalyzeMalformedAnswerFails(t *testing.T) {
	srv := fakeOpenAI(t, `I think the call went well`, nil)

	a := NewOpenAIAnnotator("test-key", srv.URL+"/v1", "gpt-4o-mini")
	result, err := a.Analyze(context.Background(), segments)
	require.ErrorIs(t, err, ErrAnalysisFailed)
	require.ErrorIs(t, err, ErrMalformedResponse)
	assert.Nil(t, result)
}

func TestAnalyzeHTTPErrorFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"upstream down","type":"server_error"}}`))
	}))
	defer srv.Close()

	a := NewOpenAIAnnotator("test-key", srv.URL+"/v1", "")
	_, err := a.Analyze(context.Background(), segments)
	require.ErrorIs(t, err, ErrAnalysisFailed)
}

func TestParseResponseAcceptsRangeBounds(t *testing.T) {
	result, err := ParseResponse(`{"average_sentiment":1,"segments":[{"speaker":"Agent","text":"x","start_time":0,"end_time":1,"sentiment_score":0}]}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, result.AverageSentiment)
	require.Len(t, result.Segments, 1)
	assert.Equal(t, 0.0, result.Segments[0].SentimentScore)
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"valid", `{"average_sentiment":0.5,"segments":[]}`, false},
		{"not json", `nope`, true},
		{"array", `[]`, true},
		{"missing average", `{"segments":[]}`, true},
		{"missing segments", `{"average_sentiment":0.5}`, true},
		{"incomplete segment", `{"average_sentiment":0.5,"segments":[{"speaker":"Agent","text":"x","start_time":0,"end_time":1}]}`, true},
		{"average above one", `{"average_sentiment":1.5,"segments":[]}`, true},
		{"negative average", `{"average_sentiment":-0.2,"segments":[]}`, true},
		{"segment score out of range", `{"average_sentiment":0.5,"segments":[{"speaker":"Agent","text":"x","start_time":0,"end_time":1,"sentiment_score":7}]}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseResponse(tt.content)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedResponse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 0.5, result.AverageSentiment)
			assert.Empty(t, result.Segments)
		})
	}
}

func TestEncodeSegmentsKeepsUnicode(t *testing.T) {
	payload, err := encodeSegments(segments[:1])
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(payload, `[{"text":"İyi günler`))
}
