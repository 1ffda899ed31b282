package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/call-analyzer/internal/analysis"
	"github.com/codebuildervaibhav/call-analyzer/internal/queue"
	"github.com/codebuildervaibhav/call-analyzer/internal/storage"
	"github.com/codebuildervaibhav/call-analyzer/internal/types"
)

type fakeQueue struct {
	mu   sync.Mutex
	jobs []*queue.Job
	err  error
}

func (q *fakeQueue) EnqueueJob(ctx context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type fakeAnnotator struct {
	result *types.AnalysisResult
	err    error
	got    []types.Segment
}

func (a *fakeAnnotator) Analyze(ctx context.Context, segments []types.Segment) (*types.AnalysisResult, error) {
	a.got = segments
	return a.result, a.err
}

type testServer struct {
	app       *fiber.App
	db        *storage.MetadataDB
	files     *storage.LocalStorage
	queue     *fakeQueue
	annotator *fakeAnnotator
	uploadDir string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	uploadDir := filepath.Join(dir, "uploads")
	require.NoError(t, os.MkdirAll(uploadDir, 0755))

	db, err := storage.NewMetadataDB(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ts := &testServer{
		app:       fiber.New(),
		db:        db,
		files:     storage.NewLocalStorage(filepath.Join(dir, "output")),
		queue:     &fakeQueue{},
		annotator: &fakeAnnotator{},
		uploadDir: uploadDir,
	}
	ts.app.Post("/upload", NewUploadHandler(db, uploadDir, 1).Handle)
	NewRecordingsHandler(db, ts.files, ts.queue, ts.annotator, uploadDir).Register(ts.app)
	return ts
}

func (ts *testServer) do(t *testing.T, req *http.Request, out any) int {
	t.Helper()
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// addRecording stores a fake audio file and its recording row
func (ts *testServer) addRecording(t *testing.T, status string) *types.Recording {
	t.Helper()
	path := filepath.Join(ts.uploadDir, "stored.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0644))

	rec := &types.Recording{Filename: "call.wav", Path: path, Status: status}
	require.NoError(t, ts.db.CreateRecording(context.Background(), rec))
	return rec
}

func multipartUpload(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUploadCreatesRecording(t *testing.T) {
	ts := newTestServer(t)

	var rec types.Recording
	status := ts.do(t, multipartUpload(t, "müşteri görüşmesi.wav", []byte("RIFFdata")), &rec)
	require.Equal(t, http.StatusOK, status)

	assert.NotZero(t, rec.ID)
	assert.Equal(t, "müşteri görüşmesi.wav", rec.Filename)
	assert.Equal(t, types.StatusUploaded, rec.Status)
	assert.True(t, strings.HasPrefix(rec.AudioURL, "/uploads/"))
	assert.True(t, strings.HasSuffix(rec.AudioURL, ".wav"))

	stored, err := ts.db.GetRecording(context.Background(), rec.ID)
	require.NoError(t, err)
	data, err := os.ReadFile(stored.Path)
	require.NoError(t, err)
	assert.Equal(t, "RIFFdata", string(data))
}

func TestUploadRejectsBadInput(t *testing.T) {
	ts := newTestServer(t)

	var body map[string]string
	status := ts.do(t, multipartUpload(t, "notes.txt", []byte("hello")), &body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "ERR_INVALID_FORMAT", body["code"])

	status = ts.do(t, multipartUpload(t, "big.wav", make([]byte, 1024*1024+1)), &body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "ERR_FILE_TOO_LARGE", body["code"])

	status = ts.do(t, httptest.NewRequest(http.MethodPost, "/upload", nil), &body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "ERR_NO_FILE", body["code"])
}

func TestTranscribeQueuesJob(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.addRecording(t, types.StatusUploaded)

	var body map[string]any
	status := ts.do(t, httptest.NewRequest(http.MethodPost, "/recordings/1/transcribe", nil), &body)
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, types.StatusTranscribing, body["status"])

	require.Len(t, ts.queue.jobs, 1)
	assert.Equal(t, rec.ID, ts.queue.jobs[0].RecordingID)
	assert.Equal(t, rec.Path, ts.queue.jobs[0].FilePath)
}

func TestTranscribeErrors(t *testing.T) {
	ts := newTestServer(t)

	var body map[string]string
	assert.Equal(t, http.StatusNotFound, ts.do(t, httptest.NewRequest(http.MethodPost, "/recordings/9/transcribe", nil), &body))
	assert.Equal(t, http.StatusBadRequest, ts.do(t, httptest.NewRequest(http.MethodPost, "/recordings/abc/transcribe", nil), &body))

	rec := ts.addRecording(t, types.StatusTranscribing)
	assert.Equal(t, http.StatusConflict, ts.do(t, httptest.NewRequest(http.MethodPost, "/recordings/1/transcribe", nil), &body))

	require.NoError(t, ts.db.SetStatus(context.Background(), rec.ID, types.StatusUploaded, ""))
	ts.queue.err = queue.ErrInProgress
	assert.Equal(t, http.StatusConflict, ts.do(t, httptest.NewRequest(http.MethodPost, "/recordings/1/transcribe", nil), &body))
	assert.Equal(t, "ERR_IN_PROGRESS", body["code"])

	ts.queue.err = queue.ErrQueueFull
	assert.Equal(t, http.StatusServiceUnavailable, ts.do(t, httptest.NewRequest(http.MethodPost, "/recordings/1/transcribe", nil), &body))

	require.NoError(t, os.Remove(rec.Path))
	assert.Equal(t, http.StatusNotFound, ts.do(t, httptest.NewRequest(http.MethodPost, "/recordings/1/transcribe", nil), &body))
	assert.Equal(t, "Audio file not found", body["error"])
}

func TestAnalyzeRequiresTranscription(t *testing.T) {
	ts := newTestServer(t)
	ts.addRecording(t, types.StatusUploaded)

	var body map[string]string
	status := ts.do(t, httptest.NewRequest(http.MethodPost, "/recordings/1/analyze", nil), &body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Recording must be transcribed first", body["error"])
}

func TestAnalyzeStoresSegments(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.addRecording(t, types.StatusUploaded)
	raw := []types.Segment{
		{Start: 0, End: 1, Text: "İyi günler", Speaker: types.SpeakerAgent, Confidence: 0.9},
		{Start: 1.5, End: 2, Text: "Merhaba", Speaker: types.SpeakerCustomer, Confidence: 0.8},
	}
	_, err := ts.files.SaveSegments(rec.Path, raw)
	require.NoError(t, err)
	require.NoError(t, ts.db.SaveTranscription(context.Background(), rec.ID, &types.TranscriptResult{Text: "İyi günler Merhaba", Language: "tr", Duration: 2}))

	// before analysis the detail view falls back to the stored segments
	var detail types.RecordingDetail
	require.Equal(t, http.StatusOK, ts.do(t, httptest.NewRequest(http.MethodGet, "/recordings/1", nil), &detail))
	require.Len(t, detail.Segments, 2)
	assert.Equal(t, "Agent", detail.Segments[0].Speaker)
	assert.Equal(t, 0.0, detail.Segments[0].SentimentScore)

	ts.annotator.result = &types.AnalysisResult{AverageSentiment: 0.7, Segments: []types.AnnotatedSegment{
		{Speaker: "Agent", Text: "İyi günler", StartTime: 0, EndTime: 1, SentimentScore: 0.8},
		{Speaker: "Customer", Text: "Merhaba", StartTime: 1.5, EndTime: 2, SentimentScore: 0.6},
	}}
	require.Equal(t, http.StatusOK, ts.do(t, httptest.NewRequest(http.MethodPost, "/recordings/1/analyze", nil), &detail))
	assert.Equal(t, raw, ts.annotator.got)
	assert.Equal(t, types.StatusCompleted, detail.Status)
	assert.Equal(t, 0.7, detail.AverageSentiment)

	// re-analysis replaces the stored segments
	ts.annotator.result = &types.AnalysisResult{AverageSentiment: 0.2, Segments: []types.AnnotatedSegment{
		{Speaker: "Customer", Text: "Merhaba", StartTime: 1.5, EndTime: 2, SentimentScore: 0.2},
	}}
	require.Equal(t, http.StatusOK, ts.do(t, httptest.NewRequest(http.MethodPost, "/recordings/1/analyze", nil), &detail))

	require.Equal(t, http.StatusOK, ts.do(t, httptest.NewRequest(http.MethodGet, "/recordings/1", nil), &detail))
	assert.Equal(t, types.StatusCompleted, detail.Status)
	assert.Equal(t, ts.annotator.result.Segments, detail.Segments)
}

func TestAnalyzeFailure(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.addRecording(t, types.StatusUploaded)
	require.NoError(t, ts.db.SaveTranscription(context.Background(), rec.ID, &types.TranscriptResult{}))

	var body map[string]string
	status := ts.do(t, httptest.NewRequest(http.MethodPost, "/recordings/1/analyze", nil), &body)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Transcript segments not found", body["error"])

	_, err := ts.files.SaveSegments(rec.Path, []types.Segment{})
	require.NoError(t, err)
	ts.annotator.err = errors.Join(analysis.ErrAnalysisFailed, analysis.ErrMalformedResponse)
	status = ts.do(t, httptest.NewRequest(http.MethodPost, "/recordings/1/analyze", nil), &body)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Analysis failed", body["error"])

	got, err := ts.db.GetRecording(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusTranscribed, got.Status)
}

func TestListRecordings(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < 3; i++ {
		ts.addRecording(t, types.StatusUploaded)
	}

	var recordings []types.Recording
	require.Equal(t, http.StatusOK, ts.do(t, httptest.NewRequest(http.MethodGet, "/recordings?skip=1&limit=5", nil), &recordings))
	assert.Len(t, recordings, 2)

	var body map[string]string
	assert.Equal(t, http.StatusBadRequest, ts.do(t, httptest.NewRequest(http.MethodGet, "/recordings?limit=-1", nil), &body))
}

func TestAudioURLOnlyForUploadedFiles(t *testing.T) {
	ts := newTestServer(t)
	ts.addRecording(t, types.StatusUploaded)

	inboxPath := filepath.Join(t.TempDir(), "inbox", "call.wav")
	inbox := &types.Recording{Filename: "call.wav", Path: inboxPath, SourceType: types.SourceInbox, Status: types.StatusUploaded}
	require.NoError(t, ts.db.CreateRecording(context.Background(), inbox))

	var rec types.RecordingDetail
	require.Equal(t, http.StatusOK, ts.do(t, httptest.NewRequest(http.MethodGet, "/recordings/1", nil), &rec))
	assert.Equal(t, "/uploads/stored.wav", rec.AudioURL)

	rec = types.RecordingDetail{}
	require.Equal(t, http.StatusOK, ts.do(t, httptest.NewRequest(http.MethodGet, "/recordings/2", nil), &rec))
	assert.Empty(t, rec.AudioURL)

	var recordings []types.Recording
	require.Equal(t, http.StatusOK, ts.do(t, httptest.NewRequest(http.MethodGet, "/recordings", nil), &recordings))
	require.Len(t, recordings, 2)
	for _, r := range recordings {
		if r.ID == inbox.ID {
			assert.Empty(t, r.AudioURL)
		} else {
			assert.Equal(t, "/uploads/stored.wav", r.AudioURL)
		}
	}
}

type scriptedReader struct {
	frames []struct {
		kind int
		data []byte
	}
}

func (r *scriptedReader) add(kind int, data string) *scriptedReader {
	r.frames = append(r.frames, struct {
		kind int
		data []byte
	}{kind, []byte(data)})
	return r
}

func (r *scriptedReader) ReadMessage() (int, []byte, error) {
	if len(r.frames) == 0 {
		return 0, nil, io.EOF
	}
	f := r.frames[0]
	r.frames = r.frames[1:]
	return f.kind, f.data, nil
}

func TestStreamReceiveAndSave(t *testing.T) {
	ts := newTestServer(t)
	h := NewStreamHandler(ts.db, ts.uploadDir, 1)

	r := (&scriptedReader{}).
		add(websocket.TextMessage, "hat-1.ogg").
		add(websocket.BinaryMessage, "OggS").
		add(websocket.BinaryMessage, "more").
		add(websocket.TextMessage, "END").
		add(websocket.BinaryMessage, "ignored")

	name, data, err := h.receive(r)
	require.NoError(t, err)
	assert.Equal(t, "hat-1.ogg", name)
	assert.Equal(t, "OggSmore", string(data))

	rec, err := h.save(context.Background(), name, data)
	require.NoError(t, err)
	assert.Equal(t, types.SourceStream, rec.SourceType)
	assert.Equal(t, ".ogg", filepath.Ext(rec.Path))
	assert.FileExists(t, rec.Path)

	_, err = h.save(context.Background(), "", nil)
	require.Error(t, err)
}

func TestStreamSizeLimit(t *testing.T) {
	h := &StreamHandler{maxBytes: 4}
	r := (&scriptedReader{}).add(websocket.BinaryMessage, "12345")
	_, _, err := h.receive(r)
	require.ErrorIs(t, err, errStreamTooLarge)
}

func TestGDriveImport(t *testing.T) {
	ts := newTestServer(t)
	drive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") != "abcdefghijklmnopqrstuvwxyz123" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("ID3audio"))
	}))
	defer drive.Close()

	h := NewGDriveHandler(ts.db, ts.uploadDir, 1)
	h.downloadURL = drive.URL + "/uc?id=%s"
	ts.app.Post("/gdrive", h.Handle)

	post := func(body string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/gdrive", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return req
	}

	var rec types.Recording
	status := ts.do(t, post(`{"url":"https://drive.google.com/file/d/abcdefghijklmnopqrstuvwxyz123/view","name":"call.m4a"}`), &rec)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, types.SourceGDrive, rec.SourceType)
	assert.Equal(t, "call.m4a", rec.Filename)

	var body map[string]string
	assert.Equal(t, http.StatusBadRequest, ts.do(t, post(`{"url":"https://example.com/x"}`), &body))
	assert.Equal(t, "ERR_INVALID_URL", body["code"])
	assert.Equal(t, http.StatusBadRequest, ts.do(t, post(`{"url":"https://drive.google.com/open?id=missingfile"}`), &body))
	assert.Equal(t, "ERR_DOWNLOAD_FAILED", body["code"])
}

func TestExtractGDriveFileID(t *testing.T) {
	assert.Equal(t, "abc_DEF-123", extractGDriveFileID("https://drive.google.com/file/d/abc_DEF-123/view?usp=sharing"))
	assert.Equal(t, "xyz", extractGDriveFileID("https://drive.google.com/open?id=xyz"))
	assert.Equal(t, "", extractGDriveFileID("https://example.com"))
}
