package api

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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/whisper-web/internal/audio"
	"github.com/yegors/whisper-web/internal/config"
	"github.com/yegors/whisper-web/internal/metrics"
	"github.com/yegors/whisper-web/internal/session"
	"github.com/yegors/whisper-web/internal/storage/sqlite"
	"github.com/yegors/whisper-web/internal/transcript"
	"github.com/yegors/whisper-web/pkg/logger"
)

type fakeSession struct {
	mu         sync.Mutex
	busy       bool
	started    []session.StartRequest
	startErr   error
	resets     int
	transcript *transcript.State
}

func (s *fakeSession) Start(ctx context.Context, req session.StartRequest) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return 0, s.startErr
	}
	s.started = append(s.started, req)
	s.busy = true
	return uint64(len(s.started)), nil
}

func (s *fakeSession) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	s.busy = false
}

func (s *fakeSession) Snapshot() session.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := session.Idle
	if s.busy {
		state = session.ModelLoading
	}
	return session.Snapshot{State: state, IsBusy: s.busy, Generation: uint64(len(s.started)), RequestID: "req-1"}
}

func (s *fakeSession) Transcript() (transcript.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transcript == nil {
		return transcript.State{}, session.ErrNoTranscript
	}
	return *s.transcript, nil
}

func (s *fakeSession) Defaults() session.Settings {
	return session.Settings{Model: "Xenova/whisper-tiny", Subtask: "transcribe", Language: "auto"}
}

type fakeDecoder struct {
	err  error
	name string
}

func (d *fakeDecoder) Decode(ctx context.Context, data []byte, name string) (audio.Sample, error) {
	d.name = name
	if d.err != nil {
		return audio.Sample{}, d.err
	}
	return audio.Sample{Data: make([]float32, 2*audio.SampleRate), SampleRate: audio.SampleRate}, nil
}

type fakeFetcher struct {
	urls []string
	err  error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return nil, f.err
	}
	return []byte("RIFF"), nil
}

type fakeStore struct {
	records map[int64]*sqlite.TranscriptRecord
}

func (s *fakeStore) GetTranscripts(ctx context.Context, limit, offset int) ([]*sqlite.TranscriptRecord, error) {
	out := []*sqlite.TranscriptRecord{}
	for _, r := range s.records {
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeStore) GetTranscript(ctx context.Context, id int64) (*sqlite.TranscriptRecord, error) {
	r, ok := s.records[id]
	if !ok {
		return nil, sqlite.ErrNotFound
	}
	return r, nil
}

func (s *fakeStore) DeleteTranscript(ctx context.Context, id int64) error {
	if _, ok := s.records[id]; !ok {
		return sqlite.ErrNotFound
	}
	delete(s.records, id)
	return nil
}

type fixture struct {
	server  *httptest.Server
	session *fakeSession
	decoder *fakeDecoder
	fetcher *fakeFetcher
	store   *fakeStore
}

func newFixture(t *testing.T, mutate func(cfg *config.Config, deps *Deps)) *fixture {
	t.Helper()
	end := 1.5
	f := &fixture{
		session: &fakeSession{},
		decoder: &fakeDecoder{},
		fetcher: &fakeFetcher{},
		store: &fakeStore{records: map[int64]*sqlite.TranscriptRecord{
			7: {
				ID:   7,
				UUID: "u-7",
				Text: " Hello world",
				Chunks: []transcript.TextChunk{
					{Text: " Hello world", Timestamp: transcript.Timestamp{Start: 0, End: &end}},
				},
			},
		}},
	}

	cfg := &config.Config{}
	cfg.Server.MaxUploadMB = 10
	cfg.Storage.PageSize = 20

	deps := Deps{
		Session: f.session,
		Decoder: f.decoder,
		Fetcher: f.fetcher,
		Store:   f.store,
		Engine:  "fake",
	}
	if mutate != nil {
		mutate(cfg, &deps)
	}

	router := NewRouter(deps, metrics.NewMetrics(nil), cfg, logger.NewNop())
	f.server = httptest.NewServer(router.Routes())
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func (f *fixture) do(t *testing.T, method, path, contentType string, body io.Reader) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func multipartBody(t *testing.T, fields map[string]string, file string) (string, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != "" {
		fw, err := mw.CreateFormFile("audio", file)
		require.NoError(t, err)
		_, err = fw.Write([]byte("RIFF....WAVE"))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return mw.FormDataContentType(), buf
}

func TestHealthAndModels(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.get(t, "/api/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"engine":"fake"`)
	assert.Contains(t, string(body), `"session":"idle"`)

	resp, body = f.get(t, "/api/models")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var models struct {
		Models   []map[string]any `json:"models"`
		Defaults session.Settings `json:"defaults"`
	}
	require.NoError(t, json.Unmarshal(body, &models))
	assert.Len(t, models.Models, 3)
	assert.Equal(t, "Xenova/whisper-tiny", models.Defaults.Model)
}

func TestTranscribeUpload(t *testing.T) {
	f := newFixture(t, nil)

	ct, body := multipartBody(t, map[string]string{
		"model":        "Xenova/whisper-base",
		"multilingual": "true",
		"subtask":      "translate",
		"language":     "fr",
	}, "speech.wav")
	resp, out := f.do(t, http.MethodPost, "/api/transcribe", ct, body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(out))

	var result map[string]any
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, float64(1), result["generation"])
	assert.Equal(t, float64(2), result["audio_seconds"])

	require.Len(t, f.session.started, 1)
	started := f.session.started[0]
	assert.Equal(t, "speech.wav", started.Source)
	assert.Equal(t, "speech.wav", f.decoder.name)
	assert.Equal(t, session.Settings{
		Model:        "Xenova/whisper-base",
		Multilingual: true,
		Subtask:      "translate",
		Language:     "fr",
	}, started.Settings)
}

func TestTranscribeURL(t *testing.T) {
	f := newFixture(t, nil)

	resp, out := f.do(t, http.MethodPost, "/api/transcribe", "application/json",
		strings.NewReader(`{"url":"https://example.com/audio/jfk.wav","quantized":true}`))
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(out))

	assert.Equal(t, []string{"https://example.com/audio/jfk.wav"}, f.fetcher.urls)
	assert.Equal(t, "jfk.wav", f.decoder.name)
	started := f.session.started[0]
	assert.Equal(t, "https://example.com/audio/jfk.wav", started.Source)
	assert.True(t, started.Settings.Quantized)
	assert.Equal(t, "Xenova/whisper-tiny", started.Settings.Model)
}

func TestTranscribeErrors(t *testing.T) {
	t.Run("busy", func(t *testing.T) {
		f := newFixture(t, nil)
		f.session.busy = true
		ct, body := multipartBody(t, nil, "a.wav")
		resp, _ := f.do(t, http.MethodPost, "/api/transcribe", ct, body)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Empty(t, f.session.started)
	})

	t.Run("busy on start", func(t *testing.T) {
		f := newFixture(t, nil)
		f.session.startErr = session.ErrBusy
		ct, body := multipartBody(t, nil, "a.wav")
		resp, _ := f.do(t, http.MethodPost, "/api/transcribe", ct, body)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("no input", func(t *testing.T) {
		f := newFixture(t, nil)
		ct, body := multipartBody(t, map[string]string{"model": "x"}, "")
		resp, _ := f.do(t, http.MethodPost, "/api/transcribe", ct, body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("bad bool", func(t *testing.T) {
		f := newFixture(t, nil)
		ct, body := multipartBody(t, map[string]string{"quantized": "maybe"}, "a.wav")
		resp, _ := f.do(t, http.MethodPost, "/api/transcribe", ct, body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unsupported audio", func(t *testing.T) {
		f := newFixture(t, nil)
		f.decoder.err = audio.ErrUnsupportedFormat
		ct, body := multipartBody(t, nil, "a.ogg")
		resp, _ := f.do(t, http.MethodPost, "/api/transcribe", ct, body)
		assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
		assert.Empty(t, f.session.started)
	})

	t.Run("download failure", func(t *testing.T) {
		f := newFixture(t, nil)
		f.fetcher.err = errors.New("connection refused")
		resp, _ := f.do(t, http.MethodPost, "/api/transcribe", "application/x-www-form-urlencoded",
			strings.NewReader("url=http://nowhere/a.wav"))
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		assert.Empty(t, f.session.started)
	})

	t.Run("superseded download", func(t *testing.T) {
		f := newFixture(t, nil)
		f.fetcher.err = audio.ErrSuperseded
		resp, _ := f.do(t, http.MethodPost, "/api/transcribe", "application/json",
			strings.NewReader(`{"url":"http://nowhere/a.wav"}`))
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestSessionEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	resp, _ := f.get(t, "/api/session/export?format=srt")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	end := 2.0
	f.session.transcript = &transcript.State{
		Text:   " Hi",
		Chunks: []transcript.TextChunk{{Text: " Hi", Timestamp: transcript.Timestamp{Start: 0, End: &end}}},
	}

	resp, body := f.get(t, "/api/session/export?format=srt")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-subrip", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "transcript.srt")
	assert.Contains(t, string(body), "00:00:00,000 --> 00:00:02,000")

	resp, _ = f.get(t, "/api/session/export?format=docx")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/session/reset", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, f.session.resets)

	resp, body = f.get(t, "/api/session")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"state":"idle"`)
}

func TestTranscriptEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.get(t, "/api/transcripts")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"count":1`)
	assert.Contains(t, string(body), `"limit":20`)

	resp, body = f.get(t, "/api/transcripts/7")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"uuid":"u-7"`)

	resp, body = f.get(t, "/api/transcripts/7/export?format=txt")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hello world", string(body))

	resp, _ = f.get(t, "/api/transcripts/8")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.get(t, "/api/transcripts/abc")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/api/transcripts/7", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = f.do(t, http.MethodDelete, "/api/transcripts/7", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTranscriptsDisabled(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config, deps *Deps) { deps.Store = nil })

	resp, _ := f.get(t, "/api/transcripts")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.get(t, "/api/transcripts/1")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsRecordRoutes(t *testing.T) {
	f := newFixture(t, nil)

	f.get(t, "/api/transcripts/7")
	_, body := f.get(t, "/metrics")
	assert.Contains(t, string(body), `whisper_http_requests_total{method="GET",route="/api/transcripts/{id}",status_code="200"} 1`)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config, deps *Deps) {
		cfg.Server.CORSAllowedOrigins = []string{"http://localhost:5173"}
	})

	req, err := http.NewRequest(http.MethodOptions, f.server.URL+"/api/transcribe", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStaticFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>app</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))

	f := newFixture(t, func(cfg *config.Config, deps *Deps) { cfg.Server.StaticFilesDir = dir })

	resp, body := f.get(t, "/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html>app</html>", string(body))
	assert.Contains(t, resp.Header.Get("Cache-Control"), "no-cache")

	resp, body = f.get(t, "/app.js")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "console.log(1)", string(body))

	// client side route
	resp, body = f.get(t, "/history")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html>app</html>", string(body))

	resp, _ = f.get(t, "/missing.css")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusTeapot, map[string]any{"at": time.Unix(0, 0).UTC()})
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"at":"1970-01-01T00:00:00Z"}`, rec.Body.String())
}
