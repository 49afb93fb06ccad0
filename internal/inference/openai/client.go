// Package openai runs transcription through the OpenAI audio API
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/yegors/whisper-web/internal/audio"
	"github.com/yegors/whisper-web/internal/hub"
	"github.com/yegors/whisper-web/internal/inference"
	"github.com/yegors/whisper-web/pkg/logger"
)

var (
	String = logger.String
	Int    = logger.Int
	Error  = logger.Error
)

// Config configures the OpenAI engine
type Config struct {
	APIKey  string
	BaseURL string // Without trailing slash; falls back to OPENAI_API_BASE
	Model   string
	Timeout time.Duration
}

// Client handles communication with the OpenAI audio endpoints
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger

	transcriptionsPath string
	translationsPath   string
}

// NewClient creates a new OpenAI client
func NewClient(config Config, log *logger.Logger) *Client {
	// Determine base URL (prefer explicit config, then env, then default)
	base := strings.TrimRight(config.BaseURL, "/")
	if base == "" {
		if env := os.Getenv("OPENAI_API_BASE"); env != "" {
			base = env
		} else {
			base = "https://api.openai.com"
		}
	}
	if config.Model == "" {
		config.Model = "whisper-1"
	}
	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}

	return &Client{
		apiKey:  config.APIKey,
		model:   config.Model,
		baseURL: strings.TrimRight(base, "/"),
		logger:  log.Named("openai"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		transcriptionsPath: "/v1/audio/transcriptions",
		translationsPath:   "/v1/audio/translations",
	}
}

type verboseResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// TranscribeSegments uploads one window as WAV and returns its segments
func (c *Client) TranscribeSegments(ctx context.Context, samples []float32, sampleRate int, opts inference.Options) ([]inference.Segment, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	wav, err := audio.EncodeWAV(audio.Sample{Data: samples, SampleRate: sampleRate})
	if err != nil {
		return nil, err
	}

	path := c.transcriptionsPath
	if opts.Subtask == inference.SubtaskTranslate {
		path = c.translationsPath
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, err
	}
	fields := map[string]string{
		"model":           c.model,
		"response_format": "verbose_json",
	}
	if opts.Subtask != inference.SubtaskTranslate && opts.Language != "" && opts.Language != inference.LanguageAuto {
		fields["language"] = opts.Language
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	if path == c.transcriptionsPath {
		if err := mw.WriteField("timestamp_granularities[]", "segment"); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("transcription failed: %s %s", resp.Status, string(respBody))
	}

	var result verboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode transcription: %w", err)
	}

	segments := make([]inference.Segment, 0, len(result.Segments))
	for _, s := range result.Segments {
		segments = append(segments, inference.Segment{Start: s.Start, End: s.End, Text: s.Text})
	}
	if len(segments) == 0 && strings.TrimSpace(result.Text) != "" {
		end := result.Duration
		if end <= 0 {
			end = float64(len(samples)) / float64(sampleRate)
		}
		segments = append(segments, inference.Segment{Start: 0, End: end, Text: " " + strings.TrimSpace(result.Text)})
	}

	c.logger.Debug("Window transcribed",
		String("endpoint", path),
		Int("segments", len(segments)))

	return segments, nil
}

// Engine loads OpenAI backed pipelines. Model metadata and the tokenizer
// still come from the hub so remote output is aligned like local output.
type Engine struct {
	client *Client
	store  *hub.Store
	logger *logger.Logger
}

// NewEngine creates the engine
func NewEngine(config Config, store *hub.Store, log *logger.Logger) *Engine {
	return &Engine{
		client: NewClient(config, log),
		store:  store,
		logger: log.Named("openai-engine"),
	}
}

func (e *Engine) Name() string { return "openai" }

// Load fetches the tokenizer and model metadata for key.Model
func (e *Engine) Load(ctx context.Context, key inference.CacheKey, progress hub.ProgressFunc) (inference.Pipeline, error) {
	meta, err := e.store.LoadMetadata(ctx, key.Model, progress)
	if err != nil {
		return nil, err
	}
	e.logger.Info("Pipeline loaded", String("model", key.Model), String("remote_model", e.client.model))
	return inference.NewSegmentPipeline(meta, e.client, nil), nil
}
