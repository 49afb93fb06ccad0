// Package gemini runs transcription through Gemini's multimodal models
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/yegors/whisper-web/internal/audio"
	"github.com/yegors/whisper-web/internal/hub"
	"github.com/yegors/whisper-web/internal/inference"
	"github.com/yegors/whisper-web/pkg/logger"
)

const DefaultModel = "gemini-2.5-flash"

// Config configures the Gemini engine
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Generator is the subset of the genai models service the client uses
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client transcribes audio windows with Gemini
type Client struct {
	models  Generator
	model   string
	timeout time.Duration
	logger  *logger.Logger
}

// NewClient creates a client backed by the genai SDK
func NewClient(ctx context.Context, config Config, log *logger.Logger) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}
	gc, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return newClient(gc.Models, config, log), nil
}

func newClient(models Generator, config Config, log *logger.Logger) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}
	return &Client{
		models:  models,
		model:   config.Model,
		timeout: config.Timeout,
		logger:  log.Named("gemini"),
	}
}

var segmentSchema = &genai.Schema{
	Type: genai.TypeArray,
	Items: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"start": {Type: genai.TypeNumber, Description: "segment start in seconds from the beginning of the clip"},
			"end":   {Type: genai.TypeNumber, Description: "segment end in seconds from the beginning of the clip"},
			"text":  {Type: genai.TypeString, Description: "spoken text of the segment"},
		},
		Required: []string{"start", "end", "text"},
	},
}

func prompt(opts inference.Options) string {
	var b strings.Builder
	if opts.Subtask == inference.SubtaskTranslate {
		b.WriteString("Translate the speech in this audio clip into English.")
	} else {
		b.WriteString("Transcribe the speech in this audio clip verbatim.")
		if opts.Language != "" && opts.Language != inference.LanguageAuto {
			fmt.Fprintf(&b, " The spoken language is %q.", opts.Language)
		}
	}
	b.WriteString(" Split the output into sentence-level segments with start and end times in seconds.")
	b.WriteString(" Return an empty array if there is no speech.")
	return b.String()
}

type segmentJSON struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscribeSegments sends one window as inline WAV data and parses the
// structured response
func (c *Client) TranscribeSegments(ctx context.Context, samples []float32, sampleRate int, opts inference.Options) ([]inference.Segment, error) {
	wav, err := audio.EncodeWAV(audio.Sample{Data: samples, SampleRate: sampleRate})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(prompt(opts)),
			genai.NewPartFromBytes(wav, "audio/wav"),
		}, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   segmentSchema,
	}

	resp, err := c.models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}

	raw := strings.TrimSpace(resp.Text())
	if raw == "" {
		return nil, nil
	}
	var parsed []segmentJSON
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse gemini response: %w", err)
	}

	duration := float64(len(samples)) / float64(sampleRate)
	segments := make([]inference.Segment, 0, len(parsed))
	for _, s := range parsed {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		start := clamp(s.Start, 0, duration)
		end := clamp(s.End, start, duration)
		segments = append(segments, inference.Segment{Start: start, End: end, Text: " " + text})
	}

	c.logger.Debug("Window transcribed", logger.Int("segments", len(segments)))
	return segments, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Engine loads Gemini backed pipelines
type Engine struct {
	client *Client
	store  *hub.Store
	logger *logger.Logger
}

// NewEngine creates the engine
func NewEngine(ctx context.Context, config Config, store *hub.Store, log *logger.Logger) (*Engine, error) {
	client, err := NewClient(ctx, config, log)
	if err != nil {
		return nil, err
	}
	return &Engine{client: client, store: store, logger: log.Named("gemini-engine")}, nil
}

func (e *Engine) Name() string { return "gemini" }

// Load fetches tokenizer and model metadata for key.Model
func (e *Engine) Load(ctx context.Context, key inference.CacheKey, progress hub.ProgressFunc) (inference.Pipeline, error) {
	meta, err := e.store.LoadMetadata(ctx, key.Model, progress)
	if err != nil {
		return nil, err
	}
	e.logger.Info("Pipeline loaded", logger.String("model", key.Model), logger.String("remote_model", e.client.model))
	return inference.NewSegmentPipeline(meta, e.client, nil), nil
}
