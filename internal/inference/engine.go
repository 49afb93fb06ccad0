package inference

import (
	"context"

	"github.com/yegors/whisper-web/internal/hub"
	"github.com/yegors/whisper-web/internal/transcript"
)

// TaskASR is the only pipeline task the service runs
const TaskASR = "automatic-speech-recognition"

// ModelConfig selects the model an engine should load
type ModelConfig struct {
	Model        string
	Multilingual bool
	Quantized    bool
}

// CacheKey identifies a loaded pipeline. Requests with equal keys reuse the
// same pipeline.
type CacheKey struct {
	Task      string
	Model     string
	Quantized bool
}

// KeyFor returns the cache key for a request
func KeyFor(cfg ModelConfig) CacheKey {
	return CacheKey{
		Task:      TaskASR,
		Model:     hub.ResolveModel(cfg.Model, cfg.Multilingual),
		Quantized: cfg.Quantized,
	}
}

// Options are per-request decoding options
type Options struct {
	Language     string  // language code, or "auto"
	Subtask      string  // "transcribe" or "translate"
	ChunkLength  float64 // window length in seconds
	StrideLength float64 // overlap on each window edge in seconds
}

// Callbacks receive pipeline output in order. OnTokens carries the full
// running token tail of the current window; OnChunk closes a window.
type Callbacks struct {
	OnTokens func(ids []int)
	OnChunk  func(c transcript.Chunk)
}

func (cb Callbacks) tokens(ids []int) {
	if cb.OnTokens != nil {
		cb.OnTokens(ids)
	}
}

func (cb Callbacks) chunk(c transcript.Chunk) {
	if cb.OnChunk != nil {
		cb.OnChunk(c)
	}
}

// Pipeline is a loaded model ready to transcribe
type Pipeline interface {
	// Aligner decodes the token ids this pipeline emits
	Aligner() transcript.Aligner
	// TimePrecision is the window length divided by the model's max source
	// positions
	TimePrecision() float64
	Transcribe(ctx context.Context, samples []float32, opts Options, cb Callbacks) error
	Close() error
}

// Engine loads pipelines for a backend
type Engine interface {
	Name() string
	Load(ctx context.Context, key CacheKey, progress hub.ProgressFunc) (Pipeline, error)
}
