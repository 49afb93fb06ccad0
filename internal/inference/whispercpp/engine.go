//go:build cgo && whispercpp

// Package whispercpp runs transcription locally through whisper.cpp
package whispercpp

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/yegors/whisper-web/internal/hub"
	"github.com/yegors/whisper-web/internal/inference"
	"github.com/yegors/whisper-web/pkg/logger"
)

// Engine loads ggml models through the artifact store
type Engine struct {
	config Config
	store  *hub.Store
	logger *logger.Logger
}

// NewEngine creates the engine
func NewEngine(config Config, store *hub.Store, log *logger.Logger) (inference.Engine, error) {
	return &Engine{config: config.withDefaults(), store: store, logger: log.Named("whispercpp")}, nil
}

func (e *Engine) Name() string { return "whispercpp" }

// Load downloads the ggml weights matching key plus the tokenizer used for
// alignment, then initialises the model
func (e *Engine) Load(ctx context.Context, key inference.CacheKey, progress hub.ProgressFunc) (inference.Pipeline, error) {
	meta, err := e.store.LoadMetadata(ctx, key.Model, progress)
	if err != nil {
		return nil, err
	}

	file := GGMLFile(key.Model, key.Quantized, e.config.QuantizedSuffix)
	path, err := e.store.Fetch(ctx, e.config.Repo, file, progress)
	if err != nil {
		return nil, err
	}

	model, err := whisper.New(path)
	if err != nil {
		return nil, fmt.Errorf("load whisper model: %w", err)
	}

	e.logger.Info("Model loaded",
		logger.String("model", key.Model),
		logger.String("path", path),
		logger.Bool("multilingual", model.IsMultilingual()))

	p := &pipeline{model: model, threads: e.config.Threads, logger: e.logger}
	p.SegmentPipeline = inference.NewSegmentPipeline(meta, p, p.close)
	return p, nil
}

type pipeline struct {
	*inference.SegmentPipeline

	mu      sync.Mutex
	model   whisper.Model
	threads int
	logger  *logger.Logger
}

func (p *pipeline) Transcribe(ctx context.Context, samples []float32, opts inference.Options, cb inference.Callbacks) error {
	return inference.RunWindows(ctx, p, samples, int(whisper.SampleRate), opts, cb)
}

// DecodeWindow reports a token tail after every segment whisper.cpp emits
func (p *pipeline) DecodeWindow(ctx context.Context, samples []float32, w inference.Window, opts inference.Options, onPartial func([]int)) ([]int, error) {
	var (
		segments []inference.Segment
		tailErr  error
	)
	onSegment := func(seg inference.Segment) {
		segments = append(segments, seg)
		ids, err := p.SegmentPipeline.Tokens(segments)
		if err != nil {
			tailErr = err
			return
		}
		onPartial(ids)
	}

	if err := p.process(ctx, samples, opts, onSegment); err != nil {
		return nil, err
	}
	if tailErr != nil {
		return nil, tailErr
	}
	return p.SegmentPipeline.Tokens(segments)
}

// TranscribeSegments implements inference.SegmentTranscriber
func (p *pipeline) TranscribeSegments(ctx context.Context, samples []float32, sampleRate int, opts inference.Options) ([]inference.Segment, error) {
	var segments []inference.Segment
	err := p.process(ctx, samples, opts, func(s inference.Segment) { segments = append(segments, s) })
	return segments, err
}

func (p *pipeline) process(ctx context.Context, samples []float32, opts inference.Options, onSegment func(inference.Segment)) error {
	p.mu.Lock()
	model := p.model
	p.mu.Unlock()
	if model == nil {
		return errors.New("whisper model closed")
	}

	wctx, err := model.NewContext()
	if err != nil {
		return fmt.Errorf("create whisper context: %w", err)
	}

	threads := p.threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	wctx.SetThreads(uint(threads))

	language := strings.TrimSpace(opts.Language)
	if language == "" {
		language = inference.LanguageAuto
	}
	if model.IsMultilingual() {
		if err := wctx.SetLanguage(language); err != nil {
			return err
		}
		wctx.SetTranslate(opts.Subtask == inference.SubtaskTranslate)
	}

	encoderCb := func() bool {
		return ctx.Err() == nil
	}
	segmentCb := func(seg whisper.Segment) {
		onSegment(inference.Segment{
			Start: seg.Start.Seconds(),
			End:   seg.End.Seconds(),
			Text:  seg.Text,
		})
	}

	if err := wctx.Process(samples, encoderCb, segmentCb, nil); err != nil {
		return err
	}
	return ctx.Err()
}

func (p *pipeline) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return nil
	}
	err := p.model.Close()
	p.model = nil
	return err
}
