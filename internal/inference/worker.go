package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yegors/whisper-web/internal/hub"
	"github.com/yegors/whisper-web/internal/metrics"
	"github.com/yegors/whisper-web/internal/transcript"
	"github.com/yegors/whisper-web/pkg/logger"
)

// ErrWorkerStopped is returned by Submit after Stop
var ErrWorkerStopped = errors.New("inference worker stopped")

// WorkerConfig configures the worker
type WorkerConfig struct {
	ChunkLength  float64
	StrideLength float64
	EventBuffer  int
}

// Worker runs model loading and inference on its own goroutine. It owns the
// pipeline cache; all communication goes through Submit and Events.
type Worker struct {
	config   WorkerConfig
	cache    *PipelineCache
	requests chan Request
	events   chan Event
	logger   *logger.Logger

	cancel   context.CancelFunc
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a worker for engine
func NewWorker(engine Engine, config WorkerConfig, m *metrics.Metrics, log *logger.Logger) *Worker {
	if config.ChunkLength <= 0 {
		config.ChunkLength = DefaultChunkLength
	}
	if config.StrideLength < 0 {
		config.StrideLength = DefaultStrideLength
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 64
	}
	workerLogger := log.Named("inference-worker").With(logger.String("engine", engine.Name()))
	return &Worker{
		config:   config,
		cache:    NewPipelineCache(engine, m, workerLogger),
		requests: make(chan Request, 1),
		events:   make(chan Event, config.EventBuffer),
		logger:   workerLogger,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Events returns the ordered event stream. It is closed when the worker
// stops.
func (w *Worker) Events() <-chan Event {
	return w.events
}

// Submit hands a request to the worker. The caller must not touch
// req.Audio.Data afterwards.
func (w *Worker) Submit(ctx context.Context, req Request) error {
	select {
	case <-w.stopped:
		return ErrWorkerStopped
	default:
	}

	select {
	case w.requests <- req:
		return nil
	case <-w.stopped:
		return ErrWorkerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the worker goroutine
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)
}

// Stop cancels any in-flight request and waits for the goroutine to exit
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopped)
		if w.cancel != nil {
			w.cancel()
			<-w.done
		} else {
			w.failQueued()
			close(w.events)
		}
	})
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	defer close(w.events)
	defer w.cache.Invalidate()

	w.logger.Info("Inference worker started")
	for {
		select {
		case <-ctx.Done():
			w.failQueued()
			w.logger.Info("Inference worker stopped")
			return
		case req := <-w.requests:
			if ctx.Err() != nil {
				w.reject(req)
				continue
			}
			w.process(ctx, req)
		}
	}
}

// failQueued answers every accepted request that never started
func (w *Worker) failQueued() {
	for {
		select {
		case req := <-w.requests:
			w.reject(req)
		default:
			return
		}
	}
}

func (w *Worker) reject(req Request) {
	w.logger.Warn("Rejecting queued request",
		logger.String("request_id", req.ID),
		logger.Uint64("generation", req.Generation))
	select {
	case w.events <- Error{Generation: req.Generation, Message: "worker stopped"}:
	case <-time.After(time.Second):
		w.logger.Warn("Event stream not drained, dropping stop notice", logger.String("request_id", req.ID))
	}
}

func (w *Worker) process(ctx context.Context, req Request) {
	gen := req.Generation
	log := w.logger.With(logger.String("request_id", req.ID), logger.Uint64("generation", gen))

	defer func() {
		if r := recover(); r != nil {
			log.Error("Inference panicked", logger.Any("panic", r))
			w.emit(ctx, Error{Generation: gen, Message: fmt.Sprintf("internal error: %v", r)})
		}
	}()

	key := KeyFor(ModelConfig{Model: req.Model, Multilingual: req.Multilingual, Quantized: req.Quantized})
	progress := func(p hub.Progress) {
		switch p.Status {
		case hub.StatusInitiate:
			w.emit(ctx, Initiate{Generation: gen, File: p.File})
		case hub.StatusProgress:
			w.emit(ctx, Progress{Generation: gen, File: p.File, Loaded: p.Loaded, Total: p.Total, Progress: p.Progress})
		case hub.StatusDone:
			w.emit(ctx, Done{Generation: gen, File: p.File})
		}
	}

	pipeline, reused, err := w.cache.Get(ctx, key, progress)
	if err != nil {
		log.Error("Failed to load model", logger.String("model", key.Model), logger.Error(err))
		w.emit(ctx, Error{Generation: gen, Message: fmt.Sprintf("failed to load model %s: %v", key.Model, err)})
		return
	}
	log.Debug("Pipeline ready", logger.String("model", key.Model), logger.Bool("reused", reused))
	w.emit(ctx, Ready{Generation: gen})

	rec := transcript.NewReconciler(pipeline.Aligner(), pipeline.TimePrecision())
	publish := func() {
		state := rec.Render()
		state.IsBusy = true
		w.emit(ctx, Update{Generation: gen, State: state})
	}

	opts := Options{
		Language:     req.Language,
		Subtask:      req.Subtask,
		ChunkLength:  w.config.ChunkLength,
		StrideLength: w.config.StrideLength,
	}
	cb := Callbacks{
		OnTokens: func(ids []int) {
			if err := rec.OnTokenTail(ids); err != nil {
				log.Debug("Dropping token tail", logger.Error(err))
				return
			}
			publish()
		},
		OnChunk: func(c transcript.Chunk) {
			rec.OnChunkBoundary(c)
			publish()
		},
	}

	log.Info("Transcribing",
		logger.String("model", key.Model),
		logger.Float64("audio_seconds", req.Audio.Seconds()),
		logger.String("subtask", req.Subtask),
		logger.String("language", req.Language))

	if err := pipeline.Transcribe(ctx, req.Audio.Data, opts, cb); err != nil {
		log.Error("Transcription failed", logger.Error(err))
		w.emit(ctx, Error{Generation: gen, Message: err.Error()})
		return
	}

	final := rec.Render()
	final.IsBusy = false
	w.emit(ctx, Complete{Generation: gen, State: final})
	log.Info("Transcription complete", logger.Int("chunks", len(final.Chunks)))
}

// emit blocks until the event is queued so the stream stays ordered and
// lossless; it only gives up when the worker is shutting down
func (w *Worker) emit(ctx context.Context, e Event) {
	select {
	case w.events <- e:
	case <-ctx.Done():
	}
}
