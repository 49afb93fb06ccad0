package inference

import (
	"context"
	"time"

	"github.com/yegors/whisper-web/internal/hub"
	"github.com/yegors/whisper-web/internal/metrics"
	"github.com/yegors/whisper-web/pkg/logger"
)

// PipelineCache holds at most one loaded pipeline. Asking for a different key
// closes the current pipeline before loading the new one. It is owned by the
// worker goroutine and is not safe for concurrent use.
type PipelineCache struct {
	engine   Engine
	metrics  *metrics.Metrics
	logger   *logger.Logger
	key      CacheKey
	pipeline Pipeline
}

// NewPipelineCache creates an empty cache
func NewPipelineCache(engine Engine, m *metrics.Metrics, log *logger.Logger) *PipelineCache {
	return &PipelineCache{
		engine:  engine,
		metrics: m,
		logger:  log.Named("pipeline-cache"),
	}
}

// Get returns the pipeline for key, loading it when needed. reused reports
// whether an already loaded pipeline was returned.
func (c *PipelineCache) Get(ctx context.Context, key CacheKey, progress hub.ProgressFunc) (p Pipeline, reused bool, err error) {
	if c.pipeline != nil && c.key == key {
		return c.pipeline, true, nil
	}

	c.Invalidate()

	c.logger.Info("Loading pipeline",
		logger.String("engine", c.engine.Name()),
		logger.String("model", key.Model),
		logger.Bool("quantized", key.Quantized))

	start := time.Now()
	p, err = c.engine.Load(ctx, key, progress)
	if err != nil {
		return nil, false, err
	}
	c.metrics.RecordModelLoad(c.engine.Name(), time.Since(start))

	c.key = key
	c.pipeline = p
	return p, false, nil
}

// Key returns the key of the loaded pipeline
func (c *PipelineCache) Key() (CacheKey, bool) {
	return c.key, c.pipeline != nil
}

// Invalidate closes and forgets the loaded pipeline
func (c *PipelineCache) Invalidate() {
	if c.pipeline == nil {
		return
	}
	if err := c.pipeline.Close(); err != nil {
		c.logger.Warn("Failed to close pipeline", logger.String("model", c.key.Model), logger.Error(err))
	}
	c.pipeline = nil
	c.key = CacheKey{}
}
