package inference

import (
	"context"

	"github.com/yegors/whisper-web/internal/hub"
	"github.com/yegors/whisper-web/internal/transcript"
)

// SegmentTranscriber transcribes one window of audio into text segments.
// Segment times are relative to the start of samples.
type SegmentTranscriber interface {
	TranscribeSegments(ctx context.Context, samples []float32, sampleRate int, opts Options) ([]Segment, error)
}

// SegmentPipeline adapts a text-returning backend to the token based
// pipeline. Segments are re-encoded with the model's tokenizer so they are
// aligned the same way as native decoder output.
type SegmentPipeline struct {
	meta        *hub.Metadata
	transcriber SegmentTranscriber
	closeFn     func() error
}

// NewSegmentPipeline creates a pipeline. closeFn may be nil.
func NewSegmentPipeline(meta *hub.Metadata, t SegmentTranscriber, closeFn func() error) *SegmentPipeline {
	return &SegmentPipeline{meta: meta, transcriber: t, closeFn: closeFn}
}

func (p *SegmentPipeline) Aligner() transcript.Aligner {
	return p.meta.Tokenizer
}

func (p *SegmentPipeline) TimePrecision() float64 {
	return p.meta.TimePrecision
}

func (p *SegmentPipeline) Transcribe(ctx context.Context, samples []float32, opts Options, cb Callbacks) error {
	return RunWindows(ctx, p, samples, p.meta.SamplingRate, opts, cb)
}

// DecodeWindow implements WindowDecoder. Segment backends answer once per
// window, so onPartial is never called and the runner reports the whole
// window as a single token tail.
func (p *SegmentPipeline) DecodeWindow(ctx context.Context, samples []float32, w Window, opts Options, onPartial func([]int)) ([]int, error) {
	segments, err := p.transcriber.TranscribeSegments(ctx, samples, p.meta.SamplingRate, opts)
	if err != nil {
		return nil, err
	}
	return p.Tokens(segments)
}

func (p *SegmentPipeline) Close() error {
	if p.closeFn != nil {
		return p.closeFn()
	}
	return nil
}

// Tokens converts segments to the timestamped token sequence of this model
func (p *SegmentPipeline) Tokens(segments []Segment) ([]int, error) {
	return SegmentTokens(p.meta.Tokenizer, segments, p.meta.TimePrecision)
}
