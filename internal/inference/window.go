package inference

import (
	"context"
	"fmt"

	"github.com/yegors/whisper-web/internal/tokenizer"
	"github.com/yegors/whisper-web/internal/transcript"
)

const (
	DefaultChunkLength  = 30.0
	DefaultStrideLength = 5.0
)

// Window is one slice of the audio handed to a model. Start and End are
// absolute seconds; the strides are the overlap shared with the neighbours.
type Window struct {
	Index       int
	Start       float64
	End         float64
	StrideLeft  float64
	StrideRight float64
	IsLast      bool

	from, to int
}

// Windows splits n samples into overlapping windows. Consecutive windows
// advance by chunk - 2*stride seconds; the first has no left stride and the
// last no right stride. The last window is the first one reaching the end of
// the audio, so every instant is owned by exactly one window once strides are
// trimmed.
func Windows(n, sampleRate int, chunkLength, strideLength float64) ([]Window, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	chunkLen := int(chunkLength * float64(sampleRate))
	strideLen := int(strideLength * float64(sampleRate))
	step := chunkLen - 2*strideLen
	if chunkLen <= 0 || strideLen < 0 || step <= 0 {
		return nil, fmt.Errorf("invalid window geometry: chunk %.2fs stride %.2fs", chunkLength, strideLength)
	}

	rate := float64(sampleRate)
	var out []Window
	for i := 0; i < n; i += step {
		end := i + chunkLen
		if end > n {
			end = n
		}
		w := Window{
			Index:  len(out),
			Start:  float64(i) / rate,
			End:    float64(end) / rate,
			IsLast: end >= n,
			from:   i,
			to:     end,
		}
		if i > 0 {
			w.StrideLeft = strideLength
		}
		if !w.IsLast {
			w.StrideRight = strideLength
		}
		out = append(out, w)
		if w.IsLast {
			break
		}
	}
	return out, nil
}

// WindowDecoder transcribes a single window. The returned ids use timestamp
// tokens relative to the window start. onPartial may be called with the
// running token tail while decoding.
type WindowDecoder interface {
	DecodeWindow(ctx context.Context, samples []float32, w Window, opts Options, onPartial func(ids []int)) ([]int, error)
}

// RunWindows drives dec across the audio, reporting token tails and chunk
// boundaries through cb
func RunWindows(ctx context.Context, dec WindowDecoder, samples []float32, sampleRate int, opts Options, cb Callbacks) error {
	if opts.ChunkLength <= 0 {
		opts.ChunkLength = DefaultChunkLength
	}
	if opts.StrideLength < 0 {
		opts.StrideLength = DefaultStrideLength
	}

	windows, err := Windows(len(samples), sampleRate, opts.ChunkLength, opts.StrideLength)
	if err != nil {
		return err
	}

	for _, w := range windows {
		if err := ctx.Err(); err != nil {
			return err
		}

		ids, err := dec.DecodeWindow(ctx, samples[w.from:w.to], w, opts, cb.tokens)
		if err != nil {
			return fmt.Errorf("window %d (%.1fs-%.1fs): %w", w.Index, w.Start, w.End, err)
		}
		cb.tokens(ids)
		cb.chunk(transcript.Chunk{
			Tokens:      ids,
			Start:       w.Start,
			End:         transcript.Seconds(w.End),
			StrideLeft:  w.StrideLeft,
			StrideRight: w.StrideRight,
			IsLast:      w.IsLast,
		})
	}
	return nil
}

// Segment is a span of text returned by engines that do not expose tokens.
// Times are relative to the window start.
type Segment struct {
	Start float64
	End   float64
	Text  string
}

// SegmentTokens re-encodes text segments as a timestamped token sequence so
// they can flow through the same alignment as native decoder output
func SegmentTokens(tok *tokenizer.Tokenizer, segments []Segment, precision float64) ([]int, error) {
	var ids []int
	for _, s := range segments {
		text, err := tok.Encode(s.Text)
		if err != nil {
			return nil, err
		}
		if len(text) == 0 {
			continue
		}
		if tok.TimestampBegin() >= 0 {
			ids = append(ids, tok.TimestampToken(s.Start, precision))
		}
		ids = append(ids, text...)
		if tok.TimestampBegin() >= 0 {
			ids = append(ids, tok.TimestampToken(s.End, precision))
		}
	}
	return ids, nil
}
