package transcript

import (
	"errors"
)

// ErrNoOpenChunk is returned when token updates arrive after the terminal
// chunk has been finalized
var ErrNoOpenChunk = errors.New("no open chunk to receive tokens")

// Aligner turns token ids into text. DecodeASR aligns finalized chunks to
// timestamped text; Decode is a plain decode with no alignment.
type Aligner interface {
	DecodeASR(chunks []Chunk, timePrecision float64) (string, []TextChunk)
	Decode(ids []int, skipSpecial bool) string
}

// Reconciler merges chunk boundaries and token tails coming from the
// inference engine into a single transcript. It is not safe for concurrent
// use; the worker owns one per request.
type Reconciler struct {
	aligner       Aligner
	timePrecision float64
	chunks        []Chunk
}

// NewReconciler creates a reconciler with a single empty open chunk
func NewReconciler(aligner Aligner, timePrecision float64) *Reconciler {
	r := &Reconciler{
		aligner:       aligner,
		timePrecision: timePrecision,
	}
	r.Reset()
	return r
}

// Reset discards everything seen so far
func (r *Reconciler) Reset() {
	r.chunks = []Chunk{{}}
}

// TimePrecision returns the seconds-per-position value used for alignment
func (r *Reconciler) TimePrecision() float64 {
	return r.timePrecision
}

// OnChunkBoundary finalizes the trailing chunk with the data in c and opens
// a new placeholder unless c is the last chunk of the audio.
func (r *Reconciler) OnChunkBoundary(c Chunk) {
	c.Tokens = append([]int(nil), c.Tokens...)
	c.Final = true

	if last := r.open(); last != nil {
		*last = c
	} else {
		// Terminal chunk already closed, treat as a trailing revision
		r.chunks = append(r.chunks, c)
	}

	if !c.IsLast {
		r.chunks = append(r.chunks, Chunk{})
	}
}

// OnTokenTail replaces the open chunk's tokens with ids. The engine reports
// the full running tail, so this is last-write-wins.
func (r *Reconciler) OnTokenTail(ids []int) error {
	last := r.open()
	if last == nil {
		return ErrNoOpenChunk
	}
	last.Tokens = append(last.Tokens[:0:0], ids...)
	return nil
}

// Len returns the number of chunks including the open placeholder
func (r *Reconciler) Len() int {
	return len(r.chunks)
}

// Finalized returns copies of the finalized chunks in order
func (r *Reconciler) Finalized() []Chunk {
	out := make([]Chunk, 0, len(r.chunks))
	for _, c := range r.chunks {
		if c.Final {
			out = append(out, c)
		}
	}
	return out
}

// Render rebuilds the transcript from every finalized chunk plus a live
// decode of the open chunk. It has no side effects.
func (r *Reconciler) Render() State {
	text, chunks := r.aligner.DecodeASR(r.Finalized(), r.timePrecision)

	if last := r.open(); last != nil && len(last.Tokens) > 0 {
		text += r.aligner.Decode(last.Tokens, true)
	}

	if chunks == nil {
		chunks = []TextChunk{}
	}
	return State{Text: text, Chunks: chunks}
}

func (r *Reconciler) open() *Chunk {
	if len(r.chunks) == 0 {
		return nil
	}
	last := &r.chunks[len(r.chunks)-1]
	if last.Final {
		return nil
	}
	return last
}
