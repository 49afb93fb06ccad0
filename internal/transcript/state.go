package transcript

import (
	"encoding/json"
	"fmt"
)

// Chunk is one decoder window's worth of output. Start and End are absolute
// seconds into the audio; the strides mark how much of each edge overlaps
// the neighbouring window.
type Chunk struct {
	Tokens      []int
	Start       float64
	End         *float64
	StrideLeft  float64
	StrideRight float64
	Final       bool
	IsLast      bool
}

// Timestamp is a [start, end] range in seconds. End is nil while unknown.
type Timestamp struct {
	Start float64
	End   *float64
}

// MarshalJSON encodes the range as a two element array, [start, end|null]
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{t.Start, t.End})
}

// UnmarshalJSON decodes a two element array
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw []*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 || raw[0] == nil {
		return fmt.Errorf("timestamp must be [start, end], got %s", string(data))
	}
	t.Start = *raw[0]
	t.End = raw[1]
	return nil
}

// EndOr returns the end of the range, or fallback when it is unset
func (t Timestamp) EndOr(fallback float64) float64 {
	if t.End == nil {
		return fallback
	}
	return *t.End
}

// TextChunk is a decoded span of the transcript
type TextChunk struct {
	Text      string    `json:"text"`
	Timestamp Timestamp `json:"timestamp"`
}

// State is the full transcript as seen by a client. It is rebuilt from the
// chunk list on every update rather than patched.
type State struct {
	Text   string      `json:"text"`
	Chunks []TextChunk `json:"chunks"`
	IsBusy bool        `json:"isBusy"`
}

// Clone returns a deep copy so snapshots can be handed to other goroutines
func (s State) Clone() State {
	out := State{Text: s.Text, IsBusy: s.IsBusy}
	if s.Chunks != nil {
		out.Chunks = make([]TextChunk, len(s.Chunks))
		for i, c := range s.Chunks {
			out.Chunks[i] = c
			if c.Timestamp.End != nil {
				end := *c.Timestamp.End
				out.Chunks[i].Timestamp.End = &end
			}
		}
	}
	return out
}

// Seconds is a helper for building optional end times
func Seconds(v float64) *float64 {
	return &v
}
