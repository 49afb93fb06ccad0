// Package inference is the boundary between the session controller and the
// background goroutine that loads models and runs transcription. Requests go
// in over one channel, a closed set of events comes back over another.
package inference

import (
	"fmt"

	"github.com/yegors/whisper-web/internal/audio"
	"github.com/yegors/whisper-web/internal/transcript"
)

const (
	SubtaskTranscribe = "transcribe"
	SubtaskTranslate  = "translate"
	LanguageAuto      = "auto"
)

// Request asks the worker to transcribe one audio sample. Ownership of
// Audio.Data passes to the worker on Submit.
type Request struct {
	Generation   uint64
	ID           string
	Audio        audio.Sample
	Model        string
	Multilingual bool
	Quantized    bool
	Subtask      string
	Language     string
}

// Event is a message from the worker. The set of implementations is closed;
// consumers switch over the concrete types.
type Event interface {
	Gen() uint64
	event()
}

// Initiate is sent when a model artifact starts downloading
type Initiate struct {
	Generation uint64
	File       string
}

// Progress reports byte-level download progress for one file
type Progress struct {
	Generation uint64
	File       string
	Loaded     int64
	Total      int64
	Progress   float64
}

// Done is sent when a model artifact finished downloading
type Done struct {
	Generation uint64
	File       string
}

// Ready is sent once the model is loaded and inference starts
type Ready struct {
	Generation uint64
}

// Update carries the re-rendered transcript after an incremental step
type Update struct {
	Generation uint64
	State      transcript.State
}

// Complete carries the final transcript
type Complete struct {
	Generation uint64
	State      transcript.State
}

// Error reports an unrecoverable failure of one request
type Error struct {
	Generation uint64
	Message    string
}

func (e Initiate) Gen() uint64 { return e.Generation }
func (e Progress) Gen() uint64 { return e.Generation }
func (e Done) Gen() uint64     { return e.Generation }
func (e Ready) Gen() uint64    { return e.Generation }
func (e Update) Gen() uint64   { return e.Generation }
func (e Complete) Gen() uint64 { return e.Generation }
func (e Error) Gen() uint64    { return e.Generation }

func (Initiate) event() {}
func (Progress) event() {}
func (Done) event()     {}
func (Ready) event()    {}
func (Update) event()   {}
func (Complete) event() {}
func (Error) event()    {}

// Kind returns the wire name of an event
func Kind(e Event) string {
	switch e.(type) {
	case Initiate:
		return "initiate"
	case Progress:
		return "progress"
	case Done:
		return "done"
	case Ready:
		return "ready"
	case Update:
		return "update"
	case Complete:
		return "complete"
	case Error:
		return "error"
	default:
		panic(fmt.Sprintf("inference: unknown event type %T", e))
	}
}
