// Package session holds the single transcription session of the service.
// It owns the observable state, tags every request with a generation and
// drops worker events that belong to an older generation.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yegors/whisper-web/internal/audio"
	"github.com/yegors/whisper-web/internal/inference"
	"github.com/yegors/whisper-web/internal/metrics"
	"github.com/yegors/whisper-web/internal/storage/sqlite"
	"github.com/yegors/whisper-web/internal/transcript"
	"github.com/yegors/whisper-web/pkg/logger"
)

// Import logger functions
var (
	String = logger.String
	Uint64 = logger.Uint64
	Int64  = logger.Int64
	Error  = logger.Error
)

var (
	// ErrBusy is returned by Start while a request is in flight
	ErrBusy = errors.New("a transcription is already in progress")
	// ErrNoTranscript is returned when there is nothing to export
	ErrNoTranscript = errors.New("no transcript available")
	// ErrInvalidRequest wraps request validation failures
	ErrInvalidRequest = errors.New("invalid transcription request")
)

// State is the lifecycle position of the session
type State string

const (
	Idle         State = "idle"
	ModelLoading State = "model_loading"
	Transcribing State = "transcribing"
	Streaming    State = "streaming"
	Complete     State = "complete"
	Failed       State = "error"
)

// Busy reports whether a request is in flight in this state
func (s State) Busy() bool {
	return s == ModelLoading || s == Transcribing || s == Streaming
}

// MessageType is the publisher message type for snapshots
const MessageType = "session"

// ProgressItem tracks one model file while it downloads
type ProgressItem struct {
	File     string  `json:"file"`
	Status   string  `json:"status"`
	Loaded   int64   `json:"loaded"`
	Total    int64   `json:"total"`
	Progress float64 `json:"progress"`
}

// Settings are the user selectable transcription options
type Settings struct {
	Model        string `json:"model"`
	Multilingual bool   `json:"multilingual"`
	Quantized    bool   `json:"quantized"`
	Subtask      string `json:"subtask"`
	Language     string `json:"language"`
}

// StartRequest is an acquired audio sample plus the settings to run it with.
// Empty settings fall back to the controller defaults.
type StartRequest struct {
	Audio    audio.Sample
	Source   string
	Settings Settings
}

// Snapshot is the externally visible session state
type Snapshot struct {
	State      State             `json:"state"`
	Generation uint64            `json:"generation"`
	RequestID  string            `json:"requestId,omitempty"`
	Settings   *Settings         `json:"settings,omitempty"`
	Source     string            `json:"source,omitempty"`
	IsBusy     bool              `json:"isBusy"`
	Progress   []ProgressItem    `json:"progressItems"`
	Transcript *transcript.State `json:"transcript"`
	Error      string            `json:"error,omitempty"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// Publisher receives every state change
type Publisher interface {
	Publish(msgType string, data any)
}

// Submitter accepts requests for the inference worker
type Submitter interface {
	Submit(ctx context.Context, req inference.Request) error
}

// TranscriptStore persists completed transcripts
type TranscriptStore interface {
	StoreTranscript(ctx context.Context, record *sqlite.TranscriptRecord) (int64, error)
}

type request struct {
	id       string
	settings Settings
	source   string
	key      inference.CacheKey
	audioSec float64
	started  time.Time
	ready    bool
}

// Controller is the session state machine. All methods are safe for
// concurrent use.
type Controller struct {
	mu         sync.Mutex
	state      State
	generation uint64
	current    *request
	progress   map[string]*ProgressItem
	transcript *transcript.State
	errMsg     string
	updatedAt  time.Time

	loadedKey inference.CacheKey
	hasLoaded bool

	defaults  Settings
	worker    Submitter
	publisher Publisher
	store     TranscriptStore
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

// Options are the optional collaborators of a Controller
type Options struct {
	Publisher Publisher
	Store     TranscriptStore
	Metrics   *metrics.Metrics
}

// NewController creates an idle session
func NewController(worker Submitter, defaults Settings, opts Options, log *logger.Logger) *Controller {
	if defaults.Subtask == "" {
		defaults.Subtask = inference.SubtaskTranscribe
	}
	if defaults.Language == "" {
		defaults.Language = inference.LanguageAuto
	}
	return &Controller{
		state:     Idle,
		progress:  make(map[string]*ProgressItem),
		updatedAt: time.Now(),
		defaults:  defaults,
		worker:    worker,
		publisher: opts.Publisher,
		store:     opts.Store,
		metrics:   opts.Metrics,
		logger:    log.Named("session"),
	}
}

// Defaults returns the settings used for empty request fields
func (c *Controller) Defaults() Settings {
	return c.defaults
}

func (c *Controller) resolve(s Settings) (Settings, error) {
	if s.Model == "" {
		s.Model = c.defaults.Model
	}
	if s.Subtask == "" {
		s.Subtask = c.defaults.Subtask
	}
	if s.Language == "" {
		s.Language = c.defaults.Language
	}
	if s.Model == "" {
		return s, fmt.Errorf("%w: model is required", ErrInvalidRequest)
	}
	if s.Subtask != inference.SubtaskTranscribe && s.Subtask != inference.SubtaskTranslate {
		return s, fmt.Errorf("%w: unknown subtask %q", ErrInvalidRequest, s.Subtask)
	}
	return s, nil
}

// Start begins a new request and returns its generation. It fails with
// ErrBusy while another request is in flight.
func (c *Controller) Start(ctx context.Context, req StartRequest) (uint64, error) {
	settings, err := c.resolve(req.Settings)
	if err != nil {
		return 0, err
	}
	if len(req.Audio.Data) == 0 {
		return 0, fmt.Errorf("%w: audio is empty", ErrInvalidRequest)
	}

	key := inference.KeyFor(inference.ModelConfig{
		Model:        settings.Model,
		Multilingual: settings.Multilingual,
		Quantized:    settings.Quantized,
	})

	c.mu.Lock()
	if c.state.Busy() {
		c.mu.Unlock()
		return 0, ErrBusy
	}

	c.generation++
	gen := c.generation
	cur := &request{
		id:       uuid.NewString(),
		settings: settings,
		source:   req.Source,
		key:      key,
		audioSec: req.Audio.Seconds(),
		started:  time.Now(),
	}
	c.current = cur
	c.progress = make(map[string]*ProgressItem)
	c.transcript = &transcript.State{Text: "", Chunks: []transcript.TextChunk{}, IsBusy: true}
	c.errMsg = ""
	if c.hasLoaded && c.loadedKey == key {
		c.state = Transcribing
	} else {
		c.state = ModelLoading
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Info("Starting transcription",
		Uint64("generation", gen),
		String("request_id", cur.id),
		String("model", key.Model),
		String("subtask", settings.Subtask),
		String("state", string(snap.State)))
	c.metrics.RecordRequestStarted(cur.audioSec)
	c.publish(snap)

	err = c.worker.Submit(ctx, inference.Request{
		Generation:   gen,
		ID:           cur.id,
		Audio:        req.Audio,
		Model:        settings.Model,
		Multilingual: settings.Multilingual,
		Quantized:    settings.Quantized,
		Subtask:      settings.Subtask,
		Language:     settings.Language,
	})
	if err != nil {
		c.Fail(gen, err)
		return 0, fmt.Errorf("failed to submit request: %w", err)
	}

	return gen, nil
}

// Apply folds a worker event into the session. It returns false when the
// event was discarded because it belongs to another generation or arrived
// after the request already settled.
func (c *Controller) Apply(e inference.Event) bool {
	c.mu.Lock()
	if e.Gen() != c.generation || !c.state.Busy() {
		c.mu.Unlock()
		c.metrics.RecordStaleEvent()
		c.logger.Debug("Discarding stale event",
			String("kind", inference.Kind(e)),
			Uint64("event_generation", e.Gen()))
		return false
	}

	var finished *finish
	switch ev := e.(type) {
	case inference.Initiate:
		if c.state == Transcribing && !c.current.ready {
			// the worker no longer holds the model we expected
			c.hasLoaded = false
			c.state = ModelLoading
		}
		c.progress[ev.File] = &ProgressItem{File: ev.File, Status: "initiate"}
	case inference.Progress:
		item, ok := c.progress[ev.File]
		if !ok {
			item = &ProgressItem{File: ev.File}
			c.progress[ev.File] = item
		}
		item.Status = "progress"
		item.Loaded = ev.Loaded
		item.Total = ev.Total
		item.Progress = ev.Progress
	case inference.Done:
		delete(c.progress, ev.File)
	case inference.Ready:
		c.progress = make(map[string]*ProgressItem)
		c.current.ready = true
		c.loadedKey = c.current.key
		c.hasLoaded = true
		c.state = Transcribing
	case inference.Update:
		state := ev.State.Clone()
		state.IsBusy = true
		c.transcript = &state
		c.state = Streaming
	case inference.Complete:
		state := ev.State.Clone()
		state.IsBusy = false
		c.transcript = &state
		c.state = Complete
		finished = &finish{outcome: "complete", req: c.current, state: state}
	case inference.Error:
		c.fail(ev.Message)
		finished = &finish{outcome: "error", req: c.current}
	default:
		panic(fmt.Sprintf("session: unhandled event type %T", e))
	}
	c.updatedAt = time.Now()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.metrics.RecordEvent(inference.Kind(e))
	c.publish(snap)

	if finished != nil {
		c.settle(e.Gen(), finished)
	}
	return true
}

type finish struct {
	outcome string
	req     *request
	state   transcript.State
}

// fail moves to the error state. Callers hold c.mu.
func (c *Controller) fail(msg string) {
	c.forgetUnconfirmedLoad()
	c.state = Failed
	c.errMsg = msg
	c.progress = make(map[string]*ProgressItem)
	if c.transcript != nil {
		c.transcript.IsBusy = false
	}
}

// forgetUnconfirmedLoad drops the loaded model guess when the current request
// may have made the worker evict it. A load of a different key evicts the
// old pipeline before Ready arrives. Callers hold c.mu.
func (c *Controller) forgetUnconfirmedLoad() {
	if c.current == nil || c.current.ready {
		return
	}
	if !c.hasLoaded || c.loadedKey != c.current.key {
		c.hasLoaded = false
	}
}

func (c *Controller) settle(gen uint64, f *finish) {
	duration := time.Since(f.req.started)
	c.metrics.RecordRequestFinished(f.outcome, duration)

	if f.outcome != "complete" {
		return
	}
	c.logger.Info("Transcription complete",
		Uint64("generation", gen),
		String("request_id", f.req.id),
		logger.Int("chunks", len(f.state.Chunks)),
		logger.Duration("duration", duration))

	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	id, err := c.store.StoreTranscript(ctx, &sqlite.TranscriptRecord{
		UUID:         f.req.id,
		Model:        f.req.key.Model,
		Subtask:      f.req.settings.Subtask,
		Language:     f.req.settings.Language,
		Source:       f.req.source,
		AudioSeconds: f.req.audioSec,
		DurationMs:   duration.Milliseconds(),
		Text:         f.state.Text,
		Chunks:       f.state.Chunks,
	})
	if err != nil {
		c.logger.Error("Failed to store transcript", String("request_id", f.req.id), Error(err))
		return
	}
	c.logger.Debug("Stored transcript", Int64("id", id))
}

// Fail moves generation gen to the error state. It is a no-op when gen is
// no longer current or already settled.
func (c *Controller) Fail(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.generation || !c.state.Busy() {
		c.mu.Unlock()
		return
	}
	c.fail(err.Error())
	c.updatedAt = time.Now()
	req := c.current
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Warn("Transcription failed", Uint64("generation", gen), Error(err))
	c.publish(snap)
	c.settle(gen, &finish{outcome: "error", req: req})
}

// Reset returns to Idle and advances the generation so events of an in
// flight request are discarded.
func (c *Controller) Reset() {
	c.mu.Lock()
	wasBusy := c.state.Busy()
	req := c.current
	if wasBusy {
		c.forgetUnconfirmedLoad()
	}
	c.generation++
	c.state = Idle
	c.current = nil
	c.progress = make(map[string]*ProgressItem)
	c.transcript = nil
	c.errMsg = ""
	c.updatedAt = time.Now()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Info("Session reset", Uint64("generation", snap.Generation))
	if wasBusy && req != nil {
		c.metrics.RecordRequestFinished("reset", time.Since(req.started))
	}
	c.publish(snap)
}

// Snapshot returns a copy of the current state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Transcript returns the latest transcript, partial or final
func (c *Controller) Transcript() (transcript.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transcript == nil || (len(c.transcript.Chunks) == 0 && c.transcript.Text == "") {
		return transcript.State{}, ErrNoTranscript
	}
	return c.transcript.Clone(), nil
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:      c.state,
		Generation: c.generation,
		IsBusy:     c.state.Busy(),
		Progress:   make([]ProgressItem, 0, len(c.progress)),
		Error:      c.errMsg,
		UpdatedAt:  c.updatedAt,
	}
	if c.current != nil {
		settings := c.current.settings
		snap.RequestID = c.current.id
		snap.Settings = &settings
		snap.Source = c.current.source
	}
	for _, item := range c.progress {
		snap.Progress = append(snap.Progress, *item)
	}
	sort.Slice(snap.Progress, func(i, j int) bool {
		return snap.Progress[i].File < snap.Progress[j].File
	})
	if c.transcript != nil {
		state := c.transcript.Clone()
		snap.Transcript = &state
	}
	return snap
}

func (c *Controller) publish(snap Snapshot) {
	if c.publisher != nil {
		c.publisher.Publish(MessageType, snap)
	}
}

// Run applies worker events until ctx is done or events is closed
func (c *Controller) Run(ctx context.Context, events <-chan inference.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				c.logger.Info("Worker event stream closed")
				return
			}
			c.Apply(e)
		}
	}
}
