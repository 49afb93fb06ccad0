package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/yegors/whisper-web/internal/audio"
	"github.com/yegors/whisper-web/internal/config"
	"github.com/yegors/whisper-web/internal/hub"
	"github.com/yegors/whisper-web/internal/session"
	"github.com/yegors/whisper-web/internal/storage/sqlite"
	"github.com/yegors/whisper-web/internal/transcript"
	"github.com/yegors/whisper-web/internal/websocket"
	"github.com/yegors/whisper-web/pkg/logger"
)

// Session is the part of the session controller the API drives
type Session interface {
	Start(ctx context.Context, req session.StartRequest) (uint64, error)
	Reset()
	Snapshot() session.Snapshot
	Transcript() (transcript.State, error)
	Defaults() session.Settings
}

// AudioDecoder turns uploaded bytes into samples
type AudioDecoder interface {
	Decode(ctx context.Context, data []byte, name string) (audio.Sample, error)
}

// AudioFetcher downloads audio by URL
type AudioFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// TranscriptStore is the transcript history
type TranscriptStore interface {
	GetTranscripts(ctx context.Context, limit, offset int) ([]*sqlite.TranscriptRecord, error)
	GetTranscript(ctx context.Context, id int64) (*sqlite.TranscriptRecord, error)
	DeleteTranscript(ctx context.Context, id int64) error
}

// Deps are the collaborators of the API handlers. Store may be nil when
// history is disabled.
type Deps struct {
	Session  Session
	Decoder  AudioDecoder
	Fetcher  AudioFetcher
	Store    TranscriptStore
	WSServer *websocket.Server
	Engine   string
}

// Handler contains the API handlers
type Handler struct {
	session  Session
	decoder  AudioDecoder
	fetcher  AudioFetcher
	store    TranscriptStore
	wsServer *websocket.Server
	engine   string
	config   *config.Config
	logger   *logger.Logger
	started  time.Time
}

// NewHandler creates a new API handler
func NewHandler(deps Deps, cfg *config.Config, log *logger.Logger) *Handler {
	return &Handler{
		session:  deps.Session,
		decoder:  deps.Decoder,
		fetcher:  deps.Fetcher,
		store:    deps.Store,
		wsServer: deps.WSServer,
		engine:   deps.Engine,
		config:   cfg,
		logger:   log.Named("api-handler"),
		started:  time.Now(),
	}
}

// GetHealth returns the health status of the API
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	snap := h.session.Snapshot()
	response := map[string]any{
		"status":  "ok",
		"engine":  h.engine,
		"session": snap.State,
		"busy":    snap.IsBusy,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
		"storage": h.store != nil,
	}
	if h.wsServer != nil {
		response["ws_clients"] = h.wsServer.ClientCount()
	}

	WriteJSON(w, http.StatusOK, response)
}

// GetModels returns the model catalog and the request defaults
func (h *Handler) GetModels(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"models":            hub.Catalog,
		"defaults":          h.session.Defaults(),
		"subtasks":          []string{"transcribe", "translate"},
		"default_audio_url": h.config.Acquisition.DefaultAudioURL,
	}

	WriteJSON(w, http.StatusOK, response)
}

// HandleWebSocket handles WebSocket connections
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsServer.HandleConnection(w, r)
}

// HandleMessage implements websocket.MessageHandler. Clients may ask for
// the current session or reset it.
func (h *Handler) HandleMessage(client *websocket.Client, messageType string, data json.RawMessage) error {
	switch messageType {
	case "get_session":
		client.SendMessage(&websocket.Message{Type: session.MessageType, Data: h.session.Snapshot()})
		return nil
	case "reset":
		h.session.Reset()
		return nil
	default:
		return fmt.Errorf("unknown message type: %s", messageType)
	}
}

// SessionMessage is the message every new WebSocket client receives first
func (h *Handler) SessionMessage() *websocket.Message {
	return &websocket.Message{Type: session.MessageType, Data: h.session.Snapshot()}
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeError writes {"error": msg}
func writeError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrBusy), errors.Is(err, audio.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNoTranscript), errors.Is(err, sqlite.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, audio.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}
