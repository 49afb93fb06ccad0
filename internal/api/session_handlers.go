package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/yegors/whisper-web/internal/session"
	"github.com/yegors/whisper-web/internal/transcript"
	"github.com/yegors/whisper-web/pkg/logger"
)

// transcribeRequest is the JSON body of POST /api/transcribe
type transcribeRequest struct {
	URL          string `json:"url"`
	Model        string `json:"model"`
	Multilingual *bool  `json:"multilingual"`
	Quantized    *bool  `json:"quantized"`
	Subtask      string `json:"subtask"`
	Language     string `json:"language"`
}

func (t transcribeRequest) settings(defaults session.Settings) session.Settings {
	s := defaults
	if t.Model != "" {
		s.Model = t.Model
	}
	if t.Multilingual != nil {
		s.Multilingual = *t.Multilingual
	}
	if t.Quantized != nil {
		s.Quantized = *t.Quantized
	}
	if t.Subtask != "" {
		s.Subtask = t.Subtask
	}
	if t.Language != "" {
		s.Language = t.Language
	}
	return s
}

// GetSession returns the current session snapshot
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.session.Snapshot())
}

// ResetSession returns the session to idle
func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	h.session.Reset()
	WriteJSON(w, http.StatusOK, h.session.Snapshot())
}

// ExportSession downloads the current transcript
func (h *Handler) ExportSession(w http.ResponseWriter, r *http.Request) {
	format, err := transcript.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	state, err := h.session.Transcript()
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	h.writeExport(w, format, "transcript", state.Chunks)
}

// Transcribe acquires audio from a multipart upload or a URL and starts a
// transcription. It answers 202 with the generation of the new request.
func (h *Handler) Transcribe(w http.ResponseWriter, r *http.Request) {
	// Fail fast before reading a large body
	if h.session.Snapshot().IsBusy {
		writeError(w, http.StatusConflict, session.ErrBusy.Error())
		return
	}

	req, data, name, err := h.readTranscribeRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if data == nil {
		if req.URL == "" {
			writeError(w, http.StatusBadRequest, "either an audio file or a url is required")
			return
		}
		data, err = h.fetcher.Fetch(r.Context(), req.URL)
		if err != nil {
			status := statusFor(err)
			if status == http.StatusInternalServerError {
				status = http.StatusBadGateway
			}
			h.logger.Warn("Failed to fetch audio", logger.String("url", req.URL), logger.Error(err))
			writeError(w, status, err.Error())
			return
		}
		name = path.Base(req.URL)
	}

	sample, err := h.decoder.Decode(r.Context(), data, name)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusUnprocessableEntity
		}
		h.logger.Warn("Failed to decode audio", logger.String("name", name), logger.Error(err))
		writeError(w, status, err.Error())
		return
	}

	source := name
	if req.URL != "" {
		source = req.URL
	}
	gen, err := h.session.Start(r.Context(), session.StartRequest{
		Audio:    sample,
		Source:   source,
		Settings: req.settings(h.session.Defaults()),
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	snap := h.session.Snapshot()
	WriteJSON(w, http.StatusAccepted, map[string]any{
		"generation":    gen,
		"request_id":    snap.RequestID,
		"state":         snap.State,
		"audio_seconds": sample.Seconds(),
	})
}

// readTranscribeRequest parses either a multipart form with an "audio" file
// or a JSON/urlencoded body carrying a url. data is nil when no file was
// uploaded.
func (h *Handler) readTranscribeRequest(w http.ResponseWriter, r *http.Request) (req transcribeRequest, data []byte, name string, err error) {
	maxBytes := int64(h.config.Server.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, nil, "", fmt.Errorf("invalid JSON body: %w", err)
		}
		return req, nil, "", nil

	case "multipart/form-data":
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return req, nil, "", fmt.Errorf("invalid multipart form: %w", err)
		}
		req, err = formRequest(r)
		if err != nil {
			return req, nil, "", err
		}
		file, header, err := r.FormFile("audio")
		if errors.Is(err, http.ErrMissingFile) {
			return req, nil, "", nil
		}
		if err != nil {
			return req, nil, "", fmt.Errorf("invalid audio file: %w", err)
		}
		defer file.Close()
		data, err = io.ReadAll(file)
		if err != nil {
			return req, nil, "", fmt.Errorf("failed to read audio file: %w", err)
		}
		return req, data, header.Filename, nil

	default:
		if err := r.ParseForm(); err != nil {
			return req, nil, "", fmt.Errorf("invalid form: %w", err)
		}
		req, err = formRequest(r)
		return req, nil, "", err
	}
}

func formRequest(r *http.Request) (transcribeRequest, error) {
	req := transcribeRequest{
		URL:      strings.TrimSpace(r.FormValue("url")),
		Model:    r.FormValue("model"),
		Subtask:  r.FormValue("subtask"),
		Language: r.FormValue("language"),
	}
	var err error
	if req.Multilingual, err = formBool(r, "multilingual"); err != nil {
		return req, err
	}
	if req.Quantized, err = formBool(r, "quantized"); err != nil {
		return req, err
	}
	return req, nil
}

func formBool(r *http.Request, key string) (*bool, error) {
	v := r.FormValue(key)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value: %q", key, v)
	}
	return &b, nil
}

func (h *Handler) writeExport(w http.ResponseWriter, format transcript.Format, basename string, chunks []transcript.TextChunk) {
	body, err := transcript.Export(format, chunks)
	if err != nil {
		h.logger.Error("Failed to export transcript", logger.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.%s"`, basename, format))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
