package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/yegors/whisper-web/internal/transcript"
	"github.com/yegors/whisper-web/pkg/logger"
)

// GetAllTranscripts returns stored transcripts with pagination
func (h *Handler) GetAllTranscripts(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "transcript history is disabled")
		return
	}

	limit, offset := h.parsePaginationParams(r)

	transcripts, err := h.store.GetTranscripts(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Failed to retrieve transcripts", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to retrieve transcripts")
		return
	}

	response := map[string]any{
		"timestamp":   time.Now(),
		"count":       len(transcripts),
		"limit":       limit,
		"offset":      offset,
		"transcripts": transcripts,
	}

	WriteJSON(w, http.StatusOK, response)
}

// GetTranscript returns one stored transcript
func (h *Handler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	id, ok := h.transcriptID(w, r)
	if !ok {
		return
	}

	record, err := h.store.GetTranscript(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, record)
}

// DeleteTranscript removes one stored transcript
func (h *Handler) DeleteTranscript(w http.ResponseWriter, r *http.Request) {
	id, ok := h.transcriptID(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteTranscript(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ExportTranscript downloads a stored transcript
func (h *Handler) ExportTranscript(w http.ResponseWriter, r *http.Request) {
	id, ok := h.transcriptID(w, r)
	if !ok {
		return
	}

	format, err := transcript.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	record, err := h.store.GetTranscript(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	h.writeExport(w, format, fmt.Sprintf("transcript-%d", record.ID), record.State().Chunks)
}

func (h *Handler) transcriptID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "transcript history is disabled")
		return 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid transcript id")
		return 0, false
	}
	return id, true
}

// Helper functions
func (h *Handler) parsePaginationParams(r *http.Request) (int, int) {
	limit := h.config.Storage.PageSize
	if limit <= 0 {
		limit = 50
	}
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	return limit, offset
}
