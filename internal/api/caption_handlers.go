package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linzo/caption-relay/pkg/logger"
)

// GetAllCaptions returns stored captions with pagination
func (h *Handler) GetAllCaptions(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePaginationParams(r)

	records, err := h.captionStorage.GetCaptions(limit, offset)
	if err != nil {
		h.logger.Error("Failed to retrieve captions", logger.Error(err))
		http.Error(w, "Failed to retrieve captions", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"timestamp": time.Now(),
		"count":     len(records),
		"captions":  records,
	})
}

// GetCaptionsByCall returns the captions of a single call in transcript order
func (h *Handler) GetCaptionsByCall(w http.ResponseWriter, r *http.Request) {
	callSID := chi.URLParam(r, "callSid")
	if callSID == "" {
		http.Error(w, "Missing call SID", http.StatusBadRequest)
		return
	}

	limit, offset := parsePaginationParams(r)

	records, err := h.captionStorage.GetCaptionsByCall(callSID, limit, offset)
	if err != nil {
		h.logger.Error("Failed to retrieve captions by call", logger.Error(err))
		http.Error(w, "Failed to retrieve captions", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"timestamp": time.Now(),
		"call_sid":  callSID,
		"count":     len(records),
		"captions":  records,
	})
}

// GetCaptionsByTimeRange returns captions within a time range
func (h *Handler) GetCaptionsByTimeRange(w http.ResponseWriter, r *http.Request) {
	startTime, endTime, err := parseTimeRangeParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	limit, offset := parsePaginationParams(r)

	records, err := h.captionStorage.GetCaptionsByTimeRange(startTime, endTime, limit, offset)
	if err != nil {
		h.logger.Error("Failed to retrieve captions by time range", logger.Error(err))
		http.Error(w, "Failed to retrieve captions", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"timestamp":  time.Now(),
		"start_time": startTime,
		"end_time":   endTime,
		"count":      len(records),
		"captions":   records,
	})
}
