package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/linzo/caption-relay/internal/config"
	"github.com/linzo/caption-relay/internal/metrics"
	"github.com/linzo/caption-relay/internal/relay"
	"github.com/linzo/caption-relay/internal/storage/sqlite"
	"github.com/linzo/caption-relay/internal/websocket"
	"github.com/linzo/caption-relay/pkg/logger"
)

// Handler contains the API handlers
type Handler struct {
	relayService   *relay.Service
	captionStorage *sqlite.CaptionStorage
	wsServer       *websocket.Server
	config         *config.Config
	metrics        *metrics.Metrics
	logger         *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(relayService *relay.Service, captionStorage *sqlite.CaptionStorage, wsServer *websocket.Server, config *config.Config, m *metrics.Metrics, logger *logger.Logger) *Handler {
	return &Handler{
		relayService:   relayService,
		captionStorage: captionStorage,
		wsServer:       wsServer,
		config:         config,
		metrics:        m,
		logger:         logger.Named("api-handler"),
	}
}

// Health reports server liveness and the current subscriber count
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"timestamp":   time.Now().UTC(),
		"subscribers": h.wsServer.SubscriberCount(),
	})
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Helper functions
func parsePaginationParams(r *http.Request) (int, int) {
	limit := 100 // Default limit
	offset := 0  // Default offset

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

func parseTimeRangeParams(r *http.Request) (time.Time, time.Time, error) {
	startTimeStr := r.URL.Query().Get("start_time")
	endTimeStr := r.URL.Query().Get("end_time")

	if startTimeStr == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("missing start_time parameter")
	}

	startTime, err := time.Parse(time.RFC3339, startTimeStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start_time format (use RFC3339)")
	}

	endTime := time.Now()
	if endTimeStr != "" {
		endTime, err = time.Parse(time.RFC3339, endTimeStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end_time format (use RFC3339)")
		}
	}

	return startTime, endTime, nil
}
