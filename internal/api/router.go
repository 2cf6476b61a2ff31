package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/linzo/caption-relay/internal/config"
	"github.com/linzo/caption-relay/internal/metrics"
	"github.com/linzo/caption-relay/internal/relay"
	"github.com/linzo/caption-relay/internal/storage/sqlite"
	"github.com/linzo/caption-relay/internal/websocket"
	"github.com/linzo/caption-relay/pkg/logger"
)

// Router wires the API handlers to HTTP routes
type Router struct {
	handler *Handler
	config  *config.Config
	metrics *metrics.Metrics
	logger  *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(relayService *relay.Service, captionStorage *sqlite.CaptionStorage, wsServer *websocket.Server, cfg *config.Config, m *metrics.Metrics, log *logger.Logger) *Router {
	return &Router{
		handler: NewHandler(relayService, captionStorage, wsServer, cfg, m, log),
		config:  cfg,
		metrics: m,
		logger:  log.Named("router"),
	}
}

// Routes returns the root HTTP handler
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(rt.config.Server.CORSAllowedOrigins))

	r.Get("/health", rt.handler.Health)

	// Telephony provider surface
	r.Post("/transcription", rt.handler.HandleTranscriptionWebhook)
	r.Get("/transcription", rt.handler.HandleWebSocket)
	r.Post("/twiml", rt.handler.HandleDialTwiML)
	r.Post("/twiml/resume", rt.handler.HandleResumeTwiML)

	// Caption history
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/captions", rt.handler.GetAllCaptions)
		r.Get("/captions/call/{callSid}", rt.handler.GetCaptionsByCall)
		r.Get("/captions/timerange", rt.handler.GetCaptionsByTimeRange)
	})

	if rt.config.Metrics.Enabled {
		r.Method(http.MethodGet, rt.config.Metrics.Path, rt.metrics.Handler())
	}

	return r
}

// corsMiddleware applies the configured CORS policy
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || allowed[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
