package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/yegors/whisper-web/internal/config"
	"github.com/yegors/whisper-web/internal/metrics"
	"github.com/yegors/whisper-web/pkg/logger"
)

// Router wires the HTTP surface of the service
type Router struct {
	handler *Handler
	metrics *metrics.Metrics
	config  *config.Config
	logger  *logger.Logger
}

// NewRouter creates a router. When the deps carry a WebSocket server, the
// handler is registered as its message handler and greets new clients with
// the current session.
func NewRouter(deps Deps, m *metrics.Metrics, cfg *config.Config, log *logger.Logger) *Router {
	handler := NewHandler(deps, cfg, log)
	if deps.WSServer != nil {
		deps.WSServer.SetMessageHandler(handler)
		deps.WSServer.SetOnConnect(handler.SessionMessage)
	}
	return &Router{
		handler: handler,
		metrics: m,
		config:  cfg,
		logger:  log.Named("router"),
	}
}

// Routes returns the HTTP handler
func (rt *Router) Routes() http.Handler {
	h := rt.handler
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(rt.requestLogger)
	r.Use(rt.instrument)
	r.Use(rt.cors)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.GetHealth)
		r.Get("/models", h.GetModels)

		r.Get("/session", h.GetSession)
		r.Post("/session/reset", h.ResetSession)
		r.Get("/session/export", h.ExportSession)
		r.Post("/transcribe", h.Transcribe)

		r.Get("/transcripts", h.GetAllTranscripts)
		r.Get("/transcripts/{id}", h.GetTranscript)
		r.Delete("/transcripts/{id}", h.DeleteTranscript)
		r.Get("/transcripts/{id}/export", h.ExportTranscript)
	})

	if h.wsServer != nil {
		r.Get("/ws", h.HandleWebSocket)
	}
	r.Method(http.MethodGet, "/metrics", rt.metrics.Handler())

	if rt.config.Server.StaticFilesDir != "" {
		r.Handle("/*", NewStaticFileHandler(rt.config.Server.StaticFilesDir, rt.logger))
	}

	return r
}

// instrument records request counts and latency per route pattern
func (rt *Router) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		rt.metrics.RecordHTTPRequest(r.Method, route, status, time.Since(start))
	})
}

func (rt *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		rt.logger.Debug("HTTP request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", ww.Status()),
			logger.Duration("duration", time.Since(start)),
			logger.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// cors applies server.cors_allowed_origins
func (rt *Router) cors(next http.Handler) http.Handler {
	allowed := rt.config.Server.CORSAllowedOrigins
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && originAllowed(allowed, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}
