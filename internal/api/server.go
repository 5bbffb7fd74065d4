package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/terra-clan/commitment-engine/internal/allocation"
	"github.com/terra-clan/commitment-engine/internal/config"
	"github.com/terra-clan/commitment-engine/internal/health"
	"github.com/terra-clan/commitment-engine/internal/metrics"
	"github.com/terra-clan/commitment-engine/internal/models"
)

// ImageCatalog is the read side of the image catalog
type ImageCatalog interface {
	Get(id string) *models.Image
	List() []*models.Image
}

// Server represents the HTTP API server
type Server struct {
	config  config.ServerConfig
	router  *chi.Mux
	manager allocation.Manager
	images  ImageCatalog
	checks  *health.Registry
	feed    *Feed
}

// NewServer creates a new API server
func NewServer(
	cfg config.ServerConfig,
	manager allocation.Manager,
	images ImageCatalog,
	checks *health.Registry,
) *Server {
	if checks == nil {
		checks = health.NewRegistry()
	}

	s := &Server{
		config:  cfg,
		manager: manager,
		images:  images,
		checks:  checks,
		feed:    NewFeed(),
	}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

// Feed returns the progress feed hub
func (s *Server) Feed() *Feed {
	return s.feed
}

// setupRouter configures all routes and middleware
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	origins := s.config.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	timeout := middleware.Timeout(60 * time.Second)

	r.Route("/commitments", func(r chi.Router) {
		r.With(timeout).Get("/", s.handleListCommitments)
		r.With(timeout).Post("/", s.handleCreateCommitment)

		r.Route("/{id}", func(r chi.Router) {
			r.With(timeout).Get("/", s.handleGetCommitment)
			r.With(timeout).Get("/progress", s.handleGetProgress)
			r.With(timeout).Get("/progress_entries", s.handleListEntries)
			r.With(timeout).Post("/progress_entries", s.handleCompleteToday)

			// WebSocket feed sits outside the request timeout
			r.Get("/events", s.handleProgressEvents)
		})
	})

	r.Route("/images", func(r chi.Router) {
		r.With(timeout).Get("/", s.handleListImages)
		r.With(timeout).Get("/{imageID}", s.handleGetImage)
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests using slog and records request metrics
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			duration := time.Since(start)
			route := routePattern(r)

			metrics.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
			metrics.RequestDuration.WithLabelValues(r.Method, route).Observe(duration.Seconds())

			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", duration.Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// routePattern returns the matched chi route pattern
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
