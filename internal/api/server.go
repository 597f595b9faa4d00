// Package api provides the HTTP control API and event stream for geomwatch.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/listenupapp/geomwatch/internal/http/response"
	"github.com/listenupapp/geomwatch/internal/mainloop"
	"github.com/listenupapp/geomwatch/internal/ratelimit"
	"github.com/listenupapp/geomwatch/internal/reload"
	"github.com/listenupapp/geomwatch/internal/session"
	"github.com/listenupapp/geomwatch/internal/sse"
)

// Version is reported in the OpenAPI document.
const Version = "1.0.0"

// Services groups the components the handlers talk to.
type Services struct {
	Sessions *session.Manager
	Executor *reload.Executor
	Loop     *mainloop.Loop
	Events   *sse.Manager
}

// Options configures the server.
type Options struct {
	AllowedOrigins []string
	// ReloadRate and ReloadBurst bound manual reloads per client.
	ReloadRate  float64
	ReloadBurst int
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	services      *Services
	router        *chi.Mux
	api           huma.API
	sseHandler    *sse.Handler
	reloadLimiter *ratelimit.KeyedRateLimiter
	logger        *slog.Logger
}

// NewServer creates the HTTP server with all routes configured.
func NewServer(services *Services, opts Options, logger *slog.Logger) *Server {
	if opts.ReloadRate <= 0 {
		opts.ReloadRate = 2
	}
	if opts.ReloadBurst <= 0 {
		opts.ReloadBurst = 4
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		services:      services,
		router:        chi.NewRouter(),
		sseHandler:    sse.NewHandler(services.Events, logger),
		reloadLimiter: ratelimit.New(opts.ReloadRate, opts.ReloadBurst),
		logger:        logger,
	}

	s.setupMiddleware(opts)

	humaConfig := huma.DefaultConfig("geomwatch API", Version)
	// Responses are enveloped, so skip the $schema link rewriting.
	humaConfig.CreateHooks = nil
	humaConfig.Transformers = append(humaConfig.Transformers, EnvelopeTransformer)

	s.api = humachi.New(s.router, humaConfig)
	RegisterErrorHandler()

	s.registerHealthRoutes()
	s.registerSessionRoutes()

	s.router.Get("/api/v1/events", s.sseHandler.ServeHTTP)

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, "no route for "+r.URL.Path, s.logger)
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.MethodNotAllowed(w, r.Method+" not allowed on "+r.URL.Path, s.logger)
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// API returns the huma API, used by tests.
func (s *Server) API() huma.API {
	return s.api
}

// Close releases background resources.
func (s *Server) Close() {
	s.reloadLimiter.Stop()
}

func (s *Server) setupMiddleware(opts Options) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Last-Event-ID"},
		MaxAge:         300,
	}))
}

// requestLogger logs every request once it has been served.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
