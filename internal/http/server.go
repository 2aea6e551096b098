// Package http provides the HTTP server and API wiring for vertd.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmylchreest/vertd/internal/http/middleware"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	// Host is the address to bind to (default: "0.0.0.0").
	Host string
	// Port is the port to listen on (default: 24153).
	Port int
	// ReadTimeout is the maximum duration for reading the entire request,
	// uploads included.
	ReadTimeout time.Duration
	// WriteTimeout bounds response writes. Zero leaves long downloads
	// unbounded.
	WriteTimeout time.Duration
	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout time.Duration
	// ShutdownTimeout is the maximum duration to wait for active connections to close.
	ShutdownTimeout time.Duration
	// CORSOrigins lists allowed origins. Empty or "*" allows any.
	CORSOrigins []string
	// MetricsPath serves Prometheus metrics when non-empty.
	MetricsPath string
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            24153,
		ReadTimeout:     5 * time.Minute,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MetricsPath:     "/metrics",
	}
}

// Drainer waits for work the HTTP server does not track, such as hijacked
// websocket connections.
type Drainer interface {
	Wait(ctx context.Context) error
}

// Routes holds the raw handlers mounted next to the typed API.
type Routes struct {
	Upload    http.Handler
	Download  http.Handler
	WebSocket http.Handler
	// UploadLimit wraps the upload handler when set.
	UploadLimit func(http.Handler) http.Handler
}

// Server represents the HTTP server.
type Server struct {
	config     ServerConfig
	router     *chi.Mux
	api        huma.API
	httpServer *http.Server
	drainers   []Drainer
	logger     *slog.Logger
}

// NewServer creates a new HTTP server with the given configuration.
// The version parameter is used in the OpenAPI document.
func NewServer(config ServerConfig, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}

	router := chi.NewRouter()

	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.NewLoggingMiddleware(logger))
	router.Use(middleware.Recovery(logger))
	var scrape []string
	if config.MetricsPath != "" {
		scrape = []string{config.MetricsPath}
	}
	router.Use(middleware.Metrics(middleware.MetricsConfig{SkipPaths: scrape}))
	router.Use(middleware.CORSWithConfig(middleware.CORSWithOrigins(config.CORSOrigins)))

	// Downloads are already-encoded media and must stream unbuffered.
	router.Use(middleware.SkipCompression(chimiddleware.Compress(5), append([]string{"/api/download/"}, scrape...)...))

	humaConfig := huma.DefaultConfig("vertd API", version)
	humaConfig.Info.Description = "Media conversion and compression service"

	api := humachi.New(router, humaConfig)

	if config.MetricsPath != "" {
		router.Handle(config.MetricsPath, promhttp.Handler())
	}

	return &Server{
		config: config,
		router: router,
		api:    api,
		httpServer: &http.Server{
			Addr:              net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
			Handler:           router,
			ReadTimeout:       config.ReadTimeout,
			ReadHeaderTimeout: 30 * time.Second,
			WriteTimeout:      config.WriteTimeout,
			IdleTimeout:       config.IdleTimeout,
		},
		logger: logger,
	}
}

// API returns the Huma API instance for registering operations.
func (s *Server) API() huma.API {
	return s.api
}

// Router returns the Chi router for registering additional routes.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Mount registers the raw upload, download and websocket routes.
func (s *Server) Mount(routes Routes) {
	if routes.Upload != nil {
		upload := routes.Upload
		if routes.UploadLimit != nil {
			upload = routes.UploadLimit(upload)
		}
		s.router.Method(http.MethodPost, "/api/upload", upload)
	}
	if routes.Download != nil {
		s.router.Method(http.MethodGet, "/api/download/{id}/{token}", routes.Download)
	}
	if routes.WebSocket != nil {
		s.router.Method(http.MethodGet, "/api/ws", routes.WebSocket)
	}
}

// OnShutdown adds d to the work awaited after the listener closes.
func (s *Server) OnShutdown(d Drainer) {
	s.drainers = append(s.drainers, d)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		slog.String("address", s.httpServer.Addr),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("starting server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server and waits for registered
// drainers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server",
		slog.Duration("timeout", s.config.ShutdownTimeout),
	)

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	for _, d := range s.drainers {
		if err := d.Wait(shutdownCtx); err != nil {
			return fmt.Errorf("draining connections: %w", err)
		}
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// ListenAndServe starts the server and handles graceful shutdown.
// It blocks until the server is shut down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Start()
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}
