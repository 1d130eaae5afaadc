package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackzampolin/quire/internal/api"
	"github.com/jackzampolin/quire/internal/audio"
	"github.com/jackzampolin/quire/internal/config"
	"github.com/jackzampolin/quire/internal/home"
	"github.com/jackzampolin/quire/internal/jobs"
	"github.com/jackzampolin/quire/internal/server/endpoints"
	"github.com/jackzampolin/quire/internal/source"
	"github.com/jackzampolin/quire/internal/svcctx"
)

// Server is the main quire HTTP server.
// It owns the job scheduler and shuts it down after the listener closes.
type Server struct {
	httpServer *http.Server
	scheduler  *jobs.Scheduler
	configMgr  *config.Manager
	home       *home.Dir
	logger     *slog.Logger

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port string
	// ConfigManager provides configuration with hot-reload support (required)
	ConfigManager *config.Manager
	// Home is the quire home directory
	Home *home.Dir
	// Logger is the structured logger to use
	Logger *slog.Logger

	// Source replaces the remote source built from configuration. When set,
	// config changes do not rebuild it.
	Source source.Source
	// Synthesizer replaces the speech client built from configuration.
	Synthesizer audio.Synthesizer
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.ConfigManager == nil {
		return nil, errors.New("config manager is required")
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	src := cfg.Source
	if src == nil {
		client, err := source.NewFromConfig(cfg.ConfigManager.Get(), cfg.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create source client: %w", err)
		}
		src = client
	}

	scheduler := jobs.New(jobs.Config{
		Source:      src,
		Config:      cfg.ConfigManager,
		Synthesizer: cfg.Synthesizer,
		Logger:      cfg.Logger,
	})
	if cfg.Source == nil {
		followSource(cfg.ConfigManager, scheduler, cfg.Logger)
	}

	s := &Server{
		scheduler: scheduler,
		configMgr: cfg.ConfigManager,
		home:      cfg.Home,
		logger:    cfg.Logger,
	}
	s.services = &svcctx.Services{
		Scheduler:     scheduler,
		ConfigManager: cfg.ConfigManager,
		Logger:        cfg.Logger,
		Home:          cfg.Home,
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All() {
		s.endpointRegistry.Register(ep)
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:        net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:     s.withServices(mux),
		ReadTimeout: 30 * time.Second,
		// Update checks and artifact downloads can run long.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start binds the listen address and serves until ctx is cancelled or the
// listener fails. Either way the scheduler is shut down before returning.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.stop()
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}

	s.logger.Info("starting HTTP server", "addr", ln.Addr().String(), "save_path", s.configMgr.Get().SavePath)
	serveErr := make(chan error, 1)
	go func() { serveErr <- s.httpServer.Serve(ln) }()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			s.stop()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(drainCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}
	s.stop()
	return nil
}

// stop cancels running jobs, waits for their in-flight batches to persist
// and clears the running flag.
func (s *Server) stop() {
	s.scheduler.Shutdown()
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.logger.Info("server stopped")
}

// followSource rebuilds the remote source whenever the configuration
// changes. Running jobs keep the source they started with.
func followSource(cm *config.Manager, scheduler *jobs.Scheduler, logger *slog.Logger) {
	cm.OnChange(func(c *config.Config) {
		client, err := source.NewFromConfig(c, logger)
		if err != nil {
			logger.Error("source not reloaded", "error", err)
			return
		}
		scheduler.SetSource(client)
		logger.Info("source reloaded from config")
	})
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Scheduler returns the job scheduler.
func (s *Server) Scheduler() *jobs.Scheduler {
	return s.scheduler
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the root handler, for serving without a listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Registry returns the endpoint registry.
func (s *Server) Registry() *api.Registry {
	return s.endpointRegistry
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.services != nil {
			ctx = svcctx.WithServices(ctx, s.services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the scheduler and configuration
// are available. Returns 503 Service Unavailable otherwise.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.scheduler == nil || s.configMgr == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
