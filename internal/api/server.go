// Package api provides HTTP API server implementation for the SIPSA ingestion service.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sipsa-ingest/ingestor/internal/api/middleware"
	"github.com/sipsa-ingest/ingestor/internal/curated"
	"github.com/sipsa-ingest/ingestor/internal/ingestion"
	"github.com/sipsa-ingest/ingestor/internal/storage"
)

// ingestionRunner is the subset of *orchestrator.IngestionJob the API layer
// depends on, so tests can substitute a fake instead of wiring a real job.
type ingestionRunner interface {
	Run(ctx context.Context, methodName string, force bool, requestID string, source ingestion.RequestSource) error
}

// Server represents the HTTP API server.
type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	config      *ServerConfig
	startTime   time.Time
	apiKeyStore storage.APIKeyStore
	rateLimiter middleware.RateLimiter
	job         ingestionRunner
	control     ingestion.ControlStore
	curated     *curated.Store
}

// NewServer creates a new HTTP server instance with structured logging and middleware stack.
//
// Dependencies are injected explicitly rather than being part of ServerConfig:
// configuration (what) is separated from dependencies (how).
//
// Parameters:
//   - cfg: Pure server configuration (ports, timeouts, CORS settings)
//   - apiKeyStore: API key storage implementation (nil disables authentication)
//   - rateLimiter: Rate limiter implementation (nil disables rate limiting)
//   - job: ingestion orchestrator (REQUIRED - panics if nil)
//   - control: audit/run query store (REQUIRED - panics if nil)
//   - curatedStore: curated read API backing store (REQUIRED - panics if nil)
func NewServer(
	cfg *ServerConfig,
	apiKeyStore storage.APIKeyStore,
	rateLimiter middleware.RateLimiter,
	job ingestionRunner,
	control ingestion.ControlStore,
	curatedStore *curated.Store,
) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	if job == nil || control == nil || curatedStore == nil {
		logger.Error("ingestion job, control store, and curated store are required - cannot start server without core functionality")
		panic("api: job, control, and curated dependencies cannot be nil - this indicates a configuration error")
	}

	mux := http.NewServeMux()

	server := &Server{
		logger:      logger,
		config:      cfg,
		apiKeyStore: apiKeyStore,
		rateLimiter: rateLimiter,
		job:         job,
		control:     control,
		curated:     curatedStore,
	}

	server.setupRoutes(mux)

	if apiKeyStore != nil { // pragma: allowlist secret
		logger.Info("operator authentication middleware enabled")
	} else {
		logger.Warn("APIKeyStore not configured - operator authentication middleware disabled")
	}

	if rateLimiter != nil {
		logger.Info("rate limiting middleware enabled")
	} else {
		logger.Warn("RateLimiter not configured - rate limiting middleware disabled")
	}

	// Apply middleware chain using functional options pattern.
	// Middleware executes in the order listed (top-to-bottom):
	//   1. CorrelationID - generate correlation ID for all responses
	//   2. Recovery - catch panics in all downstream middleware
	//   3. Operator Auth - identify operator and set OperatorContext (optional)
	//   4. RateLimit - block requests before expensive operations (optional)
	//   5. RequestLogger - log only legitimate requests (not rate-limited spam)
	//   6. CORS - lightweight header manipulation
	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithAuthOperator(apiKeyStore, logger),
		middleware.WithRateLimit(rateLimiter, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Start starts the HTTP server and blocks until shutdown.
// It handles graceful shutdown on SIGINT and SIGTERM signals.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("starting SIPSA ingestion API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server failed to start",
				slog.String("address", s.config.Address()),
				slog.String("error", err.Error()),
			)

			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("received shutdown signal", slog.String("signal", sig.String()))

		return s.shutdown()
	}
}

// shutdown gracefully shuts down the server.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("initiating server shutdown", slog.Duration("shutdown_timeout", s.config.ShutdownTimeout))

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("server shutdown failed",
			slog.String("error", err.Error()),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.closeDependency("API key store", s.apiKeyStore)
	s.closeDependency("rate limiter", s.rateLimiter)
	s.closeDependency("control store", s.control)

	s.logger.Info("server shutdown completed successfully")

	return nil
}

// closeDependency attempts to close a server dependency that implements io.Closer.
// Errors are logged but don't stop shutdown (best-effort).
func (s *Server) closeDependency(name string, store interface{}) {
	if store == nil {
		return
	}

	s.logger.Info("closing " + name)

	closer, ok := store.(io.Closer)
	if !ok {
		return
	}

	if err := closer.Close(); err != nil {
		s.logger.Error("failed to close "+name, slog.String("error", err.Error()))

		return
	}

	s.logger.Info(name + " closed successfully")
}
