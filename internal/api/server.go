package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/monitor-car/mcc/internal/auth"
	"github.com/monitor-car/mcc/internal/config"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Server represents the HTTP API server.
type Server struct {
	cfg            config.APIConfig
	httpServer     *http.Server
	commands       CommandPort
	motors         MotorReadPort
	telemetryHub   TelemetryPort
	authMiddleware *auth.Middleware
	logger         *zap.Logger
	startTime      time.Time

	hostStats func(ctx context.Context) (*HostStats, error)
}

// NewServer creates a new API server. A nil middleware serves every route
// without authentication.
func NewServer(cfg config.APIConfig, commands CommandPort, motors MotorReadPort, hub TelemetryPort, authMiddleware *auth.Middleware, logger *zap.Logger) *Server {
	if authMiddleware == nil {
		authMiddleware = auth.NewMiddleware(nil, writeAuthError)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:            cfg,
		commands:       commands,
		motors:         motors,
		telemetryHub:   hub,
		authMiddleware: authMiddleware,
		logger:         logger,
		startTime:      time.Now(),
		hostStats:      readHostStats,
	}
}

// NewAuthMiddleware builds the middleware for cfg, or nil when
// authentication is disabled.
func NewAuthMiddleware(cfg config.AuthConfig) (*auth.Middleware, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	vc, err := auth.VerifierConfigFrom(cfg)
	if err != nil {
		return nil, err
	}
	verifier, err := auth.NewVerifier(vc)
	if err != nil {
		return nil, err
	}
	return auth.NewMiddleware(verifier, writeAuthError), nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("API server listening", zap.String("addr", s.cfg.Addr), zap.Bool("auth", s.authMiddleware.Enabled()))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
