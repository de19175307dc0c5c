package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/trailcam/trailcam-agent/internal/catalog"
	"github.com/trailcam/trailcam-agent/internal/cloud"
	"github.com/trailcam/trailcam-agent/internal/pipeline"
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// InFlightReporter lists pipeline runs in progress.
type InFlightReporter interface {
	InFlight() []pipeline.Status
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// DetectorHealth reports the remote inference service state.
type DetectorHealth interface {
	Get(ctx context.Context) cloud.HealthStatus
}

type ServerConfig struct {
	Addr       string
	Repository catalog.Repository
	Runner     *catalog.Runner
	Pipeline   InFlightReporter
	Database   HealthChecker
	Metrics    http.Handler
	// Detector is the configured backend name; DetectorHealth is set only
	// for remote backends.
	Detector       string
	DetectorHealth DetectorHealth
	WatchFolder    string
	JSONFolder     string
	// Token enables bearer auth on /api routes when non-empty.
	Token     string
	Logger    *slog.Logger
	StartTime time.Time
	Version   string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
