package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trailcam/trailcam-agent/internal/api"
	"github.com/trailcam/trailcam-agent/internal/catalog"
	"github.com/trailcam/trailcam-agent/internal/cloud"
	"github.com/trailcam/trailcam-agent/internal/config"
	"github.com/trailcam/trailcam-agent/internal/db"
	"github.com/trailcam/trailcam-agent/internal/export"
	"github.com/trailcam/trailcam-agent/internal/logging"
	"github.com/trailcam/trailcam-agent/internal/metrics"
	"github.com/trailcam/trailcam-agent/internal/pipeline"
	"github.com/trailcam/trailcam-agent/internal/vision"
	"github.com/trailcam/trailcam-agent/internal/vision/yolo"
	"github.com/trailcam/trailcam-agent/internal/watcher"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting trailcam agent",
		"version", config.Version,
		"watch_folder", logging.SanitizePath(cfg.WatchFolder()),
		"json_folder", logging.SanitizePath(cfg.JSONFolder()),
		"database", logging.SanitizeURL(cfg.DatabaseURL()),
	)

	driver, dsn, err := config.ParseDatabaseURL(cfg.DatabaseURL())
	if err != nil {
		return err
	}
	database, err := db.New(driver, dsn, logging.WithComponent(logger, "db"))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := catalog.NewRepository(database.Conn(), database.Dialect())

	detector, health, err := newDetector(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize detector: %w", err)
	}
	if c, ok := detector.(interface{ Close() error }); ok {
		defer c.Close()
	}

	mode, err := export.ParseMode(cfg.JSONMode())
	if err != nil {
		return err
	}
	writer, err := export.NewWriter(cfg.JSONFolder(), mode)
	if err != nil {
		return fmt.Errorf("failed to prepare json folder: %w", err)
	}
	if err := os.MkdirAll(cfg.WatchFolder(), 0755); err != nil {
		return fmt.Errorf("failed to create watch folder: %w", err)
	}

	m := metrics.New()

	pipe := pipeline.NewRunner(vision.CaptureOpener{}, detector, pipeline.Options{
		ConfThreshold:  cfg.ConfThreshold(),
		IoUThreshold:   cfg.IoUThreshold(),
		FrameThreshold: cfg.FrameThreshold(),
		GapTolerance:   cfg.GapTolerance(),
	}, logging.WithComponent(logger, "pipeline")).WithFrameCounter(m.FramesDecoded())

	stable := watcher.NewStabilizer(cfg.StableInterval(), cfg.StablePolls(), cfg.StableTimeout())
	svc := catalog.NewService(repo, pipe, stable, writer, logging.WithComponent(logger, "ingest")).
		WithRecorder(m).
		WithDetectTimeout(cfg.DetectTimeout())

	runner := catalog.NewRunner(svc, cfg.Workers(), logging.WithComponent(logger, "runner"))
	m.RegisterQueue(runner.Pending, runner.Active)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	submit := func(ev catalog.Event) {
		m.EventReceived(ev.Type.String())
		if err := runner.Submit(ev); err != nil {
			logger.Warn("event dropped", "path", logging.SanitizePath(ev.Path), "error", err)
		}
	}

	fsw := watcher.NewFSWatcher(catalog.IsVideoFile, logging.WithComponent(logger, "watcher"))
	fsw.OnChange(func(path string, event watcher.EventType) {
		if event == watcher.EventModify {
			return
		}
		submit(catalog.Event{Type: event, Path: path})
	})
	if err := fsw.Watch(ctx, cfg.WatchFolder()); err != nil {
		return fmt.Errorf("failed to watch folder: %w", err)
	}
	defer fsw.Stop()

	// Reconcile while the runner is idle so events the watcher saw in the
	// meantime coalesce with the reconcile ones.
	if cfg.ScanOnStart() {
		events, err := svc.Reconcile(ctx, cfg.WatchFolder())
		if err != nil {
			logger.Error("startup reconcile failed", "error", err)
		}
		for _, ev := range events {
			submit(ev)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		runner.Start(gctx)
		return nil
	})

	if addr := cfg.HTTPAddr(); addr != "" {
		serverCfg := api.ServerConfig{
			Addr:        addr,
			Repository:  repo,
			Runner:      runner,
			Pipeline:    pipe,
			Database:    database,
			Metrics:     m.Handler(),
			Detector:    cfg.Detector(),
			WatchFolder: cfg.WatchFolder(),
			JSONFolder:  cfg.JSONFolder(),
			Token:       cfg.APIToken(),
			Logger:      logging.WithComponent(logger, "api"),
			StartTime:   startTime,
			Version:     config.Version,
		}
		if health != nil {
			serverCfg.DetectorHealth = health
		}
		server := api.NewServer(serverCfg)

		g.Go(server.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	logger.Info("agent ready",
		"workers", cfg.Workers(),
		"detector", cfg.Detector(),
		"json_folder", logging.SanitizePath(writer.Dir()),
		"json_mode", writer.Mode(),
	)

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

// newDetector builds the configured detector. The health probe is non-nil
// only for the remote backend.
func newDetector(cfg *config.EnvConfig, logger *slog.Logger) (pipeline.Detector, *cloud.CachedHealth, error) {
	if cfg.Detector() == config.DetectorHTTP {
		client := cloud.NewHTTPClient(cfg.DetectorURL(), cfg.DetectorToken(), cfg.DetectorTimeout(), logging.WithComponent(logger, "inference"))
		logger.Info("using remote detector", "url", logging.SanitizeURL(cfg.DetectorURL()))
		return vision.NewRemoteDetector(client), cloud.NewCachedHealth(client, logger), nil
	}

	names := yolo.COCONames
	if path := cfg.ClassNames(); path != "" {
		loaded, err := yolo.LoadNames(path)
		if err != nil {
			return nil, nil, err
		}
		names = loaded
	}

	d, err := vision.NewONNXDetector(cfg.ModelPath(), names, cfg.InputSize(), logging.WithComponent(logger, "detector"))
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using onnx detector", "model", logging.SanitizePath(cfg.ModelPath()), "classes", len(names))
	return d, nil, nil
}
