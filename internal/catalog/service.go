package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/trailcam/trailcam-agent/internal/detection"
	"github.com/trailcam/trailcam-agent/internal/export"
	"github.com/trailcam/trailcam-agent/internal/logging"
	"github.com/trailcam/trailcam-agent/internal/metrics"
	"github.com/trailcam/trailcam-agent/internal/pipeline"
	"github.com/trailcam/trailcam-agent/internal/watcher"
)

const (
	defaultDetectTimeout = 2 * time.Hour
	rollbackTimeout      = 30 * time.Second
	reconcilePageSize    = 500
)

// PersistenceError reports that a finished result could not be stored.
// The video row has been rolled back when it is returned.
type PersistenceError struct {
	Filename string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Filename, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

type Stabilizer interface {
	Wait(ctx context.Context, path string) (int64, error)
}

// Recorder receives per-video outcomes. *metrics.Metrics implements it.
type Recorder interface {
	VideoOutcome(outcome string)
	ObserveDetection(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) VideoOutcome(string)            {}
func (nopRecorder) ObserveDetection(time.Duration) {}

// Service drives one video file through stabilisation, registration,
// detection and storage, and undoes all of it when the file is removed.
type Service struct {
	repo          Repository
	pipeline      pipeline.Pipeline
	stable        Stabilizer
	artifacts     *export.Writer
	recorder      Recorder
	detectTimeout time.Duration
	logger        *slog.Logger

	mu sync.Mutex
	// suppressed counts removals the service caused itself, by path.
	suppressed map[string]int
}

func NewService(repo Repository, pipe pipeline.Pipeline, stable Stabilizer, artifacts *export.Writer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		repo:          repo,
		pipeline:      pipe,
		stable:        stable,
		artifacts:     artifacts,
		recorder:      nopRecorder{},
		detectTimeout: defaultDetectTimeout,
		logger:        logger,
		suppressed:    make(map[string]int),
	}
}

func (s *Service) WithRecorder(r Recorder) *Service {
	if r != nil {
		s.recorder = r
	}
	return s
}

// WithDetectTimeout bounds a single pipeline run. Zero disables the bound.
func (s *Service) WithDetectTimeout(d time.Duration) *Service {
	s.detectTimeout = d
	return s
}

// HandleCreated processes a newly arrived video file. A duplicate filename
// is not an error: the incoming file is deleted and nil is returned.
func (s *Service) HandleCreated(ctx context.Context, path string) error {
	filename := filepath.Base(path)
	log := logging.WithVideo(s.logger, filename)
	if !IsVideoFile(filename) {
		log.Debug("ignoring file without a video name")
		return nil
	}
	log.Info("video arrived", "path", logging.SanitizePath(path))

	size, err := s.stable.Wait(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("stability wait interrupted")
			return ctx.Err()
		}
		s.recorder.VideoOutcome(metrics.OutcomeUnstable)
		return fmt.Errorf("wait for %s: %w", filename, err)
	}
	log.Debug("file stable", "size", size)

	video, err := s.repo.RegisterVideo(ctx, filename)
	if errors.Is(err, ErrDuplicate) {
		s.discardDuplicate(path, log)
		return nil
	}
	if err != nil {
		return fmt.Errorf("register %s: %w", filename, err)
	}
	log = log.With("video_id", video.ID)
	log.Info("video registered")

	result, err := s.detect(ctx, path, log)
	if err != nil {
		s.rollback(ctx, video, log)
		s.recorder.VideoOutcome(metrics.OutcomeFailed)
		return err
	}

	if err := s.store(ctx, video, result, log); err != nil {
		s.rollback(ctx, video, log)
		s.recorder.VideoOutcome(metrics.OutcomePersistenceFailed)
		return err
	}

	s.recorder.VideoOutcome(metrics.OutcomeCompleted)
	return nil
}

func (s *Service) detect(ctx context.Context, path string, log *slog.Logger) (*detection.Result, error) {
	runCtx := ctx
	if s.detectTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.detectTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := s.pipeline.Run(runCtx, path)
	if err != nil {
		log.Error("detection failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return nil, err
	}

	elapsed := time.Since(start)
	s.recorder.ObserveDetection(elapsed)

	withObjects := 0
	for _, f := range result.Frames {
		if f.ObjectsDetected {
			withObjects++
		}
	}
	log.Info("detection succeeded",
		"total_frames", result.TotalFrames,
		"frames_with_objects", withObjects,
		"duration_ms", elapsed.Milliseconds(),
	)
	return result, nil
}

// store stages the artifact, commits the detection row and only then
// publishes the artifact, so a failed commit leaves no JSON behind.
func (s *Service) store(ctx context.Context, video *Video, result *detection.Result, log *slog.Logger) error {
	record, err := NewDetection(video.ID, result)
	if err != nil {
		return &PersistenceError{Filename: video.Filename, Err: err}
	}
	if record.ClassesDetected != nil {
		log.Info("classes detected", "classes", *record.ClassesDetected, "max_count_per_frame", record.MaxCountPerFrame)
	} else {
		log.Info("no classes detected")
	}

	staged, err := s.artifacts.Stage(ArtifactName(video.Filename), result)
	if err != nil {
		log.Error("artifact staging failed", "error", err)
		return &PersistenceError{Filename: video.Filename, Err: err}
	}

	if err := s.repo.CompleteVideo(ctx, record); err != nil {
		if derr := staged.Discard(); derr != nil {
			log.Warn("discard staged artifact failed", "error", derr)
		}
		log.Error("storing detection failed", "error", err)
		return &PersistenceError{Filename: video.Filename, Err: err}
	}

	// The row is committed; a publish failure leaves the result readable
	// from the database.
	if err := staged.Publish(); err != nil {
		log.Error("artifact publish failed", "error", err)
		return nil
	}
	log.Info("video completed", "artifact", logging.SanitizePath(staged.Path()))
	return nil
}

// rollback removes a registered video after a failed run. It must run even
// when ctx is already cancelled by shutdown.
func (s *Service) rollback(ctx context.Context, video *Video, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	if err := s.repo.DeleteVideo(ctx, video.ID); err != nil {
		log.Error("rollback failed", "error", err)
		return
	}
	log.Info("registration rolled back")
}

func (s *Service) discardDuplicate(path string, log *slog.Logger) {
	log.Info("duplicate video, deleting incoming file")
	s.recorder.VideoOutcome(metrics.OutcomeDuplicate)

	s.suppress(path)
	if err := os.Remove(path); err != nil {
		s.consumeSuppressed(path)
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn("failed to delete duplicate", "error", err)
		}
	}
}

// HandleRemoved forgets a video whose file left the watch folder. Unknown
// filenames are ignored.
func (s *Service) HandleRemoved(ctx context.Context, path string) error {
	filename := filepath.Base(path)
	log := logging.WithVideo(s.logger, filename)

	if s.consumeSuppressed(path) {
		log.Debug("ignoring removal of deleted duplicate")
		return nil
	}

	video, err := s.repo.GetVideoByFilename(ctx, filename)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", filename, err)
	}
	if video == nil {
		log.Debug("removed file was not registered")
		return nil
	}

	if err := s.artifacts.Remove(ArtifactName(filename)); err != nil {
		log.Warn("failed to remove artifact", "error", err)
	}
	if err := s.repo.DeleteVideo(ctx, video.ID); err != nil {
		return fmt.Errorf("delete %s: %w", filename, err)
	}

	s.recorder.VideoOutcome(metrics.OutcomeRemoved)
	log.Info("video removed", "video_id", video.ID)
	return nil
}

// Reconcile compares dir with the database and returns the events that
// bring them back in line: creates for unregistered video files and
// removals for registered videos whose file is gone.
func (s *Service) Reconcile(ctx context.Context, dir string) ([]Event, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read watch folder: %w", err)
	}

	present := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() || !IsVideoFile(e.Name()) {
			continue
		}
		present[e.Name()] = true
	}

	known := make(map[string]bool)
	var events []Event
	for offset := 0; ; offset += reconcilePageSize {
		videos, err := s.repo.ListVideos(ctx, reconcilePageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("list videos: %w", err)
		}
		for _, v := range videos {
			known[v.Filename] = true
			if !present[v.Filename] {
				events = append(events, Event{Type: watcher.EventDelete, Path: filepath.Join(dir, v.Filename)})
			}
		}
		if len(videos) < reconcilePageSize {
			break
		}
	}

	var missing []string
	for name := range present {
		if !known[name] {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	for _, name := range missing {
		events = append(events, Event{Type: watcher.EventCreate, Path: filepath.Join(dir, name)})
	}

	s.logger.Info("reconciled watch folder",
		"files", len(present),
		"registered", len(known),
		"events", len(events),
	)
	return events, nil
}

func (s *Service) suppress(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suppressed[filepath.Clean(path)]++
}

func (s *Service) consumeSuppressed(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := filepath.Clean(path)
	n := s.suppressed[key]
	if n == 0 {
		return false
	}
	if n == 1 {
		delete(s.suppressed, key)
	} else {
		s.suppressed[key] = n - 1
	}
	return true
}
