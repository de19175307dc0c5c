package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/trailcam/trailcam-agent/internal/detection"
)

// Pipeline turns one video input into a filtered detection timeline.
type Pipeline interface {
	Run(ctx context.Context, input string) (*detection.Result, error)
}

// Options are the thresholds applied during a run.
type Options struct {
	ConfThreshold  float64
	IoUThreshold   float64
	FrameThreshold int
	GapTolerance   int
}

func DefaultOptions() Options {
	return Options{
		ConfThreshold:  0.5,
		IoUThreshold:   0.5,
		FrameThreshold: 10,
		GapTolerance:   3,
	}
}

// Status describes a run in progress.
type Status struct {
	Video     string    `json:"video"`
	Frames    int       `json:"frames"`
	Estimated int       `json:"estimated_frames,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

type frameCounter interface {
	Inc()
}

// Runner implements Pipeline on top of an Opener and a Detector.
type Runner struct {
	opener   Opener
	detector Detector
	opts     Options
	logger   *slog.Logger
	frames   frameCounter

	mu       sync.Mutex
	inflight map[*Status]struct{}
}

func NewRunner(opener Opener, detector Detector, opts Options, logger *slog.Logger) *Runner {
	return &Runner{
		opener:   opener,
		detector: detector,
		opts:     opts,
		logger:   logger,
		inflight: make(map[*Status]struct{}),
	}
}

// WithFrameCounter makes the runner count every decoded frame on c.
func (r *Runner) WithFrameCounter(c frameCounter) *Runner {
	r.frames = c
	return r
}

// Run decodes input frame by frame, detects objects on every frame, then
// applies the run-length filter. No partial result is returned on error.
func (r *Runner) Run(ctx context.Context, input string) (*detection.Result, error) {
	name := VideoName(input)

	src, err := r.opener.Open(input)
	if err != nil {
		return nil, &IOError{Input: input, Err: err}
	}

	status := &Status{Video: name, Estimated: src.Info().FrameCount, StartedAt: time.Now()}
	r.track(status)
	defer r.untrack(status)

	records, err := r.decode(ctx, name, src, status)
	if err != nil {
		return nil, err
	}

	validity := detection.Filter(records, r.opts.FrameThreshold, r.opts.GapTolerance)
	frames := detection.Apply(records, validity)

	if r.logger != nil {
		r.logger.Debug("run-length filter applied",
			"video", name,
			"frames", len(frames),
			"classes_kept", len(validity),
		)
	}

	return &detection.Result{
		VideoFilename: name,
		TotalFrames:   len(frames),
		Frames:        frames,
	}, nil
}

// decode reads src to exhaustion and releases it on every path.
func (r *Runner) decode(ctx context.Context, name string, src Source, status *Status) ([]detection.FrameRecord, error) {
	defer func() {
		if err := src.Close(); err != nil && r.logger != nil {
			r.logger.Warn("failed to close video source", "video", name, "error", err)
		}
	}()

	var records []detection.FrameRecord
	for index := 1; ; index++ {
		if err := ctx.Err(); err != nil {
			return nil, &DetectionError{Video: name, Frame: index, Err: err}
		}

		frame, err := src.Read()
		if errors.Is(err, ErrEndOfStream) {
			break
		}
		if err != nil {
			return nil, &DetectionError{Video: name, Frame: index, Err: &IOError{Input: name, Err: err}}
		}

		raw, err := r.detector.Detect(ctx, frame, r.opts.ConfThreshold, r.opts.IoUThreshold)
		frame.Close()
		if err != nil {
			return nil, &DetectionError{Video: name, Frame: index, Err: err}
		}

		kept := make([]detection.Detection, 0, len(raw))
		for _, d := range raw {
			if d.Confidence >= r.opts.ConfThreshold {
				kept = append(kept, d)
			}
		}
		records = append(records, detection.NewFrameRecord(index, kept))

		r.mu.Lock()
		status.Frames = index
		r.mu.Unlock()
		if r.frames != nil {
			r.frames.Inc()
		}
	}
	return records, nil
}

// InFlight returns a snapshot of the runs currently decoding, oldest first.
func (r *Runner) InFlight() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Status, 0, len(r.inflight))
	for s := range r.inflight {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (r *Runner) track(s *Status) {
	r.mu.Lock()
	r.inflight[s] = struct{}{}
	r.mu.Unlock()
}

func (r *Runner) untrack(s *Status) {
	r.mu.Lock()
	delete(r.inflight, s)
	r.mu.Unlock()
}

// VideoName derives the result name of an input: "webcam" for the camera
// sentinel, otherwise the base file name without its extension.
func VideoName(input string) string {
	if IsWebcam(input) {
		return detection.WebcamSource
	}
	base := filepath.Base(input)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// IsWebcam reports whether input selects the default camera.
func IsWebcam(input string) bool {
	return input == "0" || strings.EqualFold(input, detection.WebcamSource)
}
