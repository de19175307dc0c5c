// Command detect runs the detection pipeline once on a video file or the
// default camera and prints a summary of the filtered result.
//
//	detect -json-dir out clip.mp4
//	detect -max-frames 300 webcam
//
// On the camera, the first interrupt ends the stream and the frames read so
// far are filtered and written as usual; a second interrupt aborts.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trailcam/trailcam-agent/internal/cloud"
	"github.com/trailcam/trailcam-agent/internal/config"
	"github.com/trailcam/trailcam-agent/internal/detection"
	"github.com/trailcam/trailcam-agent/internal/export"
	"github.com/trailcam/trailcam-agent/internal/logging"
	"github.com/trailcam/trailcam-agent/internal/pipeline"
	"github.com/trailcam/trailcam-agent/internal/vision"
	"github.com/trailcam/trailcam-agent/internal/vision/yolo"
)

var (
	input          = flag.String("input", "", "Video file, or \"webcam\" for the default camera (may also be given as the first argument)")
	jsonDir        = flag.String("json-dir", "", "Write <name>.json to this directory")
	mode           = flag.String("mode", string(export.ModeFrames), "Artifact shape (frames, result)")
	modelPath      = flag.String("model", envOr(config.EnvModelPath, config.DefaultModelPath), "YOLO ONNX model path")
	classNames     = flag.String("names", "", "Class names file (default: COCO)")
	inputSize      = flag.Int("input-size", config.DefaultInputSize, "Model input size")
	device         = flag.Int("device", 0, "Camera index used for webcam")
	detectorKind   = flag.String("detector", config.DetectorONNX, "Detector backend (onnx, http)")
	detectorURL    = flag.String("detector-url", "", "Inference service URL for the http backend")
	detectorToken  = flag.String("detector-token", "", "Bearer token for the inference service")
	confThreshold  = flag.Float64("conf", config.DefaultConfThreshold, "Confidence threshold")
	iouThreshold   = flag.Float64("iou", config.DefaultIoUThreshold, "IoU threshold for NMS")
	frameThreshold = flag.Int("frame-threshold", config.DefaultFrameThreshold, "Runs must be longer than this many frames")
	gapTolerance   = flag.Int("gap", config.DefaultGapTolerance, "Missing frames bridged inside a run")
	maxFrames      = flag.Int("max-frames", 0, "Stop after this many frames (0 reads to the end)")
	logLevel       = flag.String("log-level", config.DefaultLogLevel, "Log level (debug, info, warn, error)")
)

// summary is what the command prints on stdout.
type summary struct {
	Video            string         `json:"video_filename"`
	TotalFrames      int            `json:"total_frames"`
	FramesWithObject int            `json:"frames_with_objects"`
	Classes          []string       `json:"classes"`
	MaxCountPerFrame map[string]int `json:"max_count_per_frame"`
	Artifact         string         `json:"artifact,omitempty"`
	DurationMs       int64          `json:"duration_ms"`
}

func main() {
	flag.Parse()

	src := *input
	if src == "" && flag.NArg() > 0 {
		src = flag.Arg(0)
	}
	if src == "" {
		fmt.Fprintln(os.Stderr, "usage: detect [flags] <video|webcam>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if err := run(src); err != nil {
		log.Fatalf("detect: %v", err)
	}
}

func run(src string) error {
	logger := logging.NewLoggerTo(os.Stderr, *logLevel)

	if err := validate(); err != nil {
		return err
	}

	var writer *export.Writer
	if *jsonDir != "" {
		m, err := export.ParseMode(*mode)
		if err != nil {
			return err
		}
		if writer, err = export.NewWriter(*jsonDir, m); err != nil {
			return fmt.Errorf("prepare json dir: %w", err)
		}
	}

	detector, err := newDetector(logger)
	if err != nil {
		return err
	}
	if c, ok := detector.(interface{ Close() error }); ok {
		defer c.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := make(chan struct{})
	go interrupts(ctx, stop, cancel, logger)

	opener := pipeline.LimitedOpener{
		Opener:    vision.CaptureOpener{Device: *device},
		MaxFrames: *maxFrames,
		Stop:      stop,
	}
	runner := pipeline.NewRunner(opener, detector, pipeline.Options{
		ConfThreshold:  *confThreshold,
		IoUThreshold:   *iouThreshold,
		FrameThreshold: *frameThreshold,
		GapTolerance:   *gapTolerance,
	}, logging.WithComponent(logger, "pipeline"))

	start := time.Now()
	logger.Info("detection started", "input", logging.SanitizePath(src))
	result, err := runner.Run(ctx, src)
	if err != nil {
		return err
	}

	out := summarize(result)
	out.DurationMs = time.Since(start).Milliseconds()
	if writer != nil {
		path, err := writer.Write(result.VideoFilename, result)
		if err != nil {
			return fmt.Errorf("write artifact: %w", err)
		}
		out.Artifact = path
		logger.Info("saved filtered results", "path", logging.SanitizePath(path))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func validate() error {
	switch {
	case *confThreshold < 0 || *confThreshold > 1:
		return fmt.Errorf("-conf must be in [0,1], got %v", *confThreshold)
	case *iouThreshold < 0 || *iouThreshold > 1:
		return fmt.Errorf("-iou must be in [0,1], got %v", *iouThreshold)
	case *frameThreshold < 0:
		return errors.New("-frame-threshold must be >= 0")
	case *gapTolerance < 0:
		return errors.New("-gap must be >= 0")
	case *maxFrames < 0:
		return errors.New("-max-frames must be >= 0")
	}
	return nil
}

func newDetector(logger *slog.Logger) (pipeline.Detector, error) {
	switch *detectorKind {
	case config.DetectorHTTP:
		if *detectorURL == "" {
			return nil, errors.New("-detector-url is required for the http detector")
		}
		client := cloud.NewHTTPClient(*detectorURL, *detectorToken, config.DefaultDetectorTimeout, logging.WithComponent(logger, "inference"))
		return vision.NewRemoteDetector(client), nil
	case config.DetectorONNX:
		names := yolo.COCONames
		if *classNames != "" {
			loaded, err := yolo.LoadNames(*classNames)
			if err != nil {
				return nil, err
			}
			names = loaded
		}
		return vision.NewONNXDetector(*modelPath, names, *inputSize, logging.WithComponent(logger, "detector"))
	default:
		return nil, fmt.Errorf("unknown detector %q", *detectorKind)
	}
}

// interrupts closes stop on the first signal and cancels on the second.
func interrupts(ctx context.Context, stop chan<- struct{}, cancel context.CancelFunc, logger *slog.Logger) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case <-sigs:
		logger.Info("interrupt received, finishing with the frames read so far")
		close(stop)
	case <-ctx.Done():
		return
	}
	select {
	case <-sigs:
		logger.Warn("second interrupt, aborting")
		cancel()
	case <-ctx.Done():
	}
}

func summarize(r *detection.Result) summary {
	s := detection.Summarize(r)
	out := summary{
		Video:            r.VideoFilename,
		TotalFrames:      r.TotalFrames,
		Classes:          s.Classes,
		MaxCountPerFrame: s.MaxCountPerFrame,
	}
	for _, f := range r.Frames {
		if f.ObjectsDetected {
			out.FramesWithObject++
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
