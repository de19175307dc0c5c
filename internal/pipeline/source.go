package pipeline

import (
	"context"
	"io"

	"github.com/trailcam/trailcam-agent/internal/detection"
)

// ErrEndOfStream is returned by Source.Read once the input is exhausted
// (end of file or camera disconnect).
var ErrEndOfStream = io.EOF

// Frame is one decoded image. The pipeline closes every frame it reads.
type Frame interface {
	Close() error
}

// Source yields decoded frames in order.
type Source interface {
	Read() (Frame, error)
	Info() SourceInfo
	Close() error
}

// SourceInfo is whatever the decoder knows about the stream up front.
// FrameCount is an estimate from the container and may be zero.
type SourceInfo struct {
	Width      int
	Height     int
	FrameRate  float64
	FrameCount int
}

// Opener opens a file path or the webcam sentinel for decoding.
type Opener interface {
	Open(input string) (Source, error)
}

// Detector runs inference on one frame and returns raw detections.
type Detector interface {
	Detect(ctx context.Context, frame Frame, confThreshold, iouThreshold float64) ([]detection.Detection, error)
}
