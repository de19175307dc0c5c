// Package vision adapts OpenCV (through gocv) to the pipeline: video
// decoding from files or the default camera and YOLO inference.
package vision

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"

	"github.com/trailcam/trailcam-agent/internal/pipeline"
)

// Frame wraps a decoded image. The pipeline owns it and closes it after
// detection.
type Frame struct {
	Mat gocv.Mat
}

func (f *Frame) Close() error {
	return f.Mat.Close()
}

// CaptureOpener opens files and the webcam sentinel with gocv.VideoCapture.
type CaptureOpener struct {
	// Device is the camera index used for the webcam sentinel.
	Device int
}

func (o CaptureOpener) Open(input string) (pipeline.Source, error) {
	var (
		vc  *gocv.VideoCapture
		err error
	)
	if pipeline.IsWebcam(input) {
		vc, err = gocv.VideoCaptureDevice(o.Device)
	} else {
		vc, err = gocv.VideoCaptureFile(input)
	}
	if err != nil {
		return nil, err
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("cannot open %q for decoding", input)
	}
	return &captureSource{vc: vc}, nil
}

type captureSource struct {
	vc *gocv.VideoCapture
}

func (s *captureSource) Read() (pipeline.Frame, error) {
	img := gocv.NewMat()
	if ok := s.vc.Read(&img); !ok || img.Empty() {
		img.Close()
		return nil, pipeline.ErrEndOfStream
	}
	return &Frame{Mat: img}, nil
}

func (s *captureSource) Info() pipeline.SourceInfo {
	return pipeline.SourceInfo{
		Width:      int(s.vc.Get(gocv.VideoCaptureFrameWidth)),
		Height:     int(s.vc.Get(gocv.VideoCaptureFrameHeight)),
		FrameRate:  s.vc.Get(gocv.VideoCaptureFPS),
		FrameCount: int(s.vc.Get(gocv.VideoCaptureFrameCount)),
	}
}

func (s *captureSource) Close() error {
	return s.vc.Close()
}

var errUnsupportedFrame = errors.New("frame was not decoded by vision")

func matOf(frame pipeline.Frame) (gocv.Mat, error) {
	f, ok := frame.(*Frame)
	if !ok || f.Mat.Empty() {
		return gocv.Mat{}, errUnsupportedFrame
	}
	return f.Mat, nil
}
