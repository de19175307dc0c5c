package vision

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"gocv.io/x/gocv"

	"github.com/trailcam/trailcam-agent/internal/detection"
	"github.com/trailcam/trailcam-agent/internal/pipeline"
	"github.com/trailcam/trailcam-agent/internal/vision/yolo"
)

// ONNXDetector runs a YOLOv8-style ONNX export through the OpenCV DNN
// module. A gocv.Net is not safe for concurrent use, so Detect serialises
// on the net.
type ONNXDetector struct {
	mu        sync.Mutex
	net       gocv.Net
	names     []string
	inputSize int
	logger    *slog.Logger
}

func NewONNXDetector(modelPath string, names []string, inputSize int, logger *slog.Logger) (*ONNXDetector, error) {
	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load ONNX model from %s", modelPath)
	}

	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("set dnn backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, fmt.Errorf("set dnn target: %w", err)
	}

	if logger != nil {
		logger.Info("onnx detector loaded", "model", modelPath, "classes", len(names), "input_size", inputSize)
	}

	return &ONNXDetector{net: net, names: names, inputSize: inputSize, logger: logger}, nil
}

func (d *ONNXDetector) Detect(ctx context.Context, frame pipeline.Frame, conf, iou float64) ([]detection.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := matOf(frame)
	if err != nil {
		return nil, err
	}

	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(d.inputSize, d.inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.mu.Lock()
	if err := d.net.SetInput(blob, ""); err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("set dnn input: %w", err)
	}
	output := d.net.Forward("")
	d.mu.Unlock()
	defer output.Close()

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read model output: %w", err)
	}

	cands, err := yolo.Decode(data, output.Size(), conf, yolo.Geometry{
		InputSize:   d.inputSize,
		ImageWidth:  img.Cols(),
		ImageHeight: img.Rows(),
	})
	if err != nil {
		return nil, err
	}

	kept := yolo.NMS(cands, iou)
	out := make([]detection.Detection, 0, len(kept))
	for _, c := range kept {
		out = append(out, detection.Detection{
			BBox:       [4]float64{c.Box.X1, c.Box.Y1, c.Box.X2, c.Box.Y2},
			Confidence: c.Score,
			ClassID:    c.ClassID,
			ClassName:  yolo.ClassName(d.names, c.ClassID),
		})
	}
	return out, nil
}

func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
