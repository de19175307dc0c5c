package vision

import (
	"context"
	"fmt"

	"gocv.io/x/gocv"

	"github.com/trailcam/trailcam-agent/internal/cloud"
	"github.com/trailcam/trailcam-agent/internal/detection"
	"github.com/trailcam/trailcam-agent/internal/pipeline"
)

// RemoteDetector JPEG-encodes each frame and hands it to an inference
// service.
type RemoteDetector struct {
	client cloud.InferenceClient
}

func NewRemoteDetector(client cloud.InferenceClient) *RemoteDetector {
	return &RemoteDetector{client: client}
}

func (d *RemoteDetector) Detect(ctx context.Context, frame pipeline.Frame, conf, iou float64) ([]detection.Detection, error) {
	img, err := matOf(frame)
	if err != nil {
		return nil, err
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	// The service may not apply conf exactly; the pipeline re-checks it.
	return d.client.DetectImage(ctx, buf.GetBytes(), conf, iou)
}
