// Package cloud talks to a remote inference service that runs the model
// on behalf of the agent.
package cloud

import (
	"context"

	"github.com/trailcam/trailcam-agent/internal/detection"
)

// InferenceClient detects objects in one encoded image.
type InferenceClient interface {
	DetectImage(ctx context.Context, image []byte, conf, iou float64) ([]detection.Detection, error)
	Health(ctx context.Context) error
}

// DetectResponse is the body returned by POST /detect.
type DetectResponse struct {
	Detections []detection.Detection `json:"detections"`
	Model      string                `json:"model,omitempty"`
}
