package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trailcam/trailcam-agent/internal/detection"
)

const (
	VideoStatusProcessing = "processing"
	VideoStatusCompleted  = "completed"
)

// ErrDuplicate is returned when a filename is already registered.
var ErrDuplicate = errors.New("video already registered")

// Video is one registered file, keyed by its unique base filename.
type Video struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Filled from the joined detection row by read queries.
	ClassesDetected string `json:"classes_detected,omitempty"`
	TotalFrames     int    `json:"total_frames,omitempty"`
}

// Detection is the stored outcome of one video's pipeline run.
type Detection struct {
	ID      string `json:"id"`
	VideoID string `json:"video_id"`
	// Payload is the serialized detection.Result.
	Payload          json.RawMessage `json:"detection_json"`
	ClassesDetected  *string         `json:"classes_detected"`
	MaxCountPerFrame map[string]int  `json:"max_count_per_frame"`
	TotalFrames      int             `json:"total_frames"`
	CreatedAt        time.Time       `json:"created_at"`
}

// NewDetection builds the stored row for a finished result.
func NewDetection(videoID string, result *detection.Result) (*Detection, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal detection result: %w", err)
	}

	summary := detection.Summarize(result)
	d := &Detection{
		ID:          NewID(),
		VideoID:     videoID,
		Payload:     payload,
		TotalFrames: result.TotalFrames,
		CreatedAt:   time.Now().UTC(),
	}
	if classes, ok := summary.ClassesDetected(); ok {
		d.ClassesDetected = &classes
		d.MaxCountPerFrame = summary.MaxCountPerFrame
	}
	return d, nil
}

// Result decodes the stored payload.
func (d *Detection) Result() (*detection.Result, error) {
	var r detection.Result
	if err := json.Unmarshal(d.Payload, &r); err != nil {
		return nil, fmt.Errorf("decode detection payload: %w", err)
	}
	return &r, nil
}

var VideoExtensions = map[string]bool{
	".mp4": true,
	".avi": true,
	".mov": true,
	".mkv": true,
}

func NewID() string {
	return uuid.NewString()
}

// IsVideoFile reports whether filename has a recognised video extension,
// ignoring case, and a non-empty name in front of it. A bare ".mp4" has no
// artifact name and is not a video.
func IsVideoFile(filename string) bool {
	if !VideoExtensions[strings.ToLower(filepath.Ext(filename))] {
		return false
	}
	return ArtifactName(filename) != ""
}

// ArtifactName is the JSON artifact base name for a video filename.
func ArtifactName(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
