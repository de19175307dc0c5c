// Package detection holds the per-frame detection model, the run-length
// class filter and the per-video summary derived from filtered frames.
package detection

// WebcamSource is the input name that selects the default camera instead
// of a file. Results from it are named "webcam".
const WebcamSource = "webcam"

// Detection is one object instance found in one frame.
type Detection struct {
	BBox       [4]float64 `json:"bbox"` // x1, y1, x2, y2
	Confidence float64    `json:"confidence"`
	ClassID    int        `json:"class_id"`
	ClassName  string     `json:"class_name"`
}

// FrameRecord holds the detections of one decoded frame. FrameIndex is
// 1-based and assigned in decode order.
type FrameRecord struct {
	FrameIndex      int         `json:"frame"`
	ObjectsDetected bool        `json:"objects_detected"`
	NumDetections   int         `json:"num_detections"`
	Detections      []Detection `json:"detections"`
}

// NewFrameRecord builds a record with the derived fields filled in.
func NewFrameRecord(index int, dets []Detection) FrameRecord {
	if dets == nil {
		dets = []Detection{}
	}
	return FrameRecord{
		FrameIndex:      index,
		ObjectsDetected: len(dets) > 0,
		NumDetections:   len(dets),
		Detections:      dets,
	}
}

// Result is the filtered detection timeline of a whole video.
type Result struct {
	VideoFilename string        `json:"video_filename"`
	TotalFrames   int           `json:"total_frames"`
	Frames        []FrameRecord `json:"frames"`
}
