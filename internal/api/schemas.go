package api

import (
	"time"

	"github.com/trailcam/trailcam-agent/internal/catalog"
	"github.com/trailcam/trailcam-agent/internal/cloud"
	"github.com/trailcam/trailcam-agent/internal/pipeline"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	Database string `json:"database"`
}

type StatusResponse struct {
	State       string            `json:"state"`
	QueueDepth  int               `json:"queue_depth"`
	InFlight    int               `json:"inflight"`
	Running     []pipeline.Status `json:"running"`
	VideosCount int               `json:"videos_count"`
	WatchFolder string            `json:"watch_folder"`
	JSONFolder  string            `json:"json_folder"`
	Disks       []DiskResponse    `json:"disks,omitempty"`
	Detector    DetectorResponse  `json:"detector"`
}

type DetectorResponse struct {
	Backend string              `json:"backend"`
	Health  *cloud.HealthStatus `json:"health,omitempty"`
}

type DiskResponse struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

type VideoResponse struct {
	ID               string         `json:"id"`
	Filename         string         `json:"filename"`
	Status           string         `json:"status"`
	ClassesDetected  *string        `json:"classes_detected"`
	MaxCountPerFrame map[string]int `json:"max_count_per_frame,omitempty"`
	TotalFrames      int            `json:"total_frames,omitempty"`
	CreatedAt        string         `json:"created_at"`
	UpdatedAt        string         `json:"updated_at"`
}

type VideosResponse struct {
	Videos []VideoResponse `json:"videos"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

type RunnerResponse struct {
	Paused bool `json:"paused"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func VideoToResponse(v *catalog.Video) VideoResponse {
	resp := VideoResponse{
		ID:          v.ID,
		Filename:    v.Filename,
		Status:      v.Status,
		TotalFrames: v.TotalFrames,
		CreatedAt:   v.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   v.UpdatedAt.Format(time.RFC3339),
	}
	if v.ClassesDetected != "" {
		classes := v.ClassesDetected
		resp.ClassesDetected = &classes
	}
	return resp
}
