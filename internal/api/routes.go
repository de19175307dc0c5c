package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/trailcam/trailcam-agent/internal/catalog"
	"github.com/trailcam/trailcam-agent/internal/logging"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		if cfg.Token != "" {
			r.Use(AuthMiddleware(cfg.Token, cfg.Logger))
		}

		r.Get("/status", statusHandler(cfg))
		r.Get("/videos", listVideosHandler(cfg))
		r.Get("/videos/{filename}", getVideoHandler(cfg))
		r.Get("/videos/{filename}/detection", getDetectionHandler(cfg))

		r.Group(func(r chi.Router) {
			r.Use(LoopbackGuard(cfg.Logger))
			r.Post("/runner/pause", pauseHandler(cfg, true))
			r.Post("/runner/resume", pauseHandler(cfg, false))
		})
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:   "ok",
			Version:  cfg.Version,
			UptimeS:  int64(time.Since(cfg.StartTime).Seconds()),
			Database: "ok",
		}
		status := http.StatusOK

		if cfg.Database != nil {
			if err := cfg.Database.HealthCheck(r.Context()); err != nil {
				cfg.Logger.Warn("database health check failed", "error", err)
				resp.Status = "degraded"
				resp.Database = "unreachable"
				status = http.StatusServiceUnavailable
			}
		}

		WriteJSON(w, status, resp)
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		resp := StatusResponse{
			State:       "idle",
			WatchFolder: logging.SanitizePath(cfg.WatchFolder),
			JSONFolder:  logging.SanitizePath(cfg.JSONFolder),
		}

		if cfg.Runner != nil {
			resp.QueueDepth = cfg.Runner.Pending()
			resp.InFlight = cfg.Runner.Active()
			switch {
			case cfg.Runner.IsPaused():
				resp.State = "paused"
			case resp.InFlight > 0:
				resp.State = "processing"
			case !cfg.Runner.IsRunning():
				resp.State = "stopped"
			}
		}
		if cfg.Pipeline != nil {
			resp.Running = cfg.Pipeline.InFlight()
		}
		if cfg.Repository != nil {
			count, err := cfg.Repository.CountVideos(ctx)
			if err != nil {
				WriteError(w, http.StatusInternalServerError, "failed to count videos", "INTERNAL_ERROR")
				return
			}
			resp.VideosCount = count
		}

		resp.Detector.Backend = cfg.Detector
		if cfg.DetectorHealth != nil {
			health := cfg.DetectorHealth.Get(ctx)
			resp.Detector.Health = &health
		}

		for _, dir := range []string{cfg.WatchFolder, cfg.JSONFolder} {
			if dir == "" {
				continue
			}
			usage, err := disk.UsageWithContext(ctx, dir)
			if err != nil {
				cfg.Logger.Debug("disk usage unavailable", "path", logging.SanitizePath(dir), "error", err)
				continue
			}
			resp.Disks = append(resp.Disks, DiskResponse{
				Path:        logging.SanitizePath(dir),
				TotalBytes:  usage.Total,
				FreeBytes:   usage.Free,
				UsedPercent: usage.UsedPercent,
			})
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func listVideosHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryInt(r, "limit", defaultPageSize)
		if err != nil || limit < 1 || limit > maxPageSize {
			WriteError(w, http.StatusBadRequest, "limit must be between 1 and 500", "BAD_REQUEST")
			return
		}
		offset, err := queryInt(r, "offset", 0)
		if err != nil || offset < 0 {
			WriteError(w, http.StatusBadRequest, "offset must be a non-negative integer", "BAD_REQUEST")
			return
		}

		videos, err := cfg.Repository.ListVideos(r.Context(), limit, offset)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list videos", "INTERNAL_ERROR")
			return
		}
		total, err := cfg.Repository.CountVideos(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to count videos", "INTERNAL_ERROR")
			return
		}

		resp := VideosResponse{
			Videos: make([]VideoResponse, len(videos)),
			Total:  total,
			Limit:  limit,
			Offset: offset,
		}
		for i, v := range videos {
			resp.Videos[i] = VideoToResponse(v)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		video, ok := lookupVideo(cfg, w, r)
		if !ok {
			return
		}

		resp := VideoToResponse(video)
		if video.Status == catalog.VideoStatusCompleted {
			d, err := cfg.Repository.GetDetection(r.Context(), video.ID)
			if err != nil {
				WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
				return
			}
			if d != nil {
				resp.ClassesDetected = d.ClassesDetected
				resp.MaxCountPerFrame = d.MaxCountPerFrame
				resp.TotalFrames = d.TotalFrames
			}
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getDetectionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		video, ok := lookupVideo(cfg, w, r)
		if !ok {
			return
		}

		d, err := cfg.Repository.GetDetection(r.Context(), video.ID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if d == nil {
			WriteError(w, http.StatusNotFound, "detection not available yet", "NOT_FOUND")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(d.Payload)
	}
}

func pauseHandler(cfg ServerConfig, pause bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusServiceUnavailable, "runner not configured", "UNAVAILABLE")
			return
		}
		if pause {
			cfg.Runner.Pause()
		} else {
			cfg.Runner.Resume()
		}
		WriteJSON(w, http.StatusOK, RunnerResponse{Paused: cfg.Runner.IsPaused()})
	}
}

func lookupVideo(cfg ServerConfig, w http.ResponseWriter, r *http.Request) (*catalog.Video, bool) {
	filename := chi.URLParam(r, "filename")
	if filename == "" {
		WriteError(w, http.StatusBadRequest, "filename required", "BAD_REQUEST")
		return nil, false
	}

	video, err := cfg.Repository.GetVideoByFilename(r.Context(), filename)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return nil, false
	}
	if video == nil {
		WriteError(w, http.StatusNotFound, "video not found", "NOT_FOUND")
		return nil, false
	}
	return video, true
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
