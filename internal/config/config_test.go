package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// setupModel points YOLO_MODEL_PATH at an existing file so the onnx
// backend validates.
func setupModel(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "best.onnx")
	if err := os.WriteFile(path, []byte("onnx"), 0644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	t.Setenv(EnvModelPath, path)
	return path
}

func TestNew_Defaults(t *testing.T) {
	setupModel(t)
	dataDir := t.TempDir()
	t.Setenv(EnvDataDir, dataDir)

	cfg, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if cfg.ConfThreshold() != DefaultConfThreshold {
		t.Errorf("ConfThreshold = %v, want %v", cfg.ConfThreshold(), DefaultConfThreshold)
	}
	if cfg.FrameThreshold() != 10 || cfg.GapTolerance() != 3 {
		t.Errorf("FrameThreshold/GapTolerance = %d/%d, want 10/3", cfg.FrameThreshold(), cfg.GapTolerance())
	}
	if cfg.StablePolls() != 2 || cfg.StableInterval() != time.Second {
		t.Errorf("stability = %d polls every %v, want 2 every 1s", cfg.StablePolls(), cfg.StableInterval())
	}
	if cfg.JSONMode() != JSONModeResult {
		t.Errorf("JSONMode = %q, want %q", cfg.JSONMode(), JSONModeResult)
	}
	want := "sqlite://" + filepath.ToSlash(filepath.Join(dataDir, DBFilename))
	if cfg.DatabaseURL() != want {
		t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL(), want)
	}
	if !cfg.ScanOnStart() {
		t.Error("ScanOnStart = false, want true")
	}
}

func TestNew_EnvOverrides(t *testing.T) {
	setupModel(t)
	t.Setenv(EnvWatchFolder, "/srv/in")
	t.Setenv(EnvJSONFolder, "/srv/out")
	t.Setenv(EnvDatabaseURL, "postgres://user:pass@db:5432/trailcam")
	t.Setenv(EnvFrameThreshold, "5")
	t.Setenv(EnvGapTolerance, "0")
	t.Setenv(EnvStableTimeout, "30s")
	t.Setenv(EnvWorkers, "3")
	t.Setenv(EnvJSONMode, JSONModeFrames)
	t.Setenv(EnvHTTPAddr, "")

	cfg, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if cfg.WatchFolder() != "/srv/in" {
		t.Errorf("WatchFolder = %q, want %q", cfg.WatchFolder(), "/srv/in")
	}
	if cfg.FrameThreshold() != 5 || cfg.GapTolerance() != 0 {
		t.Errorf("FrameThreshold/GapTolerance = %d/%d, want 5/0", cfg.FrameThreshold(), cfg.GapTolerance())
	}
	if cfg.StableTimeout() != 30*time.Second {
		t.Errorf("StableTimeout = %v, want 30s", cfg.StableTimeout())
	}
	if cfg.Workers() != 3 {
		t.Errorf("Workers = %d, want 3", cfg.Workers())
	}
	if cfg.JSONMode() != JSONModeFrames {
		t.Errorf("JSONMode = %q, want %q", cfg.JSONMode(), JSONModeFrames)
	}
	if cfg.HTTPAddr() != "" {
		t.Errorf("HTTPAddr = %q, want empty", cfg.HTTPAddr())
	}
}

func TestNew_ConfigFile(t *testing.T) {
	setupModel(t)
	path := filepath.Join(t.TempDir(), "trailcam.toml")
	content := `
watch_folder = "/data/incoming"
json_folder = "/data/json"
frame_threshold = 4
stable_interval = "250ms"
scan_on_start = false
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(EnvConfigFile, path)
	t.Setenv(EnvJSONFolder, "/env/json")

	cfg, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if cfg.WatchFolder() != "/data/incoming" {
		t.Errorf("WatchFolder = %q, want file value", cfg.WatchFolder())
	}
	if cfg.JSONFolder() != "/env/json" {
		t.Errorf("JSONFolder = %q, want env value to win", cfg.JSONFolder())
	}
	if cfg.FrameThreshold() != 4 {
		t.Errorf("FrameThreshold = %d, want 4", cfg.FrameThreshold())
	}
	if cfg.StableInterval() != 250*time.Millisecond {
		t.Errorf("StableInterval = %v, want 250ms", cfg.StableInterval())
	}
	if cfg.ScanOnStart() {
		t.Error("ScanOnStart = true, want false")
	}
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"conf out of range", map[string]string{EnvConfThreshold: "1.5"}, EnvConfThreshold},
		{"negative gap", map[string]string{EnvGapTolerance: "-1"}, EnvGapTolerance},
		{"bad int", map[string]string{EnvFrameThreshold: "ten"}, EnvFrameThreshold},
		{"zero polls", map[string]string{EnvStablePolls: "0"}, EnvStablePolls},
		{"bad duration", map[string]string{EnvStableTimeout: "soon"}, EnvStableTimeout},
		{"same folders", map[string]string{EnvWatchFolder: "/x", EnvJSONFolder: "/x/"}, EnvJSONFolder},
		{"missing model", map[string]string{EnvModelPath: "/nonexistent/best.onnx"}, EnvModelPath},
		{"http without url", map[string]string{EnvDetector: DetectorHTTP}, EnvDetectorURL},
		{"unknown detector", map[string]string{EnvDetector: "tflite"}, EnvDetector},
		{"bad json mode", map[string]string{EnvJSONMode: "csv"}, EnvJSONMode},
		{"bad database scheme", map[string]string{EnvDatabaseURL: "mysql://x"}, EnvDatabaseURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupModel(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := New()
			if err == nil {
				t.Fatal("New() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestParseDatabaseURL(t *testing.T) {
	tests := []struct {
		raw        string
		wantDriver string
		wantDSN    string
		wantErr    bool
	}{
		{"sqlite:///var/lib/trailcam.db", "sqlite", "/var/lib/trailcam.db", false},
		{"file://data.db", "sqlite", "data.db", false},
		{"postgresql://u:p@h/db", "pgx", "postgresql://u:p@h/db", false},
		{"sqlite://", "", "", true},
		{"trailcam.db", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			driver, dsn, err := ParseDatabaseURL(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDatabaseURL(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if driver != tt.wantDriver || dsn != tt.wantDSN {
				t.Errorf("ParseDatabaseURL(%q) = %q, %q, want %q, %q", tt.raw, driver, dsn, tt.wantDriver, tt.wantDSN)
			}
		})
	}
}
