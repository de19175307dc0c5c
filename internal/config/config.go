// Package config provides configuration management for the trailcam agent.
// Values come from an optional TOML file, a .env file and environment
// variables (in increasing order of precedence) and are validated eagerly.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	// Default values
	DefaultLogLevel        = "info"
	DefaultDataDir         = ".trailcam"
	DefaultWatchFolder     = "incoming"
	DefaultJSONFolder      = "detections"
	DefaultModelPath       = "yolo_weights/best.onnx"
	DefaultDetector        = DetectorONNX
	DefaultInputSize       = 640
	DefaultConfThreshold   = 0.5
	DefaultIoUThreshold    = 0.5
	DefaultFrameThreshold  = 10
	DefaultGapTolerance    = 3
	DefaultStableInterval  = time.Second
	DefaultStablePolls     = 2
	DefaultStableTimeout   = 10 * time.Minute
	DefaultDetectTimeout   = 2 * time.Hour
	DefaultWorkers         = 1
	DefaultJSONMode        = JSONModeResult
	DefaultHTTPAddr        = "127.0.0.1:8790"
	DefaultDetectorTimeout = 30 * time.Second

	// Deployment variables shared with the earlier watcher scripts
	EnvDatabaseURL = "DATABASE_URL"
	EnvWatchFolder = "WATCH_FOLDER"
	EnvJSONFolder  = "JSON_FOLDER"
	EnvModelPath   = "YOLO_MODEL_PATH"

	// Agent environment variable names
	EnvConfigFile     = "TRAILCAM_CONFIG"
	EnvLogLevel       = "TRAILCAM_LOG_LEVEL"
	EnvDataDir        = "TRAILCAM_DATA_DIR"
	EnvDetector       = "TRAILCAM_DETECTOR"
	EnvDetectorURL    = "TRAILCAM_DETECTOR_URL"
	EnvDetectorToken  = "TRAILCAM_DETECTOR_TOKEN"
	EnvClassNames     = "TRAILCAM_CLASS_NAMES"
	EnvInputSize      = "TRAILCAM_INPUT_SIZE"
	EnvConfThreshold  = "TRAILCAM_CONF_THRESHOLD"
	EnvIoUThreshold   = "TRAILCAM_IOU_THRESHOLD"
	EnvFrameThreshold = "TRAILCAM_FRAME_THRESHOLD"
	EnvGapTolerance   = "TRAILCAM_GAP_TOLERANCE"
	EnvStableInterval = "TRAILCAM_STABLE_INTERVAL"
	EnvStablePolls    = "TRAILCAM_STABLE_POLLS"
	EnvStableTimeout  = "TRAILCAM_STABLE_TIMEOUT"
	EnvDetectTimeout  = "TRAILCAM_DETECT_TIMEOUT"
	EnvWorkers        = "TRAILCAM_WORKERS"
	EnvJSONMode       = "TRAILCAM_JSON_MODE"
	EnvScanOnStart    = "TRAILCAM_SCAN_ON_START"
	EnvHTTPAddr       = "TRAILCAM_HTTP_ADDR"
	EnvAPIToken       = "TRAILCAM_API_TOKEN"

	// Database filename used by the default SQLite URL
	DBFilename = "trailcam.db"

	DetectorONNX = "onnx"
	DetectorHTTP = "http"

	JSONModeResult = "result"
	JSONModeFrames = "frames"
)

// EnvConfig holds the validated agent configuration
type EnvConfig struct {
	logLevel string
	dataDir  string

	databaseURL string
	watchFolder string
	jsonFolder  string
	modelPath   string

	detector      string
	detectorURL   string
	detectorToken string
	classNames    string
	inputSize     int

	confThreshold  float64
	iouThreshold   float64
	frameThreshold int
	gapTolerance   int

	stableInterval time.Duration
	stablePolls    int
	stableTimeout  time.Duration
	detectTimeout  time.Duration

	workers     int
	jsonMode    string
	scanOnStart bool
	httpAddr    string
	apiToken    string
}

// fileConfig mirrors EnvConfig for the optional TOML file. Durations are
// Go duration strings ("1s", "10m").
type fileConfig struct {
	LogLevel       string   `toml:"log_level"`
	DataDir        string   `toml:"data_dir"`
	DatabaseURL    string   `toml:"database_url"`
	WatchFolder    string   `toml:"watch_folder"`
	JSONFolder     string   `toml:"json_folder"`
	ModelPath      string   `toml:"model_path"`
	Detector       string   `toml:"detector"`
	DetectorURL    string   `toml:"detector_url"`
	DetectorToken  string   `toml:"detector_token"`
	ClassNames     string   `toml:"class_names"`
	InputSize      *int     `toml:"input_size"`
	ConfThreshold  *float64 `toml:"conf_threshold"`
	IoUThreshold   *float64 `toml:"iou_threshold"`
	FrameThreshold *int     `toml:"frame_threshold"`
	GapTolerance   *int     `toml:"gap_tolerance"`
	StableInterval string   `toml:"stable_interval"`
	StablePolls    *int     `toml:"stable_polls"`
	StableTimeout  string   `toml:"stable_timeout"`
	DetectTimeout  string   `toml:"detect_timeout"`
	Workers        *int     `toml:"workers"`
	JSONMode       string   `toml:"json_mode"`
	ScanOnStart    *bool    `toml:"scan_on_start"`
	HTTPAddr       *string  `toml:"http_addr"`
	APIToken       string   `toml:"api_token"`
}

// New loads .env, the optional TOML file and the environment, then
// validates the result. Any invalid or missing required value is an error.
func New() (*EnvConfig, error) {
	// A missing .env is normal; real environment variables are never overwritten.
	_ = godotenv.Load()

	home, _ := os.UserHomeDir()
	cfg := &EnvConfig{
		logLevel:       DefaultLogLevel,
		dataDir:        filepath.Join(home, DefaultDataDir),
		watchFolder:    filepath.Join(home, DefaultWatchFolder),
		jsonFolder:     filepath.Join(home, DefaultJSONFolder),
		modelPath:      DefaultModelPath,
		detector:       DefaultDetector,
		inputSize:      DefaultInputSize,
		confThreshold:  DefaultConfThreshold,
		iouThreshold:   DefaultIoUThreshold,
		frameThreshold: DefaultFrameThreshold,
		gapTolerance:   DefaultGapTolerance,
		stableInterval: DefaultStableInterval,
		stablePolls:    DefaultStablePolls,
		stableTimeout:  DefaultStableTimeout,
		detectTimeout:  DefaultDetectTimeout,
		workers:        DefaultWorkers,
		jsonMode:       DefaultJSONMode,
		scanOnStart:    true,
		httpAddr:       DefaultHTTPAddr,
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	if cfg.databaseURL == "" {
		cfg.databaseURL = "sqlite://" + filepath.ToSlash(filepath.Join(cfg.dataDir, DBFilename))
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *EnvConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.logLevel, fc.LogLevel)
	setString(&c.dataDir, fc.DataDir)
	setString(&c.databaseURL, fc.DatabaseURL)
	setString(&c.watchFolder, fc.WatchFolder)
	setString(&c.jsonFolder, fc.JSONFolder)
	setString(&c.modelPath, fc.ModelPath)
	setString(&c.detector, fc.Detector)
	setString(&c.detectorURL, fc.DetectorURL)
	setString(&c.detectorToken, fc.DetectorToken)
	setString(&c.classNames, fc.ClassNames)
	setString(&c.jsonMode, fc.JSONMode)
	setString(&c.apiToken, fc.APIToken)

	if fc.InputSize != nil {
		c.inputSize = *fc.InputSize
	}
	if fc.ConfThreshold != nil {
		c.confThreshold = *fc.ConfThreshold
	}
	if fc.IoUThreshold != nil {
		c.iouThreshold = *fc.IoUThreshold
	}
	if fc.FrameThreshold != nil {
		c.frameThreshold = *fc.FrameThreshold
	}
	if fc.GapTolerance != nil {
		c.gapTolerance = *fc.GapTolerance
	}
	if fc.StablePolls != nil {
		c.stablePolls = *fc.StablePolls
	}
	if fc.Workers != nil {
		c.workers = *fc.Workers
	}
	if fc.ScanOnStart != nil {
		c.scanOnStart = *fc.ScanOnStart
	}
	if fc.HTTPAddr != nil {
		c.httpAddr = *fc.HTTPAddr
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"stable_interval", fc.StableInterval, &c.stableInterval},
		{"stable_timeout", fc.StableTimeout, &c.stableTimeout},
		{"detect_timeout", fc.DetectTimeout, &c.detectTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s in %s: %w", d.key, path, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *EnvConfig) loadEnv() error {
	setString(&c.logLevel, os.Getenv(EnvLogLevel))
	setString(&c.dataDir, os.Getenv(EnvDataDir))
	setString(&c.databaseURL, os.Getenv(EnvDatabaseURL))
	setString(&c.watchFolder, os.Getenv(EnvWatchFolder))
	setString(&c.jsonFolder, os.Getenv(EnvJSONFolder))
	setString(&c.modelPath, os.Getenv(EnvModelPath))
	setString(&c.detector, os.Getenv(EnvDetector))
	setString(&c.detectorURL, os.Getenv(EnvDetectorURL))
	setString(&c.detectorToken, os.Getenv(EnvDetectorToken))
	setString(&c.classNames, os.Getenv(EnvClassNames))
	setString(&c.jsonMode, os.Getenv(EnvJSONMode))
	setString(&c.apiToken, os.Getenv(EnvAPIToken))

	// An explicitly empty address disables the API.
	if addr, ok := os.LookupEnv(EnvHTTPAddr); ok {
		c.httpAddr = addr
	}

	ints := []struct {
		env string
		dst *int
	}{
		{EnvInputSize, &c.inputSize},
		{EnvFrameThreshold, &c.frameThreshold},
		{EnvGapTolerance, &c.gapTolerance},
		{EnvStablePolls, &c.stablePolls},
		{EnvWorkers, &c.workers},
	}
	for _, i := range ints {
		v := os.Getenv(i.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", i.env, err)
		}
		*i.dst = n
	}

	floats := []struct {
		env string
		dst *float64
	}{
		{EnvConfThreshold, &c.confThreshold},
		{EnvIoUThreshold, &c.iouThreshold},
	}
	for _, f := range floats {
		v := os.Getenv(f.env)
		if v == "" {
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", f.env, err)
		}
		*f.dst = n
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{EnvStableInterval, &c.stableInterval},
		{EnvStableTimeout, &c.stableTimeout},
		{EnvDetectTimeout, &c.detectTimeout},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		n, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.env, err)
		}
		*d.dst = n
	}

	if v := os.Getenv(EnvScanOnStart); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvScanOnStart, err)
		}
		c.scanOnStart = b
	}
	return nil
}

func (c *EnvConfig) validate() error {
	var errs []error

	if c.confThreshold < 0 || c.confThreshold > 1 {
		errs = append(errs, fmt.Errorf("invalid %s: must be between 0 and 1", EnvConfThreshold))
	}
	if c.iouThreshold < 0 || c.iouThreshold > 1 {
		errs = append(errs, fmt.Errorf("invalid %s: must be between 0 and 1", EnvIoUThreshold))
	}
	if c.frameThreshold < 0 {
		errs = append(errs, fmt.Errorf("invalid %s: must not be negative", EnvFrameThreshold))
	}
	if c.gapTolerance < 0 {
		errs = append(errs, fmt.Errorf("invalid %s: must not be negative", EnvGapTolerance))
	}
	if c.inputSize <= 0 {
		errs = append(errs, fmt.Errorf("invalid %s: must be positive", EnvInputSize))
	}
	if c.stableInterval <= 0 {
		errs = append(errs, fmt.Errorf("invalid %s: must be positive", EnvStableInterval))
	}
	if c.stablePolls < 1 {
		errs = append(errs, fmt.Errorf("invalid %s: must be at least 1", EnvStablePolls))
	}
	if c.stableTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid %s: must be positive", EnvStableTimeout))
	}
	if c.detectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid %s: must be positive", EnvDetectTimeout))
	}
	if c.workers < 1 {
		errs = append(errs, fmt.Errorf("invalid %s: must be at least 1", EnvWorkers))
	}

	if c.watchFolder == "" {
		errs = append(errs, fmt.Errorf("%s is required", EnvWatchFolder))
	}
	if c.jsonFolder == "" {
		errs = append(errs, fmt.Errorf("%s is required", EnvJSONFolder))
	}
	if c.watchFolder != "" && filepath.Clean(c.watchFolder) == filepath.Clean(c.jsonFolder) {
		errs = append(errs, fmt.Errorf("%s and %s must differ", EnvWatchFolder, EnvJSONFolder))
	}

	switch c.jsonMode {
	case JSONModeResult, JSONModeFrames:
	default:
		errs = append(errs, fmt.Errorf("invalid %s: %q (want %s or %s)", EnvJSONMode, c.jsonMode, JSONModeResult, JSONModeFrames))
	}

	switch c.detector {
	case DetectorONNX:
		if c.modelPath == "" {
			errs = append(errs, fmt.Errorf("%s is required", EnvModelPath))
		} else if _, err := os.Stat(c.modelPath); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", EnvModelPath, err))
		}
	case DetectorHTTP:
		u, err := url.Parse(c.detectorURL)
		if c.detectorURL == "" || err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid %s: %q", EnvDetectorURL, c.detectorURL))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid %s: %q (want %s or %s)", EnvDetector, c.detector, DetectorONNX, DetectorHTTP))
	}

	if _, _, err := ParseDatabaseURL(c.databaseURL); err != nil {
		errs = append(errs, fmt.Errorf("invalid %s: %w", EnvDatabaseURL, err))
	}

	return errors.Join(errs...)
}

// ParseDatabaseURL splits a database URL into a driver name ("sqlite" or
// "pgx") and the DSN that driver expects.
func ParseDatabaseURL(raw string) (driver, dsn string, err error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return "", "", fmt.Errorf("missing scheme in %q", raw)
	}
	switch strings.ToLower(scheme) {
	case "sqlite", "sqlite3", "file":
		if rest == "" {
			return "", "", errors.New("sqlite url has no path")
		}
		return "sqlite", rest, nil
	case "postgres", "postgresql":
		return "pgx", raw, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q", scheme)
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DatabaseURL returns the database connection URL
func (c *EnvConfig) DatabaseURL() string {
	return c.databaseURL
}

// WatchFolder returns the folder observed for incoming videos
func (c *EnvConfig) WatchFolder() string {
	return c.watchFolder
}

// JSONFolder returns the folder detection artifacts are written to
func (c *EnvConfig) JSONFolder() string {
	return c.jsonFolder
}

// ModelPath returns the ONNX weights path
func (c *EnvConfig) ModelPath() string {
	return c.modelPath
}

// Detector returns the detector backend (onnx or http)
func (c *EnvConfig) Detector() string {
	return c.detector
}

func (c *EnvConfig) DetectorURL() string {
	return c.detectorURL
}

// DetectorToken is sent as a bearer token to the inference service
func (c *EnvConfig) DetectorToken() string {
	return c.detectorToken
}

func (c *EnvConfig) DetectorTimeout() time.Duration {
	return DefaultDetectorTimeout
}

// ClassNames returns the optional class-names file, one label per line
func (c *EnvConfig) ClassNames() string {
	return c.classNames
}

func (c *EnvConfig) InputSize() int {
	return c.inputSize
}

func (c *EnvConfig) ConfThreshold() float64 {
	return c.confThreshold
}

func (c *EnvConfig) IoUThreshold() float64 {
	return c.iouThreshold
}

func (c *EnvConfig) FrameThreshold() int {
	return c.frameThreshold
}

func (c *EnvConfig) GapTolerance() int {
	return c.gapTolerance
}

// StableInterval returns the file size poll interval
func (c *EnvConfig) StableInterval() time.Duration {
	return c.stableInterval
}

// StablePolls returns how many consecutive equal sizes mark a file stable
func (c *EnvConfig) StablePolls() int {
	return c.stablePolls
}

func (c *EnvConfig) StableTimeout() time.Duration {
	return c.stableTimeout
}

// DetectTimeout bounds a single video's detection run
func (c *EnvConfig) DetectTimeout() time.Duration {
	return c.detectTimeout
}

func (c *EnvConfig) Workers() int {
	return c.workers
}

func (c *EnvConfig) JSONMode() string {
	return c.jsonMode
}

func (c *EnvConfig) ScanOnStart() bool {
	return c.scanOnStart
}

// HTTPAddr returns the status API listen address; empty disables the API
func (c *EnvConfig) HTTPAddr() string {
	return c.httpAddr
}

func (c *EnvConfig) APIToken() string {
	return c.apiToken
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
