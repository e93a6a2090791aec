// Package config provides configuration management for the surveillance appliance
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/aseofsmartice/surveillance/internal/schedule"
)

// Config is the read-only settings snapshot shared by every component.
// It is loaded once at startup; edits on disk require a restart.
type Config struct {
	System     SystemConfig     `yaml:"system"`
	Capture    CaptureConfig    `yaml:"capture"`
	Processing ProcessingConfig `yaml:"processing"`
	GPU        GPUConfig        `yaml:"gpu"`
	Sync       SyncConfig       `yaml:"sync"`
	Retention  RetentionConfig  `yaml:"retention"`
	Logging    LoggingConfig    `yaml:"logging"`
	Status     StatusConfig     `yaml:"status"`
	Bus        BusConfig        `yaml:"bus"`

	captureWindows   []schedule.Window
	processingWindow schedule.Window
	cameras          map[string]CameraConfig
	path             string
}

// SystemConfig holds appliance-wide settings
type SystemConfig struct {
	Root        string `yaml:"root"`         // base directory for videos/, results/, db/, logs/
	LocationID  string `yaml:"location_id"`  // overridden by LOCATION_ID env if set
	CamerasFile string `yaml:"cameras_file"` // JSON cameras mapping, default <root>/config/cameras.json
	ROIDir      string `yaml:"roi_dir"`      // per-camera ROI JSON files, default <root>/config
	TickSeconds int    `yaml:"tick_seconds"` // scheduler tick, default 30
}

// CaptureConfig holds recorder settings
type CaptureConfig struct {
	Windows        []string `yaml:"windows"` // "HH:MM-HH:MM" entries, non-overlapping
	SegmentSeconds int      `yaml:"segment_seconds"`
	Transport      string   `yaml:"transport"` // tcp (default) or udp
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	StopSeconds    int      `yaml:"stop_seconds"` // finalization budget before hard kill
	BackoffSeconds int      `yaml:"backoff_seconds"`
}

// ProcessingConfig holds dispatcher settings
type ProcessingConfig struct {
	Window            string   `yaml:"window"` // "HH:MM-HH:MM"
	MinWorkers        int      `yaml:"min_workers"`
	MaxWorkers        int      `yaml:"max_workers"`
	Runner            []string `yaml:"runner"` // analysis runner argv prefix
	JobTimeoutSeconds int      `yaml:"job_timeout_seconds"`
	ModelFiles        []string `yaml:"model_files"`
	AllowList         []string `yaml:"allow_list"` // extra camera ids the indexer accepts
}

// GPUConfig holds telemetry thresholds and scaling knobs
type GPUConfig struct {
	IntervalSeconds   int     `yaml:"interval_seconds"`
	MaxTempScaleUp    float64 `yaml:"max_temp_scale_up"`
	MaxUtilScaleUp    float64 `yaml:"max_util_scale_up"`
	MinFreeGBScaleUp  float64 `yaml:"min_free_gb_scale_up"`
	TempScaleDown     float64 `yaml:"temp_scale_down"`
	UtilScaleDown     float64 `yaml:"util_scale_down"`
	MinFreeGB         float64 `yaml:"min_free_gb"`
	EmergencyTemp     float64 `yaml:"emergency_temp"`
	CooldownSeconds   int     `yaml:"cooldown_seconds"`
	EmergencySeconds  int     `yaml:"emergency_seconds"`
}

// SyncConfig holds cloud replication settings
type SyncConfig struct {
	IntervalMinutes int `yaml:"interval_minutes"`
	BatchSize       int `yaml:"batch_size"`
	LookbackHours   int `yaml:"lookback_hours"`
	RetentionHours  int `yaml:"retention_hours"`
	TimeoutSeconds  int `yaml:"timeout_seconds"`
	EventBatchSize  int `yaml:"event_batch_size"` // local buffer flush size
}

// RetentionConfig holds disk watchdog settings
type RetentionConfig struct {
	VideoDays      int     `yaml:"video_days"`
	ScreenshotDays int     `yaml:"screenshot_days"`
	MinFreeGB      float64 `yaml:"min_free_gb"`
	CheckMinutes   int     `yaml:"check_minutes"`
}

// LoggingConfig holds log sink settings
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Dir        string `yaml:"dir"` // default <root>/logs
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// StatusConfig holds the localhost status listener settings
type StatusConfig struct {
	Addr string `yaml:"addr"` // default 127.0.0.1:8799
}

// BusConfig holds the embedded event bus settings
type BusConfig struct {
	Port int `yaml:"port"` // default 12003
}

// Load reads the settings file, the cameras mapping it references, applies
// defaults, and validates everything. Any validation failure is fatal.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.path = path
	cfg.setDefaults()

	if id := os.Getenv("LOCATION_ID"); id != "" {
		cfg.System.LocationID = id
	}

	cameras, err := LoadCameras(cfg.System.CamerasFile)
	if err != nil {
		return nil, err
	}
	cfg.cameras = cameras

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.System.Root == "" {
		c.System.Root = "/opt/surveillance"
	}
	if c.System.CamerasFile == "" {
		c.System.CamerasFile = filepath.Join(c.System.Root, "config", "cameras.json")
	}
	if c.System.ROIDir == "" {
		c.System.ROIDir = filepath.Join(c.System.Root, "config")
	}
	if c.System.TickSeconds == 0 {
		c.System.TickSeconds = 30
	}
	if c.Capture.SegmentSeconds == 0 {
		c.Capture.SegmentSeconds = 60
	}
	if c.Capture.Transport == "" {
		c.Capture.Transport = "tcp"
	}
	if c.Capture.TimeoutSeconds == 0 {
		c.Capture.TimeoutSeconds = 10
	}
	if c.Capture.StopSeconds == 0 {
		c.Capture.StopSeconds = 30
	}
	if c.Capture.BackoffSeconds == 0 {
		c.Capture.BackoffSeconds = 5
	}
	if c.Processing.Window == "" {
		c.Processing.Window = "02:00-08:00"
	}
	if c.Processing.MinWorkers == 0 {
		c.Processing.MinWorkers = 1
	}
	if c.Processing.MaxWorkers == 0 {
		c.Processing.MaxWorkers = 6
	}
	if c.Processing.JobTimeoutSeconds == 0 {
		c.Processing.JobTimeoutSeconds = 1800
	}
	if c.GPU.IntervalSeconds == 0 {
		c.GPU.IntervalSeconds = 30
	}
	if c.GPU.MaxTempScaleUp == 0 {
		c.GPU.MaxTempScaleUp = 70
	}
	if c.GPU.MaxUtilScaleUp == 0 {
		c.GPU.MaxUtilScaleUp = 70
	}
	if c.GPU.MinFreeGBScaleUp == 0 {
		c.GPU.MinFreeGBScaleUp = 2
	}
	if c.GPU.TempScaleDown == 0 {
		c.GPU.TempScaleDown = 75
	}
	if c.GPU.UtilScaleDown == 0 {
		c.GPU.UtilScaleDown = 85
	}
	if c.GPU.MinFreeGB == 0 {
		c.GPU.MinFreeGB = 1
	}
	if c.GPU.EmergencyTemp == 0 {
		c.GPU.EmergencyTemp = 80
	}
	if c.GPU.CooldownSeconds == 0 {
		c.GPU.CooldownSeconds = 60
	}
	if c.GPU.EmergencySeconds == 0 {
		c.GPU.EmergencySeconds = 120
	}
	if c.Sync.IntervalMinutes == 0 {
		c.Sync.IntervalMinutes = 60
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 1000
	}
	if c.Sync.LookbackHours == 0 {
		c.Sync.LookbackHours = 2
	}
	if c.Sync.RetentionHours == 0 {
		c.Sync.RetentionHours = 24
	}
	if c.Sync.TimeoutSeconds == 0 {
		c.Sync.TimeoutSeconds = 30
	}
	if c.Sync.EventBatchSize == 0 {
		c.Sync.EventBatchSize = 100
	}
	if c.Retention.VideoDays == 0 {
		c.Retention.VideoDays = 2
	}
	if c.Retention.ScreenshotDays == 0 {
		c.Retention.ScreenshotDays = 30
	}
	if c.Retention.MinFreeGB == 0 {
		c.Retention.MinFreeGB = 10
	}
	if c.Retention.CheckMinutes == 0 {
		c.Retention.CheckMinutes = 30
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = filepath.Join(c.System.Root, "logs")
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 10
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Status.Addr == "" {
		c.Status.Addr = "127.0.0.1:8799"
	}
	if c.Bus.Port == 0 {
		c.Bus.Port = 12003
	}
}

func (c *Config) validate() error {
	if len(c.Capture.Windows) == 0 {
		return fmt.Errorf("capture.windows must list at least one window")
	}

	windows := make([]schedule.Window, 0, len(c.Capture.Windows))
	for _, s := range c.Capture.Windows {
		w, err := schedule.ParseWindow(s)
		if err != nil {
			return fmt.Errorf("capture.windows: %w", err)
		}
		windows = append(windows, w)
	}
	if err := schedule.ValidateWindows(windows); err != nil {
		return fmt.Errorf("capture.windows: %w", err)
	}
	c.captureWindows = windows

	pw, err := schedule.ParseWindow(c.Processing.Window)
	if err != nil {
		return fmt.Errorf("processing.window: %w", err)
	}
	c.processingWindow = pw

	if c.Capture.Transport != "tcp" && c.Capture.Transport != "udp" {
		return fmt.Errorf("capture.transport must be tcp or udp, got %q", c.Capture.Transport)
	}
	if c.Processing.MinWorkers < 1 {
		return fmt.Errorf("processing.min_workers must be at least 1")
	}
	if c.Processing.MaxWorkers < c.Processing.MinWorkers {
		return fmt.Errorf("processing.max_workers (%d) below min_workers (%d)",
			c.Processing.MaxWorkers, c.Processing.MinWorkers)
	}
	return nil
}

// CaptureWindows returns the parsed, validated daily capture schedule.
func (c *Config) CaptureWindows() []schedule.Window {
	return c.captureWindows
}

// ProcessingWindow returns the parsed overnight processing window.
func (c *Config) ProcessingWindow() schedule.Window {
	return c.processingWindow
}

// Cameras returns the cameras mapping keyed by camera id.
func (c *Config) Cameras() map[string]CameraConfig {
	return c.cameras
}

// EnabledCameras returns the enabled cameras in stable id order.
func (c *Config) EnabledCameras() []CameraConfig {
	return enabledCameras(c.cameras)
}

// Camera returns a camera by id, or nil if unknown.
func (c *Config) Camera(id string) *CameraConfig {
	if cam, ok := c.cameras[id]; ok {
		return &cam
	}
	return nil
}

// Path returns the settings file path this config was loaded from.
func (c *Config) Path() string {
	return c.path
}

// VideoRoot returns the raw segment directory root.
func (c *Config) VideoRoot() string {
	return filepath.Join(c.System.Root, "videos")
}

// ResultsRoot returns the processed artifact directory root.
func (c *Config) ResultsRoot() string {
	return filepath.Join(c.System.Root, "results")
}

// DatabasePath returns the local store file path.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.System.Root, "db", "detection_data.db")
}

// ScreenshotRoot returns the evidence image directory root.
func (c *Config) ScreenshotRoot() string {
	return filepath.Join(c.System.Root, "db", "screenshots")
}

// Tick returns the scheduler tick interval.
func (c *Config) Tick() time.Duration {
	return time.Duration(c.System.TickSeconds) * time.Second
}

// WatchDrift watches the settings and cameras files and logs a warning when
// either changes on disk. Live reload is deliberately not supported: recorder
// and dispatcher state is keyed to the snapshot taken at startup.
func (c *Config) WatchDrift(logger *slog.Logger) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					logger.Warn("Configuration changed on disk; restart required to apply",
						"file", event.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("Config watch error", "error", err)
			}
		}
	}()

	if err := watcher.Add(c.path); err != nil {
		watcher.Close()
		return nil, err
	}
	if err := watcher.Add(c.System.CamerasFile); err != nil {
		// Cameras file may live in a directory created later; not fatal.
		logger.Warn("Cannot watch cameras file", "file", c.System.CamerasFile, "error", err)
	}
	return watcher.Close, nil
}
