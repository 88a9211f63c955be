package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultAlbumName is used when neither config nor user provide an album.
const DefaultAlbumName = "My Custom Album"

// CameraConfig describes which camera device to open.
// Type selects a concrete implementation ("webcam" or "mock").
type CameraConfig struct {
	Type             string `yaml:"type"`               // "webcam" (V4L2) or "mock"
	Device           string `yaml:"device"`             // e.g. /dev/video0
	Format           string `yaml:"format"`             // "MJPG" or "YUYV"
	WidthPx          int    `yaml:"width_px"`           // requested frame width
	HeightPx         int    `yaml:"height_px"`          // requested frame height
	Buffers          int    `yaml:"buffers"`            // V4L2 buffer count
	CaptureTimeoutMs int    `yaml:"capture_timeout_ms"` // max wait for a still frame
	MockDelayMs      int    `yaml:"mock_delay_ms"`      // simulated exposure time for the mock camera
}

// LibraryConfig describes the on-device photo library.
type LibraryConfig struct {
	Root         string `yaml:"root"`          // directory holding album folders
	Database     string `yaml:"database"`      // sqlite catalogue; defaults to <root>/library.db
	DefaultAlbum string `yaml:"default_album"` // album used when the user leaves the name blank
	JPEGQuality  int    `yaml:"jpeg_quality"`  // 1-100
}

// CountdownConfig holds timer capture bounds.
type CountdownConfig struct {
	DefaultSeconds int `yaml:"default_seconds"`
	MaxSeconds     int `yaml:"max_seconds"`
}

// PermissionsConfig holds the access policy per resource: "granted", "denied" or "ask".
// "ask" probes the operating system the first time access is requested.
type PermissionsConfig struct {
	Camera  string `yaml:"camera"`
	Library string `yaml:"library"`
}

// TriggerConfig describes the optional physical shutter button.
type TriggerConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ButtonPin  int    `yaml:"button_pin"`  // BCM pin, active LOW
	LampPin    int    `yaml:"lamp_pin"`    // BCM pin, 0 = no lamp
	Mode       string `yaml:"mode"`        // "timer" or "instant"
	PollMs     int    `yaml:"poll_ms"`     // button sampling period
	DebounceMs int    `yaml:"debounce_ms"` // stable time before a press counts
}

// DetectConfig describes the optional remote smile/gesture detector that
// fires the shutter when it sees a smile or a victory sign.
type DetectConfig struct {
	Enabled    bool   `yaml:"enabled"`
	URL        string `yaml:"url"`         // e.g. http://127.0.0.1:8000/detect_smile
	Field      string `yaml:"field"`       // multipart field carrying the JPEG
	IntervalMs int    `yaml:"interval_ms"` // time between two frames sent
	TimeoutMs  int    `yaml:"timeout_ms"`  // per-request timeout
	Mode       string `yaml:"mode"`        // "instant" or "timer"
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Camera      CameraConfig      `yaml:"camera"`
	Library     LibraryConfig     `yaml:"library"`
	Countdown   CountdownConfig   `yaml:"countdown"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Trigger     TriggerConfig     `yaml:"trigger"`
	Detect      DetectConfig      `yaml:"detect"`
	Defaults    DefaultsConfig    `yaml:"defaults"`
}

// MaxConfigFileBytes bounds the size of a config file.
const MaxConfigFileBytes = 64 << 10

// ValidateConfigPath checks that path names a .yaml file directly inside a
// "configs" directory and does not climb out of it with "..".
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain ..", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, fills defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	if c.Camera.Type == "" {
		return fmt.Errorf("camera.type is required")
	}
	switch c.Camera.Type {
	case "webcam", "mock":
	default:
		return fmt.Errorf("unsupported camera type: %s", c.Camera.Type)
	}
	if c.Camera.Device == "" {
		c.Camera.Device = "/dev/video0"
	}
	c.Camera.Format = strings.ToUpper(c.Camera.Format)
	if c.Camera.Format == "" {
		c.Camera.Format = "MJPG"
	}
	if c.Camera.Format != "MJPG" && c.Camera.Format != "YUYV" {
		return fmt.Errorf("camera.format must be MJPG or YUYV, got %q", c.Camera.Format)
	}
	if c.Camera.WidthPx <= 0 {
		c.Camera.WidthPx = 1280
	}
	if c.Camera.HeightPx <= 0 {
		c.Camera.HeightPx = 720
	}
	if c.Camera.Buffers <= 0 {
		c.Camera.Buffers = 4
	}
	if c.Camera.CaptureTimeoutMs <= 0 {
		c.Camera.CaptureTimeoutMs = 5000
	}
	if c.Camera.MockDelayMs < 0 {
		return fmt.Errorf("camera.mock_delay_ms must be >= 0, got %d", c.Camera.MockDelayMs)
	}

	if c.Library.Root == "" {
		c.Library.Root = "photos"
	}
	if c.Library.Database == "" {
		c.Library.Database = filepath.Join(c.Library.Root, "library.db")
	}
	c.Library.DefaultAlbum = strings.TrimSpace(c.Library.DefaultAlbum)
	if c.Library.DefaultAlbum == "" {
		c.Library.DefaultAlbum = DefaultAlbumName
	}
	if c.Library.JPEGQuality == 0 {
		c.Library.JPEGQuality = 90
	}
	if c.Library.JPEGQuality < 1 || c.Library.JPEGQuality > 100 {
		return fmt.Errorf("library.jpeg_quality must be between 1 and 100, got %d", c.Library.JPEGQuality)
	}

	if c.Countdown.MaxSeconds <= 0 {
		c.Countdown.MaxSeconds = 60
	}
	if c.Countdown.DefaultSeconds <= 0 {
		c.Countdown.DefaultSeconds = 5 // same as the on-screen "Timer Photo" button
	}
	if c.Countdown.DefaultSeconds > c.Countdown.MaxSeconds {
		return fmt.Errorf("countdown.default_seconds (%d) exceeds max_seconds (%d)", c.Countdown.DefaultSeconds, c.Countdown.MaxSeconds)
	}

	for name, p := range map[string]*string{"camera": &c.Permissions.Camera, "library": &c.Permissions.Library} {
		if *p == "" {
			*p = "ask"
		}
		switch *p {
		case "ask", "granted", "denied":
		default:
			return fmt.Errorf("permissions.%s must be ask, granted or denied, got %q", name, *p)
		}
	}

	if c.Trigger.Mode == "" {
		c.Trigger.Mode = "timer"
	}
	if c.Trigger.Mode != "timer" && c.Trigger.Mode != "instant" {
		return fmt.Errorf("trigger.mode must be timer or instant, got %q", c.Trigger.Mode)
	}
	if c.Trigger.Enabled && c.Trigger.ButtonPin <= 0 {
		return fmt.Errorf("trigger.button_pin is required when the trigger is enabled")
	}
	if c.Trigger.PollMs <= 0 {
		c.Trigger.PollMs = 10
	}
	if c.Trigger.DebounceMs <= 0 {
		c.Trigger.DebounceMs = 50
	}

	if c.Detect.Enabled && c.Detect.URL == "" {
		return fmt.Errorf("detect.url is required when detection is enabled")
	}
	if c.Detect.Field == "" {
		c.Detect.Field = "file"
	}
	if c.Detect.IntervalMs <= 0 {
		c.Detect.IntervalMs = 300
	}
	if c.Detect.TimeoutMs <= 0 {
		c.Detect.TimeoutMs = 2000
	}
	if c.Detect.Mode == "" {
		c.Detect.Mode = "instant"
	}
	if c.Detect.Mode != "timer" && c.Detect.Mode != "instant" {
		return fmt.Errorf("detect.mode must be timer or instant, got %q", c.Detect.Mode)
	}

	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// envPrefix namespaces the environment overrides.
const envPrefix = "SNAPGO_"

// LoadEnv reads an optional .env file and applies SNAPGO_* overrides to cfg.
// A missing file is not an error; variables already set in the process win
// over the file.
func LoadEnv(cfg *Config, path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file: %w", err)
		}
	}
	return applyEnv(cfg, os.LookupEnv)
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(envPrefix + "CAMERA_TYPE"); ok && v != "" {
		cfg.Camera.Type = v
	}
	if v, ok := lookup(envPrefix + "CAMERA_DEVICE"); ok && v != "" {
		cfg.Camera.Device = v
	}
	if v, ok := lookup(envPrefix + "LIBRARY_ROOT"); ok && v != "" {
		// A database path derived from the old root follows the new one.
		if cfg.Library.Database == "" || cfg.Library.Database == filepath.Join(cfg.Library.Root, "library.db") {
			cfg.Library.Database = filepath.Join(v, "library.db")
		}
		cfg.Library.Root = v
	}
	if v, ok := lookup(envPrefix + "DEFAULT_ALBUM"); ok && strings.TrimSpace(v) != "" {
		cfg.Library.DefaultAlbum = strings.TrimSpace(v)
	}
	if v, ok := lookup(envPrefix + "DETECT_URL"); ok && v != "" {
		cfg.Detect.URL = v
		cfg.Detect.Enabled = true
	}
	if v, ok := lookup(envPrefix + "DEBUG_LEVEL"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sDEBUG_LEVEL: %w", envPrefix, err)
		}
		cfg.Defaults.DebugLevel = n
	}
	if v, ok := lookup(envPrefix + "MOCK_GPIO"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sMOCK_GPIO: %w", envPrefix, err)
		}
		cfg.Defaults.MockGPIO = b
	}
	return cfg.normalize()
}

// CaptureTimeout returns the maximum wait for a still frame.
func (c *Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Camera.CaptureTimeoutMs) * time.Millisecond
}

// MockDelay returns the simulated exposure time of the mock camera.
func (c *Config) MockDelay() time.Duration {
	return time.Duration(c.Camera.MockDelayMs) * time.Millisecond
}

// PollInterval returns the button sampling period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Trigger.PollMs) * time.Millisecond
}

// Debounce returns how long the button must stay pressed before it counts.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Trigger.DebounceMs) * time.Millisecond
}

// DetectInterval returns the time between two frames sent to the detector.
func (c *Config) DetectInterval() time.Duration {
	return time.Duration(c.Detect.IntervalMs) * time.Millisecond
}

// DetectTimeout returns the per-request detector timeout.
func (c *Config) DetectTimeout() time.Duration {
	return time.Duration(c.Detect.TimeoutMs) * time.Millisecond
}
