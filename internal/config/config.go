// Package config loads scanpipe settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ayusman/scanpipe/internal/capture"
	"github.com/ayusman/scanpipe/internal/detector"
	"github.com/ayusman/scanpipe/internal/geometry"
	"github.com/ayusman/scanpipe/internal/logger"
	"github.com/ayusman/scanpipe/internal/scan"
)

// Environment overrides.
const (
	EnvAddr         = "SCANPIPE_ADDR"
	EnvDB           = "SCANPIPE_DB"
	EnvLogLevel     = "SCANPIPE_LOG_LEVEL"
	EnvModelService = "SCANPIPE_MODEL_SERVICE"
)

// Config is the complete scanpipe configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Log       logger.Config   `yaml:"log"`
	Camera    CameraConfig    `yaml:"camera"`
	Detection DetectionConfig `yaml:"detection"`
	Display   DisplayConfig   `yaml:"display"`
	Hooks     HooksConfig     `yaml:"hooks"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type StoreConfig struct {
	// Path is the SQLite database file. Empty disables scan history.
	Path string `yaml:"path"`
}

// CameraDevice maps an OpenCV capture index to a camera description.
type CameraDevice struct {
	Index    int    `yaml:"index"`
	Name     string `yaml:"name"`
	Position string `yaml:"position"`
	Type     string `yaml:"type"`
}

type CameraConfig struct {
	Devices   []CameraDevice         `yaml:"devices"`
	Width     int                    `yaml:"width"`
	Height    int                    `yaml:"height"`
	FrameRate capture.FrameRateRange `yaml:"frameRate"`
	Throttled capture.FrameRateRange `yaml:"throttledFrameRate"`
}

type DetectionConfig struct {
	IOUThreshold float32 `yaml:"iouThreshold"`
	MaxBoxes     int     `yaml:"maxBoxes"`
	MinScore     float32 `yaml:"minScore"`
	// Service is the model service script. Empty uses the mock detector.
	Service string `yaml:"service"`
	// Barcodes enables QR decoding on every frame.
	Barcodes bool `yaml:"barcodes"`
}

type DisplayConfig struct {
	Width       float64 `yaml:"width"`
	Height      float64 `yaml:"height"`
	ContentMode string  `yaml:"contentMode"`
	Orientation string  `yaml:"orientation"`
}

type HooksConfig struct {
	Dir     string        `yaml:"dir"`
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	d := detector.DefaultConfig()
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		Store:  StoreConfig{Path: "scanpipe.db"},
		Log:    logger.Config{Level: "info"},
		Camera: CameraConfig{
			Devices: []CameraDevice{
				{Index: 0, Name: "Back Camera", Position: "back", Type: "wideAngle"},
			},
			Width:     1280,
			Height:    720,
			FrameRate: capture.DefaultFrameRate,
			Throttled: capture.ThrottledFrameRate,
		},
		Detection: DetectionConfig{
			IOUThreshold: d.IOUThreshold,
			MaxBoxes:     d.MaxBoxes,
			MinScore:     d.MinScore,
			Barcodes:     true,
		},
		Display: DisplayConfig{
			Width:       390,
			Height:      844,
			ContentMode: geometry.Fill.String(),
			Orientation: geometry.Portrait.String(),
		},
		Hooks: HooksConfig{
			Dir:     "hooks",
			Timeout: 5 * time.Second,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = getEnv(EnvAddr, c.Server.Addr)
	c.Store.Path = getEnv(EnvDB, c.Store.Path)
	c.Log.Level = getEnv(EnvLogLevel, c.Log.Level)
	c.Detection.Service = getEnv(EnvModelService, c.Detection.Service)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if c.Server.Addr == "" {
		add("server.addr is required")
	}

	if len(c.Camera.Devices) == 0 {
		add("camera.devices must list at least one camera")
	}
	for i, d := range c.Camera.Devices {
		if _, err := capture.ParsePosition(d.Position); err != nil {
			add("camera.devices[%d]: %v", i, err)
		}
		if _, err := capture.ParseDeviceType(d.Type); err != nil {
			add("camera.devices[%d]: %v", i, err)
		}
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		add("camera size must be positive, got %dx%d", c.Camera.Width, c.Camera.Height)
	}
	for name, r := range map[string]capture.FrameRateRange{
		"camera.frameRate":          c.Camera.FrameRate,
		"camera.throttledFrameRate": c.Camera.Throttled,
	} {
		if r.Min <= 0 || r.Max < r.Min {
			add("%s must satisfy 0 < min <= max, got %v-%v", name, r.Min, r.Max)
		}
	}

	if c.Detection.IOUThreshold < 0 || c.Detection.IOUThreshold > 1 {
		add("detection.iouThreshold must be in [0,1], got %v", c.Detection.IOUThreshold)
	}
	if c.Detection.MaxBoxes <= 0 {
		add("detection.maxBoxes must be positive, got %d", c.Detection.MaxBoxes)
	}
	if c.Detection.MinScore < 0 || c.Detection.MinScore > 1 {
		add("detection.minScore must be in [0,1], got %v", c.Detection.MinScore)
	}

	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		add("display size must be positive, got %vx%v", c.Display.Width, c.Display.Height)
	}
	if _, err := geometry.ParseContentMode(c.Display.ContentMode); err != nil {
		add("display.contentMode: %v", err)
	}
	if _, err := geometry.ParseOrientation(c.Display.Orientation); err != nil {
		add("display.orientation: %v", err)
	}

	if c.Hooks.Timeout <= 0 {
		add("hooks.timeout must be positive, got %v", c.Hooks.Timeout)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DetectorConfig returns the post-processing settings.
func (d DetectionConfig) DetectorConfig() detector.Config {
	return detector.Config{
		IOUThreshold: d.IOUThreshold,
		MaxBoxes:     d.MaxBoxes,
		MinScore:     d.MinScore,
	}
}

// Layout returns the display layout. Call it on a validated config.
func (d DisplayConfig) Layout() scan.Layout {
	mode, _ := geometry.ParseContentMode(d.ContentMode)
	orientation, _ := geometry.ParseOrientation(d.Orientation)
	return scan.Layout{
		ContainerSize: geometry.Size{Width: d.Width, Height: d.Height},
		ContentMode:   mode,
		Orientation:   orientation,
	}
}

// DeviceInfos converts the configured cameras. Call it on a validated
// config.
func (c CameraConfig) DeviceInfos() map[int]capture.DeviceInfo {
	out := make(map[int]capture.DeviceInfo, len(c.Devices))
	for _, d := range c.Devices {
		pos, _ := capture.ParsePosition(d.Position)
		typ, _ := capture.ParseDeviceType(d.Type)
		name := d.Name
		if name == "" {
			name = fmt.Sprintf("Camera %d", d.Index)
		}
		out[d.Index] = capture.DeviceInfo{
			ID:       fmt.Sprintf("%d", d.Index),
			Name:     name,
			Position: pos,
			Type:     typ,
		}
	}
	return out
}
