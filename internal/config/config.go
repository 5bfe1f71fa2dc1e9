// Package config holds the runtime settings of the headwatch commands.
//
// Values come from DefaultConfig, then environment variables (LoadEnv),
// then command-line flags applied by the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/teslashibe/go-headwatch/pkg/camera"
	"github.com/teslashibe/go-headwatch/pkg/detection"
	"github.com/teslashibe/go-headwatch/pkg/detection/opencv"
	"github.com/teslashibe/go-headwatch/pkg/monitor"
	"github.com/teslashibe/go-headwatch/pkg/posture"
)

// Default settings.
const (
	DefaultDashboardAddr = ":8080"
	DefaultPostgresPort  = "5432"
	DefaultLogLevel      = "info"
)

// ConfigError reports one invalid setting.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Config is everything the watch and replay commands need.
type Config struct {
	Camera   camera.Config
	Rotation opencv.Rotation

	Backend  string // opencv.BackendSSD or opencv.BackendYOLO
	Detector detection.Config

	Posture posture.Config
	Loop    monitor.Config

	ShowWindow    bool
	DashboardAddr string // empty disables the dashboard
	DatabaseURL   string // empty disables the event store
	LogLevel      string
}

// DefaultConfig returns settings for an ESP32-CAM mounted sideways and
// SSD MobileNet v3.
func DefaultConfig() Config {
	return Config{
		Camera:        camera.DefaultConfig(),
		Rotation:      opencv.Rotate90Clockwise,
		Backend:       opencv.BackendSSD,
		Detector:      detection.DefaultConfig(),
		Posture:       posture.DefaultConfig(),
		Loop:          monitor.DefaultConfig(),
		ShowWindow:    true,
		DashboardAddr: DefaultDashboardAddr,
		LogLevel:      DefaultLogLevel,
	}
}

// LoadEnv overrides fields from environment variables. Unset variables
// leave the field alone; malformed numbers are reported.
func (c *Config) LoadEnv() error {
	if v := os.Getenv("CAMERA_URL"); v != "" {
		c.Camera.URL = v
	}
	if v := os.Getenv("CAMERA_MODE"); v != "" {
		c.Camera.Mode = v
	}
	if v := os.Getenv("CAMERA_ROTATION"); v != "" {
		rot, err := opencv.ParseRotation(v)
		if err != nil {
			return &ConfigError{Field: "CAMERA_ROTATION", Message: err.Error()}
		}
		c.Rotation = rot
	}
	if v := os.Getenv("DETECTOR_BACKEND"); v != "" {
		c.Backend = v
	}
	if v := os.Getenv("MODEL_PATH"); v != "" {
		c.Detector.ModelPath = v
	}
	if v, ok := os.LookupEnv("MODEL_CONFIG"); ok {
		c.Detector.ConfigPath = v
	}
	if v := os.Getenv("DROP_RATIO"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return &ConfigError{Field: "DROP_RATIO", Message: "not a number: " + v}
		}
		c.Posture.DropThresholdRatio = f
	}
	if v := os.Getenv("CONFIDENCE_FLOOR"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return &ConfigError{Field: "CONFIDENCE_FLOOR", Message: "not a number: " + v}
		}
		c.Detector.ConfidenceFloor = f
	}
	if v, ok := os.LookupEnv("DASHBOARD_ADDR"); ok {
		c.DashboardAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	} else if url := PostgresURLFromEnv(); url != "" {
		c.DatabaseURL = url
	}
	return nil
}

// PostgresURLFromEnv builds a connection string from POSTGRES_HOST,
// POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD and POSTGRES_DB.
// It returns "" when POSTGRES_HOST is unset.
func PostgresURLFromEnv() string {
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = DefaultPostgresPort
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"), os.Getenv("POSTGRES_PASSWORD"), host, port, os.Getenv("POSTGRES_DB"))
}

// Validate checks every section and joins the problems found.
func (c *Config) Validate() error {
	var errs []error

	for _, msg := range c.Camera.Validate() {
		errs = append(errs, &ConfigError{Field: "camera", Message: msg})
	}
	if c.Backend != opencv.BackendSSD && c.Backend != opencv.BackendYOLO {
		errs = append(errs, &ConfigError{Field: "backend", Message: "must be ssd or yolo"})
	}
	if c.Detector.ModelPath == "" {
		errs = append(errs, &ConfigError{Field: "model", Message: "path is required"})
	}
	if c.Backend == opencv.BackendSSD && c.Detector.ConfigPath == "" {
		errs = append(errs, &ConfigError{Field: "model-config", Message: "required by the ssd backend"})
	}
	if f := c.Detector.ConfidenceFloor; f < 0 || f > 1 {
		errs = append(errs, &ConfigError{Field: "confidence", Message: "must be in [0, 1]"})
	}
	if c.Detector.InputWidth <= 0 || c.Detector.InputHeight <= 0 {
		errs = append(errs, &ConfigError{Field: "input-size", Message: "must be positive"})
	}
	if err := c.Posture.Validate(); err != nil {
		errs = append(errs, &ConfigError{Field: "drop-ratio", Message: "must be in (0, 1)"})
	}
	if c.Loop.CalibrationPause < 0 || c.Loop.RetryDelay < 0 {
		errs = append(errs, &ConfigError{Field: "loop", Message: "delays must not be negative"})
	}
	if c.DatabaseURL != "" && !strings.HasPrefix(c.DatabaseURL, "postgres://") && !strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		errs = append(errs, &ConfigError{Field: "db", Message: "must be a postgres:// URL"})
	}
	return errors.Join(errs...)
}

// Summary renders the effective settings for the startup banner.
func (c *Config) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "camera=%s (%s, rotate %s) ", c.Camera.URL, c.Camera.Mode, c.Rotation)
	fmt.Fprintf(&b, "detector=%s floor=%.2f ", c.Backend, c.Detector.ConfidenceFloor)
	fmt.Fprintf(&b, "drop_ratio=%.2f calibration_pause=%s", c.Posture.DropThresholdRatio, c.Loop.CalibrationPause.Round(time.Millisecond))
	return b.String()
}
