// Package camera acquires encoded frames from a networked camera.
//
// Sources return raw JPEG bytes; decoding happens downstream. Every error a
// source returns means "no frame this time" and callers are expected to
// retry on their next cycle.
package camera

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Sentinel errors for frame acquisition.
var (
	// ErrEmptyFrame is returned when the camera answered with no image data.
	ErrEmptyFrame = errors.New("camera: empty frame")

	// ErrFrameTooLarge is returned when a frame exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("camera: frame too large")

	// ErrClosed is returned by Capture after Close.
	ErrClosed = errors.New("camera: source closed")
)

// MaxFrameSize bounds a single encoded frame.
const MaxFrameSize = 8 << 20

// Source produces encoded frames.
type Source interface {
	// Capture blocks until one encoded frame is available.
	Capture(ctx context.Context) ([]byte, error)

	// Close releases connections and files.
	Close() error
}

// Acquisition modes.
const (
	ModeSnapshot = "snapshot" // one HTTP GET per frame (ESP32-CAM /capture)
	ModeStream   = "stream"   // MJPEG multipart stream (ESP32-CAM :81/stream)
)

// Config holds frame source settings.
type Config struct {
	URL     string        `json:"url"`
	Mode    string        `json:"mode"`
	Timeout time.Duration `json:"timeout"` // per snapshot request
}

// DefaultConfig returns settings for an ESP32-CAM on the local network.
func DefaultConfig() Config {
	return Config{
		URL:     "http://192.168.4.1/capture",
		Mode:    ModeSnapshot,
		Timeout: 10 * time.Second,
	}
}

// Validate checks the config and returns a list of problems, or nil.
func (c *Config) Validate() []string {
	var errs []string

	u, err := url.Parse(c.URL)
	if c.URL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "url must be an absolute http(s) URL")
	}
	if c.Mode != ModeSnapshot && c.Mode != ModeStream {
		errs = append(errs, "mode must be snapshot or stream")
	}
	if c.Timeout < 0 {
		errs = append(errs, "timeout must not be negative")
	}
	return errs
}

// New creates the source described by cfg.
func New(cfg Config) (Source, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("camera: invalid config: %v", errs)
	}
	if cfg.Mode == ModeStream {
		return NewStreamSource(cfg.URL), nil
	}
	return NewSnapshotSource(cfg.URL, cfg.Timeout), nil
}
