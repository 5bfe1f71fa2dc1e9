// Package monitor drives the frame loop: acquire, decode, detect, judge,
// then hand the result to renderers and publishers.
//
// The loop is strictly sequential. One Session is owned by one Loop, and
// cancellation is checked once per iteration after the frame has been
// rendered.
package monitor

import (
	"errors"
	"image"
	"time"

	"github.com/teslashibe/go-headwatch/pkg/detection"
	"github.com/teslashibe/go-headwatch/pkg/posture"
)

var (
	// ErrAcquisition covers every failure to obtain a decoded frame:
	// transport errors, empty bodies, undecodable bytes. The session is
	// left untouched and the next iteration retries.
	ErrAcquisition = errors.New("monitor: frame acquisition failed")

	// ErrDetection is returned when the detector fails on a decoded frame.
	ErrDetection = errors.New("monitor: detection failed")
)

// Decoder turns encoded frame bytes into an image the detector accepts.
type Decoder interface {
	Decode(raw []byte) (detection.Image, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(raw []byte) (detection.Image, error)

// Decode calls f(raw).
func (f DecoderFunc) Decode(raw []byte) (detection.Image, error) {
	return f(raw)
}

// Renderer draws a frame with its result, e.g. in a local window.
// The image is only valid for the duration of the call.
type Renderer interface {
	Render(img detection.Image, r Report) error
}

// Publisher receives every frame result. Publish must not block.
type Publisher interface {
	Publish(r Report)
}

// StopFunc reports whether the user asked to stop.
type StopFunc func() bool

// Report is what one successful iteration produced.
type Report struct {
	Seq        uint64
	Time       time.Time
	Outcome    posture.Outcome
	Detections int
	FrameSize  image.Point
	Latency    time.Duration

	// Frame holds the encoded bytes as received from the camera.
	Frame []byte
}

// Config controls loop pacing.
type Config struct {
	// CalibrationPause is how long to wait after the calibrating frame.
	CalibrationPause time.Duration

	// RetryDelay is how long to wait after a failed acquisition.
	RetryDelay time.Duration
}

// DefaultConfig returns the loop defaults.
func DefaultConfig() Config {
	return Config{
		CalibrationPause: 500 * time.Millisecond,
		RetryDelay:       200 * time.Millisecond,
	}
}
