package posture

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-headwatch/pkg/detection"
)

// ErrInvalidRatio is returned when the drop ratio is outside (0, 1).
var ErrInvalidRatio = errors.New("posture: drop threshold ratio must be in (0, 1)")

// Config is the whole configuration surface of the posture core.
type Config struct {
	// SubjectClass is the detector class treated as the monitored person.
	SubjectClass detection.ClassID

	// DropThresholdRatio is the fraction of the reference height the
	// subject must lose before the frame counts as HEAD_DOWN.
	DropThresholdRatio float64
}

// DefaultConfig monitors people with a 25% drop threshold.
func DefaultConfig() Config {
	return Config{
		SubjectClass:       detection.ClassPerson,
		DropThresholdRatio: 0.25,
	}
}

// Validate checks the ratio bounds.
func (c Config) Validate() error {
	if !(c.DropThresholdRatio > 0 && c.DropThresholdRatio < 1) {
		return fmt.Errorf("%w: got %v", ErrInvalidRatio, c.DropThresholdRatio)
	}
	return nil
}

// Session holds the only state that outlives a frame: the baseline.
// It is owned by a single loop and is not safe for concurrent use.
type Session struct {
	config   Config
	baseline Baseline
}

// NewSession starts an uncalibrated session.
func NewSession(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Session{config: cfg, baseline: Uncalibrated()}, nil
}

// Config returns the session configuration.
func (s *Session) Config() Config {
	return s.config
}

// Baseline returns the current reference height.
func (s *Session) Baseline() Baseline {
	return s.baseline
}

// Outcome is everything one frame produced.
type Outcome struct {
	State       State
	Subject     *detection.Detection // nil when no subject was found
	Calibration Calibration
	Baseline    Baseline
}

// Observe runs one frame through the pipeline: select the subject, then
// either calibrate or evaluate. The calibrating frame itself is Unknown.
func (s *Session) Observe(dets []detection.Detection) Outcome {
	subject := Select(dets, s.config.SubjectClass)

	var out Outcome
	if subject != nil {
		c := *subject
		out.Subject = &c
	}
	out.Calibration = Calibrate(s, subject)
	if out.Calibration.Kind == JustCalibrated {
		out.State = Unknown
	} else {
		out.State = Evaluate(s, subject)
	}
	out.Baseline = s.baseline
	return out
}
