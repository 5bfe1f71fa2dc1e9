// Package posture infers a head-down transition from the height of the
// monitored person's bounding box.
//
// A session calibrates once, on the first frame that shows a subject, and
// keeps that reference height until it ends. Every later frame is judged
// against it with a single ratio threshold and no smoothing.
package posture

import "fmt"

// State is the per-frame posture judgment.
type State int

const (
	// Unknown means there was no basis for a judgment: no subject in the
	// frame, or the session is still waiting for its first subject.
	Unknown State = iota
	Normal
	HeadDown
)

func (s State) String() string {
	switch s {
	case Normal:
		return "NORMAL"
	case HeadDown:
		return "HEAD_DOWN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "UNKNOWN":
		*s = Unknown
	case "NORMAL":
		*s = Normal
	case "HEAD_DOWN":
		*s = HeadDown
	default:
		return fmt.Errorf("posture: unknown state %q", b)
	}
	return nil
}

// Baseline is the session reference height. It is either uncalibrated or
// holds the height recorded at calibration.
type Baseline struct {
	height     float64
	calibrated bool
}

// Uncalibrated returns the empty baseline a session starts with.
func Uncalibrated() Baseline {
	return Baseline{}
}

// Calibrated returns a baseline holding h.
func Calibrated(h float64) Baseline {
	return Baseline{height: h, calibrated: true}
}

// Height returns the reference height and whether it has been set.
func (b Baseline) Height() (float64, bool) {
	return b.height, b.calibrated
}

// IsCalibrated reports whether a reference height has been recorded.
func (b Baseline) IsCalibrated() bool {
	return b.calibrated
}

func (b Baseline) String() string {
	if !b.calibrated {
		return "uncalibrated"
	}
	return fmt.Sprintf("calibrated(%.1f)", b.height)
}
