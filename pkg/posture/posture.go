package posture

import "github.com/teslashibe/go-headwatch/pkg/detection"

// Select picks the subject among dets: the detection of class with the
// greatest box height, taken as the one closest to the camera. Ties go to
// the earliest detection. Boxes without a positive height (including NaN)
// are ignored. Returns nil when no usable detection has that class.
func Select(dets []detection.Detection, class detection.ClassID) *detection.Detection {
	var best *detection.Detection
	for i := range dets {
		if dets[i].Label != class || !(dets[i].Box.Height > 0) {
			continue
		}
		if best == nil || dets[i].Box.Height > best.Box.Height {
			best = &dets[i]
		}
	}
	return best
}

// CalibrationKind tells whether a frame set the baseline.
type CalibrationKind int

const (
	NotCalibrating CalibrationKind = iota
	JustCalibrated
)

// Calibration is the result of Calibrate.
type Calibration struct {
	Kind   CalibrationKind
	Height float64 // recorded height, only for JustCalibrated
}

// Calibrate records the subject height as the session baseline the first
// time a subject is seen. Once set, the baseline never changes. A subject
// without a positive height is never recorded.
func Calibrate(s *Session, subject *detection.Detection) Calibration {
	if subject == nil || !(subject.Box.Height > 0) || s.baseline.IsCalibrated() {
		return Calibration{Kind: NotCalibrating}
	}
	s.baseline = Calibrated(subject.Box.Height)
	return Calibration{Kind: JustCalibrated, Height: subject.Box.Height}
}

// Evaluate judges the subject against the baseline. A frame is HEAD_DOWN
// when the height dropped by strictly more than ratio * reference.
func Evaluate(s *Session, subject *detection.Detection) State {
	ref, ok := s.baseline.Height()
	if subject == nil || !ok {
		return Unknown
	}
	drop := ref - subject.Box.Height
	if drop > ref*s.config.DropThresholdRatio {
		return HeadDown
	}
	return Normal
}

// DropRatio returns the fractional height loss of subject relative to the
// baseline, or 0 when either is missing.
func DropRatio(b Baseline, subject *detection.Detection) float64 {
	ref, ok := b.Height()
	if subject == nil || !ok || ref == 0 {
		return 0
	}
	return (ref - subject.Box.Height) / ref
}
