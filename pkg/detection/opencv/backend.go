package opencv

import (
	"fmt"

	"github.com/teslashibe/go-headwatch/pkg/detection"
)

// Supported detector backends.
const (
	BackendSSD  = "ssd"
	BackendYOLO = "yolo"
)

// New creates a detector for the named backend.
func New(backend string, cfg detection.Config) (detection.Detector, error) {
	switch backend {
	case BackendSSD, "":
		return NewSSD(cfg)
	case BackendYOLO:
		return NewYOLO(cfg)
	}
	return nil, fmt.Errorf("opencv: unknown detector backend %q", backend)
}
