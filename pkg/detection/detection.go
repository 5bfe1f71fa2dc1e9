// Package detection defines what an object detector reports for one frame.
//
// It holds no model code. Backends live in detection/opencv; the posture
// pipeline only depends on the types declared here.
package detection

import (
	"image"
	"math"
)

// Box is an axis-aligned bounding box in pixels.
// X, Y is the top-left corner.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect converts the box to an integer rectangle for drawing.
func (b Box) Rect() image.Rectangle {
	x0 := int(math.Round(b.X))
	y0 := int(math.Round(b.Y))
	return image.Rect(x0, y0, x0+int(math.Round(b.Width)), y0+int(math.Round(b.Height)))
}

// Valid reports whether every coordinate is finite and the box has a
// positive width and height.
func (b Box) Valid() bool {
	for _, v := range []float64{b.X, b.Y, b.Width, b.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.Width > 0 && b.Height > 0
}

// Area returns the area of the box.
func (b Box) Area() float64 {
	return b.Width * b.Height
}

// Detection is one labeled, scored box reported by a detector.
type Detection struct {
	Label      ClassID `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// Image is a decoded frame as handed to a detector.
type Image interface {
	// Size returns the pixel dimensions (X = width, Y = height).
	Size() image.Point

	// Close releases the underlying buffer.
	Close() error
}

// Detector is the interface for object detection backends.
type Detector interface {
	// Detect returns detections at or above the configured confidence
	// floor, in the order the model produced them.
	Detect(img Image) ([]Detection, error)

	// Close releases resources
	Close() error
}

// Config holds detector configuration
type Config struct {
	ModelPath       string  // Weights (frozen graph or ONNX)
	ConfigPath      string  // Network description, empty for ONNX
	ConfidenceFloor float64 // Minimum confidence (default 0.5)
	NMSThreshold    float64 // Only used by backends that need NMS
	InputWidth      int     // Model input width
	InputHeight     int     // Model input height
}

// DefaultConfig returns defaults for SSD MobileNet v3 trained on COCO.
func DefaultConfig() Config {
	return Config{
		ModelPath:       "models/frozen_inference_graph.pb",
		ConfigPath:      "models/ssd_mobilenet_v3_large_coco_2020_01_14.pbtxt",
		ConfidenceFloor: 0.5,
		NMSThreshold:    0.45,
		InputWidth:      320,
		InputHeight:     320,
	}
}

// AboveConfidence returns the detections whose confidence is at least floor.
// Order is preserved.
func AboveConfidence(dets []Detection, floor float64) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence >= floor {
			out = append(out, d)
		}
	}
	return out
}
