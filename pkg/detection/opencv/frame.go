// Package opencv implements detection backends on top of gocv.
package opencv

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"gocv.io/x/gocv"
)

// Sentinel errors for frame handling.
var (
	// ErrDecode is returned when the raw bytes are not a decodable image.
	ErrDecode = errors.New("opencv: cannot decode image")

	// ErrUnsupportedImage is returned when a detector receives an image
	// it did not decode itself.
	ErrUnsupportedImage = errors.New("opencv: unsupported image type")
)

// Rotation is applied to every decoded frame before detection.
type Rotation int

const (
	RotateNone Rotation = iota
	Rotate90Clockwise
	Rotate180
	Rotate90CounterClockwise
)

// ParseRotation accepts "none", "90cw", "180" and "90ccw".
func ParseRotation(s string) (Rotation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "0":
		return RotateNone, nil
	case "90cw", "cw", "90":
		return Rotate90Clockwise, nil
	case "180":
		return Rotate180, nil
	case "90ccw", "ccw", "270":
		return Rotate90CounterClockwise, nil
	}
	return RotateNone, fmt.Errorf("opencv: unknown rotation %q", s)
}

func (r Rotation) String() string {
	switch r {
	case Rotate90Clockwise:
		return "90cw"
	case Rotate180:
		return "180"
	case Rotate90CounterClockwise:
		return "90ccw"
	default:
		return "none"
	}
}

func (r Rotation) flag() gocv.RotateFlag {
	switch r {
	case Rotate180:
		return gocv.Rotate180Clockwise
	case Rotate90CounterClockwise:
		return gocv.Rotate90CounterClockwise
	default:
		return gocv.Rotate90Clockwise
	}
}

// Frame is a decoded BGR image backed by an OpenCV Mat.
type Frame struct {
	Mat gocv.Mat
}

// Size returns width and height in pixels.
func (f *Frame) Size() image.Point {
	return image.Pt(f.Mat.Cols(), f.Mat.Rows())
}

// Close releases the Mat.
func (f *Frame) Close() error {
	return f.Mat.Close()
}

// Decoder turns encoded JPEG/PNG bytes into frames.
type Decoder struct {
	Rotation Rotation
}

// Decode decodes raw bytes and applies the configured rotation.
func (d Decoder) Decode(raw []byte) (*Frame, error) {
	return Decode(raw, d.Rotation)
}

// Decode decodes raw bytes into a frame, rotating it if requested.
func Decode(raw []byte, rot Rotation) (*Frame, error) {
	if len(raw) == 0 {
		return nil, ErrDecode
	}

	img, err := gocv.IMDecode(raw, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if img.Empty() {
		img.Close()
		return nil, ErrDecode
	}

	if rot == RotateNone {
		return &Frame{Mat: img}, nil
	}

	rotated := gocv.NewMat()
	gocv.Rotate(img, &rotated, rot.flag())
	img.Close()
	return &Frame{Mat: rotated}, nil
}
