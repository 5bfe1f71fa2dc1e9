package opencv

import (
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/teslashibe/go-headwatch/pkg/detection"
	"gocv.io/x/gocv"
)

// ssdRowLen is the width of one DetectionOutput row:
// [batch, class, confidence, left, top, right, bottom].
const ssdRowLen = 7

// SSDDetector runs a TensorFlow SSD MobileNet graph through OpenCV DNN.
type SSDDetector struct {
	net       gocv.Net
	config    detection.Config
	mu        sync.Mutex
	inputSize image.Point
}

// NewSSD loads the frozen graph and its pbtxt description.
func NewSSD(cfg detection.Config) (*SSDDetector, error) {
	for _, p := range []string{cfg.ModelPath, cfg.ConfigPath} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("model file not found: %s", p)
		}
	}

	net := gocv.ReadNet(cfg.ModelPath, cfg.ConfigPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load SSD model from %s", cfg.ModelPath)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &SSDDetector{
		net:       net,
		config:    cfg,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
	}, nil
}

// Detect runs one forward pass. Input is scaled to [-1, 1] with RB swapped,
// matching how the MobileNet v3 graph was trained.
func (d *SSDDetector) Detect(img detection.Image) ([]detection.Detection, error) {
	frame, ok := img.(*Frame)
	if !ok {
		return nil, ErrUnsupportedImage
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	blob := gocv.BlobFromImage(frame.Mat, 1.0/127.5, d.inputSize, gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")

	output := d.net.Forward("")
	defer output.Close()

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read SSD output: %w", err)
	}

	return parseSSDOutput(data, frame.Size(), d.config.ConfidenceFloor), nil
}

// Close releases the network.
func (d *SSDDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

// parseSSDOutput converts DetectionOutput rows with normalized corners into
// pixel boxes. Rows below floor, background rows and degenerate or
// non-finite boxes are dropped.
func parseSSDOutput(data []float32, size image.Point, floor float64) []detection.Detection {
	imgW := float64(size.X)
	imgH := float64(size.Y)

	var out []detection.Detection
	for i := 0; i+ssdRowLen <= len(data); i += ssdRowLen {
		row := data[i : i+ssdRowLen]

		class := detection.ClassID(row[1])
		conf := float64(row[2])
		if class <= 0 || !(conf >= floor) {
			continue
		}

		x1 := clamp01(float64(row[3])) * imgW
		y1 := clamp01(float64(row[4])) * imgH
		x2 := clamp01(float64(row[5])) * imgW
		y2 := clamp01(float64(row[6])) * imgH
		box := detection.Box{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
		if !box.Valid() {
			continue
		}

		out = append(out, detection.Detection{
			Label:      class,
			Confidence: conf,
			Box:        box,
		})
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
