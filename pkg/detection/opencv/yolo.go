package opencv

import (
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/teslashibe/go-headwatch/pkg/detection"
	"gocv.io/x/gocv"
)

// YOLODetector uses a YOLOv8 ONNX export for general object detection.
// Class indices are mapped onto the shared COCO ClassID taxonomy.
type YOLODetector struct {
	net       gocv.Net
	config    detection.Config
	mu        sync.Mutex
	inputSize image.Point
}

// DefaultYOLOConfig returns production defaults for YOLOv8n
func DefaultYOLOConfig() detection.Config {
	return detection.Config{
		ModelPath:       "models/yolov8n.onnx",
		ConfidenceFloor: 0.5,
		NMSThreshold:    0.45,
		InputWidth:      640,
		InputHeight:     640,
	}
}

// NewYOLO creates a new YOLO object detector
func NewYOLO(cfg detection.Config) (*YOLODetector, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load YOLO model from %s", cfg.ModelPath)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &YOLODetector{
		net:       net,
		config:    cfg,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
	}, nil
}

// Detect finds objects in the frame
func (d *YOLODetector) Detect(img detection.Image) ([]detection.Detection, error) {
	frame, ok := img.(*Frame)
	if !ok {
		return nil, ErrUnsupportedImage
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	blob := gocv.BlobFromImage(frame.Mat, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")

	output := d.net.Forward("")
	defer output.Close()

	// Output shape: [1, 84, 8400] - 84 = 4 bbox + 80 classes
	dims := output.Size()
	if len(dims) != 3 {
		return nil, fmt.Errorf("unexpected YOLO output shape %v", dims)
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read YOLO output: %w", err)
	}

	cands := parseYOLOv8Output(data, dims[1], dims[2], frame.Size(), d.inputSize, d.config.ConfidenceFloor)
	if len(cands) == 0 {
		return nil, nil
	}

	boxes := make([]image.Rectangle, len(cands))
	scores := make([]float32, len(cands))
	for i, c := range cands {
		boxes[i] = c.Box.Rect()
		scores[i] = float32(c.Confidence)
	}

	indices := gocv.NMSBoxes(boxes, scores, float32(d.config.ConfidenceFloor), float32(d.config.NMSThreshold))

	out := make([]detection.Detection, 0, len(indices))
	for _, idx := range indices {
		out = append(out, cands[idx])
	}
	return out, nil
}

// Close releases the detector resources
func (d *YOLODetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

// parseYOLOv8Output reads the channel-major tensor (attrs x anchors) and
// returns candidates above floor, scaled to image pixels.
func parseYOLOv8Output(data []float32, attrs, anchors int, img, input image.Point, floor float64) []detection.Detection {
	if attrs < 5 || len(data) < attrs*anchors {
		return nil
	}

	sx := float64(img.X) / float64(input.X)
	sy := float64(img.Y) / float64(input.Y)

	var out []detection.Detection
	for i := 0; i < anchors; i++ {
		maxScore := float32(0)
		maxClass := 0
		for c := 4; c < attrs; c++ {
			if score := data[c*anchors+i]; score > maxScore {
				maxScore = score
				maxClass = c - 4
			}
		}
		if float64(maxScore) < floor {
			continue
		}

		class, ok := detection.FromCOCO80(maxClass)
		if !ok {
			continue
		}

		cx := float64(data[0*anchors+i])
		cy := float64(data[1*anchors+i])
		w := float64(data[2*anchors+i])
		h := float64(data[3*anchors+i])

		box := detection.Box{
			X:      (cx - w/2) * sx,
			Y:      (cy - h/2) * sy,
			Width:  w * sx,
			Height: h * sy,
		}
		if !box.Valid() {
			continue
		}

		out = append(out, detection.Detection{
			Label:      class,
			Confidence: float64(maxScore),
			Box:        box,
		})
	}
	return out
}
