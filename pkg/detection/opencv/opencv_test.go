package opencv

import (
	"errors"
	"image"
	"math"
	"testing"

	"github.com/teslashibe/go-headwatch/pkg/detection"
)

func TestParseRotation(t *testing.T) {
	tests := []struct {
		in      string
		want    Rotation
		wantErr bool
	}{
		{in: "", want: RotateNone},
		{in: "none", want: RotateNone},
		{in: "90cw", want: Rotate90Clockwise},
		{in: "CW", want: Rotate90Clockwise},
		{in: "180", want: Rotate180},
		{in: "90ccw", want: Rotate90CounterClockwise},
		{in: "sideways", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseRotation(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseRotation(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			}
			if !tc.wantErr && got != tc.want {
				t.Errorf("ParseRotation(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestDecode_Empty(t *testing.T) {
	if _, err := Decode(nil, RotateNone); !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
}

func TestDecode_Garbage(t *testing.T) {
	if _, err := Decode([]byte("not a jpeg"), Rotate90Clockwise); !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
}

func TestParseSSDOutput(t *testing.T) {
	data := []float32{
		// batch, class, conf, x1, y1, x2, y2
		0, 1, 0.9, 0.1, 0.2, 0.5, 0.8, // person, kept
		0, 1, 0.3, 0.0, 0.0, 0.2, 0.2, // person below floor
		0, 0, 0.99, 0.0, 0.0, 1.0, 1.0, // background
		0, 62, 0.7, -0.1, 0.5, 0.3, 1.2, // chair, clipped
		0, 1, 0.8, 0.5, 0.5, 0.5, 0.9, // zero width
	}

	got := parseSSDOutput(data, image.Pt(200, 100), 0.5)
	if len(got) != 2 {
		t.Fatalf("expected 2 detections, got %d: %+v", len(got), got)
	}

	person := got[0]
	if person.Label != detection.ClassPerson {
		t.Errorf("first label: got %v, want person", person.Label)
	}
	want := detection.Box{X: 20, Y: 20, Width: 80, Height: 60}
	if !boxClose(person.Box, want) {
		t.Errorf("person box: got %+v, want %+v", person.Box, want)
	}

	chair := got[1]
	wantChair := detection.Box{X: 0, Y: 50, Width: 60, Height: 50}
	if !boxClose(chair.Box, wantChair) {
		t.Errorf("chair box: got %+v, want %+v", chair.Box, wantChair)
	}
}

func TestParseSSDOutput_TruncatedRow(t *testing.T) {
	data := []float32{0, 1, 0.9, 0.1, 0.1}
	if got := parseSSDOutput(data, image.Pt(100, 100), 0.5); len(got) != 0 {
		t.Errorf("expected no detections from a truncated row, got %+v", got)
	}
}

func TestParseSSDOutput_NonFiniteRows(t *testing.T) {
	nan := float32(math.NaN())
	data := []float32{
		0, 1, 0.9, 0.1, nan, 0.5, 0.8, // NaN corner
		0, 1, 0.9, 0.1, 0.2, 0.5, nan, // NaN corner
		0, 1, nan, 0.1, 0.2, 0.5, 0.8, // NaN confidence
		0, 1, 0.9, 0.1, 0.8, 0.5, 0.2, // inverted box
		0, 1, 0.9, 0.1, 0.2, 0.5, 0.8, // person, kept
	}

	got := parseSSDOutput(data, image.Pt(200, 100), 0.5)
	if len(got) != 1 {
		t.Fatalf("expected only the finite person row, got %+v", got)
	}
	if h := got[0].Box.Height; h <= 0 || math.IsNaN(h) {
		t.Errorf("kept box height %v", h)
	}
}

func TestParseYOLOv8Output_DegenerateBoxes(t *testing.T) {
	const attrs, anchors = 4 + 80, 4
	data := make([]float32, attrs*anchors)
	set := func(attr, anchor int, v float32) { data[attr*anchors+anchor] = v }

	heights := []float32{0, -50, float32(math.NaN()), 120}
	for i, h := range heights {
		set(0, i, 320)
		set(1, i, 320)
		set(2, i, 60)
		set(3, i, h)
		set(4+0, i, 0.9)
	}

	got := parseYOLOv8Output(data, attrs, anchors, image.Pt(640, 640), image.Pt(640, 640), 0.5)
	if len(got) != 1 {
		t.Fatalf("expected only the 120px box, got %+v", got)
	}
	if got[0].Box.Height != 120 {
		t.Errorf("height: got %v, want 120", got[0].Box.Height)
	}
}

func TestParseYOLOv8Output(t *testing.T) {
	const attrs, anchors = 4 + 80, 2
	data := make([]float32, attrs*anchors)
	set := func(attr, anchor int, v float32) { data[attr*anchors+anchor] = v }

	// anchor 0: person centered at (320, 320), 100x200 in a 640 input
	set(0, 0, 320)
	set(1, 0, 320)
	set(2, 0, 100)
	set(3, 0, 200)
	set(4+0, 0, 0.8)

	// anchor 1: weak dog
	set(4+16, 1, 0.2)

	got := parseYOLOv8Output(data, attrs, anchors, image.Pt(1280, 640), image.Pt(640, 640), 0.5)
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	if got[0].Label != detection.ClassPerson {
		t.Errorf("label: got %v, want person", got[0].Label)
	}
	want := detection.Box{X: 540, Y: 220, Width: 200, Height: 200}
	if !boxClose(got[0].Box, want) {
		t.Errorf("box: got %+v, want %+v", got[0].Box, want)
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	if _, err := New("tflite", detection.DefaultConfig()); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestNew_MissingModel(t *testing.T) {
	cfg := detection.DefaultConfig()
	cfg.ModelPath = "does/not/exist.pb"
	if _, err := New(BackendSSD, cfg); err == nil {
		t.Error("expected error for missing model")
	}
}

func boxClose(a, b detection.Box) bool {
	const eps = 1e-4
	return math.Abs(a.X-b.X) < eps && math.Abs(a.Y-b.Y) < eps &&
		math.Abs(a.Width-b.Width) < eps && math.Abs(a.Height-b.Height) < eps
}
