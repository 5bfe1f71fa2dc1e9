package main

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/teslashibe/go-headwatch/internal/log"
	"github.com/teslashibe/go-headwatch/pkg/camera"
	"github.com/teslashibe/go-headwatch/pkg/detection"
	"github.com/teslashibe/go-headwatch/pkg/monitor"
	"github.com/teslashibe/go-headwatch/pkg/posture"
)

type tagImage string

func (tagImage) Size() image.Point { return image.Pt(640, 480) }
func (tagImage) Close() error      { return nil }

type tagDetector struct{}

func (tagDetector) Detect(img detection.Image) ([]detection.Detection, error) {
	tag := string(img.(tagImage))
	if tag == "none" {
		return nil, nil
	}
	h, err := strconv.ParseFloat(tag, 64)
	if err != nil {
		return nil, err
	}
	return []detection.Detection{{Label: detection.ClassPerson, Confidence: 0.9, Box: detection.Box{Width: 80, Height: h}}}, nil
}

func (tagDetector) Close() error { return nil }

type countPublisher struct{ n int }

func (p *countPublisher) Publish(monitor.Report) { p.n++ }

func writeFrames(t *testing.T, frames map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range frames {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestProgressSource_CountsEveryFile(t *testing.T) {
	dir := writeFrames(t, map[string]string{
		"01.jpg": "300",
		"02.jpg": "garbage", // decode failure
		"03.jpg": "",        // empty file, acquisition failure
		"04.png": "none",    // nobody in frame
		"05.jpg": "boom",    // detection failure
		"06.jpg": "100",
	})
	src, err := camera.NewDirSource(dir)
	if err != nil {
		t.Fatal(err)
	}

	advanced := 0
	counted := progressSource{Source: src, advance: func() { advanced++ }}
	dec := monitor.DecoderFunc(func(raw []byte) (detection.Image, error) {
		if string(raw) == "garbage" {
			return nil, errors.New("not an image")
		}
		return tagImage(raw), nil
	})
	sess, err := posture.NewSession(posture.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	judged := &countPublisher{}
	loop := monitor.New(monitor.Config{}, counted, dec, tagDetector{}, sess)
	loop.SetLogger(log.Discard())
	loop.AddPublisher(judged)

	if err := loop.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if advanced != src.Len() {
		t.Errorf("progress advanced %d times, want %d (one per file)", advanced, src.Len())
	}
	if judged.n != 3 {
		t.Errorf("judged frames = %d, want 3", judged.n)
	}
}

func TestProgressSource_CanceledContextNotCounted(t *testing.T) {
	dir := writeFrames(t, map[string]string{"01.jpg": "300"})
	src, err := camera.NewDirSource(dir)
	if err != nil {
		t.Fatal(err)
	}
	advanced := 0
	counted := progressSource{Source: src, advance: func() { advanced++ }}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := counted.Capture(ctx); err == nil {
		t.Fatal("Capture() with canceled context succeeded")
	}
	if advanced != 0 {
		t.Errorf("progress advanced %d times for a canceled read", advanced)
	}

	ctx = context.Background()
	if _, err := counted.Capture(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := counted.Capture(ctx); err == nil {
		t.Fatal("Capture() past the last file should return io.EOF")
	}
	if advanced != 1 {
		t.Errorf("progress advanced %d times, want 1", advanced)
	}
}
