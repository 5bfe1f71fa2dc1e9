// Package display shows annotated frames in a local OpenCV window and
// turns the ESC key into a stop request.
package display

import (
	"image"
	"image/color"
	"sync/atomic"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-headwatch/pkg/detection"
	"github.com/teslashibe/go-headwatch/pkg/detection/opencv"
	"github.com/teslashibe/go-headwatch/pkg/monitor"
	"github.com/teslashibe/go-headwatch/pkg/posture"
)

const (
	keyESC      = 27
	waitKeyMS   = 5
	idleKeyMS   = 1
	subjectText = "Closest Person"
	headDownMsg = "Head down detected"
)

var (
	// gocv maps RGBA onto BGR scalars: blue box, red alert.
	boxColor   = color.RGBA{0, 0, 255, 0}
	alertColor = color.RGBA{255, 0, 0, 0}
)

// Annotate draws the subject box and, for HEAD_DOWN frames, the alert
// text onto mat.
func Annotate(mat *gocv.Mat, out posture.Outcome) {
	if out.Subject != nil {
		drawSubject(mat, out.Subject)
	}
	if out.State == posture.HeadDown {
		gocv.PutText(mat, headDownMsg, image.Pt(30, 50), gocv.FontHersheySimplex, 1, alertColor, 3)
	}
}

func drawSubject(mat *gocv.Mat, subject *detection.Detection) {
	r := subject.Box.Rect()
	gocv.Rectangle(mat, r, boxColor, 3)

	labelY := r.Min.Y - 10
	if labelY < 15 {
		labelY = r.Min.Y + 20
	}
	gocv.PutText(mat, subjectText, image.Pt(r.Min.X+10, labelY), gocv.FontHersheySimplex, 0.8, boxColor, 2)
}

// Window is a monitor.Renderer backed by a HighGUI window.
type Window struct {
	win     *gocv.Window
	waitKey func(delay int) int
	stop    atomic.Bool
}

// NewWindow opens a window with the given title.
func NewWindow(title string) *Window {
	win := gocv.NewWindow(title)
	return &Window{win: win, waitKey: win.WaitKey}
}

func (w *Window) pollKey(delay int) {
	if w.waitKey(delay) == keyESC {
		w.stop.Store(true)
	}
}

// Render shows the annotated frame and polls the keyboard once.
func (w *Window) Render(img detection.Image, r monitor.Report) error {
	frame, ok := img.(*opencv.Frame)
	if !ok {
		return opencv.ErrUnsupportedImage
	}

	canvas := frame.Mat.Clone()
	defer canvas.Close()
	Annotate(&canvas, r.Outcome)

	w.win.IMShow(canvas)
	w.pollKey(waitKeyMS)
	return nil
}

// StopRequested reports whether ESC was pressed. It is a monitor.StopFunc.
// The keyboard is polled here too, so ESC still works while no frame is
// rendered, e.g. during a camera outage.
func (w *Window) StopRequested() bool {
	if !w.stop.Load() {
		w.pollKey(idleKeyMS)
	}
	return w.stop.Load()
}

// Close destroys the window.
func (w *Window) Close() error {
	return w.win.Close()
}
