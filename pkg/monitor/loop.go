package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-headwatch/internal/log"
	"github.com/teslashibe/go-headwatch/pkg/camera"
	"github.com/teslashibe/go-headwatch/pkg/detection"
	"github.com/teslashibe/go-headwatch/pkg/posture"
)

// Stats counts loop activity.
type Stats struct {
	Iterations          uint64 `json:"iterations"`
	Frames              uint64 `json:"frames"`
	AcquisitionFailures uint64 `json:"acquisition_failures"`
	DetectionFailures   uint64 `json:"detection_failures"`
	ConsecutiveFailures uint64 `json:"consecutive_failures"`
}

// Loop runs the per-frame pipeline for one session.
type Loop struct {
	config   Config
	source   camera.Source
	decoder  Decoder
	detector detection.Detector
	session  *posture.Session

	renderer   Renderer
	publishers []Publisher
	logger     *slog.Logger

	seq         atomic.Uint64
	iterations  atomic.Uint64
	frames      atomic.Uint64
	acqFailures atomic.Uint64
	detFailures atomic.Uint64
	consecutive atomic.Uint64
	lastState   posture.State
}

// New creates a loop. The caller keeps ownership of source, detector and
// session and closes them after Run returns.
func New(config Config, source camera.Source, decoder Decoder, detector detection.Detector, session *posture.Session) *Loop {
	return &Loop{
		config:   config,
		source:   source,
		decoder:  decoder,
		detector: detector,
		session:  session,
		logger:   log.L(),
	}
}

// SetRenderer sets the renderer called for every frame.
func (l *Loop) SetRenderer(r Renderer) {
	l.renderer = r
}

// AddPublisher registers a publisher.
func (l *Loop) AddPublisher(p Publisher) {
	l.publishers = append(l.publishers, p)
}

// SetLogger replaces the logger.
func (l *Loop) SetLogger(logger *slog.Logger) {
	l.logger = logger
}

// Session returns the session driven by the loop.
func (l *Loop) Session() *posture.Session {
	return l.session
}

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Iterations:          l.iterations.Load(),
		Frames:              l.frames.Load(),
		AcquisitionFailures: l.acqFailures.Load(),
		DetectionFailures:   l.detFailures.Load(),
		ConsecutiveFailures: l.consecutive.Load(),
	}
}

// Step runs exactly one iteration. On ErrAcquisition or ErrDetection the
// session has not been touched. Errors from the source are wrapped, so
// errors.Is(err, io.EOF) still reports the end of a replay.
func (l *Loop) Step(ctx context.Context) (Report, error) {
	l.iterations.Add(1)
	start := time.Now()

	raw, err := l.source.Capture(ctx)
	if err != nil {
		l.acqFailures.Add(1)
		l.consecutive.Add(1)
		return Report{}, fmt.Errorf("%w: %w", ErrAcquisition, err)
	}

	img, err := l.decoder.Decode(raw)
	if err != nil {
		l.acqFailures.Add(1)
		l.consecutive.Add(1)
		return Report{}, fmt.Errorf("%w: %w", ErrAcquisition, err)
	}
	defer img.Close()

	dets, err := l.detector.Detect(img)
	if err != nil {
		l.detFailures.Add(1)
		l.consecutive.Add(1)
		return Report{}, fmt.Errorf("%w: %w", ErrDetection, err)
	}
	l.consecutive.Store(0)
	l.frames.Add(1)

	out := l.session.Observe(dets)
	report := Report{
		Seq:        l.seq.Add(1),
		Time:       start,
		Outcome:    out,
		Detections: len(dets),
		FrameSize:  img.Size(),
		Latency:    time.Since(start),
		Frame:      raw,
	}
	l.logOutcome(report)

	if l.renderer != nil {
		if err := l.renderer.Render(img, report); err != nil {
			l.logger.Warn("render failed", "seq", report.Seq, "error", err)
		}
	}
	for _, p := range l.publishers {
		p.Publish(report)
	}
	return report, nil
}

func (l *Loop) logOutcome(r Report) {
	out := r.Outcome
	if out.Calibration.Kind == posture.JustCalibrated {
		l.logger.Info("baseline calibrated", "seq", r.Seq, "reference_height", out.Calibration.Height)
	}
	if out.State != l.lastState {
		l.logger.Debug("posture changed", "seq", r.Seq, "from", l.lastState, "to", out.State)
		l.lastState = out.State
	}
}

// Run repeats Step until stop returns true, ctx is done, or the source
// is exhausted (io.EOF). Failed iterations are logged and retried.
// Cancellation is polled after every iteration, successful or not.
func (l *Loop) Run(ctx context.Context, stop StopFunc) error {
	l.logger.Info("monitor started",
		"drop_ratio", l.session.Config().DropThresholdRatio,
		"subject_class", l.session.Config().SubjectClass)

	for {
		report, err := l.Step(ctx)
		switch {
		case err == nil:
			if report.Outcome.Calibration.Kind == posture.JustCalibrated {
				wait(ctx, l.config.CalibrationPause)
			}
		case errors.Is(err, io.EOF):
			l.logger.Info("frame source exhausted", "frames", l.frames.Load())
			return nil
		case errors.Is(err, ErrAcquisition):
			if ctx.Err() == nil {
				l.logFailure(err)
				wait(ctx, l.config.RetryDelay)
			}
		case errors.Is(err, ErrDetection):
			l.logFailure(err)
		default:
			return err
		}

		if stop != nil && stop() {
			l.logger.Info("stop requested", "frames", l.frames.Load())
			return nil
		}
		if ctx.Err() != nil {
			l.logger.Info("monitor stopped", "reason", ctx.Err(), "frames", l.frames.Load())
			return nil
		}
	}
}

// logFailure warns on the first failure of a run of failures and then
// every tenth, keeping the rest at debug.
func (l *Loop) logFailure(err error) {
	n := l.consecutive.Load()
	if n == 1 || n%10 == 0 {
		l.logger.Warn("iteration skipped", "consecutive", n, "error", err)
		return
	}
	l.logger.Debug("iteration skipped", "consecutive", n, "error", err)
}

func wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
