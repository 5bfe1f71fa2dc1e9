package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-headwatch/internal/log"
	"github.com/teslashibe/go-headwatch/pkg/camera"
	"github.com/teslashibe/go-headwatch/pkg/display"
	"github.com/teslashibe/go-headwatch/pkg/journal"
	"github.com/teslashibe/go-headwatch/pkg/monitor"
	"github.com/teslashibe/go-headwatch/pkg/posture"
	"github.com/teslashibe/go-headwatch/pkg/store"
	"github.com/teslashibe/go-headwatch/pkg/web"
)

const windowTitle = "Head Down Detection"

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the live camera feed",
	Long: `Polls the camera, finds the closest person in every frame and reports
when their head drops. The first frame with a person sets the reference
height for the rest of the session. Press ESC in the window or Ctrl+C to stop.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	f := watchCmd.Flags()
	f.StringVar(&cfg.Camera.URL, "camera", cfg.Camera.URL, "Camera snapshot or stream URL")
	f.StringVar(&cfg.Camera.Mode, "mode", cfg.Camera.Mode, "Camera mode: snapshot or stream")
	f.DurationVar(&cfg.Camera.Timeout, "timeout", cfg.Camera.Timeout, "Snapshot request timeout")
	f.BoolVar(&cfg.ShowWindow, "window", cfg.ShowWindow, "Show the annotated video window")
	f.StringVar(&cfg.DashboardAddr, "dashboard", cfg.DashboardAddr, "Dashboard listen address (empty to disable)")
	f.StringVar(&cfg.DatabaseURL, "db", cfg.DatabaseURL, "PostgreSQL URL for the event log (empty to disable)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := log.L()

	src, err := camera.New(cfg.Camera)
	if err != nil {
		return err
	}
	defer src.Close()

	det, err := newDetector(cmd)
	if err != nil {
		return fmt.Errorf("load detector: %w", err)
	}
	defer det.Close()

	sess, err := posture.NewSession(cfg.Posture)
	if err != nil {
		return err
	}

	j := journal.New(journal.DefaultCapacity)
	j.Subscribe(printEvent)

	loop := monitor.New(cfg.Loop, src, frameDecoder(cfg.Rotation), det, sess)
	loop.AddPublisher(j)

	var stop monitor.StopFunc
	if cfg.ShowWindow {
		win := display.NewWindow(windowTitle)
		defer win.Close()
		loop.SetRenderer(win)
		stop = win.StopRequested
	}

	if cfg.DatabaseURL != "" {
		st, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		// Background: ctx may already be canceled when we get here.
		defer st.Close(context.Background())

		if err := st.StartSession(ctx, j.SessionID(), time.Now(), cfg.Camera.URL, cfg.Posture.DropThresholdRatio); err != nil {
			return err
		}
		st.SetLogger(logger)
		j.Subscribe(st.Listener())
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := st.Flush(flushCtx); err != nil {
				logger.Warn("flush events", "error", err)
			}
			if n := st.Dropped(); n > 0 {
				logger.Warn("events dropped while recording", "count", n)
			}
			if err := st.EndSession(context.Background(), j.SessionID(), time.Now(), j.Stats()); err != nil {
				logger.Warn("end session", "error", err)
			}
		}()
		fmt.Fprintln(os.Stderr, "🗄️  Recording events to PostgreSQL")
	}

	if cfg.DashboardAddr != "" {
		srv := web.NewServer(web.Config{Addr: cfg.DashboardAddr}, j)
		srv.SetStatsSource(loop.Stats)
		loop.AddPublisher(srv)

		srvCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := srv.Start(srvCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("dashboard stopped", "error", err)
			}
		}()
		defer func() {
			cancel()
			<-done
		}()
		fmt.Fprintf(os.Stderr, "🌐 Dashboard: http://localhost%s\n", cfg.DashboardAddr)
	}

	fmt.Fprintf(os.Stderr, "👁️  Watching: %s\n", cfg.Summary())
	fmt.Fprintf(os.Stderr, "    Session %s, waiting for a person to calibrate\n", j.SessionID())

	if err := loop.Run(ctx, stop); err != nil {
		return err
	}

	printSummary(j.Stats(), loop.Stats())
	return nil
}

// printEvent is the console view of the journal.
func printEvent(e journal.Event) {
	ts := e.Time.Format("15:04:05")
	switch e.Kind {
	case journal.KindCalibrated:
		fmt.Fprintf(os.Stderr, "📏 %s Calibrated: reference height %.0fpx\n", ts, e.ReferenceHeight)
	case journal.KindHeadDown:
		fmt.Fprintf(os.Stderr, "⬇️  %s Head down detected (height %.0fpx, drop %.0f%%)\n", ts, e.Height, e.DropRatio*100)
	case journal.KindRecovered:
		fmt.Fprintf(os.Stderr, "⬆️  %s Head back up (height %.0fpx)\n", ts, e.Height)
	case journal.KindSubjectLost:
		fmt.Fprintf(os.Stderr, "❓ %s Subject lost\n", ts)
	}
}

func printSummary(s journal.Stats, ls monitor.Stats) {
	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "✅ Session %s finished\n", s.SessionID)
	fmt.Fprintf(os.Stderr, "    Frames: %d (normal %d, head down %d, unknown %d)\n",
		s.Frames, s.NormalFrames, s.HeadDownFrames, s.UnknownFrames)
	fmt.Fprintf(os.Stderr, "    Head-down events: %d\n", s.HeadDownEvents)
	if s.Calibrated {
		fmt.Fprintf(os.Stderr, "    Reference height: %.0fpx\n", s.ReferenceHeight)
	} else {
		fmt.Fprintln(os.Stderr, "    Never calibrated: no person was detected")
	}
	if ls.AcquisitionFailures > 0 || ls.DetectionFailures > 0 {
		fmt.Fprintf(os.Stderr, "    Skipped frames: %d acquisition, %d detection\n", ls.AcquisitionFailures, ls.DetectionFailures)
	}
}
