package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-headwatch/pkg/camera"
	"github.com/teslashibe/go-headwatch/pkg/display"
	"github.com/teslashibe/go-headwatch/pkg/journal"
	"github.com/teslashibe/go-headwatch/pkg/monitor"
	"github.com/teslashibe/go-headwatch/pkg/posture"
)

var replayWindow bool

var replayCmd = &cobra.Command{
	Use:   "replay <dir>",
	Short: "Run the detector over a directory of recorded frames",
	Long: `Feeds every .jpg/.jpeg/.png file in <dir>, in name order, through the
same pipeline as watch and prints the posture events it produced.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().BoolVar(&replayWindow, "window", false, "Show the annotated video window")
	rootCmd.AddCommand(replayCmd)
}

// progressSource advances the progress bar for every file read, including
// frames that fail to decode, fail detection or show nobody.
type progressSource struct {
	camera.Source
	advance func()
}

func (s progressSource) Capture(ctx context.Context) ([]byte, error) {
	raw, err := s.Source.Capture(ctx)
	if err == nil || (!errors.Is(err, io.EOF) && ctx.Err() == nil) {
		s.advance()
	}
	return raw, err
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	src, err := camera.NewDirSource(args[0])
	if err != nil {
		return err
	}
	defer src.Close()
	if src.Len() == 0 {
		return fmt.Errorf("no image files in %s", args[0])
	}

	det, err := newDetector(cmd)
	if err != nil {
		return fmt.Errorf("load detector: %w", err)
	}
	defer det.Close()

	sess, err := posture.NewSession(cfg.Posture)
	if err != nil {
		return err
	}

	loopCfg := cfg.Loop
	loopCfg.RetryDelay = 0
	if !cmd.Flags().Changed("calibration-pause") {
		loopCfg.CalibrationPause = 0
	}

	bar := progressbar.NewOptions(src.Len(),
		progressbar.OptionSetDescription("🎞️  Replaying"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	j := journal.New(journal.DefaultCapacity)
	counted := progressSource{Source: src, advance: func() { bar.Add(1) }}
	loop := monitor.New(loopCfg, counted, frameDecoder(cfg.Rotation), det, sess)
	loop.AddPublisher(j)

	var stop monitor.StopFunc
	if replayWindow {
		win := display.NewWindow(windowTitle)
		defer win.Close()
		loop.SetRenderer(win)
		stop = win.StopRequested
	}

	if err := loop.Run(ctx, stop); err != nil {
		return err
	}
	bar.Finish()
	fmt.Fprintln(os.Stderr)

	printEventTable(j.Events(0))
	printSummary(j.Stats(), loop.Stats())
	return nil
}

func printEventTable(events []journal.Event) {
	if len(events) == 0 {
		fmt.Println("No posture events.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "FRAME\tEVENT\tHEIGHT\tREFERENCE\tDROP")
	fmt.Fprintln(w, "-----\t-----\t------\t---------\t----")
	for _, e := range events {
		fmt.Fprintf(w, "%d\t%s\t%.0f\t%.0f\t%.0f%%\n", e.Seq, e.Kind, e.Height, e.ReferenceHeight, e.DropRatio*100)
	}
	w.Flush()
}
