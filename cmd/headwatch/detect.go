package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gocv.io/x/gocv"

	"github.com/teslashibe/go-headwatch/pkg/detection/opencv"
	"github.com/teslashibe/go-headwatch/pkg/display"
	"github.com/teslashibe/go-headwatch/pkg/posture"
)

var detectOut string

var detectCmd = &cobra.Command{
	Use:   "detect <image>",
	Short: "Run the detector on one image and show the selected subject",
	Args:  cobra.ExactArgs(1),
	RunE:  runDetect,
}

func init() {
	detectCmd.Flags().StringVarP(&detectOut, "out", "o", "", "Write the annotated image to this path")
	rootCmd.AddCommand(detectCmd)
}

func runDetect(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	frame, err := opencv.Decode(raw, cfg.Rotation)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	defer frame.Close()

	det, err := newDetector(cmd)
	if err != nil {
		return fmt.Errorf("load detector: %w", err)
	}
	defer det.Close()

	dets, err := det.Detect(frame)
	if err != nil {
		return err
	}

	size := frame.Size()
	fmt.Printf("%s: %dx%d, %d detections\n", args[0], size.X, size.Y, len(dets))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "#\tLABEL\tCONFIDENCE\tX\tY\tWIDTH\tHEIGHT")
	for i, d := range dets {
		fmt.Fprintf(w, "%d\t%s\t%.2f\t%.0f\t%.0f\t%.0f\t%.0f\n",
			i, d.Label, d.Confidence, d.Box.X, d.Box.Y, d.Box.Width, d.Box.Height)
	}
	w.Flush()

	subject := posture.Select(dets, cfg.Posture.SubjectClass)
	if subject == nil {
		fmt.Printf("No %s found.\n", cfg.Posture.SubjectClass)
	} else {
		fmt.Printf("Subject: %s at (%.0f, %.0f), height %.0fpx\n",
			subject.Label, subject.Box.X, subject.Box.Y, subject.Box.Height)
	}

	if detectOut != "" {
		canvas := frame.Mat.Clone()
		defer canvas.Close()
		display.Annotate(&canvas, posture.Outcome{State: posture.Unknown, Subject: subject})
		if !gocv.IMWrite(detectOut, canvas) {
			return fmt.Errorf("write %s failed", detectOut)
		}
		fmt.Printf("Annotated image written to %s\n", detectOut)
	}
	return nil
}
