package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-headwatch/internal/config"
	"github.com/teslashibe/go-headwatch/internal/log"
	"github.com/teslashibe/go-headwatch/pkg/detection"
	"github.com/teslashibe/go-headwatch/pkg/detection/opencv"
	"github.com/teslashibe/go-headwatch/pkg/monitor"
)

// Version is the application version.
const Version = "0.1.0"

var (
	// cfg starts from defaults plus environment; flags override both.
	cfg    = config.DefaultConfig()
	envErr = cfg.LoadEnv()

	rotation string
)

var rootCmd = &cobra.Command{
	Use:           "headwatch",
	Short:         "Head-down posture detection from a network camera",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envErr != nil {
			return envErr
		}
		rot, err := opencv.ParseRotation(rotation)
		if err != nil {
			return &config.ConfigError{Field: "rotation", Message: err.Error()}
		}
		cfg.Rotation = rot
		log.Init(cfg.LogLevel)
		return nil
	},
}

// Execute runs the CLI with a context canceled by SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	f.StringVar(&rotation, "rotation", cfg.Rotation.String(), "Frame rotation: none, 90cw, 180, 90ccw")
	f.StringVar(&cfg.Backend, "backend", cfg.Backend, "Detector backend: ssd or yolo")
	f.StringVar(&cfg.Detector.ModelPath, "model", cfg.Detector.ModelPath, "Model weights (frozen graph or ONNX)")
	f.StringVar(&cfg.Detector.ConfigPath, "model-config", cfg.Detector.ConfigPath, "Network description (.pbtxt), ssd only")
	f.Float64Var(&cfg.Detector.ConfidenceFloor, "confidence", cfg.Detector.ConfidenceFloor, "Minimum detection confidence")
	f.IntVar(&cfg.Detector.InputWidth, "input-width", cfg.Detector.InputWidth, "Model input width")
	f.IntVar(&cfg.Detector.InputHeight, "input-height", cfg.Detector.InputHeight, "Model input height")
	f.Float64Var(&cfg.Posture.DropThresholdRatio, "drop-ratio", cfg.Posture.DropThresholdRatio, "Height loss ratio that counts as head down, in (0, 1)")
	f.DurationVar(&cfg.Loop.CalibrationPause, "calibration-pause", cfg.Loop.CalibrationPause, "Pause after the calibrating frame")
}

// newDetector loads the configured backend. With yolo, settings that were
// not given explicitly fall back to the yolo defaults.
func newDetector(cmd *cobra.Command) (detection.Detector, error) {
	dc := cfg.Detector
	if cfg.Backend == opencv.BackendYOLO {
		yolo := opencv.DefaultYOLOConfig()
		if !cmd.Flags().Changed("model") && os.Getenv("MODEL_PATH") == "" {
			dc.ModelPath = yolo.ModelPath
		}
		if !cmd.Flags().Changed("model-config") {
			dc.ConfigPath = ""
		}
		if !cmd.Flags().Changed("input-width") {
			dc.InputWidth = yolo.InputWidth
		}
		if !cmd.Flags().Changed("input-height") {
			dc.InputHeight = yolo.InputHeight
		}
	}
	return opencv.New(cfg.Backend, dc)
}

// frameDecoder decodes camera bytes into OpenCV frames for the loop.
func frameDecoder(rot opencv.Rotation) monitor.Decoder {
	dec := opencv.Decoder{Rotation: rot}
	return monitor.DecoderFunc(func(raw []byte) (detection.Image, error) {
		f, err := dec.Decode(raw)
		if err != nil {
			return nil, err
		}
		return f, nil
	})
}
