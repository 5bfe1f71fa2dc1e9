package log

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			if got := ParseLevel(tc.in); got != tc.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestNew_RespectsLevel(t *testing.T) {
	t.Setenv("GO_ENV", "")

	var buf bytes.Buffer
	l := New(&buf, "warn")
	l.Info("hidden")
	l.Warn("shown", "frame", 3)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "frame=3") {
		t.Errorf("expected warn line with attrs, got %q", out)
	}
}

func TestNew_ProductionUsesJSON(t *testing.T) {
	t.Setenv("GO_ENV", "production")

	var buf bytes.Buffer
	New(&buf, "info").Info("hello")

	if !strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Errorf("expected JSON output in production, got %q", buf.String())
	}
}

func TestInit_ReplacesLevel(t *testing.T) {
	ctx := context.Background()

	Init("error")
	if L().Enabled(ctx, slog.LevelInfo) {
		t.Error("info should be disabled after Init(error)")
	}

	Init("debug")
	if !L().Enabled(ctx, slog.LevelDebug) {
		t.Error("debug should be enabled after Init(debug)")
	}
	Init("info")
}
