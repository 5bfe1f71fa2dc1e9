// Package web serves the live dashboard API: current posture, session
// events and counters over REST and websockets.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-headwatch/internal/log"
	"github.com/teslashibe/go-headwatch/pkg/detection"
	"github.com/teslashibe/go-headwatch/pkg/hub"
	"github.com/teslashibe/go-headwatch/pkg/journal"
	"github.com/teslashibe/go-headwatch/pkg/monitor"
	"github.com/teslashibe/go-headwatch/pkg/posture"
)

// Status is the per-frame view pushed to dashboards.
type Status struct {
	Seq             uint64               `json:"seq"`
	Time            time.Time            `json:"time"`
	State           posture.State        `json:"state"`
	Subject         *detection.Detection `json:"subject,omitempty"`
	Calibrated      bool                 `json:"calibrated"`
	ReferenceHeight float64              `json:"reference_height,omitempty"`
	DropRatio       float64              `json:"drop_ratio"`
	Detections      int                  `json:"detections"`
	FrameWidth      int                  `json:"frame_width"`
	FrameHeight     int                  `json:"frame_height"`
	LatencyMS       float64              `json:"latency_ms"`
}

// StatusFromReport builds the dashboard view of a frame.
func StatusFromReport(r monitor.Report) Status {
	out := r.Outcome
	ref, ok := out.Baseline.Height()
	return Status{
		Seq:             r.Seq,
		Time:            r.Time,
		State:           out.State,
		Subject:         out.Subject,
		Calibrated:      ok,
		ReferenceHeight: ref,
		DropRatio:       posture.DropRatio(out.Baseline, out.Subject),
		Detections:      r.Detections,
		FrameWidth:      r.FrameSize.X,
		FrameHeight:     r.FrameSize.Y,
		LatencyMS:       float64(r.Latency.Microseconds()) / 1000,
	}
}

// Config holds server settings.
type Config struct {
	Addr      string // listen address, e.g. ":8080"
	StaticDir string // optional directory served at /
}

// Server is the dashboard server. It implements monitor.Publisher.
type Server struct {
	app     *fiber.App
	config  Config
	logger  *slog.Logger
	journal *journal.Journal
	started time.Time

	status   Status
	statusMu sync.RWMutex

	loopStats func() monitor.Stats

	statusHub *hub.Hub
	eventHub  *hub.Hub
	cameraHub *hub.Hub
}

// NewServer creates the server and subscribes it to j.
func NewServer(cfg Config, j *journal.Journal) *Server {
	s := &Server{
		config:    cfg,
		logger:    log.With("component", "web"),
		journal:   j,
		started:   time.Now(),
		statusHub: hub.New("status"),
		eventHub:  hub.New("events"),
		cameraHub: hub.New("camera"),
	}

	j.Subscribe(func(e journal.Event) {
		if err := s.eventHub.BroadcastJSON(e); err != nil {
			s.logger.Warn("encode event", "error", err)
		}
	})

	app := fiber.New(fiber.Config{
		AppName:               "headwatch",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	app.Get("/health", s.handleHealth)

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/events", s.handleEvents)
	api.Get("/stats", s.handleStats)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/events", websocket.New(s.handleEventsWS))
	app.Get("/ws/camera", websocket.New(s.handleCameraWS))

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	s.app = app
	return s
}

// SetLogger replaces the logger of the server and its hubs.
func (s *Server) SetLogger(logger *slog.Logger) {
	s.logger = logger.With("component", "web")
	s.statusHub.SetLogger(logger)
	s.eventHub.SetLogger(logger)
	s.cameraHub.SetLogger(logger)
}

// SetStatsSource provides the loop counters shown by /api/stats.
func (s *Server) SetStatsSource(fn func() monitor.Stats) {
	s.loopStats = fn
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Publish updates the current status and pushes it to websocket clients.
func (s *Server) Publish(r monitor.Report) {
	st := StatusFromReport(r)

	s.statusMu.Lock()
	s.status = st
	s.statusMu.Unlock()

	if err := s.statusHub.BroadcastJSON(st); err != nil {
		s.logger.Warn("encode status", "error", err)
	}
	if len(r.Frame) > 0 && s.cameraHub.ClientCount() > 0 {
		s.cameraHub.BroadcastFrame(r.Frame)
	}
}

// Start listens on the configured address until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("web: listen %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the hubs and serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.statusHub.Run(ctx)
	go s.eventHub.Run(ctx)
	go s.cameraHub.Run(ctx)

	errc := make(chan error, 1)
	go func() { errc <- s.app.Listener(ln) }()
	s.logger.Info("dashboard listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			return fmt.Errorf("web: shutdown: %w", err)
		}
		return <-errc
	}
}
