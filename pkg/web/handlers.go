package web

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-headwatch/pkg/hub"
	"github.com/teslashibe/go-headwatch/pkg/journal"
	"github.com/teslashibe/go-headwatch/pkg/monitor"
)

const (
	defaultEventLimit = 100
	wsEventBacklog    = 50
)

// StatsResponse is returned by /api/stats.
type StatsResponse struct {
	Session journal.Stats  `json:"session"`
	Loop    *monitor.Stats `json:"loop,omitempty"`
	Clients map[string]int `json:"clients"`
}

func (s *Server) currentStatus() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":         "ok",
		"session_id":     s.journal.SessionID(),
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.currentStatus())
}

// handleEvents returns recent events, oldest first. ?limit=N caps the count.
func (s *Server) handleEvents(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultEventLimit)
	if limit <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be positive",
		})
	}
	return c.JSON(s.journal.Events(limit))
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	resp := StatsResponse{
		Session: s.journal.Stats(),
		Clients: map[string]int{
			"status": s.statusHub.ClientCount(),
			"events": s.eventHub.ClientCount(),
			"camera": s.cameraHub.ClientCount(),
		},
	}
	if s.loopStats != nil {
		st := s.loopStats()
		resp.Loop = &st
	}
	return c.JSON(resp)
}

// handleStatusWS sends the current status, then one message per frame.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	data, err := json.Marshal(s.currentStatus())
	if err != nil {
		c.Close()
		return
	}
	s.statusHub.Serve(c, hub.JSON(data))
}

// handleEventsWS replays the most recent events, then streams new ones.
func (s *Server) handleEventsWS(c *websocket.Conn) {
	var backlog []hub.Message
	for _, e := range s.journal.Events(wsEventBacklog) {
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		backlog = append(backlog, hub.JSON(data))
	}
	s.eventHub.Serve(c, backlog...)
}

// handleCameraWS streams raw JPEG frames as binary messages.
func (s *Server) handleCameraWS(c *websocket.Conn) {
	s.cameraHub.Serve(c)
}
