// Package store writes an audit trail of sessions and posture events to
// PostgreSQL. It is write-mostly: nothing read back from it ever feeds a
// running session.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/teslashibe/go-headwatch/internal/log"
	"github.com/teslashibe/go-headwatch/pkg/journal"
	"github.com/teslashibe/go-headwatch/pkg/posture"
)

// Store wraps a single pgx connection. Calls are serialized. Events that
// arrive through Listener are written by a background goroutine started
// with the store and drained by Close.
type Store struct {
	mu   sync.Mutex
	conn *pgx.Conn
	rec  *recorder
}

// New connects and creates the schema if needed.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	s := &Store{conn: conn}
	s.rec = newRecorder(s, DefaultQueueSize, log.L())
	return s, nil
}

// SetLogger replaces the logger used by the background writer.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.rec.logger.Store(logger)
}

func initSchema(ctx context.Context, conn *pgx.Conn) error {
	_, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS headwatch_sessions (
			id UUID PRIMARY KEY,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ,
			camera_url TEXT NOT NULL,
			drop_ratio DOUBLE PRECISION NOT NULL,
			reference_height DOUBLE PRECISION,
			calibrated_at TIMESTAMPTZ,
			frames BIGINT NOT NULL DEFAULT 0,
			head_down_events BIGINT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS posture_events (
			id UUID PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES headwatch_sessions(id),
			seq BIGINT NOT NULL,
			kind TEXT NOT NULL,
			state TEXT NOT NULL,
			height DOUBLE PRECISION NOT NULL,
			reference_height DOUBLE PRECISION NOT NULL,
			drop_ratio DOUBLE PRECISION NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS posture_events_session_idx ON posture_events (session_id, seq);
	`)
	return err
}

// Close writes out every queued event, then terminates the connection.
func (s *Store) Close(ctx context.Context) {
	s.rec.close()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Close(ctx)
}

// StartSession registers a new session.
func (s *Store) StartSession(ctx context.Context, id uuid.UUID, startedAt time.Time, cameraURL string, dropRatio float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(ctx, `
		INSERT INTO headwatch_sessions (id, started_at, camera_url, drop_ratio)
		VALUES ($1, $2, $3, $4)
	`, id, startedAt, cameraURL, dropRatio)
	if err != nil {
		return fmt.Errorf("store: start session: %w", err)
	}
	return nil
}

// SetReference records the calibrated height. It only fills an empty
// column, so a session's reference is written at most once.
func (s *Store) SetReference(ctx context.Context, id uuid.UUID, height float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(ctx, `
		UPDATE headwatch_sessions
		SET reference_height = $2, calibrated_at = $3
		WHERE id = $1 AND reference_height IS NULL
	`, id, height, at)
	if err != nil {
		return fmt.Errorf("store: set reference: %w", err)
	}
	return nil
}

// RecordEvent stores one journal event.
func (s *Store) RecordEvent(ctx context.Context, e journal.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(ctx, `
		INSERT INTO posture_events (id, session_id, seq, kind, state, height, reference_height, drop_ratio, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.SessionID, int64(e.Seq), string(e.Kind), e.State.String(), e.Height, e.ReferenceHeight, e.DropRatio, e.Time)
	if err != nil {
		return fmt.Errorf("store: record event: %w", err)
	}
	return nil
}

// EndSession stamps the end time and final counters.
func (s *Store) EndSession(ctx context.Context, id uuid.UUID, endedAt time.Time, stats journal.Stats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(ctx, `
		UPDATE headwatch_sessions
		SET ended_at = $2, frames = $3, head_down_events = $4
		WHERE id = $1
	`, id, endedAt, int64(stats.Frames), int64(stats.HeadDownEvents))
	if err != nil {
		return fmt.Errorf("store: end session: %w", err)
	}
	return nil
}

// ListEvents returns the events of a session in sequence order.
func (s *Store) ListEvents(ctx context.Context, sessionID uuid.UUID) ([]journal.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.conn.Query(ctx, `
		SELECT id, seq, kind, state, height, reference_height, drop_ratio, occurred_at
		FROM posture_events
		WHERE session_id = $1
		ORDER BY seq, occurred_at
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer rows.Close()

	var events []journal.Event
	for rows.Next() {
		var (
			e     journal.Event
			seq   int64
			kind  string
			state string
		)
		if err := rows.Scan(&e.ID, &seq, &kind, &state, &e.Height, &e.ReferenceHeight, &e.DropRatio, &e.Time); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		e.SessionID = sessionID
		e.Seq = uint64(seq)
		e.Kind = journal.Kind(kind)
		var st posture.State
		if err := st.UnmarshalText([]byte(state)); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		e.State = st
		events = append(events, e)
	}
	return events, rows.Err()
}

// Listener returns a journal.Listener that queues every event for the
// background writer. It never blocks: when the queue is full the event is
// dropped and counted. Write errors are logged, never fatal.
func (s *Store) Listener() journal.Listener {
	return s.rec.enqueue
}

// Flush waits until every event queued so far has been written.
func (s *Store) Flush(ctx context.Context) error {
	return s.rec.flush(ctx)
}

// Dropped reports how many events were discarded because the queue was full.
func (s *Store) Dropped() uint64 {
	return s.rec.dropped.Load()
}
