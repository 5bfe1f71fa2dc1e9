package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/teslashibe/go-headwatch/internal/log"
	"github.com/teslashibe/go-headwatch/pkg/detection"
	"github.com/teslashibe/go-headwatch/pkg/journal"
	"github.com/teslashibe/go-headwatch/pkg/monitor"
	"github.com/teslashibe/go-headwatch/pkg/posture"
)

type noopLogger struct{}

func (noopLogger) Printf(format string, v ...any) {}

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Skipf("Docker not available: %v", err)
	}

	pg, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("headwatch_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := pg.Terminate(ctx); err != nil {
			t.Errorf("terminate container: %v", err)
		}
	})

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	return connStr
}

func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	connStr := startPostgres(t)
	ctx := context.Background()

	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close(ctx)

	// Schema creation is idempotent.
	s2, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	s2.Close(ctx)

	j := journal.New(0)
	if err := s.StartSession(ctx, j.SessionID(), time.Now(), "http://cam/capture", 0.25); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	s.SetLogger(log.Discard())
	j.Subscribe(s.Listener())

	sess, err := posture.NewSession(posture.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	for i, h := range []float64{300, 290, 200, 295, 0} {
		var dets []detection.Detection
		if h > 0 {
			dets = []detection.Detection{{Label: detection.ClassPerson, Confidence: 0.9, Box: detection.Box{Height: h}}}
		}
		j.Publish(monitor.Report{Seq: uint64(i + 1), Time: time.Now(), Outcome: sess.Observe(dets)})
	}

	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if n := s.Dropped(); n != 0 {
		t.Errorf("Dropped() = %d, want 0", n)
	}

	events, err := s.ListEvents(ctx, j.SessionID())
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	want := []journal.Kind{journal.KindCalibrated, journal.KindHeadDown, journal.KindRecovered, journal.KindSubjectLost}
	if len(events) != len(want) {
		t.Fatalf("stored %d events, want %d", len(events), len(want))
	}
	for i, e := range events {
		if e.Kind != want[i] {
			t.Errorf("event %d kind = %s, want %s", i, e.Kind, want[i])
		}
	}
	if down := events[1]; down.State != posture.HeadDown || down.Height != 200 || down.ReferenceHeight != 300 || down.Seq != 3 {
		t.Errorf("head_down event = %+v", down)
	}

	// The reference is written once; a second call does not overwrite it.
	if err := s.SetReference(ctx, j.SessionID(), 999, time.Now()); err != nil {
		t.Fatal(err)
	}
	var ref float64
	if err := s.conn.QueryRow(ctx, "SELECT reference_height FROM headwatch_sessions WHERE id = $1", j.SessionID()).Scan(&ref); err != nil {
		t.Fatal(err)
	}
	if ref != 300 {
		t.Errorf("reference_height = %v, want 300", ref)
	}

	if err := s.EndSession(ctx, j.SessionID(), time.Now(), j.Stats()); err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}
	var frames, downs int64
	if err := s.conn.QueryRow(ctx, "SELECT frames, head_down_events FROM headwatch_sessions WHERE id = $1", j.SessionID()).Scan(&frames, &downs); err != nil {
		t.Fatal(err)
	}
	if frames != 5 || downs != 1 {
		t.Errorf("frames, head_down_events = %d, %d; want 5, 1", frames, downs)
	}
}
