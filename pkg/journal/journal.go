// Package journal keeps an in-memory record of posture transitions for
// the running session. Nothing is reloaded when a new session starts.
package journal

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-headwatch/pkg/monitor"
	"github.com/teslashibe/go-headwatch/pkg/posture"
)

// DefaultCapacity is the number of events retained.
const DefaultCapacity = 500

// Kind names a transition.
type Kind string

const (
	KindCalibrated  Kind = "calibrated"
	KindHeadDown    Kind = "head_down"
	KindRecovered   Kind = "recovered"
	KindSubjectLost Kind = "subject_lost"
)

// Event is one recorded transition.
type Event struct {
	ID              uuid.UUID     `json:"id"`
	SessionID       uuid.UUID     `json:"session_id"`
	Seq             uint64        `json:"seq"`
	Kind            Kind          `json:"kind"`
	Time            time.Time     `json:"time"`
	State           posture.State `json:"state"`
	Height          float64       `json:"height,omitempty"`
	ReferenceHeight float64       `json:"reference_height,omitempty"`
	DropRatio       float64       `json:"drop_ratio,omitempty"`
}

// Stats summarizes the session so far.
type Stats struct {
	SessionID       uuid.UUID     `json:"session_id"`
	StartedAt       time.Time     `json:"started_at"`
	Frames          uint64        `json:"frames"`
	UnknownFrames   uint64        `json:"unknown_frames"`
	NormalFrames    uint64        `json:"normal_frames"`
	HeadDownFrames  uint64        `json:"head_down_frames"`
	HeadDownEvents  uint64        `json:"head_down_events"`
	LastHeadDown    *time.Time    `json:"last_head_down,omitempty"`
	Calibrated      bool          `json:"calibrated"`
	ReferenceHeight float64       `json:"reference_height,omitempty"`
	State           posture.State `json:"state"`
}

// Listener is called for every new event, outside the journal lock, on the
// publishing goroutine. Listeners must not block; slow sinks queue.
type Listener func(Event)

// Journal turns frame reports into transition events.
// It implements monitor.Publisher.
type Journal struct {
	mu        sync.RWMutex
	id        uuid.UUID
	started   time.Time
	ring      []Event
	head      int // index of the oldest event once the ring is full
	full      bool
	stats     Stats
	listeners []Listener
}

// New creates a journal for a fresh session. capacity <= 0 uses
// DefaultCapacity.
func New(capacity int) *Journal {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	id := uuid.New()
	now := time.Now()
	return &Journal{
		id:      id,
		started: now,
		ring:    make([]Event, 0, capacity),
		stats:   Stats{SessionID: id, StartedAt: now},
	}
}

// SessionID returns the session identifier.
func (j *Journal) SessionID() uuid.UUID {
	return j.id
}

// Subscribe registers a listener.
func (j *Journal) Subscribe(l Listener) {
	j.mu.Lock()
	j.listeners = append(j.listeners, l)
	j.mu.Unlock()
}

// Publish records one frame.
func (j *Journal) Publish(r monitor.Report) {
	out := r.Outcome

	j.mu.Lock()
	prev := j.stats.State
	j.stats.Frames++
	switch out.State {
	case posture.Normal:
		j.stats.NormalFrames++
	case posture.HeadDown:
		j.stats.HeadDownFrames++
	default:
		j.stats.UnknownFrames++
	}
	j.stats.State = out.State
	if ref, ok := out.Baseline.Height(); ok {
		j.stats.Calibrated = true
		j.stats.ReferenceHeight = ref
	}

	var events []Event
	if out.Calibration.Kind == posture.JustCalibrated {
		events = append(events, j.newEvent(r, KindCalibrated))
	}
	switch {
	case out.State == posture.HeadDown && prev != posture.HeadDown:
		events = append(events, j.newEvent(r, KindHeadDown))
		j.stats.HeadDownEvents++
		t := r.Time
		j.stats.LastHeadDown = &t
	case out.State == posture.Normal && prev == posture.HeadDown:
		events = append(events, j.newEvent(r, KindRecovered))
	case out.State == posture.Unknown && prev != posture.Unknown:
		events = append(events, j.newEvent(r, KindSubjectLost))
	}
	for _, e := range events {
		j.push(e)
	}
	listeners := j.listeners
	j.mu.Unlock()

	for _, e := range events {
		for _, l := range listeners {
			l(e)
		}
	}
}

func (j *Journal) newEvent(r monitor.Report, kind Kind) Event {
	out := r.Outcome
	e := Event{
		ID:        uuid.New(),
		SessionID: j.id,
		Seq:       r.Seq,
		Kind:      kind,
		Time:      r.Time,
		State:     out.State,
	}
	if out.Subject != nil {
		e.Height = out.Subject.Box.Height
		e.DropRatio = posture.DropRatio(out.Baseline, out.Subject)
	}
	e.ReferenceHeight, _ = out.Baseline.Height()
	return e
}

func (j *Journal) push(e Event) {
	if !j.full {
		j.ring = append(j.ring, e)
		j.full = len(j.ring) == cap(j.ring)
		return
	}
	j.ring[j.head] = e
	j.head = (j.head + 1) % len(j.ring)
}

// Events returns up to limit of the most recent events, oldest first.
// limit <= 0 returns everything retained.
func (j *Journal) Events(limit int) []Event {
	j.mu.RLock()
	defer j.mu.RUnlock()

	n := len(j.ring)
	all := make([]Event, 0, n)
	all = append(all, j.ring[j.head:]...)
	all = append(all, j.ring[:j.head]...)
	if limit > 0 && limit < n {
		all = all[n-limit:]
	}
	return all
}

// Stats returns a snapshot of the session counters.
func (j *Journal) Stats() Stats {
	j.mu.RLock()
	defer j.mu.RUnlock()
	s := j.stats
	if s.LastHeadDown != nil {
		t := *s.LastHeadDown
		s.LastHeadDown = &t
	}
	return s
}
