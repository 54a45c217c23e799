package session

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"agent-pairtrack/internal/capture"
	"agent-pairtrack/internal/checkpoint"
	"agent-pairtrack/internal/timeline"

	"github.com/google/uuid"
)

type State string

const (
	StateIdle       State = "idle"
	StateTracking   State = "tracking"
	StateFinalizing State = "finalizing"
)

// recordNamespace seeds name-based record IDs from the start instant, so a
// mirrored session finalizes to the same ID on both devices.
var recordNamespace = uuid.MustParse("4c1e6a2d-8f3b-47c9-b1d5-2e9a60c7f841")

func recordID(startedAt time.Time) string {
	return uuid.NewSHA1(recordNamespace, []byte(fmt.Sprintf("%d", startedAt.UnixMilli()))).String()
}

// Machine owns the session lifecycle: Idle -> Tracking -> Finalizing ->
// Idle. Start and Stop are the only transitions; Finalizing is internal to
// Stop and rejects new starts until the record is written.
type Machine struct {
	buf   *capture.Buffer
	store *timeline.Store

	mu        sync.Mutex
	state     State
	startedAt time.Time
	pending   []checkpoint.Checkpoint
}

func NewMachine(buf *capture.Buffer, store *timeline.Store) *Machine {
	return &Machine{buf: buf, store: store, state: StateIdle}
}

// Start moves Idle to Tracking and resets the buffer for a clean session.
// The start instant comes from whichever device initiated the session; a
// mirrored start that carried no instant leaves it unset, and such a session
// is discarded on stop. Returns false when a session is already running.
func (m *Machine) Start(at time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateIdle {
		return false
	}
	m.state = StateTracking
	m.startedAt = at
	m.pending = nil
	m.buf.Reset()
	return true
}

// Stop finalizes the running session into a timeline record: generated
// checkpoints merged with manual marks, totals from the buffer, and the
// record ID derived from the start instant. Without a recorded start there
// is nothing trustworthy to finalize, so the buffer is discarded and no
// record is written. Returns false when no record was produced.
func (m *Machine) Stop(ctx context.Context) (timeline.Record, bool) {
	m.mu.Lock()
	if m.state != StateTracking {
		m.mu.Unlock()
		return timeline.Record{}, false
	}
	if m.startedAt.IsZero() {
		m.state = StateIdle
		m.pending = nil
		m.buf.Reset()
		m.mu.Unlock()
		log.Printf("session stopped without a start instant, discarding")
		return timeline.Record{}, false
	}
	m.state = StateFinalizing
	startedAt := m.startedAt
	pending := m.pending
	m.startedAt = time.Time{}
	m.pending = nil
	m.mu.Unlock()

	positions, timestamps, health := m.buf.Snapshot()
	checkpoints := mergeMarks(checkpoint.Generate(positions, timestamps, health), pending)

	endedAt := time.Now().UTC()
	duration := endedAt.Sub(startedAt)
	rec := timeline.Record{
		ID:              recordID(startedAt),
		StartedAt:       startedAt,
		EndedAt:         endedAt,
		DurationSeconds: int64(duration.Seconds()),
		TotalDistanceM:  m.buf.TotalDistanceM(),
		MaxSpeedKmh:     m.buf.MaxSpeedKmh(),
		Positions:       positions,
		Checkpoints:     checkpoints,
	}
	if duration > 0 {
		rec.AverageSpeedKmh = (rec.TotalDistanceM / 1000) / duration.Hours()
	}

	if err := m.store.Save(ctx, rec); err != nil {
		log.Printf("session record write failed: %v", err)
	}

	m.buf.Reset()
	m.mu.Lock()
	m.state = StateIdle
	m.mu.Unlock()
	return rec, true
}

// AddPendingCheckpoint queues a manual mark for the running session.
// Duplicates by ID are dropped, which makes the mirrored copy of our own
// mark harmless. Returns false when the mark was not queued.
func (m *Machine) AddPendingCheckpoint(cp checkpoint.Checkpoint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateTracking {
		return false
	}
	for _, existing := range m.pending {
		if existing.ID == cp.ID {
			return false
		}
	}
	m.pending = append(m.pending, cp)
	return true
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Active() bool { return m.State() == StateTracking }

func (m *Machine) StartedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startedAt
}

func (m *Machine) PendingCheckpoints() []checkpoint.Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]checkpoint.Checkpoint, len(m.pending))
	copy(out, m.pending)
	return out
}

// mergeMarks folds manual marks into the generated checkpoints, ordered by
// occurrence. The sort is stable so generated checkpoints keep their
// relative order on equal instants.
func mergeMarks(generated, manual []checkpoint.Checkpoint) []checkpoint.Checkpoint {
	if len(manual) == 0 {
		return generated
	}
	out := append(generated, manual...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out
}
