package capture

import (
	"sync"
	"time"

	"agent-pairtrack/internal/shared/geo"
)

// MinMovementM is the minimum distance from the previous accepted sample
// before a new position is appended. Jitter below this threshold is dropped,
// though its health payload is still folded into the current sample.
const MinMovementM = 5.0

// Buffer holds the in-memory samples of the active session. The three slices
// are index-aligned: positions[i], timestamps[i] and health[i] describe the
// same capture instant. Distance and max speed are accumulated on append so
// finalizing a session never rescans the whole series.
type Buffer struct {
	mu         sync.RWMutex
	positions  []PositionSample
	timestamps []time.Time
	health     []HealthSnapshot

	latest         HealthSnapshot
	totalDistanceM float64
	maxSpeedKmh    float64
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append records a locally captured position fused with the most recent
// health values. It returns false when the sample moved less than
// MinMovementM from the previous one; the health payload is still merged so
// the current sample reflects the newest sensor readings.
func (b *Buffer) Append(pos PositionSample, health HealthSnapshot) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.latest = b.latest.Merge(health)

	if n := len(b.positions); n > 0 {
		last := b.positions[n-1]
		d := geo.HaversineM(last.Latitude, last.Longitude, pos.Latitude, pos.Longitude)
		if d < MinMovementM {
			b.health[n-1] = b.health[n-1].Merge(health)
			return false
		}
		b.accumulate(last, pos, d)
	}

	b.append(pos)
	return true
}

// AppendRemote records a sample mirrored from the peer device. The sender
// already applied the movement filter, so the sample is appended as-is in
// arrival order.
func (b *Buffer) AppendRemote(pos PositionSample, health HealthSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.latest = b.latest.Merge(health)

	if n := len(b.positions); n > 0 {
		last := b.positions[n-1]
		d := geo.HaversineM(last.Latitude, last.Longitude, pos.Latitude, pos.Longitude)
		b.accumulate(last, pos, d)
	}

	b.append(pos)
}

// append must be called with the lock held. All three slices grow together.
func (b *Buffer) append(pos PositionSample) {
	b.positions = append(b.positions, pos)
	b.timestamps = append(b.timestamps, pos.Timestamp)
	b.health = append(b.health, b.latest)
}

func (b *Buffer) accumulate(last, pos PositionSample, distanceM float64) {
	b.totalDistanceM += distanceM
	if sp := geo.SpeedKmh(distanceM, pos.Timestamp.Sub(last.Timestamp)); sp > b.maxSpeedKmh {
		b.maxSpeedKmh = sp
	}
}

// RefreshHealth merges fresh sensor values into the running fused snapshot.
// Samples already in the buffer keep the fusion they were captured with; the
// next appended sample carries the refreshed values.
func (b *Buffer) RefreshHealth(health HealthSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.latest = b.latest.Merge(health)
}

// Snapshot returns copies of the aligned series so callers can iterate
// without holding the buffer lock.
func (b *Buffer) Snapshot() ([]PositionSample, []time.Time, []HealthSnapshot) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	positions := make([]PositionSample, len(b.positions))
	copy(positions, b.positions)
	timestamps := make([]time.Time, len(b.timestamps))
	copy(timestamps, b.timestamps)
	health := make([]HealthSnapshot, len(b.health))
	copy(health, b.health)
	return positions, timestamps, health
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}

func (b *Buffer) LastPosition() (PositionSample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.positions) == 0 {
		return PositionSample{}, false
	}
	return b.positions[len(b.positions)-1], true
}

func (b *Buffer) LatestHealth() HealthSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest
}

func (b *Buffer) TotalDistanceM() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.totalDistanceM
}

func (b *Buffer) MaxSpeedKmh() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.maxSpeedKmh
}

// Reset drops all samples and accumulated stats, returning the buffer to the
// state of a fresh session.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.positions = nil
	b.timestamps = nil
	b.health = nil
	b.latest = HealthSnapshot{}
	b.totalDistanceM = 0
	b.maxSpeedKmh = 0
}
