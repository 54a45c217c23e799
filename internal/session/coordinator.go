package session

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"agent-pairtrack/internal/capture"
	"agent-pairtrack/internal/checkpoint"
	"agent-pairtrack/internal/timeline"
	"agent-pairtrack/internal/transport"
)

// batchSize is how many accepted samples ride in one locationBatch frame.
// The tail of a session goes out as a short final batch on stop.
const batchSize = 10

var (
	ErrSessionActive = errors.New("session already active")
	ErrNoSession     = errors.New("no active session")
	ErrNoPosition    = errors.New("no position captured yet")
)

// Broadcaster pushes live updates to attached UI clients. The stream hub
// satisfies it; nil disables fan-out.
type Broadcaster interface {
	Broadcast(feed string, payload []byte)
}

// Coordinator ties the capture side to the paired device: it feeds accepted
// samples into batched locationBatch frames, mirrors session state and
// health, and applies the peer's frames to the local session so both devices
// finalize equivalent records.
type Coordinator struct {
	deviceID string
	machine  *Machine
	buf      *capture.Buffer
	store    *timeline.Store
	channel  *transport.Channel // nil when running unpaired
	hub      Broadcaster

	mu      sync.Mutex
	pending []transport.BatchSample
}

func NewCoordinator(deviceID string, machine *Machine, buf *capture.Buffer, store *timeline.Store, ch *transport.Channel, hub Broadcaster) *Coordinator {
	c := &Coordinator{
		deviceID: deviceID,
		machine:  machine,
		buf:      buf,
		store:    store,
		channel:  ch,
		hub:      hub,
	}
	if ch != nil {
		ch.OnReceive(c.HandleMessage)
	}
	return c
}

type sessionEvent struct {
	Active    bool       `json:"active"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

type liveUpdate struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Timestamp      time.Time `json:"timestamp"`
	Source         string    `json:"source"`
	SampleCount    int       `json:"sample_count"`
	TotalDistanceM float64   `json:"total_distance_m"`
	MaxSpeedKmh    float64   `json:"max_speed_kmh"`
}

// StartTracking begins a local session and mirrors the start to the peer.
func (c *Coordinator) StartTracking(ctx context.Context) (time.Time, error) {
	startedAt := time.Now().UTC()
	if !c.machine.Start(startedAt) {
		return time.Time{}, ErrSessionActive
	}
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()

	c.send(ctx, transport.KindTrackingState, transport.ReplaceLatest, transport.TrackingStatePayload{
		Active:    true,
		StartedAt: &startedAt,
	})
	c.broadcast("session", sessionEvent{Active: true, StartedAt: &startedAt})
	return startedAt, nil
}

// StopTracking flushes the remainder batch so the peer's record is complete,
// mirrors the stop, and finalizes the session into a timeline record.
func (c *Coordinator) StopTracking(ctx context.Context) (timeline.Record, error) {
	if !c.machine.Active() {
		return timeline.Record{}, ErrNoSession
	}
	c.flushBatch(ctx)
	c.send(ctx, transport.KindTrackingState, transport.ReplaceLatest, transport.TrackingStatePayload{Active: false})

	rec, ok := c.machine.Stop(ctx)
	if !ok {
		return timeline.Record{}, ErrNoSession
	}
	if err := c.store.Flush(ctx); err != nil {
		log.Printf("note flush on stop failed: %v", err)
	}
	c.broadcast("session", sessionEvent{Active: false})
	c.broadcast("timeline", rec)
	return rec, nil
}

// RecordPosition feeds one local GPS fix into the running session. Samples
// the buffer rejects under the movement floor never reach the peer.
func (c *Coordinator) RecordPosition(pos capture.PositionSample) {
	if !c.machine.Active() {
		return
	}
	if !c.buf.Append(pos, capture.HealthSnapshot{}) {
		return
	}

	sample := batchSampleFrom(pos, c.buf.LatestHealth())
	c.mu.Lock()
	c.pending = append(c.pending, sample)
	full := len(c.pending) >= batchSize
	c.mu.Unlock()
	if full {
		c.flushBatch(context.Background())
	}
	c.broadcastLive(pos, "local")
}

// RecordHealth fuses a partial health reading into the latest snapshot and
// mirrors the merged value. Health flows whether or not a session runs.
func (c *Coordinator) RecordHealth(h capture.HealthSnapshot) {
	c.buf.RefreshHealth(h)
	merged := c.buf.LatestHealth()
	c.send(context.Background(), transport.KindHealthSnapshot, transport.ReplaceLatest, healthPayloadFrom(merged))
	c.broadcast("health", merged)
}

// CreateManualCheckpoint drops a mark at the current position and mirrors it
// immediately. The derived ID lets the peer recognize its own copy.
func (c *Coordinator) CreateManualCheckpoint(ctx context.Context, mood checkpoint.Mood, note string) (checkpoint.Checkpoint, error) {
	if !c.machine.Active() {
		return checkpoint.Checkpoint{}, ErrNoSession
	}
	pos, ok := c.buf.LastPosition()
	if !ok {
		return checkpoint.Checkpoint{}, ErrNoPosition
	}

	cp := checkpoint.Manual(pos, time.Now().UTC(), mood, note, c.buf.LatestHealth())
	c.machine.AddPendingCheckpoint(cp)
	c.send(ctx, transport.KindCheckpoint, transport.Immediate, checkpointPayloadFrom(cp))
	c.broadcast("checkpoint", cp)
	return cp, nil
}

// Snapshot is the session surface the status endpoint and the UI read.
type Snapshot struct {
	DeviceID       string                 `json:"device_id"`
	State          State                  `json:"state"`
	Active         bool                   `json:"active"`
	StartedAt      *time.Time             `json:"started_at,omitempty"`
	SampleCount    int                    `json:"sample_count"`
	TotalDistanceM float64                `json:"total_distance_m"`
	MaxSpeedKmh    float64                `json:"max_speed_kmh"`
	Health         capture.HealthSnapshot `json:"health_snapshot"`
	PendingMarks   int                    `json:"pending_marks"`
	PeerReachable  bool                   `json:"peer_reachable"`
	QueuedFrames   int                    `json:"queued_frames"`
}

func (c *Coordinator) CurrentSession() Snapshot {
	snap := Snapshot{
		DeviceID:       c.deviceID,
		State:          c.machine.State(),
		SampleCount:    c.buf.Len(),
		TotalDistanceM: c.buf.TotalDistanceM(),
		MaxSpeedKmh:    c.buf.MaxSpeedKmh(),
		Health:         c.buf.LatestHealth(),
		PendingMarks:   len(c.machine.PendingCheckpoints()),
	}
	snap.Active = snap.State == StateTracking
	if at := c.machine.StartedAt(); !at.IsZero() {
		snap.StartedAt = &at
	}
	if c.channel != nil {
		snap.PeerReachable = c.channel.Reachable()
		snap.QueuedFrames = c.channel.OfflineDepth()
	}
	return snap
}

// HandleMessage applies one frame from the peer. Handlers are idempotent:
// replaceLatest frames can replay on reconnect.
func (c *Coordinator) HandleMessage(msg transport.Message) {
	switch msg.Kind {
	case transport.KindTrackingState:
		var p transport.TrackingStatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			log.Printf("trackingState payload invalid: %v", err)
			return
		}
		c.applyTrackingState(p)
	case transport.KindLocationBatch:
		var p transport.LocationBatchPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			log.Printf("locationBatch payload invalid: %v", err)
			return
		}
		c.applyLocationBatch(p)
	case transport.KindHealthSnapshot:
		var p transport.HealthSnapshotPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			log.Printf("healthSnapshot payload invalid: %v", err)
			return
		}
		c.buf.RefreshHealth(healthFromPayload(p))
		c.broadcast("health", c.buf.LatestHealth())
	case transport.KindCheckpoint:
		var p transport.CheckpointPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			log.Printf("checkpoint payload invalid: %v", err)
			return
		}
		c.applyCheckpoint(p)
	default:
		log.Printf("dropping frame of unknown kind %q", msg.Kind)
	}
}

func (c *Coordinator) applyTrackingState(p transport.TrackingStatePayload) {
	if p.Active {
		var at time.Time
		if p.StartedAt != nil {
			at = *p.StartedAt
		}
		if c.machine.Start(at) {
			c.mu.Lock()
			c.pending = nil
			c.mu.Unlock()
			c.broadcast("session", sessionEvent{Active: true, StartedAt: p.StartedAt})
		}
		return
	}

	// peer ended the session: push our tail out so its record is complete,
	// then finalize ours
	c.flushBatch(context.Background())
	rec, ok := c.machine.Stop(context.Background())
	if !ok {
		return
	}
	if err := c.store.Flush(context.Background()); err != nil {
		log.Printf("note flush on mirrored stop failed: %v", err)
	}
	c.broadcast("session", sessionEvent{Active: false})
	c.broadcast("timeline", rec)
}

func (c *Coordinator) applyLocationBatch(p transport.LocationBatchPayload) {
	if !c.machine.Active() {
		return
	}
	var last capture.PositionSample
	for _, s := range p.Samples {
		pos, health := sampleFromBatch(s)
		c.buf.AppendRemote(pos, health)
		last = pos
	}
	if len(p.Samples) > 0 {
		c.broadcastLive(last, "peer")
	}
}

func (c *Coordinator) applyCheckpoint(p transport.CheckpointPayload) {
	var health capture.HealthSnapshot
	if p.Health != nil {
		health = healthFromPayload(*p.Health)
	}
	cp := checkpoint.Manual(capture.PositionSample{
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Timestamp: p.Timestamp,
	}, p.Timestamp, checkpoint.Mood(p.Mood), p.Note, health)

	if c.machine.Active() {
		if c.machine.AddPendingCheckpoint(cp) {
			c.broadcast("checkpoint", cp)
		}
		return
	}
	// frame arrived after our side finalized
	if err := c.store.AddCheckpointLatest(context.Background(), cp); err != nil {
		log.Printf("late checkpoint dropped: %v", err)
	}
}

// flushBatch sends whatever partial batch is pending.
func (c *Coordinator) flushBatch(ctx context.Context) {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()
	if len(batch) == 0 {
		return
	}
	c.send(ctx, transport.KindLocationBatch, transport.QueuedOrdered, transport.LocationBatchPayload{Samples: batch})
}

// send mirrors a frame to the peer; unpaired agents skip it. A parked frame
// is not an error at this level, the channel replays it on reconnect.
func (c *Coordinator) send(ctx context.Context, kind transport.Kind, sem transport.Semantics, payload any) {
	if c.channel == nil {
		return
	}
	msg, err := transport.NewMessage(kind, sem, payload)
	if err != nil {
		log.Printf("encode %s frame failed: %v", kind, err)
		return
	}
	if err := c.channel.Send(ctx, msg); err != nil && !errors.Is(err, transport.ErrPeerUnreachable) {
		log.Printf("send %s frame failed: %v", kind, err)
	}
}

func (c *Coordinator) broadcast(feed string, payload any) {
	if c.hub == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	c.hub.Broadcast(feed, raw)
}

func (c *Coordinator) broadcastLive(pos capture.PositionSample, source string) {
	c.broadcast("live", liveUpdate{
		Latitude:       pos.Latitude,
		Longitude:      pos.Longitude,
		Timestamp:      pos.Timestamp,
		Source:         source,
		SampleCount:    c.buf.Len(),
		TotalDistanceM: c.buf.TotalDistanceM(),
		MaxSpeedKmh:    c.buf.MaxSpeedKmh(),
	})
}

func batchSampleFrom(pos capture.PositionSample, h capture.HealthSnapshot) transport.BatchSample {
	return transport.BatchSample{
		Latitude:               pos.Latitude,
		Longitude:              pos.Longitude,
		Timestamp:              pos.Timestamp,
		HeartRateBpm:           h.HeartRateBpm,
		HeartRateVariabilityMs: h.HeartRateVariabilityMs,
		CaloriesKcal:           h.CaloriesKcal,
		StepCount:              h.StepCount,
		WalkedDistanceM:        h.WalkedDistanceM,
	}
}

func sampleFromBatch(s transport.BatchSample) (capture.PositionSample, capture.HealthSnapshot) {
	pos := capture.PositionSample{
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		Timestamp: s.Timestamp,
	}
	return pos, capture.HealthSnapshot{
		HeartRateBpm:           s.HeartRateBpm,
		HeartRateVariabilityMs: s.HeartRateVariabilityMs,
		CaloriesKcal:           s.CaloriesKcal,
		StepCount:              s.StepCount,
		WalkedDistanceM:        s.WalkedDistanceM,
	}
}

func healthPayloadFrom(h capture.HealthSnapshot) transport.HealthSnapshotPayload {
	return transport.HealthSnapshotPayload{
		HeartRateBpm:           h.HeartRateBpm,
		HeartRateVariabilityMs: h.HeartRateVariabilityMs,
		CaloriesKcal:           h.CaloriesKcal,
		StepCount:              h.StepCount,
		WalkedDistanceM:        h.WalkedDistanceM,
	}
}

func healthFromPayload(p transport.HealthSnapshotPayload) capture.HealthSnapshot {
	return capture.HealthSnapshot{
		HeartRateBpm:           p.HeartRateBpm,
		HeartRateVariabilityMs: p.HeartRateVariabilityMs,
		CaloriesKcal:           p.CaloriesKcal,
		StepCount:              p.StepCount,
		WalkedDistanceM:        p.WalkedDistanceM,
	}
}

func checkpointPayloadFrom(cp checkpoint.Checkpoint) transport.CheckpointPayload {
	p := transport.CheckpointPayload{
		Latitude:  cp.Position.Latitude,
		Longitude: cp.Position.Longitude,
		Timestamp: cp.OccurredAt,
		Mood:      string(cp.Mood),
		Note:      cp.Note,
	}
	if !cp.Health.IsZero() {
		health := healthPayloadFrom(cp.Health)
		p.Health = &health
	}
	return p
}
