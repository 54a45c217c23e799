package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

type Kind string

const (
	KindTrackingState  Kind = "trackingState"
	KindLocationBatch  Kind = "locationBatch"
	KindHealthSnapshot Kind = "healthSnapshot"
	KindCheckpoint     Kind = "checkpoint"
)

type Semantics string

const (
	// Immediate is best effort and only succeeds while the peer is
	// reachable. Failed sends are parked in the offline queue rather than
	// dropped.
	Immediate Semantics = "immediate"
	// QueuedOrdered hands frames to the broker for guaranteed in-order
	// delivery, surviving peer disconnects.
	QueuedOrdered Semantics = "queuedOrdered"
	// ReplaceLatest keeps only the newest value per message kind; a value
	// superseded before delivery is never sent.
	ReplaceLatest Semantics = "replaceLatest"
)

type Message struct {
	Kind      Kind            `json:"kind"`
	Semantics Semantics       `json:"semantics"`
	Payload   json.RawMessage `json:"payload"`
}

func NewMessage(kind Kind, semantics Semantics, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return Message{Kind: kind, Semantics: semantics, Payload: raw}, nil
}

type TrackingStatePayload struct {
	Active    bool       `json:"active"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

type BatchSample struct {
	Latitude               float64   `json:"latitude"`
	Longitude              float64   `json:"longitude"`
	Timestamp              time.Time `json:"timestamp"`
	HeartRateBpm           *float64  `json:"heart_rate_bpm,omitempty"`
	HeartRateVariabilityMs *float64  `json:"heart_rate_variability_ms,omitempty"`
	CaloriesKcal           *float64  `json:"calories_kcal,omitempty"`
	StepCount              *int64    `json:"step_count,omitempty"`
	WalkedDistanceM        *float64  `json:"walked_distance_m,omitempty"`
}

type LocationBatchPayload struct {
	Samples []BatchSample `json:"samples"`
}

type HealthSnapshotPayload struct {
	HeartRateBpm           *float64 `json:"heart_rate_bpm,omitempty"`
	HeartRateVariabilityMs *float64 `json:"heart_rate_variability_ms,omitempty"`
	CaloriesKcal           *float64 `json:"calories_kcal,omitempty"`
	StepCount              *int64   `json:"step_count,omitempty"`
	WalkedDistanceM        *float64 `json:"walked_distance_m,omitempty"`
}

type CheckpointPayload struct {
	Latitude  float64                `json:"latitude"`
	Longitude float64                `json:"longitude"`
	Timestamp time.Time              `json:"timestamp"`
	Mood      string                 `json:"mood"`
	Note      string                 `json:"note,omitempty"`
	Health    *HealthSnapshotPayload `json:"health_snapshot,omitempty"`
}

// ErrPeerUnreachable reports that the peer cannot take delivery right now.
// Carriers return it from Publish when nobody is listening; the channel
// answers it by parking the message instead of retrying.
var ErrPeerUnreachable = errors.New("peer unreachable")

// Carrier moves encoded frames to the paired device. Publish is the live
// path, Enqueue the broker-backed ordered path, SetLatest a keyed
// last-write-wins slot. Inbound surfaces frames arriving from the peer over
// any of the three paths.
type Carrier interface {
	Publish(ctx context.Context, frame []byte) error
	Enqueue(ctx context.Context, frame []byte) error
	SetLatest(ctx context.Context, key string, frame []byte) error
	PeerPresent(ctx context.Context) bool
	Inbound() <-chan []byte
	Close() error
}

const (
	// offlineQueueLimit bounds how many undelivered immediate messages are
	// held across an outage. Beyond it the oldest parked message gives way.
	offlineQueueLimit = 256
	maxSendAttempts   = 3
)

// Channel is the single send/receive surface over a Carrier. It routes each
// message by its delivery semantics, parks what cannot be delivered while
// the peer is unreachable, and flushes the backlog in FIFO order when
// reachability returns.
type Channel struct {
	carrier Carrier

	// sendMu serializes outbound delivery and reachability flushes so that
	// nothing overtakes a flush in progress.
	sendMu sync.Mutex

	mu        sync.Mutex
	reachable bool
	offline   []Message
	latest    map[Kind]Message
	dropped   int64

	handlerMu sync.RWMutex
	handler   func(Message)

	done     chan struct{}
	stopOnce sync.Once
}

func NewChannel(carrier Carrier) *Channel {
	c := &Channel{
		carrier: carrier,
		latest:  map[Kind]Message{},
		done:    make(chan struct{}),
	}
	go c.pump()
	return c
}

// OnReceive registers the handler invoked once per inbound message,
// whichever semantics delivered it.
func (c *Channel) OnReceive(handler func(Message)) {
	c.handlerMu.Lock()
	c.handler = handler
	c.handlerMu.Unlock()
}

func (c *Channel) Reachable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reachable
}

// OfflineDepth reports how many messages are parked awaiting reachability.
func (c *Channel) OfflineDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.offline)
}

// Send routes the message by semantics. Errors are non-fatal: anything that
// could not be handed over is parked (immediate, queuedOrdered) or kept as
// the pending latest value (replaceLatest) for the next flush.
func (c *Channel) Send(ctx context.Context, msg Message) error {
	switch msg.Semantics {
	case QueuedOrdered:
		return c.sendQueued(ctx, msg)
	case ReplaceLatest:
		return c.sendLatest(ctx, msg)
	default:
		return c.sendImmediate(ctx, msg)
	}
}

func (c *Channel) sendImmediate(ctx context.Context, msg Message) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.Reachable() {
		c.park(msg)
		return fmt.Errorf("%s parked: %w", msg.Kind, ErrPeerUnreachable)
	}

	frame, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	err = c.withRetry(ctx, func(ctx context.Context) error {
		return c.carrier.Publish(ctx, frame)
	})
	if err != nil {
		c.park(msg)
		return fmt.Errorf("%s parked after failed send: %w", msg.Kind, err)
	}
	return nil
}

// sendQueued relies on the broker to hold the queue while the peer is away,
// so only a broker failure parks the message locally.
func (c *Channel) sendQueued(ctx context.Context, msg Message) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	frame, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	err = c.withRetry(ctx, func(ctx context.Context) error {
		return c.carrier.Enqueue(ctx, frame)
	})
	if err != nil {
		c.park(msg)
		return fmt.Errorf("%s parked after failed enqueue: %w", msg.Kind, err)
	}
	return nil
}

func (c *Channel) sendLatest(ctx context.Context, msg Message) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	if !c.reachable {
		c.latest[msg.Kind] = msg
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	frame, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := c.carrier.SetLatest(ctx, string(msg.Kind), frame); err != nil {
		c.mu.Lock()
		c.latest[msg.Kind] = msg
		c.mu.Unlock()
		return fmt.Errorf("%s held for flush: %w", msg.Kind, err)
	}
	return nil
}

// withRetry runs op up to maxSendAttempts times with linear backoff between
// attempts. An unreachable peer is not retried; parking handles that case.
func (c *Channel) withRetry(ctx context.Context, op func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		err = op(ctx)
		if err == nil || errors.Is(err, ErrPeerUnreachable) {
			return err
		}
		if attempt == maxSendAttempts {
			break
		}
		select {
		case <-time.After(time.Duration(attempt) * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return err
		}
	}
	return err
}

// park must not be called with mu held.
func (c *Channel) park(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.offline) >= offlineQueueLimit {
		c.offline = c.offline[1:]
		c.dropped++
		log.Printf("offline queue full, dropping oldest parked message")
	}
	c.offline = append(c.offline, msg)
}

// SetReachable records the peer's reachability. On the transition to
// reachable the offline queue is flushed FIFO, then pending latest values,
// before any new send is accepted.
func (c *Channel) SetReachable(reachable bool) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	was := c.reachable
	c.reachable = reachable
	c.mu.Unlock()

	if reachable && !was {
		c.flush(context.Background())
	}
}

func (c *Channel) flush(ctx context.Context) {
	c.mu.Lock()
	parked := c.offline
	c.offline = nil
	latest := c.latest
	c.latest = map[Kind]Message{}
	c.mu.Unlock()

	for i, msg := range parked {
		if err := c.deliver(ctx, msg); err != nil {
			log.Printf("offline flush stopped at %s: %v", msg.Kind, err)
			c.mu.Lock()
			c.offline = append([]Message{}, parked[i:]...)
			for kind, pending := range latest {
				c.latest[kind] = pending
			}
			c.mu.Unlock()
			return
		}
	}

	for kind, msg := range latest {
		frame, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if err := c.carrier.SetLatest(ctx, string(kind), frame); err != nil {
			log.Printf("latest flush failed for %s: %v", kind, err)
			c.mu.Lock()
			c.latest[kind] = msg
			c.mu.Unlock()
		}
	}
}

func (c *Channel) deliver(ctx context.Context, msg Message) error {
	frame, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if msg.Semantics == QueuedOrdered {
		return c.carrier.Enqueue(ctx, frame)
	}
	return c.carrier.Publish(ctx, frame)
}

// MonitorReachability polls the carrier's presence signal and folds changes
// into the channel until ctx ends.
func (c *Channel) MonitorReachability(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		c.SetReachable(c.carrier.PeerPresent(ctx))
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
		}
	}
}

func (c *Channel) pump() {
	for {
		select {
		case <-c.done:
			return
		case frame, ok := <-c.carrier.Inbound():
			if !ok {
				return
			}
			var msg Message
			if err := json.Unmarshal(frame, &msg); err != nil {
				log.Printf("dropping undecodable frame: %v", err)
				continue
			}
			c.handlerMu.RLock()
			handler := c.handler
			c.handlerMu.RUnlock()
			if handler != nil {
				handler(msg)
			}
		}
	}
}

func (c *Channel) Close() error {
	c.stopOnce.Do(func() { close(c.done) })
	return c.carrier.Close()
}
