package transport

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	presenceTTL       = 5 * time.Second
	heartbeatInterval = 2 * time.Second
	inboxPollTimeout  = 2 * time.Second
)

// RedisCarrier links two paired devices through a shared redis instance.
// Live frames travel over pub/sub on the peer's event channel, ordered
// frames through the peer's inbox list, and replaceLatest values as plain
// keys that are re-read on startup. Presence is a heartbeat key with a
// short TTL.
type RedisCarrier struct {
	client   *redis.Client
	deviceID string
	peerID   string

	inbound  chan []byte
	done     chan struct{}
	stopOnce sync.Once
}

func NewRedisCarrier(client *redis.Client, deviceID, peerID string) *RedisCarrier {
	c := &RedisCarrier{
		client:   client,
		deviceID: deviceID,
		peerID:   peerID,
		inbound:  make(chan []byte, 64),
		done:     make(chan struct{}),
	}
	go c.subscribeEvents()
	go c.consumeInbox()
	go c.heartbeat()
	return c
}

func eventsChannel(device string) string { return "sync:" + device + ":events" }

func inboxKey(device string) string { return "sync:" + device + ":inbox" }

func latestKey(device, slot string) string { return "sync:" + device + ":latest:" + slot }

func presenceKey(device string) string { return "sync:" + device + ":presence" }

func (c *RedisCarrier) Publish(ctx context.Context, frame []byte) error {
	receivers, err := c.client.Publish(ctx, eventsChannel(c.peerID), frame).Result()
	if err != nil {
		return err
	}
	if receivers == 0 {
		return ErrPeerUnreachable
	}
	return nil
}

func (c *RedisCarrier) Enqueue(ctx context.Context, frame []byte) error {
	return c.client.RPush(ctx, inboxKey(c.peerID), frame).Err()
}

func (c *RedisCarrier) SetLatest(ctx context.Context, slot string, frame []byte) error {
	if err := c.client.Set(ctx, latestKey(c.peerID, slot), frame, 0).Err(); err != nil {
		return err
	}
	// best-effort live nudge; the slot itself is what a late peer reads
	c.client.Publish(ctx, eventsChannel(c.peerID), frame)
	return nil
}

func (c *RedisCarrier) PeerPresent(ctx context.Context) bool {
	n, err := c.client.Exists(ctx, presenceKey(c.peerID)).Result()
	return err == nil && n > 0
}

func (c *RedisCarrier) Inbound() <-chan []byte { return c.inbound }

func (c *RedisCarrier) subscribeEvents() {
	ctx := context.Background()
	pubsub := c.client.Subscribe(ctx, eventsChannel(c.deviceID))
	defer pubsub.Close()

	c.replayLatest(ctx)

	ch := pubsub.Channel()
	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			select {
			case c.inbound <- []byte(msg.Payload):
			case <-c.done:
				return
			}
		}
	}
}

// replayLatest re-reads any replaceLatest slots written while this device
// was away so state like "tracking is on" survives a restart.
func (c *RedisCarrier) replayLatest(ctx context.Context) {
	keys, err := c.client.Keys(ctx, latestKey(c.deviceID, "*")).Result()
	if err != nil {
		log.Printf("latest slot replay failed: %v", err)
		return
	}
	for _, key := range keys {
		val, err := c.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		select {
		case c.inbound <- val:
		case <-c.done:
			return
		}
	}
}

func (c *RedisCarrier) consumeInbox() {
	ctx := context.Background()
	for {
		select {
		case <-c.done:
			return
		default:
		}

		res, err := c.client.BLPop(ctx, inboxPollTimeout, inboxKey(c.deviceID)).Result()
		if errors.Is(err, redis.Nil) {
			continue // empty inbox, poll again
		}
		if err != nil {
			select {
			case <-c.done:
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if len(res) < 2 {
			continue
		}
		select {
		case c.inbound <- []byte(res[1]):
		case <-c.done:
			return
		}
	}
}

func (c *RedisCarrier) heartbeat() {
	ctx := context.Background()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		if err := c.client.Set(ctx, presenceKey(c.deviceID), "1", presenceTTL).Err(); err != nil {
			log.Printf("presence heartbeat failed: %v", err)
		}
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}
	}
}

func (c *RedisCarrier) Close() error {
	c.stopOnce.Do(func() {
		close(c.done)
		c.client.Del(context.Background(), presenceKey(c.deviceID))
	})
	return nil
}
