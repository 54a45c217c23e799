package stream

import (
	"context"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Hub fans live updates out to attached UI clients, keyed by feed name
// (live, health, session, checkpoint, timeline). With a redis client the
// broadcast takes one hop through pub/sub so every process serving this
// device delivers it; without one it goes straight to local clients.
type Hub struct {
	redis    *redis.Client
	deviceID string
	clients  map[string]map[*Client]struct{}
	mu       sync.RWMutex
}

type Client struct {
	Feed string
	Send chan []byte
}

func NewHub(redisClient *redis.Client, deviceID string) *Hub {
	h := &Hub{
		redis:    redisClient,
		deviceID: deviceID,
		clients:  map[string]map[*Client]struct{}{},
	}

	if redisClient != nil {
		go h.subscribeRedis()
	}
	return h
}

func (h *Hub) Register(feed string) *Client {
	client := &Client{
		Feed: feed,
		Send: make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[feed] == nil {
		h.clients[feed] = map[*Client]struct{}{}
	}
	h.clients[feed][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if feedClients, ok := h.clients[client.Feed]; ok {
		delete(feedClients, client)
		if len(feedClients) == 0 {
			delete(h.clients, client.Feed)
		}
	}
	close(client.Send)
}

func (h *Hub) Broadcast(feed string, payload []byte) {
	if h.redis != nil {
		err := h.redis.Publish(context.Background(), h.feedChannel(feed), payload).Err()
		if err == nil {
			return
		}
		log.Printf("feed publish failed, delivering locally: %v", err)
	}
	h.deliver(feed, payload)
}

// deliver pushes to local clients only. Slow clients are skipped rather than
// blocking the broadcast. The read lock is held across the sends so a
// concurrent Unregister cannot close a channel mid-loop.
func (h *Hub) deliver(feed string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[feed] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) subscribeRedis() {
	ctx := context.Background()
	pubsub := h.redis.PSubscribe(ctx, h.feedChannel("*"))
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		h.deliver(h.feedFromChannel(msg.Channel), []byte(msg.Payload))
	}
}

func (h *Hub) feedChannel(feed string) string {
	return "live:" + h.deviceID + ":" + feed + ":events"
}

func (h *Hub) feedFromChannel(ch string) string {
	prefix := "live:" + h.deviceID + ":"
	const suffix = ":events"
	if len(ch) <= len(prefix)+len(suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}
