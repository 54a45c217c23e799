package stream

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil, "phone")
	client := hub.Register("health")
	defer hub.Unregister(client)

	hub.Broadcast("health", []byte("hello"))

	select {
	case msg := <-client.Send:
		if string(msg) != "hello" {
			t.Fatalf("unexpected message")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("timeout waiting for message")
	}
}

func TestHubHelpers(t *testing.T) {
	hub := NewHub(nil, "phone")
	ch := hub.feedChannel("live")
	if ch != "live:phone:live:events" {
		t.Fatalf("unexpected channel %q", ch)
	}
	if hub.feedFromChannel(ch) != "live" {
		t.Fatalf("unexpected feed")
	}
	if hub.feedFromChannel("bad") != "" {
		t.Fatalf("expected empty feed")
	}
}

func TestUnregisterCloses(t *testing.T) {
	hub := NewHub(nil, "phone")
	client := hub.Register("session")
	hub.Unregister(client)
	_, ok := <-client.Send
	if ok {
		t.Fatalf("expected channel closed")
	}
}

func TestHubRedisBroadcastAndSubscribe(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	hub := NewHub(client, "phone")
	ws := hub.Register("health")
	defer hub.Unregister(ws)

	// give the pattern subscription a moment to attach
	time.Sleep(50 * time.Millisecond)

	hub.Broadcast("health", []byte("ping"))
	select {
	case msg := <-ws.Send:
		if string(msg) != "ping" {
			t.Fatalf("unexpected message")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for broadcast")
	}

	// a publish from another process lands on the matching feed
	timelineClient := hub.Register("timeline")
	defer hub.Unregister(timelineClient)
	if err := client.Publish(context.Background(), "live:phone:timeline:events", "pong").Err(); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	select {
	case msg := <-timelineClient.Send:
		if string(msg) != "pong" {
			t.Fatalf("unexpected message from redis")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for redis message")
	}
}

func TestHubRedisPublishErrorFallsBackLocal(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	server.Close()
	defer client.Close()

	hub := NewHub(client, "phone")
	clientNode := hub.Register("session")
	defer hub.Unregister(clientNode)

	hub.Broadcast("session", []byte("ping"))

	select {
	case msg := <-clientNode.Send:
		if string(msg) != "ping" {
			t.Fatalf("unexpected message")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("expected local delivery when redis is down")
	}
}
