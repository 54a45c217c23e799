package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func redisPair(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	return client, func() { client.Close() }
}

func TestRedisKeyHelpers(t *testing.T) {
	if eventsChannel("phone") != "sync:phone:events" {
		t.Fatalf("eventsChannel: %s", eventsChannel("phone"))
	}
	if inboxKey("watch") != "sync:watch:inbox" {
		t.Fatalf("inboxKey: %s", inboxKey("watch"))
	}
	if latestKey("watch", "trackingState") != "sync:watch:latest:trackingState" {
		t.Fatalf("latestKey: %s", latestKey("watch", "trackingState"))
	}
	if presenceKey("phone") != "sync:phone:presence" {
		t.Fatalf("presenceKey: %s", presenceKey("phone"))
	}
}

func TestRedisCarrierOrderedDelivery(t *testing.T) {
	client, done := redisPair(t)
	defer done()

	phone := NewRedisCarrier(client, "phone", "watch")
	defer phone.Close()
	watch := NewRedisCarrier(client, "watch", "phone")
	defer watch.Close()

	ctx := context.Background()
	for _, frame := range []string{"one", "two", "three"} {
		if err := phone.Enqueue(ctx, []byte(frame)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	for _, want := range []string{"one", "two", "three"} {
		select {
		case got := <-watch.Inbound():
			if string(got) != want {
				t.Fatalf("got %q, want %q", got, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for %q", want)
		}
	}
}

func TestRedisCarrierPublishRequiresListener(t *testing.T) {
	client, done := redisPair(t)
	defer done()

	phone := NewRedisCarrier(client, "phone", "watch")
	defer phone.Close()

	ctx := context.Background()
	if err := phone.Publish(ctx, []byte("ping")); !errors.Is(err, ErrPeerUnreachable) {
		t.Fatalf("Publish with no listener returned %v, want ErrPeerUnreachable", err)
	}

	watch := NewRedisCarrier(client, "watch", "phone")
	defer watch.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := phone.Publish(ctx, []byte("pong")); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("publish never found the listener")
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case got := <-watch.Inbound():
		if string(got) != "pong" {
			t.Fatalf("got %q, want pong", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for published frame")
	}
}

func TestRedisCarrierLatestReplay(t *testing.T) {
	client, done := redisPair(t)
	defer done()

	phone := NewRedisCarrier(client, "phone", "watch")
	defer phone.Close()

	ctx := context.Background()
	if err := phone.SetLatest(ctx, "trackingState", []byte("stale")); err != nil {
		t.Fatalf("SetLatest: %v", err)
	}
	if err := phone.SetLatest(ctx, "trackingState", []byte("current")); err != nil {
		t.Fatalf("SetLatest: %v", err)
	}

	// the watch was away the whole time; the slot replays when it comes up
	watch := NewRedisCarrier(client, "watch", "phone")
	defer watch.Close()

	select {
	case got := <-watch.Inbound():
		if string(got) != "current" {
			t.Fatalf("got %q, want the latest value", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for latest slot replay")
	}
}

func TestRedisCarrierPresence(t *testing.T) {
	client, done := redisPair(t)
	defer done()

	ctx := context.Background()
	watch := NewRedisCarrier(client, "watch", "phone")
	defer watch.Close()

	if watch.PeerPresent(ctx) {
		t.Fatal("phone should not be present before its first heartbeat")
	}

	phone := NewRedisCarrier(client, "phone", "watch")
	deadline := time.Now().Add(2 * time.Second)
	for !watch.PeerPresent(ctx) {
		if time.Now().After(deadline) {
			t.Fatal("phone presence never appeared")
		}
		time.Sleep(10 * time.Millisecond)
	}

	phone.Close()
	deadline = time.Now().Add(2 * time.Second)
	for watch.PeerPresent(ctx) {
		if time.Now().After(deadline) {
			t.Fatal("phone presence should drop on close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
