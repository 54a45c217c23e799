package transport

import (
	"context"
	"errors"
	"sync"
)

// MemoryCarrier is an in-process carrier end. NewMemoryPair links two of
// them back to back, standing in for the broker in tests and twin-device
// simulations: ordered and latest frames survive the peer being away, live
// frames fail exactly like a pub/sub publish with no subscriber.
type MemoryCarrier struct {
	peer *MemoryCarrier

	mu      sync.Mutex
	present bool
	parked  [][]byte
	latest  map[string][]byte

	inbound  chan []byte
	done     chan struct{}
	stopOnce sync.Once
}

func NewMemoryPair(buffer int) (*MemoryCarrier, *MemoryCarrier) {
	a := newMemoryCarrier(buffer)
	b := newMemoryCarrier(buffer)
	a.peer, b.peer = b, a
	return a, b
}

func newMemoryCarrier(buffer int) *MemoryCarrier {
	return &MemoryCarrier{
		present: true,
		latest:  map[string][]byte{},
		inbound: make(chan []byte, buffer),
		done:    make(chan struct{}),
	}
}

// SetPresent flips whether this end is listening. Coming up drains frames
// the peer parked while this end was away, ordered frames first.
func (c *MemoryCarrier) SetPresent(present bool) {
	c.mu.Lock()
	c.present = present
	if !present {
		c.mu.Unlock()
		return
	}
	parked := c.parked
	c.parked = nil
	latest := c.latest
	c.latest = map[string][]byte{}
	c.mu.Unlock()

	for _, frame := range parked {
		if !c.push(frame) {
			return
		}
	}
	for _, frame := range latest {
		if !c.push(frame) {
			return
		}
	}
}

func (c *MemoryCarrier) push(frame []byte) bool {
	select {
	case c.inbound <- frame:
		return true
	case <-c.done:
		return false
	}
}

func (c *MemoryCarrier) Publish(ctx context.Context, frame []byte) error {
	return c.peer.receiveLive(frame)
}

func (c *MemoryCarrier) receiveLive(frame []byte) error {
	c.mu.Lock()
	listening := c.present
	c.mu.Unlock()
	if !listening {
		return ErrPeerUnreachable
	}
	if !c.push(frame) {
		return errors.New("carrier closed")
	}
	return nil
}

func (c *MemoryCarrier) Enqueue(ctx context.Context, frame []byte) error {
	return c.peer.receiveOrdered(frame)
}

func (c *MemoryCarrier) receiveOrdered(frame []byte) error {
	c.mu.Lock()
	if !c.present {
		c.parked = append(c.parked, frame)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	if !c.push(frame) {
		return errors.New("carrier closed")
	}
	return nil
}

func (c *MemoryCarrier) SetLatest(ctx context.Context, slot string, frame []byte) error {
	return c.peer.receiveLatest(slot, frame)
}

func (c *MemoryCarrier) receiveLatest(slot string, frame []byte) error {
	c.mu.Lock()
	if !c.present {
		c.latest[slot] = frame
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	if !c.push(frame) {
		return errors.New("carrier closed")
	}
	return nil
}

func (c *MemoryCarrier) PeerPresent(ctx context.Context) bool {
	c.peer.mu.Lock()
	defer c.peer.mu.Unlock()
	return c.peer.present
}

func (c *MemoryCarrier) Inbound() <-chan []byte { return c.inbound }

func (c *MemoryCarrier) Close() error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.present = false
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}
