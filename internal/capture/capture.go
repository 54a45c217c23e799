package capture

import (
	"log"
	"sync"
	"time"
)

// Source feeds the capture loop with sensor readings. The HTTP ingest
// endpoints satisfy it through PushSource; tests feed it directly.
type Source interface {
	Positions() <-chan PositionSample
	Health() <-chan HealthSnapshot
}

// Sink receives the readings that pass the permission gate.
type Sink interface {
	RecordPosition(pos PositionSample)
	RecordHealth(health HealthSnapshot)
}

// Permissions answers whether location capture is currently allowed. A denial
// never stops the loop; denied readings are counted and skipped.
type Permissions interface {
	CaptureAllowed() bool
}

type StaticPermissions bool

func (p StaticPermissions) CaptureAllowed() bool { return bool(p) }

type PushSource struct {
	positions chan PositionSample
	health    chan HealthSnapshot
	closeOnce sync.Once
}

func NewPushSource(buffer int) *PushSource {
	return &PushSource{
		positions: make(chan PositionSample, buffer),
		health:    make(chan HealthSnapshot, buffer),
	}
}

func (s *PushSource) Positions() <-chan PositionSample { return s.positions }

func (s *PushSource) Health() <-chan HealthSnapshot { return s.health }

// PushPosition hands a sensor reading to the loop. It reports false when the
// loop is backed up and the reading was dropped.
func (s *PushSource) PushPosition(pos PositionSample) bool {
	select {
	case s.positions <- pos:
		return true
	default:
		return false
	}
}

func (s *PushSource) PushHealth(health HealthSnapshot) bool {
	select {
	case s.health <- health:
		return true
	default:
		return false
	}
}

func (s *PushSource) Close() {
	s.closeOnce.Do(func() {
		close(s.positions)
		close(s.health)
	})
}

// Loop drains a Source and forwards readings to the Sink. Position readings
// are gated by Permissions; health readings always pass. Stopping the source
// or calling Stop ends the loop.
type Loop struct {
	source Source
	perms  Permissions
	sink   Sink

	mu     sync.Mutex
	status Status

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewLoop(source Source, perms Permissions, sink Sink) *Loop {
	return &Loop{
		source: source,
		perms:  perms,
		sink:   sink,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (l *Loop) Start() {
	go l.run()
}

func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)

	positions := l.source.Positions()
	health := l.source.Health()
	for {
		select {
		case <-l.stop:
			return
		case pos, ok := <-positions:
			if !ok {
				positions = nil
				if health == nil {
					return
				}
				continue
			}
			if !l.captureAllowed() {
				l.notePositionDenied()
				continue
			}
			l.notePosition(pos.Timestamp)
			l.sink.RecordPosition(pos)
		case h, ok := <-health:
			if !ok {
				health = nil
				if positions == nil {
					return
				}
				continue
			}
			l.noteHealth()
			l.sink.RecordHealth(h)
		}
	}
}

func (l *Loop) captureAllowed() bool {
	return l.perms == nil || l.perms.CaptureAllowed()
}

func (l *Loop) notePositionDenied() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.status.PermissionDenied {
		log.Printf("location permission denied, dropping position readings")
	}
	l.status.PermissionDenied = true
	l.status.DroppedPositions++
}

func (l *Loop) notePosition(at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status.PermissionDenied = false
	if at.IsZero() {
		at = time.Now()
	}
	l.status.LastPositionAt = at
}

func (l *Loop) noteHealth() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status.LastHealthAt = time.Now()
}

func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}
