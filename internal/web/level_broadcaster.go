package web

import (
	"sync"

	"levelsense/internal/ahrs"
)

// LevelEvent is the SSE payload: the engine snapshot plus display-smoothed
// heights for a steady UI needle.
type LevelEvent struct {
	ahrs.Snapshot
	DisplayFrontHeight float64 `json:"display_front_in"`
	DisplaySideHeight  float64 `json:"display_side_in"`
}

// LevelBroadcaster fans engine snapshots out to any listeners (e.g. SSE). It
// keeps the most recent value so new subscribers get an immediate sample.
// Slow subscribers miss events rather than block the publisher.
type LevelBroadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan LevelEvent
	nextID   int
	last     LevelEvent
	haveLast bool

	smoothMu   sync.Mutex
	front      float64
	side       float64
	haveSmooth bool
}

const displaySmoothingAlpha = 0.35

func NewLevelBroadcaster() *LevelBroadcaster {
	return &LevelBroadcaster{subs: make(map[int]chan LevelEvent)}
}

func (b *LevelBroadcaster) Subscribe(buffer int) (int, <-chan LevelEvent) {
	if b == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 2
	}
	ch := make(chan LevelEvent, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	last, have := b.last, b.haveLast
	b.mu.Unlock()
	if have {
		select {
		case ch <- last:
		default:
		}
	}
	return id, ch
}

func (b *LevelBroadcaster) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *LevelBroadcaster) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish sends snap to every subscriber. Snapshots without an attitude are
// dropped.
func (b *LevelBroadcaster) Publish(snap ahrs.Snapshot) {
	if b == nil || !snap.Valid {
		return
	}
	ev := LevelEvent{Snapshot: snap}

	b.smoothMu.Lock()
	if !b.haveSmooth {
		b.front, b.side = snap.Offsets.FrontHeight, snap.Offsets.SideHeight
		b.haveSmooth = true
	} else {
		b.front += displaySmoothingAlpha * (snap.Offsets.FrontHeight - b.front)
		b.side += displaySmoothingAlpha * (snap.Offsets.SideHeight - b.side)
	}
	ev.DisplayFrontHeight, ev.DisplaySideHeight = b.front, b.side
	b.smoothMu.Unlock()

	// Hold the read lock while sending so Unsubscribe cannot close a channel
	// mid-send; sends never block.
	b.mu.RLock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	b.mu.RUnlock()

	b.mu.Lock()
	b.last = ev
	b.haveLast = true
	b.mu.Unlock()
}

// ResetSmoothing restarts display smoothing, e.g. after a calibration jump.
func (b *LevelBroadcaster) ResetSmoothing() {
	if b == nil {
		return
	}
	b.smoothMu.Lock()
	b.haveSmooth = false
	b.smoothMu.Unlock()
}
