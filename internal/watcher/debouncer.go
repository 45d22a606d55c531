package watcher

import (
	"context"
	"sync"
	"time"
)

// EventType classifies a debounced file event.
type EventType int

const (
	EventCreate EventType = iota
	EventWrite
	EventRemove
)

// pendingEvent is the coalesced state for one path.
type pendingEvent struct {
	eventType EventType
	deadline  time.Time
}

// debouncer coalesces per-path bursts: writers emit many CREATE/WRITE
// events while a file streams to disk, and only the last one within the
// window matters. REMOVE always wins over earlier event types.
type debouncer struct {
	window time.Duration
	settle time.Duration

	mu      sync.Mutex
	pending map[string]*pendingEvent

	fire func(path string, eventType EventType)
}

func newDebouncer(window, settle time.Duration, fire func(string, EventType)) *debouncer {
	return &debouncer{
		window:  window,
		settle:  settle,
		pending: make(map[string]*pendingEvent),
		fire:    fire,
	}
}

// add records an event, restarting the path's window.
func (d *debouncer) add(path string, eventType EventType) {
	d.mu.Lock()
	defer d.mu.Unlock()

	deadline := time.Now().Add(d.window)
	if eventType == EventCreate {
		// Created files get the settle delay on top so half-written
		// files are not indexed mid-stream.
		deadline = deadline.Add(d.settle)
	}

	if p, ok := d.pending[path]; ok {
		if eventType == EventRemove {
			p.eventType = EventRemove
		}
		p.deadline = deadline
		return
	}
	d.pending[path] = &pendingEvent{eventType: eventType, deadline: deadline}
}

// run ticks the pending set, firing events whose window elapsed.
func (d *debouncer) run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for path, eventType := range d.takeExpired(now) {
				d.fire(path, eventType)
			}
		}
	}
}

func (d *debouncer) takeExpired(now time.Time) map[string]EventType {
	d.mu.Lock()
	defer d.mu.Unlock()

	var expired map[string]EventType
	for path, p := range d.pending {
		if now.Before(p.deadline) {
			continue
		}
		if expired == nil {
			expired = make(map[string]EventType)
		}
		expired[path] = p.eventType
		delete(d.pending, path)
	}
	return expired
}

// depth reports the pending event count, used by status reporting.
func (d *debouncer) depth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
