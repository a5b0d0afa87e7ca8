package driver

import (
	"context"
	"sync"
	"time"
)

// EventKind classifies store notifications.
type EventKind string

const (
	EventLoaded        EventKind = "loaded"
	EventQueueGrown    EventKind = "queue-grown"
	EventQueueDrained  EventKind = "queue-drained"
	EventStatusChanged EventKind = "status-changed"
)

// Event tells subscribers that store state changed. Subscribers read the new
// state through Snapshot.
type Event struct {
	Kind      EventKind
	TableName string
	RecordIDs []string
	Pending   int
	Status    SyncStatus
	At        time.Time
}

// Dispatcher fans events out to subscribers without ever blocking the publisher.
// A subscriber that falls behind loses events rather than stalling mutations.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	kinds  map[EventKind]struct{}
	stream chan Event
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[int64]*subscriber),
		bufferSize:  16,
	}
}

// Subscribe registers for the given kinds, or every kind when none are given.
// The subscription ends when ctx is done or cleanup is called.
func (d *Dispatcher) Subscribe(ctx context.Context, kinds ...EventKind) (<-chan Event, func()) {
	filter := make(map[EventKind]struct{}, len(kinds))
	for _, kind := range kinds {
		filter[kind] = struct{}{}
	}

	d.mu.Lock()
	d.nextID++
	sub := &subscriber{
		id:     d.nextID,
		kinds:  filter,
		stream: make(chan Event, d.bufferSize),
	}
	d.subscribers[sub.id] = sub
	d.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subscribers, sub.id)
			d.mu.Unlock()
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-done:
		}
	}()
	return sub.stream, cleanup
}

func (d *Dispatcher) Publish(event Event) {
	if event.Kind == "" {
		return
	}
	d.mu.RLock()
	targets := make([]*subscriber, 0, len(d.subscribers))
	for _, sub := range d.subscribers {
		if len(sub.kinds) == 0 {
			targets = append(targets, sub)
			continue
		}
		if _, ok := sub.kinds[event.Kind]; ok {
			targets = append(targets, sub)
		}
	}
	d.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.stream <- event:
		default:
		}
	}
}
