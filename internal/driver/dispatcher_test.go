package driver

import (
	"context"
	"runtime"
	"testing"
	"time"
)

func TestDispatcherFiltersByKind(testContext *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	grown, cleanupGrown := dispatcher.Subscribe(ctx, EventQueueGrown)
	defer cleanupGrown()
	everything, cleanupAll := dispatcher.Subscribe(ctx)
	defer cleanupAll()

	dispatcher.Publish(Event{Kind: EventStatusChanged, Status: SyncStatusSyncing})
	dispatcher.Publish(Event{Kind: EventQueueGrown, TableName: "notes", RecordIDs: []string{"n-1"}})

	select {
	case event := <-grown:
		if event.Kind != EventQueueGrown || event.TableName != "notes" {
			testContext.Fatalf("unexpected filtered event %+v", event)
		}
	case <-time.After(time.Second):
		testContext.Fatalf("timed out waiting for filtered event")
	}
	select {
	case event := <-grown:
		testContext.Fatalf("unexpected extra event %+v", event)
	default:
	}

	for _, kind := range []EventKind{EventStatusChanged, EventQueueGrown} {
		select {
		case event := <-everything:
			if event.Kind != kind {
				testContext.Fatalf("expected %s, got %s", kind, event.Kind)
			}
		case <-time.After(time.Second):
			testContext.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func TestDispatcherDropsEventsForSlowSubscribers(testContext *testing.T) {
	dispatcher := NewDispatcher()
	stream, cleanup := dispatcher.Subscribe(context.Background())
	defer cleanup()

	done := make(chan struct{})
	go func() {
		for index := 0; index < 100; index++ {
			dispatcher.Publish(Event{Kind: EventQueueGrown, Pending: index})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		testContext.Fatalf("publish blocked on a full subscriber")
	}
	if len(stream) != 16 {
		testContext.Fatalf("expected buffered events to cap at 16, got %d", len(stream))
	}
}

func TestDispatcherStopsDeliveringAfterCancel(testContext *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	stream, _ := dispatcher.Subscribe(ctx)
	cancel()

	deadline := time.Now().Add(time.Second)
	for {
		dispatcher.mu.RLock()
		remaining := len(dispatcher.subscribers)
		dispatcher.mu.RUnlock()
		if remaining == 0 {
			break
		}
		if time.Now().After(deadline) {
			testContext.Fatalf("subscriber not removed after cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}

	dispatcher.Publish(Event{Kind: EventLoaded})
	select {
	case event := <-stream:
		testContext.Fatalf("unexpected event after cancel %+v", event)
	default:
	}
}

func TestDispatcherIgnoresEventsWithoutKind(testContext *testing.T) {
	dispatcher := NewDispatcher()
	stream, cleanup := dispatcher.Subscribe(context.Background())
	defer cleanup()
	dispatcher.Publish(Event{})
	if len(stream) != 0 {
		testContext.Fatalf("expected kindless event to be dropped")
	}
}

func TestDispatcherCleanupReleasesWatcher(testContext *testing.T) {
	dispatcher := NewDispatcher()
	baseline := runtime.NumGoroutine()

	cleanups := make([]func(), 0, 50)
	for index := 0; index < 50; index++ {
		_, cleanup := dispatcher.Subscribe(context.Background())
		cleanups = append(cleanups, cleanup)
	}
	for _, cleanup := range cleanups {
		cleanup()
		cleanup()
	}

	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > baseline {
		if time.Now().After(deadline) {
			testContext.Fatalf("subscription watchers still running: %d goroutines, baseline %d", runtime.NumGoroutine(), baseline)
		}
		time.Sleep(5 * time.Millisecond)
	}
	dispatcher.mu.RLock()
	remaining := len(dispatcher.subscribers)
	dispatcher.mu.RUnlock()
	if remaining != 0 {
		testContext.Fatalf("expected no subscribers after cleanup, got %d", remaining)
	}
}
