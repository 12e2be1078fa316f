package main

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestWebhookQueueDropOldest(t *testing.T) {
	clock := newFakeClock(time.Unix(1700000000, 0).UTC())
	queue := NewWebhookQueue(
		WithQueueCapacity(3),
		WithHistorySize(2),
		WithQueueTTL(time.Minute),
		WithQueueClock(clock.Now),
	)

	for i := 0; i < 5; i++ {
		queue.Enqueue(WebhookEvent{Sequence: uint64(i), EmittedAt: clock.Now()})
	}

	events := queue.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events in history, got %d", len(events))
	}
	if events[0].Sequence != 3 || events[1].Sequence != 4 {
		t.Fatalf("unexpected history sequences: %+v", events)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var sequences []uint64
	for len(sequences) < 3 {
		task, err := queue.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue after %d items: %v", len(sequences), err)
		}
		sequences = append(sequences, task.Event.Sequence)
	}

	expected := []uint64{2, 3, 4}
	for i, seq := range expected {
		if sequences[i] != seq {
			t.Fatalf("expected sequence %d at position %d, got %d", seq, i, sequences[i])
		}
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer drainCancel()
	if task, err := queue.Dequeue(drainCtx); err == nil {
		t.Fatalf("expected empty queue, dequeued sequence %d", task.Event.Sequence)
	}
}

func TestWebhookQueueEvictsExpired(t *testing.T) {
	clock := newFakeClock(time.Unix(1700000000, 0).UTC())
	queue := NewWebhookQueue(
		WithQueueCapacity(2),
		WithHistorySize(2),
		WithQueueTTL(10*time.Second),
		WithQueueClock(clock.Now),
	)

	queue.Enqueue(WebhookEvent{Sequence: 42, EmittedAt: clock.Now()})
	clock.Advance(11 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if task, err := queue.Dequeue(ctx); err == nil {
		t.Fatalf("expected expired task to be dropped, dequeued sequence %d", task.Event.Sequence)
	}
	if queue.Len() != 0 {
		t.Fatalf("expected empty task ring, got %d", queue.Len())
	}
	// The history is an audit trail of accepted events; expiry only affects
	// pending deliveries.
	if remaining := queue.Events(); len(remaining) != 1 {
		t.Fatalf("expected history to survive TTL eviction, got %d entries", len(remaining))
	}
}

func TestWebhookQueueHonorsNotBefore(t *testing.T) {
	clock := newFakeClock(time.Unix(1700000000, 0).UTC())
	queue := NewWebhookQueue(
		WithQueueCapacity(4),
		WithQueueTTL(time.Minute),
		WithQueueClock(clock.Now),
	)

	sub := WebhookSubscription{ID: "wh-1", URL: "https://example.com", Secret: "s"}
	queue.Requeue(WebhookTask{
		Event:        WebhookEvent{Sequence: 7},
		Subscription: &sub,
		Attempt:      1,
		NotBefore:    clock.Now().Add(5 * time.Second),
		EnqueuedAt:   clock.Now(),
	})

	earlyCtx, earlyCancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer earlyCancel()
	if task, err := queue.Dequeue(earlyCtx); err == nil {
		t.Fatalf("expected deferred task to stay queued, dequeued sequence %d", task.Event.Sequence)
	}

	clock.Advance(6 * time.Second)
	readyCtx, readyCancel := context.WithTimeout(context.Background(), time.Second)
	defer readyCancel()
	task, err := queue.Dequeue(readyCtx)
	if err != nil {
		t.Fatalf("dequeue ready task: %v", err)
	}
	if task.Event.Sequence != 7 || task.Attempt != 1 {
		t.Fatalf("unexpected task: %+v", task)
	}
	if task.Subscription == nil || task.Subscription.ID != "wh-1" {
		t.Fatalf("subscription lost on requeue")
	}
}
