package main

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const eventCursorName = "options-events"

// EventWatcher periodically drains events from the node, maintains the local
// escrow projection, and enqueues webhook notifications.
type EventWatcher struct {
	node         NodeClient
	store        *SQLiteStore
	queue        *WebhookQueue
	pollInterval time.Duration
	nowFn        func() time.Time
}

// NewEventWatcher constructs a watcher with sane defaults.
func NewEventWatcher(node NodeClient, store *SQLiteStore, queue *WebhookQueue) *EventWatcher {
	if queue == nil {
		queue = NewWebhookQueue()
	}
	return &EventWatcher{
		node:         node,
		store:        store,
		queue:        queue,
		pollInterval: 5 * time.Second,
		nowFn:        time.Now,
	}
}

// Run starts the polling loop until the context is cancelled.
func (w *EventWatcher) Run(ctx context.Context) {
	if w.node == nil || w.store == nil || w.queue == nil {
		return
	}
	interval := w.pollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	after, _ := w.store.LastEventSequence(ctx, eventCursorName)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			after = w.poll(ctx, after)
		}
	}
}

func (w *EventWatcher) poll(ctx context.Context, after uint64) uint64 {
	events, err := w.node.FetchEvents(ctx, after)
	if err != nil {
		return after
	}
	if len(events) == 0 {
		return after
	}
	lastSeq := after
	for _, evt := range events {
		if evt.Sequence <= lastSeq {
			continue
		}
		w.handleEvent(ctx, evt)
		lastSeq = evt.Sequence
	}
	_ = w.store.UpdateEventSequence(ctx, eventCursorName, lastSeq)
	return lastSeq
}

func (w *EventWatcher) handleEvent(ctx context.Context, evt NodeEvent) {
	attrs := make(map[string]string, len(evt.Attributes))
	for k, v := range evt.Attributes {
		attrs[k] = v
	}
	evt.Attributes = attrs
	_ = w.store.InsertEvent(ctx, evt)

	if esc, ok := projectEscrow(attrs); ok {
		_ = w.store.UpsertEscrow(ctx, esc)
	}

	w.queue.Enqueue(WebhookEvent{
		ID:         uuid.NewString(),
		Type:       evt.Type,
		Sequence:   evt.Sequence,
		Attributes: attrs,
		EmittedAt:  w.nowFn().UTC(),
	})
}

// projectEscrow folds an event's attributes into a projection row. Events
// that do not reference an escrow (the quote-pause toggle, for example)
// leave the projection untouched.
func projectEscrow(attrs map[string]string) (EscrowProjection, bool) {
	id := normalizeHex(attrs["escrowId"])
	if id == "" {
		return EscrowProjection{}, false
	}
	esc := EscrowProjection{
		ID:         id,
		Owner:      strings.TrimSpace(attrs["owner"]),
		State:      strings.TrimSpace(attrs["state"]),
		Underlying: strings.TrimSpace(attrs["underlying"]),
		Settlement: strings.TrimSpace(attrs["settlement"]),
		Notional:   strings.TrimSpace(attrs["notional"]),
		Strike:     strings.TrimSpace(attrs["strike"]),
		Premium:    strings.TrimSpace(attrs["premium"]),
	}
	if raw := strings.TrimSpace(attrs["index"]); raw != "" {
		if idx, err := strconv.ParseUint(raw, 10, 64); err == nil {
			esc.Index = idx
		}
	}
	if raw := strings.TrimSpace(attrs["expiry"]); raw != "" {
		if expiry, err := strconv.ParseInt(raw, 10, 64); err == nil {
			esc.Expiry = expiry
		}
	}
	return esc, true
}

func normalizeHex(hexStr string) string {
	cleaned := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(hexStr), "0x"), "0X")
	if cleaned == "" {
		return ""
	}
	return "0x" + strings.ToLower(cleaned)
}
