package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWebhookWorkerDelivers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store, err := NewSQLiteStore(testDSN(t))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer store.Close()
	queue := NewWebhookQueue()
	payloadCh := make(chan []byte, 1)
	sigCh := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		payloadCh <- body
		sigCh <- r.Header.Get("X-Webhook-Signature")
	}))
	defer server.Close()
	now := time.Unix(1700002000, 0).UTC()
	sub := WebhookSubscription{
		ID:            "wh-deliver",
		APIKey:        "test",
		URL:           server.URL,
		Secret:        "whsecret",
		Events:        []string{"options.auction.matched"},
		RatePerMinute: 10,
		CreatedAt:     now,
	}
	if err := store.InsertWebhook(ctx, sub); err != nil {
		t.Fatalf("insert webhook: %v", err)
	}
	worker := NewWebhookWorker(store, queue)
	worker.nowFn = func() time.Time { return now }

	go worker.Run(ctx)

	queue.Enqueue(WebhookEvent{
		ID:       "evt-1",
		Sequence: 1,
		Type:     "options.auction.matched",
		Attributes: map[string]string{
			"escrowId": "0xe1",
			"state":    "matched",
		},
		EmittedAt: now,
	})

	select {
	case body := <-payloadCh:
		sig := <-sigCh
		expected := signPayload("whsecret", body)
		if sig != expected {
			t.Fatalf("unexpected signature got %s want %s", sig, expected)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for webhook delivery")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		attempts, err := store.ListWebhookAttempts(ctx, sub.ID)
		if err != nil {
			t.Fatalf("list attempts: %v", err)
		}
		if len(attempts) > 0 {
			if attempts[0].Status != "success" {
				t.Fatalf("expected success status, got %s", attempts[0].Status)
			}
			if attempts[0].EventType != "options.auction.matched" {
				t.Fatalf("unexpected event type %s", attempts[0].EventType)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for attempt record")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebhookWorkerSkipsNonMatchingSubscriptions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store, err := NewSQLiteStore(testDSN(t))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer store.Close()
	queue := NewWebhookQueue()
	delivered := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered <- struct{}{}
	}))
	defer server.Close()
	sub := WebhookSubscription{
		ID:        "wh-filter",
		APIKey:    "test",
		URL:       server.URL,
		Secret:    "whsecret",
		Events:    []string{"options.exercised"},
		CreatedAt: time.Unix(1700002000, 0).UTC(),
	}
	if err := store.InsertWebhook(ctx, sub); err != nil {
		t.Fatalf("insert webhook: %v", err)
	}
	worker := NewWebhookWorker(store, queue)
	go worker.Run(ctx)

	queue.Enqueue(WebhookEvent{ID: "evt-2", Sequence: 2, Type: "options.borrowed"})

	select {
	case <-delivered:
		t.Fatal("subscription with a different event filter must not receive deliveries")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWebhookWorkerRetriesOnFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store, err := NewSQLiteStore(testDSN(t))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer store.Close()
	queue := NewWebhookQueue()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()
	sub := WebhookSubscription{
		ID:        "wh-retry",
		APIKey:    "test",
		URL:       server.URL,
		Secret:    "whsecret",
		Events:    []string{"*"},
		CreatedAt: time.Unix(1700002000, 0).UTC(),
	}
	if err := store.InsertWebhook(ctx, sub); err != nil {
		t.Fatalf("insert webhook: %v", err)
	}
	worker := NewWebhookWorker(store, queue)
	go worker.Run(ctx)

	queue.Enqueue(WebhookEvent{ID: "evt-3", Sequence: 3, Type: "options.repaid"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		attempts, err := store.ListWebhookAttempts(ctx, sub.ID)
		if err != nil {
			t.Fatalf("list attempts: %v", err)
		}
		if len(attempts) > 0 {
			first := attempts[0]
			if first.Status != "failed" {
				t.Fatalf("expected failed status, got %s", first.Status)
			}
			if first.NextAttempt.IsZero() {
				t.Fatalf("expected a scheduled retry time")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for attempt record")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
