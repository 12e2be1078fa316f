package auth

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"
)

func TestReplayCacheBoundsEntries(t *testing.T) {
	cache := newReplayCache(5*time.Minute, 3)
	base := time.Unix(1700000000, 0).UTC()

	for i := 0; i < 3; i++ {
		cache.Add(fmt.Sprintf("nonce-%d", i), base)
	}
	// The fourth insert rotates generations; the first three stay visible.
	cache.Add("nonce-3", base)
	if !cache.Contains("nonce-0", base) {
		t.Fatalf("expected nonce-0 to survive one rotation")
	}
	cache.Add("nonce-4", base)
	cache.Add("nonce-5", base)
	// Filling the active generation again drops the oldest batch.
	cache.Add("nonce-6", base)
	if cache.Contains("nonce-0", base) {
		t.Fatalf("expected nonce-0 to be evicted after two rotations")
	}
	if !cache.Contains("nonce-4", base) {
		t.Fatalf("expected nonce-4 to remain cached")
	}
	if total := len(cache.cur) + len(cache.prev); total > 6 {
		t.Fatalf("expected entry count bounded by two generations, got %d", total)
	}
}

func TestReplayCacheExpiresOldEntries(t *testing.T) {
	cache := newReplayCache(30*time.Second, 5)
	base := time.Unix(1700000000, 0).UTC()

	cache.Add("nonce-a", base)
	cache.Add("nonce-b", base.Add(5*time.Second))

	if cache.Contains("nonce-a", base.Add(31*time.Second)) {
		t.Fatalf("expected nonce-a to expire after the window")
	}
	if !cache.Contains("nonce-b", base.Add(31*time.Second)) {
		t.Fatalf("expected nonce-b to remain inside the window")
	}
	if cache.Contains("nonce-b", base.Add(40*time.Second)) {
		t.Fatalf("expected nonce-b to expire after the window")
	}
	// Far beyond two windows both generations reset entirely.
	if cache.Contains("nonce-a", base.Add(2*time.Minute)) {
		t.Fatalf("expected cache reset after prolonged idle period")
	}
}

func TestNewAuthenticatorClampsSecurityParameters(t *testing.T) {
	auth := NewAuthenticator(map[string]string{"a": "secret"}, 15*time.Minute, 30*time.Minute, 1_000_000, time.Now, nil)
	if auth.timestampSkew != maxTimestampSkew {
		t.Fatalf("expected timestamp skew to clamp to %s, got %s", maxTimestampSkew, auth.timestampSkew)
	}
	if auth.replayWindow != maxReplayWindow {
		t.Fatalf("expected replay window to clamp to %s, got %s", maxReplayWindow, auth.replayWindow)
	}
	if auth.replayEntries != maxReplayEntries {
		t.Fatalf("expected replay capacity to clamp to %d, got %d", maxReplayEntries, auth.replayEntries)
	}
}

func TestComputeSignatureBindsRequestShape(t *testing.T) {
	base := ComputeSignature("secret", "1700000000", "n1", http.MethodPost, "/v1/auctions", []byte(`{"a":1}`))
	variants := [][]byte{
		ComputeSignature("secret", "1700000001", "n1", http.MethodPost, "/v1/auctions", []byte(`{"a":1}`)),
		ComputeSignature("secret", "1700000000", "n2", http.MethodPost, "/v1/auctions", []byte(`{"a":1}`)),
		ComputeSignature("secret", "1700000000", "n1", http.MethodGet, "/v1/auctions", []byte(`{"a":1}`)),
		ComputeSignature("secret", "1700000000", "n1", http.MethodPost, "/v1/escrows", []byte(`{"a":1}`)),
		ComputeSignature("secret", "1700000000", "n1", http.MethodPost, "/v1/auctions", []byte(`{"a":2}`)),
		ComputeSignature("other", "1700000000", "n1", http.MethodPost, "/v1/auctions", []byte(`{"a":1}`)),
	}
	for i, v := range variants {
		if hex.EncodeToString(v) == hex.EncodeToString(base) {
			t.Fatalf("variant %d did not change the signature", i)
		}
	}
}

func TestCanonicalQueryOrdersParameters(t *testing.T) {
	if got := CanonicalQuery("b=2&a=1&c=3"); got != "a=1&b=2&c=3" {
		t.Fatalf("unexpected canonical query: %s", got)
	}
	req := httptest.NewRequest(http.MethodGet, "https://example.test/v1/escrows?cursor=5&limit=10", nil)
	if got := CanonicalRequestPath(req); got != "/v1/escrows?cursor=5&limit=10" {
		t.Fatalf("unexpected canonical path: %s", got)
	}
}

func signedTestRequest(ts, nonce, secret string, payload []byte) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "https://example.test/v1/resource", nil)
	req.Header.Set(HeaderAPIKey, "partner")
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderNonce, nonce)
	sig := ComputeSignature(secret, ts, nonce, http.MethodPost, CanonicalRequestPath(req), payload)
	req.Header.Set(HeaderSignature, hex.EncodeToString(sig))
	return req
}

func TestAuthenticateRejectsSkewedTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	auth := NewAuthenticator(map[string]string{"partner": "secret"}, time.Minute, 5*time.Minute, 16, func() time.Time { return now }, nil)
	payload := []byte("payload")

	stale := strconv.FormatInt(now.Add(-2*time.Minute).Unix(), 10)
	if _, err := auth.Authenticate(signedTestRequest(stale, "n1", "secret", payload), payload); err == nil {
		t.Fatalf("expected skewed timestamp to be rejected")
	}

	fresh := strconv.FormatInt(now.Unix(), 10)
	if _, err := auth.Authenticate(signedTestRequest(fresh, "n2", "secret", payload), payload); err != nil {
		t.Fatalf("expected fresh timestamp accepted, got %v", err)
	}
}

func TestAuthenticateRequiresMonotonicTimestamps(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	auth := NewAuthenticator(map[string]string{"partner": "secret"}, time.Minute, 5*time.Minute, 16, func() time.Time { return now }, nil)
	payload := []byte("payload")

	ts := strconv.FormatInt(now.Unix(), 10)
	if _, err := auth.Authenticate(signedTestRequest(ts, "n1", "secret", payload), payload); err != nil {
		t.Fatalf("first request: %v", err)
	}
	// Same timestamp with a fresh nonce is still a replay of the clock.
	if _, err := auth.Authenticate(signedTestRequest(ts, "n2", "secret", payload), payload); err == nil || err.Error() != "timestamp not increasing" {
		t.Fatalf("expected timestamp replay rejection, got %v", err)
	}
	later := strconv.FormatInt(now.Add(time.Second).Unix(), 10)
	if _, err := auth.Authenticate(signedTestRequest(later, "n3", "secret", payload), payload); err != nil {
		t.Fatalf("expected later timestamp accepted, got %v", err)
	}
}

func TestAuthenticatorPersistsNonceUsage(t *testing.T) {
	backend := newMemoryPersistence()
	now := time.Unix(1_700_000_000, 0).UTC()
	payload := []byte("payload")
	timestamp := strconv.FormatInt(now.Unix(), 10)
	nonce := "nonce-42"

	auth := NewAuthenticator(map[string]string{"partner": "secret"}, 2*time.Minute, 5*time.Minute, 16, func() time.Time { return now }, backend)
	cutoff := now.Add(-5 * time.Minute)
	if err := auth.HydrateNonces(context.Background(), cutoff); err != nil {
		t.Fatalf("hydrate nonces: %v", err)
	}
	principal, err := auth.Authenticate(signedTestRequest(timestamp, nonce, "secret", payload), payload)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if principal.APIKey != "partner" {
		t.Fatalf("unexpected principal: %+v", principal)
	}
	if count := backend.Count(); count != 1 {
		t.Fatalf("unexpected persisted nonce count: %d", count)
	}

	// A hydrated restart sees the nonce through the warmed cache.
	authRestart := NewAuthenticator(map[string]string{"partner": "secret"}, 2*time.Minute, 5*time.Minute, 16, func() time.Time { return now }, backend)
	if err := authRestart.HydrateNonces(context.Background(), cutoff); err != nil {
		t.Fatalf("hydrate restart: %v", err)
	}
	if _, err := authRestart.Authenticate(signedTestRequest(timestamp, nonce, "secret", payload), payload); err == nil || err.Error() != "nonce already used" {
		t.Fatalf("expected nonce replay after hydration, got %v", err)
	}

	// A cold restart still catches it via the persistence backend.
	authCold := NewAuthenticator(map[string]string{"partner": "secret"}, 2*time.Minute, 5*time.Minute, 16, func() time.Time { return now }, backend)
	if _, err := authCold.Authenticate(signedTestRequest(timestamp, nonce, "secret", payload), payload); err == nil || err.Error() != "nonce already used" {
		t.Fatalf("expected nonce replay via persistence, got %v", err)
	}
}

type memoryPersistence struct {
	mu      sync.Mutex
	records map[string]NonceRecord
}

func newMemoryPersistence() *memoryPersistence {
	return &memoryPersistence{records: make(map[string]NonceRecord)}
}

func (m *memoryPersistence) EnsureNonce(ctx context.Context, record NonceRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := record.APIKey + "|" + record.Timestamp + "|" + record.Nonce
	if _, ok := m.records[key]; ok {
		return true, nil
	}
	m.records[key] = record
	return false, nil
}

func (m *memoryPersistence) RecentNonces(ctx context.Context, cutoff time.Time) ([]NonceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]NonceRecord, 0, len(m.records))
	for _, rec := range m.records {
		if rec.ObservedAt.Before(cutoff) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (m *memoryPersistence) PruneNonces(ctx context.Context, cutoff time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, rec := range m.records {
		if rec.ObservedAt.Before(cutoff) {
			delete(m.records, key)
		}
	}
	return nil
}

func (m *memoryPersistence) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
