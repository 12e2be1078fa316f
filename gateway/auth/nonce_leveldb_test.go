package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestPersistence(t *testing.T) *LevelDBNoncePersistence {
	t.Helper()
	backend, err := NewLevelDBNoncePersistence(filepath.Join(t.TempDir(), "nonces"))
	if err != nil {
		t.Fatalf("open persistence: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

func TestLevelDBEnsureNonceDetectsDuplicates(t *testing.T) {
	backend := openTestPersistence(t)
	now := time.Unix(1_717_787_717, 0).UTC()
	record := NonceRecord{APIKey: "partner", Timestamp: "1717787717", Nonce: "n1", ObservedAt: now}

	existed, err := backend.EnsureNonce(context.Background(), record)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if existed {
		t.Fatalf("expected first observation to be new")
	}
	existed, err = backend.EnsureNonce(context.Background(), record)
	if err != nil {
		t.Fatalf("ensure duplicate: %v", err)
	}
	if !existed {
		t.Fatalf("expected duplicate to be reported")
	}
}

func TestLevelDBRecentNoncesHonorsCutoff(t *testing.T) {
	backend := openTestPersistence(t)
	base := time.Unix(1_717_787_717, 0).UTC()

	old := NonceRecord{APIKey: "partner", Timestamp: "100", Nonce: "old", ObservedAt: base.Add(-time.Hour)}
	recent := NonceRecord{APIKey: "partner", Timestamp: "200", Nonce: "recent", ObservedAt: base}
	for _, rec := range []NonceRecord{old, recent} {
		if _, err := backend.EnsureNonce(context.Background(), rec); err != nil {
			t.Fatalf("ensure %s: %v", rec.Nonce, err)
		}
	}

	records, err := backend.RecentNonces(context.Background(), base.Add(-time.Minute))
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(records) != 1 || records[0].Nonce != "recent" {
		t.Fatalf("expected only the recent record, got %+v", records)
	}
	if !records[0].ObservedAt.Equal(base) {
		t.Fatalf("unexpected observation time: %s", records[0].ObservedAt)
	}
}

func TestLevelDBPruneNoncesFreesReplayedKeys(t *testing.T) {
	backend := openTestPersistence(t)
	base := time.Unix(1_717_787_717, 0).UTC()
	record := NonceRecord{APIKey: "partner", Timestamp: "100", Nonce: "n1", ObservedAt: base.Add(-time.Hour)}
	if _, err := backend.EnsureNonce(context.Background(), record); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	if err := backend.PruneNonces(context.Background(), base.Add(-time.Minute)); err != nil {
		t.Fatalf("prune: %v", err)
	}

	// Both key spaces are cleared, so the nonce registers as new again.
	existed, err := backend.EnsureNonce(context.Background(), record)
	if err != nil {
		t.Fatalf("ensure after prune: %v", err)
	}
	if existed {
		t.Fatalf("expected pruned nonce to be accepted as new")
	}
	records, err := backend.RecentNonces(context.Background(), base.Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("recent after prune: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected a single re-recorded nonce, got %d", len(records))
	}
}

func TestLevelDBNoncePersistenceAuthenticatorRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nonces")
	backend, err := NewLevelDBNoncePersistence(path)
	if err != nil {
		t.Fatalf("open persistence: %v", err)
	}
	closed := false
	t.Cleanup(func() {
		if !closed {
			_ = backend.Close()
		}
	})
	now := time.Unix(1_717_787_717, 0).UTC()
	payload := []byte("payload")
	timestamp := "1717787717"

	auth := NewAuthenticator(map[string]string{"partner": "secret"}, time.Minute, 5*time.Minute, 32, func() time.Time { return now }, backend)
	cutoff := now.Add(-5 * time.Minute)
	if err := auth.HydrateNonces(context.Background(), cutoff); err != nil {
		t.Fatalf("hydrate nonces: %v", err)
	}

	if _, err := auth.Authenticate(signedTestRequest(timestamp, "nonce-restart", "secret", payload), payload); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	if err := backend.Close(); err != nil {
		t.Fatalf("close persistence: %v", err)
	}
	closed = true

	reopened, err := NewLevelDBNoncePersistence(path)
	if err != nil {
		t.Fatalf("reopen persistence: %v", err)
	}
	defer reopened.Close()

	authRestart := NewAuthenticator(map[string]string{"partner": "secret"}, time.Minute, 5*time.Minute, 32, func() time.Time { return now }, reopened)
	if err := authRestart.HydrateNonces(context.Background(), cutoff); err != nil {
		t.Fatalf("hydrate restart: %v", err)
	}
	if _, err := authRestart.Authenticate(signedTestRequest(timestamp, "nonce-restart", "secret", payload), payload); err == nil || err.Error() != "nonce already used" {
		t.Fatalf("expected nonce replay after restart, got %v", err)
	}

	authCold := NewAuthenticator(map[string]string{"partner": "secret"}, time.Minute, 5*time.Minute, 32, func() time.Time { return now }, reopened)
	if _, err := authCold.Authenticate(signedTestRequest(timestamp, "nonce-restart", "secret", payload), payload); err == nil || err.Error() != "nonce already used" {
		t.Fatalf("expected persistence to reject nonce, got %v", err)
	}
}
