package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func countingHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"call":%d}`, *calls)
	})
}

func idempotentRequest(key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/auctions", nil)
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	return req
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	calls := 0
	handler := NewIdempotency(IdempotencyConfig{}, nil).Middleware()(countingHandler(&calls))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, idempotentRequest("retry-1"))
	if calls != 1 || first.Code != http.StatusCreated {
		t.Fatalf("expected one handler call with 201, got calls=%d code=%d", calls, first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, idempotentRequest("retry-1"))
	if calls != 1 {
		t.Fatalf("expected replay to skip the handler, got %d calls", calls)
	}
	if second.Code != first.Code || second.Body.String() != first.Body.String() {
		t.Fatalf("replay mismatch: code %d vs %d, body %q vs %q",
			second.Code, first.Code, second.Body.String(), first.Body.String())
	}
	if second.Header().Get(HeaderIdempotentReplay) != "true" {
		t.Fatal("expected replay marker header on the second response")
	}
	if got := second.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected recorded Content-Type on replay, got %q", got)
	}

	third := httptest.NewRecorder()
	handler.ServeHTTP(third, idempotentRequest("retry-2"))
	if calls != 2 {
		t.Fatalf("expected a fresh key to reach the handler, got %d calls", calls)
	}
}

func TestIdempotencyIgnoresReadsAndMissingKeys(t *testing.T) {
	calls := 0
	handler := NewIdempotency(IdempotencyConfig{}, nil).Middleware()(countingHandler(&calls))

	get := httptest.NewRequest(http.MethodGet, "/v1/escrows", nil)
	get.Header.Set(HeaderIdempotencyKey, "read-key")
	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), get)
	}
	if calls != 2 {
		t.Fatalf("expected GET requests to bypass the cache, got %d calls", calls)
	}

	calls = 0
	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest(""))
	}
	if calls != 2 {
		t.Fatalf("expected keyless requests to bypass the cache, got %d calls", calls)
	}
}

func TestIdempotencyScopesByPrincipal(t *testing.T) {
	calls := 0
	handler := NewIdempotency(IdempotencyConfig{}, nil).Middleware()(countingHandler(&calls))

	for _, subject := range []string{"0xaaaa", "0xbbbb"} {
		req := idempotentRequest("shared-key")
		req = req.WithContext(WithPrincipal(req.Context(), Principal{Subject: subject}))
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("expected per-principal scoping, got %d calls", calls)
	}
}

func TestIdempotencySkipsServerErrors(t *testing.T) {
	calls := 0
	failing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "node unavailable", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})
	handler := NewIdempotency(IdempotencyConfig{}, nil).Middleware()(failing)

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, idempotentRequest("retry-after-fault"))
	if first.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 from the first attempt, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, idempotentRequest("retry-after-fault"))
	if calls != 2 {
		t.Fatalf("expected the retry to reach the handler, got %d calls", calls)
	}
	if second.Code != http.StatusCreated {
		t.Fatalf("expected 201 from the retry, got %d", second.Code)
	}

	third := httptest.NewRecorder()
	handler.ServeHTTP(third, idempotentRequest("retry-after-fault"))
	if calls != 2 || third.Code != http.StatusCreated {
		t.Fatalf("expected the success to be cached, got calls=%d code=%d", calls, third.Code)
	}
}

func TestIdempotencyExpiresEntries(t *testing.T) {
	calls := 0
	idem := NewIdempotency(IdempotencyConfig{TTL: time.Minute}, nil)
	now := time.Unix(1_700_000_000, 0)
	idem.nowFn = func() time.Time { return now }
	handler := idem.Middleware()(countingHandler(&calls))

	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest("expiring"))
	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest("expiring"))
	if calls != 1 {
		t.Fatalf("expected replay within the TTL, got %d calls", calls)
	}

	now = now.Add(2 * time.Minute)
	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest("expiring"))
	if calls != 2 {
		t.Fatalf("expected expired entry to reach the handler, got %d calls", calls)
	}
}

func TestIdempotencyCapacityRotation(t *testing.T) {
	calls := 0
	idem := NewIdempotency(IdempotencyConfig{MaxEntries: 1}, nil)
	handler := idem.Middleware()(countingHandler(&calls))

	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest("first"))
	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest("second"))
	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest("first"))
	if calls != 2 {
		t.Fatalf("expected first key to survive one rotation, got %d calls", calls)
	}

	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest("third"))
	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest("first"))
	if calls != 4 {
		t.Fatalf("expected first key to age out after two rotations, got %d calls", calls)
	}
}
