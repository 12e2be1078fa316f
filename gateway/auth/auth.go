// Package auth implements the HMAC request authentication shared by the
// partner-facing gateways. Callers sign each request with their API secret
// over a canonical payload; replay protection combines a per-key nonce
// cache with a strictly increasing timestamp rule.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// HeaderAPIKey identifies the signing partner.
	HeaderAPIKey = "X-OptionChain-Key"
	// HeaderTimestamp is the unix timestamp (seconds) bound into the signature.
	HeaderTimestamp = "X-OptionChain-Timestamp"
	// HeaderNonce is the caller-chosen replay token, unique per request.
	HeaderNonce = "X-OptionChain-Nonce"
	// HeaderSignature carries the hex HMAC-SHA256 over the canonical payload.
	HeaderSignature = "X-OptionChain-Signature"
	// MaxBodyForSignature caps the body size considered when authenticating.
	MaxBodyForSignature int = 1 << 20 // 1 MiB

	// signatureVersion pins the canonical payload layout. Bump it if the
	// signed fields ever change shape.
	signatureVersion = "optionchain-hmac-v1"

	maxTimestampSkew     = 2 * time.Minute
	defaultTimestampSkew = maxTimestampSkew
	maxReplayWindow      = 10 * time.Minute
	defaultReplayWindow  = maxReplayWindow
	defaultReplayEntries = 4096
	maxReplayEntries     = 65536

	persistencePruneInterval = time.Minute
)

// Principal represents an authenticated API client.
type Principal struct {
	APIKey string
}

// NonceRecord captures persisted nonce usage metadata.
type NonceRecord struct {
	APIKey     string
	Timestamp  string
	Nonce      string
	ObservedAt time.Time
}

// NoncePersistence provides durable storage for nonce usage so replay
// protection survives a gateway restart.
type NoncePersistence interface {
	EnsureNonce(ctx context.Context, record NonceRecord) (bool, error)
	RecentNonces(ctx context.Context, cutoff time.Time) ([]NonceRecord, error)
	PruneNonces(ctx context.Context, cutoff time.Time) error
}

// Authenticator verifies API key + HMAC signatures on incoming requests.
type Authenticator struct {
	secrets       map[string]string
	timestampSkew time.Duration
	replayWindow  time.Duration
	replayEntries int
	nowFn         func() time.Time

	cacheMu sync.Mutex
	caches  map[string]*replayCache

	lastSeenMu sync.Mutex
	lastSeen   map[string]int64

	persistence NoncePersistence
	lastPruned  time.Time
}

// NewAuthenticator builds an Authenticator keyed by the provided secrets,
// mapping API key identifiers to their shared secret. Skew, window and
// capacity are clamped to hard ceilings so misconfiguration cannot widen
// the replay surface.
func NewAuthenticator(secrets map[string]string, skew time.Duration, nonceTTL time.Duration, nonceCapacity int, nowFn func() time.Time, persistence NoncePersistence) *Authenticator {
	cloned := make(map[string]string, len(secrets))
	for k, v := range secrets {
		cloned[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if skew <= 0 || skew > maxTimestampSkew {
		if skew <= 0 {
			skew = defaultTimestampSkew
		} else {
			skew = maxTimestampSkew
		}
	}
	if nonceTTL <= 0 {
		nonceTTL = defaultReplayWindow
	} else if nonceTTL > maxReplayWindow {
		nonceTTL = maxReplayWindow
	}
	if nonceCapacity <= 0 {
		nonceCapacity = defaultReplayEntries
	} else if nonceCapacity > maxReplayEntries {
		nonceCapacity = maxReplayEntries
	}
	return &Authenticator{
		secrets:       cloned,
		timestampSkew: skew,
		replayWindow:  nonceTTL,
		replayEntries: nonceCapacity,
		nowFn:         nowFn,
		caches:        make(map[string]*replayCache),
		lastSeen:      make(map[string]int64),
		persistence:   persistence,
	}
}

// Authenticate validates the signing headers against the request body and
// returns the caller principal. The same nonce is accepted at most once per
// key inside the replay window, and timestamps must move forward.
func (a *Authenticator) Authenticate(r *http.Request, body []byte) (*Principal, error) {
	if len(body) > MaxBodyForSignature {
		return nil, fmt.Errorf("request body exceeds %d bytes", MaxBodyForSignature)
	}
	apiKey := strings.TrimSpace(r.Header.Get(HeaderAPIKey))
	if apiKey == "" {
		return nil, errors.New("missing " + HeaderAPIKey + " header")
	}
	secret, ok := a.secrets[apiKey]
	if !ok || secret == "" {
		return nil, errors.New("unknown API key")
	}
	timestampHeader := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	if timestampHeader == "" {
		return nil, errors.New("missing " + HeaderTimestamp + " header")
	}
	ts, err := parseUnixTimestamp(timestampHeader)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp: %w", err)
	}
	now := a.nowFn().UTC()
	drift := now.Sub(ts)
	if drift < 0 {
		drift = -drift
	}
	if a.timestampSkew > 0 && drift > a.timestampSkew {
		return nil, fmt.Errorf("timestamp outside allowed skew of %s", a.timestampSkew)
	}
	nonce := strings.TrimSpace(r.Header.Get(HeaderNonce))
	if nonce == "" {
		return nil, errors.New("missing " + HeaderNonce + " header")
	}
	providedSig := strings.TrimSpace(r.Header.Get(HeaderSignature))
	if providedSig == "" {
		return nil, errors.New("missing " + HeaderSignature + " header")
	}
	provided, err := hex.DecodeString(providedSig)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}
	expected := ComputeSignature(secret, timestampHeader, nonce, r.Method, CanonicalRequestPath(r), body)
	if !hmac.Equal(provided, expected) {
		return nil, errors.New("invalid signature")
	}
	replayed, err := a.registerNonce(r.Context(), apiKey, timestampHeader, nonce, now)
	if err != nil {
		return nil, err
	}
	if replayed {
		return nil, errors.New("nonce already used")
	}
	if a.isTimestampReplay(apiKey, ts, now) {
		return nil, errors.New("timestamp not increasing")
	}
	return &Principal{APIKey: apiKey}, nil
}

// HydrateNonces warms the in-memory replay caches from persisted usage
// records, typically on startup after a restart.
func (a *Authenticator) HydrateNonces(ctx context.Context, cutoff time.Time) error {
	if a == nil || a.persistence == nil {
		return nil
	}
	records, err := a.persistence.RecentNonces(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("load persistent nonces: %w", err)
	}
	for _, rec := range records {
		key := strings.TrimSpace(rec.APIKey)
		ts := strings.TrimSpace(rec.Timestamp)
		nonce := strings.TrimSpace(rec.Nonce)
		if key == "" || ts == "" || nonce == "" {
			continue
		}
		observed := rec.ObservedAt
		if observed.IsZero() {
			observed = cutoff
		}
		a.cacheFor(key).Add(ts+"|"+nonce, observed)
	}
	return nil
}

func (a *Authenticator) registerNonce(ctx context.Context, apiKey, timestamp, nonce string, now time.Time) (bool, error) {
	cache := a.cacheFor(apiKey)
	composite := timestamp + "|" + nonce
	if cache.Contains(composite, now) {
		return true, nil
	}
	if a.persistence != nil {
		if err := a.prunePersistent(ctx, now); err != nil {
			return false, err
		}
		existed, err := a.persistence.EnsureNonce(ctx, NonceRecord{
			APIKey:     apiKey,
			Timestamp:  timestamp,
			Nonce:      nonce,
			ObservedAt: now,
		})
		if err != nil {
			return false, fmt.Errorf("persist nonce: %w", err)
		}
		if existed {
			cache.Add(composite, now)
			return true, nil
		}
	}
	cache.Add(composite, now)
	return false, nil
}

func (a *Authenticator) prunePersistent(ctx context.Context, now time.Time) error {
	if a.persistence == nil || a.replayWindow <= 0 {
		return nil
	}
	if !a.lastPruned.IsZero() && now.Sub(a.lastPruned) < persistencePruneInterval {
		return nil
	}
	if err := a.persistence.PruneNonces(ctx, now.Add(-a.replayWindow)); err != nil {
		return fmt.Errorf("prune persistent nonces: %w", err)
	}
	a.lastPruned = now
	return nil
}

// isTimestampReplay enforces that signed timestamps strictly increase per
// key while the previous one is still inside the skew window. Without this
// a captured request could be replayed with a fresh nonce.
func (a *Authenticator) isTimestampReplay(apiKey string, ts time.Time, now time.Time) bool {
	if a.timestampSkew <= 0 {
		return false
	}
	cutoff := now.Add(-a.timestampSkew)
	current := ts.Unix()

	a.lastSeenMu.Lock()
	defer a.lastSeenMu.Unlock()

	last, ok := a.lastSeen[apiKey]
	if ok {
		if time.Unix(last, 0).UTC().After(cutoff) {
			if current <= last {
				return true
			}
		} else {
			delete(a.lastSeen, apiKey)
			ok = false
		}
	}
	if !ok || current > last {
		a.lastSeen[apiKey] = current
	}
	return false
}

func (a *Authenticator) cacheFor(apiKey string) *replayCache {
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	cache, ok := a.caches[apiKey]
	if !ok {
		cache = newReplayCache(a.replayWindow, a.replayEntries)
		a.caches[apiKey] = cache
	}
	return cache
}

// CanonicalRequestPath normalises the URL path and query ordering for signing.
func CanonicalRequestPath(r *http.Request) string {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	if r.URL.RawQuery != "" {
		path += "?" + CanonicalQuery(r.URL.RawQuery)
	}
	return path
}

// CanonicalQuery sorts raw query parameters so both sides sign the same bytes.
func CanonicalQuery(raw string) string {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, "&")
	sort.Strings(parts)
	return strings.Join(parts, "&")
}

// ComputeSignature builds the HMAC-SHA256 signature for the request. The
// canonical payload is version-tagged and hashes the body instead of
// embedding it, keeping the signed text bounded.
func ComputeSignature(secret, timestamp, nonce, method, path string, body []byte) []byte {
	bodyDigest := sha256.Sum256(body)
	payload := strings.Join([]string{
		signatureVersion,
		timestamp,
		nonce,
		strings.ToUpper(method),
		path,
		hex.EncodeToString(bodyDigest[:]),
	}, "\n")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

func parseUnixTimestamp(v string) (time.Time, error) {
	secs, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0).UTC(), nil
}

// replayCache remembers nonce composites for one replay window. Entries are
// bucketed into two generations that rotate when the window elapses or the
// active generation fills, so eviction is amortised map swaps instead of
// per-entry bookkeeping. Lookups still apply the exact per-entry cutoff.
type replayCache struct {
	window   time.Duration
	capacity int

	mu      sync.Mutex
	rotated time.Time
	cur     map[string]time.Time
	prev    map[string]time.Time
}

func newReplayCache(window time.Duration, capacity int) *replayCache {
	if window <= 0 {
		window = defaultReplayWindow
	} else if window > maxReplayWindow {
		window = maxReplayWindow
	}
	if capacity <= 0 {
		capacity = defaultReplayEntries
	} else if capacity > maxReplayEntries {
		capacity = maxReplayEntries
	}
	return &replayCache{
		window:   window,
		capacity: capacity,
		cur:      make(map[string]time.Time),
		prev:     make(map[string]time.Time),
	}
}

// Contains reports whether the composite was observed within the window.
func (c *replayCache) Contains(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maybeRotate(now)
	cutoff := now.Add(-c.window)
	if ts, ok := c.cur[key]; ok && ts.After(cutoff) {
		return true
	}
	if ts, ok := c.prev[key]; ok && ts.After(cutoff) {
		return true
	}
	return false
}

// Add records the composite, rotating generations when the active one is full.
func (c *replayCache) Add(key string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maybeRotate(now)
	if len(c.cur) >= c.capacity {
		c.rotate(now)
	}
	c.cur[key] = now
}

func (c *replayCache) maybeRotate(now time.Time) {
	if c.rotated.IsZero() {
		c.rotated = now
		return
	}
	elapsed := now.Sub(c.rotated)
	switch {
	case elapsed >= 2*c.window:
		c.cur = make(map[string]time.Time)
		c.prev = make(map[string]time.Time)
		c.rotated = now
	case elapsed >= c.window:
		c.rotate(now)
	}
}

func (c *replayCache) rotate(now time.Time) {
	c.prev = c.cur
	c.cur = make(map[string]time.Time)
	c.rotated = now
}
