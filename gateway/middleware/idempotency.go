package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// HeaderIdempotencyKey carries the client-chosen token that makes a
// mutating request safe to retry.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderIdempotentReplay marks responses that were served from the
// replay cache instead of reaching the node.
const HeaderIdempotentReplay = "Idempotent-Replay"

// IdempotencyConfig sizes the response replay cache.
type IdempotencyConfig struct {
	TTL        time.Duration
	MaxEntries int
}

// Idempotency replays the recorded response when a mutating request
// repeats an Idempotency-Key within the TTL. Requests without the header
// pass through untouched. Responses with a 5xx status are not recorded,
// so a retry after a node fault reaches the node again.
type Idempotency struct {
	ttl      time.Duration
	capacity int
	logger   *slog.Logger
	nowFn    func() time.Time

	mu      sync.Mutex
	rotated time.Time
	cur     map[string]storedResponse
	prev    map[string]storedResponse
}

type storedResponse struct {
	status  int
	header  http.Header
	body    []byte
	savedAt time.Time
}

func NewIdempotency(cfg IdempotencyConfig, logger *slog.Logger) *Idempotency {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 4096
	}
	return &Idempotency{
		ttl:      cfg.TTL,
		capacity: cfg.MaxEntries,
		logger:   logger,
		nowFn:    time.Now,
		cur:      make(map[string]storedResponse),
		prev:     make(map[string]storedResponse),
	}
}

func (i *Idempotency) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !mutatingMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			scope := idempotencyScope(r, key)
			now := i.nowFn()
			if stored, ok := i.lookup(scope, now); ok {
				i.logger.Debug("idempotent replay",
					"method", r.Method,
					"path", r.URL.Path,
					"status", stored.status,
				)
				writeStored(w, stored)
				return
			}
			capture := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(capture, r)
			if capture.status < http.StatusInternalServerError {
				i.store(scope, storedResponse{
					status:  capture.status,
					header:  capture.Header().Clone(),
					body:    append([]byte(nil), capture.buf.Bytes()...),
					savedAt: now,
				}, now)
			}
		})
	}
}

// idempotencyScope binds the key to the route and the authenticated
// caller, so two principals reusing the same token never see each
// other's responses.
func idempotencyScope(r *http.Request, key string) string {
	subject := ""
	if principal, ok := PrincipalFromContext(r.Context()); ok {
		subject = principal.Subject
	}
	return strings.Join([]string{r.Method, r.URL.Path, subject, key}, "\x00")
}

func mutatingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func (i *Idempotency) lookup(scope string, now time.Time) (storedResponse, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.maybeRotate(now)
	cutoff := now.Add(-i.ttl)
	if stored, ok := i.cur[scope]; ok && stored.savedAt.After(cutoff) {
		return stored, true
	}
	if stored, ok := i.prev[scope]; ok && stored.savedAt.After(cutoff) {
		return stored, true
	}
	return storedResponse{}, false
}

func (i *Idempotency) store(scope string, stored storedResponse, now time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.maybeRotate(now)
	if len(i.cur) >= i.capacity {
		i.rotate(now)
	}
	i.cur[scope] = stored
}

// Entries age out in two map generations; rotation swaps the maps
// instead of tracking per-entry order.
func (i *Idempotency) maybeRotate(now time.Time) {
	if i.rotated.IsZero() {
		i.rotated = now
		return
	}
	elapsed := now.Sub(i.rotated)
	switch {
	case elapsed >= 2*i.ttl:
		i.cur = make(map[string]storedResponse)
		i.prev = make(map[string]storedResponse)
		i.rotated = now
	case elapsed >= i.ttl:
		i.rotate(now)
	}
}

func (i *Idempotency) rotate(now time.Time) {
	i.prev = i.cur
	i.cur = make(map[string]storedResponse)
	i.rotated = now
}

// writeStored replays a recorded response. Headers already set by outer
// middleware win over their recorded counterparts.
func writeStored(w http.ResponseWriter, stored storedResponse) {
	for name, values := range stored.header {
		if _, exists := w.Header()[name]; exists {
			continue
		}
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.Header().Set(HeaderIdempotentReplay, "true")
	w.WriteHeader(stored.status)
	_, _ = w.Write(stored.body)
}

// captureWriter tees the response body into a buffer while streaming it
// to the client.
type captureWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
	buf    bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	if c.wrote {
		return
	}
	c.status = code
	c.wrote = true
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	c.wrote = true
	c.buf.Write(p)
	return c.ResponseWriter.Write(p)
}
