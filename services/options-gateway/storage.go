package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrIdempotencyMismatch signals that an idempotency key was reused with a
// different request payload.
var ErrIdempotencyMismatch = errors.New("idempotency key reused with a different request")

const schema = `
CREATE TABLE IF NOT EXISTS idempotency_keys (
	api_key TEXT NOT NULL,
	idem_key TEXT NOT NULL,
	request_hash TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	response_body BLOB,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (api_key, idem_key)
);
CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	occurred_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	api_key TEXT,
	method TEXT NOT NULL,
	path TEXT NOT NULL,
	request_body BLOB,
	response_status INTEGER,
	response_body BLOB
);
CREATE TABLE IF NOT EXISTS escrows (
	id TEXT PRIMARY KEY,
	idx INTEGER NOT NULL DEFAULT 0,
	owner TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL DEFAULT '',
	underlying TEXT NOT NULL DEFAULT '',
	settlement TEXT NOT NULL DEFAULT '',
	notional TEXT NOT NULL DEFAULT '',
	strike TEXT NOT NULL DEFAULT '',
	expiry INTEGER NOT NULL DEFAULT 0,
	premium TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS events (
	seq INTEGER PRIMARY KEY,
	type TEXT NOT NULL,
	attributes TEXT NOT NULL,
	received_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS event_cursors (
	name TEXT PRIMARY KEY,
	last_seq INTEGER NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS webhooks (
	id TEXT PRIMARY KEY,
	api_key TEXT NOT NULL,
	url TEXT NOT NULL,
	secret TEXT NOT NULL,
	events TEXT NOT NULL,
	rate_per_minute INTEGER NOT NULL DEFAULT 60,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS webhook_attempts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	webhook_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	event_seq INTEGER NOT NULL DEFAULT 0,
	attempt INTEGER NOT NULL,
	status TEXT NOT NULL,
	error TEXT,
	next_attempt TIMESTAMP,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_webhooks_api_key ON webhooks (api_key);
CREATE INDEX IF NOT EXISTS idx_webhook_attempts_webhook ON webhook_attempts (webhook_id);
`

// SQLiteStore persists gateway state: idempotency records, audit entries,
// the escrow projection, drained events, and webhook subscriptions.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the gateway database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serialises writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent handlers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// IdempotencyRecord is a cached response for a previously processed request.
type IdempotencyRecord struct {
	APIKey       string
	Key          string
	RequestHash  string
	StatusCode   int
	ResponseBody []byte
	CreatedAt    time.Time
}

// LookupIdempotency returns the cached record for (apiKey, idemKey) when the
// request hash matches, ErrIdempotencyMismatch when it does not, and
// (nil, nil) when the key has not been seen.
func (s *SQLiteStore) LookupIdempotency(ctx context.Context, apiKey, idemKey, requestHash string) (*IdempotencyRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT request_hash, status_code, response_body, created_at FROM idempotency_keys WHERE api_key = ? AND idem_key = ?`,
		apiKey, idemKey)
	record := IdempotencyRecord{APIKey: apiKey, Key: idemKey}
	var created nullTime
	err := row.Scan(&record.RequestHash, &record.StatusCode, &record.ResponseBody, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if record.RequestHash != requestHash {
		return nil, ErrIdempotencyMismatch
	}
	record.CreatedAt = created.Time
	return &record, nil
}

// SaveIdempotency stores the response for an idempotency key.
func (s *SQLiteStore) SaveIdempotency(ctx context.Context, apiKey, idemKey, requestHash string, status int, body []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO idempotency_keys (api_key, idem_key, request_hash, status_code, response_body) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(api_key, idem_key) DO UPDATE SET request_hash = excluded.request_hash, status_code = excluded.status_code, response_body = excluded.response_body`,
		apiKey, idemKey, requestHash, status, body)
	return err
}

// PruneIdempotency deletes records older than the cutoff.
func (s *SQLiteStore) PruneIdempotency(ctx context.Context, cutoff time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE created_at < ?`, cutoff.UTC().Format(sqliteTimeLayout))
	return err
}

// AuditEntry records the request and response of an API call.
type AuditEntry struct {
	APIKey         string
	Method         string
	Path           string
	RequestBody    []byte
	ResponseStatus int
	ResponseBody   []byte
	Timestamp      time.Time
}

// InsertAuditLog appends an audit entry.
func (s *SQLiteStore) InsertAuditLog(ctx context.Context, entry AuditEntry) error {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (api_key, method, path, request_body, response_status, response_body, occurred_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.APIKey, entry.Method, entry.Path, entry.RequestBody, entry.ResponseStatus, entry.ResponseBody, ts)
	return err
}

// EscrowProjection is the gateway's local view of an escrow, maintained from
// chain events. Amount fields stay as decimal strings; the node is the
// authority on their arithmetic.
type EscrowProjection struct {
	ID         string    `json:"id"`
	Index      uint64    `json:"index"`
	Owner      string    `json:"owner"`
	State      string    `json:"state"`
	Underlying string    `json:"underlying,omitempty"`
	Settlement string    `json:"settlement,omitempty"`
	Notional   string    `json:"notional,omitempty"`
	Strike     string    `json:"strike,omitempty"`
	Expiry     int64     `json:"expiry,omitempty"`
	Premium    string    `json:"premium,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// UpsertEscrow merges a projection update. Static fields (underlying,
// settlement, notional, strike, expiry, premium) only overwrite when the
// incoming event carried them; owner and state always win.
func (s *SQLiteStore) UpsertEscrow(ctx context.Context, esc EscrowProjection) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO escrows (id, idx, owner, state, underlying, settlement, notional, strike, expiry, premium, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET
			idx = excluded.idx,
			owner = excluded.owner,
			state = excluded.state,
			underlying = CASE WHEN excluded.underlying != '' THEN excluded.underlying ELSE escrows.underlying END,
			settlement = CASE WHEN excluded.settlement != '' THEN excluded.settlement ELSE escrows.settlement END,
			notional = CASE WHEN excluded.notional != '' THEN excluded.notional ELSE escrows.notional END,
			strike = CASE WHEN excluded.strike != '' THEN excluded.strike ELSE escrows.strike END,
			expiry = CASE WHEN excluded.expiry != 0 THEN excluded.expiry ELSE escrows.expiry END,
			premium = CASE WHEN excluded.premium != '' THEN excluded.premium ELSE escrows.premium END,
			updated_at = CURRENT_TIMESTAMP`,
		esc.ID, esc.Index, esc.Owner, esc.State, esc.Underlying, esc.Settlement, esc.Notional, esc.Strike, esc.Expiry, esc.Premium)
	return err
}

// GetEscrow fetches the local projection for an escrow, or (nil, nil) when
// the gateway has not observed it yet.
func (s *SQLiteStore) GetEscrow(ctx context.Context, id string) (*EscrowProjection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, idx, owner, state, underlying, settlement, notional, strike, expiry, premium, updated_at FROM escrows WHERE id = ?`, id)
	var esc EscrowProjection
	var updated nullTime
	err := row.Scan(&esc.ID, &esc.Index, &esc.Owner, &esc.State, &esc.Underlying, &esc.Settlement, &esc.Notional, &esc.Strike, &esc.Expiry, &esc.Premium, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	esc.UpdatedAt = updated.Time
	return &esc, nil
}

// InsertEvent stores a drained chain event. Replays of an already stored
// sequence are ignored.
func (s *SQLiteStore) InsertEvent(ctx context.Context, evt NodeEvent) error {
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return fmt.Errorf("marshal event attributes: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO events (seq, type, attributes) VALUES (?, ?, ?)`,
		evt.Sequence, evt.Type, string(attrs))
	return err
}

// LastEventSequence reads the named cursor, returning zero when it has never
// been written.
func (s *SQLiteStore) LastEventSequence(ctx context.Context, name string) (uint64, error) {
	row := s.db.QueryRowContext(ctx, `SELECT last_seq FROM event_cursors WHERE name = ?`, name)
	var seq uint64
	err := row.Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// UpdateEventSequence advances the named cursor.
func (s *SQLiteStore) UpdateEventSequence(ctx context.Context, name string, seq uint64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event_cursors (name, last_seq, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(name) DO UPDATE SET last_seq = excluded.last_seq, updated_at = CURRENT_TIMESTAMP`,
		name, seq)
	return err
}

// WebhookSubscription is a partner's delivery endpoint for chain events.
type WebhookSubscription struct {
	ID            string    `json:"id"`
	APIKey        string    `json:"-"`
	URL           string    `json:"url"`
	Secret        string    `json:"-"`
	Events        []string  `json:"events"`
	RatePerMinute int       `json:"ratePerMinute"`
	CreatedAt     time.Time `json:"createdAt"`
}

// InsertWebhook stores a subscription.
func (s *SQLiteStore) InsertWebhook(ctx context.Context, sub WebhookSubscription) error {
	events, err := json.Marshal(sub.Events)
	if err != nil {
		return fmt.Errorf("marshal webhook events: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO webhooks (id, api_key, url, secret, events, rate_per_minute) VALUES (?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.APIKey, sub.URL, sub.Secret, string(events), sub.RatePerMinute)
	return err
}

// DeleteWebhook removes a subscription owned by apiKey. It reports whether a
// row was deleted.
func (s *SQLiteStore) DeleteWebhook(ctx context.Context, apiKey, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = ? AND api_key = ?`, id, apiKey)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListWebhooksByAPIKey returns the subscriptions registered by an API key.
func (s *SQLiteStore) ListWebhooksByAPIKey(ctx context.Context, apiKey string) ([]WebhookSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, api_key, url, secret, events, rate_per_minute, created_at FROM webhooks WHERE api_key = ? ORDER BY created_at`, apiKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWebhooks(rows)
}

// ListWebhooksForEvent returns every subscription whose event filter matches
// eventType. A bare "*" entry matches all events.
func (s *SQLiteStore) ListWebhooksForEvent(ctx context.Context, eventType string) ([]WebhookSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, api_key, url, secret, events, rate_per_minute, created_at FROM webhooks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	subs, err := scanWebhooks(rows)
	if err != nil {
		return nil, err
	}
	matched := subs[:0]
	for _, sub := range subs {
		for _, evt := range sub.Events {
			if evt == "*" || evt == eventType {
				matched = append(matched, sub)
				break
			}
		}
	}
	return matched, nil
}

func scanWebhooks(rows *sql.Rows) ([]WebhookSubscription, error) {
	var subs []WebhookSubscription
	for rows.Next() {
		var sub WebhookSubscription
		var events string
		var created nullTime
		if err := rows.Scan(&sub.ID, &sub.APIKey, &sub.URL, &sub.Secret, &events, &sub.RatePerMinute, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(events), &sub.Events); err != nil {
			return nil, fmt.Errorf("decode webhook events: %w", err)
		}
		sub.CreatedAt = created.Time
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// WebhookAttempt records one delivery try.
type WebhookAttempt struct {
	WebhookID     string
	EventType     string
	EventSequence uint64
	Attempt       int
	Status        string
	Error         string
	NextAttempt   time.Time
	CreatedAt     time.Time
}

// InsertWebhookAttempt appends a delivery attempt record.
func (s *SQLiteStore) InsertWebhookAttempt(ctx context.Context, attempt WebhookAttempt) error {
	var next any
	if !attempt.NextAttempt.IsZero() {
		next = attempt.NextAttempt.UTC().Format(sqliteTimeLayout)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_attempts (webhook_id, event_type, event_seq, attempt, status, error, next_attempt) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		attempt.WebhookID, attempt.EventType, attempt.EventSequence, attempt.Attempt, attempt.Status, attempt.Error, next)
	return err
}

// ListWebhookAttempts returns the delivery history for a subscription,
// oldest first.
func (s *SQLiteStore) ListWebhookAttempts(ctx context.Context, webhookID string) ([]WebhookAttempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT webhook_id, event_type, event_seq, attempt, status, COALESCE(error, ''), next_attempt, created_at
		 FROM webhook_attempts WHERE webhook_id = ? ORDER BY id`, webhookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var attempts []WebhookAttempt
	for rows.Next() {
		var attempt WebhookAttempt
		var next, created nullTime
		if err := rows.Scan(&attempt.WebhookID, &attempt.EventType, &attempt.EventSequence, &attempt.Attempt, &attempt.Status, &attempt.Error, &next, &created); err != nil {
			return nil, err
		}
		attempt.NextAttempt = next.Time
		attempt.CreatedAt = created.Time
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}

const sqliteTimeLayout = "2006-01-02 15:04:05"

// nullTime tolerates the mixed representations sqlite drivers hand back for
// TIMESTAMP columns.
type nullTime struct {
	Time  time.Time
	Valid bool
}

func (n *nullTime) Scan(value any) error {
	n.Time, n.Valid = time.Time{}, false
	switch v := value.(type) {
	case nil:
		return nil
	case time.Time:
		n.Time, n.Valid = v, true
		return nil
	case string:
		return n.parse(v)
	case []byte:
		return n.parse(string(v))
	default:
		return fmt.Errorf("unsupported time value %T", value)
	}
}

func (n *nullTime) parse(raw string) error {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, time.RFC3339} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			n.Time, n.Valid = parsed, true
			return nil
		}
	}
	return fmt.Errorf("parse timestamp %q", raw)
}
