package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// EventType represents the logical webhook topic.
type EventType string

const (
	// EventSettlementExportReady is emitted when a settlement ledger export
	// has been written and is available for download.
	EventSettlementExportReady EventType = "options.settlement.export.ready"
	// EventExpirySweepCompleted is emitted when an operator sweep has
	// returned residual vault balances for expired escrows.
	EventExpirySweepCompleted EventType = "options.settlement.sweep.completed"

	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second
)

// ExportReadyPayload describes the webhook body for export ready events.
type ExportReadyPayload struct {
	Type         EventType `json:"type"`
	FromSequence uint64    `json:"fromSequence"`
	ToSequence   uint64    `json:"toSequence"`
	Count        int       `json:"count"`
	ExportPaths  []string  `json:"exportPaths"`
	Checksum     string    `json:"checksum"`
	GeneratedAt  time.Time `json:"generatedAt"`
	DeliveryID   string    `json:"deliveryId"`
}

// SweepCompletedPayload describes the webhook body for sweep events.
type SweepCompletedPayload struct {
	Type       EventType `json:"type"`
	EscrowID   string    `json:"escrowId"`
	Caller     string    `json:"caller"`
	SweptAt    time.Time `json:"sweptAt"`
	DeliveryID string    `json:"deliveryId"`
}

// Dispatcher orchestrates webhook deliveries with retry and exponential backoff.
type Dispatcher struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan delivery
	wg     sync.WaitGroup
}

type delivery struct {
	eventType EventType
	body      []byte
}

// Option mutates dispatcher configuration.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			d.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			d.maxBackoff = maxBackoff
		}
	}
}

// NewDispatcher constructs a dispatcher and spawns the worker goroutine.
func NewDispatcher(endpoint string, secret []byte, opts ...Option) (*Dispatcher, error) {
	endpoint = string(bytes.TrimSpace([]byte(endpoint)))
	if endpoint == "" {
		return nil, errors.New("webhook: endpoint required")
	}
	if len(secret) == 0 {
		return nil, errors.New("webhook: secret required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher := &Dispatcher{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		client:      &http.Client{Timeout: 15 * time.Second},
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan delivery, 32),
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	dispatcher.wg.Add(1)
	go dispatcher.worker()
	return dispatcher, nil
}

// Close stops the dispatcher and waits for inflight deliveries to complete.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.cancel()
	d.wg.Wait()
}

// EnqueueExportReady sends an export ready event asynchronously.
func (d *Dispatcher) EnqueueExportReady(payload ExportReadyPayload) error {
	payload.Type = EventSettlementExportReady
	if payload.GeneratedAt.IsZero() {
		payload.GeneratedAt = time.Now().UTC()
	}
	if payload.DeliveryID == "" {
		payload.DeliveryID = fmt.Sprintf("export-%d-%d", payload.ToSequence, time.Now().UnixNano())
	}
	return d.enqueue(payload.Type, payload)
}

// EnqueueSweepCompleted sends a sweep event asynchronously.
func (d *Dispatcher) EnqueueSweepCompleted(payload SweepCompletedPayload) error {
	payload.Type = EventExpirySweepCompleted
	if payload.SweptAt.IsZero() {
		payload.SweptAt = time.Now().UTC()
	}
	if payload.DeliveryID == "" {
		payload.DeliveryID = fmt.Sprintf("sweep-%s-%d", payload.EscrowID, time.Now().UnixNano())
	}
	return d.enqueue(payload.Type, payload)
}

// DeliverExportReady sends an export ready event synchronously, retrying
// with backoff until it succeeds, attempts run out or ctx is cancelled.
// One-shot callers use this instead of the queue so Close cannot race an
// inflight delivery.
func (d *Dispatcher) DeliverExportReady(ctx context.Context, payload ExportReadyPayload) error {
	payload.Type = EventSettlementExportReady
	if payload.GeneratedAt.IsZero() {
		payload.GeneratedAt = time.Now().UTC()
	}
	if payload.DeliveryID == "" {
		payload.DeliveryID = fmt.Sprintf("export-%d-%d", payload.ToSequence, time.Now().UnixNano())
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	job := delivery{eventType: payload.Type, body: body}
	attempt := 0
	backoff := d.minBackoff
	for {
		attempt++
		sendCtx, cancel := context.WithTimeout(ctx, d.client.Timeout)
		err := d.send(sendCtx, job)
		cancel()
		if err == nil {
			return nil
		}
		if attempt >= d.maxAttempts {
			return err
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = nextBackoff(backoff, d.maxBackoff)
	}
}

func (d *Dispatcher) enqueue(eventType EventType, body interface{}) error {
	if d == nil {
		return errors.New("webhook: dispatcher not initialised")
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	select {
	case d.queue <- delivery{eventType: eventType, body: data}:
		return nil
	case <-d.ctx.Done():
		return errors.New("webhook: dispatcher closed")
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.queue:
			d.process(job)
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) process(job delivery) {
	attempt := 0
	backoff := d.minBackoff
	for {
		attempt++
		ctx, cancel := context.WithTimeout(d.ctx, d.client.Timeout)
		err := d.send(ctx, job)
		cancel()
		if err == nil {
			return
		}
		if attempt >= d.maxAttempts {
			return
		}
		select {
		case <-time.After(backoff):
		case <-d.ctx.Done():
			return
		}
		backoff = nextBackoff(backoff, d.maxBackoff)
	}
}

func (d *Dispatcher) send(ctx context.Context, job delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(job.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-OptionChain-Event", string(job.eventType))
	req.Header.Set("X-OptionChain-Signature", d.sign(job.body))
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook: delivery failed with status %d", resp.StatusCode)
}

func (d *Dispatcher) sign(body []byte) string {
	mac := hmac.New(sha256.New, d.secret)
	_, _ = mac.Write(body)
	sum := mac.Sum(nil)
	return "sha256=" + hex.EncodeToString(sum)
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	if next < current {
		return max
	}
	return next
}
