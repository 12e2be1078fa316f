package main

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultTaskCapacity    = 1024
	defaultHistoryCapacity = 256
	defaultQueueTTL        = 15 * time.Minute

	dequeuePollInterval = 25 * time.Millisecond

	dropReasonCapacity = "capacity"
	dropReasonExpired  = "expired"
)

var (
	queueMetricsOnce sync.Once
	queueEnqueued    prometheus.Counter
	queueDropped     *prometheus.CounterVec
)

func queueMetrics() (prometheus.Counter, *prometheus.CounterVec) {
	queueMetricsOnce.Do(func() {
		queueEnqueued = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optionsgw_webhook_queue_enqueued_total",
			Help: "Webhook events accepted into the delivery queue.",
		})
		queueDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optionsgw_webhook_queue_dropped_total",
			Help: "Webhook tasks dropped before delivery.",
		}, []string{"reason"})
		prometheus.MustRegister(queueEnqueued, queueDropped)
	})
	return queueEnqueued, queueDropped
}

// WebhookEvent is the payload fanned out to subscribed endpoints.
type WebhookEvent struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Sequence   uint64            `json:"seq"`
	Attributes map[string]string `json:"attributes"`
	EmittedAt  time.Time         `json:"emittedAt"`
}

// WebhookTask is a unit of delivery work. A freshly enqueued task has no
// subscription; the worker expands it into one task per matching
// subscription before delivering.
type WebhookTask struct {
	Event        WebhookEvent
	Subscription *WebhookSubscription
	Attempt      int
	NotBefore    time.Time
	EnqueuedAt   time.Time
}

// QueueOption customises WebhookQueue construction.
type QueueOption func(*WebhookQueue)

// WithQueueCapacity bounds the number of pending tasks. When full, the
// oldest task is overwritten.
func WithQueueCapacity(capacity int) QueueOption {
	return func(q *WebhookQueue) {
		if capacity > 0 {
			q.tasks = newQueueRing[WebhookTask](capacity)
		}
	}
}

// WithHistorySize bounds the recent-event history kept for the debug API.
func WithHistorySize(size int) QueueOption {
	return func(q *WebhookQueue) {
		if size > 0 {
			q.history = newQueueRing[WebhookEvent](size)
		}
	}
}

// WithQueueTTL drops tasks that sat in the queue longer than ttl.
func WithQueueTTL(ttl time.Duration) QueueOption {
	return func(q *WebhookQueue) {
		if ttl > 0 {
			q.ttl = ttl
		}
	}
}

// WithQueueClock overrides the queue clock. Tests use this to control
// expiry without sleeping.
func WithQueueClock(clock func() time.Time) QueueOption {
	return func(q *WebhookQueue) {
		if clock != nil {
			q.clock = clock
		}
	}
}

// WebhookQueue buffers webhook tasks between the event watcher and the
// delivery worker.
type WebhookQueue struct {
	mu      sync.Mutex
	tasks   *queueRing[WebhookTask]
	history *queueRing[WebhookEvent]
	ttl     time.Duration
	clock   func() time.Time

	enqueued prometheus.Counter
	dropped  *prometheus.CounterVec
}

// NewWebhookQueue builds a queue with the default capacity, history size,
// and TTL unless overridden by options.
func NewWebhookQueue(opts ...QueueOption) *WebhookQueue {
	enqueued, dropped := queueMetrics()
	q := &WebhookQueue{
		tasks:    newQueueRing[WebhookTask](defaultTaskCapacity),
		history:  newQueueRing[WebhookEvent](defaultHistoryCapacity),
		ttl:      defaultQueueTTL,
		clock:    time.Now,
		enqueued: enqueued,
		dropped:  dropped,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue accepts an event for fan-out. When the queue is full the oldest
// pending task is dropped to make room.
func (q *WebhookQueue) Enqueue(evt WebhookEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock()
	if evt.EmittedAt.IsZero() {
		evt.EmittedAt = now
	}
	q.history.Push(evt)
	task := WebhookTask{Event: evt, EnqueuedAt: now}
	if _, evicted := q.tasks.Push(task); evicted {
		q.dropped.WithLabelValues(dropReasonCapacity).Inc()
	}
	q.enqueued.Inc()
}

// Requeue puts a task back on the queue, preserving its enqueue time so the
// TTL keeps counting from first admission.
func (q *WebhookQueue) Requeue(task WebhookTask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = q.clock()
	}
	if _, evicted := q.tasks.Push(task); evicted {
		q.dropped.WithLabelValues(dropReasonCapacity).Inc()
	}
}

// Dequeue blocks until a task is ready (its NotBefore has passed) or the
// context is cancelled. Tasks older than the queue TTL are discarded.
func (q *WebhookQueue) Dequeue(ctx context.Context) (WebhookTask, error) {
	for {
		task, ok, wait := q.next()
		if ok {
			return task, nil
		}
		if wait <= 0 || wait > dequeuePollInterval {
			wait = dequeuePollInterval
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return WebhookTask{}, ctx.Err()
		case <-timer.C:
		}
	}
}

// next scans the ring once: expired tasks are dropped, the first ready task
// is returned, and not-yet-due tasks rotate to the tail. The returned wait
// hints how long until the soonest pending task becomes due.
func (q *WebhookQueue) next() (WebhookTask, bool, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock()
	var soonest time.Duration
	for i := q.tasks.Len(); i > 0; i-- {
		task, ok := q.tasks.Pop()
		if !ok {
			break
		}
		if q.ttl > 0 && now.Sub(task.EnqueuedAt) > q.ttl {
			q.dropped.WithLabelValues(dropReasonExpired).Inc()
			continue
		}
		if !task.NotBefore.After(now) {
			return task, true, 0
		}
		if delta := task.NotBefore.Sub(now); soonest == 0 || delta < soonest {
			soonest = delta
		}
		q.tasks.Push(task)
	}
	return WebhookTask{}, false, soonest
}

// Len reports the number of pending tasks.
func (q *WebhookQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks.Len()
}

// Events returns the recent event history, oldest first.
func (q *WebhookQueue) Events() []WebhookEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.history.Snapshot()
}

// queueRing is a fixed-capacity FIFO that overwrites its oldest entry when
// full.
type queueRing[T any] struct {
	items []T
	head  int
	size  int
}

func newQueueRing[T any](capacity int) *queueRing[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &queueRing[T]{items: make([]T, capacity)}
}

// Push appends item. When the ring is full the oldest entry is evicted and
// returned with evicted = true.
func (r *queueRing[T]) Push(item T) (T, bool) {
	var evicted T
	if r.size == len(r.items) {
		evicted = r.items[r.head]
		r.items[r.head] = item
		r.head = (r.head + 1) % len(r.items)
		return evicted, true
	}
	tail := (r.head + r.size) % len(r.items)
	r.items[tail] = item
	r.size++
	return evicted, false
}

// Pop removes and returns the oldest entry.
func (r *queueRing[T]) Pop() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	item := r.items[r.head]
	r.items[r.head] = zero
	r.head = (r.head + 1) % len(r.items)
	r.size--
	return item, true
}

// Len reports the number of stored entries.
func (r *queueRing[T]) Len() int {
	return r.size
}

// Snapshot copies the stored entries oldest first.
func (r *queueRing[T]) Snapshot() []T {
	out := make([]T, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.items[(r.head+i)%len(r.items)])
	}
	return out
}
