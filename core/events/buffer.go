package events

import "sync"

// BufferedEvent pairs an event with its position in the emission sequence.
// Sequence numbers start at 1 and never repeat, so clients can resume a
// stream from the last entry they saw.
type BufferedEvent struct {
	Seq   uint64
	Event Event
}

// Buffer is an Emitter that retains the most recent events in a fixed-size
// ring and fans them out to live subscribers. It backs the event queries and
// streams served over RPC.
type Buffer struct {
	mu      sync.Mutex
	ring    []BufferedEvent
	next    int
	filled  bool
	seq     uint64
	subs    map[uint64]chan BufferedEvent
	nextSub uint64
}

// NewBuffer creates a ring buffer holding up to capacity events. A
// non-positive capacity defaults to 256.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 256
	}
	return &Buffer{
		ring: make([]BufferedEvent, capacity),
		subs: make(map[uint64]chan BufferedEvent),
	}
}

// Emit implements the Emitter interface. Subscribers that cannot keep up
// have entries dropped rather than blocking the emitter.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	entry := BufferedEvent{Seq: b.seq, Event: evt}
	b.ring[b.next] = entry
	b.next++
	if b.next == len(b.ring) {
		b.next = 0
		b.filled = true
	}
	for _, ch := range b.subs {
		select {
		case ch <- entry:
		default:
		}
	}
}

// Snapshot returns the buffered events in emission order, oldest first.
func (b *Buffer) Snapshot() []BufferedEvent {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.orderedLocked()
}

// Since returns the buffered events with a sequence number greater than
// afterSeq, oldest first. Entries older than the ring capacity are gone.
func (b *Buffer) Since(afterSeq uint64) []BufferedEvent {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sinceLocked(afterSeq)
}

// Subscribe registers a live feed. The returned backlog holds the buffered
// entries after afterSeq at subscription time; entries emitted later arrive
// on the channel. The cancel function must be called to release the
// subscription.
func (b *Buffer) Subscribe(afterSeq uint64, chanSize int) (<-chan BufferedEvent, func(), []BufferedEvent) {
	if chanSize <= 0 {
		chanSize = 64
	}
	ch := make(chan BufferedEvent, chanSize)
	b.mu.Lock()
	backlog := b.sinceLocked(afterSeq)
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel, backlog
}

// Len reports how many events are currently buffered.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.filled {
		return len(b.ring)
	}
	return b.next
}

func (b *Buffer) orderedLocked() []BufferedEvent {
	if !b.filled {
		out := make([]BufferedEvent, b.next)
		copy(out, b.ring[:b.next])
		return out
	}
	out := make([]BufferedEvent, 0, len(b.ring))
	out = append(out, b.ring[b.next:]...)
	out = append(out, b.ring[:b.next]...)
	return out
}

func (b *Buffer) sinceLocked(afterSeq uint64) []BufferedEvent {
	ordered := b.orderedLocked()
	for i, entry := range ordered {
		if entry.Seq > afterSeq {
			return append([]BufferedEvent(nil), ordered[i:]...)
		}
	}
	return nil
}
