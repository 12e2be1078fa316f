package events

import "testing"

type testEvent string

func (e testEvent) EventType() string { return string(e) }

func TestBufferRingWraps(t *testing.T) {
	buf := NewBuffer(3)
	buf.Emit(testEvent("a"))
	buf.Emit(testEvent("b"))
	if buf.Len() != 2 {
		t.Fatalf("len = %d", buf.Len())
	}
	snap := buf.Snapshot()
	if len(snap) != 2 || snap[0].Event.EventType() != "a" || snap[1].Event.EventType() != "b" {
		t.Fatalf("snapshot = %+v", snap)
	}

	buf.Emit(testEvent("c"))
	buf.Emit(testEvent("d"))
	snap = buf.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len after wrap = %d", len(snap))
	}
	want := []string{"b", "c", "d"}
	for i, entry := range snap {
		if entry.Event.EventType() != want[i] {
			t.Fatalf("snapshot[%d] = %s want %s", i, entry.Event.EventType(), want[i])
		}
		if entry.Seq != uint64(i+2) {
			t.Fatalf("snapshot[%d].Seq = %d", i, entry.Seq)
		}
	}
}

func TestBufferSince(t *testing.T) {
	buf := NewBuffer(8)
	for _, name := range []string{"a", "b", "c", "d"} {
		buf.Emit(testEvent(name))
	}
	tail := buf.Since(2)
	if len(tail) != 2 || tail[0].Event.EventType() != "c" || tail[1].Event.EventType() != "d" {
		t.Fatalf("since = %+v", tail)
	}
	if got := buf.Since(99); got != nil {
		t.Fatalf("future cursor should return nothing, got %+v", got)
	}
}

func TestBufferSubscribe(t *testing.T) {
	buf := NewBuffer(8)
	buf.Emit(testEvent("a"))
	buf.Emit(testEvent("b"))

	ch, cancel, backlog := buf.Subscribe(1, 4)
	if len(backlog) != 1 || backlog[0].Event.EventType() != "b" {
		t.Fatalf("backlog = %+v", backlog)
	}

	buf.Emit(testEvent("c"))
	select {
	case entry := <-ch:
		if entry.Event.EventType() != "c" || entry.Seq != 3 {
			t.Fatalf("live entry = %+v", entry)
		}
	default:
		t.Fatalf("expected live entry")
	}

	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after cancel")
	}
	// Emitting after cancel must not panic on the closed channel.
	buf.Emit(testEvent("d"))
	cancel()
}

func TestBufferDropsSlowSubscriber(t *testing.T) {
	buf := NewBuffer(8)
	ch, cancel, _ := buf.Subscribe(0, 1)
	defer cancel()
	buf.Emit(testEvent("a"))
	buf.Emit(testEvent("b"))
	entry := <-ch
	if entry.Event.EventType() != "a" {
		t.Fatalf("entry = %+v", entry)
	}
	select {
	case extra := <-ch:
		t.Fatalf("overflow entry should have been dropped, got %+v", extra)
	default:
	}
}
