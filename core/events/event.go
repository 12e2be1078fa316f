package events

// Event is a structured record of a state change in the options ledger.
// Implementations are immutable value types, safe to hand to any number of
// subscribers.
type Event interface {
	EventType() string
}

// Emitter delivers events to downstream consumers such as the RPC feed and
// export jobs.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards everything. Components accept an Emitter and default
// to it so event wiring stays optional.
type NoopEmitter struct{}

// Emit implements Emitter.
func (NoopEmitter) Emit(Event) {}

var _ Emitter = NoopEmitter{}
