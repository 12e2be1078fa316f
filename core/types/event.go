package types

// Event represents a typed event emitted during state transitions.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attribute returns the named attribute value and whether it was present.
func (e *Event) Attribute(key string) (string, bool) {
	if e == nil || e.Attributes == nil {
		return "", false
	}
	v, ok := e.Attributes[key]
	return v, ok
}

// Copy returns a deep copy of the event so callers can hold onto it without
// racing against later mutation of the attribute map.
func (e *Event) Copy() *Event {
	if e == nil {
		return nil
	}
	dup := &Event{Type: e.Type}
	if e.Attributes != nil {
		dup.Attributes = make(map[string]string, len(e.Attributes))
		for k, v := range e.Attributes {
			dup.Attributes[k] = v
		}
	}
	return dup
}
