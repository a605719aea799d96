package events

import "time"

type Kind string

type Event interface {
	Kind() Kind
	Timestamp() time.Time
}

type Base struct {
	kind      Kind
	timestamp time.Time
}

func NewBase(kind Kind) Base {
	return Base{kind: kind, timestamp: time.Now()}
}

func (b Base) Kind() Kind {
	return b.kind
}

func (b Base) Timestamp() time.Time {
	return b.timestamp
}

// At returns a copy of the event base stamped with ts instead of the
// construction time, e.g. the server timestamp of the message that caused
// it. A zero ts is ignored.
func (b Base) At(ts time.Time) Base {
	if !ts.IsZero() {
		b.timestamp = ts
	}
	return b
}
