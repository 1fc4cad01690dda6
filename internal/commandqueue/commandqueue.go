// Package commandqueue assigns every outbound place/cancel/info command a
// local correlation ID before the venue's own order_id is known, so a
// desync or timeout logged against a command channel can be traced back
// to the exact send that caused it. Grounded on the reference pack's
// chidi150c-coinbase sibling, which stamps every locally-originated order
// with a uuid before any broker round-trip.
package commandqueue

import "github.com/google/uuid"

// CorrelationID identifies one outbound command for log correlation. It
// never crosses the wire; it exists purely so operators can grep a log
// stream for every line touching one send.
type CorrelationID string

// New mints a fresh correlation ID.
func New() CorrelationID {
	return CorrelationID(uuid.New().String())
}

// String implements fmt.Stringer so CorrelationID can be passed directly
// to a structured logger as an slog.Attr value.
func (c CorrelationID) String() string {
	return string(c)
}
