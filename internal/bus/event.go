package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kind is a dot-separated name ("chat.messages.merged", "conn.status_changed")
// so subscribers can filter by namespace prefix.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
