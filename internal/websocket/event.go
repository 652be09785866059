package websocket

import "time"

// Event types pushed to connected clients.
const (
	// TypeConnected is the welcome message sent once per connection.
	TypeConnected = "connected"
	// TypeLicenseStatus carries a domain.LicenseStatus after the cached
	// verification state changes.
	TypeLicenseStatus = "license_status"
	// TypeTokenStatus carries a tokenauth.Status after a rotation. It never
	// carries a token, only the prefix and grace diagnostics.
	TypeTokenStatus = "token_status"
)

// Event is the envelope for every message the hub sends.
type Event struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

func newEvent(eventType string, data interface{}) Event {
	return Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}
