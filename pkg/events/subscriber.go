package events

// Subscriber is a push-style event consumer. Implementations adapt the
// event stream to a transport such as WebSocket or SSE.
type Subscriber interface {
	// Send delivers an event. It should not block for long; a slow Send
	// only delays the subscriber's own buffer.
	Send(Event) error

	// Close releases the subscriber. It is called once, after the last Send.
	Close() error
}
