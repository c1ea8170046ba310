package interfaces

// Connection represents a live client connection.
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// keeps the presence, waiting room, call and relay components free of any
// gorilla/websocket dependency and trivially mockable in tests.
type Connection interface {
	// WriteJSON sends a JSON message to the client (thread-safe).
	// FUNCTIONAL DISCOVERY: Implementations must use a single-writer
	// pattern; broadcasts fan out from several goroutines and a failed
	// write must never panic into the caller.
	WriteJSON(v interface{}) error

	// Close closes the connection and releases its writer goroutine.
	Close() error

	// GetUsername returns the registered username (empty until registered).
	GetUsername() string

	// GetRole returns the resolved role ("prof" or "eleve").
	GetRole() string

	// IsRegistered reports whether register has completed on this connection.
	IsRegistered() bool

	// SetIdentity binds username and resolved role after registration.
	SetIdentity(username, role string) error

	// ClearIdentity reverts a failed registration so the connection is
	// anonymous again.
	ClearIdentity()
}
