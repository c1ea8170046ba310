package websocket

import (
	"sync"

	"tutorcall/pkg/types"
)

// Registry maps each registered username to its single live connection.
// ARCHITECTURAL DISCOVERY: Pure connection tracking without business logic;
// the presence directory, waiting room and call coordinator all resolve
// peers through this one map.
type Registry struct {
	mu          sync.RWMutex // read-heavy: every relay and broadcast does lookups
	connections map[string]*Connection
}

// NewRegistry creates a new connection registry.
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
	}
}

// Register adds a connection under its username.
// FUNCTIONAL DISCOVERY: Duplicate registration is a terminal rejection,
// not a replace - the first connection keeps all of its session state and
// the caller closes the new socket. This deliberately inverts the usual
// replace-on-reconnect pattern: an active call must never be hijacked by
// a second login with the same name.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	if !conn.IsRegistered() {
		return ErrConnectionNotRegistered
	}

	username := conn.GetUsername()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[username]; exists {
		return ErrDuplicateUsername
	}

	r.connections[username] = conn
	return nil
}

// Unregister removes a specific connection and reports whether it was the
// registered one.
// RACE CONDITION FIX: Only removes the entry if it holds this exact
// connection instance, so a rejected duplicate's cleanup can never evict
// the original connection - and callers skip cascading cleanup when the
// closing socket was never the live one.
func (r *Registry) Unregister(conn *Connection) bool {
	if conn == nil {
		return false
	}

	username := conn.GetUsername()

	r.mu.Lock()
	defer r.mu.Unlock()

	registered, exists := r.connections[username]
	if !exists {
		return false // Idempotent
	}

	if registered != conn {
		return false
	}

	delete(r.connections, username)
	return true
}

// Lookup returns the live connection for a username with O(1) lookup.
func (r *Registry) Lookup(username string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.connections[username]
	return conn, exists
}

// Connections returns every live connection, for presence fan-out.
func (r *Registry) Connections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	return conns
}

// Stats returns registry counters for monitoring.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profs := 0
	for _, conn := range r.connections {
		if conn.GetRole() == types.RoleProf {
			profs++
		}
	}

	return map[string]int{
		"total_connections": len(r.connections),
		"profs":             profs,
		"eleves":            len(r.connections) - profs,
	}
}
