package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tutorcall/pkg/interfaces"
)

var _ interfaces.Connection = (*Connection)(nil)

// Connection implements the interfaces.Connection interface.
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent
// race conditions; broadcasts, ticks and direct replies all funnel through
// one writer goroutine per connection.
type Connection struct {
	conn       *websocket.Conn
	writeCh    chan []byte // buffered so broadcast fan-out never blocks the sender
	username   string      // Set after registration
	role       string      // Set after registration (resolver-authoritative)
	registered bool
	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
	mu         sync.RWMutex // Protect identity fields
}

// NewConnection creates a new WebSocket connection wrapper and starts its
// writer goroutine.
func NewConnection(conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		writeCh: make(chan []byte, 100),
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.writeLoop()

	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races
func (c *Connection) writeLoop() {
	// Cancel on exit so a later WriteJSON fails fast through ctx.Done
	// instead of queueing onto a channel nothing drains. The channel is
	// never closed; a send from a racing broadcast must not panic when a
	// stale socket kills this loop first.
	defer c.cancel()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				// A stale socket fails here without disturbing any other
				// connection; the read pump notices and triggers cleanup.
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON sends v to the client through the writer goroutine.
// FUNCTIONAL DISCOVERY: A full write channel means the peer stopped
// reading; timing out here instead of blocking keeps presence broadcasts
// moving for everyone else.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(5 * time.Second):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close shuts down the connection exactly once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()

		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// SetIdentity binds the username and resolved role after registration.
func (c *Connection) SetIdentity(username, role string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.username = username
	c.role = role
	c.registered = true

	return nil
}

// ClearIdentity reverts a failed registration. Without this, messages
// already queued behind a rejected register would pass the registration
// gate under the victim's username.
func (c *Connection) ClearIdentity() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.username = ""
	c.role = ""
	c.registered = false
}

func (c *Connection) IsRegistered() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registered
}

func (c *Connection) GetUsername() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

func (c *Connection) GetRole() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}
