package hub

import (
	"context"
	"log"
	"sync"

	"tutorcall/internal/obs"
	"tutorcall/internal/router"
	"tutorcall/internal/websocket"
	"tutorcall/pkg/types"
)

// Hub is the single logical thread of control: every inbound envelope and
// every disconnect event from every connection funnels through one
// goroutine, which calls into the router sequentially.
// ARCHITECTURAL DISCOVERY: Serializing here means no two handler bodies
// ever interleave over the registry, directory, waiting room or session
// tables; only the per-session tick goroutines and the best-effort
// persistence writes run alongside, and both are isolated behind their
// own synchronization.
type Hub struct {
	inboundChannel    chan *inbound // 1000 buffer absorbs bursts from simultaneous lessons
	disconnectChannel chan *websocket.Connection
	shutdownChannel   chan struct{}

	dispatcher *router.Router

	running bool
	mu      sync.RWMutex
}

// inbound pairs an envelope with the connection it arrived on.
type inbound struct {
	conn *websocket.Connection
	env  *types.Envelope
}

// NewHub creates a new hub around the router.
func NewHub(dispatcher *router.Router) *Hub {
	return &Hub{
		inboundChannel:    make(chan *inbound, 1000),
		disconnectChannel: make(chan *websocket.Connection, 100),
		shutdownChannel:   make(chan struct{}),
		dispatcher:        dispatcher,
	}
}

// Start begins hub processing.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	log.Println("Starting message hub...")
	go h.run(ctx)

	return nil
}

// Stop gracefully shuts down the hub.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false

	log.Println("Stopping message hub...")

	select {
	case <-h.shutdownChannel:
		// Channel already closed
	default:
		close(h.shutdownChannel)
	}

	return nil
}

// HandleMessage queues an envelope for serialized processing. Implements
// the websocket handler's Inbound interface.
// FUNCTIONAL DISCOVERY: Non-blocking enqueue keeps a flooded hub from
// stalling every read pump; a dropped message surfaces as an erreur so the
// client knows to retry rather than wait forever.
func (h *Hub) HandleMessage(conn *websocket.Connection, env *types.Envelope) {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return
	}
	h.mu.RUnlock()

	select {
	case h.inboundChannel <- &inbound{conn: conn, env: env}:
	default:
		obs.ErrorsTotal.WithLabelValues("hub_full").Inc()
		log.Printf("Hub inbound channel full, dropping %s from %s", env.Type, conn.GetUsername())
		if err := conn.WriteJSON(map[string]interface{}{
			"type":    types.MessageTypeErreur,
			"message": "serveur saturé, message ignoré",
		}); err != nil {
			log.Printf("Failed to send overload erreur to %s: %v", conn.GetUsername(), err)
		}
	}
}

// HandleDisconnect queues a disconnect event for serialized cleanup.
// Disconnects are never dropped: cleanup is what keeps the identity
// liveness invariant, so this send blocks until the hub takes it or
// shuts down.
func (h *Hub) HandleDisconnect(conn *websocket.Connection) {
	select {
	case h.disconnectChannel <- conn:
	case <-h.shutdownChannel:
	}
}

// run is the main hub processing loop.
func (h *Hub) run(ctx context.Context) {
	defer log.Println("Hub processing stopped")

	for {
		select {
		case msg := <-h.inboundChannel:
			h.dispatcher.Dispatch(msg.conn, msg.env)

		case conn := <-h.disconnectChannel:
			h.dispatcher.HandleDisconnect(conn)

		case <-h.shutdownChannel:
			log.Println("Hub shutdown requested")
			return

		case <-ctx.Done():
			log.Println("Hub context cancelled")
			return
		}
	}
}
