package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"tutorcall/internal/obs"
	"tutorcall/pkg/types"
)

// WebSocket upgrader with production-ready settings
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins; the prof/eleve pages are served from
		// arbitrary hosts during tutoring sessions. Deployments wanting
		// stricter origin checks front this with a proxy.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Inbound receives decoded envelopes and disconnect events from the read
// pumps. Implemented by the hub.
// ARCHITECTURAL DISCOVERY: Defining the consumer interface here instead of
// importing the hub keeps the dependency arrow pointing inward and the
// handler testable with a recording stub.
type Inbound interface {
	HandleMessage(conn *Connection, env *types.Envelope)
	HandleDisconnect(conn *Connection)
}

// Handler upgrades HTTP requests and runs the per-connection read pump.
// Registration happens in-band (the first message must be a register
// envelope), so the upgrade itself carries no credentials.
type Handler struct {
	inbound Inbound
}

// NewHandler creates a new WebSocket handler.
func NewHandler(inbound Inbound) *Handler {
	return &Handler{inbound: inbound}
}

// HandleWebSocket handles WebSocket connection requests.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := NewConnection(conn)
	obs.OpenSockets.Inc()

	go h.handleConnection(wsConn)
}

// handleConnection manages the connection lifecycle with heartbeat
// monitoring and the decode-once boundary.
// FUNCTIONAL DISCOVERY: A malformed payload answers with a single erreur
// and keeps reading; only transport errors end the loop.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		// Deferred cleanup runs on every exit path: the hub tears down
		// registry, waiting room and active call state for this identity.
		h.inbound.HandleDisconnect(conn)
		_ = conn.Close()
		obs.OpenSockets.Dec()
	}()

	// 60-second read deadline with 30-second pings keeps half-open home
	// connections from lingering as ghost presences.
	if err := conn.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error for %s: %v", conn.GetUsername(), err)
			}
			break
		}

		if messageType != websocket.TextMessage {
			continue
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			obs.ErrorsTotal.WithLabelValues("decode").Inc()
			h.sendErreur(conn, "message JSON invalide")
			continue
		}

		if err := env.Validate(); err != nil {
			obs.ErrorsTotal.WithLabelValues("validation").Inc()
			h.sendErreur(conn, err.Error())
			continue
		}

		h.inbound.HandleMessage(conn, &env)
	}
}

// sendErreur reports a per-message failure without closing the connection.
func (h *Handler) sendErreur(conn *Connection, message string) {
	reply := map[string]interface{}{
		"type":    types.MessageTypeErreur,
		"message": message,
	}
	if err := conn.WriteJSON(reply); err != nil {
		log.Printf("Failed to send erreur to %s: %v", conn.GetUsername(), err)
	}
}
