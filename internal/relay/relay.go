package relay

import (
	"log"
	"time"

	"tutorcall/internal/obs"
	"tutorcall/internal/websocket"
	"tutorcall/pkg/types"
)

// Relay delivers opaque application messages (chat lines, file notices)
// between two connected identities.
// ARCHITECTURAL DISCOVERY: Strictly best-effort - no queue, no retry, no
// error surfaced to the sender. An absent target means the message never
// happened, which is the contract chat clients are built against.
type Relay struct {
	registry *websocket.Registry
}

// NewRelay creates a new message relay.
func NewRelay(registry *websocket.Registry) *Relay {
	return &Relay{registry: registry}
}

// Chat forwards a chat line with the authenticated sender and a server
// timestamp attached. The message body is opaque to the relay.
func (r *Relay) Chat(sender, target, message string) {
	r.deliver(target, map[string]interface{}{
		"type":      types.MessageTypeChat,
		"sender":    sender,
		"message":   message,
		"timestamp": time.Now(),
	})
}

// FileNotice forwards a file-transfer notice as a newFile push. Content is
// carried verbatim (base64 by client convention, never inspected here).
func (r *Relay) FileNotice(sender, target, filename, content string) {
	r.deliver(target, map[string]interface{}{
		"type":     types.MessageTypeNewFile,
		"sender":   sender,
		"filename": filename,
		"content":  content,
	})
}

func (r *Relay) deliver(target string, v interface{}) {
	conn, exists := r.registry.Lookup(target)
	if !exists {
		obs.RelayDroppedTotal.Inc()
		return
	}

	if err := conn.WriteJSON(v); err != nil {
		log.Printf("Relay delivery failed for %s: %v", target, err)
		obs.RelayDroppedTotal.Inc()
	}
}
