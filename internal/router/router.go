package router

import (
	"context"
	"errors"
	"log"
	"time"

	"tutorcall/internal/call"
	"tutorcall/internal/obs"
	"tutorcall/internal/presence"
	"tutorcall/internal/relay"
	"tutorcall/internal/waitingroom"
	"tutorcall/internal/websocket"
	"tutorcall/pkg/interfaces"
	"tutorcall/pkg/types"
)

// Router dispatches validated envelopes over the closed message set.
// ARCHITECTURAL DISCOVERY: Pure dispatch logic - the router decides what
// happens and which components are involved, while delivery mechanics stay
// inside the components. The hub serializes calls into Dispatch, so state
// transitions across registry, directory, waiting room and coordinator
// never interleave mid-update.
type Router struct {
	registry  *websocket.Registry
	directory *presence.Directory
	rooms     *waitingroom.Manager
	calls     *call.Coordinator
	relay     *relay.Relay
	resolver  interfaces.RoleResolver
	limiter   *RateLimiter
}

// NewRouter creates a new message router.
func NewRouter(
	registry *websocket.Registry,
	directory *presence.Directory,
	rooms *waitingroom.Manager,
	calls *call.Coordinator,
	msgRelay *relay.Relay,
	resolver interfaces.RoleResolver,
) *Router {
	return &Router{
		registry:  registry,
		directory: directory,
		rooms:     rooms,
		calls:     calls,
		relay:     msgRelay,
		resolver:  resolver,
		limiter:   NewRateLimiter(),
	}
}

// Dispatch processes one validated envelope from a connection.
// FUNCTIONAL DISCOVERY: Every failure here answers with a single erreur on
// the offending connection and leaves it open; only a duplicate username
// at registration closes the socket.
func (r *Router) Dispatch(conn *websocket.Connection, env *types.Envelope) {
	obs.MessagesTotal.WithLabelValues(env.Type).Inc()

	if env.Type == types.MessageTypeRegister {
		r.handleRegister(conn, env)
		return
	}

	if !conn.IsRegistered() {
		r.sendErreur(conn, ErrNotRegistered.Error())
		return
	}

	if !r.limiter.Allow(conn.GetUsername()) {
		obs.ErrorsTotal.WithLabelValues("rate_limit").Inc()
		r.sendErreur(conn, ErrRateLimitExceeded.Error())
		return
	}

	switch env.Type {
	case types.MessageTypeDemandAppel:
		r.handleDemandAppel(conn, env)
	case types.MessageTypeAnnulerAppel:
		r.handleAnnulerAppel(conn, env)
	case types.MessageTypeAccepterAppel:
		r.handleAccepterAppel(conn, env)
	case types.MessageTypeRejeterAppel:
		r.handleRejeterAppel(conn, env)
	case types.MessageTypeAppelTermine:
		r.handleAppelTermine(conn, env)
	case types.MessageTypeOffer, types.MessageTypeAnswer, types.MessageTypeIce:
		// Sender overwritten with the authenticated identity; whatever
		// the client put in the sender field is discarded.
		r.calls.RelayHandshake(env.Type, conn.GetUsername(), env.Target, env.Payload)
	case types.MessageTypeChat:
		r.relay.Chat(conn.GetUsername(), env.Target, env.Message)
	case types.MessageTypeFileUpload:
		r.relay.FileNotice(conn.GetUsername(), env.Target, env.Filename, env.Content)
	case types.MessageTypeGetProfList:
		r.directory.SendTo(conn)
	default:
		// Envelope.Validate already rejects unknown types; reaching this
		// arm means a recognized type has no dispatch arm, which is a bug.
		log.Printf("No dispatch arm for message type %q", env.Type)
		r.sendErreur(conn, types.ErrUnknownMessageType.Error())
	}
}

// handleRegister binds an identity to the connection.
// The declared role is advisory; the resolver decides. Unknown usernames
// default to eleve, matching the original deployment where only profs
// have accounts.
func (r *Router) handleRegister(conn *websocket.Connection, env *types.Envelope) {
	if conn.IsRegistered() {
		r.sendErreur(conn, ErrAlreadyRegistered.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	role, err := r.resolver.ResolveRole(ctx, env.Username)
	if err != nil {
		if !errors.Is(err, interfaces.ErrRoleNotFound) {
			log.Printf("Role resolution failed for %s: %v", env.Username, err)
		}
		role = types.RoleEleve
	}

	if err := conn.SetIdentity(env.Username, role); err != nil {
		log.Printf("Failed to set identity for %s: %v", env.Username, err)
		r.sendErreur(conn, "erreur serveur")
		return
	}

	if err := r.registry.Register(conn); err != nil {
		// Terminal rejection: error reply then close. The first
		// connection's state is untouched; Unregister's same-instance
		// check keeps this socket's cleanup from evicting it. Identity
		// is cleared so messages already queued behind this register
		// cannot act under the victim's username.
		conn.ClearIdentity()
		r.sendErreur(conn, ErrDuplicateUsername.Error())
		_ = conn.Close()
		return
	}

	if role == types.RoleProf {
		r.rooms.Open(env.Username)
		r.directory.AddProvider(env.Username, env.Metadata)
		log.Printf("Prof registered: username=%s", env.Username)
		r.directory.Broadcast()
	} else {
		obs.ConnectedEleves.Inc()
		log.Printf("Eleve registered: username=%s", env.Username)
	}
}

// handleDemandAppel enqueues a pending request in the target prof's
// waiting room.
func (r *Router) handleDemandAppel(conn *websocket.Connection, env *types.Envelope) {
	eleve := conn.GetUsername()
	prof := env.Target

	// A pending request and an active session for the same pair are
	// mutually exclusive.
	if r.calls.Active(prof, eleve) {
		r.sendErreur(conn, ErrPairAlreadyInCall.Error())
		return
	}

	queue, added, err := r.rooms.Enqueue(prof, eleve, env.Subject)
	if err != nil {
		// Scenario: target not connected (or not a prof). No entry is
		// created and the requester hears about it.
		r.sendErreur(conn, waitingroom.ErrProviderUnavailable.Error())
		return
	}

	if !added {
		// Idempotent enqueue: the earlier request already stands,
		// nothing to re-notify.
		log.Printf("Duplicate demandAppel absorbed: prof=%s eleve=%s", prof, eleve)
		return
	}

	r.notifyQueue(prof, queue)

	if err := conn.WriteJSON(map[string]interface{}{
		"type": types.MessageTypeDemandAppelConfirmee,
		"prof": prof,
	}); err != nil {
		log.Printf("Failed to confirm demandAppel to %s: %v", eleve, err)
	}

	// pendingCount changed, so availability may have flipped.
	r.directory.Broadcast()
}

// handleAnnulerAppel removes the requester's own pending entry.
func (r *Router) handleAnnulerAppel(conn *websocket.Connection, env *types.Envelope) {
	eleve := conn.GetUsername()
	prof := env.Target

	queue, removed := r.rooms.Remove(prof, eleve)
	if !removed {
		log.Printf("annulerAppel with no pending entry: prof=%s eleve=%s", prof, eleve)
		return
	}

	r.notifyQueue(prof, queue)

	if err := conn.WriteJSON(map[string]interface{}{
		"type": types.MessageTypeDemandAppelAnnulee,
		"prof": prof,
	}); err != nil {
		log.Printf("Failed to confirm annulerAppel to %s: %v", eleve, err)
	}

	r.directory.Broadcast()
}

// handleAccepterAppel consumes the pending entry and hands off to the
// call coordinator.
func (r *Router) handleAccepterAppel(conn *websocket.Connection, env *types.Envelope) {
	if conn.GetRole() != types.RoleProf || conn.GetUsername() != env.Prof {
		r.sendErreur(conn, ErrProviderOnly.Error())
		return
	}

	prof, eleve := env.Prof, env.Eleve

	queue, removed := r.rooms.Remove(prof, eleve)
	if !removed {
		// Tolerated: the eleve may have canceled mid-flight. The accept
		// still proceeds if the eleve is around to take the call.
		log.Printf("accepterAppel for absent entry: prof=%s eleve=%s", prof, eleve)
	} else {
		r.notifyQueue(prof, queue)
	}

	eleveConn, connected := r.registry.Lookup(eleve)
	if !connected {
		r.sendErreur(conn, ErrRequesterAbsent.Error())
		r.directory.Broadcast()
		return
	}

	if err := r.calls.Start(prof, eleve); err != nil {
		r.sendErreur(conn, err.Error())
		return
	}

	if err := eleveConn.WriteJSON(map[string]interface{}{
		"type":  types.MessageTypeAppelAccepte,
		"prof":  prof,
		"eleve": eleve,
	}); err != nil {
		log.Printf("Failed to notify %s of accepted call: %v", eleve, err)
	}

	r.directory.Broadcast()
}

// handleRejeterAppel removes the entry and tells the eleve.
func (r *Router) handleRejeterAppel(conn *websocket.Connection, env *types.Envelope) {
	if conn.GetRole() != types.RoleProf {
		r.sendErreur(conn, ErrProviderOnly.Error())
		return
	}

	prof := conn.GetUsername()
	eleve := env.EleveRejete

	queue, removed := r.rooms.Remove(prof, eleve)
	if !removed {
		log.Printf("rejeterAppel for absent entry: prof=%s eleve=%s", prof, eleve)
		return
	}

	r.notifyQueue(prof, queue)

	if eleveConn, connected := r.registry.Lookup(eleve); connected {
		if err := eleveConn.WriteJSON(map[string]interface{}{
			"type": types.MessageTypeAppelRejete,
			"prof": prof,
		}); err != nil {
			log.Printf("Failed to notify %s of rejection: %v", eleve, err)
		}
	}

	r.directory.Broadcast()
}

// handleAppelTermine ends the active session for the pair.
func (r *Router) handleAppelTermine(conn *websocket.Connection, env *types.Envelope) {
	sender := conn.GetUsername()
	if sender != env.Prof && sender != env.Eleve {
		r.sendErreur(conn, ErrNotCallParty.Error())
		return
	}

	ended, err := r.calls.End(env.Prof, env.Eleve)
	if err != nil {
		r.sendErreur(conn, err.Error())
		return
	}

	r.notifyEnded(ended)
	r.directory.Broadcast()
}

// HandleDisconnect tears down everything the departing identity touches:
// registry entry, waiting room state on both sides, and any active call.
func (r *Router) HandleDisconnect(conn *websocket.Connection) {
	if !conn.IsRegistered() {
		return
	}

	username := conn.GetUsername()

	// A rejected duplicate closing its socket must not cascade into the
	// live connection's state.
	if !r.registry.Unregister(conn) {
		return
	}

	r.limiter.Forget(username)
	log.Printf("Disconnected: username=%s role=%s", username, conn.GetRole())

	presenceChanged := false

	if conn.GetRole() == types.RoleProf {
		dropped := r.rooms.CascadeRemove(username)
		if len(dropped) > 0 {
			log.Printf("Waiting room cleared on disconnect: prof=%s entries=%d", username, len(dropped))
		}
		r.directory.RemoveProvider(username)
		presenceChanged = true
	} else {
		obs.ConnectedEleves.Dec()
		for prof, queue := range r.rooms.RemoveRequester(username) {
			r.notifyQueue(prof, queue)
			presenceChanged = true
		}
	}

	for _, ended := range r.calls.ForceTerminate(username) {
		r.notifyEnded(ended)
		presenceChanged = true
	}

	if presenceChanged {
		r.directory.Broadcast()
	}
}

// notifyQueue pushes the updated waiting room to its prof.
func (r *Router) notifyQueue(prof string, queue []types.PendingRequest) {
	profConn, connected := r.registry.Lookup(prof)
	if !connected {
		return
	}

	if err := profConn.WriteJSON(map[string]interface{}{
		"type":   types.MessageTypeAppelEnAttente,
		"appels": queue,
	}); err != nil {
		log.Printf("Failed to send queue update to %s: %v", prof, err)
	}
}

// notifyEnded tells both parties the call is over, with the
// server-computed duration.
func (r *Router) notifyEnded(ended *call.Ended) {
	notice := map[string]interface{}{
		"type":  types.MessageTypeAppelTermine,
		"prof":  ended.Prof,
		"eleve": ended.Eleve,
		"duree": ended.DurationMinutes,
	}

	for _, username := range []string{ended.Prof, ended.Eleve} {
		if conn, connected := r.registry.Lookup(username); connected {
			if err := conn.WriteJSON(notice); err != nil {
				log.Printf("Failed to notify %s of call end: %v", username, err)
			}
		}
	}
}

// sendErreur reports a per-message failure; the connection stays open.
func (r *Router) sendErreur(conn *websocket.Connection, message string) {
	if err := conn.WriteJSON(map[string]interface{}{
		"type":    types.MessageTypeErreur,
		"message": message,
	}); err != nil {
		log.Printf("Failed to send erreur to %s: %v", conn.GetUsername(), err)
	}
}
