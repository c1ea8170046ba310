package call

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"sync"
	"time"

	"tutorcall/internal/obs"
	"tutorcall/internal/websocket"
	"tutorcall/pkg/interfaces"
	"tutorcall/pkg/types"
)

// pairKey identifies an active session by its unordered (prof, eleve)
// pair. Roles are disjoint identity classes, so ordering the key as
// prof-then-eleve is canonical.
type pairKey struct {
	prof  string
	eleve string
}

// session is one live call. The done channel is the session's tick
// lifetime: closed exactly once, on whichever termination path fires
// first, so no timer ever outlives its session.
type session struct {
	prof      string
	eleve     string
	startTime time.Time

	done      chan struct{}
	terminate sync.Once

	// startDone gates end persistence behind start persistence, so an
	// appelTermine racing the insert can never update a row that does
	// not exist yet.
	startDone chan struct{}
	callID    string
}

// Ended describes a terminated session, for peer notification.
type Ended struct {
	Prof            string
	Eleve           string
	DurationMinutes float64
}

// Coordinator owns the active call sessions: creation on accept, the
// 1-second elapsed tick to both parties, WebRTC handshake relay, and
// finalization into persisted call records.
type Coordinator struct {
	mu       sync.Mutex
	sessions map[pairKey]*session
	registry *websocket.Registry
	store    interfaces.CallStore

	tickInterval time.Duration
}

// NewCoordinator creates a new call coordinator.
func NewCoordinator(registry *websocket.Registry, store interfaces.CallStore) *Coordinator {
	return &Coordinator{
		sessions:     make(map[pairKey]*session),
		registry:     registry,
		store:        store,
		tickInterval: time.Second,
	}
}

// SetTickInterval overrides the elapsed-time push cadence. Must be
// called before any session starts.
func (c *Coordinator) SetTickInterval(interval time.Duration) {
	if interval > 0 {
		c.tickInterval = interval
	}
}

// Start creates the active session for the pair, issues the call-start
// persistence request and starts the elapsed-time tick.
// FUNCTIONAL DISCOVERY: Persistence is best-effort by design - a storage
// failure is logged and the live call proceeds, trading a possibly lost
// record for an undisturbed lesson.
func (c *Coordinator) Start(prof, eleve string) error {
	key := pairKey{prof: prof, eleve: eleve}

	c.mu.Lock()
	if _, exists := c.sessions[key]; exists {
		c.mu.Unlock()
		return ErrSessionAlreadyActive
	}

	s := &session{
		prof:      prof,
		eleve:     eleve,
		startTime: time.Now(),
		done:      make(chan struct{}),
		startDone: make(chan struct{}),
	}
	c.sessions[key] = s
	c.mu.Unlock()

	obs.ActiveCalls.Inc()
	log.Printf("Call started: prof=%s eleve=%s", prof, eleve)

	go c.persistStart(s)
	go c.tickLoop(s)

	return nil
}

// persistStart inserts the in-progress appels row, then releases any end
// persistence waiting on startDone.
func (c *Coordinator) persistStart(s *session) {
	defer close(s.startDone)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	callID, err := c.store.InsertCallStart(ctx, s.prof, s.eleve, s.startTime)
	if err != nil {
		log.Printf("Call-start persistence failed: prof=%s eleve=%s err=%v", s.prof, s.eleve, err)
		obs.ErrorsTotal.WithLabelValues("persistence").Inc()
		return
	}
	s.callID = callID
}

// tickLoop pushes {type: timerUpdate, elapsed} to both parties every
// second. The elapsed value is computed from the session's own start
// time; clients display it but never feed it back.
func (c *Coordinator) tickLoop(s *session) {
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			elapsed := int(time.Since(s.startTime).Seconds())
			update := map[string]interface{}{
				"type":    types.MessageTypeTimerUpdate,
				"elapsed": elapsed,
			}
			// A party that dropped mid-call is simply skipped; the
			// disconnect path is already terminating this session.
			c.sendTo(s.prof, update)
			c.sendTo(s.eleve, update)
		}
	}
}

// End terminates the session for the pair and returns its server-computed
// duration. Returns ErrNoActiveSession when no session exists (including
// when a concurrent trigger already terminated it).
func (c *Coordinator) End(prof, eleve string) (*Ended, error) {
	key := pairKey{prof: prof, eleve: eleve}

	c.mu.Lock()
	s, exists := c.sessions[key]
	if !exists {
		c.mu.Unlock()
		return nil, ErrNoActiveSession
	}
	delete(c.sessions, key)
	c.mu.Unlock()

	return c.finalize(s), nil
}

// ForceTerminate ends every active session involving the username, used
// when either party disconnects. Returns the terminated sessions so the
// caller can notify the surviving parties.
func (c *Coordinator) ForceTerminate(username string) []*Ended {
	c.mu.Lock()
	var doomed []*session
	for key, s := range c.sessions {
		if s.prof == username || s.eleve == username {
			delete(c.sessions, key)
			doomed = append(doomed, s)
		}
	}
	c.mu.Unlock()

	ended := make([]*Ended, 0, len(doomed))
	for _, s := range doomed {
		ended = append(ended, c.finalize(s))
	}
	return ended
}

// finalize performs the exactly-once termination work: cancel the tick,
// compute the authoritative duration, persist the call end.
// TECHNICAL DISCOVERY: Map removal under the coordinator lock already
// serializes competing triggers; the sync.Once is belt-and-braces so a
// future caller holding a stale *session cannot double-close done.
func (c *Coordinator) finalize(s *session) *Ended {
	duration := time.Since(s.startTime)
	minutes := math.Round(duration.Minutes()*100) / 100

	s.terminate.Do(func() {
		close(s.done)
		obs.ActiveCalls.Dec()
		obs.CallDurationSeconds.Observe(duration.Seconds())
		log.Printf("Call ended: prof=%s eleve=%s duration=%.2fmin", s.prof, s.eleve, minutes)

		go c.persistEnd(s, minutes)
	})

	return &Ended{Prof: s.prof, Eleve: s.eleve, DurationMinutes: minutes}
}

// persistEnd records the call end after start persistence has settled.
func (c *Coordinator) persistEnd(s *session, minutes float64) {
	<-s.startDone

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.store.RecordCallEnd(ctx, s.prof, s.eleve, minutes); err != nil {
		log.Printf("Call-end persistence failed: prof=%s eleve=%s err=%v", s.prof, s.eleve, err)
		obs.ErrorsTotal.WithLabelValues("persistence").Inc()
	}
}

// Active reports whether the pair currently has a session.
func (c *Coordinator) Active(prof, eleve string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, exists := c.sessions[pairKey{prof: prof, eleve: eleve}]
	return exists
}

// InCall reports whether the username is a party to any active session.
func (c *Coordinator) InCall(username string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range c.sessions {
		if s.prof == username || s.eleve == username {
			return true
		}
	}
	return false
}

// Count returns the number of active sessions.
func (c *Coordinator) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// RelayHandshake forwards an offer/answer/ice payload verbatim with the
// sender overwritten to the authenticated identity.
// FUNCTIONAL DISCOVERY: A handshake aimed at a departed peer is dropped at
// delivery time, silently from the sender's point of view - there is no
// cancellation protocol for in-flight signaling.
func (c *Coordinator) RelayHandshake(kind, sender, target string, payload json.RawMessage) {
	conn, exists := c.registry.Lookup(target)
	if !exists {
		log.Printf("Handshake dropped: kind=%s sender=%s target=%s (target absent)", kind, sender, target)
		obs.RelayDroppedTotal.Inc()
		return
	}

	forward := map[string]interface{}{
		"type":    kind,
		"sender":  sender,
		"target":  target,
		"payload": payload,
	}
	if err := conn.WriteJSON(forward); err != nil {
		log.Printf("Handshake delivery failed: kind=%s target=%s err=%v", kind, target, err)
		obs.RelayDroppedTotal.Inc()
	}
}

// sendTo delivers a message to a username if currently connected.
func (c *Coordinator) sendTo(username string, v interface{}) {
	if conn, exists := c.registry.Lookup(username); exists {
		if err := conn.WriteJSON(v); err != nil {
			log.Printf("Tick delivery failed for %s: %v", username, err)
		}
	}
}
