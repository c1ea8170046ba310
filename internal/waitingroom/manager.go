package waitingroom

import (
	"sync"
	"time"

	"tutorcall/internal/obs"
	"tutorcall/pkg/types"
)

// Manager owns the per-prof waiting rooms: ordered pending call requests.
// A room exists exactly while its prof is connected; Open and CascadeRemove
// bracket the prof's registration lifetime.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string][]types.PendingRequest // prof username -> ordered queue
}

// NewManager creates a new waiting room manager.
func NewManager() *Manager {
	return &Manager{
		rooms: make(map[string][]types.PendingRequest),
	}
}

// Open creates an empty waiting room for a newly registered prof.
// Idempotent: reopening an existing room keeps its entries.
func (m *Manager) Open(prof string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rooms[prof]; !exists {
		m.rooms[prof] = []types.PendingRequest{}
	}
}

// Enqueue appends a pending request to the prof's queue.
// FUNCTIONAL DISCOVERY: Idempotent per (prof, eleve) - a second identical
// request before any response is absorbed without duplicating the entry,
// so impatient double clicks never inflate the queue. Returns the queue
// after the operation and whether a new entry was added.
func (m *Manager) Enqueue(prof, eleve, subject string) ([]types.PendingRequest, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue, exists := m.rooms[prof]
	if !exists {
		return nil, false, ErrProviderUnavailable
	}

	for _, req := range queue {
		if req.Eleve == eleve {
			return m.copyQueueLocked(prof), false, nil
		}
	}

	m.rooms[prof] = append(queue, types.PendingRequest{
		Eleve:     eleve,
		Subject:   subject,
		Timestamp: time.Now(),
		Statut:    types.StatutEnAttente,
	})
	obs.PendingRequests.Inc()

	return m.copyQueueLocked(prof), true, nil
}

// Remove deletes the (prof, eleve) entry if present. Used by accept,
// reject and requester cancel; all three tolerate an absent entry (the
// eleve may have canceled mid-flight) by reporting removed=false.
func (m *Manager) Remove(prof, eleve string) ([]types.PendingRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue, exists := m.rooms[prof]
	if !exists {
		return nil, false
	}

	for i, req := range queue {
		if req.Eleve == eleve {
			m.rooms[prof] = append(queue[:i], queue[i+1:]...)
			obs.PendingRequests.Dec()
			return m.copyQueueLocked(prof), true
		}
	}

	return m.copyQueueLocked(prof), false
}

// Has reports whether an entry for the pair exists.
func (m *Manager) Has(prof, eleve string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, req := range m.rooms[prof] {
		if req.Eleve == eleve {
			return true
		}
	}
	return false
}

// Queue returns a copy of the prof's current queue.
func (m *Manager) Queue(prof string) []types.PendingRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyQueueLocked(prof)
}

// PendingCount returns the queue length for a prof. Availability in the
// presence snapshot derives from this being zero.
func (m *Manager) PendingCount(prof string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[prof])
}

// RemoveRequester deletes the eleve's entries from every waiting room,
// used when the eleve disconnects. Returns the updated queue per affected
// prof so each one can be notified.
// FUNCTIONAL DISCOVERY: Without this sweep a departed eleve would linger
// as a pending entry, and accepting it would start a call with nobody on
// the other end.
func (m *Manager) RemoveRequester(eleve string) map[string][]types.PendingRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	affected := make(map[string][]types.PendingRequest)
	for prof, queue := range m.rooms {
		for i, req := range queue {
			if req.Eleve == eleve {
				m.rooms[prof] = append(queue[:i], queue[i+1:]...)
				obs.PendingRequests.Dec()
				affected[prof] = m.copyQueueLocked(prof)
				break
			}
		}
	}
	return affected
}

// CascadeRemove deletes the prof's entire room on disconnect and returns
// the entries that were dropped.
func (m *Manager) CascadeRemove(prof string) []types.PendingRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue, exists := m.rooms[prof]
	if !exists {
		return nil
	}

	delete(m.rooms, prof)
	obs.PendingRequests.Sub(float64(len(queue)))
	return queue
}

// copyQueueLocked snapshots a queue; callers must hold m.mu.
func (m *Manager) copyQueueLocked(prof string) []types.PendingRequest {
	queue := m.rooms[prof]
	out := make([]types.PendingRequest, len(queue))
	copy(out, queue)
	return out
}
