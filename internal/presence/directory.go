package presence

import (
	"log"
	"sort"
	"sync"

	"tutorcall/internal/obs"
	"tutorcall/internal/websocket"
	"tutorcall/pkg/types"
)

// PendingCounter reports waiting room depth per prof. Implemented by the
// waiting room manager; injected so availability stays a derived value
// with a single source of truth.
type PendingCounter interface {
	PendingCount(prof string) int
}

// Directory maintains the live set of connected profs and their declared
// metadata, and fans the presence snapshot out to every connection.
// FUNCTIONAL DISCOVERY: disponible is not stored anywhere - it is computed
// at snapshot time as "waiting room empty", so presence can never drift
// from queue state.
type Directory struct {
	mu        sync.RWMutex
	providers map[string]*types.ProviderMetadata
	registry  *websocket.Registry
	pending   PendingCounter
}

// NewDirectory creates a new presence directory.
func NewDirectory(registry *websocket.Registry, pending PendingCounter) *Directory {
	return &Directory{
		providers: make(map[string]*types.ProviderMetadata),
		registry:  registry,
		pending:   pending,
	}
}

// AddProvider records a newly registered prof with its metadata.
func (d *Directory) AddProvider(username string, meta *types.ProviderMetadata) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if meta == nil {
		meta = &types.ProviderMetadata{}
	}
	d.providers[username] = meta
	obs.ConnectedProfs.Set(float64(len(d.providers)))
}

// RemoveProvider drops a prof from the directory on disconnect.
func (d *Directory) RemoveProvider(username string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.providers, username)
	obs.ConnectedProfs.Set(float64(len(d.providers)))
}

// IsProvider reports whether the username is a connected prof.
func (d *Directory) IsProvider(username string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, exists := d.providers[username]
	return exists
}

// Snapshot returns the presence entries for every connected prof, sorted
// by username for stable output in broadcasts and the dashboard API.
func (d *Directory) Snapshot() []types.ProviderStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()

	profs := make([]types.ProviderStatus, 0, len(d.providers))
	for username, meta := range d.providers {
		count := d.pending.PendingCount(username)
		profs = append(profs, types.ProviderStatus{
			Username:        username,
			Disponible:      count == 0,
			AppelsEnAttente: count,
			Specialites:     meta.Specialites,
			Langues:         meta.Langues,
			Region:          meta.Region,
		})
	}

	sort.Slice(profs, func(i, j int) bool { return profs[i].Username < profs[j].Username })
	return profs
}

// Broadcast pushes the current snapshot to every connected identity,
// profs and eleves alike.
// ARCHITECTURAL DISCOVERY: No backpressure on fan-out - a write that fails
// on one stale socket is logged and skipped so one dead peer never stalls
// the presence feed for the rest.
func (d *Directory) Broadcast() {
	message := map[string]interface{}{
		"type":  types.MessageTypeProfList,
		"profs": d.Snapshot(),
	}

	for _, conn := range d.registry.Connections() {
		if err := conn.WriteJSON(message); err != nil {
			log.Printf("Presence broadcast failed for %s: %v", conn.GetUsername(), err)
		}
	}
}

// SendTo answers a single connection's getProfList request.
func (d *Directory) SendTo(conn *websocket.Connection) {
	message := map[string]interface{}{
		"type":  types.MessageTypeProfList,
		"profs": d.Snapshot(),
	}
	if err := conn.WriteJSON(message); err != nil {
		log.Printf("Failed to send profList to %s: %v", conn.GetUsername(), err)
	}
}
