package interfaces

import (
	"context"
	"time"

	"tutorcall/pkg/types"
)

// CallStore handles persistence of call records (the appels table).
// ARCHITECTURAL DISCOVERY: Single interface for all persistence operations
// enables the coordinator to treat storage as a best-effort collaborator;
// a store failure never tears down the live session.
type CallStore interface {
	// InsertCallStart inserts an in-progress call row and returns the
	// server-generated call id.
	InsertCallStart(ctx context.Context, prof, eleve string, startTime time.Time) (string, error)

	// RecordCallEnd closes the in-progress row for the pair: sets
	// end_time, duree_minutes and statut. Returns ErrCallNotFound when no
	// in-progress row exists for the pair.
	RecordCallEnd(ctx context.Context, prof, eleve string, durationMinutes float64) error

	// ListCalls returns the most recent call records, newest first.
	ListCalls(ctx context.Context, limit int) ([]*types.CallRecord, error)

	// MonthlyMinutes sums completed-call minutes for a prof in the
	// current month (dashboard hours reporting).
	MonthlyMinutes(ctx context.Context, prof string) (float64, error)

	// HealthCheck verifies connectivity and basic read access.
	HealthCheck(ctx context.Context) error

	// Close flushes pending writes and closes the database.
	Close() error
}

// RoleResolver is the authoritative role lookup consumed at registration.
// FUNCTIONAL DISCOVERY: The client-declared role is never trusted; the
// resolver decides from the utilisateurs table. Unknown usernames resolve
// to ErrRoleNotFound and the caller applies the eleve default.
type RoleResolver interface {
	ResolveRole(ctx context.Context, username string) (string, error)
}
