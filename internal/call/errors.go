package call

import "errors"

// Call coordination error types
var (
	ErrSessionAlreadyActive = errors.New("un appel est déjà en cours pour cette paire")
	ErrNoActiveSession      = errors.New("aucun appel en cours pour cette paire")
)
