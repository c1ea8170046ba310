package waitingroom

import "errors"

// Waiting room error types
var (
	ErrProviderUnavailable = errors.New("prof non disponible")
)
