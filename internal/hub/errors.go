package hub

import "errors"

// Hub lifecycle and coordination errors
var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
)
