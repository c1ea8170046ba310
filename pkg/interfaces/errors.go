package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrCallNotFound = errors.New("call record not found")
	ErrRoleNotFound = errors.New("username has no stored role")
)
