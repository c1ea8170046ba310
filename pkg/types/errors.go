package types

import "errors"

// Envelope validation errors. Each one maps to a single erreur reply;
// none of them terminates the connection.
var (
	ErrInvalidUsername    = errors.New("username must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidRole        = errors.New("role must be 'prof' or 'eleve'")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrMissingTarget      = errors.New("target username is required")
	ErrMissingCallParties = errors.New("prof and eleve usernames are required")
	ErrEmptyMessage       = errors.New("message cannot be empty")
	ErrMissingFilename    = errors.New("filename is required")
	ErrPayloadTooLarge    = errors.New("payload exceeds 64KB limit")
)
