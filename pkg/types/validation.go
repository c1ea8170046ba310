package types

import "regexp"

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization;
// username validation runs on every inbound message that names a peer.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// maxPayloadBytes bounds opaque relay payloads (SDP offers stay well under
// this; anything larger is a misbehaving client).
const maxPayloadBytes = 65536

// IsValidUsername checks if a username meets format requirements.
// 1-50 characters keeps identifiers displayable and safe as map keys.
func IsValidUsername(username string) bool {
	if len(username) < 1 || len(username) > 50 {
		return false
	}
	return usernameRegex.MatchString(username)
}

// IsValidRole checks the role against the closed role set.
func IsValidRole(role string) bool {
	return role == RoleProf || role == RoleEleve
}

// Validate enforces the per-type required fields of the closed message set.
// ARCHITECTURAL DISCOVERY: Validation at the type level keeps the router
// free of field checks - by the time an envelope reaches dispatch it is
// structurally sound, and unknown types are rejected here exactly once.
func (e *Envelope) Validate() error {
	switch e.Type {
	case MessageTypeRegister:
		if !IsValidUsername(e.Username) {
			return ErrInvalidUsername
		}
		// Role is advisory only (the resolver is authoritative), but a
		// declared role must still be one of the known values.
		if e.Role != "" && !IsValidRole(e.Role) {
			return ErrInvalidRole
		}
		return nil

	case MessageTypeDemandAppel, MessageTypeAnnulerAppel:
		if !IsValidUsername(e.Target) {
			return ErrMissingTarget
		}
		return nil

	case MessageTypeAccepterAppel, MessageTypeAppelTermine:
		if !IsValidUsername(e.Prof) || !IsValidUsername(e.Eleve) {
			return ErrMissingCallParties
		}
		return nil

	case MessageTypeRejeterAppel:
		if !IsValidUsername(e.EleveRejete) {
			return ErrMissingCallParties
		}
		return nil

	case MessageTypeOffer, MessageTypeAnswer, MessageTypeIce:
		if !IsValidUsername(e.Target) {
			return ErrMissingTarget
		}
		if len(e.Payload) > maxPayloadBytes {
			return ErrPayloadTooLarge
		}
		return nil

	case MessageTypeChat:
		if !IsValidUsername(e.Target) {
			return ErrMissingTarget
		}
		if e.Message == "" {
			return ErrEmptyMessage
		}
		return nil

	case MessageTypeFileUpload:
		if !IsValidUsername(e.Target) {
			return ErrMissingTarget
		}
		if e.Filename == "" {
			return ErrMissingFilename
		}
		if len(e.Content) > maxPayloadBytes {
			return ErrPayloadTooLarge
		}
		return nil

	case MessageTypeGetProfList:
		return nil

	default:
		return ErrUnknownMessageType
	}
}
