package router

import "errors"

// Dispatch error strings sent back as erreur messages. Wire-facing text
// stays French to match what the prof/eleve pages display verbatim.
var (
	ErrRateLimitExceeded = errors.New("trop de messages, réessayez dans une minute")
	ErrNotRegistered     = errors.New("enregistrement requis avant tout autre message")
	ErrAlreadyRegistered = errors.New("connexion déjà enregistrée")
	ErrDuplicateUsername = errors.New("nom d'utilisateur déjà connecté")
	ErrNotCallParty      = errors.New("vous n'êtes pas partie à cet appel")
	ErrProviderOnly      = errors.New("opération réservée aux profs")
	ErrRequesterAbsent   = errors.New("élève non connecté")
	ErrPairAlreadyInCall = errors.New("un appel est déjà en cours avec ce prof")
)
