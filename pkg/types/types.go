package types

import (
	"encoding/json"
	"time"
)

// Wire message type constants defined exactly as the clients send them.
// The French call-flow names are the protocol; renaming them server-side
// would break every deployed prof/eleve front end.
const (
	// Client-initiated
	MessageTypeRegister      = "register"
	MessageTypeDemandAppel   = "demandAppel"
	MessageTypeAnnulerAppel  = "annulerAppel"
	MessageTypeAccepterAppel = "accepterAppel"
	MessageTypeRejeterAppel  = "rejeterAppel"
	MessageTypeAppelTermine  = "appelTermine"
	MessageTypeOffer         = "offer"
	MessageTypeAnswer        = "answer"
	MessageTypeIce           = "ice"
	MessageTypeChat          = "chat"
	MessageTypeFileUpload    = "fileUpload"
	MessageTypeGetProfList   = "getProfList"

	// Server-pushed
	MessageTypeProfList             = "profList"
	MessageTypeAppelEnAttente       = "appelEnAttente"
	MessageTypeDemandAppelConfirmee = "demandAppelConfirmee"
	MessageTypeDemandAppelAnnulee   = "demandAppelAnnulee"
	MessageTypeAppelAccepte         = "appelAccepte"
	MessageTypeAppelRejete          = "appelRejete"
	MessageTypeTimerUpdate          = "timerUpdate"
	MessageTypeNewFile              = "newFile"
	MessageTypeErreur               = "erreur"
)

// Identity roles as stored in the utilisateurs table and carried on the wire.
const (
	RoleProf  = "prof"
	RoleEleve = "eleve"
)

// Pending request statut values (waiting room entries).
const (
	StatutEnAttente = "en_attente"
)

// Call record statut values (appels rows).
const (
	StatutEnCours = "en_cours"
	StatutTermine = "termine"
)

// Envelope is the single inbound message shape: a flat superset of every
// recognized variant's fields, decoded once at the connection boundary.
// ARCHITECTURAL DISCOVERY: One decode into a closed field set replaces the
// original's untyped tag dispatch; per-type required fields are enforced in
// Validate before anything reaches the router.
type Envelope struct {
	Type string `json:"type"`

	// register
	Username string            `json:"username,omitempty"`
	Role     string            `json:"role,omitempty"`
	Metadata *ProviderMetadata `json:"metadata,omitempty"`

	// call flow
	Target      string `json:"target,omitempty"`
	Sender      string `json:"sender,omitempty"`
	Subject     string `json:"subject,omitempty"`
	Prof        string `json:"prof,omitempty"`
	Eleve       string `json:"eleve,omitempty"`
	EleveRejete string `json:"eleveRejete,omitempty"`

	// signaling relay - payload stays opaque to the server
	Payload json.RawMessage `json:"payload,omitempty"`

	// chat / file notices
	Message  string `json:"message,omitempty"`
	Filename string `json:"filename,omitempty"`
	Content  string `json:"content,omitempty"`
}

// ProviderMetadata is the availability metadata a provider declares at
// registration. All fields optional; the directory stores it verbatim.
type ProviderMetadata struct {
	Specialites []string `json:"specialites,omitempty"`
	Langues     []string `json:"langues,omitempty"`
	Region      string   `json:"region,omitempty"`
}

// PendingRequest is one waiting room entry.
// FUNCTIONAL DISCOVERY: statut travels on the wire so the prof UI renders
// entries without a second lookup; while an entry exists it is always
// en_attente - accept and reject both remove it.
type PendingRequest struct {
	Eleve     string    `json:"eleve"`
	Subject   string    `json:"subject,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Statut    string    `json:"statut"`
}

// ProviderStatus is one profList entry: live presence plus derived
// availability. Disponible is computed server-side as AppelsEnAttente == 0,
// never toggled by the client.
type ProviderStatus struct {
	Username        string   `json:"username"`
	Disponible      bool     `json:"disponible"`
	AppelsEnAttente int      `json:"appelsEnAttente"`
	Specialites     []string `json:"specialites,omitempty"`
	Langues         []string `json:"langues,omitempty"`
	Region          string   `json:"region,omitempty"`
}

// CallRecord mirrors one appels row.
type CallRecord struct {
	ID           string     `json:"id" db:"id"`
	Prof         string     `json:"prof" db:"prof_username"`
	Eleve        string     `json:"eleve" db:"eleve_username"`
	StartTime    time.Time  `json:"start_time" db:"start_time"`
	EndTime      *time.Time `json:"end_time,omitempty" db:"end_time"`
	DureeMinutes float64    `json:"duree_minutes" db:"duree_minutes"`
	Statut       string     `json:"statut" db:"statut"`
}
