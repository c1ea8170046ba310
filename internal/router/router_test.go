package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"tutorcall/internal/call"
	"tutorcall/internal/presence"
	"tutorcall/internal/relay"
	"tutorcall/internal/waitingroom"
	"tutorcall/internal/websocket"
	"tutorcall/pkg/interfaces"
	"tutorcall/pkg/types"
)

// mockResolver resolves roles from a fixed map; unknown usernames get
// ErrRoleNotFound (the router defaults them to eleve).
type mockResolver struct {
	roles map[string]string
}

func (m *mockResolver) ResolveRole(ctx context.Context, username string) (string, error) {
	if role, ok := m.roles[username]; ok {
		return role, nil
	}
	return "", interfaces.ErrRoleNotFound
}

// nullStore satisfies interfaces.CallStore for router tests that do not
// assert on persistence.
type nullStore struct{}

func (nullStore) InsertCallStart(ctx context.Context, prof, eleve string, startTime time.Time) (string, error) {
	return "id", nil
}
func (nullStore) RecordCallEnd(ctx context.Context, prof, eleve string, durationMinutes float64) error {
	return nil
}
func (nullStore) ListCalls(ctx context.Context, limit int) ([]*types.CallRecord, error) {
	return nil, nil
}
func (nullStore) MonthlyMinutes(ctx context.Context, prof string) (float64, error) { return 0, nil }
func (nullStore) HealthCheck(ctx context.Context) error                            { return nil }
func (nullStore) Close() error                                                     { return nil }

type testHarness struct {
	router   *Router
	registry *websocket.Registry
	rooms    *waitingroom.Manager
	calls    *call.Coordinator
}

func newTestHarness(t *testing.T, roles map[string]string) *testHarness {
	t.Helper()

	registry := websocket.NewRegistry()
	rooms := waitingroom.NewManager()
	directory := presence.NewDirectory(registry, rooms)
	coordinator := call.NewCoordinator(registry, nullStore{})
	coordinator.SetTickInterval(time.Hour) // Keep ticks out of assertions
	msgRelay := relay.NewRelay(registry)

	r := NewRouter(registry, directory, rooms, coordinator, msgRelay, &mockResolver{roles: roles})
	return &testHarness{router: r, registry: registry, rooms: rooms, calls: coordinator}
}

var testUpgrader = gorilla.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// testClient is one simulated peer: the server-side Connection the router
// sees plus the raw client socket for reading pushes.
type testClient struct {
	conn   *websocket.Connection
	socket *gorilla.Conn

	mu      sync.Mutex
	backlog []map[string]interface{}
}

func newTestClient(t *testing.T) *testClient {
	t.Helper()

	serverSide := make(chan *websocket.Connection, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverSide <- websocket.NewConnection(raw)
	}))
	t.Cleanup(func() { server.Close() })

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	socket, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { socket.Close() })

	conn := <-serverSide
	t.Cleanup(func() { _ = conn.Close() })

	return &testClient{conn: conn, socket: socket}
}

// next returns the first received message matching the type, skipping
// unrelated pushes (profList broadcasts arrive interleaved with everything).
func (c *testClient) next(t *testing.T, msgType string) map[string]interface{} {
	t.Helper()

	c.mu.Lock()
	for i, msg := range c.backlog {
		if msg["type"] == msgType {
			c.backlog = append(c.backlog[:i], c.backlog[i+1:]...)
			c.mu.Unlock()
			return msg
		}
	}
	c.mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_ = c.socket.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg map[string]interface{}
		if err := c.socket.ReadJSON(&msg); err != nil {
			t.Fatalf("reading for %q: %v", msgType, err)
		}
		if msg["type"] == msgType {
			return msg
		}
		c.mu.Lock()
		c.backlog = append(c.backlog, msg)
		c.mu.Unlock()
	}
	t.Fatalf("never received %q", msgType)
	return nil
}

// expectNone asserts no message of the type arrives within the window.
func (c *testClient) expectNone(t *testing.T, msgType string, window time.Duration) {
	t.Helper()

	c.mu.Lock()
	for _, msg := range c.backlog {
		if msg["type"] == msgType {
			c.mu.Unlock()
			t.Fatalf("unexpected %q already received: %v", msgType, msg)
		}
	}
	c.mu.Unlock()

	end := time.Now().Add(window)
	for time.Now().Before(end) {
		_ = c.socket.SetReadDeadline(end)
		var msg map[string]interface{}
		if err := c.socket.ReadJSON(&msg); err != nil {
			return // Timed out: nothing arrived
		}
		if msg["type"] == msgType {
			t.Fatalf("unexpected %q: %v", msgType, msg)
		}
		c.mu.Lock()
		c.backlog = append(c.backlog, msg)
		c.mu.Unlock()
	}
}

func register(t *testing.T, h *testHarness, c *testClient, username string) {
	t.Helper()
	h.router.Dispatch(c.conn, &types.Envelope{Type: types.MessageTypeRegister, Username: username})
}

func TestRouter_RegisterProf(t *testing.T) {
	h := newTestHarness(t, map[string]string{"prof1": types.RoleProf})
	prof := newTestClient(t)

	register(t, h, prof, "prof1")

	if !prof.conn.IsRegistered() || prof.conn.GetRole() != types.RoleProf {
		t.Fatal("prof connection not registered with prof role")
	}

	// Prof registration opens a waiting room and broadcasts presence
	msg := prof.next(t, types.MessageTypeProfList)
	profs, ok := msg["profs"].([]interface{})
	if !ok || len(profs) != 1 {
		t.Fatalf("expected 1 prof in broadcast, got %v", msg["profs"])
	}
	entry := profs[0].(map[string]interface{})
	if entry["username"] != "prof1" || entry["disponible"] != true {
		t.Errorf("unexpected presence entry: %v", entry)
	}
}

func TestRouter_RegisterUnknownDefaultsToEleve(t *testing.T) {
	h := newTestHarness(t, nil)
	client := newTestClient(t)

	register(t, h, client, "somebody")

	if client.conn.GetRole() != types.RoleEleve {
		t.Errorf("unknown username should default to eleve, got %q", client.conn.GetRole())
	}
}

func TestRouter_DuplicateRegistrationRejected(t *testing.T) {
	h := newTestHarness(t, map[string]string{"prof1": types.RoleProf})
	first := newTestClient(t)
	second := newTestClient(t)

	register(t, h, first, "prof1")
	register(t, h, second, "prof1")

	msg := second.next(t, types.MessageTypeErreur)
	if msg["message"] != ErrDuplicateUsername.Error() {
		t.Errorf("expected duplicate username erreur, got %v", msg["message"])
	}

	// The original connection must remain the registered one
	got, exists := h.registry.Lookup("prof1")
	if !exists || got != first.conn {
		t.Fatal("original connection was displaced by the duplicate")
	}

	// The rejected socket's disconnect must not cascade into prof1's state
	h.router.HandleDisconnect(second.conn)
	if _, exists := h.registry.Lookup("prof1"); !exists {
		t.Error("duplicate's cleanup evicted the live connection")
	}
}

func TestRouter_RejectedDuplicateCannotEndVictimCall(t *testing.T) {
	h := newTestHarness(t, map[string]string{"prof1": types.RoleProf})
	prof := newTestClient(t)
	eleve := newTestClient(t)

	register(t, h, prof, "prof1")
	register(t, h, eleve, "eleve1")
	h.router.Dispatch(eleve.conn, &types.Envelope{Type: types.MessageTypeDemandAppel, Target: "prof1"})
	h.router.Dispatch(prof.conn, &types.Envelope{Type: types.MessageTypeAccepterAppel, Prof: "prof1", Eleve: "eleve1"})
	eleve.next(t, types.MessageTypeAppelAccepte)

	// A second login with the eleve's name is rejected and must leave
	// the connection anonymous: a hangup dispatched right behind the
	// rejected register may not act under the victim's username.
	intruder := newTestClient(t)
	register(t, h, intruder, "eleve1")
	h.router.Dispatch(intruder.conn, &types.Envelope{Type: types.MessageTypeAppelTermine, Prof: "prof1", Eleve: "eleve1"})

	if intruder.conn.IsRegistered() {
		t.Fatal("rejected duplicate should not keep an identity")
	}
	if !h.calls.Active("prof1", "eleve1") {
		t.Fatal("victim's call was terminated by a rejected duplicate")
	}
	prof.expectNone(t, types.MessageTypeAppelTermine, 200*time.Millisecond)
}

func TestRouter_MessagesBeforeRegistrationRejected(t *testing.T) {
	h := newTestHarness(t, nil)
	client := newTestClient(t)

	h.router.Dispatch(client.conn, &types.Envelope{Type: types.MessageTypeDemandAppel, Target: "prof1"})

	msg := client.next(t, types.MessageTypeErreur)
	if msg["message"] != ErrNotRegistered.Error() {
		t.Errorf("expected registration-required erreur, got %v", msg["message"])
	}
}

func TestRouter_DemandAppelFlow(t *testing.T) {
	h := newTestHarness(t, map[string]string{"prof1": types.RoleProf})
	prof := newTestClient(t)
	eleve := newTestClient(t)

	register(t, h, prof, "prof1")
	register(t, h, eleve, "eleve1")

	h.router.Dispatch(eleve.conn, &types.Envelope{
		Type:    types.MessageTypeDemandAppel,
		Target:  "prof1",
		Subject: "algebra",
	})

	// Prof sees the queue update
	queueMsg := prof.next(t, types.MessageTypeAppelEnAttente)
	appels, ok := queueMsg["appels"].([]interface{})
	if !ok || len(appels) != 1 {
		t.Fatalf("expected 1 pending entry, got %v", queueMsg["appels"])
	}
	entry := appels[0].(map[string]interface{})
	if entry["eleve"] != "eleve1" || entry["subject"] != "algebra" {
		t.Errorf("unexpected pending entry: %v", entry)
	}

	// Eleve gets the confirmation
	conf := eleve.next(t, types.MessageTypeDemandAppelConfirmee)
	if conf["prof"] != "prof1" {
		t.Errorf("confirmation names wrong prof: %v", conf["prof"])
	}

	// Availability flipped in the follow-up broadcast
	deadline := time.Now().Add(2 * time.Second)
	for {
		list := eleve.next(t, types.MessageTypeProfList)
		profs := list["profs"].([]interface{})
		entry := profs[0].(map[string]interface{})
		if entry["disponible"] == false {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("presence never showed prof1 unavailable")
		}
	}
}

func TestRouter_DemandAppelUnavailableProf(t *testing.T) {
	h := newTestHarness(t, nil)
	eleve := newTestClient(t)
	register(t, h, eleve, "eleve1")

	h.router.Dispatch(eleve.conn, &types.Envelope{Type: types.MessageTypeDemandAppel, Target: "prof1"})

	msg := eleve.next(t, types.MessageTypeErreur)
	if msg["message"] != waitingroom.ErrProviderUnavailable.Error() {
		t.Errorf("expected provider-unavailable erreur, got %v", msg["message"])
	}
	if h.rooms.Has("prof1", "eleve1") {
		t.Error("no entry should be created for an unavailable prof")
	}
}

func TestRouter_DuplicateDemandAbsorbed(t *testing.T) {
	h := newTestHarness(t, map[string]string{"prof1": types.RoleProf})
	prof := newTestClient(t)
	eleve := newTestClient(t)
	register(t, h, prof, "prof1")
	register(t, h, eleve, "eleve1")

	demand := &types.Envelope{Type: types.MessageTypeDemandAppel, Target: "prof1"}
	h.router.Dispatch(eleve.conn, demand)
	eleve.next(t, types.MessageTypeDemandAppelConfirmee)

	h.router.Dispatch(eleve.conn, demand)

	// No error, no second confirmation
	eleve.expectNone(t, types.MessageTypeErreur, 200*time.Millisecond)
	eleve.expectNone(t, types.MessageTypeDemandAppelConfirmee, 100*time.Millisecond)

	if h.rooms.PendingCount("prof1") != 1 {
		t.Errorf("expected 1 pending entry, got %d", h.rooms.PendingCount("prof1"))
	}
}

func TestRouter_AnnulerAppel(t *testing.T) {
	h := newTestHarness(t, map[string]string{"prof1": types.RoleProf})
	prof := newTestClient(t)
	eleve := newTestClient(t)
	register(t, h, prof, "prof1")
	register(t, h, eleve, "eleve1")

	h.router.Dispatch(eleve.conn, &types.Envelope{Type: types.MessageTypeDemandAppel, Target: "prof1"})
	eleve.next(t, types.MessageTypeDemandAppelConfirmee)

	h.router.Dispatch(eleve.conn, &types.Envelope{Type: types.MessageTypeAnnulerAppel, Target: "prof1"})

	conf := eleve.next(t, types.MessageTypeDemandAppelAnnulee)
	if conf["prof"] != "prof1" {
		t.Errorf("cancellation names wrong prof: %v", conf["prof"])
	}
	if h.rooms.Has("prof1", "eleve1") {
		t.Error("entry should be removed after cancel")
	}
}

func TestRouter_AccepterAppelStartsCall(t *testing.T) {
	h := newTestHarness(t, map[string]string{"prof1": types.RoleProf})
	prof := newTestClient(t)
	eleve := newTestClient(t)
	register(t, h, prof, "prof1")
	register(t, h, eleve, "eleve1")

	h.router.Dispatch(eleve.conn, &types.Envelope{Type: types.MessageTypeDemandAppel, Target: "prof1"})
	eleve.next(t, types.MessageTypeDemandAppelConfirmee)

	h.router.Dispatch(prof.conn, &types.Envelope{
		Type: types.MessageTypeAccepterAppel, Prof: "prof1", Eleve: "eleve1",
	})

	accepted := eleve.next(t, types.MessageTypeAppelAccepte)
	if accepted["prof"] != "prof1" || accepted["eleve"] != "eleve1" {
		t.Errorf("unexpected appelAccepte: %v", accepted)
	}

	if !h.calls.Active("prof1", "eleve1") {
		t.Error("call session should be active after accept")
	}
	if h.rooms.Has("prof1", "eleve1") {
		t.Error("pending entry should be consumed by accept")
	}
}

func TestRouter_AccepterAppelOnlyByNamedProf(t *testing.T) {
	h := newTestHarness(t, map[string]string{"prof1": types.RoleProf, "prof2": types.RoleProf})
	prof2 := newTestClient(t)
	eleve := newTestClient(t)
	register(t, h, prof2, "prof2")
	register(t, h, eleve, "eleve1")

	// prof2 tries to accept on prof1's behalf
	h.router.Dispatch(prof2.conn, &types.Envelope{
		Type: types.MessageTypeAccepterAppel, Prof: "prof1", Eleve: "eleve1",
	})

	msg := prof2.next(t, types.MessageTypeErreur)
	if msg["message"] != ErrProviderOnly.Error() {
		t.Errorf("expected provider-only erreur, got %v", msg["message"])
	}
	if h.calls.Active("prof1", "eleve1") {
		t.Error("no call should start from a forged accept")
	}

	// An eleve cannot accept at all
	h.router.Dispatch(eleve.conn, &types.Envelope{
		Type: types.MessageTypeAccepterAppel, Prof: "eleve1", Eleve: "eleve1",
	})
	if msg := eleve.next(t, types.MessageTypeErreur); msg["message"] != ErrProviderOnly.Error() {
		t.Errorf("expected provider-only erreur for eleve, got %v", msg["message"])
	}
}

func TestRouter_AccepterAppelRequesterGone(t *testing.T) {
	h := newTestHarness(t, map[string]string{"prof1": types.RoleProf})
	prof := newTestClient(t)
	eleve := newTestClient(t)
	register(t, h, prof, "prof1")
	register(t, h, eleve, "eleve1")

	h.router.Dispatch(eleve.conn, &types.Envelope{Type: types.MessageTypeDemandAppel, Target: "prof1"})
	eleve.next(t, types.MessageTypeDemandAppelConfirmee)

	// Eleve disconnects before the prof answers
	h.router.HandleDisconnect(eleve.conn)

	h.router.Dispatch(prof.conn, &types.Envelope{
		Type: types.MessageTypeAccepterAppel, Prof: "prof1", Eleve: "eleve1",
	})

	msg := prof.next(t, types.MessageTypeErreur)
	if msg["message"] != ErrRequesterAbsent.Error() {
		t.Errorf("expected requester-absent erreur, got %v", msg["message"])
	}
	if h.calls.Active("prof1", "eleve1") {
		t.Error("no call should start for a departed eleve")
	}
}

func TestRouter_RejeterAppel(t *testing.T) {
	h := newTestHarness(t, map[string]string{"prof1": types.RoleProf})
	prof := newTestClient(t)
	eleve := newTestClient(t)
	register(t, h, prof, "prof1")
	register(t, h, eleve, "eleve1")

	h.router.Dispatch(eleve.conn, &types.Envelope{Type: types.MessageTypeDemandAppel, Target: "prof1"})
	eleve.next(t, types.MessageTypeDemandAppelConfirmee)

	h.router.Dispatch(prof.conn, &types.Envelope{
		Type: types.MessageTypeRejeterAppel, EleveRejete: "eleve1",
	})

	rejected := eleve.next(t, types.MessageTypeAppelRejete)
	if rejected["prof"] != "prof1" {
		t.Errorf("rejection names wrong prof: %v", rejected["prof"])
	}
	if h.rooms.Has("prof1", "eleve1") {
		t.Error("entry should be removed after rejection")
	}
	if h.calls.Active("prof1", "eleve1") {
		t.Error("no call session should exist after rejection")
	}
}

func TestRouter_AppelTermineByEitherParty(t *testing.T) {
	h := newTestHarness(t, map[string]string{"prof1": types.RoleProf})
	prof := newTestClient(t)
	eleve := newTestClient(t)
	register(t, h, prof, "prof1")
	register(t, h, eleve, "eleve1")

	h.router.Dispatch(eleve.conn, &types.Envelope{Type: types.MessageTypeDemandAppel, Target: "prof1"})
	eleve.next(t, types.MessageTypeDemandAppelConfirmee)
	h.router.Dispatch(prof.conn, &types.Envelope{
		Type: types.MessageTypeAccepterAppel, Prof: "prof1", Eleve: "eleve1",
	})
	eleve.next(t, types.MessageTypeAppelAccepte)

	// Eleve hangs up
	h.router.Dispatch(eleve.conn, &types.Envelope{
		Type: types.MessageTypeAppelTermine, Prof: "prof1", Eleve: "eleve1",
	})

	for _, c := range []*testClient{prof, eleve} {
		notice := c.next(t, types.MessageTypeAppelTermine)
		if notice["prof"] != "prof1" || notice["eleve"] != "eleve1" {
			t.Errorf("unexpected termination notice: %v", notice)
		}
		if _, ok := notice["duree"]; !ok {
			t.Error("termination notice carries no duree")
		}
	}

	if h.calls.Active("prof1", "eleve1") {
		t.Error("session should be gone after appelTermine")
	}
}

func TestRouter_AppelTermineThirdPartyRejected(t *testing.T) {
	h := newTestHarness(t, map[string]string{"prof1": types.RoleProf})
	prof := newTestClient(t)
	eleve := newTestClient(t)
	intruder := newTestClient(t)
	register(t, h, prof, "prof1")
	register(t, h, eleve, "eleve1")
	register(t, h, intruder, "eleve2")

	h.router.Dispatch(eleve.conn, &types.Envelope{Type: types.MessageTypeDemandAppel, Target: "prof1"})
	eleve.next(t, types.MessageTypeDemandAppelConfirmee)
	h.router.Dispatch(prof.conn, &types.Envelope{
		Type: types.MessageTypeAccepterAppel, Prof: "prof1", Eleve: "eleve1",
	})
	eleve.next(t, types.MessageTypeAppelAccepte)

	h.router.Dispatch(intruder.conn, &types.Envelope{
		Type: types.MessageTypeAppelTermine, Prof: "prof1", Eleve: "eleve1",
	})

	if msg := intruder.next(t, types.MessageTypeErreur); msg["message"] != ErrNotCallParty.Error() {
		t.Errorf("expected not-call-party erreur, got %v", msg["message"])
	}
	if !h.calls.Active("prof1", "eleve1") {
		t.Error("third party must not be able to end the call")
	}
}

func TestRouter_DemandAppelWhileInCallRejected(t *testing.T) {
	h := newTestHarness(t, map[string]string{"prof1": types.RoleProf})
	prof := newTestClient(t)
	eleve := newTestClient(t)
	register(t, h, prof, "prof1")
	register(t, h, eleve, "eleve1")

	h.router.Dispatch(eleve.conn, &types.Envelope{Type: types.MessageTypeDemandAppel, Target: "prof1"})
	eleve.next(t, types.MessageTypeDemandAppelConfirmee)
	h.router.Dispatch(prof.conn, &types.Envelope{
		Type: types.MessageTypeAccepterAppel, Prof: "prof1", Eleve: "eleve1",
	})
	eleve.next(t, types.MessageTypeAppelAccepte)

	// A pending request and an active call for the same pair are exclusive
	h.router.Dispatch(eleve.conn, &types.Envelope{Type: types.MessageTypeDemandAppel, Target: "prof1"})

	if msg := eleve.next(t, types.MessageTypeErreur); msg["message"] != ErrPairAlreadyInCall.Error() {
		t.Errorf("expected pair-in-call erreur, got %v", msg["message"])
	}
	if h.rooms.Has("prof1", "eleve1") {
		t.Error("no pending entry should coexist with the active call")
	}
}

func TestRouter_SignalingRelayOverwritesSender(t *testing.T) {
	h := newTestHarness(t, map[string]string{"prof1": types.RoleProf})
	prof := newTestClient(t)
	eleve := newTestClient(t)
	register(t, h, prof, "prof1")
	register(t, h, eleve, "eleve1")

	payload := json.RawMessage(`{"sdp":"v=0","type":"offer"}`)
	h.router.Dispatch(eleve.conn, &types.Envelope{
		Type:    types.MessageTypeOffer,
		Target:  "prof1",
		Sender:  "forged-identity",
		Payload: payload,
	})

	msg := prof.next(t, types.MessageTypeOffer)
	if msg["sender"] != "eleve1" {
		t.Errorf("sender should be the authenticated identity, got %v", msg["sender"])
	}

	forwarded, _ := json.Marshal(msg["payload"])
	var original, got map[string]interface{}
	_ = json.Unmarshal(payload, &original)
	_ = json.Unmarshal(forwarded, &got)
	if got["sdp"] != original["sdp"] {
		t.Errorf("payload not forwarded verbatim: %v", msg["payload"])
	}
}

func TestRouter_ChatRelay(t *testing.T) {
	h := newTestHarness(t, map[string]string{"prof1": types.RoleProf})
	prof := newTestClient(t)
	eleve := newTestClient(t)
	register(t, h, prof, "prof1")
	register(t, h, eleve, "eleve1")

	h.router.Dispatch(eleve.conn, &types.Envelope{
		Type: types.MessageTypeChat, Target: "prof1", Message: "bonjour",
	})

	msg := prof.next(t, types.MessageTypeChat)
	if msg["sender"] != "eleve1" || msg["message"] != "bonjour" {
		t.Errorf("unexpected chat relay: %v", msg)
	}
	if _, ok := msg["timestamp"]; !ok {
		t.Error("chat relay missing server timestamp")
	}
}

func TestRouter_FileUploadRelay(t *testing.T) {
	h := newTestHarness(t, map[string]string{"prof1": types.RoleProf})
	prof := newTestClient(t)
	eleve := newTestClient(t)
	register(t, h, prof, "prof1")
	register(t, h, eleve, "eleve1")

	h.router.Dispatch(eleve.conn, &types.Envelope{
		Type: types.MessageTypeFileUpload, Target: "prof1",
		Filename: "devoir.pdf", Content: "aGVsbG8=",
	})

	msg := prof.next(t, types.MessageTypeNewFile)
	if msg["sender"] != "eleve1" || msg["filename"] != "devoir.pdf" || msg["content"] != "aGVsbG8=" {
		t.Errorf("unexpected file notice: %v", msg)
	}
}

func TestRouter_GetProfList(t *testing.T) {
	h := newTestHarness(t, map[string]string{"prof1": types.RoleProf})
	prof := newTestClient(t)
	eleve := newTestClient(t)
	register(t, h, prof, "prof1")
	register(t, h, eleve, "eleve1")

	h.router.Dispatch(eleve.conn, &types.Envelope{Type: types.MessageTypeGetProfList})

	msg := eleve.next(t, types.MessageTypeProfList)
	profs, ok := msg["profs"].([]interface{})
	if !ok || len(profs) != 1 {
		t.Fatalf("expected 1 prof, got %v", msg["profs"])
	}
}

func TestRouter_ProfDisconnectCascade(t *testing.T) {
	h := newTestHarness(t, map[string]string{"prof1": types.RoleProf})
	prof := newTestClient(t)
	eleve := newTestClient(t)
	register(t, h, prof, "prof1")
	register(t, h, eleve, "eleve1")

	h.router.Dispatch(eleve.conn, &types.Envelope{Type: types.MessageTypeDemandAppel, Target: "prof1"})
	eleve.next(t, types.MessageTypeDemandAppelConfirmee)

	h.router.HandleDisconnect(prof.conn)

	if _, exists := h.registry.Lookup("prof1"); exists {
		t.Error("prof should be unregistered after disconnect")
	}
	if h.rooms.Has("prof1", "eleve1") {
		t.Error("waiting room should be cleared on prof disconnect")
	}

	// Eleve sees the prof vanish from presence
	deadline := time.Now().Add(2 * time.Second)
	for {
		list := eleve.next(t, types.MessageTypeProfList)
		profs := list["profs"].([]interface{})
		if len(profs) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("presence never dropped the disconnected prof")
		}
	}
}

func TestRouter_EleveDisconnectSweepsQueuesAndEndsCalls(t *testing.T) {
	h := newTestHarness(t, map[string]string{
		"prof1": types.RoleProf,
		"prof2": types.RoleProf,
	})
	prof1 := newTestClient(t)
	prof2 := newTestClient(t)
	eleve := newTestClient(t)
	register(t, h, prof1, "prof1")
	register(t, h, prof2, "prof2")
	register(t, h, eleve, "eleve1")

	// In call with prof1, queued with prof2
	h.router.Dispatch(eleve.conn, &types.Envelope{Type: types.MessageTypeDemandAppel, Target: "prof1"})
	eleve.next(t, types.MessageTypeDemandAppelConfirmee)
	h.router.Dispatch(prof1.conn, &types.Envelope{
		Type: types.MessageTypeAccepterAppel, Prof: "prof1", Eleve: "eleve1",
	})
	eleve.next(t, types.MessageTypeAppelAccepte)
	h.router.Dispatch(eleve.conn, &types.Envelope{Type: types.MessageTypeDemandAppel, Target: "prof2"})
	eleve.next(t, types.MessageTypeDemandAppelConfirmee)

	h.router.HandleDisconnect(eleve.conn)

	if h.calls.Active("prof1", "eleve1") {
		t.Error("call should be force-terminated on eleve disconnect")
	}
	if h.rooms.Has("prof2", "eleve1") {
		t.Error("pending entry should be swept on eleve disconnect")
	}

	// prof1 is told the call ended with a server-computed duration
	notice := prof1.next(t, types.MessageTypeAppelTermine)
	if notice["eleve"] != "eleve1" {
		t.Errorf("unexpected termination notice: %v", notice)
	}

	// prof2 sees its queue drain
	deadline := time.Now().Add(2 * time.Second)
	for {
		queueMsg := prof2.next(t, types.MessageTypeAppelEnAttente)
		if appels, ok := queueMsg["appels"].([]interface{}); ok && len(appels) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("prof2 never saw the swept queue")
		}
	}
}
