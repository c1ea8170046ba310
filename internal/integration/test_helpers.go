package integration

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	_ "github.com/mattn/go-sqlite3"

	"tutorcall/internal/database"
	"tutorcall/internal/websocket"
	dbconfig "tutorcall/pkg/database"
)

// initializeTestDatabase creates a test database and applies the schema
// migration directly, bypassing the migration manager.
func initializeTestDatabase(t *testing.T, dbPath string) {
	t.Helper()

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close database: %v", err)
		}
	}()

	migrationPath := filepath.Join("..", "..", "migrations", "001_initial_schema.sql")
	migration, err := os.ReadFile(migrationPath)
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}

	if _, err := db.Exec(string(migration)); err != nil {
		t.Fatalf("Failed to apply migration: %v", err)
	}
}

// newTestManager builds a database manager backed by a throwaway file.
func newTestManager(t *testing.T) *database.Manager {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "integration.db")
	initializeTestDatabase(t, dbPath)

	config := &dbconfig.Config{
		DatabasePath:    dbPath,
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 10,
		MigrationsPath:  "../../migrations",
	}

	manager, err := database.NewManager(config)
	if err != nil {
		t.Fatalf("Failed to create database manager: %v", err)
	}
	t.Cleanup(func() {
		if err := manager.Close(); err != nil {
			t.Logf("Failed to close database manager: %v", err)
		}
	})
	return manager
}

var testUpgrader = gorilla.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// peer is one simulated client: the server-side Connection the router
// dispatches on plus the raw socket the client reads pushes from.
type peer struct {
	conn   *websocket.Connection
	socket *gorilla.Conn
}

func newPeer(t *testing.T) *peer {
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

	return &peer{conn: conn, socket: socket}
}

// waitFor reads until a message of the wanted type arrives, skipping
// interleaved presence broadcasts.
func (p *peer) waitFor(t *testing.T, msgType string) map[string]interface{} {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_ = p.socket.SetReadDeadline(deadline)
		var msg map[string]interface{}
		if err := p.socket.ReadJSON(&msg); err != nil {
			t.Fatalf("reading for %q: %v", msgType, err)
		}
		if msg["type"] == msgType {
			return msg
		}
	}
	t.Fatalf("never received %q", msgType)
	return nil
}
