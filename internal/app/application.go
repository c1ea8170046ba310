package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tutorcall/internal/api"
	"tutorcall/internal/call"
	"tutorcall/internal/config"
	"tutorcall/internal/database"
	"tutorcall/internal/hub"
	"tutorcall/internal/presence"
	"tutorcall/internal/relay"
	"tutorcall/internal/router"
	"tutorcall/internal/waitingroom"
	"tutorcall/internal/websocket"
	pkgdatabase "tutorcall/pkg/database"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config      *config.Config
	dbManager   *database.Manager
	registry    *websocket.Registry
	rooms       *waitingroom.Manager
	directory   *presence.Directory
	coordinator *call.Coordinator
	dispatcher  *router.Router
	messageHub  *hub.Hub
	apiServer   *api.Server
	httpServer  *http.Server
}

// NewApplication creates a new application instance with all components initialized.
// Component initialization follows strict dependency order:
// Database → Registry → WaitingRoom → Presence → Call → Relay → Router → Hub → API → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Initialize database manager (foundation layer)
	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dbConfig := &pkgdatabase.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
		MigrationsPath:  "migrations",
	}

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	// STEP 1.5: Apply database migrations to ensure schema is up to date
	migrationManager := pkgdatabase.NewMigrationManager(dbManager.GetDB(), dbConfig.MigrationsPath)
	if err := migrationManager.ApplyMigrations(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	log.Println("Database migrations applied successfully")

	// STEP 2: Initialize WebSocket registry for connection tracking
	registry := websocket.NewRegistry()

	// STEP 3: Initialize the waiting room and presence directory
	rooms := waitingroom.NewManager()
	directory := presence.NewDirectory(registry, rooms)

	// STEP 4: Initialize the call coordinator and direct-message relay
	coordinator := call.NewCoordinator(registry, dbManager)
	coordinator.SetTickInterval(cfg.Call.TickInterval)
	msgRelay := relay.NewRelay(registry)

	// STEP 5: Initialize the message router with all collaborators
	dispatcher := router.NewRouter(registry, directory, rooms, coordinator, msgRelay, dbManager)

	// STEP 6: Initialize the hub for serialized message processing
	messageHub := hub.NewHub(dispatcher)

	// STEP 7: Initialize API server and WebSocket handler
	apiServer := api.NewServer(directory, dbManager, coordinator)
	wsHandler := websocket.NewHandler(messageHub)

	// STEP 8: Setup HTTP server with API, metrics and WebSocket endpoints
	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.Handle("/metrics", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:      cfg,
		dbManager:   dbManager,
		registry:    registry,
		rooms:       rooms,
		directory:   directory,
		coordinator: coordinator,
		dispatcher:  dispatcher,
		messageHub:  messageHub,
		apiServer:   apiServer,
		httpServer:  httpServer,
	}, nil
}

// Start begins application execution.
// Hub starts first to handle messages, then HTTP server accepts connections.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting tutorcall application on %s", app.httpServer.Addr)

	// STEP 1: Start message hub (background message processing)
	if err := app.messageHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start message hub: %w", err)
	}

	// STEP 2: Start HTTP server (accepts connections)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Verify server is ready before returning
	select {
	case err := <-serverErrCh:
		// Cleanup on startup failure
		_ = app.messageHub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("tutorcall application started successfully")
		return nil
	case <-ctx.Done():
		_ = app.messageHub.Stop()
		return ctx.Err()
	}
}

// Stop gracefully shuts down the application.
// Reverse dependency order: HTTP → Hub → Database
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down tutorcall application")

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// STEP 2: Stop message processing
	if err := app.messageHub.Stop(); err != nil {
		log.Printf("Message hub shutdown error: %v", err)
	}

	// STEP 3: Close database connections
	if err := app.dbManager.Close(); err != nil {
		log.Printf("Database shutdown error: %v", err)
	}

	log.Printf("tutorcall application shutdown complete")
	return nil
}

// GetAddr returns the server address for external connections
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
