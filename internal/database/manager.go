package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	dbconfig "tutorcall/pkg/database"
	"tutorcall/pkg/interfaces"
	"tutorcall/pkg/types"
)

// Manager implements the CallStore and RoleResolver interfaces over SQLite.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // Protect closed status
}

// writeOperation represents a database write operation
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager creates a new database manager.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite
	// write contention, and as a side effect totally orders call-start
	// and call-end writes that were queued in order.
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				log.Printf("Database write failed, retrying in 5 seconds: %v", err)
				time.Sleep(5 * time.Second)
				err = op.operation(m.db) // Retry once
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion.
func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("database manager is closed")
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return fmt.Errorf("database manager is shutting down")
	}
}

// InsertCallStart inserts an in-progress appels row and returns its id.
func (m *Manager) InsertCallStart(ctx context.Context, prof, eleve string, startTime time.Time) (string, error) {
	callID := uuid.New().String()

	err := m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO appels (id, prof_username, eleve_username, start_time, statut)
			VALUES (?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query, callID, prof, eleve, startTime, types.StatutEnCours)
		if err != nil {
			return fmt.Errorf("failed to insert call start: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return callID, nil
}

// RecordCallEnd closes the in-progress row for the pair.
// FUNCTIONAL DISCOVERY: Keyed on (prof, eleve, statut=en_cours) rather
// than call id so the update is idempotent - a second end for the same
// pair finds no in-progress row and reports ErrCallNotFound instead of
// corrupting the completed record.
func (m *Manager) RecordCallEnd(ctx context.Context, prof, eleve string, durationMinutes float64) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			UPDATE appels
			SET end_time = ?, duree_minutes = ?, statut = ?
			WHERE prof_username = ? AND eleve_username = ? AND statut = ?
		`
		result, err := db.ExecContext(ctx, query,
			time.Now(), durationMinutes, types.StatutTermine,
			prof, eleve, types.StatutEnCours,
		)
		if err != nil {
			return fmt.Errorf("failed to record call end: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		}
		if rows == 0 {
			return interfaces.ErrCallNotFound
		}
		return nil
	})
}

// ListCalls returns the most recent call records, newest first.
func (m *Manager) ListCalls(ctx context.Context, limit int) ([]*types.CallRecord, error) {
	// Read operations can be concurrent - no need for writeChannel
	query := `
		SELECT id, prof_username, eleve_username, start_time, end_time, duree_minutes, statut
		FROM appels
		ORDER BY start_time DESC
		LIMIT ?
	`

	rows, err := m.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query calls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var calls []*types.CallRecord

	for rows.Next() {
		var record types.CallRecord
		var endTime sql.NullTime
		var minutes sql.NullFloat64

		err := rows.Scan(
			&record.ID,
			&record.Prof,
			&record.Eleve,
			&record.StartTime,
			&endTime,
			&minutes,
			&record.Statut,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call row: %w", err)
		}

		if endTime.Valid {
			record.EndTime = &endTime.Time
		}
		if minutes.Valid {
			record.DureeMinutes = minutes.Float64
		}

		calls = append(calls, &record)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating call rows: %w", err)
	}

	return calls, nil
}

// MonthlyMinutes sums completed-call minutes for a prof in the current
// month, for the dashboard hours report.
func (m *Manager) MonthlyMinutes(ctx context.Context, prof string) (float64, error) {
	now := time.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	query := `
		SELECT COALESCE(SUM(duree_minutes), 0)
		FROM appels
		WHERE prof_username = ? AND statut = ? AND start_time >= ?
	`

	var minutes float64
	err := m.db.QueryRowContext(ctx, query, prof, types.StatutTermine, monthStart).Scan(&minutes)
	if err != nil {
		return 0, fmt.Errorf("failed to sum monthly minutes: %w", err)
	}

	return minutes, nil
}

// ResolveRole returns the stored role for a username.
func (m *Manager) ResolveRole(ctx context.Context, username string) (string, error) {
	query := `SELECT role FROM utilisateurs WHERE username = ?`

	var role string
	err := m.db.QueryRowContext(ctx, query, username).Scan(&role)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", interfaces.ErrRoleNotFound
		}
		return "", fmt.Errorf("failed to query role: %w", err)
	}

	return role, nil
}

// HealthCheck validates database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	_, err := m.db.QueryContext(ctx, "SELECT COUNT(*) FROM appels LIMIT 1")
	if err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}

	return nil
}

// GetDB returns the underlying database connection for migrations.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the database manager.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil // Already closed
	}
	m.closed = true
	m.mu.Unlock()

	// Signal shutdown to writeLoop and wait for it to finish
	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

// applySQLiteOptimizations applies performance pragmas.
func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",   // Write-Ahead Logging for concurrency
		"PRAGMA synchronous = NORMAL", // Balance safety and performance
		"PRAGMA cache_size = -64000",  // 64MB cache
		"PRAGMA temp_store = MEMORY",  // Use memory for temporary tables
		"PRAGMA foreign_keys = ON",    // Ensure referential integrity
		"PRAGMA busy_timeout = 5000",  // 5 second timeout for write coordination
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	return nil
}
