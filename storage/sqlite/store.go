// Package sqlite provides a SQLite implementation of the sync engine's
// storage interfaces: the resource version store, the operation queue, and
// the conflict store share one database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	stdSync "sync"
	"time"

	syncErrors "github.com/c0deZ3R0/go-sync-engine/errors"
	"github.com/c0deZ3R0/go-sync-engine/logging"
	"github.com/c0deZ3R0/go-sync-engine/syncengine"

	"github.com/mattn/go-sqlite3"
)

const component = "storage/sqlite"

// Config holds configuration options for the Store.
//
// Production-ready defaults are applied by DefaultConfig() including WAL
// mode and a bounded connection pool.
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// When true, automatically appends "?_journal_mode=WAL" to DataSourceName.
	EnableWAL bool

	// Connection pool settings.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL && !strings.Contains(c.DataSourceName, "_journal_mode=") {
		if strings.Contains(c.DataSourceName, "?") {
			c.DataSourceName += "&_journal_mode=WAL"
		} else {
			c.DataSourceName += "?_journal_mode=WAL"
		}
	}
}

// DefaultConfig returns a Config with production-ready defaults.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// Store implements syncengine.VersionStore, syncengine.OperationQueue, and
// syncengine.ConflictStore on SQLite.
type Store struct {
	db     *sql.DB
	mu     stdSync.RWMutex
	closed bool
	logger *logging.Logger
}

var (
	_ syncengine.VersionStore   = (*Store)(nil)
	_ syncengine.OperationQueue = (*Store)(nil)
	_ syncengine.ConflictStore  = (*Store)(nil)
)

// NewWithDataSource is a convenience constructor using default config.
func NewWithDataSource(dataSourceName string) (*Store, error) {
	return New(DefaultConfig(dataSourceName))
}

// New creates a Store from a Config.
func New(config *Config) (*Store, error) {
	if config == nil || config.DataSourceName == "" {
		return nil, syncErrors.E(syncErrors.Component(component), syncErrors.KindValidation,
			"DataSourceName is required")
	}
	config.setDefaults()

	logger := logging.WithComponent(component)
	logger.InfoContext(context.Background(), "opening SQLite database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, syncErrors.E(syncErrors.Component(component), syncErrors.KindUnavailable, err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, syncErrors.E(syncErrors.Component(component), syncErrors.KindUnavailable, err)
	}

	store := &Store{db: db, logger: logger}
	if err := store.setupSchema(); err != nil {
		db.Close()
		return nil, syncErrors.E(syncErrors.Component(component), syncErrors.KindUnavailable, err)
	}
	return store, nil
}

func (s *Store) setupSchema() error {
	query := `
    CREATE TABLE IF NOT EXISTS resource_versions (
        resource_type    TEXT NOT NULL,
        resource_id      TEXT NOT NULL,
        version          INTEGER NOT NULL,
        data             TEXT,
        deleted          INTEGER NOT NULL DEFAULT 0,
        last_modified_by TEXT NOT NULL,
        updated_at       TIMESTAMP NOT NULL,
        PRIMARY KEY (resource_type, resource_id)
    );

    CREATE TABLE IF NOT EXISTS sync_operations (
        id                  TEXT PRIMARY KEY,
        user_id             TEXT NOT NULL,
        resource_type       TEXT NOT NULL,
        resource_id         TEXT NOT NULL,
        operation_type      TEXT NOT NULL,
        payload             TEXT,
        client_version      INTEGER NOT NULL,
        conflict_resolution TEXT NOT NULL,
        status              TEXT NOT NULL,
        retry_count         INTEGER NOT NULL DEFAULT 0,
        created_at          TIMESTAMP NOT NULL,
        processed_at        TIMESTAMP
    );
    CREATE INDEX IF NOT EXISTS idx_operations_user_status ON sync_operations (user_id, status);
    CREATE INDEX IF NOT EXISTS idx_operations_processed_at ON sync_operations (processed_at);

    CREATE TABLE IF NOT EXISTS sync_conflicts (
        id            TEXT PRIMARY KEY,
        operation_id  TEXT NOT NULL,
        user_id       TEXT NOT NULL,
        resource_type TEXT NOT NULL,
        resource_id   TEXT NOT NULL,
        conflict_type TEXT NOT NULL,
        client_data   TEXT,
        server_data   TEXT,
        created_at    TIMESTAMP NOT NULL,
        resolved      INTEGER NOT NULL DEFAULT 0,
        resolution    TEXT,
        merged_data   TEXT,
        resolved_at   TIMESTAMP
    );
    CREATE UNIQUE INDEX IF NOT EXISTS idx_conflicts_singular
        ON sync_conflicts (resource_type, resource_id) WHERE resolved = 0;
    CREATE INDEX IF NOT EXISTS idx_conflicts_user ON sync_conflicts (user_id, resolved);
    `
	_, err := s.db.Exec(query)
	return err
}

// checkOpen guards operations against a closed store.
func (s *Store) checkOpen(op syncErrors.Operation) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return syncErrors.E(op, syncErrors.Component(component), syncErrors.KindUnavailable, "store is closed")
	}
	return nil
}

// wrapDB maps driver failures onto the engine's error taxonomy.
func wrapDB(err error, op syncErrors.Operation) error {
	if err == nil {
		return nil
	}
	if sqliteErr, ok := err.(sqlite3.Error); ok && sqliteErr.Code == sqlite3.ErrConstraint {
		return syncErrors.E(op, syncErrors.Component(component), syncErrors.KindDuplicate, err)
	}
	return syncErrors.E(op, syncErrors.Component(component), syncErrors.KindUnavailable, err)
}

// marshalPayload encodes a payload as JSON; nil payloads become SQL NULL.
func marshalPayload(p syncengine.Payload) (any, error) {
	if p == nil {
		return nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func unmarshalPayload(s sql.NullString) (syncengine.Payload, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var p syncengine.Payload
	if err := json.Unmarshal([]byte(s.String), &p); err != nil {
		return nil, err
	}
	return p, nil
}

// Stats returns database statistics for monitoring.
func (s *Store) Stats() sql.DBStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return sql.DBStats{}
	}
	return s.db.Stats()
}

// Close closes the database connection. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
