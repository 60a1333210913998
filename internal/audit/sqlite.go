package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteConfig contains configuration for NewSQLiteStorage.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// BusyTimeout is how long a write waits for the database to unlock.
	// Default: 5s
	BusyTimeout time.Duration

	// MaxOpenConns caps the connection pool. Default: 1 — this is a
	// single-writer audit log, not a queryable service; one connection
	// avoids SQLITE_BUSY entirely rather than tuning around it.
	MaxOpenConns int
}

// SQLiteStorage implements Storage over a SQLite file: WAL mode,
// busy_timeout pragma, schema init-and-verify on open. It is driven by
// modernc.org/sqlite, a pure-Go transpile of the SQLite C source, so the
// gateway binary stays cgo-free — the cgo budget belongs to the worker
// process and whatever inference library it eventually links.
type SQLiteStorage struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStorage opens (creating if needed) the database at cfg.Path,
// enables WAL mode, and verifies the schema.
func NewSQLiteStorage(cfg SQLiteConfig, logger *slog.Logger) (*SQLiteStorage, error) {
	if cfg.Path == "" {
		cfg.Path = "data/audit.db"
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "audit.storage")

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, NewStorageError("sqlite", "open", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	s := &SQLiteStorage{db: db, logger: logger}
	if err := s.initialize(cfg.BusyTimeout); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("audit storage initialized", "path", cfg.Path)
	return s, nil
}

func (s *SQLiteStorage) initialize(busyTimeout time.Duration) error {
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return NewStorageError("sqlite", "enable_wal", err)
	}

	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeout.Milliseconds())); err != nil {
		return NewStorageError("sqlite", "set_busy_timeout", err)
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return NewStorageError("sqlite", "create_schema", err)
	}

	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	if err := s.db.QueryRow(GetSchemaVersion).Scan(&version); err != nil {
		return NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}

	return nil
}

// Store persists event.
func (s *SQLiteStorage) Store(ctx context.Context, event *Event) error {
	const query = `
		INSERT INTO events (
			id, request_id, model, event_type, reason, finish_reason,
			duration_ms, error, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID, event.RequestID, event.Model, string(event.EventType),
		event.Reason, event.FinishReason, event.DurationMS, event.Error,
		event.Timestamp,
	)
	if err != nil {
		return NewStorageError("sqlite", "store", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
