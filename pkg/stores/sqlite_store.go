package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/stardrive/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// memoryPath is the path of a private in-memory database.
const memoryPath = ":memory:"

// SQLiteStore persists cache entries, objects, remote metadata and runs.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var (
	_ engine.CacheStore  = (*SQLiteStore)(nil)
	_ engine.ObjectStore = (*SQLiteStore)(nil)
	_ engine.RunHistory  = (*SQLiteStore)(nil)
	_ engine.Pruner      = (*SQLiteStore)(nil)
)

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 8
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 4
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.Path == memoryPath {
		// Every connection to :memory: is a separate database.
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Open creates, initializes and migrates a store in one call.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init opens the database connection.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)",
		s.cfg.Path, s.cfg.BusyTimeout.Milliseconds())
	if s.cfg.Path != memoryPath {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database is reachable.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Stats counts the rows of each table.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	queries := []struct {
		query string
		dest  []any
	}{
		{"SELECT COUNT(*) FROM cache_entries", []any{&st.Entries}},
		{"SELECT COUNT(*), COALESCE(SUM(size), 0) FROM objects", []any{&st.Objects, &st.ObjectBytes}},
		{"SELECT COUNT(*) FROM remote_objects", []any{&st.RemoteObjects}},
		{"SELECT COUNT(*) FROM runs", []any{&st.Runs}},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest...); err != nil {
			return nil, fmt.Errorf("failed to collect stats: %w", err)
		}
	}
	return st, nil
}

// withTx runs fn in a transaction, rolling back on error.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
