package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mailrelay/mailrelay-bot/internal/store"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// DB wraps sqlx.DB
type DB struct {
	*sqlx.DB
	driver string
}

var _ store.Store = (*DB)(nil)

// New creates a new database connection. For sqlite dsn is a file path,
// for postgres a connection URL.
func New(driver, dsn string) (*DB, error) {
	switch driver {
	case DriverSQLite:
		// Ensure directory exists
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		// WAL mode and foreign keys enabled
		dsn = fmt.Sprintf("%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", dsn)
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		// sqlite allows a single writer
		db.SetMaxOpenConns(1)
	}

	return &DB{DB: db, driver: driver}, nil
}

// Migrate runs database migrations
func (db *DB) Migrate(ctx context.Context) error {
	schema := sqliteSchema
	if db.driver == DriverPostgres {
		schema = postgresSchema
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// q rebinds a query written with ? placeholders for the active driver
func (db *DB) q(query string) string {
	return db.Rebind(query)
}
