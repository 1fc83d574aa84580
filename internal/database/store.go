// Package database is the backing store for registry records: one table per
// collection, an append-only audit_log table and the sequence counters.
package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver

	"agrireg/internal/database/migrations"
	"agrireg/internal/querysql"
)

// Store reads and writes records through database/sql. Predicates are
// rendered per dialect by querysql; the store applies no visibility rules of
// its own.
type Store struct {
	db      *sql.DB
	dialect querysql.Dialect
	path    string
}

// NewSQLiteStore opens a SQLite store.
// path can be a file path or ":memory:" for in-memory database.
func NewSQLiteStore(path string) (*Store, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, dialect: querysql.SQLite, path: path}, nil
}

// NewPostgresStore opens a Postgres store and checks it is reachable.
func NewPostgresStore(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db, dialect: querysql.Postgres}, nil
}

// NewStoreFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewStoreFromDB(db *sql.DB, dialect querysql.Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: an in-memory database exists per connection, and
	// SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

// DB exposes the underlying connection pool.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Dialect() querysql.Dialect { return s.dialect }

// Path returns the database file path (or ":memory:"); empty for Postgres.
func (s *Store) Path() string { return s.path }

// MigrateUp applies pending schema migrations.
func (s *Store) MigrateUp() error {
	return migrations.MigrateUp(s.db, s.dialect)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *Store) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db, s.dialect)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
