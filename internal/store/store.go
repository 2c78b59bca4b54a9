// Package store provides relational persistence for wvsync entities.
// It runs on SQLite (modernc.org/sqlite) or PostgreSQL (lib/pq), and its
// transactions emit lifecycle events to a Subscriber.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// dbtx is satisfied by both *sql.DB and *sql.Tx
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store represents the relational database store
type Store struct {
	querier
	db         *sql.DB
	subscriber Subscriber
}

// Open opens a store connection for the given driver
func Open(driver, dsn string, schema *Schema) (*Store, error) {
	switch driver {
	case DriverSQLite:
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=journal_mode(WAL)"
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Store{
		querier: querier{conn: db, driver: driver, schema: schema},
		db:      db,
	}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for advanced queries
func (s *Store) DB() *sql.DB {
	return s.db
}

// Schema returns the entity schema
func (s *Store) Schema() *Schema {
	return s.schema
}

// Subscribe attaches the subscriber notified by every subsequent transaction
func (s *Store) Subscribe(sub Subscriber) {
	s.subscriber = sub
}

// Begin starts a transaction. If a subscriber is attached, it receives the
// transaction's lifecycle events.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	tx := &Tx{
		querier: querier{conn: sqlTx, driver: s.driver, schema: s.schema},
		tx:      sqlTx,
	}
	if s.subscriber != nil {
		tx.hooks = s.subscriber.BeginTx(tx)
	}
	return tx, nil
}

// WithTx runs fn inside a transaction, committing on success and rolling back on error
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return tx.Commit(ctx)
}
