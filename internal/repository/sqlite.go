package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_init.sql
var sqliteMigration string

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db    *sql.DB
	clock clockwork.Clock
}

var _ Store = (*SQLiteStore)(nil)

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock overrides the clock used for timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(s *SQLiteStore) { s.clock = c }
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	s := &SQLiteStore{db: db, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// withTx runs fn in a transaction, committing when fn returns nil.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

func checkRowsAffected(res sql.Result, entity string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %v", entity, id)
	}
	return nil
}

// notFound translates sql.ErrNoRows into ErrNotFound.
func notFound(err error, entity string, id any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "%s %v", entity, id)
	}
	return eris.Wrapf(err, "sqlite: get %s %v", entity, id)
}

type scannable interface {
	Scan(dest ...any) error
}
