// Package db provides shared PostgreSQL helpers for bulk copy and upsert.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the statement surface shared by pools and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Pool is satisfied by *pgxpool.Pool and by pgxmock pools in tests.
type Pool interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Table returns the identifier for a schema-qualified table.
// An empty schema yields an unqualified name.
func Table(schema, name string) pgx.Identifier {
	if schema == "" {
		return pgx.Identifier{name}
	}
	return pgx.Identifier{schema, name}
}
