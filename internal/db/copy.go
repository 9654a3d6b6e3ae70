package db

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyRows bulk-inserts rows into table using the COPY protocol.
func CopyRows(ctx context.Context, q Querier, table pgx.Identifier, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := q.CopyFrom(ctx, table, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", strings.Join(table, "."))
	}
	return n, nil
}
