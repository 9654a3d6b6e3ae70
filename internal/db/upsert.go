package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig defines the parameters for a bulk upsert.
type UpsertConfig struct {
	Table        pgx.Identifier // target table, optionally schema-qualified
	Columns      []string       // all columns being inserted
	ConflictKeys []string       // columns forming the unique constraint
	UpdateCols   []string       // columns to update on conflict; empty = DO NOTHING
}

// Upsert stages rows in a temp table and merges them into the target with
// INSERT ... ON CONFLICT. It must run inside a transaction because the
// staging table is dropped on commit.
func Upsert(ctx context.Context, tx Querier, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return 0, eris.New("db: upsert: no conflict keys specified")
	}

	name := strings.Join(cfg.Table, ".")
	staging := pgx.Identifier{"_stage_" + strings.Join(cfg.Table, "_")}

	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		staging.Sanitize(), cfg.Table.Sanitize(),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create staging table for %s", name)
	}
	defer func() {
		// Dropped eagerly so a second upsert into the same table in one tx works.
		_, _ = tx.Exec(ctx, "DROP TABLE IF EXISTS "+staging.Sanitize())
	}()

	if _, err := tx.CopyFrom(ctx, staging, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: COPY into staging table for %s", name)
	}

	tag, err := tx.Exec(ctx, upsertSQL(cfg, staging))
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", name)
	}
	return tag.RowsAffected(), nil
}

func upsertSQL(cfg UpsertConfig, staging pgx.Identifier) string {
	cols := quoteAndJoin(cfg.Columns)
	action := "DO NOTHING"
	if len(cfg.UpdateCols) > 0 {
		set := make([]string, len(cfg.UpdateCols))
		for i, c := range cfg.UpdateCols {
			col := pgx.Identifier{c}.Sanitize()
			set[i] = fmt.Sprintf("%s = EXCLUDED.%s", col, col)
		}
		action = "DO UPDATE SET " + strings.Join(set, ", ")
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		cfg.Table.Sanitize(), cols, cols, staging.Sanitize(), quoteAndJoin(cfg.ConflictKeys), action,
	)
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
