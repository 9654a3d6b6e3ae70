package sensorsvc

import (
	"context"
	"embed"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sensor-harvest/internal/db"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const migrationLockID = 5150221

// Migrate applies pending schema migrations to schema in lexicographic order.
// Concurrent runs are serialized by a Postgres advisory lock.
func Migrate(ctx context.Context, pool db.Pool, schema string) error {
	log := zap.L().With(zap.String("component", "sensorsvc.migrate"), zap.String("schema", schema))
	quoted := pgx.Identifier{schema}.Sanitize()

	if _, err := pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "sensorsvc: acquire migration advisory lock")
	}
	defer func() {
		if _, err := pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			log.Warn("sensorsvc: failed to release migration advisory lock", zap.Error(err))
		}
	}()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+quoted+`;
		CREATE TABLE IF NOT EXISTS `+quoted+`.schema_migrations (
			id         SERIAL PRIMARY KEY,
			filename   TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return eris.Wrapf(err, "sensorsvc: ensure migration table in %s", schema)
	}

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return eris.Wrap(err, "sensorsvc: read migration dir")
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	applied, err := appliedMigrations(ctx, pool, quoted)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if applied[name] {
			continue
		}

		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "sensorsvc: read migration %s", name)
		}

		log.Info("applying migration", zap.String("file", name))
		if _, err := pool.Exec(ctx, strings.ReplaceAll(string(data), "{{schema}}", quoted)); err != nil {
			return eris.Wrapf(err, "sensorsvc: apply migration %s", name)
		}
		if _, err := pool.Exec(ctx,
			"INSERT INTO "+quoted+".schema_migrations (filename, applied_at) VALUES ($1, now())",
			name,
		); err != nil {
			return eris.Wrapf(err, "sensorsvc: record migration %s", name)
		}
	}
	return nil
}

func appliedMigrations(ctx context.Context, pool db.Pool, quoted string) (map[string]bool, error) {
	rows, err := pool.Query(ctx, "SELECT filename FROM "+quoted+".schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "sensorsvc: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "sensorsvc: scan migration row")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}
