package repository

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
)

// CreateDatasource inserts ds and sets its ID and CreatedAt.
func (s *SQLiteStore) CreateDatasource(ctx context.Context, ds *Datasource) error {
	ds.CreatedAt = s.clock.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO datasources (url, store_kind, username, password, read_from_remote, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ds.URL, ds.StoreKind, ds.Username, ds.Password, ds.ReadFromRemote, ds.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert datasource %s", ds.URL)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "sqlite: datasource id")
	}
	ds.ID = id
	return nil
}

const datasourceColumns = `id, url, store_kind, username, password, read_from_remote, created_at`

func scanDatasource(row scannable) (*Datasource, error) {
	var ds Datasource
	err := row.Scan(&ds.ID, &ds.URL, &ds.StoreKind, &ds.Username, &ds.Password, &ds.ReadFromRemote, &ds.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

// DatasourceByURL returns the datasource registered for url.
func (s *SQLiteStore) DatasourceByURL(ctx context.Context, url string) (*Datasource, error) {
	ds, err := scanDatasource(s.db.QueryRowContext(ctx,
		`SELECT `+datasourceColumns+` FROM datasources WHERE url = ?`, url))
	if err != nil {
		return nil, notFound(err, "datasource", url)
	}
	return ds, nil
}

// Datasource returns the datasource with the given id.
func (s *SQLiteStore) Datasource(ctx context.Context, id int64) (*Datasource, error) {
	ds, err := scanDatasource(s.db.QueryRowContext(ctx,
		`SELECT `+datasourceColumns+` FROM datasources WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "datasource", id)
	}
	return ds, nil
}

// ListDatasources returns every datasource ordered by id.
func (s *SQLiteStore) ListDatasources(ctx context.Context) ([]Datasource, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+datasourceColumns+` FROM datasources ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list datasources")
	}
	defer rows.Close() //nolint:errcheck

	var out []Datasource
	for rows.Next() {
		ds, err := scanDatasource(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan datasource")
		}
		out = append(out, *ds)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list datasources iterate")
}

// DeleteDatasource removes a datasource and its selected paths.
func (s *SQLiteStore) DeleteDatasource(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM datasource_paths WHERE datasource_id = ?`, id); err != nil {
			return eris.Wrapf(err, "sqlite: delete paths of datasource %d", id)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM datasources WHERE id = ?`, id)
		if err != nil {
			return eris.Wrapf(err, "sqlite: delete datasource %d", id)
		}
		return checkRowsAffected(res, "datasource", id)
	})
}

// AddPath registers path under a datasource. It reports false when the path
// was already registered.
func (s *SQLiteStore) AddPath(ctx context.Context, datasourceID int64, path string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO datasource_paths (datasource_id, path, status, updated_at)
		 VALUES (?, ?, ?, ?) ON CONFLICT (datasource_id, path) DO NOTHING`,
		datasourceID, path, string(PathNew), s.clock.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: add path %s", path)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "rows affected")
	}
	return n > 0, nil
}

// Paths returns the selected paths of a datasource ordered by path.
func (s *SQLiteStore) Paths(ctx context.Context, datasourceID int64) ([]SelectedPath, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT datasource_id, path, status, provider_id, updated_at
		 FROM datasource_paths WHERE datasource_id = ? ORDER BY path`,
		datasourceID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list paths of datasource %d", datasourceID)
	}
	defer rows.Close() //nolint:errcheck

	var out []SelectedPath
	for rows.Next() {
		var p SelectedPath
		var status string
		if err := rows.Scan(&p.DatasourceID, &p.Path, &status, &p.ProviderID, &p.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan path")
		}
		p.Status = PathStatus(status)
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list paths iterate")
}

// SetPathStatus updates the status and provider of a selected path.
func (s *SQLiteStore) SetPathStatus(ctx context.Context, datasourceID int64, path string, status PathStatus, providerID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE datasource_paths SET status = ?, provider_id = ?, updated_at = ?
		 WHERE datasource_id = ? AND path = ?`,
		string(status), providerID, s.clock.Now().UTC(), datasourceID, path,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set status of %s", path)
	}
	return checkRowsAffected(res, "path", path)
}

// ClearPaths forgets every selected path of a datasource.
func (s *SQLiteStore) ClearPaths(ctx context.Context, datasourceID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM datasource_paths WHERE datasource_id = ?`, datasourceID)
	return eris.Wrapf(err, "sqlite: clear paths of datasource %d", datasourceID)
}
