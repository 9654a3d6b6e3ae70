package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// CreateProvider inserts p and sets its CreatedAt.
func (s *SQLiteStore) CreateProvider(ctx context.Context, p *Provider) error {
	params, err := json.Marshal(p.Params)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal provider params")
	}
	p.CreatedAt = s.clock.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO providers (id, datasource_id, kind, path, params, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.DatasourceID, p.Kind, p.Path, string(params), p.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert provider %s", p.ID)
}

func scanProvider(row scannable) (*Provider, error) {
	var p Provider
	var params string
	if err := row.Scan(&p.ID, &p.DatasourceID, &p.Kind, &p.Path, &params, &p.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &p.Params); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal params of provider %s", p.ID)
	}
	return &p, nil
}

// Provider returns the provider with the given id.
func (s *SQLiteStore) Provider(ctx context.Context, id string) (*Provider, error) {
	p, err := scanProvider(s.db.QueryRowContext(ctx,
		`SELECT id, datasource_id, kind, path, params, created_at FROM providers WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "provider", id)
	}
	return p, nil
}

// ProvidersByDatasource returns the providers created for a datasource.
func (s *SQLiteStore) ProvidersByDatasource(ctx context.Context, datasourceID int64) ([]Provider, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, datasource_id, kind, path, params, created_at
		 FROM providers WHERE datasource_id = ? ORDER BY created_at, id`,
		datasourceID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list providers of datasource %d", datasourceID)
	}
	defer rows.Close() //nolint:errcheck

	var out []Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan provider")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list providers iterate")
}

// DeleteProvider removes a provider together with its data and their sensor links.
func (s *SQLiteStore) DeleteProvider(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM sensor_data WHERE data_id IN (SELECT id FROM data WHERE provider_id = ?)`, id); err != nil {
			return eris.Wrapf(err, "sqlite: unlink sensors of provider %s", id)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM data WHERE provider_id = ?`, id); err != nil {
			return eris.Wrapf(err, "sqlite: delete data of provider %s", id)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM providers WHERE id = ?`, id)
		if err != nil {
			return eris.Wrapf(err, "sqlite: delete provider %s", id)
		}
		return checkRowsAffected(res, "provider", id)
	})
}

// Dataset returns the id of the dataset with identifier, creating it when absent.
func (s *SQLiteStore) Dataset(ctx context.Context, identifier string) (int64, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO datasets (identifier, created_at) VALUES (?, ?) ON CONFLICT (identifier) DO NOTHING`,
		identifier, s.clock.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: insert dataset %s", identifier)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM datasets WHERE identifier = ?`, identifier).Scan(&id); err != nil {
		return 0, notFound(err, "dataset", identifier)
	}
	return id, nil
}

// CreateData inserts d and sets its ID and CreatedAt.
func (s *SQLiteStore) CreateData(ctx context.Context, d *Data) error {
	d.CreatedAt = s.clock.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO data (provider_id, dataset_id, resource, created_at) VALUES (?, ?, ?, ?)`,
		d.ProviderID, d.DatasetID, d.Resource, d.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert data %s of provider %s", d.Resource, d.ProviderID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "sqlite: data id")
	}
	d.ID = id
	return nil
}

func scanData(row scannable) (*Data, error) {
	var d Data
	if err := row.Scan(&d.ID, &d.ProviderID, &d.DatasetID, &d.Resource, &d.CreatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

// Data returns the data with the given id.
func (s *SQLiteStore) Data(ctx context.Context, id int64) (*Data, error) {
	d, err := scanData(s.db.QueryRowContext(ctx,
		`SELECT id, provider_id, dataset_id, resource, created_at FROM data WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "data", id)
	}
	return d, nil
}

// DataByProvider returns the data exposed by a provider.
func (s *SQLiteStore) DataByProvider(ctx context.Context, providerID string) ([]Data, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, provider_id, dataset_id, resource, created_at FROM data WHERE provider_id = ? ORDER BY id`,
		providerID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list data of provider %s", providerID)
	}
	defer rows.Close() //nolint:errcheck

	var out []Data
	for rows.Next() {
		d, err := scanData(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan data")
		}
		out = append(out, *d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list data iterate")
}
