package sensorsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/sells-group/sensor-harvest/internal/db"
	"github.com/sells-group/sensor-harvest/internal/om"
)

// PostgresService stores sensors in a PostGIS schema.
type PostgresService struct {
	id      string
	label   string
	schema  string
	backing BackingStore
	pool    db.Pool
	log     *zap.Logger
}

var _ Service = (*PostgresService)(nil)

// NewPostgresService returns a service writing to schema through pool.
func NewPostgresService(id, label, schema string, backing BackingStore, pool db.Pool) *PostgresService {
	if label == "" {
		label = id
	}
	return &PostgresService{
		id:      id,
		label:   label,
		schema:  schema,
		backing: backing,
		pool:    pool,
		log:     zap.L().With(zap.String("component", "sensorsvc"), zap.String("service", id)),
	}
}

func (s *PostgresService) ID() string            { return s.id }
func (s *PostgresService) Label() string         { return s.label }
func (s *PostgresService) Backing() BackingStore { return s.backing }

func (s *PostgresService) table(name string) string {
	return db.Table(s.schema, name).Sanitize()
}

// ReloadChannel is the NOTIFY channel Restart signals on.
func (s *PostgresService) ReloadChannel() string {
	return s.schema + "_reload"
}

// Templates implements Service. Every stored field set of the procedure is
// merged into a single template: fields keep the order of first appearance
// and the first-declared unit of a field wins.
func (s *PostgresService) Templates(ctx context.Context, procedureID string) ([]om.Observation, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT kind, COALESCE(phenomenon_id, ''), fields::text
		 FROM %s WHERE procedure_id = $1
		 GROUP BY kind, phenomenon_id, fields::text
		 ORDER BY MIN(imported_at), MIN(id)`, s.table("observations")),
		procedureID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sensorsvc: query templates of %s", procedureID)
	}
	defer rows.Close()

	var merged *om.Observation
	seen := make(map[string]bool)
	for rows.Next() {
		var kind, phenID, fields string
		if err := rows.Scan(&kind, &phenID, &fields); err != nil {
			return nil, eris.Wrap(err, "sensorsvc: scan template")
		}
		var stored []om.Field
		if err := json.Unmarshal([]byte(fields), &stored); err != nil {
			return nil, eris.Wrapf(err, "sensorsvc: unmarshal fields of %s", procedureID)
		}
		if merged == nil {
			merged = &om.Observation{Procedure: procedureID, Phenomenon: om.Phenomenon{ID: phenID, Name: phenID}}
			if merged.Kind, err = om.ParseKind(kind); err != nil {
				return nil, eris.Wrapf(err, "sensorsvc: template of %s", procedureID)
			}
		}
		for _, f := range stored {
			if seen[f.Name] {
				continue
			}
			seen[f.Name] = true
			f.Ordinal = len(merged.Result.Fields) + 1
			merged.Result.Fields = append(merged.Result.Fields, f)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sensorsvc: iterate templates")
	}
	if merged == nil {
		return nil, nil
	}
	return []om.Observation{*merged}, nil
}

// Phenomena implements Service.
func (s *PostgresService) Phenomena(ctx context.Context) ([]om.Phenomenon, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT id, name, components::text FROM %s ORDER BY id`, s.table("phenomena")))
	if err != nil {
		return nil, eris.Wrap(err, "sensorsvc: query phenomena")
	}
	defer rows.Close()

	var out []om.Phenomenon
	for rows.Next() {
		var p om.Phenomenon
		var components string
		if err := rows.Scan(&p.ID, &p.Name, &components); err != nil {
			return nil, eris.Wrap(err, "sensorsvc: scan phenomenon")
		}
		if err := json.Unmarshal([]byte(components), &p.Components); err != nil {
			return nil, eris.Wrapf(err, "sensorsvc: unmarshal components of %s", p.ID)
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sensorsvc: iterate phenomena")
}

// SamplingFeatures implements Service.
func (s *PostgresService) SamplingFeatures(ctx context.Context) ([]om.SamplingFeature, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT id, name, geom_ewkb FROM %s ORDER BY id`, s.table("sampling_features")))
	if err != nil {
		return nil, eris.Wrap(err, "sensorsvc: query sampling features")
	}
	defer rows.Close()

	var out []om.SamplingFeature
	for rows.Next() {
		var f om.SamplingFeature
		var raw []byte
		if err := rows.Scan(&f.ID, &f.Name, &raw); err != nil {
			return nil, eris.Wrap(err, "sensorsvc: scan sampling feature")
		}
		if len(raw) > 0 {
			g, err := ewkb.Unmarshal(raw)
			if err != nil {
				return nil, eris.Wrapf(err, "sensorsvc: decode geometry of %s", f.ID)
			}
			f.Geometry = g
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sensorsvc: iterate sampling features")
}

// WriteProcedure implements Service. An existing procedure keeps its id and
// has its bound widened to cover tree's bound.
func (s *PostgresService) WriteProcedure(ctx context.Context, tree om.ProcedureTree) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "sensorsvc: begin transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := s.writeProcedure(ctx, tx, tree, ""); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrapf(err, "sensorsvc: commit procedure %s", tree.ID)
	}
	return nil
}

func (s *PostgresService) writeProcedure(ctx context.Context, q db.Querier, tree om.ProcedureTree, parent string) error {
	measured := tree.MeasuredFields
	if measured == nil {
		measured = []string{}
	}
	fields, err := json.Marshal(measured)
	if err != nil {
		return eris.Wrap(err, "sensorsvc: marshal measured fields")
	}

	var minTime, maxTime *time.Time
	var minLon, minLat, maxLon, maxLat *float64
	if tree.Bound != nil {
		minTime, maxTime = tree.Bound.MinTime, tree.Bound.MaxTime
		if env, ok := tree.Bound.Envelope(); ok {
			minLon, minLat, maxLon, maxLat = &env.MinLon, &env.MinLat, &env.MaxLon, &env.MaxLat
		}
	}

	t := s.table("procedures")
	_, err = q.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %[1]s AS p (id, parent_id, type, measured_fields, min_time, max_time, min_lon, min_lat, max_lon, max_lat)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
			measured_fields = EXCLUDED.measured_fields,
			min_time = LEAST(p.min_time, EXCLUDED.min_time),
			max_time = GREATEST(p.max_time, EXCLUDED.max_time),
			min_lon = LEAST(p.min_lon, EXCLUDED.min_lon),
			min_lat = LEAST(p.min_lat, EXCLUDED.min_lat),
			max_lon = GREATEST(p.max_lon, EXCLUDED.max_lon),
			max_lat = GREATEST(p.max_lat, EXCLUDED.max_lat),
			updated_at = now()`, t),
		tree.ID, parent, tree.Type, string(fields), minTime, maxTime, minLon, minLat, maxLon, maxLat,
	)
	if err != nil {
		return eris.Wrapf(err, "sensorsvc: write procedure %s", tree.ID)
	}
	for _, c := range tree.Children {
		if err := s.writeProcedure(ctx, q, c, tree.ID); err != nil {
			return err
		}
	}
	return nil
}

// ImportObservations implements Service. Phenomena and features matching
// an entry of known are reused; the rest are inserted and added to known
// once the transaction commits.
func (s *PostgresService) ImportObservations(ctx context.Context, obs []om.Observation, known *om.Registry) (int, error) {
	if len(obs) == 0 {
		return 0, nil
	}
	if known == nil {
		known = &om.Registry{}
	}
	reg := &om.Registry{
		Phenomena: slices.Clone(known.Phenomena),
		Features:  slices.Clone(known.Features),
	}

	var phenRows, featureRows, obsRows, resultRows [][]any
	for _, o := range obs {
		var phenID any
		if o.Phenomenon.ID != "" {
			phen, isNew := reg.ResolvePhenomenon(o.Phenomenon)
			if isNew {
				components, err := json.Marshal(phen.Components)
				if err != nil {
					return 0, eris.Wrap(err, "sensorsvc: marshal components")
				}
				phenRows = append(phenRows, []any{phen.ID, phen.Name, string(components)})
			}
			phenID = phen.ID
		}

		var foiID any
		if o.FeatureOfInterest != nil {
			f, isNew := reg.ResolveFeature(*o.FeatureOfInterest)
			if isNew {
				var raw []byte
				if f.Geometry != nil {
					var err error
					if raw, err = ewkb.Marshal(f.Geometry, ewkb.NDR); err != nil {
						return 0, eris.Wrapf(err, "sensorsvc: encode geometry of %s", f.ID)
					}
				}
				featureRows = append(featureRows, []any{f.ID, f.Name, raw})
			}
			foiID = f.ID
		}

		fields, err := json.Marshal(o.Result.Fields)
		if err != nil {
			return 0, eris.Wrap(err, "sensorsvc: marshal fields")
		}
		enc, err := json.Marshal(o.Result.Encoding)
		if err != nil {
			return 0, eris.Wrap(err, "sensorsvc: marshal encoding")
		}
		obsRows = append(obsRows, []any{
			o.ID, o.Procedure, o.Kind.String(), foiID, phenID,
			o.SamplingTime.Begin, o.SamplingTime.End, string(fields), string(enc), o.Result.Count,
		})
		for i, block := range splitBlocks(o.Result.Values, o.Result.Encoding.BlockSeparator) {
			resultRows = append(resultRows, []any{o.ID, i, block})
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "sensorsvc: begin transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := db.Upsert(ctx, tx, db.UpsertConfig{
		Table:        db.Table(s.schema, "phenomena"),
		Columns:      []string{"id", "name", "components"},
		ConflictKeys: []string{"id"},
	}, phenRows); err != nil {
		return 0, eris.Wrap(err, "sensorsvc: insert phenomena")
	}
	if _, err := db.Upsert(ctx, tx, db.UpsertConfig{
		Table:        db.Table(s.schema, "sampling_features"),
		Columns:      []string{"id", "name", "geom_ewkb"},
		ConflictKeys: []string{"id"},
	}, featureRows); err != nil {
		return 0, eris.Wrap(err, "sensorsvc: insert sampling features")
	}
	if _, err := db.Upsert(ctx, tx, db.UpsertConfig{
		Table: db.Table(s.schema, "observations"),
		Columns: []string{"id", "procedure_id", "kind", "foi_id", "phenomenon_id",
			"begin_time", "end_time", "fields", "encoding", "result_count"},
		ConflictKeys: []string{"id"},
	}, obsRows); err != nil {
		return 0, eris.Wrap(err, "sensorsvc: insert observations")
	}
	n, err := db.CopyRows(ctx, tx, db.Table(s.schema, "results"),
		[]string{"observation_id", "block", "block_values"}, resultRows)
	if err != nil {
		return 0, eris.Wrap(err, "sensorsvc: insert results")
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "sensorsvc: commit import")
	}

	*known = *reg
	s.log.Debug("sensorsvc: observations imported",
		zap.Int("observations", len(obsRows)),
		zap.Int64("blocks", n),
		zap.Int("new_phenomena", len(phenRows)),
		zap.Int("new_features", len(featureRows)),
	)
	return len(obsRows), nil
}

// splitBlocks splits a payload into its blocks, dropping the trailing separator.
func splitBlocks(values, sep string) []string {
	if values == "" || sep == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(values, sep), sep)
}

// RemoveProcedure implements Service. Observations and results of the
// procedure are deleted with it.
func (s *PostgresService) RemoveProcedure(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "sensorsvc: begin transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE procedure_id = $1`, s.table("observations")), id); err != nil {
		return eris.Wrapf(err, "sensorsvc: delete observations of %s", id)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE id = $1 OR parent_id = $1`, s.table("procedures")), id); err != nil {
		return eris.Wrapf(err, "sensorsvc: delete procedure %s", id)
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrapf(err, "sensorsvc: commit removal of %s", id)
	}
	return nil
}

// Restart implements Service by notifying listeners on ReloadChannel.
func (s *PostgresService) Restart(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "SELECT pg_notify($1, $2)", s.ReloadChannel(), s.id); err != nil {
		return eris.Wrapf(err, "sensorsvc: restart %s", s.id)
	}
	return nil
}
