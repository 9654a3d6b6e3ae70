package repository

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
)

// StartRun records the beginning of a harvest run and returns its ID.
func (s *SQLiteStore) StartRun(ctx context.Context, datasourceID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO harvest_runs (datasource_id, status, started_at) VALUES (?, ?, ?)`,
		datasourceID, string(RunRunning), s.clock.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "runlog: start run for datasource %d", datasourceID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "runlog: run id")
	}
	return id, nil
}

// CompleteRun marks a run as successfully completed.
func (s *SQLiteStore) CompleteRun(ctx context.Context, runID int64, result RunResult) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE harvest_runs
		 SET status = ?, completed_at = ?, data_accepted = ?, sensors_imported = ?
		 WHERE id = ?`,
		string(RunComplete), s.clock.Now().UTC(), result.DataAccepted, result.SensorsImported, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: complete run %d", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

// FailRun marks a run as failed with an error message.
func (s *SQLiteStore) FailRun(ctx context.Context, runID int64, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE harvest_runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(RunFailed), s.clock.Now().UTC(), errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: fail run %d", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

// Runs returns the most recent runs first. A non-positive limit defaults to 100.
func (s *SQLiteStore) Runs(ctx context.Context, limit int) ([]HarvestRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, datasource_id, status, started_at, completed_at, data_accepted, sensors_imported, error
		 FROM harvest_runs ORDER BY started_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []HarvestRun
	for rows.Next() {
		var r HarvestRun
		var status string
		var completedAt sql.NullTime
		var errStr sql.NullString
		if err := rows.Scan(&r.ID, &r.DatasourceID, &status, &r.StartedAt, &completedAt,
			&r.DataAccepted, &r.SensorsImported, &errStr); err != nil {
			return nil, eris.Wrap(err, "runlog: scan run")
		}
		r.Status = RunStatus(status)
		if completedAt.Valid {
			t := completedAt.Time
			r.CompletedAt = &t
		}
		r.Error = errStr.String
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "runlog: list runs iterate")
}

// RecordFailure stores a distribution failure. A zero FailedAt is set to now.
func (s *SQLiteStore) RecordFailure(ctx context.Context, f DistributionFailure) error {
	if f.FailedAt.IsZero() {
		f.FailedAt = s.clock.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO distribution_failures (run_id, sensor_id, service_id, error, failed_at) VALUES (?, ?, ?, ?, ?)`,
		f.RunID, f.SensorID, f.ServiceID, f.Error, f.FailedAt,
	)
	return eris.Wrapf(err, "runlog: record failure of sensor %s on %s", f.SensorID, f.ServiceID)
}

// Failures returns the distribution failures of a run in the order recorded.
func (s *SQLiteStore) Failures(ctx context.Context, runID int64) ([]DistributionFailure, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, sensor_id, service_id, error, failed_at
		 FROM distribution_failures WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "runlog: list failures of run %d", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []DistributionFailure
	for rows.Next() {
		var f DistributionFailure
		if err := rows.Scan(&f.RunID, &f.SensorID, &f.ServiceID, &f.Error, &f.FailedAt); err != nil {
			return nil, eris.Wrap(err, "runlog: scan failure")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "runlog: list failures iterate")
}
