package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sensor-harvest/internal/om"
)

// CreateSensor inserts s unless a sensor with the same id exists. It reports
// whether a new sensor was created.
func (s *SQLiteStore) CreateSensor(ctx context.Context, sensor *Sensor) (bool, error) {
	fields, err := json.Marshal(sensor.MeasuredFields)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal measured fields")
	}
	var bound []byte
	if sensor.Bound != nil {
		if bound, err = json.Marshal(sensor.Bound); err != nil {
			return false, eris.Wrap(err, "sqlite: marshal bound")
		}
	}

	sensor.CreatedAt = s.clock.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sensors (id, parent_id, type, measured_fields, bound, created_at)
		 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		sensor.ID, sensor.ParentID, sensor.Type, string(fields), nullString(bound), sensor.CreatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert sensor %s", sensor.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "rows affected")
	}
	return n > 0, nil
}

func nullString(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

const sensorColumns = `s.id, s.parent_id, s.type, s.measured_fields, s.bound, s.created_at`

func scanSensor(row scannable) (*Sensor, error) {
	var sensor Sensor
	var fields string
	var bound sql.NullString
	if err := row.Scan(&sensor.ID, &sensor.ParentID, &sensor.Type, &fields, &bound, &sensor.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fields), &sensor.MeasuredFields); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal fields of sensor %s", sensor.ID)
	}
	if bound.Valid {
		sensor.Bound = om.NewBound()
		if err := json.Unmarshal([]byte(bound.String), sensor.Bound); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal bound of sensor %s", sensor.ID)
		}
	}
	return &sensor, nil
}

func (s *SQLiteStore) listSensors(ctx context.Context, query string, arg any) ([]Sensor, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sensors")
	}
	defer rows.Close() //nolint:errcheck

	var out []Sensor
	for rows.Next() {
		sensor, err := scanSensor(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sensor")
		}
		out = append(out, *sensor)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list sensors iterate")
}

// Sensor returns the sensor with the given id.
func (s *SQLiteStore) Sensor(ctx context.Context, id string) (*Sensor, error) {
	sensor, err := scanSensor(s.db.QueryRowContext(ctx,
		`SELECT `+sensorColumns+` FROM sensors s WHERE s.id = ?`, id))
	if err != nil {
		return nil, notFound(err, "sensor", id)
	}
	return sensor, nil
}

// SensorChildren returns the direct children of a sensor.
func (s *SQLiteStore) SensorChildren(ctx context.Context, id string) ([]Sensor, error) {
	return s.listSensors(ctx,
		`SELECT `+sensorColumns+` FROM sensors s WHERE s.parent_id = ? ORDER BY s.id`, id)
}

// SensorsByData returns the sensors linked to a data id.
func (s *SQLiteStore) SensorsByData(ctx context.Context, dataID int64) ([]Sensor, error) {
	return s.listSensors(ctx,
		`SELECT `+sensorColumns+` FROM sensors s
		 JOIN sensor_data sd ON sd.sensor_id = s.id
		 WHERE sd.data_id = ? ORDER BY s.id`, dataID)
}

// LinkSensorData associates a sensor with the data it was generated from.
func (s *SQLiteStore) LinkSensorData(ctx context.Context, sensorID string, dataID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sensor_data (sensor_id, data_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		sensorID, dataID,
	)
	return eris.Wrapf(err, "sqlite: link sensor %s to data %d", sensorID, dataID)
}

// DeleteSensor removes a sensor and its data links. Service links must be
// removed first.
func (s *SQLiteStore) DeleteSensor(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var linked int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM service_sensors WHERE sensor_id = ?`, id).Scan(&linked); err != nil {
			return eris.Wrapf(err, "sqlite: count service links of sensor %s", id)
		}
		if linked > 0 {
			return eris.Errorf("sqlite: sensor %s is still linked to %d service(s)", id, linked)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sensor_data WHERE sensor_id = ?`, id); err != nil {
			return eris.Wrapf(err, "sqlite: unlink data of sensor %s", id)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM sensors WHERE id = ?`, id)
		if err != nil {
			return eris.Wrapf(err, "sqlite: delete sensor %s", id)
		}
		return checkRowsAffected(res, "sensor", id)
	})
}

// LinkSensorService attaches a sensor to a service. Linking twice is a no-op.
func (s *SQLiteStore) LinkSensorService(ctx context.Context, serviceID, sensorID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO service_sensors (service_id, sensor_id, linked_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
		serviceID, sensorID, s.clock.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: link sensor %s to service %s", sensorID, serviceID)
}

// IsSensorLinked reports whether a sensor is attached to a service.
func (s *SQLiteStore) IsSensorLinked(ctx context.Context, serviceID, sensorID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM service_sensors WHERE service_id = ? AND sensor_id = ?`,
		serviceID, sensorID,
	).Scan(&n)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: check link of sensor %s", sensorID)
	}
	return n > 0, nil
}

// SensorServices returns the ids of the services a sensor is attached to.
func (s *SQLiteStore) SensorServices(ctx context.Context, sensorID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT service_id FROM service_sensors WHERE sensor_id = ? ORDER BY service_id`, sensorID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list services of sensor %s", sensorID)
	}
	defer rows.Close() //nolint:errcheck

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan service id")
		}
		out = append(out, id)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list services iterate")
}

// UnlinkSensorService detaches a sensor from a service.
func (s *SQLiteStore) UnlinkSensorService(ctx context.Context, serviceID, sensorID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM service_sensors WHERE service_id = ? AND sensor_id = ?`, serviceID, sensorID)
	return eris.Wrapf(err, "sqlite: unlink sensor %s from service %s", sensorID, serviceID)
}
