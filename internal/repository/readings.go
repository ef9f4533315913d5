package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/thepine7/dashboard-sub002/internal/models"

	"go.uber.org/zap"
)

// ReadingsRepository owns the sensor reading table. Readings are
// immutable once written; deletes happen only through the bulk purge
// path during ownership transfer or account deletion.
type ReadingsRepository struct {
	db           *sql.DB
	logger       *zap.Logger
	writeTimeout time.Duration
}

func NewReadingsRepository(db *sql.DB, logger *zap.Logger, writeTimeout time.Duration) *ReadingsRepository {
	if writeTimeout == 0 {
		writeTimeout = 30 * time.Second
	}
	return &ReadingsRepository{db: db, logger: logger, writeTimeout: writeTimeout}
}

// InsertReading persists a single accepted reading.
func (r *ReadingsRepository) InsertReading(ctx context.Context, reading *models.SensorReading) error {
	ctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO hnt_sensor_data (sensor_uuid, user_id, sensor_type, sensor_value, inst_dtm)
		VALUES ($1, $2, $3, $4, $5)
	`, reading.DeviceID, reading.Account, reading.SensorType, reading.Value, reading.CapturedAt)
	if err != nil {
		return persistErr("insert reading", err)
	}
	return nil
}

// InsertBatch persists the accepted subset of a batch inside one
// transaction. On any failure the whole batch rolls back; nothing is
// partially committed.
func (r *ReadingsRepository) InsertBatch(ctx context.Context, readings []*models.SensorReading) error {
	if len(readings) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("batch begin", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO hnt_sensor_data (sensor_uuid, user_id, sensor_type, sensor_value, inst_dtm)
		VALUES ($1, $2, $3, $4, $5)
	`)
	if err != nil {
		return persistErr("batch prepare", err)
	}
	defer stmt.Close()

	for _, reading := range readings {
		if _, err := stmt.ExecContext(ctx,
			reading.DeviceID, reading.Account, reading.SensorType, reading.Value, reading.CapturedAt,
		); err != nil {
			return persistErr("batch insert", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistErr("batch commit", err)
	}
	return nil
}

// PurgeDeviceBatch deletes up to limit historical readings for the
// device and returns the number of rows removed. Re-entrant: purging an
// already-empty device id returns 0 without error. Callers loop until
// the count reaches zero.
func (r *ReadingsRepository) PurgeDeviceBatch(ctx context.Context, deviceID string, limit int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM hnt_sensor_data
		WHERE ctid IN (
			SELECT ctid FROM hnt_sensor_data WHERE sensor_uuid = $1 LIMIT $2
		)
	`, deviceID, limit)
	if err != nil {
		return 0, persistErr("purge batch", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, persistErr("purge rows affected", err)
	}
	return n, nil
}

// CountByDevice returns how many readings remain for a device.
func (r *ReadingsRepository) CountByDevice(ctx context.Context, deviceID string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM hnt_sensor_data WHERE sensor_uuid = $1
	`, deviceID).Scan(&n)
	if err != nil {
		return 0, persistErr("count readings", err)
	}
	return n, nil
}

// ListByDevice returns the most recent readings for a device, newest
// first. Used by the history export.
func (r *ReadingsRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]*models.SensorReading, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sensor_uuid, user_id, sensor_type, sensor_value, inst_dtm
		FROM hnt_sensor_data
		WHERE sensor_uuid = $1
		ORDER BY inst_dtm DESC
		LIMIT $2
	`, deviceID, limit)
	if err != nil {
		return nil, persistErr("list readings", err)
	}
	defer rows.Close()

	var out []*models.SensorReading
	for rows.Next() {
		reading := &models.SensorReading{}
		var sensorType sql.NullString
		if err := rows.Scan(
			&reading.DeviceID,
			&reading.Account,
			&sensorType,
			&reading.Value,
			&reading.CapturedAt,
		); err != nil {
			return nil, persistErr("scan reading", err)
		}
		reading.SensorType = sensorType.String
		out = append(out, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list readings", err)
	}
	return out, nil
}
