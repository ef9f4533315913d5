package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/thepine7/dashboard-sub002/internal/models"

	"go.uber.org/zap"
)

// DevicesRepository owns the device table and its alarm-config rows.
// The device table is the single source of truth for "who owns this
// device right now"; every mutation happens inside a transaction.
type DevicesRepository struct {
	db              *sql.DB
	logger          *zap.Logger
	transferTimeout time.Duration
}

func NewDevicesRepository(db *sql.DB, logger *zap.Logger, transferTimeout time.Duration) *DevicesRepository {
	if transferTimeout == 0 {
		transferTimeout = 60 * time.Second
	}
	return &DevicesRepository{db: db, logger: logger, transferTimeout: transferTimeout}
}

// GetByDeviceID returns the device record, or ErrNotFound.
func (r *DevicesRepository) GetByDeviceID(ctx context.Context, deviceID string) (*models.Device, error) {
	q := `
		SELECT sensor_uuid, user_id, sensor_type, COALESCE(sensor_name, ''), inst_dtm, mdf_dtm
		FROM hnt_sensor_info
		WHERE sensor_uuid = $1
	`
	var d models.Device
	err := r.db.QueryRowContext(ctx, q, deviceID).Scan(
		&d.DeviceID,
		&d.Account,
		&d.Model,
		&d.Name,
		&d.CreatedAt,
		&d.LastSeenAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistErr("get device", err)
	}
	return &d, nil
}

// Touch updates the device's last-access time. Used when a register
// frame turns out to be a status probe from the current owner.
func (r *DevicesRepository) Touch(ctx context.Context, deviceID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE hnt_sensor_info SET mdf_dtm = NOW() WHERE sensor_uuid = $1
	`, deviceID)
	if err != nil {
		return persistErr("touch device", err)
	}
	return nil
}

// Rename updates the device display name for the current owner.
func (r *DevicesRepository) Rename(ctx context.Context, deviceID, name string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE hnt_sensor_info SET sensor_name = $2, mdf_dtm = NOW() WHERE sensor_uuid = $1
	`, deviceID, name)
	if err != nil {
		return persistErr("rename device", err)
	}
	return nil
}

// TransferOwnership executes the atomic hand-off: delete the prior
// owner's device record, alarm config and alarm rows, then insert the
// new device record and disabled alarm defaults under the requesting
// account. All of it commits or none of it does; on failure the device
// stays with the prior owner (or unclaimed on first registration).
//
// Historical sensor readings are NOT touched here; their bulk disposal
// runs asynchronously after commit (see transfer service).
func (r *DevicesRepository) TransferOwnership(ctx context.Context, req *models.RegisterRequest, topic string) error {
	ctx, cancel := context.WithTimeout(ctx, r.transferTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("transfer begin", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM hnt_sensor_info WHERE sensor_uuid = $1`, req.DeviceID); err != nil {
		return persistErr("transfer delete device", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM hnt_config WHERE sensor_uuid = $1`, req.DeviceID); err != nil {
		return persistErr("transfer delete config", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM hnt_alarm WHERE sensor_uuid = $1`, req.DeviceID); err != nil {
		return persistErr("transfer delete alarms", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO hnt_sensor_info (sensor_uuid, user_id, sensor_type, inst_id, mdf_id, inst_dtm, mdf_dtm)
		VALUES ($1, $2, $3, 'mqtt_auto', 'mqtt_auto', NOW(), NOW())
	`, req.DeviceID, req.Account, req.Model); err != nil {
		return persistErr("transfer insert device", err)
	}

	defaults := models.NewAlarmDefaults(req.Account, req.DeviceID)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO hnt_config (
			sensor_uuid, user_id, topic,
			alarm_yn1, alarm_yn2, alarm_yn3, alarm_yn4, alarm_yn5,
			set_val1, set_val2, set_val3,
			delay_time, re_delay_time,
			inst_dtm, mdf_dtm
		)
		VALUES ($1, $2, $3, 'N', 'N', 'N', 'N', 'N', $4, $5, $6, $7, $8, NOW(), NOW())
	`, req.DeviceID, req.Account, topic,
		defaults.HighValue, defaults.LowValue, defaults.SpecificValue,
		defaults.DelayMinutes, defaults.RepeatMinutes,
	); err != nil {
		return persistErr("transfer insert defaults", err)
	}

	if err := tx.Commit(); err != nil {
		return persistErr("transfer commit", err)
	}
	return nil
}

// GetAlarmDefaults loads the device's alarm configuration, or ErrNotFound.
func (r *DevicesRepository) GetAlarmDefaults(ctx context.Context, deviceID string) (*models.AlarmDefaults, error) {
	q := `
		SELECT sensor_uuid, user_id,
		       alarm_yn1, alarm_yn2, alarm_yn3, alarm_yn4, alarm_yn5,
		       set_val1, set_val2, set_val3,
		       delay_time, re_delay_time
		FROM hnt_config
		WHERE sensor_uuid = $1
	`
	var (
		a                           models.AlarmDefaults
		yn1, yn2, yn3, yn4, yn5     string
		high, low, specific         sql.NullFloat64
		delayMinutes, repeatMinutes sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, q, deviceID).Scan(
		&a.DeviceID,
		&a.Account,
		&yn1, &yn2, &yn3, &yn4, &yn5,
		&high, &low, &specific,
		&delayMinutes, &repeatMinutes,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistErr("get alarm defaults", err)
	}

	a.HighEnabled = yn1 == "Y"
	a.LowEnabled = yn2 == "Y"
	a.SpecificEnabled = yn3 == "Y"
	a.DIEnabled = yn4 == "Y"
	a.CommEnabled = yn5 == "Y"
	a.HighValue = high.Float64
	a.LowValue = low.Float64
	a.SpecificValue = specific.Float64
	a.DelayMinutes = int(delayMinutes.Int64)
	a.RepeatMinutes = int(repeatMinutes.Int64)
	return &a, nil
}
