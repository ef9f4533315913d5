package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/thepine7/dashboard-sub002/internal/models"
)

func setupMockDevicesDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *DevicesRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewDevicesRepository(db, zap.NewNop(), time.Minute)
	return db, mock, repo
}

// ============================================
// 基础查询
// ============================================

func TestGetByDeviceID_Success(t *testing.T) {
	db, mock, repo := setupMockDevicesDB(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"sensor_uuid", "user_id", "sensor_type", "sensor_name", "inst_dtm", "mdf_dtm",
	}).AddRow("dev01", "user1", "TC", "Kitchen", now, now)

	mock.ExpectQuery(`SELECT`).WithArgs("dev01").WillReturnRows(rows)

	device, err := repo.GetByDeviceID(context.Background(), "dev01")
	require.NoError(t, err)
	assert.Equal(t, "dev01", device.DeviceID)
	assert.Equal(t, "user1", device.Account)
	assert.Equal(t, "TC", device.Model)
	assert.Equal(t, "Kitchen", device.Name)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByDeviceID_NotFound(t *testing.T) {
	db, mock, repo := setupMockDevicesDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByDeviceID(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestTouch(t *testing.T) {
	db, mock, repo := setupMockDevicesDB(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE hnt_sensor_info`).WithArgs("dev01").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Touch(context.Background(), "dev01"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRename(t *testing.T) {
	db, mock, repo := setupMockDevicesDB(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE hnt_sensor_info`).WithArgs("dev01", "Bedroom").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Rename(context.Background(), "dev01", "Bedroom"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// 所有权转移事务
// ============================================

func transferReq() *models.RegisterRequest {
	return &models.RegisterRequest{Account: "user2", Model: "TC", DeviceID: "dev01"}
}

func TestTransferOwnership_CommitsAllSteps(t *testing.T) {
	db, mock, repo := setupMockDevicesDB(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM hnt_sensor_info`).WithArgs("dev01").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM hnt_config`).WithArgs("dev01").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM hnt_alarm`).WithArgs("dev01").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`INSERT INTO hnt_sensor_info`).
		WithArgs("dev01", "user2", "TC").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO hnt_config`).
		WithArgs("dev01", "user2", "HBEE/user2/TC/dev01",
			float64(20), float64(10), float64(15), 0, 0).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.TransferOwnership(context.Background(), transferReq(), "HBEE/user2/TC/dev01")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransferOwnership_RollsBackOnInsertFailure(t *testing.T) {
	db, mock, repo := setupMockDevicesDB(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM hnt_sensor_info`).WithArgs("dev01").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM hnt_config`).WithArgs("dev01").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM hnt_alarm`).WithArgs("dev01").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO hnt_sensor_info`).
		WithArgs("dev01", "user2", "TC").
		WillReturnError(errors.New("unique violation"))
	mock.ExpectRollback()

	err := repo.TransferOwnership(context.Background(), transferReq(), "HBEE/user2/TC/dev01")
	require.Error(t, err)

	var perr *PersistError
	assert.True(t, errors.As(err, &perr))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransferOwnership_RollsBackOnDeleteFailure(t *testing.T) {
	db, mock, repo := setupMockDevicesDB(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM hnt_sensor_info`).WithArgs("dev01").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := repo.TransferOwnership(context.Background(), transferReq(), "HBEE/user2/TC/dev01")
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// 告警配置
// ============================================

func TestGetAlarmDefaults(t *testing.T) {
	db, mock, repo := setupMockDevicesDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"sensor_uuid", "user_id",
		"alarm_yn1", "alarm_yn2", "alarm_yn3", "alarm_yn4", "alarm_yn5",
		"set_val1", "set_val2", "set_val3",
		"delay_time", "re_delay_time",
	}).AddRow("dev01", "user1", "Y", "N", "N", "Y", "N", 30.0, 5.0, 15.0, 1, 10)

	mock.ExpectQuery(`SELECT`).WithArgs("dev01").WillReturnRows(rows)

	cfg, err := repo.GetAlarmDefaults(context.Background(), "dev01")
	require.NoError(t, err)
	assert.True(t, cfg.HighEnabled)
	assert.False(t, cfg.LowEnabled)
	assert.True(t, cfg.DIEnabled)
	assert.Equal(t, 30.0, cfg.HighValue)
	assert.Equal(t, 5.0, cfg.LowValue)
	assert.Equal(t, 10, cfg.RepeatMinutes)
}

func TestGetAlarmDefaults_NullValues(t *testing.T) {
	db, mock, repo := setupMockDevicesDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"sensor_uuid", "user_id",
		"alarm_yn1", "alarm_yn2", "alarm_yn3", "alarm_yn4", "alarm_yn5",
		"set_val1", "set_val2", "set_val3",
		"delay_time", "re_delay_time",
	}).AddRow("dev01", "user1", "N", "N", "N", "N", "N", nil, nil, nil, nil, nil)

	mock.ExpectQuery(`SELECT`).WithArgs("dev01").WillReturnRows(rows)

	cfg, err := repo.GetAlarmDefaults(context.Background(), "dev01")
	require.NoError(t, err)
	assert.False(t, cfg.HighEnabled)
	assert.Zero(t, cfg.HighValue)
	assert.Zero(t, cfg.DelayMinutes)
}
