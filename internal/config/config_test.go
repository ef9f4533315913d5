package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "hntiot", cfg.Database.Database)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, "HBEE/+/+/+/DEV", cfg.Ingest.DataTopic)
	assert.Equal(t, "hnt:sensor:readings", cfg.Ingest.Stream)
	assert.Equal(t, 5, cfg.Ingest.Workers)
	assert.Equal(t, 50, cfg.Ingest.BatchSize)
	assert.Equal(t, 200*time.Millisecond, cfg.Ingest.FlushInterval)
	assert.Equal(t, 1000, cfg.Ingest.PurgeBatchSize)
	assert.Equal(t, 10*time.Millisecond, cfg.Ingest.PurgeBatchPause)
	assert.Equal(t, 30*time.Second, cfg.Ingest.WriteTimeout)
	assert.Equal(t, 60*time.Second, cfg.Ingest.TransferTimeout)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("MQTT_BROKER", "tcp://broker.internal:1883")
	t.Setenv("INGEST_WORKERS", "10")
	t.Setenv("HTTP_ADDR", ":9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, "tcp://broker.internal:1883", cfg.MQTT.Broker)
	assert.Equal(t, 10, cfg.Ingest.Workers)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
}

func TestLoad_YAMLFileWithEnvOverride(t *testing.T) {
	yamlContent := `
database:
  host: yaml-db
  port: 5555
ingest:
  data_topic: "HBEE/+/+/+/SER"
  workers: 3
log:
  level: debug
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o600))

	t.Setenv("CONFIG_FILE", path)
	// 环境变量优先于文件
	t.Setenv("DB_HOST", "env-db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "env-db", cfg.Database.Host)
	assert.Equal(t, 5555, cfg.Database.Port)
	assert.Equal(t, "HBEE/+/+/+/SER", cfg.Ingest.DataTopic)
	assert.Equal(t, 3, cfg.Ingest.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", "/nonexistent/config.yaml")

	_, err := Load()
	assert.Error(t, err)
}

func TestGetDSN(t *testing.T) {
	cfg := &DatabaseConfig{
		Host: "localhost", Port: 5432, User: "postgres",
		Password: "secret", Database: "hntiot", SSLMode: "disable",
	}
	dsn := cfg.GetDSN()
	assert.Contains(t, dsn, "host=localhost")
	assert.Contains(t, dsn, "dbname=hntiot")
	assert.Contains(t, dsn, "sslmode=disable")
}
