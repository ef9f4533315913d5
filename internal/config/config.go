package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
	MaxIdle  int    `yaml:"max_idle"`
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      byte   `yaml:"qos"`
}

// Config 传感器接入服务配置
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	MQTT     MQTTConfig     `yaml:"mqtt"`

	// 接入服务特定配置
	Ingest struct {
		// 订阅主题，如 "HBEE/+/+/+/DEV"
		DataTopic string `yaml:"data_topic"`
		// 接受后的读数发布到的 Redis Stream
		Stream string `yaml:"stream"`
		// 后台任务池大小（历史清理、延迟读取、推送）
		Workers int `yaml:"workers"`
		// 批量落库的攒批大小与最长等待
		BatchSize     int           `yaml:"batch_size"`
		FlushInterval time.Duration `yaml:"flush_interval"`
		// 历史数据批量删除大小
		PurgeBatchSize int `yaml:"purge_batch_size"`
		// 批次之间的暂停（限制数据库负载）
		PurgeBatchPause time.Duration `yaml:"purge_batch_pause"`
		// 写超时
		WriteTimeout time.Duration `yaml:"write_timeout"`
		// 所有权转移/批量删除超时
		TransferTimeout time.Duration `yaml:"transfer_timeout"`
	} `yaml:"ingest"`

	Notify struct {
		// 推送通知转发地址（留空则关闭）
		Endpoint string `yaml:"endpoint"`
		APIKey   string `yaml:"api_key"`
	} `yaml:"notify"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load 加载配置
// 先读可选的 YAML 配置文件（CONFIG_FILE），再用环境变量覆盖
func Load() (*Config, error) {
	cfg := &Config{}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.Database.Host = getEnv("DB_HOST", defaultStr(cfg.Database.Host, "localhost"))
	cfg.Database.Port = getEnvInt("DB_PORT", defaultInt(cfg.Database.Port, 5432))
	cfg.Database.User = getEnv("DB_USER", defaultStr(cfg.Database.User, "postgres"))
	cfg.Database.Password = getEnv("DB_PASSWORD", defaultStr(cfg.Database.Password, "postgres"))
	cfg.Database.Database = getEnv("DB_NAME", defaultStr(cfg.Database.Database, "hntiot"))
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", defaultStr(cfg.Database.SSLMode, "disable"))
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", defaultInt(cfg.Database.MaxConns, 20))
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", defaultInt(cfg.Database.MaxIdle, 5))

	cfg.Redis.Addr = getEnv("REDIS_ADDR", defaultStr(cfg.Redis.Addr, "localhost:6379"))
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", defaultStr(cfg.MQTT.Broker, "tcp://localhost:1883"))
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", defaultStr(cfg.MQTT.ClientID, "hnt-ingest"))
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", cfg.MQTT.Username)
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", cfg.MQTT.Password)
	if cfg.MQTT.QoS == 0 {
		cfg.MQTT.QoS = 1
	}

	cfg.Ingest.DataTopic = getEnv("INGEST_DATA_TOPIC", defaultStr(cfg.Ingest.DataTopic, "HBEE/+/+/+/DEV"))
	cfg.Ingest.Stream = getEnv("INGEST_STREAM", defaultStr(cfg.Ingest.Stream, "hnt:sensor:readings"))
	cfg.Ingest.Workers = getEnvInt("INGEST_WORKERS", defaultInt(cfg.Ingest.Workers, 5))
	cfg.Ingest.BatchSize = getEnvInt("INGEST_BATCH_SIZE", defaultInt(cfg.Ingest.BatchSize, 50))
	if cfg.Ingest.FlushInterval == 0 {
		cfg.Ingest.FlushInterval = 200 * time.Millisecond
	}
	cfg.Ingest.PurgeBatchSize = getEnvInt("INGEST_PURGE_BATCH_SIZE", defaultInt(cfg.Ingest.PurgeBatchSize, 1000))
	if cfg.Ingest.PurgeBatchPause == 0 {
		cfg.Ingest.PurgeBatchPause = 10 * time.Millisecond
	}
	if cfg.Ingest.WriteTimeout == 0 {
		cfg.Ingest.WriteTimeout = 30 * time.Second
	}
	if cfg.Ingest.TransferTimeout == 0 {
		cfg.Ingest.TransferTimeout = 60 * time.Second
	}

	cfg.Notify.Endpoint = getEnv("NOTIFY_ENDPOINT", cfg.Notify.Endpoint)
	cfg.Notify.APIKey = getEnv("NOTIFY_API_KEY", cfg.Notify.APIKey)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", defaultStr(cfg.HTTP.Addr, ":8080"))

	cfg.Log.Level = getEnv("LOG_LEVEL", defaultStr(cfg.Log.Level, "info"))
	cfg.Log.Format = getEnv("LOG_FORMAT", defaultStr(cfg.Log.Format, "json"))

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func defaultStr(v, d string) string {
	if v != "" {
		return v
	}
	return d
}

func defaultInt(v, d int) int {
	if v != 0 {
		return v
	}
	return d
}
