package alarm

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/thepine7/dashboard-sub002/internal/models"

	"go.uber.org/zap"
)

// 告警类型
const (
	TypeHigh     = "high"
	TypeLow      = "low"
	TypeSpecific = "specific"
	TypeDI       = "di"
	TypeComm     = "comm"
)

// Alert 一次触发的告警
type Alert struct {
	AccountID string
	DeviceID  string
	Type      string
	Value     float64
	FiredAt   time.Time
}

// ConfigSource 按设备读取告警配置
type ConfigSource interface {
	GetAlarmDefaults(ctx context.Context, deviceID string) (*models.AlarmDefaults, error)
}

// Checker 阈值告警判定器
// 配置与冷却状态都在内存里缓存，避免每条读数都打数据库
type Checker struct {
	source ConfigSource
	logger *zap.Logger

	mu        sync.Mutex
	lastFired map[string]time.Time     // deviceID+type -> 上次触发时间
	configs   map[string]*cachedConfig // deviceID -> 配置缓存
	diState   map[string]string        // deviceID -> 上次 DI 值
}

type cachedConfig struct {
	cfg       *models.AlarmDefaults
	fetchedAt time.Time
}

const (
	configTTL       = 5 * time.Minute
	defaultCooldown = 10 * time.Minute
)

func NewChecker(source ConfigSource, logger *zap.Logger) *Checker {
	return &Checker{
		source:    source,
		logger:    logger,
		lastFired: make(map[string]time.Time),
		configs:   make(map[string]*cachedConfig),
		diState:   make(map[string]string),
	}
}

// CheckReading 对一条已接受的读数做阈值判定，返回触发的告警
// （可能为空）。配置读取失败按无告警处理
func (c *Checker) CheckReading(ctx context.Context, reading *models.SensorReading) []Alert {
	cfg := c.loadConfig(ctx, reading.DeviceID)
	if cfg == nil {
		return nil
	}

	value, err := strconv.ParseFloat(reading.Value, 64)
	if err != nil {
		// "Error" 等非数值读数走通信异常判定
		if cfg.CommEnabled && c.cooldownPassed(reading.DeviceID, TypeComm, cfg) {
			return []Alert{c.fire(reading, TypeComm, 0)}
		}
		return nil
	}

	var alerts []Alert
	if cfg.HighEnabled && value >= cfg.HighValue && c.cooldownPassed(reading.DeviceID, TypeHigh, cfg) {
		alerts = append(alerts, c.fire(reading, TypeHigh, value))
	}
	if cfg.LowEnabled && value <= cfg.LowValue && c.cooldownPassed(reading.DeviceID, TypeLow, cfg) {
		alerts = append(alerts, c.fire(reading, TypeLow, value))
	}
	if cfg.SpecificEnabled && value == cfg.SpecificValue && c.cooldownPassed(reading.DeviceID, TypeSpecific, cfg) {
		alerts = append(alerts, c.fire(reading, TypeSpecific, value))
	}
	return alerts
}

// CheckDigital 数字输入变化判定：值翻转且开启 DI 告警时触发
func (c *Checker) CheckDigital(ctx context.Context, accountID, deviceID, value string) []Alert {
	c.mu.Lock()
	prev, seen := c.diState[deviceID]
	c.diState[deviceID] = value
	c.mu.Unlock()

	if !seen || prev == value {
		return nil
	}

	cfg := c.loadConfig(ctx, deviceID)
	if cfg == nil || !cfg.DIEnabled {
		return nil
	}
	if !c.cooldownPassed(deviceID, TypeDI, cfg) {
		return nil
	}

	v, _ := strconv.ParseFloat(value, 64)
	now := time.Now()
	c.markFired(deviceID, TypeDI, now)
	return []Alert{{
		AccountID: accountID,
		DeviceID:  deviceID,
		Type:      TypeDI,
		Value:     v,
		FiredAt:   now,
	}}
}

// Forget 清掉设备的缓存状态（所有权转移后调用）
func (c *Checker) Forget(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.configs, deviceID)
	delete(c.diState, deviceID)
	for _, t := range []string{TypeHigh, TypeLow, TypeSpecific, TypeDI, TypeComm} {
		delete(c.lastFired, deviceID+":"+t)
	}
}

func (c *Checker) loadConfig(ctx context.Context, deviceID string) *models.AlarmDefaults {
	c.mu.Lock()
	cached, ok := c.configs[deviceID]
	c.mu.Unlock()
	if ok && time.Since(cached.fetchedAt) < configTTL {
		return cached.cfg
	}

	cfg, err := c.source.GetAlarmDefaults(ctx, deviceID)
	if err != nil {
		c.logger.Debug("告警配置读取失败", zap.String("device_id", deviceID), zap.Error(err))
		return nil
	}

	c.mu.Lock()
	c.configs[deviceID] = &cachedConfig{cfg: cfg, fetchedAt: time.Now()}
	c.mu.Unlock()
	return cfg
}

func (c *Checker) cooldownPassed(deviceID, alarmType string, cfg *models.AlarmDefaults) bool {
	cooldown := defaultCooldown
	if cfg.RepeatMinutes > 0 {
		cooldown = time.Duration(cfg.RepeatMinutes) * time.Minute
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.lastFired[deviceID+":"+alarmType]
	return !ok || time.Since(last) >= cooldown
}

func (c *Checker) markFired(deviceID, alarmType string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastFired[deviceID+":"+alarmType] = at
}

func (c *Checker) fire(reading *models.SensorReading, alarmType string, value float64) Alert {
	now := time.Now()
	c.markFired(reading.DeviceID, alarmType, now)
	c.logger.Info("告警触发",
		zap.String("device_id", reading.DeviceID),
		zap.String("alarm_type", alarmType),
		zap.Float64("value", value))
	return Alert{
		AccountID: reading.Account,
		DeviceID:  reading.DeviceID,
		Type:      alarmType,
		Value:     value,
		FiredAt:   now,
	}
}
