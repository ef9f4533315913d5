package consumer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thepine7/dashboard-sub002/internal/alarm"
	"github.com/thepine7/dashboard-sub002/internal/consistency"
	"github.com/thepine7/dashboard-sub002/internal/decoder"
	"github.com/thepine7/dashboard-sub002/internal/fanout"
	"github.com/thepine7/dashboard-sub002/internal/models"
	"github.com/thepine7/dashboard-sub002/internal/status"
	"github.com/thepine7/dashboard-sub002/pkg/mqtt"
	"github.com/thepine7/dashboard-sub002/pkg/redisx"
)

// ReadingWriter 读数落库（单条与批量）
type ReadingWriter interface {
	InsertReading(ctx context.Context, reading *models.SensorReading) error
	InsertBatch(ctx context.Context, readings []*models.SensorReading) error
}

// RegisterHandler 注册帧处理（transfer.Service）
type RegisterHandler interface {
	HandleRegister(ctx context.Context, req *models.RegisterRequest) error
}

// TaskRunner 后台任务提交
type TaskRunner interface {
	Submit(task func()) bool
}

// AlarmChecker 阈值告警判定
type AlarmChecker interface {
	CheckReading(ctx context.Context, reading *models.SensorReading) []alarm.Alert
	CheckDigital(ctx context.Context, accountID, deviceID, value string) []alarm.Alert
}

// AlertSink 告警外发
type AlertSink interface {
	AlarmTriggered(ctx context.Context, accountID, deviceID, alarmType string, value float64) error
}

const (
	defaultBatchSize     = 50
	defaultFlushInterval = 200 * time.Millisecond
)

// MQTTConsumer 传感器数据消费者
// 解码在接收 goroutine 上同步完成；读数先入待刷批，攒满 batchSize
// 或到 flushInterval 由批量路径统一裁决（AdmitBatch）、落库（批量
// 事务）并扇出，实时推送/流镜像/告警判定丢到任务池异步执行
type MQTTConsumer struct {
	client  *mqtt.Client
	coord   *consistency.Coordinator
	writer  ReadingWriter
	latest  *status.LatestStore
	hub     *fanout.Hub
	redis   *redisx.Client
	reg     RegisterHandler
	pool    TaskRunner
	checker AlarmChecker
	alerts  AlertSink
	logger  *zap.Logger

	dataTopic string
	stream    string

	batchSize     int
	flushInterval time.Duration

	pendMu  sync.Mutex
	pending []models.Envelope

	flushStop chan struct{}
	flushWG   sync.WaitGroup
}

func NewMQTTConsumer(
	client *mqtt.Client,
	coord *consistency.Coordinator,
	writer ReadingWriter,
	latest *status.LatestStore,
	hub *fanout.Hub,
	redisClient *redisx.Client,
	reg RegisterHandler,
	pool TaskRunner,
	checker AlarmChecker,
	alerts AlertSink,
	dataTopic, stream string,
	batchSize int,
	flushInterval time.Duration,
	logger *zap.Logger,
) *MQTTConsumer {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	return &MQTTConsumer{
		client:        client,
		coord:         coord,
		writer:        writer,
		latest:        latest,
		hub:           hub,
		redis:         redisClient,
		reg:           reg,
		pool:          pool,
		checker:       checker,
		alerts:        alerts,
		dataTopic:     dataTopic,
		stream:        stream,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger,
	}
}

// Start 订阅数据主题并启动批刷定时器
func (c *MQTTConsumer) Start() error {
	if err := c.client.Subscribe(c.dataTopic, 1, c.handleMessage); err != nil {
		return err
	}
	c.flushStop = make(chan struct{})
	c.flushWG.Add(1)
	go c.flushLoop()
	return nil
}

// Stop 退订并刷掉残余待刷批
func (c *MQTTConsumer) Stop() {
	if err := c.client.Unsubscribe(c.dataTopic); err != nil {
		c.logger.Warn("退订失败", zap.String("topic", c.dataTopic), zap.Error(err))
	}
	if c.flushStop != nil {
		close(c.flushStop)
		c.flushWG.Wait()
		c.flushStop = nil
	}
	c.flushPending()
}

func (c *MQTTConsumer) flushLoop() {
	defer c.flushWG.Done()
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.flushPending()
		case <-c.flushStop:
			return
		}
	}
}

// handleMessage 处理一条 MQTT 消息
// 线上格式把路由 topic 嵌在消息体里（"{topic}@{payload}"），
// MQTT 主题只用于订阅路由
func (c *MQTTConsumer) handleMessage(mqttTopic string, payload []byte) error {
	receivedAt := time.Now()

	frame, err := decoder.Decode(string(payload))
	if err != nil {
		var decErr *decoder.DecodeError
		if errors.As(err, &decErr) {
			// 校验失败静默丢弃，不向设备回发错误帧
			c.logger.Warn("消息解码失败",
				zap.String("mqtt_topic", mqttTopic),
				zap.String("reason", decErr.Reason.String()))
			return nil
		}
		return err
	}

	// 原始帧转发给调试订阅方
	if frame.Topic.Account != "" {
		c.publishAsync(frame.Topic.Account, fanout.EventMQTTMessage, map[string]interface{}{
			"deviceId": frame.Topic.DeviceID,
			"channel":  frame.Topic.Channel,
			"payload":  frame.Raw,
		})
	}

	switch frame.Type {
	case models.FrameRegister:
		if err := c.reg.HandleRegister(context.Background(), frame.Register); err != nil {
			c.logger.Error("注册帧处理失败",
				zap.String("device_id", frame.Register.DeviceID), zap.Error(err))
		}
		return nil

	case models.FrameLiveValue:
		env := c.buildEnvelope(frame, receivedAt)
		env.Reading.SensorType = frame.Live.Name
		env.Reading.Value = frame.Live.Value
		c.enqueue(env)
		return nil

	case models.FrameDigitalInput:
		env := c.buildEnvelope(frame, receivedAt)
		env.Reading.SensorType = "din"
		env.Reading.Value = frame.Digital.Value
		c.enqueue(env)
		return nil

	case models.FrameSetResponse:
		// 设置应答只转发给实时订阅方，不落库
		c.publishAsync(frame.Topic.Account, fanout.EventSensorSettings, map[string]interface{}{
			"deviceId": frame.Topic.DeviceID,
			"params":   frame.SetResponse,
		})
		return nil

	default:
		c.logger.Debug("丢弃未识别帧",
			zap.String("discriminator", frame.UnknownDiscriminator))
		return nil
	}
}

// enqueue 读数入待刷批，攒满 batchSize 在当前 goroutine 直接刷
// 入批保持接收顺序，同设备的序列裁决因此仍是顺序的
func (c *MQTTConsumer) enqueue(env models.Envelope) {
	c.pendMu.Lock()
	c.pending = append(c.pending, env)
	var batch []models.Envelope
	if len(c.pending) >= c.batchSize {
		batch = c.pending
		c.pending = nil
	}
	c.pendMu.Unlock()

	if batch != nil {
		c.flushBatch(batch)
	}
}

// flushPending 刷掉不足一批的残余（定时器与 Stop 路径）
func (c *MQTTConsumer) flushPending() {
	c.pendMu.Lock()
	batch := c.pending
	c.pending = nil
	c.pendMu.Unlock()

	if len(batch) > 0 {
		c.flushBatch(batch)
	}
}

// flushBatch 批量裁决 → 落库 → 扇出
// 无效子集（重复/乱序/缺字段）在裁决时剔除，有效子集整体提交；
// 落库失败整批丢弃，不更新最新读数也不推送
func (c *MQTTConsumer) flushBatch(batch []models.Envelope) {
	result := c.coord.AdmitBatch(batch)
	if len(result.Admitted) == 0 {
		return
	}

	readings := make([]*models.SensorReading, 0, len(result.Admitted))
	for i := range result.Admitted {
		r := result.Admitted[i].Reading
		readings = append(readings, &r)
	}

	var err error
	if len(readings) == 1 {
		err = c.writer.InsertReading(context.Background(), readings[0])
	} else {
		err = c.writer.InsertBatch(context.Background(), readings)
	}
	if err != nil {
		c.logger.Error("读数落库失败",
			zap.Int("batch", len(readings)), zap.Error(err))
		return
	}

	for _, r := range readings {
		c.latest.Set(*r)
	}

	c.publishBatch(readings)

	for _, r := range readings {
		c.mirrorAsync(*r)
		c.checkAlarmsAsync(*r)
	}
}

// publishBatch 按账号分组推送：单条发 sensor_data，多条发 sensor_data_batch
func (c *MQTTConsumer) publishBatch(readings []*models.SensorReading) {
	byAccount := make(map[string][]*models.SensorReading)
	for _, r := range readings {
		byAccount[r.Account] = append(byAccount[r.Account], r)
	}

	for account, group := range byAccount {
		if len(group) == 1 {
			c.publishAsync(account, fanout.EventSensorData, readingPayload(group[0]))
			continue
		}
		items := make([]map[string]interface{}, 0, len(group))
		for _, r := range group {
			items = append(items, readingPayload(r))
		}
		c.publishAsync(account, fanout.EventSensorDataBatch, map[string]interface{}{
			"count":    len(items),
			"readings": items,
		})
	}
}

func readingPayload(r *models.SensorReading) map[string]interface{} {
	return map[string]interface{}{
		"deviceId":   r.DeviceID,
		"sensorType": r.SensorType,
		"value":      r.Value,
		"capturedAt": r.CapturedAt.UnixMilli(),
	}
}

func (c *MQTTConsumer) buildEnvelope(frame models.Frame, receivedAt time.Time) models.Envelope {
	messageID := frame.MessageID
	if messageID == "" {
		// 设备未带消息ID时合成一个，去重窗口对它永远不命中
		messageID = uuid.New().String()
	}
	return models.Envelope{
		MessageID:    messageID,
		DeviceID:     frame.Topic.DeviceID,
		SequenceHint: frame.Seq,
		ReceivedAt:   receivedAt,
		Reading: models.SensorReading{
			DeviceID:   frame.Topic.DeviceID,
			Account:    frame.Topic.Account,
			CapturedAt: receivedAt,
		},
	}
}

func (c *MQTTConsumer) publishAsync(account, eventType string, data interface{}) {
	c.pool.Submit(func() {
		c.hub.Publish(account, eventType, data)
	})
}

// mirrorAsync 把已接受的读数镜像到 Redis Stream 供下游服务消费
func (c *MQTTConsumer) mirrorAsync(reading models.SensorReading) {
	if c.redis == nil {
		return
	}
	c.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := redisx.PublishToStream(ctx, c.redis, c.stream, map[string]interface{}{
			"device_id":   reading.DeviceID,
			"account":     reading.Account,
			"sensor_type": reading.SensorType,
			"value":       reading.Value,
			"captured_at": reading.CapturedAt.UnixMilli(),
		})
		if err != nil {
			c.logger.Warn("流镜像写入失败",
				zap.String("device_id", reading.DeviceID), zap.Error(err))
		}
	})
}

// checkAlarmsAsync 数字输入走翻转判定，其余走阈值判定
func (c *MQTTConsumer) checkAlarmsAsync(reading models.SensorReading) {
	r := reading
	c.pool.Submit(func() {
		var alerts []alarm.Alert
		if r.SensorType == "din" {
			alerts = c.checker.CheckDigital(context.Background(), r.Account, r.DeviceID, r.Value)
		} else {
			alerts = c.checker.CheckReading(context.Background(), &r)
		}
		for _, alert := range alerts {
			c.emitAlert(alert)
		}
	})
}

func (c *MQTTConsumer) emitAlert(alert alarm.Alert) {
	c.hub.Publish(alert.AccountID, fanout.EventAlarm, map[string]interface{}{
		"deviceId":  alert.DeviceID,
		"alarmType": alert.Type,
		"value":     alert.Value,
		"firedAt":   alert.FiredAt.UnixMilli(),
	})
	if c.alerts != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.alerts.AlarmTriggered(ctx, alert.AccountID, alert.DeviceID, alert.Type, alert.Value); err != nil {
			c.logger.Debug("告警转发失败", zap.Error(err))
		}
	}
}
