package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/thepine7/dashboard-sub002/internal/models"
	"github.com/thepine7/dashboard-sub002/internal/repository"

	"go.uber.org/zap"
)

// Publisher 下行帧发布接口（由 MQTT 客户端实现）
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// DeviceStore 所有权转移需要的设备持久化操作
type DeviceStore interface {
	GetByDeviceID(ctx context.Context, deviceID string) (*models.Device, error)
	Touch(ctx context.Context, deviceID string) error
	Rename(ctx context.Context, deviceID, name string) error
	TransferOwnership(ctx context.Context, req *models.RegisterRequest, topic string) error
}

// ReadingPurger 历史读数分批清理
type ReadingPurger interface {
	PurgeDeviceBatch(ctx context.Context, deviceID string, limit int) (int64, error)
}

// TaskRunner 后台任务提交（worker.Pool）
type TaskRunner interface {
	Submit(task func()) bool
}

// Notifier 外部注册完成通知
type Notifier interface {
	DeviceRegistered(ctx context.Context, accountID, deviceID, model string) error
}

const (
	defaultPurgeBatch      = 1000
	defaultPurgePause      = 10 * time.Millisecond
	defaultConfigReadDelay = 2 * time.Second
	defaultStatusReadDelay = 4 * time.Second
	// 单批删除的事务超时（批量操作口径）
	purgeBatchTimeout = 60 * time.Second
)

// Service 处理设备注册帧的所有权转移流程
//  1. 同账号重复注册退化为状态探测（touch + 重发 ack）
//  2. 先发 ack 再做数据库工作，设备侧尽快收到确认
//  3. 删旧主/建新主在一个事务内完成
//  4. 历史读数异步分批清理
//  5. 延迟下发配置/状态回读指令
type Service struct {
	devices  DeviceStore
	purger   ReadingPurger
	pub      Publisher
	pool     TaskRunner
	notifier Notifier
	logger   *zap.Logger

	purgeBatch      int
	purgePause      time.Duration
	configReadDelay time.Duration
	statusReadDelay time.Duration

	mu       sync.Mutex
	inFlight map[string]struct{} // deviceID -> 正在转移

	// 转移完成后要清理的设备内存状态（序列跟踪、最新读数、告警缓存）
	resetters []func(deviceID string)
}

func NewService(devices DeviceStore, purger ReadingPurger, pub Publisher, pool TaskRunner, notifier Notifier, logger *zap.Logger) *Service {
	return &Service{
		devices:         devices,
		purger:          purger,
		pub:             pub,
		pool:            pool,
		notifier:        notifier,
		logger:          logger,
		purgeBatch:      defaultPurgeBatch,
		purgePause:      defaultPurgePause,
		configReadDelay: defaultConfigReadDelay,
		statusReadDelay: defaultStatusReadDelay,
		inFlight:        make(map[string]struct{}),
	}
}

// RegisterReset 注册转移完成后的状态清理回调
// 状态探测（同账号重复注册）不触发
func (s *Service) RegisterReset(fns ...func(deviceID string)) {
	s.resetters = append(s.resetters, fns...)
}

// SetPurgeBatch 调整清理批大小与批间暂停（测试用）
func (s *Service) SetPurgeBatch(batch int, pause time.Duration) {
	if batch > 0 {
		s.purgeBatch = batch
	}
	s.purgePause = pause
}

// HandleRegister 处理一条注册帧
// 设备正在转移中时重复注册只补发 ack，不再进数据库
func (s *Service) HandleRegister(ctx context.Context, req *models.RegisterRequest) error {
	if req.Account == "" || req.DeviceID == "" {
		return errors.New("register frame missing account or device id")
	}

	// 1. 先发 ack，设备收到确认后停止重发注册帧
	if err := s.publishAck(req); err != nil {
		s.logger.Warn("注册 ack 发送失败",
			zap.String("device_id", req.DeviceID), zap.Error(err))
	}

	// 2. 转移中的设备只收 ack
	s.mu.Lock()
	if _, busy := s.inFlight[req.DeviceID]; busy {
		s.mu.Unlock()
		s.logger.Info("设备转移进行中，忽略重复注册",
			zap.String("device_id", req.DeviceID))
		return nil
	}
	s.inFlight[req.DeviceID] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, req.DeviceID)
		s.mu.Unlock()
	}()

	// 3. 同账号重复注册：带名字是改名请求，否则是状态探测，都不改所有权
	existing, err := s.devices.GetByDeviceID(ctx, req.DeviceID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("register lookup: %w", err)
	}
	if existing != nil && existing.Account == req.Account {
		if req.Name != "" {
			if err := s.devices.Rename(ctx, req.DeviceID, req.Name); err != nil {
				return fmt.Errorf("rename device: %w", err)
			}
			s.logger.Info("设备改名",
				zap.String("device_id", req.DeviceID), zap.String("name", req.Name))
		} else if err := s.devices.Touch(ctx, req.DeviceID); err != nil {
			s.logger.Warn("设备 touch 失败",
				zap.String("device_id", req.DeviceID), zap.Error(err))
		}
		s.scheduleDeviceReads(req)
		return nil
	}

	// 4. 所有权转移事务：删旧主、建新主、写入默认告警配置
	topic := fmt.Sprintf("HBEE/%s/%s/%s", req.Account, req.Model, req.DeviceID)
	if err := s.devices.TransferOwnership(ctx, req, topic); err != nil {
		return fmt.Errorf("transfer ownership: %w", err)
	}

	s.logger.Info("设备所有权已转移",
		zap.String("device_id", req.DeviceID),
		zap.String("account", req.Account),
		zap.String("model", req.Model))

	// 旧主的内存状态全部作废
	for _, reset := range s.resetters {
		reset(req.DeviceID)
	}

	// 5. 历史读数异步清理（失败只记日志）
	deviceID := req.DeviceID
	if !s.pool.Submit(func() { s.purgeHistory(deviceID) }) {
		s.logger.Warn("清理任务提交失败", zap.String("device_id", deviceID))
	}

	// 6. 延迟回读设备配置与状态
	s.scheduleDeviceReads(req)

	// 7. 注册完成通知
	s.publishRegistered(req)
	if s.notifier != nil {
		if err := s.notifier.DeviceRegistered(ctx, req.Account, req.DeviceID, req.Model); err != nil {
			s.logger.Debug("注册通知转发失败", zap.Error(err))
		}
	}
	return nil
}

// publishAck 下发注册确认帧
// 设备侧只认紧凑 key=value 指令格式，payload 就是裸的 "REG&value=1"
func (s *Service) publishAck(req *models.RegisterRequest) error {
	topic := fmt.Sprintf("HBEE/%s/%s/%s/SER", req.Account, req.Model, req.DeviceID)
	return s.pub.Publish(topic, 1, false, []byte("REG&value=1"))
}

// scheduleDeviceReads 注册后延迟回读：+2s 配置、+4s 状态
func (s *Service) scheduleDeviceReads(req *models.RegisterRequest) {
	topic := fmt.Sprintf("HBEE/%s/%s/%s/SER", req.Account, req.Model, req.DeviceID)

	submitted := s.pool.Submit(func() {
		time.Sleep(s.configReadDelay)
		s.publishRead(topic, 1)
		time.Sleep(s.statusReadDelay - s.configReadDelay)
		s.publishRead(topic, 2)
	})
	if !submitted {
		s.logger.Warn("回读任务提交失败", zap.String("topic", topic))
	}
}

// publishRead 下发回读指令，type=1 配置、type=2 状态
func (s *Service) publishRead(topic string, readType int) {
	payload := fmt.Sprintf("GET&type=%d", readType)
	if err := s.pub.Publish(topic, 1, false, []byte(payload)); err != nil {
		s.logger.Warn("回读指令发送失败",
			zap.String("topic", topic), zap.Int("type", readType), zap.Error(err))
	}
}

// publishRegistered 注册完成广播帧，app 侧按 actcode/mac 字段消费
func (s *Service) publishRegistered(req *models.RegisterRequest) {
	topic := fmt.Sprintf("HBEE/%s/DEVICE_REGISTERED", req.Account)
	payload := fmt.Sprintf(`{"actcode":"device_registered","mac":"%s","model":"%s","timestamp":%d}`,
		req.DeviceID, req.Model, time.Now().UnixMilli())
	if err := s.pub.Publish(topic, 1, false, []byte(payload)); err != nil {
		s.logger.Warn("注册广播发送失败", zap.String("topic", topic), zap.Error(err))
	}
}

// purgeHistory 分批删除设备历史读数，批间暂停以降低数据库压力
// 单批无进展（0 行）即结束，失败只记日志不重试
func (s *Service) purgeHistory(deviceID string) {
	var total int64
	for {
		ctx, cancel := context.WithTimeout(context.Background(), purgeBatchTimeout)
		n, err := s.purger.PurgeDeviceBatch(ctx, deviceID, s.purgeBatch)
		cancel()
		if err != nil {
			s.logger.Error("历史读数清理失败",
				zap.String("device_id", deviceID),
				zap.Int64("purged", total),
				zap.Error(err))
			return
		}
		total += n
		if n == 0 {
			break
		}
		time.Sleep(s.purgePause)
	}
	s.logger.Info("历史读数清理完成",
		zap.String("device_id", deviceID),
		zap.Int64("purged", total))
}
