package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Notifier 向外部告警网关转发设备事件
// 网关不可用时只记录日志，不影响采集主流程
type Notifier struct {
	client   *resty.Client
	endpoint string
	logger   *zap.Logger
}

func NewNotifier(endpoint, apiKey string, logger *zap.Logger) *Notifier {
	client := resty.New().
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		client.SetHeader("X-API-Key", apiKey)
	}
	return &Notifier{
		client:   client,
		endpoint: endpoint,
		logger:   logger,
	}
}

// DeviceRegistered 设备注册完成通知
func (n *Notifier) DeviceRegistered(ctx context.Context, accountID, deviceID, model string) error {
	return n.post(ctx, "/events/device-registered", map[string]interface{}{
		"accountId": accountID,
		"deviceId":  deviceID,
		"model":     model,
		"timestamp": time.Now().UnixMilli(),
	})
}

// AlarmTriggered 阈值告警通知
func (n *Notifier) AlarmTriggered(ctx context.Context, accountID, deviceID, alarmType string, value float64) error {
	return n.post(ctx, "/events/alarm", map[string]interface{}{
		"accountId": accountID,
		"deviceId":  deviceID,
		"alarmType": alarmType,
		"value":     value,
		"timestamp": time.Now().UnixMilli(),
	})
}

func (n *Notifier) post(ctx context.Context, path string, body interface{}) error {
	if n.endpoint == "" {
		return nil
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(n.endpoint + path)
	if err != nil {
		n.logger.Warn("通知发送失败", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("notify %s: %w", path, err)
	}
	if resp.IsError() {
		n.logger.Warn("通知网关返回错误",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode()))
		return fmt.Errorf("notify %s: status %d", path, resp.StatusCode())
	}
	return nil
}
