package fanout

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 事件类型，与前端订阅方约定一致
const (
	EventSensorData      = "sensor_data"
	EventSensorDataBatch = "sensor_data_batch"
	EventMQTTMessage     = "mqtt_message"
	EventSensorSettings  = "sensor_settings"
	EventAlarm           = "alarm"
	EventSystemStatus    = "system_status"
	EventHeartbeat       = "heartbeat"
)

const (
	sessionBuffer     = 32
	keepaliveInterval = 25 * time.Second
)

// Event 推送给单个会话的一条消息
type Event struct {
	Type      string      `json:"type"`
	AccountID string      `json:"accountId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Session 一个订阅会话。Events 由 Hub 写入、由持有方读取，
// Hub 在缓冲写满时直接摘除会话而不是阻塞
type Session struct {
	ID        string
	AccountID string
	Events    chan Event
}

// Hub 按账号分组的事件分发器
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*Session // accountID -> sessionID -> session
	logger   *zap.Logger
	done     chan struct{}
	once     sync.Once
}

func NewHub(logger *zap.Logger) *Hub {
	h := &Hub{
		sessions: make(map[string]map[string]*Session),
		logger:   logger,
		done:     make(chan struct{}),
	}
	go h.keepaliveLoop()
	return h
}

// Subscribe 为账号注册一个新会话
func (h *Hub) Subscribe(accountID string) *Session {
	s := &Session{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Events:    make(chan Event, sessionBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[accountID] == nil {
		h.sessions[accountID] = make(map[string]*Session)
	}
	h.sessions[accountID][s.ID] = s

	h.logger.Info("会话已注册",
		zap.String("account_id", accountID),
		zap.String("session_id", s.ID))
	return s
}

// Unsubscribe 注销会话并关闭其事件通道
func (h *Hub) Unsubscribe(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s)
}

func (h *Hub) removeLocked(s *Session) {
	group, ok := h.sessions[s.AccountID]
	if !ok {
		return
	}
	if _, ok := group[s.ID]; !ok {
		return
	}
	delete(group, s.ID)
	if len(group) == 0 {
		delete(h.sessions, s.AccountID)
	}
	close(s.Events)
}

// Publish 向账号下所有会话广播一条事件。慢消费者直接摘除，
// 广播路径永不阻塞
func (h *Hub) Publish(accountID, eventType string, data interface{}) {
	ev := Event{
		Type:      eventType,
		AccountID: accountID,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.sessions[accountID] {
		select {
		case s.Events <- ev:
		default:
			h.logger.Warn("会话缓冲已满，摘除会话",
				zap.String("account_id", accountID),
				zap.String("session_id", s.ID))
			h.removeLocked(s)
		}
	}
}

// Broadcast 向所有账号广播系统级事件
func (h *Hub) Broadcast(eventType string, data interface{}) {
	h.mu.RLock()
	accounts := make([]string, 0, len(h.sessions))
	for accountID := range h.sessions {
		accounts = append(accounts, accountID)
	}
	h.mu.RUnlock()

	for _, accountID := range accounts {
		h.Publish(accountID, eventType, data)
	}
}

// SessionCount 当前会话总数
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, group := range h.sessions {
		n += len(group)
	}
	return n
}

func (h *Hub) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.Broadcast(EventHeartbeat, map[string]string{"status": "ok"})
		}
	}
}

// Close 停止心跳并关闭所有会话
func (h *Hub) Close() {
	h.once.Do(func() {
		close(h.done)
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, group := range h.sessions {
		for _, s := range group {
			close(s.Events)
		}
	}
	h.sessions = make(map[string]map[string]*Session)
}

// MarshalEvent 序列化事件，用于 SSE 输出
func MarshalEvent(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}
