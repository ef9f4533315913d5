package status

import (
	"sync"

	"github.com/thepine7/dashboard-sub002/internal/models"
)

// LatestStore 每设备最新读数的线程安全存储
//
// 短轮询状态查询的快速读路径。按设备ID保存最近一次接纳的读数，
// 任何设备的写入互不影响。
type LatestStore struct {
	mu       sync.RWMutex
	byDevice map[string]models.SensorReading
}

// NewLatestStore 创建存储
func NewLatestStore() *LatestStore {
	return &LatestStore{
		byDevice: make(map[string]models.SensorReading),
	}
}

// Set 记录设备最新读数
func (s *LatestStore) Set(reading models.SensorReading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byDevice[reading.DeviceID] = reading
}

// Get 查询设备最新读数
func (s *LatestStore) Get(deviceID string) (models.SensorReading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byDevice[deviceID]
	return r, ok
}

// Delete 清除设备状态（所有权转移/设备删除时调用）
func (s *LatestStore) Delete(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byDevice, deviceID)
}

// SnapshotByAccount 返回某账号全部设备的最新读数
func (s *LatestStore) SnapshotByAccount(account string) []models.SensorReading {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.SensorReading
	for _, r := range s.byDevice {
		if r.Account == account {
			out = append(out, r)
		}
	}
	return out
}

// Len 当前跟踪的设备数
func (s *LatestStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byDevice)
}
