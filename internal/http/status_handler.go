package httpapi

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/thepine7/dashboard-sub002/internal/consistency"
	"github.com/thepine7/dashboard-sub002/internal/fanout"
	"github.com/thepine7/dashboard-sub002/internal/models"
	"github.com/thepine7/dashboard-sub002/internal/status"
)

// ReadingCounter 设备历史读数计数（repository.ReadingsRepository）
type ReadingCounter interface {
	CountByDevice(ctx context.Context, deviceID string) (int64, error)
}

// StatusHandler 短轮询状态接口
type StatusHandler struct {
	latest  *status.LatestStore
	coord   *consistency.Coordinator
	hub     *fanout.Hub
	counter ReadingCounter
	logger  *zap.Logger
}

func NewStatusHandler(latest *status.LatestStore, coord *consistency.Coordinator, hub *fanout.Hub, counter ReadingCounter, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{latest: latest, coord: coord, hub: hub, counter: counter, logger: logger}
}

type readingView struct {
	DeviceID   string `json:"deviceId"`
	SensorType string `json:"sensorType"`
	Value      string `json:"value"`
	CapturedAt int64  `json:"capturedAt"`
}

func toView(r models.SensorReading) readingView {
	return readingView{
		DeviceID:   r.DeviceID,
		SensorType: r.SensorType,
		Value:      r.Value,
		CapturedAt: r.CapturedAt.UnixMilli(),
	}
}

// Latest 返回账号下所有设备的最新读数
func (h *StatusHandler) Latest(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, Fail("method not allowed"))
		return
	}
	account := req.URL.Query().Get("account")
	if account == "" {
		writeJSON(w, http.StatusBadRequest, Fail("account is required"))
		return
	}

	readings := h.latest.SnapshotByAccount(account)
	views := make([]readingView, 0, len(readings))
	for _, r := range readings {
		views = append(views, toView(r))
	}
	writeJSON(w, http.StatusOK, Ok(views))
}

// Device 返回单个设备的最新读数与已接纳序列
// 路径：/data/api/v1/status/device/{deviceId}
func (h *StatusHandler) Device(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, Fail("method not allowed"))
		return
	}
	deviceID := strings.TrimPrefix(req.URL.Path, "/data/api/v1/status/device/")
	if deviceID == "" || strings.Contains(deviceID, "/") {
		writeJSON(w, http.StatusBadRequest, Fail("device id is required"))
		return
	}

	reading, ok := h.latest.Get(deviceID)
	if !ok {
		writeJSON(w, http.StatusNotFound, Fail("no reading for device"))
		return
	}
	seq, _ := h.coord.LastSeq(deviceID)

	body := map[string]interface{}{
		"reading": toView(reading),
		"lastSeq": seq,
	}
	if h.counter != nil {
		n, err := h.counter.CountByDevice(req.Context(), deviceID)
		if err != nil {
			h.logger.Warn("读数计数查询失败",
				zap.String("device_id", deviceID), zap.Error(err))
		} else {
			body["readingCount"] = n
		}
	}
	writeJSON(w, http.StatusOK, Ok(body))
}

// Stats 采集统计与会话数
func (h *StatusHandler) Stats(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, Fail("method not allowed"))
		return
	}
	stats := h.coord.Stats()
	writeJSON(w, http.StatusOK, Ok(map[string]interface{}{
		"processed":   stats.Processed,
		"duplicates":  stats.Duplicates,
		"outOfOrder":  stats.OutOfOrder,
		"rejected":    stats.Rejected,
		"trackedIds":  stats.TrackedIDs,
		"trackedSeqs": stats.TrackedSeqs,
		"devices":     h.latest.Len(),
		"sessions":    h.hub.SessionCount(),
	}))
}
