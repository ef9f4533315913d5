package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/thepine7/dashboard-sub002/internal/export"
	"github.com/thepine7/dashboard-sub002/internal/repository"
)

const (
	exportDefaultLimit = 1000
	exportMaxLimit     = 10000
)

// ExportHandler 历史读数导出
type ExportHandler struct {
	readings *repository.ReadingsRepository
	logger   *zap.Logger
}

func NewExportHandler(readings *repository.ReadingsRepository, logger *zap.Logger) *ExportHandler {
	return &ExportHandler{readings: readings, logger: logger}
}

// Readings 导出设备历史读数为 xlsx
// 查询参数：device（必填）、limit（默认1000，上限10000）
func (h *ExportHandler) Readings(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, Fail("method not allowed"))
		return
	}

	deviceID := req.URL.Query().Get("device")
	if deviceID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("device is required"))
		return
	}

	limit := exportDefaultLimit
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, Fail("invalid limit"))
			return
		}
		if n > exportMaxLimit {
			n = exportMaxLimit
		}
		limit = n
	}

	readings, err := h.readings.ListByDevice(req.Context(), deviceID, limit)
	if err != nil {
		h.logger.Error("历史读数查询失败", zap.String("device_id", deviceID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("query failed"))
		return
	}

	data, err := export.GenerateReadingsExport(readings)
	if err != nil {
		h.logger.Error("导出文件生成失败", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("export failed"))
		return
	}

	filename := fmt.Sprintf("readings_%s_%s.xlsx", deviceID, time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
