package httpapi

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/thepine7/dashboard-sub002/internal/fanout"
)

// StreamHandler SSE 实时推送入口
type StreamHandler struct {
	hub    *fanout.Hub
	logger *zap.Logger
}

func NewStreamHandler(hub *fanout.Hub, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{hub: hub, logger: logger}
}

// Subscribe 建立一个 text/event-stream 长连接
// 查询参数 account 必填，连接断开或会话被摘除时结束
func (h *StreamHandler) Subscribe(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, Fail("method not allowed"))
		return
	}

	account := req.URL.Query().Get("account")
	if account == "" {
		writeJSON(w, http.StatusBadRequest, Fail("account is required"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, Fail("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	session := h.hub.Subscribe(account)
	defer h.hub.Unsubscribe(session)

	h.logger.Info("SSE 连接建立",
		zap.String("account", account),
		zap.String("session_id", session.ID))

	for {
		select {
		case <-req.Context().Done():
			return
		case ev, ok := <-session.Events:
			if !ok {
				// 会话被摘除（慢消费者或服务关闭）
				return
			}
			data, err := fanout.MarshalEvent(ev)
			if err != nil {
				h.logger.Warn("事件序列化失败", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
