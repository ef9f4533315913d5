package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterRoutes 挂载采集服务的全部路由
func (r *Router) RegisterRoutes(s *StreamHandler, st *StatusHandler, e *ExportHandler) {
	// 实时推送（SSE）
	r.Handle("/data/api/v1/stream", s.Subscribe)

	// 短轮询状态
	r.Handle("/data/api/v1/status/latest", st.Latest)
	r.Handle("/data/api/v1/status/device/", st.Device)
	r.Handle("/data/api/v1/stats", st.Stats)

	// 历史导出
	r.Handle("/data/api/v1/export/readings", e.Readings)

	// 健康检查
	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}
