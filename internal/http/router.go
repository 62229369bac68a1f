package httpapi

import (
	"net/http"
	"strings"

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

const eightSleepPrefix = "/eightsleep/api/v1/"

// RegisterEightSleepRoutes 注册 Eight Sleep 集成路由
func (r *Router) RegisterEightSleepRoutes(h *EightSleepHandler) {
	route := func(suffix, method string, fn http.HandlerFunc) {
		r.Handle(eightSleepPrefix+suffix, func(w http.ResponseWriter, req *http.Request) {
			if req.Method != method {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			fn(w, req)
		})
	}

	route("connect", http.MethodPost, h.Connect)
	route("disconnect", http.MethodDelete, h.Disconnect)
	route("status", http.MethodGet, h.GetStatus)
	route("sync", http.MethodPost, h.Sync)
	route("settings", http.MethodPatch, h.UpdateSettings)
	route("timezones", http.MethodGet, h.ListTimezones)

	route("sessions", http.MethodGet, h.GetSessions)
	route("sessions/export", http.MethodGet, h.ExportSessions)
	// sessions/{id}
	r.Handle(eightSleepPrefix+"sessions/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id := strings.TrimPrefix(req.URL.Path, eightSleepPrefix+"sessions/")
		if id == "export" {
			h.ExportSessions(w, req)
			return
		}
		if id == "" || strings.Contains(id, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.GetSessionDetail(w, req, id)
	})

	route("analysis", http.MethodGet, h.GetAnalysis)
	route("trends", http.MethodGet, h.GetTrends)
	route("correlations", http.MethodGet, h.GetCorrelations)
	route("correlations/backfill", http.MethodPost, h.BackfillCorrelations)

	// health
	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
}
