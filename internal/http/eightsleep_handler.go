package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"singularity-sleep/internal/eightsleep"
	"singularity-sleep/internal/service"

	"go.uber.org/zap"
)

// EightSleepHandler Eight Sleep 集成 Handler
type EightSleepHandler struct {
	eightSleepService service.EightSleepService
	analysisService   service.AnalysisService
	logger            *zap.Logger
}

// NewEightSleepHandler 创建 EightSleepHandler
func NewEightSleepHandler(eightSleepService service.EightSleepService, analysisService service.AnalysisService, logger *zap.Logger) *EightSleepHandler {
	return &EightSleepHandler{
		eightSleepService: eightSleepService,
		analysisService:   analysisService,
		logger:            logger,
	}
}

// userIDFromReq 读取网关注入的 X-User-Id；缺失返回 401
func (h *EightSleepHandler) userIDFromReq(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return "", false
	}
	return userID, true
}

// writeServiceError 服务层错误到 HTTP 状态码的映射
func (h *EightSleepHandler) writeServiceError(w http.ResponseWriter, err error) {
	var authErr *eightsleep.AuthError
	var rateErr *eightsleep.RateLimitError

	switch {
	case errors.Is(err, service.ErrNotConnected):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrAlreadyConnected):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &authErr):
		// 厂家认证失败是调用方给的凭证问题，不是本服务的 401
		writeError(w, http.StatusBadRequest, "invalid Eight Sleep credentials")
	case errors.As(err, &rateErr):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// Connect 绑定 Eight Sleep 账号
// POST /eightsleep/api/v1/connect
func (h *EightSleepHandler) Connect(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userIDFromReq(w, r)
	if !ok {
		return
	}

	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		SyncTime string `json:"sync_time"`
		Timezone string `json:"timezone"`
	}
	if err := readBodyJSON(r, 1<<20, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Email == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	resp, err := h.eightSleepService.Connect(r.Context(), service.ConnectRequest{
		UserID:   userID,
		Email:    body.Email,
		Password: body.Password,
		SyncTime: body.SyncTime,
		Timezone: body.Timezone,
	})
	if err != nil {
		h.logger.Warn("Connect failed", zap.String("user_id", userID), zap.Error(err))
		h.writeServiceError(w, err)
		return
	}

	writeMessage(w, http.StatusCreated, "Eight Sleep connected", map[string]any{
		"device_id": resp.DeviceID,
		"bed_side":  resp.BedSide,
	})
}

// Disconnect 解绑 Eight Sleep 账号
// DELETE /eightsleep/api/v1/disconnect
func (h *EightSleepHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userIDFromReq(w, r)
	if !ok {
		return
	}

	if err := h.eightSleepService.Disconnect(r.Context(), userID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Eight Sleep disconnected", nil)
}

// GetStatus 集成状态
// GET /eightsleep/api/v1/status
func (h *EightSleepHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userIDFromReq(w, r)
	if !ok {
		return
	}

	resp, err := h.eightSleepService.GetStatus(r.Context(), userID)
	if err != nil {
		h.logger.Error("GetStatus failed", zap.String("user_id", userID), zap.Error(err))
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Sync 手动触发一次同步
// POST /eightsleep/api/v1/sync
func (h *EightSleepHandler) Sync(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userIDFromReq(w, r)
	if !ok {
		return
	}

	var body struct {
		FromDate    string `json:"from_date"`
		ToDate      string `json:"to_date"`
		InitialSync bool   `json:"initial_sync"`
	}
	if err := readBodyJSON(r, 1<<20, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.FromDate != "" {
		if _, err := time.Parse("2006-01-02", body.FromDate); err != nil {
			writeError(w, http.StatusBadRequest, "invalid from_date, expected YYYY-MM-DD")
			return
		}
	}
	if body.ToDate != "" {
		if _, err := time.Parse("2006-01-02", body.ToDate); err != nil {
			writeError(w, http.StatusBadRequest, "invalid to_date, expected YYYY-MM-DD")
			return
		}
	}

	result, err := h.eightSleepService.Sync(r.Context(), service.SyncRequest{
		UserID:      userID,
		FromDate:    body.FromDate,
		ToDate:      body.ToDate,
		InitialSync: body.InitialSync,
	})
	if err != nil {
		if errors.Is(err, service.ErrNotConnected) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		// 同步失败仍然返回结果体（含错误信息），状态码 502
		if result != nil {
			writeJSON(w, http.StatusBadGateway, result)
			return
		}
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// UpdateSettings 更新同步计划
// PATCH /eightsleep/api/v1/settings
func (h *EightSleepHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userIDFromReq(w, r)
	if !ok {
		return
	}

	var body struct {
		SyncTime string `json:"sync_time"`
		Timezone string `json:"timezone"`
	}
	if err := readBodyJSON(r, 1<<20, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.eightSleepService.UpdateSettings(r.Context(), service.UpdateSettingsRequest{
		UserID:   userID,
		SyncTime: body.SyncTime,
		Timezone: body.Timezone,
	})
	if err != nil {
		if errors.Is(err, service.ErrNotConnected) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeMessage(w, http.StatusOK, "settings updated", nil)
}

// GetSessions 睡眠会话列表
// GET /eightsleep/api/v1/sessions?start_date=2026-08-01&end_date=2026-08-31&page=1&size=10
func (h *EightSleepHandler) GetSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userIDFromReq(w, r)
	if !ok {
		return
	}

	req := service.GetSessionsRequest{
		UserID:    userID,
		StartDate: r.URL.Query().Get("start_date"),
		EndDate:   r.URL.Query().Get("end_date"),
		Page:      parseIntQuery(r, "page", 1),
		PageSize:  parseIntQuery(r, "size", 10),
	}

	resp, err := h.eightSleepService.GetSessions(r.Context(), req)
	if err != nil {
		h.logger.Error("GetSessions failed", zap.String("user_id", userID), zap.Error(err))
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSessionDetail 单条会话详情
// GET /eightsleep/api/v1/sessions/{id}
func (h *EightSleepHandler) GetSessionDetail(w http.ResponseWriter, r *http.Request, sessionID string) {
	userID, ok := h.userIDFromReq(w, r)
	if !ok {
		return
	}

	session, err := h.eightSleepService.GetSessionDetail(r.Context(), userID, sessionID)
	if err != nil {
		h.logger.Error("GetSessionDetail failed",
			zap.String("user_id", userID),
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		h.writeServiceError(w, err)
		return
	}
	if session == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// ExportSessions 导出睡眠会话 Excel
// GET /eightsleep/api/v1/sessions/export?start_date=2026-06-01
func (h *EightSleepHandler) ExportSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userIDFromReq(w, r)
	if !ok {
		return
	}

	sessions, err := h.eightSleepService.ExportSessions(r.Context(), userID, r.URL.Query().Get("start_date"))
	if err != nil {
		h.logger.Error("ExportSessions failed", zap.String("user_id", userID), zap.Error(err))
		h.writeServiceError(w, err)
		return
	}

	data, err := GenerateSleepSessionsExport(sessions)
	if err != nil {
		h.logger.Error("Failed to generate export file", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to generate export file")
		return
	}

	filename := fmt.Sprintf("sleep_sessions_%s.xlsx", time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// GetAnalysis 睡眠分析汇总
// GET /eightsleep/api/v1/analysis?days=30
func (h *EightSleepHandler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userIDFromReq(w, r)
	if !ok {
		return
	}

	resp, err := h.analysisService.GetAnalysis(r.Context(), service.GetAnalysisRequest{
		UserID: userID,
		Days:   parseIntQuery(r, "days", 0),
	})
	if err != nil {
		h.logger.Error("GetAnalysis failed", zap.String("user_id", userID), zap.Error(err))
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetTrends 睡眠趋势
// GET /eightsleep/api/v1/trends?days=30
func (h *EightSleepHandler) GetTrends(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userIDFromReq(w, r)
	if !ok {
		return
	}

	resp, err := h.analysisService.GetTrends(r.Context(), service.GetTrendsRequest{
		UserID: userID,
		Days:   parseIntQuery(r, "days", 0),
	})
	if err != nil {
		h.logger.Error("GetTrends failed", zap.String("user_id", userID), zap.Error(err))
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetCorrelations 补剂/习惯与睡眠评分的关联
// GET /eightsleep/api/v1/correlations?days=90&min_nights=5
func (h *EightSleepHandler) GetCorrelations(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userIDFromReq(w, r)
	if !ok {
		return
	}

	resp, err := h.analysisService.GetCorrelations(r.Context(), service.GetCorrelationsRequest{
		UserID:    userID,
		Days:      parseIntQuery(r, "days", 0),
		MinNights: parseIntQuery(r, "min_nights", 0),
	})
	if err != nil {
		h.logger.Error("GetCorrelations failed", zap.String("user_id", userID), zap.Error(err))
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// BackfillCorrelations 回填历史会话的关联快照
// POST /eightsleep/api/v1/correlations/backfill
func (h *EightSleepHandler) BackfillCorrelations(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userIDFromReq(w, r)
	if !ok {
		return
	}

	result, err := h.analysisService.BackfillCorrelations(r.Context(), userID)
	if err != nil {
		h.logger.Error("BackfillCorrelations failed", zap.String("user_id", userID), zap.Error(err))
		h.writeServiceError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "backfill completed", map[string]any{
		"sessions_processed": result.SessionsProcessed,
		"snapshots_created":  result.SnapshotsCreated,
	})
}

// ListTimezones 支持的 IANA 时区列表
// GET /eightsleep/api/v1/timezones
func (h *EightSleepHandler) ListTimezones(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"timezones": supportedTimezones})
}

// supportedTimezones 前端时区下拉框用
var supportedTimezones = []string{
	"America/New_York",
	"America/Chicago",
	"America/Denver",
	"America/Phoenix",
	"America/Los_Angeles",
	"America/Anchorage",
	"Pacific/Honolulu",
	"America/Toronto",
	"America/Vancouver",
	"America/Mexico_City",
	"America/Sao_Paulo",
	"Europe/London",
	"Europe/Dublin",
	"Europe/Paris",
	"Europe/Berlin",
	"Europe/Madrid",
	"Europe/Rome",
	"Europe/Amsterdam",
	"Europe/Stockholm",
	"Europe/Warsaw",
	"Europe/Moscow",
	"Asia/Dubai",
	"Asia/Kolkata",
	"Asia/Singapore",
	"Asia/Hong_Kong",
	"Asia/Shanghai",
	"Asia/Tokyo",
	"Asia/Seoul",
	"Australia/Sydney",
	"Australia/Melbourne",
	"Australia/Perth",
	"Pacific/Auckland",
	"UTC",
}
