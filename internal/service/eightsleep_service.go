package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"singularity-sleep/internal/crypto"
	"singularity-sleep/internal/domain"
	"singularity-sleep/internal/eightsleep"
	"singularity-sleep/internal/repository"
	"singularity-sleep/internal/store"

	"go.uber.org/zap"
)

const (
	dateLayout = "2006-01-02"

	// tokenExpiryBuffer 会话 token 的安全余量：距过期不足 5 分钟视为不可复用
	tokenExpiryBuffer = 5 * time.Minute

	// initialSyncDays / regularSyncDays 默认同步窗口：
	// 首次同步回溯 30 天；常规同步回溯 2 天（补抓厂家晚处理的夜晚）
	initialSyncDays = 30
	regularSyncDays = 2

	providerEightSleep = "eight_sleep"
)

var (
	// ErrNotConnected 用户尚未连接 Eight Sleep
	ErrNotConnected = errors.New("Eight Sleep not connected")
	// ErrAlreadyConnected 用户已存在集成记录
	ErrAlreadyConnected = errors.New("Eight Sleep already connected")
)

// eightSleepClientInterface 厂家客户端接口（用于测试替换）
type eightSleepClientInterface interface {
	Login(ctx context.Context, email, password string) (*eightsleep.Session, error)
	GetUser(ctx context.Context, userID, token string) (*eightsleep.User, error)
	GetDevices(ctx context.Context, userID, token string) ([]eightsleep.Device, error)
	GetIntervals(ctx context.Context, userID, token, fromDate, toDate string) ([]eightsleep.Interval, error)
}

// EightSleepService Eight Sleep 集成服务接口
type EightSleepService interface {
	// Connect 绑定账号：认证、解析设备/床侧、加密存储凭证、创建默认同步计划
	Connect(ctx context.Context, req ConnectRequest) (*ConnectResponse, error)

	// Disconnect 解绑账号：删除集成记录（睡眠会话级联删除）和同步计划
	Disconnect(ctx context.Context, userID string) error

	// GetStatus 返回集成状态（未连接时 Connected=false，不报错）
	GetStatus(ctx context.Context, userID string) (*StatusResponse, error)

	// Sync 执行一次同步：fetch → parse → upsert，终态必为 success 或 failed
	Sync(ctx context.Context, req SyncRequest) (*SyncResult, error)

	// UpdateSettings 更新同步计划的时间和时区
	UpdateSettings(ctx context.Context, req UpdateSettingsRequest) error

	// GetSessions 查询睡眠会话列表（支持分页）
	GetSessions(ctx context.Context, req GetSessionsRequest) (*GetSessionsResponse, error)

	// GetSessionDetail 按 session_id 查询单条会话
	GetSessionDetail(ctx context.Context, userID, sessionID string) (*domain.SleepSession, error)

	// ExportSessions 返回 startDate 以来的全部会话（Excel 导出用）
	ExportSessions(ctx context.Context, userID, startDate string) ([]*domain.SleepSession, error)
}

// eightSleepService 实现
type eightSleepService struct {
	integrationsRepo repository.IntegrationsRepository
	sessionsRepo     repository.SessionsRepository
	schedulesRepo    repository.SchedulesRepository
	client           eightSleepClientInterface
	enc              *crypto.Encryptor
	kv               store.KV
	logger           *zap.Logger

	defaultSyncTime string
	defaultTimezone string

	// now 注入时钟（测试用）
	now func() time.Time
}

// NewEightSleepService 创建 EightSleepService 实例
func NewEightSleepService(
	integrationsRepo repository.IntegrationsRepository,
	sessionsRepo repository.SessionsRepository,
	schedulesRepo repository.SchedulesRepository,
	client eightSleepClientInterface,
	enc *crypto.Encryptor,
	kv store.KV,
	defaultSyncTime string,
	defaultTimezone string,
	logger *zap.Logger,
) EightSleepService {
	return &eightSleepService{
		integrationsRepo: integrationsRepo,
		sessionsRepo:     sessionsRepo,
		schedulesRepo:    schedulesRepo,
		client:           client,
		enc:              enc,
		kv:               kv,
		logger:           logger,
		defaultSyncTime:  defaultSyncTime,
		defaultTimezone:  defaultTimezone,
		now:              time.Now,
	}
}

// ============================================
// Request/Response DTOs
// ============================================

// ConnectRequest 绑定账号请求
type ConnectRequest struct {
	UserID   string // 必填
	Email    string // 必填（Eight Sleep 账号邮箱）
	Password string // 必填
	SyncTime string // 可选（"HH:MM"，默认 08:00）
	Timezone string // 可选（IANA 时区，默认取配置）
}

// ConnectResponse 绑定账号响应
type ConnectResponse struct {
	EightUserID string `json:"eight_user_id"`
	DeviceID    string `json:"device_id"`
	BedSide     string `json:"bed_side"`
}

// StatusResponse 集成状态响应
type StatusResponse struct {
	Connected           bool       `json:"connected"`
	LastSyncStatus      string     `json:"last_sync_status"`
	LastSyncAt          *time.Time `json:"last_sync_at"`
	LastSyncedDate      string     `json:"last_synced_date,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastErrorMessage    string     `json:"last_error_message,omitempty"`
	DeviceID            string     `json:"device_id,omitempty"`
	BedSide             string     `json:"bed_side,omitempty"`
	SyncTime            string     `json:"sync_time,omitempty"`
	Timezone            string     `json:"timezone,omitempty"`
}

// SyncRequest 同步请求
type SyncRequest struct {
	UserID      string // 必填
	FromDate    string // 可选（YYYY-MM-DD）
	ToDate      string // 可选（YYYY-MM-DD）
	InitialSync bool   // 首次同步回溯 30 天
}

// SyncResult 同步结果
type SyncResult struct {
	Success           bool   `json:"success"`
	RecordsSynced     int    `json:"records_synced"`
	SkippedIncomplete int    `json:"skipped_incomplete"`
	FromDate          string `json:"from_date"`
	ToDate            string `json:"to_date"`
	LastDate          string `json:"last_date,omitempty"` // 本次同步到的最大日期
	Error             string `json:"error,omitempty"`
}

// UpdateSettingsRequest 更新同步计划请求
type UpdateSettingsRequest struct {
	UserID   string // 必填
	SyncTime string // 可选（"HH:MM"）
	Timezone string // 可选（IANA 时区）
}

// GetSessionsRequest 查询会话列表请求
type GetSessionsRequest struct {
	UserID    string // 必填
	StartDate string // 可选（YYYY-MM-DD，默认最近 30 天）
	EndDate   string // 可选
	Page      int    // 默认 1
	PageSize  int    // 默认 10
}

// GetSessionsResponse 查询会话列表响应
type GetSessionsResponse struct {
	Items []*domain.SleepSession `json:"items"`
	Total int                    `json:"total"`
	Page  int                    `json:"page"`
	Size  int                    `json:"size"`
}

// ============================================
// Service 方法实现
// ============================================

// Connect 绑定账号
// 认证失败在任何写入之前中止
func (s *eightSleepService) Connect(ctx context.Context, req ConnectRequest) (*ConnectResponse, error) {
	if req.UserID == "" || req.Email == "" || req.Password == "" {
		return nil, fmt.Errorf("user_id, email and password are required")
	}

	existing, err := s.integrationsRepo.Get(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing integration: %w", err)
	}
	if existing != nil {
		return nil, ErrAlreadyConnected
	}

	syncTime := req.SyncTime
	if syncTime == "" {
		syncTime = s.defaultSyncTime
	}
	timezone := req.Timezone
	if timezone == "" {
		timezone = s.defaultTimezone
	}
	if err := ValidateSyncTime(syncTime); err != nil {
		return nil, err
	}
	if err := ValidateTimezone(timezone); err != nil {
		return nil, err
	}

	sess, err := s.client.Login(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}

	eightUserID := sess.UserID
	if user, err := s.client.GetUser(ctx, eightUserID, sess.Token); err == nil && user.UserID != "" {
		eightUserID = user.UserID
	}

	devices, err := s.client.GetDevices(ctx, eightUserID, sess.Token)
	if err != nil {
		return nil, err
	}
	bedSide := eightsleep.DetermineBedSide(devices, eightUserID)
	deviceID := ""
	if len(devices) > 0 {
		deviceID = devices[0].DeviceID
	}

	encEmail, err := s.enc.Encrypt(req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt credentials: %w", err)
	}
	encPassword, err := s.enc.Encrypt(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt credentials: %w", err)
	}
	encToken, err := s.enc.Encrypt(sess.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt token: %w", err)
	}

	expiresAt := sess.ExpirationDate
	integ := &domain.Integration{
		UserID:            req.UserID,
		EncryptedEmail:    encEmail,
		EncryptedPassword: encPassword,
		EncryptedToken:    encToken,
		TokenExpiresAt:    &expiresAt,
		EightUserID:       eightUserID,
		DeviceID:          deviceID,
		BedSide:           bedSide,
		LastSyncStatus:    domain.SyncStatusNever,
	}
	if err := s.integrationsRepo.Create(ctx, integ); err != nil {
		return nil, fmt.Errorf("failed to save integration: %w", err)
	}

	schedule := &domain.SyncSchedule{
		UserID:   req.UserID,
		Provider: providerEightSleep,
		SyncTime: syncTime,
		Timezone: timezone,
		Enabled:  true,
	}
	if err := s.schedulesRepo.Upsert(ctx, schedule); err != nil {
		return nil, fmt.Errorf("failed to create sync schedule: %w", err)
	}

	s.logger.Info("Eight Sleep connected",
		zap.String("user_id", req.UserID),
		zap.String("device_id", deviceID),
		zap.String("bed_side", bedSide),
	)

	return &ConnectResponse{
		EightUserID: eightUserID,
		DeviceID:    deviceID,
		BedSide:     bedSide,
	}, nil
}

// Disconnect 解绑账号；不可逆
func (s *eightSleepService) Disconnect(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}

	integ, err := s.integrationsRepo.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get integration: %w", err)
	}
	if integ == nil {
		return ErrNotConnected
	}

	if err := s.integrationsRepo.Delete(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete integration: %w", err)
	}
	if err := s.schedulesRepo.Delete(ctx, userID, providerEightSleep); err != nil {
		s.logger.Warn("Failed to delete sync schedule on disconnect",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
	s.invalidateAnalysisCache(ctx, userID)

	s.logger.Info("Eight Sleep disconnected", zap.String("user_id", userID))
	return nil
}

// GetStatus 返回集成状态；未连接时 Connected=false
func (s *eightSleepService) GetStatus(ctx context.Context, userID string) (*StatusResponse, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	integ, err := s.integrationsRepo.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get integration: %w", err)
	}
	if integ == nil {
		return &StatusResponse{Connected: false, LastSyncStatus: domain.SyncStatusNever}, nil
	}

	resp := &StatusResponse{
		Connected:           true,
		LastSyncStatus:      integ.LastSyncStatus,
		LastSyncAt:          integ.LastSyncAt,
		LastSyncedDate:      integ.LastSyncedDate,
		ConsecutiveFailures: integ.ConsecutiveFailures,
		LastErrorMessage:    integ.LastErrorMessage,
		DeviceID:            integ.DeviceID,
		BedSide:             integ.BedSide,
	}
	if schedule, err := s.schedulesRepo.Get(ctx, userID, providerEightSleep); err == nil && schedule != nil {
		resp.SyncTime = schedule.SyncTime
		resp.Timezone = schedule.Timezone
	}
	return resp, nil
}

// Sync 执行一次同步。无论成败，集成状态都落在终态（success / failed），
// 不会停留在 syncing；失败时已写入的夜晚保留（尽力而为，不回滚）。
func (s *eightSleepService) Sync(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	integ, err := s.integrationsRepo.Get(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get integration: %w", err)
	}
	if integ == nil {
		// 未连接：不发起任何厂家请求
		return &SyncResult{Success: false, Error: ErrNotConnected.Error()}, ErrNotConnected
	}

	if err := s.integrationsRepo.MarkSyncing(ctx, req.UserID); err != nil {
		return nil, fmt.Errorf("failed to mark syncing: %w", err)
	}

	result := &SyncResult{}
	if err := s.runSync(ctx, integ, req, result); err != nil {
		s.logger.Error("Eight Sleep sync failed",
			zap.String("user_id", req.UserID),
			zap.String("from", result.FromDate),
			zap.String("to", result.ToDate),
			zap.Error(err),
		)
		if mErr := s.integrationsRepo.MarkFailed(ctx, req.UserID, err.Error()); mErr != nil {
			s.logger.Error("Failed to persist failed sync status",
				zap.String("user_id", req.UserID),
				zap.Error(mErr),
			)
		}
		result.Success = false
		result.Error = err.Error()
		return result, err
	}

	if mErr := s.integrationsRepo.MarkSuccess(ctx, req.UserID, result.LastDate); mErr != nil {
		s.logger.Error("Failed to persist successful sync status",
			zap.String("user_id", req.UserID),
			zap.Error(mErr),
		)
	}
	s.invalidateAnalysisCache(ctx, req.UserID)

	s.logger.Info("Eight Sleep sync completed",
		zap.String("user_id", req.UserID),
		zap.String("from", result.FromDate),
		zap.String("to", result.ToDate),
		zap.Int("records_synced", result.RecordsSynced),
		zap.Int("skipped_incomplete", result.SkippedIncomplete),
	)

	result.Success = true
	return result, nil
}

// runSync fetch → parse → upsert 循环；单个 interval 失败跳过，不中断
func (s *eightSleepService) runSync(ctx context.Context, integ *domain.Integration, req SyncRequest, result *SyncResult) error {
	from, to := req.FromDate, req.ToDate
	if from == "" || to == "" {
		days := regularSyncDays
		if req.InitialSync {
			days = initialSyncDays
		}
		now := s.now().UTC()
		to = now.Format(dateLayout)
		from = now.AddDate(0, 0, -days).Format(dateLayout)
	}
	result.FromDate = from
	result.ToDate = to

	token, err := s.getValidToken(ctx, integ)
	if err != nil {
		return err
	}

	intervals, err := s.client.GetIntervals(ctx, integ.EightUserID, token, from, to)
	if err != nil {
		return err
	}

	for i := range intervals {
		iv := &intervals[i]
		if iv.Incomplete {
			result.SkippedIncomplete++
			continue
		}

		session := eightsleep.ParseInterval(iv)
		if session.Date == "" {
			s.logger.Warn("Interval missing usable start timestamp, skipping",
				zap.String("user_id", integ.UserID),
				zap.String("interval_id", iv.ID),
			)
			continue
		}
		session.UserID = integ.UserID

		if err := s.sessionsRepo.Upsert(ctx, session); err != nil {
			s.logger.Error("Failed to upsert sleep session, skipping",
				zap.String("user_id", integ.UserID),
				zap.String("date", session.Date),
				zap.Error(err),
			)
			continue
		}

		result.RecordsSynced++
		if session.Date > result.LastDate {
			result.LastDate = session.Date
		}
	}

	return nil
}

// getValidToken 返回可用的会话 token。
// 存储的 token 距过期超过 5 分钟才复用；否则解密凭证重新登录并持久化新 token。
// token 解密失败按"不可复用"处理，走重新认证而不是中止。
func (s *eightSleepService) getValidToken(ctx context.Context, integ *domain.Integration) (string, error) {
	if integ.EncryptedToken != "" && integ.TokenExpiresAt != nil &&
		integ.TokenExpiresAt.After(s.now().Add(tokenExpiryBuffer)) {
		token, err := s.enc.Decrypt(integ.EncryptedToken)
		if err == nil {
			return token, nil
		}
		s.logger.Warn("Failed to decrypt stored token, re-authenticating",
			zap.String("user_id", integ.UserID),
			zap.Error(err),
		)
	}

	email, err := s.enc.Decrypt(integ.EncryptedEmail)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt stored credentials: %w", err)
	}
	password, err := s.enc.Decrypt(integ.EncryptedPassword)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt stored credentials: %w", err)
	}

	sess, err := s.client.Login(ctx, email, password)
	if err != nil {
		return "", err
	}

	encToken, err := s.enc.Encrypt(sess.Token)
	if err == nil {
		if uErr := s.integrationsRepo.UpdateToken(ctx, integ.UserID, encToken, sess.ExpirationDate); uErr != nil {
			s.logger.Warn("Failed to persist refreshed token",
				zap.String("user_id", integ.UserID),
				zap.Error(uErr),
			)
		}
	}

	return sess.Token, nil
}

// UpdateSettings 更新同步计划的时间和时区
func (s *eightSleepService) UpdateSettings(ctx context.Context, req UpdateSettingsRequest) error {
	if req.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if req.SyncTime == "" && req.Timezone == "" {
		return fmt.Errorf("sync_time or timezone is required")
	}

	schedule, err := s.schedulesRepo.Get(ctx, req.UserID, providerEightSleep)
	if err != nil {
		return fmt.Errorf("failed to get sync schedule: %w", err)
	}
	if schedule == nil {
		return ErrNotConnected
	}

	syncTime := schedule.SyncTime
	if req.SyncTime != "" {
		if err := ValidateSyncTime(req.SyncTime); err != nil {
			return err
		}
		syncTime = req.SyncTime
	}
	timezone := schedule.Timezone
	if req.Timezone != "" {
		if err := ValidateTimezone(req.Timezone); err != nil {
			return err
		}
		timezone = req.Timezone
	}

	if err := s.schedulesRepo.UpdateSettings(ctx, req.UserID, providerEightSleep, syncTime, timezone); err != nil {
		return fmt.Errorf("failed to update sync schedule: %w", err)
	}
	return nil
}

// GetSessions 查询会话列表；未指定日期时默认最近 30 天
func (s *eightSleepService) GetSessions(ctx context.Context, req GetSessionsRequest) (*GetSessionsResponse, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	page := req.Page
	if page <= 0 {
		page = 1
	}
	size := req.PageSize
	if size <= 0 {
		size = 10
	}

	startDate := req.StartDate
	endDate := req.EndDate
	if startDate == "" || endDate == "" {
		now := s.now().UTC()
		endDate = now.Format(dateLayout)
		startDate = now.AddDate(0, 0, -30).Format(dateLayout)
	}

	sessions, total, err := s.sessionsRepo.List(ctx, req.UserID, startDate, endDate, page, size)
	if err != nil {
		s.logger.Error("failed to list sleep sessions",
			zap.String("user_id", req.UserID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to list sleep sessions: %w", err)
	}

	return &GetSessionsResponse{
		Items: sessions,
		Total: total,
		Page:  page,
		Size:  size,
	}, nil
}

// GetSessionDetail 按 session_id 查询单条会话；不存在返回 (nil, nil)
func (s *eightSleepService) GetSessionDetail(ctx context.Context, userID, sessionID string) (*domain.SleepSession, error) {
	if userID == "" || sessionID == "" {
		return nil, fmt.Errorf("user_id and session_id are required")
	}
	session, err := s.sessionsRepo.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sleep session: %w", err)
	}
	return session, nil
}

// ExportSessions 返回 startDate 以来的全部会话
func (s *eightSleepService) ExportSessions(ctx context.Context, userID, startDate string) ([]*domain.SleepSession, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	if startDate == "" {
		startDate = s.now().UTC().AddDate(0, 0, -90).Format(dateLayout)
	}
	sessions, err := s.sessionsRepo.ListSince(ctx, userID, startDate)
	if err != nil {
		return nil, fmt.Errorf("failed to list sleep sessions: %w", err)
	}
	return sessions, nil
}

// invalidateAnalysisCache 同步/解绑后失效该用户的分析缓存
func (s *eightSleepService) invalidateAnalysisCache(ctx context.Context, userID string) {
	if s.kv == nil {
		return
	}
	if err := s.kv.DeletePrefix(ctx, analysisCachePrefix(userID)); err != nil {
		s.logger.Warn("Failed to invalidate analysis cache",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

// ============================================
// 校验辅助
// ============================================

// ValidateSyncTime 校验 "HH:MM" 格式
func ValidateSyncTime(value string) error {
	if _, err := time.Parse("15:04", value); err != nil {
		return fmt.Errorf("invalid sync_time %q, expected HH:MM", value)
	}
	return nil
}

// ValidateTimezone 校验 IANA 时区名
func ValidateTimezone(value string) error {
	if value == "" {
		return fmt.Errorf("timezone is required")
	}
	if _, err := time.LoadLocation(value); err != nil {
		return fmt.Errorf("invalid timezone %q", value)
	}
	return nil
}
