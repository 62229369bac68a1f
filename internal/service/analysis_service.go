package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"singularity-sleep/internal/domain"
	"singularity-sleep/internal/repository"
	"singularity-sleep/internal/store"

	"go.uber.org/zap"
)

const (
	analysisCacheTTL = 15 * time.Minute

	defaultAnalysisDays    = 30
	defaultTrendDays       = 30
	defaultCorrelationDays = 90
	// minCorrelationNights 对比组低于该夜数时标记数据不足
	minCorrelationNights = 5
)

func analysisCachePrefix(userID string) string {
	return "eightsleep:analysis:" + userID + ":"
}

// AnalysisService 睡眠分析服务接口
type AnalysisService interface {
	// GetAnalysis 汇总窗口内的睡眠指标（命中缓存直接返回）
	GetAnalysis(ctx context.Context, req GetAnalysisRequest) (*AnalysisResponse, error)

	// GetTrends 按日趋势序列，含 7 日滑动均分
	GetTrends(ctx context.Context, req GetTrendsRequest) (*TrendsResponse, error)

	// GetCorrelations 按补剂/习惯项对比有无当晚记录时的平均睡眠评分
	GetCorrelations(ctx context.Context, req GetCorrelationsRequest) (*CorrelationsResponse, error)

	// BackfillCorrelations 为缺少关联快照的历史会话补建当日活跃补剂/习惯快照
	BackfillCorrelations(ctx context.Context, userID string) (*BackfillResult, error)
}

type analysisService struct {
	sessionsRepo     repository.SessionsRepository
	correlationsRepo repository.CorrelationsRepository
	activityRepo     repository.ActivityRepository
	kv               store.KV
	logger           *zap.Logger
	now              func() time.Time
}

// NewAnalysisService 创建 AnalysisService 实例
func NewAnalysisService(
	sessionsRepo repository.SessionsRepository,
	correlationsRepo repository.CorrelationsRepository,
	activityRepo repository.ActivityRepository,
	kv store.KV,
	logger *zap.Logger,
) AnalysisService {
	return &analysisService{
		sessionsRepo:     sessionsRepo,
		correlationsRepo: correlationsRepo,
		activityRepo:     activityRepo,
		kv:               kv,
		logger:           logger,
		now:              time.Now,
	}
}

// ============================================
// Request/Response DTOs
// ============================================

// GetAnalysisRequest 分析汇总请求
type GetAnalysisRequest struct {
	UserID string // 必填
	Days   int    // 窗口天数，默认 30
}

// NightRef 某一晚的引用（最佳/最差夜）
type NightRef struct {
	Date  string `json:"date"`
	Score int    `json:"score"`
}

// AnalysisResponse 分析汇总响应；均值字段无数据时为 null
type AnalysisResponse struct {
	Days                   int       `json:"days"`
	Nights                 int       `json:"nights"`
	AvgSleepScore          *float64  `json:"avg_sleep_score"`
	AvgTimeSleptMinutes    *float64  `json:"avg_time_slept_minutes"`
	AvgDeepSleepPct        *float64  `json:"avg_deep_sleep_pct"`
	AvgLightSleepPct       *float64  `json:"avg_light_sleep_pct"`
	AvgRemSleepPct         *float64  `json:"avg_rem_sleep_pct"`
	AvgHeartRate           *float64  `json:"avg_heart_rate"`
	AvgHRV                 *float64  `json:"avg_hrv"`
	AvgBreathRate          *float64  `json:"avg_breath_rate"`
	AvgWakeEvents          *float64  `json:"avg_wake_events"`
	NightsWokeBetween2And4 int       `json:"nights_woke_between_2_and_4"`
	WokeBetween2And4Pct    *float64  `json:"woke_between_2_and_4_pct"`
	BestNight              *NightRef `json:"best_night"`
	WorstNight             *NightRef `json:"worst_night"`
}

// GetTrendsRequest 趋势请求
type GetTrendsRequest struct {
	UserID string // 必填
	Days   int    // 窗口天数，默认 30
}

// TrendPoint 单日趋势点
type TrendPoint struct {
	Date             string   `json:"date"`
	SleepScore       *int     `json:"sleep_score"`
	TimeSleptMinutes *int     `json:"time_slept_minutes"`
	DeepSleepPct     *float64 `json:"deep_sleep_pct"`
	ScoreMA7         *float64 `json:"score_ma7"` // 最多 7 个历史点的滑动均分
}

// TrendsResponse 趋势响应
type TrendsResponse struct {
	Days   int          `json:"days"`
	Points []TrendPoint `json:"points"`
}

// GetCorrelationsRequest 关联分析请求
type GetCorrelationsRequest struct {
	UserID    string // 必填
	Days      int    // 窗口天数，默认 90
	MinNights int    // 对比组最小夜数，默认 5
}

// CorrelationItem 单个补剂/习惯项的对比结果
type CorrelationItem struct {
	Item             string   `json:"item"`
	Type             string   `json:"type"` // supplement | routine
	NightsWith       int      `json:"nights_with"`
	NightsWithout    int      `json:"nights_without"`
	AvgScoreWith     *float64 `json:"avg_score_with"`
	AvgScoreWithout  *float64 `json:"avg_score_without"`
	ScoreDelta       *float64 `json:"score_delta"`
	InsufficientData bool     `json:"insufficient_data"`
}

// CorrelationsResponse 关联分析响应
type CorrelationsResponse struct {
	Days  int               `json:"days"`
	Items []CorrelationItem `json:"items"`
}

// BackfillResult 关联快照回填结果
type BackfillResult struct {
	SessionsProcessed int `json:"sessions_processed"`
	SnapshotsCreated  int `json:"snapshots_created"`
}

// ============================================
// Service 方法实现
// ============================================

// GetAnalysis 汇总窗口内的睡眠指标
func (s *analysisService) GetAnalysis(ctx context.Context, req GetAnalysisRequest) (*AnalysisResponse, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	days := req.Days
	if days <= 0 {
		days = defaultAnalysisDays
	}

	cacheKey := fmt.Sprintf("%ssummary:%d", analysisCachePrefix(req.UserID), days)
	if s.kv != nil {
		if raw, err := s.kv.Get(ctx, cacheKey); err == nil {
			var cached AnalysisResponse
			if jErr := json.Unmarshal([]byte(raw), &cached); jErr == nil {
				return &cached, nil
			}
		}
	}

	startDate := s.now().UTC().AddDate(0, 0, -days).Format(dateLayout)
	sessions, err := s.sessionsRepo.ListSince(ctx, req.UserID, startDate)
	if err != nil {
		return nil, fmt.Errorf("failed to list sleep sessions: %w", err)
	}

	resp := s.computeAnalysis(days, sessions)

	if s.kv != nil {
		if raw, jErr := json.Marshal(resp); jErr == nil {
			if cErr := s.kv.Set(ctx, cacheKey, string(raw), analysisCacheTTL); cErr != nil {
				s.logger.Warn("Failed to cache analysis result",
					zap.String("user_id", req.UserID),
					zap.Error(cErr),
				)
			}
		}
	}

	return resp, nil
}

func (s *analysisService) computeAnalysis(days int, sessions []*domain.SleepSession) *AnalysisResponse {
	resp := &AnalysisResponse{Days: days, Nights: len(sessions)}
	if len(sessions) == 0 {
		return resp
	}

	var scores, slept, deepPct, lightPct, remPct, hr, hrv, br, wakes []float64
	for _, sess := range sessions {
		if sess.SleepScore != nil {
			score := *sess.SleepScore
			scores = append(scores, float64(score))
			if resp.BestNight == nil || score > resp.BestNight.Score {
				resp.BestNight = &NightRef{Date: sess.Date, Score: score}
			}
			if resp.WorstNight == nil || score < resp.WorstNight.Score {
				resp.WorstNight = &NightRef{Date: sess.Date, Score: score}
			}
		}
		if sess.TimeSlept != nil {
			slept = append(slept, float64(*sess.TimeSlept))
		}
		if sess.DeepSleepPct != nil {
			deepPct = append(deepPct, *sess.DeepSleepPct)
		}
		if sess.LightSleepPct != nil {
			lightPct = append(lightPct, *sess.LightSleepPct)
		}
		if sess.RemSleepPct != nil {
			remPct = append(remPct, *sess.RemSleepPct)
		}
		if sess.HeartRate.Avg != nil {
			hr = append(hr, *sess.HeartRate.Avg)
		}
		if sess.HRV.Avg != nil {
			hrv = append(hrv, *sess.HRV.Avg)
		}
		if sess.BreathRate.Avg != nil {
			br = append(br, *sess.BreathRate.Avg)
		}
		wakes = append(wakes, float64(sess.WakeEvents))
		if sess.WokeBetween2And4AM {
			resp.NightsWokeBetween2And4++
		}
	}

	resp.AvgSleepScore = meanRounded(scores, 1)
	resp.AvgTimeSleptMinutes = meanRounded(slept, 1)
	resp.AvgDeepSleepPct = meanRounded(deepPct, 1)
	resp.AvgLightSleepPct = meanRounded(lightPct, 1)
	resp.AvgRemSleepPct = meanRounded(remPct, 1)
	resp.AvgHeartRate = meanRounded(hr, 2)
	resp.AvgHRV = meanRounded(hrv, 2)
	resp.AvgBreathRate = meanRounded(br, 2)
	resp.AvgWakeEvents = meanRounded(wakes, 1)

	pct := roundTo(float64(resp.NightsWokeBetween2And4)/float64(len(sessions))*100, 1)
	resp.WokeBetween2And4Pct = &pct

	return resp
}

// GetTrends 按日趋势序列；ScoreMA7 为当前点及其前最多 6 个有分数点的均值
func (s *analysisService) GetTrends(ctx context.Context, req GetTrendsRequest) (*TrendsResponse, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	days := req.Days
	if days <= 0 {
		days = defaultTrendDays
	}

	startDate := s.now().UTC().AddDate(0, 0, -days).Format(dateLayout)
	sessions, err := s.sessionsRepo.ListSince(ctx, req.UserID, startDate)
	if err != nil {
		return nil, fmt.Errorf("failed to list sleep sessions: %w", err)
	}

	resp := &TrendsResponse{Days: days, Points: make([]TrendPoint, 0, len(sessions))}
	var window []float64
	for _, sess := range sessions {
		point := TrendPoint{
			Date:             sess.Date,
			SleepScore:       sess.SleepScore,
			TimeSleptMinutes: sess.TimeSlept,
			DeepSleepPct:     sess.DeepSleepPct,
		}
		if sess.SleepScore != nil {
			window = append(window, float64(*sess.SleepScore))
			if len(window) > 7 {
				window = window[1:]
			}
		}
		point.ScoreMA7 = meanRounded(window, 1)
		resp.Points = append(resp.Points, point)
	}
	return resp, nil
}

// GetCorrelations 对比每个补剂/习惯项有无当晚记录时的平均睡眠评分。
// 只统计同时具备评分和关联快照的夜晚。
func (s *analysisService) GetCorrelations(ctx context.Context, req GetCorrelationsRequest) (*CorrelationsResponse, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	days := req.Days
	if days <= 0 {
		days = defaultCorrelationDays
	}
	minNights := req.MinNights
	if minNights <= 0 {
		minNights = minCorrelationNights
	}

	startDate := s.now().UTC().AddDate(0, 0, -days).Format(dateLayout)
	sessions, err := s.sessionsRepo.ListSince(ctx, req.UserID, startDate)
	if err != nil {
		return nil, fmt.Errorf("failed to list sleep sessions: %w", err)
	}
	correlations, err := s.correlationsRepo.ListSince(ctx, req.UserID, startDate)
	if err != nil {
		return nil, fmt.Errorf("failed to list correlations: %w", err)
	}

	scoreByDate := make(map[string]float64, len(sessions))
	for _, sess := range sessions {
		if sess.SleepScore != nil {
			scoreByDate[sess.Date] = float64(*sess.SleepScore)
		}
	}

	type accum struct {
		itemType string
		with     []float64
		without  []float64
	}
	accums := make(map[string]*accum)
	itemType := func(name, typ string) *accum {
		a, ok := accums[name]
		if !ok {
			a = &accum{itemType: typ}
			accums[name] = a
		}
		return a
	}

	// 先收集出现过的项，再按夜分组统计
	type night struct {
		score       float64
		supplements map[string]bool
		routine     map[string]bool
	}
	var nights []night
	for _, corr := range correlations {
		score, ok := scoreByDate[corr.Date]
		if !ok {
			continue
		}
		n := night{score: score, supplements: map[string]bool{}, routine: map[string]bool{}}
		for _, name := range corr.ActiveSupplements {
			n.supplements[name] = true
			itemType(name, "supplement")
		}
		for _, name := range corr.ActiveRoutineItems {
			n.routine[name] = true
			itemType(name, "routine")
		}
		nights = append(nights, n)
	}

	for _, n := range nights {
		for name, a := range accums {
			present := false
			switch a.itemType {
			case "supplement":
				present = n.supplements[name]
			case "routine":
				present = n.routine[name]
			}
			if present {
				a.with = append(a.with, n.score)
			} else {
				a.without = append(a.without, n.score)
			}
		}
	}

	resp := &CorrelationsResponse{Days: days, Items: make([]CorrelationItem, 0, len(accums))}
	for name, a := range accums {
		item := CorrelationItem{
			Item:          name,
			Type:          a.itemType,
			NightsWith:    len(a.with),
			NightsWithout: len(a.without),
		}
		item.AvgScoreWith = meanRounded(a.with, 1)
		item.AvgScoreWithout = meanRounded(a.without, 1)
		if item.AvgScoreWith != nil && item.AvgScoreWithout != nil {
			delta := roundTo(*item.AvgScoreWith-*item.AvgScoreWithout, 1)
			item.ScoreDelta = &delta
		}
		item.InsufficientData = item.NightsWith < minNights || item.NightsWithout < minNights
		resp.Items = append(resp.Items, item)
	}

	// 按项名排序保证输出稳定
	sortCorrelationItems(resp.Items)
	return resp, nil
}

// BackfillCorrelations 为缺少关联快照的历史会话补建快照；
// 单条失败记录日志后继续
func (s *analysisService) BackfillCorrelations(ctx context.Context, userID string) (*BackfillResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	sessions, err := s.sessionsRepo.ListWithoutCorrelation(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions without correlation: %w", err)
	}

	result := &BackfillResult{SessionsProcessed: len(sessions)}
	for _, sess := range sessions {
		supplements, err := s.activityRepo.ListActiveSupplements(ctx, userID, sess.Date)
		if err != nil {
			s.logger.Error("Failed to list active supplements, skipping session",
				zap.String("user_id", userID),
				zap.String("date", sess.Date),
				zap.Error(err),
			)
			continue
		}
		routineItems, err := s.activityRepo.ListActiveRoutineItems(ctx, userID, sess.Date)
		if err != nil {
			s.logger.Error("Failed to list active routine items, skipping session",
				zap.String("user_id", userID),
				zap.String("date", sess.Date),
				zap.Error(err),
			)
			continue
		}

		corr := &domain.Correlation{
			SessionID:          sess.SessionID,
			UserID:             userID,
			Date:               sess.Date,
			ActiveSupplements:  supplements,
			ActiveRoutineItems: routineItems,
		}
		if err := s.correlationsRepo.Upsert(ctx, corr); err != nil {
			s.logger.Error("Failed to save correlation snapshot, skipping session",
				zap.String("user_id", userID),
				zap.String("date", sess.Date),
				zap.Error(err),
			)
			continue
		}
		result.SnapshotsCreated++
	}

	s.logger.Info("Correlation backfill completed",
		zap.String("user_id", userID),
		zap.Int("sessions_processed", result.SessionsProcessed),
		zap.Int("snapshots_created", result.SnapshotsCreated),
	)
	return result, nil
}

// ============================================
// 统计辅助
// ============================================

// meanRounded 均值并按小数位取整；空切片返回 nil
func meanRounded(values []float64, decimals int) *float64 {
	if len(values) == 0 {
		return nil
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	m := roundTo(sum/float64(len(values)), decimals)
	return &m
}

func roundTo(v float64, decimals int) float64 {
	factor := math.Pow(10, float64(decimals))
	return math.Round(v*factor) / factor
}

func sortCorrelationItems(items []CorrelationItem) {
	sort.Slice(items, func(i, j int) bool { return items[i].Item < items[j].Item })
}
