package repository

import (
	"context"

	"singularity-sleep/internal/domain"
)

// SessionsRepository 睡眠会话 Repository 接口
type SessionsRepository interface {
	// Upsert 按 (user_id, date) 幂等写入：重复同步同一晚覆盖而不是新增
	Upsert(ctx context.Context, session *domain.SleepSession) error

	// Get 按 session_id 获取单条会话；不存在返回 (nil, nil)
	Get(ctx context.Context, userID, sessionID string) (*domain.SleepSession, error)

	// List 查询会话列表（支持分页），日期为 YYYY-MM-DD
	List(ctx context.Context, userID, startDate, endDate string, page, size int) ([]*domain.SleepSession, int, error)

	// ListSince 按日期升序返回 startDate（含）以来的全部会话，用于分析和导出
	ListSince(ctx context.Context, userID, startDate string) ([]*domain.SleepSession, error)

	// ListWithoutCorrelation 返回尚无关联快照的会话（回填任务用）
	ListWithoutCorrelation(ctx context.Context, userID string) ([]*domain.SleepSession, error)
}
