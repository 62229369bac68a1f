package repository

import (
	"context"

	"singularity-sleep/internal/domain"
)

// SchedulesRepository 同步计划 Repository 接口
type SchedulesRepository interface {
	// Upsert 按 (user_id, provider) 幂等写入
	Upsert(ctx context.Context, schedule *domain.SyncSchedule) error

	// Get 获取用户的同步计划；不存在返回 (nil, nil)
	Get(ctx context.Context, userID, provider string) (*domain.SyncSchedule, error)

	// Delete 删除用户的同步计划（disconnect 时调用）
	Delete(ctx context.Context, userID, provider string) error

	// UpdateSettings 更新计划时间和时区
	UpdateSettings(ctx context.Context, userID, provider, syncTime, timezone string) error

	// ListEnabled 返回所有启用的计划（调度器轮询用）
	ListEnabled(ctx context.Context) ([]*domain.SyncSchedule, error)

	// MarkRun 记录本地日期的一次执行，防止当天重复触发
	MarkRun(ctx context.Context, scheduleID, localDate string) error
}
