package repository

import (
	"context"

	"singularity-sleep/internal/domain"
)

// CorrelationsRepository 关联快照 Repository 接口
type CorrelationsRepository interface {
	// Upsert 按 session_id 幂等写入快照
	Upsert(ctx context.Context, correlation *domain.Correlation) error

	// ListSince 按日期升序返回 startDate（含）以来的快照
	ListSince(ctx context.Context, userID, startDate string) ([]*domain.Correlation, error)
}

// ActivityRepository supplements / routine_items 的读侧接口。
// 这两张表由其它模块维护，这里只读取指定日期的活跃项名称。
type ActivityRepository interface {
	// ListActiveSupplements 返回 date（YYYY-MM-DD）当天处于活跃窗口的 supplement 名称
	ListActiveSupplements(ctx context.Context, userID, date string) ([]string, error)

	// ListActiveRoutineItems 返回 date 当天处于活跃窗口的 routine item 名称
	ListActiveRoutineItems(ctx context.Context, userID, date string) ([]string, error)
}
