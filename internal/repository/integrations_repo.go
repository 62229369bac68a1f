package repository

import (
	"context"
	"time"

	"singularity-sleep/internal/domain"
)

// IntegrationsRepository Eight Sleep 集成 Repository 接口
// 使用强类型领域模型；Repository 层只负责数据访问
type IntegrationsRepository interface {
	// Get 获取用户的集成记录；不存在返回 (nil, nil)
	Get(ctx context.Context, userID string) (*domain.Integration, error)

	// Create 创建集成记录（connect 时调用）
	Create(ctx context.Context, integration *domain.Integration) error

	// Delete 删除集成记录（disconnect 时调用；sleep_sessions 级联删除）
	Delete(ctx context.Context, userID string) error

	// UpdateToken 持久化刷新后的会话 token 及其过期时间
	UpdateToken(ctx context.Context, userID, encryptedToken string, expiresAt time.Time) error

	// MarkSyncing 将同步状态置为 syncing
	MarkSyncing(ctx context.Context, userID string) error

	// MarkSuccess 将同步状态置为 success：清零失败计数、清空错误信息、
	// 推进 last_synced_date（只前进不后退）
	MarkSuccess(ctx context.Context, userID, lastSyncedDate string) error

	// MarkFailed 将同步状态置为 failed：失败计数 +1、记录错误信息
	MarkFailed(ctx context.Context, userID, errorMessage string) error
}
