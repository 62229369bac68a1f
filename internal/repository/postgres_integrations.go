package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"singularity-sleep/internal/domain"
)

// PostgresIntegrationsRepository 集成记录 Repository 实现
type PostgresIntegrationsRepository struct {
	db *sql.DB
}

// NewPostgresIntegrationsRepository 创建集成记录 Repository
func NewPostgresIntegrationsRepository(db *sql.DB) *PostgresIntegrationsRepository {
	return &PostgresIntegrationsRepository{db: db}
}

// 确保实现了接口
var _ IntegrationsRepository = (*PostgresIntegrationsRepository)(nil)

// Get 获取用户的集成记录；不存在返回 (nil, nil)
func (r *PostgresIntegrationsRepository) Get(ctx context.Context, userID string) (*domain.Integration, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	query := `
		SELECT
			user_id::text,
			encrypted_email,
			encrypted_password,
			COALESCE(encrypted_token, '') AS encrypted_token,
			token_expires_at,
			eight_user_id,
			COALESCE(device_id, '') AS device_id,
			COALESCE(bed_side, '') AS bed_side,
			last_sync_status,
			last_sync_at,
			COALESCE(last_synced_date::text, '') AS last_synced_date,
			consecutive_failures,
			COALESCE(last_error_message, '') AS last_error_message,
			created_at,
			updated_at
		FROM eight_sleep_integrations
		WHERE user_id = $1::uuid
	`

	var integ domain.Integration
	var tokenExpiresAt, lastSyncAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&integ.UserID,
		&integ.EncryptedEmail,
		&integ.EncryptedPassword,
		&integ.EncryptedToken,
		&tokenExpiresAt,
		&integ.EightUserID,
		&integ.DeviceID,
		&integ.BedSide,
		&integ.LastSyncStatus,
		&lastSyncAt,
		&integ.LastSyncedDate,
		&integ.ConsecutiveFailures,
		&integ.LastErrorMessage,
		&integ.CreatedAt,
		&integ.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get integration: %w", err)
	}

	if tokenExpiresAt.Valid {
		t := tokenExpiresAt.Time
		integ.TokenExpiresAt = &t
	}
	if lastSyncAt.Valid {
		t := lastSyncAt.Time
		integ.LastSyncAt = &t
	}

	return &integ, nil
}

// Create 创建集成记录
func (r *PostgresIntegrationsRepository) Create(ctx context.Context, integ *domain.Integration) error {
	if integ == nil || integ.UserID == "" {
		return fmt.Errorf("user_id is required")
	}

	query := `
		INSERT INTO eight_sleep_integrations (
			user_id,
			encrypted_email,
			encrypted_password,
			encrypted_token,
			token_expires_at,
			eight_user_id,
			device_id,
			bed_side,
			last_sync_status
		) VALUES (
			$1::uuid, $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9
		)
	`
	status := integ.LastSyncStatus
	if status == "" {
		status = domain.SyncStatusNever
	}
	_, err := r.db.ExecContext(ctx, query,
		integ.UserID,
		integ.EncryptedEmail,
		integ.EncryptedPassword,
		integ.EncryptedToken,
		integ.TokenExpiresAt,
		integ.EightUserID,
		integ.DeviceID,
		integ.BedSide,
		status,
	)
	if err != nil {
		return fmt.Errorf("failed to create integration: %w", err)
	}
	return nil
}

// Delete 删除集成记录；sleep_sessions 经外键级联删除
func (r *PostgresIntegrationsRepository) Delete(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM eight_sleep_integrations WHERE user_id = $1::uuid`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete integration: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateToken 持久化刷新后的会话 token
func (r *PostgresIntegrationsRepository) UpdateToken(ctx context.Context, userID, encryptedToken string, expiresAt time.Time) error {
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE eight_sleep_integrations
		SET encrypted_token = $2,
			token_expires_at = $3,
			updated_at = now()
		WHERE user_id = $1::uuid
	`, userID, encryptedToken, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to update token: %w", err)
	}
	return nil
}

// MarkSyncing 将同步状态置为 syncing
func (r *PostgresIntegrationsRepository) MarkSyncing(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE eight_sleep_integrations
		SET last_sync_status = 'syncing',
			updated_at = now()
		WHERE user_id = $1::uuid
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to mark syncing: %w", err)
	}
	return nil
}

// MarkSuccess 同步成功：清零失败计数，推进 last_synced_date（只前进不后退）
func (r *PostgresIntegrationsRepository) MarkSuccess(ctx context.Context, userID, lastSyncedDate string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE eight_sleep_integrations
		SET last_sync_status = 'success',
			consecutive_failures = 0,
			last_error_message = NULL,
			last_sync_at = now(),
			last_synced_date = GREATEST(COALESCE(last_synced_date, '1970-01-01'::date), COALESCE(NULLIF($2, '')::date, '1970-01-01'::date)),
			updated_at = now()
		WHERE user_id = $1::uuid
	`, userID, lastSyncedDate)
	if err != nil {
		return fmt.Errorf("failed to mark success: %w", err)
	}
	return nil
}

// MarkFailed 同步失败：失败计数 +1，记录错误信息
func (r *PostgresIntegrationsRepository) MarkFailed(ctx context.Context, userID, errorMessage string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE eight_sleep_integrations
		SET last_sync_status = 'failed',
			consecutive_failures = consecutive_failures + 1,
			last_error_message = $2,
			last_sync_at = now(),
			updated_at = now()
		WHERE user_id = $1::uuid
	`, userID, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to mark failed: %w", err)
	}
	return nil
}
