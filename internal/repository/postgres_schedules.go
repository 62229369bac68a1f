package repository

import (
	"context"
	"database/sql"
	"fmt"

	"singularity-sleep/internal/domain"

	"github.com/google/uuid"
)

// PostgresSchedulesRepository 同步计划 Repository 实现
type PostgresSchedulesRepository struct {
	db *sql.DB
}

// NewPostgresSchedulesRepository 创建同步计划 Repository
func NewPostgresSchedulesRepository(db *sql.DB) *PostgresSchedulesRepository {
	return &PostgresSchedulesRepository{db: db}
}

// 确保实现了接口
var _ SchedulesRepository = (*PostgresSchedulesRepository)(nil)

// Upsert 按 (user_id, provider) 幂等写入
func (r *PostgresSchedulesRepository) Upsert(ctx context.Context, schedule *domain.SyncSchedule) error {
	if schedule == nil || schedule.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if schedule.ScheduleID == "" {
		schedule.ScheduleID = uuid.NewString()
	}
	provider := schedule.Provider
	if provider == "" {
		provider = "eight_sleep"
	}

	query := `
		INSERT INTO sync_schedules (schedule_id, user_id, provider, sync_time, timezone, enabled)
		VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			sync_time = EXCLUDED.sync_time,
			timezone = EXCLUDED.timezone,
			enabled = EXCLUDED.enabled,
			updated_at = now()
	`
	_, err := r.db.ExecContext(ctx, query,
		schedule.ScheduleID,
		schedule.UserID,
		provider,
		schedule.SyncTime,
		schedule.Timezone,
		schedule.Enabled,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert sync schedule: %w", err)
	}
	return nil
}

// Get 获取用户的同步计划；不存在返回 (nil, nil)
func (r *PostgresSchedulesRepository) Get(ctx context.Context, userID, provider string) (*domain.SyncSchedule, error) {
	if userID == "" || provider == "" {
		return nil, fmt.Errorf("user_id and provider are required")
	}

	query := `
		SELECT
			schedule_id::text,
			user_id::text,
			provider,
			sync_time,
			timezone,
			enabled,
			COALESCE(last_run_date::text, '') AS last_run_date,
			created_at,
			updated_at
		FROM sync_schedules
		WHERE user_id = $1::uuid AND provider = $2
	`
	var s domain.SyncSchedule
	err := r.db.QueryRowContext(ctx, query, userID, provider).Scan(
		&s.ScheduleID,
		&s.UserID,
		&s.Provider,
		&s.SyncTime,
		&s.Timezone,
		&s.Enabled,
		&s.LastRunDate,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sync schedule: %w", err)
	}
	return &s, nil
}

// Delete 删除用户的同步计划
func (r *PostgresSchedulesRepository) Delete(ctx context.Context, userID, provider string) error {
	if userID == "" || provider == "" {
		return fmt.Errorf("user_id and provider are required")
	}
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sync_schedules WHERE user_id = $1::uuid AND provider = $2`,
		userID, provider)
	if err != nil {
		return fmt.Errorf("failed to delete sync schedule: %w", err)
	}
	return nil
}

// UpdateSettings 更新计划时间和时区
func (r *PostgresSchedulesRepository) UpdateSettings(ctx context.Context, userID, provider, syncTime, timezone string) error {
	if userID == "" || provider == "" {
		return fmt.Errorf("user_id and provider are required")
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE sync_schedules
		SET sync_time = $3,
			timezone = $4,
			updated_at = now()
		WHERE user_id = $1::uuid AND provider = $2
	`, userID, provider, syncTime, timezone)
	if err != nil {
		return fmt.Errorf("failed to update sync schedule settings: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListEnabled 返回所有启用的计划（调度器轮询用）
func (r *PostgresSchedulesRepository) ListEnabled(ctx context.Context) ([]*domain.SyncSchedule, error) {
	query := `
		SELECT
			schedule_id::text,
			user_id::text,
			provider,
			sync_time,
			timezone,
			enabled,
			COALESCE(last_run_date::text, '') AS last_run_date,
			created_at,
			updated_at
		FROM sync_schedules
		WHERE enabled = TRUE
		ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled schedules: %w", err)
	}
	defer rows.Close()

	schedules := make([]*domain.SyncSchedule, 0)
	for rows.Next() {
		var s domain.SyncSchedule
		err := rows.Scan(
			&s.ScheduleID,
			&s.UserID,
			&s.Provider,
			&s.SyncTime,
			&s.Timezone,
			&s.Enabled,
			&s.LastRunDate,
			&s.CreatedAt,
			&s.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync schedule: %w", err)
		}
		schedules = append(schedules, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync schedules: %w", err)
	}
	return schedules, nil
}

// MarkRun 记录本地日期的一次执行
func (r *PostgresSchedulesRepository) MarkRun(ctx context.Context, scheduleID, localDate string) error {
	if scheduleID == "" || localDate == "" {
		return fmt.Errorf("schedule_id and local date are required")
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_schedules
		SET last_run_date = $2::date,
			updated_at = now()
		WHERE schedule_id = $1::uuid
	`, scheduleID, localDate)
	if err != nil {
		return fmt.Errorf("failed to mark schedule run: %w", err)
	}
	return nil
}
