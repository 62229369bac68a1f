package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"singularity-sleep/internal/domain"

	"github.com/google/uuid"
)

// PostgresCorrelationsRepository 关联快照 Repository 实现
type PostgresCorrelationsRepository struct {
	db *sql.DB
}

// NewPostgresCorrelationsRepository 创建关联快照 Repository
func NewPostgresCorrelationsRepository(db *sql.DB) *PostgresCorrelationsRepository {
	return &PostgresCorrelationsRepository{db: db}
}

// 确保实现了接口
var _ CorrelationsRepository = (*PostgresCorrelationsRepository)(nil)

// Upsert 按 session_id 幂等写入快照
func (r *PostgresCorrelationsRepository) Upsert(ctx context.Context, c *domain.Correlation) error {
	if c == nil || c.SessionID == "" || c.UserID == "" {
		return fmt.Errorf("session_id and user_id are required")
	}
	if c.CorrelationID == "" {
		c.CorrelationID = uuid.NewString()
	}

	supplements, err := json.Marshal(emptyIfNil(c.ActiveSupplements))
	if err != nil {
		return fmt.Errorf("failed to marshal supplements: %w", err)
	}
	routineItems, err := json.Marshal(emptyIfNil(c.ActiveRoutineItems))
	if err != nil {
		return fmt.Errorf("failed to marshal routine items: %w", err)
	}

	query := `
		INSERT INTO sleep_correlations (
			correlation_id, session_id, user_id, date, active_supplements, active_routine_items
		) VALUES (
			$1::uuid, $2::uuid, $3::uuid, $4::date, $5, $6
		)
		ON CONFLICT (session_id) DO UPDATE SET
			active_supplements = EXCLUDED.active_supplements,
			active_routine_items = EXCLUDED.active_routine_items
	`
	_, err = r.db.ExecContext(ctx, query,
		c.CorrelationID,
		c.SessionID,
		c.UserID,
		c.Date,
		string(supplements),
		string(routineItems),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert correlation: %w", err)
	}
	return nil
}

// ListSince 按日期升序返回 startDate（含）以来的快照
func (r *PostgresCorrelationsRepository) ListSince(ctx context.Context, userID, startDate string) ([]*domain.Correlation, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	query := `
		SELECT
			correlation_id::text,
			session_id::text,
			user_id::text,
			date::text,
			active_supplements,
			active_routine_items,
			created_at
		FROM sleep_correlations
		WHERE user_id = $1::uuid
		  AND date >= $2::date
		ORDER BY date ASC
	`
	rows, err := r.db.QueryContext(ctx, query, userID, startDate)
	if err != nil {
		return nil, fmt.Errorf("failed to list correlations: %w", err)
	}
	defer rows.Close()

	correlations := make([]*domain.Correlation, 0)
	for rows.Next() {
		var c domain.Correlation
		var supplements, routineItems []byte
		err := rows.Scan(
			&c.CorrelationID,
			&c.SessionID,
			&c.UserID,
			&c.Date,
			&supplements,
			&routineItems,
			&c.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan correlation: %w", err)
		}
		if err := json.Unmarshal(supplements, &c.ActiveSupplements); err != nil {
			return nil, fmt.Errorf("failed to unmarshal supplements: %w", err)
		}
		if err := json.Unmarshal(routineItems, &c.ActiveRoutineItems); err != nil {
			return nil, fmt.Errorf("failed to unmarshal routine items: %w", err)
		}
		correlations = append(correlations, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate correlations: %w", err)
	}
	return correlations, nil
}

func emptyIfNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

// PostgresActivityRepository supplements / routine_items 读侧实现
type PostgresActivityRepository struct {
	db *sql.DB
}

// NewPostgresActivityRepository 创建活跃项读侧 Repository
func NewPostgresActivityRepository(db *sql.DB) *PostgresActivityRepository {
	return &PostgresActivityRepository{db: db}
}

// 确保实现了接口
var _ ActivityRepository = (*PostgresActivityRepository)(nil)

// ListActiveSupplements 返回 date 当天处于活跃窗口的 supplement 名称
func (r *PostgresActivityRepository) ListActiveSupplements(ctx context.Context, userID, date string) ([]string, error) {
	return r.listActive(ctx, "supplements", userID, date)
}

// ListActiveRoutineItems 返回 date 当天处于活跃窗口的 routine item 名称
func (r *PostgresActivityRepository) ListActiveRoutineItems(ctx context.Context, userID, date string) ([]string, error) {
	return r.listActive(ctx, "routine_items", userID, date)
}

// listActive 活跃窗口判定：started_at <= date 且 (ended_at 为空或 >= date)
func (r *PostgresActivityRepository) listActive(ctx context.Context, table, userID, date string) ([]string, error) {
	if userID == "" || date == "" {
		return nil, fmt.Errorf("user_id and date are required")
	}

	query := `
		SELECT name
		FROM ` + table + `
		WHERE user_id = $1::uuid
		  AND (started_at IS NULL OR started_at <= $2::date)
		  AND (ended_at IS NULL OR ended_at >= $2::date)
		ORDER BY name ASC
	`
	rows, err := r.db.QueryContext(ctx, query, userID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list active items from %s: %w", table, err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate names: %w", err)
	}
	return names, nil
}
