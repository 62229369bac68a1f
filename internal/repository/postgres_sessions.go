package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"singularity-sleep/internal/domain"

	"github.com/google/uuid"
)

// PostgresSessionsRepository 睡眠会话 Repository 实现
type PostgresSessionsRepository struct {
	db *sql.DB
}

// NewPostgresSessionsRepository 创建睡眠会话 Repository
func NewPostgresSessionsRepository(db *sql.DB) *PostgresSessionsRepository {
	return &PostgresSessionsRepository{db: db}
}

// 确保实现了接口
var _ SessionsRepository = (*PostgresSessionsRepository)(nil)

// sessionColumns SELECT 列清单（与 scanSession 保持一致）
const sessionColumns = `
	session_id::text,
	user_id::text,
	date::text,
	sleep_score,
	time_slept,
	light_sleep_minutes,
	deep_sleep_minutes,
	rem_sleep_minutes,
	awake_minutes,
	light_sleep_pct,
	deep_sleep_pct,
	rem_sleep_pct,
	awake_pct,
	COALESCE(wake_events, 0) AS wake_events,
	COALESCE(wake_event_times, '[]') AS wake_event_times,
	woke_between_2_and_4_am,
	wake_time_between_2_and_4_am,
	avg_heart_rate, min_heart_rate, max_heart_rate,
	avg_hrv, min_hrv, max_hrv,
	avg_breath_rate, min_breath_rate, max_breath_rate,
	avg_bed_temp,
	avg_room_temp,
	avg_room_humidity,
	toss_and_turn_count,
	time_to_fall_asleep,
	session_start,
	session_end,
	COALESCE(raw_payload::text, '') AS raw_payload,
	created_at,
	updated_at
`

// Upsert 按 (user_id, date) 幂等写入：同一晚重复同步覆盖而不是新增
func (r *PostgresSessionsRepository) Upsert(ctx context.Context, s *domain.SleepSession) error {
	if s == nil || s.UserID == "" || s.Date == "" {
		return fmt.Errorf("user_id and date are required")
	}

	if s.SessionID == "" {
		s.SessionID = uuid.NewString()
	}

	wakeTimes, err := json.Marshal(s.WakeEventTimes)
	if err != nil {
		return fmt.Errorf("failed to marshal wake event times: %w", err)
	}

	var rawPayload any
	if s.RawPayload != "" {
		rawPayload = s.RawPayload
	}

	query := `
		INSERT INTO sleep_sessions (
			session_id, user_id, date,
			sleep_score, time_slept,
			light_sleep_minutes, deep_sleep_minutes, rem_sleep_minutes, awake_minutes,
			light_sleep_pct, deep_sleep_pct, rem_sleep_pct, awake_pct,
			wake_events, wake_event_times,
			woke_between_2_and_4_am, wake_time_between_2_and_4_am,
			avg_heart_rate, min_heart_rate, max_heart_rate,
			avg_hrv, min_hrv, max_hrv,
			avg_breath_rate, min_breath_rate, max_breath_rate,
			avg_bed_temp, avg_room_temp, avg_room_humidity,
			toss_and_turn_count, time_to_fall_asleep,
			session_start, session_end, raw_payload
		) VALUES (
			$1::uuid, $2::uuid, $3::date,
			$4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13,
			$14, $15,
			$16, $17,
			$18, $19, $20,
			$21, $22, $23,
			$24, $25, $26,
			$27, $28, $29,
			$30, $31,
			$32, $33, $34
		)
		ON CONFLICT (user_id, date) DO UPDATE SET
			sleep_score = EXCLUDED.sleep_score,
			time_slept = EXCLUDED.time_slept,
			light_sleep_minutes = EXCLUDED.light_sleep_minutes,
			deep_sleep_minutes = EXCLUDED.deep_sleep_minutes,
			rem_sleep_minutes = EXCLUDED.rem_sleep_minutes,
			awake_minutes = EXCLUDED.awake_minutes,
			light_sleep_pct = EXCLUDED.light_sleep_pct,
			deep_sleep_pct = EXCLUDED.deep_sleep_pct,
			rem_sleep_pct = EXCLUDED.rem_sleep_pct,
			awake_pct = EXCLUDED.awake_pct,
			wake_events = EXCLUDED.wake_events,
			wake_event_times = EXCLUDED.wake_event_times,
			woke_between_2_and_4_am = EXCLUDED.woke_between_2_and_4_am,
			wake_time_between_2_and_4_am = EXCLUDED.wake_time_between_2_and_4_am,
			avg_heart_rate = EXCLUDED.avg_heart_rate,
			min_heart_rate = EXCLUDED.min_heart_rate,
			max_heart_rate = EXCLUDED.max_heart_rate,
			avg_hrv = EXCLUDED.avg_hrv,
			min_hrv = EXCLUDED.min_hrv,
			max_hrv = EXCLUDED.max_hrv,
			avg_breath_rate = EXCLUDED.avg_breath_rate,
			min_breath_rate = EXCLUDED.min_breath_rate,
			max_breath_rate = EXCLUDED.max_breath_rate,
			avg_bed_temp = EXCLUDED.avg_bed_temp,
			avg_room_temp = EXCLUDED.avg_room_temp,
			avg_room_humidity = EXCLUDED.avg_room_humidity,
			toss_and_turn_count = EXCLUDED.toss_and_turn_count,
			time_to_fall_asleep = EXCLUDED.time_to_fall_asleep,
			session_start = EXCLUDED.session_start,
			session_end = EXCLUDED.session_end,
			raw_payload = EXCLUDED.raw_payload,
			updated_at = now()
	`

	_, err = r.db.ExecContext(ctx, query,
		s.SessionID, s.UserID, s.Date,
		s.SleepScore, s.TimeSlept,
		s.LightSleepMinutes, s.DeepSleepMinutes, s.RemSleepMinutes, s.AwakeMinutes,
		s.LightSleepPct, s.DeepSleepPct, s.RemSleepPct, s.AwakePct,
		s.WakeEvents, string(wakeTimes),
		s.WokeBetween2And4AM, s.WakeTimeBetween2And4AM,
		s.HeartRate.Avg, s.HeartRate.Min, s.HeartRate.Max,
		s.HRV.Avg, s.HRV.Min, s.HRV.Max,
		s.BreathRate.Avg, s.BreathRate.Min, s.BreathRate.Max,
		s.AvgBedTemp, s.AvgRoomTemp, s.AvgRoomHumidity,
		s.TossAndTurnCount, s.TimeToFallAsleep,
		s.SessionStart, s.SessionEnd, rawPayload,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert sleep session: %w", err)
	}
	return nil
}

// Get 按 session_id 获取单条会话；不存在返回 (nil, nil)
func (r *PostgresSessionsRepository) Get(ctx context.Context, userID, sessionID string) (*domain.SleepSession, error) {
	if userID == "" || sessionID == "" {
		return nil, fmt.Errorf("user_id and session_id are required")
	}

	query := `SELECT ` + sessionColumns + `
		FROM sleep_sessions
		WHERE user_id = $1::uuid AND session_id = $2::uuid
	`
	row := r.db.QueryRowContext(ctx, query, userID, sessionID)
	s, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sleep session: %w", err)
	}
	return s, nil
}

// List 查询会话列表（支持分页）
func (r *PostgresSessionsRepository) List(ctx context.Context, userID, startDate, endDate string, page, size int) ([]*domain.SleepSession, int, error) {
	if userID == "" {
		return nil, 0, fmt.Errorf("user_id is required")
	}

	countQuery := `
		SELECT COUNT(*)
		FROM sleep_sessions
		WHERE user_id = $1::uuid
		  AND date >= $2::date
		  AND date <= $3::date
	`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, userID, startDate, endDate).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count sleep sessions: %w", err)
	}

	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 10
	}
	offset := (page - 1) * size

	query := `SELECT ` + sessionColumns + `
		FROM sleep_sessions
		WHERE user_id = $1::uuid
		  AND date >= $2::date
		  AND date <= $3::date
		ORDER BY date DESC
		LIMIT $4 OFFSET $5
	`
	rows, err := r.db.QueryContext(ctx, query, userID, startDate, endDate, size, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sleep sessions: %w", err)
	}
	defer rows.Close()

	sessions, err := collectSessions(rows)
	if err != nil {
		return nil, 0, err
	}
	return sessions, total, nil
}

// ListSince 按日期升序返回 startDate（含）以来的全部会话
func (r *PostgresSessionsRepository) ListSince(ctx context.Context, userID, startDate string) ([]*domain.SleepSession, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	query := `SELECT ` + sessionColumns + `
		FROM sleep_sessions
		WHERE user_id = $1::uuid
		  AND date >= $2::date
		ORDER BY date ASC
	`
	rows, err := r.db.QueryContext(ctx, query, userID, startDate)
	if err != nil {
		return nil, fmt.Errorf("failed to list sleep sessions: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

// ListWithoutCorrelation 返回尚无关联快照的会话
func (r *PostgresSessionsRepository) ListWithoutCorrelation(ctx context.Context, userID string) ([]*domain.SleepSession, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	query := `SELECT ` + sessionColumns + `
		FROM sleep_sessions
		WHERE user_id = $1::uuid
		  AND NOT EXISTS (
			SELECT 1 FROM sleep_correlations c
			WHERE c.session_id = sleep_sessions.session_id
		  )
		ORDER BY date ASC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions without correlation: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

// rowScanner 兼容 *sql.Row 和 *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSession 扫描一行会话（列顺序与 sessionColumns 一致）
func scanSession(row rowScanner) (*domain.SleepSession, error) {
	var s domain.SleepSession
	var (
		sleepScore, timeSlept, tossAndTurn, timeToFallAsleep       sql.NullInt64
		lightPct, deepPct, remPct, awakePct                        sql.NullFloat64
		avgHR, minHR, maxHR, avgHRV, minHRV, maxHRV                sql.NullFloat64
		avgBR, minBR, maxBR, avgBedTemp, avgRoomTemp, avgRoomHumid sql.NullFloat64
		wakeTimesJSON                                              []byte
		wakeTime, sessionStart, sessionEnd                         sql.NullTime
	)

	err := row.Scan(
		&s.SessionID,
		&s.UserID,
		&s.Date,
		&sleepScore,
		&timeSlept,
		&s.LightSleepMinutes,
		&s.DeepSleepMinutes,
		&s.RemSleepMinutes,
		&s.AwakeMinutes,
		&lightPct,
		&deepPct,
		&remPct,
		&awakePct,
		&s.WakeEvents,
		&wakeTimesJSON,
		&s.WokeBetween2And4AM,
		&wakeTime,
		&avgHR, &minHR, &maxHR,
		&avgHRV, &minHRV, &maxHRV,
		&avgBR, &minBR, &maxBR,
		&avgBedTemp,
		&avgRoomTemp,
		&avgRoomHumid,
		&tossAndTurn,
		&timeToFallAsleep,
		&sessionStart,
		&sessionEnd,
		&s.RawPayload,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.SleepScore = nullableInt(sleepScore)
	s.TimeSlept = nullableInt(timeSlept)
	s.TossAndTurnCount = nullableInt(tossAndTurn)
	s.TimeToFallAsleep = nullableInt(timeToFallAsleep)
	s.LightSleepPct = nullableFloat(lightPct)
	s.DeepSleepPct = nullableFloat(deepPct)
	s.RemSleepPct = nullableFloat(remPct)
	s.AwakePct = nullableFloat(awakePct)
	s.HeartRate = domain.VitalSummary{Avg: nullableFloat(avgHR), Min: nullableFloat(minHR), Max: nullableFloat(maxHR)}
	s.HRV = domain.VitalSummary{Avg: nullableFloat(avgHRV), Min: nullableFloat(minHRV), Max: nullableFloat(maxHRV)}
	s.BreathRate = domain.VitalSummary{Avg: nullableFloat(avgBR), Min: nullableFloat(minBR), Max: nullableFloat(maxBR)}
	s.AvgBedTemp = nullableFloat(avgBedTemp)
	s.AvgRoomTemp = nullableFloat(avgRoomTemp)
	s.AvgRoomHumidity = nullableFloat(avgRoomHumid)
	s.WakeTimeBetween2And4AM = nullableTime(wakeTime)
	s.SessionStart = nullableTime(sessionStart)
	s.SessionEnd = nullableTime(sessionEnd)

	if len(wakeTimesJSON) > 0 {
		if err := json.Unmarshal(wakeTimesJSON, &s.WakeEventTimes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal wake event times: %w", err)
		}
	}

	return &s, nil
}

func collectSessions(rows *sql.Rows) ([]*domain.SleepSession, error) {
	sessions := make([]*domain.SleepSession, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sleep session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sleep sessions: %w", err)
	}
	return sessions, nil
}

func nullableInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullableTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
