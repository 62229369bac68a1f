package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema 本服务拥有的表结构（集成、睡眠会话、关联快照、同步计划）。
// supplements / routine_items 由其它模块负责写入，这里只建最小的读侧结构。
const Schema = `
CREATE TABLE IF NOT EXISTS eight_sleep_integrations (
    user_id UUID PRIMARY KEY,

    -- 加密存储的第三方凭证（AES-256-GCM, base64）
    encrypted_email TEXT NOT NULL,
    encrypted_password TEXT NOT NULL,
    encrypted_token TEXT,
    token_expires_at TIMESTAMPTZ,

    eight_user_id TEXT NOT NULL,
    device_id TEXT,
    bed_side TEXT CHECK (bed_side IN ('left', 'right', 'solo')),

    last_sync_status TEXT NOT NULL DEFAULT 'never'
        CHECK (last_sync_status IN ('never', 'syncing', 'success', 'failed')),
    last_sync_at TIMESTAMPTZ,
    last_synced_date DATE,
    consecutive_failures INTEGER NOT NULL DEFAULT 0,
    last_error_message TEXT,

    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sleep_sessions (
    session_id UUID PRIMARY KEY,
    user_id UUID NOT NULL REFERENCES eight_sleep_integrations(user_id) ON DELETE CASCADE,
    date DATE NOT NULL,

    sleep_score INTEGER,
    time_slept INTEGER,
    light_sleep_minutes INTEGER,
    deep_sleep_minutes INTEGER,
    rem_sleep_minutes INTEGER,
    awake_minutes INTEGER,
    light_sleep_pct DOUBLE PRECISION,
    deep_sleep_pct DOUBLE PRECISION,
    rem_sleep_pct DOUBLE PRECISION,
    awake_pct DOUBLE PRECISION,

    wake_events INTEGER,
    wake_event_times JSONB,
    woke_between_2_and_4_am BOOLEAN NOT NULL DEFAULT FALSE,
    wake_time_between_2_and_4_am TIMESTAMPTZ,

    avg_heart_rate DOUBLE PRECISION,
    min_heart_rate DOUBLE PRECISION,
    max_heart_rate DOUBLE PRECISION,
    avg_hrv DOUBLE PRECISION,
    min_hrv DOUBLE PRECISION,
    max_hrv DOUBLE PRECISION,
    avg_breath_rate DOUBLE PRECISION,
    min_breath_rate DOUBLE PRECISION,
    max_breath_rate DOUBLE PRECISION,

    avg_bed_temp DOUBLE PRECISION,
    avg_room_temp DOUBLE PRECISION,
    avg_room_humidity DOUBLE PRECISION,
    toss_and_turn_count INTEGER,
    time_to_fall_asleep INTEGER,

    session_start TIMESTAMPTZ,
    session_end TIMESTAMPTZ,
    raw_payload JSONB,

    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

    UNIQUE (user_id, date)
);

CREATE INDEX IF NOT EXISTS idx_sleep_sessions_user_date ON sleep_sessions(user_id, date DESC);

CREATE TABLE IF NOT EXISTS sleep_correlations (
    correlation_id UUID PRIMARY KEY,
    session_id UUID NOT NULL REFERENCES sleep_sessions(session_id) ON DELETE CASCADE,
    user_id UUID NOT NULL,
    date DATE NOT NULL,

    -- 当日处于活跃状态的 supplement / routine item 名称快照
    active_supplements JSONB NOT NULL DEFAULT '[]',
    active_routine_items JSONB NOT NULL DEFAULT '[]',

    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

    UNIQUE (session_id)
);

CREATE TABLE IF NOT EXISTS sync_schedules (
    schedule_id UUID PRIMARY KEY,
    user_id UUID NOT NULL,
    provider TEXT NOT NULL DEFAULT 'eight_sleep',
    sync_time TEXT NOT NULL DEFAULT '08:00',
    timezone TEXT NOT NULL,
    enabled BOOLEAN NOT NULL DEFAULT TRUE,
    last_run_date DATE,

    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

    UNIQUE (user_id, provider)
);

CREATE TABLE IF NOT EXISTS supplements (
    supplement_id UUID PRIMARY KEY,
    user_id UUID NOT NULL,
    name TEXT NOT NULL,
    started_at DATE,
    ended_at DATE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS routine_items (
    routine_item_id UUID PRIMARY KEY,
    user_id UUID NOT NULL,
    name TEXT NOT NULL,
    started_at DATE,
    ended_at DATE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// InitSchema 建表（幂等）
func InitSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}
