package domain

import "time"

// SyncSchedule 每日自动同步计划（对应 sync_schedules 表，(user_id, provider) 唯一）
type SyncSchedule struct {
	ScheduleID string `json:"schedule_id"` // UUID
	UserID     string `json:"user_id"`     // UUID
	Provider   string `json:"provider"`    // 目前只有 "eight_sleep"

	SyncTime    string `json:"sync_time"` // "HH:MM" 本地时间
	Timezone    string `json:"timezone"`  // IANA 时区名
	Enabled     bool   `json:"enabled"`
	LastRunDate string `json:"last_run_date"` // YYYY-MM-DD（按计划时区的本地日期）

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
