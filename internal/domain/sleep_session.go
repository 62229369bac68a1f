package domain

import "time"

// VitalSummary 单个生命体征时序的摘要统计
// 空序列（或全部无效值）时三个字段均为 nil
type VitalSummary struct {
	Avg *float64 `json:"avg"`
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

// SleepSession 每晚睡眠会话领域模型（对应 sleep_sessions 表，(user_id, date) 唯一）
type SleepSession struct {
	SessionID string `json:"session_id"` // UUID
	UserID    string `json:"user_id"`    // UUID
	Date      string `json:"date"`       // YYYY-MM-DD（由 interval 开始时间的 UTC 日期部分导出）

	SleepScore *int `json:"sleep_score"`
	TimeSlept  *int `json:"time_slept"` // light+deep+rem 分钟数

	LightSleepMinutes int `json:"light_sleep_minutes"`
	DeepSleepMinutes  int `json:"deep_sleep_minutes"`
	RemSleepMinutes   int `json:"rem_sleep_minutes"`
	AwakeMinutes      int `json:"awake_minutes"`

	// 各阶段占比 = 阶段分钟 / (light+deep+rem+awake) × 100，保留一位小数；
	// 总时长为零时全部为 nil
	LightSleepPct *float64 `json:"light_sleep_pct"`
	DeepSleepPct  *float64 `json:"deep_sleep_pct"`
	RemSleepPct   *float64 `json:"rem_sleep_pct"`
	AwakePct      *float64 `json:"awake_pct"`

	WakeEvents     int         `json:"wake_events"`
	WakeEventTimes []time.Time `json:"wake_event_times"`

	WokeBetween2And4AM     bool       `json:"woke_between_2_and_4_am"`
	WakeTimeBetween2And4AM *time.Time `json:"wake_time_between_2_and_4_am"`

	HeartRate  VitalSummary `json:"heart_rate"`
	HRV        VitalSummary `json:"hrv"`
	BreathRate VitalSummary `json:"breath_rate"`

	AvgBedTemp  *float64 `json:"avg_bed_temp"`
	AvgRoomTemp *float64 `json:"avg_room_temp"`
	// 源数据不包含湿度信息，始终为 nil
	AvgRoomHumidity *float64 `json:"avg_room_humidity"`

	TossAndTurnCount *int `json:"toss_and_turn_count"`
	// 源数据不足以推导入睡耗时，始终为 nil
	TimeToFallAsleep *int `json:"time_to_fall_asleep"`

	SessionStart *time.Time `json:"session_start"`
	SessionEnd   *time.Time `json:"session_end"`

	// 原始 interval 载荷（JSON），用于审计和重新解析
	RawPayload string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
