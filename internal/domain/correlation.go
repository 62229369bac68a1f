package domain

import "time"

// Correlation 睡眠会话的当日活跃项快照（对应 sleep_correlations 表，每会话一行）
// 由回填任务创建，同步管线本身不写入
type Correlation struct {
	CorrelationID string `json:"correlation_id"` // UUID
	SessionID     string `json:"session_id"`     // UUID
	UserID        string `json:"user_id"`        // UUID
	Date          string `json:"date"`           // YYYY-MM-DD

	ActiveSupplements  []string `json:"active_supplements"`
	ActiveRoutineItems []string `json:"active_routine_items"`

	CreatedAt time.Time `json:"created_at"`
}
