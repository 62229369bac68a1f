package domain

import "time"

// 同步状态（持久化在 eight_sleep_integrations.last_sync_status）
const (
	SyncStatusNever   = "never"
	SyncStatusSyncing = "syncing"
	SyncStatusSuccess = "success"
	SyncStatusFailed  = "failed"
)

// 床侧（双人床传感器的归属半区）
const (
	BedSideLeft  = "left"
	BedSideRight = "right"
	BedSideSolo  = "solo"
)

// Integration Eight Sleep 集成领域模型（每用户一行，对应 eight_sleep_integrations 表）
// 凭证和会话 token 均为加密后的密文（AES-256-GCM, base64）
type Integration struct {
	UserID string `json:"user_id"` // UUID

	EncryptedEmail    string     `json:"-"`
	EncryptedPassword string     `json:"-"`
	EncryptedToken    string     `json:"-"`
	TokenExpiresAt    *time.Time `json:"-"`

	EightUserID string `json:"eight_user_id"` // 厂家侧用户 ID
	DeviceID    string `json:"device_id"`
	BedSide     string `json:"bed_side"` // left / right / solo

	LastSyncStatus      string     `json:"last_sync_status"` // never / syncing / success / failed
	LastSyncAt          *time.Time `json:"last_sync_at"`
	LastSyncedDate      string     `json:"last_synced_date"` // YYYY-MM-DD，已同步的最大日期
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastErrorMessage    string     `json:"last_error_message"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
