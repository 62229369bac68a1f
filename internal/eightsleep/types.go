package eightsleep

import (
	"encoding/json"
	"time"
)

// Session 登录返回的会话信息
type Session struct {
	Token          string    `json:"token"`
	UserID         string    `json:"userId"`
	ExpirationDate time.Time `json:"expirationDate"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Session Session `json:"session"`
}

// User Eight Sleep 用户信息
type User struct {
	UserID    string `json:"userId"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type userResponse struct {
	User User `json:"user"`
}

// Device 床端设备；双人床传感器左右半区各绑定一个用户
type Device struct {
	DeviceID    string `json:"deviceId"`
	OwnerID     string `json:"ownerId"`
	LeftUserID  string `json:"leftUserId"`
	RightUserID string `json:"rightUserId"`
}

type devicesResponse struct {
	Devices []Device `json:"devices"`
}

// Stage 一段连续的睡眠阶段（light / deep / rem / awake / out），时长单位为秒
type Stage struct {
	Stage    string `json:"stage"`
	Duration int    `json:"duration"`
}

// TimeseriesPoint 时序点，厂家格式为 [timestamp, value] 二元组。
// value 非数值（null、字符串等）时 Value 为 nil。
type TimeseriesPoint struct {
	Time  time.Time
	Value *float64
}

// UnmarshalJSON 解析 [timestamp, value] 二元组；格式不符时静默降级为空点
func (p *TimeseriesPoint) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil || len(pair) < 2 {
		return nil
	}
	var ts string
	if err := json.Unmarshal(pair[0], &ts); err == nil {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			p.Time = t
		}
	}
	// json null 解进 float64 是 no-op 且不报错，需经指针判空过滤
	var v *float64
	if err := json.Unmarshal(pair[1], &v); err == nil && v != nil {
		p.Value = v
	}
	return nil
}

// Timeseries interval 的生命体征与环境时序
type Timeseries struct {
	HeartRate       []TimeseriesPoint `json:"heartRate"`
	HRV             []TimeseriesPoint `json:"hrv"`
	RespiratoryRate []TimeseriesPoint `json:"respiratoryRate"`
	BedTempC        []TimeseriesPoint `json:"tempBedC"`
	RoomTempC       []TimeseriesPoint `json:"tempRoomC"`
	TossAndTurns    []TimeseriesPoint `json:"tnt"`
}

// Interval 一次连续睡眠会话的厂家记录
type Interval struct {
	ID         string     `json:"id"`
	TS         string     `json:"ts"` // RFC3339 开始时间
	Stages     []Stage    `json:"stages"`
	Score      *int       `json:"score"`
	Timeseries Timeseries `json:"timeseries"`
	Incomplete bool       `json:"incomplete"`

	// Raw 原始载荷，随会话记录持久化用于审计
	Raw json.RawMessage `json:"-"`
}

type intervalsResponse struct {
	Intervals []json.RawMessage `json:"intervals"`
}
