package eightsleep

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	// requestDelay 每次请求（登录除外）前的固定限流等待
	requestDelay = 1 * time.Second

	// maxRetries 429 / 网络错误的最大重试次数
	maxRetries = 3
)

// backoffSchedule 重试等待时间表（固定，不抖动）
var backoffSchedule = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
}

// Client Eight Sleep 厂家 API 客户端
// 重试是显式的有界循环（不用 resty 内建重试），等待通过 sleep 注入以便测试
type Client struct {
	httpClient *resty.Client
	logger     *zap.Logger
	sleep      func(time.Duration)
}

// NewClient 创建 Eight Sleep 客户端
func NewClient(baseURL string, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: client,
		logger:     logger,
		sleep:      time.Sleep,
	}
}

// SetSleepFunc 替换等待函数（测试用，消除真实延迟）
func (c *Client) SetSleepFunc(f func(time.Duration)) {
	c.sleep = f
}

// Login 邮箱密码登录，换取会话 token
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	var out loginResponse
	_, err := c.doRequest("login", func() (*resty.Response, error) {
		return c.httpClient.R().
			SetContext(ctx).
			SetBody(loginRequest{Email: email, Password: password}).
			SetResult(&out).
			ForceContentType("application/json").
			Post("/login")
	})
	if err != nil {
		return nil, err
	}
	if out.Session.Token == "" {
		return nil, &APIError{StatusCode: 200, Body: "login response missing session token"}
	}
	return &out.Session, nil
}

// GetUser 获取用户信息
func (c *Client) GetUser(ctx context.Context, userID, token string) (*User, error) {
	c.sleep(requestDelay)

	var out userResponse
	_, err := c.doRequest("get_user", func() (*resty.Response, error) {
		return c.httpClient.R().
			SetContext(ctx).
			SetHeader("session-token", token).
			SetHeader("user-id", userID).
			SetResult(&out).
			ForceContentType("application/json").
			Get("/users/" + userID)
	})
	if err != nil {
		return nil, err
	}
	return &out.User, nil
}

// GetDevices 获取用户绑定的设备列表
func (c *Client) GetDevices(ctx context.Context, userID, token string) ([]Device, error) {
	c.sleep(requestDelay)

	var out devicesResponse
	_, err := c.doRequest("get_devices", func() (*resty.Response, error) {
		return c.httpClient.R().
			SetContext(ctx).
			SetHeader("session-token", token).
			SetHeader("user-id", userID).
			SetResult(&out).
			ForceContentType("application/json").
			Get("/users/" + userID + "/devices")
	})
	if err != nil {
		return nil, err
	}
	return out.Devices, nil
}

// GetIntervals 获取日期范围内的睡眠 interval 列表
// from / to 为 YYYY-MM-DD；每个 interval 同时保留原始载荷（Raw）
func (c *Client) GetIntervals(ctx context.Context, userID, token, fromDate, toDate string) ([]Interval, error) {
	c.sleep(requestDelay)

	var out intervalsResponse
	_, err := c.doRequest("get_intervals", func() (*resty.Response, error) {
		return c.httpClient.R().
			SetContext(ctx).
			SetHeader("session-token", token).
			SetHeader("user-id", userID).
			SetQueryParam("from", fromDate).
			SetQueryParam("to", toDate).
			SetResult(&out).
			ForceContentType("application/json").
			Get("/users/" + userID + "/intervals")
	})
	if err != nil {
		return nil, err
	}

	intervals := make([]Interval, 0, len(out.Intervals))
	for _, raw := range out.Intervals {
		var iv Interval
		if err := json.Unmarshal(raw, &iv); err != nil {
			c.logger.Warn("Failed to unmarshal interval, skipping",
				zap.String("user_id", userID),
				zap.Error(err),
			)
			continue
		}
		iv.Raw = raw
		intervals = append(intervals, iv)
	}

	c.logger.Info("Retrieved intervals from Eight Sleep API",
		zap.String("user_id", userID),
		zap.String("from", fromDate),
		zap.String("to", toDate),
		zap.Int("interval_count", len(intervals)),
	)

	return intervals, nil
}

// doRequest 执行一次 API 调用，带有界重试：
//   - 429 和传输错误按 backoffSchedule 重试，最多 maxRetries 次
//   - 401 立即返回认证错误，不重试
//   - 其它非 2xx 返回 APIError
func (c *Client) doRequest(op string, call func() (*resty.Response, error)) (*resty.Response, error) {
	attempt := 0
	for {
		resp, err := call()
		if err != nil {
			if attempt < maxRetries {
				c.logger.Warn("Eight Sleep request failed, retrying",
					zap.String("op", op),
					zap.Int("attempt", attempt+1),
					zap.Error(err),
				)
				c.sleep(backoffSchedule[attempt])
				attempt++
				continue
			}
			return nil, &NetworkError{Err: fmt.Errorf("%s: %w", op, err)}
		}

		status := resp.StatusCode()
		switch {
		case status == 401:
			return nil, &AuthError{Message: op}
		case status == 429:
			if attempt < maxRetries {
				c.logger.Warn("Eight Sleep rate limited, retrying",
					zap.String("op", op),
					zap.Int("attempt", attempt+1),
				)
				c.sleep(backoffSchedule[attempt])
				attempt++
				continue
			}
			return nil, &RateLimitError{Attempts: attempt + 1}
		case status >= 300:
			return nil, &APIError{StatusCode: status, Body: string(resp.Body())}
		}
		return resp, nil
	}
}

// DetermineBedSide 判定用户在首个设备上的床侧归属。
// 多设备时只看第一个设备；无法匹配返回空串。
func DetermineBedSide(devices []Device, userID string) string {
	if len(devices) == 0 {
		return ""
	}
	d := devices[0]
	switch {
	case d.LeftUserID == userID && d.RightUserID == userID:
		return "solo"
	case d.LeftUserID == userID:
		return "left"
	case d.RightUserID == userID:
		return "right"
	case d.OwnerID == userID:
		return "solo"
	}
	return ""
}
