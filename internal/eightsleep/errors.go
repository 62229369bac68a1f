package eightsleep

import "fmt"

// AuthError 认证失败（凭证错误或会话过期），不重试，调用方需重新认证
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return "eight sleep authentication failed"
	}
	return "eight sleep authentication failed: " + e.Message
}

// RateLimitError 限流（HTTP 429），重试耗尽后返回
type RateLimitError struct {
	Attempts int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("eight sleep rate limited after %d attempts", e.Attempts)
}

// APIError 其它非 2xx 响应
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("eight sleep API error: status %d: %s", e.StatusCode, e.Body)
}

// NetworkError 传输层错误，重试耗尽后返回
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("eight sleep network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
