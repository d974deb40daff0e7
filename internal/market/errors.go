package market

import (
	"fmt"
	"time"
)

// RateLimitError 表示上游返回 429 或冷却期未结束，调用方应等待 RetryAfter 后再试。
// 与普通错误区分开，服务层据此决定是否对外暴露 retryAfter。
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("market: rate limited, retry after %ds", int(e.RetryAfter.Seconds()+0.5))
}

// TransportError 网络失败、超时或非 2xx 响应
type TransportError struct {
	Status int // 0 表示没拿到响应
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("market: unexpected status %d", e.Status)
	}
	return fmt.Sprintf("market: transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ValidationError 响应体结构与预期不符，按空结果处理
type ValidationError struct {
	Endpoint string
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("market: invalid response from %s: %v", e.Endpoint, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
