package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidArgument 请求参数不合法（symbol/interval/limit）
var ErrInvalidArgument = errors.New("invalid argument")

// NetworkError 在拿到任何响应之前的传输层失败
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError 单次调用超过了固定的超时上限
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: upstream did not respond within %s", e.Op, e.Timeout)
}

// UpstreamError 交易所返回了非 2xx 状态码
type UpstreamError struct {
	Op     string
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream returned status %d", e.Op, e.Status)
}

// IsServerSide 5xx 在网关层被重新标记为 502
func (e *UpstreamError) IsServerSide() bool {
	return e.Status >= 500
}

// FormatError 响应结构与约定不符
type FormatError struct {
	Op     string
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: invalid response format: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: invalid response format: %s", e.Op, e.Reason)
}

func (e *FormatError) Unwrap() error { return e.Err }
