package eventing

import (
	stdErrors "errors"
	"fmt"
)

// StoreError 事件存储错误基类
type StoreError struct {
	Code    string
	Message string
	Cause   error
}

func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *StoreError) Unwrap() error { return e.Cause }

// NewStoreFailedError 创建存储失败错误
func NewStoreFailedError(message string, cause error) *StoreError {
	return &StoreError{Code: "STORE_FAILED", Message: message, Cause: cause}
}

// NewInvalidEventError 创建无效事件错误
func NewInvalidEventError(message string, cause error) *StoreError {
	return &StoreError{Code: "INVALID_EVENT", Message: message, Cause: cause}
}

// ConcurrencyError 并发冲突错误
//
// 追加事件时 expectedVersion 与流内当前版本不一致即返回该错误，
// 表示本进程不是该流的唯一写入者（例如旁路写入或过期的注册表项）。
//
// 说明：
//   - ConcurrencyError 本身就是冲突事实的最终形态，不包裹下层错误，因此不实现 Unwrap；
//   - 调用方应通过 errors.As 或 IsConcurrencyError 识别冲突，而不是依赖 Unwrap 链。
type ConcurrencyError struct {
	StreamID        string
	ExpectedVersion uint64
	ActualVersion   uint64
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("concurrency conflict: stream %s expected version %d, actual version %d",
		e.StreamID, e.ExpectedVersion, e.ActualVersion)
}

// NewConcurrencyError 创建并发冲突错误
func NewConcurrencyError(streamID string, expected, actual uint64) *ConcurrencyError {
	return &ConcurrencyError{StreamID: streamID, ExpectedVersion: expected, ActualVersion: actual}
}

// IsConcurrencyError 判断是否为并发冲突
func IsConcurrencyError(err error) bool {
	var conflict *ConcurrencyError
	return stdErrors.As(err, &conflict)
}
