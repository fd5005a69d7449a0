package dispatch

import "fmt"

// ErrorCode 分发错误码
type ErrorCode string

// 预定义错误码常量（不可变）
const (
	ErrCodeUnregisteredCommand ErrorCode = "UNREGISTERED_COMMAND"
	ErrCodeDuplicateRoute      ErrorCode = "DUPLICATE_ROUTE"
	ErrCodeInvalidRoute        ErrorCode = "INVALID_ROUTE"
	ErrCodeInvalidIdentity     ErrorCode = "INVALID_AGGREGATE_IDENTITY"
	ErrCodeExecutionFailed     ErrorCode = "EXECUTION_FAILED"
	ErrCodeDispatchTimeout     ErrorCode = "DISPATCH_TIMEOUT"
	ErrCodeConsistencyTimeout  ErrorCode = "CONSISTENCY_TIMEOUT"
)

// DispatchError 分发错误
//
// 预期内的失败（未注册命令、超时、执行失败、一致性等待超时）一律以
// 类型化错误值返回给调用方，调度器不向调用方抛出 panic。
type DispatchError struct {
	Code        ErrorCode
	Message     string
	CommandType string
	Cause       error
}

func (e *DispatchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DispatchError) Unwrap() error { return e.Cause }

// Is 实现 errors.Is 接口，基于错误码匹配
func (e *DispatchError) Is(target error) bool {
	t, ok := target.(*DispatchError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// 哨兵错误（仅用于 errors.Is 比较，不应直接返回）
var (
	errUnregisteredCommand = &DispatchError{Code: ErrCodeUnregisteredCommand}
	errDuplicateRoute      = &DispatchError{Code: ErrCodeDuplicateRoute}
	errInvalidRoute        = &DispatchError{Code: ErrCodeInvalidRoute}
	errInvalidIdentity     = &DispatchError{Code: ErrCodeInvalidIdentity}
	errExecutionFailed     = &DispatchError{Code: ErrCodeExecutionFailed}
	errDispatchTimeout     = &DispatchError{Code: ErrCodeDispatchTimeout}
	errConsistencyTimeout  = &DispatchError{Code: ErrCodeConsistencyTimeout}
)

// ErrUnregisteredCommand 返回未注册命令错误（用于 errors.Is 比较）
func ErrUnregisteredCommand() *DispatchError { return errUnregisteredCommand }

// ErrDuplicateRoute 返回重复路由错误（用于 errors.Is 比较）
func ErrDuplicateRoute() *DispatchError { return errDuplicateRoute }

// ErrInvalidRoute 返回无效路由错误（用于 errors.Is 比较）
func ErrInvalidRoute() *DispatchError { return errInvalidRoute }

// ErrInvalidIdentity 返回无效聚合身份错误（用于 errors.Is 比较）
func ErrInvalidIdentity() *DispatchError { return errInvalidIdentity }

// ErrExecutionFailed 返回命令执行失败错误（用于 errors.Is 比较）
func ErrExecutionFailed() *DispatchError { return errExecutionFailed }

// ErrDispatchTimeout 返回分发超时错误（用于 errors.Is 比较）
func ErrDispatchTimeout() *DispatchError { return errDispatchTimeout }

// ErrConsistencyTimeout 返回一致性等待超时错误（用于 errors.Is 比较）
func ErrConsistencyTimeout() *DispatchError { return errConsistencyTimeout }

// NewUnregisteredCommandError 创建未注册命令错误
func NewUnregisteredCommandError(commandType string) *DispatchError {
	return &DispatchError{
		Code:        ErrCodeUnregisteredCommand,
		Message:     fmt.Sprintf("no route registered for command type: %s", commandType),
		CommandType: commandType,
	}
}

// NewDuplicateRouteError 创建重复路由错误
func NewDuplicateRouteError(commandType string) *DispatchError {
	return &DispatchError{
		Code:        ErrCodeDuplicateRoute,
		Message:     fmt.Sprintf("route already registered for command type: %s", commandType),
		CommandType: commandType,
	}
}

// NewInvalidRouteError 创建无效路由错误
func NewInvalidRouteError(commandType, reason string) *DispatchError {
	return &DispatchError{
		Code:        ErrCodeInvalidRoute,
		Message:     reason,
		CommandType: commandType,
	}
}

// NewInvalidIdentityError 创建无效聚合身份错误
func NewInvalidIdentityError(commandType string) *DispatchError {
	return &DispatchError{
		Code:        ErrCodeInvalidIdentity,
		Message:     "extracted aggregate identity is empty",
		CommandType: commandType,
	}
}

// NewExecutionFailedError 创建命令执行失败错误
func NewExecutionFailedError(commandType string, cause error) *DispatchError {
	return &DispatchError{
		Code:        ErrCodeExecutionFailed,
		Message:     "command execution failed",
		CommandType: commandType,
		Cause:       cause,
	}
}

// NewDispatchTimeoutError 创建分发超时错误
func NewDispatchTimeoutError(commandType string, cause error) *DispatchError {
	return &DispatchError{
		Code:        ErrCodeDispatchTimeout,
		Message:     "dispatch timed out waiting for aggregate execution",
		CommandType: commandType,
		Cause:       cause,
	}
}

// NewConsistencyTimeoutError 创建一致性等待超时错误
//
// 注意：此错误表示等待被放弃，聚合写入本身已提交且不会回滚。
func NewConsistencyTimeoutError(commandType, consumerID string, targetVersion uint64) *DispatchError {
	return &DispatchError{
		Code:        ErrCodeConsistencyTimeout,
		Message:     fmt.Sprintf("consumer %s did not reach version %d before the dispatch timeout (the write itself is committed)", consumerID, targetVersion),
		CommandType: commandType,
	}
}
