package dispatch

import (
	"context"
	"time"

	"evoq/logging"
)

// IMiddleware 分发中间件接口
//
// 中间件按声明顺序包裹一次分发：
//   - BeforeDispatch 在聚合调用前按序执行，任一钩子返回错误即短路，
//     跳过剩余钩子与聚合调用，错误原样返回给调用方；
//   - AfterDispatch 在聚合执行成功后按序执行（此时 exec.Result 已填充），
//     返回错误会将成功响应替换为该错误（聚合写入不回滚）；
//   - AfterFailure 在聚合执行失败后按序执行，钩子自身的错误仅记录日志，
//     不替换原始失败。
type IMiddleware interface {
	BeforeDispatch(ctx context.Context, exec *Execution) error
	AfterDispatch(ctx context.Context, exec *Execution) error
	AfterFailure(ctx context.Context, exec *Execution, dispatchErr error) error
}

// NoopMiddleware 空实现，供只关心部分钩子的中间件嵌入
type NoopMiddleware struct{}

func (NoopMiddleware) BeforeDispatch(ctx context.Context, exec *Execution) error { return nil }
func (NoopMiddleware) AfterDispatch(ctx context.Context, exec *Execution) error  { return nil }
func (NoopMiddleware) AfterFailure(ctx context.Context, exec *Execution, dispatchErr error) error {
	return nil
}

// LoggingMiddleware 分发日志中间件
//
// 记录每次分发的命令类型、目标聚合与耗时。
type LoggingMiddleware struct {
	logger logging.ILogger
}

// NewLoggingMiddleware 创建日志中间件
func NewLoggingMiddleware(logger logging.ILogger) *LoggingMiddleware {
	if logger == nil {
		logger = logging.ComponentLogger("dispatch.logging")
	}
	return &LoggingMiddleware{logger: logger}
}

func (m *LoggingMiddleware) BeforeDispatch(ctx context.Context, exec *Execution) error {
	exec.Assigns[loggingStartKeyName] = time.Now()
	m.logger.Debug(ctx, "dispatching command",
		logging.String("command_type", exec.CommandType),
		logging.String("aggregate_type", exec.AggregateType),
		logging.String("aggregate_id", exec.Identity),
		logging.String("consistency", exec.Consistency.String()))
	return nil
}

func (m *LoggingMiddleware) AfterDispatch(ctx context.Context, exec *Execution) error {
	fields := []logging.Field{
		logging.String("command_type", exec.CommandType),
		logging.String("aggregate_id", exec.Identity),
	}
	if exec.Result != nil {
		fields = append(fields,
			logging.Uint64("version", exec.Result.VersionAfter),
			logging.Int("event_count", len(exec.Result.Events)))
	}
	if start, ok := exec.Assigns[loggingStartKeyName].(time.Time); ok {
		fields = append(fields, logging.Duration("elapsed", time.Since(start)))
	}
	m.logger.Info(ctx, "command dispatched", fields...)
	return nil
}

func (m *LoggingMiddleware) AfterFailure(ctx context.Context, exec *Execution, dispatchErr error) error {
	fields := []logging.Field{
		logging.String("command_type", exec.CommandType),
		logging.String("aggregate_id", exec.Identity),
		logging.Error(dispatchErr),
	}
	if start, ok := exec.Assigns[loggingStartKeyName].(time.Time); ok {
		fields = append(fields, logging.Duration("elapsed", time.Since(start)))
	}
	m.logger.Warn(ctx, "command dispatch failed", fields...)
	return nil
}

// loggingStartKeyName assigns 中存放分发起始时间的键
const loggingStartKeyName = "_dispatch_started_at"
