package dispatch

import (
	"time"

	"evoq/aggregate"
)

// Consistency 分发一致性级别
type Consistency int

const (
	// Eventual 最终一致：聚合写入提交后立即返回
	Eventual Consistency = iota

	// Strong 强一致：阻塞调用方直到全部强一致消费者追上本次产出的事件版本
	Strong
)

func (c Consistency) String() string {
	switch c {
	case Strong:
		return "strong"
	default:
		return "eventual"
	}
}

// InfiniteTimeout 不设分发超时
const InfiniteTimeout time.Duration = -1

// DefaultDispatchTimeout 调度器默认分发超时
const DefaultDispatchTimeout = 5 * time.Second

// dispatchOptions 单次分发的可选项（按路由默认值逐项解析）
type dispatchOptions struct {
	consistency    Consistency
	consistencySet bool

	timeout    time.Duration
	timeoutSet bool

	includeAggregateVersion bool
	includeExecutionResult  bool

	metadata map[string]any
	assigns  map[string]any
}

// DispatchOption 分发可选项
type DispatchOption func(*dispatchOptions)

// WithConsistency 覆盖路由默认一致性
func WithConsistency(c Consistency) DispatchOption {
	return func(o *dispatchOptions) {
		o.consistency = c
		o.consistencySet = true
	}
}

// WithTimeout 覆盖路由默认超时；传入 InfiniteTimeout 表示不设限
func WithTimeout(d time.Duration) DispatchOption {
	return func(o *dispatchOptions) {
		o.timeout = d
		o.timeoutSet = true
	}
}

// IncludeAggregateVersion 在结果中返回聚合版本号
func IncludeAggregateVersion() DispatchOption {
	return func(o *dispatchOptions) {
		o.includeAggregateVersion = true
	}
}

// IncludeExecutionResult 在结果中返回完整执行结果（优先于版本号选项）
func IncludeExecutionResult() DispatchOption {
	return func(o *dispatchOptions) {
		o.includeExecutionResult = true
	}
}

// WithMetadata 附加到产出事件上的元数据（按键合并）
func WithMetadata(metadata map[string]any) DispatchOption {
	return func(o *dispatchOptions) {
		if o.metadata == nil {
			o.metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			o.metadata[k] = v
		}
	}
}

// WithAssign 设置单个 assign（覆盖路由默认值中的同名键）
func WithAssign(key string, value any) DispatchOption {
	return func(o *dispatchOptions) {
		if o.assigns == nil {
			o.assigns = make(map[string]any)
		}
		o.assigns[key] = value
	}
}

// WithAssigns 批量设置 assigns（覆盖路由默认值中的同名键）
func WithAssigns(assigns map[string]any) DispatchOption {
	return func(o *dispatchOptions) {
		if o.assigns == nil {
			o.assigns = make(map[string]any, len(assigns))
		}
		for k, v := range assigns {
			o.assigns[k] = v
		}
	}
}

// Result 分发结果
//
// 响应按请求的选项裁剪：IncludeExecutionResult 时填充 Execution（并同时
// 给出版本号）；仅 IncludeAggregateVersion 时填充版本号；否则为零值（裸 ok）。
type Result struct {
	// AggregateVersion 本次执行后的聚合版本号
	AggregateVersion uint64

	// HasVersion 版本号是否按选项填充
	HasVersion bool

	// Execution 完整执行结果（仅 IncludeExecutionResult 时填充）
	Execution *aggregate.ExecutionResult
}
