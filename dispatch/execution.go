package dispatch

import (
	"context"
	"time"

	"evoq/aggregate"
)

// Execution 单次命令执行请求的上下文
//
// 每次分发创建一份，贯穿中间件链与聚合调用，响应返回后即丢弃。
// 中间件可以读取并修改 Metadata 与 Assigns；其余字段视为只读。
type Execution struct {
	// Command 命令值
	Command any

	// CommandType 命令类型名
	CommandType string

	// AggregateType 目标聚合类型
	AggregateType string

	// Identity 目标聚合身份
	Identity string

	// StreamID 存储流标识（IdentityPrefix + Identity）
	StreamID string

	// HandlerName 解析出的处理函数名
	HandlerName string

	// Consistency 本次分发解析出的一致性级别
	Consistency Consistency

	// Timeout 本次分发解析出的超时；InfiniteTimeout 表示不设限
	Timeout time.Duration

	// Metadata 附加到产出事件上的元数据
	Metadata map[string]any

	// Assigns 路由默认值与分发选项合并后的上下文数据，
	// 用于向中间件与处理函数传递依赖
	Assigns map[string]any

	// Result 聚合执行成功后由调度器填充，供 after-dispatch 钩子消费
	Result *aggregate.ExecutionResult
}

type assignsCtxKey struct{}

// ContextWithAssigns 将 assigns 注入上下文，供处理函数读取
func ContextWithAssigns(ctx context.Context, assigns map[string]any) context.Context {
	return context.WithValue(ctx, assignsCtxKey{}, assigns)
}

// AssignsFromContext 从上下文中取出 assigns
//
// 处理函数通过它读取路由默认值与分发选项合并后的依赖项。
func AssignsFromContext(ctx context.Context) map[string]any {
	assigns, _ := ctx.Value(assignsCtxKey{}).(map[string]any)
	return assigns
}
