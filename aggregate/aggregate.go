// Package aggregate 实现事件溯源聚合实例的运行时管理
//
// 每个 (聚合类型, 身份) 对应至多一个活跃实例，实例通过串行化邮箱
// 独占其内存状态：同一身份上的命令执行与状态查询永不交错。
// 状态完全由事件重放重建，每次写入都施加乐观并发控制。
package aggregate

import (
	"context"
	"fmt"

	"evoq/eventing"
)

// Event 处理器产出的领域事件（尚未装入信封）
//
// 实例在追加前为其分配版本号、身份与元数据，封装为 eventing.Event。
type Event struct {
	Type string
	Data any
}

// HandlerFunc 命令处理函数
//
// 以当前聚合状态与命令为输入，返回零或多个新事件；返回错误表示业务拒绝
// 或执行失败，此时不会有任何事件被持久化。
type HandlerFunc func(ctx context.Context, state any, command any) ([]Event, error)

// ApplyFunc 事件应用函数
//
// 将单个事件折叠进聚合状态并返回新状态。重放与提交后的应用使用同一函数，
// 因此实现必须是纯函数式的：不依赖事件之外的输入。
type ApplyFunc func(state any, event *eventing.Event) (any, error)

// Definition 聚合类型定义
//
// 一次性声明聚合的初始状态构造、事件应用函数与命名的命令处理函数集合，
// 路由表在注册时引用其中的处理函数名。
type Definition struct {
	// Name 聚合类型名称，作为注册表键与事件的 AggregateType
	Name string

	// NewState 构造聚合初始状态
	NewState func() any

	// Apply 事件应用函数（重放与提交共用）
	Apply ApplyFunc

	// Handlers 命名的命令处理函数
	//
	// 直接路由到聚合的命令默认使用 "execute"；路由表也可以显式指定
	// 其他名称或绕过该映射提供独立处理函数。
	Handlers map[string]HandlerFunc
}

// Validate 校验聚合定义的完整性
func (d *Definition) Validate() error {
	if d == nil {
		return fmt.Errorf("aggregate definition cannot be nil")
	}
	if d.Name == "" {
		return fmt.Errorf("aggregate name cannot be empty")
	}
	if d.NewState == nil {
		return fmt.Errorf("aggregate %s: NewState cannot be nil", d.Name)
	}
	if d.Apply == nil {
		return fmt.Errorf("aggregate %s: Apply cannot be nil", d.Name)
	}
	return nil
}

// Handler 按名称查找处理函数
func (d *Definition) Handler(name string) (HandlerFunc, bool) {
	h, ok := d.Handlers[name]
	return h, ok
}

// ExecutionResult 一次成功命令执行的结果
type ExecutionResult struct {
	AggregateType string
	AggregateID   string
	VersionBefore uint64
	VersionAfter  uint64
	Events        []*eventing.Event
	Metadata      map[string]any
}

// ExecuteRequest 一次命令执行请求
type ExecuteRequest struct {
	// Handler 待调用的处理函数
	Handler HandlerFunc

	// HandlerName 处理函数名称（用于日志）
	HandlerName string

	// Command 命令值
	Command any

	// Metadata 附加到产出事件上的元数据
	Metadata map[string]any
}
