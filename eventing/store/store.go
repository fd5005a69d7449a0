// Package store 定义事件存储接口及其内置实现
package store

import (
	"context"

	"evoq/eventing"
)

// IEventStore 定义事件存储的核心接口（最小化设计）
//
// 事件存储是事件溯源运行时唯一的持久化边界，按流（streamID）组织事件。
// 该接口遵循最小化原则，仅包含运行时必需的两个方法。
//
// 最佳实践：
//   - 实现应保证单次 AppendEvents 的原子性；
//   - 使用乐观锁（expectedVersion）防止并发冲突；
//   - ReadForward 必须按版本号升序返回全部事件。
type IEventStore interface {
	// AppendEvents 追加事件到指定事件流
	//
	// 参数：
	//   - ctx: 上下文，用于超时控制和取消
	//   - streamID: 事件流标识
	//   - events: 待追加的事件列表，版本号必须从 expectedVersion+1 起严格连续
	//   - expectedVersion:
	//       - 表示当前持久化事件流的“上一次已提交版本号”
	//       - 0 表示新流（尚无任何事件被持久化）
	//       - 实现应将其与存储中的当前版本做精确比较，用于乐观锁控制
	//
	// 返回：
	//   - error: 版本冲突返回 *eventing.ConcurrencyError，其他失败返回 *eventing.StoreError
	AppendEvents(ctx context.Context, streamID string, events []*eventing.Event, expectedVersion uint64) error

	// ReadForward 按版本号升序读取事件流的全部事件
	//
	// 用于聚合实例加载时的事件重放。流不存在时返回空切片而非错误。
	ReadForward(ctx context.Context, streamID string) ([]*eventing.Event, error)
}

// IStreamInspector 定义事件流检查接口（可选扩展）
//
// 提供流存在性检查与版本查询，用于管理操作与测试断言。
type IStreamInspector interface {
	// HasStream 检查指定事件流是否存在
	HasStream(ctx context.Context, streamID string) (bool, error)

	// StreamVersion 获取事件流的当前版本号，流不存在时返回 (0, nil)
	StreamVersion(ctx context.Context, streamID string) (uint64, error)
}
