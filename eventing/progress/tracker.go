// Package progress 提供事件处理器进度追踪的查询与记录接口
//
// 强一致性分发等待下游消费者追上本次写入产出的事件版本，
// 运行时仅通过 ITracker 的查询接口消费进度，记录进度由消费者侧负责。
package progress

import (
	"context"
	"sync"
)

// ITracker 事件处理器进度追踪接口（运行时消费）
type ITracker interface {
	// ProcessedVersion 返回指定消费者针对某聚合身份已处理到的最高事件版本
	//
	// 消费者尚无进度记录时返回 (0, nil)。
	ProcessedVersion(ctx context.Context, consumerID, aggregateID string) (uint64, error)
}

// IRecorder 进度记录接口（消费者侧使用）
type IRecorder interface {
	// Record 记录消费者针对某聚合身份已处理到的版本
	//
	// 应为幂等操作；实现不得让进度回退。
	Record(ctx context.Context, consumerID, aggregateID string, version uint64) error
}

// MemoryTracker 内存进度追踪（用于测试与单进程部署）
type MemoryTracker struct {
	mu       sync.RWMutex
	versions map[string]map[string]uint64 // consumerID -> aggregateID -> version
}

// NewMemoryTracker 创建内存进度追踪
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		versions: make(map[string]map[string]uint64),
	}
}

// ProcessedVersion 查询进度
func (t *MemoryTracker) ProcessedVersion(ctx context.Context, consumerID, aggregateID string) (uint64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.versions[consumerID][aggregateID], nil
}

// Record 记录进度（不回退）
func (t *MemoryTracker) Record(ctx context.Context, consumerID, aggregateID string, version uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	byAggregate := t.versions[consumerID]
	if byAggregate == nil {
		byAggregate = make(map[string]uint64)
		t.versions[consumerID] = byAggregate
	}
	if version > byAggregate[aggregateID] {
		byAggregate[aggregateID] = version
	}
	return nil
}

// 确认实现接口
var (
	_ ITracker  = (*MemoryTracker)(nil)
	_ IRecorder = (*MemoryTracker)(nil)
)
