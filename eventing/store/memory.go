package store

import (
	"context"
	"sync"

	"evoq/eventing"
)

// MemoryEventStore 一个简单的内存实现，仅用于测试与示例
//
// 事件按 streamID 维度组织，追加时在同一把锁内完成版本比较与写入，
// 保证单进程内 Append 的原子性与乐观锁语义。
type MemoryEventStore struct {
	mu      sync.RWMutex
	streams map[string][]*eventing.Event // streamID -> ordered events
}

// NewMemoryEventStore 创建内存事件存储
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{
		streams: make(map[string][]*eventing.Event),
	}
}

// AppendEvents 追加事件（乐观锁控制）
func (m *MemoryEventStore) AppendEvents(ctx context.Context, streamID string, events []*eventing.Event, expectedVersion uint64) error {
	if len(events) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	currentVersion := m.streamVersionUnsafe(streamID)
	if currentVersion != expectedVersion {
		return eventing.NewConcurrencyError(streamID, expectedVersion, currentVersion)
	}

	for i, e := range events {
		if err := e.Validate(); err != nil {
			return eventing.NewInvalidEventError("event validation failed", err)
		}
		expectedEventVersion := expectedVersion + uint64(i) + 1
		if e.Version != expectedEventVersion {
			return eventing.NewInvalidEventError("event version not sequential", nil)
		}
	}

	// 复制后追加，避免调用方后续修改影响已存储事件
	for _, e := range events {
		stored := *e
		m.streams[streamID] = append(m.streams[streamID], &stored)
	}
	return nil
}

// ReadForward 按版本号升序读取流内全部事件
func (m *MemoryEventStore) ReadForward(ctx context.Context, streamID string) ([]*eventing.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	streamEvents := m.streams[streamID]
	res := make([]*eventing.Event, 0, len(streamEvents))
	for _, e := range streamEvents {
		copied := *e
		res = append(res, &copied)
	}
	return res, nil
}

// HasStream 检查事件流是否存在
func (m *MemoryEventStore) HasStream(ctx context.Context, streamID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams[streamID]) > 0, nil
}

// StreamVersion 返回事件流当前版本
func (m *MemoryEventStore) StreamVersion(ctx context.Context, streamID string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.streamVersionUnsafe(streamID), nil
}

func (m *MemoryEventStore) streamVersionUnsafe(streamID string) uint64 {
	streamEvents := m.streams[streamID]
	if len(streamEvents) == 0 {
		return 0
	}
	return streamEvents[len(streamEvents)-1].Version
}

// 确认实现接口
var (
	_ IEventStore      = (*MemoryEventStore)(nil)
	_ IStreamInspector = (*MemoryEventStore)(nil)
)
