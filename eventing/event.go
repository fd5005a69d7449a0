// Package eventing 提供领域事件信封与事件存储相关的错误类型
package eventing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event 领域事件信封
//
// 事件溯源运行时的最小持久化单元：聚合实例在一次成功的命令执行中产出
// 零或多个事件，按版本号顺序追加到该聚合身份对应的事件流中。
//
// 字段约定：
//   - AggregateID 为调用方可见的聚合身份（不含前缀）；
//   - StreamID 为存储层使用的流标识（路由配置的前缀 + 身份）；
//   - Version 为该事件在流中的版本号，从 1 开始且严格连续。
type Event struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	AggregateType string         `json:"aggregate_type"`
	AggregateID   string         `json:"aggregate_id"`
	StreamID      string         `json:"stream_id"`
	Version       uint64         `json:"version"`
	Timestamp     time.Time      `json:"timestamp"`
	Payload       any            `json:"payload"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// NewEvent 创建事件信封
func NewEvent(aggregateType, aggregateID, streamID, eventType string, version uint64, payload any) *Event {
	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		StreamID:      streamID,
		Version:       version,
		Timestamp:     time.Now(),
		Payload:       payload,
		Metadata:      make(map[string]any),
	}
}

// GetMetadata 获取元数据（惰性初始化）
func (e *Event) GetMetadata() map[string]any {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	return e.Metadata
}

// SetMetadata 设置元数据
func (e *Event) SetMetadata(key string, value any) {
	e.GetMetadata()[key] = value
}

// Validate 校验事件信封的完整性
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event id cannot be empty")
	}
	if e.Type == "" {
		return fmt.Errorf("event type cannot be empty")
	}
	if e.AggregateType == "" {
		return fmt.Errorf("aggregate type cannot be empty")
	}
	if e.StreamID == "" {
		return fmt.Errorf("stream id cannot be empty")
	}
	if e.Version == 0 {
		return fmt.Errorf("event version must be greater than 0")
	}
	return nil
}
