// Package publish 提供将已提交事件转发给下游消费者的分发中间件
package publish

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"

	"evoq/dispatch"
	"evoq/logging"
)

// NATSPublisher 将已提交事件发布到 NATS 的 after-dispatch 中间件
//
// 主题格式：<prefix>.<aggregateType>.<aggregateID>。发布失败只记录日志，
// 永不替换成功响应：事件此时已经持久化，下游消费者可以通过事件流补读。
type NATSPublisher struct {
	dispatch.NoopMiddleware

	conn          *nats.Conn
	subjectPrefix string
	logger        logging.ILogger
}

// NATSPublisherConfig NATS 事件发布配置
type NATSPublisherConfig struct {
	// Conn 已建立的 NATS 连接
	Conn *nats.Conn

	// SubjectPrefix 主题前缀，默认 "evoq.events"
	SubjectPrefix string

	// Logger 组件级 logger，为空时基于全局 Logger 派生
	Logger logging.ILogger
}

// NewNATSPublisher 创建 NATS 事件发布中间件
func NewNATSPublisher(cfg NATSPublisherConfig) (*NATSPublisher, error) {
	if cfg.Conn == nil {
		return nil, nats.ErrInvalidConnection
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "evoq.events"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.ComponentLogger("eventing.publish.nats")
	}
	return &NATSPublisher{
		conn:          cfg.Conn,
		subjectPrefix: cfg.SubjectPrefix,
		logger:        logger,
	}, nil
}

// AfterDispatch 实现 dispatch.IMiddleware：逐个发布本次产出的事件
func (p *NATSPublisher) AfterDispatch(ctx context.Context, exec *dispatch.Execution) error {
	if exec.Result == nil || len(exec.Result.Events) == 0 {
		return nil
	}
	subject := p.subjectPrefix + "." + exec.AggregateType + "." + exec.Identity
	for _, evt := range exec.Result.Events {
		data, err := json.Marshal(evt)
		if err != nil {
			p.logger.Error(ctx, "serialize event for publish failed",
				logging.String("event_id", evt.ID),
				logging.String("event_type", evt.Type),
				logging.Error(err))
			continue
		}
		if err := p.conn.Publish(subject, data); err != nil {
			p.logger.Error(ctx, "publish event failed",
				logging.String("subject", subject),
				logging.String("event_id", evt.ID),
				logging.Error(err))
		}
	}
	return nil
}

// 确认实现接口
var _ dispatch.IMiddleware = (*NATSPublisher)(nil)
