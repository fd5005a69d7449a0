package dispatch

import (
	"context"
	"time"

	"evoq/eventing/progress"
	"evoq/logging"
)

// DefaultConsistencyPollInterval 进度轮询默认间隔
//
// 间隔只影响等待延迟，不影响可观测的正确性。
const DefaultConsistencyPollInterval = 10 * time.Millisecond

// ConsistencyGuarantee 强一致性保证中间件
//
// 仅当本次分发解析出的一致性为 Strong 且聚合执行产出了新版本 V 时生效：
// 轮询进度追踪器，直到每个注册的强一致消费者对该聚合身份报告的已处理
// 版本 ≥ V，或分发超时到期。超时将成功响应替换为一致性超时错误，此时
// 聚合写入本身已提交且不会回滚，仅放弃调用方的等待。
//
// 这是面向分发调用方的尽力而为 read-your-writes 保证，并不保证其他
// 调用方观测到副作用时消费者一定已经追上。
type ConsistencyGuarantee struct {
	NoopMiddleware

	tracker   progress.ITracker
	consumers []string
	interval  time.Duration
	logger    logging.ILogger
}

// ConsistencyConfig 强一致性保证配置
type ConsistencyConfig struct {
	// Tracker 事件处理器进度追踪器
	Tracker progress.ITracker

	// Consumers 注册的强一致消费者标识列表
	Consumers []string

	// PollInterval 轮询间隔，默认 10ms
	PollInterval time.Duration

	// Logger 组件级 logger，为空时基于全局 Logger 派生
	Logger logging.ILogger
}

// NewConsistencyGuarantee 创建强一致性保证中间件
func NewConsistencyGuarantee(cfg ConsistencyConfig) *ConsistencyGuarantee {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultConsistencyPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.ComponentLogger("dispatch.consistency")
	}
	return &ConsistencyGuarantee{
		tracker:   cfg.Tracker,
		consumers: append([]string(nil), cfg.Consumers...),
		interval:  interval,
		logger:    logger,
	}
}

// AfterDispatch 实现 IMiddleware：执行强一致等待
func (g *ConsistencyGuarantee) AfterDispatch(ctx context.Context, exec *Execution) error {
	if exec.Consistency != Strong {
		return nil
	}
	if g.tracker == nil || len(g.consumers) == 0 {
		return nil
	}
	if exec.Result == nil || len(exec.Result.Events) == 0 {
		// 没有新事件就没有可等待的进度
		return nil
	}

	target := exec.Result.VersionAfter
	for _, consumerID := range g.consumers {
		if err := g.waitForConsumer(ctx, exec, consumerID, target); err != nil {
			return err
		}
	}
	return nil
}

// waitForConsumer 轮询单个消费者的进度直到追上目标版本或超时
func (g *ConsistencyGuarantee) waitForConsumer(ctx context.Context, exec *Execution, consumerID string, target uint64) error {
	for {
		version, err := g.tracker.ProcessedVersion(ctx, consumerID, exec.Identity)
		if err != nil {
			// 追踪器查询失败视为尚未追上，继续轮询直至超时
			g.logger.Warn(ctx, "progress tracker query failed",
				logging.String("consumer_id", consumerID),
				logging.String("aggregate_id", exec.Identity),
				logging.Error(err))
		} else if version >= target {
			return nil
		}

		select {
		case <-ctx.Done():
			g.logger.Warn(ctx, "strong consistency wait timed out",
				logging.String("command_type", exec.CommandType),
				logging.String("consumer_id", consumerID),
				logging.String("aggregate_id", exec.Identity),
				logging.Uint64("target_version", target))
			return NewConsistencyTimeoutError(exec.CommandType, consumerID, target)
		case <-time.After(g.interval):
		}
	}
}

// 确认实现接口
var _ IMiddleware = (*ConsistencyGuarantee)(nil)
