package aggregate

import (
	"context"
	"errors"
	"sync"
	"time"

	"evoq/eventing/store"
	"evoq/logging"
)

// Registry 聚合实例注册表
//
// 维护 (聚合类型, 身份) 到活跃实例的映射，保证同一键至多一个实例：
// 首个调用方创建并登记，并发调用方阻塞等待登记完成后拿到同一句柄。
// 实例因任何原因终止时解除登记，下次访问会创建新实例并从持久化日志重放。
type Registry struct {
	store  store.IEventStore
	logger logging.ILogger

	mu        sync.RWMutex
	instances map[string]*Instance
}

// InstanceOptions 实例启动参数（由路由表解析）
type InstanceOptions struct {
	// StreamID 存储流标识，为空时使用聚合身份本身
	StreamID string

	// Lifespan 空闲存活时长，0 表示永不因空闲终止
	Lifespan time.Duration
}

// NewRegistry 创建注册表
func NewRegistry(es store.IEventStore, logger logging.ILogger) *Registry {
	if logger == nil {
		logger = logging.ComponentLogger("aggregate.registry")
	}
	return &Registry{
		store:     es,
		logger:    logger,
		instances: make(map[string]*Instance),
	}
}

// GetOrStart 获取或启动指定键的实例
//
// 并发调用同一未登记键时，仅有一个创建者胜出，其余调用方拿到同一句柄。
func (r *Registry) GetOrStart(def *Definition, identity string, opts InstanceOptions) (*Instance, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if identity == "" {
		return nil, errors.New("aggregate identity cannot be empty")
	}

	key := registryKey(def.Name, identity)

	// 快速路径：读锁检查
	r.mu.RLock()
	inst, exists := r.instances[key]
	r.mu.RUnlock()
	if exists {
		return inst, nil
	}

	// 慢速路径：写锁下双重检查后创建
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, exists := r.instances[key]; exists {
		return inst, nil
	}

	streamID := opts.StreamID
	if streamID == "" {
		streamID = identity
	}

	inst = newInstance(def, identity, streamID, opts.Lifespan, r.store, r.logger, func(terminated *Instance) {
		r.remove(key, terminated)
	})
	r.instances[key] = inst
	inst.start()

	r.logger.Debug(context.Background(), "aggregate instance started",
		logging.String("aggregate_type", def.Name),
		logging.String("aggregate_id", identity),
		logging.String("stream_id", streamID))
	return inst, nil
}

// remove 解除登记（仅当登记句柄仍是该实例时）
func (r *Registry) remove(key string, inst *Instance) {
	r.mu.Lock()
	if r.instances[key] == inst {
		delete(r.instances, key)
	}
	r.mu.Unlock()
}

// Count 返回活跃实例数（用于观测与测试）
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}

// Execute 解析实例并执行命令
//
// 实例在请求入队前后终止（ErrInstanceStopped）时重新解析：此时命令尚未
// 执行过，不构成重试。已开始执行的失败按原错误返回，绝不自动重试。
func (r *Registry) Execute(ctx context.Context, def *Definition, identity string, opts InstanceOptions, req *ExecuteRequest) (*ExecutionResult, error) {
	for {
		inst, err := r.GetOrStart(def, identity, opts)
		if err != nil {
			return nil, err
		}
		result, err := inst.Execute(ctx, req)
		if errors.Is(err, ErrInstanceStopped) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			continue
		}
		return result, err
	}
}

// AggregateState 查询聚合当前状态（加载中时阻塞至 Ready）
func (r *Registry) AggregateState(ctx context.Context, def *Definition, identity string, opts InstanceOptions) (any, error) {
	for {
		inst, err := r.GetOrStart(def, identity, opts)
		if err != nil {
			return nil, err
		}
		state, err := inst.AggregateState(ctx)
		if errors.Is(err, ErrInstanceStopped) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			continue
		}
		return state, err
	}
}

// AggregateVersion 查询聚合当前版本（加载中时阻塞至 Ready）
func (r *Registry) AggregateVersion(ctx context.Context, def *Definition, identity string, opts InstanceOptions) (uint64, error) {
	for {
		inst, err := r.GetOrStart(def, identity, opts)
		if err != nil {
			return 0, err
		}
		version, err := inst.AggregateVersion(ctx)
		if errors.Is(err, ErrInstanceStopped) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return 0, ctxErr
			}
			continue
		}
		return version, err
	}
}

// Shutdown 强制终止并解除登记指定实例
//
// 实例不存在时为空操作；下次访问会从存储重新加载。
func (r *Registry) Shutdown(ctx context.Context, aggregateType, identity string) error {
	key := registryKey(aggregateType, identity)

	r.mu.RLock()
	inst, exists := r.instances[key]
	r.mu.RUnlock()
	if !exists {
		return nil
	}
	return inst.Shutdown(ctx)
}

func registryKey(aggregateType, identity string) string {
	return aggregateType + "/" + identity
}
