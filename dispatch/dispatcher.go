package dispatch

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	"evoq/aggregate"
	"evoq/eventing/store"
	"evoq/logging"
)

// Config 调度器配置
type Config struct {
	// DefaultTimeout 路由与分发选项均未指定时的分发超时，默认 5s
	DefaultTimeout time.Duration

	// Middleware 全局中间件链，在路由级中间件之前执行
	Middleware []IMiddleware

	// Logger 组件级 logger，为空时基于全局 Logger 派生
	Logger logging.ILogger
}

// Dispatcher 命令调度器
//
// 编排一次分发的完整流水线：路由查找 → 前置中间件 → 实例定位与调用 →
// 后置中间件（含一致性保证）→ 响应裁剪。预期内的失败一律以类型化错误
// 值返回，不向调用方抛出 panic。
type Dispatcher struct {
	router   *Router
	registry *aggregate.Registry

	defaultTimeout time.Duration
	middleware     []IMiddleware
	logger         logging.ILogger
}

// NewDispatcher 创建调度器
func NewDispatcher(router *Router, es store.IEventStore, cfg *Config) (*Dispatcher, error) {
	if router == nil {
		return nil, fmt.Errorf("router cannot be nil")
	}
	if es == nil {
		return nil, fmt.Errorf("event store cannot be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.ComponentLogger("dispatch.dispatcher")
	}
	defaultTimeout := cfg.DefaultTimeout
	if defaultTimeout == 0 {
		defaultTimeout = DefaultDispatchTimeout
	}
	return &Dispatcher{
		router:         router,
		registry:       aggregate.NewRegistry(es, logger),
		defaultTimeout: defaultTimeout,
		middleware:     append([]IMiddleware(nil), cfg.Middleware...),
		logger:         logger,
	}, nil
}

// Use 追加全局中间件（应在开始分发前完成）
func (d *Dispatcher) Use(mw IMiddleware) {
	d.middleware = append(d.middleware, mw)
}

// Dispatch 分发命令
//
// 返回值按选项裁剪：默认裸 ok（零值 Result）；IncludeAggregateVersion
// 填充版本号；IncludeExecutionResult 填充完整执行结果并优先生效。
// 错误一律为类型化错误值：未注册命令、执行失败、分发超时、一致性超时、
// 中间件错误（原样传播）。
func (d *Dispatcher) Dispatch(ctx context.Context, command any, opts ...DispatchOption) (*Result, error) {
	route, ok := d.router.lookup(command)
	if !ok {
		commandType := fmt.Sprintf("%T", command)
		d.logger.Warn(ctx, "unregistered command type",
			logging.String("command_type", commandType))
		return nil, NewUnregisteredCommandError(commandType)
	}

	var options dispatchOptions
	for _, opt := range opts {
		opt(&options)
	}

	exec, err := d.buildExecution(route, command, &options)
	if err != nil {
		return nil, err
	}

	// 解析超时并派生上下文：InfiniteTimeout 不设截止时间
	if exec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, exec.Timeout)
		defer cancel()
	}

	chain := d.chain(route)

	// 前置钩子：任一错误短路剩余钩子与聚合调用，错误原样返回
	for _, mw := range chain {
		if err := mw.BeforeDispatch(ctx, exec); err != nil {
			return nil, err
		}
	}

	// assigns 随上下文传递给处理函数（实例侧保留值、剥离取消信号）
	execCtx := ContextWithAssigns(ctx, exec.Assigns)

	result, err := d.registry.Execute(execCtx, route.Aggregate, exec.Identity, aggregate.InstanceOptions{
		StreamID: exec.StreamID,
		Lifespan: route.Lifespan,
	}, &aggregate.ExecuteRequest{
		Handler:     route.handler,
		HandlerName: exec.HandlerName,
		Command:     command,
		Metadata:    exec.Metadata,
	})
	if err != nil {
		dispatchErr := d.classifyExecuteError(exec, err)
		for _, mw := range chain {
			if hookErr := mw.AfterFailure(ctx, exec, dispatchErr); hookErr != nil {
				d.logger.Warn(ctx, "after-failure hook failed",
					logging.String("command_type", exec.CommandType),
					logging.Error(hookErr))
			}
		}
		return nil, dispatchErr
	}

	exec.Result = result

	// 后置钩子（含强一致性等待）：错误将成功响应替换为该错误，写入不回滚
	for _, mw := range chain {
		if err := mw.AfterDispatch(ctx, exec); err != nil {
			return nil, err
		}
	}

	return shapeResult(result, &options), nil
}

// AggregateState 查询聚合当前状态（管理操作；实例加载中时阻塞至 Ready）
func (d *Dispatcher) AggregateState(ctx context.Context, aggregateType, identity string) (any, error) {
	binding, ok := d.router.binding(aggregateType)
	if !ok {
		return nil, NewInvalidRouteError("", fmt.Sprintf("unknown aggregate type: %s", aggregateType))
	}
	return d.registry.AggregateState(ctx, binding.def, identity, aggregate.InstanceOptions{
		StreamID: binding.prefix + identity,
		Lifespan: binding.lifespan,
	})
}

// AggregateVersion 查询聚合当前版本（管理操作；实例加载中时阻塞至 Ready）
func (d *Dispatcher) AggregateVersion(ctx context.Context, aggregateType, identity string) (uint64, error) {
	binding, ok := d.router.binding(aggregateType)
	if !ok {
		return 0, NewInvalidRouteError("", fmt.Sprintf("unknown aggregate type: %s", aggregateType))
	}
	return d.registry.AggregateVersion(ctx, binding.def, identity, aggregate.InstanceOptions{
		StreamID: binding.prefix + identity,
		Lifespan: binding.lifespan,
	})
}

// ShutdownAggregate 强制终止并解除登记指定实例；下次访问从存储重新加载
func (d *Dispatcher) ShutdownAggregate(ctx context.Context, aggregateType, identity string) error {
	return d.registry.Shutdown(ctx, aggregateType, identity)
}

// Registry 返回底层注册表（用于观测与测试）
func (d *Dispatcher) Registry() *aggregate.Registry {
	return d.registry
}

// buildExecution 按“分发选项 > 路由默认值 > 调度器默认值”解析执行上下文
func (d *Dispatcher) buildExecution(route *Route, command any, options *dispatchOptions) (*Execution, error) {
	identity := route.Identity(command)
	if identity == "" {
		return nil, NewInvalidIdentityError(route.commandType)
	}

	consistency := route.Consistency
	if options.consistencySet {
		consistency = options.consistency
	}

	timeout := route.Timeout
	if options.timeoutSet {
		timeout = options.timeout
	}
	if timeout == 0 {
		timeout = d.defaultTimeout
	}

	metadata := make(map[string]any, len(options.metadata))
	for k, v := range options.metadata {
		metadata[k] = v
	}

	// assigns：路由默认值打底，分发选项按键覆盖
	assigns := make(map[string]any, len(route.Assigns)+len(options.assigns))
	for k, v := range route.Assigns {
		assigns[k] = v
	}
	for k, v := range options.assigns {
		assigns[k] = v
	}

	return &Execution{
		Command:       command,
		CommandType:   route.commandType,
		AggregateType: route.Aggregate.Name,
		Identity:      identity,
		StreamID:      route.IdentityPrefix + identity,
		HandlerName:   route.handlerName,
		Consistency:   consistency,
		Timeout:       timeout,
		Metadata:      metadata,
		Assigns:       assigns,
	}, nil
}

// chain 全局中间件在前，路由级在后
func (d *Dispatcher) chain(route *Route) []IMiddleware {
	if len(route.Middleware) == 0 {
		return d.middleware
	}
	chain := make([]IMiddleware, 0, len(d.middleware)+len(route.Middleware))
	chain = append(chain, d.middleware...)
	chain = append(chain, route.Middleware...)
	return chain
}

// classifyExecuteError 将聚合执行错误归入分发错误分类
func (d *Dispatcher) classifyExecuteError(exec *Execution, err error) error {
	if stdErrors.Is(err, context.DeadlineExceeded) || stdErrors.Is(err, context.Canceled) {
		// 调用方停止等待；实例内进行中的工作不受影响
		return NewDispatchTimeoutError(exec.CommandType, err)
	}
	return NewExecutionFailedError(exec.CommandType, err)
}

// shapeResult 按选项裁剪响应
func shapeResult(result *aggregate.ExecutionResult, options *dispatchOptions) *Result {
	shaped := &Result{}
	if options.includeExecutionResult {
		shaped.Execution = result
		shaped.AggregateVersion = result.VersionAfter
		shaped.HasVersion = true
		return shaped
	}
	if options.includeAggregateVersion {
		shaped.AggregateVersion = result.VersionAfter
		shaped.HasVersion = true
	}
	return shaped
}
