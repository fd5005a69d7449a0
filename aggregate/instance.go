package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"evoq/eventing"
	"evoq/eventing/store"
	"evoq/logging"
)

// LifecycleState 实例生命周期状态
type LifecycleState int32

const (
	StateUnstarted LifecycleState = iota
	StateLoading
	StateReady
	StateExecuting
	StateTerminated
)

func (s LifecycleState) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateExecuting:
		return "executing"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ErrInstanceStopped 实例已终止
//
// 请求入队或等待回复期间实例终止时返回。此时命令尚未执行，
// 调用方应通过注册表重新解析实例后重新入队。
var ErrInstanceStopped = errors.New("aggregate instance stopped")

// 邮箱请求类型
type requestKind int

const (
	reqExecute requestKind = iota
	reqState
	reqVersion
	reqStop
)

type request struct {
	kind    requestKind
	ctx     context.Context
	execute *ExecuteRequest
	reply   chan response
}

type response struct {
	result  *ExecutionResult
	state   any
	version uint64
	err     error
}

// 邮箱容量：入队满时调用方按其超时阻塞等待
const mailboxCapacity = 128

// Instance 聚合实例
//
// 一个实例独占一个 (聚合类型, 身份) 的内存状态与版本号，全部变更由
// 单个工作协程按邮箱顺序串行执行。状态机：
//
//	Unstarted → Loading → Ready ⇄ Executing → Ready（成功）
//	Executing → Terminated（冲突或处理失败）
//	Ready → Terminated（空闲超时 / 显式关闭）
//
// Terminated 为吸收态：之后的访问必须经注册表启动新实例。
type Instance struct {
	def      *Definition
	identity string
	streamID string
	lifespan time.Duration

	store  store.IEventStore
	logger logging.ILogger

	mailbox chan *request
	stopped chan struct{} // 工作协程退出后关闭

	state atomic.Int32 // LifecycleState，仅用于观测

	// 以下字段仅由工作协程访问
	current any
	version uint64
	loaded  bool

	// onTerminate 终止回调（注册表解除登记）
	onTerminate func(*Instance)
}

func newInstance(def *Definition, identity, streamID string, lifespan time.Duration, es store.IEventStore, logger logging.ILogger, onTerminate func(*Instance)) *Instance {
	inst := &Instance{
		def:         def,
		identity:    identity,
		streamID:    streamID,
		lifespan:    lifespan,
		store:       es,
		logger:      logger,
		mailbox:     make(chan *request, mailboxCapacity),
		stopped:     make(chan struct{}),
		onTerminate: onTerminate,
	}
	inst.state.Store(int32(StateUnstarted))
	return inst
}

// start 启动工作协程
func (i *Instance) start() {
	go i.run()
}

// Identity 返回聚合身份
func (i *Instance) Identity() string { return i.identity }

// StreamID 返回存储流标识
func (i *Instance) StreamID() string { return i.streamID }

// State 返回当前生命周期状态（仅用于观测，不参与同步）
func (i *Instance) State() LifecycleState {
	return LifecycleState(i.state.Load())
}

// Execute 将命令执行请求入队并等待结果
//
// ctx 的超时仅约束调用方的等待：超时后实例内正在进行的工作不会被取消，
// 它会自行完成或失败。
func (i *Instance) Execute(ctx context.Context, req *ExecuteRequest) (*ExecutionResult, error) {
	resp, err := i.call(ctx, &request{kind: reqExecute, ctx: ctx, execute: req})
	if err != nil {
		return nil, err
	}
	return resp.result, nil
}

// AggregateState 查询当前状态（实例加载中时阻塞至 Ready）
func (i *Instance) AggregateState(ctx context.Context) (any, error) {
	resp, err := i.call(ctx, &request{kind: reqState, ctx: ctx})
	if err != nil {
		return nil, err
	}
	return resp.state, nil
}

// AggregateVersion 查询当前版本（实例加载中时阻塞至 Ready）
func (i *Instance) AggregateVersion(ctx context.Context) (uint64, error) {
	resp, err := i.call(ctx, &request{kind: reqVersion, ctx: ctx})
	if err != nil {
		return 0, err
	}
	return resp.version, nil
}

// Shutdown 请求实例终止并等待工作协程退出
func (i *Instance) Shutdown(ctx context.Context) error {
	_, err := i.call(ctx, &request{kind: reqStop, ctx: ctx})
	if errors.Is(err, ErrInstanceStopped) {
		// 已经终止，关闭目标达成
		return nil
	}
	return err
}

// call 入队请求并等待回复
func (i *Instance) call(ctx context.Context, req *request) (response, error) {
	req.reply = make(chan response, 1)

	select {
	case i.mailbox <- req:
	case <-i.stopped:
		return response{}, ErrInstanceStopped
	case <-ctx.Done():
		return response{}, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		return resp, resp.err
	case <-i.stopped:
		// 收尾竞争：工作协程可能已写入回复后才退出，优先读取
		select {
		case resp := <-req.reply:
			return resp, resp.err
		default:
			return response{}, ErrInstanceStopped
		}
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

// run 工作协程主循环
func (i *Instance) run() {
	defer func() {
		i.state.Store(int32(StateTerminated))
		if i.onTerminate != nil {
			i.onTerminate(i)
		}
		close(i.stopped)
	}()

	var idle *time.Timer
	var idleC <-chan time.Time
	if i.lifespan > 0 {
		idle = time.NewTimer(i.lifespan)
		idleC = idle.C
		defer idle.Stop()
	}

	for {
		select {
		case req := <-i.mailbox:
			if terminate := i.handle(req); terminate {
				return
			}
			if idle != nil {
				if !idle.Stop() {
					select {
					case <-idle.C:
					default:
					}
				}
				idle.Reset(i.lifespan)
			}
		case <-idleC:
			i.logger.Debug(context.Background(), "aggregate instance idle, stopping",
				logging.String("aggregate_type", i.def.Name),
				logging.String("aggregate_id", i.identity))
			return
		}
	}
}

// handle 处理单个请求，返回 true 表示实例应终止
func (i *Instance) handle(req *request) bool {
	if req.kind == reqStop {
		req.reply <- response{}
		return true
	}

	if !i.loaded {
		if err := i.load(); err != nil {
			req.reply <- response{err: err}
			return true
		}
	}

	switch req.kind {
	case reqState:
		req.reply <- response{state: i.current, version: i.version}
		return false
	case reqVersion:
		req.reply <- response{version: i.version}
		return false
	case reqExecute:
		result, err := i.execute(req.ctx, req.execute)
		req.reply <- response{result: result, err: err}
		// 任何执行失败都终止实例：部分应用会使内存状态与持久化日志脱钩
		return err != nil
	default:
		req.reply <- response{err: fmt.Errorf("unknown request kind %d", req.kind)}
		return false
	}
}

// load 从事件存储重放重建状态（Unstarted → Loading → Ready）
//
// 加载使用实例自身的后台上下文：首个调用方超时不应中断加载。
func (i *Instance) load() error {
	i.state.Store(int32(StateLoading))
	ctx := context.Background()

	events, err := i.store.ReadForward(ctx, i.streamID)
	if err != nil {
		i.logger.Error(ctx, "aggregate load failed",
			logging.String("stream_id", i.streamID),
			logging.Error(err))
		return err
	}

	state := i.def.NewState()
	var version uint64
	for _, evt := range events {
		next, err := i.def.Apply(state, evt)
		if err != nil {
			i.logger.Error(ctx, "event replay failed",
				logging.String("stream_id", i.streamID),
				logging.String("event_type", evt.Type),
				logging.Uint64("version", evt.Version),
				logging.Error(err))
			return fmt.Errorf("replay event %s at version %d: %w", evt.Type, evt.Version, err)
		}
		state = next
		version++
	}

	i.current = state
	i.version = version
	i.loaded = true
	i.state.Store(int32(StateReady))
	return nil
}

// execute 执行单个命令（Ready → Executing → Ready / Terminated）
func (i *Instance) execute(callerCtx context.Context, req *ExecuteRequest) (*ExecutionResult, error) {
	i.state.Store(int32(StateExecuting))

	// 保留调用方上下文携带的值（assigns、链路信息），但剥离取消信号：
	// 调用方停止等待不取消进行中的处理与追加
	ctx := context.WithoutCancel(callerCtx)

	produced, err := i.invokeHandler(ctx, req)
	if err != nil {
		i.logger.Warn(ctx, "command handler failed, terminating instance",
			logging.String("aggregate_type", i.def.Name),
			logging.String("aggregate_id", i.identity),
			logging.String("handler", req.HandlerName),
			logging.Error(err))
		return nil, err
	}

	versionBefore := i.version

	// 装箱：分配连续版本号并附加元数据
	envelopes := make([]*eventing.Event, 0, len(produced))
	for idx, p := range produced {
		evt := eventing.NewEvent(i.def.Name, i.identity, i.streamID, p.Type, versionBefore+uint64(idx)+1, p.Data)
		for k, v := range req.Metadata {
			evt.SetMetadata(k, v)
		}
		envelopes = append(envelopes, evt)
	}

	if len(envelopes) > 0 {
		if err := i.store.AppendEvents(ctx, i.streamID, envelopes, versionBefore); err != nil {
			if eventing.IsConcurrencyError(err) {
				// 版本冲突说明存在旁路写入者，内存状态不再可信，立即终止
				i.logger.Warn(ctx, "concurrency conflict on append, terminating instance",
					logging.String("stream_id", i.streamID),
					logging.Uint64("expected_version", versionBefore),
					logging.Error(err))
			} else {
				i.logger.Error(ctx, "append events failed, terminating instance",
					logging.String("stream_id", i.streamID),
					logging.Error(err))
			}
			return nil, err
		}

		// 提交后按重放同一折叠函数应用到内存状态
		for _, evt := range envelopes {
			next, err := i.def.Apply(i.current, evt)
			if err != nil {
				// 已持久化但无法应用：内存状态与日志脱钩，必须终止重建
				return nil, fmt.Errorf("apply committed event %s: %w", evt.Type, err)
			}
			i.current = next
			i.version++
		}
	}

	i.state.Store(int32(StateReady))
	return &ExecutionResult{
		AggregateType: i.def.Name,
		AggregateID:   i.identity,
		VersionBefore: versionBefore,
		VersionAfter:  i.version,
		Events:        envelopes,
		Metadata:      req.Metadata,
	}, nil
}

// invokeHandler 调用处理函数并回收 panic
func (i *Instance) invokeHandler(ctx context.Context, req *ExecuteRequest) (produced []Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			produced = nil
			err = fmt.Errorf("command handler panic: %v", r)
		}
	}()
	return req.Handler(ctx, i.current, req.Command)
}
