package aggregate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"evoq/eventing"
	"evoq/eventing/store"
	"evoq/logging"
)

// 测试聚合：银行账户
type account struct {
	Balance int64
	Status  string
}

type accountOpened struct {
	Balance int64
}

type moneyDeposited struct {
	Amount int64
}

type openAccount struct {
	Balance int64
}

type depositMoney struct {
	Amount int64
}

type failCommand struct{}

type panicCommand struct{}

func accountDefinition() *Definition {
	return &Definition{
		Name:     "BankAccount",
		NewState: func() any { return &account{Status: "new"} },
		Apply: func(state any, evt *eventing.Event) (any, error) {
			acc := state.(*account)
			switch payload := evt.Payload.(type) {
			case accountOpened:
				return &account{Balance: payload.Balance, Status: "active"}, nil
			case moneyDeposited:
				return &account{Balance: acc.Balance + payload.Amount, Status: acc.Status}, nil
			default:
				return nil, fmt.Errorf("unknown event payload %T", evt.Payload)
			}
		},
		Handlers: map[string]HandlerFunc{
			"execute": func(ctx context.Context, state any, command any) ([]Event, error) {
				switch cmd := command.(type) {
				case *openAccount:
					return []Event{{Type: "AccountOpened", Data: accountOpened{Balance: cmd.Balance}}}, nil
				case *depositMoney:
					return []Event{{Type: "MoneyDeposited", Data: moneyDeposited{Amount: cmd.Amount}}}, nil
				case *failCommand:
					return nil, fmt.Errorf("business rule violated")
				case *panicCommand:
					panic("handler exploded")
				default:
					return nil, fmt.Errorf("unknown command %T", command)
				}
			},
		},
	}
}

func executeRequest(command any) *ExecuteRequest {
	def := accountDefinition()
	return &ExecuteRequest{
		Handler:     def.Handlers["execute"],
		HandlerName: "execute",
		Command:     command,
	}
}

func newTestRegistry(t *testing.T) (*Registry, *store.MemoryEventStore) {
	t.Helper()
	es := store.NewMemoryEventStore()
	return NewRegistry(es, logging.NewNoopLogger()), es
}

func TestInstance_VersionEqualsTotalEventCount(t *testing.T) {
	ctx := context.Background()
	registry, es := newTestRegistry(t)
	def := accountDefinition()

	// 任意成功命令序列后，版本号等于产出事件总数
	_, err := registry.Execute(ctx, def, "acc-1", InstanceOptions{}, executeRequest(&openAccount{Balance: 100}))
	require.NoError(t, err)

	for i := 0; i < 9; i++ {
		_, err := registry.Execute(ctx, def, "acc-1", InstanceOptions{}, executeRequest(&depositMoney{Amount: 10}))
		require.NoError(t, err)
	}

	version, err := registry.AggregateVersion(ctx, def, "acc-1", InstanceOptions{})
	require.NoError(t, err)
	require.Equal(t, uint64(10), version)

	storeVersion, err := es.StreamVersion(ctx, "acc-1")
	require.NoError(t, err)
	require.Equal(t, uint64(10), storeVersion)
}

func TestInstance_ExecutionResultFields(t *testing.T) {
	ctx := context.Background()
	registry, _ := newTestRegistry(t)
	def := accountDefinition()

	req := executeRequest(&openAccount{Balance: 1000})
	req.Metadata = map[string]any{"request_id": "req-1"}

	result, err := registry.Execute(ctx, def, "acc-1", InstanceOptions{}, req)
	require.NoError(t, err)
	require.Equal(t, "BankAccount", result.AggregateType)
	require.Equal(t, "acc-1", result.AggregateID)
	require.Equal(t, uint64(0), result.VersionBefore)
	require.Equal(t, uint64(1), result.VersionAfter)
	require.Len(t, result.Events, 1)
	require.Equal(t, "AccountOpened", result.Events[0].Type)
	require.Equal(t, uint64(1), result.Events[0].Version)
	require.Equal(t, "req-1", result.Events[0].Metadata["request_id"])
}

func TestInstance_HandlerFailureTerminatesWithoutPersisting(t *testing.T) {
	ctx := context.Background()
	registry, es := newTestRegistry(t)
	def := accountDefinition()

	_, err := registry.Execute(ctx, def, "acc-1", InstanceOptions{}, executeRequest(&openAccount{Balance: 500}))
	require.NoError(t, err)

	_, err = registry.Execute(ctx, def, "acc-1", InstanceOptions{}, executeRequest(&failCommand{}))
	require.Error(t, err)
	require.Contains(t, err.Error(), "business rule violated")

	// 失败实例终止并解除登记
	require.Eventually(t, func() bool { return registry.Count() == 0 }, time.Second, 5*time.Millisecond)

	// 持久化流与重新加载的状态都不受失败调用影响
	storeVersion, err := es.StreamVersion(ctx, "acc-1")
	require.NoError(t, err)
	require.Equal(t, uint64(1), storeVersion)

	state, err := registry.AggregateState(ctx, def, "acc-1", InstanceOptions{})
	require.NoError(t, err)
	require.Equal(t, &account{Balance: 500, Status: "active"}, state.(*account))
}

func TestInstance_HandlerPanicIsRecoveredAndTerminates(t *testing.T) {
	ctx := context.Background()
	registry, es := newTestRegistry(t)
	def := accountDefinition()

	_, err := registry.Execute(ctx, def, "acc-1", InstanceOptions{}, executeRequest(&openAccount{Balance: 500}))
	require.NoError(t, err)

	_, err = registry.Execute(ctx, def, "acc-1", InstanceOptions{}, executeRequest(&panicCommand{}))
	require.Error(t, err)
	require.Contains(t, err.Error(), "handler panic")

	storeVersion, err := es.StreamVersion(ctx, "acc-1")
	require.NoError(t, err)
	require.Equal(t, uint64(1), storeVersion)
}

func TestInstance_ConcurrencyConflictTerminatesAndReloadObservesOutOfBandEvent(t *testing.T) {
	ctx := context.Background()
	registry, es := newTestRegistry(t)
	def := accountDefinition()

	_, err := registry.Execute(ctx, def, "acc-1", InstanceOptions{}, executeRequest(&openAccount{Balance: 100}))
	require.NoError(t, err)

	// 旁路写入：绕过实例直接向流追加事件
	outOfBand := eventing.NewEvent("BankAccount", "acc-1", "acc-1", "MoneyDeposited", 2, moneyDeposited{Amount: 50})
	require.NoError(t, es.AppendEvents(ctx, "acc-1", []*eventing.Event{outOfBand}, 1))

	// 实例内存版本仍为 1，追加时 expectedVersion 不匹配，实例必须终止
	_, err = registry.Execute(ctx, def, "acc-1", InstanceOptions{}, executeRequest(&depositMoney{Amount: 10}))
	require.Error(t, err)
	require.True(t, eventing.IsConcurrencyError(err))

	require.Eventually(t, func() bool { return registry.Count() == 0 }, time.Second, 5*time.Millisecond)

	// 下次访问完全从持久化存储重建，观测到旁路事件
	state, err := registry.AggregateState(ctx, def, "acc-1", InstanceOptions{})
	require.NoError(t, err)
	require.Equal(t, &account{Balance: 150, Status: "active"}, state.(*account))

	version, err := registry.AggregateVersion(ctx, def, "acc-1", InstanceOptions{})
	require.NoError(t, err)
	require.Equal(t, uint64(2), version)
}

func TestInstance_CallerTimeoutDoesNotCancelExecution(t *testing.T) {
	registry, es := newTestRegistry(t)
	def := accountDefinition()

	slow := &ExecuteRequest{
		HandlerName: "execute",
		Command:     &openAccount{Balance: 100},
		Handler: func(ctx context.Context, state any, command any) ([]Event, error) {
			time.Sleep(100 * time.Millisecond)
			return []Event{{Type: "AccountOpened", Data: accountOpened{Balance: 100}}}, nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := registry.Execute(ctx, def, "acc-1", InstanceOptions{}, slow)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// 调用方放弃等待，但实例内的执行自行完成并提交
	require.Eventually(t, func() bool {
		version, err := es.StreamVersion(context.Background(), "acc-1")
		return err == nil && version == 1
	}, time.Second, 5*time.Millisecond)
}

func TestInstance_IdleLifespanTerminates(t *testing.T) {
	ctx := context.Background()
	registry, _ := newTestRegistry(t)
	def := accountDefinition()

	opts := InstanceOptions{Lifespan: 30 * time.Millisecond}
	_, err := registry.Execute(ctx, def, "acc-1", opts, executeRequest(&openAccount{Balance: 100}))
	require.NoError(t, err)
	require.Equal(t, 1, registry.Count())

	require.Eventually(t, func() bool { return registry.Count() == 0 }, time.Second, 5*time.Millisecond)

	// 空闲驱逐后再次访问会重新加载
	state, err := registry.AggregateState(ctx, def, "acc-1", opts)
	require.NoError(t, err)
	require.Equal(t, &account{Balance: 100, Status: "active"}, state.(*account))
}

func TestInstance_StreamIDPrefix(t *testing.T) {
	ctx := context.Background()
	registry, es := newTestRegistry(t)
	def := accountDefinition()

	opts := InstanceOptions{StreamID: "account-acc-1"}
	_, err := registry.Execute(ctx, def, "acc-1", opts, executeRequest(&openAccount{Balance: 100}))
	require.NoError(t, err)

	has, err := es.HasStream(ctx, "account-acc-1")
	require.NoError(t, err)
	require.True(t, has)

	has, err = es.HasStream(ctx, "acc-1")
	require.NoError(t, err)
	require.False(t, has)
}

func TestInstance_ExecutionsAreSerializedPerIdentity(t *testing.T) {
	ctx := context.Background()
	registry, _ := newTestRegistry(t)
	def := accountDefinition()

	var running, maxRunning int64
	serialized := &ExecuteRequest{
		HandlerName: "execute",
		Command:     &depositMoney{Amount: 1},
		Handler: func(ctx context.Context, state any, command any) ([]Event, error) {
			now := atomic.AddInt64(&running, 1)
			for {
				max := atomic.LoadInt64(&maxRunning)
				if now <= max || atomic.CompareAndSwapInt64(&maxRunning, max, now) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&running, -1)
			return []Event{{Type: "MoneyDeposited", Data: moneyDeposited{Amount: 1}}}, nil
		},
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := registry.Execute(ctx, def, "acc-1", InstanceOptions{}, serialized)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	// 同一身份的执行永不交错
	require.Equal(t, int64(1), atomic.LoadInt64(&maxRunning))

	version, err := registry.AggregateVersion(ctx, def, "acc-1", InstanceOptions{})
	require.NoError(t, err)
	require.Equal(t, uint64(20), version)
}
