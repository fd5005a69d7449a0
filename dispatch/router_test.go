package dispatch

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"evoq/aggregate"
	"evoq/eventing"
)

// 测试聚合：银行账户
type accountState struct {
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
	AccountID string
	Balance   int64
}

type depositMoney struct {
	AccountID string
	Amount    int64
}

type closeAccount struct {
	AccountID string
}

func bankAccountDefinition() *aggregate.Definition {
	return &aggregate.Definition{
		Name:     "BankAccount",
		NewState: func() any { return &accountState{Status: "new"} },
		Apply: func(state any, evt *eventing.Event) (any, error) {
			acc := state.(*accountState)
			switch payload := evt.Payload.(type) {
			case accountOpened:
				return &accountState{Balance: payload.Balance, Status: "active"}, nil
			case moneyDeposited:
				return &accountState{Balance: acc.Balance + payload.Amount, Status: acc.Status}, nil
			default:
				return nil, fmt.Errorf("unknown event payload %T", evt.Payload)
			}
		},
		Handlers: map[string]aggregate.HandlerFunc{
			"execute": func(ctx context.Context, state any, command any) ([]aggregate.Event, error) {
				switch cmd := command.(type) {
				case *openAccount:
					if cmd.Balance <= 0 {
						return nil, fmt.Errorf("initial balance must be positive")
					}
					return []aggregate.Event{{Type: "AccountOpened", Data: accountOpened{Balance: cmd.Balance}}}, nil
				case *depositMoney:
					return []aggregate.Event{{Type: "MoneyDeposited", Data: moneyDeposited{Amount: cmd.Amount}}}, nil
				default:
					return nil, fmt.Errorf("unknown command %T", command)
				}
			},
		},
	}
}

func TestRouter_RegisterAndLookup(t *testing.T) {
	router := NewRouter()
	def := bankAccountDefinition()

	err := router.Register(&openAccount{}, Route{
		Aggregate: def,
		Identity:  IdentityField("AccountID"),
	})
	require.NoError(t, err)

	route, ok := router.lookup(&openAccount{AccountID: "acc-1"})
	require.True(t, ok)
	require.Equal(t, "execute", route.handlerName)
	require.Equal(t, "openAccount", route.commandType)

	_, ok = router.lookup(&depositMoney{})
	require.False(t, ok)
}

func TestRouter_DuplicateRouteRejected(t *testing.T) {
	router := NewRouter()
	def := bankAccountDefinition()
	route := Route{Aggregate: def, Identity: IdentityField("AccountID")}

	require.NoError(t, router.Register(&openAccount{}, route))
	err := router.Register(&openAccount{}, route)
	require.ErrorIs(t, err, ErrDuplicateRoute())
}

func TestRouter_MissingHandlerRejectedAtRegistration(t *testing.T) {
	router := NewRouter()
	def := bankAccountDefinition()

	err := router.Register(&closeAccount{}, Route{
		Aggregate:   def,
		HandlerName: "close",
		Identity:    IdentityField("AccountID"),
	})
	require.ErrorIs(t, err, ErrInvalidRoute())
	require.Contains(t, err.Error(), "close")
}

func TestRouter_ExplicitHandlerBypassesLookup(t *testing.T) {
	router := NewRouter()
	def := bankAccountDefinition()

	err := router.Register(&closeAccount{}, Route{
		Aggregate: def,
		Handler: func(ctx context.Context, state any, command any) ([]aggregate.Event, error) {
			return nil, nil
		},
		Identity: IdentityField("AccountID"),
	})
	require.NoError(t, err)

	route, ok := router.lookup(&closeAccount{AccountID: "acc-1"})
	require.True(t, ok)
	require.Equal(t, "handle", route.handlerName)
}

func TestRouter_IdentityExtractionRuleRequired(t *testing.T) {
	router := NewRouter()
	err := router.Register(&openAccount{}, Route{Aggregate: bankAccountDefinition()})
	require.ErrorIs(t, err, ErrInvalidRoute())
}

func TestRouter_PrototypeMustBePointer(t *testing.T) {
	router := NewRouter()
	def := bankAccountDefinition()

	err := router.Register(openAccount{}, Route{Aggregate: def, Identity: IdentityField("AccountID")})
	require.ErrorIs(t, err, ErrInvalidRoute())

	err = router.Register(nil, Route{Aggregate: def, Identity: IdentityField("AccountID")})
	require.ErrorIs(t, err, ErrInvalidRoute())
}

func TestRouter_ConflictingIdentityPrefixRejected(t *testing.T) {
	router := NewRouter()
	def := bankAccountDefinition()

	require.NoError(t, router.Register(&openAccount{}, Route{
		Aggregate:      def,
		Identity:       IdentityField("AccountID"),
		IdentityPrefix: "account-",
	}))

	err := router.Register(&depositMoney{}, Route{
		Aggregate:      def,
		Identity:       IdentityField("AccountID"),
		IdentityPrefix: "bank-",
	})
	require.ErrorIs(t, err, ErrInvalidRoute())
	require.Contains(t, err.Error(), "conflicting identity prefixes")
}

func TestIdentityField(t *testing.T) {
	extract := IdentityField("AccountID")

	require.Equal(t, "acc-1", extract(&openAccount{AccountID: "acc-1"}))
	require.Equal(t, "acc-1", extract(openAccount{AccountID: "acc-1"}))
	require.Equal(t, "", extract((*openAccount)(nil)))
	require.Equal(t, "", extract("not a struct"))
	require.Equal(t, "", extract(&struct{ AccountID int }{AccountID: 42}))
	require.Equal(t, "", IdentityField("Missing")(&openAccount{AccountID: "acc-1"}))
}
