package aggregate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"evoq/eventing"
)

func TestDefinition_Validate(t *testing.T) {
	var nilDef *Definition
	require.Error(t, nilDef.Validate())

	def := accountDefinition()
	require.NoError(t, def.Validate())

	broken := *def
	broken.Name = ""
	require.Error(t, broken.Validate())

	broken = *def
	broken.NewState = nil
	require.Error(t, broken.Validate())

	broken = *def
	broken.Apply = nil
	require.Error(t, broken.Validate())
}

func TestDefinition_HandlerLookup(t *testing.T) {
	def := accountDefinition()

	h, ok := def.Handler("execute")
	require.True(t, ok)
	require.NotNil(t, h)

	_, ok = def.Handler("missing")
	require.False(t, ok)

	var empty Definition
	_, ok = empty.Handler("execute")
	require.False(t, ok)
}

func TestDefinition_ApplyIsSharedByReplayAndCommit(t *testing.T) {
	def := accountDefinition()

	state := def.NewState()
	evt := eventing.NewEvent("BankAccount", "acc-1", "acc-1", "AccountOpened", 1, accountOpened{Balance: 100})
	next, err := def.Apply(state, evt)
	require.NoError(t, err)
	require.Equal(t, &account{Balance: 100, Status: "active"}, next.(*account))

	unknown := eventing.NewEvent("BankAccount", "acc-1", "acc-1", "Unknown", 2, struct{}{})
	_, err = def.Apply(next, unknown)
	require.Error(t, err)
}
