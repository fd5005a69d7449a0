package eventing

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	evt := NewEvent("BankAccount", "acc-1", "account-acc-1", "AccountOpened", 1, map[string]any{"balance": 100})

	require.NotEmpty(t, evt.ID)
	require.Equal(t, "AccountOpened", evt.Type)
	require.Equal(t, "BankAccount", evt.AggregateType)
	require.Equal(t, "acc-1", evt.AggregateID)
	require.Equal(t, "account-acc-1", evt.StreamID)
	require.Equal(t, uint64(1), evt.Version)
	require.False(t, evt.Timestamp.IsZero())
	require.NoError(t, evt.Validate())
}

func TestEvent_Validate(t *testing.T) {
	valid := NewEvent("BankAccount", "acc-1", "acc-1", "AccountOpened", 1, nil)
	require.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		mutate func(*Event)
	}{
		{"missing id", func(e *Event) { e.ID = "" }},
		{"missing type", func(e *Event) { e.Type = "" }},
		{"missing aggregate type", func(e *Event) { e.AggregateType = "" }},
		{"missing stream id", func(e *Event) { e.StreamID = "" }},
		{"zero version", func(e *Event) { e.Version = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			evt := NewEvent("BankAccount", "acc-1", "acc-1", "AccountOpened", 1, nil)
			tc.mutate(evt)
			require.Error(t, evt.Validate())
		})
	}
}

func TestEvent_MetadataLazyInit(t *testing.T) {
	evt := &Event{}
	evt.SetMetadata("key", "value")
	require.Equal(t, "value", evt.GetMetadata()["key"])
}

func TestConcurrencyError(t *testing.T) {
	err := NewConcurrencyError("s-1", 1, 3)
	require.True(t, IsConcurrencyError(err))
	require.Contains(t, err.Error(), "s-1")

	wrapped := fmt.Errorf("append failed: %w", err)
	require.True(t, IsConcurrencyError(wrapped))

	require.False(t, IsConcurrencyError(nil))
	require.False(t, IsConcurrencyError(fmt.Errorf("other error")))
	require.False(t, IsConcurrencyError(NewStoreFailedError("store down", nil)))
}
