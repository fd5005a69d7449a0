package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"evoq/eventing"
	"evoq/logging"
)

func newTestStore(t *testing.T) *SQLiteEventStore {
	t.Helper()
	s, err := New(Config{
		DSN:    "file:" + filepath.Join(t.TempDir(), "events.db"),
		Logger: logging.NewNoopLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func depositEvents(streamID string, startVersion uint64, count int) []*eventing.Event {
	events := make([]*eventing.Event, 0, count)
	for i := 0; i < count; i++ {
		evt := eventing.NewEvent("BankAccount", "acc-1", streamID, "MoneyDeposited", startVersion+uint64(i), map[string]any{"amount": "10"})
		evt.SetMetadata("request_id", "req-1")
		events = append(events, evt)
	}
	return events
}

func TestSQLiteEventStore_RequiresDSN(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestSQLiteEventStore_AppendAndReadForward(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.AppendEvents(ctx, "s-1", depositEvents("s-1", 1, 3), 0))

	events, err := s.ReadForward(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		require.Equal(t, uint64(i+1), e.Version)
		require.Equal(t, "MoneyDeposited", e.Type)
		require.Equal(t, "BankAccount", e.AggregateType)
		require.Equal(t, "acc-1", e.AggregateID)
		require.Equal(t, "s-1", e.StreamID)
		require.NotEmpty(t, e.ID)
		require.False(t, e.Timestamp.IsZero())
		// payload 与 metadata 经 JSON 往返
		require.Equal(t, map[string]any{"amount": "10"}, e.Payload)
		require.Equal(t, "req-1", e.Metadata["request_id"])
	}

	version, err := s.StreamVersion(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, uint64(3), version)
}

func TestSQLiteEventStore_ConcurrencyConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.AppendEvents(ctx, "s-1", depositEvents("s-1", 1, 2), 0))

	err := s.AppendEvents(ctx, "s-1", depositEvents("s-1", 2, 1), 1)
	require.True(t, eventing.IsConcurrencyError(err))

	var concErr *eventing.ConcurrencyError
	require.ErrorAs(t, err, &concErr)
	require.Equal(t, uint64(1), concErr.ExpectedVersion)
	require.Equal(t, uint64(2), concErr.ActualVersion)

	// 冲突事务回滚，流保持原状
	version, err := s.StreamVersion(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, uint64(2), version)
}

func TestSQLiteEventStore_StreamsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.AppendEvents(ctx, "s-1", depositEvents("s-1", 1, 2), 0))
	require.NoError(t, s.AppendEvents(ctx, "s-2", depositEvents("s-2", 1, 1), 0))

	has, err := s.HasStream(ctx, "s-1")
	require.NoError(t, err)
	require.True(t, has)

	has, err = s.HasStream(ctx, "s-3")
	require.NoError(t, err)
	require.False(t, has)

	version, err := s.StreamVersion(ctx, "s-2")
	require.NoError(t, err)
	require.Equal(t, uint64(1), version)
}

func TestSQLiteEventStore_RejectsNonSequentialVersions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.AppendEvents(ctx, "s-1", depositEvents("s-1", 2, 1), 0)
	require.Error(t, err)
	require.False(t, eventing.IsConcurrencyError(err))
}

func TestSQLiteEventStore_EmptyStream(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	events, err := s.ReadForward(ctx, "missing")
	require.NoError(t, err)
	require.Empty(t, events)

	version, err := s.StreamVersion(ctx, "missing")
	require.NoError(t, err)
	require.Zero(t, version)
}
