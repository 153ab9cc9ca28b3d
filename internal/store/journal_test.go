package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/catsync/internal/ir"
)

func testEvent(entityID int64, attrs ...string) ir.ChangeEvent {
	ev := ir.ChangeEvent{
		Kind:              ir.EventSaved,
		EntityID:          entityID,
		ChangedAttributes: attrs,
		StoreIDs:          []int64{1},
	}
	ev.ID = ir.MustEventID(&ev)
	return ev
}

func TestWriteEventIdempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	ev := testEvent(10, "price")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	seq1, inserted, err := s.WriteEvent(ctx, ev, now)
	require.NoError(t, err)
	assert.True(t, inserted)

	seq2, inserted, err := s.WriteEvent(ctx, ev, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, inserted, "duplicate delivery is not re-journaled")
	assert.Equal(t, seq1, seq2)

	entries, err := s.Journal(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, now.Equal(entries[0].ReceivedAt))
}

func TestWriteEventRequiresID(t *testing.T) {
	s := createTestStore(t)
	_, _, err := s.WriteEvent(context.Background(), ir.ChangeEvent{Kind: ir.EventSaved, EntityID: 1}, time.Now())
	require.Error(t, err)
}

func TestUnprocessedEventsRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first := testEvent(10, "price")
	second := testEvent(11, "name", "qty")
	second.OccurredAt = now
	second.ID = ir.MustEventID(&second)

	for _, ev := range []ir.ChangeEvent{first, second} {
		_, _, err := s.WriteEvent(ctx, ev, now)
		require.NoError(t, err)
	}
	require.NoError(t, s.MarkEventProcessed(ctx, first.ID, now))

	pending, err := s.UnprocessedEvents(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	got := pending[0]
	assert.Equal(t, second.ID, got.ID)
	assert.Equal(t, ir.EventSaved, got.Kind)
	assert.Equal(t, int64(11), got.EntityID)
	assert.Equal(t, []string{"name", "qty"}, got.ChangedAttributes)
	assert.Equal(t, []int64{1}, got.StoreIDs)
	assert.True(t, now.Equal(got.OccurredAt))
	assert.Equal(t, second.ID, ir.MustEventID(&got), "payload round trip keeps identity")
}

func TestMarkEventProcessed(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	ev := testEvent(10)
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, _, err := s.WriteEvent(ctx, ev, first)
	require.NoError(t, err)
	require.NoError(t, s.MarkEventProcessed(ctx, ev.ID, first))
	require.NoError(t, s.MarkEventProcessed(ctx, ev.ID, first.Add(time.Hour)))

	entries, err := s.Journal(ctx)
	require.NoError(t, err)
	require.NotNil(t, entries[0].ProcessedAt)
	assert.True(t, first.Equal(*entries[0].ProcessedAt), "first stamp wins")

	require.Error(t, s.MarkEventProcessed(ctx, "missing", first))

	pending, err := s.UnprocessedEvents(ctx)
	require.NoError(t, err)
	assert.NotNil(t, pending)
	assert.Empty(t, pending)
}
