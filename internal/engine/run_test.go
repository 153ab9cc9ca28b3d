package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/catsync/internal/ir"
)

func TestSubmit_DuplicateDeliveryDropped(t *testing.T) {
	f := newFixture(t, testConfig())
	f.engine = f.build(testConfig(), WithJournal(f.store))

	ev := saved(1, "price")
	ev.OccurredAt = fixedNow()

	accepted, err := f.engine.Submit(f.ctx, ev)
	require.NoError(t, err)
	assert.True(t, accepted)

	// Same content, attribute code in another case.
	dup := saved(1, "PRICE")
	dup.OccurredAt = fixedNow()
	accepted, err = f.engine.Submit(f.ctx, dup)
	require.NoError(t, err)
	assert.False(t, accepted)

	assert.Equal(t, 1, f.engine.Pending())
}

func TestSubmit_UntimedEventsGetFreshIDs(t *testing.T) {
	f := newFixture(t, testConfig())
	f.engine = f.build(testConfig(),
		WithJournal(f.store),
		WithIDGenerator(NewFixedGenerator("ev-1", "ev-2")))

	for range 2 {
		accepted, err := f.engine.Submit(f.ctx, saved(1, "price"))
		require.NoError(t, err)
		assert.True(t, accepted)
	}

	events, err := f.store.UnprocessedEvents(f.ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ev-1", events[0].ID)
	assert.Equal(t, "ev-2", events[1].ID)
	assert.True(t, fixedNow().Equal(events[0].OccurredAt))
}

func TestSubmit_InvalidEvent(t *testing.T) {
	f := newFixture(t, testConfig())

	accepted, err := f.engine.Submit(f.ctx, ir.ChangeEvent{Kind: ir.EventSaved, EntityID: -1})
	assert.False(t, accepted)
	assert.True(t, IsInvalidArgument(err))
	assert.Equal(t, 0, f.engine.Pending())
}

func TestSubmit_AfterStop(t *testing.T) {
	f := newFixture(t, testConfig())
	f.engine.Stop()

	accepted, err := f.engine.Submit(f.ctx, saved(1))
	assert.False(t, accepted)
	assert.ErrorContains(t, err, "engine stopped")
}

func TestRun_DrainsQueueAndMarksProcessed(t *testing.T) {
	f := newFixture(t, testConfig())
	f.engine = f.build(testConfig(),
		WithJournal(f.store),
		WithIDGenerator(NewFixedGenerator("ev-1", "ev-2", "ev-3")))
	f.catalog.put(product(1, ir.TypeSimple, 1), product(2, ir.TypeSimple, 1))
	f.seed(synced(key(1, 0), ir.TypeSimple))

	for _, ev := range []ir.ChangeEvent{saved(1, "price"), saved(2), deleted(3)} {
		_, err := f.engine.Submit(f.ctx, ev)
		require.NoError(t, err)
	}

	f.engine.Stop()
	require.NoError(t, f.engine.Run(f.ctx))

	assert.Equal(t, ir.ActionUpdate, f.record(key(1, 0)).NextAction)
	assert.Equal(t, ir.ActionAdd, f.record(key(2, 0)).NextAction)

	pending, err := f.store.UnprocessedEvents(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRun_ConflictIsMarkedProcessed(t *testing.T) {
	f := conflictFixture(t, storeDE.WebsiteID)
	f.engine = f.build(testConfig(storeEN, storeDE),
		WithJournal(f.store),
		WithIDGenerator(NewFixedGenerator("ev-1")))

	_, err := f.engine.Submit(f.ctx, saved(30, "qty"))
	require.NoError(t, err)
	f.engine.Stop()
	require.NoError(t, f.engine.Run(f.ctx))

	pending, err := f.store.UnprocessedEvents(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	f := newFixture(t, testConfig())

	ctx, cancel := context.WithCancel(f.ctx)
	done := make(chan error, 1)
	go func() {
		done <- f.engine.Run(ctx)
	}()

	f.catalog.put(product(1, ir.TypeSimple, 1))
	_, err := f.engine.Submit(f.ctx, saved(1))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		recs, err := f.store.Get(f.ctx, DefaultEntityType, testAPIKey, []int64{1})
		return err == nil && len(recs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

func TestRecover_RequeuesUnprocessed(t *testing.T) {
	f := newFixture(t, testConfig())
	f.catalog.put(product(1, ir.TypeSimple, 1))

	first := f.build(testConfig(), WithJournal(f.store), WithIDGenerator(NewFixedGenerator("ev-1")))
	_, err := first.Submit(f.ctx, saved(1))
	require.NoError(t, err)
	// Crash: first never runs.

	second := f.build(testConfig(), WithJournal(f.store))
	n, err := second.Recover(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	second.Stop()
	require.NoError(t, second.Run(f.ctx))
	assert.Equal(t, ir.ActionAdd, f.record(key(1, 0)).NextAction)

	third := f.build(testConfig(), WithJournal(f.store))
	n, err = third.Recover(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRecover_WithoutJournal(t *testing.T) {
	f := newFixture(t, testConfig())
	n, err := f.engine.Recover(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
