package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/catsync/internal/ir"
	"github.com/roach88/catsync/internal/queryir"
)

func TestUpsertInsertsAndGets(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	n, err := s.Upsert(ctx, []ir.IndexingRecord{
		testRecord("default", 20, 0, ir.ActionAdd),
		testRecord("default", 20, 100, ir.ActionAdd),
		testRecord("default", 10, 0, ir.ActionNone),
		testRecord("other", 20, 0, ir.ActionAdd),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	got, err := s.Get(ctx, "PRODUCT", "default", []int64{20, 10})
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Key order: target id, then parent id.
	assert.Equal(t, int64(10), got[0].Key.TargetID)
	assert.Equal(t, ir.RecordKey{EntityType: "PRODUCT", APIKey: "default", TargetID: 20}, got[1].Key)
	assert.Equal(t, int64(100), got[2].Key.TargetParentID)
	assert.Equal(t, "configurable_variants", got[2].Subtype)
	assert.True(t, got[1].IsIndexable)
	assert.Nil(t, got[1].LockedAt)
}

func TestGetNarrowsByParent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	_, err := s.Upsert(ctx, []ir.IndexingRecord{
		testRecord("default", 20, 0, ir.ActionAdd),
		testRecord("default", 20, 100, ir.ActionAdd),
	})
	require.NoError(t, err)

	standalone, err := s.Get(ctx, "PRODUCT", "default", []int64{20}, ir.NoParent)
	require.NoError(t, err)
	require.Len(t, standalone, 1)
	assert.True(t, standalone[0].Key.Standalone())

	none, err := s.Get(ctx, "PRODUCT", "default", nil)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestUpsertPreservesDispatcherColumns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	key := testRecord("default", 20, 0, ir.ActionAdd).Key
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.Upsert(ctx, []ir.IndexingRecord{testRecord("default", 20, 0, ir.ActionAdd)})
	require.NoError(t, err)
	require.NoError(t, s.MarkDispatched(ctx, key, at))

	// An engine write carrying stale dispatcher columns must not clobber them.
	rec := testRecord("default", 20, 0, ir.ActionUpdate)
	rec.LastAction = ir.ActionNone
	_, err = s.Upsert(ctx, []ir.IndexingRecord{rec})
	require.NoError(t, err)

	got, err := s.Get(ctx, "PRODUCT", "default", []int64{20})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ir.ActionUpdate, got[0].NextAction)
	assert.Equal(t, ir.ActionAdd, got[0].LastAction)
	require.NotNil(t, got[0].LastActionAt)
	assert.True(t, at.Equal(*got[0].LastActionAt))
}

func TestUpsertOnLockedRecordOnlyAcceptsDelete(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	rec := testRecord("default", 20, 0, ir.ActionNone)
	lock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.Upsert(ctx, []ir.IndexingRecord{rec})
	require.NoError(t, err)
	require.NoError(t, s.SetLock(ctx, rec.Key, &lock))

	rec.NextAction = ir.ActionUpdate
	n, err := s.Upsert(ctx, []ir.IndexingRecord{rec})
	require.NoError(t, err)
	assert.Zero(t, n, "non-delete write to a locked row is skipped")

	rec.NextAction = ir.ActionDelete
	n, err = s.Upsert(ctx, []ir.IndexingRecord{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(ctx, "PRODUCT", "default", []int64{20})
	require.NoError(t, err)
	assert.Equal(t, ir.ActionDelete, got[0].NextAction)
	require.NotNil(t, got[0].LockedAt, "lock is never cleared by an upsert")
	assert.True(t, lock.Equal(*got[0].LockedAt))
}

func TestUpsertRejectsInvalidRecordAtomically(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	bad := testRecord("default", 0, 0, ir.ActionAdd)
	_, err := s.Upsert(ctx, []ir.IndexingRecord{testRecord("default", 1, 0, ir.ActionAdd), bad})
	require.Error(t, err)

	n, err := s.CountRecords(ctx, "PRODUCT")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFilterPending(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	_, err := s.Upsert(ctx, []ir.IndexingRecord{
		testRecord("default", 1, 0, ir.ActionAdd),
		testRecord("default", 2, 0, ir.ActionNone),
		testRecord("default", 3, 0, ir.ActionDelete),
	})
	require.NoError(t, err)

	got, err := s.Filter(ctx, queryir.Pending("PRODUCT", "default"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].Key.TargetID)
	assert.Equal(t, int64(3), got[1].Key.TargetID)
}

func TestFilterKeysetPagination(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	var recs []ir.IndexingRecord
	for id := int64(1); id <= 5; id++ {
		recs = append(recs, testRecord("default", id, 0, ir.ActionNone))
	}
	_, err := s.Upsert(ctx, recs)
	require.NoError(t, err)

	var seen []int64
	f := queryir.Filter{EntityType: "PRODUCT", APIKey: "default", Limit: 2}
	for {
		page, err := s.Filter(ctx, f)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, r := range page {
			seen = append(seen, r.Key.TargetID)
		}
		last := page[len(page)-1].Key
		f.After = &last
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, seen)
}

func TestFilterInvalid(t *testing.T) {
	s := createTestStore(t)
	_, err := s.Filter(context.Background(), queryir.Filter{})
	require.Error(t, err)
}

func TestSeedWritesEveryColumn(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)

	rec := testRecord("default", 7, 0, ir.ActionNone)
	rec.LastAction = ir.ActionAdd
	rec.LastActionAt = &at
	rec.LockedAt = &at
	require.NoError(t, s.Seed(ctx, []ir.IndexingRecord{rec}))

	got, err := s.Get(ctx, "PRODUCT", "default", []int64{7})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ir.ActionAdd, got[0].LastAction)
	assert.True(t, got[0].Locked())
}

func TestDispatcherCallsOnMissingRecord(t *testing.T) {
	s := createTestStore(t)
	key := ir.RecordKey{EntityType: "PRODUCT", APIKey: "default", TargetID: 99}

	err := s.SetLock(context.Background(), key, nil)
	assert.True(t, errors.Is(err, ErrRecordNotFound))

	err = s.MarkDispatched(context.Background(), key, time.Now())
	assert.True(t, errors.Is(err, ErrRecordNotFound))
}
