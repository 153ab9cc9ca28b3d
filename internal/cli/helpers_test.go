package cli

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/catsync/internal/ir"
	"github.com/roach88/catsync/internal/queryir"
	"github.com/roach88/catsync/internal/store"
)

var seedTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// rec builds a PRODUCT record fixture.
func rec(apiKey string, target, parent int64, subtype string, indexable bool, next, last ir.Action) ir.IndexingRecord {
	r := ir.IndexingRecord{
		Key: ir.RecordKey{
			EntityType:     "PRODUCT",
			APIKey:         apiKey,
			TargetID:       target,
			TargetParentID: parent,
		},
		Subtype:     subtype,
		IsIndexable: indexable,
		NextAction:  next,
		LastAction:  last,
	}
	if last != ir.ActionNone {
		at := seedTime
		r.LastActionAt = &at
	}
	return r
}

func locked(r ir.IndexingRecord) ir.IndexingRecord {
	at := seedTime
	r.LockedAt = &at
	return r
}

// seedDB writes records to a fresh database file and returns its path.
func seedDB(t *testing.T, records ...ir.IndexingRecord) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catsync.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Seed(context.Background(), records))
	return path
}

// readRecords returns every PRODUCT record in the database at path.
func readRecords(t *testing.T, path string) []ir.IndexingRecord {
	t.Helper()
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()
	recs, err := st.Filter(context.Background(), queryir.Filter{EntityType: "PRODUCT"})
	require.NoError(t, err)
	return recs
}

// findRecord returns the record with the given key parts.
func findRecord(t *testing.T, records []ir.IndexingRecord, apiKey string, target, parent int64) ir.IndexingRecord {
	t.Helper()
	for _, r := range records {
		if r.Key.APIKey == apiKey && r.Key.TargetID == target && r.Key.TargetParentID == parent {
			return r
		}
	}
	require.Failf(t, "record not found", "PRODUCT/%s/%d/%d", apiKey, target, parent)
	return ir.IndexingRecord{}
}
