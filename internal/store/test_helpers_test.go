package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/catsync/internal/ir"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testRecord creates a record with minimal required fields.
func testRecord(apiKey string, targetID, parentID int64, next ir.Action) ir.IndexingRecord {
	subtype := ir.TypeSimple
	if parentID != ir.NoParent {
		subtype = ir.VariantSubtype(ir.TypeConfigurable)
	}
	return ir.IndexingRecord{
		Key: ir.RecordKey{
			EntityType:     "PRODUCT",
			APIKey:         apiKey,
			TargetID:       targetID,
			TargetParentID: parentID,
		},
		Subtype:     subtype,
		IsIndexable: true,
		NextAction:  next,
		LastAction:  ir.ActionNone,
	}
}
