package querysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/catsync/internal/ir"
	"github.com/roach88/catsync/internal/queryir"
)

const selectPrefix = "SELECT " + RecordColumns + " FROM indexing_records WHERE "

func TestCompileScopeOnly(t *testing.T) {
	sql, params, err := Compile(queryir.Filter{EntityType: "PRODUCT"})
	require.NoError(t, err)

	assert.Equal(t, selectPrefix+"entity_type = ? ORDER BY "+OrderBy, sql)
	assert.Equal(t, []any{"PRODUCT"}, params)
}

func TestCompileByParent(t *testing.T) {
	sql, params, err := Compile(queryir.ByParent("PRODUCT", "default", 100))
	require.NoError(t, err)

	assert.Equal(t, selectPrefix+"entity_type = ? AND api_key = ? AND target_parent_id = ? ORDER BY "+OrderBy, sql)
	assert.Equal(t, []any{"PRODUCT", "default", int64(100)}, params)
}

func TestCompilePending(t *testing.T) {
	sql, params, err := Compile(queryir.Pending("PRODUCT", "default"))
	require.NoError(t, err)

	assert.Contains(t, sql, "NOT (next_action = ?)")
	assert.Equal(t, []any{"PRODUCT", "default", "no_action"}, params)
}

func TestCompileComposite(t *testing.T) {
	f := queryir.Filter{
		EntityType: "PRODUCT",
		Where: queryir.And{Predicates: []queryir.Predicate{
			queryir.In{Field: queryir.FieldNextAction, Values: []any{ir.ActionAdd, ir.ActionUpdate}},
			queryir.Or{Predicates: []queryir.Predicate{
				queryir.Equals{Field: queryir.FieldIsIndexable, Value: true},
				queryir.Locked{Value: false},
			}},
		}},
		After: &ir.RecordKey{EntityType: "PRODUCT", APIKey: "a", TargetID: 7, TargetParentID: 2},
		Limit: 50,
	}

	sql, params, err := Compile(f)
	require.NoError(t, err)

	assert.Equal(t, selectPrefix+
		"entity_type = ? AND "+
		"(next_action IN (?, ?)) AND ((is_indexable = ?) OR (locked_at IS NULL)) AND "+
		"(api_key, target_id, target_parent_id) > (?, ?, ?) "+
		"ORDER BY "+OrderBy+" LIMIT ?", sql)
	assert.Equal(t, []any{"PRODUCT", "add", "update", int64(1), "a", int64(7), int64(2), 50}, params)
}

func TestCompileNeverInterpolates(t *testing.T) {
	sql, params, err := Compile(queryir.Filter{
		EntityType: "PRODUCT'; DROP TABLE indexing_records; --",
		Where:      queryir.Equals{Field: queryir.FieldSubtype, Value: "simple"},
	})
	require.NoError(t, err)

	assert.NotContains(t, sql, "DROP")
	assert.NotContains(t, sql, "simple")
	assert.Len(t, params, 2)
}

func TestCompileLocked(t *testing.T) {
	sql, _, err := Compile(queryir.Filter{EntityType: "PRODUCT", Where: queryir.Locked{Value: true}})
	require.NoError(t, err)
	assert.Contains(t, sql, "locked_at IS NOT NULL")
}

func TestCompileRejectsInvalid(t *testing.T) {
	_, _, err := Compile(queryir.Filter{
		Where: queryir.Equals{Field: "colour", Value: "red"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entity type is required")
	assert.Contains(t, err.Error(), `unknown field "colour"`)
}

func TestCompileOrderByAlwaysPresent(t *testing.T) {
	filters := []queryir.Filter{
		{EntityType: "PRODUCT"},
		queryir.ByParent("PRODUCT", "", 1),
		{EntityType: "PRODUCT", Limit: 1},
	}
	for _, f := range filters {
		sql, _, err := Compile(f)
		require.NoError(t, err)
		assert.Contains(t, sql, "ORDER BY "+OrderBy)
	}
}
