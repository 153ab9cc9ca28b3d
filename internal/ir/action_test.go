package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		in      string
		want    Action
		wantErr bool
	}{
		{"", ActionNone, false},
		{"no_action", ActionNone, false},
		{"NO_ACTION", ActionNone, false},
		{"ADD", ActionAdd, false},
		{" update ", ActionUpdate, false},
		{"delete", ActionDelete, false},
		{"upsert", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAction(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestActionPending(t *testing.T) {
	assert.False(t, ActionNone.Pending())
	assert.False(t, Action("").Pending())
	assert.True(t, ActionAdd.Pending())
	assert.True(t, ActionUpdate.Pending())
	assert.True(t, ActionDelete.Pending())
}

func validRecord() IndexingRecord {
	return IndexingRecord{
		Key:        RecordKey{EntityType: "PRODUCT", APIKey: "default", TargetID: 10},
		Subtype:    TypeSimple,
		NextAction: ActionAdd,
		LastAction: ActionNone,
	}
}

func TestIndexingRecordValidateOK(t *testing.T) {
	r := validRecord()
	assert.Empty(t, r.Validate())

	r.Key.TargetParentID = 5
	assert.Empty(t, r.Validate())
}

func TestIndexingRecordValidateCollectsAllErrors(t *testing.T) {
	r := IndexingRecord{
		Key:        RecordKey{TargetID: 0, TargetParentID: -1},
		NextAction: "bogus",
		LastAction: "worse",
	}

	errs := r.Validate()
	fields := make([]string, 0, len(errs))
	for _, e := range errs {
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{
		"entity_type", "api_key", "target_id", "target_parent_id", "next_action", "last_action",
	}, fields)
}

func TestIndexingRecordValidateSelfParent(t *testing.T) {
	r := validRecord()
	r.Key.TargetParentID = r.Key.TargetID

	errs := r.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, "target_parent_id", errs[0].Field)
	assert.Contains(t, errs[0].Error(), "own parent")
}
