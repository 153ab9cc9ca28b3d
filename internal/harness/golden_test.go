package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/catsync/internal/ir"
)

func TestRunWithGolden_PriceChange(t *testing.T) {
	scenario, err := LoadScenario("../../testdata/scenarios/price_change_updates.yaml")
	require.NoError(t, err)

	// To regenerate:
	//   go test ./internal/harness -run TestRunWithGolden_PriceChange -update
	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestSnapshot_Marshal(t *testing.T) {
	result := testResult()
	at := BaseTime
	result.Records[0].LastActionAt = &at
	result.Records[0].LockedAt = &at

	data, err := NewSnapshot("marshal", result).Marshal()
	require.NoError(t, err)
	s := string(data)

	// Keys are sorted and timestamps are left out.
	assert.Contains(t, s, `{"records":[{"is_indexable":true,"key":"PRODUCT/default/10/0","last_action":"add","locked":true,"next_action":"update","subtype":"configurable"}`)
	assert.Contains(t, s, `"scenario_name":"marshal"`)
	assert.Contains(t, s, `"conflicts":["PRODUCT/default/13/10"]`)
	assert.Contains(t, s, `"deferred":["PRODUCT/default/12/10"]`)
	assert.Contains(t, s, `"error":"conflict"`)
	assert.NotContains(t, s, "2026")
	assert.NotContains(t, s, "created")
}

func TestSnapshot_MarshalOmitsEmpty(t *testing.T) {
	r := NewResult()
	r.AddTrace(TraceEvent{Step: 0, Type: StepRemove, Detail: "entity 5"})

	data, err := NewSnapshot("empty", r).Marshal()
	require.NoError(t, err)
	assert.Equal(t, `{"records":[],"scenario_name":"empty","trace":[{"detail":"entity 5","step":0,"type":"remove"}]}`, string(data))
}

func TestSnapshot_Deterministic(t *testing.T) {
	scenario := &Scenario{
		Name:        "golden_determinism",
		Description: "an update and a discard",
		Catalog:     testCatalog(),
		Records: []RecordSpec{
			{KeySpec: KeySpec{Target: 5}, Subtype: ir.TypeSimple, Indexable: true, Next: ir.ActionAdd},
		},
		Steps: []Step{
			{Event: &ir.ChangeEvent{Kind: ir.EventSaved, EntityID: 5, ChangedAttributes: []string{"price"}}},
			{Remove: 5},
			{Event: &ir.ChangeEvent{Kind: ir.EventDeleted, EntityID: 5}},
		},
		Assertions: []Assertion{
			{Type: AssertRecord, Key: &KeySpec{Target: 5}, Expect: map[string]any{"next_action": "no_action", "is_indexable": false}},
		},
	}

	// Write the first run as the golden file in a temp dir, then compare
	// the second run against it.
	dir := t.TempDir()
	g := goldie.New(t,
		goldie.WithFixtureDir(dir),
		goldie.WithNameSuffix(".golden"),
	)

	first, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, first.Pass, "errors: %v", first.Errors)
	data, err := NewSnapshot(scenario.Name, first).Marshal()
	require.NoError(t, err)
	require.NoError(t, g.Update(t, scenario.Name, data))

	second, err := Run(scenario)
	require.NoError(t, err)
	data, err = NewSnapshot(scenario.Name, second).Marshal()
	require.NoError(t, err)
	g.Assert(t, scenario.Name, data)

	saved, err := os.ReadFile(filepath.Join(dir, scenario.Name+".golden"))
	require.NoError(t, err)
	assert.Contains(t, string(saved), `"discarded":true`)
}
