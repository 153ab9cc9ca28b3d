package harness

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioDir = "../../testdata/scenarios"

// TestScenarios runs every scenario under testdata/scenarios. They are the
// end-to-end regression suite for the engine.
func TestScenarios(t *testing.T) {
	paths, err := FindScenarios(scenarioDir)
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err, "failed to load scenario from %s", path)
			assert.Equal(t, name, scenario.Name, "scenario name should match file name")

			result, err := Run(scenario)
			require.NoError(t, err, "scenario execution failed")
			require.NotNil(t, result)

			assert.True(t, result.Pass, "scenario should pass: errors=%v", result.Errors)
			assert.Empty(t, result.Violations)
			assert.Len(t, result.Trace, len(scenario.Steps))
		})
	}
}

func TestScenariosReplay(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join(scenarioDir, "configurable_variant_edit.yaml"))
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace, "traces should be identical across runs")
	assert.Equal(t, first.Records, second.Records)
}

func TestRunSuite(t *testing.T) {
	paths, err := FindScenarios(scenarioDir)
	require.NoError(t, err)

	res := RunSuite(context.Background(), paths)
	assert.Equal(t, len(paths), res.Total)
	assert.Equal(t, res.Total, res.Passed, "failures: %+v", res.Failures)
	assert.Zero(t, res.Failed)
}

func TestRunSuite_LoadFailure(t *testing.T) {
	path := writeScenario(t, "name: broken")

	res := RunSuite(context.Background(), []string{path})
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "test.yaml", res.Failures[0].Scenario)
	assert.Contains(t, res.Failures[0].Errors[0], "failed to load scenario")
}

func TestFindScenarios(t *testing.T) {
	paths, err := FindScenarios(scenarioDir)
	require.NoError(t, err)
	for i := 1; i < len(paths); i++ {
		assert.Less(t, paths[i-1], paths[i])
	}

	single := filepath.Join(scenarioDir, "dispatch_cycle.yaml")
	paths, err = FindScenarios(single)
	require.NoError(t, err)
	assert.Equal(t, []string{single}, paths)

	_, err = FindScenarios("/nonexistent")
	assert.Error(t, err)
}
