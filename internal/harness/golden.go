package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/catsync/internal/ir"
)

// Snapshot captures the trace and final records of a scenario execution.
// It serializes to canonical JSON for deterministic comparison.
type Snapshot struct {
	ScenarioName string              `json:"scenario_name"`
	Trace        []TraceEvent        `json:"trace"`
	Records      []ir.IndexingRecord `json:"records"`
}

// NewSnapshot builds the snapshot of a result.
func NewSnapshot(name string, result *Result) Snapshot {
	return Snapshot{ScenarioName: name, Trace: result.Trace, Records: result.Records}
}

// Marshal renders the snapshot as canonical JSON. Timestamps are left out:
// records are compared by state, not by when a dispatcher touched them.
func (s Snapshot) Marshal() ([]byte, error) {
	return ir.MarshalCanonical(s.toCanonicalMap())
}

// toCanonicalMap converts the snapshot for ir.MarshalCanonical, which only
// handles maps, slices and primitives.
func (s Snapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"step":   ev.Step,
			"type":   ev.Type,
			"detail": ev.Detail,
		}
		if ev.Seq != 0 {
			m["seq"] = ev.Seq
		}
		if len(ev.Updates) > 0 {
			updates := make([]any, len(ev.Updates))
			for j, u := range ev.Updates {
				um := map[string]any{
					"key":       u.Key,
					"from":      string(u.From),
					"to":        string(u.To),
					"indexable": u.Indexable,
				}
				if u.Created {
					um["created"] = true
				}
				if u.Discarded {
					um["discarded"] = true
				}
				updates[j] = um
			}
			m["updates"] = updates
		}
		if len(ev.Deferred) > 0 {
			m["deferred"] = ev.Deferred
		}
		if len(ev.Conflicts) > 0 {
			m["conflicts"] = ev.Conflicts
		}
		if ev.Error != "" {
			m["error"] = ev.Error
		}
		trace[i] = m
	}

	records := make([]any, len(s.Records))
	for i, rec := range s.Records {
		records[i] = map[string]any{
			"key":          rec.Key.String(),
			"subtype":      rec.Subtype,
			"is_indexable": rec.IsIndexable,
			"next_action":  string(rec.NextAction),
			"last_action":  string(rec.LastAction),
			"locked":       rec.Locked(),
		}
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
		"records":       records,
	}
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares a result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := NewSnapshot(scenarioName, result).Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
