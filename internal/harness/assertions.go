package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/catsync/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s", ev.Step, ev.Type, ev.Detail)
			for _, u := range ev.Updates {
				fmt.Fprintf(&buf, " %s:%s->%s", u.Key, u.From, u.To)
			}
			if ev.Error != "" {
				fmt.Fprintf(&buf, " error=%s", ev.Error)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// assertRecord checks that the record exists and matches the expected
// fields (subset semantics).
func assertRecord(result *Result, a Assertion, entityType string) error {
	key := a.Key.Key(entityType)
	rec, ok := result.Record(key)
	if !ok {
		return &AssertionError{
			Type:     AssertRecord,
			Expected: fmt.Sprintf("record %s", key),
			Actual:   "record not found",
			Trace:    result.Trace,
		}
	}

	actual := recordFieldValues(rec)
	for _, field := range sortedFields(a.Expect) {
		want := a.Expect[field]
		if !fieldEqual(want, actual[field]) {
			return &AssertionError{
				Type:     AssertRecord,
				Expected: fmt.Sprintf("%s %s = %v", key, field, want),
				Actual:   fmt.Sprintf("%s %s = %v", key, field, actual[field]),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}

func recordFieldValues(rec ir.IndexingRecord) map[string]any {
	return map[string]any{
		"next_action":  string(rec.NextAction),
		"last_action":  string(rec.LastAction),
		"is_indexable": rec.IsIndexable,
		"subtype":      rec.Subtype,
		"locked":       rec.Locked(),
	}
}

// fieldEqual compares a YAML-decoded expected value with a record field.
// Action names compare case-insensitively ("UPDATE" matches "update").
func fieldEqual(want, got any) bool {
	switch w := want.(type) {
	case string:
		g, ok := got.(string)
		if !ok {
			return false
		}
		if a, err := ir.ParseAction(w); err == nil {
			if b, err := ir.ParseAction(g); err == nil {
				return a == b
			}
		}
		return w == g
	case bool:
		g, ok := got.(bool)
		return ok && w == g
	default:
		return fmt.Sprint(want) == fmt.Sprint(got)
	}
}

func sortedFields(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// assertNoRecord checks that no record exists at the key.
func assertNoRecord(result *Result, a Assertion, entityType string) error {
	key := a.Key.Key(entityType)
	if rec, ok := result.Record(key); ok {
		return &AssertionError{
			Type:     AssertNoRecord,
			Expected: fmt.Sprintf("no record %s", key),
			Actual:   fmt.Sprintf("record with next_action=%s", rec.NextAction),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertRecordCount checks the number of final records.
func assertRecordCount(result *Result, a Assertion) error {
	if len(result.Records) != a.Count {
		return &AssertionError{
			Type:     AssertRecordCount,
			Expected: fmt.Sprintf("%d records", a.Count),
			Actual:   fmt.Sprintf("%d records", len(result.Records)),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertUpdate checks that some step moved the key to the action.
func assertUpdate(result *Result, a Assertion, entityType string) error {
	key := a.Key.Key(entityType).String()
	for _, ev := range result.Trace {
		for _, u := range ev.Updates {
			if u.Key == key && u.To == a.Action {
				return nil
			}
		}
	}
	return &AssertionError{
		Type:     AssertUpdate,
		Expected: fmt.Sprintf("update of %s to %s", key, a.Action),
		Actual:   "not found in trace",
		Trace:    result.Trace,
	}
}

// assertUpdateCount checks the total number of persisted updates.
func assertUpdateCount(result *Result, a Assertion) error {
	count := 0
	for _, ev := range result.Trace {
		count += len(ev.Updates)
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertUpdateCount,
			Expected: fmt.Sprintf("%d updates", a.Count),
			Actual:   fmt.Sprintf("%d updates", count),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertKeyListed checks that some step listed the key as a conflict or
// as deferred.
func assertKeyListed(result *Result, a Assertion, entityType string) error {
	key := a.Key.Key(entityType).String()
	for _, ev := range result.Trace {
		list := ev.Conflicts
		if a.Type == AssertDeferred {
			list = ev.Deferred
		}
		if slices.Contains(list, key) {
			return nil
		}
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s reported for %s", a.Type, key),
		Actual:   "not found in trace",
		Trace:    result.Trace,
	}
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, entityType string) []string {
	var errors []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertRecord:
			err = assertRecord(result, a, entityType)
		case AssertNoRecord:
			err = assertNoRecord(result, a, entityType)
		case AssertRecordCount:
			err = assertRecordCount(result, a)
		case AssertUpdate:
			err = assertUpdate(result, a, entityType)
		case AssertUpdateCount:
			err = assertUpdateCount(result, a)
		case AssertConflict, AssertDeferred:
			err = assertKeyListed(result, a, entityType)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
