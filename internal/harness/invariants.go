package harness

import (
	"fmt"

	"github.com/roach88/catsync/internal/ir"
)

// Invariant names.
const (
	InvariantValidRecord       = "valid_record"
	InvariantNoSilentDeletion  = "no_silent_deletion"
	InvariantNeverSyncedDelete = "never_synced_delete"
	InvariantResurrection      = "resurrection_collapses_to_update"
	InvariantAddStickiness     = "add_stickiness"
	InvariantLockRespected     = "lock_respected"
)

// Violation is an invariant broken by a step.
type Violation struct {
	Step      int    `json:"step"`
	Invariant string `json:"invariant"`
	Key       string `json:"key"`
	Message   string `json:"message"`
}

// Error implements the error interface.
func (v Violation) Error() string {
	return fmt.Sprintf("step %d: invariant %s violated for %s: %s", v.Step, v.Invariant, v.Key, v.Message)
}

// CheckUpdates checks the updates one step persisted. deletion marks a
// deletion event, which is exempt from the indexability rules.
func CheckUpdates(step int, deletion bool, updates []ir.IndexingRecordUpdate) []Violation {
	var out []Violation
	add := func(inv string, u ir.IndexingRecordUpdate, format string, args ...any) {
		out = append(out, Violation{
			Step:      step,
			Invariant: inv,
			Key:       u.After.Key.String(),
			Message:   fmt.Sprintf(format, args...),
		})
	}

	for _, u := range updates {
		after := u.After
		if after.NextAction == ir.ActionDelete && after.LastAction == ir.ActionNone {
			add(InvariantNeverSyncedDelete, u, "delete queued for a record that was never synced")
		}
		if deletion || u.Before == nil {
			continue
		}
		before := *u.Before
		if before.IsIndexable && !after.IsIndexable && after.NextAction == ir.ActionDelete {
			add(InvariantNoSilentDeletion, u, "indexability loss queued delete")
		}
		if before.NextAction == ir.ActionDelete && after.IsIndexable && after.NextAction != ir.ActionUpdate {
			add(InvariantResurrection, u, "pending delete became %s, want update", after.NextAction)
		}
		if before.NextAction == ir.ActionAdd && before.IsIndexable && after.IsIndexable && after.NextAction != ir.ActionAdd {
			add(InvariantAddStickiness, u, "pending add became %s", after.NextAction)
		}
	}
	return out
}

// CheckLocks compares record snapshots taken around an engine step.
// A record locked before the step keeps its lock and only changes its
// next action by escalating to delete.
func CheckLocks(step int, before, after []ir.IndexingRecord) []Violation {
	current := make(map[ir.RecordKey]ir.IndexingRecord, len(after))
	for _, rec := range after {
		current[rec.Key] = rec
	}

	var out []Violation
	for _, b := range before {
		if !b.Locked() {
			continue
		}
		a, ok := current[b.Key]
		if !ok {
			continue
		}
		if !a.Locked() {
			out = append(out, Violation{
				Step:      step,
				Invariant: InvariantLockRespected,
				Key:       b.Key.String(),
				Message:   "lock cleared by the engine",
			})
		}
		if a.NextAction != b.NextAction && a.NextAction != ir.ActionDelete {
			out = append(out, Violation{
				Step:      step,
				Invariant: InvariantLockRespected,
				Key:       b.Key.String(),
				Message:   fmt.Sprintf("locked record moved %s -> %s", b.NextAction, a.NextAction),
			})
		}
	}
	return out
}

// CheckRecords validates every record against the record schema.
func CheckRecords(step int, records []ir.IndexingRecord) []Violation {
	var out []Violation
	for _, rec := range records {
		for _, e := range rec.Validate() {
			out = append(out, Violation{
				Step:      step,
				Invariant: InvariantValidRecord,
				Key:       rec.Key.String(),
				Message:   e.Error(),
			})
		}
	}
	return out
}
