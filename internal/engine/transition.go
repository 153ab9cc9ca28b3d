package engine

import "github.com/roach88/catsync/internal/ir"

// TransitionInput is the state the action state machine decides from.
type TransitionInput struct {
	Next            ir.Action    // current next action
	Last            ir.Action    // last dispatched action
	IndexableBefore bool         // persisted is_indexable
	IndexableAfter  bool         // freshly evaluated indexability
	Changed         ir.AspectSet // aspects touched by the change
	Watched         ir.AspectSet // aspects that trigger an update
}

// missingRecordInput is the state of a record that does not exist yet.
// Creation then follows the same table: indexable -> add, else no_action.
func missingRecordInput() TransitionInput {
	return TransitionInput{Next: ir.ActionNone, Last: ir.ActionNone}
}

// Transition computes the next action of a record. The first matching
// rule wins; rule 3 is checked before rule 2.
//
//  1. indexable true -> false: no_action. Loss of indexability never
//     queues a delete.
//  2. indexable false -> true: add.
//  3. next == delete and indexable after: update. A pending delete is
//     superseded; the record is not deleted and re-added, even when it
//     had also lost indexability in between.
//  4. next == add: add. Not synced yet, nothing to escalate.
//  5. indexable after and the change touches a watched aspect (or all
//     is changed or watched): update. A record that is not indexable has
//     nothing downstream to update. An empty change matches nothing, even
//     when all is watched, so a re-evaluation without an event only moves
//     indexability.
//  6. otherwise next is unchanged.
//
// Transition is pure and safe for concurrent use.
func Transition(in TransitionInput) ir.Action {
	next := in.Next
	if next == "" {
		next = ir.ActionNone
	}

	switch {
	case in.IndexableBefore && !in.IndexableAfter: // 1
		return ir.ActionNone
	case next == ir.ActionDelete && in.IndexableAfter: // 3
		return ir.ActionUpdate
	case !in.IndexableBefore && in.IndexableAfter: // 2
		return ir.ActionAdd
	case next == ir.ActionAdd: // 4
		return ir.ActionAdd
	case in.IndexableAfter && AspectsMatch(in.Changed, in.Watched): // 5
		return ir.ActionUpdate
	default: // 6
		return next
	}
}

// AspectsMatch reports whether a change is relevant to sync.
// An empty change set never matches, even when all is watched.
func AspectsMatch(changed, watched ir.AspectSet) bool {
	if changed.Empty() {
		return false
	}
	if changed.Has(ir.AspectAll) || watched.Has(ir.AspectAll) {
		return true
	}
	return changed.Intersects(watched)
}

// TransitionDeleted computes the action for a record whose entity was
// deleted. Aspects are not evaluated.
//
// A record that is indexable and was synced before queues a delete. Any
// other record is discarded: its next action becomes no_action because
// nothing exists downstream to remove. That includes a synced record that
// lost indexability earlier; rule 1 of Transition left its document in the
// index and no delete is queued for it here either.
func TransitionDeleted(rec ir.IndexingRecord) (action ir.Action, discard bool) {
	last := rec.LastAction
	if last == "" {
		last = ir.ActionNone
	}
	if rec.IsIndexable && last != ir.ActionNone {
		return ir.ActionDelete, false
	}
	return ir.ActionNone, true
}
