package ir

import (
	"fmt"
	"strings"
)

// Action is the synchronization action queued for an indexing record.
//
// Actions are NOT ordered. Transitions between them are table-driven
// (see engine.Transition), never comparison-driven.
type Action string

const (
	ActionNone   Action = "no_action"
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// AllActions lists every valid action in a stable order.
var AllActions = []Action{ActionNone, ActionAdd, ActionUpdate, ActionDelete}

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionNone, ActionAdd, ActionUpdate, ActionDelete:
		return true
	default:
		return false
	}
}

// Pending reports whether the action requires work from the dispatcher.
func (a Action) Pending() bool {
	return a != ActionNone && a != ""
}

// ParseAction converts a string to an Action.
// Accepts upper or lower case ("ADD", "add"); the empty string maps to ActionNone.
func ParseAction(s string) (Action, error) {
	if s == "" {
		return ActionNone, nil
	}
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("unknown action %q: must be one of no_action, add, update, delete", s)
	}
	return a, nil
}

// ValidationError represents a validation error with field path and message.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks an IndexingRecord against the record schema.
// Returns all errors (not fail-fast) so callers can report every problem at once.
func (r *IndexingRecord) Validate() []ValidationError {
	var errs []ValidationError

	if r.Key.EntityType == "" {
		errs = append(errs, ValidationError{Field: "entity_type", Message: "entity type is required"})
	}
	if r.Key.APIKey == "" {
		errs = append(errs, ValidationError{Field: "api_key", Message: "api key is required"})
	}
	if r.Key.TargetID <= 0 {
		errs = append(errs, ValidationError{
			Field:   "target_id",
			Message: fmt.Sprintf("target id must be positive, got %d", r.Key.TargetID),
		})
	}
	if r.Key.TargetParentID < 0 {
		errs = append(errs, ValidationError{
			Field:   "target_parent_id",
			Message: fmt.Sprintf("target parent id must be positive or 0 (none), got %d", r.Key.TargetParentID),
		})
	}
	if r.Key.TargetParentID != NoParent && r.Key.TargetParentID == r.Key.TargetID {
		errs = append(errs, ValidationError{Field: "target_parent_id", Message: "an entity cannot be its own parent"})
	}
	if !r.NextAction.Valid() {
		errs = append(errs, ValidationError{Field: "next_action", Message: fmt.Sprintf("invalid action %q", r.NextAction)})
	}
	if !r.LastAction.Valid() {
		errs = append(errs, ValidationError{Field: "last_action", Message: fmt.Sprintf("invalid action %q", r.LastAction)})
	}

	return errs
}
