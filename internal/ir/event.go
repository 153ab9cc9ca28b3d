package ir

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// EventKind is the kind of change notification submitted to the engine.
type EventKind string

const (
	EventSaved               EventKind = "saved"
	EventDeleted             EventKind = "deleted"
	EventAttributeSetChanged EventKind = "attribute_set_changed"
	EventStockChanged        EventKind = "stock_changed"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventSaved, EventDeleted, EventAttributeSetChanged, EventStockChanged:
		return true
	default:
		return false
	}
}

// ChangeEvent is a single change notification.
//
// ParentID names a parent context when the producer already knows it;
// otherwise parents are resolved. StoreIDs narrows the stores evaluated;
// empty means every store of every API key.
type ChangeEvent struct {
	ID                string    `json:"id,omitempty" yaml:"id,omitempty"`
	Kind              EventKind `json:"kind" yaml:"kind"`
	EntityID          int64     `json:"entity_id" yaml:"entity_id"`
	ParentID          int64     `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	ChangedAttributes []string  `json:"changed_attributes,omitempty" yaml:"changed_attributes,omitempty"`
	StoreIDs          []int64   `json:"store_ids,omitempty" yaml:"store_ids,omitempty"`
	OccurredAt        time.Time `json:"occurred_at,omitempty" yaml:"occurred_at,omitempty"`
}

// Validate checks the event shape. Returns all errors, not fail-fast.
func (e *ChangeEvent) Validate() []ValidationError {
	var errs []ValidationError
	if !e.Kind.Valid() {
		errs = append(errs, ValidationError{
			Field:   "kind",
			Message: fmt.Sprintf("unknown event kind %q", e.Kind),
		})
	}
	if e.EntityID <= 0 {
		errs = append(errs, ValidationError{
			Field:   "entity_id",
			Message: fmt.Sprintf("entity id must be positive, got %d", e.EntityID),
		})
	}
	if e.ParentID < 0 {
		errs = append(errs, ValidationError{Field: "parent_id", Message: "parent id must not be negative"})
	}
	if e.ParentID != 0 && e.ParentID == e.EntityID {
		errs = append(errs, ValidationError{Field: "parent_id", Message: "an entity cannot be its own parent"})
	}
	for i, id := range e.StoreIDs {
		if id < 0 {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("store_ids[%d]", i),
				Message: "store id must not be negative",
			})
		}
	}
	if e.Kind == EventDeleted && len(e.ChangedAttributes) > 0 {
		errs = append(errs, ValidationError{
			Field:   "changed_attributes",
			Message: "deletion events carry no attribute codes",
		})
	}
	return errs
}

// Canonical returns the event as a canonical-JSON-ready object.
// The ID field is excluded: it is derived from this content.
// Attribute codes and store ids are sorted so delivery order does not matter.
func (e *ChangeEvent) Canonical() map[string]any {
	attrs := make([]string, 0, len(e.ChangedAttributes))
	for _, a := range e.ChangedAttributes {
		attrs = append(attrs, strings.ToLower(strings.TrimSpace(a)))
	}
	slices.Sort(attrs)
	attrs = slices.Compact(attrs)

	stores := slices.Clone(e.StoreIDs)
	if stores == nil {
		stores = []int64{}
	}
	slices.Sort(stores)
	stores = slices.Compact(stores)

	obj := map[string]any{
		"kind":               string(e.Kind),
		"entity_id":          e.EntityID,
		"parent_id":          e.ParentID,
		"changed_attributes": attrs,
		"store_ids":          stores,
	}
	if !e.OccurredAt.IsZero() {
		obj["occurred_at"] = e.OccurredAt.UTC().Format(time.RFC3339Nano)
	}
	return obj
}
