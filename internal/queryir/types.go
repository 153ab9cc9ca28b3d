package queryir

import (
	"github.com/roach88/catsync/internal/ir"
)

// Field names a filterable record column.
type Field string

const (
	FieldTargetID       Field = "target_id"
	FieldTargetParentID Field = "target_parent_id"
	FieldSubtype        Field = "target_entity_subtype"
	FieldIsIndexable    Field = "is_indexable"
	FieldNextAction     Field = "next_action"
	FieldLastAction     Field = "last_action"
)

// ValueKind is the type a field accepts.
type ValueKind int

const (
	KindInt ValueKind = iota
	KindString
	KindBool
)

func (k ValueKind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// fieldKinds lists every known field and the value kind it accepts.
var fieldKinds = map[Field]ValueKind{
	FieldTargetID:       KindInt,
	FieldTargetParentID: KindInt,
	FieldSubtype:        KindString,
	FieldIsIndexable:    KindBool,
	FieldNextAction:     KindString,
	FieldLastAction:     KindString,
}

// KindOf returns the value kind of a field.
func KindOf(f Field) (ValueKind, bool) {
	k, ok := fieldKinds[f]
	return k, ok
}

// Filter selects indexing records.
type Filter struct {
	EntityType string        // required
	APIKey     string        // empty = every API key
	Where      Predicate     // nil = no narrowing
	After      *ir.RecordKey // resume strictly after this key
	Limit      int           // 0 = unlimited
}

// Predicate is a filter condition. Sealed to this package.
type Predicate interface {
	predicateNode()
}

// Equals matches field = value.
type Equals struct {
	Field Field
	Value any
}

func (Equals) predicateNode() {}

// In matches field IN (values). An empty list is invalid.
type In struct {
	Field  Field
	Values []any
}

func (In) predicateNode() {}

// And matches when every predicate matches. Empty And matches all.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or matches when any predicate matches. Empty Or is invalid.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// Not negates a predicate.
type Not struct {
	Predicate Predicate
}

func (Not) predicateNode() {}

// Locked matches records whose lock state equals Value.
type Locked struct {
	Value bool
}

func (Locked) predicateNode() {}

// ByParent returns a filter for every record represented under parentID.
func ByParent(entityType, apiKey string, parentID int64) Filter {
	return Filter{
		EntityType: entityType,
		APIKey:     apiKey,
		Where:      Equals{Field: FieldTargetParentID, Value: parentID},
	}
}

// Pending returns a filter for records with a queued action.
func Pending(entityType, apiKey string) Filter {
	return Filter{
		EntityType: entityType,
		APIKey:     apiKey,
		Where: Not{Predicate: Equals{
			Field: FieldNextAction,
			Value: string(ir.ActionNone),
		}},
	}
}
