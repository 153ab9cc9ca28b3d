package queryir

import (
	"fmt"

	"github.com/roach88/catsync/internal/ir"
)

// Validate checks a filter. Returns all errors, not fail-fast.
// Validate is a pure function with no side effects.
func Validate(f Filter) []ir.ValidationError {
	v := &validator{}
	if f.EntityType == "" {
		v.add("entity_type", "entity type is required")
	}
	if f.Limit < 0 {
		v.add("limit", "limit must not be negative, got %d", f.Limit)
	}
	if f.After != nil && f.After.EntityType != f.EntityType {
		v.add("after", "cursor entity type %q does not match filter entity type %q", f.After.EntityType, f.EntityType)
	}
	if f.Where != nil {
		v.predicate("where", f.Where)
	}
	return v.errs
}

// validator accumulates errors during traversal.
type validator struct {
	errs []ir.ValidationError
}

func (v *validator) add(path, format string, args ...any) {
	v.errs = append(v.errs, ir.ValidationError{Field: path, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) predicate(path string, p Predicate) {
	switch pred := p.(type) {
	case nil:
		v.add(path, "nil predicate")
	case Equals:
		v.value(path, pred.Field, pred.Value)
	case In:
		if len(pred.Values) == 0 {
			v.add(path, "IN over %q requires at least one value", pred.Field)
		}
		for i, val := range pred.Values {
			v.value(fmt.Sprintf("%s[%d]", path, i), pred.Field, val)
		}
	case And:
		for i, sub := range pred.Predicates {
			v.predicate(fmt.Sprintf("%s.and[%d]", path, i), sub)
		}
	case Or:
		if len(pred.Predicates) == 0 {
			v.add(path, "OR requires at least one predicate")
		}
		for i, sub := range pred.Predicates {
			v.predicate(fmt.Sprintf("%s.or[%d]", path, i), sub)
		}
	case Not:
		v.predicate(path+".not", pred.Predicate)
	case Locked:
	default:
		v.add(path, "unsupported predicate type %T", p)
	}
}

func (v *validator) value(path string, field Field, val any) {
	want, ok := KindOf(field)
	if !ok {
		v.add(path, "unknown field %q", field)
		return
	}
	got, ok := kindOfValue(val)
	if !ok {
		v.add(path, "unsupported value type %T for field %q", val, field)
		return
	}
	if got != want {
		v.add(path, "field %q expects %s, got %s", field, want, got)
	}
}

func kindOfValue(val any) (ValueKind, bool) {
	switch val.(type) {
	case int, int64:
		return KindInt, true
	case string, ir.Action:
		return KindString, true
	case bool:
		return KindBool, true
	default:
		return 0, false
	}
}
