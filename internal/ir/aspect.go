package ir

import (
	"fmt"
	"strings"
)

// Aspect is a semantic category of change used to decide whether an
// attribute edit matters for synchronization.
type Aspect string

const (
	AspectNone       Aspect = "none"
	AspectAttributes Aspect = "attributes"
	AspectPrice      Aspect = "price"
	AspectStock      Aspect = "stock"
	AspectVisibility Aspect = "visibility"
	AspectCategories Aspect = "categories"
	AspectRelations  Aspect = "relations"
	AspectAll        Aspect = "all"
)

// aspectBits assigns each storable aspect a bit. AspectNone has no bit:
// it matches no change and is never a member of an AspectSet.
var aspectBits = map[Aspect]AspectSet{
	AspectAttributes: 1 << 0,
	AspectPrice:      1 << 1,
	AspectStock:      1 << 2,
	AspectVisibility: 1 << 3,
	AspectCategories: 1 << 4,
	AspectRelations:  1 << 5,
	AspectAll:        1 << 6,
}

// aspectOrder is the stable iteration order for AspectSet.Slice.
var aspectOrder = []Aspect{
	AspectAttributes,
	AspectPrice,
	AspectStock,
	AspectVisibility,
	AspectCategories,
	AspectRelations,
	AspectAll,
}

// Valid reports whether a is a known aspect (including none).
func (a Aspect) Valid() bool {
	if a == AspectNone {
		return true
	}
	_, ok := aspectBits[a]
	return ok
}

// ParseAspect converts a string to an Aspect, case-insensitively.
func ParseAspect(s string) (Aspect, error) {
	a := Aspect(strings.ToLower(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("unknown aspect %q", s)
	}
	return a, nil
}

// AspectSet is a set of aspects stored as a bit set.
type AspectSet uint16

// NewAspectSet builds a set from the given aspects. AspectNone is ignored.
func NewAspectSet(aspects ...Aspect) AspectSet {
	var s AspectSet
	for _, a := range aspects {
		s = s.Add(a)
	}
	return s
}

// Add returns s with a included. Adding AspectNone or an unknown aspect is a no-op.
func (s AspectSet) Add(a Aspect) AspectSet {
	return s | aspectBits[a]
}

// Has reports whether a is in s. Has(AspectNone) is always false.
func (s AspectSet) Has(a Aspect) bool {
	bit, ok := aspectBits[a]
	return ok && s&bit != 0
}

// Union returns the aspects in s or o.
func (s AspectSet) Union(o AspectSet) AspectSet {
	return s | o
}

// Intersects reports whether s and o share at least one aspect.
func (s AspectSet) Intersects(o AspectSet) bool {
	return s&o != 0
}

// Empty reports whether s holds no aspect.
func (s AspectSet) Empty() bool {
	return s == 0
}

// Slice returns the members of s in a stable order.
func (s AspectSet) Slice() []Aspect {
	out := make([]Aspect, 0, len(aspectOrder))
	for _, a := range aspectOrder {
		if s.Has(a) {
			out = append(out, a)
		}
	}
	return out
}

// String renders the set as "{price,stock}".
func (s AspectSet) String() string {
	parts := make([]string, 0, len(aspectOrder))
	for _, a := range s.Slice() {
		parts = append(parts, string(a))
	}
	return "{" + strings.Join(parts, ",") + "}"
}
