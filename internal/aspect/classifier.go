package aspect

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/catsync/internal/ir"
)

// Mapping is one attributeCode -> Aspect entry.
type Mapping struct {
	Code   string    `json:"code" yaml:"code"`
	Aspect ir.Aspect `json:"aspect" yaml:"aspect"`
}

// defaultMappings is the code-derived table. Order is significant: it is
// the order of the watch list.
var defaultMappings = []Mapping{
	{"price", ir.AspectPrice},
	{"special_price", ir.AspectPrice},
	{"special_from_date", ir.AspectPrice},
	{"special_to_date", ir.AspectPrice},
	{"tier_price", ir.AspectPrice},
	{"msrp", ir.AspectPrice},
	{"quantity_and_stock_status", ir.AspectStock},
	{"qty", ir.AspectStock},
	{"is_in_stock", ir.AspectStock},
	{"status", ir.AspectVisibility},
	{"visibility", ir.AspectVisibility},
	{"category_ids", ir.AspectCategories},
	{"name", ir.AspectAttributes},
	{"sku", ir.AspectAttributes},
	{"description", ir.AspectAttributes},
	{"short_description", ir.AspectAttributes},
	{"url_key", ir.AspectAttributes},
	{"image", ir.AspectAttributes},
	{"small_image", ir.AspectAttributes},
	{"thumbnail", ir.AspectAttributes},
	{"meta_title", ir.AspectAttributes},
	{"meta_description", ir.AspectAttributes},
	{"meta_keyword", ir.AspectAttributes},
	{"updated_at", ir.AspectNone},
	{"created_at", ir.AspectNone},
	{"has_options", ir.AspectNone},
	{"required_options", ir.AspectNone},
}

// Defaults returns a copy of the default mapping table.
func Defaults() []Mapping {
	out := make([]Mapping, len(defaultMappings))
	copy(out, defaultMappings)
	return out
}

// NormalizeCode folds an attribute code for lookup.
// A Caser is stateful, so each call builds its own.
func NormalizeCode(code string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(code)))
}

// Classifier maps attribute codes to aspects.
type Classifier struct {
	order   []string
	aspects map[string]ir.Aspect
}

// New builds a Classifier from the defaults merged with overrides.
//
// Overrides win on key collision. A colliding code keeps its default
// position; new codes are appended in override order. Blank codes and
// unknown aspects are rejected.
func New(overrides []Mapping) (*Classifier, error) {
	c := &Classifier{
		order:   make([]string, 0, len(defaultMappings)+len(overrides)),
		aspects: make(map[string]ir.Aspect, len(defaultMappings)+len(overrides)),
	}
	for _, m := range defaultMappings {
		c.set(m.Code, m.Aspect)
	}
	for i, m := range overrides {
		code := NormalizeCode(m.Code)
		if code == "" {
			return nil, fmt.Errorf("aspect override[%d]: code is required", i)
		}
		if !m.Aspect.Valid() {
			return nil, fmt.Errorf("aspect override[%d] %q: unknown aspect %q", i, m.Code, m.Aspect)
		}
		c.set(code, m.Aspect)
	}
	return c, nil
}

// MustNew is like New but panics on error.
// Use only in tests or with overrides known to be valid.
func MustNew(overrides []Mapping) *Classifier {
	c, err := New(overrides)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Classifier) set(code string, a ir.Aspect) {
	code = NormalizeCode(code)
	if _, exists := c.aspects[code]; !exists {
		c.order = append(c.order, code)
	}
	c.aspects[code] = a
}

// Lookup returns the aspect mapped to code. Unmapped codes report false.
func (c *Classifier) Lookup(code string) (ir.Aspect, bool) {
	a, ok := c.aspects[NormalizeCode(code)]
	return a, ok
}

// Classify returns the union of aspects for the changed codes.
// Unknown and none-mapped codes contribute nothing; an empty input yields
// an empty set.
func (c *Classifier) Classify(codes []string) ir.AspectSet {
	var set ir.AspectSet
	for _, code := range codes {
		if a, ok := c.Lookup(code); ok {
			set = set.Add(a)
		}
	}
	return set
}

// ForEvent classifies the event's codes and adds the aspects its kind
// implies: stock changes always touch STOCK, attribute-set membership
// changes always touch ATTRIBUTES. Deletions are never classified.
func (c *Classifier) ForEvent(ev *ir.ChangeEvent) ir.AspectSet {
	switch ev.Kind {
	case ir.EventDeleted:
		return 0
	case ir.EventStockChanged:
		return c.Classify(ev.ChangedAttributes).Add(ir.AspectStock)
	case ir.EventAttributeSetChanged:
		return c.Classify(ev.ChangedAttributes).Add(ir.AspectAttributes)
	default:
		return c.Classify(ev.ChangedAttributes)
	}
}

// WatchList returns every mapped code, none-mapped ones included, in
// mapping order.
func (c *Classifier) WatchList() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Mappings returns the merged table in mapping order.
func (c *Classifier) Mappings() []Mapping {
	out := make([]Mapping, 0, len(c.order))
	for _, code := range c.order {
		out = append(out, Mapping{Code: code, Aspect: c.aspects[code]})
	}
	return out
}

// TouchesStock reports whether the aspect set can change a stock verdict.
func TouchesStock(set ir.AspectSet) bool {
	return set.Has(ir.AspectStock) || set.Has(ir.AspectAll)
}
