package catalog

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/catsync/internal/ir"
	"github.com/roach88/catsync/internal/parents"
)

// Snapshot is the YAML form of a catalog.
type Snapshot struct {
	// Stores lists the storefront views. Store ids referenced by entities
	// but missing here are still valid memberships.
	Stores []ir.Store `yaml:"stores"`

	// Entities lists the sellable items.
	Entities []ir.Entity `yaml:"entities"`

	// Relations lists parent -> children links per relation kind.
	Relations []Relation `yaml:"relations,omitempty"`

	// Stock lists stock registry entries. Entities without an entry fall
	// back to their stock item flag, and to in-stock without one.
	Stock []StockEntry `yaml:"stock,omitempty"`
}

// Relation links a parent to its children under one relation kind.
type Relation struct {
	Kind     string  `yaml:"kind"`
	Parent   int64   `yaml:"parent"`
	Children []int64 `yaml:"children"`
}

// StockEntry is one stock registry row.
type StockEntry struct {
	EntityID int64 `yaml:"entity_id"`
	ScopeID  int64 `yaml:"scope_id"`
	InStock  bool  `yaml:"in_stock"`
}

// Load reads and parses a snapshot file.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or fails validation.
func Load(path string) (*Catalog, error) {
	snap, err := ReadSnapshot(path)
	if err != nil {
		return nil, err
	}
	c, err := New(snap)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a snapshot from r and builds a Catalog.
func Parse(r io.Reader) (*Catalog, error) {
	snap, err := DecodeSnapshot(r)
	if err != nil {
		return nil, err
	}
	return New(snap)
}

// ReadSnapshot reads a snapshot file without validating it.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read catalog file: %w", err)
	}
	snap, err := DecodeSnapshot(bytes.NewReader(data))
	if err != nil {
		return Snapshot{}, fmt.Errorf("%s: %w", path, err)
	}
	return snap, nil
}

// DecodeSnapshot decodes YAML from r. Unknown fields are rejected.
func DecodeSnapshot(r io.Reader) (Snapshot, error) {
	var snap Snapshot
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&snap); err != nil && err != io.EOF {
		return Snapshot{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return snap, nil
}

// Validate checks the snapshot. Returns all errors, not fail-fast.
func (s *Snapshot) Validate() []ir.ValidationError {
	var errs []ir.ValidationError

	storeIDs := make(map[int64]bool, len(s.Stores))
	for i, st := range s.Stores {
		field := fmt.Sprintf("stores[%d]", i)
		if st.ID < 0 {
			errs = append(errs, ir.ValidationError{Field: field + ".id", Message: "store id must not be negative"})
		}
		if storeIDs[st.ID] {
			errs = append(errs, ir.ValidationError{Field: field + ".id", Message: fmt.Sprintf("duplicate store %d", st.ID)})
		}
		storeIDs[st.ID] = true
	}

	entityIDs := make(map[int64]bool, len(s.Entities))
	for i, e := range s.Entities {
		field := fmt.Sprintf("entities[%d]", i)
		if e.ID <= 0 {
			errs = append(errs, ir.ValidationError{Field: field + ".id", Message: fmt.Sprintf("entity id must be positive, got %d", e.ID)})
		}
		if entityIDs[e.ID] {
			errs = append(errs, ir.ValidationError{Field: field + ".id", Message: fmt.Sprintf("duplicate entity %d", e.ID)})
		}
		entityIDs[e.ID] = true
		if e.TypeID == "" {
			errs = append(errs, ir.ValidationError{Field: field + ".type_id", Message: "type id is required"})
		}
		switch e.Visibility {
		case "", ir.VisibilityNotVisible, ir.VisibilityCatalog, ir.VisibilitySearch, ir.VisibilityBoth:
		default:
			errs = append(errs, ir.ValidationError{Field: field + ".visibility", Message: fmt.Sprintf("unknown visibility %q", e.Visibility)})
		}
	}

	for i, rel := range s.Relations {
		field := fmt.Sprintf("relations[%d]", i)
		if _, err := parents.ParseKind(rel.Kind); err != nil {
			errs = append(errs, ir.ValidationError{Field: field + ".kind", Message: err.Error()})
		}
		if rel.Parent <= 0 {
			errs = append(errs, ir.ValidationError{Field: field + ".parent", Message: "parent id must be positive"})
		}
		for j, child := range rel.Children {
			if child <= 0 || child == rel.Parent {
				errs = append(errs, ir.ValidationError{
					Field:   fmt.Sprintf("%s.children[%d]", field, j),
					Message: fmt.Sprintf("invalid child id %d", child),
				})
			}
		}
	}

	for i, st := range s.Stock {
		if st.EntityID <= 0 {
			errs = append(errs, ir.ValidationError{
				Field:   fmt.Sprintf("stock[%d].entity_id", i),
				Message: "entity id must be positive",
			})
		}
	}
	return errs
}
