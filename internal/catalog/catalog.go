package catalog

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/catsync/internal/ir"
	"github.com/roach88/catsync/internal/parents"
)

type stockKey struct {
	entityID int64
	scopeID  int64
}

// Catalog is an in-memory system of record. Safe for concurrent use;
// the mutators let scenarios change the catalog between events.
type Catalog struct {
	mu        sync.RWMutex
	stores    map[int64]ir.Store
	entities  map[int64]ir.Entity
	relations map[parents.Kind]map[int64][]int64 // kind -> child -> parents
	registry  map[stockKey]bool
}

// New builds a Catalog from a snapshot.
func New(snap Snapshot) (*Catalog, error) {
	if errs := snap.Validate(); len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, e.Error())
		}
		return nil, fmt.Errorf("invalid catalog: %s", strings.Join(msgs, "; "))
	}

	c := &Catalog{
		stores:    make(map[int64]ir.Store, len(snap.Stores)),
		entities:  make(map[int64]ir.Entity, len(snap.Entities)),
		relations: make(map[parents.Kind]map[int64][]int64),
		registry:  make(map[stockKey]bool, len(snap.Stock)),
	}
	for _, s := range snap.Stores {
		c.stores[s.ID] = s
	}
	for _, e := range snap.Entities {
		c.entities[e.ID] = normalize(e)
	}
	for _, rel := range snap.Relations {
		kind, _ := parents.ParseKind(rel.Kind)
		c.link(kind, rel.Parent, rel.Children...)
	}
	for _, st := range snap.Stock {
		c.registry[stockKey{st.EntityID, st.ScopeID}] = st.InStock
	}
	return c, nil
}

// normalize fills defaults: an unset visibility is searchable everywhere.
func normalize(e ir.Entity) ir.Entity {
	if e.Visibility == "" {
		e.Visibility = ir.VisibilityBoth
	}
	e.StoreIDs = slices.Clone(e.StoreIDs)
	return e
}

func (c *Catalog) link(kind parents.Kind, parent int64, children ...int64) {
	byChild := c.relations[kind]
	if byChild == nil {
		byChild = make(map[int64][]int64)
		c.relations[kind] = byChild
	}
	for _, child := range children {
		if !slices.Contains(byChild[child], parent) {
			byChild[child] = append(byChild[child], parent)
		}
	}
}

// Stores returns the known stores ordered by id.
func (c *Catalog) Stores() []ir.Store {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ir.Store, 0, len(c.stores))
	for _, s := range c.stores {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b ir.Store) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Store returns one store.
func (c *Catalog) Store(id int64) (ir.Store, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.stores[id]
	return s, ok
}

// Entity returns one entity.
func (c *Catalog) Entity(id int64) (ir.Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entities[id]
	return e, ok
}

// Put adds or replaces an entity.
func (c *Catalog) Put(e ir.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entities[e.ID] = normalize(e)
}

// Remove deletes an entity. Its relations and stock rows are kept, the way
// a system of record may briefly still reference a deleted row.
func (c *Catalog) Remove(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entities, id)
}

// Link adds parent -> children relations of a kind.
func (c *Catalog) Link(kind parents.Kind, parent int64, children ...int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.link(kind, parent, children...)
}

// SetStock sets a stock registry row.
func (c *Catalog) SetStock(entityID, scopeID int64, inStock bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registry[stockKey{entityID, scopeID}] = inStock
}

// Entities implements the engine and parent resolver entity lookups.
func (c *Catalog) Entities(_ context.Context, ids []int64) (map[int64]ir.Entity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[int64]ir.Entity, len(ids))
	for _, id := range ids {
		if e, ok := c.entities[id]; ok {
			out[id] = e
		}
	}
	return out, nil
}

// ByChild implements parents.Lookup.
func (c *Catalog) ByChild(_ context.Context, kind parents.Kind, childIDs []int64) (map[int64][]int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[int64][]int64, len(childIDs))
	byChild := c.relations[kind]
	for _, id := range childIDs {
		if ps := byChild[id]; len(ps) > 0 {
			out[id] = slices.Clone(ps)
		}
	}
	return out, nil
}

// StockItemFlag implements stock.Source.
func (c *Catalog) StockItemFlag(e ir.Entity) (inStock, present bool) {
	if e.StockItem == nil {
		return false, false
	}
	return e.StockItem.InStock, true
}

// RegistryStatus implements stock.Source. Without a registry row the
// entity's stock item flag is used; without either the entity is in stock.
func (c *Catalog) RegistryStatus(_ context.Context, entityID, scopeID int64) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.registry[stockKey{entityID, scopeID}]; ok {
		return v, nil
	}
	if e, ok := c.entities[entityID]; ok && e.StockItem != nil {
		return e.StockItem.InStock, nil
	}
	return true, nil
}

// IsIndexable implements engine.IndexabilityDeterminer.
//
// An entity is indexable in a store when it is enabled and assigned to the
// store. Standalone records also need a searchable visibility; variant
// records do not, since variants are usually hidden on their own.
func (c *Catalog) IsIndexable(_ context.Context, e ir.Entity, s ir.Store, subtype string) (bool, error) {
	if !e.Enabled || !e.InStore(s.ID) {
		return false, nil
	}
	if strings.HasSuffix(subtype, ir.VariantSuffix) {
		return true, nil
	}
	return e.Visibility.Searchable(), nil
}
