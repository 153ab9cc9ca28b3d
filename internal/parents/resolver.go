package parents

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/catsync/internal/ir"
)

// Kind is a parent-capable relation kind.
type Kind string

const (
	KindConfigurable Kind = "configurable"
	KindBundle       Kind = "bundle"
	KindGrouped      Kind = "grouped"
)

// DefaultKinds is the default relation-kind allow-list.
var DefaultKinds = []Kind{KindConfigurable, KindBundle, KindGrouped}

// DefaultChildTypes are the entity types that can be children.
var DefaultChildTypes = []string{ir.TypeSimple, ir.TypeVirtual, ir.TypeDownloadable}

// ParseKind converts a configuration value to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindConfigurable, KindBundle, KindGrouped:
		return k, nil
	default:
		return "", fmt.Errorf("unknown relation kind %q: must be one of configurable, bundle, grouped", s)
	}
}

// Lookup returns parent ids by child id for one relation kind.
// The result may contain duplicates and zero ids; the resolver cleans them.
type Lookup interface {
	ByChild(ctx context.Context, kind Kind, childIDs []int64) (map[int64][]int64, error)
}

// EntityLookup loads entities by id. Missing ids are absent from the map.
type EntityLookup interface {
	Entities(ctx context.Context, ids []int64) (map[int64]ir.Entity, error)
}

// Resolver resolves target parents. Safe for concurrent use.
type Resolver struct {
	lookup     Lookup
	entities   EntityLookup
	kinds      []Kind
	childTypes map[string]bool
	logger     *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithKinds sets the relation-kind allow-list.
func WithKinds(kinds ...Kind) Option {
	return func(r *Resolver) {
		r.kinds = slices.Clone(kinds)
	}
}

// WithChildTypes sets the entity types allowed to have parents.
func WithChildTypes(types ...string) Option {
	return func(r *Resolver) {
		r.childTypes = make(map[string]bool, len(types))
		for _, t := range types {
			r.childTypes[t] = true
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// New creates a Resolver with the default kinds and child types.
func New(lookup Lookup, entities EntityLookup, opts ...Option) *Resolver {
	r := &Resolver{
		lookup:   lookup,
		entities: entities,
		logger:   slog.Default(),
	}
	WithKinds(DefaultKinds...)(r)
	WithChildTypes(DefaultChildTypes...)(r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the sorted parent ids of one target.
func (r *Resolver) Resolve(ctx context.Context, targetID int64) []int64 {
	return r.ResolveBatch(ctx, []int64{targetID})[targetID]
}

// ResolveBatch resolves parents for many targets with one entity lookup
// and one parent lookup per relation kind. Every requested id has an entry;
// ids without parents map to an empty slice.
func (r *Resolver) ResolveBatch(ctx context.Context, targetIDs []int64) map[int64][]int64 {
	out := make(map[int64][]int64, len(targetIDs))
	for _, id := range targetIDs {
		out[id] = []int64{}
	}
	if len(targetIDs) == 0 {
		return out
	}

	found, err := r.entities.Entities(ctx, targetIDs)
	if err != nil {
		r.logger.Error("parent resolution: entity lookup failed", "error", err)
		return out
	}

	entities := make([]ir.Entity, 0, len(found))
	for _, id := range targetIDs {
		e, ok := found[id]
		if !ok {
			r.logger.Error("parent resolution: target entity not found", "entity_id", id)
			continue
		}
		entities = append(entities, e)
	}

	for id, parents := range r.ResolveEntities(ctx, entities) {
		out[id] = parents
	}
	return out
}

// ResolveEntities resolves parents for already-loaded targets.
// Targets whose type is not a child type are not queried.
func (r *Resolver) ResolveEntities(ctx context.Context, targets []ir.Entity) map[int64][]int64 {
	out := make(map[int64][]int64, len(targets))
	eligible := make([]int64, 0, len(targets))
	for _, e := range targets {
		out[e.ID] = []int64{}
		if r.childTypes[e.TypeID] {
			eligible = append(eligible, e.ID)
		}
	}
	if len(eligible) == 0 {
		return out
	}
	slices.Sort(eligible)
	eligible = slices.Compact(eligible)

	for _, kind := range r.kinds {
		byChild, err := r.lookup.ByChild(ctx, kind, eligible)
		if err != nil {
			r.logger.Error("parent lookup failed",
				"kind", string(kind),
				"targets", len(eligible),
				"error", err)
			continue
		}
		for _, child := range eligible {
			for _, p := range byChild[child] {
				if p > 0 && p != child {
					out[child] = append(out[child], p)
				}
			}
		}
	}

	for id, ps := range out {
		slices.Sort(ps)
		out[id] = slices.Compact(ps)
	}
	return out
}
