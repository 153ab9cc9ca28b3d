package engine

import (
	"context"
	"fmt"

	"github.com/roach88/catsync/internal/ir"
	"github.com/roach88/catsync/internal/queryir"
)

// DefaultEntityType is the entity type tracked when none is configured.
const DefaultEntityType = "PRODUCT"

// DefaultConcurrency bounds per-store evaluation when Config.Concurrency is unset.
const DefaultConcurrency = 4

// APIKey is one search-index destination. Its records merge the verdicts
// of every store it serves.
type APIKey struct {
	Key    string
	Stores []ir.Store
}

// Config is the injected engine configuration.
type Config struct {
	EntityType        string
	APIKeys           []APIKey
	WatchedAspects    ir.AspectSet
	ExcludeOutOfStock bool
	Concurrency       int
}

// Validate checks the configuration. Returns the first problem found.
func (c Config) Validate() error {
	if c.EntityType == "" {
		return fmt.Errorf("config: entity type is required")
	}
	if len(c.APIKeys) == 0 {
		return fmt.Errorf("config: at least one api key is required")
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("config: concurrency must not be negative, got %d", c.Concurrency)
	}
	seen := make(map[string]bool, len(c.APIKeys))
	for _, k := range c.APIKeys {
		if k.Key == "" {
			return fmt.Errorf("config: api key name is required")
		}
		if seen[k.Key] {
			return fmt.Errorf("config: duplicate api key %q", k.Key)
		}
		seen[k.Key] = true

		stores := make(map[int64]bool, len(k.Stores))
		for _, s := range k.Stores {
			if s.ID < 0 {
				return fmt.Errorf("config: api key %q: store id must not be negative, got %d", k.Key, s.ID)
			}
			if stores[s.ID] {
				return fmt.Errorf("config: api key %q: duplicate store %d", k.Key, s.ID)
			}
			stores[s.ID] = true
		}
	}
	return nil
}

// APIKey returns the configured API key with the given name.
func (c Config) APIKey(name string) (APIKey, bool) {
	for _, k := range c.APIKeys {
		if k.Key == name {
			return k, true
		}
	}
	return APIKey{}, false
}

func (c Config) concurrency() int {
	if c.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return c.Concurrency
}

// EntityLookup loads entities by id. Missing ids are absent from the map.
type EntityLookup interface {
	Entities(ctx context.Context, ids []int64) (map[int64]ir.Entity, error)
}

// IndexabilityDeterminer decides whether an entity belongs in the index
// of a store at all, independent of whether it changed.
type IndexabilityDeterminer interface {
	IsIndexable(ctx context.Context, entity ir.Entity, store ir.Store, subtype string) (bool, error)
}

// RecordStore is keyed persistence for indexing records.
// Implemented by *store.Store.
type RecordStore interface {
	Get(ctx context.Context, entityType, apiKey string, targetIDs []int64, parentIDs ...int64) ([]ir.IndexingRecord, error)
	Filter(ctx context.Context, f queryir.Filter) ([]ir.IndexingRecord, error)
	Upsert(ctx context.Context, records []ir.IndexingRecord) (int, error)
}

// EventClassifier maps an event to the aspects it touches.
// Implemented by *aspect.Classifier.
type EventClassifier interface {
	ForEvent(ev *ir.ChangeEvent) ir.AspectSet
}

// StockResolver computes composite stock verdicts. An error means the
// verdict is unknown, not that the entity is out of stock.
// Implemented by *stock.Resolver and *stock.Memo.
type StockResolver interface {
	Verdict(ctx context.Context, entity ir.Entity, store *ir.Store, parent *ir.Entity) (bool, error)
}

// ParentResolver resolves target parents for loaded entities.
// Implemented by *parents.Resolver.
type ParentResolver interface {
	ResolveEntities(ctx context.Context, targets []ir.Entity) map[int64][]int64
}

// Collaborators groups the dependencies a Propagator consumes.
type Collaborators struct {
	Entities     EntityLookup
	Indexability IndexabilityDeterminer
	Records      RecordStore
	Classifier   EventClassifier
	Stock        StockResolver
	Parents      ParentResolver
}

func (c Collaborators) validate() error {
	switch {
	case c.Entities == nil:
		return fmt.Errorf("collaborators: entity lookup is required")
	case c.Indexability == nil:
		return fmt.Errorf("collaborators: indexability determiner is required")
	case c.Records == nil:
		return fmt.Errorf("collaborators: record store is required")
	case c.Classifier == nil:
		return fmt.Errorf("collaborators: classifier is required")
	case c.Stock == nil:
		return fmt.Errorf("collaborators: stock resolver is required")
	case c.Parents == nil:
		return fmt.Errorf("collaborators: parent resolver is required")
	}
	return nil
}
