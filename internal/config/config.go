package config

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/catsync/internal/aspect"
	"github.com/roach88/catsync/internal/engine"
	"github.com/roach88/catsync/internal/ir"
	"github.com/roach88/catsync/internal/parents"
	"github.com/roach88/catsync/internal/stock"
)

// Config is the decoded configuration file.
type Config struct {
	EntityType        string            `json:"entity_type"`
	StockStrategy     string            `json:"stock_strategy"`
	ExcludeOutOfStock bool              `json:"exclude_out_of_stock"`
	Concurrency       int               `json:"concurrency"`
	ParentKinds       []string          `json:"parent_kinds"`
	ChildTypes        []string          `json:"child_types"`
	WatchedAspects    []string          `json:"watched_aspects"`
	Aspects           map[string]string `json:"aspects,omitempty"`
	APIKeys           map[string]APIKey `json:"api_keys"`
}

// APIKey lists the store ids served by one search-index destination.
type APIKey struct {
	Stores []int64 `json:"stores"`
}

// Default returns the configuration an empty file decodes to, with a single
// "default" API key serving the given stores.
func Default(storeIDs ...int64) Config {
	return Config{
		EntityType:        engine.DefaultEntityType,
		StockStrategy:     string(stock.DefaultStrategy),
		ExcludeOutOfStock: true,
		Concurrency:       engine.DefaultConcurrency,
		ParentKinds:       kindStrings(parents.DefaultKinds),
		ChildTypes:        slices.Clone(parents.DefaultChildTypes),
		WatchedAspects:    []string{string(ir.AspectAll)},
		APIKeys:           map[string]APIKey{"default": {Stores: slices.Clone(storeIDs)}},
	}
}

func kindStrings(kinds []parents.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// APIKeyNames returns the configured API keys in sorted order.
func (c Config) APIKeyNames() []string {
	names := make([]string, 0, len(c.APIKeys))
	for name := range c.APIKeys {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Overrides returns the aspect overrides ordered by attribute code.
func (c Config) Overrides() []aspect.Mapping {
	codes := make([]string, 0, len(c.Aspects))
	for code := range c.Aspects {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	out := make([]aspect.Mapping, 0, len(codes))
	for _, code := range codes {
		out = append(out, aspect.Mapping{Code: code, Aspect: ir.Aspect(c.Aspects[code])})
	}
	return out
}

// Watched returns the watched aspect set.
func (c Config) Watched() (ir.AspectSet, error) {
	var set ir.AspectSet
	for _, s := range c.WatchedAspects {
		a, err := ir.ParseAspect(s)
		if err != nil {
			return 0, err
		}
		set = set.Add(a)
	}
	return set, nil
}

// Kinds returns the parent relation-kind allow-list.
func (c Config) Kinds() ([]parents.Kind, error) {
	out := make([]parents.Kind, 0, len(c.ParentKinds))
	for _, s := range c.ParentKinds {
		k, err := parents.ParseKind(s)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// StoreLookup resolves store ids. Implemented by *catalog.Catalog.
type StoreLookup interface {
	Store(id int64) (ir.Store, bool)
}

// Source is everything the collaborators built from a Config read from the
// system of record. Implemented by *catalog.Catalog.
type Source interface {
	StoreLookup
	engine.EntityLookup
	engine.IndexabilityDeterminer
	parents.Lookup
	stock.Source
}

// Build resolves API key stores and returns the engine configuration.
// Every store id must resolve.
func (c Config) Build(stores StoreLookup) (engine.Config, error) {
	if errs := Validate(c); len(errs) > 0 {
		return engine.Config{}, &Error{Field: errs[0].Field, Message: errs[0].Message, Code: errs[0].Code}
	}
	watched, err := c.Watched()
	if err != nil {
		return engine.Config{}, fmt.Errorf("build config: %w", err)
	}

	out := engine.Config{
		EntityType:        c.EntityType,
		WatchedAspects:    watched,
		ExcludeOutOfStock: c.ExcludeOutOfStock,
		Concurrency:       c.Concurrency,
	}
	for _, name := range c.APIKeyNames() {
		key := engine.APIKey{Key: name}
		for _, id := range c.APIKeys[name].Stores {
			s, ok := stores.Store(id)
			if !ok {
				return engine.Config{}, &Error{
					Field:   fmt.Sprintf("api_keys.%s.stores", name),
					Message: fmt.Sprintf("unknown store %d", id),
					Code:    ErrUnknownStore,
				}
			}
			key.Stores = append(key.Stores, s)
		}
		out.APIKeys = append(out.APIKeys, key)
	}
	return out, nil
}

// Collaborators builds the classifier, stock resolver and parent resolver
// from c and wires them to src. records is the record store.
func (c Config) Collaborators(src Source, records engine.RecordStore, logger *slog.Logger) (engine.Collaborators, error) {
	if logger == nil {
		logger = slog.Default()
	}
	classifier, err := aspect.New(c.Overrides())
	if err != nil {
		return engine.Collaborators{}, fmt.Errorf("build classifier: %w", err)
	}
	kinds, err := c.Kinds()
	if err != nil {
		return engine.Collaborators{}, fmt.Errorf("build parent resolver: %w", err)
	}
	return engine.Collaborators{
		Entities:     src,
		Indexability: src,
		Records:      records,
		Classifier:   classifier,
		Stock:        stock.New(src, c.StockStrategy, stock.WithLogger(logger)),
		Parents: parents.New(src, src,
			parents.WithKinds(kinds...),
			parents.WithChildTypes(c.ChildTypes...),
			parents.WithLogger(logger),
		),
	}, nil
}
