package stock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/catsync/internal/ir"
)

// Source provides raw stock data.
type Source interface {
	// StockItemFlag returns the precomputed in-stock flag of the entity's
	// stock item. present is false when the entity has no stock item.
	StockItemFlag(entity ir.Entity) (inStock, present bool)

	// RegistryStatus queries the stock registry for an entity in a scope.
	RegistryStatus(ctx context.Context, entityID, scopeID int64) (bool, error)
}

// Resolver computes stock verdicts with a fixed strategy.
// Safe for concurrent use.
type Resolver struct {
	source   Source
	strategy Strategy
	logger   *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// New creates a Resolver for the configured strategy.
// An unrecognised strategy logs a warning and falls back to DefaultStrategy.
func New(source Source, configured string, opts ...Option) *Resolver {
	r := &Resolver{
		source: source,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	st, err := ParseStrategy(configured)
	if err != nil {
		r.logger.Warn("invalid stock strategy, falling back",
			"configured", configured,
			"fallback", string(DefaultStrategy))
		st = DefaultStrategy
	}
	r.strategy = st
	return r
}

// Strategy returns the effective strategy.
func (r *Resolver) Strategy() Strategy {
	return r.strategy
}

// Resolve returns the composite stock verdict of entity in store.
// store may be nil (global scope). parent may be nil. A registry failure
// is logged and reads as out of stock.
func (r *Resolver) Resolve(ctx context.Context, entity ir.Entity, store *ir.Store, parent *ir.Entity) bool {
	ok, _ := r.resolve(ctx, entity, store, parent, r.strategy, nil)
	return ok
}

// Verdict is like Resolve but also returns the registry error that made
// the verdict unknown. Callers that must not mistake an outage for an
// out-of-stock entity use it instead of Resolve.
func (r *Resolver) Verdict(ctx context.Context, entity ir.Entity, store *ir.Store, parent *ir.Entity) (bool, error) {
	return r.resolve(ctx, entity, store, parent, r.strategy, nil)
}

// ResolveWith is like Resolve with an explicit strategy.
// An invalid strategy logs a warning and uses DefaultStrategy for this call.
func (r *Resolver) ResolveWith(ctx context.Context, entity ir.Entity, store *ir.Store, parent *ir.Entity, strategy Strategy) bool {
	if !strategy.Valid() {
		r.logger.Warn("invalid stock strategy, falling back",
			"configured", string(strategy),
			"fallback", string(DefaultStrategy))
		strategy = DefaultStrategy
	}
	ok, _ := r.resolve(ctx, entity, store, parent, strategy, nil)
	return ok
}

func (r *Resolver) resolve(ctx context.Context, entity ir.Entity, store *ir.Store, parent *ir.Entity, strategy Strategy, memo *Memo) (bool, error) {
	if parent != nil {
		var parentOK bool
		var err error
		if memo != nil {
			parentOK, err = memo.own(ctx, *parent, store)
		} else {
			parentOK, err = r.own(ctx, *parent, store, strategy)
		}
		if err != nil {
			return false, err
		}
		if !parentOK {
			// Parent dominance: child is not evaluated.
			return false, nil
		}
	}
	if memo != nil {
		return memo.own(ctx, entity, store)
	}
	return r.own(ctx, entity, store, strategy)
}

// own evaluates the strategy against entity alone.
func (r *Resolver) own(ctx context.Context, entity ir.Entity, store *ir.Store, strategy Strategy) (bool, error) {
	switch strategy {
	case StrategyStockItem:
		if inStock, present := r.source.StockItemFlag(entity); present {
			return inStock, nil
		}
		return r.registry(ctx, entity, store)
	case StrategyIsAvailable:
		return entity.Available, nil
	case StrategyIsSalable:
		return entity.Salable, nil
	default:
		return r.registry(ctx, entity, store)
	}
}

func (r *Resolver) registry(ctx context.Context, entity ir.Entity, store *ir.Store) (bool, error) {
	scope := store.StockScope()
	ok, err := r.source.RegistryStatus(ctx, entity.ID, scope)
	if err != nil {
		r.logger.Error("stock registry lookup failed",
			"entity_id", entity.ID,
			"scope_id", scope,
			"error", err)
		return false, fmt.Errorf("stock registry entity %d scope %d: %w", entity.ID, scope, err)
	}
	return ok, nil
}

// Memo caches own verdicts per (entity, scope) for the lifetime of one
// propagation, so a parent shared by many variants is evaluated once.
// Safe for concurrent use.
type Memo struct {
	r  *Resolver
	mu sync.Mutex
	m  map[memoKey]bool
}

type memoKey struct {
	entityID int64
	scopeID  int64
}

// NewMemo returns an empty verdict cache bound to r.
func (r *Resolver) NewMemo() *Memo {
	return &Memo{r: r, m: make(map[memoKey]bool)}
}

// Resolve is Resolver.Resolve with cached own verdicts.
func (m *Memo) Resolve(ctx context.Context, entity ir.Entity, store *ir.Store, parent *ir.Entity) bool {
	ok, _ := m.r.resolve(ctx, entity, store, parent, m.r.strategy, m)
	return ok
}

// Verdict is Resolver.Verdict with cached own verdicts.
func (m *Memo) Verdict(ctx context.Context, entity ir.Entity, store *ir.Store, parent *ir.Entity) (bool, error) {
	return m.r.resolve(ctx, entity, store, parent, m.r.strategy, m)
}

// own caches successful verdicts only, so a failed lookup is retried by
// the next target that needs it.
func (m *Memo) own(ctx context.Context, entity ir.Entity, store *ir.Store) (bool, error) {
	key := memoKey{entityID: entity.ID, scopeID: store.StockScope()}

	m.mu.Lock()
	v, ok := m.m[key]
	m.mu.Unlock()
	if ok {
		return v, nil
	}

	v, err := m.r.own(ctx, entity, store, m.r.strategy)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	m.m[key] = v
	m.mu.Unlock()
	return v, nil
}
