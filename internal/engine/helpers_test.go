package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/roach88/catsync/internal/aspect"
	"github.com/roach88/catsync/internal/ir"
	"github.com/roach88/catsync/internal/stock"
	"github.com/roach88/catsync/internal/store"
)

const testAPIKey = "default"

var (
	storeEN = ir.Store{ID: 1, Code: "en", WebsiteID: 1}
	storeDE = ir.Store{ID: 2, Code: "de", WebsiteID: 2}
)

// fakeCatalog is an in-memory catalog implementing every collaborator the
// engine reads from.
type fakeCatalog struct {
	mu         sync.Mutex
	entities   map[int64]ir.Entity
	parents    map[int64][]int64
	outOfStock map[[2]int64]bool // (entity id, scope id)
	failing    map[int64]error   // IsIndexable errors by entity id
	registry   map[int64]error   // RegistryStatus errors by entity id
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		entities:   make(map[int64]ir.Entity),
		parents:    make(map[int64][]int64),
		outOfStock: make(map[[2]int64]bool),
		failing:    make(map[int64]error),
		registry:   make(map[int64]error),
	}
}

func (c *fakeCatalog) put(entities ...ir.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entities {
		c.entities[e.ID] = e
	}
}

func (c *fakeCatalog) remove(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entities, id)
}

func (c *fakeCatalog) link(parentID int64, children ...int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, child := range children {
		c.parents[child] = append(c.parents[child], parentID)
	}
}

func (c *fakeCatalog) setOutOfStock(entityID, scopeID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outOfStock[[2]int64{entityID, scopeID}] = true
}

func (c *fakeCatalog) Entities(_ context.Context, ids []int64) (map[int64]ir.Entity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int64]ir.Entity, len(ids))
	for _, id := range ids {
		if e, ok := c.entities[id]; ok {
			out[id] = e
		}
	}
	return out, nil
}

// IsIndexable: enabled, and searchable unless represented as a variant.
func (c *fakeCatalog) IsIndexable(_ context.Context, e ir.Entity, s ir.Store, subtype string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failing[e.ID]; err != nil {
		return false, err
	}
	if !e.Enabled || !e.InStore(s.ID) {
		return false, nil
	}
	return strings.HasSuffix(subtype, ir.VariantSuffix) || e.Visibility.Searchable(), nil
}

func (c *fakeCatalog) ResolveEntities(_ context.Context, targets []ir.Entity) map[int64][]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int64][]int64, len(targets))
	for _, t := range targets {
		out[t.ID] = append([]int64{}, c.parents[t.ID]...)
	}
	return out
}

func (c *fakeCatalog) StockItemFlag(e ir.Entity) (bool, bool) {
	if e.StockItem == nil {
		return false, false
	}
	return e.StockItem.InStock, true
}

func (c *fakeCatalog) RegistryStatus(_ context.Context, entityID, scopeID int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.registry[entityID]; err != nil {
		return false, err
	}
	return !c.outOfStock[[2]int64{entityID, scopeID}], nil
}

// product builds an enabled, searchable simple entity in the given stores.
func product(id int64, typeID string, stores ...int64) ir.Entity {
	return ir.Entity{
		ID:         id,
		TypeID:     typeID,
		SKU:        fmt.Sprintf("SKU-%d", id),
		Enabled:    true,
		Visibility: ir.VisibilityBoth,
		StoreIDs:   stores,
	}
}

type fixture struct {
	t       *testing.T
	ctx     context.Context
	store   *store.Store
	catalog *fakeCatalog
	engine  *Engine
	metrics *Metrics
}

func testConfig(stores ...ir.Store) Config {
	if len(stores) == 0 {
		stores = []ir.Store{storeEN}
	}
	return Config{
		EntityType:        DefaultEntityType,
		APIKeys:           []APIKey{{Key: testAPIKey, Stores: stores}},
		WatchedAspects:    ir.NewAspectSet(ir.AspectPrice, ir.AspectStock, ir.AspectVisibility),
		ExcludeOutOfStock: true,
		Concurrency:       2,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		t:       t,
		ctx:     context.Background(),
		store:   setupTestStore(t),
		catalog: newFakeCatalog(),
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	f.engine = f.build(cfg, opts...)
	return f
}

// build creates another engine over the fixture's store and catalog.
func (f *fixture) build(cfg Config, opts ...Option) *Engine {
	f.t.Helper()
	collab := Collaborators{
		Entities:     f.catalog,
		Indexability: f.catalog,
		Records:      f.store,
		Classifier:   aspect.MustNew(nil),
		Stock:        stock.New(f.catalog, string(stock.StrategyStockRegistry), stock.WithLogger(testLogger())),
		Parents:      f.catalog,
	}
	base := []Option{
		WithLogger(testLogger()),
		WithMetrics(f.metrics),
		WithNow(fixedNow),
	}
	e, err := New(cfg, collab, append(base, opts...)...)
	require.NoError(f.t, err)
	return e
}

func fixedNow() time.Time {
	return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
}

func key(targetID, parentID int64) ir.RecordKey {
	return ir.RecordKey{
		EntityType:     DefaultEntityType,
		APIKey:         testAPIKey,
		TargetID:       targetID,
		TargetParentID: parentID,
	}
}

// synced builds a record that was added downstream and has nothing queued.
func synced(k ir.RecordKey, subtype string) ir.IndexingRecord {
	at := fixedNow().Add(-time.Hour)
	return ir.IndexingRecord{
		Key:          k,
		Subtype:      subtype,
		IsIndexable:  true,
		NextAction:   ir.ActionNone,
		LastAction:   ir.ActionAdd,
		LastActionAt: &at,
	}
}

func (f *fixture) seed(records ...ir.IndexingRecord) {
	f.t.Helper()
	require.NoError(f.t, f.store.Seed(f.ctx, records))
}

// record reads one record, failing the test if it does not exist.
func (f *fixture) record(k ir.RecordKey) ir.IndexingRecord {
	f.t.Helper()
	recs, err := f.store.Get(f.ctx, k.EntityType, k.APIKey, []int64{k.TargetID}, k.TargetParentID)
	require.NoError(f.t, err)
	require.Len(f.t, recs, 1, "record %s", k)
	return recs[0]
}

func (f *fixture) count() int {
	f.t.Helper()
	n, err := f.store.CountRecords(f.ctx, DefaultEntityType)
	require.NoError(f.t, err)
	return n
}

func saved(entityID int64, attrs ...string) ir.ChangeEvent {
	return ir.ChangeEvent{Kind: ir.EventSaved, EntityID: entityID, ChangedAttributes: attrs}
}

func deleted(entityID int64) ir.ChangeEvent {
	return ir.ChangeEvent{Kind: ir.EventDeleted, EntityID: entityID}
}

func updateKeys(updates []ir.IndexingRecordUpdate) []ir.RecordKey {
	keys := make([]ir.RecordKey, 0, len(updates))
	for _, u := range updates {
		keys = append(keys, u.After.Key)
	}
	return keys
}
