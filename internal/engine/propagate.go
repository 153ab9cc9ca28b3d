package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/catsync/internal/ir"
	"github.com/roach88/catsync/internal/queryir"
	"github.com/roach88/catsync/internal/stock"
)

// Batch is the outcome of propagating one change event.
type Batch struct {
	Seq      int64        `json:"seq"`
	EventID  string       `json:"event_id"`
	Kind     ir.EventKind `json:"kind"`
	EntityID int64        `json:"entity_id"`
	Aspects  ir.AspectSet `json:"-"`

	// Updates are the record changes to persist, sorted by key.
	Updates []ir.IndexingRecordUpdate `json:"updates"`

	// Deferred are changes to locked records. They are not persisted.
	Deferred []ir.IndexingRecordUpdate `json:"deferred"`

	// Missing lists entity ids the catalog could not load. Their
	// records were skipped.
	Missing []int64 `json:"missing"`

	// Skipped lists records left untouched because a collaborator
	// failed and the stores that answered could not decide them.
	Skipped []ir.RecordKey `json:"skipped"`

	// Persisted is the number of rows the store wrote. Zero for batches
	// that were only propagated.
	Persisted int `json:"persisted"`
}

// Records returns the records to persist, in key order.
func (b *Batch) Records() []ir.IndexingRecord {
	out := make([]ir.IndexingRecord, 0, len(b.Updates))
	for _, u := range b.Updates {
		out = append(out, u.After)
	}
	return out
}

// Propagator computes record updates for change events.
//
// Propagate only reads: records are loaded through the RecordStore but
// never written. Persisting the batch is up to the caller (see Engine).
//
// Thread-safety: safe for concurrent use. Concurrent propagations for the
// same record must be serialized by the caller.
type Propagator struct {
	cfg    Config
	collab Collaborators
	opts   options
}

// NewPropagator creates a Propagator.
func NewPropagator(cfg Config, collab Collaborators, opts ...Option) (*Propagator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := collab.validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Propagator{cfg: cfg, collab: collab, opts: o}, nil
}

// Config returns the propagator configuration.
func (p *Propagator) Config() Config {
	return p.cfg
}

// Propagate computes the record updates caused by ev.
//
// Returns an InvalidArgument *Error for a malformed event. When some
// records have conflicting stock verdicts, the batch for every other
// record is returned together with a *ConflictsError.
func (p *Propagator) Propagate(ctx context.Context, ev ir.ChangeEvent) (*Batch, error) {
	ev, err := p.prepare(ev)
	if err != nil {
		return nil, err
	}
	pl, err := p.plan(ctx, ev)
	if err != nil {
		return nil, err
	}
	b, err := p.evaluate(ctx, pl)
	p.opts.metrics.observe(b, len(pl.conflicts))
	return b, err
}

// prepare validates ev and fills in a content-derived id.
func (p *Propagator) prepare(ev ir.ChangeEvent) (ir.ChangeEvent, error) {
	if errs := ev.Validate(); len(errs) > 0 {
		return ev, NewInvalidArgumentError(errs)
	}
	if ev.ID == "" {
		id, err := ir.EventID(&ev)
		if err != nil {
			return ev, fmt.Errorf("propagate: %w", err)
		}
		ev.ID = id
	}
	return ev, nil
}

// target is one record affected by an event, before the API key is known.
type target struct {
	entity   ir.Entity
	parent   *ir.Entity // variant context; nil for standalone records
	targetID int64
	parentID int64
	subtype  string
}

// verdict is the merged evaluation of one record across the stores of
// its API key.
type verdict struct {
	subtype   string
	indexable bool
	member    bool // the target belongs to at least one evaluated store
}

// storeVerdict is the evaluation of one target in one store.
type storeVerdict struct {
	storeID  int64
	member   bool
	eligible bool // member and indexable, ignoring stock
	inStock  bool
	errored  bool // a collaborator failed; eligible and inStock are unknown
}

// plan is everything decided before records are read.
type plan struct {
	event     ir.ChangeEvent
	aspects   ir.AspectSet
	verdicts  map[ir.RecordKey]verdict
	deletes   []ir.RecordKey
	conflicts []*ConflictError
	missing   []int64
	skipped   []ir.RecordKey
}

func (pl *plan) deletion() bool {
	return pl.event.Kind == ir.EventDeleted
}

// keys returns the keys the plan will read and may write, sorted and
// deduplicated. Conflicting keys are excluded.
func (pl *plan) keys() []ir.RecordKey {
	keys := slices.Clone(pl.deletes)
	for k := range pl.verdicts {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, ir.CompareKeys)
	return slices.Compact(keys)
}

func (p *Propagator) plan(ctx context.Context, ev ir.ChangeEvent) (*plan, error) {
	pl := &plan{
		event:    ev,
		verdicts: make(map[ir.RecordKey]verdict),
	}
	if pl.deletion() {
		if err := p.planDeletion(ctx, pl); err != nil {
			return nil, err
		}
		return pl, nil
	}

	pl.aspects = p.collab.Classifier.ForEvent(&ev)

	targets, err := p.targets(ctx, pl)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return pl, nil
	}

	sr := p.stockResolver()
	for _, k := range p.cfg.APIKeys {
		stores := narrowStores(k.Stores, ev.StoreIDs)
		if len(stores) == 0 {
			continue
		}
		if err := p.evaluateTargets(ctx, pl, k.Key, stores, targets, sr); err != nil {
			return nil, err
		}
	}
	return pl, nil
}

// targets resolves the records an edit of the event's entity affects:
// its own record, its record under each parent, and each parent's own
// record. Edits never cascade from a parent to its children.
func (p *Propagator) targets(ctx context.Context, pl *plan) ([]target, error) {
	id := pl.event.EntityID
	found, err := p.collab.Entities.Entities(ctx, []int64{id})
	if err != nil {
		return nil, fmt.Errorf("load entity %d: %w", id, err)
	}
	entity, ok := found[id]
	if !ok {
		p.missingEntity(pl, id, "target")
		return nil, nil
	}

	targets := []target{{
		entity:   entity,
		targetID: entity.ID,
		parentID: ir.NoParent,
		subtype:  entity.TypeID,
	}}

	var parentIDs []int64
	if pl.event.ParentID != ir.NoParent {
		parentIDs = []int64{pl.event.ParentID}
	} else {
		parentIDs = p.collab.Parents.ResolveEntities(ctx, []ir.Entity{entity})[entity.ID]
	}
	if len(parentIDs) == 0 {
		return targets, nil
	}

	parents, err := p.collab.Entities.Entities(ctx, parentIDs)
	if err != nil {
		return nil, fmt.Errorf("load parents of entity %d: %w", id, err)
	}
	for _, pid := range parentIDs {
		parent, ok := parents[pid]
		if !ok {
			p.missingEntity(pl, pid, "parent")
			continue
		}
		targets = append(targets,
			target{
				entity:   entity,
				parent:   &parent,
				targetID: entity.ID,
				parentID: parent.ID,
				subtype:  ir.VariantSubtype(parent.TypeID),
			},
			target{
				entity:   parent,
				targetID: parent.ID,
				parentID: ir.NoParent,
				subtype:  parent.TypeID,
			},
		)
	}
	return targets, nil
}

// evaluateTargets evaluates every target in every store of one API key
// and merges the store verdicts per record.
func (p *Propagator) evaluateTargets(ctx context.Context, pl *plan, apiKey string, stores []ir.Store, targets []target, sr StockResolver) error {
	results := make([]storeVerdict, len(targets)*len(stores))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.concurrency())
	for ti := range targets {
		for si := range stores {
			idx := ti*len(stores) + si
			t, s := targets[ti], stores[si]
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[idx] = p.evaluateStore(gctx, t, s, sr)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("evaluate api key %q: %w", apiKey, err)
	}

	for ti, t := range targets {
		key := ir.RecordKey{
			EntityType:     p.cfg.EntityType,
			APIKey:         apiKey,
			TargetID:       t.targetID,
			TargetParentID: t.parentID,
		}
		v, conflict, decided := merge(key, results[ti*len(stores):(ti+1)*len(stores)])
		if !decided {
			p.opts.logger.Warn("record undecided after collaborator errors, skipping",
				"record", key.String())
			pl.skipped = append(pl.skipped, key)
			continue
		}
		if conflict != nil {
			p.opts.logger.Warn("conflicting stock status",
				"record", key.String(),
				"in_stock_stores", conflict.StockTrue,
				"out_of_stock_stores", conflict.StockFalse)
			pl.conflicts = append(pl.conflicts, conflict)
			continue
		}
		v.subtype = t.subtype
		pl.verdicts[key] = v
	}
	return nil
}

// evaluateStore evaluates one target in one store. A variant belongs to
// a store only when both the child and the parent are assigned to it.
func (p *Propagator) evaluateStore(ctx context.Context, t target, s ir.Store, sr StockResolver) storeVerdict {
	sv := storeVerdict{storeID: s.ID, inStock: true}
	sv.member = t.entity.InStore(s.ID) && (t.parent == nil || t.parent.InStore(s.ID))
	if !sv.member {
		return sv
	}

	ok, err := p.collab.Indexability.IsIndexable(ctx, t.entity, s, t.subtype)
	if err != nil {
		p.opts.logger.Error("indexability check failed",
			"entity_id", t.entity.ID,
			"store_id", s.ID,
			"subtype", t.subtype,
			"error", err)
		sv.errored = true
		return sv
	}
	sv.eligible = ok
	if ok && p.cfg.ExcludeOutOfStock {
		inStock, err := sr.Verdict(ctx, t.entity, &s, t.parent)
		if err != nil {
			sv.errored = true
			return sv
		}
		sv.inStock = inStock
	}
	return sv
}

// merge combines store verdicts into one record verdict. Eligible stores
// are partitioned by stock verdict; a record with stores in both buckets
// is a conflict.
//
// Errored stores are left out. A record is indexable when any store says
// so, so the answering stores still decide it when one of them is
// indexable; otherwise an errored store could have been the deciding one
// and decided is false.
func merge(key ir.RecordKey, results []storeVerdict) (v verdict, conflict *ConflictError, decided bool) {
	var inStock, outOfStock []int64
	errored := false
	for _, r := range results {
		v.member = v.member || r.member
		if r.errored {
			errored = true
			continue
		}
		if !r.eligible {
			continue
		}
		if r.inStock {
			inStock = append(inStock, r.storeID)
		} else {
			outOfStock = append(outOfStock, r.storeID)
		}
	}
	if len(inStock) > 0 && len(outOfStock) > 0 {
		return v, newConflictError(key, inStock, outOfStock), true
	}
	v.indexable = len(inStock) > 0
	if errored && !v.indexable {
		return v, nil, false
	}
	return v, nil, true
}

// planDeletion collects the existing records of a deleted entity: its own
// records and its records under parents, plus the records of its children
// under it.
func (p *Propagator) planDeletion(ctx context.Context, pl *plan) error {
	id := pl.event.EntityID
	for _, k := range p.cfg.APIKeys {
		own, err := p.collab.Records.Get(ctx, p.cfg.EntityType, k.Key, []int64{id})
		if err != nil {
			return fmt.Errorf("read records of entity %d: %w", id, err)
		}
		children, err := p.collab.Records.Filter(ctx, queryir.ByParent(p.cfg.EntityType, k.Key, id))
		if err != nil {
			return fmt.Errorf("read child records of entity %d: %w", id, err)
		}
		for _, rec := range own {
			pl.deletes = append(pl.deletes, rec.Key)
		}
		for _, rec := range children {
			pl.deletes = append(pl.deletes, rec.Key)
		}
	}
	return nil
}

// evaluate reads the current records of the plan and runs the state
// machine on each.
func (p *Propagator) evaluate(ctx context.Context, pl *plan) (*Batch, error) {
	b := &Batch{
		Seq:      p.opts.clock.Next(),
		EventID:  pl.event.ID,
		Kind:     pl.event.Kind,
		EntityID: pl.event.EntityID,
		Aspects:  pl.aspects,
		Updates:  []ir.IndexingRecordUpdate{},
		Deferred: []ir.IndexingRecordUpdate{},
		Missing:  slices.Sorted(slices.Values(pl.missing)),
	}
	if b.Missing == nil {
		b.Missing = []int64{}
	}
	b.Missing = slices.Compact(b.Missing)
	b.Skipped = slices.SortedFunc(slices.Values(pl.skipped), ir.CompareKeys)
	if b.Skipped == nil {
		b.Skipped = []ir.RecordKey{}
	}

	keys := pl.keys()
	current, err := p.load(ctx, keys)
	if err != nil {
		return nil, err
	}

	for _, key := range keys {
		before, exists := current[key]

		var u ir.IndexingRecordUpdate
		if pl.deletion() {
			if !exists {
				continue
			}
			u = deletionUpdate(before)
		} else {
			var ok bool
			u, ok = p.update(key, pl.verdicts[key], before, exists, pl.aspects)
			if !ok {
				continue
			}
		}
		if !u.Changed() {
			continue
		}

		if u.Before != nil && u.Before.Locked() && u.After.NextAction != ir.ActionDelete {
			p.opts.logger.Debug("record locked, update deferred",
				"record", key.String(),
				"next_action", string(u.After.NextAction))
			b.Deferred = append(b.Deferred, u)
			continue
		}

		p.opts.logger.Debug("record transition",
			"record", key.String(),
			"before", string(beforeAction(u)),
			"after", string(u.After.NextAction),
			"indexable", u.After.IsIndexable)
		b.Updates = append(b.Updates, u)
	}

	if len(pl.conflicts) > 0 {
		return b, &ConflictsError{Conflicts: pl.conflicts}
	}
	return b, nil
}

// load reads the current records for keys, one store call per API key.
func (p *Propagator) load(ctx context.Context, keys []ir.RecordKey) (map[ir.RecordKey]ir.IndexingRecord, error) {
	byAPIKey := make(map[string][]int64)
	var order []string
	for _, k := range keys {
		if _, ok := byAPIKey[k.APIKey]; !ok {
			order = append(order, k.APIKey)
		}
		byAPIKey[k.APIKey] = append(byAPIKey[k.APIKey], k.TargetID)
	}

	wanted := make(map[ir.RecordKey]bool, len(keys))
	for _, k := range keys {
		wanted[k] = true
	}

	out := make(map[ir.RecordKey]ir.IndexingRecord, len(keys))
	for _, apiKey := range order {
		ids := byAPIKey[apiKey]
		slices.Sort(ids)
		ids = slices.Compact(ids)
		recs, err := p.collab.Records.Get(ctx, p.cfg.EntityType, apiKey, ids)
		if err != nil {
			return nil, fmt.Errorf("read records for api key %q: %w", apiKey, err)
		}
		for _, rec := range recs {
			if wanted[rec.Key] {
				out[rec.Key] = rec
			}
		}
	}
	return out, nil
}

// update runs the state machine for one non-deletion record. Returns
// false when the record does not exist and the target belongs to none
// of the evaluated stores.
func (p *Propagator) update(key ir.RecordKey, v verdict, before ir.IndexingRecord, exists bool, changed ir.AspectSet) (ir.IndexingRecordUpdate, bool) {
	in := missingRecordInput()
	after := ir.IndexingRecord{Key: key, LastAction: ir.ActionNone}
	if exists {
		in.Next = before.NextAction
		in.Last = before.LastAction
		in.IndexableBefore = before.IsIndexable
		after = before
	} else if !v.member {
		return ir.IndexingRecordUpdate{}, false
	}
	in.IndexableAfter = v.indexable
	in.Changed = changed
	in.Watched = p.cfg.WatchedAspects

	after.NextAction = Transition(in)
	after.IsIndexable = v.indexable
	after.Subtype = v.subtype

	u := ir.IndexingRecordUpdate{After: after, Created: !exists}
	if exists {
		u.Before = &before
	}
	return u, true
}

// deletionUpdate applies TransitionDeleted. A discarded record is also
// marked not indexable: nothing exists downstream, so the entity
// reappearing must be a fresh add.
func deletionUpdate(before ir.IndexingRecord) ir.IndexingRecordUpdate {
	action, discard := TransitionDeleted(before)
	after := before
	after.NextAction = action
	if discard {
		after.IsIndexable = false
	}
	return ir.IndexingRecordUpdate{Before: &before, After: after, Discarded: discard}
}

func beforeAction(u ir.IndexingRecordUpdate) ir.Action {
	if u.Before == nil {
		return ir.ActionNone
	}
	return u.Before.NextAction
}

func (p *Propagator) missingEntity(pl *plan, id int64, role string) {
	p.opts.logger.Error("entity not found, skipping",
		"entity_id", id,
		"role", role,
		"event_id", pl.event.ID)
	pl.missing = append(pl.missing, id)
}

// memoizer is implemented by resolvers that can cache verdicts for the
// duration of one propagation.
type memoizer interface {
	NewMemo() *stock.Memo
}

func (p *Propagator) stockResolver() StockResolver {
	if m, ok := p.collab.Stock.(memoizer); ok {
		return m.NewMemo()
	}
	return p.collab.Stock
}

// narrowStores returns the stores of stores whose id is in ids.
// An empty ids keeps every store.
func narrowStores(stores []ir.Store, ids []int64) []ir.Store {
	if len(ids) == 0 {
		return stores
	}
	out := make([]ir.Store, 0, len(stores))
	for _, s := range stores {
		if slices.Contains(ids, s.ID) {
			out = append(out, s)
		}
	}
	return out
}

// conflictsOf returns the conflicts carried by err, if any.
func conflictsOf(err error) *ConflictsError {
	var ce *ConflictsError
	if errors.As(err, &ce) {
		return ce
	}
	return nil
}

// logBatch writes the info-level summary of a batch.
func logBatch(logger *slog.Logger, b *Batch) {
	logger.Info("batch applied",
		"seq", b.Seq,
		"event_id", b.EventID,
		"kind", string(b.Kind),
		"entity_id", b.EntityID,
		"aspects", b.Aspects.String(),
		"updates", len(b.Updates),
		"persisted", b.Persisted,
		"deferred", len(b.Deferred),
		"missing", len(b.Missing),
		"skipped", len(b.Skipped))
}
