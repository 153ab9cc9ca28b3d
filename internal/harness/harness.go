package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/catsync/internal/catalog"
	"github.com/roach88/catsync/internal/config"
	"github.com/roach88/catsync/internal/engine"
	"github.com/roach88/catsync/internal/ir"
	"github.com/roach88/catsync/internal/parents"
	"github.com/roach88/catsync/internal/queryir"
	"github.com/roach88/catsync/internal/store"
)

// BaseTime is the wall clock of a scenario: seeded records are stamped
// with it and step i runs at BaseTime + i seconds.
var BaseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness is the scenario execution engine. Each scenario runs against a
// fresh in-memory record store and its own catalog.
type Harness struct {
	store      *store.Store
	catalog    *catalog.Catalog
	engine     *engine.Engine
	entityType string
	logger     *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Create a fresh in-memory database and load the catalog
//  2. Build the engine from the scenario's config
//  3. Seed records
//  4. Execute steps, checking invariants after each
//  5. Read the final records and evaluate assertions
//
// An error is returned only when the scenario cannot be executed at all;
// failed expectations are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h, err := newHarness(scenario, st)
	if err != nil {
		return nil, err
	}

	records := make([]ir.IndexingRecord, 0, len(scenario.Records))
	for _, r := range scenario.Records {
		records = append(records, r.Record(h.entityType, BaseTime))
	}
	if err := st.Seed(ctx, records); err != nil {
		return nil, fmt.Errorf("failed to seed records: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	final, err := h.records(ctx)
	if err != nil {
		return nil, err
	}
	result.Records = final

	for _, msg := range EvaluateAssertions(result, scenario.Assertions, h.entityType) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(scenario *Scenario, st *store.Store) (*Harness, error) {
	cat, err := catalog.New(scenario.Catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	cfg, err := scenarioConfig(scenario, cat)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	engCfg, err := cfg.Build(cat)
	if err != nil {
		return nil, fmt.Errorf("failed to build config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	collab, err := cfg.Collaborators(cat, st, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build collaborators: %w", err)
	}

	eng, err := engine.New(engCfg, collab,
		engine.WithLogger(logger),
		engine.WithJournal(st),
		engine.WithNow(func() time.Time { return BaseTime }),
		engine.WithClock(engine.NewClock()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	return &Harness{
		store:      st,
		catalog:    cat,
		engine:     eng,
		entityType: engCfg.EntityType,
		logger:     logger,
	}, nil
}

// scenarioConfig loads the scenario's CUE config, or defaults to one API
// key serving every catalog store.
func scenarioConfig(scenario *Scenario, cat *catalog.Catalog) (config.Config, error) {
	switch {
	case scenario.ConfigFile != "":
		return config.Load(scenario.ConfigFile)
	case scenario.Config != "":
		return config.Parse(scenario.Name+".cue", []byte(scenario.Config))
	}
	stores := cat.Stores()
	ids := make([]int64, 0, len(stores))
	for _, s := range stores {
		ids = append(ids, s.ID)
	}
	return config.Default(ids...), nil
}

func (h *Harness) records(ctx context.Context) ([]ir.IndexingRecord, error) {
	recs, err := h.store.Filter(ctx, queryir.Filter{EntityType: h.entityType})
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	if recs == nil {
		recs = []ir.IndexingRecord{}
	}
	return recs, nil
}

// executeStep runs one step and appends its trace event.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	before, err := h.records(ctx)
	if err != nil {
		return err
	}
	at := BaseTime.Add(time.Duration(i+1) * time.Second)

	ev := TraceEvent{Step: i, Type: step.Type()}
	var stepErr error
	var updates []ir.IndexingRecordUpdate
	deletion := false

	switch ev.Type {
	case StepEvent:
		deletion = step.Event.Kind == ir.EventDeleted
		ev.Detail = fmt.Sprintf("%s %d", step.Event.Kind, step.Event.EntityID)
		var b *engine.Batch
		b, stepErr = h.engine.Apply(ctx, *step.Event)
		if b != nil {
			ev.Seq = b.Seq
			ev.Updates = traceUpdates(b.Updates)
			ev.Deferred = updateKeys(b.Deferred)
			updates = b.Updates
		}

	case StepReevaluate:
		ev.Detail = step.Reevaluate
		var res *engine.ReevaluateResult
		res, stepErr = h.engine.Reevaluate(ctx, step.Reevaluate)
		if res != nil && res.Deferred > 0 {
			ev.Detail = fmt.Sprintf("%s (%d deferred)", step.Reevaluate, res.Deferred)
		}
		if stepErr == nil {
			after, err := h.records(ctx)
			if err != nil {
				return err
			}
			updates = diffRecords(before, after)
			ev.Updates = traceUpdates(updates)
			for _, k := range res.Conflicts {
				ev.Conflicts = append(ev.Conflicts, k.String())
			}
			if len(res.Conflicts) > 0 {
				stepErr = &engine.Error{
					Code:    engine.ErrCodeConflictingStockStatus,
					Message: fmt.Sprintf("%d stock conflict(s)", len(res.Conflicts)),
				}
			}
		}

	case StepPut:
		ev.Detail = fmt.Sprintf("entity %d", step.Put.ID)
		h.catalog.Put(*step.Put)
	case StepRemove:
		ev.Detail = fmt.Sprintf("entity %d", step.Remove)
		h.catalog.Remove(step.Remove)
	case StepStock:
		ev.Detail = fmt.Sprintf("entity %d scope %d in_stock=%t", step.Stock.EntityID, step.Stock.ScopeID, step.Stock.InStock)
		h.catalog.SetStock(step.Stock.EntityID, step.Stock.ScopeID, step.Stock.InStock)
	case StepLink:
		kind, err := parents.ParseKind(step.Link.Kind)
		if err != nil {
			return err
		}
		ev.Detail = fmt.Sprintf("%s %d -> %v", kind, step.Link.Parent, step.Link.Children)
		h.catalog.Link(kind, step.Link.Parent, step.Link.Children...)

	case StepLock:
		key := step.Lock.Key(h.entityType)
		ev.Detail = key.String()
		stepErr = h.store.SetLock(ctx, key, &at)
	case StepUnlock:
		key := step.Unlock.Key(h.entityType)
		ev.Detail = key.String()
		stepErr = h.store.SetLock(ctx, key, nil)
	case StepDispatch:
		key := step.Dispatch.Key(h.entityType)
		ev.Detail = key.String()
		stepErr = h.store.MarkDispatched(ctx, key, at)
	}

	if conflicts := conflictKeys(stepErr); conflicts != nil {
		ev.Conflicts = conflicts
	}
	if stepErr != nil {
		ev.Error = errorKind(stepErr)
	}
	h.checkExpect(i, step, stepErr, result)
	result.AddTrace(ev)

	after, err := h.records(ctx)
	if err != nil {
		return err
	}
	for _, v := range CheckUpdates(i, deletion, updates) {
		result.AddViolation(v)
	}
	if ev.Type == StepEvent || ev.Type == StepReevaluate {
		for _, v := range CheckLocks(i, before, after) {
			result.AddViolation(v)
		}
	}
	for _, v := range CheckRecords(i, after) {
		result.AddViolation(v)
	}

	h.logger.Info("step completed",
		"step", i,
		"type", ev.Type,
		"updates", len(ev.Updates),
		"error", ev.Error)
	return nil
}

// checkExpect compares a step's error with its expect clause.
func (h *Harness) checkExpect(i int, step Step, err error, result *Result) {
	want := ""
	if step.Expect != nil {
		want = step.Expect.Error
	}
	got := ""
	if err != nil {
		got = errorKind(err)
	}
	if got == want {
		return
	}
	switch {
	case want == "":
		result.AddError(fmt.Sprintf("step %d (%s): unexpected error: %v", i, step.Type(), err))
	case got == "":
		result.AddError(fmt.Sprintf("step %d (%s): expected %s error, got none", i, step.Type(), want))
	default:
		result.AddError(fmt.Sprintf("step %d (%s): expected %s error, got %v", i, step.Type(), want, err))
	}
}

// errorKind classifies a step error for the trace and expect clauses.
func errorKind(err error) string {
	switch {
	case engine.IsConflictError(err):
		return ExpectConflict
	case engine.IsInvalidArgument(err):
		return ExpectInvalidArgument
	case errors.Is(err, store.ErrRecordNotFound):
		return "record_not_found"
	default:
		return err.Error()
	}
}

func conflictKeys(err error) []string {
	var ce *engine.ConflictsError
	if !errors.As(err, &ce) {
		return nil
	}
	keys := ce.Keys()
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.String())
	}
	return out
}

// diffRecords derives updates from two record snapshots.
func diffRecords(before, after []ir.IndexingRecord) []ir.IndexingRecordUpdate {
	prev := make(map[ir.RecordKey]ir.IndexingRecord, len(before))
	for _, rec := range before {
		prev[rec.Key] = rec
	}
	var out []ir.IndexingRecordUpdate
	for _, rec := range after {
		b, ok := prev[rec.Key]
		u := ir.IndexingRecordUpdate{After: rec, Created: !ok}
		if ok {
			u.Before = &b
		}
		if u.Changed() {
			out = append(out, u)
		}
	}
	return out
}
