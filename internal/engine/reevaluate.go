package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/catsync/internal/ir"
	"github.com/roach88/catsync/internal/queryir"
)

// ReevaluateResult summarises one re-evaluation pass.
type ReevaluateResult struct {
	APIKey    string         `json:"api_key"`
	Scanned   int            `json:"scanned"`
	Updates   int            `json:"updates"`
	Persisted int            `json:"persisted"`
	Deferred  int            `json:"deferred"`
	Conflicts []ir.RecordKey `json:"conflicts"`
	Missing   []int64        `json:"missing"`
	Skipped   []ir.RecordKey `json:"skipped"`
}

// Reevaluate re-checks every record of apiKey against the current catalog
// without a triggering event.
//
// Records are read in key order, one page at a time. Each record's
// indexability is recomputed across the API key's stores and the state
// machine runs with an empty aspect set, so only indexability changes move
// next_action. Records whose entity no longer exists are reported as
// missing and left alone; removal needs an explicit deletion event.
func (e *Engine) Reevaluate(ctx context.Context, apiKey string) (*ReevaluateResult, error) {
	k, ok := e.prop.cfg.APIKey(apiKey)
	if !ok {
		return nil, &Error{
			Code:    ErrCodeInvalidArgument,
			Message: fmt.Sprintf("unknown api key %q", apiKey),
		}
	}

	res := &ReevaluateResult{
		APIKey:    apiKey,
		Conflicts: []ir.RecordKey{},
		Missing:   []int64{},
		Skipped:   []ir.RecordKey{},
	}

	var cursor *ir.RecordKey
	for {
		page, err := e.records.Filter(ctx, queryir.Filter{
			EntityType: e.prop.cfg.EntityType,
			APIKey:     apiKey,
			After:      cursor,
			Limit:      e.opts.pageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("reevaluate %q: %w", apiKey, err)
		}
		if len(page) == 0 {
			break
		}
		res.Scanned += len(page)

		if err := e.reevaluatePage(ctx, k, page, res); err != nil {
			return nil, fmt.Errorf("reevaluate %q: %w", apiKey, err)
		}

		last := page[len(page)-1].Key
		cursor = &last
		if len(page) < e.opts.pageSize {
			break
		}
	}

	slices.SortFunc(res.Conflicts, ir.CompareKeys)
	slices.Sort(res.Missing)
	res.Missing = slices.Compact(res.Missing)
	slices.SortFunc(res.Skipped, ir.CompareKeys)

	e.opts.logger.Info("reevaluation finished",
		"api_key", apiKey,
		"scanned", res.Scanned,
		"updates", res.Updates,
		"persisted", res.Persisted,
		"deferred", res.Deferred,
		"conflicts", len(res.Conflicts),
		"missing", len(res.Missing),
		"skipped", len(res.Skipped))
	return res, nil
}

func (e *Engine) reevaluatePage(ctx context.Context, k APIKey, page []ir.IndexingRecord, res *ReevaluateResult) error {
	ids := make([]int64, 0, len(page)*2)
	for _, rec := range page {
		ids = append(ids, rec.Key.TargetID)
		if !rec.Key.Standalone() {
			ids = append(ids, rec.Key.TargetParentID)
		}
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	entities, err := e.prop.collab.Entities.Entities(ctx, ids)
	if err != nil {
		return fmt.Errorf("load entities: %w", err)
	}

	pl := &plan{verdicts: make(map[ir.RecordKey]verdict)}
	targets := make([]target, 0, len(page))
	for _, rec := range page {
		entity, ok := entities[rec.Key.TargetID]
		if !ok {
			e.prop.missingEntity(pl, rec.Key.TargetID, "target")
			continue
		}
		t := target{
			entity:   entity,
			targetID: rec.Key.TargetID,
			parentID: rec.Key.TargetParentID,
			subtype:  entity.TypeID,
		}
		if !rec.Key.Standalone() {
			parent, ok := entities[rec.Key.TargetParentID]
			if !ok {
				e.prop.missingEntity(pl, rec.Key.TargetParentID, "parent")
				continue
			}
			t.parent = &parent
			t.subtype = ir.VariantSubtype(parent.TypeID)
		}
		targets = append(targets, t)
	}

	if len(targets) > 0 {
		if err := e.prop.evaluateTargets(ctx, pl, k.Key, k.Stores, targets, e.prop.stockResolver()); err != nil {
			return err
		}
	}

	b, err := e.commit(ctx, pl)
	if b == nil {
		return err
	}
	res.Updates += len(b.Updates)
	res.Persisted += b.Persisted
	res.Deferred += len(b.Deferred)
	res.Missing = append(res.Missing, b.Missing...)
	res.Skipped = append(res.Skipped, b.Skipped...)
	if ce := conflictsOf(err); ce != nil {
		res.Conflicts = append(res.Conflicts, ce.Keys()...)
	}
	return nil
}
