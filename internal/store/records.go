package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/catsync/internal/ir"
	"github.com/roach88/catsync/internal/queryir"
	"github.com/roach88/catsync/internal/querysql"
)

// Get returns the records of the given targets under one API key, in key
// order. Passing parentIDs narrows the result to those parent ids (use
// ir.NoParent for standalone records); without it every parent matches.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) Get(ctx context.Context, entityType, apiKey string, targetIDs []int64, parentIDs ...int64) ([]ir.IndexingRecord, error) {
	if len(targetIDs) == 0 {
		return []ir.IndexingRecord{}, nil
	}

	preds := []queryir.Predicate{
		queryir.In{Field: queryir.FieldTargetID, Values: int64Values(targetIDs)},
	}
	if len(parentIDs) > 0 {
		preds = append(preds, queryir.In{Field: queryir.FieldTargetParentID, Values: int64Values(parentIDs)})
	}

	records, err := s.Filter(ctx, queryir.Filter{
		EntityType: entityType,
		APIKey:     apiKey,
		Where:      queryir.And{Predicates: preds},
	})
	if err != nil {
		return nil, fmt.Errorf("get records: %w", err)
	}
	return records, nil
}

// Filter returns the records matching f, in key order.
func (s *Store) Filter(ctx context.Context, f queryir.Filter) ([]ir.IndexingRecord, error) {
	query, params, err := querysql.Compile(f)
	if err != nil {
		return nil, fmt.Errorf("filter records: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []ir.IndexingRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// Upsert writes records in a single transaction.
//
// New rows are inserted with every column. Existing rows only receive the
// engine-owned columns (subtype, is_indexable, next_action). A locked
// row only accepts a write that queues a delete; other writes to it are
// skipped.
//
// Returns the number of rows written.
func (s *Store) Upsert(ctx context.Context, records []ir.IndexingRecord) (int, error) {
	// Validate everything before touching the database
	for i := range records {
		if errs := records[i].Validate(); len(errs) > 0 {
			return 0, fmt.Errorf("upsert: record %s: %s", records[i].Key, errs[0].Error())
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("upsert: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO indexing_records
		(entity_type, api_key, target_id, target_parent_id, target_entity_subtype,
		 is_indexable, next_action, last_action, last_action_at, locked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, api_key, target_id, target_parent_id) DO UPDATE SET
			target_entity_subtype = excluded.target_entity_subtype,
			is_indexable = excluded.is_indexable,
			next_action = excluded.next_action
		WHERE indexing_records.locked_at IS NULL OR excluded.next_action = 'delete'
	`)
	if err != nil {
		return 0, fmt.Errorf("upsert: prepare: %w", err)
	}
	defer stmt.Close()

	written := 0
	for _, r := range records {
		res, err := stmt.ExecContext(ctx,
			r.Key.EntityType,
			r.Key.APIKey,
			r.Key.TargetID,
			r.Key.TargetParentID,
			r.Subtype,
			boolParam(r.IsIndexable),
			string(r.NextAction),
			string(r.LastAction),
			timeParam(r.LastActionAt),
			timeParam(r.LockedAt),
		)
		if err != nil {
			return 0, fmt.Errorf("upsert: record %s: %w", r.Key, err)
		}
		// Zero rows: the conflict WHERE skipped a locked record
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("upsert: rows affected: %w", err)
		}
		written += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("upsert: commit: %w", err)
	}
	return written, nil
}

// Seed writes records verbatim, dispatcher-owned columns included,
// replacing existing rows. Used to load fixtures and scenario state.
func (s *Store) Seed(ctx context.Context, records []ir.IndexingRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("seed: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, r := range records {
		if errs := r.Validate(); len(errs) > 0 {
			return fmt.Errorf("seed: record %s: %s", r.Key, errs[0].Error())
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO indexing_records
			(entity_type, api_key, target_id, target_parent_id, target_entity_subtype,
			 is_indexable, next_action, last_action, last_action_at, locked_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(entity_type, api_key, target_id, target_parent_id) DO UPDATE SET
				target_entity_subtype = excluded.target_entity_subtype,
				is_indexable = excluded.is_indexable,
				next_action = excluded.next_action,
				last_action = excluded.last_action,
				last_action_at = excluded.last_action_at,
				locked_at = excluded.locked_at
		`,
			r.Key.EntityType, r.Key.APIKey, r.Key.TargetID, r.Key.TargetParentID, r.Subtype,
			boolParam(r.IsIndexable), string(r.NextAction), string(r.LastAction),
			timeParam(r.LastActionAt), timeParam(r.LockedAt),
		)
		if err != nil {
			return fmt.Errorf("seed: record %s: %w", r.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("seed: commit: %w", err)
	}
	return nil
}

// SetLock sets or clears (at == nil) the dispatch lock of a record.
// Dispatcher API: the engine never calls it.
func (s *Store) SetLock(ctx context.Context, key ir.RecordKey, at *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE indexing_records SET locked_at = ?
		WHERE entity_type = ? AND api_key = ? AND target_id = ? AND target_parent_id = ?
	`, timeParam(at), key.EntityType, key.APIKey, key.TargetID, key.TargetParentID)
	if err != nil {
		return fmt.Errorf("set lock %s: %w", key, err)
	}
	return requireOneRow(res, key)
}

// MarkDispatched records a successful dispatch: the queued action becomes
// the last action, the queue is cleared and the lock released.
// Dispatcher API: the engine never calls it.
func (s *Store) MarkDispatched(ctx context.Context, key ir.RecordKey, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE indexing_records
		SET last_action = next_action,
		    last_action_at = ?,
		    next_action = 'no_action',
		    locked_at = NULL
		WHERE entity_type = ? AND api_key = ? AND target_id = ? AND target_parent_id = ?
		  AND next_action != 'no_action'
	`, timeParam(&at), key.EntityType, key.APIKey, key.TargetID, key.TargetParentID)
	if err != nil {
		return fmt.Errorf("mark dispatched %s: %w", key, err)
	}
	return requireOneRow(res, key)
}

// CountRecords returns the number of records of an entity type.
func (s *Store) CountRecords(ctx context.Context, entityType string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM indexing_records WHERE entity_type = ?", entityType,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// ErrRecordNotFound is returned when a dispatcher call addresses no row.
var ErrRecordNotFound = errors.New("record not found")

func requireOneRow(res sql.Result, key ir.RecordKey) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", key, ErrRecordNotFound)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord scans columns in querysql.RecordColumns order.
func scanRecord(row rowScanner) (ir.IndexingRecord, error) {
	var (
		r          ir.IndexingRecord
		indexable  int64
		next, last string
		lastAt     sql.NullInt64
		lockedAt   sql.NullInt64
	)
	err := row.Scan(
		&r.Key.EntityType,
		&r.Key.APIKey,
		&r.Key.TargetID,
		&r.Key.TargetParentID,
		&r.Subtype,
		&indexable,
		&next,
		&last,
		&lastAt,
		&lockedAt,
	)
	if err != nil {
		return ir.IndexingRecord{}, fmt.Errorf("scan record: %w", err)
	}
	r.IsIndexable = indexable != 0
	r.NextAction = ir.Action(next)
	r.LastAction = ir.Action(last)
	r.LastActionAt = timeFromNull(lastAt)
	r.LockedAt = timeFromNull(lockedAt)
	return r, nil
}

func int64Values(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
