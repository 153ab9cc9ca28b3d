package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/catsync/internal/ir"
)

// JournalEntry is one accepted change event.
type JournalEntry struct {
	Seq         int64          `json:"seq"`
	Event       ir.ChangeEvent `json:"event"`
	ReceivedAt  time.Time      `json:"received_at"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
}

// WriteEvent appends an event to the journal.
// Returns the journal sequence and whether a new entry was inserted.
//
// Uses ON CONFLICT(id) DO NOTHING for idempotency. If the event id already
// exists, returns the existing sequence and inserted=false.
func (s *Store) WriteEvent(ctx context.Context, ev ir.ChangeEvent, receivedAt time.Time) (seq int64, inserted bool, err error) {
	if ev.ID == "" {
		return 0, false, fmt.Errorf("write event: id is required")
	}
	payload, err := marshalEvent(ev)
	if err != nil {
		return 0, false, fmt.Errorf("write event: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("write event: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO change_events (id, kind, entity_id, payload, received_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, ev.ID, string(ev.Kind), ev.EntityID, payload, receivedAt.UTC().UnixNano())
	if err != nil {
		return 0, false, fmt.Errorf("write event: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("write event: rows affected: %w", err)
	}

	// Insert won; otherwise look up the sequence of the existing entry
	if rowsAffected > 0 {
		seq, err = result.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("write event: last insert id: %w", err)
		}
		inserted = true
	} else {
		err = tx.QueryRowContext(ctx, `SELECT seq FROM change_events WHERE id = ?`, ev.ID).Scan(&seq)
		if err != nil {
			return 0, false, fmt.Errorf("write event: select existing: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("write event: commit: %w", err)
	}
	return seq, inserted, nil
}

// MarkEventProcessed stamps an event as fully applied.
// Marking an already processed event keeps the first timestamp.
func (s *Store) MarkEventProcessed(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE change_events SET processed_at = COALESCE(processed_at, ?) WHERE id = ?
	`, at.UTC().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark event processed: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("mark event processed: unknown event %s", id)
	}
	return nil
}

// UnprocessedEvents returns journaled events without a processed stamp,
// in journal order. Returns an empty slice (not nil) if there are none.
func (s *Store) UnprocessedEvents(ctx context.Context) ([]ir.ChangeEvent, error) {
	entries, err := s.readJournal(ctx, `WHERE processed_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("unprocessed events: %w", err)
	}
	events := make([]ir.ChangeEvent, len(entries))
	for i, e := range entries {
		events[i] = e.Event
	}
	return events, nil
}

// Journal returns every journal entry in journal order.
func (s *Store) Journal(ctx context.Context) ([]JournalEntry, error) {
	entries, err := s.readJournal(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	return entries, nil
}

func (s *Store) readJournal(ctx context.Context, where string) ([]JournalEntry, error) {
	// Sequence order is acceptance order
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, payload, received_at, processed_at
		FROM change_events `+where+`
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	entries := []JournalEntry{}
	for rows.Next() {
		var (
			e         JournalEntry
			id        string
			payload   string
			received  int64
			processed sql.NullInt64
		)
		if err := rows.Scan(&e.Seq, &id, &payload, &received, &processed); err != nil {
			return nil, fmt.Errorf("scan journal: %w", err)
		}
		e.Event, err = unmarshalEvent(id, payload)
		if err != nil {
			return nil, err
		}
		e.ReceivedAt = time.Unix(0, received).UTC()
		e.ProcessedAt = timeFromNull(processed)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return entries, nil
}
