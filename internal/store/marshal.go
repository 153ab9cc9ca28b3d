package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/catsync/internal/ir"
)

// marshalEvent converts an event to canonical JSON TEXT for the journal.
// The id is stored in its own column and is not part of the payload.
func marshalEvent(ev ir.ChangeEvent) (string, error) {
	data, err := ir.MarshalCanonical(ev.Canonical())
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	return string(data), nil
}

// unmarshalEvent parses a journal payload. The payload keys match the
// ChangeEvent JSON tags.
func unmarshalEvent(id, payload string) (ir.ChangeEvent, error) {
	var ev ir.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ir.ChangeEvent{}, fmt.Errorf("unmarshal event %s: %w", id, err)
	}
	ev.ID = id
	if len(ev.ChangedAttributes) == 0 {
		ev.ChangedAttributes = nil
	}
	if len(ev.StoreIDs) == 0 {
		ev.StoreIDs = nil
	}
	return ev, nil
}

// Timestamps are stored as INTEGER unix nanoseconds in UTC.

func timeParam(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixNano()
}

func timeFromNull(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}

func boolParam(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
