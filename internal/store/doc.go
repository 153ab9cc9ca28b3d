// Package store provides SQLite-backed durable storage for catsync.
//
// Two tables:
//   - indexing_records: one row per (entity_type, api_key, target_id,
//     target_parent_id); the sync state consumed by a downstream dispatcher
//   - change_events: the journal of accepted change notifications, keyed by
//     content-addressed event id
//
// # Critical Patterns
//
// Record uniqueness
//   - UNIQUE(entity_type, api_key, target_id, target_parent_id)
//   - target_parent_id is NOT NULL; 0 denotes the standalone record.
//     SQLite treats NULLs as distinct in UNIQUE indexes, so a nullable
//     column would allow duplicate standalone rows.
//
// Dispatcher-owned columns
//   - Upsert never writes last_action, last_action_at or locked_at on an
//     existing row. Those belong to the dispatcher (MarkDispatched, SetLock).
//   - Upsert on a locked row only lands when it queues a delete.
//
// Deterministic reads
//   - Every record read is ORDER BY the record key; journal reads are
//     ORDER BY seq.
//
// Idempotent journal
//   - WriteEvent uses ON CONFLICT(id) DO NOTHING and reports whether the
//     event was new, so duplicate deliveries are dropped.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON
package store
