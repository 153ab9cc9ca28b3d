// Package engine decides, for every indexing record touched by a catalog
// change, which synchronization action the record needs next.
//
// ARCHITECTURE:
//
// Action State Machine:
// Transition and TransitionDeleted are pure functions of the persisted
// record state, the freshly evaluated indexability and the changed
// aspects. They are table-driven; actions are never compared.
//
// Change Propagation:
// Propagator.Propagate turns one ChangeEvent into a Batch of record
// updates. It resolves the affected records (own record, variant records
// under each parent, each parent's own record), evaluates indexability and
// stock in every store of every API key, merges store verdicts per record
// and rejects records whose stores disagree on stock.
//
// Event Processing Flow:
// 1. Submit validates, journals and enqueues an event
// 2. Run dequeues events one at a time
// 3. Apply plans the affected keys, locks them in key order, reads the
// current records, runs the state machine and upserts the batch
// 4. The event is marked processed in the journal
//
// CRITICAL PATTERNS:
//
// Per-key serialization:
// Read-transition-persist for one record key never interleaves. Keys are
// locked sorted and deduplicated, so events sharing records cannot
// deadlock.
//
// Dispatcher locks:
// A record with a lock timestamp only accepts escalation to delete. The
// engine never sets or clears the lock itself.
//
// Deterministic output:
// Batch updates are sorted by record key. Batches are numbered by a
// logical Clock, never by wall-clock time.
package engine
