// Package harness runs reconciliation scenarios against the real engine.
//
// A scenario is a YAML file holding a catalog snapshot, an optional CUE
// engine configuration, seeded indexing records, a sequence of steps and
// assertions. Steps apply change events, edit the catalog between events,
// act as the downstream dispatcher (lock, unlock, dispatch) or trigger a
// re-evaluation pass.
//
// Each scenario runs in a fresh in-memory SQLite store with a
// deterministic batch clock and wall clock, so the same scenario always
// produces the same trace. After every step the harness checks the
// record invariants:
//   - no_silent_deletion: losing indexability never queues delete
//   - never_synced_delete: delete is only queued for synced records
//   - resurrection_collapses_to_update: a pending delete superseded by a
//     change becomes update
//   - add_stickiness: a pending add stays add while indexable
//   - lock_respected: locked records keep their lock and only escalate
//     to delete
//
// Example scenario:
//
//	name: price_change_updates
//	description: a watched price change queues an update
//	catalog:
//	  stores: [{id: 1, code: en, website_id: 1}]
//	  entities: [{id: 5, type_id: simple, enabled: true, store_ids: [1]}]
//	records:
//	  - {target: 5, subtype: simple, indexable: true, last: add}
//	steps:
//	  - event: {kind: saved, entity_id: 5, changed_attributes: [price]}
//	assertions:
//	  - type: record
//	    key: {target: 5}
//	    expect: {next_action: update}
//
// Snapshots of the trace and final records can be compared against
// golden files with RunWithGolden.
package harness
