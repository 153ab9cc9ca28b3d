// Package ir defines the shared vocabulary of the catalog sync engine.
//
// This package contains plain data types and pure helpers only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Entities are typed structs with a fixed field set, never property bags
//   - A RecordKey is comparable so it can index maps and lock tables
//   - TargetParentID == NoParent (0) denotes an entity's standalone record
//   - All JSON tags use snake_case
package ir
