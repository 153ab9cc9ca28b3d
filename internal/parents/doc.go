// Package parents resolves the parent ids of a target entity across the
// parent-capable relation kinds (configurable, bundle, grouped).
//
// Lookups are batched: one call per relation kind for a whole batch of
// targets. Resolution is best-effort. Missing targets and failed lookups
// are logged and contribute no parents; they never abort propagation.
package parents
