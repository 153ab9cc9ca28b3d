// Package stock resolves the in-stock verdict of an entity.
//
// Four strategies are supported, selected once per deployment:
//
//	stock_item      precomputed flag on the entity's stock item,
//	                falling back to stock_registry when absent
//	stock_registry  registry lookup keyed by entity id and stock scope
//	is_available    the entity's own availability flag
//	is_salable      the entity's own salability flag
//
// CRITICAL: resolution never returns an error. A malformed strategy falls
// back to stock_registry with a warning, and registry failures are logged
// and read as out of stock.
//
// When a parent is supplied, the parent's own verdict dominates: an
// out-of-stock parent makes every child out of stock without evaluating
// the child.
package stock
