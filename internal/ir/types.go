package ir

import (
	"fmt"
	"time"
)

// NoParent is the TargetParentID of an entity's own standalone record.
const NoParent int64 = 0

// GlobalScope is the stock scope used when no store is supplied.
const GlobalScope int64 = 0

// VariantSuffix is appended to a parent's type id to form the subtype of
// a child's record under that parent (e.g. "configurable_variants").
const VariantSuffix = "_variants"

// Entity type ids the engine knows about by name.
const (
	TypeSimple       = "simple"
	TypeVirtual      = "virtual"
	TypeDownloadable = "downloadable"
	TypeConfigurable = "configurable"
	TypeBundle       = "bundle"
	TypeGrouped      = "grouped"
)

// VariantSubtype returns the subtype of a record representing a child
// under a parent of the given type.
func VariantSubtype(parentTypeID string) string {
	return parentTypeID + VariantSuffix
}

// RecordKey identifies an indexing record. At most one record exists per key.
// CRITICAL: RecordKey must stay comparable; it keys maps and the lock table.
type RecordKey struct {
	EntityType     string `json:"entity_type"`
	APIKey         string `json:"api_key"`
	TargetID       int64  `json:"target_id"`
	TargetParentID int64  `json:"target_parent_id"` // NoParent (0) for the standalone record
}

// Standalone reports whether the key addresses an entity's own record.
func (k RecordKey) Standalone() bool {
	return k.TargetParentID == NoParent
}

func (k RecordKey) String() string {
	return fmt.Sprintf("%s/%s/%d/%d", k.EntityType, k.APIKey, k.TargetID, k.TargetParentID)
}

// Less orders keys by (entity type, api key, target id, parent id).
// Lock acquisition and store reads use this order.
func (k RecordKey) Less(o RecordKey) bool {
	if k.EntityType != o.EntityType {
		return k.EntityType < o.EntityType
	}
	if k.APIKey != o.APIKey {
		return k.APIKey < o.APIKey
	}
	if k.TargetID != o.TargetID {
		return k.TargetID < o.TargetID
	}
	return k.TargetParentID < o.TargetParentID
}

// CompareKeys is a three-way comparison for slices.SortFunc.
func CompareKeys(a, b RecordKey) int {
	switch {
	case a == b:
		return 0
	case a.Less(b):
		return -1
	default:
		return 1
	}
}

// IndexingRecord is the persisted sync state of one target under one API key.
type IndexingRecord struct {
	Key          RecordKey  `json:"key"`
	Subtype      string     `json:"target_entity_subtype"`
	IsIndexable  bool       `json:"is_indexable"`
	NextAction   Action     `json:"next_action"`
	LastAction   Action     `json:"last_action"`
	LastActionAt *time.Time `json:"last_action_timestamp,omitempty"`
	LockedAt     *time.Time `json:"lock_timestamp,omitempty"`
}

// Locked reports whether a dispatcher currently owns the record.
func (r IndexingRecord) Locked() bool {
	return r.LockedAt != nil
}

// StockItem is the stock extension attached to an entity.
type StockItem struct {
	InStock bool `json:"in_stock" yaml:"in_stock"`
}

// Entity is a sellable catalog item.
type Entity struct {
	ID         int64      `json:"id" yaml:"id"`
	TypeID     string     `json:"type_id" yaml:"type_id"`
	SKU        string     `json:"sku" yaml:"sku"`
	Enabled    bool       `json:"enabled" yaml:"enabled"`
	Visibility Visibility `json:"visibility" yaml:"visibility"`
	StoreIDs   []int64    `json:"store_ids" yaml:"store_ids"`
	StockItem  *StockItem `json:"stock_item,omitempty" yaml:"stock_item,omitempty"`
	Available  bool       `json:"available" yaml:"available"`
	Salable    bool       `json:"salable" yaml:"salable"`
}

// InStore reports whether the entity is assigned to the store.
func (e Entity) InStore(storeID int64) bool {
	for _, id := range e.StoreIDs {
		if id == storeID {
			return true
		}
	}
	return false
}

// Visibility controls where an entity is shown in the storefront.
type Visibility string

const (
	VisibilityNotVisible Visibility = "not_visible"
	VisibilityCatalog    Visibility = "catalog"
	VisibilitySearch     Visibility = "search"
	VisibilityBoth       Visibility = "both"
)

// Searchable reports whether the visibility exposes the entity to search.
func (v Visibility) Searchable() bool {
	return v == VisibilitySearch || v == VisibilityBoth
}

// Store is a storefront view. Its stock scope is the website it belongs to.
type Store struct {
	ID        int64  `json:"id" yaml:"id"`
	Code      string `json:"code" yaml:"code"`
	WebsiteID int64  `json:"website_id" yaml:"website_id"`
}

// StockScope returns the stock registry scope of s, or GlobalScope if s is nil.
func (s *Store) StockScope() int64 {
	if s == nil {
		return GlobalScope
	}
	return s.WebsiteID
}

// IndexingRecordUpdate describes one proposed record mutation.
// Before is nil when the record does not exist yet.
type IndexingRecordUpdate struct {
	Before    *IndexingRecord `json:"before,omitempty"`
	After     IndexingRecord  `json:"after"`
	Created   bool            `json:"created"`
	Discarded bool            `json:"discarded"` // never-synced record removed by a deletion
}

// Changed reports whether applying the update alters persisted state.
func (u IndexingRecordUpdate) Changed() bool {
	if u.Before == nil {
		return true
	}
	b := u.Before
	return b.NextAction != u.After.NextAction ||
		b.IsIndexable != u.After.IsIndexable ||
		b.Subtype != u.After.Subtype
}
