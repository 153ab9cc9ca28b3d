package engine

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/catsync/internal/ir"
)

// Error represents an error detected while propagating a change event.
//
// Engine errors include:
//   - Conflicting stock status: stores that share a record disagree on stock
//   - Missing entity: an event references an entity the catalog cannot load
//   - Invalid argument: the event itself is malformed
//
// Error includes structured fields for diagnostics.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Key identifies the affected record, when there is one.
	Key *ir.RecordKey

	// Details contains additional context.
	Details map[string]string
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeConflictingStockStatus indicates stores backing one record
	// resolved different stock verdicts.
	ErrCodeConflictingStockStatus ErrorCode = "CONFLICTING_STOCK_STATUS"

	// ErrCodeMissingEntity indicates an event referenced an unknown entity.
	ErrCodeMissingEntity ErrorCode = "MISSING_ENTITY"

	// ErrCodeInvalidArgument indicates a malformed event.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Key != nil {
		return fmt.Sprintf("%s: %s (record=%s)", e.Code, e.Message, e.Key)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ConflictError reports one record whose stores resolved contradictory
// stock verdicts. The record is left untouched.
type ConflictError struct {
	APIKey     string
	Key        ir.RecordKey
	StockTrue  []int64 // store ids that resolved in stock
	StockFalse []int64 // store ids that resolved out of stock
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: record %s has in-stock stores %v and out-of-stock stores %v",
		ErrCodeConflictingStockStatus, e.Key, e.StockTrue, e.StockFalse)
}

// ConflictsError aggregates every conflict found while propagating one event.
// Updates for the remaining records are still produced.
type ConflictsError struct {
	Conflicts []*ConflictError
}

func (e *ConflictsError) Error() string {
	msgs := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		msgs = append(msgs, c.Error())
	}
	return fmt.Sprintf("%d stock conflict(s): %s", len(e.Conflicts), strings.Join(msgs, "; "))
}

// Unwrap exposes the individual conflicts to errors.As.
func (e *ConflictsError) Unwrap() []error {
	errs := make([]error, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		errs = append(errs, c)
	}
	return errs
}

// Keys returns the rejected record keys in order.
func (e *ConflictsError) Keys() []ir.RecordKey {
	keys := make([]ir.RecordKey, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		keys = append(keys, c.Key)
	}
	slices.SortFunc(keys, ir.CompareKeys)
	return keys
}

// IsConflictError returns true if err is or wraps a stock conflict.
// Uses errors.As to handle wrapped errors.
func IsConflictError(err error) bool {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return true
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Code == ErrCodeConflictingStockStatus
	}
	return false
}

// IsInvalidArgument returns true if err is an invalid-argument error.
func IsInvalidArgument(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Code == ErrCodeInvalidArgument
	}
	return false
}

// IsMissingEntity returns true if err is a missing-entity error.
func IsMissingEntity(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Code == ErrCodeMissingEntity
	}
	return false
}

// NewInvalidArgumentError creates an Error for a malformed event.
func NewInvalidArgumentError(errs []ir.ValidationError) *Error {
	msgs := make([]string, 0, len(errs))
	details := make(map[string]string, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Error())
		details[e.Field] = e.Message
	}
	return &Error{
		Code:    ErrCodeInvalidArgument,
		Message: strings.Join(msgs, "; "),
		Details: details,
	}
}

// NewMissingEntityError creates an Error for an entity the catalog cannot load.
func NewMissingEntityError(entityID int64) *Error {
	return &Error{
		Code:    ErrCodeMissingEntity,
		Message: fmt.Sprintf("entity %d not found", entityID),
		Details: map[string]string{
			"entity_id": fmt.Sprintf("%d", entityID),
		},
	}
}

func newConflictError(key ir.RecordKey, inStock, outOfStock []int64) *ConflictError {
	return &ConflictError{
		APIKey:     key.APIKey,
		Key:        key,
		StockTrue:  slices.Sorted(slices.Values(inStock)),
		StockFalse: slices.Sorted(slices.Values(outOfStock)),
	}
}
