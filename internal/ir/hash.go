package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainEvent       = "catsync/event/v1"
	DomainRecordState = "catsync/records/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EventID computes the content-addressed id of a change event.
// Redelivering the same notification yields the same id, which lets the
// journal drop duplicates.
func EventID(ev *ChangeEvent) (string, error) {
	canonical, err := MarshalCanonical(ev.Canonical())
	if err != nil {
		return "", fmt.Errorf("EventID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainEvent, canonical), nil
}

// MustEventID is like EventID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustEventID(ev *ChangeEvent) string {
	id, err := EventID(ev)
	if err != nil {
		panic(err)
	}
	return id
}

// RecordStateDigest hashes the engine-owned state of records, in the given
// order: key, subtype, indexability and both actions. Timestamps and
// locks belong to the dispatcher and are left out.
func RecordStateDigest(records []IndexingRecord) (string, error) {
	state := make([]any, len(records))
	for i, r := range records {
		state[i] = map[string]any{
			"key":          r.Key.String(),
			"subtype":      r.Subtype,
			"is_indexable": r.IsIndexable,
			"next_action":  string(r.NextAction),
			"last_action":  string(r.LastAction),
		}
	}
	canonical, err := MarshalCanonical(state)
	if err != nil {
		return "", fmt.Errorf("RecordStateDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainRecordState, canonical), nil
}
