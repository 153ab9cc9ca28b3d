// Package queryir provides a small intermediate representation for
// filtering indexing records.
//
// A Filter scopes a scan to one entity type (and optionally one API key)
// and narrows it with a predicate tree. Backends compile filters; the
// SQLite backend lives in package querysql.
//
// SEALED INTERFACES:
//
// Predicate is a sealed interface using the marker method pattern. Only
// types in this package implement it, so backends can switch exhaustively:
//
//	switch p := pred.(type) {
//	case Equals:
//	case In:
//	case And:
//	case Or:
//	case Not:
//	case Locked:
//	}
//
// Values are restricted to string, int64 and bool. Each field accepts
// exactly one of those kinds; Validate reports mismatches.
//
// Results are always ordered by record key. Filter.After resumes a scan
// after a key (keyset pagination), which is how batch re-evaluation
// walks large tables.
package queryir
