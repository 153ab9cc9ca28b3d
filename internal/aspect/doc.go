// Package aspect classifies changed attribute codes into semantic aspects.
//
// A Classifier is built once from a code-derived default table merged with
// administrator overrides. It is immutable after construction and safe for
// concurrent use.
//
// Codes are folded (trimmed, NFC normalized, case folded) on both build and
// lookup, so "Price" and "price" address the same mapping entry.
package aspect
