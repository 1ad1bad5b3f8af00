// Package domain errors.go contains sentinel errors
package domain

import "errors"

// Sentinel domain-level errors reused by higher layers.
var (
	// ErrMalformedHeader reports a file whose first two lines do not form a
	// valid increment header: fewer than two lines, a missing prefix, or no
	// trailing token. Fatal to a validation run.
	ErrMalformedHeader = errors.New("malformed increment header")

	// ErrSourceRead reports a byte source that could not be opened or that
	// failed mid-read before both header lines were obtained. Fatal to a
	// validation run.
	ErrSourceRead = errors.New("source read failed")

	// ErrChainBroken reports a token mismatch under strict ordering, where
	// out-of-chain files halt the run instead of being skipped.
	ErrChainBroken = errors.New("increment chain broken")
)
