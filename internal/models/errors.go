package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNormalization marks a raw record that could not be normalized
	ErrNormalization = errors.New("normalization failed")

	// ErrCommitConflict is returned by a store when the expected version is stale
	ErrCommitConflict = errors.New("commit conflict")

	// ErrStoreUnavailable wraps backing store failures surfaced to callers
	ErrStoreUnavailable = errors.New("store unavailable")
)

// NormalizationError describes one dropped raw record
type NormalizationError struct {
	Index  int
	Book   string
	Field  string
	Reason string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("record %d (book=%s): invalid %s: %s", e.Index, e.Book, e.Field, e.Reason)
}

func (e *NormalizationError) Unwrap() error {
	return ErrNormalization
}
