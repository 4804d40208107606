package flint

import "flint/internal/store"

// Op is one key mutation inside a transaction.
type Op = store.Op

// Limits enforced by InvalidArgument checks.
const (
	MaxKey      = store.MaxKey
	MaxValueLen = store.MaxValueLen
)

var (
	// ErrNotFound is returned by Find when the store does not contain the
	// key.
	ErrNotFound = store.ErrNotFound

	// ErrInvalidArgument reports a key or value outside the declared
	// limits; nothing was written.
	ErrInvalidArgument = store.ErrInvalidArgument

	// ErrNoSpaceLeft reports an operation that cannot fit even after
	// compaction; deleting data recovers.
	ErrNoSpaceLeft = store.ErrNoSpaceLeft

	// ErrCorrupted reports damage the recovery protocol cannot attribute
	// to a power loss. The store locks until Clear.
	ErrCorrupted = store.ErrCorrupted
)
