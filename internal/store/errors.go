package store

import "errors"

var (
	// ErrNotFound is returned by Find when the store does not contain the
	// key.
	ErrNotFound = errors.New("flint: key not found")

	// ErrInvalidArgument reports a key outside the declared range or a
	// value longer than the maximum encodable size. The operation was
	// rejected before any write.
	ErrInvalidArgument = errors.New("flint: invalid argument")

	// ErrNoSpaceLeft reports that the operation cannot fit even after
	// compaction. The caller can recover by deleting data.
	ErrNoSpaceLeft = errors.New("flint: no space left")

	// ErrCorrupted reports a checksum failure not attributable to a
	// power-loss tail, an invariant violation found while scanning, or a
	// torn write the store could not seal. The store refuses further
	// operations until explicitly cleared because its index can no longer
	// be trusted.
	ErrCorrupted = errors.New("flint: storage corrupted")
)
