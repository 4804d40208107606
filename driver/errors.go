package driver

import "errors"

var (
	// ErrOutOfBounds reports address arithmetic outside the configured
	// geometry. It indicates a driver/geometry mismatch bug in the caller.
	ErrOutOfBounds = errors.New("driver: access out of bounds")

	// ErrUnaligned reports a write whose offset or length is not a whole
	// number of words.
	ErrUnaligned = errors.New("driver: unaligned write")

	// ErrBitSet reports a write that attempted to set an already-cleared
	// bit, which flash cannot do without an erase.
	ErrBitSet = errors.New("driver: write would set a cleared bit")

	// ErrWordBudget reports a word written more often than the declared
	// maximum since the last erase of its page.
	ErrWordBudget = errors.New("driver: word write budget exceeded")

	// ErrPowerLoss is returned by the memory backend when an armed
	// power-loss interruption fires mid-write. The bytes preceding the
	// interruption point are durable, the rest were never written.
	ErrPowerLoss = errors.New("driver: simulated power loss")

	// ErrNoStorage is returned by the Nop backend for every operation.
	ErrNoStorage = errors.New("driver: no storage backend")
)
