package flint

import "io"

type ReadWriterCloser interface {
	Reader
	Writer
	io.Closer
}

type Reader interface {
	// Find returns the value stored for the given key. It returns
	// ErrNotFound if the store does not contain the key.
	//
	// The returned slice is the caller's to keep; it does not alias
	// storage buffers.
	Find(key uint16) ([]byte, error)
}

type Writer interface {
	// Insert sets the value for the given key, overwriting any previous
	// value for that key if it exists, and inserting the key-value pair
	// if it does not.
	Insert(key uint16, value []byte) error

	// Remove deletes the value for the given key. It is a blind delete,
	// i.e. it does not return an error if the key does not exist.
	Remove(key uint16) error

	// Transaction applies the ordered operations as one atomic unit:
	// after a power loss, either every operation is observed or none is.
	Transaction(ops []Op) error

	// Clear erases all storage and resets the store to empty. Factory
	// reset; it also unlocks a store that reported corruption.
	Clear() error
}
