// Package flint is a persistent key-value store built directly on raw,
// erase-granular flash. It provides atomic multi-key transactions, survives
// power loss at any byte boundary, reclaims stale space without losing live
// data, and stays within the storage's per-word write budget.
package flint

import (
	"flint/driver"
	"flint/internal/store"
)

var _ ReadWriterCloser = (*Flint)(nil)

// Flint is a store handle. It assumes a single logical owner performing
// operations sequentially; callers needing concurrent access serialize it
// themselves.
type Flint struct {
	store *store.Store
}

// Open replays the log on the given storage driver, rebuilds the in-memory
// index, and returns a handle positioned at the log tail. A partial
// transaction left by a power loss is discarded here, silently: that is
// expected behavior, not an error.
func Open(drv driver.Driver, options ...Option) (*Flint, error) {
	var cfg store.Config
	for _, option := range options {
		option.apply(&cfg)
	}
	st, err := store.Open(drv, cfg)
	if err != nil {
		return nil, err
	}
	return &Flint{store: st}, nil
}

func (f *Flint) Find(key uint16) ([]byte, error) {
	return f.store.Find(key)
}

func (f *Flint) Insert(key uint16, value []byte) error {
	return f.store.Insert(key, value)
}

func (f *Flint) Remove(key uint16) error {
	return f.store.Remove(key)
}

func (f *Flint) Transaction(ops []Op) error {
	return f.store.Transaction(ops)
}

func (f *Flint) Clear() error {
	return f.store.Clear()
}

func (f *Flint) Capacity() uint {
	return f.store.Capacity()
}

func (f *Flint) Used() uint {
	return f.store.Used()
}

// NewFragmentWriter streams a value larger than MaxValueLen into the store;
// the value becomes visible atomically when the writer commits.
func (f *Flint) NewFragmentWriter(key uint16) (*store.FragmentWriter, error) {
	return f.store.NewFragmentWriter(key)
}

// NewFragmentReader streams a stored value out without assembling it in
// memory.
func (f *Flint) NewFragmentReader(key uint16) (*store.FragmentReader, error) {
	return f.store.NewFragmentReader(key)
}

func (f *Flint) Close() error {
	return f.store.Close()
}
