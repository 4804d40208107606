// Package store implements a power-loss safe key-value store on raw,
// erase-granular flash. Entries are appended to a log laid out over a ring
// of pages; an in-memory index maps each key to its single live entry and is
// rebuilt by scanning the log at open. Multi-key transactions are written as
// a contiguous checksummed run that recovery observes completely or not at
// all, and a compactor relocates live entries off the oldest page to reclaim
// stale bytes, rotating wear across the ring.
//
// The store assumes a single logical owner performing operations
// sequentially; nothing here is safe for concurrent mutation.
package store

import (
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"flint/driver"
	"flint/internal/format"
	"flint/internal/index"
	"flint/metrics"
)

const (
	// MaxKey is the largest addressable key.
	MaxKey = format.MaxKey
	// MaxValueLen is the largest value accepted by Insert and Transaction.
	MaxValueLen = format.MaxValueLen

	// minPageSize keeps the fragment arithmetic honest: a page must hold
	// its header and at least two minimum fragments.
	minPageSize = 64
)

// Config carries the store's ambient collaborators.
type Config struct {
	// Logger receives structured store events. Defaults to the logrus
	// standard logger.
	Logger logrus.FieldLogger
}

// Store is the engine. Obtain one with Open.
type Store struct {
	drv    driver.Driver
	idx    *index.Index
	log    *logStore
	logger logrus.FieldLogger

	// corrupted locks the store after a fault that the recovery protocol
	// cannot explain as a power loss: the index can no longer be trusted,
	// so every operation fails until Clear.
	corrupted bool
}

// Open validates the driver's geometry, replays the log to rebuild the
// index, and positions the write cursor at the tail. A driver with zero
// pages (the no-storage backend) yields an empty store with zero capacity.
func Open(drv driver.Driver, cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	if drv.NumPages() > 0 {
		geo := driver.Geometry{
			WordSize:      drv.WordSize(),
			PageSize:      drv.PageSize(),
			NumPages:      drv.NumPages(),
			MaxWordWrites: drv.MaxWordWrites(),
		}
		if err := geo.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		if drv.PageSize() < minPageSize {
			return nil, fmt.Errorf("%w: page size %d below minimum %d", ErrInvalidArgument, drv.PageSize(), minPageSize)
		}
		if drv.NumPages() < 2 {
			return nil, fmt.Errorf("%w: at least 2 pages required, got %d", ErrInvalidArgument, drv.NumPages())
		}
	}

	res, err := scan(drv)
	if err != nil {
		return nil, err
	}

	if !res.corrupt && res.used > 0 && res.used == drv.NumPages() {
		// Every page allocated means a crash hit between a compaction
		// (or oversized relocation) claiming the last free page and the
		// drained page's erase. The tail holds only relocation copies or
		// torn fragments, and the originals are still live in earlier
		// pages, so erasing the tail restores the headroom invariant
		// without losing anything.
		logger.WithField("page", res.tail).Info("completing interrupted compaction")
		if err := drv.ErasePage(res.tail); err != nil {
			return nil, fmt.Errorf("%w: failed to erase page %d: %v", ErrCorrupted, res.tail, err)
		}
		metrics.PagesErasedTotal.Inc()
		if res, err = scan(drv); err != nil {
			return nil, err
		}
	}

	l := newLogStore(drv)
	l.head = res.head
	l.tail = res.tail
	l.cursor = res.cursor
	l.used = res.used
	l.seq = res.seq
	copy(l.needsErase, res.needsErase)

	s := &Store{
		drv:       drv,
		idx:       res.idx,
		log:       l,
		logger:    logger,
		corrupted: res.corrupt,
	}

	metrics.RecoveredEntriesTotal.Add(float64(res.entries))
	metrics.LiveBytes.Set(float64(s.idx.Used()))

	s.logger.WithFields(logrus.Fields{
		"pages":      drv.NumPages(),
		"page_size":  humanize.IBytes(uint64(drv.PageSize())),
		"capacity":   humanize.IBytes(uint64(l.capacity())),
		"live_keys":  s.idx.Len(),
		"live_bytes": humanize.IBytes(uint64(s.idx.Used())),
	}).Info("store opened")
	if s.corrupted {
		s.logger.Warn("storage corrupted; store locked until cleared")
	}
	return s, nil
}

// Find returns the value stored for key, or ErrNotFound.
func (s *Store) Find(key uint16) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	if s.corrupted {
		return nil, ErrCorrupted
	}
	loc, ok := s.idx.Lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	value, err := s.log.readEntry(loc)
	if err != nil {
		if errors.Is(err, ErrCorrupted) {
			// The index pointed at an entry that no longer decodes.
			s.corrupted = true
		}
		return nil, err
	}
	return value, nil
}

// Insert sets the value for key, superseding any previous value.
func (s *Store) Insert(key uint16, value []byte) error {
	return s.Transaction([]Op{{Key: key, Value: value}})
}

// Remove deletes the value for key. Removing an absent key succeeds.
func (s *Store) Remove(key uint16) error {
	return s.Transaction([]Op{{Key: key, Delete: true}})
}

// Capacity is the total byte budget available to live entries: every page
// except the one reserved for compaction headroom.
func (s *Store) Capacity() uint {
	return s.log.capacity()
}

// Used is the summed on-flash footprint of the live entries. It is derived
// from the index alone, so stale garbage never skews it.
func (s *Store) Used() uint {
	return s.idx.Used()
}

// Clear erases every page and resets the store to factory state. It is the
// one operation that unlocks a corrupted store.
func (s *Store) Clear() error {
	var errs *multierror.Error
	for p := uint(0); p < s.log.pages; p++ {
		if err := s.drv.ErasePage(p); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to erase page %d: %w", p, err))
			continue
		}
		metrics.PagesErasedTotal.Inc()
	}
	if err := errs.ErrorOrNil(); err != nil {
		return err
	}
	s.idx.Reset()
	s.log.reset()
	s.corrupted = false
	metrics.LiveBytes.Set(0)
	s.logger.Info("store cleared")
	return nil
}

// Close releases the driver if it holds resources. The store itself keeps
// no state that needs flushing: every committed mutation is already on
// flash.
func (s *Store) Close() error {
	if c, ok := s.drv.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("failed to close storage driver: %w", err)
		}
	}
	return nil
}
