package store

import (
	"bytes"
	"fmt"

	"flint/internal/format"
	"flint/internal/index"
	"flint/metrics"

	"github.com/sirupsen/logrus"
)

// ensureSpace guarantees that the planned operation can be appended without
// touching the compaction headroom, compacting eagerly until it can. It
// fails with ErrNoSpaceLeft when even a fully compacted log cannot fit the
// operation. The plan is re-evaluated after every compaction cycle because
// the cursor, and with it the exact layout of the pending operation, moves.
//
// Headroom is one reserved page, plus extra pages scaled to the widest entry
// that will be live after the operation: relocating a span-n entry starts on
// a fresh page and takes n of them, and the tail remainder, though counted
// free, is abandoned by such an append. Keeping span full pages of slack
// guarantees the compactor can always re-append the widest resident. relief
// marks operations that only shrink the live set (tombstones); they are
// exempt from the span headroom so a full store can always be emptied.
func (s *Store) ensureSpace(plan func() (uint, uint), relief bool) error {
	if s.log.capacity() == 0 {
		return ErrNoSpaceLeft
	}
	for rounds := uint(0); ; rounds++ {
		need, span := plan()
		reserve := uint(0)
		if !relief {
			if m := s.liveMaxSpan(); m > span {
				span = m
			}
			if span > 1 {
				reserve = span * s.log.usable
			}
		}
		if need+reserve > s.log.capacity() {
			return ErrNoSpaceLeft
		}
		if s.log.free() >= need+reserve {
			return nil
		}
		if rounds >= s.log.pages {
			return ErrNoSpaceLeft
		}
		progressed, err := s.compact()
		if err != nil {
			return err
		}
		if !progressed {
			return ErrNoSpaceLeft
		}
	}
}

// liveMaxSpan returns the page span of the widest live entry.
func (s *Store) liveMaxSpan() uint {
	span := uint(1)
	s.idx.Range(func(_ uint16, loc index.Location) bool {
		if v := s.log.spanOf(loc.Size); v > span {
			span = v
		}
		return true
	})
	return span
}

// compact drains the oldest used page and returns it to the free set. Every
// entry in that page still referenced by the index is re-appended at the
// cursor and verified by re-reading before the page is erased, so an
// interruption at any point leaves either the old copy valid or both; the
// newer one wins at replay. Tombstones and superseded entries are never
// referenced, so they simply vanish with the page.
//
// Relocation is an internal write with no transaction framing, and it may
// consume the reserved headroom; the page erased at the end repays it.
func (s *Store) compact() (bool, error) {
	l := s.log
	if l.used == 0 || l.pages < 2 {
		return false, nil
	}
	p := l.head
	if l.used == 1 {
		// The head is also the write target. Move the cursor onto the
		// reserved page first so the head can be drained and erased.
		if err := l.allocPage(); err != nil {
			return false, err
		}
	}
	start, end := p*l.page, (p+1)*l.page

	type victim struct {
		key uint16
		loc index.Location
	}
	var victims []victim
	s.idx.Range(func(key uint16, loc index.Location) bool {
		if loc.Offset >= start && loc.Offset < end {
			victims = append(victims, victim{key: key, loc: loc})
		}
		return true
	})

	for _, v := range victims {
		// Refuse cleanly if the relocation would need pages the ring does
		// not have; no byte has been written for this entry yet.
		plans, _, _ := l.planFrom(l.remaining(), v.loc.Length)
		var allocs uint
		for _, fp := range plans {
			if fp.newPage {
				allocs++
			}
		}
		if allocs > l.pages-l.used {
			return false, ErrNoSpaceLeft
		}

		value, err := l.readEntry(v.loc)
		if err != nil {
			s.corrupted = true
			return false, fmt.Errorf("failed to relocate key %d: %w", v.key, err)
		}
		newLoc, err := l.appendEntry(format.Fragment{Key: v.key, Payload: value})
		if err != nil {
			return false, s.fail(err)
		}
		check, err := l.readEntry(newLoc)
		if err != nil || !bytes.Equal(check, value) {
			s.corrupted = true
			return false, fmt.Errorf("%w: relocated copy of key %d does not verify", ErrCorrupted, v.key)
		}
		s.idx.Insert(v.key, newLoc)
		metrics.RelocatedEntriesTotal.Inc()
	}

	if err := s.drv.ErasePage(p); err != nil {
		// A page that must return to the free set but cannot be erased
		// leaves the ring unusable.
		s.corrupted = true
		return false, fmt.Errorf("%w: failed to erase page %d: %v", ErrCorrupted, p, err)
	}
	metrics.PagesErasedTotal.Inc()
	metrics.CompactionsTotal.Inc()
	l.head = (p + 1) % l.pages
	l.used--
	l.needsErase[p] = false

	s.logger.WithFields(logrus.Fields{
		"page":      p,
		"relocated": len(victims),
	}).Debug("compacted page")
	return true, nil
}
