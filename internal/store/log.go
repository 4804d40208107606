package store

import (
	"fmt"

	"flint/driver"
	"flint/internal/format"
	"flint/internal/index"
	"flint/metrics"
)

// logStore owns the physical write cursor and the page ring. Pages are
// allocated in ring order (monotonically increasing page index modulo the
// page count), which is what spreads erase cycles evenly across the part.
// One page's worth of capacity is permanently reserved as compaction
// headroom: user appends never consume it, only the compactor may.
type logStore struct {
	drv driver.Driver

	// Geometry, cached at open.
	word   uint
	page   uint
	pages  uint
	usable uint // page bytes available to fragments

	head   uint   // oldest allocated page, valid when used > 0
	tail   uint   // newest allocated page, valid when used > 0
	cursor uint   // absolute byte offset of the next write in the tail page
	used   uint   // number of allocated pages
	seq    uint32 // sequence number of the tail page

	// needsErase marks unallocated pages that are not known to be fully
	// erased (torn page headers, remnants of prior lives) and must be
	// erased before reuse.
	needsErase []bool
}

func newLogStore(drv driver.Driver) *logStore {
	l := &logStore{
		drv:        drv,
		word:       drv.WordSize(),
		page:       drv.PageSize(),
		pages:      drv.NumPages(),
		needsErase: make([]bool, drv.NumPages()),
	}
	if l.page > format.PageHeaderSize {
		l.usable = l.page - format.PageHeaderSize
	}
	return l
}

// capacity is the total byte budget available to live entries: every page
// except the reserved one.
func (l *logStore) capacity() uint {
	if l.pages == 0 {
		return 0
	}
	return (l.pages - 1) * l.usable
}

// remaining is the space left in the tail page.
func (l *logStore) remaining() uint {
	if l.used == 0 {
		return 0
	}
	return (l.tail+1)*l.page - l.cursor
}

// free is the number of bytes a user append may still consume while keeping
// the reserved page untouched.
func (l *logStore) free() uint {
	if l.pages == 0 {
		return 0
	}
	if l.used == 0 {
		return (l.pages - 1) * l.usable
	}
	if l.used >= l.pages-1 {
		return l.remaining()
	}
	return l.remaining() + (l.pages-1-l.used)*l.usable
}

// fragPlan describes one fragment of a planned append: whether a fresh page
// must be allocated first, and how many payload bytes the fragment takes.
type fragPlan struct {
	newPage bool
	take    uint
}

// planFrom lays out an entry of payloadLen bytes, starting with rem bytes
// left in the current page. It returns the fragment plan, the total bytes
// consumed (including page remainders abandoned as too small), and the bytes
// left in the final page afterward. Pure arithmetic; no writes.
//
// An entry that fits in a single page is never split: if the remainder
// cannot hold it whole, the remainder stays erased and the entry starts on a
// fresh page. This keeps compaction headroom at exactly the one reserved
// page: draining any page relocates at most one page's worth of bytes.
// Entries too large for any page fragment across consecutive fresh pages,
// one fragment per page; their extra headroom is reserved separately, scaled
// to the largest live span.
func (l *logStore) planFrom(rem, payloadLen uint) (plans []fragPlan, consumed, endRem uint) {
	const overhead = format.HeaderSize + format.ChecksumSize
	whole := format.EncodedSize(payloadLen, l.word)
	if whole <= l.usable {
		newPage := rem < whole
		if newPage {
			consumed += rem
			rem = l.usable
		}
		plans = []fragPlan{{newPage: newPage, take: payloadLen}}
		return plans, consumed + whole, rem - whole
	}

	consumed += rem
	left := payloadLen
	for left > 0 {
		take := left
		if fit := l.usable - overhead; take > fit {
			take = fit
		}
		size := format.EncodedSize(take, l.word)
		plans = append(plans, fragPlan{newPage: true, take: take})
		consumed += size
		endRem = l.usable - size
		left -= take
	}
	return plans, consumed, endRem
}

// spanOf returns how many pages an entry of the given on-flash footprint
// touches: one for anything page-sized or smaller, otherwise one fragment
// per page.
func (l *logStore) spanOf(size uint) uint {
	if size <= l.usable || l.usable == 0 {
		return 1
	}
	return (size + l.usable - 1) / l.usable
}

// allocPage takes the next page in ring order, erasing it first if needed,
// and stamps its header with the next sequence number.
func (l *logStore) allocPage() error {
	if l.used >= l.pages {
		return ErrNoSpaceLeft
	}
	var next uint
	if l.used > 0 {
		next = (l.tail + 1) % l.pages
	}
	if l.needsErase[next] {
		if err := l.drv.ErasePage(next); err != nil {
			return fmt.Errorf("failed to erase page %d: %w", next, err)
		}
		l.needsErase[next] = false
		metrics.PagesErasedTotal.Inc()
	}
	l.seq++
	if err := l.drv.WriteSlice(next*l.page, format.EncodePageHeader(l.seq)); err != nil {
		return fmt.Errorf("failed to write page %d header: %w", next, err)
	}
	if l.used == 0 {
		l.head = next
	}
	l.tail = next
	l.used++
	l.cursor = next*l.page + format.PageHeaderSize
	return nil
}

// appendEntry writes one logical entry at the cursor, fragmenting across
// pages as needed, and returns its location. On error the log may hold a
// torn fragment at the cursor; the caller decides whether that poisons the
// store.
func (l *logStore) appendEntry(e format.Fragment) (index.Location, error) {
	plans, _, _ := l.planFrom(l.remaining(), uint(len(e.Payload)))
	if len(plans)-1 > 0xff {
		return index.Location{}, fmt.Errorf("%w: value fragments across too many pages", ErrInvalidArgument)
	}

	loc := index.Location{Length: uint(len(e.Payload))}
	var off uint
	for i, p := range plans {
		if p.newPage || l.used == 0 {
			if err := l.allocPage(); err != nil {
				return index.Location{}, err
			}
		}
		frag := format.Fragment{
			Key:            e.Key,
			Payload:        e.Payload[off : off+p.take],
			Delete:         e.Delete,
			Txn:            e.Txn,
			TxnEnd:         e.TxnEnd,
			Cont:           i > 0,
			FragsFollowing: uint8(len(plans) - 1 - i),
			Live:           true,
		}
		enc := format.EncodeFragment(frag, l.word)
		if i == 0 {
			loc.Offset = l.cursor
		}
		if err := l.drv.WriteSlice(l.cursor, enc); err != nil {
			return index.Location{}, fmt.Errorf("failed to append entry for key %d: %w", e.Key, err)
		}
		l.cursor += uint(len(enc))
		loc.Size += uint(len(enc))
		off += p.take
	}
	return loc, nil
}

// fragmentAt decodes the fragment at off and returns it along with the
// offset of its continuation (the first fragment slot of the next page in
// ring order).
func (l *logStore) fragmentAt(off uint) (format.Fragment, uint, error) {
	pageEnd := (off/l.page + 1) * l.page
	buf, err := l.drv.ReadSlice(off, pageEnd-off)
	if err != nil {
		return format.Fragment{}, 0, fmt.Errorf("failed to read entry at %d: %w", off, err)
	}
	frag, _, res := format.DecodeFragment(buf, l.word)
	if res != format.Valid {
		return format.Fragment{}, 0, fmt.Errorf("%w: unreadable entry at offset %d", ErrCorrupted, off)
	}
	next := (off/l.page + 1) % l.pages
	return frag, next*l.page + format.PageHeaderSize, nil
}

// readEntry reassembles a logical entry's payload, validating every
// fragment's checksum along the way.
func (l *logStore) readEntry(loc index.Location) ([]byte, error) {
	out := make([]byte, 0, loc.Length)
	off := loc.Offset
	for {
		frag, next, err := l.fragmentAt(off)
		if err != nil {
			return nil, err
		}
		out = append(out, frag.Payload...)
		if frag.FragsFollowing == 0 {
			return out, nil
		}
		off = next
	}
}

// markStale clears the live bit on the entry's head fragment so scans can
// skip it without consulting the index. This is the one in-place rewrite the
// word write budget allows; on parts that only permit a single write per
// word it is skipped, and replay order alone supersedes the entry.
func (l *logStore) markStale(loc index.Location) error {
	if l.drv.MaxWordWrites() < 2 {
		return nil
	}
	hdr, err := l.drv.ReadSlice(loc.Offset, l.word)
	if err != nil {
		return fmt.Errorf("failed to read entry header at %d: %w", loc.Offset, err)
	}
	if err := l.drv.WriteSlice(loc.Offset, format.ClearLive(hdr)); err != nil {
		return fmt.Errorf("failed to mark entry at %d stale: %w", loc.Offset, err)
	}
	return nil
}

// reset returns the ring to its factory state. The caller has already erased
// every page.
func (l *logStore) reset() {
	l.head = 0
	l.tail = 0
	l.cursor = 0
	l.used = 0
	l.seq = 0
	for i := range l.needsErase {
		l.needsErase[i] = false
	}
}
