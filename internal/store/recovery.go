package store

import (
	"fmt"
	"sort"

	"flint/driver"
	"flint/internal/format"
	"flint/internal/index"
)

// pendingOp is one operation of a transaction buffered during the scan. It
// is applied to the index only once the transaction's end marker validates.
type pendingOp struct {
	key    uint16
	delete bool
	loc    index.Location
}

// scanResult is everything recovery learns from replaying the log: the
// rebuilt index, the ring state for the log store, and whether the log holds
// damage that cannot be explained by a power loss at the tail.
type scanResult struct {
	idx        *index.Index
	head       uint
	tail       uint
	cursor     uint
	used       uint
	seq        uint32
	needsErase []bool

	// corrupt is set when the scan found a checksum failure followed by
	// more written data, or a structural invariant violation. The store
	// then refuses to operate until cleared.
	corrupt bool

	// entries counts live entries applied to the index, for reporting.
	entries uint
}

// scan replays the log forward and rebuilds the in-memory state. It runs
// once at open.
//
// Pages carry sequence-numbered headers, so replay order is the sequence
// order of allocated pages regardless of where the ring currently starts.
// Within a page, fragments are walked back to back. A trailing region that
// fails to decode is the power-loss tail and is discarded, including any
// buffered partial transaction; the same failure in front of more valid
// data is real corruption and poisons the store.
func scan(drv driver.Driver) (scanResult, error) {
	word := drv.WordSize()
	page := drv.PageSize()
	pages := drv.NumPages()

	res := scanResult{
		idx:        index.New(),
		needsErase: make([]bool, pages),
	}
	if pages == 0 {
		return res, nil
	}

	// Classify every page by its header.
	type allocPage struct {
		phys uint
		seq  uint32
		buf  []byte
	}
	var alloc []allocPage
	for p := uint(0); p < pages; p++ {
		buf, err := drv.ReadSlice(p*page, page)
		if err != nil {
			return res, fmt.Errorf("failed to read page %d: %w", p, err)
		}
		seq, ok, erased := format.DecodePageHeader(buf)
		switch {
		case ok:
			alloc = append(alloc, allocPage{phys: p, seq: seq, buf: buf})
		case erased:
			// Free unless some later word was written anyway.
			for _, b := range buf {
				if b != 0xff {
					res.needsErase[p] = true
					break
				}
			}
		default:
			// Torn header: the page was being allocated when power
			// was lost. Free, but dirty.
			res.needsErase[p] = true
		}
	}
	if len(alloc) == 0 {
		return res, nil
	}

	sort.Slice(alloc, func(i, j int) bool { return alloc[i].seq < alloc[j].seq })
	for i := 1; i < len(alloc); i++ {
		if alloc[i].seq == alloc[i-1].seq || alloc[i].phys != (alloc[i-1].phys+1)%pages {
			// Allocated pages always form a contiguous ring segment
			// with distinct sequence numbers.
			res.corrupt = true
			return res, nil
		}
	}

	res.head = alloc[0].phys
	res.tail = alloc[len(alloc)-1].phys
	res.used = uint(len(alloc))
	res.seq = alloc[len(alloc)-1].seq

	min := format.MinFragmentSize(word)
	last := len(alloc) - 1
	var txnBuf []pendingOp

	pi := 0
	off := alloc[0].phys*page + format.PageHeaderSize

	// seal parks the cursor at the end of the tail page so the torn bytes
	// beneath it are never rewritten; the next append allocates fresh.
	seal := func() { res.cursor = (res.tail + 1) * page }

walk:
	for {
		a := alloc[pi]
		end := (a.phys + 1) * page
		if off+min > end {
			if pi == last {
				res.cursor = off
				break walk
			}
			pi++
			off = alloc[pi].phys*page + format.PageHeaderSize
			continue
		}

		rel := off - a.phys*page
		frag, size, dres := format.DecodeFragment(a.buf[rel:], word)
		switch dres {
		case format.Erased:
			// Nothing more in this page. At the tail page this is
			// the log tail; elsewhere it is a remainder too small
			// for the entry that continued on the next page.
			if pi == last {
				res.cursor = off
				break walk
			}
			pi++
			off = alloc[pi].phys*page + format.PageHeaderSize
			continue

		case format.Dead:
			off += size
			continue

		case format.Corrupt:
			// A torn write at the tail is expected; damage in front
			// of more valid data is not. Probe the space after the
			// damaged span when its size is known.
			if size > 0 && rel+size < page {
				if _, _, r := format.DecodeFragment(a.buf[rel+size:], word); r == format.Valid {
					res.corrupt = true
					return res, nil
				}
			}
			if pi == last {
				seal()
				break walk
			}
			pi++
			off = alloc[pi].phys*page + format.PageHeaderSize
			continue
		}

		if frag.Cont {
			// A continuation whose head entry was superseded or
			// relocated; garbage until its page is compacted.
			off += size
			continue
		}

		// Assemble the logical entry: the head fragment here, then one
		// continuation at the start of each following page.
		loc := index.Location{Offset: off, Size: size, Length: uint(len(frag.Payload))}
		head := frag
		fragsLeft := frag.FragsFollowing
		off += size
		orphan := false
		for fragsLeft > 0 {
			if pi == last {
				// The continuation page was never allocated: power
				// loss mid-entry.
				orphan = true
				break
			}
			pi++
			off = alloc[pi].phys*page + format.PageHeaderSize
			a = alloc[pi]
			rel = off - a.phys*page
			cont, csize, cres := format.DecodeFragment(a.buf[rel:], word)
			valid := cres == format.Valid && cont.Cont &&
				cont.Key == head.Key && cont.FragsFollowing == fragsLeft-1
			if !valid {
				// Power was lost before this continuation landed;
				// whatever occupies its slot was written after the
				// restart and is reclassified by the walk.
				orphan = true
				break
			}
			loc.Size += csize
			loc.Length += uint(len(cont.Payload))
			fragsLeft--
			off += csize
		}
		if orphan {
			// The head is void, and so is any transaction left open at
			// this restart boundary: its end marker can never arrive.
			txnBuf = nil
			continue
		}

		if !head.Txn {
			if len(txnBuf) > 0 {
				// Members without an end marker are a transaction
				// abandoned at a restart boundary; this entry was
				// written after the restart, and the abandoned
				// prefix never committed.
				txnBuf = nil
			}
			if !head.Live {
				continue
			}
			if head.Delete {
				res.idx.Remove(head.Key)
			} else {
				res.idx.Insert(head.Key, loc)
			}
			res.entries++
			continue
		}

		// Transaction framing is carried by the flags, not the live bit:
		// a member superseded after commit keeps its stale mark but
		// still delimits its transaction, and a stale end marker still
		// releases the buffer. Replaying a stale member is harmless
		// because whatever superseded it comes later in the log.
		txnBuf = append(txnBuf, pendingOp{key: head.Key, delete: head.Delete, loc: loc})
		if head.TxnEnd {
			// End marker validated: the whole transaction commits
			// to the index in one logical step.
			for _, op := range txnBuf {
				if op.delete {
					res.idx.Remove(op.key)
				} else {
					res.idx.Insert(op.key, op.loc)
				}
			}
			res.entries += uint(len(txnBuf))
			txnBuf = nil
		}
	}

	// Reaching here with a buffered transaction means the end marker was
	// never durably written; the transaction never happened.
	return res, nil
}
