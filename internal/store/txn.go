package store

import (
	"fmt"

	"flint/internal/format"
	"flint/internal/index"
	"flint/metrics"
)

// Op is one key mutation inside a transaction: a new value for Key, or its
// removal when Delete is set.
type Op struct {
	Key    uint16
	Value  []byte
	Delete bool
}

func checkKey(key uint16) error {
	if key > format.MaxKey {
		return fmt.Errorf("%w: key %d exceeds maximum %d", ErrInvalidArgument, key, format.MaxKey)
	}
	return nil
}

func (op Op) validate() error {
	if err := checkKey(op.Key); err != nil {
		return err
	}
	if op.Delete && len(op.Value) > 0 {
		return fmt.Errorf("%w: deletion of key %d carries a value", ErrInvalidArgument, op.Key)
	}
	if !op.Delete && len(op.Value) > format.MaxValueLen {
		return fmt.Errorf("%w: value of %d bytes exceeds maximum %d", ErrInvalidArgument, len(op.Value), format.MaxValueLen)
	}
	return nil
}

// Transaction applies the ordered operations as a single atomic unit: after
// a crash, recovery observes either all of them or none of them. Operations
// on the same key follow last-write-wins by position.
//
// The total encoded size is checked against available capacity, compacting
// eagerly if needed, before any byte is written; a transaction never starts
// unless it can structurally finish.
func (s *Store) Transaction(ops []Op) error {
	for _, op := range ops {
		if err := op.validate(); err != nil {
			return err
		}
	}
	if s.corrupted {
		return ErrCorrupted
	}
	if len(ops) == 0 {
		return nil
	}
	if len(ops) == 1 {
		return s.applyOne(ops[0])
	}

	// A batch that only shrinks the live set needs no relocation headroom,
	// same as a single removal.
	relief := true
	for _, op := range ops {
		if !op.Delete {
			relief = false
			break
		}
	}
	if err := s.ensureSpace(func() (uint, uint) { return s.planOps(ops) }, relief); err != nil {
		return err
	}

	locs := make([]index.Location, len(ops))
	for i, op := range ops {
		loc, err := s.log.appendEntry(format.Fragment{
			Key:     op.Key,
			Payload: op.Value,
			Delete:  op.Delete,
			Txn:     true,
			TxnEnd:  i == len(ops)-1,
		})
		if err != nil {
			return s.fail(err)
		}
		locs[i] = loc
	}

	// The end marker is durable: the transaction is committed. Everything
	// from here on only mutates in-memory state and stale marks.
	s.commit(ops, locs)
	return nil
}

// applyOne is the single-mutation fast path; it writes a plain entry with no
// transaction framing.
func (s *Store) applyOne(op Op) error {
	if !op.Delete {
		return s.put(op.Key, op.Value)
	}

	old, had := s.idx.Lookup(op.Key)
	if !had {
		// Removing an absent key is a no-op and burns no log space.
		return nil
	}
	if err := s.ensureSpace(func() (uint, uint) { return s.planOps([]Op{op}) }, true); err != nil {
		return err
	}
	loc, err := s.log.appendEntry(format.Fragment{Key: op.Key, Delete: true})
	if err != nil {
		return s.fail(err)
	}
	s.idx.Remove(op.Key)
	s.staleOut(op.Key, old)
	metrics.CommittedEntriesTotal.Inc()
	metrics.CommittedBytesTotal.Add(float64(loc.Size))
	metrics.LiveBytes.Set(float64(s.idx.Used()))
	return nil
}

// put writes value as the live entry for key. The caller has validated the
// key; length is bounded only by capacity, so the streaming fragment writer
// can exceed MaxValueLen.
func (s *Store) put(key uint16, value []byte) error {
	op := Op{Key: key, Value: value}
	if err := s.ensureSpace(func() (uint, uint) { return s.planOps([]Op{op}) }, false); err != nil {
		return err
	}
	loc, err := s.log.appendEntry(format.Fragment{Key: key, Payload: value})
	if err != nil {
		return s.fail(err)
	}
	old, had := s.idx.Lookup(key)
	s.idx.Insert(key, loc)
	if had {
		s.staleOut(key, old)
	}
	metrics.CommittedEntriesTotal.Inc()
	metrics.CommittedBytesTotal.Add(float64(loc.Size))
	metrics.LiveBytes.Set(float64(s.idx.Used()))
	return nil
}

// planOps returns the exact number of log bytes the operations will consume
// if appended now, including abandoned page remainders, along with the page
// span of the widest entry among them.
func (s *Store) planOps(ops []Op) (need, span uint) {
	rem := s.log.remaining()
	span = 1
	for _, op := range ops {
		var length uint
		if !op.Delete {
			length = uint(len(op.Value))
		}
		plans, consumed, endRem := s.log.planFrom(rem, length)
		need += consumed
		if uint(len(plans)) > span {
			span = uint(len(plans))
		}
		rem = endRem
	}
	return need, span
}

// commit updates the index for every operation of a durably written
// transaction, in order, and marks superseded entries stale.
func (s *Store) commit(ops []Op, locs []index.Location) {
	var bytes uint
	for i, op := range ops {
		old, had := s.idx.Lookup(op.Key)
		if op.Delete {
			s.idx.Remove(op.Key)
		} else {
			s.idx.Insert(op.Key, locs[i])
		}
		bytes += locs[i].Size
		if had {
			s.staleOut(op.Key, old)
		}
	}
	metrics.CommittedEntriesTotal.Add(float64(len(ops)))
	metrics.CommittedBytesTotal.Add(float64(bytes))
	metrics.LiveBytes.Set(float64(s.idx.Used()))
}

// staleOut marks a superseded entry dead in place. Failures are logged and
// ignored: the mark is an optimization, replay order alone supersedes the
// entry.
func (s *Store) staleOut(key uint16, old index.Location) {
	if err := s.log.markStale(old); err != nil {
		s.logger.WithField("key", key).WithError(err).Warn("failed to mark stale entry")
	}
}

// fail records a mutation aborted partway through its log writes. A torn
// fragment may now sit at the cursor; appending after it would rewrite its
// words, so the store locks itself until explicitly cleared or reopened.
func (s *Store) fail(err error) error {
	s.corrupted = true
	metrics.FailedCommitsTotal.Inc()
	s.logger.WithError(err).Error("mutation aborted mid-write; store locked until cleared")
	return err
}
