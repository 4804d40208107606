package store

import (
	"fmt"
	"io"
)

// FragmentWriter accumulates a value larger than MaxValueLen and commits it
// as a single logical entry spanning continuation fragments. The write is as
// atomic as any insert: until Commit returns, recovery never observes the
// value.
type FragmentWriter struct {
	s    *Store
	key  uint16
	buf  []byte
	done bool
}

// NewFragmentWriter starts a streaming write for key.
func (s *Store) NewFragmentWriter(key uint16) (*FragmentWriter, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	if s.corrupted {
		return nil, ErrCorrupted
	}
	return &FragmentWriter{s: s, key: key}, nil
}

var _ io.Writer = (*FragmentWriter)(nil)

// Write buffers p. Nothing reaches flash before Commit.
func (w *FragmentWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, fmt.Errorf("%w: fragment writer already finished", ErrInvalidArgument)
	}
	if uint(len(w.buf)+len(p)) > w.s.log.capacity() {
		return 0, ErrNoSpaceLeft
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// Commit durably stores the buffered value under the writer's key.
func (w *FragmentWriter) Commit() error {
	if w.done {
		return fmt.Errorf("%w: fragment writer already finished", ErrInvalidArgument)
	}
	w.done = true
	if w.s.corrupted {
		return ErrCorrupted
	}
	return w.s.put(w.key, w.buf)
}

// Abort discards the buffered value.
func (w *FragmentWriter) Abort() {
	w.done = true
	w.buf = nil
}

// FragmentReader streams a stored value fragment by fragment, without
// assembling it in memory.
type FragmentReader struct {
	s       *Store
	pending []byte // unread payload of the current fragment
	next    uint   // offset of the next fragment
	left    int    // fragments still unread; -1 before the head is read
}

// NewFragmentReader starts a streaming read of the value stored for key.
func (s *Store) NewFragmentReader(key uint16) (*FragmentReader, error) {
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
	return &FragmentReader{s: s, next: loc.Offset, left: -1}, nil
}

var _ io.Reader = (*FragmentReader)(nil)

func (r *FragmentReader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		if r.left == 0 {
			return 0, io.EOF
		}
		frag, next, err := r.s.log.fragmentAt(r.next)
		if err != nil {
			return 0, err
		}
		if r.left < 0 {
			r.left = int(frag.FragsFollowing)
		} else {
			r.left--
		}
		r.pending = frag.Payload
		r.next = next
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}
