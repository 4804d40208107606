package driver

// Nop is the "no storage backend" variant: zero pages of zero-size geometry.
// A store opened over it is empty, reports zero capacity, and rejects every
// mutation with no space, without any special casing in the store logic.
type Nop struct{}

var _ Driver = Nop{}

func (Nop) WordSize() uint      { return 4 }
func (Nop) PageSize() uint      { return 0 }
func (Nop) NumPages() uint      { return 0 }
func (Nop) MaxWordWrites() uint { return 1 }

func (Nop) ReadSlice(offset, length uint) ([]byte, error) {
	return nil, ErrNoStorage
}

func (Nop) WriteSlice(offset uint, data []byte) error {
	return ErrNoStorage
}

func (Nop) ErasePage(page uint) error {
	return ErrNoStorage
}
