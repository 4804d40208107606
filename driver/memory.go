package driver

import "fmt"

// Memory is a RAM-backed flash simulator. It enforces the physical rules a
// real part would: writes only clear bits, each word honors the write budget,
// and only whole pages can be erased. It also supports interrupting a write
// after an arbitrary number of words, which is how power-loss behavior is
// exercised in tests without hardware.
//
// Memory retains its image across store reopens, so a test can open a store,
// cut power mid-write, and reopen against the same image.
type Memory struct {
	geo    Geometry
	buf    []byte
	writes []uint8 // per-word writes since last erase of its page
	erases []uint  // per-page erase counts

	// failAfter counts words remaining until an injected power loss; -1
	// means disarmed. The write that crosses zero is torn at that word.
	failAfter int
}

var _ Driver = (*Memory)(nil)

// NewMemory returns a fully erased in-memory flash image.
func NewMemory(geo Geometry) (*Memory, error) {
	if err := geo.Validate(); err != nil {
		return nil, fmt.Errorf("invalid geometry: %w", err)
	}
	m := &Memory{
		geo:       geo,
		buf:       make([]byte, geo.TotalBytes()),
		writes:    make([]uint8, geo.TotalBytes()/geo.WordSize),
		erases:    make([]uint, geo.NumPages),
		failAfter: -1,
	}
	for i := range m.buf {
		m.buf[i] = 0xff
	}
	return m, nil
}

func (m *Memory) WordSize() uint      { return m.geo.WordSize }
func (m *Memory) PageSize() uint      { return m.geo.PageSize }
func (m *Memory) NumPages() uint      { return m.geo.NumPages }
func (m *Memory) MaxWordWrites() uint { return m.geo.MaxWordWrites }

func (m *Memory) ReadSlice(offset, length uint) ([]byte, error) {
	if offset+length > uint(len(m.buf)) {
		return nil, fmt.Errorf("read [%d, %d): %w", offset, offset+length, ErrOutOfBounds)
	}
	out := make([]byte, length)
	copy(out, m.buf[offset:offset+length])
	return out, nil
}

func (m *Memory) WriteSlice(offset uint, data []byte) error {
	word := m.geo.WordSize
	if offset%word != 0 || uint(len(data))%word != 0 {
		return fmt.Errorf("write at %d len %d: %w", offset, len(data), ErrUnaligned)
	}
	if offset+uint(len(data)) > uint(len(m.buf)) {
		return fmt.Errorf("write [%d, %d): %w", offset, offset+uint(len(data)), ErrOutOfBounds)
	}

	for w := uint(0); w < uint(len(data)); w += word {
		if m.failAfter == 0 {
			m.failAfter = -1
			return fmt.Errorf("write at %d: %w", offset+w, ErrPowerLoss)
		}
		wi := (offset + w) / word
		if uint(m.writes[wi]) >= m.geo.MaxWordWrites {
			return fmt.Errorf("word %d: %w", wi, ErrWordBudget)
		}
		for i := uint(0); i < word; i++ {
			old := m.buf[offset+w+i]
			b := data[w+i]
			if b&^old != 0 {
				return fmt.Errorf("word %d byte %d: %w", wi, i, ErrBitSet)
			}
			m.buf[offset+w+i] = b
		}
		m.writes[wi]++
		if m.failAfter > 0 {
			m.failAfter--
		}
	}
	return nil
}

func (m *Memory) ErasePage(page uint) error {
	if page >= m.geo.NumPages {
		return fmt.Errorf("erase page %d: %w", page, ErrOutOfBounds)
	}
	start := page * m.geo.PageSize
	for i := uint(0); i < m.geo.PageSize; i++ {
		m.buf[start+i] = 0xff
	}
	wordsPerPage := m.geo.PageSize / m.geo.WordSize
	for w := page * wordsPerPage; w < (page+1)*wordsPerPage; w++ {
		m.writes[w] = 0
	}
	m.erases[page]++
	return nil
}

// FailAfterWords arms a power-loss interruption: the n-th word written from
// now on (counting across calls) is never stored and the write reporting it
// fails with ErrPowerLoss. The injection disarms once it fires.
func (m *Memory) FailAfterWords(n uint) {
	m.failAfter = int(n)
}

// Disarm cancels a pending power-loss injection.
func (m *Memory) Disarm() {
	m.failAfter = -1
}

// EraseCounts returns how many times each page has been erased since the
// image was created. Used to verify wear rotation.
func (m *Memory) EraseCounts() []uint {
	out := make([]uint, len(m.erases))
	copy(out, m.erases)
	return out
}

// Corrupt flips the given bits at offset, bypassing flash write rules. It
// models bit rot for recovery tests.
func (m *Memory) Corrupt(offset uint, mask byte) {
	m.buf[offset] ^= mask
}
