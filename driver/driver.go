// Package driver defines the narrow capability contract between the store
// engine and raw flash storage, along with the backends that implement it.
//
// Flash is word-writable and page-erasable. A word can be written only a
// bounded number of times between erasures of its containing page, and a
// write may only clear bits (1 -> 0), never set them. The store consumes
// exactly this contract and nothing more; everything about bus access,
// wait states, or memory mapping stays behind it.
package driver

// Driver is the raw storage capability consumed by the store.
//
// All offsets are absolute byte offsets into the flash image. Writes must be
// word-aligned and a whole number of words; reads have no alignment
// requirement. Geometry is fixed for the lifetime of the driver.
type Driver interface {
	// WordSize returns the smallest writable unit in bytes. Always a power
	// of two that divides 8.
	WordSize() uint

	// PageSize returns the smallest erasable unit in bytes. Always a
	// multiple of the word size.
	PageSize() uint

	// NumPages returns the number of pages in the flash image.
	NumPages() uint

	// MaxWordWrites returns how many times a single word may be written
	// between two erasures of its page.
	MaxWordWrites() uint

	// ReadSlice reads length bytes starting at offset. It fails only with
	// ErrOutOfBounds or a hardware read fault.
	ReadSlice(offset, length uint) ([]byte, error)

	// WriteSlice writes data starting at offset. The caller guarantees the
	// write only clears bits and stays within the per-word write budget;
	// a conforming backend may reject violations but is not required to.
	WriteSlice(offset uint, data []byte) error

	// ErasePage resets every word of the given page to the erased state
	// (all bits set).
	ErasePage(page uint) error
}
