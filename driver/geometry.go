package driver

import "fmt"

// Geometry describes the fixed shape of a flash image.
type Geometry struct {
	// WordSize is the smallest writable unit in bytes. Must be a power of
	// two that divides 8.
	WordSize uint
	// PageSize is the smallest erasable unit in bytes. Must be a multiple
	// of WordSize.
	PageSize uint
	// NumPages is the number of pages in the image.
	NumPages uint
	// MaxWordWrites is the number of times a word may be written between
	// erasures of its page. SLC NOR parts typically allow 2.
	MaxWordWrites uint
}

// Validate checks the geometry for internal consistency.
func (g Geometry) Validate() error {
	switch g.WordSize {
	case 1, 2, 4, 8:
	default:
		return fmt.Errorf("word size %d must be a power of two dividing 8", g.WordSize)
	}
	if g.PageSize == 0 || g.PageSize%g.WordSize != 0 {
		return fmt.Errorf("page size %d is not a multiple of word size %d", g.PageSize, g.WordSize)
	}
	if g.MaxWordWrites == 0 {
		return fmt.Errorf("max word writes must be at least 1")
	}
	return nil
}

// TotalBytes returns the size of the whole image in bytes.
func (g Geometry) TotalBytes() uint {
	return g.PageSize * g.NumPages
}
