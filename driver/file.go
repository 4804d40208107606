package driver

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/ncw/directio"
)

// File is a flash image persisted to a single file, written with O_DIRECT so
// that completed writes are on stable media rather than in the page cache.
// The image is mirrored in memory; writes update the mirror and write through
// the containing aligned blocks.
//
// File enforces the bit-clearing rule like a real part would, but not the
// per-word write budget: budgets reset at process restart because the counts
// are not persisted. The store stays within budget by construction, so this
// only loosens misuse detection, not correctness.
type File struct {
	geo   Geometry
	f     *os.File
	image []byte
	block []byte // aligned scratch, one block
}

var _ Driver = (*File)(nil)

// OpenFile opens or creates a flash image at path with the given geometry.
// A newly created image starts fully erased.
func OpenFile(path string, geo Geometry) (*File, error) {
	if err := geo.Validate(); err != nil {
		return nil, fmt.Errorf("invalid geometry: %w", err)
	}

	f, err := directio.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open flash image: %w", err)
	}

	d := &File{
		geo:   geo,
		f:     f,
		image: make([]byte, geo.TotalBytes()),
		block: directio.AlignedBlock(directio.BlockSize),
	}

	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat flash image: %w", err)
	}

	if stat.Size() == 0 {
		// Fresh image: everything erased.
		for i := range d.image {
			d.image[i] = 0xff
		}
		if err := d.flush(0, uint(len(d.image))); err != nil {
			_ = f.Close()
			return nil, err
		}
		return d, nil
	}

	if uint(stat.Size()) < d.fileSize() {
		_ = f.Close()
		return nil, fmt.Errorf("flash image is %d bytes, geometry needs %d", stat.Size(), d.fileSize())
	}
	for off := uint(0); off < uint(len(d.image)); off += directio.BlockSize {
		if _, err := f.ReadAt(d.block, int64(off)); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to read flash image block at %d: %w", off, err)
		}
		copy(d.image[off:], d.block)
	}
	return d, nil
}

// fileSize is the image size rounded up to a whole number of blocks.
func (d *File) fileSize() uint {
	n := uint(len(d.image))
	rem := n % directio.BlockSize
	if rem != 0 {
		n += directio.BlockSize - rem
	}
	return n
}

// flush writes the blocks covering image[offset, offset+length) through to
// the file. Bytes past the end of the image pad with the erased pattern.
func (d *File) flush(offset, length uint) error {
	first := offset / directio.BlockSize * directio.BlockSize
	end := offset + length
	for off := first; off < end; off += directio.BlockSize {
		n := copy(d.block, d.image[off:])
		for i := n; i < len(d.block); i++ {
			d.block[i] = 0xff
		}
		if _, err := d.f.WriteAt(d.block, int64(off)); err != nil {
			return fmt.Errorf("failed to write flash image block at %d: %w", off, err)
		}
	}
	return nil
}

func (d *File) WordSize() uint      { return d.geo.WordSize }
func (d *File) PageSize() uint      { return d.geo.PageSize }
func (d *File) NumPages() uint      { return d.geo.NumPages }
func (d *File) MaxWordWrites() uint { return d.geo.MaxWordWrites }

func (d *File) ReadSlice(offset, length uint) ([]byte, error) {
	if offset+length > uint(len(d.image)) {
		return nil, fmt.Errorf("read [%d, %d): %w", offset, offset+length, ErrOutOfBounds)
	}
	out := make([]byte, length)
	copy(out, d.image[offset:offset+length])
	return out, nil
}

func (d *File) WriteSlice(offset uint, data []byte) error {
	word := d.geo.WordSize
	if offset%word != 0 || uint(len(data))%word != 0 {
		return fmt.Errorf("write at %d len %d: %w", offset, len(data), ErrUnaligned)
	}
	if offset+uint(len(data)) > uint(len(d.image)) {
		return fmt.Errorf("write [%d, %d): %w", offset, offset+uint(len(data)), ErrOutOfBounds)
	}
	for i, b := range data {
		if b&^d.image[offset+uint(i)] != 0 {
			return fmt.Errorf("byte %d: %w", offset+uint(i), ErrBitSet)
		}
	}
	copy(d.image[offset:], data)
	return d.flush(offset, uint(len(data)))
}

func (d *File) ErasePage(page uint) error {
	if page >= d.geo.NumPages {
		return fmt.Errorf("erase page %d: %w", page, ErrOutOfBounds)
	}
	start := page * d.geo.PageSize
	for i := uint(0); i < d.geo.PageSize; i++ {
		d.image[start+i] = 0xff
	}
	return d.flush(start, d.geo.PageSize)
}

// Close syncs and closes the underlying file.
func (d *File) Close() error {
	var errs *multierror.Error
	if err := d.f.Sync(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to sync flash image: %w", err))
	}
	if err := d.f.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to close flash image: %w", err))
	}
	return errs.ErrorOrNil()
}
