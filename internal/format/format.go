// Package format defines the on-flash binary layout of the store: page
// headers, entry fragments, word states, and checksums. It is pure logic
// with no storage access.
//
// Layout of an allocated page:
//
//	page header [8]   uint32 sequence number + CRC-32 of it
//	fragments...      word-aligned, back to back
//	erased words...   the unused remainder, if any
//
// Layout of a fragment:
//
//	flags [1]         live bit, kind and transaction bits
//	frags [1]         continuation fragments still to come
//	key   [2]         little-endian
//	len   [2]         payload bytes in this fragment, little-endian
//	zero  [2]
//	payload [len]
//	crc   [4]         CRC-32 over header (live bit masked set) and payload
//	padding           zero bytes up to the next word boundary
//
// An erased word is all 0xff, so a valid flags byte is never 0xff. The live
// bit is the only bit ever rewritten after the fragment is written: clearing
// it marks the fragment stale in place, which is the one extra write per
// word that SLC flash allows between erases. The CRC masks the live bit so
// the clear does not invalidate it.
package format

import (
	"encoding/binary"
	"hash/crc32"
)

const (
	// HeaderSize is the fixed fragment header size in bytes.
	HeaderSize = 8
	// ChecksumSize is the CRC-32 trailer size in bytes.
	ChecksumSize = 4
	// PageHeaderSize is the allocated-page header size in bytes.
	PageHeaderSize = 8

	// MaxKey is the largest addressable key.
	MaxKey = 4095
	// MaxValueLen is the largest payload accepted for a single key through
	// the regular insert path. Streaming fragment writers may exceed it up
	// to the store's capacity.
	MaxValueLen = 1024
)

// Fragment flag bits. The live bit occupies the high bit so that a fragment
// can be marked stale by a single clearing write.
const (
	flagLive   = 0x80
	flagDelete = 0x01
	flagTxn    = 0x02
	flagTxnEnd = 0x04
	flagCont   = 0x08

	flagKnown = flagLive | flagDelete | flagTxn | flagTxnEnd | flagCont
)

// Fragment is one physical record of the log. A logical entry is one
// fragment, or a head fragment followed by FragsFollowing continuation
// fragments on subsequent pages.
type Fragment struct {
	Key            uint16
	Payload        []byte
	Delete         bool // tombstone for Key
	Txn            bool // member of a multi-entry transaction
	TxnEnd         bool // last entry of its transaction
	Cont           bool // continuation of the previous fragment
	FragsFollowing uint8
	Live           bool
}

func (f Fragment) flags() byte {
	var b byte
	if f.Live {
		b |= flagLive
	}
	if f.Delete {
		b |= flagDelete
	}
	if f.Txn {
		b |= flagTxn
	}
	if f.TxnEnd {
		b |= flagTxnEnd
	}
	if f.Cont {
		b |= flagCont
	}
	return b
}

// Align rounds n up to a multiple of the word size.
func Align(n, word uint) uint {
	rem := n % word
	if rem != 0 {
		n += word - rem
	}
	return n
}

// EncodedSize returns the on-flash footprint of a fragment carrying
// payloadLen bytes, including header, checksum and padding.
func EncodedSize(payloadLen, word uint) uint {
	return Align(HeaderSize+payloadLen+ChecksumSize, word)
}

// MinFragmentSize is the footprint of a zero-payload fragment.
func MinFragmentSize(word uint) uint {
	return EncodedSize(0, word)
}

// EncodeFragment serializes f into its on-flash form. The returned slice is
// word-aligned and the Live flag is always encoded as set; staleness is only
// ever applied in place, after the fact.
func EncodeFragment(f Fragment, word uint) []byte {
	size := EncodedSize(uint(len(f.Payload)), word)
	buf := make([]byte, size)
	buf[0] = f.flags() | flagLive
	buf[1] = f.FragsFollowing
	binary.LittleEndian.PutUint16(buf[2:4], f.Key)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(len(f.Payload)))
	copy(buf[HeaderSize:], f.Payload)
	crc := crc32.ChecksumIEEE(buf[:HeaderSize+len(f.Payload)])
	binary.LittleEndian.PutUint32(buf[HeaderSize+len(f.Payload):], crc)
	return buf
}

// DecodeResult classifies what DecodeFragment found at an offset.
type DecodeResult int

const (
	// Valid means a well-formed fragment with a matching checksum. Check
	// Fragment.Live to see whether it still carries meaning.
	Valid DecodeResult = iota
	// Erased means the header word(s) are fully erased: nothing was ever
	// written here since the last page erase.
	Erased
	// Dead means the header parses with the live bit cleared, but the
	// checksum does not match. The store never produces this state on
	// purpose: stale marks land only on fragments that verified when
	// written, and the checksum masks the live bit. It is a defensive
	// classification for bit rot inside an already superseded fragment,
	// whose parsed size is still good enough to skip over.
	Dead
	// Corrupt means the bytes are neither erased nor decodable: a torn
	// write at the log tail, or bit rot anywhere else.
	Corrupt
)

// DecodeFragment reads one fragment from buf, which must extend from the
// fragment's first byte to the end of its page. It returns the decoded
// fragment, its encoded size (0 when unknown), and the classification.
func DecodeFragment(buf []byte, word uint) (Fragment, uint, DecodeResult) {
	if uint(len(buf)) < MinFragmentSize(word) {
		return Fragment{}, 0, Corrupt
	}
	erased := true
	for _, b := range buf[:HeaderSize] {
		if b != 0xff {
			erased = false
			break
		}
	}
	if erased {
		return Fragment{}, 0, Erased
	}

	flags := buf[0]
	length := uint(binary.LittleEndian.Uint16(buf[4:6]))
	size := EncodedSize(length, word)
	// A cleared live bit can zero the whole flags byte, so zero is legal;
	// the checksum is what separates a dead fragment from garbage.
	if flags&^flagKnown != 0 || size > uint(len(buf)) || buf[6] != 0 || buf[7] != 0 {
		return Fragment{}, 0, Corrupt
	}

	f := Fragment{
		Key:            binary.LittleEndian.Uint16(buf[2:4]),
		Payload:        buf[HeaderSize : HeaderSize+length],
		Delete:         flags&flagDelete != 0,
		Txn:            flags&flagTxn != 0,
		TxnEnd:         flags&flagTxnEnd != 0,
		Cont:           flags&flagCont != 0,
		FragsFollowing: buf[1],
		Live:           flags&flagLive != 0,
	}

	sum := make([]byte, HeaderSize)
	copy(sum, buf[:HeaderSize])
	sum[0] |= flagLive
	crc := crc32.ChecksumIEEE(sum)
	crc = crc32.Update(crc, crc32.IEEETable, buf[HeaderSize:HeaderSize+length])
	if crc != binary.LittleEndian.Uint32(buf[HeaderSize+length:HeaderSize+length+ChecksumSize]) {
		if !f.Live {
			return Fragment{}, size, Dead
		}
		// The header parsed, so the size is still meaningful: callers
		// use it to probe whether valid data follows the damage.
		return Fragment{}, size, Corrupt
	}
	return f, size, Valid
}

// ClearLive returns the first word of a stored fragment with its live bit
// cleared, for rewriting in place over the original word. header must be the
// fragment's first word as currently stored.
func ClearLive(header []byte) []byte {
	out := make([]byte, len(header))
	copy(out, header)
	out[0] &^= flagLive
	return out
}

// EncodePageHeader serializes an allocated-page header with the given
// sequence number.
func EncodePageHeader(seq uint32) []byte {
	buf := make([]byte, PageHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], seq)
	binary.LittleEndian.PutUint32(buf[4:8], crc32.ChecksumIEEE(buf[0:4]))
	return buf
}

// DecodePageHeader classifies the first words of a page. ok reports a valid
// header; erased reports a never-allocated page. Neither ok nor erased means
// the header write was torn and the page needs an erase before reuse.
func DecodePageHeader(buf []byte) (seq uint32, ok, erased bool) {
	erased = true
	for _, b := range buf[:PageHeaderSize] {
		if b != 0xff {
			erased = false
			break
		}
	}
	if erased {
		return 0, false, true
	}
	seq = binary.LittleEndian.Uint32(buf[0:4])
	if crc32.ChecksumIEEE(buf[0:4]) != binary.LittleEndian.Uint32(buf[4:8]) {
		return 0, false, false
	}
	return seq, true, false
}
