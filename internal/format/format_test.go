package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlign(t *testing.T) {
	assert.Equal(t, uint(0), Align(0, 4))
	assert.Equal(t, uint(4), Align(1, 4))
	assert.Equal(t, uint(4), Align(4, 4))
	assert.Equal(t, uint(8), Align(5, 4))
	assert.Equal(t, uint(13), Align(13, 1))
	assert.Equal(t, uint(16), Align(13, 8))
}

func TestEncodedSize(t *testing.T) {
	// Header + checksum with no payload is 12 bytes.
	assert.Equal(t, uint(12), EncodedSize(0, 4))
	assert.Equal(t, uint(16), EncodedSize(2, 4))
	assert.Equal(t, uint(12), MinFragmentSize(4))
	assert.Equal(t, uint(16), MinFragmentSize(8))
}

// pad extends an encoded fragment with erased bytes, the way it would sit in
// front of the unused remainder of its page.
func pad(buf []byte, total int) []byte {
	out := make([]byte, total)
	for i := range out {
		out[i] = 0xff
	}
	copy(out, buf)
	return out
}

func TestFragmentRoundTrip(t *testing.T) {
	fragments := []Fragment{
		{Key: 0, Payload: nil},
		{Key: 1, Payload: []byte("ab")},
		{Key: MaxKey, Payload: []byte("hello world")},
		{Key: 7, Delete: true},
		{Key: 9, Payload: []byte("x"), Txn: true},
		{Key: 9, Delete: true, Txn: true, TxnEnd: true},
		{Key: 12, Payload: []byte("tail"), Cont: true, FragsFollowing: 3},
	}
	for _, f := range fragments {
		enc := EncodeFragment(f, 4)
		require.Equal(t, EncodedSize(uint(len(f.Payload)), 4), uint(len(enc)))

		got, size, res := DecodeFragment(pad(enc, 128), 4)
		require.Equal(t, Valid, res)
		assert.Equal(t, uint(len(enc)), size)
		assert.Equal(t, f.Key, got.Key)
		assert.Equal(t, f.Payload, got.Payload)
		assert.Equal(t, f.Delete, got.Delete)
		assert.Equal(t, f.Txn, got.Txn)
		assert.Equal(t, f.TxnEnd, got.TxnEnd)
		assert.Equal(t, f.Cont, got.Cont)
		assert.Equal(t, f.FragsFollowing, got.FragsFollowing)
		// Fragments always land on flash live.
		assert.True(t, got.Live)
	}
}

func TestDecodeErased(t *testing.T) {
	buf := make([]byte, 64)
	for i := range buf {
		buf[i] = 0xff
	}
	_, size, res := DecodeFragment(buf, 4)
	assert.Equal(t, Erased, res)
	assert.Equal(t, uint(0), size)
}

func TestDecodeShortBuffer(t *testing.T) {
	_, _, res := DecodeFragment([]byte{0x80, 0, 0, 0}, 4)
	assert.Equal(t, Corrupt, res)
}

func TestDecodeStaleFragment(t *testing.T) {
	enc := EncodeFragment(Fragment{Key: 3, Payload: []byte("abc")}, 4)
	buf := pad(enc, 64)

	// Clearing the live bit is the one in-place rewrite the format allows;
	// the checksum masks it, so the fragment still decodes.
	copy(buf, ClearLive(buf[:4]))
	got, size, res := DecodeFragment(buf, 4)
	require.Equal(t, Valid, res)
	assert.False(t, got.Live)
	assert.Equal(t, uint(len(enc)), size)
	assert.Equal(t, uint16(3), got.Key)
}

func TestDecodeCorruptPayload(t *testing.T) {
	enc := EncodeFragment(Fragment{Key: 3, Payload: []byte("abc")}, 4)
	buf := pad(enc, 64)
	buf[HeaderSize] ^= 0x01

	_, size, res := DecodeFragment(buf, 4)
	require.Equal(t, Corrupt, res)
	// The header still parses, so the damaged span's size is reported for
	// probing past it.
	assert.Equal(t, uint(len(enc)), size)
}

func TestDecodeUnknownFlags(t *testing.T) {
	enc := EncodeFragment(Fragment{Key: 3, Payload: []byte("abc")}, 4)
	buf := pad(enc, 64)
	buf[0] |= 0x40

	_, size, res := DecodeFragment(buf, 4)
	assert.Equal(t, Corrupt, res)
	assert.Equal(t, uint(0), size)
}

func TestDecodeTruncatedLength(t *testing.T) {
	enc := EncodeFragment(Fragment{Key: 3, Payload: []byte("abc")}, 4)
	buf := pad(enc, 64)
	// Claim a payload longer than the page has room for.
	buf[4], buf[5] = 0xff, 0x0f

	_, size, res := DecodeFragment(buf, 4)
	assert.Equal(t, Corrupt, res)
	assert.Equal(t, uint(0), size)
}

func TestPageHeaderRoundTrip(t *testing.T) {
	buf := pad(EncodePageHeader(42), 64)
	seq, ok, erased := DecodePageHeader(buf)
	require.True(t, ok)
	assert.False(t, erased)
	assert.Equal(t, uint32(42), seq)
}

func TestPageHeaderErased(t *testing.T) {
	buf := make([]byte, 64)
	for i := range buf {
		buf[i] = 0xff
	}
	_, ok, erased := DecodePageHeader(buf)
	assert.False(t, ok)
	assert.True(t, erased)
}

func TestPageHeaderTorn(t *testing.T) {
	buf := pad(EncodePageHeader(42), 64)
	// Lose the checksum half of the header, as a power loss mid-write would.
	buf[4], buf[5], buf[6], buf[7] = 0xff, 0xff, 0xff, 0xff

	_, ok, erased := DecodePageHeader(buf)
	assert.False(t, ok)
	assert.False(t, erased)
}
