package store

import (
	"bytes"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flint/driver"
)

// testMemory returns an erased in-memory flash image with the geometry used
// throughout these tests: 4-byte words, 256-byte pages, two writes per word.
func testMemory(t *testing.T, pages uint) *driver.Memory {
	t.Helper()
	m, err := driver.NewMemory(driver.Geometry{
		WordSize:      4,
		PageSize:      256,
		NumPages:      pages,
		MaxWordWrites: 2,
	})
	require.NoError(t, err)
	return m
}

func quietConfig() Config {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return Config{Logger: logger}
}

func openStore(t *testing.T, drv driver.Driver) *Store {
	t.Helper()
	s, err := Open(drv, quietConfig())
	require.NoError(t, err)
	return s
}

func TestOpenRejectsGeometry(t *testing.T) {
	m, err := driver.NewMemory(driver.Geometry{WordSize: 4, PageSize: 32, NumPages: 4, MaxWordWrites: 2})
	require.NoError(t, err)
	_, err = Open(m, quietConfig())
	assert.ErrorIs(t, err, ErrInvalidArgument)

	m, err = driver.NewMemory(driver.Geometry{WordSize: 4, PageSize: 256, NumPages: 1, MaxWordWrites: 2})
	require.NoError(t, err)
	_, err = Open(m, quietConfig())
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestInsertFindRoundTrip(t *testing.T) {
	s := openStore(t, testMemory(t, 4))

	require.NoError(t, s.Insert(1, []byte("ab")))
	require.NoError(t, s.Insert(2, []byte("a longer value than the first")))
	require.NoError(t, s.Insert(MaxKey, []byte{0x00, 0xff}))

	v, err := s.Find(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), v)

	v, err = s.Find(2)
	require.NoError(t, err)
	assert.Equal(t, []byte("a longer value than the first"), v)

	v, err = s.Find(MaxKey)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xff}, v)
}

func TestFindMissing(t *testing.T) {
	s := openStore(t, testMemory(t, 4))

	_, err := s.Find(1)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Find(MaxKey + 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestInsertValidation(t *testing.T) {
	s := openStore(t, testMemory(t, 4))

	assert.ErrorIs(t, s.Insert(MaxKey+1, []byte("x")), ErrInvalidArgument)
	assert.ErrorIs(t, s.Insert(1, bytes.Repeat([]byte{0xaa}, MaxValueLen+1)), ErrInvalidArgument)
	assert.ErrorIs(t, s.Remove(MaxKey+1), ErrInvalidArgument)

	// Rejected operations write nothing.
	assert.Equal(t, uint(0), s.Used())
	assert.Equal(t, uint(0), s.log.used)
}

func TestInsertMaxValue(t *testing.T) {
	s := openStore(t, testMemory(t, 16))
	value := bytes.Repeat([]byte{0x5a}, MaxValueLen)

	require.NoError(t, s.Insert(7, value))
	got, err := s.Find(7)
	require.NoError(t, err)
	assert.Equal(t, value, got)
}

func TestEmptyValue(t *testing.T) {
	s := openStore(t, testMemory(t, 4))

	require.NoError(t, s.Insert(1, nil))
	v, err := s.Find(1)
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestOverwrite(t *testing.T) {
	s := openStore(t, testMemory(t, 4))

	require.NoError(t, s.Insert(1, []byte("first")))
	require.NoError(t, s.Insert(1, []byte("second")))

	v, err := s.Find(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), v)
}

func TestRemoveIdempotent(t *testing.T) {
	s := openStore(t, testMemory(t, 4))

	require.NoError(t, s.Insert(1, []byte("ab")))
	require.NoError(t, s.Remove(1))
	_, err := s.Find(1)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Remove(1))
	_, err = s.Find(1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveAbsentWritesNothing(t *testing.T) {
	s := openStore(t, testMemory(t, 4))

	require.NoError(t, s.Remove(1))
	assert.Equal(t, uint(0), s.log.used)
}

func TestUsedCapacity(t *testing.T) {
	s := openStore(t, testMemory(t, 4))

	// Three pages of 248 usable bytes; the fourth is compaction headroom.
	assert.Equal(t, uint(744), s.Capacity())
	assert.Equal(t, uint(0), s.Used())

	require.NoError(t, s.Insert(1, []byte("ab")))
	assert.Equal(t, uint(16), s.Used())

	// Used tracks live entries only; the superseded copy does not count.
	require.NoError(t, s.Insert(1, bytes.Repeat([]byte{1}, 20)))
	assert.Equal(t, uint(32), s.Used())

	require.NoError(t, s.Insert(2, nil))
	assert.Equal(t, uint(44), s.Used())

	require.NoError(t, s.Remove(1))
	assert.Equal(t, uint(12), s.Used())

	require.NoError(t, s.Remove(2))
	assert.Equal(t, uint(0), s.Used())
}

func TestPersistenceAcrossReopen(t *testing.T) {
	m := testMemory(t, 4)
	s := openStore(t, m)

	require.NoError(t, s.Insert(1, []byte("ab")))
	require.NoError(t, s.Insert(2, []byte("cd")))
	require.NoError(t, s.Insert(1, []byte("updated")))
	require.NoError(t, s.Remove(2))
	used := s.Used()

	s = openStore(t, m)
	v, err := s.Find(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("updated"), v)
	_, err = s.Find(2)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, used, s.Used())
}

func TestClear(t *testing.T) {
	m := testMemory(t, 4)
	s := openStore(t, m)

	require.NoError(t, s.Insert(1, []byte("ab")))
	require.NoError(t, s.Clear())

	_, err := s.Find(1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, uint(0), s.Used())

	// The store is immediately usable again, and stays empty after reopen.
	require.NoError(t, s.Insert(2, []byte("cd")))
	s = openStore(t, m)
	_, err = s.Find(1)
	assert.ErrorIs(t, err, ErrNotFound)
	v, err := s.Find(2)
	require.NoError(t, err)
	assert.Equal(t, []byte("cd"), v)
}

func TestNopDriver(t *testing.T) {
	s := openStore(t, driver.Nop{})

	assert.Equal(t, uint(0), s.Capacity())
	assert.Equal(t, uint(0), s.Used())

	_, err := s.Find(1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Insert(1, []byte("ab")), ErrNoSpaceLeft)
	assert.ErrorIs(t, s.Transaction([]Op{{Key: 1, Value: []byte("a")}, {Key: 2, Delete: true}}), ErrNoSpaceLeft)

	// Removing from an empty store is a no-op even with no storage at all.
	assert.NoError(t, s.Remove(1))
	assert.NoError(t, s.Clear())
}

func TestNoSpaceLeftRecoverable(t *testing.T) {
	s := openStore(t, testMemory(t, 2))
	big := bytes.Repeat([]byte{0xab}, 200)

	require.NoError(t, s.Insert(1, big))
	assert.ErrorIs(t, s.Insert(2, big), ErrNoSpaceLeft)

	// The failed insert changed nothing.
	v, err := s.Find(1)
	require.NoError(t, err)
	assert.Equal(t, big, v)

	// Deleting data makes room again.
	require.NoError(t, s.Remove(1))
	require.NoError(t, s.Insert(2, big))
	v, err = s.Find(2)
	require.NoError(t, err)
	assert.Equal(t, big, v)
}

// TestTwoPageScenario walks the smallest interesting geometry end to end:
// two pages of 256 bytes, one of which is compaction headroom.
func TestTwoPageScenario(t *testing.T) {
	m := testMemory(t, 2)
	s := openStore(t, m)

	require.NoError(t, s.Insert(1, []byte("ab")))
	require.NoError(t, s.Insert(2, []byte("cd")))
	require.NoError(t, s.Remove(1))

	// Keep rewriting key 2 until the first page fills and compaction runs.
	for i := 0; i < 20; i++ {
		require.NoError(t, s.Insert(2, []byte("cd")))
	}
	counts := m.EraseCounts()
	assert.Greater(t, counts[0]+counts[1], uint(0))

	s = openStore(t, m)
	_, err := s.Find(1)
	assert.ErrorIs(t, err, ErrNotFound)
	v, err := s.Find(2)
	require.NoError(t, err)
	assert.Equal(t, []byte("cd"), v)
}
