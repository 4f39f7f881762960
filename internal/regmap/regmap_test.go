package regmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestMemoryWindow(t *testing.T) {
	w, err := NewMemory(Region{Address: 0x1d84000, Size: 0x100})
	require.NoError(t, err)
	assert.Equal(t, Region{Address: 0x1d84000, Size: 0x100}, w.Region())

	require.NoError(t, w.WriteU32(0x10, 0xdeadbeef))
	v, err := w.ReadU32(0x10)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xdeadbeef), v)

	_, err = w.ReadU32(0x100)
	assert.Error(t, err)
	_, err = w.ReadU32(0x3)
	assert.Error(t, err)

	assert.False(t, Closed(w))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.True(t, Closed(w))

	_, err = w.ReadU32(0x10)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNewMemoryRejectsEmptyRegion(t *testing.T) {
	_, err := MemoryMapper{}.Map(Region{Address: 0x1000})
	assert.Error(t, err)
}

func TestNewMemoryRejectsOversizeRegion(t *testing.T) {
	_, err := MemoryMapper{}.Map(Region{Address: 0x1000, Size: 1 << 40})
	assert.ErrorIs(t, err, unix.EINVAL)

	_, err = MemoryMapper{}.Map(Region{Address: 0, Size: ^uint64(0)})
	assert.ErrorIs(t, err, unix.EINVAL)

	w, err := NewMemory(Region{Address: 0x1000, Size: MaxMemorySize})
	require.NoError(t, err)
	require.NoError(t, w.Close())
}
