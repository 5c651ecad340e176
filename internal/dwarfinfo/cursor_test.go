package dwarfinfo

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dterrors "github.com/coral-mesh/dwarftags/internal/errors"
)

func TestCursor_ULEB128(t *testing.T) {
	tests := []struct {
		in   []byte
		want uint64
	}{
		{[]byte{0x02}, 2},
		{[]byte{0x7f}, 127},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0x81, 0x01}, 129},
		{[]byte{0xb9, 0x64}, 12857},
		{[]byte{0xe5, 0x8e, 0x26}, 624485},
	}
	for _, tt := range tests {
		c := NewCursor(tt.in, 0, binary.LittleEndian)
		assert.Equal(t, tt.want, c.ULEB128(), "% x", tt.in)
		assert.NoError(t, c.Err())
		assert.True(t, c.Done())
	}
}

func TestCursor_SLEB128(t *testing.T) {
	tests := []struct {
		in   []byte
		want int64
	}{
		{[]byte{0x02}, 2},
		{[]byte{0x7e}, -2},
		{[]byte{0xff, 0x00}, 127},
		{[]byte{0x81, 0x7f}, -127},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0x80, 0x7f}, -128},
	}
	for _, tt := range tests {
		c := NewCursor(tt.in, 0, binary.LittleEndian)
		assert.Equal(t, tt.want, c.SLEB128(), "% x", tt.in)
		assert.NoError(t, c.Err())
	}
}

func TestCursor_TruncatedLEB(t *testing.T) {
	c := NewCursor([]byte{0x80, 0x80}, 0x40, binary.LittleEndian)
	assert.Equal(t, uint64(0), c.ULEB128())
	require.Error(t, c.Err())
	assert.True(t, errors.Is(c.Err(), dterrors.ErrTruncated))
}

func TestCursor_StickyError(t *testing.T) {
	c := NewCursor([]byte{1, 2, 3}, 0x100, binary.BigEndian)
	assert.Equal(t, uint16(0x0102), c.U16())
	assert.Equal(t, uint32(0), c.U32())
	require.ErrorIs(t, c.Err(), dterrors.ErrTruncated)
	assert.Contains(t, c.Err().Error(), "0x102")

	// Later reads do not advance or clear the error.
	assert.Equal(t, uint8(0), c.U8())
	assert.Equal(t, 2, c.Pos())
	assert.ErrorIs(t, c.Err(), dterrors.ErrTruncated)
}

func TestCursor_FixedWidth(t *testing.T) {
	data := []byte{
		0x01, 0x02, 0x03, // u24
		0x04, 0x05, 0x06, 0x07, // u32
		0x01, 0, 0, 0, 0, 0, 0, 0, // u64
	}

	le := NewCursor(data, 0, binary.LittleEndian)
	assert.Equal(t, uint32(0x030201), le.U24())
	assert.Equal(t, uint32(0x07060504), le.U32())
	assert.Equal(t, uint64(1), le.U64())
	assert.NoError(t, le.Err())

	be := NewCursor(data, 0, binary.BigEndian)
	assert.Equal(t, uint32(0x010203), be.U24())
	assert.Equal(t, uint32(0x04050607), be.U32())
	assert.Equal(t, uint64(1)<<56, be.U64())
}

func TestCursor_CString(t *testing.T) {
	c := NewCursor([]byte("main\x00x"), 0, binary.LittleEndian)
	assert.Equal(t, "main", c.CString())
	assert.Equal(t, "", c.CString())
	assert.ErrorIs(t, c.Err(), dterrors.ErrTruncated)

	s, ok := CStringAt([]byte("\x00abc\x00"), 1)
	assert.True(t, ok)
	assert.Equal(t, "abc", s)

	_, ok = CStringAt([]byte("abc"), 0)
	assert.False(t, ok, "unterminated")
	_, ok = CStringAt([]byte("abc\x00"), 10)
	assert.False(t, ok, "out of range")
}

func TestCursor_UnitLength(t *testing.T) {
	t.Run("32-bit", func(t *testing.T) {
		c := NewCursor([]byte{0x10, 0, 0, 0}, 0, binary.LittleEndian)
		length, dwarf64 := c.UnitLength()
		assert.Equal(t, uint64(0x10), length)
		assert.False(t, dwarf64)
	})

	t.Run("64-bit escape", func(t *testing.T) {
		data := []byte{0xff, 0xff, 0xff, 0xff, 0x20, 0, 0, 0, 0, 0, 0, 0}
		c := NewCursor(data, 0, binary.LittleEndian)
		length, dwarf64 := c.UnitLength()
		assert.Equal(t, uint64(0x20), length)
		assert.True(t, dwarf64)
		assert.Equal(t, 12, c.Pos())
	})

	t.Run("reserved", func(t *testing.T) {
		c := NewCursor([]byte{0xf0, 0xff, 0xff, 0xff}, 0, binary.LittleEndian)
		c.UnitLength()
		assert.ErrorIs(t, c.Err(), dterrors.ErrTruncated)
	})
}
