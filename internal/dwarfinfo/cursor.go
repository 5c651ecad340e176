package dwarfinfo

import (
	"bytes"
	"encoding/binary"
	"fmt"

	dterrors "github.com/coral-mesh/dwarftags/internal/errors"
)

// Cursor reads DWARF primitives from a byte range. The first failed read
// sets a sticky error; every later read returns zero values.
type Cursor struct {
	data  []byte
	pos   int
	base  uint64
	order binary.ByteOrder
	err   error
}

// NewCursor returns a cursor over data. base is the section offset of
// data[0] and only affects reported offsets.
func NewCursor(data []byte, base uint64, order binary.ByteOrder) *Cursor {
	return &Cursor{data: data, base: base, order: order}
}

// Err returns the first error encountered.
func (c *Cursor) Err() error {
	return c.err
}

// Offset returns the section offset of the next byte to read.
func (c *Cursor) Offset() uint64 {
	return c.base + uint64(c.pos)
}

// Pos returns the position relative to the start of the cursor's range.
func (c *Cursor) Pos() int {
	return c.pos
}

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int {
	return len(c.data) - c.pos
}

// Done reports whether the range is exhausted or an error occurred.
func (c *Cursor) Done() bool {
	return c.err != nil || c.pos >= len(c.data)
}

// Order returns the byte order multi-byte values are read with.
func (c *Cursor) Order() binary.ByteOrder {
	return c.order
}

func (c *Cursor) fail(what string, n int) {
	if c.err == nil {
		c.err = fmt.Errorf("reading %s (%d bytes) at 0x%x with %d bytes left: %w",
			what, n, c.Offset(), c.Remaining(), dterrors.ErrTruncated)
	}
}

// Bytes consumes n bytes and returns them as a view.
func (c *Cursor) Bytes(n int, what string) []byte {
	if c.err != nil {
		return nil
	}
	if n < 0 || n > c.Remaining() {
		c.fail(what, n)
		return nil
	}
	b := c.data[c.pos : c.pos+n : c.pos+n]
	c.pos += n
	return b
}

// Skip consumes n bytes.
func (c *Cursor) Skip(n int, what string) {
	c.Bytes(n, what)
}

// U8 reads one byte.
func (c *Cursor) U8() uint8 {
	b := c.Bytes(1, "u8")
	if b == nil {
		return 0
	}
	return b[0]
}

// U16 reads a 2-byte value.
func (c *Cursor) U16() uint16 {
	b := c.Bytes(2, "u16")
	if b == nil {
		return 0
	}
	return c.order.Uint16(b)
}

// U24 reads a 3-byte value, as used by the strx3 and addrx3 forms.
func (c *Cursor) U24() uint32 {
	b := c.Bytes(3, "u24")
	if b == nil {
		return 0
	}
	if c.order == binary.BigEndian {
		return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

// U32 reads a 4-byte value.
func (c *Cursor) U32() uint32 {
	b := c.Bytes(4, "u32")
	if b == nil {
		return 0
	}
	return c.order.Uint32(b)
}

// U64 reads an 8-byte value.
func (c *Cursor) U64() uint64 {
	b := c.Bytes(8, "u64")
	if b == nil {
		return 0
	}
	return c.order.Uint64(b)
}

// UintN reads an unsigned value of width n (1, 2, 4 or 8 bytes).
func (c *Cursor) UintN(n int) uint64 {
	switch n {
	case 1:
		return uint64(c.U8())
	case 2:
		return uint64(c.U16())
	case 4:
		return uint64(c.U32())
	case 8:
		return c.U64()
	}
	if c.err == nil {
		c.err = fmt.Errorf("unsupported value width %d at 0x%x: %w", n, c.Offset(), dterrors.ErrCorruptUnit)
	}
	return 0
}

// SectionOffset reads a section offset, 8 bytes wide in the 64-bit DWARF format.
func (c *Cursor) SectionOffset(dwarf64 bool) uint64 {
	if dwarf64 {
		return c.U64()
	}
	return uint64(c.U32())
}

// ULEB128 reads an unsigned LEB128 value. Bits past 64 are dropped.
func (c *Cursor) ULEB128() uint64 {
	var result uint64
	var shift uint
	for {
		b := c.U8()
		if c.err != nil {
			return 0
		}
		if shift < 64 {
			result |= uint64(b&0x7f) << shift
		}
		shift += 7
		if b&0x80 == 0 {
			return result
		}
	}
}

// SLEB128 reads a signed LEB128 value.
func (c *Cursor) SLEB128() int64 {
	var result int64
	var shift uint
	var b uint8
	for {
		b = c.U8()
		if c.err != nil {
			return 0
		}
		if shift < 64 {
			result |= int64(b&0x7f) << shift
		}
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result
}

// CString reads a NUL-terminated string.
func (c *Cursor) CString() string {
	if c.err != nil {
		return ""
	}
	i := bytes.IndexByte(c.data[c.pos:], 0)
	if i < 0 {
		c.fail("string", c.Remaining()+1)
		return ""
	}
	s := string(c.data[c.pos : c.pos+i])
	c.pos += i + 1
	return s
}

// UnitLength reads an initial length field and reports whether it selects
// the 64-bit DWARF format.
func (c *Cursor) UnitLength() (length uint64, dwarf64 bool) {
	l := c.U32()
	switch {
	case l == 0xffffffff:
		return c.U64(), true
	case l >= 0xfffffff0:
		if c.err == nil {
			c.err = fmt.Errorf("reserved initial length 0x%x at 0x%x: %w", l, c.Offset()-4, dterrors.ErrTruncated)
		}
		return 0, false
	}
	return uint64(l), false
}

// CStringAt returns the NUL-terminated string starting at off in data.
func CStringAt(data []byte, off uint64) (string, bool) {
	if off >= uint64(len(data)) {
		return "", false
	}
	rest := data[off:]
	i := bytes.IndexByte(rest, 0)
	if i < 0 {
		return "", false
	}
	return string(rest[:i]), true
}
