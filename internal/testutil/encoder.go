package testutil

import "encoding/binary"

// encoder appends fixed-size and LEB128 values to a byte slice.
type encoder struct {
	order binary.ByteOrder
	buf   []byte
}

func (e *encoder) u8(v uint8) {
	e.buf = append(e.buf, v)
}

func (e *encoder) u16(v uint16) {
	var b [2]byte
	e.order.PutUint16(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) u32(v uint32) {
	var b [4]byte
	e.order.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) u64(v uint64) {
	var b [8]byte
	e.order.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

// word writes v as 8 bytes when wide is set and 4 bytes otherwise.
func (e *encoder) word(v uint64, wide bool) {
	if wide {
		e.u64(v)
		return
	}
	e.u32(uint32(v))
}

func (e *encoder) uleb(v uint64) {
	e.buf = AppendULEB128(e.buf, v)
}

func (e *encoder) sleb(v int64) {
	e.buf = AppendSLEB128(e.buf, v)
}

func (e *encoder) cstring(s string) {
	e.buf = append(e.buf, s...)
	e.buf = append(e.buf, 0)
}

func (e *encoder) bytes(b []byte) {
	e.buf = append(e.buf, b...)
}

func (e *encoder) len() int {
	return len(e.buf)
}

// putWord overwrites a word written earlier at off.
func (e *encoder) putWord(off int, v uint64, wide bool) {
	if wide {
		e.order.PutUint64(e.buf[off:], v)
		return
	}
	e.order.PutUint32(e.buf[off:], uint32(v))
}

// initialLength reserves a unit length field and returns a function that
// fills it in with the number of bytes written after it.
func (e *encoder) initialLength(dwarf64 bool) func() {
	if dwarf64 {
		e.u32(0xffffffff)
	}
	at := e.len()
	e.word(0, dwarf64)
	return func() {
		width := 4
		if dwarf64 {
			width = 8
		}
		e.putWord(at, uint64(e.len()-at-width), dwarf64)
	}
}
