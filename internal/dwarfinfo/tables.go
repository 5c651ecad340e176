package dwarfinfo

import (
	"encoding/binary"
)

// Sections holds the debug section bytes the walker reads. Only Info and
// Abbrev are required.
type Sections struct {
	Info       []byte
	Abbrev     []byte
	Str        []byte
	LineStr    []byte
	StrOffsets []byte
	Addr       []byte
}

// Tables resolves indirect string and address values against the string,
// string-offset and address sections. It is safe for concurrent use.
type Tables struct {
	sec   Sections
	order binary.ByteOrder
}

// NewTables returns a resolver over sec.
func NewTables(sec Sections, order binary.ByteOrder) *Tables {
	return &Tables{sec: sec, order: order}
}

// String resolves a string-valued attribute. Values referring to a
// supplementary object file (strp_sup, GNU_strp_alt) cannot be resolved.
func (t *Tables) String(u *Unit, v Value) (string, bool) {
	switch v.Class {
	case ClassString:
		return v.Str, true
	case ClassStrOffset:
		switch v.Form {
		case FormStrp:
			return CStringAt(t.sec.Str, v.Uint)
		case FormLineStrp:
			return CStringAt(t.sec.LineStr, v.Uint)
		}
		return "", false
	case ClassStrIndex:
		if u == nil {
			return "", false
		}
		size := uint64(u.offsetSize())
		off, ok := t.readAt(t.sec.StrOffsets, u.StrOffsetsBase+v.Uint*size, int(size))
		if !ok {
			return "", false
		}
		return CStringAt(t.sec.Str, off)
	}
	return "", false
}

// Address resolves an address-valued attribute. addrx values are looked up
// in .debug_addr relative to the unit's address base.
func (t *Tables) Address(u *Unit, v Value) (uint64, bool) {
	switch v.Class {
	case ClassAddress:
		return v.Uint, true
	case ClassAddrIndex:
		if u == nil {
			return 0, false
		}
		return t.readAt(t.sec.Addr, u.AddrBase+v.Uint*uint64(u.AddrSize), u.AddrSize)
	}
	return 0, false
}

func (t *Tables) readAt(section []byte, off uint64, size int) (uint64, bool) {
	end := off + uint64(size)
	if end < off || end > uint64(len(section)) {
		return 0, false
	}
	b := section[off:end]
	switch size {
	case 1:
		return uint64(b[0]), true
	case 2:
		return uint64(t.order.Uint16(b)), true
	case 4:
		return uint64(t.order.Uint32(b)), true
	case 8:
		return t.order.Uint64(b), true
	}
	return 0, false
}
