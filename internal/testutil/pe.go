package testutil

import (
	"debug/pe"
	"encoding/binary"
	"sort"
	"strconv"
)

const (
	peHeaderOffset = 0x80
	peFileAlign    = 0x200
)

type peSection struct {
	name string
	data []byte
}

// PEBuilder assembles a PE image: a DOS stub, an optional header without
// data directories, the section table and a COFF string table holding the
// names longer than eight bytes. Raw section data is padded to the file
// alignment and VirtualSize records the unpadded length, as linkers do.
type PEBuilder struct {
	pe64     bool
	sections []peSection
}

// NewPEBuilder returns a builder for a PE32+ (amd64) image when pe64 is set,
// and for a PE32 (i386) image otherwise.
func NewPEBuilder(pe64 bool) *PEBuilder {
	return &PEBuilder{pe64: pe64}
}

// AddSection appends a section.
func (b *PEBuilder) AddSection(name string, data []byte) *PEBuilder {
	b.sections = append(b.sections, peSection{name: name, data: data})
	return b
}

// AddSections adds every section of secs in name order.
func (b *PEBuilder) AddSections(secs map[string][]byte) *PEBuilder {
	names := make([]string, 0, len(secs))
	for name := range secs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.AddSection(name, secs[name])
	}
	return b
}

// Bytes serializes the image.
func (b *PEBuilder) Bytes() []byte {
	machine, magic, optSize := uint16(pe.IMAGE_FILE_MACHINE_I386), uint16(0x10b), 96
	if b.pe64 {
		machine, magic, optSize = pe.IMAGE_FILE_MACHINE_AMD64, 0x20b, 112
	}

	headerEnd := peHeaderOffset + 4 + 20 + optSize + 40*len(b.sections)
	offsets := make([]int, len(b.sections))
	next := alignUp(headerEnd, peFileAlign)
	for i, s := range b.sections {
		offsets[i] = next
		next += alignUp(len(s.data), peFileAlign)
	}
	strtabOff := next

	e := encoder{order: binary.LittleEndian}
	e.bytes([]byte("MZ"))
	padTo(&e, 0x3c)
	e.u32(peHeaderOffset)
	padTo(&e, peHeaderOffset)
	e.bytes([]byte("PE\x00\x00"))

	e.u16(machine)
	e.u16(uint16(len(b.sections)))
	e.u32(0) // TimeDateStamp
	e.u32(uint32(strtabOff))
	e.u32(0) // NumberOfSymbols
	e.u16(uint16(optSize))
	e.u16(0)

	e.u16(magic)
	e.bytes(make([]byte, optSize-2))

	var strtab []byte
	for i, s := range b.sections {
		var name [8]byte
		if len(s.name) <= len(name) {
			copy(name[:], s.name)
		} else {
			// String table offsets count the 4-byte length prefix.
			copy(name[:], "/"+strconv.Itoa(4+len(strtab)))
			strtab = append(strtab, s.name...)
			strtab = append(strtab, 0)
		}
		e.bytes(name[:])
		e.u32(uint32(len(s.data))) // VirtualSize
		e.u32(0)                   // VirtualAddress
		e.u32(uint32(alignUp(len(s.data), peFileAlign)))
		e.u32(uint32(offsets[i]))
		e.u32(0) // PointerToRelocations
		e.u32(0) // PointerToLineNumbers
		e.u16(0)
		e.u16(0)
		e.u32(pe.IMAGE_SCN_CNT_INITIALIZED_DATA | pe.IMAGE_SCN_MEM_DISCARDABLE | pe.IMAGE_SCN_MEM_READ)
	}

	for i, s := range b.sections {
		padTo(&e, offsets[i])
		e.bytes(s.data)
	}
	padTo(&e, strtabOff)
	e.u32(uint32(4 + len(strtab)))
	e.bytes(strtab)
	return e.buf
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

func padTo(e *encoder, n int) {
	for e.len() < n {
		e.u8(0)
	}
}
