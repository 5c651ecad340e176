package testutil

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"sort"
	"strings"

	"github.com/klauspost/compress/zlib"
)

// Reloc is one relocation entry added with ELFBuilder.AddRelocations.
type Reloc struct {
	Offset uint64
	// Symbol is an index returned by AddSymbol, or 0 for none.
	Symbol uint32
	Type   uint32
	Addend int64
}

type elfSection struct {
	name    string
	typ     elf.SectionType
	flags   elf.SectionFlag
	data    []byte
	link    uint32
	info    uint32
	entsize uint64
	// linkSymtab marks relocation sections whose link is the symbol table.
	linkSymtab bool
}

type elfSymbol struct {
	name    string
	value   uint64
	section uint16
}

// ELFBuilder writes minimal ELF files holding arbitrary sections. It has no
// program headers; debug/elf only needs the section header table.
type ELFBuilder struct {
	class    elf.Class
	order    binary.ByteOrder
	machine  elf.Machine
	typ      elf.Type
	sections []*elfSection
	symbols  []elfSymbol
}

// NewELFBuilder returns a builder for an executable of the given class, byte
// order and machine.
func NewELFBuilder(class elf.Class, order binary.ByteOrder, machine elf.Machine) *ELFBuilder {
	return &ELFBuilder{
		class:   class,
		order:   order,
		machine: machine,
		typ:     elf.ET_EXEC,
	}
}

// NewELF64 returns a little-endian x86-64 builder.
func NewELF64() *ELFBuilder {
	return NewELFBuilder(elf.ELFCLASS64, binary.LittleEndian, elf.EM_X86_64)
}

// SetType sets e_type, for example elf.ET_REL for an object file.
func (b *ELFBuilder) SetType(t elf.Type) *ELFBuilder {
	b.typ = t
	return b
}

func (b *ELFBuilder) is64() bool {
	return b.class == elf.ELFCLASS64
}

func (b *ELFBuilder) add(s *elfSection) int {
	b.sections = append(b.sections, s)
	// Index 0 is the null section.
	return len(b.sections)
}

// AddSection adds a SHT_PROGBITS section and returns its index.
func (b *ELFBuilder) AddSection(name string, data []byte) int {
	return b.add(&elfSection{name: name, typ: elf.SHT_PROGBITS, data: data})
}

// AddSections adds every section of secs in name order.
func (b *ELFBuilder) AddSections(secs map[string][]byte) {
	names := make([]string, 0, len(secs))
	for name := range secs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.AddSection(name, secs[name])
	}
}

// AddNoBitsSection adds an empty SHT_NOBITS section, as strip
// leaves behind for removed debug sections.
func (b *ELFBuilder) AddNoBitsSection(name string) int {
	return b.add(&elfSection{name: name, typ: elf.SHT_NOBITS})
}

// AddCompressedSection adds a SHF_COMPRESSED section holding a zlib
// compressed copy of data.
func (b *ELFBuilder) AddCompressedSection(name string, data []byte) int {
	e := encoder{order: b.order}
	e.u32(uint32(elf.COMPRESS_ZLIB))
	if b.is64() {
		e.u32(0) // ch_reserved
		e.u64(uint64(len(data)))
		e.u64(1)
	} else {
		e.u32(uint32(len(data)))
		e.u32(1)
	}
	e.bytes(Zlib(data))
	return b.add(&elfSection{name: name, typ: elf.SHT_PROGBITS, flags: elf.SHF_COMPRESSED, data: e.buf})
}

// AddZdebugSection adds the GNU .zdebug_ form of a .debug_ section.
func (b *ELFBuilder) AddZdebugSection(name string, data []byte) int {
	name = strings.Replace(name, ".debug_", ".zdebug_", 1)
	return b.AddSection(name, zdebug(data))
}

// zdebug encodes data in the GNU zdebug form: "ZLIB", the big-endian
// uncompressed size, then the zlib stream.
func zdebug(data []byte) []byte {
	raw := []byte("ZLIB")
	raw = binary.BigEndian.AppendUint64(raw, uint64(len(data)))
	return append(raw, Zlib(data)...)
}

// AddSymbol adds a global symbol and returns its symbol table index.
func (b *ELFBuilder) AddSymbol(name string, value uint64, section int) uint32 {
	b.symbols = append(b.symbols, elfSymbol{name: name, value: value, section: uint16(section)})
	return uint32(len(b.symbols))
}

// AddRelocations adds a relocation section applying relocs to the section
// at index target. i386 gets SHT_REL entries, every other machine SHT_RELA.
func (b *ELFBuilder) AddRelocations(target int, relocs []Reloc) int {
	e := encoder{order: b.order}
	rel := b.machine == elf.EM_386
	for _, r := range relocs {
		switch {
		case rel:
			e.u32(uint32(r.Offset))
			e.u32(r.Symbol<<8 | r.Type&0xff)
		case b.is64():
			e.u64(r.Offset)
			e.u64(uint64(r.Symbol)<<32 | uint64(r.Type))
			e.u64(uint64(r.Addend))
		default:
			e.u32(uint32(r.Offset))
			e.u32(r.Symbol<<8 | r.Type&0xff)
			e.u32(uint32(r.Addend))
		}
	}

	s := &elfSection{
		data:       e.buf,
		info:       uint32(target),
		linkSymtab: true,
	}
	targetName := b.sections[target-1].name
	switch {
	case rel:
		s.name, s.typ, s.entsize = ".rel"+targetName, elf.SHT_REL, 8
	case b.is64():
		s.name, s.typ, s.entsize = ".rela"+targetName, elf.SHT_RELA, 24
	default:
		s.name, s.typ, s.entsize = ".rela"+targetName, elf.SHT_RELA, 12
	}
	return b.add(s)
}

// Bytes lays out the file: header, section contents, section headers.
func (b *ELFBuilder) Bytes() []byte {
	secs := append([]*elfSection{{}}, b.sections...)

	hasRelocs := false
	for _, s := range b.sections {
		hasRelocs = hasRelocs || s.linkSymtab
	}
	if len(b.symbols) > 0 || hasRelocs {
		symtab, strtab := b.symbolTables()
		symIdx := len(secs)
		entsize := uint64(16)
		if b.is64() {
			entsize = 24
		}
		secs = append(secs,
			&elfSection{name: ".symtab", typ: elf.SHT_SYMTAB, data: symtab, link: uint32(symIdx + 1), info: 1, entsize: entsize},
			&elfSection{name: ".strtab", typ: elf.SHT_STRTAB, data: strtab},
		)
		for _, s := range secs {
			if s.linkSymtab {
				s.link = uint32(symIdx)
			}
		}
	}

	shstrtab := []byte{0}
	nameOff := make([]uint32, len(secs)+1)
	shstrIdx := len(secs)
	secs = append(secs, &elfSection{name: ".shstrtab", typ: elf.SHT_STRTAB})
	for i, s := range secs {
		if i == 0 {
			continue
		}
		nameOff[i] = uint32(len(shstrtab))
		shstrtab = append(shstrtab, s.name...)
		shstrtab = append(shstrtab, 0)
	}
	secs[shstrIdx].data = shstrtab

	ehsize, shentsize := 52, 40
	if b.is64() {
		ehsize, shentsize = 64, 64
	}

	out := encoder{order: b.order, buf: make([]byte, ehsize)}
	offsets := make([]uint64, len(secs))
	for i, s := range secs {
		if i == 0 || s.typ == elf.SHT_NOBITS {
			continue
		}
		for out.len()%8 != 0 {
			out.u8(0)
		}
		offsets[i] = uint64(out.len())
		out.bytes(s.data)
	}
	for out.len()%8 != 0 {
		out.u8(0)
	}
	shoff := uint64(out.len())

	for i, s := range secs {
		if i == 0 {
			for j := 0; j < shentsize; j++ {
				out.u8(0)
			}
			continue
		}
		size := uint64(len(s.data))
		out.u32(nameOff[i])
		out.u32(uint32(s.typ))
		out.word(uint64(s.flags), b.is64())
		out.word(0, b.is64()) // addr
		out.word(offsets[i], b.is64())
		out.word(size, b.is64())
		out.u32(s.link)
		out.u32(s.info)
		out.word(1, b.is64()) // addralign
		out.word(s.entsize, b.is64())
	}

	hdr := encoder{order: b.order}
	hdr.bytes([]byte{0x7f, 'E', 'L', 'F', byte(b.class), dataEncoding(b.order), byte(elf.EV_CURRENT)})
	hdr.bytes(make([]byte, 9))
	hdr.u16(uint16(b.typ))
	hdr.u16(uint16(b.machine))
	hdr.u32(uint32(elf.EV_CURRENT))
	hdr.word(0, b.is64()) // entry
	hdr.word(0, b.is64()) // phoff
	hdr.word(shoff, b.is64())
	hdr.u32(0) // flags
	hdr.u16(uint16(ehsize))
	hdr.u16(0) // phentsize
	hdr.u16(0) // phnum
	hdr.u16(uint16(shentsize))
	hdr.u16(uint16(len(secs)))
	hdr.u16(uint16(shstrIdx))
	copy(out.buf, hdr.buf)

	return out.buf
}

func (b *ELFBuilder) symbolTables() (symtab, strtab []byte) {
	strtab = []byte{0}
	e := encoder{order: b.order}
	entsize := 16
	if b.is64() {
		entsize = 24
	}
	e.bytes(make([]byte, entsize))

	info := byte(elf.STB_GLOBAL)<<4 | byte(elf.STT_NOTYPE)
	for _, s := range b.symbols {
		name := uint32(len(strtab))
		strtab = append(strtab, s.name...)
		strtab = append(strtab, 0)
		if b.is64() {
			e.u32(name)
			e.u8(info)
			e.u8(0)
			e.u16(s.section)
			e.u64(s.value)
			e.u64(0)
		} else {
			e.u32(name)
			e.u32(uint32(s.value))
			e.u32(0)
			e.u8(info)
			e.u8(0)
			e.u16(s.section)
		}
	}
	return e.buf, strtab
}

func dataEncoding(order binary.ByteOrder) byte {
	if order == binary.ByteOrder(binary.BigEndian) {
		return byte(elf.ELFDATA2MSB)
	}
	return byte(elf.ELFDATA2LSB)
}

// Zlib compresses data with zlib.
func Zlib(data []byte) []byte {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, _ = zw.Write(data)
	_ = zw.Close()
	return buf.Bytes()
}
