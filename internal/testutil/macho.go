package testutil

import (
	"debug/macho"
	"encoding/binary"
	"sort"
	"strings"
)

const machoZeroFill = 0x1 // S_ZEROFILL

type machoSection struct {
	segment string
	name    string
	data    []byte
	// zeroFill is the size of a section without file contents.
	zeroFill uint64
}

// MachOBuilder assembles a Mach-O object with one segment load command per
// segment name. Section names longer than 16 bytes are truncated as the
// format requires.
type MachOBuilder struct {
	is64     bool
	order    binary.ByteOrder
	cpu      macho.Cpu
	sections []machoSection
}

// NewMachOBuilder returns a builder for a 32- or 64-bit object.
func NewMachOBuilder(is64 bool, order binary.ByteOrder, cpu macho.Cpu) *MachOBuilder {
	return &MachOBuilder{is64: is64, order: order, cpu: cpu}
}

// AddSection appends a section to segment.
func (b *MachOBuilder) AddSection(segment, name string, data []byte) *MachOBuilder {
	b.sections = append(b.sections, machoSection{segment: segment, name: name, data: data})
	return b
}

// AddZeroFill appends a zero-fill section of size bytes, such as __bss.
func (b *MachOBuilder) AddZeroFill(segment, name string, size uint64) *MachOBuilder {
	b.sections = append(b.sections, machoSection{segment: segment, name: name, zeroFill: size})
	return b
}

// AddDWARF adds ELF-named debug sections to __DWARF under their Mach-O
// names, in name order.
func (b *MachOBuilder) AddDWARF(secs map[string][]byte) *MachOBuilder {
	names := make([]string, 0, len(secs))
	for name := range secs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.AddSection("__DWARF", "__"+strings.TrimPrefix(name, "."), secs[name])
	}
	return b
}

// AddZdebugSection adds the __zdebug_ form of an ELF-named debug section.
func (b *MachOBuilder) AddZdebugSection(name string, data []byte) *MachOBuilder {
	return b.AddSection("__DWARF", "__z"+strings.TrimPrefix(name, "."), zdebug(data))
}

// Bytes serializes the object.
func (b *MachOBuilder) Bytes() []byte {
	var segments []string
	bySegment := make(map[string][]int)
	for i, s := range b.sections {
		if _, ok := bySegment[s.segment]; !ok {
			segments = append(segments, s.segment)
		}
		bySegment[s.segment] = append(bySegment[s.segment], i)
	}

	magic, headerSize, segSize, sectSize := uint32(macho.Magic32), 28, 56, 68
	cmd := macho.LoadCmdSegment
	if b.is64 {
		magic, headerSize, segSize, sectSize = macho.Magic64, 32, 72, 80
		cmd = macho.LoadCmdSegment64
	}

	cmdsSize := segSize*len(segments) + sectSize*len(b.sections)
	offsets := make([]int, len(b.sections))
	next := headerSize + cmdsSize
	for i, s := range b.sections {
		if s.zeroFill == 0 {
			offsets[i] = next
			next += len(s.data)
		}
	}

	e := encoder{order: b.order}
	e.u32(magic)
	e.u32(uint32(b.cpu))
	e.u32(0) // cpusubtype
	e.u32(uint32(macho.TypeObj))
	e.u32(uint32(len(segments)))
	e.u32(uint32(cmdsSize))
	e.u32(0) // flags
	if b.is64 {
		e.u32(0)
	}

	for _, seg := range segments {
		idx := bySegment[seg]
		var fileOff, fileSize uint64
		placed := false
		for _, i := range idx {
			if b.sections[i].zeroFill != 0 {
				continue
			}
			if !placed {
				fileOff, placed = uint64(offsets[i]), true
			}
			fileSize += uint64(len(b.sections[i].data))
		}

		e.u32(uint32(cmd))
		e.u32(uint32(segSize + sectSize*len(idx)))
		e.bytes(name16(seg))
		e.word(0, b.is64) // vmaddr
		e.word(0, b.is64) // vmsize
		e.word(fileOff, b.is64)
		e.word(fileSize, b.is64)
		e.u32(7) // maxprot
		e.u32(7) // initprot
		e.u32(uint32(len(idx)))
		e.u32(0)

		for _, i := range idx {
			s := b.sections[i]
			size, flags := uint64(len(s.data)), uint32(0)
			if s.zeroFill != 0 {
				size, flags = s.zeroFill, machoZeroFill
			}
			e.bytes(name16(s.name))
			e.bytes(name16(s.segment))
			e.word(0, b.is64) // addr
			e.word(size, b.is64)
			e.u32(uint32(offsets[i]))
			e.u32(0) // align
			e.u32(0) // reloff
			e.u32(0) // nreloc
			e.u32(flags)
			e.u32(0)
			e.u32(0)
			if b.is64 {
				e.u32(0)
			}
		}
	}

	for i, s := range b.sections {
		if s.zeroFill == 0 {
			padTo(&e, offsets[i])
			e.bytes(s.data)
		}
	}
	return e.buf
}

func name16(s string) []byte {
	var b [16]byte
	copy(b[:], s)
	return b[:]
}
