// Package objfile loads an object file into memory and exposes its debug
// sections as byte ranges.
//
// ELF, Mach-O and PE containers are recognized by their magic numbers. Byte
// order and address width are taken from the container header and must be
// passed on to every decoder that reads the sections.
//
// Section bytes are views into the loaded buffer. Compressed sections and
// relocated sections of relocatable objects are the only exception: they are
// decoded into their own buffers once, at load time.
package objfile

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	dterrors "github.com/coral-mesh/dwarftags/internal/errors"
	"github.com/coral-mesh/dwarftags/internal/safe"
)

// Format names a container format.
type Format string

const (
	FormatELF   Format = "elf"
	FormatMachO Format = "macho"
	FormatPE    Format = "pe"
)

// Debug section names, in their ELF spelling. Mach-O and PE section names are
// mapped onto these.
const (
	SectionInfo       = ".debug_info"
	SectionAbbrev     = ".debug_abbrev"
	SectionStr        = ".debug_str"
	SectionLine       = ".debug_line"
	SectionLineStr    = ".debug_line_str"
	SectionStrOffsets = ".debug_str_offsets"
	SectionAddr       = ".debug_addr"
)

// DebugSectionNames lists every section the indexer may consult.
var DebugSectionNames = []string{
	SectionInfo,
	SectionAbbrev,
	SectionStr,
	SectionLine,
	SectionLineStr,
	SectionStrOffsets,
	SectionAddr,
}

func isDebugSection(name string) bool {
	for _, n := range DebugSectionNames {
		if n == name {
			return true
		}
	}
	return false
}

// Section locates a section within the object file buffer.
type Section struct {
	Name   string
	Offset uint64
	// Size is the number of bytes the section occupies in the file.
	Size uint64
	// Compressed is set when the on-disk bytes are a compressed encoding.
	Compressed bool
}

// ObjectFile is a fully loaded object file. It is immutable after Parse.
type ObjectFile struct {
	buf      []byte
	format   Format
	order    binary.ByteOrder
	addrSize int
	machine  string
	sections map[string]Section
	// debug holds the bytes of the debug sections, keyed by ELF name.
	debug map[string][]byte
}

// Options configures Open.
type Options struct {
	// MaxSize bounds the input size. Zero means safe.DefaultMaxFileSize.
	MaxSize int64
	Logger  zerolog.Logger
}

// Open reads the whole file at path into memory and parses it.
func Open(path string, opts Options) (*ObjectFile, error) {
	buf, err := safe.ReadFile(path, &safe.ReadOptions{
		MaxSize:       opts.MaxSize,
		AllowSymlinks: true,
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(buf, opts.Logger)
}

// Parse recognizes the container format of buf and builds the section map.
// It fails with errors.ErrFormat when the magic or header is not recognized.
func Parse(buf []byte, logger zerolog.Logger) (*ObjectFile, error) {
	switch detect(buf) {
	case FormatELF:
		return parseELF(buf, logger)
	case FormatMachO:
		return parseMachO(buf)
	case FormatPE:
		return parsePE(buf)
	}
	return nil, fmt.Errorf("%w: unknown magic", dterrors.ErrFormat)
}

func detect(buf []byte) Format {
	if len(buf) < 4 {
		return ""
	}
	if string(buf[:4]) == "\x7fELF" {
		return FormatELF
	}
	if string(buf[:2]) == "MZ" {
		return FormatPE
	}
	switch binary.LittleEndian.Uint32(buf) {
	case 0xfeedface, 0xfeedfacf, 0xcefaedfe, 0xcffaedfe:
		return FormatMachO
	}
	return ""
}

func newObjectFile(buf []byte, format Format, order binary.ByteOrder, addrSize int, machine string) *ObjectFile {
	return &ObjectFile{
		buf:      buf,
		format:   format,
		order:    order,
		addrSize: addrSize,
		machine:  machine,
		sections: make(map[string]Section),
		debug:    make(map[string][]byte),
	}
}

// view returns buf[off:off+size] or ErrTruncated when the range runs past
// the end of the buffer.
func (f *ObjectFile) view(name string, off, size uint64) ([]byte, error) {
	end := off + size
	if end < off || end > uint64(len(f.buf)) {
		return nil, fmt.Errorf("section %s [0x%x, 0x%x) exceeds file size 0x%x: %w",
			name, off, end, len(f.buf), dterrors.ErrTruncated)
	}
	return f.buf[off:end:end], nil
}

// Format returns the container format.
func (f *ObjectFile) Format() Format {
	return f.format
}

// ByteOrder returns the byte order declared by the container header.
func (f *ObjectFile) ByteOrder() binary.ByteOrder {
	return f.order
}

// AddrSize returns the target address width in bytes (4 or 8).
func (f *ObjectFile) AddrSize() int {
	return f.addrSize
}

// Machine returns a human-readable target machine name.
func (f *ObjectFile) Machine() string {
	return f.machine
}

// Size returns the size of the loaded buffer.
func (f *ObjectFile) Size() int {
	return len(f.buf)
}

// Sections returns the names of all sections, sorted.
func (f *ObjectFile) Sections() []string {
	names := make([]string, 0, len(f.sections))
	for name := range f.sections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Section returns the location of the named section.
func (f *ObjectFile) Section(name string) (Section, bool) {
	s, ok := f.sections[name]
	return s, ok
}

// SectionBytes returns the bytes of the named section. Debug sections are
// returned decompressed and relocated; other sections are raw views.
func (f *ObjectFile) SectionBytes(name string) ([]byte, bool) {
	if data, ok := f.debug[name]; ok {
		return data, true
	}
	s, ok := f.sections[name]
	if !ok || s.Compressed {
		return nil, false
	}
	data, err := f.view(name, s.Offset, s.Size)
	if err != nil {
		return nil, false
	}
	return data, true
}

// HasDebugInfo reports whether the file carries a non-empty .debug_info.
func (f *ObjectFile) HasDebugInfo() bool {
	return len(f.debug[SectionInfo]) > 0
}

// DebugSections holds the debug section bytes needed by the indexer.
// Optional sections are nil when absent.
type DebugSections struct {
	Info       []byte
	Abbrev     []byte
	Str        []byte
	Line       []byte
	LineStr    []byte
	StrOffsets []byte
	Addr       []byte
}

// DebugSections collects the debug sections. It fails with
// errors.ErrNoDebugInfo when .debug_info is absent, and with
// errors.ErrFormat when .debug_info is present without .debug_abbrev.
func (f *ObjectFile) DebugSections() (DebugSections, error) {
	if !f.HasDebugInfo() {
		return DebugSections{}, fmt.Errorf("%s object has no %s section: %w",
			f.format, SectionInfo, dterrors.ErrNoDebugInfo)
	}
	if len(f.debug[SectionAbbrev]) == 0 {
		return DebugSections{}, fmt.Errorf("%w: %s present without %s",
			dterrors.ErrFormat, SectionInfo, SectionAbbrev)
	}
	return DebugSections{
		Info:       f.debug[SectionInfo],
		Abbrev:     f.debug[SectionAbbrev],
		Str:        f.debug[SectionStr],
		Line:       f.debug[SectionLine],
		LineStr:    f.debug[SectionLineStr],
		StrOffsets: f.debug[SectionStrOffsets],
		Addr:       f.debug[SectionAddr],
	}, nil
}
