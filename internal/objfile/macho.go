package objfile

import (
	"bytes"
	"debug/macho"
	"fmt"
	"strings"

	dterrors "github.com/coral-mesh/dwarftags/internal/errors"
)

// machoSectionName maps a Mach-O section name onto its ELF spelling.
// Mach-O names are limited to 16 bytes, which truncates __debug_str_offsets.
func machoSectionName(name string) (elfName string, compressed bool) {
	switch {
	case strings.HasPrefix(name, "__debug_str_offs"):
		return SectionStrOffsets, false
	case strings.HasPrefix(name, "__zdebug_"):
		return ".debug_" + strings.TrimPrefix(name, "__zdebug_"), true
	case strings.HasPrefix(name, "__debug_"):
		return "." + strings.TrimPrefix(name, "__"), false
	}
	return name, false
}

func parseMachO(buf []byte) (*ObjectFile, error) {
	mf, err := macho.NewFile(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dterrors.ErrFormat, err)
	}

	addrSize := 4
	if mf.Magic == macho.Magic64 {
		addrSize = 8
	}
	f := newObjectFile(buf, FormatMachO, mf.ByteOrder, addrSize, mf.Cpu.String())

	for _, s := range mf.Sections {
		// Zero-fill sections have no file contents.
		if s.Offset == 0 && s.Size > 0 {
			continue
		}
		name, compressed := machoSectionName(s.Name)
		f.sections[name] = Section{
			Name:       name,
			Offset:     uint64(s.Offset),
			Size:       s.Size,
			Compressed: compressed,
		}
		if !isDebugSection(name) {
			continue
		}

		data, err := f.view(s.Name, uint64(s.Offset), s.Size)
		if err != nil {
			return nil, err
		}
		if compressed {
			data, err = decompressZdebug(s.Name, data)
			if err != nil {
				return nil, err
			}
		}
		f.debug[name] = data
	}
	return f, nil
}
