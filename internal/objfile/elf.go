package objfile

import (
	"bytes"
	"debug/elf"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	dterrors "github.com/coral-mesh/dwarftags/internal/errors"
)

const miniDebugInfoSection = ".gnu_debugdata"

func parseELF(buf []byte, logger zerolog.Logger) (*ObjectFile, error) {
	ef, err := elf.NewFile(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dterrors.ErrFormat, err)
	}

	addrSize := 4
	if ef.Class == elf.ELFCLASS64 {
		addrSize = 8
	}
	f := newObjectFile(buf, FormatELF, ef.ByteOrder, addrSize, ef.Machine.String())

	for _, s := range ef.Sections {
		if s.Type == elf.SHT_NULL || s.Type == elf.SHT_NOBITS {
			continue
		}
		f.sections[s.Name] = Section{
			Name:       s.Name,
			Offset:     s.Offset,
			Size:       s.FileSize,
			Compressed: s.Flags&elf.SHF_COMPRESSED != 0 || strings.HasPrefix(s.Name, ".zdebug_"),
		}
	}

	for _, s := range ef.Sections {
		name := s.Name
		gnuCompressed := false
		if rest, ok := strings.CutPrefix(name, ".zdebug_"); ok {
			name = ".debug_" + rest
			gnuCompressed = true
		}
		if !isDebugSection(name) || s.Type == elf.SHT_NOBITS {
			continue
		}
		if _, seen := f.debug[name]; seen {
			continue
		}

		var data []byte
		switch {
		case s.Flags&elf.SHF_COMPRESSED != 0:
			if _, err := f.view(s.Name, s.Offset, s.FileSize); err != nil {
				return nil, err
			}
			data, err = s.Data()
			if err != nil {
				return nil, fmt.Errorf("decompress %s: %v: %w", s.Name, err, dterrors.ErrTruncated)
			}
		case gnuCompressed:
			raw, err := f.view(s.Name, s.Offset, s.FileSize)
			if err != nil {
				return nil, err
			}
			data, err = decompressZdebug(s.Name, raw)
			if err != nil {
				return nil, err
			}
		default:
			data, err = f.view(s.Name, s.Offset, s.FileSize)
			if err != nil {
				return nil, err
			}
		}
		f.debug[name] = data
	}

	if ef.Type == elf.ET_REL {
		if err := f.relocate(ef, logger); err != nil {
			return nil, err
		}
	}

	if !f.HasDebugInfo() {
		if s, ok := f.sections[miniDebugInfoSection]; ok {
			if err := f.loadMiniDebugInfo(s, logger); err != nil {
				return nil, err
			}
		}
	}

	return f, nil
}

// loadMiniDebugInfo searches the xz-compressed ELF embedded in
// .gnu_debugdata for debug sections.
func (f *ObjectFile) loadMiniDebugInfo(s Section, logger zerolog.Logger) error {
	raw, err := f.view(s.Name, s.Offset, s.Size)
	if err != nil {
		return err
	}
	inner, err := decompressXZ(raw)
	if err != nil {
		logger.Warn().Err(err).Msg("ignoring unreadable .gnu_debugdata")
		return nil
	}
	embedded, err := parseELF(inner, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("ignoring malformed .gnu_debugdata")
		return nil
	}
	if !embedded.HasDebugInfo() {
		return nil
	}
	logger.Debug().Msg("using debug sections from .gnu_debugdata")
	for name, data := range embedded.debug {
		f.debug[name] = data
	}
	return nil
}

// relocate applies the relocations of a relocatable object to its debug
// sections. Without this, every cross-section offset in .debug_info of a .o
// file reads as zero.
func (f *ObjectFile) relocate(ef *elf.File, logger zerolog.Logger) error {
	var symbols []elf.Symbol
	symbolsLoaded := false
	warned := false

	for _, rs := range ef.Sections {
		if rs.Type != elf.SHT_RELA && rs.Type != elf.SHT_REL {
			continue
		}
		if int(rs.Info) >= len(ef.Sections) {
			continue
		}
		target := ef.Sections[rs.Info]
		name := strings.Replace(target.Name, ".zdebug_", ".debug_", 1)
		data, ok := f.debug[name]
		if !ok {
			continue
		}

		apply := relocator(ef.Machine, rs.Type)
		if apply == nil {
			if !warned {
				logger.Warn().
					Str("machine", ef.Machine.String()).
					Msg("relocations for this machine are not supported, debug sections used as-is")
				warned = true
			}
			continue
		}

		if !symbolsLoaded {
			var err error
			symbols, err = ef.Symbols()
			if err != nil && err != elf.ErrNoSymbols {
				return fmt.Errorf("%w: read symbols: %v", dterrors.ErrFormat, err)
			}
			symbolsLoaded = true
		}

		rels, err := f.view(rs.Name, rs.Offset, rs.FileSize)
		if err != nil {
			return err
		}

		// Views alias the input buffer, which is never mutated.
		relocated := make([]byte, len(data))
		copy(relocated, data)
		if err := apply(f, relocated, rels, symbols); err != nil {
			return fmt.Errorf("relocate %s: %w", target.Name, err)
		}
		f.debug[name] = relocated
	}
	return nil
}

type relocFunc func(f *ObjectFile, dst, rels []byte, symbols []elf.Symbol) error

func relocator(machine elf.Machine, typ elf.SectionType) relocFunc {
	switch {
	case machine == elf.EM_X86_64 && typ == elf.SHT_RELA:
		return applyRelaX86_64
	case machine == elf.EM_AARCH64 && typ == elf.SHT_RELA:
		return applyRelaAArch64
	case machine == elf.EM_386 && typ == elf.SHT_REL:
		return applyRel386
	}
	return nil
}

// symbolValue resolves a relocation's symbol index. Index 0 is the null
// symbol, which elf.File.Symbols omits.
func symbolValue(symbols []elf.Symbol, idx uint64) (uint64, error) {
	if idx == 0 {
		return 0, nil
	}
	if idx > uint64(len(symbols)) {
		return 0, fmt.Errorf("symbol index %d out of range: %w", idx, dterrors.ErrTruncated)
	}
	return symbols[idx-1].Value, nil
}

func applyRelaX86_64(f *ObjectFile, dst, rels []byte, symbols []elf.Symbol) error {
	for i := 0; i+24 <= len(rels); i += 24 {
		off := f.order.Uint64(rels[i:])
		info := f.order.Uint64(rels[i+8:])
		addend := int64(f.order.Uint64(rels[i+16:]))

		typ := elf.R_X86_64(info & 0xffffffff)
		val, err := symbolValue(symbols, info>>32)
		if err != nil {
			return err
		}
		switch typ {
		case elf.R_X86_64_64:
			if err := f.put64(dst, off, val+uint64(addend)); err != nil {
				return err
			}
		case elf.R_X86_64_32, elf.R_X86_64_32S:
			if err := f.put32(dst, off, uint32(val+uint64(addend))); err != nil {
				return err
			}
		}
	}
	return nil
}

func applyRelaAArch64(f *ObjectFile, dst, rels []byte, symbols []elf.Symbol) error {
	for i := 0; i+24 <= len(rels); i += 24 {
		off := f.order.Uint64(rels[i:])
		info := f.order.Uint64(rels[i+8:])
		addend := int64(f.order.Uint64(rels[i+16:]))

		typ := elf.R_AARCH64(info & 0xffffffff)
		val, err := symbolValue(symbols, info>>32)
		if err != nil {
			return err
		}
		switch typ {
		case elf.R_AARCH64_ABS64:
			if err := f.put64(dst, off, val+uint64(addend)); err != nil {
				return err
			}
		case elf.R_AARCH64_ABS32:
			if err := f.put32(dst, off, uint32(val+uint64(addend))); err != nil {
				return err
			}
		}
	}
	return nil
}

func applyRel386(f *ObjectFile, dst, rels []byte, symbols []elf.Symbol) error {
	for i := 0; i+8 <= len(rels); i += 8 {
		off := uint64(f.order.Uint32(rels[i:]))
		info := f.order.Uint32(rels[i+4:])

		if elf.R_386(info&0xff) != elf.R_386_32 {
			continue
		}
		val, err := symbolValue(symbols, uint64(info>>8))
		if err != nil {
			return err
		}
		if off+4 > uint64(len(dst)) {
			return fmt.Errorf("relocation at 0x%x: %w", off, dterrors.ErrTruncated)
		}
		f.order.PutUint32(dst[off:], f.order.Uint32(dst[off:])+uint32(val))
	}
	return nil
}

func (f *ObjectFile) put64(dst []byte, off, val uint64) error {
	if off+8 < off || off+8 > uint64(len(dst)) {
		return fmt.Errorf("relocation at 0x%x: %w", off, dterrors.ErrTruncated)
	}
	f.order.PutUint64(dst[off:], val)
	return nil
}

func (f *ObjectFile) put32(dst []byte, off uint64, val uint32) error {
	if off+4 < off || off+4 > uint64(len(dst)) {
		return fmt.Errorf("relocation at 0x%x: %w", off, dterrors.ErrTruncated)
	}
	f.order.PutUint32(dst[off:], val)
	return nil
}
