// Package lineinfo decodes the file-name tables of line programs and
// resolves the decl_file indices of function records to source paths.
package lineinfo

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/coral-mesh/dwarftags/internal/dwarfinfo"
	dterrors "github.com/coral-mesh/dwarftags/internal/errors"
)

// Line number content types (DW_LNCT_*) of DWARF 5 entry formats.
const (
	lnctPath           = 0x1
	lnctDirectoryIndex = 0x2
)

// FileTable is the decoded file-name table of one line program.
type FileTable struct {
	// Offset is the line program's offset in .debug_line.
	Offset  uint64
	Version uint16
	// Base is the index of Files[0]: 0 for DWARF 5, 1 before.
	Base int
	// Dirs are the include directories. Dirs[0] is the compilation
	// directory in DWARF 5 and is empty before.
	Dirs []string
	// Files are file paths joined with their directory. Files in the
	// compilation directory stay relative to it.
	Files []string
}

// Lookup maps a decl_file index to a path.
func (t *FileTable) Lookup(index int) (string, bool) {
	if t == nil {
		return "", false
	}
	i := index - t.Base
	if i < 0 || i >= len(t.Files) {
		return "", false
	}
	return t.Files[i], true
}

type entryFormat struct {
	content uint64
	form    dwarfinfo.Form
}

// ParseFileTable decodes the header of the line program at off. u supplies
// the string bases used by DWARF 5 strx forms and may be nil.
func ParseFileTable(section []byte, off uint64, order binary.ByteOrder, tables *dwarfinfo.Tables, u *dwarfinfo.Unit) (*FileTable, error) {
	if off >= uint64(len(section)) {
		return nil, fmt.Errorf("%w: line program offset 0x%x outside .debug_line (size 0x%x)",
			dterrors.ErrCorruptUnit, off, len(section))
	}

	c := dwarfinfo.NewCursor(section[off:], off, order)
	length, dwarf64 := c.UnitLength()
	if c.Err() == nil && length > uint64(c.Remaining()) {
		return nil, fmt.Errorf("%w: line program at 0x%x declares length 0x%x, 0x%x bytes remain",
			dterrors.ErrCorruptUnit, off, length, c.Remaining())
	}
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("%w: line program at 0x%x: %v", dterrors.ErrCorruptUnit, off, err)
	}
	start := off + uint64(c.Pos())
	body := dwarfinfo.NewCursor(section[start:start+length], start, order)

	t := &FileTable{Offset: off, Version: body.U16(), Base: 1}
	if t.Version < 2 || t.Version > 5 {
		return nil, fmt.Errorf("%w: line program at 0x%x has unsupported version %d",
			dterrors.ErrCorruptUnit, off, t.Version)
	}

	enc := dwarfinfo.Encoding{Version: t.Version, Dwarf64: dwarf64, AddrSize: 8}
	if u != nil {
		enc.AddrSize = u.AddrSize
	}
	if t.Version >= 5 {
		enc.AddrSize = int(body.U8())
		body.U8() // segment_selector_size
		t.Base = 0
	}

	headerLength := body.SectionOffset(dwarf64)
	if headerLength > uint64(body.Remaining()) {
		return nil, fmt.Errorf("%w: line program at 0x%x header length 0x%x exceeds program",
			dterrors.ErrCorruptUnit, off, headerLength)
	}
	hdr := dwarfinfo.NewCursor(body.Bytes(int(headerLength), "line header"), body.Offset()-headerLength, order)

	hdr.U8() // minimum_instruction_length
	if t.Version >= 4 {
		hdr.U8() // maximum_operations_per_instruction
	}
	hdr.U8() // default_is_stmt
	hdr.U8() // line_base
	hdr.U8() // line_range
	opcodeBase := hdr.U8()
	if opcodeBase > 0 {
		hdr.Skip(int(opcodeBase)-1, "standard_opcode_lengths")
	}
	if err := hdr.Err(); err != nil {
		return nil, fmt.Errorf("%w: line program at 0x%x: %v", dterrors.ErrCorruptUnit, off, err)
	}

	var err error
	if t.Version >= 5 {
		err = t.parseV5(hdr, enc, tables, u)
	} else {
		err = t.parseV2(hdr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: line program at 0x%x: %v", dterrors.ErrCorruptUnit, off, err)
	}
	return t, nil
}

// parseV2 decodes the flat include_directories and file_names lists used
// by DWARF 2 to 4. Directory index 0 is the compilation directory.
func (t *FileTable) parseV2(c *dwarfinfo.Cursor) error {
	t.Dirs = []string{""}
	for {
		dir := c.CString()
		if c.Err() != nil {
			return c.Err()
		}
		if dir == "" {
			break
		}
		t.Dirs = append(t.Dirs, dir)
	}

	for {
		name := c.CString()
		if c.Err() != nil {
			return c.Err()
		}
		if name == "" {
			return nil
		}
		dir := c.ULEB128()
		c.ULEB128() // mtime
		c.ULEB128() // length
		if c.Err() != nil {
			return c.Err()
		}
		t.Files = append(t.Files, t.join(dir, name))
	}
}

// parseV5 decodes the self-describing directory and file tables of DWARF 5.
func (t *FileTable) parseV5(c *dwarfinfo.Cursor, enc dwarfinfo.Encoding, tables *dwarfinfo.Tables, u *dwarfinfo.Unit) error {
	dirFormats := readFormats(c)
	dirCount := c.ULEB128()
	if err := c.Err(); err != nil {
		return err
	}
	if err := checkEntryCount(c, dirFormats, dirCount, "directories"); err != nil {
		return err
	}
	for i := uint64(0); i < dirCount; i++ {
		path, _, err := readEntry(c, dirFormats, enc, tables, u)
		if err != nil {
			return fmt.Errorf("directory %d: %w", i, err)
		}
		t.Dirs = append(t.Dirs, path)
	}

	fileFormats := readFormats(c)
	fileCount := c.ULEB128()
	if err := c.Err(); err != nil {
		return err
	}
	if err := checkEntryCount(c, fileFormats, fileCount, "files"); err != nil {
		return err
	}
	for i := uint64(0); i < fileCount; i++ {
		name, dir, err := readEntry(c, fileFormats, enc, tables, u)
		if err != nil {
			return fmt.Errorf("file %d: %w", i, err)
		}
		t.Files = append(t.Files, t.join(dir, name))
	}
	return nil
}

// checkEntryCount bounds a declared entry count by the bytes left in the
// header. Every entry occupies at least one byte unless all of its forms are
// zero-width, in which case only an empty table is accepted.
func checkEntryCount(c *dwarfinfo.Cursor, formats []entryFormat, count uint64, what string) error {
	if count == 0 {
		return nil
	}
	sized := false
	for _, f := range formats {
		if f.form != dwarfinfo.FormFlagPresent && f.form != dwarfinfo.FormImplicitConst {
			sized = true
			break
		}
	}
	if !sized {
		return fmt.Errorf("%d %s declared with zero-width entry format", count, what)
	}
	if count > uint64(c.Remaining()) {
		return fmt.Errorf("%d %s declared, only %d header bytes remain", count, what, c.Remaining())
	}
	return nil
}

func readFormats(c *dwarfinfo.Cursor) []entryFormat {
	n := c.U8()
	formats := make([]entryFormat, 0, n)
	for i := 0; i < int(n) && c.Err() == nil; i++ {
		formats = append(formats, entryFormat{
			content: c.ULEB128(),
			form:    dwarfinfo.Form(c.ULEB128()),
		})
	}
	return formats
}

func readEntry(c *dwarfinfo.Cursor, formats []entryFormat, enc dwarfinfo.Encoding, tables *dwarfinfo.Tables, u *dwarfinfo.Unit) (path string, dir uint64, err error) {
	for _, f := range formats {
		v, err := dwarfinfo.DecodeValue(c, f.form, 0, enc)
		if err != nil {
			return "", 0, err
		}
		switch f.content {
		case lnctPath:
			s, ok := tables.String(u, v)
			if !ok {
				return "", 0, fmt.Errorf("unresolvable path string (form 0x%x)", uint64(f.form))
			}
			path = s
		case lnctDirectoryIndex:
			dir, _ = v.Unsigned()
		}
	}
	return path, dir, nil
}

// join resolves a file name against its directory. Absolute names and
// names in the compilation directory (index 0) are returned unchanged.
func (t *FileTable) join(dir uint64, name string) string {
	if isAbs(name) || dir == 0 || dir >= uint64(len(t.Dirs)) {
		return name
	}
	return JoinPath(t.Dirs[dir], name)
}

// JoinPath joins a directory and a file name, keeping the separator style
// of the directory.
func JoinPath(dir, name string) string {
	if dir == "" || isAbs(name) {
		return name
	}
	sep := "/"
	if strings.Contains(dir, `\`) && !strings.Contains(dir, "/") {
		sep = `\`
	}
	return strings.TrimRight(dir, `/\`) + sep + name
}

func isAbs(p string) bool {
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, `\`) {
		return true
	}
	// Windows drive letter.
	return len(p) >= 3 && p[1] == ':' && (p[2] == '\\' || p[2] == '/')
}
