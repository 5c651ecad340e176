package testutil

import (
	"debug/dwarf"
	"encoding/binary"
)

// Attribute forms written by DWARFBuilder.
const (
	formAddr          = 0x01
	formData2         = 0x05
	formData4         = 0x06
	formString        = 0x08
	formData1         = 0x0b
	formFlag          = 0x0c
	formStrp          = 0x0e
	formUdata         = 0x0f
	formSecOffset     = 0x17
	formFlagPresent   = 0x19
	formStrx1         = 0x25
	formAddrx         = 0x1b
	formLineStrp      = 0x1f
	formImplicitConst = 0x21
)

// NoFile omits DW_AT_decl_file from a Function.
const NoFile = -1

// Function describes one subprogram entry.
type Function struct {
	Name        string
	LinkageName string
	// File is the decl_file index, or NoFile.
	File int
	// Line is the decl_line; zero omits the attribute.
	Line  uint64
	LowPC uint64
	// NoCode omits low_pc and marks the entry as a declaration.
	NoCode bool
}

// FileEntry is one file of a line program file table.
type FileEntry struct {
	Name string
	Dir  uint64
}

// Unit describes one compilation unit and its line program.
type Unit struct {
	// Version is the DWARF version, 2 to 5. Zero means 4.
	Version int
	Dwarf64 bool
	Name    string
	CompDir string
	// Dirs are the include directories. For version 5, Dirs[0] is the
	// compilation directory and defaults to CompDir.
	Dirs  []string
	Files []FileEntry
	// NoLineProgram omits DW_AT_stmt_list and the line program.
	NoLineProgram bool
	// Namespace, when set, nests the functions in a DW_TAG_namespace.
	Namespace string
	Functions []Function
	// CorruptAbbrev makes the first child entry use an abbreviation code
	// missing from the unit's table.
	CorruptAbbrev bool
	// CorruptLineProgram writes a line program with an unsupported version.
	CorruptLineProgram bool
}

// DWARFBuilder assembles .debug_info, .debug_abbrev, .debug_line and the
// string and address sections for a list of units.
type DWARFBuilder struct {
	order    binary.ByteOrder
	addrSize int
	units    []Unit
}

// NewDWARFBuilder returns a builder for 8-byte addresses in the given byte
// order.
func NewDWARFBuilder(order binary.ByteOrder) *DWARFBuilder {
	return &DWARFBuilder{order: order, addrSize: 8}
}

// SetAddrSize sets the target address size, 4 or 8.
func (b *DWARFBuilder) SetAddrSize(n int) *DWARFBuilder {
	b.addrSize = n
	return b
}

// AddUnit appends a unit.
func (b *DWARFBuilder) AddUnit(u Unit) *DWARFBuilder {
	if u.Version == 0 {
		u.Version = 4
	}
	b.units = append(b.units, u)
	return b
}

// Sections is the output of Build, keyed by ELF section name.
type Sections map[string][]byte

// UnitOffsets records where each unit landed, for tests that patch bytes.
type UnitOffsets struct {
	Info   []int
	Abbrev []int
	Line   []int
}

type stringTable struct {
	buf []byte
	off map[string]uint64
}

func newStringTable() *stringTable {
	return &stringTable{off: make(map[string]uint64)}
}

func (t *stringTable) add(s string) uint64 {
	if off, ok := t.off[s]; ok {
		return off
	}
	off := uint64(len(t.buf))
	t.buf = append(t.buf, s...)
	t.buf = append(t.buf, 0)
	t.off[s] = off
	return off
}

type abbrevField struct {
	attr     dwarf.Attr
	form     uint64
	implicit int64
}

type abbrevDecl struct {
	tag      dwarf.Tag
	children bool
	fields   []abbrevField
}

// unitBuilder holds the per-unit abbreviation table being assembled.
type unitBuilder struct {
	decls []abbrevDecl
}

func (ub *unitBuilder) code(d abbrevDecl) uint64 {
	for i, have := range ub.decls {
		if sameDecl(have, d) {
			return uint64(i + 1)
		}
	}
	ub.decls = append(ub.decls, d)
	return uint64(len(ub.decls))
}

func sameDecl(a, b abbrevDecl) bool {
	if a.tag != b.tag || a.children != b.children || len(a.fields) != len(b.fields) {
		return false
	}
	for i := range a.fields {
		if a.fields[i] != b.fields[i] {
			return false
		}
	}
	return true
}

// Build encodes every unit.
func (b *DWARFBuilder) Build() Sections {
	secs, _ := b.BuildWithOffsets()
	return secs
}

// BuildWithOffsets encodes every unit and reports where each one starts.
func (b *DWARFBuilder) BuildWithOffsets() (Sections, UnitOffsets) {
	info := &encoder{order: b.order}
	abbrev := &encoder{order: b.order}
	line := &encoder{order: b.order}
	strOffsets := &encoder{order: b.order}
	addr := &encoder{order: b.order}
	str := newStringTable()
	lineStr := newStringTable()
	var offsets UnitOffsets

	for _, u := range b.units {
		offsets.Info = append(offsets.Info, info.len())
		offsets.Abbrev = append(offsets.Abbrev, abbrev.len())

		stmtList := uint64(line.len())
		if !u.NoLineProgram {
			offsets.Line = append(offsets.Line, line.len())
			b.writeLineProgram(line, u, lineStr)
		} else {
			offsets.Line = append(offsets.Line, -1)
		}

		v5 := u.Version >= 5
		var strx, addrx []uint64
		strIndex := func(s string) uint64 {
			strx = append(strx, str.add(s))
			return uint64(len(strx) - 1)
		}
		addrIndex := func(a uint64) uint64 {
			addrx = append(addrx, a)
			return uint64(len(addrx) - 1)
		}

		// Entries are encoded first so the abbreviation table and index
		// sections are complete before the unit header is written.
		ub := &unitBuilder{}
		body := &encoder{order: b.order}

		nameForm := uint64(formStrp)
		if v5 {
			nameForm = formStrx1
		}
		writeName := func(e *encoder, s string) {
			if v5 {
				e.u8(uint8(strIndex(s)))
				return
			}
			e.word(str.add(s), u.Dwarf64)
		}

		var strOffsetsBase, addrBase uint64
		if v5 {
			strOffsetsBase = uint64(strOffsets.len()) + headerSize(u.Dwarf64)
			addrBase = uint64(addr.len()) + headerSize(u.Dwarf64)
		}

		// Root entry.
		root := abbrevDecl{tag: dwarf.TagCompileUnit, children: true}
		root.fields = append(root.fields,
			abbrevField{attr: dwarf.AttrProducer, form: formString},
			abbrevField{attr: dwarf.AttrLanguage, form: formData2},
		)
		if v5 {
			root.fields = append(root.fields,
				abbrevField{attr: dwarf.AttrStrOffsetsBase, form: formSecOffset},
				abbrevField{attr: dwarf.AttrAddrBase, form: formSecOffset},
			)
		}
		root.fields = append(root.fields, abbrevField{attr: dwarf.AttrName, form: nameForm})
		if u.CompDir != "" {
			compDirForm := uint64(formStrp)
			if v5 {
				compDirForm = formLineStrp
			}
			root.fields = append(root.fields, abbrevField{attr: dwarf.AttrCompDir, form: compDirForm})
		}
		if !u.NoLineProgram {
			form := uint64(formSecOffset)
			if u.Version < 4 {
				form = formData4
			}
			root.fields = append(root.fields, abbrevField{attr: dwarf.AttrStmtList, form: form})
		}

		body.uleb(ub.code(root))
		body.cstring("dwarftags test")
		body.u16(0x0c) // DW_LANG_C99
		if v5 {
			body.word(strOffsetsBase, u.Dwarf64)
			body.word(addrBase, u.Dwarf64)
		}
		writeName(body, u.Name)
		if u.CompDir != "" {
			if v5 {
				body.word(lineStr.add(u.CompDir), u.Dwarf64)
			} else {
				body.word(str.add(u.CompDir), u.Dwarf64)
			}
		}
		if !u.NoLineProgram {
			if u.Version < 4 {
				body.u32(uint32(stmtList))
			} else {
				body.word(stmtList, u.Dwarf64)
			}
		}

		if u.CorruptAbbrev {
			// Abbreviation codes are assigned from 1; nothing reaches 0x7f.
			body.uleb(0x7f)
		}

		if u.Namespace != "" {
			ns := abbrevDecl{tag: dwarf.TagNamespace, children: true, fields: []abbrevField{
				{attr: dwarf.AttrName, form: nameForm},
			}}
			body.uleb(ub.code(ns))
			writeName(body, u.Namespace)
		}

		for _, fn := range u.Functions {
			decl := abbrevDecl{tag: dwarf.TagSubprogram}
			decl.fields = append(decl.fields, abbrevField{attr: dwarf.AttrExternal, form: formFlagPresent})
			if fn.Name != "" {
				decl.fields = append(decl.fields, abbrevField{attr: dwarf.AttrName, form: nameForm})
			}
			if fn.LinkageName != "" {
				decl.fields = append(decl.fields, abbrevField{attr: dwarf.AttrLinkageName, form: nameForm})
			}
			if fn.File != NoFile {
				decl.fields = append(decl.fields, abbrevField{attr: dwarf.AttrDeclFile, form: formData1})
			}
			if fn.Line != 0 {
				decl.fields = append(decl.fields, abbrevField{attr: dwarf.AttrDeclLine, form: formUdata})
			}
			if fn.NoCode {
				decl.fields = append(decl.fields, abbrevField{attr: dwarf.AttrDeclaration, form: formFlag})
			} else {
				lowForm := uint64(formAddr)
				if v5 {
					lowForm = formAddrx
				}
				decl.fields = append(decl.fields,
					abbrevField{attr: dwarf.AttrLowpc, form: lowForm},
					abbrevField{attr: dwarf.AttrHighpc, form: formData4},
				)
			}

			body.uleb(ub.code(decl))
			if fn.Name != "" {
				writeName(body, fn.Name)
			}
			if fn.LinkageName != "" {
				writeName(body, fn.LinkageName)
			}
			if fn.File != NoFile {
				body.u8(uint8(fn.File))
			}
			if fn.Line != 0 {
				body.uleb(fn.Line)
			}
			if fn.NoCode {
				body.u8(1)
			} else {
				if v5 {
					body.uleb(addrIndex(fn.LowPC))
				} else {
					body.word(fn.LowPC, b.addrSize == 8)
				}
				body.u32(0x10) // high_pc as a length
			}
		}

		if u.Namespace != "" {
			body.u8(0)
		}
		body.u8(0) // end of root's children

		// Abbreviation table.
		for i, d := range ub.decls {
			abbrev.uleb(uint64(i + 1))
			abbrev.uleb(uint64(d.tag))
			if d.children {
				abbrev.u8(1)
			} else {
				abbrev.u8(0)
			}
			for _, f := range d.fields {
				abbrev.uleb(uint64(f.attr))
				abbrev.uleb(f.form)
				if f.form == formImplicitConst {
					abbrev.sleb(f.implicit)
				}
			}
			abbrev.uleb(0)
			abbrev.uleb(0)
		}
		abbrev.uleb(0)

		// Unit header.
		unitAbbrev := uint64(offsets.Abbrev[len(offsets.Abbrev)-1])
		done := info.initialLength(u.Dwarf64)
		info.u16(uint16(u.Version))
		if v5 {
			info.u8(0x01) // DW_UT_compile
			info.u8(uint8(b.addrSize))
			info.word(unitAbbrev, u.Dwarf64)
		} else {
			info.word(unitAbbrev, u.Dwarf64)
			info.u8(uint8(b.addrSize))
		}
		info.bytes(body.buf)
		done()

		if v5 {
			finish := strOffsets.initialLength(u.Dwarf64)
			strOffsets.u16(5)
			strOffsets.u16(0) // padding
			for _, off := range strx {
				strOffsets.word(off, u.Dwarf64)
			}
			finish()

			finish = addr.initialLength(u.Dwarf64)
			addr.u16(5)
			addr.u8(uint8(b.addrSize))
			addr.u8(0) // segment selector size
			for _, a := range addrx {
				addr.word(a, b.addrSize == 8)
			}
			finish()
		}
	}

	secs := Sections{
		".debug_info":   info.buf,
		".debug_abbrev": abbrev.buf,
	}
	if line.len() > 0 {
		secs[".debug_line"] = line.buf
	}
	if len(str.buf) > 0 {
		secs[".debug_str"] = str.buf
	}
	if len(lineStr.buf) > 0 {
		secs[".debug_line_str"] = lineStr.buf
	}
	if strOffsets.len() > 0 {
		secs[".debug_str_offsets"] = strOffsets.buf
	}
	if addr.len() > 0 {
		secs[".debug_addr"] = addr.buf
	}
	return secs, offsets
}

func headerSize(dwarf64 bool) uint64 {
	if dwarf64 {
		return 16
	}
	return 8
}

// writeLineProgram writes a line program whose file table lists u.Files
// and whose opcode stream is a single end_sequence.
func (b *DWARFBuilder) writeLineProgram(line *encoder, u Unit, lineStr *stringTable) {
	done := line.initialLength(u.Dwarf64)
	version := uint16(u.Version)
	if u.CorruptLineProgram {
		version = 9
	}
	line.u16(version)
	if u.Version >= 5 {
		line.u8(uint8(b.addrSize))
		line.u8(0) // segment_selector_size
	}

	hdr := &encoder{order: b.order}
	hdr.u8(1) // minimum_instruction_length
	if u.Version >= 4 {
		hdr.u8(1) // maximum_operations_per_instruction
	}
	hdr.u8(1)    // default_is_stmt
	hdr.u8(0xfb) // line_base = -5
	hdr.u8(14)   // line_range
	hdr.u8(13)   // opcode_base
	hdr.bytes([]byte{0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1})

	if u.Version >= 5 {
		dirs := u.Dirs
		if len(dirs) == 0 {
			dirs = []string{u.CompDir}
		}
		hdr.u8(1)
		hdr.uleb(0x1) // DW_LNCT_path
		hdr.uleb(formLineStrp)
		hdr.uleb(uint64(len(dirs)))
		for _, d := range dirs {
			hdr.word(lineStr.add(d), u.Dwarf64)
		}

		hdr.u8(2)
		hdr.uleb(0x1) // DW_LNCT_path
		hdr.uleb(formLineStrp)
		hdr.uleb(0x2) // DW_LNCT_directory_index
		hdr.uleb(formUdata)
		hdr.uleb(uint64(len(u.Files)))
		for _, f := range u.Files {
			hdr.word(lineStr.add(f.Name), u.Dwarf64)
			hdr.uleb(f.Dir)
		}
	} else {
		for _, d := range u.Dirs {
			hdr.cstring(d)
		}
		hdr.u8(0)
		for _, f := range u.Files {
			hdr.cstring(f.Name)
			hdr.uleb(f.Dir)
			hdr.uleb(0) // mtime
			hdr.uleb(0) // length
		}
		hdr.u8(0)
	}

	line.word(uint64(hdr.len()), u.Dwarf64)
	line.bytes(hdr.buf)

	// DW_LNE_end_sequence
	line.u8(0)
	line.uleb(1)
	line.u8(1)
	done()
}

// SimpleELF returns a little-endian x86-64 executable with one DWARF 4
// unit "main.c" defining main at line 10.
func SimpleELF() []byte {
	secs := NewDWARFBuilder(binary.LittleEndian).AddUnit(SimpleUnit()).Build()
	eb := NewELF64()
	eb.AddSection(".text", []byte{0xc3})
	eb.AddSections(secs)
	return eb.Bytes()
}

// SimpleUnit is the unit written by SimpleELF.
func SimpleUnit() Unit {
	return Unit{
		Version: 4,
		Name:    "main.c",
		CompDir: "/src",
		Files:   []FileEntry{{Name: "main.c", Dir: 0}},
		Functions: []Function{
			{Name: "main", File: 1, Line: 10, LowPC: 0x401000},
		},
	}
}
