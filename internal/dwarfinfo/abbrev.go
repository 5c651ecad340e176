package dwarfinfo

import (
	"debug/dwarf"
	"encoding/binary"
	"fmt"

	dterrors "github.com/coral-mesh/dwarftags/internal/errors"
)

// Field is one (attribute, form) pair of an abbreviation.
type Field struct {
	Attr dwarf.Attr
	Form Form
	// Implicit is the constant stored for DW_FORM_implicit_const.
	Implicit int64
}

// Abbrev describes how to decode entries that use its code.
type Abbrev struct {
	Code     uint64
	Tag      dwarf.Tag
	Children bool
	Fields   []Field
}

// AbbrevTable maps abbreviation codes to their schema. It is read-only once
// parsed.
type AbbrevTable map[uint64]*Abbrev

// ParseAbbrevTable decodes the abbreviation table starting at off in the
// .debug_abbrev section. An offset outside the section is ErrTruncated; a
// table that cannot be decoded is ErrCorruptAbbrev.
func ParseAbbrevTable(section []byte, off uint64, order binary.ByteOrder) (AbbrevTable, error) {
	if off >= uint64(len(section)) {
		return nil, fmt.Errorf("abbreviation offset 0x%x outside .debug_abbrev (size 0x%x): %w",
			off, len(section), dterrors.ErrTruncated)
	}

	c := NewCursor(section[off:], off, order)
	table := AbbrevTable{}
	for {
		code := c.ULEB128()
		if c.Err() != nil {
			return nil, fmt.Errorf("%w: %v", dterrors.ErrCorruptAbbrev, c.Err())
		}
		if code == 0 {
			return table, nil
		}

		a := &Abbrev{
			Code:     code,
			Tag:      dwarf.Tag(c.ULEB128()),
			Children: c.U8() == 1,
		}
		for {
			attr := dwarf.Attr(c.ULEB128())
			form := Form(c.ULEB128())
			var implicit int64
			if form == FormImplicitConst {
				implicit = c.SLEB128()
			}
			if c.Err() != nil {
				return nil, fmt.Errorf("%w: abbreviation %d: %v", dterrors.ErrCorruptAbbrev, code, c.Err())
			}
			if attr == 0 && form == 0 {
				break
			}
			a.Fields = append(a.Fields, Field{Attr: attr, Form: form, Implicit: implicit})
		}

		if _, dup := table[code]; dup {
			return nil, fmt.Errorf("%w: duplicate abbreviation code %d", dterrors.ErrCorruptAbbrev, code)
		}
		table[code] = a
	}
}
