package dwarfinfo

import (
	"debug/dwarf"
	"fmt"
)

// UnitType is the DWARF 5 unit type (DW_UT_*). Units from earlier versions
// are reported as UnitTypeCompile.
type UnitType uint8

const (
	UnitTypeCompile      UnitType = 0x01
	UnitTypeType         UnitType = 0x02
	UnitTypePartial      UnitType = 0x03
	UnitTypeSkeleton     UnitType = 0x04
	UnitTypeSplitCompile UnitType = 0x05
	UnitTypeSplitType    UnitType = 0x06
)

// Unit is one unit of .debug_info: its header, abbreviation table, the
// attributes of its root entry and, once walked, its functions.
type Unit struct {
	// Index is the zero-based position of the unit in .debug_info.
	Index int
	// Offset is the section offset of the unit header.
	Offset uint64
	// Length is the size of the unit including its initial length field.
	Length uint64
	Encoding
	Type         UnitType
	AbbrevOffset uint64
	Abbrevs      AbbrevTable

	entries       []byte
	entriesOffset uint64

	// Attributes of the root entry.
	Tag            dwarf.Tag
	Name           string
	CompDir        string
	Producer       string
	Language       uint64
	StmtList       uint64
	HasStmtList    bool
	StrOffsetsBase uint64
	AddrBase       uint64

	Functions []FunctionRecord
	// Err is the unit-local failure that stopped decoding, if any. It is an
	// *errors.UnitError.
	Err error
	// Entries counts decoded entries, including null entries.
	Entries int
}

func (u *Unit) String() string {
	return fmt.Sprintf("unit %d at 0x%x (v%d)", u.Index, u.Offset, u.Version)
}

// headerSize is the size of a DWARF 5 .debug_str_offsets or .debug_addr
// contribution header, which the default bases skip.
func (u *Unit) headerSize() uint64 {
	if u.Dwarf64 {
		return 16
	}
	return 8
}

// FunctionRecord is a function recovered from a subprogram entry.
type FunctionRecord struct {
	Name string
	// LinkageName is the mangled symbol name, when the entry has one.
	LinkageName string
	// FileIndex is the raw DW_AT_decl_file value, or -1 when absent.
	FileIndex int
	Line      uint64
	Column    uint64
	// Address is the low program counter. It is zero when the entry uses an
	// address index that cannot be resolved.
	Address uint64
	// Unit is the index of the enclosing unit.
	Unit int
}
