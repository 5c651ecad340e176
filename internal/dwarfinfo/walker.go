// Package dwarfinfo walks .debug_info and recovers the functions described
// by its subprogram entries.
//
// Units are decoded one at a time in stream order. Each unit's entries form
// a depth-first flat stream; the walker follows it with an explicit depth
// counter rather than building a tree. Only the unit's root entry and
// subprogram entries have their attributes decoded; everything else is
// skipped by form.
//
// References such as DW_AT_abstract_origin and DW_AT_specification are not
// followed: a subprogram whose name or line lives only behind a reference is
// skipped.
package dwarfinfo

import (
	"debug/dwarf"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"

	"github.com/rs/zerolog"

	dterrors "github.com/coral-mesh/dwarftags/internal/errors"
	"github.com/coral-mesh/dwarftags/internal/safe"
)

// attrMIPSLinkageName is the pre-DWARF 4 linkage name attribute still
// emitted by some compilers.
const attrMIPSLinkageName dwarf.Attr = 0x2007

// Attribute is one decoded attribute of an entry.
type Attribute struct {
	Attr dwarf.Attr
	Val  Value
}

// Entry is a debug entry as seen during a walk. Entries are transient: the
// walker reuses the same Entry and its Attrs slice for every position.
type Entry struct {
	Offset   uint64
	Tag      dwarf.Tag
	Depth    int
	Children bool
	// Attrs is only populated for entries whose attributes were decoded.
	Attrs []Attribute
}

// Val returns the first value of attr.
func (e *Entry) Val(attr dwarf.Attr) (Value, bool) {
	for _, a := range e.Attrs {
		if a.Attr == attr {
			return a.Val, true
		}
	}
	return Value{}, false
}

// Walker decodes units from a .debug_info section.
type Walker struct {
	sec    Sections
	order  binary.ByteOrder
	tables *Tables
	logger zerolog.Logger
}

// NewWalker returns a walker over sec. order must be the byte order of the
// object file the sections came from.
func NewWalker(sec Sections, order binary.ByteOrder, logger zerolog.Logger) *Walker {
	return &Walker{
		sec:    sec,
		order:  order,
		tables: NewTables(sec, order),
		logger: logger.With().Str("component", "walker").Logger(),
	}
}

// Tables returns the string and address resolver used by the walker.
func (w *Walker) Tables() *Tables {
	return w.tables
}

// Headers decodes unit headers and abbreviation tables without walking
// entries. A header whose declared length runs past the section ends the
// sequence with a fatal ErrTruncated. Unit-local problems are recorded in
// Unit.Err and the sequence continues.
func (w *Walker) Headers() iter.Seq2[*Unit, error] {
	return func(yield func(*Unit, error) bool) {
		info := w.sec.Info
		abbrevs := make(map[uint64]AbbrevTable)

		var off uint64
		for index := 0; off < uint64(len(info)); index++ {
			u, next, err := w.header(index, off, abbrevs)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(u, nil) {
				return
			}
			off = next
		}
	}
}

func (w *Walker) header(index int, off uint64, abbrevs map[uint64]AbbrevTable) (*Unit, uint64, error) {
	info := w.sec.Info
	c := NewCursor(info[off:], off, w.order)

	length, dwarf64 := c.UnitLength()
	if err := c.Err(); err != nil {
		return nil, 0, fmt.Errorf("unit %d header: %w", index, err)
	}
	if length > uint64(c.Remaining()) {
		return nil, 0, fmt.Errorf("unit %d at 0x%x declares length 0x%x but only 0x%x bytes remain: %w",
			index, off, length, c.Remaining(), dterrors.ErrTruncated)
	}
	start := off + uint64(c.Pos())
	end := start + length

	u := &Unit{
		Index:  index,
		Offset: off,
		Length: end - off,
		Type:   UnitTypeCompile,
	}
	u.Dwarf64 = dwarf64

	body := NewCursor(info[start:end], start, w.order)
	u.Version = body.U16()
	switch {
	case u.Version >= 2 && u.Version <= 4:
		u.AbbrevOffset = body.SectionOffset(dwarf64)
		u.AddrSize = int(body.U8())
	case u.Version == 5:
		u.Type = UnitType(body.U8())
		u.AddrSize = int(body.U8())
		u.AbbrevOffset = body.SectionOffset(dwarf64)
		switch u.Type {
		case UnitTypeSkeleton, UnitTypeSplitCompile:
			body.U64() // dwo_id
		case UnitTypeType, UnitTypeSplitType:
			body.U64() // type_signature
			body.SectionOffset(dwarf64)
		}
	default:
		u.Err = w.unitError(u, fmt.Errorf("%w: unsupported version %d", dterrors.ErrCorruptUnit, u.Version))
		return u, end, nil
	}
	if err := body.Err(); err != nil {
		u.Err = w.unitError(u, fmt.Errorf("%w: header: %v", dterrors.ErrCorruptUnit, err))
		return u, end, nil
	}
	switch u.AddrSize {
	case 1, 2, 4, 8:
	default:
		u.Err = w.unitError(u, fmt.Errorf("%w: address size %d", dterrors.ErrCorruptUnit, u.AddrSize))
		return u, end, nil
	}

	table, ok := abbrevs[u.AbbrevOffset]
	if !ok {
		var err error
		table, err = ParseAbbrevTable(w.sec.Abbrev, u.AbbrevOffset, w.order)
		if err != nil {
			if errors.Is(err, dterrors.ErrTruncated) {
				return nil, 0, fmt.Errorf("unit %d at 0x%x: %w", index, off, err)
			}
			u.Err = w.unitError(u, err)
			return u, end, nil
		}
		abbrevs[u.AbbrevOffset] = table
	}
	u.Abbrevs = table

	u.entriesOffset = start + uint64(body.Pos())
	u.entries = info[u.entriesOffset:end:end]
	if u.Version >= 5 {
		u.StrOffsetsBase = u.headerSize()
		u.AddrBase = u.headerSize()
	}
	return u, end, nil
}

func (w *Walker) unitError(u *Unit, err error) error {
	return &dterrors.UnitError{Unit: u.Index, Offset: u.Offset, Err: err}
}

// Units walks every unit in stream order. The sequence is lazy and can only
// be restarted by calling Units again.
func (w *Walker) Units() iter.Seq2[*Unit, error] {
	return func(yield func(*Unit, error) bool) {
		for u, err := range w.Headers() {
			if err != nil {
				yield(nil, err)
				return
			}
			w.Walk(u)
			if !yield(u, nil) {
				return
			}
		}
	}
}

// Functions flattens Units into function records. A unit-local failure is
// yielded as a non-fatal *errors.UnitError with a zero record and the
// sequence continues; a fatal error ends it.
func (w *Walker) Functions() iter.Seq2[FunctionRecord, error] {
	return func(yield func(FunctionRecord, error) bool) {
		for u, err := range w.Units() {
			if err != nil {
				yield(FunctionRecord{}, err)
				return
			}
			if u.Err != nil {
				if !yield(FunctionRecord{}, u.Err) {
					return
				}
				continue
			}
			for _, fn := range u.Functions {
				if !yield(fn, nil) {
					return
				}
			}
		}
	}
}

// Walk decodes the entries of u and fills in its root attributes and
// functions. It only touches u, so distinct units may be walked
// concurrently. On a unit-local failure u.Err is set and u.Functions is
// cleared: a unit whose stream is damaged contributes nothing.
func (w *Walker) Walk(u *Unit) {
	if u.Err != nil || u.Functions != nil {
		return
	}

	var functions []FunctionRecord
	err := w.walk(u, func(a *Abbrev, depth int) bool {
		return depth == 0 || a.Tag == dwarf.TagSubprogram
	}, func(e *Entry) bool {
		if e.Depth == 0 {
			w.setRoot(u, e)
			return true
		}
		if e.Tag == dwarf.TagSubprogram {
			if fn, ok := w.function(u, e); ok {
				functions = append(functions, fn)
			}
		}
		return true
	})
	if err != nil {
		u.Err = w.unitError(u, err)
		u.Functions = nil
		w.logger.Warn().
			Int("unit", u.Index).
			Str("offset", fmt.Sprintf("0x%x", u.Offset)).
			Err(err).
			Msg("Skipping damaged compilation unit")
		return
	}
	if functions == nil {
		functions = []FunctionRecord{}
	}
	u.Functions = functions
}

// Entries yields every entry of u with all attributes decoded. The yielded
// Entry is reused between iterations.
func (w *Walker) Entries(u *Unit) iter.Seq2[*Entry, error] {
	return func(yield func(*Entry, error) bool) {
		if u.Err != nil {
			yield(nil, u.Err)
			return
		}
		stopped := false
		err := w.walk(u, func(*Abbrev, int) bool { return true }, func(e *Entry) bool {
			if !yield(e, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			yield(nil, w.unitError(u, err))
		}
	}
}

// walk runs the depth-first pass over u's entries. decode selects which
// entries get their attributes decoded; visit is called for every non-null
// entry and stops the walk by returning false.
func (w *Walker) walk(u *Unit, decode func(*Abbrev, int) bool, visit func(*Entry) bool) error {
	c := NewCursor(u.entries, u.entriesOffset, w.order)
	entry := &Entry{}
	depth := 0
	u.Entries = 0

	for !c.Done() {
		off := c.Offset()
		code := c.ULEB128()
		if err := c.Err(); err != nil {
			return fmt.Errorf("%w: entry at 0x%x: %v", dterrors.ErrCorruptUnit, off, err)
		}
		u.Entries++

		if code == 0 {
			depth--
			if depth <= 0 {
				// The root's children are closed; anything left is padding.
				return nil
			}
			continue
		}

		a, ok := u.Abbrevs[code]
		if !ok {
			return fmt.Errorf("%w: entry at 0x%x uses undefined abbreviation code %d",
				dterrors.ErrCorruptAbbrev, off, code)
		}

		entry.Offset = off
		entry.Tag = a.Tag
		entry.Depth = depth
		entry.Children = a.Children
		entry.Attrs = entry.Attrs[:0]

		if decode(a, depth) {
			for _, f := range a.Fields {
				v, err := DecodeValue(c, f.Form, f.Implicit, u.Encoding)
				if err != nil {
					return fmt.Errorf("%w: entry at 0x%x attribute %s: %v", dterrors.ErrCorruptUnit, off, f.Attr, err)
				}
				entry.Attrs = append(entry.Attrs, Attribute{Attr: f.Attr, Val: v})
			}
		} else {
			for _, f := range a.Fields {
				if err := SkipValue(c, f.Form, u.Encoding); err != nil {
					return fmt.Errorf("%w: entry at 0x%x attribute %s: %v", dterrors.ErrCorruptUnit, off, f.Attr, err)
				}
			}
		}

		if !visit(entry) {
			return nil
		}

		if a.Children {
			depth++
		} else if depth == 0 {
			// A root without children is the whole unit.
			return nil
		}
	}
	if err := c.Err(); err != nil {
		return fmt.Errorf("%w: %v", dterrors.ErrCorruptUnit, err)
	}
	return nil
}

// setRoot records the attributes of the unit's root entry. Bases are set
// before strings are resolved because strx values depend on them.
func (w *Walker) setRoot(u *Unit, e *Entry) {
	u.Tag = e.Tag
	for _, a := range e.Attrs {
		switch a.Attr {
		case dwarf.AttrStrOffsetsBase:
			u.StrOffsetsBase = a.Val.Uint
		case dwarf.AttrAddrBase:
			u.AddrBase = a.Val.Uint
		case dwarf.AttrStmtList:
			u.StmtList = a.Val.Uint
			u.HasStmtList = a.Val.Class == ClassSectionOffset || a.Val.Class == ClassConstant
		case dwarf.AttrLanguage:
			u.Language, _ = a.Val.Unsigned()
		}
	}
	for _, a := range e.Attrs {
		switch a.Attr {
		case dwarf.AttrName:
			u.Name, _ = w.tables.String(u, a.Val)
		case dwarf.AttrCompDir:
			u.CompDir, _ = w.tables.String(u, a.Val)
		case dwarf.AttrProducer:
			u.Producer, _ = w.tables.String(u, a.Val)
		}
	}
}

// function builds a record from a subprogram entry. Entries without a low
// PC (declarations, abstract instances), without a name or without a line
// are not indexable.
func (w *Walker) function(u *Unit, e *Entry) (FunctionRecord, bool) {
	fn := FunctionRecord{FileIndex: -1, Unit: u.Index}
	var hasLow, hasLine bool

	for _, a := range e.Attrs {
		switch a.Attr {
		case dwarf.AttrLowpc:
			addr, _ := w.tables.Address(u, a.Val)
			fn.Address = addr
			hasLow = a.Val.Class == ClassAddress || a.Val.Class == ClassAddrIndex
		case dwarf.AttrName:
			fn.Name, _ = w.tables.String(u, a.Val)
		case dwarf.AttrLinkageName, attrMIPSLinkageName:
			fn.LinkageName, _ = w.tables.String(u, a.Val)
		case dwarf.AttrDeclFile:
			if n, ok := a.Val.Unsigned(); ok {
				fn.FileIndex, _ = safe.Uint64ToInt(n)
			}
		case dwarf.AttrDeclLine:
			fn.Line, hasLine = a.Val.Unsigned()
		case dwarf.AttrDeclColumn:
			fn.Column, _ = a.Val.Unsigned()
		}
	}

	if !hasLow || fn.Name == "" || !hasLine {
		w.logger.Trace().
			Int("unit", u.Index).
			Str("entry", fmt.Sprintf("0x%x", e.Offset)).
			Str("name", fn.Name).
			Bool("low_pc", hasLow).
			Bool("line", hasLine).
			Msg("Skipping subprogram")
		return FunctionRecord{}, false
	}
	return fn, true
}
