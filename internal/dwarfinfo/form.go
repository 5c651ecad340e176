package dwarfinfo

import (
	"fmt"

	dterrors "github.com/coral-mesh/dwarftags/internal/errors"
)

// Form is an attribute encoding form (DW_FORM_*).
type Form uint64

const (
	FormAddr          Form = 0x01
	FormBlock2        Form = 0x03
	FormBlock4        Form = 0x04
	FormData2         Form = 0x05
	FormData4         Form = 0x06
	FormData8         Form = 0x07
	FormString        Form = 0x08
	FormBlock         Form = 0x09
	FormBlock1        Form = 0x0a
	FormData1         Form = 0x0b
	FormFlag          Form = 0x0c
	FormSdata         Form = 0x0d
	FormStrp          Form = 0x0e
	FormUdata         Form = 0x0f
	FormRefAddr       Form = 0x10
	FormRef1          Form = 0x11
	FormRef2          Form = 0x12
	FormRef4          Form = 0x13
	FormRef8          Form = 0x14
	FormRefUdata      Form = 0x15
	FormIndirect      Form = 0x16
	FormSecOffset     Form = 0x17
	FormExprloc       Form = 0x18
	FormFlagPresent   Form = 0x19
	FormStrx          Form = 0x1a
	FormAddrx         Form = 0x1b
	FormRefSup4       Form = 0x1c
	FormStrpSup       Form = 0x1d
	FormData16        Form = 0x1e
	FormLineStrp      Form = 0x1f
	FormRefSig8       Form = 0x20
	FormImplicitConst Form = 0x21
	FormLoclistx      Form = 0x22
	FormRnglistx      Form = 0x23
	FormRefSup8       Form = 0x24
	FormStrx1         Form = 0x25
	FormStrx2         Form = 0x26
	FormStrx3         Form = 0x27
	FormStrx4         Form = 0x28
	FormAddrx1        Form = 0x29
	FormAddrx2        Form = 0x2a
	FormAddrx3        Form = 0x2b
	FormAddrx4        Form = 0x2c

	// GNU extensions used by split DWARF and dwz.
	FormGNUAddrIndex Form = 0x1f01
	FormGNUStrIndex  Form = 0x1f02
	FormGNURefAlt    Form = 0x1f20
	FormGNUStrpAlt   Form = 0x1f21
)

// Class is the decoded shape of an attribute value. Every form decodes to
// exactly one class.
type Class uint8

const (
	ClassConstant Class = iota + 1
	ClassFlag
	ClassAddress
	// ClassAddrIndex is an index into .debug_addr.
	ClassAddrIndex
	// ClassString is a string stored inline in the entry.
	ClassString
	// ClassStrOffset is an offset into a string section.
	ClassStrOffset
	// ClassStrIndex is an index into .debug_str_offsets.
	ClassStrIndex
	// ClassReference is a reference to another entry.
	ClassReference
	// ClassSectionOffset is an offset into a section other than a string section.
	ClassSectionOffset
	// ClassListIndex is an index into a location or range list table.
	ClassListIndex
	ClassBlock
	ClassSignature
)

var classNames = map[Class]string{
	ClassConstant:      "constant",
	ClassFlag:          "flag",
	ClassAddress:       "address",
	ClassAddrIndex:     "addrx",
	ClassString:        "string",
	ClassStrOffset:     "strp",
	ClassStrIndex:      "strx",
	ClassReference:     "reference",
	ClassSectionOffset: "sec_offset",
	ClassListIndex:     "listx",
	ClassBlock:         "block",
	ClassSignature:     "signature",
}

func (c Class) String() string {
	if s, ok := classNames[c]; ok {
		return s
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

// Value is a decoded attribute value.
type Value struct {
	Class Class
	Form  Form
	// Uint holds constants, flags, addresses, indices, offsets and references.
	Uint uint64
	// Int holds signed constants (sdata, implicit_const).
	Int int64
	// Signed is set when Int is the authoritative constant.
	Signed bool
	// Str holds inline strings.
	Str string
	// Bytes holds blocks and data16 values. It is a view into the section.
	Bytes []byte
}

// Unsigned returns the value as an unsigned constant.
func (v Value) Unsigned() (uint64, bool) {
	switch v.Class {
	case ClassConstant:
		if v.Signed {
			if v.Int < 0 {
				return 0, false
			}
			return uint64(v.Int), true
		}
		if v.Bytes != nil {
			return 0, false
		}
		return v.Uint, true
	case ClassFlag:
		return v.Uint, true
	}
	return 0, false
}

// Encoding is the per-unit context needed to decode forms. It is passed
// explicitly to every decode.
type Encoding struct {
	Version  uint16
	AddrSize int
	Dwarf64  bool
}

func (e Encoding) offsetSize() int {
	if e.Dwarf64 {
		return 8
	}
	return 4
}

// DecodeValue reads one attribute value encoded with form. implicit is the
// value stored in the abbreviation for DW_FORM_implicit_const.
func DecodeValue(c *Cursor, form Form, implicit int64, enc Encoding) (Value, error) {
	v := Value{Form: form}

	switch form {
	case FormAddr:
		v.Class = ClassAddress
		v.Uint = c.UintN(enc.AddrSize)

	case FormAddrx, FormGNUAddrIndex:
		v.Class = ClassAddrIndex
		v.Uint = c.ULEB128()
	case FormAddrx1:
		v.Class = ClassAddrIndex
		v.Uint = uint64(c.U8())
	case FormAddrx2:
		v.Class = ClassAddrIndex
		v.Uint = uint64(c.U16())
	case FormAddrx3:
		v.Class = ClassAddrIndex
		v.Uint = uint64(c.U24())
	case FormAddrx4:
		v.Class = ClassAddrIndex
		v.Uint = uint64(c.U32())

	case FormData1:
		v.Class = ClassConstant
		v.Uint = uint64(c.U8())
	case FormData2:
		v.Class = ClassConstant
		v.Uint = uint64(c.U16())
	case FormData4:
		v.Class = ClassConstant
		v.Uint = uint64(c.U32())
	case FormData8:
		v.Class = ClassConstant
		v.Uint = c.U64()
	case FormData16:
		v.Class = ClassConstant
		v.Bytes = c.Bytes(16, "data16")
	case FormUdata:
		v.Class = ClassConstant
		v.Uint = c.ULEB128()
	case FormSdata:
		v.Class = ClassConstant
		v.Int = c.SLEB128()
		v.Uint = uint64(v.Int)
		v.Signed = true
	case FormImplicitConst:
		v.Class = ClassConstant
		v.Int = implicit
		v.Uint = uint64(implicit)
		v.Signed = true

	case FormFlag:
		v.Class = ClassFlag
		v.Uint = uint64(c.U8())
	case FormFlagPresent:
		v.Class = ClassFlag
		v.Uint = 1

	case FormString:
		v.Class = ClassString
		v.Str = c.CString()

	case FormStrp, FormLineStrp, FormStrpSup, FormGNUStrpAlt:
		v.Class = ClassStrOffset
		v.Uint = c.SectionOffset(enc.Dwarf64)

	case FormStrx, FormGNUStrIndex:
		v.Class = ClassStrIndex
		v.Uint = c.ULEB128()
	case FormStrx1:
		v.Class = ClassStrIndex
		v.Uint = uint64(c.U8())
	case FormStrx2:
		v.Class = ClassStrIndex
		v.Uint = uint64(c.U16())
	case FormStrx3:
		v.Class = ClassStrIndex
		v.Uint = uint64(c.U24())
	case FormStrx4:
		v.Class = ClassStrIndex
		v.Uint = uint64(c.U32())

	case FormRef1:
		v.Class = ClassReference
		v.Uint = uint64(c.U8())
	case FormRef2:
		v.Class = ClassReference
		v.Uint = uint64(c.U16())
	case FormRef4, FormRefSup4:
		v.Class = ClassReference
		v.Uint = uint64(c.U32())
	case FormRef8, FormRefSup8:
		v.Class = ClassReference
		v.Uint = c.U64()
	case FormRefUdata:
		v.Class = ClassReference
		v.Uint = c.ULEB128()
	case FormRefAddr:
		v.Class = ClassReference
		// DWARF 2 sized this by the address width.
		if enc.Version <= 2 {
			v.Uint = c.UintN(enc.AddrSize)
		} else {
			v.Uint = c.SectionOffset(enc.Dwarf64)
		}
	case FormGNURefAlt:
		v.Class = ClassReference
		v.Uint = c.SectionOffset(enc.Dwarf64)

	case FormRefSig8:
		v.Class = ClassSignature
		v.Uint = c.U64()

	case FormSecOffset:
		v.Class = ClassSectionOffset
		v.Uint = c.SectionOffset(enc.Dwarf64)

	case FormLoclistx, FormRnglistx:
		v.Class = ClassListIndex
		v.Uint = c.ULEB128()

	case FormBlock1:
		v.Class = ClassBlock
		v.Bytes = c.Bytes(int(c.U8()), "block1")
	case FormBlock2:
		v.Class = ClassBlock
		v.Bytes = c.Bytes(int(c.U16()), "block2")
	case FormBlock4:
		v.Class = ClassBlock
		v.Bytes = c.Bytes(int(c.U32()), "block4")
	case FormBlock, FormExprloc:
		v.Class = ClassBlock
		n := c.ULEB128()
		if n > uint64(c.Remaining()) {
			c.Skip(c.Remaining()+1, "block")
			break
		}
		v.Bytes = c.Bytes(int(n), "block")

	case FormIndirect:
		actual := Form(c.ULEB128())
		if c.Err() != nil {
			break
		}
		if actual == FormIndirect || actual == FormImplicitConst {
			return v, fmt.Errorf("form 0x%x is not allowed behind DW_FORM_indirect: %w", uint64(actual), dterrors.ErrCorruptUnit)
		}
		return DecodeValue(c, actual, 0, enc)

	default:
		return v, fmt.Errorf("unknown form 0x%x at 0x%x: %w", uint64(form), c.Offset(), dterrors.ErrCorruptUnit)
	}

	if err := c.Err(); err != nil {
		return v, fmt.Errorf("form 0x%x: %w", uint64(form), err)
	}
	return v, nil
}

// SkipValue advances past a value without materializing strings or blocks.
// Fixed-size forms are skipped directly; the rest go through DecodeValue.
func SkipValue(c *Cursor, form Form, enc Encoding) error {
	n := 0
	switch form {
	case FormFlagPresent, FormImplicitConst:
		return nil
	case FormData1, FormRef1, FormFlag, FormStrx1, FormAddrx1:
		n = 1
	case FormData2, FormRef2, FormStrx2, FormAddrx2:
		n = 2
	case FormStrx3, FormAddrx3:
		n = 3
	case FormData4, FormRef4, FormRefSup4, FormStrx4, FormAddrx4:
		n = 4
	case FormData8, FormRef8, FormRefSig8, FormRefSup8:
		n = 8
	case FormData16:
		n = 16
	case FormAddr:
		n = enc.AddrSize
	case FormStrp, FormLineStrp, FormStrpSup, FormGNUStrpAlt, FormSecOffset, FormGNURefAlt:
		n = enc.offsetSize()
	default:
		_, err := DecodeValue(c, form, 0, enc)
		return err
	}
	c.Skip(n, "attribute")
	if err := c.Err(); err != nil {
		return fmt.Errorf("form 0x%x: %w", uint64(form), err)
	}
	return nil
}
