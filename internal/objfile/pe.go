package objfile

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"

	dterrors "github.com/coral-mesh/dwarftags/internal/errors"
)

func parsePE(buf []byte) (*ObjectFile, error) {
	pf, err := pe.NewFile(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dterrors.ErrFormat, err)
	}

	addrSize := 4
	switch pf.OptionalHeader.(type) {
	case *pe.OptionalHeader64:
		addrSize = 8
	case *pe.OptionalHeader32:
	default:
		if pf.Machine == pe.IMAGE_FILE_MACHINE_AMD64 || pf.Machine == pe.IMAGE_FILE_MACHINE_ARM64 {
			addrSize = 8
		}
	}
	// PE targets are little-endian.
	f := newObjectFile(buf, FormatPE, binary.LittleEndian, addrSize, fmt.Sprintf("pe-0x%x", pf.Machine))

	for _, s := range pf.Sections {
		// The raw size is padded to the file alignment; the virtual size
		// holds the real length when it is smaller.
		size := uint64(s.Size)
		if s.VirtualSize != 0 && uint64(s.VirtualSize) < size {
			size = uint64(s.VirtualSize)
		}
		f.sections[s.Name] = Section{
			Name:   s.Name,
			Offset: uint64(s.Offset),
			Size:   size,
		}
		if !isDebugSection(s.Name) {
			continue
		}
		data, err := f.view(s.Name, uint64(s.Offset), size)
		if err != nil {
			return nil, err
		}
		f.debug[s.Name] = data
	}
	return f, nil
}
