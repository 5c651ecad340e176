package objfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/ulikunitz/xz"

	dterrors "github.com/coral-mesh/dwarftags/internal/errors"
)

// maxDecompressedSize bounds a single decompressed section.
const maxDecompressedSize = 1 << 32

// decompressZdebug decodes a GNU-style .zdebug_* section: the magic "ZLIB",
// the uncompressed size as a big-endian uint64, then a zlib stream.
func decompressZdebug(name string, raw []byte) ([]byte, error) {
	if len(raw) < 12 || string(raw[:4]) != "ZLIB" {
		return nil, fmt.Errorf("%s: missing ZLIB header: %w", name, dterrors.ErrFormat)
	}
	size := binary.BigEndian.Uint64(raw[4:12])
	if size > maxDecompressedSize {
		return nil, fmt.Errorf("%s: declared size %d too large: %w", name, size, dterrors.ErrTruncated)
	}

	zr, err := zlib.NewReader(bytes.NewReader(raw[12:]))
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", name, err, dterrors.ErrTruncated)
	}
	defer zr.Close()

	// The declared size is only an upper bound until the stream confirms it.
	var out bytes.Buffer
	if _, err := io.Copy(&out, io.LimitReader(zr, int64(size))); err != nil {
		return nil, fmt.Errorf("%s: %v: %w", name, err, dterrors.ErrTruncated)
	}
	if uint64(out.Len()) != size {
		return nil, fmt.Errorf("%s: stream holds %d bytes, header declares %d: %w",
			name, out.Len(), size, dterrors.ErrTruncated)
	}
	return out.Bytes(), nil
}

// decompressXZ decodes an xz stream such as the MiniDebugInfo payload.
func decompressXZ(raw []byte) ([]byte, error) {
	xr, err := xz.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(io.LimitReader(xr, maxDecompressedSize))
}
