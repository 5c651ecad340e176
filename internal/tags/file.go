package tags

import (
	"errors"
	"io/fs"
	"os"

	"github.com/zeebo/xxh3"

	"github.com/coral-mesh/dwarftags/internal/safe"
)

// Save writes data to path atomically. When the existing file already has
// identical contents it is left untouched, so editors watching its
// modification time do not reload. It reports whether the file changed.
func Save(path string, data []byte) (changed bool, err error) {
	existing, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(existing) == len(data) && xxh3.Hash(existing) == xxh3.Hash(data) {
			return false, nil
		}
	case !errors.Is(err, fs.ErrNotExist):
		return false, err
	}

	if err := safe.WriteFileAtomic(path, data, 0o644); err != nil {
		return false, err
	}
	return true, nil
}
