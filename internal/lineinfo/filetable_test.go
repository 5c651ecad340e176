package lineinfo

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/dwarftags/internal/dwarfinfo"
	dterrors "github.com/coral-mesh/dwarftags/internal/errors"
	"github.com/coral-mesh/dwarftags/internal/testutil"
)

func buildSections(order binary.ByteOrder, units ...testutil.Unit) (testutil.Sections, testutil.UnitOffsets) {
	b := testutil.NewDWARFBuilder(order)
	for _, u := range units {
		b.AddUnit(u)
	}
	return b.BuildWithOffsets()
}

func tablesOf(secs testutil.Sections, order binary.ByteOrder) *dwarfinfo.Tables {
	return dwarfinfo.NewTables(dwarfinfo.Sections{
		Info:       secs[".debug_info"],
		Abbrev:     secs[".debug_abbrev"],
		Str:        secs[".debug_str"],
		LineStr:    secs[".debug_line_str"],
		StrOffsets: secs[".debug_str_offsets"],
		Addr:       secs[".debug_addr"],
	}, order)
}

func TestParseFileTable_V4(t *testing.T) {
	u := testutil.Unit{
		Version: 4,
		Name:    "main.c",
		CompDir: "/src",
		Dirs:    []string{"include", "/usr/include"},
		Files: []testutil.FileEntry{
			{Name: "main.c", Dir: 0},
			{Name: "util.h", Dir: 1},
			{Name: "stdio.h", Dir: 2},
			{Name: "/abs/gen.c", Dir: 1},
		},
	}
	secs, _ := buildSections(binary.LittleEndian, u)

	ft, err := ParseFileTable(secs[".debug_line"], 0, binary.LittleEndian, tablesOf(secs, binary.LittleEndian), nil)
	require.NoError(t, err)
	assert.Equal(t, uint16(4), ft.Version)
	assert.Equal(t, 1, ft.Base)
	assert.Equal(t, []string{"", "include", "/usr/include"}, ft.Dirs)
	assert.Equal(t, []string{"main.c", "include/util.h", "/usr/include/stdio.h", "/abs/gen.c"}, ft.Files)

	path, ok := ft.Lookup(1)
	assert.True(t, ok)
	assert.Equal(t, "main.c", path)

	_, ok = ft.Lookup(0)
	assert.False(t, ok, "index 0 is invalid before DWARF 5")
	_, ok = ft.Lookup(5)
	assert.False(t, ok)
}

func TestParseFileTable_V2V3(t *testing.T) {
	for _, version := range []int{2, 3} {
		u := testutil.Unit{
			Version: version,
			Name:    "a.c",
			Dirs:    []string{"lib"},
			Files:   []testutil.FileEntry{{Name: "a.c"}, {Name: "b.c", Dir: 1}},
		}
		secs, _ := buildSections(binary.BigEndian, u)
		ft, err := ParseFileTable(secs[".debug_line"], 0, binary.BigEndian, tablesOf(secs, binary.BigEndian), nil)
		require.NoError(t, err, "version %d", version)
		assert.Equal(t, []string{"a.c", "lib/b.c"}, ft.Files)
	}
}

func TestParseFileTable_V5(t *testing.T) {
	for _, dwarf64 := range []bool{false, true} {
		u := testutil.Unit{
			Version: 5,
			Dwarf64: dwarf64,
			Name:    "main.c",
			CompDir: "/src",
			Dirs:    []string{"/src", "include"},
			Files: []testutil.FileEntry{
				{Name: "main.c", Dir: 0},
				{Name: "main.c", Dir: 0},
				{Name: "util.h", Dir: 1},
			},
		}
		secs, _ := buildSections(binary.LittleEndian, u)

		ft, err := ParseFileTable(secs[".debug_line"], 0, binary.LittleEndian, tablesOf(secs, binary.LittleEndian), nil)
		require.NoError(t, err)
		assert.Equal(t, uint16(5), ft.Version)
		assert.Equal(t, 0, ft.Base)
		assert.Equal(t, []string{"/src", "include"}, ft.Dirs)
		assert.Equal(t, []string{"main.c", "main.c", "include/util.h"}, ft.Files)

		path, ok := ft.Lookup(0)
		assert.True(t, ok, "index 0 is valid in DWARF 5")
		assert.Equal(t, "main.c", path)
		path, ok = ft.Lookup(2)
		assert.True(t, ok)
		assert.Equal(t, "include/util.h", path)
	}
}

func TestParseFileTable_Errors(t *testing.T) {
	t.Run("offset past section", func(t *testing.T) {
		_, err := ParseFileTable([]byte{1, 2, 3}, 10, binary.LittleEndian, nil, nil)
		assert.ErrorIs(t, err, dterrors.ErrCorruptUnit)
	})

	t.Run("length past section", func(t *testing.T) {
		_, err := ParseFileTable([]byte{0xff, 0, 0, 0, 4, 0}, 0, binary.LittleEndian, nil, nil)
		assert.ErrorIs(t, err, dterrors.ErrCorruptUnit)
	})

	t.Run("unsupported version", func(t *testing.T) {
		u := testutil.SimpleUnit()
		u.CorruptLineProgram = true
		secs, _ := buildSections(binary.LittleEndian, u)
		_, err := ParseFileTable(secs[".debug_line"], 0, binary.LittleEndian, tablesOf(secs, binary.LittleEndian), nil)
		assert.ErrorIs(t, err, dterrors.ErrCorruptUnit)
		assert.Contains(t, err.Error(), "version 9")
	})

	t.Run("truncated file list", func(t *testing.T) {
		secs, _ := buildSections(binary.LittleEndian, testutil.SimpleUnit())
		line := secs[".debug_line"]
		// Cut into the file table and shrink the unit length to match, so
		// the declared header length overruns the program.
		cut := append([]byte{}, line[:len(line)-5]...)
		binary.LittleEndian.PutUint32(cut, uint32(len(cut)-4))
		_, err := ParseFileTable(cut, 0, binary.LittleEndian, tablesOf(secs, binary.LittleEndian), nil)
		assert.ErrorIs(t, err, dterrors.ErrCorruptUnit)
	})
}

// v5LineProgram assembles a little-endian DWARF 5 line program whose header
// ends with tail, the directory and file tables.
func v5LineProgram(tail []byte) []byte {
	hdr := []byte{1, 1, 1, 0xfb, 14, 1} // min_inst, max_ops, is_stmt, line_base, line_range, opcode_base
	hdr = append(hdr, tail...)

	body := []byte{5, 0, 8, 0} // version, address_size, segment_selector_size
	body = binary.LittleEndian.AppendUint32(body, uint32(len(hdr)))
	body = append(body, hdr...)

	prog := binary.LittleEndian.AppendUint32(nil, uint32(len(body)))
	return append(prog, body...)
}

func TestParseFileTable_V5BadCounts(t *testing.T) {
	huge := testutil.AppendULEB128(nil, 1<<40)

	tests := []struct {
		name string
		tail []byte
		want string
	}{
		{
			name: "directories without formats",
			tail: append([]byte{0}, huge...),
			want: "zero-width",
		},
		{
			name: "directories with zero-width formats",
			tail: append([]byte{1, lnctPath, byte(dwarfinfo.FormFlagPresent)}, huge...),
			want: "zero-width",
		},
		{
			name: "more directories than bytes",
			tail: append([]byte{1, lnctPath, byte(dwarfinfo.FormString)}, huge...),
			want: "header bytes remain",
		},
		{
			name: "more files than bytes",
			tail: []byte{
				1, lnctPath, byte(dwarfinfo.FormString), 1, '/', 0,
				1, lnctPath, byte(dwarfinfo.FormString), 100, 'a', 0,
			},
			want: "100 files",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFileTable(v5LineProgram(tt.tail), 0, binary.LittleEndian, nil, nil)
			require.ErrorIs(t, err, dterrors.ErrCorruptUnit)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("empty tables", func(t *testing.T) {
		ft, err := ParseFileTable(v5LineProgram([]byte{0, 0, 0, 0}), 0, binary.LittleEndian, nil, nil)
		require.NoError(t, err)
		assert.Empty(t, ft.Files)
	})
}

func TestJoinPath(t *testing.T) {
	tests := []struct {
		dir, name, want string
	}{
		{"", "a.c", "a.c"},
		{"/src", "a.c", "/src/a.c"},
		{"/src/", "a.c", "/src/a.c"},
		{"/src", "/abs/a.c", "/abs/a.c"},
		{`C:\src`, "a.c", `C:\src\a.c`},
		{"/src", `C:\abs\a.c`, `C:\abs\a.c`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, JoinPath(tt.dir, tt.name), "JoinPath(%q, %q)", tt.dir, tt.name)
	}
}

func TestFileTable_LookupNil(t *testing.T) {
	var ft *FileTable
	_, ok := ft.Lookup(1)
	assert.False(t, ok)
}
