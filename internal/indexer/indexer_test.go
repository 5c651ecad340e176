package indexer

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/dwarftags/internal/dwarfinfo"
	dterrors "github.com/coral-mesh/dwarftags/internal/errors"
	"github.com/coral-mesh/dwarftags/internal/filter"
	"github.com/coral-mesh/dwarftags/internal/objfile"
	"github.com/coral-mesh/dwarftags/internal/tags"
	"github.com/coral-mesh/dwarftags/internal/testutil"
)

func elfWith(units ...testutil.Unit) []byte {
	b := testutil.NewDWARFBuilder(binary.LittleEndian)
	for _, u := range units {
		b.AddUnit(u)
	}
	eb := testutil.NewELF64()
	eb.AddSection(".text", []byte{0xc3})
	eb.AddSections(b.Build())
	return eb.Bytes()
}

func index(t *testing.T, buf []byte, opts Options) *Result {
	t.Helper()
	obj, err := objfile.Parse(buf, testutil.NewTestLogger(t))
	require.NoError(t, err)
	opts.Logger = testutil.NewTestLogger(t)
	res, err := Index(context.Background(), obj, opts)
	require.NoError(t, err)
	return res
}

func TestRun_SimpleELF(t *testing.T) {
	path := testutil.WriteFile(t, "a.out", testutil.SimpleELF())

	ctx, cancel := testutil.NewTestContext()
	defer cancel()

	res, err := Run(ctx, path, Options{Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)
	assert.Equal(t, objfile.FormatELF, res.Format)
	assert.Equal(t, []tags.Record{{Name: "main", Path: "main.c", Line: 10}}, res.Records)
	assert.Equal(t, "main\tmain.c\t10;\"\tf\n", string(tags.Marshal(res.Records, tags.WriteOptions{})))

	assert.Equal(t, 1, res.Summary.Functions)
	assert.Equal(t, 1, res.Summary.Subprograms)
	assert.Equal(t, 1, res.Summary.Units)
	assert.Zero(t, res.Summary.Warnings)
	assert.Empty(t, res.Warnings)
}

func TestIndex_LogsUnitMetadata(t *testing.T) {
	obj, err := objfile.Parse(testutil.SimpleELF(), testutil.NewTestLogger(t))
	require.NoError(t, err)
	logger, logs := testutil.NewCaptureLogger(t)

	_, err = Index(context.Background(), obj, Options{Logger: logger})
	require.NoError(t, err)
	assert.Contains(t, logs.String(), `"message":"Indexed compilation unit"`)
	assert.Contains(t, logs.String(), `"producer":"dwarftags test"`)
	assert.Contains(t, logs.String(), `"language":12`)
}

func TestRun_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Run(context.Background(), "/nonexistent/a.out", Options{})
		assert.Error(t, err)
	})

	t.Run("not an object file", func(t *testing.T) {
		path := testutil.WriteFile(t, "notes.txt", []byte("hello world\n"))
		_, err := Run(context.Background(), path, Options{})
		assert.ErrorIs(t, err, dterrors.ErrFormat)
	})

	t.Run("stripped", func(t *testing.T) {
		eb := testutil.NewELF64()
		eb.AddSection(".text", []byte{0xc3})
		path := testutil.WriteFile(t, "stripped", eb.Bytes())
		_, err := Run(context.Background(), path, Options{})
		assert.ErrorIs(t, err, dterrors.ErrNoDebugInfo)
	})
}

func TestIndex_Idempotent(t *testing.T) {
	helper := testutil.SimpleUnit()
	helper.Name = "util.c"
	helper.Files = []testutil.FileEntry{{Name: "util.c"}}
	helper.Functions = []testutil.Function{
		{Name: "helper", File: 1, Line: 4, LowPC: 0x402000},
		{Name: "aardvark", File: 1, Line: 40, LowPC: 0x402100},
	}
	buf := elfWith(testutil.SimpleUnit(), helper)

	first := tags.Marshal(index(t, buf, Options{}).Records, tags.WriteOptions{})
	second := tags.Marshal(index(t, buf, Options{}).Records, tags.WriteOptions{})
	assert.Equal(t, first, second)
	assert.Equal(t,
		"aardvark\tutil.c\t40;\"\tf\n"+
			"helper\tutil.c\t4;\"\tf\n"+
			"main\tmain.c\t10;\"\tf\n",
		string(first))
}

func TestIndex_Dedup(t *testing.T) {
	// A header-defined inline function emitted by two units.
	a := testutil.SimpleUnit()
	a.Files = append(a.Files, testutil.FileEntry{Name: "common.h"})
	a.Functions = append(a.Functions, testutil.Function{Name: "inl", File: 2, Line: 7, LowPC: 0x401100})
	b := testutil.SimpleUnit()
	b.Name = "other.c"
	b.Files = []testutil.FileEntry{{Name: "other.c"}, {Name: "common.h"}}
	b.Functions = []testutil.Function{{Name: "inl", File: 2, Line: 7, LowPC: 0x403000}}

	res := index(t, elfWith(a, b), Options{})
	want := []tags.Record{
		{Name: "inl", Path: "common.h", Line: 7},
		{Name: "main", Path: "main.c", Line: 10},
	}
	if diff := cmp.Diff(want, res.Records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 3, res.Summary.Subprograms)
	assert.Equal(t, 2, res.Summary.Functions)
}

func TestIndex_DedupAfterSanitizing(t *testing.T) {
	u := testutil.SimpleUnit()
	u.Functions = append(u.Functions,
		testutil.Function{Name: "op\tcall", File: 1, Line: 20, LowPC: 0x401200},
		testutil.Function{Name: "op call", File: 1, Line: 20, LowPC: 0x401300},
	)

	res := index(t, elfWith(u), Options{})
	want := []tags.Record{
		{Name: "main", Path: "main.c", Line: 10},
		{Name: "op call", Path: "main.c", Line: 20},
	}
	if diff := cmp.Diff(want, res.Records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, res.Summary.Functions)
}

func TestIndex_CorruptUnitDegradesGracefully(t *testing.T) {
	bad := testutil.SimpleUnit()
	bad.Name = "bad.c"
	bad.CorruptAbbrev = true
	other := testutil.SimpleUnit()
	other.Name = "other.c"
	other.Files = []testutil.FileEntry{{Name: "other.c"}}
	other.Functions = []testutil.Function{{Name: "other", File: 1, Line: 2, LowPC: 0x403000}}

	res := index(t, elfWith(testutil.SimpleUnit(), bad, other), Options{})
	assert.Equal(t, []tags.Record{
		{Name: "main", Path: "main.c", Line: 10},
		{Name: "other", Path: "other.c", Line: 2},
	}, res.Records)
	assert.Equal(t, 3, res.Summary.Units)
	assert.Equal(t, 1, res.Summary.SkippedUnits)
	assert.Equal(t, 1, res.Summary.Warnings)
	require.Len(t, res.Warnings, 1)
	assert.ErrorIs(t, res.Warnings[0], dterrors.ErrCorruptAbbrev)
}

func TestIndex_CorruptLineProgram(t *testing.T) {
	u := testutil.SimpleUnit()
	u.CorruptLineProgram = true

	res := index(t, elfWith(u), Options{})
	assert.Equal(t, []tags.Record{{Name: "main", Path: tags.UnknownFile, Line: 10}}, res.Records)
	assert.Equal(t, 1, res.Summary.Warnings)
	assert.Zero(t, res.Summary.SkippedUnits)
	assert.Equal(t, 1, res.Summary.UnresolvedFiles)
	assert.ErrorIs(t, res.Warnings[0], dterrors.ErrCorruptUnit)
}

func TestIndex_UnresolvedFiles(t *testing.T) {
	u := testutil.SimpleUnit()
	u.Functions = append(u.Functions,
		testutil.Function{Name: "no_file", File: testutil.NoFile, Line: 3, LowPC: 0x401100},
		testutil.Function{Name: "bad_index", File: 9, Line: 4, LowPC: 0x401200},
	)

	res := index(t, elfWith(u), Options{})
	assert.Equal(t, []tags.Record{
		{Name: "bad_index", Path: tags.UnknownFile, Line: 4},
		{Name: "main", Path: "main.c", Line: 10},
		{Name: "no_file", Path: tags.UnknownFile, Line: 3},
	}, res.Records)
	assert.Equal(t, 2, res.Summary.UnresolvedFiles)
}

func TestIndex_Absolute(t *testing.T) {
	res := index(t, testutil.SimpleELF(), Options{Absolute: true})
	assert.Equal(t, []tags.Record{{Name: "main", Path: "/src/main.c", Line: 10}}, res.Records)
}

func TestIndex_QualifiedNames(t *testing.T) {
	u := testutil.SimpleUnit()
	u.Functions = append(u.Functions,
		testutil.Function{Name: "helper", LinkageName: "_ZN2ns6helperEv", File: 1, Line: 20, LowPC: 0x401100},
		testutil.Function{Name: "raw", LinkageName: "not_mangled", File: 1, Line: 30, LowPC: 0x401200},
	)
	buf := elfWith(u)

	plain := index(t, buf, Options{})
	assert.Equal(t, []string{"helper", "main", "raw"}, names(plain.Records))

	qualified := index(t, buf, Options{QualifiedNames: true})
	assert.Equal(t, []string{"main", "ns::helper", "raw"}, names(qualified.Records))
}

func TestQualifiedName(t *testing.T) {
	tests := []struct {
		fn   dwarfinfo.FunctionRecord
		want string
	}{
		{dwarfinfo.FunctionRecord{Name: "main"}, "main"},
		{dwarfinfo.FunctionRecord{Name: "helper", LinkageName: "_Z6helperv"}, "helper"},
		{dwarfinfo.FunctionRecord{Name: "run", LinkageName: "_ZN5outer5inner3runEi"}, "outer::inner::run"},
		{dwarfinfo.FunctionRecord{Name: "f", LinkageName: "_Zgarbage"}, "f"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, QualifiedName(tt.fn), tt.fn.LinkageName)
	}
}

func TestIndex_Filter(t *testing.T) {
	u := testutil.SimpleUnit()
	u.Functions = append(u.Functions,
		testutil.Function{Name: "__internal", File: 1, Line: 2, LowPC: 0x401100},
		testutil.Function{Name: "late", File: 1, Line: 500, LowPC: 0x401200},
	)

	prg, err := filter.Compile(`!fn.name.startsWith("__") && fn.line < 100`)
	require.NoError(t, err)

	res := index(t, elfWith(u), Options{Filter: prg})
	assert.Equal(t, []string{"main"}, names(res.Records))
	assert.Equal(t, 3, res.Summary.Subprograms)
	assert.Equal(t, 2, res.Summary.Filtered)
}

func TestIndex_FilterErrorIsFatal(t *testing.T) {
	prg, err := filter.Compile(`fn.nope == 1`)
	require.NoError(t, err)

	obj, err := objfile.Parse(testutil.SimpleELF(), testutil.NewTestLogger(t))
	require.NoError(t, err)
	_, err = Index(context.Background(), obj, Options{Filter: prg, Logger: testutil.NewTestLogger(t)})
	assert.ErrorIs(t, err, dterrors.ErrConfig)
}

func TestIndex_ParallelMatchesSequential(t *testing.T) {
	var units []testutil.Unit
	for i := range 16 {
		u := testutil.SimpleUnit()
		u.Functions = []testutil.Function{
			{Name: "fn", File: 1, Line: uint64(i + 1), LowPC: 0x1000 * uint64(i+1)},
		}
		if i%5 == 0 {
			u.CorruptAbbrev = true
		}
		units = append(units, u)
	}
	buf := elfWith(units...)

	seq := index(t, buf, Options{Jobs: 1})
	par := index(t, buf, Options{Jobs: 8})
	if diff := cmp.Diff(seq.Records, par.Records); diff != "" {
		t.Errorf("parallel records differ (-seq +par):\n%s", diff)
	}
	assert.Equal(t, seq.Summary.SkippedUnits, par.Summary.SkippedUnits)
	assert.Equal(t, 4, par.Summary.SkippedUnits)
	assert.Equal(t, 12, par.Summary.Functions)
}

func TestIndex_Canceled(t *testing.T) {
	obj, err := objfile.Parse(testutil.SimpleELF(), testutil.NewTestLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Index(ctx, obj, Options{Logger: testutil.NewTestLogger(t)})
	assert.ErrorIs(t, err, context.Canceled)
}

func names(records []tags.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Name)
	}
	return out
}
