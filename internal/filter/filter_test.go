package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dterrors "github.com/coral-mesh/dwarftags/internal/errors"
)

var mainFn = Function{
	Name:    "main",
	Linkage: "",
	File:    "src/main.c",
	Line:    10,
	Unit:    0,
	Address: 0x401000,
}

func TestCompile_Empty(t *testing.T) {
	p, err := Compile("")
	require.NoError(t, err)
	assert.Nil(t, p)

	keep, err := p.Match(mainFn)
	require.NoError(t, err)
	assert.True(t, keep, "nil program matches everything")
	assert.Equal(t, "", p.String())
}

func TestCompile_Errors(t *testing.T) {
	tests := map[string]string{
		"syntax":        `fn.name ==`,
		"undeclared":    `other.name == "main"`,
		"non-bool":      `1 + 2`,
		"string result": `"main"`,
	}
	for name, expr := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Compile(expr)
			require.Error(t, err)
			assert.ErrorIs(t, err, dterrors.ErrConfig)
		})
	}
}

func TestProgram_Match(t *testing.T) {
	tests := []struct {
		expr string
		want bool
	}{
		{`fn.name == "main"`, true},
		{`fn.name.startsWith("__")`, false},
		{`fn.file.endsWith(".c")`, true},
		{`fn.file.contains("vendor/")`, false},
		{`fn.line >= 10 && fn.line < 20`, true},
		{`fn.unit == 1`, false},
		{`fn.linkage == ""`, true},
		{`fn.address == 0x401000u`, true},
		{`fn.name.matches("^ma")`, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			p, err := Compile(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.expr, p.String())

			got, err := p.Match(mainFn)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProgram_MatchNonBool(t *testing.T) {
	p, err := Compile(`fn.name`)
	require.NoError(t, err, "dyn output passes the type check")

	_, err = p.Match(mainFn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want bool")
}

func TestProgram_MatchEvalError(t *testing.T) {
	p, err := Compile(`fn.missing == "x"`)
	require.NoError(t, err)

	_, err = p.Match(mainFn)
	assert.Error(t, err)
}
