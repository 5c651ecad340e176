// Package filter selects which functions are written to the tags file using
// a CEL expression over a function variable, for example
//
//	!fn.name.startsWith("__") && fn.file.endsWith(".c")
package filter

import (
	"fmt"

	"github.com/google/cel-go/cel"

	dterrors "github.com/coral-mesh/dwarftags/internal/errors"
	"github.com/coral-mesh/dwarftags/internal/safe"
)

// Variable is the name under which a function is exposed to expressions.
const Variable = "fn"

// Function is the view of a function an expression can inspect.
type Function struct {
	Name    string
	Linkage string
	File    string
	Line    uint64
	Unit    int
	Address uint64
}

func (f Function) activation() map[string]any {
	line, _ := safe.Uint64ToInt64(f.Line)
	return map[string]any{
		Variable: map[string]any{
			"name":    f.Name,
			"linkage": f.Linkage,
			"file":    f.File,
			"line":    line,
			"unit":    int64(f.Unit),
			"address": f.Address,
		},
	}
}

// Program is a compiled filter. A nil *Program matches everything.
type Program struct {
	expr string
	prg  cel.Program
}

// Compile parses and checks expr. An empty expression yields a nil program.
func Compile(expr string) (*Program, error) {
	if expr == "" {
		return nil, nil
	}
	env, err := cel.NewEnv(
		cel.Variable(Variable, cel.MapType(cel.StringType, cel.AnyType)),
	)
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: filter %q: %v", dterrors.ErrConfig, expr, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) && !ast.OutputType().IsExactType(cel.DynType) {
		return nil, fmt.Errorf("%w: filter %q must evaluate to a bool, not %s",
			dterrors.ErrConfig, expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: filter %q: %v", dterrors.ErrConfig, expr, err)
	}
	return &Program{expr: expr, prg: prg}, nil
}

// String returns the source expression.
func (p *Program) String() string {
	if p == nil {
		return ""
	}
	return p.expr
}

// Match evaluates the program against fn.
func (p *Program) Match(fn Function) (bool, error) {
	if p == nil {
		return true, nil
	}
	out, _, err := p.prg.Eval(fn.activation())
	if err != nil {
		return false, fmt.Errorf("filter %q on %s: %w", p.expr, fn.Name, err)
	}
	keep, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter %q on %s returned %T, want bool", p.expr, fn.Name, out.Value())
	}
	return keep, nil
}
