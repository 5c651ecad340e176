// Package errors defines the failure taxonomy of dwarftags: sentinel errors
// classified with errors.Is, and the unit-local UnitError.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure taxonomy. Components wrap them with
// fmt.Errorf("...: %w", ...) and callers classify with errors.Is.
var (
	// ErrFormat means the input is not a recognized object-file container.
	ErrFormat = errors.New("unrecognized object file format")

	// ErrNoDebugInfo means the container is valid but carries no debug sections.
	ErrNoDebugInfo = errors.New("no debug information")

	// ErrTruncated means a declared length or offset runs past its buffer.
	ErrTruncated = errors.New("truncated data")

	// ErrCorruptAbbrev means an entry referenced an abbreviation code that is
	// not present in its unit's table.
	ErrCorruptAbbrev = errors.New("corrupt abbreviation")

	// ErrCorruptUnit covers every other unit-local decode failure.
	ErrCorruptUnit = errors.New("corrupt compilation unit")

	// ErrConfig means the run was misconfigured before any input was read.
	ErrConfig = errors.New("invalid configuration")
)

// UnitError is a recoverable failure scoped to a single compilation unit.
type UnitError struct {
	// Unit is the zero-based index of the unit in .debug_info.
	Unit int
	// Offset is the unit header's offset in .debug_info.
	Offset uint64
	Err    error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("unit %d at 0x%x: %v", e.Unit, e.Offset, e.Err)
}

func (e *UnitError) Unwrap() error {
	return e.Err
}

// Kind returns a short stable label naming the taxonomy entry of err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoDebugInfo):
		return "no debug info"
	case errors.Is(err, ErrFormat):
		return "format error"
	case errors.Is(err, ErrTruncated):
		return "truncated data"
	case errors.Is(err, ErrCorruptAbbrev):
		return "corrupt abbreviation"
	case errors.Is(err, ErrCorruptUnit):
		return "corrupt unit"
	case errors.Is(err, ErrConfig):
		return "configuration error"
	default:
		return "error"
	}
}

// Fatal reports whether err must abort the whole run. Unit-local failures
// are recoverable; everything else is not.
func Fatal(err error) bool {
	if err == nil {
		return false
	}
	var ue *UnitError
	if errors.As(err, &ue) {
		return false
	}
	return !errors.Is(err, ErrCorruptAbbrev) && !errors.Is(err, ErrCorruptUnit)
}
