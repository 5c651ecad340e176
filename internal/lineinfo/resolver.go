package lineinfo

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/dwarftags/internal/dwarfinfo"
	dterrors "github.com/coral-mesh/dwarftags/internal/errors"
)

// Options configures a Resolver.
type Options struct {
	// Absolute joins relative paths onto the unit's compilation directory.
	Absolute bool
	Logger   zerolog.Logger
}

type unitTable struct {
	compDir string
	table   *FileTable
}

// Resolver maps (unit, decl_file) pairs to source paths. Line programs are
// decoded lazily and shared between units that point at the same one. It is
// safe for concurrent use.
type Resolver struct {
	line     []byte
	order    binary.ByteOrder
	tables   *dwarfinfo.Tables
	absolute bool
	logger   zerolog.Logger

	mu       sync.Mutex
	programs map[uint64]*FileTable
	units    map[int]unitTable
}

// NewResolver returns a resolver over the .debug_line section.
func NewResolver(line []byte, order binary.ByteOrder, tables *dwarfinfo.Tables, opts Options) *Resolver {
	return &Resolver{
		line:     line,
		order:    order,
		tables:   tables,
		absolute: opts.Absolute,
		logger:   opts.Logger.With().Str("component", "resolver").Logger(),
		programs: make(map[uint64]*FileTable),
		units:    make(map[int]unitTable),
	}
}

// AddUnit loads the file table of u. A unit without a line program is not
// an error; its files simply do not resolve. A damaged line program is
// returned as a unit-local *errors.UnitError.
func (r *Resolver) AddUnit(u *dwarfinfo.Unit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := unitTable{compDir: u.CompDir}
	defer func() { r.units[u.Index] = entry }()

	if !u.HasStmtList {
		return nil
	}
	if t, ok := r.programs[u.StmtList]; ok {
		entry.table = t
		return nil
	}

	t, err := ParseFileTable(r.line, u.StmtList, r.order, r.tables, u)
	if err != nil {
		r.logger.Warn().
			Int("unit", u.Index).
			Str("stmt_list", fmt.Sprintf("0x%x", u.StmtList)).
			Err(err).
			Msg("Line program unreadable, files of this unit will not resolve")
		return &dterrors.UnitError{Unit: u.Index, Offset: u.Offset, Err: err}
	}
	r.programs[u.StmtList] = t
	entry.table = t
	return nil
}

// Table returns the file table loaded for a unit.
func (r *Resolver) Table(unit int) (*FileTable, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.units[unit]
	return e.table, ok && e.table != nil
}

// Resolve maps a decl_file index of the given unit to a path. It returns
// false for unknown units, units without a file table and out-of-range
// indices.
func (r *Resolver) Resolve(unit, file int) (string, bool) {
	r.mu.Lock()
	e, ok := r.units[unit]
	r.mu.Unlock()
	if !ok || file < 0 {
		return "", false
	}

	path, ok := e.table.Lookup(file)
	if !ok || path == "" {
		return "", false
	}
	if r.absolute && !isAbs(path) && e.compDir != "" {
		path = JoinPath(e.compDir, path)
	}
	return path, true
}
