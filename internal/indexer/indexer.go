// Package indexer runs the whole pipeline: it loads an object file, walks
// its debug information, resolves source paths and produces the sorted,
// deduplicated tag records.
package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/ianlancetaylor/demangle"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/coral-mesh/dwarftags/internal/dwarfinfo"
	dterrors "github.com/coral-mesh/dwarftags/internal/errors"
	"github.com/coral-mesh/dwarftags/internal/filter"
	"github.com/coral-mesh/dwarftags/internal/lineinfo"
	"github.com/coral-mesh/dwarftags/internal/objfile"
	"github.com/coral-mesh/dwarftags/internal/tags"
)

// Options configures a run.
type Options struct {
	// MaxSize bounds the input file size. Zero means the default limit.
	MaxSize int64
	// Absolute joins relative source paths onto the unit's comp_dir.
	Absolute bool
	// QualifiedNames uses the demangled linkage name when one is present.
	QualifiedNames bool
	// Jobs is the number of units walked concurrently. Values below one
	// walk sequentially.
	Jobs int
	// Filter selects the functions to keep. Nil keeps all of them.
	Filter *filter.Program
	Logger zerolog.Logger
}

// Summary counts what a run saw.
type Summary struct {
	// Functions is the number of distinct tag records produced.
	Functions int
	// Subprograms is the number of indexable subprograms found, before
	// filtering and deduplication.
	Subprograms int
	// Filtered is the number of subprograms rejected by the filter.
	Filtered int
	// Units is the number of units in .debug_info.
	Units int
	// SkippedUnits is the number of units dropped because they were damaged.
	SkippedUnits int
	// Warnings is the number of recoverable problems, including skipped
	// units and unreadable line programs.
	Warnings int
	// UnresolvedFiles is the number of records written with the
	// placeholder path.
	UnresolvedFiles int
	Duration        time.Duration
}

// Result is the outcome of a successful run.
type Result struct {
	Format  objfile.Format
	Records []tags.Record
	Summary Summary
	// Warnings holds the recoverable errors, each an *errors.UnitError.
	Warnings []error
}

// Run indexes the object file at path. It returns errors.ErrFormat,
// errors.ErrNoDebugInfo or errors.ErrTruncated (wrapped) when nothing can be
// indexed; damaged units only add warnings to the result.
func Run(ctx context.Context, path string, opts Options) (*Result, error) {
	obj, err := objfile.Open(path, objfile.Options{MaxSize: opts.MaxSize, Logger: opts.Logger})
	if err != nil {
		return nil, err
	}
	return Index(ctx, obj, opts)
}

// unitResult is what a worker records for one unit.
type unitResult struct {
	unit    *dwarfinfo.Unit
	lineErr error
}

// Index runs the pipeline over an already parsed object file.
func Index(ctx context.Context, obj *objfile.ObjectFile, opts Options) (*Result, error) {
	start := time.Now()
	logger := opts.Logger.With().Str("component", "indexer").Logger()

	sec, err := obj.DebugSections()
	if err != nil {
		return nil, err
	}
	order := obj.ByteOrder()

	walker := dwarfinfo.NewWalker(dwarfinfo.Sections{
		Info:       sec.Info,
		Abbrev:     sec.Abbrev,
		Str:        sec.Str,
		LineStr:    sec.LineStr,
		StrOffsets: sec.StrOffsets,
		Addr:       sec.Addr,
	}, order, opts.Logger)
	resolver := lineinfo.NewResolver(sec.Line, order, walker.Tables(), lineinfo.Options{
		Absolute: opts.Absolute,
		Logger:   opts.Logger,
	})

	var results []*unitResult
	for u, err := range walker.Headers() {
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results = append(results, &unitResult{unit: u})
	}

	jobs := opts.Jobs
	if jobs < 1 {
		jobs = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for _, r := range results {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			walker.Walk(r.unit)
			if r.unit.Err == nil {
				r.lineErr = resolver.AddUnit(r.unit)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{Format: obj.Format()}
	var set tags.Set
	for _, r := range results {
		u := r.unit
		res.Summary.Units++
		if u.Err != nil {
			if dterrors.Fatal(u.Err) {
				return nil, u.Err
			}
			res.Summary.SkippedUnits++
			res.Warnings = append(res.Warnings, u.Err)
			continue
		}
		if r.lineErr != nil {
			if dterrors.Fatal(r.lineErr) {
				return nil, r.lineErr
			}
			res.Warnings = append(res.Warnings, r.lineErr)
		}
		logger.Debug().
			Int("unit", u.Index).
			Str("name", u.Name).
			Str("producer", u.Producer).
			Uint64("language", u.Language).
			Int("functions", len(u.Functions)).
			Msg("Indexed compilation unit")

		for _, fn := range u.Functions {
			res.Summary.Subprograms++
			rec, unresolved := buildRecord(resolver, fn, opts.QualifiedNames)

			keep, err := opts.Filter.Match(filter.Function{
				Name:    rec.Name,
				Linkage: fn.LinkageName,
				File:    rec.Path,
				Line:    rec.Line,
				Unit:    fn.Unit,
				Address: fn.Address,
			})
			if err != nil {
				return nil, fmt.Errorf("%w: %v", dterrors.ErrConfig, err)
			}
			if !keep {
				res.Summary.Filtered++
				continue
			}
			if set.Add(rec) && unresolved {
				res.Summary.UnresolvedFiles++
			}
		}
	}

	res.Records = set.Records()
	res.Summary.Functions = len(res.Records)
	res.Summary.Warnings = len(res.Warnings)
	res.Summary.Duration = time.Since(start)

	logger.Debug().
		Str("format", string(res.Format)).
		Int("units", res.Summary.Units).
		Int("skipped_units", res.Summary.SkippedUnits).
		Int("functions", res.Summary.Functions).
		Dur("duration", res.Summary.Duration).
		Msg("Indexed object file")
	return res, nil
}

// buildRecord turns a function into a tag record. It reports whether the
// source path had to be replaced by the placeholder.
func buildRecord(resolver *lineinfo.Resolver, fn dwarfinfo.FunctionRecord, qualified bool) (tags.Record, bool) {
	rec := tags.Record{Name: fn.Name, Line: fn.Line}
	if qualified {
		rec.Name = QualifiedName(fn)
	}

	path, ok := resolver.Resolve(fn.Unit, fn.FileIndex)
	if !ok {
		rec.Path = tags.UnknownFile
		return rec, true
	}
	rec.Path = path
	return rec, false
}

// QualifiedName returns the demangled linkage name of fn without its
// parameter list, or its plain name when there is no linkage name or it
// cannot be demangled.
func QualifiedName(fn dwarfinfo.FunctionRecord) string {
	if fn.LinkageName == "" {
		return fn.Name
	}
	d, err := demangle.ToString(fn.LinkageName, demangle.NoParams)
	if err != nil {
		return fn.Name
	}
	return d
}
