// Package cli implements the dwarftags command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/dwarftags/internal/config"
	dterrors "github.com/coral-mesh/dwarftags/internal/errors"
	"github.com/coral-mesh/dwarftags/internal/filter"
	"github.com/coral-mesh/dwarftags/internal/indexer"
	"github.com/coral-mesh/dwarftags/internal/logging"
	"github.com/coral-mesh/dwarftags/internal/tags"
	"github.com/coral-mesh/dwarftags/pkg/version"
)

// Exit codes returned by ExitCode.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitNoDebugInfo = 2
)

// ProgramName is reported in the tags file header and in help output.
const ProgramName = "dwarftags"

type rootOptions struct {
	configPath string
	quiet      bool
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	var opts rootOptions

	cmd := &cobra.Command{
		Use:   ProgramName + " [flags] <object-file>",
		Short: "Generate a ctags file from DWARF debug information",
		Long: `Generate a ctags-compatible tags file listing every function defined in a
compiled object file, using its DWARF debug information.

Each function with code gets one line:

  <name>	<source-file>	<line>;"	f

Settings are read, in increasing priority, from built-in defaults, the
config file (--config, or .dwarftags.yaml in the working directory),
DWARFTAGS_* environment variables and flags.

Filter expressions are CEL over the variable fn, with fields name, linkage,
file, line, unit and address:

  dwarftags --filter '!fn.name.startsWith("_")' ./server`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd, opts, args[0])
		},
	}

	defaults := config.Default()
	flags := cmd.Flags()
	flags.StringP(config.FlagOutput, "o", defaults.Output, `tags file to write ("-" for stdout)`)
	flags.Bool(config.FlagHeader, defaults.Header, "emit !_TAG_ pseudo-tag lines")
	flags.Bool(config.FlagAbsolute, defaults.AbsolutePaths, "prefix relative source paths with the compilation directory")
	flags.Bool(config.FlagQualified, defaults.QualifiedNames, "tag functions by demangled linkage name")
	flags.IntP(config.FlagJobs, "j", defaults.Jobs, "number of compilation units walked concurrently")
	flags.String(config.FlagFilter, defaults.Filter, "CEL expression selecting the functions to keep")
	flags.Int64(config.FlagMaxSize, defaults.MaxInputSize, "maximum input file size in bytes")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "do not print the run summary")

	persistent := cmd.PersistentFlags()
	persistent.StringVar(&opts.configPath, "config", "", "config file (default .dwarftags.yaml if present)")
	persistent.String(config.FlagLogLevel, defaults.LogLevel, "log level (trace, debug, info, warn, error)")
	dterrors.Must(cmd.MarkPersistentFlagFilename("config", "yaml", "yml"), "register --config completion")
	dterrors.Must(cmd.RegisterFlagCompletionFunc(config.FlagLogLevel, func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return logging.Levels, cobra.ShellCompDirectiveNoFileComp
	}), "register --log-level completion")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newConfigCmd(&opts))

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Get())
		},
	}
}

// newLogger builds the run logger. Logs always go to the error stream so
// that "-o -" can use standard output for the tags.
func newLogger(cfg *config.Config, stderr io.Writer) zerolog.Logger {
	lc := logging.DefaultConfig()
	lc.Level = cfg.LogLevel
	lc.Output = stderr
	if f, ok := stderr.(*os.File); ok {
		lc.Pretty = logging.IsTerminal(f)
	} else {
		lc.Pretty = false
	}
	return logging.NewWithComponent(lc, ProgramName)
}

func runIndex(cmd *cobra.Command, opts rootOptions, path string) error {
	cfg, err := config.NewLayeredLoader().Load(opts.configPath, cmd.Flags())
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	prog, err := filter.Compile(cfg.Filter)
	if err != nil {
		return err
	}

	logger.Debug().
		Str("input", path).
		Str("output", cfg.Output).
		Int("jobs", cfg.Jobs).
		Msg("Indexing object file")

	res, err := indexer.Run(cmd.Context(), path, indexer.Options{
		MaxSize:        cfg.MaxInputSize,
		Absolute:       cfg.AbsolutePaths,
		QualifiedNames: cfg.QualifiedNames,
		Jobs:           cfg.Jobs,
		Filter:         prog,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	data := tags.Marshal(res.Records, tags.WriteOptions{
		Header:  cfg.Header,
		Program: ProgramName,
		Version: version.Get().Version,
	})

	out := summaryOutput{Path: cfg.Output, Changed: true}
	if cfg.WritesStdout() {
		if _, err := cmd.OutOrStdout().Write(data); err != nil {
			return fmt.Errorf("write tags: %w", err)
		}
		out.Path = "<stdout>"
	} else {
		out.Changed, err = tags.Save(cfg.Output, data)
		if err != nil {
			return fmt.Errorf("write %s: %w", cfg.Output, err)
		}
	}

	if !opts.quiet {
		renderSummary(cmd.ErrOrStderr(), res, out)
	}
	return nil
}

// Execute runs the command line with ctx and returns the process exit code.
// Failures are reported on stderr.
func Execute(ctx context.Context) int {
	cmd := NewRootCmd()
	err := cmd.ExecuteContext(ctx)
	return Report(cmd.ErrOrStderr(), err)
}

// Report prints the diagnostic line for err, if any, and returns the
// matching exit code.
func Report(w io.Writer, err error) int {
	code := ExitCode(err)
	switch code {
	case ExitOK:
	case ExitNoDebugInfo:
		_, _ = fmt.Fprintf(w, "%s: nothing to index: %v\n", ProgramName, err)
	default:
		_, _ = fmt.Fprintf(w, "Error: %s: %v\n", dterrors.Kind(err), err)
	}
	return code
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, dterrors.ErrNoDebugInfo):
		return ExitNoDebugInfo
	default:
		return ExitFailure
	}
}
