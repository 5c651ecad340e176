package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/coral-mesh/dwarftags/internal/indexer"
)

var (
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")).
			Bold(true)
)

type summaryOutput struct {
	Path    string
	Changed bool
}

// renderSummary prints the run counts. lipgloss drops colors on its own
// when the writer is not a terminal.
func renderSummary(w io.Writer, res *indexer.Result, out summaryOutput) {
	s := res.Summary
	renderer := lipgloss.NewRenderer(w)
	label := labelStyle.Renderer(renderer)
	count := countStyle.Renderer(renderer)
	warn := warnStyle.Renderer(renderer)

	row := func(name string, value string, style lipgloss.Style) string {
		return label.Render(fmt.Sprintf("%-16s", name)) + style.Render(value)
	}

	warnOr := func(n int) lipgloss.Style {
		if n > 0 {
			return warn
		}
		return count
	}

	dest := out.Path
	if !out.Changed {
		dest += " (unchanged)"
	}

	lines := []string{
		row("functions", fmt.Sprint(s.Functions), count),
		row("units", fmt.Sprint(s.Units), count),
		row("skipped units", fmt.Sprint(s.SkippedUnits), warnOr(s.SkippedUnits)),
		row("warnings", fmt.Sprint(s.Warnings), warnOr(s.Warnings)),
		row("unresolved files", fmt.Sprint(s.UnresolvedFiles), warnOr(s.UnresolvedFiles)),
	}
	if s.Filtered > 0 {
		lines = append(lines, row("filtered", fmt.Sprint(s.Filtered), count))
	}
	lines = append(lines, row("output", dest, count))

	_, _ = fmt.Fprintln(w, strings.Join(lines, "\n"))
	for _, err := range res.Warnings {
		_, _ = fmt.Fprintln(w, warn.Render("warning: ")+err.Error())
	}
}
