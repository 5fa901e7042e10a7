// Package tui renders run results for the terminal. Plain streaming
// output, no interactive screens.
package tui

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/rentflow/rentflow/pkg/pipeline"
	"github.com/rentflow/rentflow/pkg/validate"
)

var (
	accent  = lipgloss.Color("#C9A227")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	failure = lipgloss.Color("#FF5555")
	white   = lipgloss.Color("#FFFFFF")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	failureStyle = lipgloss.NewStyle().Foreground(failure).Bold(true)
)

// RenderSummary formats a finished run for the terminal.
func RenderSummary(s *pipeline.Summary) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("RentFlow") + " " + mutedStyle.Render(s.RunID) + "\n\n")

	if s.Skipped {
		b.WriteString(mutedStyle.Render("Release already published for today. Nothing to do.") + "\n")
		return b.String()
	}

	b.WriteString(accentStyle.Render("▸ LAYERS") + "\n")
	names := make([]string, 0, len(s.Rows))
	for name := range s.Rows {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteString(fmt.Sprintf("  %-24s %d rows\n", name, s.Rows[name]))
	}

	if len(s.Artifacts) > 0 {
		b.WriteString("\n" + accentStyle.Render("▸ ARTIFACTS") + "\n")
		for _, path := range s.Artifacts {
			b.WriteString("  " + filepath.Base(path) + "\n")
		}
	}

	if s.Report != nil && len(s.Report.Rows) > 0 {
		b.WriteString("\n" + accentStyle.Render("▸ RENT SUMMARY") + "\n")
		for _, row := range s.Report.Rows {
			b.WriteString(fmt.Sprintf("  %-16s %5d contracts, median %.0f AED\n",
				row.Group, row.Count, row.MedianRent))
		}
	}

	b.WriteString("\n" + successStyle.Render("✓ done") + " " +
		mutedStyle.Render(s.Duration.Round(time.Millisecond).String()) + "\n")
	return b.String()
}

// RenderValidation formats a validation result.
func RenderValidation(r *validate.Result) string {
	var b strings.Builder

	if r.IsValid() {
		b.WriteString(successStyle.Render("✓ dataset valid") + "\n")
	} else {
		b.WriteString(failureStyle.Render("✗ dataset invalid") + "\n")
	}
	for _, e := range r.Errors {
		b.WriteString("  " + failureStyle.Render("error") + "   " + e + "\n")
	}
	for _, w := range r.Warnings {
		b.WriteString("  " + accentStyle.Render("warning") + " " + w + "\n")
	}
	for _, i := range r.Info {
		b.WriteString("  " + mutedStyle.Render("info") + "    " + i + "\n")
	}
	return b.String()
}
