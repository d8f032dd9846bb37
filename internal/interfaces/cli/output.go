package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"encapsia.io/cli/internal/application/services"
)

var (
	outputStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	logStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// printer writes command results to stdout and progress notes to stderr
type printer struct {
	out io.Writer
	err io.Writer
}

func (c *CLIContainer) printer() *printer {
	return &printer{out: c.stdout(), err: c.stderr()}
}

// Output prints a result line
func (p *printer) Output(format string, args ...interface{}) {
	fmt.Fprintln(p.out, outputStyle.Render(fmt.Sprintf(format, args...)))
}

// Log prints a progress note
func (p *printer) Log(format string, args ...interface{}) {
	fmt.Fprintln(p.err, logStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints a failure note
func (p *printer) Error(format string, args ...interface{}) {
	fmt.Fprintln(p.err, errorStyle.Render(fmt.Sprintf(format, args...)))
}

// Table prints rows aligned in columns under a bold header
func (p *printer) Table(header []string, rows [][]string) {
	// Align before styling so escape codes do not count towards column widths
	var buf strings.Builder
	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()

	lines := strings.SplitAfter(buf.String(), "\n")
	fmt.Fprintln(p.out, headerStyle.Render(strings.TrimRight(lines[0], " \n")))
	fmt.Fprint(p.out, strings.Join(lines[1:], ""))
}

// describeOutcome renders one outcome as a single line
func describeOutcome(o services.Outcome) string {
	switch o.Kind {
	case services.OutcomeSatisfied:
		return fmt.Sprintf("Found: %s (%s)", o.Subject, entryName(o))
	case services.OutcomeFetched:
		return fmt.Sprintf("Fetched: %s (%s from %s)", o.Subject, entryName(o), o.Source)
	case services.OutcomeBuilt:
		return fmt.Sprintf("Built: %s (%s)", o.Subject, entryName(o))
	case services.OutcomeInstalled:
		return fmt.Sprintf("Installed: %s", o.Subject)
	case services.OutcomeUninstalled:
		return fmt.Sprintf("Uninstalled: %s", o.Subject)
	case services.OutcomeRemoved:
		return fmt.Sprintf("Removed: %s", o.Subject)
	}
	if o.Skipped() {
		return fmt.Sprintf("Skipped: %s", o.Subject)
	}
	return fmt.Sprintf("Failed: %s: %v", o.Subject, o.Err)
}

func entryName(o services.Outcome) string {
	if o.Entry == nil {
		return "?"
	}
	return o.Entry.ID.Filename()
}

// styleOutcome colours an outcome line by its kind
func styleOutcome(o services.Outcome) string {
	line := describeOutcome(o)
	switch {
	case o.Skipped():
		return dimStyle.Render(line)
	case o.Failed():
		return errorStyle.Render(line)
	default:
		return outputStyle.Render(line)
	}
}

// summarize counts outcomes per kind in a fixed order, e.g. "2 fetched, 1 failed"
func summarize(result services.BatchResult) string {
	kinds := []services.OutcomeKind{
		services.OutcomeSatisfied,
		services.OutcomeFetched,
		services.OutcomeBuilt,
		services.OutcomeInstalled,
		services.OutcomeUninstalled,
		services.OutcomeRemoved,
	}
	var parts []string
	for _, kind := range kinds {
		if n := result.Count(kind); n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, kind))
		}
	}

	var failedCount, skipped int
	for _, o := range result.Outcomes {
		switch {
		case o.Skipped():
			skipped++
		case o.Failed():
			failedCount++
		}
	}
	if failedCount > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", failedCount))
	}
	if skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", skipped))
	}
	if len(parts) == 0 {
		return "nothing to do"
	}
	return strings.Join(parts, ", ")
}

// humanSize formats a byte count with a binary unit
func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
