package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/howtoharden/hth/pkg/audit"
)

// WriteIssuesTable renders audit issues with a count line. No issues still
// prints the count so the user sees the audit ran.
func WriteIssuesTable(w io.Writer, target string, records int, issues []audit.Issue, opts Options) error {
	s := newStyles(w, opts.NoColor)
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\n", s.title.Render("  Audit: "+target))

	if len(issues) > 0 {
		rows := make([][]string, 0, len(issues))
		for _, i := range issues {
			rows = append(rows, []string{i.Subject, i.Rule, i.Reason})
		}
		t := table.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(s.border).
			Headers("Subject", "Rule", "Reason").
			Rows(rows...).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return s.header
				}
				if col == 1 {
					return s.subtle.Padding(0, 1)
				}
				return s.cell
			})
		b.WriteString(t.String())
		b.WriteString("\n")
	}

	style := s.pass
	if len(issues) > 0 {
		style = s.fail
	}
	fmt.Fprintf(&b, "\n  %s issues across %d records\n\n", style.Render(fmt.Sprint(len(issues))), records)
	_, err := io.WriteString(w, b.String())
	return err
}
