package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// WriteList renders a titled table for the list, analyze and history
// commands. An empty title is omitted.
func WriteList(w io.Writer, title string, headers []string, rows [][]string, opts Options) error {
	s := newStyles(w, opts.NoColor)
	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "\n%s\n", s.title.Render("  "+title))
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(s.border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return s.header
			}
			return s.cell
		})
	b.WriteString(t.String())
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}
