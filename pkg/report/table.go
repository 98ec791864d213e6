package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/howtoharden/hth/pkg/engine"
)

// WriteTable renders the scan as a bordered terminal table followed by the
// failing checks and a summary line.
func WriteTable(w io.Writer, r engine.ScanReport, opts Options) error {
	s := newStyles(w, opts.NoColor)
	var b strings.Builder

	fmt.Fprintf(&b, "\n%s\n", s.title.Render(fmt.Sprintf("  How to Harden - %s Scan Results", strings.ToUpper(r.Vendor))))
	fmt.Fprintf(&b, "%s\n\n", s.subtle.Render(fmt.Sprintf("  Profile Level: L%d | %s", r.ProfileLevel, r.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC"))))

	rows := make([][]string, 0, len(r.Controls))
	for _, c := range r.Controls {
		rows = append(rows, []string{
			c.Status.Label(),
			c.ControlID,
			string(c.Severity),
			fmt.Sprintf("L%d", c.ProfileLevel),
			c.Title,
			checksSummary(c),
		})
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(s.border).
		Headers("Status", "ID", "Severity", "Level", "Control", "Checks").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return s.header
			}
			c := r.Controls[row]
			switch col {
			case 0:
				return s.status(c.Status).Padding(0, 1)
			case 2:
				return s.sev[c.Severity].Padding(0, 1)
			}
			return s.cell
		})
	b.WriteString(t.String())
	b.WriteString("\n")

	for _, c := range r.Controls {
		if c.Status != engine.StatusFail && c.Status != engine.StatusError {
			continue
		}
		for _, chk := range c.Checks {
			switch chk.Status {
			case engine.StatusFail:
				fmt.Fprintf(&b, "  %s %s %s\n", s.fail.Render("x"), c.ControlID, chk.Description)
			case engine.StatusError:
				fmt.Fprintf(&b, "  %s %s %s: %s\n", s.errored.Render("!"), c.ControlID, chk.Description, chk.Error)
			}
		}
	}

	sum := r.Summary
	fmt.Fprintf(&b, "\n  %s %d passed  %s %d failed  %s %d skipped  %s %d errors\n",
		s.pass.Render("*"), sum.Passed,
		s.fail.Render("*"), sum.Failed,
		s.skip.Render("*"), sum.Skipped,
		s.errored.Render("*"), sum.Errors,
	)
	fmt.Fprintf(&b, "  %d/%d controls passing at L%d\n\n", sum.Passed, sum.Passed+sum.Failed, r.ProfileLevel)

	_, err := io.WriteString(w, b.String())
	return err
}

func checksSummary(c engine.ControlResult) string {
	if len(c.Checks) == 0 {
		return "-"
	}
	return fmt.Sprintf("%d/%d", c.Passed(), len(c.Checks))
}
