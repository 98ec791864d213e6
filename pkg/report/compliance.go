package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/howtoharden/hth/pkg/engine"
	"github.com/howtoharden/hth/pkg/pack"
)

// ComplianceRow maps one framework control id onto a scanned control.
type ComplianceRow struct {
	FrameworkID string        `json:"framework_id"`
	Status      engine.Status `json:"status"`
	Title       string        `json:"title"`
	ControlID   string        `json:"control_id"`
}

// ComplianceSection is the report for one framework.
type ComplianceSection struct {
	Framework pack.Framework  `json:"framework"`
	Name      string          `json:"name"`
	Rows      []ComplianceRow `json:"rows"`
}

// ParseFrameworks resolves framework names; "all" selects every framework.
func ParseFrameworks(names []string) ([]pack.Framework, error) {
	if slices.Contains(names, "all") {
		return slices.Clone(pack.Frameworks), nil
	}
	var out []pack.Framework
	for _, n := range names {
		f, err := pack.ParseFramework(strings.TrimSpace(n))
		if err != nil {
			return nil, err
		}
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out, nil
}

// Compliance groups report results per framework. Passing controls are
// left out unless includePassing is set.
func Compliance(r engine.ScanReport, frameworks []pack.Framework, includePassing bool) []ComplianceSection {
	sections := make([]ComplianceSection, 0, len(frameworks))
	for _, f := range frameworks {
		sec := ComplianceSection{Framework: f, Name: f.DisplayName(), Rows: []ComplianceRow{}}
		for _, c := range r.Controls {
			if c.Status == engine.StatusPass && !includePassing {
				continue
			}
			for _, id := range c.Compliance.Mapping(f) {
				sec.Rows = append(sec.Rows, ComplianceRow{
					FrameworkID: id,
					Status:      c.Status,
					Title:       c.Title,
					ControlID:   c.ControlID,
				})
			}
		}
		sections = append(sections, sec)
	}
	return sections
}

// WriteComplianceTable renders one table per framework.
func WriteComplianceTable(w io.Writer, sections []ComplianceSection, opts Options) error {
	s := newStyles(w, opts.NoColor)
	var b strings.Builder
	for _, sec := range sections {
		fmt.Fprintf(&b, "\n%s\n", s.title.Render(fmt.Sprintf("  %s Compliance Report", sec.Name)))
		if len(sec.Rows) == 0 {
			fmt.Fprintf(&b, "%s\n", s.subtle.Render("  No mapped controls to report."))
			continue
		}
		rows := make([][]string, 0, len(sec.Rows))
		for _, row := range sec.Rows {
			rows = append(rows, []string{row.FrameworkID, row.Status.Label(), row.Title, row.ControlID})
		}
		t := table.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(s.border).
			Headers("Framework ID", "Status", "Control", "HTH Control").
			Rows(rows...).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return s.header
				}
				if col == 1 {
					return s.status(sec.Rows[row].Status).Padding(0, 1)
				}
				return s.cell
			})
		b.WriteString(t.String())
		b.WriteString("\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// RenderCompliance writes sections in format f. SARIF has no compliance
// view.
func RenderCompliance(w io.Writer, sections []ComplianceSection, f Format, opts Options) error {
	switch f {
	case FormatTable, "":
		return WriteComplianceTable(w, sections, opts)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(sections)
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"framework", "framework_id", "status", "title", "control_id"}); err != nil {
			return err
		}
		for _, sec := range sections {
			for _, row := range sec.Rows {
				if err := cw.Write([]string{string(sec.Framework), row.FrameworkID, row.Status.Label(), row.Title, row.ControlID}); err != nil {
					return err
				}
			}
		}
		cw.Flush()
		return cw.Error()
	}
	return fmt.Errorf("%s output is not available for compliance reports", f)
}
